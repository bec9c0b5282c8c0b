package middlewares

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tnqbao/gau-music-dispatch/config"
	"github.com/tnqbao/gau-music-dispatch/utils"
)

// WorkerAuthMiddleware verifies HMAC-signed worker requests when
// WORKER_SHARED_SECRET is set. Headers: X-Timestamp and X-Signature over
// METHOD\nPATH\nTIMESTAMP\nSHA256(body).
func WorkerAuthMiddleware(cfg *config.EnvConfig) gin.HandlerFunc {
	secret := cfg.Worker.SharedSecret
	maxBody := cfg.Blob.MaxUploadLen

	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		var bodyBytes []byte
		if c.Request.Body != nil {
			var err error
			bodyBytes, err = io.ReadAll(io.LimitReader(c.Request.Body, maxBody+1))
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
				c.Abort()
				return
			}
			if int64(len(bodyBytes)) > maxBody {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
				c.Abort()
				return
			}
			c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
		}

		err := utils.VerifySignature(
			secret,
			c.Request.Method,
			c.Request.URL.Path,
			c.GetHeader(utils.HeaderTimestamp),
			c.GetHeader(utils.HeaderSignature),
			bodyBytes,
			time.Now(),
		)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Set("auth_method", "hmac")
		c.Next()
	}
}
