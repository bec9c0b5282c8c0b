package controller

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tnqbao/gau-music-dispatch/infra"
	"github.com/tnqbao/gau-music-dispatch/utils"
)

// ArtifactPrefix is where generated audio lives in the blob store.
const ArtifactPrefix = "out/"

// GetFile streams a generated file by its base name.
func (ctrl *Controller) GetFile(c *gin.Context) {
	name := c.Param("name")
	if name == "" || name != path.Base(name) || name == "." || name == ".." {
		utils.JSON403(c, "Access denied")
		return
	}
	ctrl.streamBlob(c, ArtifactPrefix+name)
}

// GetArtifact redirects to a presigned URL when the blob backend supports
// it; ?download=1 or a local backend streams the bytes instead.
func (ctrl *Controller) GetArtifact(c *gin.Context) {
	ctx := c.Request.Context()
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	artifact, err := ctrl.Dispatcher.GetArtifact(ctx, id)
	if err != nil {
		ctrl.respondError(c, "Artifact", err)
		return
	}

	if c.Query("download") != "1" {
		url, err := ctrl.Infra.Blob.PresignGet(ctx, artifact.Location, ctrl.Config.EnvConfig.Blob.PresignTTL)
		if err == nil {
			c.Redirect(http.StatusFound, url)
			return
		}
		if !errors.Is(err, infra.ErrPresignUnsupported) {
			ctrl.Infra.Logger.WarningWithContextf(ctx, "[Artifact] Presign failed for %s, streaming instead: %v", artifact.Location, err)
		}
	}
	ctrl.streamBlob(c, artifact.Location)
}

func (ctrl *Controller) streamBlob(c *gin.Context, key string) {
	ctx := c.Request.Context()

	rc, info, err := ctrl.Infra.Blob.Open(ctx, key)
	if err != nil {
		if errors.Is(err, infra.ErrBlobNotFound) {
			utils.JSON404(c, "File not found")
			return
		}
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[File] Failed to open %s: %v", key, err)
		utils.JSON500(c, "Failed to read file")
		return
	}
	defer rc.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = infra.ContentTypeFor(key)
	}
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(key)))
	c.Header("Cache-Control", "no-cache")
	if info.Size > 0 {
		c.Header("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		ctrl.Infra.Logger.WarningWithContextf(ctx, "[File] Stream of %s interrupted: %v", key, err)
	}
}
