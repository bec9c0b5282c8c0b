package middlewares

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tnqbao/gau-music-dispatch/config"
)

func CORSMiddleware(cfg *config.EnvConfig) gin.HandlerFunc {
	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Timestamp", "X-Signature"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	var origins []string
	for _, d := range strings.Split(cfg.CORS.AllowDomains, ",") {
		if d = strings.TrimSpace(d); d != "" {
			origins = append(origins, d)
		}
	}
	global := strings.TrimPrefix(strings.TrimSpace(cfg.CORS.GlobalDomain), ".")

	switch {
	case len(origins) == 0 && global == "":
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	default:
		corsCfg.AllowOriginFunc = func(origin string) bool {
			for _, o := range origins {
				if o == origin {
					return true
				}
			}
			return global != "" && (strings.HasSuffix(origin, "."+global) || strings.HasSuffix(origin, "://"+global))
		}
	}

	return cors.New(corsCfg)
}
