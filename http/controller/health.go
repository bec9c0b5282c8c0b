package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tnqbao/gau-music-dispatch/http/controller/dto"
)

func (ctrl *Controller) CheckHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	resp := dto.HealthResponseDTO{
		Status:      "healthy",
		DeployMode:  ctrl.Config.Dispatch.DeployMode,
		BlobBackend: ctrl.Infra.Blob.Name(),
	}
	healthy := true

	if ctrl.Infra.Redis != nil {
		resp.RedisConnected = ctrl.Infra.Redis.Ping(ctx) == nil
		healthy = healthy && resp.RedisConnected
	}

	if _, err := ctrl.Repository.JobRepo.CountByStatus(ctx); err == nil {
		resp.StoreOK = true
	} else {
		ctrl.Infra.Logger.WarningWithContextf(ctx, "[Health] Job store check failed: %v", err)
		healthy = false
	}

	if err := ctrl.Infra.Blob.Ping(ctx); err == nil {
		resp.BlobOK = true
	} else {
		ctrl.Infra.Logger.WarningWithContextf(ctx, "[Health] Blob store check failed: %v", err)
		healthy = false
	}

	if depth, err := ctrl.Infra.Queue.Len(ctx); err == nil {
		resp.QueueDepth = depth
	} else {
		healthy = false
	}

	if !healthy {
		resp.Status = "degraded"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}
