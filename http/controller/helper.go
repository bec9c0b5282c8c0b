package controller

import (
	"errors"
	"net/http"
	"path"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tnqbao/gau-music-dispatch/dispatch"
	"github.com/tnqbao/gau-music-dispatch/utils"
)

// respondError maps dispatch errors onto HTTP statuses.
func (ctrl *Controller) respondError(c *gin.Context, component string, err error) {
	ctx := c.Request.Context()
	switch {
	case errors.Is(err, dispatch.ErrValidation):
		utils.JSON400(c, err.Error())
	case errors.Is(err, dispatch.ErrNotFound):
		utils.JSON404(c, err.Error())
	case errors.Is(err, dispatch.ErrWorkerLost):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	case errors.Is(err, dispatch.ErrConflict):
		utils.JSON409(c, err.Error())
	case errors.Is(err, dispatch.ErrOverloaded):
		ctrl.Infra.Logger.WarningWithContextf(ctx, "[%s] Rejecting request: %v", component, err)
		utils.JSON503(c, "Dispatch queue is full, retry later", ctrl.retryAfter())
	default:
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[%s] Request failed: %v", component, err)
		utils.JSON500(c, "Internal server error")
	}
}

func (ctrl *Controller) retryAfter() string {
	secs := int(ctrl.Config.Dispatch.ReapInterval.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func parseIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		utils.JSON400(c, "Invalid "+name+" format")
		return uuid.Nil, false
	}
	return id, true
}

// fileURL is the public download link for an artifact location.
func fileURL(location string) string {
	if location == "" {
		return ""
	}
	return APIBase + "/files/" + path.Base(location)
}
