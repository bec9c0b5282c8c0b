package controller

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tnqbao/gau-music-dispatch/dispatch"
	"github.com/tnqbao/gau-music-dispatch/entity"
	"github.com/tnqbao/gau-music-dispatch/http/controller/dto"
	"github.com/tnqbao/gau-music-dispatch/utils"
)

const maxListLimit = 500

func (ctrl *Controller) GetOverview(c *gin.Context) {
	overview, err := ctrl.Dispatcher.Overview(c.Request.Context())
	if err != nil {
		ctrl.respondError(c, "Admin", err)
		return
	}
	utils.JSON200(c, overview)
}

func (ctrl *Controller) ListJobs(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		utils.JSON400(c, "Invalid limit")
		return
	}
	if limit == 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		utils.JSON400(c, "Invalid offset")
		return
	}

	jobs, err := ctrl.Dispatcher.ListJobs(c.Request.Context(), dispatch.JobFilter{
		Status: entity.JobStatus(c.Query("status")),
		Kind:   entity.JobKind(c.Query("kind")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		ctrl.respondError(c, "Admin", err)
		return
	}
	utils.JSON200(c, gin.H{
		"jobs":   jobs,
		"limit":  limit,
		"offset": offset,
	})
}

func (ctrl *Controller) ListWorkers(c *gin.Context) {
	workers := ctrl.Dispatcher.ListWorkers()
	utils.JSON200(c, gin.H{
		"workers": workers,
		"desired": ctrl.Dispatcher.Pool().Desired(),
	})
}

// SetDesiredWorkers records the orchestration target. Scaling itself is
// left to whatever watches the overview.
func (ctrl *Controller) SetDesiredWorkers(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.SetDesiredWorkersRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Admin] Failed to bind JSON: %v", err)
		utils.JSON400(c, "Invalid request payload")
		return
	}

	if err := ctrl.Dispatcher.SetDesiredWorkerCount(ctx, *req.Desired); err != nil {
		ctrl.respondError(c, "Admin", err)
		return
	}
	utils.JSON200(c, gin.H{"desired": *req.Desired})
}
