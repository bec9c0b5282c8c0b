package controller

import (
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tnqbao/gau-music-dispatch/dispatch"
	"github.com/tnqbao/gau-music-dispatch/entity"
	"github.com/tnqbao/gau-music-dispatch/http/controller/dto"
	"github.com/tnqbao/gau-music-dispatch/utils"
)

// Generate submits the raw request body as a generate job payload.
func (ctrl *Controller) Generate(c *gin.Context) {
	ctx := c.Request.Context()

	limit := int64(ctrl.Config.Dispatch.MaxPayloadBytes) + 1
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, limit))
	if err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Job] Failed to read request body: %v", err)
		utils.JSON400(c, "Invalid request payload")
		return
	}

	ctrl.submit(c, entity.JobKindGenerate, payload)
}

func (ctrl *Controller) SubmitJob(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.SubmitJobRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Job] Failed to bind JSON: %v", err)
		utils.JSON400(c, "Invalid request payload")
		return
	}

	ctrl.submit(c, req.Kind, req.Payload)
}

func (ctrl *Controller) submit(c *gin.Context, kind entity.JobKind, payload []byte) {
	id, err := ctrl.Dispatcher.Submit(c.Request.Context(), kind, payload)
	if err != nil {
		ctrl.respondError(c, "Job", err)
		return
	}

	utils.JSON200(c, dto.SubmitJobResponseDTO{
		TaskID: id.String(),
		Status: string(entity.JobStatusPending),
	})
}

func (ctrl *Controller) GetStatus(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	snap, err := ctrl.Dispatcher.GetStatus(c.Request.Context(), id)
	if err != nil {
		ctrl.respondError(c, "Job", err)
		return
	}

	utils.JSON200(c, statusResponse(snap))
}

func (ctrl *Controller) CancelJob(c *gin.Context) {
	ctx := c.Request.Context()
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	cancelled, err := ctrl.Dispatcher.Cancel(ctx, id)
	if err != nil {
		ctrl.respondError(c, "Job", err)
		return
	}

	snap, err := ctrl.Dispatcher.GetStatus(ctx, id)
	if err != nil {
		ctrl.respondError(c, "Job", err)
		return
	}

	ctrl.Infra.Logger.InfoWithContextf(ctx, "[Job] Cancel requested for job %s (accepted=%t, status=%s)", id, cancelled, snap.Status)
	utils.JSON200(c, dto.CancelResponseDTO{
		TaskID:    id.String(),
		Cancelled: cancelled,
		Status:    snap.Status,
	})
}

func statusResponse(snap dispatch.JobSnapshot) dto.StatusResponseDTO {
	resp := dto.StatusResponseDTO{
		TaskID:          snap.ID.String(),
		Kind:            snap.Kind,
		Status:          snap.Status,
		ErrorReason:     snap.ErrorReason,
		Progress:        snap.Progress,
		Attempt:         snap.Attempt,
		Retries:         snap.Retries,
		CancelRequested: snap.CancelRequested,
		CreatedAt:       snap.CreatedAt,
		UpdatedAt:       snap.UpdatedAt,
	}
	switch snap.Status {
	case entity.JobStatusSuccess:
		resp.FileURL = fileURL(snap.ResultRef)
	case entity.JobStatusFailed:
		resp.Error = strings.TrimSpace(snap.ErrorDetail)
		if resp.Error == "" {
			resp.Error = string(snap.ErrorReason)
		}
	}
	return resp
}
