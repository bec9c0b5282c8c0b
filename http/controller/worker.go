package controller

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tnqbao/gau-music-dispatch/dispatch"
	"github.com/tnqbao/gau-music-dispatch/http/controller/dto"
	"github.com/tnqbao/gau-music-dispatch/infra"
	"github.com/tnqbao/gau-music-dispatch/utils"
)

var uploadExtensions = map[string]bool{
	"wav": true, "mp3": true, "flac": true, "ogg": true, "opus": true, "safetensors": true,
}

func (ctrl *Controller) RegisterWorker(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.RegisterWorkerRequestDTO
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Worker] Failed to bind JSON: %v", err)
			utils.JSON400(c, "Invalid request payload")
			return
		}
	}

	w, err := ctrl.Dispatcher.Register(ctx, req.Capability, req.Labels)
	if err != nil {
		ctrl.respondError(c, "Worker", err)
		return
	}

	interval := int(ctrl.Config.Dispatch.HeartbeatTimeout.Seconds() / 3)
	if interval < 1 {
		interval = 1
	}
	c.JSON(http.StatusCreated, dto.RegisterWorkerResponseDTO{
		WorkerID:                 w.ID,
		Capability:               w.Capability,
		HeartbeatIntervalSeconds: interval,
	})
}

func (ctrl *Controller) Heartbeat(c *gin.Context) {
	workerID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	ack, err := ctrl.Dispatcher.Heartbeat(c.Request.Context(), workerID)
	if err != nil {
		ctrl.respondError(c, "Worker", err)
		return
	}
	utils.JSON200(c, ack)
}

// ClaimJob answers 204 when there is nothing to run or no free slot.
func (ctrl *Controller) ClaimJob(c *gin.Context) {
	workerID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	a, err := ctrl.Dispatcher.ClaimNext(c.Request.Context(), workerID)
	if err != nil {
		ctrl.respondError(c, "Worker", err)
		return
	}
	if a == nil {
		c.Status(http.StatusNoContent)
		return
	}
	utils.JSON200(c, a)
}

func (ctrl *Controller) ReportProgress(c *gin.Context) {
	ctx := c.Request.Context()
	workerID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req dto.ProgressRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Worker] Failed to bind JSON: %v", err)
		utils.JSON400(c, "Invalid request payload")
		return
	}

	directive, err := ctrl.Dispatcher.ReportProgress(ctx, dispatch.ProgressReport{
		JobID:       req.JobID,
		WorkerID:    workerID,
		Attempt:     req.Attempt,
		State:       req.State,
		Detail:      req.Detail,
		Location:    req.Location,
		Size:        req.Size,
		ContentType: req.ContentType,
	})
	if err != nil {
		ctrl.respondError(c, "Worker", err)
		return
	}
	utils.JSON200(c, directive)
}

func (ctrl *Controller) ReportResult(c *gin.Context) {
	ctx := c.Request.Context()
	workerID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req dto.ResultRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Worker] Failed to bind JSON: %v", err)
		utils.JSON400(c, "Invalid request payload")
		return
	}

	err := ctrl.Dispatcher.ReportResult(ctx, dispatch.ResultReport{
		JobID:       req.JobID,
		WorkerID:    workerID,
		Attempt:     req.Attempt,
		Success:     req.Success,
		Location:    req.Location,
		Size:        req.Size,
		ContentType: req.ContentType,
		Error:       req.Error,
	})
	if err != nil {
		ctrl.respondError(c, "Worker", err)
		return
	}
	utils.JSON200(c, gin.H{"message": "Result recorded"})
}

// UploadArtifact stores the request body as the job's output file. Only the
// worker currently holding the job may upload.
func (ctrl *Controller) UploadArtifact(c *gin.Context) {
	ctx := c.Request.Context()
	workerID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	jobID, ok := parseIDParam(c, "job_id")
	if !ok {
		return
	}

	ext := strings.ToLower(strings.TrimPrefix(c.DefaultQuery("ext", "wav"), "."))
	if !uploadExtensions[ext] {
		utils.JSON400(c, "Unsupported file extension: "+ext)
		return
	}

	if err := ctrl.Dispatcher.CheckAssignment(ctx, jobID, workerID); err != nil {
		ctrl.respondError(c, "Upload", err)
		return
	}

	maxLen := ctrl.Config.EnvConfig.Blob.MaxUploadLen
	if c.Request.ContentLength > maxLen {
		utils.JSON413(c, "Upload exceeds the size limit")
		return
	}
	body := http.MaxBytesReader(c.Writer, c.Request.Body, maxLen)

	key := ArtifactPrefix + jobID.String() + "." + ext
	contentType := c.ContentType()
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = infra.ContentTypeFor(key)
	}

	info, err := ctrl.Infra.Blob.Put(ctx, key, body, c.Request.ContentLength, contentType)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.JSON413(c, "Upload exceeds the size limit")
			return
		}
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Upload] Failed to store %s: %v", key, err)
		utils.JSON500(c, "Failed to store artifact")
		return
	}

	ctrl.Infra.Logger.InfoWithContextf(ctx, "[Upload] Stored %s (%d bytes) for job %s", info.Key, info.Size, jobID)
	utils.JSON200(c, dto.UploadResponseDTO{
		Location:    info.Key,
		Size:        info.Size,
		ContentType: info.ContentType,
	})
}

func (ctrl *Controller) DeregisterWorker(c *gin.Context) {
	workerID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := ctrl.Dispatcher.Deregister(c.Request.Context(), workerID); err != nil {
		ctrl.respondError(c, "Worker", err)
		return
	}
	utils.JSON200(c, gin.H{"message": "Worker deregistered"})
}
