package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-music-dispatch/entity"
)

type SubmitJobRequestDTO struct {
	Kind    entity.JobKind  `json:"kind" binding:"required"`
	Payload json.RawMessage `json:"payload" binding:"required"`
}

type SubmitJobResponseDTO struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

type LoraTrainResponseDTO struct {
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	StyleName string `json:"style_name"`
	Files     int    `json:"files"`
}

type StatusResponseDTO struct {
	TaskID          string               `json:"task_id"`
	Kind            entity.JobKind       `json:"kind"`
	Status          entity.JobStatus     `json:"status"`
	FileURL         string               `json:"file_url,omitempty"`
	Error           string               `json:"error,omitempty"`
	ErrorReason     entity.FailureReason `json:"error_reason,omitempty"`
	Progress        string               `json:"progress,omitempty"`
	Attempt         int                  `json:"attempt"`
	Retries         int                  `json:"retries"`
	CancelRequested bool                 `json:"cancel_requested"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

type CancelResponseDTO struct {
	TaskID    string           `json:"task_id"`
	Cancelled bool             `json:"cancelled"`
	Status    entity.JobStatus `json:"status"`
}

type RegisterWorkerRequestDTO struct {
	Capability int               `json:"capability"`
	Labels     map[string]string `json:"labels"`
}

type RegisterWorkerResponseDTO struct {
	WorkerID                 uuid.UUID `json:"worker_id"`
	Capability               int       `json:"capability"`
	HeartbeatIntervalSeconds int       `json:"heartbeat_interval_seconds"`
}

type ProgressRequestDTO struct {
	JobID       uuid.UUID        `json:"job_id" binding:"required"`
	Attempt     int              `json:"attempt"`
	State       entity.JobStatus `json:"state"`
	Detail      string           `json:"detail"`
	Location    string           `json:"location"`
	Size        int64            `json:"size"`
	ContentType string           `json:"content_type"`
}

type ResultRequestDTO struct {
	JobID       uuid.UUID `json:"job_id" binding:"required"`
	Attempt     int       `json:"attempt"`
	Success     bool      `json:"success"`
	Location    string    `json:"location"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	Error       string    `json:"error"`
}

type UploadResponseDTO struct {
	Location    string `json:"location"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

type SetDesiredWorkersRequestDTO struct {
	Desired *int `json:"desired" binding:"required"`
}

type HealthResponseDTO struct {
	Status         string `json:"status"`
	DeployMode     string `json:"deploy_mode"`
	RedisConnected bool   `json:"redis_connected"`
	StoreOK        bool   `json:"store_ok"`
	BlobOK         bool   `json:"blob_ok"`
	BlobBackend    string `json:"blob_backend"`
	QueueDepth     int    `json:"queue_depth"`
}
