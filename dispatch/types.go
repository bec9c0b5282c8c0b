package dispatch

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-music-dispatch/entity"
)

// JobSnapshot is the read view of a job returned to clients and operators.
type JobSnapshot struct {
	ID              uuid.UUID            `json:"id"`
	Kind            entity.JobKind       `json:"kind"`
	Status          entity.JobStatus     `json:"status"`
	Revision        int64                `json:"revision"`
	Attempt         int                  `json:"attempt"`
	Retries         int                  `json:"retries"`
	WorkerID        *uuid.UUID           `json:"worker_id,omitempty"`
	CancelRequested bool                 `json:"cancel_requested"`
	Progress        string               `json:"progress,omitempty"`
	ResultRef       string               `json:"result_ref,omitempty"`
	ErrorReason     entity.FailureReason `json:"error_reason,omitempty"`
	ErrorDetail     string               `json:"error_detail,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
	StartedAt       *time.Time           `json:"started_at,omitempty"`
	FinishedAt      *time.Time           `json:"finished_at,omitempty"`
}

// Err is nil unless the job failed.
func (s JobSnapshot) Err() error {
	if s.Status != entity.JobStatusFailed {
		return nil
	}
	return FailureError(s.ErrorReason, s.ErrorDetail)
}

func snapshotOf(job *entity.Job) JobSnapshot {
	c := job.Clone()
	return JobSnapshot{
		ID:              c.ID,
		Kind:            c.Kind,
		Status:          c.Status,
		Revision:        c.Revision,
		Attempt:         c.Attempt,
		Retries:         c.Retries,
		WorkerID:        c.WorkerID,
		CancelRequested: c.CancelRequested,
		Progress:        c.Progress,
		ResultRef:       c.ResultRef,
		ErrorReason:     c.ErrorReason,
		ErrorDetail:     c.ErrorDetail,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
		StartedAt:       c.StartedAt,
		FinishedAt:      c.FinishedAt,
	}
}

// Assignment is what a worker receives from a successful claim.
type Assignment struct {
	JobID    uuid.UUID       `json:"job_id"`
	WorkerID uuid.UUID       `json:"worker_id"`
	Kind     entity.JobKind  `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
	Attempt  int             `json:"attempt"`
	Retries  int             `json:"retries"`
}

// ProgressReport is the worker-facing progress callback. Attempt is
// optional; when set it must match the claim the worker is reporting on.
type ProgressReport struct {
	JobID       uuid.UUID        `json:"job_id"`
	WorkerID    uuid.UUID        `json:"worker_id"`
	Attempt     int              `json:"attempt,omitempty"`
	State       entity.JobStatus `json:"state"`
	Detail      string           `json:"detail,omitempty"`
	Location    string           `json:"location,omitempty"`
	Size        int64            `json:"size,omitempty"`
	ContentType string           `json:"content_type,omitempty"`
}

type ResultReport struct {
	JobID       uuid.UUID `json:"job_id"`
	WorkerID    uuid.UUID `json:"worker_id"`
	Attempt     int       `json:"attempt,omitempty"`
	Success     bool      `json:"success"`
	Location    string    `json:"location,omitempty"`
	Size        int64     `json:"size,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Directive is returned to a worker after a progress report.
type Directive struct {
	Cancel bool `json:"cancel"`
}

type HeartbeatAck struct {
	WorkerID uuid.UUID             `json:"worker_id"`
	Liveness entity.WorkerLiveness `json:"liveness"`
	Assigned []uuid.UUID           `json:"assigned"`
	Cancel   []uuid.UUID           `json:"cancel"`
}
