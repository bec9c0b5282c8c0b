package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSuccess    JobStatus = "success"
	JobStatusFailed     JobStatus = "failed"
)

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailed
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusSuccess, JobStatusFailed:
		return true
	}
	return false
}

type JobKind string

const (
	JobKindGenerate  JobKind = "generate"
	JobKindTrainLora JobKind = "train_lora"
)

func (k JobKind) Valid() bool {
	return k == JobKindGenerate || k == JobKindTrainLora
}

// FailureReason classifies why a job ended in JobStatusFailed.
type FailureReason string

const (
	ReasonNone          FailureReason = ""
	ReasonCancelled     FailureReason = "cancelled"
	ReasonWorkerLost    FailureReason = "worker_lost"
	ReasonQueueOverflow FailureReason = "queue_overflow"
	ReasonTimeout       FailureReason = "timeout"
	ReasonWorkerError   FailureReason = "worker_error"
	ReasonEnqueueFailed FailureReason = "enqueue_failed"
)

type Job struct {
	ID              uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	Kind            JobKind        `json:"kind" gorm:"type:varchar(32);not null;index"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb"`
	Status          JobStatus      `json:"status" gorm:"type:varchar(16);not null;index"`
	Revision        int64          `json:"revision" gorm:"not null;default:0"`
	Attempt         int            `json:"attempt" gorm:"not null;default:0"`
	Retries         int            `json:"retries" gorm:"not null;default:0"`
	WorkerID        *uuid.UUID     `json:"worker_id,omitempty" gorm:"type:uuid;index"`
	CancelRequested bool           `json:"cancel_requested" gorm:"not null;default:false"`
	Progress        string         `json:"progress,omitempty" gorm:"type:text"`
	ResultRef       string         `json:"result_ref,omitempty"`
	ErrorReason     FailureReason  `json:"error_reason,omitempty" gorm:"type:varchar(32)"`
	ErrorDetail     string         `json:"error_detail,omitempty" gorm:"type:text"`
	CreatedAt       time.Time      `json:"created_at" gorm:"autoCreateTime:false"`
	UpdatedAt       time.Time      `json:"updated_at" gorm:"autoUpdateTime:false"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
}

func (Job) TableName() string {
	return "dispatch_jobs"
}

// Clone returns a deep copy so callers never share pointers with a store.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Payload != nil {
		c.Payload = append(datatypes.JSON(nil), j.Payload...)
	}
	if j.WorkerID != nil {
		id := *j.WorkerID
		c.WorkerID = &id
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// AssignedTo reports whether the job is currently held by workerID.
func (j *Job) AssignedTo(workerID uuid.UUID) bool {
	return j.WorkerID != nil && *j.WorkerID == workerID
}
