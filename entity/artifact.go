package entity

import (
	"time"

	"github.com/google/uuid"
)

type Artifact struct {
	JobID       uuid.UUID `json:"job_id" gorm:"type:uuid;primaryKey"`
	Location    string    `json:"location" gorm:"not null"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime:false"`
}

func (Artifact) TableName() string {
	return "dispatch_artifacts"
}

type QueueEntry struct {
	JobID      uuid.UUID `json:"job_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Retries    int       `json:"retries"`
}
