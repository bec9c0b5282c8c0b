package entity

import (
	"time"

	"github.com/google/uuid"
)

type WorkerLiveness string

const (
	WorkerAlive   WorkerLiveness = "alive"
	WorkerSuspect WorkerLiveness = "suspect"
	WorkerDead    WorkerLiveness = "dead"
)

type Worker struct {
	ID            uuid.UUID         `json:"id"`
	Capability    int               `json:"capability"`
	Assignments   []uuid.UUID       `json:"assignments"`
	Reserved      int               `json:"reserved"`
	Labels        map[string]string `json:"labels,omitempty"`
	Liveness      WorkerLiveness    `json:"liveness"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
	RegisteredAt  time.Time         `json:"registered_at"`
}

// FreeSlots is the number of jobs the worker may still claim.
func (w Worker) FreeSlots() int {
	free := w.Capability - len(w.Assignments) - w.Reserved
	if free < 0 {
		return 0
	}
	return free
}
