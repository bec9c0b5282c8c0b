package dispatch

import (
	"context"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-music-dispatch/entity"
)

type JobFilter struct {
	Status entity.JobStatus
	Kind   entity.JobKind
	Limit  int
	Offset int
}

// JobStore persists job records. Update is a compare-and-set on Revision:
// it fails with ErrConflict when the stored revision is not expectedRevision.
type JobStore interface {
	Create(ctx context.Context, job *entity.Job) error
	Get(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	Update(ctx context.Context, job *entity.Job, expectedRevision int64) error
	List(ctx context.Context, filter JobFilter) ([]*entity.Job, error)
	CountByStatus(ctx context.Context) (map[entity.JobStatus]int64, error)
}

// Queue is the single logical FIFO of pending jobs.
//
// Enqueue fails with ErrOverloaded once Len reaches Capacity. Requeue inserts
// at the head and ignores the bound. Claim pops the head atomically and
// returns nil when the queue is empty.
type Queue interface {
	Enqueue(ctx context.Context, entry entity.QueueEntry) error
	Requeue(ctx context.Context, entry entity.QueueEntry) error
	Claim(ctx context.Context) (*entity.QueueEntry, error)
	Remove(ctx context.Context, jobID uuid.UUID) (bool, error)
	Len(ctx context.Context) (int, error)
	Capacity() int
}

// ArtifactStore is write-once per job id.
type ArtifactStore interface {
	Put(ctx context.Context, artifact *entity.Artifact) error
	Get(ctx context.Context, jobID uuid.UUID) (*entity.Artifact, error)
}

type EventPublisher interface {
	PublishJobEvent(ctx context.Context, job *entity.Job) error
}

type Logger interface {
	InfoWithContextf(ctx context.Context, format string, args ...any)
	WarningWithContextf(ctx context.Context, format string, args ...any)
	ErrorWithContextf(ctx context.Context, err error, format string, args ...any)
	DebugWithContextf(ctx context.Context, format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) InfoWithContextf(context.Context, string, ...any) {}
func (nopLogger) WarningWithContextf(context.Context, string, ...any) {}
func (nopLogger) ErrorWithContextf(context.Context, error, string, ...any) {}
func (nopLogger) DebugWithContextf(context.Context, string, ...any) {}
