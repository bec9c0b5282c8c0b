package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-music-dispatch/entity"
)

func TestMemoryQueueOrderingAndCapacity(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(2)

	a, b, c := uuid.New(), uuid.New(), uuid.New()
	if err := q.Enqueue(ctx, entity.QueueEntry{JobID: a}); err != nil {
		t.Fatalf("Enqueue a: %v", err)
	}
	if err := q.Enqueue(ctx, entity.QueueEntry{JobID: b}); err != nil {
		t.Fatalf("Enqueue b: %v", err)
	}
	if err := q.Enqueue(ctx, entity.QueueEntry{JobID: c}); !errors.Is(err, ErrOverloaded) {
		t.Fatalf("Enqueue over capacity = %v, want ErrOverloaded", err)
	}
	if err := q.Requeue(ctx, entity.QueueEntry{JobID: c, Retries: 1}); err != nil {
		t.Fatalf("Requeue must bypass capacity: %v", err)
	}
	if n, _ := q.Len(ctx); n != 3 {
		t.Fatalf("Len = %d, want 3", n)
	}

	removed, _ := q.Remove(ctx, b)
	if !removed {
		t.Fatalf("Remove(b) = false")
	}
	if removed, _ := q.Remove(ctx, b); removed {
		t.Fatalf("second Remove(b) = true")
	}

	for _, want := range []uuid.UUID{c, a} {
		got, err := q.Claim(ctx)
		if err != nil || got == nil || got.JobID != want {
			t.Fatalf("Claim = %+v, %v; want %s", got, err, want)
		}
	}
	if got, err := q.Claim(ctx); got != nil || err != nil {
		t.Fatalf("Claim on empty queue = %+v, %v", got, err)
	}
}

func TestMemoryJobStoreRevisionCheck(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()
	job := &entity.Job{ID: uuid.New(), Kind: entity.JobKindGenerate, Status: entity.JobStatusPending, Revision: 1, CreatedAt: time.Now()}

	if err := s.Create(ctx, job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, job); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate Create = %v, want ErrConflict", err)
	}

	next := job.Clone()
	next.Status = entity.JobStatusProcessing
	next.Revision = 2
	if err := s.Update(ctx, next, 1); err != nil {
		t.Fatalf("Update: %v", err)
	}
	stale := job.Clone()
	stale.Status = entity.JobStatusFailed
	stale.Revision = 2
	if err := s.Update(ctx, stale, 1); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale Update = %v, want ErrConflict", err)
	}

	got, _ := s.Get(ctx, job.ID)
	if got.Status != entity.JobStatusProcessing {
		t.Fatalf("status = %s, want processing", got.Status)
	}
	got.Status = entity.JobStatusSuccess
	again, _ := s.Get(ctx, job.ID)
	if again.Status != entity.JobStatusProcessing {
		t.Fatalf("store shares memory with callers")
	}

	counts, _ := s.CountByStatus(ctx)
	if counts[entity.JobStatusProcessing] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestKeyLockReleasesEntries(t *testing.T) {
	k := newKeyLock()
	id := uuid.New()

	unlock := k.Lock(id)
	done := make(chan struct{})
	go func() {
		u := k.Lock(id)
		u()
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("second Lock did not block")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	<-done

	if k.size() != 0 {
		t.Fatalf("lock table not cleaned up: %d", k.size())
	}
}
