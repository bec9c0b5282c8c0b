package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-music-dispatch/entity"
)

func TestRecoverAfterRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	clock := newFakeClock()
	jobs := NewMemoryJobStore()
	artifacts := NewMemoryArtifactStore()

	before := New(cfg, Deps{Jobs: jobs, Queue: NewMemoryQueue(cfg.QueueCapacity), Artifacts: artifacts, Clock: clock.Now})
	first := submit(t, before, `{"duration": 30}`)
	clock.Advance(time.Second)
	second := submit(t, before, `{"duration": 30}`)
	clock.Advance(time.Second)
	third := submit(t, before, `{"duration": 30}`)

	w := register(t, before, 1)
	if a := claim(t, before, w); a == nil || a.JobID != first {
		t.Fatalf("claim before restart = %+v", a)
	}

	after := New(cfg, Deps{Jobs: jobs, Queue: NewMemoryQueue(cfg.QueueCapacity), Artifacts: artifacts, Clock: clock.Now})
	requeued, orphaned, err := after.Recover(ctx, true)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if requeued != 2 || orphaned != 1 {
		t.Fatalf("Recover = %d requeued, %d orphaned; want 2, 1", requeued, orphaned)
	}

	snap := status(t, after, first)
	if snap.Status != entity.JobStatusPending || snap.Retries != 1 || snap.WorkerID != nil {
		t.Fatalf("orphaned job = %+v", snap)
	}

	w2 := register(t, after, 1)
	for _, want := range []uuid.UUID{first, second, third} {
		a := claim(t, after, w2)
		if a == nil || a.JobID != want {
			t.Fatalf("claim order: got %+v, want %s", a, want)
		}
		if err := after.ReportResult(ctx, ResultReport{JobID: a.JobID, WorkerID: w2, Attempt: a.Attempt, Success: true, Location: "out/" + a.JobID.String() + ".wav"}); err != nil {
			t.Fatalf("ReportResult: %v", err)
		}
	}
}

func TestRecoverWithoutRequeueLeavesSharedQueueAlone(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDispatcher(t, testConfig())
	submit(t, d, `{"duration": 30}`)

	requeued, orphaned, err := d.Recover(ctx, false)
	if err != nil || requeued != 0 || orphaned != 0 {
		t.Fatalf("Recover(false) = %d, %d, %v", requeued, orphaned, err)
	}
	if n, _ := d.queue.Len(ctx); n != 1 {
		t.Fatalf("queue length = %d, want 1", n)
	}
}
