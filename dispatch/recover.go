package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/tnqbao/gau-music-dispatch/entity"
)

// Recover rebuilds in-process state after a control-plane restart. Jobs left
// processing by workers this process does not know are handled as worker
// loss. With requeuePending set, pending jobs are put back in the queue in
// submission order; use it only when the queue itself does not survive a
// restart.
func (d *Dispatcher) Recover(ctx context.Context, requeuePending bool) (requeued, orphaned int, err error) {
	var errs []error

	if requeuePending {
		pending, err := d.jobs.List(ctx, JobFilter{Status: entity.JobStatusPending})
		if err != nil {
			return 0, 0, fmt.Errorf("list pending jobs: %w", err)
		}
		// Head insertion in reverse restores FIFO order.
		for i := len(pending) - 1; i >= 0; i-- {
			job := pending[i]
			entry := entity.QueueEntry{JobID: job.ID, EnqueuedAt: job.CreatedAt, Retries: job.Retries}
			if err := d.queue.Requeue(ctx, entry); err != nil {
				errs = append(errs, fmt.Errorf("requeue job %s: %w", job.ID, err))
				continue
			}
			requeued++
		}
	}

	running, err := d.jobs.List(ctx, JobFilter{Status: entity.JobStatusProcessing})
	if err != nil {
		return requeued, 0, errors.Join(append(errs, fmt.Errorf("list processing jobs: %w", err))...)
	}
	for _, job := range running {
		if job.WorkerID == nil {
			continue
		}
		if _, err := d.pool.Get(*job.WorkerID); err == nil {
			continue
		}
		if err := d.handleWorkerLost(ctx, *job.WorkerID, job.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		orphaned++
	}

	if requeued > 0 || orphaned > 0 {
		d.logger.InfoWithContextf(ctx, "[Dispatcher] Recovered %d pending and %d orphaned job(s)", requeued, orphaned)
	}
	return requeued, orphaned, errors.Join(errs...)
}
