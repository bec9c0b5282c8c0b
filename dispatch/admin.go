package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/tnqbao/gau-music-dispatch/entity"
)

// Overview is the aggregate a monitoring dashboard renders.
type Overview struct {
	QueueDepth      int                        `json:"queue_depth"`
	QueueCapacity   int                        `json:"queue_capacity"`
	DesiredWorkers  int                        `json:"desired_workers"`
	ObservedWorkers int                        `json:"observed_workers"`
	AliveWorkers    int                        `json:"alive_workers"`
	SuspectWorkers  int                        `json:"suspect_workers"`
	TotalSlots      int                        `json:"total_slots"`
	BusySlots       int                        `json:"busy_slots"`
	FreeSlots       int                        `json:"free_slots"`
	Jobs            map[entity.JobStatus]int64 `json:"jobs"`
	GeneratedAt     time.Time                  `json:"generated_at"`
}

func (d *Dispatcher) Overview(ctx context.Context) (Overview, error) {
	depth, err := d.queue.Len(ctx)
	if err != nil {
		return Overview{}, fmt.Errorf("queue depth: %w", err)
	}
	counts, err := d.jobs.CountByStatus(ctx)
	if err != nil {
		return Overview{}, fmt.Errorf("count jobs: %w", err)
	}
	for _, status := range []entity.JobStatus{
		entity.JobStatusPending, entity.JobStatusProcessing, entity.JobStatusSuccess, entity.JobStatusFailed,
	} {
		if _, ok := counts[status]; !ok {
			counts[status] = 0
		}
	}

	o := Overview{
		QueueDepth:     depth,
		QueueCapacity:  d.queue.Capacity(),
		DesiredWorkers: d.pool.Desired(),
		Jobs:           counts,
		GeneratedAt:    d.now(),
	}
	for _, w := range d.pool.Workers() {
		o.ObservedWorkers++
		switch w.Liveness {
		case entity.WorkerAlive:
			o.AliveWorkers++
		case entity.WorkerSuspect:
			o.SuspectWorkers++
		}
		o.TotalSlots += w.Capability
		o.BusySlots += len(w.Assignments) + w.Reserved
		o.FreeSlots += w.FreeSlots()
	}
	return o, nil
}

func (d *Dispatcher) ListJobs(ctx context.Context, filter JobFilter) ([]JobSnapshot, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, invalid("status", "unknown status %q", filter.Status)
	}
	jobs, err := d.jobs.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]JobSnapshot, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, snapshotOf(job))
	}
	return out, nil
}

func (d *Dispatcher) ListWorkers() []entity.Worker {
	return d.pool.Workers()
}

// SetDesiredWorkerCount records the orchestration target. It is advisory:
// workers still join by registering themselves.
func (d *Dispatcher) SetDesiredWorkerCount(ctx context.Context, n int) error {
	if err := d.pool.SetDesired(n); err != nil {
		return err
	}
	d.logger.InfoWithContextf(ctx, "[Pool] Desired worker count set to %d (observed %d)", n, len(d.pool.Workers()))
	return nil
}
