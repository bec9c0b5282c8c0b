package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-music-dispatch/config"
	"github.com/tnqbao/gau-music-dispatch/entity"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"
)

type Deps struct {
	Jobs      JobStore
	Queue     Queue
	Artifacts ArtifactStore
	Events    EventPublisher
	Logger    Logger
	Clock     func() time.Time
}

// Dispatcher owns every job state transition. All mutations of a job happen
// under its per-job lock and are persisted with a revision check, so a late
// report can never overwrite a newer state.
type Dispatcher struct {
	cfg       *config.DispatchConfig
	jobs      JobStore
	queue     Queue
	artifacts ArtifactStore
	events    EventPublisher
	logger    Logger
	pool      *Pool
	validator *Validator
	locks     *keyLock
	now       func() time.Time
	metrics   *metrics
}

func New(cfg *config.DispatchConfig, deps Deps) *Dispatcher {
	if deps.Jobs == nil || deps.Queue == nil || deps.Artifacts == nil {
		panic("dispatch: job store, queue and artifact store are required")
	}
	if deps.Logger == nil {
		deps.Logger = nopLogger{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	pool := NewPool(cfg.HeartbeatTimeout, cfg.DeadTimeout, cfg.DefaultCapability, cfg.MaxCapability, deps.Clock)
	return &Dispatcher{
		cfg:       cfg,
		jobs:      deps.Jobs,
		queue:     deps.Queue,
		artifacts: deps.Artifacts,
		events:    deps.Events,
		logger:    deps.Logger,
		pool:      pool,
		validator: NewValidator(cfg),
		locks:     newKeyLock(),
		now:       deps.Clock,
		metrics:   newMetrics(otel.Meter(instrumentationName), deps.Queue, pool, deps.Logger),
	}
}

func (d *Dispatcher) Pool() *Pool {
	return d.pool
}

// Submit validates and persists a job, then enqueues it. It never waits on
// worker capacity.
func (d *Dispatcher) Submit(ctx context.Context, kind entity.JobKind, payload []byte) (uuid.UUID, error) {
	ctx, span := d.metrics.startSpan(ctx, "dispatch.Submit", attribute.String("job.kind", string(kind)))
	defer span.End()

	if err := d.validator.Validate(kind, payload); err != nil {
		d.metrics.rejected.Add(ctx, 1)
		return uuid.Nil, endSpan(span, err)
	}

	now := d.now()
	job := &entity.Job{
		ID:        uuid.New(),
		Kind:      kind,
		Payload:   datatypes.JSON(append([]byte(nil), payload...)),
		Status:    entity.JobStatusPending,
		Revision:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	span.SetAttributes(attribute.String("job.id", job.ID.String()))

	if err := d.jobs.Create(ctx, job); err != nil {
		return uuid.Nil, endSpan(span, fmt.Errorf("persist job: %w", err))
	}

	unlock := d.locks.Lock(job.ID)
	defer unlock()

	if err := d.queue.Enqueue(ctx, entity.QueueEntry{JobID: job.ID, EnqueuedAt: now}); err != nil {
		d.metrics.rejected.Add(ctx, 1)
		reason := entity.ReasonEnqueueFailed
		if errors.Is(err, ErrOverloaded) {
			reason = entity.ReasonQueueOverflow
		}
		next := job.Clone()
		d.finalize(next, entity.JobStatusFailed, reason, err.Error())
		if uerr := d.commit(ctx, job, next); uerr != nil {
			d.logger.ErrorWithContextf(ctx, uerr, "[Dispatcher] Failed to mark job %s as failed after enqueue error", job.ID)
		} else {
			d.publish(ctx, next)
		}
		d.logger.WarningWithContextf(ctx, "[Dispatcher] Rejected job %s: %v", job.ID, err)
		return uuid.Nil, endSpan(span, fmt.Errorf("enqueue job %s: %w", job.ID, err))
	}

	d.metrics.submitted.Add(ctx, 1, metricAttrs(attribute.String("kind", string(kind))))
	d.publish(ctx, job)
	d.logger.InfoWithContextf(ctx, "[Dispatcher] Job %s submitted (kind=%s)", job.ID, kind)
	return job.ID, nil
}

func (d *Dispatcher) GetStatus(ctx context.Context, id uuid.UUID) (JobSnapshot, error) {
	job, err := d.jobs.Get(ctx, id)
	if err != nil {
		return JobSnapshot{}, err
	}
	return snapshotOf(job), nil
}

func (d *Dispatcher) Register(ctx context.Context, capability int, labels map[string]string) (entity.Worker, error) {
	w, err := d.pool.Register(capability, labels)
	if err != nil {
		return entity.Worker{}, err
	}
	d.logger.InfoWithContextf(ctx, "[Pool] Worker %s registered with capability %d", w.ID, w.Capability)
	return w, nil
}

// Heartbeat refreshes the worker and tells it which of its jobs it should
// abandon: jobs with a pending cancellation or no longer assigned to it.
func (d *Dispatcher) Heartbeat(ctx context.Context, workerID uuid.UUID) (HeartbeatAck, error) {
	w, err := d.pool.touch(workerID)
	if err != nil {
		return HeartbeatAck{}, err
	}

	ack := HeartbeatAck{
		WorkerID: w.ID,
		Liveness: w.Liveness,
		Assigned: w.Assignments,
		Cancel:   []uuid.UUID{},
	}
	for _, jobID := range w.Assignments {
		job, err := d.jobs.Get(ctx, jobID)
		if errors.Is(err, ErrNotFound) {
			ack.Cancel = append(ack.Cancel, jobID)
			continue
		}
		if err != nil {
			return HeartbeatAck{}, fmt.Errorf("load job %s: %w", jobID, err)
		}
		if job.CancelRequested || job.Status != entity.JobStatusProcessing || !job.AssignedTo(workerID) {
			ack.Cancel = append(ack.Cancel, jobID)
		}
	}
	return ack, nil
}

// ClaimNext hands the head of the queue to workerID, or returns nil when the
// queue is empty or the worker has no free slot.
func (d *Dispatcher) ClaimNext(ctx context.Context, workerID uuid.UUID) (*Assignment, error) {
	ctx, span := d.metrics.startSpan(ctx, "dispatch.ClaimNext", attribute.String("worker.id", workerID.String()))
	defer span.End()

	if err := d.pool.reserve(workerID); err != nil {
		if errors.Is(err, ErrNoCapacity) {
			return nil, nil
		}
		return nil, endSpan(span, err)
	}

	for {
		entry, err := d.queue.Claim(ctx)
		if err != nil {
			d.pool.unreserve(workerID)
			return nil, endSpan(span, fmt.Errorf("claim queue entry: %w", err))
		}
		if entry == nil {
			d.pool.unreserve(workerID)
			return nil, nil
		}

		a, err := d.assign(ctx, workerID, *entry)
		if err != nil {
			return nil, endSpan(span, err)
		}
		if a != nil {
			span.SetAttributes(attribute.String("job.id", a.JobID.String()))
			return a, nil
		}
	}
}

// assign binds a popped entry to the worker. A nil assignment with a nil
// error means the entry was stale and the reservation is still held. On
// error the reservation has been given back.
func (d *Dispatcher) assign(ctx context.Context, workerID uuid.UUID, entry entity.QueueEntry) (*Assignment, error) {
	unlock := d.locks.Lock(entry.JobID)
	defer unlock()

	job, err := d.jobs.Get(ctx, entry.JobID)
	if errors.Is(err, ErrNotFound) {
		d.logger.WarningWithContextf(ctx, "[Dispatcher] Dropping queue entry for unknown job %s", entry.JobID)
		return nil, nil
	}
	if err != nil {
		d.pool.unreserve(workerID)
		d.requeue(ctx, entry)
		return nil, fmt.Errorf("load job %s: %w", entry.JobID, err)
	}
	if job.Status != entity.JobStatusPending {
		d.logger.DebugWithContextf(ctx, "[Dispatcher] Skipping stale queue entry for job %s (%s)", job.ID, job.Status)
		return nil, nil
	}

	if err := d.pool.bind(workerID, job.ID); err != nil {
		d.requeue(ctx, entry)
		return nil, err
	}

	now := d.now()
	next := job.Clone()
	next.Status = entity.JobStatusProcessing
	next.WorkerID = &workerID
	next.Attempt++
	next.Progress = ""
	next.StartedAt = &now
	if err := d.commit(ctx, job, next); err != nil {
		d.pool.release(workerID, job.ID)
		d.requeue(ctx, entry)
		return nil, err
	}

	d.metrics.claims.Add(ctx, 1)
	d.publish(ctx, next)
	d.logger.InfoWithContextf(ctx, "[Dispatcher] Job %s claimed by worker %s (attempt %d)", job.ID, workerID, next.Attempt)

	return &Assignment{
		JobID:    next.ID,
		WorkerID: workerID,
		Kind:     next.Kind,
		Payload:  json.RawMessage(next.Payload),
		Attempt:  next.Attempt,
		Retries:  next.Retries,
	}, nil
}

// ReportProgress applies a worker report. Terminal states are delegated to
// ReportResult; with State success, Location (or Detail) is the artifact
// reference and with State failed, Detail is the error.
func (d *Dispatcher) ReportProgress(ctx context.Context, r ProgressReport) (Directive, error) {
	switch r.State {
	case entity.JobStatusSuccess:
		location := r.Location
		if location == "" {
			location = r.Detail
		}
		return Directive{}, d.ReportResult(ctx, ResultReport{
			JobID: r.JobID, WorkerID: r.WorkerID, Attempt: r.Attempt, Success: true,
			Location: location, Size: r.Size, ContentType: r.ContentType,
		})
	case entity.JobStatusFailed:
		return Directive{}, d.ReportResult(ctx, ResultReport{
			JobID: r.JobID, WorkerID: r.WorkerID, Attempt: r.Attempt, Error: r.Detail,
		})
	case entity.JobStatusProcessing, "":
	default:
		return Directive{}, invalid("state", "workers cannot report %q", r.State)
	}

	if _, err := d.pool.touch(r.WorkerID); errors.Is(err, ErrWorkerLost) {
		d.logger.WarningWithContextf(ctx, "[Dispatcher] Discarding progress for job %s: %v", r.JobID, err)
		return Directive{}, err
	}

	unlock := d.locks.Lock(r.JobID)
	defer unlock()

	job, err := d.jobs.Get(ctx, r.JobID)
	if err != nil {
		return Directive{}, err
	}
	if err := d.checkAssignment(job, r.WorkerID, r.Attempt); err != nil {
		d.logger.WarningWithContextf(ctx, "[Dispatcher] Discarding stale progress report: %v", err)
		return Directive{}, err
	}

	next := job.Clone()
	next.Progress = r.Detail
	if err := d.commit(ctx, job, next); err != nil {
		return Directive{}, err
	}
	return Directive{Cancel: next.CancelRequested}, nil
}

// ReportResult finalizes a job from its worker's outcome. A successful
// result registers the artifact; duplicate deliveries after the job is
// terminal fail with ErrConflict.
func (d *Dispatcher) ReportResult(ctx context.Context, r ResultReport) error {
	ctx, span := d.metrics.startSpan(ctx, "dispatch.ReportResult",
		attribute.String("job.id", r.JobID.String()), attribute.Bool("success", r.Success))
	defer span.End()

	if r.Success && r.Location == "" {
		return endSpan(span, invalid("location", "is required for a successful result"))
	}

	// Results are applied while the job is still bound to the reporting
	// worker, even past its dead timeout. Unknown workers fall through to
	// the assignment check.
	if _, err := d.pool.touch(r.WorkerID); err != nil {
		d.logger.DebugWithContextf(ctx, "[Dispatcher] Result for job %s from inactive worker: %v", r.JobID, err)
	}

	unlock := d.locks.Lock(r.JobID)
	defer unlock()

	job, err := d.jobs.Get(ctx, r.JobID)
	if err != nil {
		return endSpan(span, err)
	}
	if err := d.checkAssignment(job, r.WorkerID, r.Attempt); err != nil {
		d.logger.WarningWithContextf(ctx, "[Dispatcher] Discarding stale result report: %v", err)
		return endSpan(span, err)
	}

	next := job.Clone()
	if r.Success {
		ref, err := d.storeArtifact(ctx, job.ID, r)
		if err != nil {
			return endSpan(span, err)
		}
		next.ResultRef = ref
		d.finalize(next, entity.JobStatusSuccess, entity.ReasonNone, "")
	} else {
		reason := entity.ReasonWorkerError
		if job.CancelRequested {
			reason = entity.ReasonCancelled
		}
		d.finalize(next, entity.JobStatusFailed, reason, r.Error)
	}

	if err := d.commit(ctx, job, next); err != nil {
		return endSpan(span, err)
	}
	d.pool.release(r.WorkerID, job.ID)
	d.afterFinish(ctx, next)
	return nil
}

func (d *Dispatcher) storeArtifact(ctx context.Context, jobID uuid.UUID, r ResultReport) (string, error) {
	artifact := &entity.Artifact{
		JobID:       jobID,
		Location:    r.Location,
		Size:        r.Size,
		ContentType: r.ContentType,
		CreatedAt:   d.now(),
	}
	err := d.artifacts.Put(ctx, artifact)
	if err == nil {
		return artifact.Location, nil
	}
	if !errors.Is(err, ErrConflict) {
		return "", fmt.Errorf("store artifact for job %s: %w", jobID, err)
	}

	// A previous delivery of this result already registered an artifact.
	existing, gerr := d.artifacts.Get(ctx, jobID)
	if gerr != nil {
		return "", fmt.Errorf("load existing artifact for job %s: %w", jobID, gerr)
	}
	if existing.Location != r.Location {
		d.logger.WarningWithContextf(ctx, "[Dispatcher] Job %s already has artifact %s, ignoring %s", jobID, existing.Location, r.Location)
	}
	return existing.Location, nil
}

// Cancel removes a pending job from the queue and fails it, or flags a
// processing job for cooperative cancellation. Terminal jobs return false.
func (d *Dispatcher) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	unlock := d.locks.Lock(id)
	defer unlock()

	job, err := d.jobs.Get(ctx, id)
	if err != nil {
		return false, err
	}

	switch job.Status {
	case entity.JobStatusPending:
		if _, err := d.queue.Remove(ctx, id); err != nil {
			return false, fmt.Errorf("remove job %s from queue: %w", id, err)
		}
		next := job.Clone()
		next.CancelRequested = true
		d.finalize(next, entity.JobStatusFailed, entity.ReasonCancelled, "cancelled before execution")
		if err := d.commit(ctx, job, next); err != nil {
			return false, err
		}
		d.afterFinish(ctx, next)
		d.logger.InfoWithContextf(ctx, "[Dispatcher] Job %s cancelled while pending", id)
		return true, nil

	case entity.JobStatusProcessing:
		if job.CancelRequested {
			return true, nil
		}
		next := job.Clone()
		next.CancelRequested = true
		if err := d.commit(ctx, job, next); err != nil {
			return false, err
		}
		d.publish(ctx, next)
		d.logger.InfoWithContextf(ctx, "[Dispatcher] Cancellation requested for job %s on worker %s", id, *job.WorkerID)
		return true, nil
	}
	return false, nil
}

// CheckAssignment reports ErrConflict unless workerID currently holds jobID.
func (d *Dispatcher) CheckAssignment(ctx context.Context, jobID, workerID uuid.UUID) error {
	job, err := d.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	return d.checkAssignment(job, workerID, 0)
}

func (d *Dispatcher) GetArtifact(ctx context.Context, jobID uuid.UUID) (*entity.Artifact, error) {
	return d.artifacts.Get(ctx, jobID)
}

func (d *Dispatcher) PutArtifact(ctx context.Context, artifact *entity.Artifact) error {
	if artifact.Location == "" {
		return invalid("location", "must not be empty")
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = d.now()
	}
	return d.artifacts.Put(ctx, artifact)
}

// Deregister removes a worker. Jobs it still holds are treated as lost.
func (d *Dispatcher) Deregister(ctx context.Context, workerID uuid.UUID) error {
	lost, err := d.pool.remove(workerID)
	if err != nil {
		return err
	}
	d.logger.InfoWithContextf(ctx, "[Pool] Worker %s deregistered with %d job(s) in flight", workerID, len(lost.Jobs))

	var errs []error
	for _, jobID := range lost.Jobs {
		if err := d.handleWorkerLost(ctx, workerID, jobID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reap runs one liveness sweep plus the optional job timeout sweep.
func (d *Dispatcher) Reap(ctx context.Context) error {
	var errs []error
	for _, lw := range d.pool.reap() {
		d.logger.WarningWithContextf(ctx, "[Reaper] Worker %s is dead, recovering %d job(s)", lw.ID, len(lw.Jobs))
		for _, jobID := range lw.Jobs {
			if err := d.handleWorkerLost(ctx, lw.ID, jobID); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if d.cfg.JobTimeout > 0 {
		if err := d.expireJobs(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RunReaper calls Reap on every tick until ctx is done.
func (d *Dispatcher) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.logger.InfoWithContextf(ctx, "[Reaper] Started with interval %s", interval)
	for {
		select {
		case <-ctx.Done():
			d.logger.InfoWithContextf(ctx, "[Reaper] Shutting down...")
			return
		case <-ticker.C:
			if err := d.Reap(ctx); err != nil {
				d.logger.ErrorWithContextf(ctx, err, "[Reaper] Sweep failed: %v", err)
			}
		}
	}
}

// handleWorkerLost requeues the job at the head of the queue while retries
// remain, otherwise fails it with worker_lost.
func (d *Dispatcher) handleWorkerLost(ctx context.Context, workerID, jobID uuid.UUID) error {
	unlock := d.locks.Lock(jobID)
	defer unlock()

	job, err := d.jobs.Get(ctx, jobID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status != entity.JobStatusProcessing || !job.AssignedTo(workerID) {
		return nil
	}

	next := job.Clone()
	switch {
	case job.CancelRequested:
		d.finalize(next, entity.JobStatusFailed, entity.ReasonCancelled, fmt.Sprintf("worker %s lost after cancellation", workerID))
	case job.Retries >= d.cfg.MaxRetries:
		d.finalize(next, entity.JobStatusFailed, entity.ReasonWorkerLost,
			fmt.Sprintf("worker %s lost, retry budget of %d exhausted", workerID, d.cfg.MaxRetries))
	default:
		next.Status = entity.JobStatusPending
		next.Retries++
		next.WorkerID = nil
		next.StartedAt = nil
		next.Progress = ""
	}

	if err := d.commit(ctx, job, next); err != nil {
		return err
	}
	if next.Status.IsTerminal() {
		d.afterFinish(ctx, next)
		d.logger.WarningWithContextf(ctx, "[Reaper] Job %s failed: %s", jobID, next.ErrorDetail)
		return nil
	}

	entry := entity.QueueEntry{JobID: jobID, EnqueuedAt: d.now(), Retries: next.Retries}
	if err := d.queue.Requeue(ctx, entry); err != nil {
		// The job must not stay pending without a queue entry.
		failed := next.Clone()
		d.finalize(failed, entity.JobStatusFailed, entity.ReasonWorkerLost, fmt.Sprintf("requeue after worker loss failed: %v", err))
		if cerr := d.commit(ctx, next, failed); cerr != nil {
			return errors.Join(fmt.Errorf("requeue job %s: %w", jobID, err), cerr)
		}
		d.afterFinish(ctx, failed)
		return fmt.Errorf("requeue job %s: %w", jobID, err)
	}

	d.metrics.requeues.Add(ctx, 1)
	d.publish(ctx, next)
	d.logger.InfoWithContextf(ctx, "[Reaper] Job %s requeued at head (retry %d of %d)", jobID, next.Retries, d.cfg.MaxRetries)
	return nil
}

func (d *Dispatcher) expireJobs(ctx context.Context) error {
	running, err := d.jobs.List(ctx, JobFilter{Status: entity.JobStatusProcessing})
	if err != nil {
		return fmt.Errorf("list processing jobs: %w", err)
	}

	now := d.now()
	var errs []error
	for _, job := range running {
		if job.StartedAt == nil || now.Sub(*job.StartedAt) <= d.cfg.JobTimeout {
			continue
		}
		if err := d.expireJob(ctx, job.ID, job.Attempt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) expireJob(ctx context.Context, jobID uuid.UUID, attempt int) error {
	unlock := d.locks.Lock(jobID)
	defer unlock()

	job, err := d.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != entity.JobStatusProcessing || job.Attempt != attempt {
		return nil
	}

	next := job.Clone()
	d.finalize(next, entity.JobStatusFailed, entity.ReasonTimeout, fmt.Sprintf("no result within %s", d.cfg.JobTimeout))
	if err := d.commit(ctx, job, next); err != nil {
		return err
	}
	if job.WorkerID != nil {
		d.pool.release(*job.WorkerID, jobID)
	}
	d.afterFinish(ctx, next)
	d.logger.WarningWithContextf(ctx, "[Reaper] Job %s timed out on attempt %d", jobID, attempt)
	return nil
}

func (d *Dispatcher) checkAssignment(job *entity.Job, workerID uuid.UUID, attempt int) error {
	if job.Status != entity.JobStatusProcessing {
		return fmt.Errorf("job %s is %s: %w", job.ID, job.Status, ErrConflict)
	}
	if !job.AssignedTo(workerID) {
		return fmt.Errorf("job %s is not assigned to worker %s: %w", job.ID, workerID, ErrConflict)
	}
	if attempt > 0 && attempt != job.Attempt {
		return fmt.Errorf("job %s report for attempt %d, current attempt is %d: %w", job.ID, attempt, job.Attempt, ErrConflict)
	}
	return nil
}

// commit persists next over current. Callers hold the job lock.
func (d *Dispatcher) commit(ctx context.Context, current, next *entity.Job) error {
	if current.Status.IsTerminal() {
		return fmt.Errorf("job %s is already %s: %w", current.ID, current.Status, ErrConflict)
	}
	next.Revision = current.Revision + 1
	next.UpdatedAt = d.now()
	if err := d.jobs.Update(ctx, next, current.Revision); err != nil {
		return fmt.Errorf("update job %s: %w", current.ID, err)
	}
	return nil
}

func (d *Dispatcher) finalize(job *entity.Job, status entity.JobStatus, reason entity.FailureReason, detail string) {
	now := d.now()
	job.Status = status
	job.ErrorReason = reason
	job.ErrorDetail = detail
	job.FinishedAt = &now
}

func (d *Dispatcher) afterFinish(ctx context.Context, job *entity.Job) {
	d.metrics.finished.Add(ctx, 1, metricAttrs(
		attribute.String("status", string(job.Status)),
		attribute.String("reason", string(job.ErrorReason)),
	))
	d.publish(ctx, job)
}

func (d *Dispatcher) requeue(ctx context.Context, entry entity.QueueEntry) {
	if err := d.queue.Requeue(ctx, entry); err != nil {
		d.logger.ErrorWithContextf(ctx, err, "[Dispatcher] Failed to return job %s to the queue", entry.JobID)
	}
}

func (d *Dispatcher) publish(ctx context.Context, job *entity.Job) {
	if d.events == nil {
		return
	}
	if err := d.events.PublishJobEvent(ctx, job); err != nil {
		d.logger.WarningWithContextf(ctx, "[Dispatcher] Failed to publish event for job %s: %v", job.ID, err)
	}
}
