package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-music-dispatch/dispatch"
	"github.com/tnqbao/gau-music-dispatch/http/controller/dto"
)

// ControlPlane is the worker-facing API of the dispatch server.
type ControlPlane interface {
	Register(ctx context.Context, capability int, labels map[string]string) (dto.RegisterWorkerResponseDTO, error)
	Heartbeat(ctx context.Context, workerID uuid.UUID) (dispatch.HeartbeatAck, error)
	Claim(ctx context.Context, workerID uuid.UUID) (*dispatch.Assignment, error)
	Deregister(ctx context.Context, workerID uuid.UUID) error
}

type Config struct {
	Capability        int
	Labels            map[string]string
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	WorkDir           string
}

// Runner is a worker agent: it keeps one registration alive, claims up to
// Capability jobs at a time and runs each through the Generator.
type Runner struct {
	cfg       Config
	api       ControlPlane
	generator Generator
	uploader  Uploader
	reporter  Reporter
	logger    dispatch.Logger

	regMu    sync.Mutex
	mu       sync.Mutex
	workerID uuid.UUID
	running  map[uuid.UUID]context.CancelCauseFunc
	wg       sync.WaitGroup
}

func New(cfg Config, api ControlPlane, generator Generator, uploader Uploader, reporter Reporter, logger dispatch.Logger) *Runner {
	if cfg.Capability <= 0 {
		cfg.Capability = 1
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	return &Runner{
		cfg:       cfg,
		api:       api,
		generator: generator,
		uploader:  uploader,
		reporter:  reporter,
		logger:    logger,
		running:   make(map[uuid.UUID]context.CancelCauseFunc),
	}
}

func (r *Runner) WorkerID() uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.workerID
}

// Run blocks until ctx is done, then waits for in-flight jobs to observe the
// cancellation and deregisters.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.register(ctx); err != nil {
		return err
	}

	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		r.heartbeatLoop(ctx)
	}()

	slots := make(chan struct{}, r.cfg.Capability)
	r.claimLoop(ctx, slots)

	r.wg.Wait()
	<-hbDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.api.Deregister(shutdownCtx, r.WorkerID()); err != nil && !errors.Is(err, dispatch.ErrNotFound) {
		r.logger.WarningWithContextf(shutdownCtx, "[Agent] Deregister failed: %v", err)
	}
	r.logger.InfoWithContextf(shutdownCtx, "[Agent] Worker %s stopped", r.WorkerID())
	return nil
}

func (r *Runner) register(ctx context.Context) error {
	resp, err := r.api.Register(ctx, r.cfg.Capability, r.cfg.Labels)
	if err != nil {
		return fmt.Errorf("register worker: %w", err)
	}
	r.mu.Lock()
	r.workerID = resp.WorkerID
	r.mu.Unlock()
	r.logger.InfoWithContextf(ctx, "[Agent] Registered as worker %s (capability %d)", resp.WorkerID, resp.Capability)
	return nil
}

// reregister replaces a registration the control plane no longer knows.
// Jobs held under the old id now belong to the reaper, so they are stopped.
func (r *Runner) reregister(ctx context.Context, stale uuid.UUID, cause error) {
	r.regMu.Lock()
	defer r.regMu.Unlock()
	if r.WorkerID() != stale {
		return
	}
	r.logger.WarningWithContextf(ctx, "[Agent] Registration %s lost (%v), registering again", stale, cause)
	r.cancelAll()
	if err := r.register(ctx); err != nil {
		r.logger.ErrorWithContextf(ctx, err, "[Agent] Re-registration failed")
	}
}

func (r *Runner) claimLoop(ctx context.Context, slots chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case slots <- struct{}{}:
		}

		workerID := r.WorkerID()
		a, err := r.api.Claim(ctx, workerID)
		if err != nil || a == nil {
			<-slots
			if err != nil && ctx.Err() == nil {
				if errors.Is(err, dispatch.ErrNotFound) || errors.Is(err, dispatch.ErrWorkerLost) {
					r.reregister(ctx, workerID, err)
				} else {
					r.logger.WarningWithContextf(ctx, "[Agent] Claim failed: %v", err)
				}
			}
			if !sleep(ctx, r.cfg.PollInterval) {
				return
			}
			continue
		}

		jobCtx, cancel := context.WithCancelCause(ctx)
		r.mu.Lock()
		r.running[a.JobID] = cancel
		r.mu.Unlock()

		r.wg.Add(1)
		go func(a dispatch.Assignment) {
			defer r.wg.Done()
			defer func() { <-slots }()
			defer r.forget(a.JobID)
			r.execute(jobCtx, a)
		}(*a)
	}
}

func (r *Runner) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.heartbeat(ctx)
		}
	}
}

func (r *Runner) heartbeat(ctx context.Context) {
	workerID := r.WorkerID()
	ack, err := r.api.Heartbeat(ctx, workerID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, dispatch.ErrNotFound) || errors.Is(err, dispatch.ErrWorkerLost) {
			r.reregister(ctx, workerID, err)
			return
		}
		r.logger.WarningWithContextf(ctx, "[Agent] Heartbeat failed: %v", err)
		return
	}
	for _, jobID := range ack.Cancel {
		if r.stop(jobID) {
			r.logger.InfoWithContextf(ctx, "[Agent] Stopping job %s at control plane request", jobID)
		}
	}
}

// execute runs one assignment to completion and reports the outcome.
// Reports rejected as stale mean the job moved on without us.
func (r *Runner) execute(ctx context.Context, a dispatch.Assignment) {
	workerID := r.WorkerID()
	r.logger.InfoWithContextf(ctx, "[Agent] Running job %s (kind=%s, attempt %d)", a.JobID, a.Kind, a.Attempt)

	checkpoint := func(ctx context.Context, stage string) error {
		if err := ctx.Err(); err != nil {
			return ErrCancelled
		}
		directive, err := r.reporter.Progress(ctx, dispatch.ProgressReport{
			JobID: a.JobID, WorkerID: workerID, Attempt: a.Attempt, Detail: stage,
		})
		if errors.Is(err, dispatch.ErrConflict) || errors.Is(err, dispatch.ErrNotFound) {
			return ErrCancelled
		}
		if err != nil {
			r.logger.WarningWithContextf(ctx, "[Agent] Progress report for job %s failed: %v", a.JobID, err)
		}
		if directive.Cancel {
			return ErrCancelled
		}
		return nil
	}

	out, err := r.generator.Generate(ctx, Task{
		JobID: a.JobID, Kind: a.Kind, Payload: a.Payload, Attempt: a.Attempt, WorkDir: r.cfg.WorkDir,
	}, checkpoint)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(context.Cause(ctx), ErrCancelled) {
			// Shutdown or lost registration: the control plane requeues it.
			r.logger.WarningWithContextf(ctx, "[Agent] Abandoning job %s: %v", a.JobID, context.Cause(ctx))
			return
		}
		if errors.Is(err, context.Canceled) {
			err = ErrCancelled
		}
		r.fail(a, workerID, err)
		return
	}
	defer os.Remove(out.Path)

	location, size, err := r.upload(ctx, workerID, a, out)
	if err != nil {
		r.fail(a, workerID, fmt.Errorf("upload output: %w", err))
		return
	}

	err = r.reporter.Result(context.WithoutCancel(ctx), dispatch.ResultReport{
		JobID: a.JobID, WorkerID: workerID, Attempt: a.Attempt, Success: true,
		Location: location, Size: size, ContentType: out.ContentType,
	})
	r.logResult(ctx, a, err)
}

func (r *Runner) upload(ctx context.Context, workerID uuid.UUID, a dispatch.Assignment, out Output) (string, int64, error) {
	f, err := os.Open(out.Path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	return r.uploader.Upload(ctx, workerID, a.JobID, out.Ext, out.ContentType, f)
}

func (r *Runner) fail(a dispatch.Assignment, workerID uuid.UUID, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := r.reporter.Result(ctx, dispatch.ResultReport{
		JobID: a.JobID, WorkerID: workerID, Attempt: a.Attempt, Error: cause.Error(),
	})
	r.logResult(ctx, a, err)
}

func (r *Runner) logResult(ctx context.Context, a dispatch.Assignment, err error) {
	switch {
	case err == nil:
		r.logger.InfoWithContextf(ctx, "[Agent] Job %s reported", a.JobID)
	case errors.Is(err, dispatch.ErrConflict), errors.Is(err, dispatch.ErrNotFound):
		r.logger.WarningWithContextf(ctx, "[Agent] Result for job %s discarded by control plane: %v", a.JobID, err)
	default:
		r.logger.ErrorWithContextf(ctx, err, "[Agent] Failed to report result for job %s", a.JobID)
	}
}

func (r *Runner) stop(jobID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.running[jobID]
	if ok {
		cancel(ErrCancelled)
	}
	return ok
}

func (r *Runner) cancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cancel := range r.running {
		cancel(dispatch.ErrWorkerLost)
	}
}

func (r *Runner) forget(jobID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.running[jobID]; ok {
		cancel(nil)
		delete(r.running, jobID)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Uploader stores a job's output file and returns its blob location.
type Uploader interface {
	Upload(ctx context.Context, workerID, jobID uuid.UUID, ext, contentType string, r io.Reader) (string, int64, error)
}

// Reporter delivers progress and results to the control plane.
type Reporter interface {
	Progress(ctx context.Context, report dispatch.ProgressReport) (dispatch.Directive, error)
	Result(ctx context.Context, report dispatch.ResultReport) error
}
