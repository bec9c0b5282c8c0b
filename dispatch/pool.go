package dispatch

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-music-dispatch/entity"
)

// Pool is the in-process worker registry. Job state never lives here, only
// slot bookkeeping: which worker holds which job and how many slots are
// reserved by claims in flight.
//
// Lock order: a job lock may be held while calling into the pool, never the
// other way round.
type Pool struct {
	mu      sync.Mutex
	workers map[uuid.UUID]*poolWorker
	desired int

	heartbeatTimeout  time.Duration
	deadTimeout       time.Duration
	defaultCapability int
	maxCapability     int
	now               func() time.Time
}

type poolWorker struct {
	id            uuid.UUID
	capability    int
	labels        map[string]string
	assignments   map[uuid.UUID]struct{}
	reserved      int
	liveness      entity.WorkerLiveness
	lastHeartbeat time.Time
	registeredAt  time.Time
}

// lostWorker is a worker removed by the reaper or by deregistration,
// together with the jobs it still held.
type lostWorker struct {
	ID   uuid.UUID
	Jobs []uuid.UUID
}

func NewPool(heartbeatTimeout, deadTimeout time.Duration, defaultCapability, maxCapability int, now func() time.Time) *Pool {
	if now == nil {
		now = time.Now
	}
	return &Pool{
		workers:           make(map[uuid.UUID]*poolWorker),
		heartbeatTimeout:  heartbeatTimeout,
		deadTimeout:       deadTimeout,
		defaultCapability: defaultCapability,
		maxCapability:     maxCapability,
		now:               now,
	}
}

func (p *Pool) Register(capability int, labels map[string]string) (entity.Worker, error) {
	if capability == 0 {
		capability = p.defaultCapability
	}
	if capability < 0 || capability > p.maxCapability {
		return entity.Worker{}, invalid("capability", "must be between 1 and %d, got %d", p.maxCapability, capability)
	}

	now := p.now()
	w := &poolWorker{
		id:            uuid.New(),
		capability:    capability,
		labels:        labels,
		assignments:   make(map[uuid.UUID]struct{}),
		liveness:      entity.WorkerAlive,
		lastHeartbeat: now,
		registeredAt:  now,
	}

	p.mu.Lock()
	p.workers[w.id] = w
	p.mu.Unlock()

	return w.snapshot(), nil
}

// touch refreshes liveness and returns the jobs the worker holds. A worker
// silent past the dead timeout stays dead until the reaper collects it.
func (p *Pool) touch(id uuid.UUID) (entity.Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[id]
	if !ok {
		return entity.Worker{}, fmt.Errorf("worker %s: %w", id, ErrNotFound)
	}
	now := p.now()
	if silent := now.Sub(w.lastHeartbeat); silent > p.deadTimeout {
		return entity.Worker{}, fmt.Errorf("worker %s silent for %s: %w", id, silent, ErrWorkerLost)
	}
	w.lastHeartbeat = now
	w.liveness = entity.WorkerAlive
	return w.snapshot(), nil
}

// reserve takes one free slot for a claim in flight. Liveness is checked
// against the clock, not only the last reaper verdict, so a worker that has
// been silent past the dead timeout cannot pick up work the reaper would
// immediately orphan.
func (p *Pool) reserve(id uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[id]
	if !ok {
		return fmt.Errorf("worker %s: %w", id, ErrNotFound)
	}
	now := p.now()
	if now.Sub(w.lastHeartbeat) > p.deadTimeout {
		return fmt.Errorf("worker %s silent for %s: %w", id, now.Sub(w.lastHeartbeat), ErrWorkerLost)
	}
	w.lastHeartbeat = now
	w.liveness = entity.WorkerAlive

	if w.capability-len(w.assignments)-w.reserved <= 0 {
		return ErrNoCapacity
	}
	w.reserved++
	return nil
}

func (p *Pool) unreserve(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.workers[id]; ok && w.reserved > 0 {
		w.reserved--
	}
}

// bind converts a reservation into an assignment. It fails with
// ErrWorkerLost if the worker was reaped since reserve.
func (p *Pool) bind(id, jobID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[id]
	if !ok {
		return fmt.Errorf("worker %s: %w", id, ErrWorkerLost)
	}
	if w.reserved > 0 {
		w.reserved--
	}
	w.assignments[jobID] = struct{}{}
	return nil
}

func (p *Pool) release(id, jobID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.workers[id]; ok {
		delete(w.assignments, jobID)
	}
}

// remove deletes a worker and returns the jobs it held.
func (p *Pool) remove(id uuid.UUID) (lostWorker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[id]
	if !ok {
		return lostWorker{}, fmt.Errorf("worker %s: %w", id, ErrNotFound)
	}
	delete(p.workers, id)
	return lostWorker{ID: id, Jobs: w.jobIDs()}, nil
}

// reap marks silent workers suspect and removes dead ones.
func (p *Pool) reap() []lostWorker {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var lost []lostWorker
	for id, w := range p.workers {
		silence := now.Sub(w.lastHeartbeat)
		switch {
		case silence > p.deadTimeout:
			w.liveness = entity.WorkerDead
			delete(p.workers, id)
			lost = append(lost, lostWorker{ID: id, Jobs: w.jobIDs()})
		case silence > p.heartbeatTimeout:
			w.liveness = entity.WorkerSuspect
		}
	}
	return lost
}

func (p *Pool) Get(id uuid.UUID) (entity.Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[id]
	if !ok {
		return entity.Worker{}, fmt.Errorf("worker %s: %w", id, ErrNotFound)
	}
	return w.snapshot(), nil
}

// Workers returns every registered worker ordered by registration time.
func (p *Pool) Workers() []entity.Worker {
	p.mu.Lock()
	out := make([]entity.Worker, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, w.snapshot())
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out
}

func (p *Pool) SetDesired(n int) error {
	if n < 0 {
		return invalid("desired", "must not be negative, got %d", n)
	}
	p.mu.Lock()
	p.desired = n
	p.mu.Unlock()
	return nil
}

func (p *Pool) Desired() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.desired
}

func (w *poolWorker) jobIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(w.assignments))
	for id := range w.assignments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func (w *poolWorker) snapshot() entity.Worker {
	labels := make(map[string]string, len(w.labels))
	for k, v := range w.labels {
		labels[k] = v
	}
	return entity.Worker{
		ID:            w.id,
		Capability:    w.capability,
		Assignments:   w.jobIDs(),
		Reserved:      w.reserved,
		Labels:        labels,
		Liveness:      w.liveness,
		LastHeartbeat: w.lastHeartbeat,
		RegisteredAt:  w.registeredAt,
	}
}
