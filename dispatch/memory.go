package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-music-dispatch/entity"
)

// MemoryJobStore keeps job records in process memory. Used by the cpu
// deployment mode and by tests.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*entity.Job
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[uuid.UUID]*entity.Job)}
}

func (s *MemoryJobStore) Create(_ context.Context, job *entity.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists: %w", job.ID, ErrConflict)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id uuid.UUID) (*entity.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return job.Clone(), nil
}

func (s *MemoryJobStore) Update(_ context.Context, job *entity.Job, expectedRevision int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[job.ID]
	if !ok {
		return fmt.Errorf("job %s: %w", job.ID, ErrNotFound)
	}
	if current.Revision != expectedRevision {
		return fmt.Errorf("job %s at revision %d, expected %d: %w", job.ID, current.Revision, expectedRevision, ErrConflict)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryJobStore) List(_ context.Context, filter JobFilter) ([]*entity.Job, error) {
	s.mu.RLock()
	out := make([]*entity.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Kind != "" && job.Kind != filter.Kind {
			continue
		}
		out = append(out, job.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return paginate(out, filter.Offset, filter.Limit), nil
}

func (s *MemoryJobStore) CountByStatus(_ context.Context) (map[entity.JobStatus]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[entity.JobStatus]int64)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

func paginate(jobs []*entity.Job, offset, limit int) []*entity.Job {
	if offset > 0 {
		if offset >= len(jobs) {
			return []*entity.Job{}
		}
		jobs = jobs[offset:]
	}
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs
}

// MemoryQueue is a bounded FIFO guarded by a single mutex.
type MemoryQueue struct {
	mu       sync.Mutex
	entries  []entity.QueueEntry
	capacity int
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	return &MemoryQueue{capacity: capacity}
}

func (q *MemoryQueue) Enqueue(_ context.Context, entry entity.QueueEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.capacity {
		return fmt.Errorf("%d entries queued: %w", len(q.entries), ErrOverloaded)
	}
	q.entries = append(q.entries, entry)
	return nil
}

func (q *MemoryQueue) Requeue(_ context.Context, entry entity.QueueEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = append([]entity.QueueEntry{entry}, q.entries...)
	return nil
}

func (q *MemoryQueue) Claim(_ context.Context) (*entity.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return nil, nil
	}
	head := q.entries[0]
	q.entries[0] = entity.QueueEntry{}
	q.entries = q.entries[1:]
	return &head, nil
}

func (q *MemoryQueue) Remove(_ context.Context, jobID uuid.UUID) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, entry := range q.entries {
		if entry.JobID == jobID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (q *MemoryQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries), nil
}

func (q *MemoryQueue) Capacity() int {
	return q.capacity
}

type MemoryArtifactStore struct {
	mu        sync.RWMutex
	artifacts map[uuid.UUID]entity.Artifact
}

func NewMemoryArtifactStore() *MemoryArtifactStore {
	return &MemoryArtifactStore{artifacts: make(map[uuid.UUID]entity.Artifact)}
}

func (s *MemoryArtifactStore) Put(_ context.Context, artifact *entity.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.artifacts[artifact.JobID]; exists {
		return fmt.Errorf("artifact for job %s already stored: %w", artifact.JobID, ErrConflict)
	}
	s.artifacts[artifact.JobID] = *artifact
	return nil
}

func (s *MemoryArtifactStore) Get(_ context.Context, jobID uuid.UUID) (*entity.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	artifact, ok := s.artifacts[jobID]
	if !ok {
		return nil, fmt.Errorf("artifact for job %s: %w", jobID, ErrNotFound)
	}
	return &artifact, nil
}
