package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryJobStore keeps jobs in process memory. It is meant for tests and local runs.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]Job
	now  func() time.Time
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[uuid.UUID]Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryJobStore) CreateJob(_ context.Context, job Job) (Job, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.State == "" {
		job.State = JobStateNew
	}
	if job.Authorization.State == "" {
		job.Authorization.State = AuthStateInitial
	}
	if err := job.Validate(); err != nil {
		return Job{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return Job{}, fmt.Errorf("core: job %s already exists", job.ID)
	}
	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	job.Metadata = CopyMetadata(job.Metadata)
	s.jobs[job.ID] = job
	return job, nil
}

func (s *MemoryJobStore) FindJob(_ context.Context, id uuid.UUID) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	job.Metadata = CopyMetadata(job.Metadata)
	return job, nil
}

func (s *MemoryJobStore) UpdateJob(_ context.Context, job Job, validators ...JobUpdateValidator) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous, ok := s.jobs[job.ID]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, job.ID)
	}
	updated, err := PrepareJobUpdate(previous, job, s.now(), validators...)
	if err != nil {
		return Job{}, err
	}
	updated.Metadata = CopyMetadata(updated.Metadata)
	s.jobs[job.ID] = updated
	return updated, nil
}

func (s *MemoryJobStore) FindJobsByAuthState(_ context.Context, state AuthState, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0)
	for _, job := range s.jobs {
		if job.Authorization.State == state && !job.State.IsTerminal() {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryJobStore) ClearJobData(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	job.Authorization = job.Authorization.ClearSecrets()
	s.jobs[id] = job
	return nil
}

// MemoryJobStackStore keeps resumable copy stacks in process memory.
type MemoryJobStackStore struct {
	mu     sync.Mutex
	stacks map[uuid.UUID][]ExportInformation
}

func NewMemoryJobStackStore() *MemoryJobStackStore {
	return &MemoryJobStackStore{stacks: make(map[uuid.UUID][]ExportInformation)}
}

func (s *MemoryJobStackStore) LoadJobStack(_ context.Context, jobID uuid.UUID) ([]ExportInformation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stack, ok := s.stacks[jobID]
	if !ok {
		return nil, false, nil
	}
	return append([]ExportInformation(nil), stack...), true, nil
}

func (s *MemoryJobStackStore) StoreJobStack(_ context.Context, jobID uuid.UUID, stack []ExportInformation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stacks[jobID] = append([]ExportInformation(nil), stack...)
	return nil
}

func (s *MemoryJobStackStore) DeleteJobStack(_ context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stacks, jobID)
	return nil
}

var (
	_ JobStore      = (*MemoryJobStore)(nil)
	_ JobStackStore = (*MemoryJobStackStore)(nil)
)
