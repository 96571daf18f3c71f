package idempotent

import (
	"context"
	"sort"
	"sync"

	"github.com/goliatone/go-transfer/core"
	"github.com/google/uuid"
)

type resultKey struct {
	jobID uuid.UUID
	key   string
}

// MemoryStore keeps results in process memory. It does not survive a restart and
// is meant for tests and the in-memory copier.
type MemoryStore struct {
	mu      sync.RWMutex
	results map[resultKey]core.IdempotentResult
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{results: make(map[resultKey]core.IdempotentResult)}
}

func (s *MemoryStore) GetResult(_ context.Context, jobID uuid.UUID, key string) (core.IdempotentResult, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[resultKey{jobID: jobID, key: key}]
	return result, ok, nil
}

func (s *MemoryStore) SaveResult(_ context.Context, result core.IdempotentResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[resultKey{jobID: result.JobID, key: result.Key}] = result
	return nil
}

func (s *MemoryStore) ListFailures(_ context.Context, jobID uuid.UUID) ([]core.IdempotentResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.IdempotentResult, 0)
	for key, result := range s.results {
		if key.jobID == jobID && result.Failed {
			out = append(out, result)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func (s *MemoryStore) DeleteJobResults(_ context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.results {
		if key.jobID == jobID {
			delete(s.results, key)
		}
	}
	return nil
}

var _ core.IdempotentResultStore = (*MemoryStore)(nil)
