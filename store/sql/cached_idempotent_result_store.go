package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-transfer/core"
	"github.com/google/uuid"
)

const idempotentResultCacheKeyPrefix = "go-transfer::idempotent_result::v1"

// CachedIdempotentResultStore serves repeated key lookups from a cache. Writes go
// to the base store first and then evict the cached entry.
type CachedIdempotentResultStore struct {
	base  core.IdempotentResultStore
	cache repositorycache.CacheService

	mu   sync.Mutex
	keys map[uuid.UUID]map[string]struct{}
}

type cachedIdempotentLookup struct {
	Result core.IdempotentResult
	Found  bool
}

func NewCachedIdempotentResultStore(
	base core.IdempotentResultStore,
	cacheService repositorycache.CacheService,
) (*CachedIdempotentResultStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base idempotent result store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: idempotent result cache service is required")
	}
	return &CachedIdempotentResultStore{
		base:  base,
		cache: cacheService,
		keys:  make(map[uuid.UUID]map[string]struct{}),
	}, nil
}

// IdempotentResultCacheKey returns go-transfer::idempotent_result::v1::<job_id>::<key>
// with the key URL-path escaped.
func IdempotentResultCacheKey(jobID uuid.UUID, key string) (string, error) {
	key = strings.TrimSpace(key)
	if jobID == uuid.Nil || key == "" {
		return "", fmt.Errorf("sqlstore: job id and idempotency key are required")
	}
	return strings.Join([]string{idempotentResultCacheKeyPrefix, jobID.String(), url.PathEscape(key)}, "::"), nil
}

func (s *CachedIdempotentResultStore) GetResult(ctx context.Context, jobID uuid.UUID, key string) (core.IdempotentResult, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.IdempotentResult{}, false, fmt.Errorf("sqlstore: cached idempotent result store is not configured")
	}
	cacheKey, err := IdempotentResultCacheKey(jobID, key)
	if err != nil {
		return core.IdempotentResult{}, false, err
	}
	s.track(jobID, cacheKey)

	lookup, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (cachedIdempotentLookup, error) {
		result, found, fetchErr := s.base.GetResult(ctx, jobID, key)
		if fetchErr != nil {
			return cachedIdempotentLookup{}, fetchErr
		}
		return cachedIdempotentLookup{Result: result, Found: found}, nil
	})
	if err != nil {
		return core.IdempotentResult{}, false, err
	}
	return lookup.Result, lookup.Found, nil
}

func (s *CachedIdempotentResultStore) SaveResult(ctx context.Context, result core.IdempotentResult) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached idempotent result store is not configured")
	}
	cacheKey, err := IdempotentResultCacheKey(result.JobID, result.Key)
	if err != nil {
		return err
	}
	if err := s.base.SaveResult(ctx, result); err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func (s *CachedIdempotentResultStore) ListFailures(ctx context.Context, jobID uuid.UUID) ([]core.IdempotentResult, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached idempotent result store is not configured")
	}
	return s.base.ListFailures(ctx, jobID)
}

func (s *CachedIdempotentResultStore) DeleteJobResults(ctx context.Context, jobID uuid.UUID) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached idempotent result store is not configured")
	}
	if err := s.base.DeleteJobResults(ctx, jobID); err != nil {
		return err
	}
	return s.ForgetJob(ctx, jobID)
}

// ForgetJob evicts the cached lookups of a job and stops tracking its keys. The
// stored results are kept. Workers call it once a job reaches a terminal state.
func (s *CachedIdempotentResultStore) ForgetJob(ctx context.Context, jobID uuid.UUID) error {
	if s == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached idempotent result store is not configured")
	}
	s.mu.Lock()
	tracked := s.keys[jobID]
	delete(s.keys, jobID)
	s.mu.Unlock()
	for cacheKey := range tracked {
		if err := s.cache.Delete(ctx, cacheKey); err != nil {
			return err
		}
	}
	return nil
}

// TrackedJobs reports how many jobs currently have cached lookups.
func (s *CachedIdempotentResultStore) TrackedJobs() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

func (s *CachedIdempotentResultStore) track(jobID uuid.UUID, cacheKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys, ok := s.keys[jobID]
	if !ok {
		keys = make(map[string]struct{})
		s.keys[jobID] = keys
	}
	keys[cacheKey] = struct{}{}
}

var _ core.IdempotentResultStore = (*CachedIdempotentResultStore)(nil)
