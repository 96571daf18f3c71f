package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-transfer/core"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db *bun.DB

	jobStore              *JobStore
	jobStackStore         *JobStackStore
	idempotentResultStore *IdempotentResultStore

	resultCache  repositorycache.CacheService
	cachedResult *CachedIdempotentResultStore
}

type FactoryOption func(*RepositoryFactory)

// WithIdempotentResultCache serves idempotent result lookups through cacheService.
// IdempotentResultStore then returns a CachedIdempotentResultStore.
func WithIdempotentResultCache(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.resultCache = cacheService
	}
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.jobStore != nil && f.jobStackStore != nil && f.idempotentResultStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) JobStore() core.JobStore {
	if f == nil {
		return nil
	}
	return f.jobStore
}

func (f *RepositoryFactory) JobStackStore() core.JobStackStore {
	if f == nil {
		return nil
	}
	return f.jobStackStore
}

func (f *RepositoryFactory) IdempotentResultStore() core.IdempotentResultStore {
	if f == nil {
		return nil
	}
	if f.cachedResult != nil {
		return f.cachedResult
	}
	if f.idempotentResultStore == nil {
		return nil
	}
	return f.idempotentResultStore
}

func (f *RepositoryFactory) initStores() error {
	jobStore, err := NewJobStore(f.db)
	if err != nil {
		return err
	}
	f.jobStore = jobStore
	jobStackStore, err := NewJobStackStore(f.db)
	if err != nil {
		return err
	}
	f.jobStackStore = jobStackStore
	idempotentResultStore, err := NewIdempotentResultStore(f.db)
	if err != nil {
		return err
	}
	f.idempotentResultStore = idempotentResultStore
	if f.resultCache != nil {
		cached, err := NewCachedIdempotentResultStore(idempotentResultStore, f.resultCache)
		if err != nil {
			return err
		}
		f.cachedResult = cached
	}
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
