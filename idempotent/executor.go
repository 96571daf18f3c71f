// Package idempotent runs import side effects at most once per job and key.
package idempotent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-transfer/core"
	"github.com/google/uuid"
)

// Executor is bound to a single job. Successful results are persisted through the
// store so a resumed job skips work that already completed in an earlier process.
type Executor struct {
	mu          sync.Mutex
	jobID       uuid.UUID
	store       core.IdempotentResultStore
	logger      core.Logger
	metrics     core.MetricsRecorder
	now         func() time.Time
	isTransport func(error) bool
}

type Option func(*Executor)

func WithLogger(logger core.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(e *Executor) {
		e.metrics = recorder
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// WithTransportClassifier replaces core.IsTransportError as the test for
// failures that are recorded and swallowed.
func WithTransportClassifier(classifier func(error) bool) Option {
	return func(e *Executor) {
		e.isTransport = classifier
	}
}

func NewExecutor(jobID uuid.UUID, store core.IdempotentResultStore, opts ...Option) (*Executor, error) {
	if jobID == uuid.Nil {
		return nil, fmt.Errorf("idempotent: job id is required")
	}
	if store == nil {
		return nil, fmt.Errorf("idempotent: result store is required")
	}
	_, logger := glog.Resolve("transfer.idempotent", nil, nil)
	executor := &Executor{
		jobID:       jobID,
		store:       store,
		logger:      logger,
		metrics:     core.NopMetricsRecorder{},
		now:         func() time.Time { return time.Now().UTC() },
		isTransport: core.IsTransportError,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(executor)
		}
	}
	executor.logger = glog.Ensure(executor.logger)
	if executor.metrics == nil {
		executor.metrics = core.NopMetricsRecorder{}
	}
	if executor.isTransport == nil {
		executor.isTransport = core.IsTransportError
	}
	return executor, nil
}

func (e *Executor) JobID() uuid.UUID {
	return e.jobID
}

// ExecuteAndSwallowIOErrors returns the cached result for key when present.
// Otherwise it runs work, caching a success. Transport failures are recorded and
// swallowed so the caller can continue with the next item; the empty result is
// returned in that case. Other errors are returned unchanged.
func (e *Executor) ExecuteAndSwallowIOErrors(ctx context.Context, key string, displayName string, work core.ImportWork) (string, error) {
	return e.execute(ctx, key, displayName, work, true)
}

// ExecuteOrFail behaves like ExecuteAndSwallowIOErrors but also returns transport
// failures after recording them.
func (e *Executor) ExecuteOrFail(ctx context.Context, key string, displayName string, work core.ImportWork) (string, error) {
	return e.execute(ctx, key, displayName, work, false)
}

func (e *Executor) execute(ctx context.Context, key string, displayName string, work core.ImportWork, swallow bool) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("idempotent: key is required")
	}
	if work == nil {
		return "", fmt.Errorf("idempotent: work is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cached, ok, err := e.store.GetResult(ctx, e.jobID, key)
	if err != nil {
		return "", fmt.Errorf("idempotent: load result %q: %w", key, err)
	}
	if ok && !cached.Failed {
		e.metrics.IncCounter(ctx, "transfer.idempotent.hit", 1, nil)
		return cached.Result, nil
	}

	result, workErr := work(ctx)
	if workErr == nil {
		if err := e.store.SaveResult(ctx, core.IdempotentResult{
			JobID:       e.jobID,
			Key:         key,
			DisplayName: displayName,
			Result:      result,
			UpdatedAt:   e.now(),
		}); err != nil {
			return "", fmt.Errorf("idempotent: save result %q: %w", key, err)
		}
		e.metrics.IncCounter(ctx, "transfer.idempotent.success", 1, nil)
		return result, nil
	}

	if !e.isTransport(workErr) {
		return "", workErr
	}

	if err := e.store.SaveResult(ctx, core.IdempotentResult{
		JobID:        e.jobID,
		Key:          key,
		DisplayName:  displayName,
		Failed:       true,
		ErrorMessage: workErr.Error(),
		UpdatedAt:    e.now(),
	}); err != nil {
		return "", fmt.Errorf("idempotent: record failure %q: %w", key, err)
	}
	e.metrics.IncCounter(ctx, "transfer.idempotent.failure", 1, nil)
	e.logger.WithContext(ctx).Warn("import item failed",
		"job_id", e.jobID.String(),
		"key", key,
		"display_name", displayName,
		"error", workErr.Error(),
	)
	if swallow {
		return "", nil
	}
	return "", workErr
}

// IsKeyCached reports whether key already has a successful result.
func (e *Executor) IsKeyCached(ctx context.Context, key string) (bool, error) {
	_, ok, err := e.CachedValue(ctx, key)
	return ok, err
}

func (e *Executor) CachedValue(ctx context.Context, key string) (string, bool, error) {
	result, ok, err := e.store.GetResult(ctx, e.jobID, strings.TrimSpace(key))
	if err != nil {
		return "", false, err
	}
	if !ok || result.Failed {
		return "", false, nil
	}
	return result.Result, true, nil
}

// Errors lists the failures recorded for this job that have not since succeeded.
func (e *Executor) Errors(ctx context.Context) ([]core.ImportFailure, error) {
	results, err := e.store.ListFailures(ctx, e.jobID)
	if err != nil {
		return nil, err
	}
	failures := make([]core.ImportFailure, 0, len(results))
	for _, result := range results {
		failures = append(failures, core.ImportFailure{
			Key:          result.Key,
			DisplayName:  result.DisplayName,
			ErrorMessage: result.ErrorMessage,
			RecordedAt:   result.UpdatedAt,
		})
	}
	return failures, nil
}

// Factory creates executors for jobs that share one result store.
type Factory struct {
	store core.IdempotentResultStore
	opts  []Option
}

func NewFactory(store core.IdempotentResultStore, opts ...Option) *Factory {
	return &Factory{store: store, opts: append([]Option(nil), opts...)}
}

func (f *Factory) ForJob(jobID uuid.UUID) (*Executor, error) {
	if f == nil {
		return nil, fmt.Errorf("idempotent: factory is nil")
	}
	return NewExecutor(jobID, f.store, f.opts...)
}

var _ core.IdempotentExecutor = (*Executor)(nil)
