// Package copier drives an export/import pair over a depth first work stack.
//
// Each item is exported, its payload imported, and its continuation pushed back:
// sub-resources in reverse order with the next page on top. Pages of a container
// are therefore drained before its children, and a parent is always copied before
// anything it contains.
package copier

import (
	"context"
	"fmt"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-transfer/core"
	"github.com/goliatone/go-transfer/idempotent"
	"github.com/goliatone/go-transfer/retry"
	"github.com/google/uuid"
)

// ExecutorFactory returns the idempotent executor the importer receives for a job.
type ExecutorFactory func(jobID uuid.UUID) (core.IdempotentExecutor, error)

type Copier struct {
	exporter  core.Exporter
	importer  core.Importer
	hook      StackHook
	retrier   *retry.Retrier
	executors ExecutorFactory
	logger    core.Logger
	metrics   core.MetricsRecorder
}

type Option func(*Copier)

func WithRetrier(retrier *retry.Retrier) Option {
	return func(c *Copier) {
		c.retrier = retrier
	}
}

func WithExecutorFactory(factory ExecutorFactory) Option {
	return func(c *Copier) {
		c.executors = factory
	}
}

// WithIdempotentStore builds executors over store, typically the durable store
// shared with other workers.
func WithIdempotentStore(store core.IdempotentResultStore, opts ...idempotent.Option) Option {
	return func(c *Copier) {
		factory := idempotent.NewFactory(store, opts...)
		c.executors = func(jobID uuid.UUID) (core.IdempotentExecutor, error) {
			return factory.ForJob(jobID)
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(c *Copier) {
		c.logger = logger
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(c *Copier) {
		c.metrics = recorder
	}
}

// NewInMemory returns a copier that keeps its stack in memory only.
func NewInMemory(exporter core.Exporter, importer core.Importer, opts ...Option) (*Copier, error) {
	return New(exporter, importer, NopStackHook{}, opts...)
}

// NewResumable returns a copier that stores its stack after every item.
func NewResumable(exporter core.Exporter, importer core.Importer, stacks core.JobStackStore, opts ...Option) (*Copier, error) {
	hook, err := NewJobStackHook(stacks)
	if err != nil {
		return nil, err
	}
	return New(exporter, importer, hook, opts...)
}

func New(exporter core.Exporter, importer core.Importer, hook StackHook, opts ...Option) (*Copier, error) {
	if exporter == nil {
		return nil, fmt.Errorf("copier: exporter is required")
	}
	if importer == nil {
		return nil, fmt.Errorf("copier: importer is required")
	}
	if hook == nil {
		hook = NopStackHook{}
	}
	_, logger := glog.Resolve("transfer.copier", nil, nil)
	copier := &Copier{
		exporter: exporter,
		importer: importer,
		hook:     hook,
		logger:   logger,
		metrics:  core.NopMetricsRecorder{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(copier)
		}
	}
	copier.logger = glog.Ensure(copier.logger)
	if copier.metrics == nil {
		copier.metrics = core.NopMetricsRecorder{}
	}
	if copier.retrier == nil {
		copier.retrier = retry.NewRetrier(retry.DefaultLibrary(),
			retry.WithLogger(copier.logger),
			retry.WithMetricsRecorder(copier.metrics),
		)
	}
	if copier.executors == nil {
		factory := idempotent.NewFactory(idempotent.NewMemoryStore())
		copier.executors = func(jobID uuid.UUID) (core.IdempotentExecutor, error) {
			return factory.ForJob(jobID)
		}
	}
	return copier, nil
}

// Copy moves everything reachable from initial, or from the whole account when
// initial is nil. A stored stack for the job takes precedence over initial.
func (c *Copier) Copy(ctx context.Context, jobID uuid.UUID, exportAuth core.AuthData, importAuth core.AuthData, initial *core.ExportInformation) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if jobID == uuid.Nil {
		return fmt.Errorf("copier: job id is required")
	}
	executor, err := c.executors(jobID)
	if err != nil {
		return fmt.Errorf("copier: build executor for job %s: %w", jobID, err)
	}
	logger := c.logger.WithContext(core.ContextWithJobID(ctx, jobID))

	stack, resumed, err := c.hook.Load(ctx, jobID)
	if err != nil {
		return err
	}
	if resumed {
		logger.Info("resuming copy", "job_id", jobID.String(), "pending", len(stack))
	} else {
		root := core.ExportInformation{}
		if initial != nil {
			root = *initial
		}
		stack = []core.ExportInformation{root}
		if err := c.hook.Store(ctx, jobID, stack); err != nil {
			return err
		}
	}

	startedAt := time.Now()
	items := 0
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("copier: job %s: %w", jobID, err)
		}
		top := len(stack) - 1
		item := stack[top]

		continuation, err := c.copyItem(ctx, jobID, executor, exportAuth, importAuth, item)
		if err != nil {
			c.metrics.IncCounter(ctx, "transfer.copier.failed", 1, nil)
			logger.Error("copy item failed",
				"job_id", jobID.String(),
				"item", item.String(),
				"error", err.Error(),
			)
			return err
		}
		items++

		stack = push(stack[:top], item, continuation)
		if len(stack) > 0 {
			if err := c.hook.Store(ctx, jobID, stack); err != nil {
				return err
			}
		}
	}

	if err := c.hook.Clear(ctx, jobID); err != nil {
		return err
	}
	c.metrics.ObserveHistogram(ctx, "transfer.copier.duration_ms", float64(time.Since(startedAt).Milliseconds()), nil)
	logger.Info("copy finished", "job_id", jobID.String(), "items", items)
	return nil
}

func (c *Copier) copyItem(
	ctx context.Context,
	jobID uuid.UUID,
	executor core.IdempotentExecutor,
	exportAuth core.AuthData,
	importAuth core.AuthData,
	item core.ExportInformation,
) (*core.ContinuationData, error) {
	var info *core.ExportInformation
	if item.PaginationData != nil || item.ContainerResource != nil {
		copied := item
		info = &copied
	}

	exported, err := retry.Do(ctx, c.retrier, "export", func(ctx context.Context) (core.ExportResult, error) {
		result, err := c.exporter.Export(ctx, jobID, exportAuth, info)
		if err != nil {
			return core.ExportResult{}, err
		}
		if result.Type == core.ResultTypeError {
			return core.ExportResult{}, resultError("export", item, result.Err)
		}
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	c.metrics.IncCounter(ctx, "transfer.copier.exported", 1, nil)

	if exported.Data != nil {
		imported, err := retry.Do(ctx, c.retrier, "import", func(ctx context.Context) (core.ImportResult, error) {
			result, err := c.importer.Import(ctx, jobID, executor, importAuth, exported.Data)
			if err != nil {
				return core.ImportResult{}, err
			}
			if result.Type == core.ImportResultError {
				return core.ImportResult{}, resultError("import", item, result.Err)
			}
			return result, nil
		})
		if err != nil {
			return nil, err
		}
		for name, count := range imported.Counts {
			c.metrics.IncCounter(ctx, "transfer.copier.imported", int64(count), map[string]string{"kind": name})
		}
		if imported.Bytes != nil {
			c.metrics.IncCounter(ctx, "transfer.copier.imported_bytes", *imported.Bytes, nil)
		}
	}

	c.logger.WithContext(ctx).Debug("copied item",
		"job_id", jobID.String(),
		"item", item.String(),
		"result", string(exported.Type),
	)
	return exported.Continuation, nil
}

// push adds sub-resources in reverse order and then the next page, so the page is
// processed first and sub-resources keep their listed order. The next page stays
// in the container of the item that produced it.
func push(stack []core.ExportInformation, current core.ExportInformation, continuation *core.ContinuationData) []core.ExportInformation {
	if continuation.IsEmpty() {
		return stack
	}
	for i := len(continuation.ContainerResources) - 1; i >= 0; i-- {
		resource := continuation.ContainerResources[i]
		stack = append(stack, core.ExportInformation{ContainerResource: &resource})
	}
	if continuation.PaginationData != nil {
		page := *continuation.PaginationData
		stack = append(stack, core.ExportInformation{
			PaginationData:    &page,
			ContainerResource: current.ContainerResource,
		})
	}
	return stack
}

func resultError(operation string, item core.ExportInformation, cause error) error {
	if cause != nil {
		return cause
	}
	return fmt.Errorf("copier: %s returned an error result for %s", operation, item.String())
}
