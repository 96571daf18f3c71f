package worker

import (
	"context"

	"github.com/goliatone/go-transfer/core"
)

func (w *Worker) emitStart(ctx context.Context, event core.JobWorkerEvent) {
	w.metrics.IncCounter(ctx, "transfer.worker.started", 1, nil)
	if w.hook != nil {
		w.hook.OnStart(ctx, event)
	}
}

func (w *Worker) emitSuccess(ctx context.Context, event core.JobWorkerEvent) {
	if w.hook != nil {
		w.hook.OnSuccess(ctx, event)
	}
}

func (w *Worker) emitFailure(ctx context.Context, event core.JobWorkerEvent, err error) {
	event.Err = err
	if w.hook != nil {
		w.hook.OnFailure(ctx, event)
	}
}

func (w *Worker) emitRetry(ctx context.Context, event core.JobWorkerEvent) {
	if w.hook != nil {
		w.hook.OnRetry(ctx, event)
	}
}
