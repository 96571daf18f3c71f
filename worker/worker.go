// Package worker runs transfer jobs end to end on a worker instance: it takes
// claimable jobs from the queue, completes the worker half of the credential
// hand-off, copies the data and records the outcome on the job.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-transfer/copier"
	"github.com/goliatone/go-transfer/core"
	"github.com/goliatone/go-transfer/handoff"
	"github.com/goliatone/go-transfer/idempotent"
	"github.com/goliatone/go-transfer/retry"
	"github.com/goliatone/go-transfer/security"
	"github.com/google/uuid"
)

const MetadataImportFailureCount = "import_failure_count"

// ErrNotClaimed marks a delivery whose job could not be claimed by this instance,
// usually because another worker got there first.
var ErrNotClaimed = errors.New("worker: job not claimed")

type Worker struct {
	instanceID   string
	pollInterval time.Duration
	resumable    bool

	jobs     core.JobStore
	stacks   core.JobStackStore
	results  core.IdempotentResultStore
	registry *core.ExtensionRegistry
	dequeuer core.JobDequeuer
	side     *handoff.WorkerSide
	pair     core.KeyPair
	retrier  *retry.Retrier
	hook     core.JobWorkerHook
	logger   core.Logger
	metrics  core.MetricsRecorder
	now      func() time.Time
}

type Option func(*Worker)

func WithDequeuer(dequeuer core.JobDequeuer) Option {
	return func(w *Worker) {
		w.dequeuer = dequeuer
	}
}

func WithJobStackStore(store core.JobStackStore) Option {
	return func(w *Worker) {
		w.stacks = store
	}
}

func WithIdempotentResultStore(store core.IdempotentResultStore) Option {
	return func(w *Worker) {
		w.results = store
	}
}

// WithHandoffWorker replaces the worker side of the hand-off. The configured
// private key is ignored when a custom side is given.
func WithHandoffWorker(side *handoff.WorkerSide) Option {
	return func(w *Worker) {
		w.side = side
	}
}

func WithRetrier(retrier *retry.Retrier) Option {
	return func(w *Worker) {
		w.retrier = retrier
	}
}

func WithJobWorkerHook(hook core.JobWorkerHook) Option {
	return func(w *Worker) {
		w.hook = hook
	}
}

func WithLogger(logger core.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(w *Worker) {
		w.metrics = recorder
	}
}

func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		w.now = now
	}
}

func New(cfg core.Config, jobs core.JobStore, registry *core.ExtensionRegistry, opts ...Option) (*Worker, error) {
	if jobs == nil {
		return nil, fmt.Errorf("worker: job store is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("worker: extension registry is required")
	}
	_, logger := glog.Resolve("transfer.worker", nil, nil)
	w := &Worker{
		instanceID:   strings.TrimSpace(cfg.Worker.InstanceID),
		pollInterval: cfg.Worker.PollInterval,
		resumable:    cfg.Copier.Resumable,
		jobs:         jobs,
		registry:     registry,
		logger:       logger,
		metrics:      core.NopMetricsRecorder{},
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	w.logger = glog.Ensure(w.logger)
	if w.metrics == nil {
		w.metrics = core.NopMetricsRecorder{}
	}
	if w.instanceID == "" {
		w.instanceID = uuid.NewString()
	}
	if w.pollInterval <= 0 {
		w.pollInterval = time.Second
	}
	if w.resumable && w.stacks == nil {
		return nil, fmt.Errorf("worker: job stack store is required for resumable copies")
	}
	if w.retrier == nil {
		library, err := retry.FromConfig(cfg.Retry)
		if err != nil {
			return nil, fmt.Errorf("worker: retry library: %w", err)
		}
		w.retrier = retry.NewRetrier(library, retry.WithLogger(w.logger), retry.WithMetricsRecorder(w.metrics))
	}

	if w.side == nil {
		sideOpts := []handoff.WorkerOption{
			handoff.WithPollInterval(cfg.Handoff.PollInterval),
			handoff.WithWorkerLogger(w.logger),
			handoff.WithWorkerMetricsRecorder(w.metrics),
		}
		if encoded := strings.TrimSpace(cfg.Worker.PrivateKey); encoded != "" {
			pair, err := security.ParseKeyPair(encoded)
			if err != nil {
				return nil, fmt.Errorf("worker: private key: %w", err)
			}
			w.pair = pair
			sideOpts = append(sideOpts, handoff.WithKeyPair(pair))
		}
		side, err := handoff.NewWorkerSide(jobs, sideOpts...)
		if err != nil {
			return nil, err
		}
		w.side = side
	}
	return w, nil
}

func (w *Worker) InstanceID() string {
	if w == nil {
		return ""
	}
	return w.instanceID
}

// Run resumes jobs owned by this instance and then serves deliveries until ctx
// is done.
func (w *Worker) Run(ctx context.Context) error {
	if w.dequeuer == nil {
		return fmt.Errorf("worker: dequeuer is required")
	}
	if _, err := w.Resume(ctx); err != nil && ctx.Err() == nil {
		w.logger.WithContext(ctx).Error("resume failed", "instance_id", w.instanceID, "error", err.Error())
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		delivery, err := w.dequeuer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.WithContext(ctx).Warn("dequeue failed", "error", err.Error())
			if sleepErr := sleepContext(ctx, w.pollInterval); sleepErr != nil {
				return nil
			}
			continue
		}
		if delivery == nil {
			if sleepErr := sleepContext(ctx, w.pollInterval); sleepErr != nil {
				return nil
			}
			continue
		}
		if err := w.HandleDelivery(ctx, delivery); err != nil && ctx.Err() == nil {
			w.logger.WithContext(ctx).Error("delivery failed", "error", err.Error())
		}
	}
}

// HandleDelivery processes one queue message and settles it. Jobs that reach a
// terminal state, and jobs another worker claimed, are acknowledged.
func (w *Worker) HandleDelivery(ctx context.Context, delivery core.JobDelivery) error {
	if delivery == nil {
		return fmt.Errorf("worker: delivery is required")
	}
	msg := delivery.Message()
	event := core.JobWorkerEvent{Message: msg, Attempt: 1, StartedAt: w.now()}
	jobID, err := jobIDFromMessage(msg)
	if err != nil {
		w.emitFailure(ctx, event, err)
		return errors.Join(err, delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: err.Error()}))
	}
	w.emitStart(ctx, event)

	err = w.Process(ctx, jobID)
	event.Duration = w.now().Sub(event.StartedAt)
	switch {
	case err == nil:
		w.emitSuccess(ctx, event)
		return delivery.Ack(ctx)
	case errors.Is(err, ErrNotClaimed):
		w.logger.WithContext(ctx).Info("job skipped", "job_id", jobID.String(), "reason", err.Error())
		w.emitSuccess(ctx, event)
		return delivery.Ack(ctx)
	case ctx.Err() != nil:
		event.Err = err
		w.emitRetry(ctx, event)
		nackCtx := context.WithoutCancel(ctx)
		return errors.Join(err, delivery.Nack(nackCtx, core.JobNackOptions{Requeue: true, Reason: "worker stopped"}))
	default:
		w.emitFailure(ctx, event, err)
		return errors.Join(err, delivery.Ack(ctx))
	}
}

// Process claims the job for this instance and runs it to completion.
func (w *Worker) Process(ctx context.Context, jobID uuid.UUID) error {
	ctx = core.ContextWithJobID(ctx, jobID)
	job, pair, err := w.side.Claim(ctx, jobID, w.instanceID)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: %s: %v", ErrNotClaimed, jobID, err)
	}
	return w.execute(ctx, job, pair)
}

// Resume picks up jobs this instance claimed before a restart. It needs the
// configured private key; keys generated at claim time die with the process.
func (w *Worker) Resume(ctx context.Context) (int, error) {
	if w.pair == nil {
		return 0, nil
	}
	publicKey, err := w.pair.EncodedPublicKey()
	if err != nil {
		return 0, err
	}
	resumed := 0
	for _, state := range []core.AuthState{core.AuthStateCredsEncryptionKeyGenerated, core.AuthStateCredsEncrypted} {
		jobs, err := w.jobs.FindJobsByAuthState(ctx, state, 0)
		if err != nil {
			return resumed, err
		}
		for _, job := range jobs {
			if job.Authorization.InstanceID != w.instanceID || job.Authorization.AuthPublicKey != publicKey {
				continue
			}
			w.logger.WithContext(ctx).Info("resuming job", "job_id", job.ID.String(), "auth_state", string(state))
			w.metrics.IncCounter(ctx, "transfer.worker.resumed", 1, nil)
			if err := w.execute(core.ContextWithJobID(ctx, job.ID), job, w.pair); err != nil {
				if ctx.Err() != nil {
					return resumed, err
				}
				w.logger.WithContext(ctx).Error("resumed job failed", "job_id", job.ID.String(), "error", err.Error())
			}
			resumed++
		}
	}
	return resumed, nil
}

func (w *Worker) execute(ctx context.Context, job core.Job, pair core.KeyPair) error {
	startedAt := w.now()
	sealed, err := w.side.AwaitCredentials(ctx, job.ID)
	if err != nil {
		return w.fail(ctx, job.ID, err)
	}
	exportAuth, importAuth, err := w.side.DecryptCredentials(ctx, sealed, pair)
	if err != nil {
		return w.fail(ctx, job.ID, err)
	}

	if sealed.State != core.JobStateInProgress {
		sealed.State = core.JobStateInProgress
		sealed, err = w.jobs.UpdateJob(ctx, sealed, core.ExpectAuthState(core.AuthStateCredsEncrypted))
		if err != nil {
			return w.fail(ctx, job.ID, err)
		}
	}

	engine, err := w.copierFor(sealed)
	if err != nil {
		return w.fail(ctx, job.ID, err)
	}
	if err := engine.Copy(ctx, sealed.ID, exportAuth, importAuth, nil); err != nil {
		return w.fail(ctx, job.ID, err)
	}

	finished, err := w.finish(ctx, job.ID, core.JobStateComplete, "")
	if err != nil {
		return err
	}
	w.metrics.IncCounter(ctx, "transfer.worker.completed", 1, map[string]string{"vertical": string(finished.Vertical)})
	w.metrics.ObserveHistogram(ctx, "transfer.worker.job_duration_ms", float64(w.now().Sub(startedAt).Milliseconds()), nil)
	w.logger.WithContext(ctx).Info("job completed",
		"job_id", job.ID.String(),
		"export_service", finished.ExportService,
		"import_service", finished.ImportService,
		"import_failures", finished.Metadata[MetadataImportFailureCount],
	)
	return nil
}

func (w *Worker) copierFor(job core.Job) (*copier.Copier, error) {
	exporter, err := w.registry.Exporter(job.ExportService, job.Vertical)
	if err != nil {
		return nil, err
	}
	importer, err := w.registry.Importer(job.ImportService, job.Vertical)
	if err != nil {
		return nil, err
	}
	opts := []copier.Option{
		copier.WithRetrier(w.retrier),
		copier.WithLogger(w.logger),
		copier.WithMetricsRecorder(w.metrics),
	}
	if w.results != nil {
		opts = append(opts, copier.WithIdempotentStore(w.results,
			idempotent.WithLogger(w.logger),
			idempotent.WithMetricsRecorder(w.metrics),
		))
	}
	if w.resumable {
		return copier.NewResumable(exporter, importer, w.stacks, opts...)
	}
	return copier.NewInMemory(exporter, importer, opts...)
}

// fail records cause on the job. Cancellation leaves the job untouched so the
// owner can resume it.
func (w *Worker) fail(ctx context.Context, jobID uuid.UUID, cause error) error {
	if ctx.Err() != nil {
		return cause
	}
	w.metrics.IncCounter(ctx, "transfer.worker.failed", 1, nil)
	w.logger.WithContext(ctx).Error("job failed", "job_id", jobID.String(), "error", cause.Error())
	if _, err := w.finish(ctx, jobID, core.JobStateError, cause.Error()); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (w *Worker) finish(ctx context.Context, jobID uuid.UUID, state core.JobState, reason string) (core.Job, error) {
	current, err := w.jobs.FindJob(ctx, jobID)
	if err != nil {
		return core.Job{}, err
	}
	if current.State.IsTerminal() {
		return current, nil
	}
	next := core.FinishJob(current, state, reason)
	next.Metadata = core.CopyMetadata(current.Metadata)
	if w.results != nil {
		failures, listErr := w.results.ListFailures(ctx, jobID)
		if listErr != nil {
			return core.Job{}, listErr
		}
		next.Metadata[MetadataImportFailureCount] = len(failures)
	}
	finished, err := w.jobs.UpdateJob(ctx, next)
	if err != nil {
		return core.Job{}, err
	}
	if w.stacks != nil {
		if err := w.stacks.DeleteJobStack(ctx, jobID); err != nil {
			return finished, err
		}
	}
	if forgetter, ok := w.results.(resultForgetter); ok {
		if err := forgetter.ForgetJob(ctx, jobID); err != nil {
			return finished, err
		}
	}
	return finished, nil
}

// resultForgetter is implemented by result stores that hold per-job state in
// memory, such as a cache, which can be released once the job is terminal.
type resultForgetter interface {
	ForgetJob(ctx context.Context, jobID uuid.UUID) error
}

func jobIDFromMessage(msg *core.JobExecutionMessage) (uuid.UUID, error) {
	if msg == nil {
		return uuid.Nil, fmt.Errorf("worker: delivery has no message")
	}
	raw := strings.TrimSpace(msg.JobID)
	if value, ok := msg.Parameters["job_id"].(string); ok && strings.TrimSpace(value) != "" {
		raw = strings.TrimSpace(value)
	}
	jobID, err := uuid.Parse(raw)
	if err != nil || jobID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("worker: invalid job id %q", raw)
	}
	return jobID, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
