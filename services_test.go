package transfer

import (
	"context"
	"testing"
	"time"

	gocmd "github.com/goliatone/go-command"
	transfercommand "github.com/goliatone/go-transfer/command"
	"github.com/goliatone/go-transfer/core"
	"github.com/goliatone/go-transfer/idempotent"
	"github.com/goliatone/go-transfer/providers/devkit"
	transferquery "github.com/goliatone/go-transfer/query"
	"github.com/goliatone/go-transfer/worker"
	"github.com/google/uuid"
)

func TestNewService_DefaultsSessionKeysAndHandoff(t *testing.T) {
	ctx := context.Background()
	svc, err := NewService(DefaultConfig())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	job, err := svc.CreateJob(ctx, CreateJobInput{
		ExportService: "source",
		ImportService: "dest",
		Vertical:      core.VerticalPhotos,
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if job.Authorization.SessionSecretKey == "" {
		t.Fatalf("expected session key on new job")
	}
	stored, err := svc.StoreInitialAuthData(ctx, job.ID,
		AuthData{AccessToken: "export-token"},
		AuthData{AccessToken: "import-token"},
	)
	if err != nil {
		t.Fatalf("store initial auth data: %v", err)
	}
	if stored.Authorization.EncryptedInitialExportAuthData == "" {
		t.Fatalf("expected sealed initial export credentials")
	}
	exportAuth, importAuth, err := svc.DecryptInitialAuthData(ctx, job.ID)
	if err != nil {
		t.Fatalf("decrypt initial auth data: %v", err)
	}
	if exportAuth.AccessToken != "export-token" || importAuth.AccessToken != "import-token" {
		t.Fatalf("unexpected decrypted credentials")
	}
}

func TestNewWorker_RequiresService(t *testing.T) {
	if _, err := NewWorker(nil); err == nil {
		t.Fatalf("expected missing service to fail")
	}
}

func TestServiceAndWorker_TransferPhotosEndToEnd(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Handoff.PollInterval = 5 * time.Millisecond
	cfg.Worker.PollInterval = 5 * time.Millisecond
	cfg.Worker.InstanceID = "worker-e2e"
	cfg.Retry.Default = core.RetryStrategyConfig{Type: core.RetryStrategyNone}

	source := devkit.NewPhotoLibrary("export-token")
	source.SeedAlbums(2, 3)
	dest := devkit.NewPhotoLibrary("import-token")
	registry := core.NewExtensionRegistry()
	hooks := NewExtensionHooks()
	if err := hooks.RegisterConnectorPack(DevKitPack("source", source, devkit.WithPageSize(2))); err != nil {
		t.Fatalf("register source pack: %v", err)
	}
	if err := hooks.RegisterConnectorPack(DevKitPack("dest", dest)); err != nil {
		t.Fatalf("register dest pack: %v", err)
	}
	if err := hooks.ApplyConnectorPacks(registry); err != nil {
		t.Fatalf("apply connector packs: %v", err)
	}

	queue := newMemoryQueue()
	svc, err := NewService(cfg,
		WithExtensionRegistry(registry),
		WithJobEnqueuer(queue),
		WithIdempotentResultStore(idempotent.NewMemoryStore()),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	w, err := NewWorker(svc, worker.WithDequeuer(queue))
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	if w.InstanceID() != "worker-e2e" {
		t.Fatalf("expected configured instance id, got %q", w.InstanceID())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stopped := make(chan error, 1)
	go func() { stopped <- w.Run(ctx) }()

	facade, err := NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	created := gocmd.NewResult[core.Job]()
	if err := facade.Commands().CreateJob.Execute(gocmd.ContextWithResult(ctx, created), transfercommand.CreateJobMessage{
		Input: CreateJobInput{ExportService: "source", ImportService: "dest", Vertical: core.VerticalPhotos},
	}); err != nil {
		t.Fatalf("create job: %v", err)
	}
	job, ok := created.Load()
	if !ok {
		t.Fatalf("expected created job")
	}
	exportAuth := AuthData{TokenType: "Bearer", AccessToken: "export-token"}
	importAuth := AuthData{TokenType: "Bearer", AccessToken: "import-token"}
	if err := facade.Commands().StoreInitialAuthData.Execute(ctx, transfercommand.StoreInitialAuthDataMessage{
		JobID: job.ID, ExportAuth: exportAuth, ImportAuth: importAuth,
	}); err != nil {
		t.Fatalf("store initial auth data: %v", err)
	}
	sealed := gocmd.NewResult[core.Job]()
	if err := facade.Commands().HandOff.Execute(gocmd.ContextWithResult(ctx, sealed), transfercommand.HandOffMessage{
		JobID: job.ID, ExportAuth: exportAuth, ImportAuth: importAuth,
	}); err != nil {
		t.Fatalf("hand off: %v", err)
	}
	if handed, _ := sealed.Load(); handed.Authorization.InstanceID != "worker-e2e" {
		t.Fatalf("expected job assigned to worker-e2e, got %q", handed.Authorization.InstanceID)
	}

	finished := waitForTerminal(t, ctx, facade, job.ID)
	if finished.State != core.JobStateComplete {
		t.Fatalf("expected COMPLETE, got %s (%q)", finished.State, finished.FailureReason)
	}
	if finished.Authorization.SessionSecretKey != "" || finished.Authorization.EncryptedExportAuthData != "" {
		t.Fatalf("expected secrets to be cleared on completion")
	}
	if got := len(dest.PhotoTitles()); got != 6 {
		t.Fatalf("expected 6 photos in destination, got %d", got)
	}
	failures, err := facade.Queries().ImportFailures.Query(ctx, transferquery.ImportFailuresMessage{JobID: job.ID})
	if err != nil {
		t.Fatalf("import failures: %v", err)
	}
	if len(failures) != 0 {
		t.Fatalf("expected no import failures, got %#v", failures)
	}

	cancel()
	if err := <-stopped; err != nil {
		t.Fatalf("worker run: %v", err)
	}
}

func waitForTerminal(t *testing.T, ctx context.Context, facade *Facade, jobID uuid.UUID) core.Job {
	t.Helper()
	for {
		job, err := facade.Queries().GetJob.Query(ctx, transferquery.GetJobMessage{JobID: jobID})
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job.State.IsTerminal() {
			return job
		}
		select {
		case <-ctx.Done():
			t.Fatalf("job %s did not finish: %s", jobID, job.State)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// memoryQueue is an unbounded in-process queue of claim messages.
type memoryQueue struct {
	messages chan *core.JobExecutionMessage
}

func newMemoryQueue() *memoryQueue {
	return &memoryQueue{messages: make(chan *core.JobExecutionMessage, 16)}
}

func (q *memoryQueue) Enqueue(_ context.Context, msg *core.JobExecutionMessage) error {
	q.messages <- msg
	return nil
}

func (q *memoryQueue) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-q.messages:
		return memoryDelivery{msg: msg}, nil
	}
}

type memoryDelivery struct {
	msg *core.JobExecutionMessage
}

func (d memoryDelivery) Message() *core.JobExecutionMessage { return d.msg }

func (d memoryDelivery) Ack(context.Context) error { return nil }

func (d memoryDelivery) Nack(context.Context, core.JobNackOptions) error { return nil }
