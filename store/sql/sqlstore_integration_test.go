package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-transfer/core"
	"github.com/goliatone/go-transfer/handoff"
	"github.com/goliatone/go-transfer/idempotent"
	transfermigrations "github.com/goliatone/go-transfer/migrations"
	"github.com/goliatone/go-transfer/security"
	sqlstore "github.com/goliatone/go-transfer/store/sql"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-transfer-tests"
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	for _, table := range []string{"transfer_jobs", "transfer_job_stacks", "transfer_idempotent_results"} {
		var tableName string
		if err := client.DB().NewRaw(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
			table,
		).Scan(context.Background(), &tableName); err != nil {
			t.Fatalf("query sqlite master for %s: %v", table, err)
		}
		if tableName != table {
			t.Fatalf("expected %s table, got %q", table, tableName)
		}
	}
}

func TestJobStore_CreateFindUpdate(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	store := factory.JobStore()

	created := createJob(t, store)
	if created.Authorization.State != core.AuthStateInitial || created.State != core.JobStateNew {
		t.Fatalf("unexpected initial states: %s %s", created.State, created.Authorization.State)
	}

	found, err := store.FindJob(ctx, created.ID)
	if err != nil {
		t.Fatalf("find job: %v", err)
	}
	if found.ExportService != "flickr" || found.Vertical != core.VerticalPhotos {
		t.Fatalf("unexpected job: %+v", found)
	}
	if found.Metadata["requested_by"] != "user_1" {
		t.Fatalf("expected metadata to round trip, got %#v", found.Metadata)
	}

	found.Authorization.State = core.AuthStateCredsAvailable
	updated, err := store.UpdateJob(ctx, found, core.ExpectAuthState(core.AuthStateInitial))
	if err != nil {
		t.Fatalf("update job: %v", err)
	}
	if updated.Authorization.State != core.AuthStateCredsAvailable {
		t.Fatalf("expected CREDS_AVAILABLE, got %s", updated.Authorization.State)
	}

	if _, err := store.UpdateJob(ctx, found, core.ExpectAuthState(core.AuthStateInitial)); err == nil {
		t.Fatalf("expected stale validator to reject second update")
	}

	skip := updated
	skip.Authorization.State = core.AuthStateCredsEncrypted
	if _, err := store.UpdateJob(ctx, skip); err == nil {
		t.Fatalf("expected skipped authorization state to be rejected")
	}

	reloaded, err := store.FindJob(ctx, created.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if reloaded.Authorization.State != core.AuthStateCredsAvailable {
		t.Fatalf("expected rejected updates to leave the row untouched, got %s", reloaded.Authorization.State)
	}
}

func TestJobStore_FindMissingJob(t *testing.T) {
	factory := newFactory(t)
	_, err := factory.JobStore().FindJob(context.Background(), uuid.New())
	if !errors.Is(err, core.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	_, err = factory.JobStore().UpdateJob(context.Background(), core.Job{ID: uuid.New()})
	if !errors.Is(err, core.ErrJobNotFound) {
		t.Fatalf("expected update of missing job to return ErrJobNotFound, got %v", err)
	}
}

func TestJobStore_FindJobsByAuthStateSkipsTerminalJobs(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	store := factory.JobStore()

	first := createJob(t, store)
	second := createJob(t, store)
	third := createJob(t, store)

	for _, job := range []core.Job{first, second, third} {
		job.Authorization.State = core.AuthStateCredsAvailable
		if _, err := store.UpdateJob(ctx, job); err != nil {
			t.Fatalf("advance job: %v", err)
		}
	}
	canceled, err := store.FindJob(ctx, third.ID)
	if err != nil {
		t.Fatalf("find job: %v", err)
	}
	if _, err := store.UpdateJob(ctx, core.FinishJob(canceled, core.JobStateCanceled, "user canceled")); err != nil {
		t.Fatalf("cancel job: %v", err)
	}

	jobs, err := store.FindJobsByAuthState(ctx, core.AuthStateCredsAvailable, 0)
	if err != nil {
		t.Fatalf("find jobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 claimable jobs, got %d", len(jobs))
	}

	limited, err := store.FindJobsByAuthState(ctx, core.AuthStateCredsAvailable, 1)
	if err != nil {
		t.Fatalf("find limited jobs: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}

func TestJobStore_ClearJobData(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	store := factory.JobStore()

	job := createJob(t, store)
	job.Authorization.SessionSecretKey = "session"
	job.Authorization.EncryptedInitialExportAuthData = "export"
	job.Authorization.EncryptedInitialImportAuthData = "import"
	if _, err := store.UpdateJob(ctx, job); err != nil {
		t.Fatalf("store secrets: %v", err)
	}

	if err := store.ClearJobData(ctx, job.ID); err != nil {
		t.Fatalf("clear job data: %v", err)
	}
	cleared, err := store.FindJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("find job: %v", err)
	}
	auth := cleared.Authorization
	if auth.SessionSecretKey != "" || auth.EncryptedInitialExportAuthData != "" || auth.EncryptedInitialImportAuthData != "" {
		t.Fatalf("expected secrets to be cleared, got %+v", auth)
	}
	if auth.State != core.AuthStateInitial {
		t.Fatalf("expected state to be kept, got %s", auth.State)
	}

	// the cleared row must still accept updates through the version check
	cleared.FailureReason = "noted"
	if _, err := store.UpdateJob(ctx, cleared); err != nil {
		t.Fatalf("update after clear: %v", err)
	}

	if err := store.ClearJobData(ctx, uuid.New()); !errors.Is(err, core.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobStackStore_StoreLoadDelete(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	job := createJob(t, factory.JobStore())
	stacks := factory.JobStackStore()

	if _, found, err := stacks.LoadJobStack(ctx, job.ID); err != nil || found {
		t.Fatalf("expected no stack, found=%v err=%v", found, err)
	}

	stack := []core.ExportInformation{
		{ContainerResource: &core.ContainerResource{Type: "album", ID: "B"}},
		{ContainerResource: &core.ContainerResource{Type: "album", ID: "A"}, PaginationData: &core.PaginationData{Token: "2"}},
	}
	if err := stacks.StoreJobStack(ctx, job.ID, stack); err != nil {
		t.Fatalf("store stack: %v", err)
	}
	if err := stacks.StoreJobStack(ctx, job.ID, stack[:1]); err != nil {
		t.Fatalf("overwrite stack: %v", err)
	}

	loaded, found, err := stacks.LoadJobStack(ctx, job.ID)
	if err != nil || !found {
		t.Fatalf("load stack: found=%v err=%v", found, err)
	}
	if len(loaded) != 1 || loaded[0].String() != "container=album:B" {
		t.Fatalf("unexpected stack: %v", loaded)
	}

	if err := stacks.DeleteJobStack(ctx, job.ID); err != nil {
		t.Fatalf("delete stack: %v", err)
	}
	if _, found, err := stacks.LoadJobStack(ctx, job.ID); err != nil || found {
		t.Fatalf("expected stack to be deleted, found=%v err=%v", found, err)
	}
}

func TestIdempotentResultStore_BacksExecutor(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	job := createJob(t, factory.JobStore())
	results := factory.IdempotentResultStore()

	executor, err := idempotent.NewExecutor(job.ID, results)
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	calls := 0
	work := func(context.Context) (string, error) {
		calls++
		return "dest-1", nil
	}
	if _, err := executor.ExecuteOrFail(ctx, "photo-1", "Photo 1", work); err != nil {
		t.Fatalf("first execute: %v", err)
	}
	failing := func(context.Context) (string, error) {
		return "", core.NewTransportError(errors.New("connection reset"), "upload photo")
	}
	if _, err := executor.ExecuteAndSwallowIOErrors(ctx, "photo-2", "Photo 2", failing); err != nil {
		t.Fatalf("swallowed execute: %v", err)
	}

	restarted, err := idempotent.NewExecutor(job.ID, results)
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	value, err := restarted.ExecuteOrFail(ctx, "photo-1", "Photo 1", work)
	if err != nil {
		t.Fatalf("replayed execute: %v", err)
	}
	if value != "dest-1" || calls != 1 {
		t.Fatalf("expected cached result without rerun, value=%q calls=%d", value, calls)
	}

	failures, err := restarted.Errors(ctx)
	if err != nil {
		t.Fatalf("errors: %v", err)
	}
	if len(failures) != 1 || failures[0].Key != "photo-2" {
		t.Fatalf("unexpected failures: %+v", failures)
	}

	if err := results.DeleteJobResults(ctx, job.ID); err != nil {
		t.Fatalf("delete results: %v", err)
	}
	if _, found, err := results.GetResult(ctx, job.ID, "photo-1"); err != nil || found {
		t.Fatalf("expected results to be deleted, found=%v err=%v", found, err)
	}
}

func TestRepositoryFactory_ServesCachedResultStore(t *testing.T) {
	ctx := context.Background()
	cacheConfig := repositorycache.DefaultConfig()
	cacheConfig.TTL = time.Minute
	cacheService, err := repositorycache.NewCacheService(cacheConfig)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	factory := newFactory(t, sqlstore.WithIdempotentResultCache(cacheService))
	job := createJob(t, factory.JobStore())

	cached, ok := factory.IdempotentResultStore().(*sqlstore.CachedIdempotentResultStore)
	if !ok {
		t.Fatalf("expected cached result store, got %T", factory.IdempotentResultStore())
	}
	if err := cached.SaveResult(ctx, core.IdempotentResult{JobID: job.ID, Key: "photo-1", Result: "dest-1"}); err != nil {
		t.Fatalf("save result: %v", err)
	}
	if _, found, err := cached.GetResult(ctx, job.ID, "photo-1"); err != nil || !found {
		t.Fatalf("expected result, found=%v err=%v", found, err)
	}
	if cached.TrackedJobs() != 1 {
		t.Fatalf("expected one tracked job, got %d", cached.TrackedJobs())
	}

	if err := cached.ForgetJob(ctx, job.ID); err != nil {
		t.Fatalf("forget job: %v", err)
	}
	if cached.TrackedJobs() != 0 {
		t.Fatalf("expected forgotten job to be untracked, got %d", cached.TrackedJobs())
	}
	result, found, err := cached.GetResult(ctx, job.ID, "photo-1")
	if err != nil || !found || result.Result != "dest-1" {
		t.Fatalf("expected stored result to survive eviction, got %+v found=%v err=%v", result, found, err)
	}

	plain := newFactory(t)
	if _, ok := plain.IdempotentResultStore().(*sqlstore.IdempotentResultStore); !ok {
		t.Fatalf("expected uncached store without cache option, got %T", plain.IdempotentResultStore())
	}
}

func TestHandoffProtocol_OverSQLStore(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	store := factory.JobStore()

	job := createJob(t, store)
	session, err := newSessionKey()
	if err != nil {
		t.Fatalf("session key: %v", err)
	}
	job.Authorization.SessionSecretKey = session
	if _, err := store.UpdateJob(ctx, job); err != nil {
		t.Fatalf("store session key: %v", err)
	}

	cfg := core.DefaultConfig().Handoff
	cfg.PollInterval = 5 * time.Millisecond
	cfg.AssignmentTimeout = 2 * time.Second
	protocol, err := handoff.NewProtocol(cfg, store)
	if err != nil {
		t.Fatalf("new protocol: %v", err)
	}
	worker, err := handoff.NewWorkerSide(store, handoff.WithPollInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("new worker side: %v", err)
	}

	exportAuth := core.AuthData{TokenType: "Bearer", AccessToken: "export-token"}
	importAuth := core.AuthData{TokenType: "Bearer", AccessToken: "import-token"}
	if _, err := protocol.StoreInitialAuthData(ctx, job.ID, exportAuth, importAuth); err != nil {
		t.Fatalf("store initial auth data: %v", err)
	}
	if _, err := protocol.MarkCredsAvailable(ctx, job.ID); err != nil {
		t.Fatalf("mark creds available: %v", err)
	}

	_, pair, err := worker.Claim(ctx, job.ID, "worker-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, _, err := worker.Claim(ctx, job.ID, "worker-2"); err == nil {
		t.Fatalf("expected second claim to fail")
	}
	if _, err := protocol.AwaitWorkerAssignment(ctx, job.ID); err != nil {
		t.Fatalf("await worker assignment: %v", err)
	}
	if _, err := protocol.EncryptAndStoreCredentials(ctx, job.ID, exportAuth, importAuth); err != nil {
		t.Fatalf("encrypt credentials: %v", err)
	}

	sealed, err := worker.AwaitCredentials(ctx, job.ID)
	if err != nil {
		t.Fatalf("await credentials: %v", err)
	}
	gotExport, gotImport, err := worker.DecryptCredentials(ctx, sealed, pair)
	if err != nil {
		t.Fatalf("decrypt credentials: %v", err)
	}
	if gotExport.AccessToken != "export-token" || gotImport.AccessToken != "import-token" {
		t.Fatalf("unexpected credentials: %+v %+v", gotExport, gotImport)
	}
	if sealed.Authorization.InstanceID != "worker-1" {
		t.Fatalf("expected worker-1 to own the job, got %q", sealed.Authorization.InstanceID)
	}
}

func newSessionKey() (string, error) {
	key, err := security.NewAESKeyGenerator().Generate()
	if err != nil {
		return "", err
	}
	defer key.Destroy()
	return key.Encoded(), nil
}

func newFactory(t *testing.T, opts ...sqlstore.FactoryOption) *sqlstore.RepositoryFactory {
	t.Helper()
	client, cleanup := newSQLiteClient(t)
	t.Cleanup(cleanup)
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, opts...)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	return factory
}

func createJob(t *testing.T, store core.JobStore) core.Job {
	t.Helper()
	job, err := core.NewJob(core.CreateJobInput{
		ExportService: "flickr",
		ImportService: "google",
		Vertical:      core.VerticalPhotos,
		Metadata:      map[string]any{"requested_by": "user_1"},
	}, time.Now().UTC())
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	created, err := store.CreateJob(context.Background(), job)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return created
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:transfer-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = transfermigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != transfermigrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, transfermigrations.WithDialects(transfermigrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}
