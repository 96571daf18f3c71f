package core

import (
	"context"
	"errors"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

var ErrJobNotFound = errors.New("core: job not found")

// ErrJobVersionConflict is returned when a job changed between the read and the
// write of an update.
var ErrJobVersionConflict = errors.New("core: job was modified concurrently")

// Exporter reads one page or one container of data from the export service.
type Exporter interface {
	Export(ctx context.Context, jobID uuid.UUID, auth AuthData, info *ExportInformation) (ExportResult, error)
}

// Importer writes one exported payload to the import service. Per-item side
// effects must go through executor so a resumed job does not repeat them.
type Importer interface {
	Import(
		ctx context.Context,
		jobID uuid.UUID,
		executor IdempotentExecutor,
		auth AuthData,
		data DataModel,
	) (ImportResult, error)
}

type ExporterFunc func(ctx context.Context, jobID uuid.UUID, auth AuthData, info *ExportInformation) (ExportResult, error)

func (f ExporterFunc) Export(ctx context.Context, jobID uuid.UUID, auth AuthData, info *ExportInformation) (ExportResult, error) {
	return f(ctx, jobID, auth, info)
}

type ImporterFunc func(ctx context.Context, jobID uuid.UUID, executor IdempotentExecutor, auth AuthData, data DataModel) (ImportResult, error)

func (f ImporterFunc) Import(ctx context.Context, jobID uuid.UUID, executor IdempotentExecutor, auth AuthData, data DataModel) (ImportResult, error) {
	return f(ctx, jobID, executor, auth, data)
}

// ImportWork performs one import side effect and returns the identifier the
// destination assigned to the item.
type ImportWork func(ctx context.Context) (string, error)

type IdempotentExecutor interface {
	ExecuteAndSwallowIOErrors(ctx context.Context, key string, displayName string, work ImportWork) (string, error)
	ExecuteOrFail(ctx context.Context, key string, displayName string, work ImportWork) (string, error)
	IsKeyCached(ctx context.Context, key string) (bool, error)
	CachedValue(ctx context.Context, key string) (string, bool, error)
}

// ImportFailure is a per-item failure recorded instead of failing the whole batch.
type ImportFailure struct {
	Key          string
	DisplayName  string
	ErrorMessage string
	RecordedAt   time.Time
}

type JobStore interface {
	CreateJob(ctx context.Context, job Job) (Job, error)
	FindJob(ctx context.Context, id uuid.UUID) (Job, error)
	UpdateJob(ctx context.Context, job Job, validators ...JobUpdateValidator) (Job, error)
	FindJobsByAuthState(ctx context.Context, state AuthState, limit int) ([]Job, error)
	ClearJobData(ctx context.Context, id uuid.UUID) error
}

type JobStackStore interface {
	LoadJobStack(ctx context.Context, jobID uuid.UUID) ([]ExportInformation, bool, error)
	StoreJobStack(ctx context.Context, jobID uuid.UUID, stack []ExportInformation) error
	DeleteJobStack(ctx context.Context, jobID uuid.UUID) error
}

// SymmetricKey is an in-memory secret key. Destroy wipes the key material.
type SymmetricKey interface {
	Encrypter
	Decrypter
	Encoded() string
	Destroy()
}

type Encrypter interface {
	Encrypt(plaintext []byte) (string, error)
}

type Decrypter interface {
	Decrypt(ciphertext string) ([]byte, error)
}

type SymmetricKeyGenerator interface {
	Generate() (SymmetricKey, error)
	Parse(encoded string) (SymmetricKey, error)
}

type PublicKeyParser interface {
	ParsePublicKey(encoded string) (Encrypter, error)
}

// KeyPair is held by one worker instance; only the public half leaves the process.
type KeyPair interface {
	Decrypter
	EncodedPublicKey() (string, error)
}

type KeyPairGenerator interface {
	GenerateKeyPair() (KeyPair, error)
}

type AuthDataCodec interface {
	Encode(auth AuthData) ([]byte, error)
	Decode(payload []byte) (AuthData, error)
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// IdempotentResult is the cached outcome of one import side effect for one job.
type IdempotentResult struct {
	JobID        uuid.UUID
	Key          string
	DisplayName  string
	Result       string
	Failed       bool
	ErrorMessage string
	UpdatedAt    time.Time
}

type IdempotentResultStore interface {
	GetResult(ctx context.Context, jobID uuid.UUID, key string) (IdempotentResult, bool, error)
	SaveResult(ctx context.Context, result IdempotentResult) error
	ListFailures(ctx context.Context, jobID uuid.UUID) ([]IdempotentResult, error)
	DeleteJobResults(ctx context.Context, jobID uuid.UUID) error
}

type StoreProvider interface {
	JobStore() JobStore
	JobStackStore() JobStackStore
	IdempotentResultStore() IdempotentResultStore
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

// HandoffProtocol is the control plane half of the credential hand-off.
type HandoffProtocol interface {
	StoreInitialAuthData(ctx context.Context, jobID uuid.UUID, exportAuth AuthData, importAuth AuthData) (Job, error)
	DecryptInitialAuthData(ctx context.Context, jobID uuid.UUID) (AuthData, AuthData, error)
	MarkCredsAvailable(ctx context.Context, jobID uuid.UUID) (Job, error)
	AwaitWorkerAssignment(ctx context.Context, jobID uuid.UUID) (Job, error)
	EncryptAndStoreCredentials(ctx context.Context, jobID uuid.UUID, exportAuth AuthData, importAuth AuthData) (Job, error)
}

type HandoffDependencies struct {
	JobStore        JobStore
	Enqueuer        JobEnqueuer
	Logger          Logger
	MetricsRecorder MetricsRecorder
}

type HandoffFactory func(cfg HandoffConfig, deps HandoffDependencies) (HandoffProtocol, error)
