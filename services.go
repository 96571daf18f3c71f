package transfer

import (
	"fmt"

	"github.com/goliatone/go-transfer/adapters/gologger"
	"github.com/goliatone/go-transfer/core"
	"github.com/goliatone/go-transfer/handoff"
	"github.com/goliatone/go-transfer/security"
	"github.com/goliatone/go-transfer/worker"
)

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type Job = core.Job
type JobState = core.JobState
type AuthState = core.AuthState
type AuthData = core.AuthData
type CreateJobInput = core.CreateJobInput
type ImportFailure = core.ImportFailure
type DataVertical = core.DataVertical
type Exporter = core.Exporter
type Importer = core.Importer
type ExtensionRegistry = core.ExtensionRegistry

type Worker = worker.Worker

var (
	WithLogger                = core.WithLogger
	WithLoggerProvider        = core.WithLoggerProvider
	WithMetricsRecorder       = core.WithMetricsRecorder
	WithErrorFactory          = core.WithErrorFactory
	WithErrorMapper           = core.WithErrorMapper
	WithPersistenceClient     = core.WithPersistenceClient
	WithRepositoryFactory     = core.WithRepositoryFactory
	WithConfigProvider        = core.WithConfigProvider
	WithOptionsResolver       = core.WithOptionsResolver
	WithExtensionRegistry     = core.WithExtensionRegistry
	WithJobStore              = core.WithJobStore
	WithJobStackStore         = core.WithJobStackStore
	WithIdempotentResultStore = core.WithIdempotentResultStore
	WithSymmetricKeyGenerator = core.WithSymmetricKeyGenerator
	WithAuthDataCodec         = core.WithAuthDataCodec
	WithJobEnqueuer           = core.WithJobEnqueuer
	WithHandoffProtocol       = core.WithHandoffProtocol
	WithHandoffFactory        = core.WithHandoffFactory
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// NewService builds the control plane service with AES session keys and the
// standard hand-off protocol. Both can be replaced through opts. Import failures
// are only reported when an idempotent result store is configured, either
// directly or through a repository factory.
func NewService(cfg Config, opts ...Option) (*Service, error) {
	defaults := []Option{
		core.WithSymmetricKeyGenerator(security.NewAESKeyGenerator()),
		core.WithHandoffFactory(handoff.NewFactory()),
	}
	return core.NewService(cfg, append(defaults, opts...)...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

// NewWorker builds a worker that shares the service's stores, registry and
// configuration. Options run after the shared wiring so they can replace it.
func NewWorker(service *Service, opts ...worker.Option) (*Worker, error) {
	if service == nil {
		return nil, fmt.Errorf("transfer: service is required")
	}
	deps := service.Dependencies()
	_, logger := gologger.Resolve(gologger.WorkerLoggerName, deps.LoggerProvider, deps.Logger)
	shared := []worker.Option{
		worker.WithLogger(logger),
		worker.WithJobStackStore(deps.JobStackStore),
		worker.WithIdempotentResultStore(deps.IdempotentResultStore),
	}
	if deps.MetricsRecorder != nil {
		shared = append(shared, worker.WithMetricsRecorder(deps.MetricsRecorder))
	}
	return worker.New(service.Config(), deps.JobStore, deps.Registry, append(shared, opts...)...)
}
