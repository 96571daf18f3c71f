package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

// Service is the control plane facade over jobs and the credential hand-off.
type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	registry          *ExtensionRegistry
	jobStore          JobStore
	jobStackStore     JobStackStore
	idempotentStore   IdempotentResultStore
	keyGenerator      SymmetricKeyGenerator
	authCodec         AuthDataCodec
	enqueuer          JobEnqueuer
	handoff           HandoffProtocol
	clock             func() time.Time
}

type ServiceDependencies struct {
	Logger                Logger
	LoggerProvider        LoggerProvider
	MetricsRecorder       MetricsRecorder
	ErrorFactory          ErrorFactory
	ErrorMapper           ErrorMapper
	PersistenceClient     any
	RepositoryFactory     any
	ConfigProvider        ConfigProvider
	OptionsResolver       OptionsResolver
	Registry              *ExtensionRegistry
	JobStore              JobStore
	JobStackStore         JobStackStore
	IdempotentResultStore IdempotentResultStore
	SymmetricKeyGenerator SymmetricKeyGenerator
	AuthDataCodec         AuthDataCodec
	JobEnqueuer           JobEnqueuer
	Handoff               HandoffProtocol
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("transfer", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("transfer"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.registry == nil {
		builder.registry = NewExtensionRegistry()
	}
	if builder.authCodec == nil {
		builder.authCodec = JSONAuthDataCodec{}
	}
	if builder.clock == nil {
		builder.clock = func() time.Time { return time.Now().UTC() }
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.repositoryFactory != nil {
		var stores StoreProvider
		if storeFactory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			built, buildErr := storeFactory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			stores = built
		} else if provided, ok := builder.repositoryFactory.(StoreProvider); ok {
			stores = provided
		}
		if stores != nil {
			if builder.jobStore == nil {
				builder.jobStore = stores.JobStore()
			}
			if builder.jobStackStore == nil {
				builder.jobStackStore = stores.JobStackStore()
			}
			if builder.idempotentStore == nil {
				builder.idempotentStore = stores.IdempotentResultStore()
			}
		}
	}
	if builder.jobStore == nil {
		builder.jobStore = NewMemoryJobStore()
	}
	if builder.jobStackStore == nil {
		builder.jobStackStore = NewMemoryJobStackStore()
	}

	if builder.handoff == nil && builder.handoffFactory != nil {
		protocol, buildErr := builder.handoffFactory(finalConfig.Handoff, HandoffDependencies{
			JobStore:        builder.jobStore,
			Enqueuer:        builder.enqueuer,
			Logger:          logger,
			MetricsRecorder: builder.metricsRecorder,
		})
		if buildErr != nil {
			return nil, mapBuildError(builder.errorMapper, buildErr)
		}
		builder.handoff = protocol
	}

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		registry:          builder.registry,
		jobStore:          builder.jobStore,
		jobStackStore:     builder.jobStackStore,
		idempotentStore:   builder.idempotentStore,
		keyGenerator:      builder.keyGenerator,
		authCodec:         builder.authCodec,
		enqueuer:          builder.enqueuer,
		handoff:           builder.handoff,
		clock:             builder.clock,
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:                s.logger,
		LoggerProvider:        s.loggerProvider,
		MetricsRecorder:       s.metricsRecorder,
		ErrorFactory:          s.errorFactory,
		ErrorMapper:           s.errorMapper,
		PersistenceClient:     s.persistenceClient,
		RepositoryFactory:     s.repositoryFactory,
		ConfigProvider:        s.configProvider,
		OptionsResolver:       s.optionsResolver,
		Registry:              s.registry,
		JobStore:              s.jobStore,
		JobStackStore:         s.jobStackStore,
		IdempotentResultStore: s.idempotentStore,
		SymmetricKeyGenerator: s.keyGenerator,
		AuthDataCodec:         s.authCodec,
		JobEnqueuer:           s.enqueuer,
		Handoff:               s.handoff,
	}
}

// CreateJob registers a new transfer. When a key generator is configured the job
// receives a session key used to protect the initial auth data.
func (s *Service) CreateJob(ctx context.Context, input CreateJobInput) (job Job, err error) {
	fields := map[string]any{
		"export_service": input.ExportService,
		"import_service": input.ImportService,
		"data_vertical":  string(input.Vertical),
	}
	if len(input.Metadata) > 0 {
		fields["metadata"] = input.Metadata
	}
	op := s.beginOperation("create_job", "", fields)
	defer func() { s.finish(ctx, op, job, err) }()

	job, err = NewJob(input, s.clock())
	if err != nil {
		err = s.mapError(err)
		return Job{}, err
	}
	if s.registry != nil && (len(s.registry.ExporterKeys()) > 0 || len(s.registry.ImporterKeys()) > 0) {
		if !s.registry.Supports(job.ExportService, job.ImportService, job.Vertical) {
			err = s.mapError(fmt.Errorf(
				"core: extension not registered for %s -> %s (%s)",
				job.ExportService,
				job.ImportService,
				job.Vertical,
			))
			return Job{}, err
		}
	}
	if s.keyGenerator != nil {
		key, keyErr := s.keyGenerator.Generate()
		if keyErr != nil {
			err = s.mapError(keyErr)
			return Job{}, err
		}
		job.Authorization.SessionSecretKey = key.Encoded()
		key.Destroy()
	}
	job, err = s.jobStore.CreateJob(ctx, job)
	if err != nil {
		err = s.mapError(err)
		return Job{}, err
	}
	return job, nil
}

func (s *Service) GetJob(ctx context.Context, jobID uuid.UUID) (Job, error) {
	if jobID == uuid.Nil {
		return Job{}, s.mapError(fmt.Errorf("core: job id is required"))
	}
	job, err := s.jobStore.FindJob(ctx, jobID)
	if err != nil {
		return Job{}, s.mapError(err)
	}
	return job, nil
}

// CancelJob stops a job that has not finished, drops its secrets, and removes any
// persisted copy progress.
func (s *Service) CancelJob(ctx context.Context, jobID uuid.UUID, reason string) (job Job, err error) {
	op := s.beginOperation("cancel_job", "", map[string]any{"job_id": jobID.String()})
	defer func() { s.finish(ctx, op, job, err) }()

	current, err := s.GetJob(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	if current.State.IsTerminal() {
		err = s.mapError(fmt.Errorf("core: job %s state transition %s -> %s is not allowed", jobID, current.State, JobStateCanceled))
		return Job{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "canceled"
	}
	job, err = s.jobStore.UpdateJob(ctx, FinishJob(current, JobStateCanceled, reason))
	if err != nil {
		err = s.mapError(err)
		return Job{}, err
	}
	if s.jobStackStore != nil {
		if err = s.jobStackStore.DeleteJobStack(ctx, jobID); err != nil {
			err = s.mapError(err)
			return Job{}, err
		}
	}
	if s.idempotentStore != nil {
		if err = s.idempotentStore.DeleteJobResults(ctx, jobID); err != nil {
			err = s.mapError(err)
			return Job{}, err
		}
	}
	return job, nil
}

// ImportFailures lists the per-item failures recorded for a job.
func (s *Service) ImportFailures(ctx context.Context, jobID uuid.UUID) ([]ImportFailure, error) {
	if s.idempotentStore == nil {
		return nil, nil
	}
	results, err := s.idempotentStore.ListFailures(ctx, jobID)
	if err != nil {
		return nil, s.mapError(err)
	}
	failures := make([]ImportFailure, 0, len(results))
	for _, result := range results {
		failures = append(failures, ImportFailure{
			Key:          result.Key,
			DisplayName:  result.DisplayName,
			ErrorMessage: result.ErrorMessage,
			RecordedAt:   result.UpdatedAt,
		})
	}
	return failures, nil
}

func (s *Service) StoreInitialAuthData(ctx context.Context, jobID uuid.UUID, exportAuth AuthData, importAuth AuthData) (job Job, err error) {
	op := s.beginOperation("store_initial_auth_data", "", map[string]any{"job_id": jobID.String()})
	defer func() { s.finish(ctx, op, job, err) }()
	protocol, err := s.requireHandoff()
	if err != nil {
		return Job{}, err
	}
	job, err = protocol.StoreInitialAuthData(ctx, jobID, exportAuth, importAuth)
	if err != nil {
		err = s.mapError(err)
		return Job{}, err
	}
	return job, nil
}

func (s *Service) DecryptInitialAuthData(ctx context.Context, jobID uuid.UUID) (AuthData, AuthData, error) {
	protocol, err := s.requireHandoff()
	if err != nil {
		return AuthData{}, AuthData{}, err
	}
	exportAuth, importAuth, err := protocol.DecryptInitialAuthData(ctx, jobID)
	if err != nil {
		return AuthData{}, AuthData{}, s.mapError(err)
	}
	return exportAuth, importAuth, nil
}

func (s *Service) MarkCredsAvailable(ctx context.Context, jobID uuid.UUID) (job Job, err error) {
	op := s.beginOperation("mark_creds_available", AuthStateInitial, map[string]any{"job_id": jobID.String()})
	defer func() { s.finish(ctx, op, job, err) }()
	protocol, err := s.requireHandoff()
	if err != nil {
		return Job{}, err
	}
	job, err = protocol.MarkCredsAvailable(ctx, jobID)
	if err != nil {
		err = s.mapError(err)
		return Job{}, err
	}
	return job, nil
}

func (s *Service) AwaitWorkerAssignment(ctx context.Context, jobID uuid.UUID) (job Job, err error) {
	op := s.beginOperation("await_worker_assignment", AuthStateCredsAvailable, map[string]any{"job_id": jobID.String()})
	defer func() { s.finish(ctx, op, job, err) }()
	protocol, err := s.requireHandoff()
	if err != nil {
		return Job{}, err
	}
	job, err = protocol.AwaitWorkerAssignment(ctx, jobID)
	if err != nil {
		err = s.mapError(err)
		return Job{}, err
	}
	return job, nil
}

func (s *Service) EncryptAndStoreCredentials(ctx context.Context, jobID uuid.UUID, exportAuth AuthData, importAuth AuthData) (job Job, err error) {
	op := s.beginOperation("encrypt_and_store_credentials", AuthStateCredsEncryptionKeyGenerated, map[string]any{"job_id": jobID.String()})
	defer func() { s.finish(ctx, op, job, err) }()
	protocol, err := s.requireHandoff()
	if err != nil {
		return Job{}, err
	}
	job, err = protocol.EncryptAndStoreCredentials(ctx, jobID, exportAuth, importAuth)
	if err != nil {
		err = s.mapError(err)
		return Job{}, err
	}
	return job, nil
}

// HandOff runs the control plane sequence once the user has authorized both
// services: mark available, wait for a worker, then seal the credentials.
func (s *Service) HandOff(ctx context.Context, jobID uuid.UUID, exportAuth AuthData, importAuth AuthData) (Job, error) {
	if _, err := s.MarkCredsAvailable(ctx, jobID); err != nil {
		return Job{}, err
	}
	if _, err := s.AwaitWorkerAssignment(ctx, jobID); err != nil {
		return Job{}, err
	}
	return s.EncryptAndStoreCredentials(ctx, jobID, exportAuth, importAuth)
}

func (s *Service) requireHandoff() (HandoffProtocol, error) {
	if s == nil || s.handoff == nil {
		return nil, s.mapError(fmt.Errorf("core: handoff protocol is required"))
	}
	return s.handoff, nil
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}
