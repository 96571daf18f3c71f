package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig     Config
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
	handoffFactory    HandoffFactory
	clock             func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

// WithRepositoryFactory accepts a RepositoryStoreFactory or a StoreProvider.
func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithExtensionRegistry(registry *ExtensionRegistry) Option {
	return func(b *serviceBuilder) {
		b.registry = registry
	}
}

func WithJobStore(store JobStore) Option {
	return func(b *serviceBuilder) {
		b.jobStore = store
	}
}

func WithJobStackStore(store JobStackStore) Option {
	return func(b *serviceBuilder) {
		b.jobStackStore = store
	}
}

func WithIdempotentResultStore(store IdempotentResultStore) Option {
	return func(b *serviceBuilder) {
		b.idempotentStore = store
	}
}

func WithSymmetricKeyGenerator(generator SymmetricKeyGenerator) Option {
	return func(b *serviceBuilder) {
		b.keyGenerator = generator
	}
}

func WithAuthDataCodec(codec AuthDataCodec) Option {
	return func(b *serviceBuilder) {
		b.authCodec = codec
	}
}

func WithJobEnqueuer(enqueuer JobEnqueuer) Option {
	return func(b *serviceBuilder) {
		b.enqueuer = enqueuer
	}
}

func WithHandoffProtocol(protocol HandoffProtocol) Option {
	return func(b *serviceBuilder) {
		b.handoff = protocol
	}
}

// WithHandoffFactory builds the hand-off protocol once configuration is resolved.
func WithHandoffFactory(factory HandoffFactory) Option {
	return func(b *serviceBuilder) {
		b.handoffFactory = factory
	}
}

func WithClock(clock func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.clock = clock
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("transfer", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		registry:        NewExtensionRegistry(),
		authCodec:       JSONAuthDataCodec{},
		clock:           func() time.Time { return time.Now().UTC() },
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return serviceErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	handoff := map[string]any{}
	if includeZero || cfg.Handoff.PollInterval > 0 {
		handoff["poll_interval"] = cfg.Handoff.PollInterval
	}
	if includeZero || cfg.Handoff.AssignmentTimeout > 0 {
		handoff["assignment_timeout"] = cfg.Handoff.AssignmentTimeout
	}
	if includeZero || strings.TrimSpace(cfg.Handoff.EncryptionScheme) != "" {
		handoff["encryption_scheme"] = cfg.Handoff.EncryptionScheme
	}
	if len(handoff) > 0 {
		layer["handoff"] = handoff
	}

	if includeZero || cfg.Copier.Resumable {
		layer["copier"] = map[string]any{
			"resumable": cfg.Copier.Resumable,
		}
	}

	retry := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Retry.Default.Type) != "" {
		retry["default"] = retryStrategyToLayerMap(cfg.Retry.Default)
	}
	if includeZero || len(cfg.Retry.Mappings) > 0 {
		mappings := make([]any, 0, len(cfg.Retry.Mappings))
		for _, mapping := range cfg.Retry.Mappings {
			mappings = append(mappings, map[string]any{
				"regexes":       append([]string(nil), mapping.Regexes...),
				"stack_regexes": append([]string(nil), mapping.StackRegexes...),
				"strategy":      retryStrategyToLayerMap(mapping.Strategy),
			})
		}
		retry["mappings"] = mappings
	}
	if len(retry) > 0 {
		layer["retry"] = retry
	}

	worker := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Worker.InstanceID) != "" {
		worker["instance_id"] = cfg.Worker.InstanceID
	}
	if includeZero || cfg.Worker.PollInterval > 0 {
		worker["poll_interval"] = cfg.Worker.PollInterval
	}
	if includeZero || strings.TrimSpace(cfg.Worker.PrivateKey) != "" {
		worker["private_key"] = cfg.Worker.PrivateKey
	}
	if len(worker) > 0 {
		layer["worker"] = worker
	}
	return layer
}

func retryStrategyToLayerMap(cfg RetryStrategyConfig) map[string]any {
	return map[string]any{
		"type":         cfg.Type,
		"max_attempts": cfg.MaxAttempts,
		"interval":     cfg.Interval,
		"multiplier":   cfg.Multiplier,
	}
}
