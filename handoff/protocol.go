// Package handoff moves connector credentials from the control plane to the worker
// that claimed a job without either side storing them in the clear.
//
// The control plane marks a job CREDS_AVAILABLE and waits. A worker claims it by
// recording a fresh public key (CREDS_ENCRYPTION_KEY_GENERATED). The control plane
// then seals both credentials under an ephemeral AES key, seals that key under the
// worker public key and records CREDS_ENCRYPTED.
package handoff

import (
	"context"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-transfer/core"
	"github.com/goliatone/go-transfer/security"
	"github.com/google/uuid"
)

const (
	// ClaimableJobScript names the queue message published for claimable jobs.
	ClaimableJobScript = "transfer/claimable-job"
	claimDedupPolicy   = "drop"
)

// Protocol is the control plane side of the hand-off.
type Protocol struct {
	config     core.HandoffConfig
	jobs       core.JobStore
	enqueuer   core.JobEnqueuer
	symmetric  core.SymmetricKeyGenerator
	publicKeys core.PublicKeyParser
	codec      core.AuthDataCodec
	logger     core.Logger
	metrics    core.MetricsRecorder
}

type Option func(*Protocol)

func WithSymmetricKeyGenerator(generator core.SymmetricKeyGenerator) Option {
	return func(p *Protocol) {
		p.symmetric = generator
	}
}

func WithPublicKeyParser(parser core.PublicKeyParser) Option {
	return func(p *Protocol) {
		p.publicKeys = parser
	}
}

func WithAuthDataCodec(codec core.AuthDataCodec) Option {
	return func(p *Protocol) {
		p.codec = codec
	}
}

func WithEnqueuer(enqueuer core.JobEnqueuer) Option {
	return func(p *Protocol) {
		p.enqueuer = enqueuer
	}
}

func WithLogger(logger core.Logger) Option {
	return func(p *Protocol) {
		p.logger = logger
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(p *Protocol) {
		p.metrics = recorder
	}
}

func NewProtocol(cfg core.HandoffConfig, jobs core.JobStore, opts ...Option) (*Protocol, error) {
	if jobs == nil {
		return nil, fmt.Errorf("handoff: job store is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = core.DefaultConfig().Handoff.PollInterval
	}
	if strings.TrimSpace(cfg.EncryptionScheme) == "" {
		cfg.EncryptionScheme = core.EncryptionSchemeAESGCMRSAOAEP
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.EncryptionScheme != core.EncryptionSchemeAESGCMRSAOAEP {
		return nil, fmt.Errorf("handoff: unsupported encryption scheme %q", cfg.EncryptionScheme)
	}

	_, logger := glog.Resolve("transfer.handoff", nil, nil)
	protocol := &Protocol{
		config:     cfg,
		jobs:       jobs,
		symmetric:  security.NewAESKeyGenerator(),
		publicKeys: security.NewRSAKeyGenerator(),
		codec:      core.JSONAuthDataCodec{},
		logger:     logger,
		metrics:    core.NopMetricsRecorder{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(protocol)
		}
	}
	protocol.logger = glog.Ensure(protocol.logger)
	if protocol.metrics == nil {
		protocol.metrics = core.NopMetricsRecorder{}
	}
	if protocol.codec == nil {
		protocol.codec = core.JSONAuthDataCodec{}
	}
	if protocol.symmetric == nil || protocol.publicKeys == nil {
		return nil, fmt.Errorf("handoff: key generators are required")
	}
	return protocol, nil
}

// NewFactory adapts NewProtocol to core.WithHandoffFactory so the service can build
// the protocol once its configuration is resolved.
func NewFactory(opts ...Option) core.HandoffFactory {
	return func(cfg core.HandoffConfig, deps core.HandoffDependencies) (core.HandoffProtocol, error) {
		base := []Option{
			WithEnqueuer(deps.Enqueuer),
			WithLogger(deps.Logger),
			WithMetricsRecorder(deps.MetricsRecorder),
		}
		return NewProtocol(cfg, deps.JobStore, append(base, opts...)...)
	}
}

func (p *Protocol) Config() core.HandoffConfig {
	return p.config
}

// StoreInitialAuthData seals the credentials captured during the authorization flow
// under the job session key.
func (p *Protocol) StoreInitialAuthData(ctx context.Context, jobID uuid.UUID, exportAuth core.AuthData, importAuth core.AuthData) (core.Job, error) {
	job, err := p.findActiveJob(ctx, jobID)
	if err != nil {
		return core.Job{}, err
	}
	if job.Authorization.State != core.AuthStateInitial {
		return core.Job{}, stateError(job, "store initial auth data", core.AuthStateInitial)
	}
	key, err := p.sessionKey(job)
	if err != nil {
		return core.Job{}, err
	}
	defer key.Destroy()

	if job.Authorization.EncryptedInitialExportAuthData, err = sealAuthData(p.codec, key, exportAuth); err != nil {
		return core.Job{}, fmt.Errorf("handoff: encrypt initial export auth data: %w", err)
	}
	if job.Authorization.EncryptedInitialImportAuthData, err = sealAuthData(p.codec, key, importAuth); err != nil {
		return core.Job{}, fmt.Errorf("handoff: encrypt initial import auth data: %w", err)
	}
	return p.jobs.UpdateJob(ctx, job, core.ExpectAuthState(core.AuthStateInitial))
}

func (p *Protocol) DecryptInitialAuthData(ctx context.Context, jobID uuid.UUID) (core.AuthData, core.AuthData, error) {
	job, err := p.findActiveJob(ctx, jobID)
	if err != nil {
		return core.AuthData{}, core.AuthData{}, err
	}
	if job.Authorization.EncryptedInitialExportAuthData == "" || job.Authorization.EncryptedInitialImportAuthData == "" {
		return core.AuthData{}, core.AuthData{}, core.NewProtocolError(
			"job has no initial auth data",
			map[string]any{"job_id": jobID.String()},
		)
	}
	key, err := p.sessionKey(job)
	if err != nil {
		return core.AuthData{}, core.AuthData{}, err
	}
	defer key.Destroy()

	exportAuth, err := openAuthData(p.codec, key, job.Authorization.EncryptedInitialExportAuthData)
	if err != nil {
		return core.AuthData{}, core.AuthData{}, fmt.Errorf("handoff: decrypt initial export auth data: %w", err)
	}
	importAuth, err := openAuthData(p.codec, key, job.Authorization.EncryptedInitialImportAuthData)
	if err != nil {
		return core.AuthData{}, core.AuthData{}, fmt.Errorf("handoff: decrypt initial import auth data: %w", err)
	}
	return exportAuth, importAuth, nil
}

// MarkCredsAvailable advertises the job to workers.
func (p *Protocol) MarkCredsAvailable(ctx context.Context, jobID uuid.UUID) (core.Job, error) {
	job, err := p.findActiveJob(ctx, jobID)
	if err != nil {
		return core.Job{}, err
	}
	if err := job.ValidateTransferTargets(); err != nil {
		return core.Job{}, core.NewProtocolError(err.Error(), map[string]any{"job_id": jobID.String()})
	}
	if job.Authorization.State != core.AuthStateInitial {
		return core.Job{}, stateError(job, "mark credentials available", core.AuthStateInitial)
	}

	job.Authorization.State = core.AuthStateCredsAvailable
	updated, err := p.jobs.UpdateJob(ctx, job, core.ExpectAuthState(core.AuthStateInitial))
	if err != nil {
		return core.Job{}, err
	}
	p.metrics.IncCounter(ctx, "transfer.handoff.creds_available", 1, nil)

	if p.enqueuer != nil {
		msg := &core.JobExecutionMessage{
			JobID:      updated.ID.String(),
			ScriptPath: ClaimableJobScript,
			Parameters: map[string]any{
				"job_id":         updated.ID.String(),
				"export_service": updated.ExportService,
				"import_service": updated.ImportService,
				"data_vertical":  string(updated.Vertical),
			},
			IdempotencyKey: "transfer:claim:" + updated.ID.String(),
			DedupPolicy:    claimDedupPolicy,
		}
		if err := p.enqueuer.Enqueue(ctx, msg); err != nil {
			return core.Job{}, fmt.Errorf("handoff: enqueue claimable job %s: %w", updated.ID, err)
		}
	}
	p.logger.WithContext(ctx).Info("job credentials available",
		"job_id", updated.ID.String(),
		"data_vertical", string(updated.Vertical),
	)
	return updated, nil
}

// AwaitWorkerAssignment blocks until a worker has recorded its public key. It stops
// when ctx is done or when the configured assignment timeout elapses.
func (p *Protocol) AwaitWorkerAssignment(ctx context.Context, jobID uuid.UUID) (core.Job, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	waitCtx := ctx
	if p.config.AssignmentTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.config.AssignmentTimeout)
		defer cancel()
	}

	startedAt := time.Now()
	job, err := pollJob(waitCtx, p.jobs, jobID, p.config.PollInterval, func(job core.Job) (bool, error) {
		if job.State.IsTerminal() {
			return false, terminalError(job, "await worker assignment")
		}
		switch job.Authorization.State {
		case core.AuthStateCredsAvailable:
			return false, nil
		case core.AuthStateCredsEncryptionKeyGenerated:
			if strings.TrimSpace(job.Authorization.AuthPublicKey) == "" {
				return false, core.NewProtocolError(
					"worker claimed job without a public key",
					map[string]any{"job_id": job.ID.String()},
				)
			}
			// Encrypted credentials must not exist before the control plane seals them.
			if err := job.Authorization.Validate(); err != nil {
				return false, core.NewProtocolError(
					"worker assignment violates authorization invariants: "+err.Error(),
					map[string]any{"job_id": job.ID.String()},
				)
			}
			return true, nil
		default:
			return false, stateError(job, "await worker assignment", core.AuthStateCredsAvailable, core.AuthStateCredsEncryptionKeyGenerated)
		}
	})
	if err != nil {
		if waitCtx.Err() != nil && ctx.Err() == nil {
			p.metrics.IncCounter(ctx, "transfer.handoff.assignment_timeout", 1, nil)
			return core.Job{}, core.NewAssignmentTimeoutError(jobID, waitCtx.Err())
		}
		return core.Job{}, err
	}
	p.metrics.ObserveHistogram(ctx, "transfer.handoff.assignment_wait_ms", float64(time.Since(startedAt).Milliseconds()), nil)
	p.logger.WithContext(ctx).Info("worker assigned to job",
		"job_id", job.ID.String(),
		"instance_id", job.Authorization.InstanceID,
	)
	return job, nil
}

// EncryptAndStoreCredentials seals both credentials for the worker that claimed the
// job. The ephemeral key is destroyed before returning.
func (p *Protocol) EncryptAndStoreCredentials(ctx context.Context, jobID uuid.UUID, exportAuth core.AuthData, importAuth core.AuthData) (core.Job, error) {
	job, err := p.findActiveJob(ctx, jobID)
	if err != nil {
		return core.Job{}, err
	}
	if job.Authorization.State != core.AuthStateCredsEncryptionKeyGenerated {
		return core.Job{}, stateError(job, "encrypt credentials", core.AuthStateCredsEncryptionKeyGenerated)
	}
	if strings.TrimSpace(job.Authorization.AuthPublicKey) == "" {
		return core.Job{}, core.NewProtocolError(
			"job has no worker public key",
			map[string]any{"job_id": jobID.String()},
		)
	}
	workerKey, err := p.publicKeys.ParsePublicKey(job.Authorization.AuthPublicKey)
	if err != nil {
		return core.Job{}, core.NewProtocolError(
			"worker public key is invalid: "+err.Error(),
			map[string]any{"job_id": jobID.String()},
		)
	}

	key, err := p.symmetric.Generate()
	if err != nil {
		return core.Job{}, fmt.Errorf("handoff: generate ephemeral key: %w", err)
	}
	defer key.Destroy()

	if job.Authorization.EncryptedExportAuthData, err = sealAuthData(p.codec, key, exportAuth); err != nil {
		return core.Job{}, fmt.Errorf("handoff: encrypt export auth data: %w", err)
	}
	if job.Authorization.EncryptedImportAuthData, err = sealAuthData(p.codec, key, importAuth); err != nil {
		return core.Job{}, fmt.Errorf("handoff: encrypt import auth data: %w", err)
	}
	if job.Authorization.AuthSecretKey, err = workerKey.Encrypt([]byte(key.Encoded())); err != nil {
		return core.Job{}, fmt.Errorf("handoff: encrypt ephemeral key: %w", err)
	}
	job.Authorization.EncryptionScheme = p.config.EncryptionScheme
	job.Authorization.State = core.AuthStateCredsEncrypted

	updated, err := p.jobs.UpdateJob(ctx, job, core.ExpectAuthState(core.AuthStateCredsEncryptionKeyGenerated))
	if err != nil {
		return core.Job{}, err
	}
	p.metrics.IncCounter(ctx, "transfer.handoff.creds_encrypted", 1, nil)
	p.logger.WithContext(ctx).Info("job credentials encrypted",
		"job_id", updated.ID.String(),
		"instance_id", updated.Authorization.InstanceID,
	)
	return updated, nil
}

func (p *Protocol) findActiveJob(ctx context.Context, jobID uuid.UUID) (core.Job, error) {
	return findActiveJob(ctx, p.jobs, jobID)
}

func (p *Protocol) sessionKey(job core.Job) (core.SymmetricKey, error) {
	encoded := strings.TrimSpace(job.Authorization.SessionSecretKey)
	if encoded == "" {
		return nil, core.NewProtocolError(
			"job has no session key",
			map[string]any{"job_id": job.ID.String()},
		)
	}
	key, err := p.symmetric.Parse(encoded)
	if err != nil {
		return nil, fmt.Errorf("handoff: parse session key: %w", err)
	}
	return key, nil
}

var _ core.HandoffProtocol = (*Protocol)(nil)
