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

// WorkerSide is the worker half of the hand-off.
type WorkerSide struct {
	jobs         core.JobStore
	keyPairs     core.KeyPairGenerator
	keyPair      core.KeyPair
	symmetric    core.SymmetricKeyGenerator
	codec        core.AuthDataCodec
	pollInterval time.Duration
	logger       core.Logger
	metrics      core.MetricsRecorder
}

type WorkerOption func(*WorkerSide)

func WithKeyPairGenerator(generator core.KeyPairGenerator) WorkerOption {
	return func(w *WorkerSide) {
		w.keyPairs = generator
	}
}

// WithKeyPair makes every claim use pair instead of generating a new one.
func WithKeyPair(pair core.KeyPair) WorkerOption {
	return func(w *WorkerSide) {
		w.keyPair = pair
	}
}

func WithWorkerSymmetricKeyGenerator(generator core.SymmetricKeyGenerator) WorkerOption {
	return func(w *WorkerSide) {
		w.symmetric = generator
	}
}

func WithWorkerAuthDataCodec(codec core.AuthDataCodec) WorkerOption {
	return func(w *WorkerSide) {
		w.codec = codec
	}
}

func WithPollInterval(interval time.Duration) WorkerOption {
	return func(w *WorkerSide) {
		w.pollInterval = interval
	}
}

func WithWorkerLogger(logger core.Logger) WorkerOption {
	return func(w *WorkerSide) {
		w.logger = logger
	}
}

func WithWorkerMetricsRecorder(recorder core.MetricsRecorder) WorkerOption {
	return func(w *WorkerSide) {
		w.metrics = recorder
	}
}

func NewWorkerSide(jobs core.JobStore, opts ...WorkerOption) (*WorkerSide, error) {
	if jobs == nil {
		return nil, fmt.Errorf("handoff: job store is required")
	}
	_, logger := glog.Resolve("transfer.handoff.worker", nil, nil)
	side := &WorkerSide{
		jobs:         jobs,
		keyPairs:     security.NewRSAKeyGenerator(),
		symmetric:    security.NewAESKeyGenerator(),
		codec:        core.JSONAuthDataCodec{},
		pollInterval: time.Second,
		logger:       logger,
		metrics:      core.NopMetricsRecorder{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(side)
		}
	}
	side.logger = glog.Ensure(side.logger)
	if side.metrics == nil {
		side.metrics = core.NopMetricsRecorder{}
	}
	if side.codec == nil {
		side.codec = core.JSONAuthDataCodec{}
	}
	if side.pollInterval <= 0 {
		side.pollInterval = time.Second
	}
	if side.keyPairs == nil && side.keyPair == nil {
		return nil, fmt.Errorf("handoff: key pair generator is required")
	}
	if side.symmetric == nil {
		return nil, fmt.Errorf("handoff: symmetric key generator is required")
	}
	return side, nil
}

// Claim records this worker's public key on a CREDS_AVAILABLE job. The update is
// conditional on the stored state so two workers cannot both claim the job.
func (w *WorkerSide) Claim(ctx context.Context, jobID uuid.UUID, instanceID string) (core.Job, core.KeyPair, error) {
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return core.Job{}, nil, fmt.Errorf("handoff: instance id is required")
	}
	job, err := findActiveJob(ctx, w.jobs, jobID)
	if err != nil {
		return core.Job{}, nil, err
	}
	if job.Authorization.State != core.AuthStateCredsAvailable {
		return core.Job{}, nil, stateError(job, "claim job", core.AuthStateCredsAvailable)
	}

	pair := w.keyPair
	if pair == nil {
		pair, err = w.keyPairs.GenerateKeyPair()
		if err != nil {
			return core.Job{}, nil, fmt.Errorf("handoff: generate key pair: %w", err)
		}
	}
	publicKey, err := pair.EncodedPublicKey()
	if err != nil {
		return core.Job{}, nil, fmt.Errorf("handoff: encode public key: %w", err)
	}

	job.Authorization.AuthPublicKey = publicKey
	job.Authorization.InstanceID = instanceID
	job.Authorization.State = core.AuthStateCredsEncryptionKeyGenerated
	updated, err := w.jobs.UpdateJob(ctx, job, core.ExpectAuthState(core.AuthStateCredsAvailable))
	if err != nil {
		return core.Job{}, nil, err
	}
	w.metrics.IncCounter(ctx, "transfer.handoff.claimed", 1, nil)
	w.logger.WithContext(ctx).Info("job claimed",
		"job_id", updated.ID.String(),
		"instance_id", instanceID,
	)
	return updated, pair, nil
}

// AwaitCredentials blocks until the control plane has sealed the credentials.
func (w *WorkerSide) AwaitCredentials(ctx context.Context, jobID uuid.UUID) (core.Job, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return pollJob(ctx, w.jobs, jobID, w.pollInterval, func(job core.Job) (bool, error) {
		if job.State.IsTerminal() {
			return false, terminalError(job, "await credentials")
		}
		switch job.Authorization.State {
		case core.AuthStateCredsEncryptionKeyGenerated:
			return false, nil
		case core.AuthStateCredsEncrypted:
			return true, nil
		default:
			return false, stateError(job, "await credentials", core.AuthStateCredsEncryptionKeyGenerated, core.AuthStateCredsEncrypted)
		}
	})
}

// DecryptCredentials opens the ephemeral key with pair and then both credentials.
func (w *WorkerSide) DecryptCredentials(ctx context.Context, job core.Job, pair core.KeyPair) (core.AuthData, core.AuthData, error) {
	auth := job.Authorization
	if auth.State != core.AuthStateCredsEncrypted {
		return core.AuthData{}, core.AuthData{}, stateError(job, "decrypt credentials", core.AuthStateCredsEncrypted)
	}
	if pair == nil {
		return core.AuthData{}, core.AuthData{}, fmt.Errorf("handoff: key pair is required")
	}
	if scheme := strings.TrimSpace(auth.EncryptionScheme); scheme != "" && scheme != core.EncryptionSchemeAESGCMRSAOAEP {
		return core.AuthData{}, core.AuthData{}, core.NewProtocolError(
			fmt.Sprintf("unsupported encryption scheme %q", scheme),
			map[string]any{"job_id": job.ID.String()},
		)
	}
	publicKey, err := pair.EncodedPublicKey()
	if err != nil {
		return core.AuthData{}, core.AuthData{}, fmt.Errorf("handoff: encode public key: %w", err)
	}
	if publicKey != auth.AuthPublicKey {
		return core.AuthData{}, core.AuthData{}, core.NewProtocolError(
			"credentials were sealed for a different key pair",
			map[string]any{
				"job_id":      job.ID.String(),
				"instance_id": auth.InstanceID,
			},
		)
	}

	encodedKey, err := pair.Decrypt(auth.AuthSecretKey)
	if err != nil {
		return core.AuthData{}, core.AuthData{}, fmt.Errorf("handoff: decrypt ephemeral key: %w", err)
	}
	key, err := w.symmetric.Parse(string(encodedKey))
	wipe(encodedKey)
	if err != nil {
		return core.AuthData{}, core.AuthData{}, fmt.Errorf("handoff: parse ephemeral key: %w", err)
	}
	defer key.Destroy()

	exportAuth, err := openAuthData(w.codec, key, auth.EncryptedExportAuthData)
	if err != nil {
		return core.AuthData{}, core.AuthData{}, fmt.Errorf("handoff: decrypt export auth data: %w", err)
	}
	importAuth, err := openAuthData(w.codec, key, auth.EncryptedImportAuthData)
	if err != nil {
		return core.AuthData{}, core.AuthData{}, fmt.Errorf("handoff: decrypt import auth data: %w", err)
	}
	w.logger.WithContext(ctx).Debug("job credentials decrypted", "job_id", job.ID.String())
	return exportAuth, importAuth, nil
}
