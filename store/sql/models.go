package sqlstore

import (
	"time"

	"github.com/goliatone/go-transfer/core"
	"github.com/uptrace/bun"
)

type jobRecord struct {
	bun.BaseModel `bun:"table:transfer_jobs,alias:tj"`

	ID                             string         `bun:"id,pk"`
	State                          string         `bun:"state,notnull"`
	ExportService                  string         `bun:"export_service,notnull"`
	ImportService                  string         `bun:"import_service,notnull"`
	DataVertical                   string         `bun:"data_vertical,notnull"`
	FailureReason                  string         `bun:"failure_reason,notnull"`
	AuthState                      string         `bun:"auth_state,notnull"`
	SessionSecretKey               string         `bun:"session_secret_key,notnull"`
	EncryptedInitialExportAuthData string         `bun:"encrypted_initial_export_auth_data,notnull"`
	EncryptedInitialImportAuthData string         `bun:"encrypted_initial_import_auth_data,notnull"`
	AuthPublicKey                  string         `bun:"auth_public_key,notnull"`
	EncryptedExportAuthData        string         `bun:"encrypted_export_auth_data,notnull"`
	EncryptedImportAuthData        string         `bun:"encrypted_import_auth_data,notnull"`
	AuthSecretKey                  string         `bun:"auth_secret_key,notnull"`
	EncryptionScheme               string         `bun:"encryption_scheme,notnull"`
	InstanceID                     string         `bun:"instance_id,notnull"`
	Metadata                       map[string]any `bun:"metadata,type:jsonb,notnull"`
	Version                        int64          `bun:"version,notnull"`
	CreatedAt                      time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt                      time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type jobStackRecord struct {
	bun.BaseModel `bun:"table:transfer_job_stacks,alias:tjs"`

	JobID     string                   `bun:"job_id,pk"`
	Stack     []core.ExportInformation `bun:"stack,type:jsonb,notnull"`
	Depth     int                      `bun:"depth,notnull"`
	CreatedAt time.Time                `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time                `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type idempotentResultRecord struct {
	bun.BaseModel `bun:"table:transfer_idempotent_results,alias:tir"`

	ID             string    `bun:"id,pk"`
	JobID          string    `bun:"job_id,notnull"`
	IdempotencyKey string    `bun:"idempotency_key,notnull"`
	DisplayName    string    `bun:"display_name,notnull"`
	Result         string    `bun:"result,notnull"`
	Failed         bool      `bun:"failed,notnull"`
	ErrorMessage   string    `bun:"error_message,notnull"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r *jobRecord) toDomain() core.Job {
	if r == nil {
		return core.Job{}
	}
	return core.Job{
		ID:            parseUUID(r.ID),
		State:         core.JobState(r.State),
		ExportService: r.ExportService,
		ImportService: r.ImportService,
		Vertical:      core.DataVertical(r.DataVertical),
		FailureReason: r.FailureReason,
		Authorization: core.JobAuthorization{
			State:                          core.AuthState(r.AuthState),
			SessionSecretKey:               r.SessionSecretKey,
			EncryptedInitialExportAuthData: r.EncryptedInitialExportAuthData,
			EncryptedInitialImportAuthData: r.EncryptedInitialImportAuthData,
			AuthPublicKey:                  r.AuthPublicKey,
			EncryptedExportAuthData:        r.EncryptedExportAuthData,
			EncryptedImportAuthData:        r.EncryptedImportAuthData,
			AuthSecretKey:                  r.AuthSecretKey,
			EncryptionScheme:               r.EncryptionScheme,
			InstanceID:                     r.InstanceID,
		},
		Metadata:  core.CopyMetadata(r.Metadata),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func newJobRecord(job core.Job) *jobRecord {
	auth := job.Authorization
	return &jobRecord{
		ID:                             job.ID.String(),
		State:                          string(job.State),
		ExportService:                  job.ExportService,
		ImportService:                  job.ImportService,
		DataVertical:                   string(job.Vertical),
		FailureReason:                  job.FailureReason,
		AuthState:                      string(auth.State),
		SessionSecretKey:               auth.SessionSecretKey,
		EncryptedInitialExportAuthData: auth.EncryptedInitialExportAuthData,
		EncryptedInitialImportAuthData: auth.EncryptedInitialImportAuthData,
		AuthPublicKey:                  auth.AuthPublicKey,
		EncryptedExportAuthData:        auth.EncryptedExportAuthData,
		EncryptedImportAuthData:        auth.EncryptedImportAuthData,
		AuthSecretKey:                  auth.AuthSecretKey,
		EncryptionScheme:               auth.EncryptionScheme,
		InstanceID:                     auth.InstanceID,
		Metadata:                       core.CopyMetadata(job.Metadata),
		CreatedAt:                      job.CreatedAt,
		UpdatedAt:                      job.UpdatedAt,
	}
}

func (r *idempotentResultRecord) toDomain() core.IdempotentResult {
	if r == nil {
		return core.IdempotentResult{}
	}
	return core.IdempotentResult{
		JobID:        parseUUID(r.JobID),
		Key:          r.IdempotencyKey,
		DisplayName:  r.DisplayName,
		Result:       r.Result,
		Failed:       r.Failed,
		ErrorMessage: r.ErrorMessage,
		UpdatedAt:    r.UpdatedAt,
	}
}

func copyStack(stack []core.ExportInformation) []core.ExportInformation {
	if len(stack) == 0 {
		return []core.ExportInformation{}
	}
	return append([]core.ExportInformation(nil), stack...)
}
