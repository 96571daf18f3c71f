package command

import (
	"strings"

	"github.com/goliatone/go-transfer/core"
	"github.com/google/uuid"
)

const (
	TypeCreateJob            = "transfer.command.job.create"
	TypeCancelJob            = "transfer.command.job.cancel"
	TypeStoreInitialAuthData = "transfer.command.auth.store_initial"
	TypeMarkCredsAvailable   = "transfer.command.auth.mark_available"
	TypeHandOff              = "transfer.command.auth.hand_off"
)

type CreateJobMessage struct {
	Input core.CreateJobInput
}

func (CreateJobMessage) Type() string { return TypeCreateJob }

func (m CreateJobMessage) Validate() error {
	if strings.TrimSpace(m.Input.ExportService) == "" {
		return commandValidationError("export_service", "export service is required")
	}
	if strings.TrimSpace(m.Input.ImportService) == "" {
		return commandValidationError("import_service", "import service is required")
	}
	if core.NormalizeVertical(string(m.Input.Vertical)) == "" {
		return commandValidationError("data_vertical", "data vertical is required")
	}
	return nil
}

type CancelJobMessage struct {
	JobID  uuid.UUID
	Reason string
}

func (CancelJobMessage) Type() string { return TypeCancelJob }

func (m CancelJobMessage) Validate() error {
	return validateJobID(m.JobID)
}

// StoreInitialAuthDataMessage carries both credentials captured by the
// authorization flow.
type StoreInitialAuthDataMessage struct {
	JobID      uuid.UUID
	ExportAuth core.AuthData
	ImportAuth core.AuthData
}

func (StoreInitialAuthDataMessage) Type() string { return TypeStoreInitialAuthData }

func (m StoreInitialAuthDataMessage) Validate() error {
	if err := validateJobID(m.JobID); err != nil {
		return err
	}
	return validateAuth(m.ExportAuth, m.ImportAuth)
}

type MarkCredsAvailableMessage struct {
	JobID uuid.UUID
}

func (MarkCredsAvailableMessage) Type() string { return TypeMarkCredsAvailable }

func (m MarkCredsAvailableMessage) Validate() error {
	return validateJobID(m.JobID)
}

// HandOffMessage waits for a worker to claim the job and seals the credentials
// for it.
type HandOffMessage struct {
	JobID      uuid.UUID
	ExportAuth core.AuthData
	ImportAuth core.AuthData
}

func (HandOffMessage) Type() string { return TypeHandOff }

func (m HandOffMessage) Validate() error {
	if err := validateJobID(m.JobID); err != nil {
		return err
	}
	return validateAuth(m.ExportAuth, m.ImportAuth)
}

func validateJobID(id uuid.UUID) error {
	if id == uuid.Nil {
		return commandValidationError("job_id", "job id is required")
	}
	return nil
}

func validateAuth(exportAuth core.AuthData, importAuth core.AuthData) error {
	if exportAuth.IsEmpty() {
		return commandValidationError("export_auth", "export credentials are required")
	}
	if importAuth.IsEmpty() {
		return commandValidationError("import_auth", "import credentials are required")
	}
	return nil
}
