package query

import (
	"github.com/google/uuid"
)

const (
	TypeGetJob         = "transfer.query.job.get"
	TypeImportFailures = "transfer.query.job.import_failures"
)

type GetJobMessage struct {
	JobID uuid.UUID
}

func (GetJobMessage) Type() string { return TypeGetJob }

func (m GetJobMessage) Validate() error {
	return validateJobID(m.JobID)
}

// ImportFailuresMessage asks for the items a job could not import. The report is
// available while the job runs and after it completes.
type ImportFailuresMessage struct {
	JobID uuid.UUID
}

func (ImportFailuresMessage) Type() string { return TypeImportFailures }

func (m ImportFailuresMessage) Validate() error {
	return validateJobID(m.JobID)
}

func validateJobID(id uuid.UUID) error {
	if id == uuid.Nil {
		return queryValidationError("job_id", "job id is required")
	}
	return nil
}
