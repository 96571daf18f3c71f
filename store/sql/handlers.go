package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func jobHandlers() repository.ModelHandlers[*jobRecord] {
	return repository.ModelHandlers[*jobRecord]{
		NewRecord: func() *jobRecord {
			return &jobRecord{}
		},
		GetID: func(record *jobRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *jobRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *jobRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func jobStackHandlers() repository.ModelHandlers[*jobStackRecord] {
	return repository.ModelHandlers[*jobStackRecord]{
		NewRecord: func() *jobStackRecord {
			return &jobStackRecord{}
		},
		GetID: func(record *jobStackRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.JobID)
		},
		SetID: func(record *jobStackRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.JobID = id.String()
		},
		GetIdentifier: func() string {
			return "job_id"
		},
		GetIdentifierValue: func(record *jobStackRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.JobID)
		},
	}
}

func idempotentResultHandlers() repository.ModelHandlers[*idempotentResultRecord] {
	return repository.ModelHandlers[*idempotentResultRecord]{
		NewRecord: func() *idempotentResultRecord {
			return &idempotentResultRecord{}
		},
		GetID: func(record *idempotentResultRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *idempotentResultRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *idempotentResultRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
