package query

import (
	"context"

	"github.com/goliatone/go-transfer/core"
	"github.com/google/uuid"
)

type JobReader interface {
	GetJob(ctx context.Context, jobID uuid.UUID) (core.Job, error)
}

type ImportFailureReader interface {
	ImportFailures(ctx context.Context, jobID uuid.UUID) ([]core.ImportFailure, error)
}

type GetJobQuery struct {
	reader JobReader
}

func NewGetJobQuery(reader JobReader) *GetJobQuery {
	return &GetJobQuery{reader: reader}
}

func (q *GetJobQuery) Query(ctx context.Context, msg GetJobMessage) (core.Job, error) {
	if q == nil || q.reader == nil {
		return core.Job{}, queryDependencyError("query: job reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.Job{}, err
	}
	return q.reader.GetJob(ctx, msg.JobID)
}

type ImportFailuresQuery struct {
	reader ImportFailureReader
}

func NewImportFailuresQuery(reader ImportFailureReader) *ImportFailuresQuery {
	return &ImportFailuresQuery{reader: reader}
}

func (q *ImportFailuresQuery) Query(ctx context.Context, msg ImportFailuresMessage) ([]core.ImportFailure, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: import failure reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.reader.ImportFailures(ctx, msg.JobID)
}
