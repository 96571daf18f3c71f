package core

import (
	"context"

	"github.com/google/uuid"
)

type jobContextKey struct{}

// ContextWithJobID records the job being processed. The id is carried for logging
// only; engine components always receive the job id as an explicit argument.
func ContextWithJobID(ctx context.Context, jobID uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, jobContextKey{}, jobID)
}

func JobIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	jobID, ok := ctx.Value(jobContextKey{}).(uuid.UUID)
	if !ok || jobID == uuid.Nil {
		return uuid.Nil, false
	}
	return jobID, true
}
