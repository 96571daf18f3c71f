package copier

import (
	"context"
	"fmt"

	"github.com/goliatone/go-transfer/core"
	"github.com/google/uuid"
)

// StackHook persists the pending work stack between items. The slice is ordered
// bottom to top; the last element is processed next.
type StackHook interface {
	Load(ctx context.Context, jobID uuid.UUID) ([]core.ExportInformation, bool, error)
	Store(ctx context.Context, jobID uuid.UUID, stack []core.ExportInformation) error
	Clear(ctx context.Context, jobID uuid.UUID) error
}

// NopStackHook keeps nothing. A failed job starts over from the initial item.
type NopStackHook struct{}

func (NopStackHook) Load(context.Context, uuid.UUID) ([]core.ExportInformation, bool, error) {
	return nil, false, nil
}

func (NopStackHook) Store(context.Context, uuid.UUID, []core.ExportInformation) error {
	return nil
}

func (NopStackHook) Clear(context.Context, uuid.UUID) error {
	return nil
}

// JobStackHook writes the stack through a core.JobStackStore so a restarted worker
// resumes at the item that was in flight.
type JobStackHook struct {
	store core.JobStackStore
}

func NewJobStackHook(store core.JobStackStore) (*JobStackHook, error) {
	if store == nil {
		return nil, fmt.Errorf("copier: job stack store is required")
	}
	return &JobStackHook{store: store}, nil
}

func (h *JobStackHook) Load(ctx context.Context, jobID uuid.UUID) ([]core.ExportInformation, bool, error) {
	stack, found, err := h.store.LoadJobStack(ctx, jobID)
	if err != nil {
		return nil, false, fmt.Errorf("copier: load stack for job %s: %w", jobID, err)
	}
	return stack, found && len(stack) > 0, nil
}

func (h *JobStackHook) Store(ctx context.Context, jobID uuid.UUID, stack []core.ExportInformation) error {
	if err := h.store.StoreJobStack(ctx, jobID, stack); err != nil {
		return fmt.Errorf("copier: store stack for job %s: %w", jobID, err)
	}
	return nil
}

func (h *JobStackHook) Clear(ctx context.Context, jobID uuid.UUID) error {
	if err := h.store.DeleteJobStack(ctx, jobID); err != nil {
		return fmt.Errorf("copier: clear stack for job %s: %w", jobID, err)
	}
	return nil
}

var (
	_ StackHook = NopStackHook{}
	_ StackHook = (*JobStackHook)(nil)
)
