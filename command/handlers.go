package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-transfer/core"
	"github.com/google/uuid"
)

type MutatingService interface {
	CreateJob(ctx context.Context, input core.CreateJobInput) (core.Job, error)
	CancelJob(ctx context.Context, jobID uuid.UUID, reason string) (core.Job, error)
	StoreInitialAuthData(ctx context.Context, jobID uuid.UUID, exportAuth core.AuthData, importAuth core.AuthData) (core.Job, error)
	MarkCredsAvailable(ctx context.Context, jobID uuid.UUID) (core.Job, error)
	HandOff(ctx context.Context, jobID uuid.UUID, exportAuth core.AuthData, importAuth core.AuthData) (core.Job, error)
}

type CreateJobCommand struct {
	service MutatingService
}

func NewCreateJobCommand(service MutatingService) *CreateJobCommand {
	return &CreateJobCommand{service: service}
}

func (c *CreateJobCommand) Execute(ctx context.Context, msg CreateJobMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: job service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	job, err := c.service.CreateJob(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, job)
	return nil
}

type CancelJobCommand struct {
	service MutatingService
}

func NewCancelJobCommand(service MutatingService) *CancelJobCommand {
	return &CancelJobCommand{service: service}
}

func (c *CancelJobCommand) Execute(ctx context.Context, msg CancelJobMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: job service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	job, err := c.service.CancelJob(ctx, msg.JobID, msg.Reason)
	if err != nil {
		return err
	}
	storeResult(ctx, job)
	return nil
}

type StoreInitialAuthDataCommand struct {
	service MutatingService
}

func NewStoreInitialAuthDataCommand(service MutatingService) *StoreInitialAuthDataCommand {
	return &StoreInitialAuthDataCommand{service: service}
}

func (c *StoreInitialAuthDataCommand) Execute(ctx context.Context, msg StoreInitialAuthDataMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: hand-off service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	job, err := c.service.StoreInitialAuthData(ctx, msg.JobID, msg.ExportAuth, msg.ImportAuth)
	if err != nil {
		return err
	}
	storeResult(ctx, job)
	return nil
}

type MarkCredsAvailableCommand struct {
	service MutatingService
}

func NewMarkCredsAvailableCommand(service MutatingService) *MarkCredsAvailableCommand {
	return &MarkCredsAvailableCommand{service: service}
}

func (c *MarkCredsAvailableCommand) Execute(ctx context.Context, msg MarkCredsAvailableMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: hand-off service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	job, err := c.service.MarkCredsAvailable(ctx, msg.JobID)
	if err != nil {
		return err
	}
	storeResult(ctx, job)
	return nil
}

// HandOffCommand blocks until a worker claims the job, so dispatch it from a
// context whose deadline covers the assignment timeout.
type HandOffCommand struct {
	service MutatingService
}

func NewHandOffCommand(service MutatingService) *HandOffCommand {
	return &HandOffCommand{service: service}
}

func (c *HandOffCommand) Execute(ctx context.Context, msg HandOffMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: hand-off service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	job, err := c.service.HandOff(ctx, msg.JobID, msg.ExportAuth, msg.ImportAuth)
	if err != nil {
		return err
	}
	storeResult(ctx, job)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
