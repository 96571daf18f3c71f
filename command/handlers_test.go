package command

import (
	"context"
	"fmt"
	"testing"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-transfer/core"
	"github.com/google/uuid"
)

func TestCreateJobCommand_ExecuteDelegatesAndStoresResult(t *testing.T) {
	expected := core.Job{ID: uuid.New(), State: core.JobStateNew, ExportService: "source", ImportService: "dest"}
	called := false

	svc := stubMutatingService{
		createJobFn: func(_ context.Context, input core.CreateJobInput) (core.Job, error) {
			called = true
			if input.ExportService != "source" || input.Vertical != core.VerticalPhotos {
				t.Fatalf("unexpected create job input: %#v", input)
			}
			return expected, nil
		},
	}

	cmd := NewCreateJobCommand(svc)
	collector := gocmd.NewResult[core.Job]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := cmd.Execute(ctx, CreateJobMessage{Input: core.CreateJobInput{
		ExportService: "source",
		ImportService: "dest",
		Vertical:      core.VerticalPhotos,
	}})
	if err != nil {
		t.Fatalf("execute create job: %v", err)
	}
	if !called {
		t.Fatalf("expected create job service invocation")
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected result to be stored")
	}
	if result.ID != expected.ID {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestJobCommands_DelegateToService(t *testing.T) {
	jobID := uuid.New()
	exportAuth := core.AuthData{AccessToken: "export-token"}
	importAuth := core.AuthData{AccessToken: "import-token"}

	t.Run("cancel", func(t *testing.T) {
		called := false
		svc := stubMutatingService{
			cancelJobFn: func(_ context.Context, id uuid.UUID, reason string) (core.Job, error) {
				called = true
				if id != jobID || reason != "user request" {
					t.Fatalf("unexpected cancel payload: %s %q", id, reason)
				}
				return core.Job{ID: id, State: core.JobStateCanceled}, nil
			},
		}
		collector := gocmd.NewResult[core.Job]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		if err := NewCancelJobCommand(svc).Execute(ctx, CancelJobMessage{JobID: jobID, Reason: "user request"}); err != nil {
			t.Fatalf("execute cancel: %v", err)
		}
		if !called {
			t.Fatalf("expected cancel invocation")
		}
		if result, ok := collector.Load(); !ok || result.State != core.JobStateCanceled {
			t.Fatalf("expected canceled job result, got %#v", result)
		}
	})

	t.Run("store initial auth data", func(t *testing.T) {
		called := false
		svc := stubMutatingService{
			storeInitialAuthDataFn: func(_ context.Context, id uuid.UUID, exp core.AuthData, imp core.AuthData) (core.Job, error) {
				called = true
				if id != jobID || exp.AccessToken != "export-token" || imp.AccessToken != "import-token" {
					t.Fatalf("unexpected initial auth payload")
				}
				return core.Job{ID: id}, nil
			},
		}
		err := NewStoreInitialAuthDataCommand(svc).Execute(context.Background(), StoreInitialAuthDataMessage{
			JobID:      jobID,
			ExportAuth: exportAuth,
			ImportAuth: importAuth,
		})
		if err != nil {
			t.Fatalf("execute store initial auth data: %v", err)
		}
		if !called {
			t.Fatalf("expected store initial auth data invocation")
		}
	})

	t.Run("mark creds available", func(t *testing.T) {
		called := false
		svc := stubMutatingService{
			markCredsAvailableFn: func(_ context.Context, id uuid.UUID) (core.Job, error) {
				called = true
				return core.Job{ID: id, Authorization: core.JobAuthorization{State: core.AuthStateCredsAvailable}}, nil
			},
		}
		if err := NewMarkCredsAvailableCommand(svc).Execute(context.Background(), MarkCredsAvailableMessage{JobID: jobID}); err != nil {
			t.Fatalf("execute mark creds available: %v", err)
		}
		if !called {
			t.Fatalf("expected mark creds available invocation")
		}
	})

	t.Run("hand off", func(t *testing.T) {
		svc := stubMutatingService{
			handOffFn: func(_ context.Context, id uuid.UUID, exp core.AuthData, imp core.AuthData) (core.Job, error) {
				return core.Job{ID: id, Authorization: core.JobAuthorization{State: core.AuthStateCredsEncrypted, InstanceID: "worker-1"}}, nil
			},
		}
		collector := gocmd.NewResult[core.Job]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		err := NewHandOffCommand(svc).Execute(ctx, HandOffMessage{JobID: jobID, ExportAuth: exportAuth, ImportAuth: importAuth})
		if err != nil {
			t.Fatalf("execute hand off: %v", err)
		}
		result, ok := collector.Load()
		if !ok || result.Authorization.InstanceID != "worker-1" {
			t.Fatalf("expected sealed job result, got %#v", result)
		}
	})
}

func TestJobCommands_ValidateBeforeDelegating(t *testing.T) {
	svc := stubMutatingService{}
	ctx := context.Background()

	if err := NewCancelJobCommand(svc).Execute(ctx, CancelJobMessage{}); err == nil {
		t.Fatalf("expected missing job id to fail")
	}
	err := NewStoreInitialAuthDataCommand(svc).Execute(ctx, StoreInitialAuthDataMessage{
		JobID:      uuid.New(),
		ExportAuth: core.AuthData{AccessToken: "export-token"},
	})
	if err == nil {
		t.Fatalf("expected missing import credentials to fail")
	}
	if err := NewHandOffCommand(svc).Execute(ctx, HandOffMessage{JobID: uuid.New()}); err == nil {
		t.Fatalf("expected missing credentials to fail")
	}
	if err := NewCreateJobCommand(svc).Execute(ctx, CreateJobMessage{Input: core.CreateJobInput{
		ExportService: "source",
		ImportService: "dest",
	}}); err == nil {
		t.Fatalf("expected missing vertical to fail")
	}
}

func TestCommand_PropagatesServiceError(t *testing.T) {
	svc := stubMutatingService{
		cancelJobFn: func(context.Context, uuid.UUID, string) (core.Job, error) {
			return core.Job{}, core.ErrJobNotFound
		},
	}
	collector := gocmd.NewResult[core.Job]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	err := NewCancelJobCommand(svc).Execute(ctx, CancelJobMessage{JobID: uuid.New()})
	if err != core.ErrJobNotFound {
		t.Fatalf("expected service error, got %v", err)
	}
	if _, ok := collector.Load(); ok {
		t.Fatalf("expected no result on failure")
	}
}

type stubMutatingService struct {
	createJobFn            func(context.Context, core.CreateJobInput) (core.Job, error)
	cancelJobFn            func(context.Context, uuid.UUID, string) (core.Job, error)
	storeInitialAuthDataFn func(context.Context, uuid.UUID, core.AuthData, core.AuthData) (core.Job, error)
	markCredsAvailableFn   func(context.Context, uuid.UUID) (core.Job, error)
	handOffFn              func(context.Context, uuid.UUID, core.AuthData, core.AuthData) (core.Job, error)
}

func (s stubMutatingService) CreateJob(ctx context.Context, input core.CreateJobInput) (core.Job, error) {
	if s.createJobFn == nil {
		return core.Job{}, fmt.Errorf("create job not configured")
	}
	return s.createJobFn(ctx, input)
}

func (s stubMutatingService) CancelJob(ctx context.Context, jobID uuid.UUID, reason string) (core.Job, error) {
	if s.cancelJobFn == nil {
		return core.Job{}, fmt.Errorf("cancel job not configured")
	}
	return s.cancelJobFn(ctx, jobID, reason)
}

func (s stubMutatingService) StoreInitialAuthData(
	ctx context.Context,
	jobID uuid.UUID,
	exportAuth core.AuthData,
	importAuth core.AuthData,
) (core.Job, error) {
	if s.storeInitialAuthDataFn == nil {
		return core.Job{}, fmt.Errorf("store initial auth data not configured")
	}
	return s.storeInitialAuthDataFn(ctx, jobID, exportAuth, importAuth)
}

func (s stubMutatingService) MarkCredsAvailable(ctx context.Context, jobID uuid.UUID) (core.Job, error) {
	if s.markCredsAvailableFn == nil {
		return core.Job{}, fmt.Errorf("mark creds available not configured")
	}
	return s.markCredsAvailableFn(ctx, jobID)
}

func (s stubMutatingService) HandOff(
	ctx context.Context,
	jobID uuid.UUID,
	exportAuth core.AuthData,
	importAuth core.AuthData,
) (core.Job, error) {
	if s.handOffFn == nil {
		return core.Job{}, fmt.Errorf("hand off not configured")
	}
	return s.handOffFn(ctx, jobID, exportAuth, importAuth)
}

var _ MutatingService = stubMutatingService{}
