package transfer

import (
	"context"
	"testing"

	transfercommand "github.com/goliatone/go-transfer/command"
	"github.com/goliatone/go-transfer/core"
	transferquery "github.com/goliatone/go-transfer/query"
	"github.com/google/uuid"
)

func TestNewFacade_WiresCommandsAndQueries(t *testing.T) {
	facade, err := NewFacade(&stubFacadeService{})
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	commands := facade.Commands()
	if commands.CreateJob == nil || commands.CancelJob == nil || commands.StoreInitialAuthData == nil ||
		commands.MarkCredsAvailable == nil || commands.HandOff == nil {
		t.Fatalf("expected command handlers to be wired")
	}
	queries := facade.Queries()
	if queries.GetJob == nil || queries.ImportFailures == nil {
		t.Fatalf("expected query handlers to be wired")
	}
	if facade.Service() == nil {
		t.Fatalf("expected service accessor")
	}
}

func TestNewFacade_RequiresService(t *testing.T) {
	if _, err := NewFacade(nil); err == nil {
		t.Fatalf("expected missing service to fail")
	}
	var facade *Facade
	if facade.Service() != nil || facade.Commands().CreateJob != nil || facade.Queries().GetJob != nil {
		t.Fatalf("expected nil facade to expose nothing")
	}
}

func TestFacade_CommandAndQueryDelegation(t *testing.T) {
	svc := &stubFacadeService{}
	facade, err := NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	jobID := uuid.New()

	if err := facade.Commands().CancelJob.Execute(context.Background(), transfercommand.CancelJobMessage{
		JobID:  jobID,
		Reason: "manual",
	}); err != nil {
		t.Fatalf("execute cancel command: %v", err)
	}
	if svc.lastCancelJobID != jobID || svc.lastCancelReason != "manual" {
		t.Fatalf("unexpected cancel delegation payload")
	}

	job, err := facade.Queries().GetJob.Query(context.Background(), transferquery.GetJobMessage{JobID: jobID})
	if err != nil {
		t.Fatalf("query job: %v", err)
	}
	if job.ID != jobID || job.State != core.JobStateCanceled {
		t.Fatalf("unexpected job query result: %#v", job)
	}

	failures, err := facade.Queries().ImportFailures.Query(context.Background(), transferquery.ImportFailuresMessage{JobID: jobID})
	if err != nil {
		t.Fatalf("query import failures: %v", err)
	}
	if len(failures) != 1 || failures[0].Key != "photo:1" {
		t.Fatalf("unexpected import failures: %#v", failures)
	}
}

type stubFacadeService struct {
	lastCancelJobID  uuid.UUID
	lastCancelReason string
}

func (s *stubFacadeService) CreateJob(_ context.Context, input core.CreateJobInput) (core.Job, error) {
	return core.Job{ID: uuid.New(), ExportService: input.ExportService, ImportService: input.ImportService}, nil
}

func (s *stubFacadeService) CancelJob(_ context.Context, jobID uuid.UUID, reason string) (core.Job, error) {
	s.lastCancelJobID = jobID
	s.lastCancelReason = reason
	return core.Job{ID: jobID, State: core.JobStateCanceled}, nil
}

func (s *stubFacadeService) StoreInitialAuthData(_ context.Context, jobID uuid.UUID, _ core.AuthData, _ core.AuthData) (core.Job, error) {
	return core.Job{ID: jobID}, nil
}

func (s *stubFacadeService) MarkCredsAvailable(_ context.Context, jobID uuid.UUID) (core.Job, error) {
	return core.Job{ID: jobID}, nil
}

func (s *stubFacadeService) HandOff(_ context.Context, jobID uuid.UUID, _ core.AuthData, _ core.AuthData) (core.Job, error) {
	return core.Job{ID: jobID}, nil
}

func (s *stubFacadeService) GetJob(_ context.Context, jobID uuid.UUID) (core.Job, error) {
	return core.Job{ID: jobID, State: core.JobStateCanceled}, nil
}

func (s *stubFacadeService) ImportFailures(context.Context, uuid.UUID) ([]core.ImportFailure, error) {
	return []core.ImportFailure{{Key: "photo:1", ErrorMessage: "timeout"}}, nil
}
