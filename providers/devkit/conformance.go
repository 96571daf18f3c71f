package devkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-transfer/core"
	"github.com/google/uuid"
)

// ValidateConnectorConformance exports everything reachable from the root of
// exporter and checks that each page has a result type consistent with its
// continuation. It returns the number of items visited.
func ValidateConnectorConformance(ctx context.Context, exporter core.Exporter, auth core.AuthData) (int, error) {
	if exporter == nil {
		return 0, fmt.Errorf("devkit: exporter is required")
	}
	jobID := uuid.New()
	pending := []*core.ExportInformation{nil}
	visited := 0
	for len(pending) > 0 {
		info := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		visited++
		if visited > 10000 {
			return visited, fmt.Errorf("devkit: export did not terminate")
		}
		result, err := exporter.Export(ctx, jobID, auth, info)
		if err != nil {
			return visited, err
		}
		switch result.Type {
		case core.ResultTypeEnd:
			if !result.Continuation.IsEmpty() {
				return visited, fmt.Errorf("devkit: END result carries a continuation")
			}
		case core.ResultTypeContinue:
			if result.Continuation.IsEmpty() {
				return visited, fmt.Errorf("devkit: CONTINUE result has no continuation")
			}
		case core.ResultTypeError:
			if result.Err == nil {
				return visited, fmt.Errorf("devkit: ERROR result has no error")
			}
			return visited, result.Err
		default:
			return visited, fmt.Errorf("devkit: unknown result type %q", result.Type)
		}
		if result.Data != nil && result.Data.Vertical() == "" {
			return visited, fmt.Errorf("devkit: data model has no vertical")
		}
		if result.Continuation.IsEmpty() {
			continue
		}
		if next := result.Continuation.PaginationData; next != nil {
			page := &core.ExportInformation{PaginationData: &core.PaginationData{Token: next.Token}}
			if info != nil {
				page.ContainerResource = info.ContainerResource
			}
			pending = append(pending, page)
		}
		for _, resource := range result.Continuation.ContainerResources {
			resource := resource
			pending = append(pending, &core.ExportInformation{ContainerResource: &resource})
		}
	}
	return visited, nil
}

// ValidateJobStoreConformance runs a job through a full hand-off against store and
// checks the guarded update contract.
func ValidateJobStoreConformance(ctx context.Context, store core.JobStore) error {
	if store == nil {
		return fmt.Errorf("devkit: job store is required")
	}
	job, err := core.NewJob(core.CreateJobInput{
		ExportService: "devkit",
		ImportService: "devkit",
		Vertical:      core.VerticalPhotos,
		Metadata:      map[string]any{"source": "conformance"},
	}, time.Now().UTC())
	if err != nil {
		return err
	}
	created, err := store.CreateJob(ctx, job)
	if err != nil {
		return fmt.Errorf("devkit: create job: %w", err)
	}
	loaded, err := store.FindJob(ctx, created.ID)
	if err != nil {
		return fmt.Errorf("devkit: find job: %w", err)
	}
	if loaded.Authorization.State != core.AuthStateInitial || loaded.State != core.JobStateNew {
		return fmt.Errorf("devkit: new job loaded as %s/%s", loaded.State, loaded.Authorization.State)
	}
	if loaded.Metadata["source"] != "conformance" {
		return fmt.Errorf("devkit: job metadata was not persisted")
	}

	if _, err := store.FindJob(ctx, uuid.New()); !errors.Is(err, core.ErrJobNotFound) {
		return fmt.Errorf("devkit: expected ErrJobNotFound for unknown job, got %v", err)
	}

	skip := loaded
	skip.Authorization.State = core.AuthStateCredsEncrypted
	if _, err := store.UpdateJob(ctx, skip); err == nil {
		return fmt.Errorf("devkit: store accepted a skipped authorization state")
	}

	available := loaded
	available.Authorization.State = core.AuthStateCredsAvailable
	if _, err := store.UpdateJob(ctx, available, core.ExpectAuthState(core.AuthStateInitial)); err != nil {
		return fmt.Errorf("devkit: mark credentials available: %w", err)
	}
	if _, err := store.UpdateJob(ctx, available, core.ExpectAuthState(core.AuthStateInitial)); err == nil {
		return fmt.Errorf("devkit: stale guarded update was accepted")
	}

	pending, err := store.FindJobsByAuthState(ctx, core.AuthStateCredsAvailable, 0)
	if err != nil {
		return fmt.Errorf("devkit: find jobs by auth state: %w", err)
	}
	if !containsJob(pending, created.ID) {
		return fmt.Errorf("devkit: job missing from CREDS_AVAILABLE listing")
	}

	current, err := store.FindJob(ctx, created.ID)
	if err != nil {
		return err
	}
	finished, err := store.UpdateJob(ctx, core.FinishJob(current, core.JobStateCanceled, "conformance"))
	if err != nil {
		return fmt.Errorf("devkit: finish job: %w", err)
	}
	if finished.FailureReason != "conformance" {
		return fmt.Errorf("devkit: failure reason was not persisted")
	}
	pending, err = store.FindJobsByAuthState(ctx, core.AuthStateCredsAvailable, 0)
	if err != nil {
		return err
	}
	if containsJob(pending, created.ID) {
		return fmt.Errorf("devkit: terminal job listed as pending")
	}
	if err := store.ClearJobData(ctx, created.ID); err != nil {
		return fmt.Errorf("devkit: clear job data: %w", err)
	}
	return nil
}

// ValidateJobStackStoreConformance checks load, replace and delete of a stack.
func ValidateJobStackStoreConformance(ctx context.Context, store core.JobStackStore, jobID uuid.UUID) error {
	if store == nil {
		return fmt.Errorf("devkit: job stack store is required")
	}
	if _, found, err := store.LoadJobStack(ctx, jobID); err != nil {
		return err
	} else if found {
		return fmt.Errorf("devkit: stack found before it was stored")
	}
	first := []core.ExportInformation{
		{ContainerResource: &core.ContainerResource{Type: ContainerTypeAlbum, ID: "a"}},
		{PaginationData: &core.PaginationData{Token: "2"}},
	}
	if err := store.StoreJobStack(ctx, jobID, first); err != nil {
		return fmt.Errorf("devkit: store stack: %w", err)
	}
	second := first[:1]
	if err := store.StoreJobStack(ctx, jobID, second); err != nil {
		return fmt.Errorf("devkit: replace stack: %w", err)
	}
	loaded, found, err := store.LoadJobStack(ctx, jobID)
	if err != nil {
		return err
	}
	if !found || len(loaded) != 1 || loaded[0].ContainerResource == nil || loaded[0].ContainerResource.ID != "a" {
		return fmt.Errorf("devkit: stored stack was not replaced: %+v", loaded)
	}
	if err := store.DeleteJobStack(ctx, jobID); err != nil {
		return err
	}
	if _, found, err := store.LoadJobStack(ctx, jobID); err != nil {
		return err
	} else if found {
		return fmt.Errorf("devkit: stack survived delete")
	}
	return nil
}

// ValidateIdempotentResultStoreConformance checks that results are scoped per job
// and that a later success replaces a recorded failure.
func ValidateIdempotentResultStoreConformance(ctx context.Context, store core.IdempotentResultStore, jobID uuid.UUID) error {
	if store == nil {
		return fmt.Errorf("devkit: idempotent result store is required")
	}
	now := time.Now().UTC()
	if err := store.SaveResult(ctx, core.IdempotentResult{
		JobID: jobID, Key: "photo:1", DisplayName: "one", Failed: true, ErrorMessage: "timeout", UpdatedAt: now,
	}); err != nil {
		return fmt.Errorf("devkit: save failure: %w", err)
	}
	failures, err := store.ListFailures(ctx, jobID)
	if err != nil {
		return err
	}
	if len(failures) != 1 || failures[0].ErrorMessage != "timeout" {
		return fmt.Errorf("devkit: expected one failure, got %+v", failures)
	}
	if err := store.SaveResult(ctx, core.IdempotentResult{
		JobID: jobID, Key: "photo:1", DisplayName: "one", Result: "dest-1", UpdatedAt: now,
	}); err != nil {
		return fmt.Errorf("devkit: save success: %w", err)
	}
	loaded, found, err := store.GetResult(ctx, jobID, "photo:1")
	if err != nil {
		return err
	}
	if !found || loaded.Failed || loaded.Result != "dest-1" {
		return fmt.Errorf("devkit: success did not replace failure: %+v", loaded)
	}
	if _, found, err := store.GetResult(ctx, uuid.New(), "photo:1"); err != nil {
		return err
	} else if found {
		return fmt.Errorf("devkit: result leaked across jobs")
	}
	if err := store.DeleteJobResults(ctx, jobID); err != nil {
		return err
	}
	if _, found, err := store.GetResult(ctx, jobID, "photo:1"); err != nil {
		return err
	} else if found {
		return fmt.Errorf("devkit: result survived delete")
	}
	return nil
}

func containsJob(jobs []core.Job, id uuid.UUID) bool {
	for _, job := range jobs {
		if job.ID == id {
			return true
		}
	}
	return false
}
