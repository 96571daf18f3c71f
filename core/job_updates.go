package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewJob builds a NEW job in the INITIAL authorization state.
func NewJob(input CreateJobInput, now time.Time) (Job, error) {
	job := Job{
		ID:            uuid.New(),
		State:         JobStateNew,
		ExportService: input.ExportService,
		ImportService: input.ImportService,
		Vertical:      NormalizeVertical(string(input.Vertical)),
		Metadata:      CopyMetadata(input.Metadata),
		Authorization: JobAuthorization{State: AuthStateInitial},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := job.ValidateTransferTargets(); err != nil {
		return Job{}, err
	}
	return job, nil
}

// PrepareJobUpdate checks that next is a legal successor of previous. Stores call it
// inside their read-modify-write so every persisted job obeys the hand-off ordering.
func PrepareJobUpdate(previous Job, next Job, now time.Time, validators ...JobUpdateValidator) (Job, error) {
	if previous.ID != next.ID {
		return Job{}, fmt.Errorf("core: job id mismatch %s != %s", previous.ID, next.ID)
	}
	for _, validator := range validators {
		if validator == nil {
			continue
		}
		if err := validator(previous); err != nil {
			return Job{}, err
		}
	}
	if previous.State.IsTerminal() && next.State != previous.State {
		return Job{}, fmt.Errorf("core: job %s state transition %s -> %s is not allowed", next.ID, previous.State, next.State)
	}
	if err := ValidateAuthTransition(previous.Authorization.State, next.Authorization.State); err != nil {
		return Job{}, err
	}
	if next.Authorization.State == "" {
		next.Authorization.State = AuthStateInitial
	}
	if next.State == "" {
		next.State = previous.State
	}
	if err := next.Validate(); err != nil {
		return Job{}, err
	}
	next.CreatedAt = previous.CreatedAt
	next.UpdatedAt = now
	return next, nil
}

// FinishJob moves a job into a terminal state and drops its secrets.
func FinishJob(job Job, state JobState, reason string) Job {
	job.State = state
	job.FailureReason = reason
	job.Authorization = job.Authorization.ClearSecrets()
	return job
}
