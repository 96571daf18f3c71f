package handoff

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-transfer/core"
	"github.com/google/uuid"
)

// pollJob loads the job immediately and then on every tick until check reports done
// or fails. Store errors end the wait.
func pollJob(
	ctx context.Context,
	jobs core.JobStore,
	jobID uuid.UUID,
	interval time.Duration,
	check func(job core.Job) (bool, error),
) (core.Job, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := jobs.FindJob(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return core.Job{}, fmt.Errorf("handoff: wait for job %s: %w", jobID, ctx.Err())
			}
			return core.Job{}, err
		}
		done, err := check(job)
		if err != nil {
			return core.Job{}, err
		}
		if done {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return core.Job{}, fmt.Errorf("handoff: wait for job %s: %w", jobID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func findActiveJob(ctx context.Context, jobs core.JobStore, jobID uuid.UUID) (core.Job, error) {
	if jobID == uuid.Nil {
		return core.Job{}, fmt.Errorf("handoff: job id is required")
	}
	job, err := jobs.FindJob(ctx, jobID)
	if err != nil {
		return core.Job{}, err
	}
	if job.State.IsTerminal() {
		return core.Job{}, terminalError(job, "hand-off")
	}
	return job, nil
}

func stateError(job core.Job, operation string, expected ...core.AuthState) error {
	return core.NewProtocolError(
		fmt.Sprintf("cannot %s: job %s is in authorization state %s, expected %v", operation, job.ID, job.Authorization.State, expected),
		map[string]any{
			"job_id":     job.ID.String(),
			"auth_state": string(job.Authorization.State),
		},
	)
}

func terminalError(job core.Job, operation string) error {
	return core.NewProtocolError(
		fmt.Sprintf("cannot %s: job %s is %s", operation, job.ID, job.State),
		map[string]any{
			"job_id":    job.ID.String(),
			"job_state": string(job.State),
		},
	)
}

func sealAuthData(codec core.AuthDataCodec, key core.Encrypter, auth core.AuthData) (string, error) {
	payload, err := codec.Encode(auth)
	if err != nil {
		return "", err
	}
	defer wipe(payload)
	return key.Encrypt(payload)
}

func openAuthData(codec core.AuthDataCodec, key core.Decrypter, sealed string) (core.AuthData, error) {
	payload, err := key.Decrypt(sealed)
	if err != nil {
		return core.AuthData{}, err
	}
	defer wipe(payload)
	return codec.Decode(payload)
}

func wipe(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
