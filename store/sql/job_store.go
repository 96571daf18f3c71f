package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-transfer/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// JobStore persists transfer jobs. Updates are optimistic: every write bumps the
// row version and fails with core.ErrJobVersionConflict when another writer won.
type JobStore struct {
	db   *bun.DB
	repo repository.Repository[*jobRecord]
	now  func() time.Time
}

func NewJobStore(db *bun.DB) (*JobStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*jobRecord](db, jobHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid job repository wiring: %w", err)
		}
	}
	return &JobStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *JobStore) CreateJob(ctx context.Context, job core.Job) (core.Job, error) {
	if s == nil || s.repo == nil {
		return core.Job{}, fmt.Errorf("sqlstore: job store is not configured")
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.State == "" {
		job.State = core.JobStateNew
	}
	if job.Authorization.State == "" {
		job.Authorization.State = core.AuthStateInitial
	}
	if err := job.Validate(); err != nil {
		return core.Job{}, err
	}
	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	record := newJobRecord(job)
	record.Version = 1
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.Job{}, err
	}
	return created.toDomain(), nil
}

func (s *JobStore) FindJob(ctx context.Context, id uuid.UUID) (core.Job, error) {
	if s == nil || s.db == nil {
		return core.Job{}, fmt.Errorf("sqlstore: job store is not configured")
	}
	record, err := findJobRecord(ctx, s.db, id)
	if err != nil {
		return core.Job{}, err
	}
	return record.toDomain(), nil
}

func (s *JobStore) UpdateJob(ctx context.Context, job core.Job, validators ...core.JobUpdateValidator) (core.Job, error) {
	if s == nil || s.db == nil {
		return core.Job{}, fmt.Errorf("sqlstore: job store is not configured")
	}
	var updated core.Job
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := findJobRecord(ctx, tx, job.ID)
		if err != nil {
			return err
		}
		next, err := core.PrepareJobUpdate(current.toDomain(), job, s.now(), validators...)
		if err != nil {
			return err
		}
		record := newJobRecord(next)
		record.Version = current.Version + 1

		result, err := tx.NewUpdate().
			Model(record).
			ExcludeColumn("id", "created_at").
			Where("id = ?", record.ID).
			Where("version = ?", current.Version).
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, rowsErr := result.RowsAffected(); rowsErr == nil && affected == 0 {
			return fmt.Errorf("%w: job %s version %d", core.ErrJobVersionConflict, job.ID, current.Version)
		}
		updated = next
		return nil
	})
	if err != nil {
		return core.Job{}, err
	}
	return updated, nil
}

// FindJobsByAuthState lists active jobs in state, oldest first.
func (s *JobStore) FindJobsByAuthState(ctx context.Context, state core.AuthState, limit int) ([]core.Job, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: job store is not configured")
	}
	selectors := []repository.SelectCriteria{
		repository.SelectBy("auth_state", "=", string(state)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.state NOT IN (?)", bun.In([]string{
				string(core.JobStateComplete),
				string(core.JobStateError),
				string(core.JobStateCanceled),
			}))
		}),
		repository.OrderBy("created_at ASC"),
	}
	if limit > 0 {
		selectors = append(selectors, repository.SelectPaginate(limit, 0))
	}
	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	out := make([]core.Job, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// ClearJobData drops every credential column of the job. The authorization state
// and the owning instance are kept.
func (s *JobStore) ClearJobData(ctx context.Context, id uuid.UUID) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: job store is not configured")
	}
	result, err := s.db.NewUpdate().
		Model((*jobRecord)(nil)).
		Set("session_secret_key = ''").
		Set("encrypted_initial_export_auth_data = ''").
		Set("encrypted_initial_import_auth_data = ''").
		Set("encrypted_export_auth_data = ''").
		Set("encrypted_import_auth_data = ''").
		Set("auth_secret_key = ''").
		Set("version = version + 1").
		Set("updated_at = ?", s.now()).
		Where("id = ?", id.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, rowsErr := result.RowsAffected(); rowsErr == nil && affected == 0 {
		return fmt.Errorf("%w: %s", core.ErrJobNotFound, id)
	}
	return nil
}

func findJobRecord(ctx context.Context, db bun.IDB, id uuid.UUID) (*jobRecord, error) {
	record := &jobRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", core.ErrJobNotFound, id)
		}
		return nil, err
	}
	return record, nil
}
