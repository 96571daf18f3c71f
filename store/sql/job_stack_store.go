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

// JobStackStore keeps the pending work stack of resumable copies, one row per job.
type JobStackStore struct {
	db   *bun.DB
	repo repository.Repository[*jobStackRecord]
	now  func() time.Time
}

func NewJobStackStore(db *bun.DB) (*JobStackStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*jobStackRecord](db, jobStackHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid job stack repository wiring: %w", err)
		}
	}
	return &JobStackStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *JobStackStore) LoadJobStack(ctx context.Context, jobID uuid.UUID) ([]core.ExportInformation, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, fmt.Errorf("sqlstore: job stack store is not configured")
	}
	record, err := findJobStackRecord(ctx, s.db, jobID)
	if err != nil {
		return nil, false, err
	}
	if record == nil {
		return nil, false, nil
	}
	return copyStack(record.Stack), true, nil
}

func (s *JobStackStore) StoreJobStack(ctx context.Context, jobID uuid.UUID, stack []core.ExportInformation) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: job stack store is not configured")
	}
	if jobID == uuid.Nil {
		return fmt.Errorf("sqlstore: job id is required")
	}
	now := s.now()
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findJobStackRecord(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if record == nil {
			record = &jobStackRecord{
				JobID:     jobID.String(),
				Stack:     copyStack(stack),
				Depth:     len(stack),
				CreatedAt: now,
				UpdatedAt: now,
			}
			_, insertErr := tx.NewInsert().Model(record).Exec(ctx)
			return insertErr
		}
		record.Stack = copyStack(stack)
		record.Depth = len(stack)
		record.UpdatedAt = now
		_, updateErr := tx.NewUpdate().
			Model(record).
			Column("stack", "depth", "updated_at").
			Where("job_id = ?", record.JobID).
			Exec(ctx)
		return updateErr
	})
}

func (s *JobStackStore) DeleteJobStack(ctx context.Context, jobID uuid.UUID) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: job stack store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*jobStackRecord)(nil)).
		Where("job_id = ?", jobID.String()).
		Exec(ctx)
	return err
}

func findJobStackRecord(ctx context.Context, db bun.IDB, jobID uuid.UUID) (*jobStackRecord, error) {
	record := &jobStackRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.job_id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}
