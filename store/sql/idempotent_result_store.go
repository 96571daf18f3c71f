package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-transfer/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// IdempotentResultStore records the outcome of every import side effect keyed by
// job and idempotency key.
type IdempotentResultStore struct {
	db   *bun.DB
	repo repository.Repository[*idempotentResultRecord]
	now  func() time.Time
}

func NewIdempotentResultStore(db *bun.DB) (*IdempotentResultStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*idempotentResultRecord](db, idempotentResultHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid idempotent result repository wiring: %w", err)
		}
	}
	return &IdempotentResultStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *IdempotentResultStore) GetResult(ctx context.Context, jobID uuid.UUID, key string) (core.IdempotentResult, bool, error) {
	if s == nil || s.db == nil {
		return core.IdempotentResult{}, false, fmt.Errorf("sqlstore: idempotent result store is not configured")
	}
	record, err := findIdempotentResultRecord(ctx, s.db, jobID, strings.TrimSpace(key))
	if err != nil {
		return core.IdempotentResult{}, false, err
	}
	if record == nil {
		return core.IdempotentResult{}, false, nil
	}
	return record.toDomain(), true, nil
}

// SaveResult inserts or replaces the outcome for the job and key.
func (s *IdempotentResultStore) SaveResult(ctx context.Context, result core.IdempotentResult) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: idempotent result store is not configured")
	}
	result.Key = strings.TrimSpace(result.Key)
	if result.JobID == uuid.Nil || result.Key == "" {
		return fmt.Errorf("sqlstore: job id and idempotency key are required")
	}
	if result.UpdatedAt.IsZero() {
		result.UpdatedAt = s.now()
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findIdempotentResultRecord(ctx, tx, result.JobID, result.Key)
		if err != nil {
			return err
		}
		created := false
		if record == nil {
			created = true
			record = &idempotentResultRecord{
				ID:             uuid.NewString(),
				JobID:          result.JobID.String(),
				IdempotencyKey: result.Key,
				CreatedAt:      result.UpdatedAt.UTC(),
			}
		}
		record.DisplayName = result.DisplayName
		record.Result = result.Result
		record.Failed = result.Failed
		record.ErrorMessage = result.ErrorMessage
		record.UpdatedAt = result.UpdatedAt.UTC()

		if created {
			if _, insertErr := tx.NewInsert().Model(record).Exec(ctx); insertErr != nil {
				if isUniqueViolation(insertErr) {
					return fmt.Errorf("sqlstore: concurrent write for idempotency key %q: %w", result.Key, insertErr)
				}
				return insertErr
			}
			return nil
		}
		_, updateErr := tx.NewUpdate().
			Model(record).
			Column("display_name", "result", "failed", "error_message", "updated_at").
			Where("id = ?", record.ID).
			Exec(ctx)
		return updateErr
	})
}

func (s *IdempotentResultStore) ListFailures(ctx context.Context, jobID uuid.UUID) ([]core.IdempotentResult, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: idempotent result store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("job_id", "=", jobID.String()),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.failed = ?", true)
		}),
		repository.OrderBy("idempotency_key ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.IdempotentResult, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *IdempotentResultStore) DeleteJobResults(ctx context.Context, jobID uuid.UUID) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: idempotent result store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*idempotentResultRecord)(nil)).
		Where("job_id = ?", jobID.String()).
		Exec(ctx)
	return err
}

func findIdempotentResultRecord(ctx context.Context, db bun.IDB, jobID uuid.UUID, key string) (*idempotentResultRecord, error) {
	record := &idempotentResultRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.job_id = ?", jobID.String()).
		Where("?TableAlias.idempotency_key = ?", key).
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

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
