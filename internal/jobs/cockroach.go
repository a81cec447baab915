package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/roomviz/internal/storage"
)

// CockroachStore implements Store on CockroachDB or Postgres.
type CockroachStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewCockroachStoreFromDSN opens the database and ensures the jobs table
// exists.
func NewCockroachStoreFromDSN(ctx context.Context, dsn string, config *storage.CockroachConfig) (*CockroachStore, error) {
	db, err := storage.OpenPostgres(ctx, dsn, config)
	if err != nil {
		return nil, err
	}
	store := NewCockroachStore(db)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewCockroachStore wraps an open database.
func NewCockroachStore(db *sql.DB) *CockroachStore {
	return &CockroachStore{db: db, now: time.Now}
}

// Migrate creates the jobs table if needed.
func (s *CockroachStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS furniture_jobs (
			id STRING PRIMARY KEY,
			session_id STRING NOT NULL,
			status STRING NOT NULL,
			outcome STRING,
			attempts INT NOT NULL DEFAULT 0,
			result_image STRING,
			error_message STRING,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ
		)
	`)
	if err != nil {
		return fmt.Errorf("migrate jobs: %w", err)
	}
	return nil
}

// Close releases database resources.
func (s *CockroachStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *CockroachStore) Create(ctx context.Context, job *Job) error {
	if job == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO furniture_jobs (id, session_id, status, outcome, attempts, result_image, error_message, created_at, updated_at, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		job.ID,
		job.SessionID,
		string(job.Status),
		nullableString(string(job.Outcome)),
		job.Attempts,
		nullableString(job.ResultImage),
		nullableString(job.Error),
		job.CreatedAt,
		job.UpdatedAt,
		nullTime(job.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *CockroachStore) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE furniture_jobs
		SET session_id = $2,
			status = $3,
			outcome = $4,
			attempts = $5,
			result_image = $6,
			error_message = $7,
			updated_at = $8,
			finished_at = $9
		WHERE id = $1
	`,
		job.ID,
		job.SessionID,
		string(job.Status),
		nullableString(string(job.Outcome)),
		job.Attempts,
		nullableString(job.ResultImage),
		nullableString(job.Error),
		job.UpdatedAt,
		nullTime(job.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

const selectJob = `
		SELECT id, session_id, status, outcome, attempts, result_image, error_message, created_at, updated_at, finished_at
		FROM furniture_jobs`

func (s *CockroachStore) Get(ctx context.Context, id string) (*Job, error) {
	if id == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, selectJob+` WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *CockroachStore) List(ctx context.Context, limit, offset int) ([]*Job, error) {
	query := selectJob + ` ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func (s *CockroachStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan)
	result, err := s.db.ExecContext(ctx, `DELETE FROM furniture_jobs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return n, nil
}

func (s *CockroachStore) Cancel(ctx context.Context, id string) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE furniture_jobs
		SET status = $2, outcome = $3, error_message = $4, updated_at = $5, finished_at = $5
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, id, string(StatusFailed), string(OutcomeCancelled), "job cancelled", now)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	return nil
}

type jobScanner interface {
	Scan(dest ...any) error
}

func scanJob(scanner jobScanner) (*Job, error) {
	var (
		job          Job
		status       string
		outcome      sql.NullString
		resultImage  sql.NullString
		errorMessage sql.NullString
		finishedAt   sql.NullTime
	)
	if err := scanner.Scan(
		&job.ID,
		&job.SessionID,
		&status,
		&outcome,
		&job.Attempts,
		&resultImage,
		&errorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
		&finishedAt,
	); err != nil {
		return nil, err
	}
	job.Status = Status(status)
	job.Outcome = Outcome(outcome.String)
	job.ResultImage = resultImage.String
	job.Error = errorMessage.String
	if finishedAt.Valid {
		job.FinishedAt = finishedAt.Time
	}
	return &job, nil
}

func nullableString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func nullTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value, Valid: true}
}
