package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sqlc-dev/pqtype"
)

// ErrNotFound is returned when a job id has no row.
var ErrNotFound = errors.New("job not found")

// Job is one row of the jobs table.
type Job struct {
	ID          uuid.UUID
	Type        string
	Label       string
	Status      string
	Input       json.RawMessage
	Output      pqtype.NullRawMessage
	Message     string
	Error       sql.NullString
	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   sql.NullTime
	CompletedAt sql.NullTime
}

// Store wraps access to the jobs table on a shared *sql.DB.
type Store struct {
	DB *sql.DB
}

// New creates a new Store that uses a shared *sql.DB with pooling.
func New(database *sql.DB) *Store {
	return &Store{DB: database}
}

// Open opens a pgx-backed *sql.DB for dsn and wraps it.
func Open(dsn string) (*Store, error) {
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	database.SetMaxOpenConns(20)
	database.SetConnMaxIdleTime(5 * time.Minute)
	return New(database), nil
}

func (s *Store) Close() error { return s.DB.Close() }

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

const jobColumns = `id, type, label, status, input, output, message, error, created_at, updated_at, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var (
		j     Job
		input []byte
	)
	err := row.Scan(
		&j.ID, &j.Type, &j.Label, &j.Status, &input, &j.Output,
		&j.Message, &j.Error, &j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.CompletedAt,
	)
	j.Input = input
	return j, err
}

// CreateJob inserts a pending job with a fresh v7 id.
func (s *Store) CreateJob(ctx context.Context, jobType, label string, input json.RawMessage) (Job, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Job{}, err
	}
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}

	row := s.DB.QueryRowContext(ctx, `
INSERT INTO jobs (id, type, label, status, input)
VALUES ($1, $2, $3, 'pending', $4)
RETURNING `+jobColumns, id, jobType, label, []byte(input))
	return scanJob(row)
}

// GetJobByID returns ErrNotFound when no row matches.
func (s *Store) GetJobByID(ctx context.Context, id uuid.UUID) (Job, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return j, err
}

// ClaimPendingJobs moves up to limit pending jobs to running and returns
// them. Concurrent claimers never receive the same row.
func (s *Store) ClaimPendingJobs(ctx context.Context, limit int32) ([]Job, error) {
	rows, err := s.DB.QueryContext(ctx, `
UPDATE jobs SET status = 'running', started_at = now(), updated_at = now()
WHERE id IN (
    SELECT id FROM jobs
    WHERE status = 'pending'
    ORDER BY created_at
    LIMIT $1
    FOR UPDATE SKIP LOCKED
)
RETURNING `+jobColumns, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// CompleteJob marks a job successful and stores its output.
func (s *Store) CompleteJob(ctx context.Context, id uuid.UUID, message string, output json.RawMessage) error {
	out := pqtype.NullRawMessage{RawMessage: output, Valid: len(output) > 0}
	return s.finish(ctx, `
UPDATE jobs SET status = 'success', message = $2, output = $3, error = NULL,
    completed_at = now(), updated_at = now()
WHERE id = $1`, id, message, out)
}

// FailJob marks a job failed with errMsg.
func (s *Store) FailJob(ctx context.Context, id uuid.UUID, errMsg string) error {
	return s.finish(ctx, `
UPDATE jobs SET status = 'failure', error = $2, completed_at = now(), updated_at = now()
WHERE id = $1`, id, errMsg)
}

// RequeueJob returns a running job to pending so another worker claims it.
func (s *Store) RequeueJob(ctx context.Context, id uuid.UUID) error {
	return s.finish(ctx, `
UPDATE jobs SET status = 'pending', started_at = NULL, updated_at = now()
WHERE id = $1 AND status = 'running'`, id)
}

func (s *Store) finish(ctx context.Context, query string, args ...any) error {
	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpiredJobs removes finished jobs of jobType completed before
// cutoff and returns the number of rows deleted.
func (s *Store) DeleteExpiredJobs(ctx context.Context, jobType string, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
DELETE FROM jobs
WHERE type = $1 AND status IN ('success', 'failure') AND completed_at < $2`, jobType, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListJobTypes returns the distinct job types present in the table.
func (s *Store) ListJobTypes(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT DISTINCT type FROM jobs ORDER BY type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, rows.Err()
}
