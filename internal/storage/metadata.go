package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codebuildervaibhav/media-transcriber/internal/types"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// timeLayout is fixed width so TEXT ordering matches chronological ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const jobColumns = `id, url, provider, model, status, raw_text, formatted_text, error, provider_task_handle, created_at, updated_at`

// JobStore handles SQLite persistence of jobs
type JobStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewJobStore opens (or creates) the job database at dbPath
func NewJobStore(dbPath string) (*JobStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		raw_text TEXT NOT NULL DEFAULT '',
		formatted_text TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		provider_task_handle TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	`
	if _, err := db.Exec(createTableSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &JobStore{db: db, now: time.Now}, nil
}

// Create inserts a new job. CreatedAt/UpdatedAt are filled when zero.
func (s *JobStore) Create(ctx context.Context, job *types.Job) error {
	if job == nil || job.ID == "" {
		return types.Wrap(types.ErrValidation, "store", "create", "job id is required", nil)
	}
	now := s.now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	query := `INSERT INTO jobs (` + jobColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	err := s.execWithRetry(ctx, query,
		job.ID, job.URL, job.Provider, job.Model, string(job.Status),
		job.RawText, job.FormattedText, job.Error, job.ProviderTaskHandle,
		formatTime(job.CreatedAt), formatTime(job.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", job.ID, err)
	}
	return nil
}

// Get retrieves a job by id. A missing job yields types.ErrNotFound.
func (s *JobStore) Get(ctx context.Context, id string) (*types.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.Wrap(types.ErrNotFound, "store", "get", "job "+id, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

// List returns up to limit jobs, newest first.
func (s *JobStore) List(ctx context.Context, limit int) ([]*types.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*types.Job, 0, limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// Update persists every mutable field of job and bumps UpdatedAt. The write
// is durable when Update returns.
func (s *JobStore) Update(ctx context.Context, job *types.Job) error {
	job.UpdatedAt = s.now().UTC()
	query := `
	UPDATE jobs SET provider = ?, model = ?, status = ?, raw_text = ?, formatted_text = ?,
		error = ?, provider_task_handle = ?, updated_at = ?
	WHERE id = ?
	`
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, query,
			job.Provider, job.Model, string(job.Status), job.RawText, job.FormattedText,
			job.Error, job.ProviderTaskHandle, formatTime(job.UpdatedAt), job.ID)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}
	if affected == 0 {
		return types.Wrap(types.ErrNotFound, "store", "update", "job "+job.ID, nil)
	}
	return nil
}

// FailInterrupted moves every job left in a non-terminal status by a previous
// process to error with message. Call it before workers start.
func (s *JobStore) FailInterrupted(ctx context.Context, message string) (int64, error) {
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE status IN (?, ?, ?, ?)`,
			string(types.StatusError), message, formatTime(s.now()),
			string(types.StatusPending), string(types.StatusDownloading),
			string(types.StatusTranscribing), string(types.StatusFormatting))
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("reset interrupted jobs: %w", err)
	}
	return affected, nil
}

// Close closes the database connection
func (s *JobStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*types.Job, error) {
	var (
		job                  types.Job
		status               string
		createdAt, updatedAt string
	)
	err := row.Scan(&job.ID, &job.URL, &job.Provider, &job.Model, &status,
		&job.RawText, &job.FormattedText, &job.Error, &job.ProviderTaskHandle,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	job.Status = types.Status(status)
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updatedAt)
	return &job, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *JobStore) execWithRetry(ctx context.Context, query string, args ...any) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
