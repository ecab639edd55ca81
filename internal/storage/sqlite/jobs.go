package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/scrypster/twinrag/internal/storage"
	"github.com/scrypster/twinrag/pkg/types"
)

const jobColumns = `id, twin_id, source_id, type, status, priority, retry_count, error, error_class,
	payload, created_at, updated_at, started_at, finished_at`

// CreateJob inserts a queued job.
func (s *Store) CreateJob(ctx context.Context, job *types.TrainingJob) error {
	if job == nil || job.ID == "" || job.TwinID == "" {
		return fmt.Errorf("%w: job ID and twin ID are required", storage.ErrInvalidInput)
	}
	if _, err := types.ParseJobType(string(job.Type)); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	if job.Status == "" {
		job.Status = types.JobStatusQueued
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO training_jobs (id, twin_id, source_id, type, status, priority, retry_count,
			error, error_class, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.TwinID, job.SourceID, string(job.Type), string(job.Status), job.Priority,
		job.RetryCount, job.Error, job.ErrorClass, job.Payload,
		formatTime(job.CreatedAt), formatTime(job.UpdatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: job %s already exists", storage.ErrConflict, job.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*types.TrainingJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM training_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs lists a twin's jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, twinID string, filter storage.JobFilter) ([]*types.TrainingJob, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	query := `SELECT ` + jobColumns + ` FROM training_jobs WHERE twin_id = ?`
	args := []interface{}{twinID}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.SourceID != "" {
		query += ` AND source_id = ?`
		args = append(args, filter.SourceID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, filter.Limit)
	return s.queryJobs(ctx, query, args...)
}

// ListQueued returns queued jobs in claim order.
func (s *Store) ListQueued(ctx context.Context, twinID string, limit int) ([]*types.TrainingJob, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM training_jobs
		WHERE twin_id = ? AND status = 'queued'
		ORDER BY priority DESC, created_at ASC
		LIMIT ?`, twinID, limit)
}

// CountByStatus counts a twin's jobs in a status.
func (s *Store) CountByStatus(ctx context.Context, twinID string, status types.JobStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM training_jobs WHERE twin_id = ? AND status = ?`,
		twinID, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return n, nil
}

// TwinsWithQueuedJobs lists twins that have queued work.
func (s *Store) TwinsWithQueuedJobs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT twin_id FROM training_jobs WHERE status = 'queued' ORDER BY twin_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list twins with queued jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClaimJob is the compare-and-swap queued -> processing.
func (s *Store) ClaimJob(ctx context.Context, id string, now time.Time) error {
	ts := formatTime(now)
	res, err := s.db.ExecContext(ctx, `
		UPDATE training_jobs SET status = 'processing', started_at = ?, finished_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'queued'`, ts, ts, id)
	if err != nil {
		return fmt.Errorf("failed to claim job: %w", err)
	}
	return expectOneRow(res, fmt.Sprintf("job %s already claimed", id))
}

// FinishJob is the compare-and-swap processing -> complete|failed|needs_attention.
func (s *Store) FinishJob(ctx context.Context, id string, status types.JobStatus, errMsg, errClass string, now time.Time) error {
	if err := types.CheckJobTransition(types.JobStatusProcessing, status); err != nil {
		return err
	}
	ts := formatTime(now)
	res, err := s.db.ExecContext(ctx, `
		UPDATE training_jobs SET status = ?, error = ?, error_class = ?, finished_at = ?, updated_at = ?
		WHERE id = ? AND status = 'processing'`,
		string(status), errMsg, errClass, ts, ts, id)
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	return expectOneRow(res, fmt.Sprintf("job %s is no longer processing", id))
}

// RequeueJob is the compare-and-swap failed|needs_attention -> queued.
func (s *Store) RequeueJob(ctx context.Context, id string, from types.JobStatus, now time.Time) error {
	if err := types.CheckJobTransition(from, types.JobStatusQueued); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE training_jobs
		SET status = 'queued', retry_count = retry_count + 1, started_at = NULL, finished_at = NULL, updated_at = ?
		WHERE id = ? AND status = ?`,
		formatTime(now), id, string(from))
	if err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	return expectOneRow(res, fmt.Sprintf("job %s is no longer %s", id, from))
}

// ListStuck returns processing jobs started before the cutoff.
func (s *Store) ListStuck(ctx context.Context, startedBefore time.Time) ([]*types.TrainingJob, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM training_jobs
		WHERE status = 'processing' AND started_at IS NOT NULL AND started_at < ?
		ORDER BY started_at`, formatTime(startedBefore))
}

// ListFailed returns failed jobs with the given error class, oldest update first.
func (s *Store) ListFailed(ctx context.Context, errClass string, limit int) ([]*types.TrainingJob, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM training_jobs
		WHERE status = 'failed' AND error_class = ?
		ORDER BY updated_at LIMIT ?`, errClass, limit)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...interface{}) ([]*types.TrainingJob, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*types.TrainingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(row rowScanner) (*types.TrainingJob, error) {
	var job types.TrainingJob
	var jobType, status, createdAt, updatedAt string
	var startedAt, finishedAt sql.NullString

	err := row.Scan(&job.ID, &job.TwinID, &job.SourceID, &jobType, &status, &job.Priority,
		&job.RetryCount, &job.Error, &job.ErrorClass, &job.Payload,
		&createdAt, &updatedAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	if job.Type, err = types.ParseJobType(jobType); err != nil {
		return nil, err
	}
	if job.Status, err = types.ParseJobStatus(status); err != nil {
		return nil, err
	}
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updatedAt)
	job.StartedAt = timePtr(startedAt)
	job.FinishedAt = timePtr(finishedAt)
	return &job, nil
}
