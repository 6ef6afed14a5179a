package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/market-sync/internal/models"
	"github.com/market-sync/internal/types"
)

// JobRepository handles sync job persistence. The jobs table carries a
// partial unique index on (provider, style_id, variant) over non-terminal
// rows, so enqueue is idempotent across concurrent callers.
type JobRepository struct {
	db *PostgresDB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *PostgresDB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, provider, style_id, variant, priority, status,
	   attempt_count, created_at, started_at, completed_at, error_message`

// Enqueue inserts a pending job unless an active job for the same subject
// already exists. It returns the job and true when a row was created, or
// nil and false for the idempotent no-op case.
func (r *JobRepository) Enqueue(ctx context.Context, provider types.Provider, key types.SubjectKey, priority int) (*models.Job, bool, error) {
	query := `
		INSERT INTO jobs (id, provider, style_id, variant, priority, status, created_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', NOW())
		ON CONFLICT (provider, style_id, variant) WHERE status IN ('pending', 'running')
		DO NOTHING
		RETURNING ` + jobColumns

	row := r.db.Pool().QueryRow(ctx, query,
		uuid.New().String(),
		provider,
		key.StyleID,
		key.Variant,
		priority,
	)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Conflict with an active job: idempotent no-op.
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to enqueue job: %w", err)
	}

	return job, true, nil
}

// ClaimPending atomically transitions up to limit pending jobs to running
// and returns them, ordered by priority descending then FIFO within a tier.
// Jobs for excluded providers are left pending, so a budget-denied
// provider's backlog cannot crowd other providers out of the batch.
// SKIP LOCKED keeps concurrent dispatchers from claiming the same rows.
func (r *JobRepository) ClaimPending(ctx context.Context, limit int, excluding []types.Provider) ([]*models.Job, error) {
	excluded := make([]string, len(excluding))
	for i, provider := range excluding {
		excluded[i] = string(provider)
	}

	query := `
		UPDATE jobs
		SET status = 'running', started_at = NOW(), attempt_count = attempt_count + 1
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'pending'
			  AND NOT (provider = ANY($2))
			ORDER BY priority DESC, created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	rows, err := r.db.Pool().Query(ctx, query, limit, excluded)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// Release returns a claimed job to pending without recording an attempt,
// used when the budget ledger denies the job's provider after claim.
func (r *JobRepository) Release(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET status = 'pending', started_at = NULL, attempt_count = attempt_count - 1
		WHERE id = $1 AND status = 'running'
	`

	result, err := r.db.Pool().Exec(ctx, query, jobID)
	if err != nil {
		return fmt.Errorf("failed to release job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("job not running: %s", jobID)
	}

	return nil
}

// MarkDone transitions a running job to done.
func (r *JobRepository) MarkDone(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET status = 'done', completed_at = NOW(), error_message = NULL
		WHERE id = $1 AND status = 'running'
	`

	result, err := r.db.Pool().Exec(ctx, query, jobID)
	if err != nil {
		return fmt.Errorf("failed to mark job done: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("job not running: %s", jobID)
	}

	return nil
}

// MarkFailed transitions a running job to failed with its last error.
func (r *JobRepository) MarkFailed(ctx context.Context, jobID string, errMsg string) error {
	query := `
		UPDATE jobs
		SET status = 'failed', completed_at = NOW(), error_message = $2
		WHERE id = $1 AND status = 'running'
	`

	result, err := r.db.Pool().Exec(ctx, query, jobID, errMsg)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("job not running: %s", jobID)
	}

	return nil
}

// RetryFailed resets a failed job to pending. This is the operator action;
// failed jobs are never resurrected automatically.
func (r *JobRepository) RetryFailed(ctx context.Context, jobID string) (*models.Job, error) {
	query := `
		UPDATE jobs
		SET status = 'pending', started_at = NULL, completed_at = NULL, error_message = NULL
		WHERE id = $1 AND status = 'failed'
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed job not found: %s", jobID)
		}
		return nil, fmt.Errorf("failed to retry job: %w", err)
	}

	return job, nil
}

// ResetStale returns running jobs older than threshold to pending.
// The queue provides no liveness guarantee on workers; this sweep is the
// crash recovery path.
func (r *JobRepository) ResetStale(ctx context.Context, threshold time.Duration) (int, error) {
	query := `
		UPDATE jobs
		SET status = 'pending', started_at = NULL
		WHERE status = 'running' AND started_at < NOW() - $1::interval
	`

	result, err := r.db.Pool().Exec(ctx, query, threshold.String())
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale jobs: %w", err)
	}

	return int(result.RowsAffected()), nil
}

// GetByID retrieves a job by ID
func (r *JobRepository) GetByID(ctx context.Context, jobID string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("job not found: %s", jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// ListByStatus retrieves jobs by status ordered by priority then age.
func (r *JobRepository) ListByStatus(ctx context.Context, status types.JobStatus, limit int) ([]*models.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = $1
		ORDER BY priority DESC, created_at ASC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var job models.Job
	err := row.Scan(
		&job.ID,
		&job.Provider,
		&job.StyleID,
		&job.Variant,
		&job.Priority,
		&job.Status,
		&job.AttemptCount,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.Error,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func scanJobs(rows pgx.Rows) ([]*models.Job, error) {
	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}
