package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sasha9954/photostudio-core/internal/models"
	"github.com/sasha9954/photostudio-core/internal/types"
)

const pgJobColumns = `job_id, account_id, resource_key, state, progress, result_json, error, spent, created_at, updated_at`

// CreateJob inserts a new job record
func (s *PostgresStore) CreateJob(ctx context.Context, job *models.JobRecord) error {
	var result *string
	if job.Result != nil {
		r := string(job.Result)
		result = &r
	}

	_, err := s.db.Pool().Exec(ctx, `
		INSERT INTO job_records (`+pgJobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		job.JobID, job.AccountID, job.ResourceKey, string(job.State), clampProgress(job.Progress),
		result, job.Error, job.Spent, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// UpdateJob applies a partial update and refreshes updated_at
func (s *PostgresStore) UpdateJob(ctx context.Context, jobID string, upd models.JobUpdate, now time.Time) error {
	cols, args := jobUpdateColumns(upd)
	sets := make([]string, 0, len(cols)+1)
	for i, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", c, i+1))
	}
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(cols)+1))
	args = append(args, now, jobID)

	query := fmt.Sprintf(`UPDATE job_records SET %s WHERE job_id = $%d`, strings.Join(sets, ", "), len(cols)+2)
	tag, err := s.db.Pool().Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetJob retrieves a job by id
func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*models.JobRecord, error) {
	row := s.db.Pool().QueryRow(ctx, `SELECT `+pgJobColumns+` FROM job_records WHERE job_id = $1`, jobID)
	job, err := scanPgJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListStaleJobs returns queued or running jobs not updated since before, oldest first
func (s *PostgresStore) ListStaleJobs(ctx context.Context, before time.Time, limit int) ([]*models.JobRecord, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT `+pgJobColumns+`
		FROM job_records
		WHERE state IN ($1, $2) AND updated_at < $3
		ORDER BY updated_at
		LIMIT $4
	`, string(types.JobStateQueued), string(types.JobStateRunning), before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.JobRecord
	for rows.Next() {
		job, err := scanPgJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// FailStaleJob marks the job error only while it is still queued or running and untouched since before
func (s *PostgresStore) FailStaleJob(ctx context.Context, jobID string, before time.Time, msg string, now time.Time) (bool, error) {
	tag, err := s.db.Pool().Exec(ctx, `
		UPDATE job_records
		SET state = $1, progress = 0, error = $2, updated_at = $3
		WHERE job_id = $4 AND state IN ($5, $6) AND updated_at < $7
	`,
		string(types.JobStateError), msg, now,
		jobID, string(types.JobStateQueued), string(types.JobStateRunning), before,
	)
	if err != nil {
		return false, fmt.Errorf("failed to fail stale job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// TouchJob refreshes updated_at of an active job; finished jobs are left alone
func (s *PostgresStore) TouchJob(ctx context.Context, jobID string, now time.Time) error {
	_, err := s.db.Pool().Exec(ctx, `
		UPDATE job_records SET updated_at = $1
		WHERE job_id = $2 AND state IN ($3, $4)
	`, now, jobID, string(types.JobStateQueued), string(types.JobStateRunning))
	if err != nil {
		return fmt.Errorf("failed to touch job: %w", err)
	}
	return nil
}

func scanPgJob(row pgx.Row) (*models.JobRecord, error) {
	var job models.JobRecord
	var state string
	var result []byte

	if err := row.Scan(&job.JobID, &job.AccountID, &job.ResourceKey, &state, &job.Progress,
		&result, &job.Error, &job.Spent, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}

	job.State = types.JobState(state)
	if result != nil {
		job.Result = result
	}
	return &job, nil
}
