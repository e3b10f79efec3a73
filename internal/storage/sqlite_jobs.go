package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sasha9954/photostudio-core/internal/models"
	"github.com/sasha9954/photostudio-core/internal/types"
)

const sqliteJobColumns = `job_id, account_id, resource_key, state, progress, result_json, error, spent, created_at, updated_at`

// CreateJob inserts a new job record
func (s *SQLiteStore) CreateJob(ctx context.Context, job *models.JobRecord) error {
	var result sql.NullString
	if job.Result != nil {
		result = sql.NullString{String: string(job.Result), Valid: true}
	}
	var jobErr sql.NullString
	if job.Error != nil {
		jobErr = sql.NullString{String: *job.Error, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_records (`+sqliteJobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.JobID, job.AccountID, job.ResourceKey, string(job.State), clampProgress(job.Progress),
		result, jobErr, job.Spent, toMillis(job.CreatedAt), toMillis(job.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// UpdateJob applies a partial update and refreshes updated_at
func (s *SQLiteStore) UpdateJob(ctx context.Context, jobID string, upd models.JobUpdate, now time.Time) error {
	cols, args := jobUpdateColumns(upd)
	sets := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		sets = append(sets, c+" = ?")
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, toMillis(now), jobID)

	res, err := s.db.ExecContext(ctx,
		`UPDATE job_records SET `+strings.Join(sets, ", ")+` WHERE job_id = ?`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetJob retrieves a job by id
func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*models.JobRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteJobColumns+` FROM job_records WHERE job_id = ?`, jobID)
	job, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListStaleJobs returns queued or running jobs not updated since before, oldest first
func (s *SQLiteStore) ListStaleJobs(ctx context.Context, before time.Time, limit int) ([]*models.JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteJobColumns+`
		FROM job_records
		WHERE state IN (?, ?) AND updated_at < ?
		ORDER BY updated_at
		LIMIT ?
	`, string(types.JobStateQueued), string(types.JobStateRunning), toMillis(before), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.JobRecord
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// FailStaleJob marks the job error only while it is still queued or running and untouched since before
func (s *SQLiteStore) FailStaleJob(ctx context.Context, jobID string, before time.Time, msg string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE job_records
		SET state = ?, progress = 0, error = ?, updated_at = ?
		WHERE job_id = ? AND state IN (?, ?) AND updated_at < ?
	`,
		string(types.JobStateError), msg, toMillis(now),
		jobID, string(types.JobStateQueued), string(types.JobStateRunning), toMillis(before),
	)
	if err != nil {
		return false, fmt.Errorf("failed to fail stale job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to fail stale job: %w", err)
	}
	return n == 1, nil
}

// TouchJob refreshes updated_at of an active job; finished jobs are left alone
func (s *SQLiteStore) TouchJob(ctx context.Context, jobID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE job_records SET updated_at = ?
		WHERE job_id = ? AND state IN (?, ?)
	`, toMillis(now), jobID, string(types.JobStateQueued), string(types.JobStateRunning))
	if err != nil {
		return fmt.Errorf("failed to touch job: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row rowScanner) (*models.JobRecord, error) {
	var job models.JobRecord
	var state string
	var result, jobErr sql.NullString
	var created, updated int64

	if err := row.Scan(&job.JobID, &job.AccountID, &job.ResourceKey, &state, &job.Progress,
		&result, &jobErr, &job.Spent, &created, &updated); err != nil {
		return nil, err
	}

	job.State = types.JobState(state)
	if result.Valid {
		job.Result = json.RawMessage(result.String)
	}
	if jobErr.Valid {
		e := jobErr.String
		job.Error = &e
	}
	job.CreatedAt = fromMillis(created)
	job.UpdatedAt = fromMillis(updated)
	return &job, nil
}
