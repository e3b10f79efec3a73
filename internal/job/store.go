package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/sasha9954/photostudio-core/internal/errors"
	"github.com/sasha9954/photostudio-core/internal/id"
	"github.com/sasha9954/photostudio-core/internal/models"
	"github.com/sasha9954/photostudio-core/internal/storage"
	"github.com/sasha9954/photostudio-core/internal/types"
)

// ErrJobFinished is returned when updating a job that is already done or error
var ErrJobFinished = errors.New("job already finished")

// Store is the job record store: creation, partial updates and owner-scoped reads
type Store struct {
	jobs storage.JobStore
	now  func() time.Time
}

// NewStore creates a job record store
func NewStore(jobs storage.JobStore) *Store {
	return &Store{
		jobs: jobs,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a queued job with a fresh id
func (s *Store) Create(ctx context.Context, accountID, resourceKey string) (*models.JobRecord, error) {
	now := s.now()
	job := &models.JobRecord{
		JobID:       id.NewJobID(),
		AccountID:   accountID,
		ResourceKey: resourceKey,
		State:       types.JobStateQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, apperrors.NewDatabaseError("create job", err)
	}
	return job, nil
}

// Update merges the set fields into the job and refreshes updated_at.
// State changes must follow queued -> running -> done|error; finished jobs are immutable.
func (s *Store) Update(ctx context.Context, jobID string, upd models.JobUpdate) error {
	if upd.IsEmpty() {
		return nil
	}

	current, err := s.jobs.GetJob(ctx, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.NewJobNotFoundError(jobID)
	}
	if err != nil {
		return apperrors.NewDatabaseError("get job", err)
	}
	if current.State.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrJobFinished, jobID, current.State)
	}
	if upd.State != nil && !current.State.CanTransition(*upd.State) {
		return apperrors.NewInvalidParameterError("state",
			fmt.Sprintf("cannot move job from %s to %s", current.State, *upd.State))
	}

	if err := s.jobs.UpdateJob(ctx, jobID, upd, s.now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.NewJobNotFoundError(jobID)
		}
		return apperrors.NewDatabaseError("update job", err)
	}
	return nil
}

// Get returns the job if it belongs to accountID. Unknown and foreign jobs are both not found.
func (s *Store) Get(ctx context.Context, accountID, jobID string) (*models.JobRecord, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NewJobNotFoundError(jobID)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get job", err)
	}
	if job.AccountID != accountID {
		return nil, apperrors.NewJobNotFoundError(jobID)
	}
	return job, nil
}

// ListStale returns queued or running jobs not updated since before
func (s *Store) ListStale(ctx context.Context, before time.Time, limit int) ([]*models.JobRecord, error) {
	jobs, err := s.jobs.ListStaleJobs(ctx, before, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list stale jobs", err)
	}
	return jobs, nil
}

// ClaimStale marks a job untouched since before as error with msg.
// Only the caller that gets true owns the job's settlement.
func (s *Store) ClaimStale(ctx context.Context, jobID string, before time.Time, msg string) (bool, error) {
	claimed, err := s.jobs.FailStaleJob(ctx, jobID, before, msg, s.now())
	if err != nil {
		return false, apperrors.NewDatabaseError("claim stale job", err)
	}
	return claimed, nil
}

// Touch refreshes updated_at of a queued or running job
func (s *Store) Touch(ctx context.Context, jobID string) error {
	if err := s.jobs.TouchJob(ctx, jobID, s.now()); err != nil {
		return apperrors.NewDatabaseError("touch job", err)
	}
	return nil
}

// SettleRefund records that a failed job's charge was returned.
// It is the one write allowed after a job finished.
func (s *Store) SettleRefund(ctx context.Context, jobID string) error {
	zero := int64(0)
	if err := s.jobs.UpdateJob(ctx, jobID, models.JobUpdate{Spent: &zero}, s.now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.NewJobNotFoundError(jobID)
		}
		return apperrors.NewDatabaseError("settle refund", err)
	}
	return nil
}

func stateUpdate(state types.JobState, progress int) models.JobUpdate {
	return models.JobUpdate{State: &state, Progress: &progress}
}
