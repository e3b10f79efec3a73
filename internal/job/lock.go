// Package job runs generation jobs: the run lock, the job record store and the runner.
package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/sasha9954/photostudio-core/internal/errors"
	"github.com/sasha9954/photostudio-core/internal/logging"
	"github.com/sasha9954/photostudio-core/internal/models"
	"github.com/sasha9954/photostudio-core/internal/storage"
)

const (
	// MinStaleness is the floor applied to any staleness TTL
	MinStaleness = 10 * time.Second
	// DefaultLockTTL is the staleness TTL used when none is configured
	DefaultLockTTL = 180 * time.Second
)

var errMalformedSession = errors.New("malformed session")

// RunLock is the per (account, resource key) run flag kept in the session's "_run" field
type RunLock struct {
	sessions storage.SessionStore
	now      func() time.Time
}

// NewRunLock creates a run lock over the session store
func NewRunLock(sessions storage.SessionStore) *RunLock {
	return &RunLock{
		sessions: sessions,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// TryAcquire sets running=true unless a lock younger than max(10s, staleness) is held.
// jobID is recorded on the lock; an empty jobID keeps the one already there.
// A missing or malformed session is replaced by a default one.
func (l *RunLock) TryAcquire(ctx context.Context, accountID, resourceKey, jobID string, staleness time.Duration) (bool, error) {
	if staleness < MinStaleness {
		staleness = MinStaleness
	}

	acquired := false
	err := l.update(ctx, accountID, resourceKey, true, func(s *models.SessionData, now time.Time) bool {
		run := s.Run
		if run == nil {
			run = &models.RunState{}
		}
		if run.Running {
			age := run.Age(now)
			if age < staleness {
				return false
			}
			logging.FromContext(ctx).WithFields(map[string]any{
				"account_id":   accountID,
				"resource_key": resourceKey,
				"stale_job_id": run.JobID,
				"age":          age.String(),
			}).Warn("reclaiming stale run lock")
		}

		started := now
		run.Running = true
		run.StartedAt = &started
		run.FinishedAt = nil
		if jobID != "" {
			run.JobID = jobID
		}
		s.Run = run
		acquired = true
		return true
	})
	if err != nil {
		return false, apperrors.NewDatabaseError("acquire run lock", err)
	}
	return acquired, nil
}

// Release clears the running flag and records finishedAt, keeping the job id.
// When jobID is set and the lock now belongs to another job, nothing changes.
// It never fails: a missing or malformed session or a storage error is only logged.
func (l *RunLock) Release(ctx context.Context, accountID, resourceKey, jobID string) {
	err := l.update(ctx, accountID, resourceKey, false, func(s *models.SessionData, now time.Time) bool {
		if s.Run == nil {
			return false
		}
		if jobID != "" && s.Run.JobID != "" && s.Run.JobID != jobID {
			return false
		}
		finished := now
		s.Run.Running = false
		s.Run.FinishedAt = &finished
		return true
	})
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithFields(map[string]any{
			"account_id":   accountID,
			"resource_key": resourceKey,
			"job_id":       jobID,
		}).Warn("run lock release skipped")
	}
}

// SaveResults stores the artifacts of a finished job on the session
func (l *RunLock) SaveResults(ctx context.Context, accountID, resourceKey string, results []models.Artifact) error {
	err := l.update(ctx, accountID, resourceKey, true, func(s *models.SessionData, now time.Time) bool {
		s.Results = results
		return true
	})
	if err != nil {
		return apperrors.NewDatabaseError("save session results", err)
	}
	return nil
}

// View returns the current lock state; a missing session reads as not running
func (l *RunLock) View(ctx context.Context, accountID, resourceKey string) (*models.RunState, error) {
	raw, err := l.sessions.GetSession(ctx, accountID, resourceKey)
	if errors.Is(err, storage.ErrNotFound) {
		return &models.RunState{}, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get session", err)
	}

	var s models.SessionData
	if err := json.Unmarshal(raw, &s); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("resource_key", resourceKey).Warn("malformed session read as idle")
		return &models.RunState{}, nil
	}
	if s.Run == nil {
		return &models.RunState{}, nil
	}
	return s.Run, nil
}

// update runs a read-modify-write of one session under its exclusive transaction.
// fn returns false to leave the row untouched. With create=false a missing or
// malformed session is an error and fn is not called.
func (l *RunLock) update(ctx context.Context, accountID, resourceKey string, create bool, fn func(s *models.SessionData, now time.Time) bool) error {
	return l.sessions.WithSessionTx(ctx, accountID, resourceKey, func(tx storage.SessionTx) error {
		raw, found, err := tx.Load(ctx)
		if err != nil {
			return err
		}

		now := l.now()
		var data *models.SessionData
		switch {
		case !found && !create:
			return storage.ErrNotFound
		case !found:
			data = models.NewSessionData(resourceKey, now)
		default:
			data = &models.SessionData{}
			if err := json.Unmarshal(raw, data); err != nil {
				if !create {
					return fmt.Errorf("%w: %v", errMalformedSession, err)
				}
				logging.FromContext(ctx).WithError(err).WithFields(map[string]any{
					"account_id":   accountID,
					"resource_key": resourceKey,
				}).Warn("malformed session reset to defaults")
				data = models.NewSessionData(resourceKey, now)
			}
		}

		if !fn(data, now) {
			return nil
		}
		data.UpdatedAt = &now
		out, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to encode session: %w", err)
		}
		return tx.Save(ctx, out)
	})
}
