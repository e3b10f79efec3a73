package job

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/sasha9954/photostudio-core/internal/errors"
	"github.com/sasha9954/photostudio-core/internal/id"
	"github.com/sasha9954/photostudio-core/internal/models"
	"github.com/sasha9954/photostudio-core/internal/storage"
	"github.com/sasha9954/photostudio-core/internal/types"
)

func ptr[T any](v T) *T { return &v }

func TestStore_CreateAndGet(t *testing.T) {
	store := NewStore(storage.NewTestSQLiteStore(t))
	ctx := context.Background()

	job, err := store.Create(ctx, "acct_a", "FULL")
	require.NoError(t, err)
	require.NoError(t, id.Validate(job.JobID, id.PrefixJob))

	got, err := store.Get(ctx, "acct_a", job.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStateQueued, got.State)
	assert.Zero(t, got.Progress)
	assert.Zero(t, got.Spent)
	assert.Nil(t, got.Result)
	assert.Nil(t, got.Error)
	assert.Equal(t, "FULL", got.ResourceKey)
}

func TestStore_GetHidesForeignJobs(t *testing.T) {
	store := NewStore(storage.NewTestSQLiteStore(t))
	ctx := context.Background()

	job, err := store.Create(ctx, "acct_a", "FULL")
	require.NoError(t, err)

	_, foreignErr := store.Get(ctx, "acct_b", job.JobID)
	_, missingErr := store.Get(ctx, "acct_b", "job_missing")
	require.Error(t, foreignErr)
	require.Error(t, missingErr)
	assert.ErrorIs(t, foreignErr, apperrors.ErrNotFound)
	assert.Equal(t, apperrors.Categorize(missingErr).Code, apperrors.Categorize(foreignErr).Code)
	assert.Equal(t, "JOB_NOT_FOUND", apperrors.Categorize(foreignErr).Code)
}

func TestStore_PartialUpdate(t *testing.T) {
	store := NewStore(storage.NewTestSQLiteStore(t))
	ctx := context.Background()
	clock := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }

	job, err := store.Create(ctx, "acct_a", "FULL")
	require.NoError(t, err)

	clock = clock.Add(time.Second)
	require.NoError(t, store.Update(ctx, job.JobID, stateUpdate(types.JobStateRunning, 5)))
	clock = clock.Add(time.Second)
	require.NoError(t, store.Update(ctx, job.JobID, models.JobUpdate{Spent: ptr(int64(3))}))

	got, err := store.Get(ctx, "acct_a", job.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStateRunning, got.State)
	assert.Equal(t, 5, got.Progress, "unset fields are untouched")
	assert.Equal(t, int64(3), got.Spent)
	assert.True(t, got.UpdatedAt.Equal(clock))
	assert.True(t, got.CreatedAt.Equal(job.CreatedAt))

	// progress is clamped
	require.NoError(t, store.Update(ctx, job.JobID, models.JobUpdate{Progress: ptr(150)}))
	got, err = store.Get(ctx, "acct_a", job.JobID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Progress)
}

func TestStore_StateMachine(t *testing.T) {
	store := NewStore(storage.NewTestSQLiteStore(t))
	ctx := context.Background()

	job, err := store.Create(ctx, "acct_a", "FULL")
	require.NoError(t, err)

	err = store.Update(ctx, job.JobID, stateUpdate(types.JobStateDone, 100))
	assert.Error(t, err, "queued cannot jump to done")

	require.NoError(t, store.Update(ctx, job.JobID, stateUpdate(types.JobStateRunning, 5)))
	done := stateUpdate(types.JobStateDone, 100)
	done.Result = json.RawMessage(`{"results":[],"spent":1}`)
	require.NoError(t, store.Update(ctx, job.JobID, done))

	err = store.Update(ctx, job.JobID, models.JobUpdate{Progress: ptr(10)})
	assert.ErrorIs(t, err, ErrJobFinished)

	got, err := store.Get(ctx, "acct_a", job.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStateDone, got.State)
	assert.JSONEq(t, `{"results":[],"spent":1}`, string(got.Result))

	err = store.Update(ctx, "job_missing", models.JobUpdate{Progress: ptr(1)})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestStore_ListStale(t *testing.T) {
	store := NewStore(storage.NewTestSQLiteStore(t))
	ctx := context.Background()
	old := time.Now().UTC().Add(-time.Hour)

	store.now = func() time.Time { return old }
	stale, err := store.Create(ctx, "acct_a", "FULL")
	require.NoError(t, err)
	finished, err := store.Create(ctx, "acct_a", "LEGS")
	require.NoError(t, err)
	require.NoError(t, store.Update(ctx, finished.JobID, stateUpdate(types.JobStateError, 0)))

	store.now = func() time.Time { return time.Now().UTC() }
	_, err = store.Create(ctx, "acct_a", "TORSO")
	require.NoError(t, err)

	jobs, err := store.ListStale(ctx, time.Now().UTC().Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, stale.JobID, jobs[0].JobID)
}
