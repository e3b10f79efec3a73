package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecoverer struct {
	mu    sync.Mutex
	calls []time.Duration
	n     int
	err   error
}

func (f *fakeRecoverer) RecoverInterrupted(ctx context.Context, olderThan time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, olderThan)
	return f.n, f.err
}

func (f *fakeRecoverer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSweeper struct {
	mu      sync.Mutex
	cutoffs []time.Time
}

func (f *fakeSweeper) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return 1, nil
}

func (f *fakeSweeper) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func TestNewJanitor_Defaults(t *testing.T) {
	_, err := NewJanitor(&JanitorConfig{Sessions: &fakeSweeper{}})
	assert.Error(t, err)

	j, err := NewJanitor(&JanitorConfig{Recoverer: &fakeRecoverer{}, Sessions: &fakeSweeper{}})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, j.interval)
	assert.Equal(t, 15*time.Minute, j.recoverAfter)
	assert.Equal(t, 24*time.Hour, j.sessionTTL)
}

func TestJanitor_SweepCutoff(t *testing.T) {
	sweeper := &fakeSweeper{}
	j, err := NewJanitor(&JanitorConfig{Recoverer: &fakeRecoverer{}, Sessions: sweeper, SessionTTL: time.Hour})
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return now }

	assert.Equal(t, int64(1), j.SweepSessions(context.Background()))
	require.Len(t, sweeper.cutoffs, 1)
	assert.Equal(t, now.Add(-time.Hour), sweeper.cutoffs[0])
}

func TestJanitor_RecoveryErrorsAreLogged(t *testing.T) {
	rec := &fakeRecoverer{err: errors.New("db down")}
	j, err := NewJanitor(&JanitorConfig{Recoverer: rec, Sessions: &fakeSweeper{}, RecoverAfter: time.Minute})
	require.NoError(t, err)

	assert.Zero(t, j.RecoverInterrupted(context.Background()))
	assert.Equal(t, []time.Duration{time.Minute}, rec.calls)
}

func TestJanitor_StartStop(t *testing.T) {
	rec := &fakeRecoverer{}
	sweeper := &fakeSweeper{}
	j, err := NewJanitor(&JanitorConfig{Recoverer: rec, Sessions: sweeper, Interval: 5 * time.Millisecond})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, j.Start(ctx))
	assert.Error(t, j.Start(ctx), "second start must fail")
	assert.GreaterOrEqual(t, rec.count(), 1, "recovery runs once at start")

	assert.Eventually(t, func() bool { return sweeper.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, j.Stop(ctx))
	assert.Error(t, j.Stop(ctx))
}
