package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish")
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	pool := NewPool(2)
	var active, peak atomic.Int32
	release := make(chan struct{})

	var handles []*Handle
	for i := 0; i < 6; i++ {
		h, err := pool.Submit("task", func(ctx context.Context) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			active.Add(-1)
		})
		require.NoError(t, err)
		handles = append(handles, h)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	for _, h := range handles {
		waitDone(t, h)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int32(0), active.Load())
}

func TestPool_RecoversPanics(t *testing.T) {
	pool := NewPool(1)
	h, err := pool.Submit("boom", func(ctx context.Context) { panic("boom") })
	require.NoError(t, err)
	waitDone(t, h)

	ran := make(chan struct{})
	h, err = pool.Submit("after", func(ctx context.Context) { close(ran) })
	require.NoError(t, err)
	waitDone(t, h)
	<-ran
}

func TestPool_ShutdownRejectsNewWork(t *testing.T) {
	pool := NewPool(1)
	var finished atomic.Bool
	_, err := pool.Submit("slow", func(ctx context.Context) {
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
	})
	require.NoError(t, err)

	require.NoError(t, pool.Shutdown(context.Background()))
	assert.True(t, finished.Load())

	_, err = pool.Submit("late", func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_ShutdownTimeoutCancelsWork(t *testing.T) {
	pool := NewPool(1)
	cancelled := make(chan struct{})
	_, err := pool.Submit("stuck", func(ctx context.Context) {
		<-ctx.Done()
		close(cancelled)
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.Shutdown(ctx), context.DeadlineExceeded)

	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("task context was not cancelled")
	}
}
