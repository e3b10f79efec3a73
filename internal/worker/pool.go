// Package worker runs units of work off the request goroutine and the periodic janitor.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/sasha9954/photostudio-core/internal/logging"
)

// ErrPoolClosed is returned by Submit after Shutdown
var ErrPoolClosed = errors.New("worker pool is closed")

// Handle tracks one submitted unit of work
type Handle struct {
	name string
	done chan struct{}
}

// Done closes when the unit of work has returned or panicked
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Pool bounds how many units of work run at once
type Pool struct {
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPool creates a pool running at most size units concurrently
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit queues fn and returns immediately. fn receives a context detached from
// the caller's request and cancelled only when the pool is force-stopped.
func (p *Pool) Submit(name string, fn func(ctx context.Context)) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}

	h := &Handle{name: name, done: make(chan struct{})}
	p.wg.Add(1)
	go p.run(h, fn)
	return h, nil
}

func (p *Pool) run(h *Handle, fn func(ctx context.Context)) {
	defer p.wg.Done()
	defer close(h.done)

	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		logging.WithField("task", h.name).Warn("worker pool stopped before task started")
		return
	}
	defer p.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			logging.WithError(fmt.Errorf("panic: %v", r)).WithField("task", h.name).Error("worker task panicked")
		}
	}()
	fn(p.ctx)
}

// Shutdown stops accepting work and waits for running units until ctx expires,
// after which their context is cancelled.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}
