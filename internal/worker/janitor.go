package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sasha9954/photostudio-core/internal/logging"
)

// Recoverer fails jobs left queued or running by a crashed process
type Recoverer interface {
	RecoverInterrupted(ctx context.Context, olderThan time.Duration) (int, error)
}

// SessionSweeper deletes idle sessions
type SessionSweeper interface {
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// JanitorConfig holds configuration for the janitor
type JanitorConfig struct {
	Recoverer    Recoverer
	Sessions     SessionSweeper
	Interval     time.Duration
	RecoverAfter time.Duration
	SessionTTL   time.Duration
}

// Janitor periodically recovers interrupted jobs and sweeps stale sessions
type Janitor struct {
	recoverer    Recoverer
	sessions     SessionSweeper
	interval     time.Duration
	recoverAfter time.Duration
	sessionTTL   time.Duration
	now          func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewJanitor creates a janitor
func NewJanitor(cfg *JanitorConfig) (*Janitor, error) {
	if cfg.Recoverer == nil {
		return nil, fmt.Errorf("recoverer cannot be nil")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session sweeper cannot be nil")
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	recoverAfter := cfg.RecoverAfter
	if recoverAfter <= 0 {
		recoverAfter = 15 * time.Minute
	}
	sessionTTL := cfg.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}

	return &Janitor{
		recoverer:    cfg.Recoverer,
		sessions:     cfg.Sessions,
		interval:     interval,
		recoverAfter: recoverAfter,
		sessionTTL:   sessionTTL,
		now:          time.Now,
	}, nil
}

// Start recovers interrupted jobs once, then runs both tasks every interval
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return fmt.Errorf("janitor is already running")
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})

	logging.Infof("Starting janitor with interval %v", j.interval)
	j.RecoverInterrupted(ctx)

	go j.loop(ctx)
	return nil
}

// Stop signals the loop and waits for it to exit
func (j *Janitor) Stop(ctx context.Context) error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return fmt.Errorf("janitor is not running")
	}
	j.running = false
	stopCh, doneCh := j.stopCh, j.doneCh
	j.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
		logging.Infof("Janitor stopped gracefully")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Janitor) loop(ctx context.Context) {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.stopCh:
			return
		case <-ticker.C:
			j.RecoverInterrupted(ctx)
			j.SweepSessions(ctx)
		}
	}
}

// RecoverInterrupted refunds and fails jobs not updated within the recovery window
func (j *Janitor) RecoverInterrupted(ctx context.Context) int {
	n, err := j.recoverer.RecoverInterrupted(ctx, j.recoverAfter)
	if err != nil {
		logging.WithError(err).Error("Janitor: job recovery failed")
	}
	if n > 0 {
		logging.WithField("jobs", n).Warn("Janitor: recovered interrupted jobs")
	}
	return n
}

// SweepSessions deletes sessions idle for longer than the session TTL
func (j *Janitor) SweepSessions(ctx context.Context) int64 {
	n, err := j.sessions.DeleteSessionsBefore(ctx, j.now().Add(-j.sessionTTL))
	if err != nil {
		logging.WithError(err).Error("Janitor: session sweep failed")
		return 0
	}
	if n > 0 {
		logging.WithField("sessions", n).Info("Janitor: swept idle sessions")
	}
	return n
}
