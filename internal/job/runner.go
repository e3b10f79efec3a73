package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sasha9954/photostudio-core/internal/adapter"
	apperrors "github.com/sasha9954/photostudio-core/internal/errors"
	"github.com/sasha9954/photostudio-core/internal/logging"
	"github.com/sasha9954/photostudio-core/internal/models"
	"github.com/sasha9954/photostudio-core/internal/retry"
	"github.com/sasha9954/photostudio-core/internal/storage"
	"github.com/sasha9954/photostudio-core/internal/types"
	"github.com/sasha9954/photostudio-core/internal/worker"
)

// Progress milestones
const (
	progressStarted   = 5
	progressCharged   = 15
	progressGenerated = 80
	progressDone      = 100
)

const (
	recoverBatch     = 100
	defaultHeartbeat = 30 * time.Second
)

// Ledger is the part of the ledger service the runner charges and refunds through
type Ledger interface {
	Debit(ctx context.Context, accountID string, amount int64, reason types.Reason, ref string) (int64, error)
	Refund(ctx context.Context, accountID, ref string, reason types.Reason) (int64, error)
}

// Submitter runs a unit of work off the calling goroutine
type Submitter interface {
	Submit(name string, fn func(ctx context.Context)) (*worker.Handle, error)
}

// RunnerConfig holds the runner's collaborators and settings
type RunnerConfig struct {
	Jobs           *Store
	Locks          *RunLock
	Ledger         Ledger
	Generator      adapter.Generator
	Artifacts      storage.ArtifactStore
	Pool           Submitter
	LockTTL        time.Duration
	CreditsPerUnit int64
	ResourceKeys   []string      // empty allows any key
	Heartbeat      time.Duration // how often a running job refreshes updated_at
	RefundRetry    *retry.RetryConfig
}

// Launched is returned by Launch once the job record exists
type Launched struct {
	JobID string         `json:"jobId"`
	State types.JobState `json:"state"`
	Cost  int64          `json:"cost"`
	done  <-chan struct{}
}

// Done closes when the unit of work has finished; nil when nothing was started
func (l *Launched) Done() <-chan struct{} {
	return l.done
}

// Runner launches generation jobs and drives them to done or error
type Runner struct {
	jobs           *Store
	locks          *RunLock
	ledger         Ledger
	generator      adapter.Generator
	artifacts      storage.ArtifactStore
	pool           Submitter
	lockTTL        time.Duration
	creditsPerUnit int64
	resourceKeys   []string
	heartbeatEvery time.Duration
	refundRetry    *retry.RetryConfig
	now            func() time.Time

	active sync.Map // job id -> struct{}, jobs running in this process
}

// NewRunner creates a job runner
func NewRunner(cfg *RunnerConfig) (*Runner, error) {
	if cfg.Jobs == nil || cfg.Locks == nil || cfg.Ledger == nil {
		return nil, fmt.Errorf("job store, run lock and ledger are required")
	}
	if cfg.Generator == nil || cfg.Artifacts == nil || cfg.Pool == nil {
		return nil, fmt.Errorf("generator, artifact store and pool are required")
	}

	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	creditsPerUnit := cfg.CreditsPerUnit
	if creditsPerUnit < 0 {
		creditsPerUnit = 0
	}
	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	refundRetry := cfg.RefundRetry
	if refundRetry == nil {
		refundRetry = &retry.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     time.Second,
			Multiplier:   2,
			Retryable:    apperrors.IsRetryable,
		}
	}

	return &Runner{
		jobs:           cfg.Jobs,
		locks:          cfg.Locks,
		ledger:         cfg.Ledger,
		generator:      cfg.Generator,
		artifacts:      cfg.Artifacts,
		pool:           cfg.Pool,
		lockTTL:        lockTTL,
		creditsPerUnit: creditsPerUnit,
		resourceKeys:   cfg.ResourceKeys,
		heartbeatEvery: heartbeat,
		refundRetry:    refundRetry,
		now:            func() time.Time { return time.Now().UTC() },
	}, nil
}

// Cost returns the credits a spec will be charged
func (r *Runner) Cost(spec adapter.AssetSpec) int64 {
	return int64(spec.Units()) * r.creditsPerUnit
}

// Launch creates the job, takes the run lock and hands the work to the pool.
// When the lock is held the new job is marked error "already_running" and
// returned together with an AlreadyRunning error.
func (r *Runner) Launch(ctx context.Context, accountID, resourceKey string, spec adapter.AssetSpec) (*Launched, error) {
	if len(r.resourceKeys) > 0 && !slices.Contains(r.resourceKeys, resourceKey) {
		return nil, apperrors.NewInvalidParameterError("resourceKey", "unknown resource key "+resourceKey)
	}
	if spec.Units() == 0 {
		return nil, apperrors.NewInvalidParameterError("shots", "at least one shot is required")
	}
	spec.ResourceKey = resourceKey

	job, err := r.jobs.Create(ctx, accountID, resourceKey)
	if err != nil {
		return nil, err
	}
	logger := logging.FromContext(ctx).WithJob(job.JobID, accountID, resourceKey)
	launched := &Launched{JobID: job.JobID, State: types.JobStateQueued, Cost: r.Cost(spec)}

	acquired, err := r.locks.TryAcquire(ctx, accountID, resourceKey, job.JobID, r.lockTTL)
	if err != nil {
		r.markError(ctx, job.JobID, "lock unavailable", nil)
		return nil, err
	}
	if !acquired {
		r.markError(ctx, job.JobID, types.JobErrAlreadyRunning, nil)
		launched.State = types.JobStateError

		conflict := apperrors.NewAlreadyRunningError(resourceKey)
		conflict.Details["jobId"] = job.JobID
		if run, err := r.locks.View(ctx, accountID, resourceKey); err == nil && run.JobID != "" {
			conflict.Details["runningJobId"] = run.JobID
		}
		logger.Info("job rejected, resource already running")
		return launched, conflict
	}

	r.active.Store(job.JobID, struct{}{})
	handle, err := r.pool.Submit("job:"+job.JobID, func(ctx context.Context) {
		r.run(logging.WithLogger(ctx, logger), accountID, resourceKey, job.JobID, spec)
	})
	if err != nil {
		r.active.Delete(job.JobID)
		r.locks.Release(ctx, accountID, resourceKey, job.JobID)
		r.markError(ctx, job.JobID, "worker pool unavailable", nil)
		return nil, apperrors.NewServiceUnavailableError("job workers")
	}

	// the pool closes Done even when it stops before the work starts;
	// the job then stays queued for recovery
	go func() {
		<-handle.Done()
		r.active.Delete(job.JobID)
	}()

	launched.done = handle.Done()
	logger.WithField("cost", launched.Cost).Info("job launched")
	return launched, nil
}

// run is the unit of work. Every exit path releases the run lock; a failure after
// the debit refunds it first.
func (r *Runner) run(ctx context.Context, accountID, resourceKey, jobID string, spec adapter.AssetSpec) {
	logger := logging.FromContext(ctx)
	ref := types.ChargeRef(resourceKey, jobID)
	charged := false

	defer func() {
		if rec := recover(); rec != nil {
			logger.WithError(fmt.Errorf("panic: %v", rec)).Error("job panicked")
			r.fail(ctx, accountID, jobID, ref, charged, "internal error")
		}
		r.locks.Release(ctx, accountID, resourceKey, jobID)
	}()

	if err := r.jobs.Update(ctx, jobID, stateUpdate(types.JobStateRunning, progressStarted)); err != nil {
		logger.WithError(err).Error("failed to mark job running")
		return
	}
	stopHeartbeat := r.heartbeat(ctx, jobID)
	defer stopHeartbeat()

	spent := r.Cost(spec)
	if spent > 0 {
		if _, err := r.ledger.Debit(ctx, accountID, spent, types.ReasonGeneration, ref); err != nil {
			msg := "charge failed"
			if errors.Is(err, apperrors.ErrInsufficientFunds) {
				msg = types.JobErrInsufficientFunds
			} else {
				logger.WithError(err).Error("job debit failed")
			}
			r.markError(ctx, jobID, msg, nil)
			return
		}
		charged = true
	}

	upd := stateUpdate(types.JobStateRunning, progressCharged)
	upd.Spent = &spent
	r.progress(ctx, jobID, upd)

	res := r.generator.GenerateAsset(ctx, spec)
	if !res.OK {
		detail := res.Message
		if detail == "" {
			detail = "generation failed"
		}
		logger.WithError(apperrors.NewExternalCallError("generator", errors.New(detail))).Warn("generation call failed")
		r.fail(ctx, accountID, jobID, ref, charged, types.JobErrExternalCall+": "+detail)
		return
	}
	r.progress(ctx, jobID, stateUpdate(types.JobStateRunning, progressGenerated))

	artifacts := make([]models.Artifact, 0, len(res.Artifacts))
	for _, a := range res.Artifacts {
		_, url, err := r.artifacts.Put(ctx, a.MIMEType, a.Data)
		if err != nil {
			logger.WithError(err).WithField("artifact", a.ID).Error("failed to store artifact")
			r.fail(ctx, accountID, jobID, ref, charged, "failed to store results")
			return
		}
		artifacts = append(artifacts, models.Artifact{ID: a.ID, URL: url, MIMEType: a.MIMEType})
	}
	if err := r.locks.SaveResults(ctx, accountID, resourceKey, artifacts); err != nil {
		logger.WithError(err).Warn("failed to save results on session")
	}

	payload, err := json.Marshal(models.JobResult{Results: artifacts, Spent: spent})
	if err != nil {
		r.fail(ctx, accountID, jobID, ref, charged, "failed to encode result")
		return
	}
	done := stateUpdate(types.JobStateDone, progressDone)
	done.Result = payload
	if err := r.jobs.Update(ctx, jobID, done); err != nil {
		logger.WithError(err).Error("failed to mark job done")
		return
	}
	logger.WithFields(map[string]any{"spent": spent, "artifacts": len(artifacts)}).Info("job done")
}

// fail refunds a charged job, then marks it error. Refund failures are logged, never returned.
func (r *Runner) fail(ctx context.Context, accountID, jobID, ref string, charged bool, msg string) {
	logger := logging.FromContext(ctx)
	var spent *int64
	if charged && r.refund(ctx, accountID, ref) {
		zero := int64(0)
		spent = &zero
	}
	r.markError(ctx, jobID, msg, spent)
	logger.WithField("reason", msg).Warn("job failed")
}

func (r *Runner) refund(ctx context.Context, accountID, ref string) bool {
	var refunded int64
	result := retry.WithExponentialBackoff(ctx, r.refundRetry, func(ctx context.Context, attempt int) error {
		n, err := r.ledger.Refund(ctx, accountID, ref, types.ReasonRefund)
		if err != nil {
			return err
		}
		refunded = n
		return nil
	})
	if !result.Success {
		logging.FromContext(ctx).WithError(result.LastError).WithField("ref", ref).Error("refund failed")
		return false
	}
	logging.FromContext(ctx).WithFields(map[string]any{"ref": ref, "refunded": refunded}).Info("job charge refunded")
	return true
}

// heartbeat refreshes the job's updated_at until the returned stop func is called,
// so a long generation is never mistaken for an interrupted one
func (r *Runner) heartbeat(ctx context.Context, jobID string) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.heartbeatEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.jobs.Touch(ctx, jobID); err != nil && ctx.Err() == nil {
					logging.FromContext(ctx).WithError(err).Warn("job heartbeat failed")
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (r *Runner) markError(ctx context.Context, jobID, msg string, spent *int64) {
	upd := stateUpdate(types.JobStateError, 0)
	upd.Error = &msg
	upd.Spent = spent
	if err := r.jobs.Update(ctx, jobID, upd); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("job_id", jobID).Error("failed to mark job error")
	}
}

func (r *Runner) progress(ctx context.Context, jobID string, upd models.JobUpdate) {
	if err := r.jobs.Update(ctx, jobID, upd); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("job_id", jobID).Warn("failed to record job progress")
	}
}

// RecoverInterrupted fails queued or running jobs untouched for olderThan that no
// goroutine of this process owns. Each job is first claimed with a conditional
// transition to error "interrupted"; only a claimed job has its charge refunded
// and its run lock released, so a job that finished or heartbeated after the
// listing is never refunded.
func (r *Runner) RecoverInterrupted(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := r.now().Add(-olderThan)
	stale, err := r.jobs.ListStale(ctx, cutoff, recoverBatch)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, job := range stale {
		if _, running := r.active.Load(job.JobID); running {
			continue
		}
		logger := logging.FromContext(ctx).WithJob(job.JobID, job.AccountID, job.ResourceKey)
		jobCtx := logging.WithLogger(ctx, logger)

		claimed, err := r.jobs.ClaimStale(jobCtx, job.JobID, cutoff, types.JobErrInterrupted)
		if err != nil {
			logger.WithError(err).Error("failed to claim interrupted job")
			continue
		}
		if !claimed {
			logger.Info("job moved on since it was listed, not recovered")
			continue
		}

		if r.refund(jobCtx, job.AccountID, types.ChargeRef(job.ResourceKey, job.JobID)) {
			if err := r.jobs.SettleRefund(jobCtx, job.JobID); err != nil {
				logger.WithError(err).Warn("failed to record refund on job")
			}
		}
		r.locks.Release(jobCtx, job.AccountID, job.ResourceKey, job.JobID)
		logger.Warn("interrupted job recovered")
		recovered++
	}
	return recovered, nil
}
