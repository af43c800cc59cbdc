package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobforge/internal/jobs"
	"github.com/kiranshivaraju/jobforge/pkg/models"
	"golang.org/x/sync/semaphore"
)

const defaultTimeout = 120 * time.Second

// Jobs is the slice of the job service the runner drives.
type Jobs interface {
	Claim(ctx context.Context, id uuid.UUID) (*models.Job, error)
	Complete(ctx context.Context, id uuid.UUID, result json.RawMessage) (*models.Job, error)
	Fail(ctx context.Context, id uuid.UUID, msg string, retryable bool) (*models.Job, error)
}

// Runner executes jobs in-process. Signal is its dispatch entry point: the job
// is claimed with a compare-and-set, so a signal for a job that another
// processor already took is a no-op.
type Runner struct {
	jobs      Jobs
	processor models.Processor
	sem       *semaphore.Weighted
	timeout   time.Duration
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer
}

type RunnerOption func(*Runner)

func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithConcurrency(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a Runner. Call Close to stop it.
func NewRunner(j Jobs, p models.Processor, opts ...RunnerOption) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		jobs:      j,
		processor: p,
		sem:       semaphore.NewWeighted(8),
		timeout:   defaultTimeout,
		logger:    slog.Default(),
		ctx:       ctx,
		cancel:    cancel,
		timers:    make(map[uuid.UUID]*time.Timer),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name identifies the trigger in logs.
func (r *Runner) Name() string { return "local:" + r.processor.Name() }

// Signal starts processing job in the background. It returns ErrRunnerBusy
// when every slot is taken; the job stays pending for the next sweep.
func (r *Runner) Signal(_ context.Context, job *models.Job) error {
	if r.ctx.Err() != nil {
		return ErrRunnerClosed
	}
	if delay := time.Until(job.RunAt); delay > 0 {
		r.scheduleSignal(job, delay)
		return nil
	}
	if !r.sem.TryAcquire(1) {
		return ErrRunnerBusy
	}
	r.wg.Add(1)
	go r.run(job.ID)
	return nil
}

// Close stops accepting signals, cancels in-flight work and waits for it.
func (r *Runner) Close() {
	r.cancel()
	r.mu.Lock()
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Runner) scheduleSignal(job *models.Job, delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.timers[job.ID]; ok {
		return
	}
	snapshot := job.Clone()
	r.timers[job.ID] = time.AfterFunc(delay, func() {
		r.mu.Lock()
		delete(r.timers, snapshot.ID)
		r.mu.Unlock()

		// delayed signals wait for a free slot instead of being dropped
		if err := r.sem.Acquire(r.ctx, 1); err != nil {
			r.logger.Warn("delayed signal dropped", "err", err, "job_id", snapshot.ID)
			return
		}
		if r.ctx.Err() != nil {
			r.sem.Release(1)
			return
		}
		r.wg.Add(1)
		go r.run(snapshot.ID)
	})
}

// run claims and processes one job. It recovers from panics and always leaves
// the job completed, failed or requeued.
func (r *Runner) run(jobID uuid.UUID) {
	defer r.wg.Done()
	defer r.sem.Release(1)

	ctx := r.ctx
	claimed := false
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic in processor", "error", rec, "job_id", jobID)
			if claimed {
				r.fail(jobID, fmt.Sprintf("panic: %v", rec), false)
			}
		}
	}()

	job, err := r.jobs.Claim(ctx, jobID)
	if err != nil {
		var ite *jobs.InvalidTransitionError
		if errors.As(err, &ite) {
			r.logger.Debug("job already claimed", "job_id", jobID, "status", ite.From)
			return
		}
		r.logger.Warn("claim failed", "err", err, "job_id", jobID)
		return
	}
	claimed = true

	procCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.processor.Process(procCtx, job)
	if err != nil {
		if r.ctx.Err() != nil {
			// shutting down; hand the job back for another processor
			r.fail(jobID, "processor shut down", true)
			return
		}
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("processing timed out after %s", r.timeout)
		}
		r.fail(jobID, msg, Retryable(err))
		return
	}

	if _, err := r.jobs.Complete(context.WithoutCancel(ctx), jobID, result); err != nil {
		var ve *jobs.ValidationError
		if errors.As(err, &ve) {
			r.fail(jobID, "invalid result: "+ve.Msg, false)
			return
		}
		r.logger.Error("failed to complete job", "err", err, "job_id", jobID)
		return
	}
	r.logger.Info("job processed", "job_id", jobID, "processor", r.processor.Name())
}

func (r *Runner) fail(jobID uuid.UUID, msg string, retryable bool) {
	job, err := r.jobs.Fail(context.WithoutCancel(r.ctx), jobID, msg, retryable)
	if err != nil {
		r.logger.Error("failed to record job failure", "err", err, "job_id", jobID)
		return
	}
	if job.Status == models.JobStatusPending && r.ctx.Err() == nil {
		r.scheduleSignal(job, time.Until(job.RunAt))
	}
}
