package dispatch

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
	"github.com/kiranshivaraju/jobforge/internal/ratelimit"
	"github.com/kiranshivaraju/jobforge/pkg/models"
)

const defaultSignalTimeout = 5 * time.Second

// JobService is the part of jobs.Service the dispatcher needs.
type JobService interface {
	NewJob(userID uuid.UUID, jobType models.JobType, input json.RawMessage, priority int) (*models.Job, error)
	Announce(ctx context.Context, job *models.Job)
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

// Admitter deducts credits and persists the job atomically.
type Admitter interface {
	Admit(ctx context.Context, job *models.Job, description string) (*models.DeductResult, error)
}

// RateLimiter checks and records one attempt.
type RateLimiter interface {
	Allow(ctx context.Context, userID uuid.UUID, endpoint string) (*models.RateLimitStatus, error)
}

// ActivityLogger is the best-effort observability sink.
type ActivityLogger interface {
	LogActivity(ctx context.Context, userID uuid.UUID, activityType, endpoint string, metadata map[string]any)
}

// SubmitRequest is a client request to run one job.
type SubmitRequest struct {
	UserID      uuid.UUID
	JobType     models.JobType
	InputData   json.RawMessage
	Priority    int
	Description string
}

// SubmitResult reports the admitted job and the admission state.
type SubmitResult struct {
	Job       *models.Job
	Credits   *models.DeductResult
	RateLimit *models.RateLimitStatus
}

// Dispatcher runs the submission pipeline: rate limit, credit admission, job
// creation, then an asynchronous signal to the processor.
type Dispatcher struct {
	jobs     JobService
	admitter Admitter
	limiter  RateLimiter
	trigger  Trigger
	activity ActivityLogger
	logger   *slog.Logger
	timeout  time.Duration

	wg sync.WaitGroup
}

type Option func(*Dispatcher)

func WithActivityLogger(a ActivityLogger) Option {
	return func(d *Dispatcher) { d.activity = a }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithSignalTimeout bounds each trigger call.
func WithSignalTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(j JobService, a Admitter, l RateLimiter, t Trigger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		jobs:     j,
		admitter: a,
		limiter:  l,
		trigger:  t,
		logger:   slog.Default(),
		timeout:  defaultSignalTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Submit validates the request, applies the rate limit and credit gate, and
// returns the created pending job without waiting for processing. Rate limit
// and credit rejections are returned as *ratelimit.ExceededError and
// *credits.InsufficientCreditsError with the partial result populated.
func (d *Dispatcher) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	job, err := d.jobs.NewJob(req.UserID, req.JobType, req.InputData, req.Priority)
	if err != nil {
		return nil, err
	}

	res := &SubmitResult{}
	endpoint := string(req.JobType)

	res.RateLimit, err = d.limiter.Allow(ctx, req.UserID, endpoint)
	if err != nil {
		var exceeded *ratelimit.ExceededError
		if errors.As(err, &exceeded) {
			d.logActivity(ctx, req.UserID, models.ActivityRateLimited, endpoint, map[string]any{
				"limit":      exceeded.Limit,
				"reset_time": exceeded.ResetTime,
			})
		}
		return res, err
	}

	res.Credits, err = d.admitter.Admit(ctx, job, req.Description)
	if err != nil {
		return res, err
	}
	res.Job = job

	d.jobs.Announce(ctx, job)
	d.signalAsync(job)
	return res, nil
}

// Redispatch re-signals a pending job synchronously so the caller learns
// whether the processor was reachable.
func (d *Dispatcher) Redispatch(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	job, err := d.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusPending {
		return nil, &jobs.InvalidTransitionError{From: job.Status, To: models.JobStatusProcessing}
	}
	if err := d.Signal(ctx, job); err != nil {
		return job, err
	}
	return job, nil
}

// Signal calls the trigger once. Any failure is reported as ErrDispatchUnavailable.
func (d *Dispatcher) Signal(ctx context.Context, job *models.Job) error {
	sigCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.trigger.Signal(sigCtx, job); err != nil {
		if errors.Is(err, ErrDispatchUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDispatchUnavailable, err)
	}
	return nil
}

// Wait blocks until background signals have returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) signalAsync(job *models.Job) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.Signal(context.Background(), job); err != nil {
			d.logger.Warn("dispatch signal failed, job stays pending", "err", err,
				"job_id", job.ID, "trigger", d.trigger.Name())
			return
		}
		d.logger.Debug("dispatch signalled", "job_id", job.ID, "trigger", d.trigger.Name())
	}()
}

func (d *Dispatcher) logActivity(ctx context.Context, userID uuid.UUID, activityType, endpoint string, metadata map[string]any) {
	if d.activity == nil {
		return
	}
	d.activity.LogActivity(ctx, userID, activityType, endpoint, metadata)
}
