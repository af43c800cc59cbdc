package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobforge/internal/cache"
	"github.com/kiranshivaraju/jobforge/internal/events"
	"github.com/kiranshivaraju/jobforge/internal/store"
	"github.com/kiranshivaraju/jobforge/pkg/models"
)

const (
	DefaultMaxRetries    = 3
	DefaultSnapshotTTL   = 24 * time.Hour
	maxPriority          = 100
	exhaustedRetriesText = "max retries exceeded"
)

// ActivityLogger is the best-effort observability sink.
type ActivityLogger interface {
	LogActivity(ctx context.Context, userID uuid.UUID, activityType, endpoint string, metadata map[string]any)
}

// Payload carries the data written alongside a transition.
// ResultData is required for completed, ErrorMessage for failed. On a requeue
// ErrorMessage is kept only if the retry budget is exhausted and the job fails.
type Payload struct {
	ResultData   json.RawMessage
	ErrorMessage string
}

// Service enforces the job state machine on top of the store and announces
// every transition to subscribers.
type Service struct {
	store       store.Store
	cache       cache.Cache
	publisher   events.Publisher
	activity    ActivityLogger
	logger      *slog.Logger
	maxRetries  int
	backoff     Backoff
	snapshotTTL time.Duration
	now         func() time.Time
}

type Option func(*Service)

// WithCache enables the terminal-job snapshot cache used by GetJob.
func WithCache(c cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithActivityLogger(a ActivityLogger) Option {
	return func(s *Service) { s.activity = a }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithRetryPolicy sets the requeue budget and the delay before a requeued job is runnable.
func WithRetryPolicy(maxRetries int, b Backoff) Option {
	return func(s *Service) {
		s.maxRetries = maxRetries
		if b != nil {
			s.backoff = b
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new Service.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:       st,
		logger:      slog.Default(),
		maxRetries:  DefaultMaxRetries,
		backoff:     NewExponential(5*time.Second, 5*time.Minute),
		snapshotTTL: DefaultSnapshotTTL,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxRetries returns the configured requeue budget.
func (s *Service) MaxRetries() int { return s.maxRetries }

// NewJob validates input and builds a pending job without persisting it.
func (s *Service) NewJob(userID uuid.UUID, jobType models.JobType, input json.RawMessage, priority int) (*models.Job, error) {
	if userID == uuid.Nil {
		return nil, &ValidationError{Msg: "user_id is required"}
	}
	if !jobType.Valid() {
		return nil, &ValidationError{Msg: fmt.Sprintf("unknown job_type %q", jobType)}
	}
	if priority < 0 || priority > maxPriority {
		return nil, &ValidationError{Msg: fmt.Sprintf("priority must be between 0 and %d", maxPriority)}
	}
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	if !json.Valid(input) {
		return nil, &ValidationError{Msg: "input_data must be valid JSON"}
	}

	now := s.now()
	return &models.Job{
		ID:         uuid.New(),
		UserID:     userID,
		JobType:    jobType,
		Status:     models.JobStatusPending,
		Priority:   priority,
		InputData:  input,
		RetryCount: 0,
		RunAt:      now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// CreateJob persists a new pending job and announces it.
func (s *Service) CreateJob(ctx context.Context, userID uuid.UUID, jobType models.JobType, input json.RawMessage, priority int) (*models.Job, error) {
	job, err := s.NewJob(userID, jobType, input, priority)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	s.Announce(ctx, job)
	return job, nil
}

// Announce publishes a freshly persisted job and records the submission.
func (s *Service) Announce(ctx context.Context, job *models.Job) {
	s.publish(ctx, job)
	s.logActivity(ctx, job.UserID, models.ActivityJobSubmitted, string(job.JobType), map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"priority": job.Priority,
	})
}

// GetJob returns a job by ID. Terminal jobs are served from the snapshot cache
// so repeated reads return identical records.
func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, cache.JobKey(id)); err == nil && ok {
			var job models.Job
			if err := json.Unmarshal(data, &job); err == nil {
				return &job, nil
			}
		}
	}

	job, err := s.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting job: %w", err)
	}
	if job.Status.Terminal() {
		s.cacheSnapshot(ctx, job)
	}
	return job, nil
}

// ListJobs returns a page of jobs newest first, and the total match count.
func (s *Service) ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error) {
	if filter.JobType != "" && !filter.JobType.Valid() {
		return nil, 0, &ValidationError{Msg: fmt.Sprintf("unknown job_type %q", filter.JobType)}
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, 0, &ValidationError{Msg: "limit and offset must be non-negative"}
	}
	jobs, total, err := s.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, total, nil
}

// Transition moves a job to status to. The edge must be in the state machine,
// and the write is a compare-and-set on the status that was read, so a
// concurrent change surfaces as InvalidTransitionError. A requeue past the
// retry budget is recorded as failed instead.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to models.JobStatus, p Payload) (*models.Job, error) {
	return s.transition(ctx, id, to, p, nil)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to models.JobStatus, p Payload, seen *models.Job) (*models.Job, error) {
	current, err := s.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting job: %w", err)
	}

	if seen != nil && (current.Status != seen.Status || !current.UpdatedAt.Equal(seen.UpdatedAt)) {
		return nil, ErrJobChanged
	}

	from := current.Status
	if !CanTransition(from, to) {
		return nil, &InvalidTransitionError{From: from, To: to}
	}
	if err := validatePayload(to, p); err != nil {
		return nil, err
	}

	var opts []store.JobUpdateOption
	switch to {
	case models.JobStatusCompleted:
		opts = append(opts, store.WithResultData(p.ResultData))
	case models.JobStatusFailed:
		opts = append(opts, store.WithErrorMessage(p.ErrorMessage), store.WithRetryIncrement())
	case models.JobStatusPending:
		attempt := current.RetryCount + 1
		if attempt > s.maxRetries {
			msg := p.ErrorMessage
			if msg == "" {
				msg = exhaustedRetriesText
			} else {
				msg = exhaustedRetriesText + ": " + msg
			}
			to = models.JobStatusFailed
			opts = append(opts, store.WithErrorMessage(msg), store.WithRetryIncrement())
			break
		}
		opts = append(opts, store.WithRetryIncrement(), store.WithRunAt(s.now().Add(s.backoff.Delay(attempt))))
	}

	if seen != nil {
		opts = append(opts, store.WithExpectedUpdatedAt(seen.UpdatedAt))
	}

	job, err := s.store.TransitionJob(ctx, id, from, to, opts...)
	if seen != nil && errors.Is(err, store.ErrStatusConflict) {
		return nil, ErrJobChanged
	}
	if err != nil {
		return nil, s.transitionError(ctx, id, to, err)
	}

	s.logger.Info("job transitioned", "job_id", job.ID, "from", from, "to", job.Status, "retry_count", job.RetryCount)
	s.afterTransition(ctx, job)
	return job, nil
}

// Claim moves a specific pending job to processing. Exactly one concurrent
// claimer succeeds; the rest get InvalidTransitionError.
func (s *Service) Claim(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return s.Transition(ctx, id, models.JobStatusProcessing, Payload{})
}

// ClaimNext claims the highest-priority runnable pending job, optionally
// restricted to types. Returns ErrNoPendingJobs when the queue is empty.
func (s *Service) ClaimNext(ctx context.Context, types []models.JobType) (*models.Job, error) {
	for _, t := range types {
		if !t.Valid() {
			return nil, &ValidationError{Msg: fmt.Sprintf("unknown job_type %q", t)}
		}
	}
	job, err := s.store.ClaimNextJob(ctx, types)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoPendingJobs
	}
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	s.logger.Info("job claimed", "job_id", job.ID, "job_type", job.JobType)
	s.afterTransition(ctx, job)
	return job, nil
}

// Complete records a successful result.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, result json.RawMessage) (*models.Job, error) {
	return s.Transition(ctx, id, models.JobStatusCompleted, Payload{ResultData: result})
}

// Fail records a processing failure. Retryable failures requeue the job until
// the retry budget runs out.
func (s *Service) Fail(ctx context.Context, id uuid.UUID, msg string, retryable bool) (*models.Job, error) {
	if retryable {
		return s.Transition(ctx, id, models.JobStatusPending, Payload{ErrorMessage: msg})
	}
	return s.Transition(ctx, id, models.JobStatusFailed, Payload{ErrorMessage: msg})
}

// RequeueStale is Fail(retryable) for a job read earlier by StaleProcessing.
// It only applies if the job is still at the version that was read, so an
// attempt that was requeued and claimed again in between is left alone.
func (s *Service) RequeueStale(ctx context.Context, job *models.Job, msg string) (*models.Job, error) {
	return s.transition(ctx, job.ID, models.JobStatusPending, Payload{ErrorMessage: msg}, job)
}

// StalePending returns runnable pending jobs untouched for longer than idle.
func (s *Service) StalePending(ctx context.Context, idle time.Duration, limit int) ([]*models.Job, error) {
	return s.store.ListStaleJobs(ctx, models.JobStatusPending, s.now().Add(-idle), limit)
}

// StaleProcessing returns processing jobs untouched for longer than idle.
func (s *Service) StaleProcessing(ctx context.Context, idle time.Duration, limit int) ([]*models.Job, error) {
	return s.store.ListStaleJobs(ctx, models.JobStatusProcessing, s.now().Add(-idle), limit)
}

func validatePayload(to models.JobStatus, p Payload) error {
	switch to {
	case models.JobStatusCompleted:
		if len(p.ResultData) == 0 {
			return &ValidationError{Msg: "result_data is required when completing a job"}
		}
		if !json.Valid(p.ResultData) {
			return &ValidationError{Msg: "result_data must be valid JSON"}
		}
		if p.ErrorMessage != "" {
			return &ValidationError{Msg: "error_message is not allowed when completing a job"}
		}
	case models.JobStatusFailed:
		if p.ErrorMessage == "" {
			return &ValidationError{Msg: "error_message is required when failing a job"}
		}
		if len(p.ResultData) != 0 {
			return &ValidationError{Msg: "result_data is not allowed when failing a job"}
		}
	default:
		if len(p.ResultData) != 0 {
			return &ValidationError{Msg: fmt.Sprintf("result_data is not allowed for status %s", to)}
		}
		if to == models.JobStatusProcessing && p.ErrorMessage != "" {
			return &ValidationError{Msg: "error_message is not allowed when claiming a job"}
		}
	}
	return nil
}

func (s *Service) transitionError(ctx context.Context, id uuid.UUID, to models.JobStatus, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrStatusConflict):
		latest, getErr := s.store.GetJob(ctx, id)
		if getErr != nil {
			return &InvalidTransitionError{To: to}
		}
		return &InvalidTransitionError{From: latest.Status, To: to}
	}
	return fmt.Errorf("transitioning job: %w", err)
}

func (s *Service) afterTransition(ctx context.Context, job *models.Job) {
	s.publish(ctx, job)
	if !job.Status.Terminal() {
		return
	}

	s.cacheSnapshot(ctx, job)

	title, activityType := "Generation complete", models.ActivityJobCompleted
	message := fmt.Sprintf("Your %s job finished.", job.JobType)
	if job.Status == models.JobStatusFailed {
		title, activityType = "Generation failed", models.ActivityJobFailed
		message = fmt.Sprintf("Your %s job failed after %d attempt(s).", job.JobType, job.RetryCount)
	}

	jobID := job.ID
	n := &models.Notification{
		ID:        uuid.New(),
		UserID:    job.UserID,
		JobID:     &jobID,
		Title:     title,
		Message:   message,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		s.logger.Warn("failed to write notification", "err", err, "job_id", job.ID)
	}

	s.logActivity(ctx, job.UserID, activityType, string(job.JobType), map[string]any{
		"job_id":      job.ID,
		"retry_count": job.RetryCount,
	})
}

func (s *Service) publish(ctx context.Context, job *models.Job) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, job); err != nil {
		s.logger.Warn("failed to publish job event", "err", err, "job_id", job.ID, "status", job.Status)
	}
}

func (s *Service) cacheSnapshot(ctx context.Context, job *models.Job) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(job)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cache.JobKey(job.ID), data, s.snapshotTTL); err != nil {
		s.logger.Warn("failed to cache job snapshot", "err", err, "job_id", job.ID)
	}
}

func (s *Service) logActivity(ctx context.Context, userID uuid.UUID, activityType, endpoint string, metadata map[string]any) {
	if s.activity == nil {
		return
	}
	s.activity.LogActivity(ctx, userID, activityType, endpoint, metadata)
}
