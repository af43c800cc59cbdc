package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobforge/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrStatusConflict is returned when a compare-and-set transition finds the job
// in a different status than expected.
var ErrStatusConflict = errors.New("job status changed concurrently")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, userID uuid.UUID) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)
	TransitionJob(ctx context.Context, id uuid.UUID, from, to models.JobStatus, opts ...JobUpdateOption) (*models.Job, error)
	ClaimNextJob(ctx context.Context, types []models.JobType) (*models.Job, error)
	ListStaleJobs(ctx context.Context, status models.JobStatus, idleSince time.Time, limit int) ([]*models.Job, error)

	EnsureUserCredits(ctx context.Context, userID uuid.UUID, allotment int, resetAt time.Time) (*models.UserCredits, error)
	GetUserCredits(ctx context.Context, userID uuid.UUID) (*models.UserCredits, error)
	DeductCredits(ctx context.Context, d models.Deduction) (int, bool, error)
	DeductCreditsAndCreateJob(ctx context.Context, d models.Deduction, job *models.Job) (int, bool, error)
	ListCreditTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]*models.CreditTransaction, error)
	ReplenishCredits(ctx context.Context, allotment int, now time.Time, nextReset time.Time) (int64, error)

	CreateActivity(ctx context.Context, a *models.Activity) error
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Notification, error)
}

type JobFilter struct {
	UserID  uuid.UUID
	JobType models.JobType
	Limit   int
	Offset  int
}

type jobUpdateParams struct {
	ResultData     json.RawMessage
	ErrorMessage   *string
	RetryIncrement bool
	RunAt          *time.Time
	UpdatedAt      *time.Time
}

type JobUpdateOption func(*jobUpdateParams)

// JobUpdate is the resolved set of column changes requested by options.
type JobUpdate = jobUpdateParams

// ApplyJobUpdateOptions resolves opts into a JobUpdate.
func ApplyJobUpdateOptions(opts ...JobUpdateOption) JobUpdate {
	var p jobUpdateParams
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

func WithResultData(data json.RawMessage) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ResultData = data
	}
}

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorMessage = &msg
	}
}

// WithRetryIncrement bumps retry_count by one as part of the transition.
func WithRetryIncrement() JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.RetryIncrement = true
	}
}

// WithExpectedUpdatedAt also pins the compare-and-set to the row version that
// was read; a row touched since then reports ErrStatusConflict.
func WithExpectedUpdatedAt(t time.Time) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.UpdatedAt = &t
	}
}

func WithRunAt(t time.Time) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.RunAt = &t
	}
}
