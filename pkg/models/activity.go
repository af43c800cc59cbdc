package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	ActivityJobSubmitted        = "job_submitted"
	ActivityJobCompleted        = "job_completed"
	ActivityJobFailed           = "job_failed"
	ActivityCreditsDeducted     = "credits_deducted"
	ActivityCreditsInsufficient = "credits_insufficient"
	ActivityRateLimited         = "rate_limited"
)

// Activity is a best-effort observability record.
type Activity struct {
	ID        uuid.UUID       `db:"id"         json:"id"`
	UserID    uuid.UUID       `db:"user_id"    json:"user_id"`
	Type      string          `db:"type"       json:"type"`
	Endpoint  *string         `db:"endpoint"   json:"endpoint,omitempty"`
	Metadata  json.RawMessage `db:"metadata"   json:"metadata,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Notification is a user-facing message written when a job reaches a terminal state.
type Notification struct {
	ID        uuid.UUID  `db:"id"         json:"id"`
	UserID    uuid.UUID  `db:"user_id"    json:"user_id"`
	JobID     *uuid.UUID `db:"job_id"     json:"job_id,omitempty"`
	Title     string     `db:"title"      json:"title"`
	Message   string     `db:"message"    json:"message"`
	ReadAt    *time.Time `db:"read_at"    json:"read_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// RateLimitStatus reports the state of one (user, endpoint) window.
type RateLimitStatus struct {
	Allowed           bool      `json:"allowed"`
	Limit             int       `json:"limit"`
	RemainingRequests int       `json:"remaining_requests"`
	ResetTime         time.Time `json:"reset_time"`
}
