package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobforge/internal/api/response"
	"github.com/kiranshivaraju/jobforge/internal/ratelimit"
	"github.com/kiranshivaraju/jobforge/pkg/models"
)

// APIEndpoint is the limiter endpoint name shared by all authenticated routes.
const APIEndpoint = "api"

// Limiter is the part of ratelimit.Limiter the middleware needs.
type Limiter interface {
	Allow(ctx context.Context, userID uuid.UUID, endpoint string) (*models.RateLimitStatus, error)
}

// RateLimit caps requests per user across the whole API.
type RateLimit struct {
	limiter Limiter
	now     func() time.Time
}

// NewRateLimit creates a new RateLimit middleware. l is usually a
// ratelimit.Limiter configured with a one-minute window.
func NewRateLimit(l Limiter) *RateLimit {
	return &RateLimit{limiter: l, now: time.Now}
}

// Limit applies rate limiting based on the user_id set by auth middleware.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserID(r)
		if !ok {
			// No user means auth middleware didn't run; pass through
			next.ServeHTTP(w, r)
			return
		}

		status, err := rl.limiter.Allow(r.Context(), userID, APIEndpoint)
		var exceeded *ratelimit.ExceededError
		if err != nil && !errors.As(err, &exceeded) {
			// On Redis error, allow the request (fail open)
			slog.Warn("api rate limit check failed", "err", err, "user_id", userID)
			next.ServeHTTP(w, r)
			return
		}

		SetRateLimitHeaders(w, status)

		if exceeded != nil {
			WriteRateLimited(w, exceeded, rl.now())
			return
		}

		next.ServeHTTP(w, r)
	})
}

// SetRateLimitHeaders writes the X-RateLimit-* headers for status.
func SetRateLimitHeaders(w http.ResponseWriter, status *models.RateLimitStatus) {
	if status == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(status.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(status.RemainingRequests))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(status.ResetTime.Unix(), 10))
}

// WriteRateLimited writes a 429 with Retry-After derived from the window reset.
func WriteRateLimited(w http.ResponseWriter, e *ratelimit.ExceededError, now time.Time) {
	retry := int(e.RetryAfter(now).Round(time.Second) / time.Second)
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	response.Error(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", e.Error(), map[string]any{
		"endpoint":   e.Endpoint,
		"limit":      e.Limit,
		"reset_time": e.ResetTime.UTC().Format(time.RFC3339),
	})
}
