// Package ratelimit bounds request frequency per user and logical endpoint.
//
// Windows are fixed and aligned to the Unix epoch: a window of length W that
// contains t starts at t - (t mod W). Each window has its own counter key, so a
// new window always starts from zero and old counters simply expire.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobforge/internal/cache"
	"github.com/kiranshivaraju/jobforge/internal/config"
	"github.com/kiranshivaraju/jobforge/pkg/models"
)

const (
	DefaultWindow = time.Hour
	DefaultLimit  = 30
)

// ExceededError reports a rejected request and when the window resets.
type ExceededError struct {
	Endpoint  string
	Limit     int
	ResetTime time.Time
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: %d requests per window, resets at %s",
		e.Endpoint, e.Limit, e.ResetTime.UTC().Format(time.RFC3339))
}

// RetryAfter is how long the caller should wait from now.
func (e *ExceededError) RetryAfter(now time.Time) time.Duration {
	if d := e.ResetTime.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Limiter counts requests in Redis-backed fixed windows.
type Limiter struct {
	cache        cache.Cache
	window       time.Duration
	defaultLimit int
	limits       map[string]int
	now          func() time.Time
}

type Option func(*Limiter)

func WithWindow(d time.Duration) Option {
	return func(l *Limiter) {
		if d >= time.Second {
			l.window = d
		}
	}
}

func WithDefaultLimit(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.defaultLimit = n
		}
	}
}

// WithLimits sets per-endpoint limits, overriding the default for those endpoints.
func WithLimits(limits map[string]int) Option {
	return func(l *Limiter) {
		for k, v := range limits {
			l.limits[k] = v
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter over c.
func New(c cache.Cache, opts ...Option) *Limiter {
	l := &Limiter{
		cache:        c,
		window:       DefaultWindow,
		defaultLimit: DefaultLimit,
		limits:       make(map[string]int),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewFromConfig creates the endpoint limiter described by cfg.
func NewFromConfig(c cache.Cache, cfg config.RateLimitConfig) *Limiter {
	return New(c, WithWindow(cfg.Window), WithDefaultLimit(cfg.DefaultLimit), WithLimits(cfg.Limits))
}

// Limit returns the configured limit for endpoint.
func (l *Limiter) Limit(endpoint string) int {
	if n, ok := l.limits[endpoint]; ok {
		return n
	}
	return l.defaultLimit
}

// Window returns the window length.
func (l *Limiter) Window() time.Duration { return l.window }

func (l *Limiter) windowStart(now time.Time) time.Time {
	secs := int64(l.window / time.Second)
	unix := now.Unix()
	return time.Unix(unix-unix%secs, 0).UTC()
}

func (l *Limiter) key(userID uuid.UUID, endpoint string, start time.Time) string {
	return cache.RateLimitKey(userID, endpoint, start.Unix())
}

// CheckRateLimit reports whether a request is allowed in the current window
// without counting it.
func (l *Limiter) CheckRateLimit(ctx context.Context, userID uuid.UUID, endpoint string) (*models.RateLimitStatus, error) {
	start := l.windowStart(l.now())
	count, err := l.cache.GetInt(ctx, l.key(userID, endpoint, start))
	if err != nil {
		return nil, fmt.Errorf("reading rate limit counter: %w", err)
	}
	return l.status(endpoint, start, count), nil
}

// RecordRequest counts one attempt against the current window and returns
// the new count. It always increments; callers record once per real attempt.
func (l *Limiter) RecordRequest(ctx context.Context, userID uuid.UUID, endpoint string) (int64, error) {
	start := l.windowStart(l.now())
	count, err := l.cache.IncrWithExpiry(ctx, l.key(userID, endpoint, start), l.window+time.Minute)
	if err != nil {
		return 0, fmt.Errorf("recording request: %w", err)
	}
	return count, nil
}

// GetRemainingRequests returns the requests left in the current window.
func (l *Limiter) GetRemainingRequests(ctx context.Context, userID uuid.UUID, endpoint string) (int, error) {
	st, err := l.CheckRateLimit(ctx, userID, endpoint)
	if err != nil {
		return 0, err
	}
	return st.RemainingRequests, nil
}

// Allow records the request and then compares the new count against the
// limit, so concurrent callers cannot all slip under it. A rejected request
// still counts and yields an *ExceededError along with the status.
func (l *Limiter) Allow(ctx context.Context, userID uuid.UUID, endpoint string) (*models.RateLimitStatus, error) {
	start := l.windowStart(l.now())
	count, err := l.cache.IncrWithExpiry(ctx, l.key(userID, endpoint, start), l.window+time.Minute)
	if err != nil {
		return nil, fmt.Errorf("recording request: %w", err)
	}

	st := l.status(endpoint, start, count)
	st.Allowed = count <= int64(st.Limit)
	if !st.Allowed {
		return st, &ExceededError{Endpoint: endpoint, Limit: st.Limit, ResetTime: st.ResetTime}
	}
	return st, nil
}

func (l *Limiter) status(endpoint string, start time.Time, count int64) *models.RateLimitStatus {
	limit := l.Limit(endpoint)
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return &models.RateLimitStatus{
		Allowed:           count < int64(limit),
		Limit:             limit,
		RemainingRequests: remaining,
		ResetTime:         start.Add(l.window),
	}
}
