// Package events fans job state changes out to live subscribers.
//
// Topic names follow a pattern:
//
//	job:<jobID>    every transition of one job
//	user:<userID>  every transition of any job owned by the user
//
// The hub is an optimization over polling GET /jobs/{id}; the job store
// remains the source of truth and clients re-fetch on reconnect.
//
// Delivery never blocks the publisher. A subscription whose buffer is full
// when an event arrives has fallen behind: it is removed and its Done channel
// closed, so a stream built on it ends and the client re-syncs instead of
// silently missing a transition such as the final completed or failed one.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobforge/pkg/models"
)

// DefaultBufferSize is the default per-subscription event buffer.
const DefaultBufferSize = 64

// Listener receives the full job record after each transition.
type Listener func(ctx context.Context, job *models.Job) error

// Publisher pushes a job state change to subscribers.
type Publisher interface {
	Publish(ctx context.Context, job *models.Job) error
}

// JobTopic returns the topic name for a specific job.
func JobTopic(jobID uuid.UUID) string { return "job:" + jobID.String() }

// UserTopic returns the topic name for every job of a user.
func UserTopic(userID uuid.UUID) string { return "user:" + userID.String() }

// Hub is the in-process subscription registry. It is safe for concurrent use.
type Hub struct {
	logger     *slog.Logger
	bufferSize int

	mu     sync.RWMutex
	topics map[string]map[uuid.UUID]*Subscription

	published atomic.Int64
	dropped   atomic.Int64
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBufferSize sets the per-subscription event buffer size.
func WithBufferSize(size int) HubOption {
	return func(h *Hub) {
		if size > 0 {
			h.bufferSize = size
		}
	}
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		logger:     logger,
		bufferSize: DefaultBufferSize,
		topics:     make(map[string]map[uuid.UUID]*Subscription),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SubscribeJob registers l for every subsequent transition of jobID.
func (h *Hub) SubscribeJob(jobID uuid.UUID, l Listener) *Subscription {
	return h.Subscribe(JobTopic(jobID), l)
}

// SubscribeUser registers l for transitions of all jobs owned by userID.
func (h *Hub) SubscribeUser(userID uuid.UUID, l Listener) *Subscription {
	return h.Subscribe(UserTopic(userID), l)
}

// Subscribe registers l on topic and starts its delivery goroutine.
func (h *Hub) Subscribe(topic string, l Listener) *Subscription {
	sub := &Subscription{
		id:       uuid.New(),
		topic:    topic,
		hub:      h,
		listener: l,
		queue:    make(chan *models.Job, h.bufferSize),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[uuid.UUID]*Subscription)
		h.topics[topic] = subs
	}
	subs[sub.id] = sub
	h.mu.Unlock()

	go sub.run(h.logger)
	return sub
}

// Unsubscribe removes sub. Safe to call multiple times.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	if subs, ok := h.topics[sub.topic]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(h.topics, sub.topic)
		}
	}
	h.mu.Unlock()
	sub.stop()
}

// Publish delivers job to every subscription on its job and user topics.
// Delivery is asynchronous and never fails the caller. A subscription with a
// full buffer is cut off; see the package comment.
func (h *Hub) Publish(_ context.Context, job *models.Job) error {
	if job == nil {
		return nil
	}
	topics := []string{JobTopic(job.ID), UserTopic(job.UserID)}

	var behind []*Subscription
	h.mu.RLock()
	for _, topic := range topics {
		for _, sub := range h.topics[topic] {
			select {
			case sub.queue <- job.Clone():
				h.published.Add(1)
			default:
				h.dropped.Add(1)
				behind = append(behind, sub)
				h.logger.Warn("subscriber buffer full, closing subscription",
					"topic", topic, "job_id", job.ID, "status", job.Status)
			}
		}
	}
	h.mu.RUnlock()

	for _, sub := range behind {
		h.Unsubscribe(sub)
	}
	return nil
}

// Stats returns hub counters.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	count := 0
	for _, subs := range h.topics {
		count += len(subs)
	}
	topics := len(h.topics)
	h.mu.RUnlock()

	return HubStats{
		TopicCount:        topics,
		SubscriptionCount: count,
		TotalPublished:    h.published.Load(),
		TotalDropped:      h.dropped.Load(),
	}
}

// HubStats contains hub metrics.
type HubStats struct {
	TopicCount        int   `json:"topic_count"`
	SubscriptionCount int   `json:"subscription_count"`
	TotalPublished    int64 `json:"total_published"`
	TotalDropped      int64 `json:"total_dropped"`
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id       uuid.UUID
	topic    string
	hub      *Hub
	listener Listener

	queue    chan *models.Job
	done     chan struct{}
	stopOnce sync.Once

	lastUpdated time.Time
	lastStatus  models.JobStatus
	lastRetry   int
}

// ID returns the subscription identifier.
func (s *Subscription) ID() uuid.UUID { return s.id }

// Topic returns the topic the subscription listens on.
func (s *Subscription) Topic() string { return s.topic }

// Unsubscribe detaches the subscription from its hub. Safe to call multiple times.
func (s *Subscription) Unsubscribe() { s.hub.Unsubscribe(s) }

// Done is closed once the subscription has been removed, either by
// Unsubscribe or because it fell behind and lost an event.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *Subscription) run(logger *slog.Logger) {
	for {
		select {
		case <-s.done:
			return
		case job := <-s.queue:
			if s.stale(job) {
				continue
			}
			s.deliver(logger, job)
		}
	}
}

// stale reports whether job is older than, or a duplicate of, the last
// delivered record for the same job. Only applies to single-job topics where
// the stream describes one job.
func (s *Subscription) stale(job *models.Job) bool {
	if s.topic != JobTopic(job.ID) {
		return false
	}
	if !s.lastUpdated.IsZero() {
		if job.UpdatedAt.Before(s.lastUpdated) {
			return true
		}
		if job.UpdatedAt.Equal(s.lastUpdated) && job.Status == s.lastStatus && job.RetryCount == s.lastRetry {
			return true
		}
	}
	s.lastUpdated = job.UpdatedAt
	s.lastStatus = job.Status
	s.lastRetry = job.RetryCount
	return false
}

func (s *Subscription) deliver(logger *slog.Logger, job *models.Job) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in subscriber", "error", fmt.Sprint(r), "topic", s.topic, "job_id", job.ID)
		}
	}()
	if err := s.listener(context.Background(), job); err != nil {
		logger.Warn("subscriber failed", "err", err, "topic", s.topic, "job_id", job.ID)
	}
}

var _ Publisher = (*Hub)(nil)
