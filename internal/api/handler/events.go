package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobforge/internal/api/response"
	"github.com/kiranshivaraju/jobforge/internal/events"
	"github.com/kiranshivaraju/jobforge/pkg/models"
)

var heartbeatInterval = 15 * time.Second

// Subscriber registers live listeners for job transitions.
type Subscriber interface {
	SubscribeJob(jobID uuid.UUID, l events.Listener) *events.Subscription
	SubscribeUser(userID uuid.UUID, l events.Listener) *events.Subscription
}

// NewJobEventsHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}/events.
// It sends the current job first, then every later transition, and closes the
// stream once the job is terminal. Clients that reconnect get a fresh snapshot.
func NewJobEventsHandler(reader JobReader, sub Subscriber) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := ownedJob(w, r, reader)
		if !ok {
			return
		}

		stream, ok := openStream(w, r)
		if !ok {
			return
		}
		if job.Status.Terminal() {
			stream.send(job)
			return
		}

		updates := make(chan *models.Job, events.DefaultBufferSize)
		s := sub.SubscribeJob(job.ID, forwardTo(r.Context(), updates))
		defer s.Unsubscribe()

		// re-read after subscribing so a transition between the two reads is not lost
		if fresh, err := reader.GetJob(r.Context(), job.ID); err == nil {
			job = fresh
		}
		if !stream.send(job) || job.Status.Terminal() {
			return
		}

		last := job
		stream.loop(updates, s.Done(), func(next *models.Job) bool {
			if !newer(next, last) {
				return true
			}
			last = next
			return stream.send(next) && !next.Status.Terminal()
		})
	}
}

// NewUserEventsHandler returns an http.HandlerFunc for GET /api/v1/events.
// It streams transitions of every job the caller owns until the client leaves.
func NewUserEventsHandler(sub Subscriber) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}

		// subscribed before the headers go out, so nothing after "connected" is missed
		updates := make(chan *models.Job, events.DefaultBufferSize)
		s := sub.SubscribeUser(userID, forwardTo(r.Context(), updates))
		defer s.Unsubscribe()

		stream, ok := openStream(w, r)
		if !ok {
			return
		}
		if !stream.comment("connected") {
			return
		}
		stream.loop(updates, s.Done(), stream.send)
	}
}

// StreamUntil ends h's request context when done is cancelled, so open event
// streams let a graceful shutdown finish.
func StreamUntil(done context.Context, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		stop := context.AfterFunc(done, cancel)
		defer stop()
		h(w, r.WithContext(ctx))
	}
}

func forwardTo(ctx context.Context, ch chan<- *models.Job) events.Listener {
	return func(_ context.Context, job *models.Job) error {
		select {
		case ch <- job:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// newer reports whether next is a later state than last.
func newer(next, last *models.Job) bool {
	if next.UpdatedAt.After(last.UpdatedAt) {
		return true
	}
	return next.UpdatedAt.Equal(last.UpdatedAt) &&
		(next.Status != last.Status || next.RetryCount != last.RetryCount)
}

type sseStream struct {
	ctx context.Context
	w   http.ResponseWriter
	rc  *http.ResponseController
}

func openStream(w http.ResponseWriter, r *http.Request) (*sseStream, bool) {
	rc := http.NewResponseController(w)
	// streams outlive the server write timeout
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		slog.Debug("clearing write deadline", "err", err)
	}

	if !canFlush(w) {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Streaming unsupported", nil)
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := rc.Flush(); err != nil {
		slog.Warn("opening event stream", "err", err, "path", r.URL.Path)
		return nil, false
	}
	return &sseStream{ctx: r.Context(), w: w, rc: rc}, true
}

// canFlush looks through middleware wrappers for an http.Flusher.
func canFlush(w http.ResponseWriter) bool {
	for {
		if _, ok := w.(http.Flusher); ok {
			return true
		}
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			return false
		}
		w = u.Unwrap()
	}
}

func (s *sseStream) send(job *models.Job) bool {
	data, err := json.Marshal(job)
	if err != nil {
		slog.Error("encoding job event", "err", err, "job_id", job.ID)
		return false
	}
	_, err = fmt.Fprintf(s.w, "id: %s:%d\nevent: job\ndata: %s\n\n", job.ID, job.UpdatedAt.UnixNano(), data)
	return err == nil && s.rc.Flush() == nil
}

func (s *sseStream) comment(text string) bool {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return false
	}
	return s.rc.Flush() == nil
}

// loop feeds updates to handle until handle returns false, the client goes
// away, or the subscription is closed. A closed subscription may have lost an
// event, so the stream ends and the client reconnects for a fresh snapshot.
func (s *sseStream) loop(updates <-chan *models.Job, closed <-chan struct{}, handle func(*models.Job) bool) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-closed:
			return
		case <-ticker.C:
			if !s.comment("ping") {
				return
			}
		case job := <-updates:
			if !handle(job) {
				return
			}
		}
	}
}
