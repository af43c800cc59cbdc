// Package activity records best-effort observability events. Writes never
// block or fail the operation that produced them.
package activity

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobforge/pkg/models"
)

const defaultWriteTimeout = 2 * time.Second

// Sink persists activity rows.
type Sink interface {
	CreateActivity(ctx context.Context, a *models.Activity) error
}

// Logger writes activity rows asynchronously.
type Logger struct {
	sink    Sink
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewLogger creates a Logger writing to sink.
func NewLogger(sink Sink, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{sink: sink, logger: logger, timeout: defaultWriteTimeout}
}

// LogActivity records one event. endpoint and metadata are optional.
func (l *Logger) LogActivity(ctx context.Context, userID uuid.UUID, activityType, endpoint string, metadata map[string]any) {
	a := &models.Activity{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      activityType,
		CreatedAt: time.Now().UTC(),
	}
	if endpoint != "" {
		a.Endpoint = &endpoint
	}
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			l.logger.Warn("dropping activity metadata", "err", err, "type", activityType)
		} else {
			a.Metadata = raw
		}
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		// detached from the request so a finished request does not cancel the write
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
		defer cancel()
		if err := l.sink.CreateActivity(writeCtx, a); err != nil {
			l.logger.Warn("failed to record activity", "err", err, "type", activityType, "user_id", userID)
		}
	}()
}

// Flush waits for in-flight writes. Used on shutdown.
func (l *Logger) Flush() {
	l.wg.Wait()
}
