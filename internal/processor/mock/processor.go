// Package mock provides configurable models.Processor implementations for tests.
package mock

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/kiranshivaraju/jobforge/pkg/models"
)

// Processor satisfies models.Processor for testing.
type Processor struct {
	Name_       string
	ProcessFunc func(ctx context.Context, job *models.Job) (json.RawMessage, error)

	calls atomic.Int64
}

func (m *Processor) Name() string { return m.Name_ }

func (m *Processor) Process(ctx context.Context, job *models.Job) (json.RawMessage, error) {
	m.calls.Add(1)
	if m.ProcessFunc != nil {
		return m.ProcessFunc(ctx, job)
	}
	return json.RawMessage(`{}`), nil
}

// Calls returns how many times Process ran.
func (m *Processor) Calls() int64 { return m.calls.Load() }

// NewProcessor returns a Processor that succeeds with a fixed result.
func NewProcessor() *Processor {
	return &Processor{
		Name_: "mock",
		ProcessFunc: func(_ context.Context, job *models.Job) (json.RawMessage, error) {
			return json.Marshal(map[string]any{
				"job_type": job.JobType,
				"content":  "Mock generation result for testing",
			})
		},
	}
}

// NewFailingProcessor returns a Processor that always returns err.
func NewFailingProcessor(err error) *Processor {
	return &Processor{
		Name_: "mock-failing",
		ProcessFunc: func(_ context.Context, _ *models.Job) (json.RawMessage, error) {
			return nil, err
		},
	}
}

// NewTimeoutProcessor returns a Processor that blocks until its context ends.
func NewTimeoutProcessor() *Processor {
	return &Processor{
		Name_: "mock-timeout",
		ProcessFunc: func(ctx context.Context, _ *models.Job) (json.RawMessage, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
}

// NewPanickingProcessor returns a Processor that panics.
func NewPanickingProcessor() *Processor {
	return &Processor{
		Name_: "mock-panic",
		ProcessFunc: func(_ context.Context, _ *models.Job) (json.RawMessage, error) {
			panic("generator crashed")
		},
	}
}

var _ models.Processor = (*Processor)(nil)
