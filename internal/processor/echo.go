// Package processor bridges jobs to the opaque AI generation step.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kiranshivaraju/jobforge/pkg/models"
)

// Echo is the built-in processor used when no external generator is wired.
// It returns the job input wrapped in a result envelope.
type Echo struct{}

func (Echo) Name() string { return "echo" }

func (Echo) Process(ctx context.Context, job *models.Job) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	input := job.InputData
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	out, err := json.Marshal(struct {
		JobType     models.JobType  `json:"job_type"`
		Input       json.RawMessage `json:"input"`
		GeneratedAt time.Time       `json:"generated_at"`
	}{job.JobType, input, time.Now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("encoding echo result: %w", err)
	}
	return out, nil
}

var _ models.Processor = Echo{}
