// Package dispatch admits job submissions and signals processors that work is
// available. A signal is a hint, not a guarantee: a job whose signal is lost
// stays pending until a manual re-dispatch or the periodic sweep picks it up.
package dispatch

import (
	"context"
	"errors"

	"github.com/kiranshivaraju/jobforge/pkg/models"
)

// ErrDispatchUnavailable means the trigger could not reach a processor. The
// job remains pending and the call can be retried.
var ErrDispatchUnavailable = errors.New("dispatch unavailable")

// Trigger signals a processor that job is ready to be claimed.
type Trigger interface {
	Name() string
	Signal(ctx context.Context, job *models.Job) error
}

// Command is the payload sent by remote triggers.
type Command struct {
	JobID    string         `json:"job_id"`
	UserID   string         `json:"user_id"`
	JobType  models.JobType `json:"job_type"`
	Priority int            `json:"priority"`
}

func newCommand(job *models.Job) Command {
	return Command{
		JobID:    job.ID.String(),
		UserID:   job.UserID.String(),
		JobType:  job.JobType,
		Priority: job.Priority,
	}
}
