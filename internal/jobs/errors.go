package jobs

import (
	"errors"
	"fmt"

	"github.com/kiranshivaraju/jobforge/pkg/models"
)

var (
	ErrNotFound      = errors.New("job not found")
	ErrNoPendingJobs = errors.New("no claimable jobs")
	ErrJobChanged    = errors.New("job changed since it was read")
)

// ValidationError reports malformed input rejected before any mutation.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// InvalidTransitionError reports a status change outside the state machine,
// or a compare-and-set that lost a race.
type InvalidTransitionError struct {
	From models.JobStatus
	To   models.JobStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid job transition %s -> %s", e.From, e.To)
}
