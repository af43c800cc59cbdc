// Package jobs owns the job lifecycle.
//
// Valid status graph:
//
//	pending ──► processing ──► completed
//	   ▲            │
//	   └────────────┼──► failed
//	    (requeue)   │
//
// completed and failed are terminal states.
package jobs

import (
	"fmt"

	"github.com/kiranshivaraju/jobforge/pkg/models"
)

// validTransitions lists every allowed (from → to) pair.
var validTransitions = map[models.JobStatus][]models.JobStatus{
	models.JobStatusPending:    {models.JobStatusProcessing},
	models.JobStatusProcessing: {models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusPending},
	// completed and failed have no outgoing transitions
}

// CanTransition returns true when moving from → to is permitted.
func CanTransition(from, to models.JobStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ParseJobType converts a raw string to a JobType.
func ParseJobType(s string) (models.JobType, error) {
	t := models.JobType(s)
	if !t.Valid() {
		return "", &ValidationError{Msg: fmt.Sprintf("unknown job_type %q", s)}
	}
	return t, nil
}

// ParseStatus converts a raw string to a JobStatus.
func ParseStatus(s string) (models.JobStatus, error) {
	st := models.JobStatus(s)
	switch st {
	case models.JobStatusPending, models.JobStatusProcessing, models.JobStatusCompleted, models.JobStatusFailed:
		return st, nil
	}
	return "", &ValidationError{Msg: fmt.Sprintf("unknown job status %q", s)}
}
