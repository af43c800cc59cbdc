package processor

import (
	"context"
	"errors"
)

var (
	// ErrTransient marks a processing failure worth retrying, such as an
	// upstream model being briefly unavailable.
	ErrTransient = errors.New("transient processing failure")

	ErrRunnerBusy   = errors.New("runner at capacity")
	ErrRunnerClosed = errors.New("runner closed")
)

// Retryable reports whether a processing error should requeue the job.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}
