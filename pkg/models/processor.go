// Package models contains shared data models used across the jobforge codebase.
package models

import (
	"context"
	"encoding/json"
)

// Processor is the opaque AI generation backend that executes claimed jobs.
// Callers depend on this interface rather than a concrete generator.
type Processor interface {
	// Process executes the job and returns its result payload.
	Process(ctx context.Context, job *Job) (json.RawMessage, error)
	// Name returns the processor identifier (e.g., "echo", "mock").
	Name() string
}
