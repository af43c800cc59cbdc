package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobType identifies the kind of AI generation work a job performs.
type JobType string

const (
	JobTypeResumeGeneration      JobType = "resume_generation"
	JobTypeCoverLetterGeneration JobType = "cover_letter_generation"
	JobTypeATSAnalysis           JobType = "ats_analysis"
	JobTypeContentOptimization   JobType = "content_optimization"
)

// JobTypes lists every recognized job type.
var JobTypes = []JobType{
	JobTypeResumeGeneration,
	JobTypeCoverLetterGeneration,
	JobTypeATSAnalysis,
	JobTypeContentOptimization,
}

// Valid reports whether t is a recognized job type.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeResumeGeneration, JobTypeCoverLetterGeneration, JobTypeATSAnalysis, JobTypeContentOptimization:
		return true
	}
	return false
}

// ActionType returns the billable action charged when a job of this type is submitted.
func (t JobType) ActionType() ActionType {
	switch t {
	case JobTypeResumeGeneration:
		return ActionResumeGeneration
	case JobTypeCoverLetterGeneration:
		return ActionCoverLetter
	case JobTypeATSAnalysis:
		return ActionATSAnalysis
	case JobTypeContentOptimization:
		return ActionAISuggestions
	}
	return ActionType(t)
}

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are possible from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job tracks one asynchronous AI generation request. The API returns the job on
// POST /api/v1/jobs; clients poll GET /api/v1/jobs/{id} or subscribe to its event stream.
type Job struct {
	ID           uuid.UUID       `db:"id"            json:"id"`
	UserID       uuid.UUID       `db:"user_id"       json:"user_id"`
	JobType      JobType         `db:"job_type"      json:"job_type"`
	Status       JobStatus       `db:"status"        json:"status"`
	Priority     int             `db:"priority"      json:"priority"`
	InputData    json.RawMessage `db:"input_data"    json:"input_data,omitempty"`
	ResultData   json.RawMessage `db:"result_data"   json:"result_data,omitempty"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	RetryCount   int             `db:"retry_count"   json:"retry_count"`
	RunAt        time.Time       `db:"run_at"        json:"run_at"`
	StartedAt    *time.Time      `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time      `db:"completed_at"  json:"completed_at,omitempty"`
	CreatedAt    time.Time       `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"    json:"updated_at"`
}

// Clone returns a deep copy of j so listeners cannot mutate shared state.
func (j *Job) Clone() *Job {
	c := *j
	if j.InputData != nil {
		c.InputData = append(json.RawMessage(nil), j.InputData...)
	}
	if j.ResultData != nil {
		c.ResultData = append(json.RawMessage(nil), j.ResultData...)
	}
	if j.ErrorMessage != nil {
		msg := *j.ErrorMessage
		c.ErrorMessage = &msg
	}
	return &c
}
