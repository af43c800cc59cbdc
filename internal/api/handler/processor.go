package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobforge/internal/api/response"
	"github.com/kiranshivaraju/jobforge/internal/jobs"
	"github.com/kiranshivaraju/jobforge/pkg/models"
)

// ProcessorJobs is the job lifecycle surface used by external processors.
type ProcessorJobs interface {
	Claim(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ClaimNext(ctx context.Context, types []models.JobType) (*models.Job, error)
	Transition(ctx context.Context, id uuid.UUID, to models.JobStatus, p jobs.Payload) (*models.Job, error)
}

type claimRequest struct {
	JobID    *uuid.UUID       `json:"job_id"`
	JobTypes []models.JobType `json:"job_types"`
}

// NewClaimHandler returns an http.HandlerFunc for POST /api/v1/processor/claim.
// With job_id it claims that job, which is how a signalled processor reacts.
// Otherwise it claims the next runnable job, optionally limited to job_types,
// and answers 204 when nothing is waiting.
func NewClaimHandler(svc ProcessorJobs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req claimRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		var (
			job *models.Job
			err error
		)
		if req.JobID != nil {
			job, err = svc.Claim(r.Context(), *req.JobID)
		} else {
			job, err = svc.ClaimNext(r.Context(), req.JobTypes)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, job)
	}
}

type transitionRequest struct {
	Status       models.JobStatus `json:"status"`
	ResultData   json.RawMessage  `json:"result_data"`
	ErrorMessage string           `json:"error_message"`
}

// NewTransitionHandler returns an http.HandlerFunc for
// POST /api/v1/processor/jobs/{jobID}/transition. Status pending requeues the
// job for another attempt.
func NewTransitionHandler(svc ProcessorJobs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := pathUUID(w, r, "jobID")
		if !ok {
			return
		}

		var req transitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		to, err := jobs.ParseStatus(string(req.Status))
		if err != nil {
			writeError(w, r, err)
			return
		}

		job, err := svc.Transition(r.Context(), jobID, to, jobs.Payload{
			ResultData:   req.ResultData,
			ErrorMessage: req.ErrorMessage,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, job)
	}
}
