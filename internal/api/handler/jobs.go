package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/jobforge/internal/api/middleware"
	"github.com/kiranshivaraju/jobforge/internal/api/response"
	"github.com/kiranshivaraju/jobforge/internal/dispatch"
	"github.com/kiranshivaraju/jobforge/internal/jobs"
	"github.com/kiranshivaraju/jobforge/internal/store"
	"github.com/kiranshivaraju/jobforge/pkg/models"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Submitter runs the submission pipeline.
type Submitter interface {
	Submit(ctx context.Context, req dispatch.SubmitRequest) (*dispatch.SubmitResult, error)
	Redispatch(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
}

// JobReader reads jobs.
type JobReader interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error)
}

type submitJobRequest struct {
	JobType     models.JobType  `json:"job_type"`
	InputData   json.RawMessage `json:"input_data"`
	Priority    int             `json:"priority"`
	Description string          `json:"description"`
}

// NewSubmitJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
// The job is returned as soon as it is persisted; processing happens later.
func NewSubmitJobHandler(svc Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}

		var req submitJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.JobType == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "job_type is required", nil)
			return
		}

		res, err := svc.Submit(r.Context(), dispatch.SubmitRequest{
			UserID:      userID,
			JobType:     req.JobType,
			InputData:   req.InputData,
			Priority:    req.Priority,
			Description: req.Description,
		})
		if res != nil {
			mw.SetRateLimitHeaders(w, res.RateLimit)
			if res.Credits != nil {
				w.Header().Set("X-Credits-Remaining", strconv.Itoa(res.Credits.RemainingCredits))
			}
		}
		if err != nil {
			writeError(w, r, err)
			return
		}

		w.Header().Set("Location", "/api/v1/jobs/"+res.Job.ID.String())
		response.Accepted(w, res.Job)
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
// Jobs owned by another user are reported as not found unless the caller is an admin.
func NewGetJobHandler(svc JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := ownedJob(w, r, svc)
		if !ok {
			return
		}
		response.JSON(w, job)
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
// Admins may pass user_id to list another user's jobs.
func NewListJobsHandler(svc JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}

		q := r.URL.Query()
		if raw := q.Get("user_id"); raw != "" {
			other, err := uuid.Parse(raw)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid user_id", nil)
				return
			}
			if other != userID && !mw.HasScope(r, mw.ScopeAdmin) {
				response.Error(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions", nil)
				return
			}
			userID = other
		}

		limit, err := queryInt(r, "limit", defaultPageSize)
		if err != nil {
			writeError(w, r, err)
			return
		}
		offset, err := queryInt(r, "offset", 0)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if limit == 0 {
			limit = defaultPageSize
		}
		if limit > maxPageSize {
			limit = maxPageSize
		}

		list, total, err := svc.ListJobs(r.Context(), store.JobFilter{
			UserID:  userID,
			JobType: models.JobType(q.Get("job_type")),
			Limit:   limit,
			Offset:  offset,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		if list == nil {
			list = []*models.Job{}
		}

		response.Collection(w, list, response.NewPaginationMeta(limit, offset, total))
	}
}

// NewRedispatchHandler returns an http.HandlerFunc for POST /api/v1/jobs/{jobID}/dispatch.
// It re-signals a pending job whose original signal was lost.
func NewRedispatchHandler(reader JobReader, svc Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := ownedJob(w, r, reader)
		if !ok {
			return
		}
		job, err := svc.Redispatch(r.Context(), job.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Accepted(w, job)
	}
}

func ownedJob(w http.ResponseWriter, r *http.Request, svc JobReader) (*models.Job, bool) {
	userID, ok := requireUser(w, r)
	if !ok {
		return nil, false
	}
	jobID, ok := pathUUID(w, r, "jobID")
	if !ok {
		return nil, false
	}

	job, err := svc.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	if job.UserID != userID && !mw.HasScope(r, mw.ScopeAdmin) {
		writeError(w, r, jobs.ErrNotFound)
		return nil, false
	}
	return job, true
}
