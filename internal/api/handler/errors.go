// Package handler implements the HTTP endpoints. Handlers depend on narrow
// interfaces so they can be tested without a database.
package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/jobforge/internal/api/middleware"
	"github.com/kiranshivaraju/jobforge/internal/api/response"
	"github.com/kiranshivaraju/jobforge/internal/credits"
	"github.com/kiranshivaraju/jobforge/internal/dispatch"
	"github.com/kiranshivaraju/jobforge/internal/jobs"
	"github.com/kiranshivaraju/jobforge/internal/ratelimit"
	"github.com/kiranshivaraju/jobforge/internal/store"
)

// writeError maps domain errors onto the JSON error envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation   *jobs.ValidationError
		transition   *jobs.InvalidTransitionError
		insufficient *credits.InsufficientCreditsError
		exceeded     *ratelimit.ExceededError
	)

	switch {
	case errors.As(err, &validation):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", validation.Msg, nil)
	case errors.As(err, &insufficient):
		response.Error(w, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS", insufficient.Error(), map[string]any{
			"action":    insufficient.Action,
			"required":  insufficient.Required,
			"available": insufficient.Available,
			"shortfall": insufficient.Shortfall(),
		})
	case errors.As(err, &exceeded):
		mw.WriteRateLimited(w, exceeded, time.Now())
	case errors.As(err, &transition):
		response.Error(w, http.StatusConflict, "INVALID_TRANSITION", transition.Error(), map[string]any{
			"from": transition.From,
			"to":   transition.To,
		})
	case errors.Is(err, jobs.ErrNotFound), errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
	case errors.Is(err, jobs.ErrNoPendingJobs):
		response.NoContent(w)
	case errors.Is(err, dispatch.ErrDispatchUnavailable):
		response.Error(w, http.StatusServiceUnavailable, "DISPATCH_UNAVAILABLE",
			"The processor could not be reached; the job remains pending", nil)
	default:
		slog.Error("request failed", "err", err, "method", r.Method, "path", r.URL.Path)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}

func requireUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := mw.GetUserID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
	}
	return userID, ok
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid "+name, nil)
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &jobs.ValidationError{Msg: name + " must be an integer"}
	}
	return n, nil
}
