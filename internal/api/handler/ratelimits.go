package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/jobforge/internal/api/middleware"
	"github.com/kiranshivaraju/jobforge/internal/api/response"
	"github.com/kiranshivaraju/jobforge/pkg/models"
)

// RateLimitChecker reads a window without counting a request.
type RateLimitChecker interface {
	CheckRateLimit(ctx context.Context, userID uuid.UUID, endpoint string) (*models.RateLimitStatus, error)
}

// NewRateLimitStatusHandler returns an http.HandlerFunc for GET /api/v1/rate-limits/{endpoint}.
func NewRateLimitStatusHandler(l RateLimitChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		endpoint := r.PathValue("endpoint")
		if endpoint == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "endpoint is required", nil)
			return
		}

		status, err := l.CheckRateLimit(r.Context(), userID, endpoint)
		if err != nil {
			writeError(w, r, err)
			return
		}
		mw.SetRateLimitHeaders(w, status)
		response.JSON(w, status)
	}
}
