package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/jobforge/internal/api/middleware"
	"github.com/kiranshivaraju/jobforge/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	SubmitJobHandler  http.HandlerFunc
	ListJobsHandler   http.HandlerFunc
	GetJobHandler     http.HandlerFunc
	RedispatchHandler http.HandlerFunc
	JobEventsHandler  http.HandlerFunc
	UserEventsHandler http.HandlerFunc

	CreditsHandler       http.HandlerFunc
	CheckCreditsHandler  http.HandlerFunc
	RateLimitHandler     http.HandlerFunc
	NotificationsHandler http.HandlerFunc

	ClaimHandler      http.HandlerFunc
	TransitionHandler http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(mw.ScopeJobs))

			r.Post("/api/v1/jobs", orNotImplemented(deps.SubmitJobHandler))
			r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobsHandler))
			r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))
			r.Post("/api/v1/jobs/{jobID}/dispatch", orNotImplemented(deps.RedispatchHandler))
			r.Get("/api/v1/jobs/{jobID}/events", orNotImplemented(deps.JobEventsHandler))
			r.Get("/api/v1/events", orNotImplemented(deps.UserEventsHandler))

			r.Get("/api/v1/credits", orNotImplemented(deps.CreditsHandler))
			r.Get("/api/v1/credits/check", orNotImplemented(deps.CheckCreditsHandler))
			r.Get("/api/v1/rate-limits/{endpoint}", orNotImplemented(deps.RateLimitHandler))
			r.Get("/api/v1/notifications", orNotImplemented(deps.NotificationsHandler))
		})

		// Processor routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(mw.ScopeProcessor))

			r.Post("/api/v1/processor/claim", orNotImplemented(deps.ClaimHandler))
			r.Post("/api/v1/processor/jobs/{jobID}/transition", orNotImplemented(deps.TransitionHandler))
		})

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(mw.ScopeAdmin))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
