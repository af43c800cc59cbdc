package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/jobforge/internal/api/response"
)

// Recovery turns a handler panic into a 500 and logs it with the caller and
// job it happened for. http.ErrAbortHandler is re-raised so net/http can drop
// the connection quietly, which is how a broken event stream ends.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		trace := &requestTrace{}
		r = r.WithContext(context.WithValue(r.Context(), traceKey, trace))

		defer func() {
			err := recover()
			if err == nil {
				return
			}
			if err == http.ErrAbortHandler {
				panic(err)
			}

			attrs := []any{
				"error", err,
				"stack", string(debug.Stack()),
				"method", r.Method,
				"path", r.URL.Path,
			}
			if userID, ok := trace.user(); ok {
				attrs = append(attrs, "user_id", userID)
			}
			if jobID := chi.URLParam(r, "jobID"); jobID != "" {
				attrs = append(attrs, "job_id", jobID)
			}
			slog.Error("panic recovered", attrs...)

			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "An unexpected error occurred", nil)
		}()
		next.ServeHTTP(w, r)
	})
}
