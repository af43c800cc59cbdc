package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobforge/internal/api/response"
	"github.com/kiranshivaraju/jobforge/pkg/models"
)

// NotificationLister reads a user's notifications newest first.
type NotificationLister interface {
	ListNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Notification, error)
}

// NewNotificationsHandler returns an http.HandlerFunc for GET /api/v1/notifications.
func NewNotificationsHandler(s NotificationLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		limit, err := queryInt(r, "limit", defaultPageSize)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if limit <= 0 || limit > maxPageSize {
			limit = defaultPageSize
		}

		list, err := s.ListNotifications(r.Context(), userID, limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if list == nil {
			list = []*models.Notification{}
		}
		response.JSON(w, list)
	}
}
