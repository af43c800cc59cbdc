package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobforge/internal/api/response"
	"github.com/kiranshivaraju/jobforge/internal/config"
	"github.com/kiranshivaraju/jobforge/pkg/models"
)

const recentTransactions = 10

// CreditReader exposes balances and costs without deducting.
type CreditReader interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (*models.UserCredits, error)
	GetRequiredCredits(action models.ActionType) int
	Costs() config.CostTable
	Transactions(ctx context.Context, userID uuid.UUID, limit int) ([]*models.CreditTransaction, error)
}

type creditsResponse struct {
	CurrentCredits     int                         `json:"current_credits"`
	TotalUsedCredits   int                         `json:"total_used_credits"`
	DailyResetAt       time.Time                   `json:"daily_reset_at"`
	Costs              config.CostTable            `json:"costs"`
	RecentTransactions []*models.CreditTransaction `json:"recent_transactions"`
}

// NewCreditsHandler returns an http.HandlerFunc for GET /api/v1/credits.
func NewCreditsHandler(svc CreditReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}

		bal, err := svc.GetBalance(r.Context(), userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		txns, err := svc.Transactions(r.Context(), userID, recentTransactions)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if txns == nil {
			txns = []*models.CreditTransaction{}
		}

		response.JSON(w, creditsResponse{
			CurrentCredits:     bal.CurrentCredits,
			TotalUsedCredits:   bal.TotalUsedCredits,
			DailyResetAt:       bal.DailyResetAt,
			Costs:              svc.Costs(),
			RecentTransactions: txns,
		})
	}
}

type creditCheckResponse struct {
	Action     models.ActionType `json:"action"`
	Required   int               `json:"required"`
	Available  int               `json:"available"`
	Sufficient bool              `json:"sufficient"`
}

// NewCheckCreditsHandler returns an http.HandlerFunc for GET /api/v1/credits/check?action=.
// It reports whether the balance covers action without deducting.
func NewCheckCreditsHandler(svc CreditReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}

		action := models.ActionType(r.URL.Query().Get("action"))
		if !action.Valid() {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Unknown or missing action", nil)
			return
		}

		bal, err := svc.GetBalance(r.Context(), userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		required := svc.GetRequiredCredits(action)

		response.JSON(w, creditCheckResponse{
			Action:     action,
			Required:   required,
			Available:  bal.CurrentCredits,
			Sufficient: bal.CurrentCredits >= required,
		})
	}
}
