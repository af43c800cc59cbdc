package models

import (
	"time"

	"github.com/google/uuid"
)

// ActionType is a billable action with an entry in the credit cost table.
type ActionType string

const (
	ActionResumeGeneration     ActionType = "resume_generation"
	ActionCoverLetter          ActionType = "cover_letter"
	ActionPDFDownload          ActionType = "pdf_download"
	ActionAISuggestions        ActionType = "ai_suggestions"
	ActionATSAnalysis          ActionType = "ats_analysis"
	ActionLinkedInOptimization ActionType = "linkedin_optimization"
)

// ActionTypes lists every recognized billable action.
var ActionTypes = []ActionType{
	ActionResumeGeneration,
	ActionCoverLetter,
	ActionPDFDownload,
	ActionAISuggestions,
	ActionATSAnalysis,
	ActionLinkedInOptimization,
}

// Valid reports whether a is a recognized action.
func (a ActionType) Valid() bool {
	for _, v := range ActionTypes {
		if v == a {
			return true
		}
	}
	return false
}

// UserCredits is the consumable balance of a single user.
type UserCredits struct {
	UserID           uuid.UUID `db:"user_id"            json:"user_id"`
	CurrentCredits   int       `db:"current_credits"    json:"current_credits"`
	TotalUsedCredits int       `db:"total_used_credits" json:"total_used_credits"`
	DailyResetAt     time.Time `db:"daily_reset_at"     json:"daily_reset_at"`
	CreatedAt        time.Time `db:"created_at"         json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"         json:"updated_at"`
}

// CreditTransaction is an append-only audit row written once per successful deduction.
type CreditTransaction struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	UserID       uuid.UUID  `db:"user_id"       json:"user_id"`
	ActionType   ActionType `db:"action_type"   json:"action_type"`
	CreditsSpent int        `db:"credits_spent" json:"credits_spent"`
	Description  string     `db:"description"   json:"description"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
}

// Deduction describes a single check-and-deduct request against the ledger.
type Deduction struct {
	TransactionID uuid.UUID
	UserID        uuid.UUID
	ActionType    ActionType
	Cost          int
	Description   string
}

// DeductResult is the outcome of an admission check. A failed deduction is a
// normal result, not an error.
type DeductResult struct {
	Success          bool   `json:"success"`
	RemainingCredits int    `json:"remaining_credits"`
	Required         int    `json:"required"`
	Message          string `json:"message"`
}
