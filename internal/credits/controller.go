// Package credits gates billable actions on a per-user credit balance.
//
// Every deduction is a single conditional statement in the store, so two
// concurrent requests for the same user can never both spend the last credits.
// HasEnoughCredits and GetRequiredCredits are advisory reads for the UI and
// never replace CheckAndDeduct or Admit.
package credits

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobforge/internal/config"
	"github.com/kiranshivaraju/jobforge/internal/store"
	"github.com/kiranshivaraju/jobforge/pkg/models"
)

// ActivityLogger is the best-effort observability sink.
type ActivityLogger interface {
	LogActivity(ctx context.Context, userID uuid.UUID, activityType, endpoint string, metadata map[string]any)
}

// Controller is the admission gate in front of credit-consuming actions.
type Controller struct {
	store         store.Store
	costs         config.CostTable
	allotment     int
	resetInterval time.Duration
	activity      ActivityLogger
	logger        *slog.Logger
	now           func() time.Time
}

type Option func(*Controller)

func WithActivityLogger(a ActivityLogger) Option {
	return func(c *Controller) { c.activity = a }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates a Controller. costs is copied; later changes to the
// caller's map are not observed.
func NewController(st store.Store, cfg config.CreditsConfig, opts ...Option) *Controller {
	costs := cfg.Costs
	if costs == nil {
		costs = config.DefaultCosts
	}
	c := &Controller{
		store:         st,
		costs:         make(config.CostTable, len(costs)),
		allotment:     cfg.DefaultAllotment,
		resetInterval: cfg.ResetInterval,
		logger:        slog.Default(),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for k, v := range costs {
		c.costs[k] = v
	}
	if c.resetInterval <= 0 {
		c.resetInterval = 24 * time.Hour
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetRequiredCredits returns the cost of action. Actions absent from the
// table are free.
func (c *Controller) GetRequiredCredits(action models.ActionType) int {
	return c.costs[action]
}

// Costs returns a copy of the cost table.
func (c *Controller) Costs() config.CostTable {
	out := make(config.CostTable, len(c.costs))
	for k, v := range c.costs {
		out[k] = v
	}
	return out
}

// GetBalance returns the user's balance, creating it with the default
// allotment on first access.
func (c *Controller) GetBalance(ctx context.Context, userID uuid.UUID) (*models.UserCredits, error) {
	bal, err := c.store.EnsureUserCredits(ctx, userID, c.allotment, c.now().Add(c.resetInterval))
	if err != nil {
		return nil, fmt.Errorf("loading balance: %w", err)
	}
	return bal, nil
}

// HasEnoughCredits reports whether the current balance covers action.
func (c *Controller) HasEnoughCredits(ctx context.Context, userID uuid.UUID, action models.ActionType) (bool, error) {
	bal, err := c.GetBalance(ctx, userID)
	if err != nil {
		return false, err
	}
	return bal.CurrentCredits >= c.GetRequiredCredits(action), nil
}

// Transactions returns the user's most recent ledger rows, newest first.
func (c *Controller) Transactions(ctx context.Context, userID uuid.UUID, limit int) ([]*models.CreditTransaction, error) {
	txs, err := c.store.ListCreditTransactions(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing credit transactions: %w", err)
	}
	return txs, nil
}

// CheckAndDeduct atomically spends the cost of action. An insufficient balance
// is reported in the result with Success false and the balance untouched; the
// error return is reserved for store faults.
func (c *Controller) CheckAndDeduct(ctx context.Context, userID uuid.UUID, action models.ActionType, description string) (*models.DeductResult, error) {
	cost := c.GetRequiredCredits(action)
	bal, err := c.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cost == 0 {
		return &models.DeductResult{Success: true, RemainingCredits: bal.CurrentCredits, Message: "no credits required"}, nil
	}

	remaining, ok, err := c.store.DeductCredits(ctx, c.deduction(userID, action, cost, description))
	if err != nil {
		return nil, fmt.Errorf("deducting credits: %w", err)
	}
	return c.result(ctx, userID, action, cost, remaining, ok), nil
}

// Admit deducts the credits for job's action and persists job in one atomic
// unit. When the balance is insufficient nothing is written and the returned
// error is an *InsufficientCreditsError.
func (c *Controller) Admit(ctx context.Context, job *models.Job, description string) (*models.DeductResult, error) {
	action := job.JobType.ActionType()
	cost := c.GetRequiredCredits(action)
	bal, err := c.GetBalance(ctx, job.UserID)
	if err != nil {
		return nil, err
	}

	if cost == 0 {
		if err := c.store.CreateJob(ctx, job); err != nil {
			return nil, fmt.Errorf("creating job: %w", err)
		}
		return &models.DeductResult{Success: true, RemainingCredits: bal.CurrentCredits, Message: "no credits required"}, nil
	}

	remaining, ok, err := c.store.DeductCreditsAndCreateJob(ctx, c.deduction(job.UserID, action, cost, description), job)
	if err != nil {
		return nil, fmt.Errorf("admitting job: %w", err)
	}
	res := c.result(ctx, job.UserID, action, cost, remaining, ok)
	if !ok {
		return res, &InsufficientCreditsError{Action: string(action), Required: cost, Available: remaining}
	}
	return res, nil
}

// ReplenishDue resets every balance whose reset time has passed back to the
// default allotment. Returns the number of balances reset.
func (c *Controller) ReplenishDue(ctx context.Context) (int64, error) {
	now := c.now()
	n, err := c.store.ReplenishCredits(ctx, c.allotment, now, now.Add(c.resetInterval))
	if err != nil {
		return 0, fmt.Errorf("replenishing credits: %w", err)
	}
	if n > 0 {
		c.logger.Info("credits replenished", "balances", n, "allotment", c.allotment)
	}
	return n, nil
}

func (c *Controller) deduction(userID uuid.UUID, action models.ActionType, cost int, description string) models.Deduction {
	if description == "" {
		description = fmt.Sprintf("Credits used for %s", action)
	}
	return models.Deduction{
		TransactionID: uuid.New(),
		UserID:        userID,
		ActionType:    action,
		Cost:          cost,
		Description:   description,
	}
}

func (c *Controller) result(ctx context.Context, userID uuid.UUID, action models.ActionType, cost, remaining int, ok bool) *models.DeductResult {
	if ok {
		c.logActivity(ctx, userID, models.ActivityCreditsDeducted, action, map[string]any{
			"cost":      cost,
			"remaining": remaining,
		})
		return &models.DeductResult{
			Success:          true,
			RemainingCredits: remaining,
			Required:         cost,
			Message:          fmt.Sprintf("%d credits used, %d remaining", cost, remaining),
		}
	}

	insufficient := &InsufficientCreditsError{Action: string(action), Required: cost, Available: remaining}
	c.logger.Info("insufficient credits", "user_id", userID, "action_type", action,
		"required", cost, "available", remaining)
	c.logActivity(ctx, userID, models.ActivityCreditsInsufficient, action, map[string]any{
		"required":  cost,
		"available": remaining,
		"shortfall": insufficient.Shortfall(),
	})
	return &models.DeductResult{
		Success:          false,
		RemainingCredits: remaining,
		Required:         cost,
		Message:          insufficient.Error(),
	}
}

func (c *Controller) logActivity(ctx context.Context, userID uuid.UUID, activityType string, action models.ActionType, metadata map[string]any) {
	if c.activity == nil {
		return
	}
	metadata["action_type"] = action
	c.activity.LogActivity(ctx, userID, activityType, string(action), metadata)
}
