// Package storetest provides an in-memory store.Store for unit tests.
// It mirrors the Postgres semantics the services depend on: compare-and-set
// transitions, conditional deductions, and list ordering.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobforge/internal/store"
	"github.com/kiranshivaraju/jobforge/pkg/models"
)

// Memory is a mutex-guarded store.Store.
type Memory struct {
	mu            sync.Mutex
	apiKeys       map[uuid.UUID]*models.APIKey
	jobs          map[uuid.UUID]*models.Job
	credits       map[uuid.UUID]*models.UserCredits
	transactions  []*models.CreditTransaction
	activities    []*models.Activity
	notifications []*models.Notification
	errs          map[string]error

	Now func() time.Time
}

// New returns an empty Memory store.
func New() *Memory {
	return &Memory{
		apiKeys: make(map[uuid.UUID]*models.APIKey),
		jobs:    make(map[uuid.UUID]*models.Job),
		credits: make(map[uuid.UUID]*models.UserCredits),
		errs:    make(map[string]error),
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

// FailOn makes every call to the named method return err. A nil err clears it.
func (m *Memory) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, method)
		return
	}
	m.errs[method] = err
}

func (m *Memory) fail(method string) error {
	return m.errs[method]
}

// SetCredits seeds a balance row.
func (m *Memory) SetCredits(userID uuid.UUID, current int, resetAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	m.credits[userID] = &models.UserCredits{
		UserID:         userID,
		CurrentCredits: current,
		DailyResetAt:   resetAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// PutJob stores a copy of job as-is.
func (m *Memory) PutJob(job *models.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job.Clone()
}

// Transactions returns a copy of the credit ledger in insertion order.
func (m *Memory) Transactions() []*models.CreditTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.CreditTransaction(nil), m.transactions...)
}

// Activities returns a copy of the recorded activity rows.
func (m *Memory) Activities() []*models.Activity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.Activity(nil), m.activities...)
}

// JobCount returns the number of stored jobs.
func (m *Memory) JobCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

func (m *Memory) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fail("Ping")
}

// --- API keys ---

func (m *Memory) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.APIKey
	for _, k := range m.apiKeys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			c := *k
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *Memory) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.apiKeys[id]; ok {
		now := m.Now()
		k.LastUsedAt = &now
	}
	return nil
}

func (m *Memory) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateAPIKey"); err != nil {
		return err
	}
	if _, ok := m.apiKeys[key.ID]; ok {
		return store.ErrDuplicateKey
	}
	c := *key
	m.apiKeys[key.ID] = &c
	return nil
}

func (m *Memory) ListAPIKeys(_ context.Context, userID uuid.UUID) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.APIKey
	for _, k := range m.apiKeys {
		if k.UserID == userID && k.DeletedAt == nil {
			c := *k
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) RevokeAPIKey(_ context.Context, id uuid.UUID, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.apiKeys[id]
	if !ok || k.UserID != userID || k.DeletedAt != nil {
		return store.ErrNotFound
	}
	now := m.Now()
	k.DeletedAt = &now
	return nil
}

// --- Jobs ---

func (m *Memory) CreateJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateJob"); err != nil {
		return err
	}
	return m.insertJob(job)
}

func (m *Memory) insertJob(job *models.Job) error {
	if _, ok := m.jobs[job.ID]; ok {
		return store.ErrDuplicateKey
	}
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *Memory) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetJob"); err != nil {
		return nil, err
	}
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return j.Clone(), nil
}

func (m *Memory) ListJobs(_ context.Context, filter store.JobFilter) ([]*models.Job, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListJobs"); err != nil {
		return nil, 0, err
	}

	var matched []*models.Job
	for _, j := range m.jobs {
		if j.UserID != filter.UserID {
			continue
		}
		if filter.JobType != "" && j.JobType != filter.JobType {
			continue
		}
		matched = append(matched, j)
	}
	sort.Slice(matched, func(a, b int) bool {
		if !matched[a].CreatedAt.Equal(matched[b].CreatedAt) {
			return matched[a].CreatedAt.After(matched[b].CreatedAt)
		}
		return matched[a].ID.String() > matched[b].ID.String()
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	total := len(matched)
	start := min(filter.Offset, total)
	end := min(start+limit, total)

	out := make([]*models.Job, 0, end-start)
	for _, j := range matched[start:end] {
		out = append(out, j.Clone())
	}
	return out, total, nil
}

func (m *Memory) TransitionJob(_ context.Context, id uuid.UUID, from, to models.JobStatus, opts ...store.JobUpdateOption) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("TransitionJob"); err != nil {
		return nil, err
	}

	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	p := store.ApplyJobUpdateOptions(opts...)
	if j.Status != from || (p.UpdatedAt != nil && !j.UpdatedAt.Equal(*p.UpdatedAt)) {
		return nil, store.ErrStatusConflict
	}

	now := m.Now()
	j.Status = to
	j.UpdatedAt = now
	switch to {
	case models.JobStatusProcessing:
		j.StartedAt = &now
	case models.JobStatusPending:
		j.StartedAt, j.ResultData, j.ErrorMessage = nil, nil, nil
	case models.JobStatusCompleted, models.JobStatusFailed:
		j.CompletedAt = &now
	}
	if p.ResultData != nil {
		j.ResultData = append([]byte(nil), p.ResultData...)
	}
	if p.ErrorMessage != nil {
		msg := *p.ErrorMessage
		j.ErrorMessage = &msg
	}
	if p.RunAt != nil {
		j.RunAt = *p.RunAt
	}
	if p.RetryIncrement {
		j.RetryCount++
	}
	return j.Clone(), nil
}

func (m *Memory) ClaimNextJob(_ context.Context, types []models.JobType) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ClaimNextJob"); err != nil {
		return nil, err
	}

	now := m.Now()
	var best *models.Job
	for _, j := range m.jobs {
		if j.Status != models.JobStatusPending || j.RunAt.After(now) || !typeAllowed(j.JobType, types) {
			continue
		}
		if best == nil || claimsBefore(j, best) {
			best = j
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	best.Status = models.JobStatusProcessing
	best.StartedAt = &now
	best.UpdatedAt = now
	return best.Clone(), nil
}

func typeAllowed(t models.JobType, types []models.JobType) bool {
	if len(types) == 0 {
		return true
	}
	for _, allowed := range types {
		if t == allowed {
			return true
		}
	}
	return false
}

func claimsBefore(a, b *models.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

func (m *Memory) ListStaleJobs(_ context.Context, status models.JobStatus, idleSince time.Time, limit int) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListStaleJobs"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	now := m.Now()
	var out []*models.Job
	for _, j := range m.jobs {
		if j.Status == status && j.UpdatedAt.Before(idleSince) && !j.RunAt.After(now) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Priority != out[b].Priority {
			return out[a].Priority > out[b].Priority
		}
		return out[a].UpdatedAt.Before(out[b].UpdatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Credits ---

func (m *Memory) EnsureUserCredits(_ context.Context, userID uuid.UUID, allotment int, resetAt time.Time) (*models.UserCredits, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("EnsureUserCredits"); err != nil {
		return nil, err
	}
	c, ok := m.credits[userID]
	if !ok {
		now := m.Now()
		c = &models.UserCredits{UserID: userID, CurrentCredits: allotment, DailyResetAt: resetAt, CreatedAt: now, UpdatedAt: now}
		m.credits[userID] = c
	}
	out := *c
	return &out, nil
}

func (m *Memory) GetUserCredits(_ context.Context, userID uuid.UUID) (*models.UserCredits, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credits[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *c
	return &out, nil
}

func (m *Memory) DeductCredits(_ context.Context, d models.Deduction) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("DeductCredits"); err != nil {
		return 0, false, err
	}
	return m.deduct(d)
}

func (m *Memory) deduct(d models.Deduction) (int, bool, error) {
	c, ok := m.credits[d.UserID]
	if !ok {
		return 0, false, store.ErrNotFound
	}
	if c.CurrentCredits < d.Cost {
		return c.CurrentCredits, false, nil
	}
	now := m.Now()
	c.CurrentCredits -= d.Cost
	c.TotalUsedCredits += d.Cost
	c.UpdatedAt = now
	m.transactions = append(m.transactions, &models.CreditTransaction{
		ID:           d.TransactionID,
		UserID:       d.UserID,
		ActionType:   d.ActionType,
		CreditsSpent: d.Cost,
		Description:  d.Description,
		CreatedAt:    now,
	})
	return c.CurrentCredits, true, nil
}

func (m *Memory) DeductCreditsAndCreateJob(_ context.Context, d models.Deduction, job *models.Job) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("DeductCreditsAndCreateJob"); err != nil {
		return 0, false, err
	}
	if _, ok := m.jobs[job.ID]; ok {
		return 0, false, store.ErrDuplicateKey
	}
	remaining, ok, err := m.deduct(d)
	if err != nil || !ok {
		return remaining, ok, err
	}
	m.jobs[job.ID] = job.Clone()
	return remaining, true, nil
}

func (m *Memory) ListCreditTransactions(_ context.Context, userID uuid.UUID, limit int) ([]*models.CreditTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var out []*models.CreditTransaction
	for i := len(m.transactions) - 1; i >= 0 && len(out) < limit; i-- {
		if t := m.transactions[i]; t.UserID == userID {
			c := *t
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *Memory) ReplenishCredits(_ context.Context, allotment int, now time.Time, nextReset time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ReplenishCredits"); err != nil {
		return 0, err
	}
	var n int64
	for _, c := range m.credits {
		if !c.DailyResetAt.After(now) {
			c.CurrentCredits = allotment
			c.DailyResetAt = nextReset
			c.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

// --- Activity & Notifications ---

func (m *Memory) CreateActivity(_ context.Context, a *models.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateActivity"); err != nil {
		return err
	}
	c := *a
	m.activities = append(m.activities, &c)
	return nil
}

func (m *Memory) CreateNotification(_ context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateNotification"); err != nil {
		return err
	}
	c := *n
	m.notifications = append(m.notifications, &c)
	return nil
}

func (m *Memory) ListNotifications(_ context.Context, userID uuid.UUID, limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var out []*models.Notification
	for i := len(m.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		if n := m.notifications[i]; n.UserID == userID {
			c := *n
			out = append(out, &c)
		}
	}
	return out, nil
}

var _ store.Store = (*Memory)(nil)
