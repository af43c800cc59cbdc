package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/jobforge/internal/store"
	"github.com/kiranshivaraju/jobforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("jobforge_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func newStore(t *testing.T) *store.PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	return store.NewPostgresStore(setupTestDB(t))
}

func newJob(userID uuid.UUID, jobType models.JobType, priority int, createdAt time.Time) *models.Job {
	return &models.Job{
		ID:        uuid.New(),
		UserID:    userID,
		JobType:   jobType,
		Status:    models.JobStatusPending,
		Priority:  priority,
		InputData: json.RawMessage(`{"company":"Acme"}`),
		RunAt:     createdAt,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func deduction(userID uuid.UUID, cost int) models.Deduction {
	return models.Deduction{
		TransactionID: uuid.New(),
		UserID:        userID,
		ActionType:    models.ActionCoverLetter,
		Cost:          cost,
		Description:   "cover letter",
	}
}

// --- API Keys ---

func TestAPIKey_Lifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	userID := uuid.New()

	now := time.Now().UTC().Truncate(time.Microsecond)
	key := &models.APIKey{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      "test-key",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: "jf_abcde",
		Scopes:    []string{"jobs", "admin"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	keys, err := s.GetAPIKeyByPrefix(ctx, "jf_abcde")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, []string{"jobs", "admin"}, keys[0].Scopes)
	assert.Nil(t, keys[0].LastUsedAt)

	require.NoError(t, s.UpdateAPIKeyLastUsed(ctx, key.ID))
	keys, err = s.GetAPIKeyByPrefix(ctx, "jf_abcde")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotNil(t, keys[0].LastUsedAt)

	listed, err := s.ListAPIKeys(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	// another user cannot revoke it
	assert.ErrorIs(t, s.RevokeAPIKey(ctx, key.ID, uuid.New()), store.ErrNotFound)

	require.NoError(t, s.RevokeAPIKey(ctx, key.ID, userID))
	keys, err = s.GetAPIKeyByPrefix(ctx, "jf_abcde")
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.ErrorIs(t, s.RevokeAPIKey(ctx, key.ID, userID), store.ErrNotFound)
}

func TestAPIKey_DuplicateHash(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	key := &models.APIKey{ID: uuid.New(), UserID: uuid.New(), Name: "a", KeyHash: "same-hash",
		KeyPrefix: "jf_11111", Scopes: []string{"jobs"}, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	dup := *key
	dup.ID = uuid.New()
	assert.ErrorIs(t, s.CreateAPIKey(ctx, &dup), store.ErrDuplicateKey)
}

// --- Jobs ---

func TestJob_CreateAndGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	job := newJob(uuid.New(), models.JobTypeResumeGeneration, 2, time.Now().UTC().Truncate(time.Microsecond))
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.UserID, got.UserID)
	assert.Equal(t, models.JobTypeResumeGeneration, got.JobType)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, 2, got.Priority)
	assert.JSONEq(t, `{"company":"Acme"}`, string(got.InputData))
	assert.Nil(t, got.ResultData)
	assert.Nil(t, got.ErrorMessage)
	assert.Equal(t, 0, got.RetryCount)

	assert.ErrorIs(t, s.CreateJob(ctx, job), store.ErrDuplicateKey)
}

func TestJob_GetNotFound(t *testing.T) {
	s := newStore(t)

	_, err := s.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJob_TransitionLifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	job := newJob(uuid.New(), models.JobTypeATSAnalysis, 0, time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, job))

	claimed, err := s.TransitionJob(ctx, job.ID, models.JobStatusPending, models.JobStatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, claimed.Status)
	assert.NotNil(t, claimed.StartedAt)

	done, err := s.TransitionJob(ctx, job.ID, models.JobStatusProcessing, models.JobStatusCompleted,
		store.WithResultData(json.RawMessage(`{"score":87}`)))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
	assert.JSONEq(t, `{"score":87}`, string(done.ResultData))
	assert.NotNil(t, done.CompletedAt)
	assert.False(t, done.UpdatedAt.Before(claimed.UpdatedAt))
}

func TestJob_TransitionCASConflict(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	job := newJob(uuid.New(), models.JobTypeATSAnalysis, 0, time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, job))
	_, err := s.TransitionJob(ctx, job.ID, models.JobStatusPending, models.JobStatusProcessing)
	require.NoError(t, err)

	_, err = s.TransitionJob(ctx, job.ID, models.JobStatusPending, models.JobStatusProcessing)
	assert.ErrorIs(t, err, store.ErrStatusConflict)

	_, err = s.TransitionJob(ctx, uuid.New(), models.JobStatusPending, models.JobStatusProcessing)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJob_TransitionPinnedToUpdatedAt(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	job := newJob(uuid.New(), models.JobTypeATSAnalysis, 0, time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, job))
	first, err := s.TransitionJob(ctx, job.ID, models.JobStatusPending, models.JobStatusProcessing)
	require.NoError(t, err)

	// a requeue and a fresh claim leave the status unchanged but bump updated_at
	_, err = s.TransitionJob(ctx, job.ID, models.JobStatusProcessing, models.JobStatusPending, store.WithRetryIncrement())
	require.NoError(t, err)
	second, err := s.TransitionJob(ctx, job.ID, models.JobStatusPending, models.JobStatusProcessing)
	require.NoError(t, err)
	require.False(t, first.UpdatedAt.Equal(second.UpdatedAt))

	_, err = s.TransitionJob(ctx, job.ID, models.JobStatusProcessing, models.JobStatusPending,
		store.WithRetryIncrement(), store.WithExpectedUpdatedAt(first.UpdatedAt))
	assert.ErrorIs(t, err, store.ErrStatusConflict)

	requeued, err := s.TransitionJob(ctx, job.ID, models.JobStatusProcessing, models.JobStatusPending,
		store.WithRetryIncrement(), store.WithExpectedUpdatedAt(second.UpdatedAt))
	require.NoError(t, err)
	assert.Equal(t, 2, requeued.RetryCount)
}

func TestJob_ConcurrentClaimHasOneWinner(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	job := newJob(uuid.New(), models.JobTypeCoverLetterGeneration, 0, time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, job))

	const claimers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		won     int
		lost    int
		unknown []error
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.TransitionJob(ctx, job.ID, models.JobStatusPending, models.JobStatusProcessing)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case errors.Is(err, store.ErrStatusConflict):
				lost++
			default:
				unknown = append(unknown, err)
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, unknown)
	assert.Equal(t, 1, won)
	assert.Equal(t, claimers-1, lost)
}

func TestJob_FailAndRequeue(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	job := newJob(uuid.New(), models.JobTypeContentOptimization, 0, time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, job))
	_, err := s.TransitionJob(ctx, job.ID, models.JobStatusPending, models.JobStatusProcessing)
	require.NoError(t, err)

	runAt := time.Now().UTC().Add(time.Minute).Truncate(time.Microsecond)
	requeued, err := s.TransitionJob(ctx, job.ID, models.JobStatusProcessing, models.JobStatusPending,
		store.WithRetryIncrement(), store.WithRunAt(runAt))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, requeued.Status)
	assert.Equal(t, 1, requeued.RetryCount)
	assert.Nil(t, requeued.StartedAt)
	assert.True(t, runAt.Equal(requeued.RunAt))

	_, err = s.TransitionJob(ctx, job.ID, models.JobStatusPending, models.JobStatusProcessing)
	require.NoError(t, err)
	failed, err := s.TransitionJob(ctx, job.ID, models.JobStatusProcessing, models.JobStatusFailed,
		store.WithErrorMessage("upstream timeout"), store.WithRetryIncrement())
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, failed.Status)
	require.NotNil(t, failed.ErrorMessage)
	assert.Equal(t, "upstream timeout", *failed.ErrorMessage)
	assert.Equal(t, 2, failed.RetryCount)
	assert.Nil(t, failed.ResultData)
}

func TestJob_CompletedRequiresResult(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	job := newJob(uuid.New(), models.JobTypeContentOptimization, 0, time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, job))
	_, err := s.TransitionJob(ctx, job.ID, models.JobStatusPending, models.JobStatusProcessing)
	require.NoError(t, err)

	// jobs_result_xor_error rejects a completed job without result_data
	_, err = s.TransitionJob(ctx, job.ID, models.JobStatusProcessing, models.JobStatusCompleted)
	require.Error(t, err)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, got.Status)
}

func TestJob_ListOrderingAndFilter(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	userID := uuid.New()
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond)

	var ids []uuid.UUID
	for i, jt := range []models.JobType{
		models.JobTypeResumeGeneration,
		models.JobTypeCoverLetterGeneration,
		models.JobTypeResumeGeneration,
	} {
		j := newJob(userID, jt, 0, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.CreateJob(ctx, j))
		ids = append(ids, j.ID)
	}
	require.NoError(t, s.CreateJob(ctx, newJob(uuid.New(), models.JobTypeResumeGeneration, 0, base)))

	jobs, total, err := s.ListJobs(ctx, store.JobFilter{UserID: userID, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, jobs, 2)
	assert.Equal(t, ids[2], jobs[0].ID)
	assert.Equal(t, ids[1], jobs[1].ID)

	jobs, total, err = s.ListJobs(ctx, store.JobFilter{UserID: userID, Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, ids[0], jobs[0].ID)

	jobs, total, err = s.ListJobs(ctx, store.JobFilter{UserID: userID, JobType: models.JobTypeResumeGeneration})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, jobs, 2)
}

func TestJob_ClaimNextOrderAndFilter(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	low := newJob(uuid.New(), models.JobTypeResumeGeneration, 0, base)
	high := newJob(uuid.New(), models.JobTypeResumeGeneration, 5, base.Add(time.Minute))
	other := newJob(uuid.New(), models.JobTypeATSAnalysis, 9, base)
	future := newJob(uuid.New(), models.JobTypeResumeGeneration, 9, base)
	future.RunAt = time.Now().UTC().Add(time.Hour)
	for _, j := range []*models.Job{low, high, other, future} {
		require.NoError(t, s.CreateJob(ctx, j))
	}

	resumes := []models.JobType{models.JobTypeResumeGeneration}

	got, err := s.ClaimNextJob(ctx, resumes)
	require.NoError(t, err)
	assert.Equal(t, high.ID, got.ID)
	assert.Equal(t, models.JobStatusProcessing, got.Status)

	got, err = s.ClaimNextJob(ctx, resumes)
	require.NoError(t, err)
	assert.Equal(t, low.ID, got.ID)

	// future run_at is not claimable yet
	_, err = s.ClaimNextJob(ctx, resumes)
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err = s.ClaimNextJob(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, other.ID, got.ID)
}

func TestJob_ClaimNextConcurrentSkipLocked(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	const n = 20
	for i := 0; i < n; i++ {
		require.NoError(t, s.CreateJob(ctx, newJob(uuid.New(), models.JobTypeATSAnalysis, 0, time.Now().UTC().Add(-time.Minute))))
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[uuid.UUID]int)
	)
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, err := s.ClaimNextJob(ctx, nil)
				if err != nil {
					return
				}
				mu.Lock()
				seen[j.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for id, count := range seen {
		assert.Equal(t, 1, count, "job %s claimed more than once", id)
	}
}

func TestJob_ListStale(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	old := newJob(uuid.New(), models.JobTypeATSAnalysis, 0, time.Now().UTC().Add(-time.Hour))
	fresh := newJob(uuid.New(), models.JobTypeATSAnalysis, 0, time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, old))
	require.NoError(t, s.CreateJob(ctx, fresh))

	stale, err := s.ListStaleJobs(ctx, models.JobStatusPending, time.Now().UTC().Add(-10*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)

	stale, err = s.ListStaleJobs(ctx, models.JobStatusProcessing, time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

// --- Credits ---

func TestCredits_EnsureIsIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	userID := uuid.New()
	resetAt := time.Now().UTC().Add(24 * time.Hour)

	c, err := s.EnsureUserCredits(ctx, userID, 20, resetAt)
	require.NoError(t, err)
	assert.Equal(t, 20, c.CurrentCredits)

	_, ok, err := s.DeductCredits(ctx, deduction(userID, 5))
	require.NoError(t, err)
	require.True(t, ok)

	c, err = s.EnsureUserCredits(ctx, userID, 20, resetAt)
	require.NoError(t, err)
	assert.Equal(t, 15, c.CurrentCredits)
	assert.Equal(t, 5, c.TotalUsedCredits)

	_, err = s.GetUserCredits(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCredits_DeductInsufficient(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	userID := uuid.New()
	_, err := s.EnsureUserCredits(ctx, userID, 4, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)

	remaining, ok, err := s.DeductCredits(ctx, deduction(userID, 5))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 4, remaining)

	txs, err := s.ListCreditTransactions(ctx, userID, 10)
	require.NoError(t, err)
	assert.Empty(t, txs)

	_, _, err = s.DeductCredits(ctx, deduction(uuid.New(), 1))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCredits_ConcurrentDeductNeverOverspends(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	userID := uuid.New()
	_, err := s.EnsureUserCredits(ctx, userID, 20, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)

	const attempts = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.DeductCredits(ctx, deduction(userID, 3))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// 20 credits cover six deductions of 3
	assert.Equal(t, 6, succeeded)

	c, err := s.GetUserCredits(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 2, c.CurrentCredits)
	assert.Equal(t, 18, c.TotalUsedCredits)

	txs, err := s.ListCreditTransactions(ctx, userID, 50)
	require.NoError(t, err)
	assert.Len(t, txs, 6)
}

func TestCredits_DeductAndCreateJobIsAtomic(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	userID := uuid.New()
	_, err := s.EnsureUserCredits(ctx, userID, 5, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)

	job := newJob(userID, models.JobTypeCoverLetterGeneration, 0, time.Now().UTC())
	remaining, ok, err := s.DeductCreditsAndCreateJob(ctx, deduction(userID, 3), job)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, remaining)
	_, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)

	// insufficient: no job, no transaction
	rejected := newJob(userID, models.JobTypeCoverLetterGeneration, 0, time.Now().UTC())
	remaining, ok, err = s.DeductCreditsAndCreateJob(ctx, deduction(userID, 3), rejected)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, remaining)
	_, err = s.GetJob(ctx, rejected.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// a failed insert rolls the deduction back
	_, _, err = s.DeductCreditsAndCreateJob(ctx, deduction(userID, 1), job)
	assert.ErrorIs(t, err, store.ErrDuplicateKey)

	c, err := s.GetUserCredits(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 2, c.CurrentCredits)
	txs, err := s.ListCreditTransactions(ctx, userID, 10)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestCredits_Replenish(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	due := uuid.New()
	notDue := uuid.New()
	_, err := s.EnsureUserCredits(ctx, due, 20, now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = s.EnsureUserCredits(ctx, notDue, 20, now.Add(time.Hour))
	require.NoError(t, err)
	for _, id := range []uuid.UUID{due, notDue} {
		_, ok, err := s.DeductCredits(ctx, deduction(id, 7))
		require.NoError(t, err)
		require.True(t, ok)
	}

	next := now.Add(24 * time.Hour).Truncate(time.Microsecond)
	n, err := s.ReplenishCredits(ctx, 20, now, next)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	c, err := s.GetUserCredits(ctx, due)
	require.NoError(t, err)
	assert.Equal(t, 20, c.CurrentCredits)
	assert.Equal(t, 7, c.TotalUsedCredits)
	assert.True(t, next.Equal(c.DailyResetAt))

	c, err = s.GetUserCredits(ctx, notDue)
	require.NoError(t, err)
	assert.Equal(t, 13, c.CurrentCredits)
}

// --- Activity & Notifications ---

func TestActivityAndNotifications(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	userID := uuid.New()

	endpoint := "cover_letter_generation"
	require.NoError(t, s.CreateActivity(ctx, &models.Activity{
		ID: uuid.New(), UserID: userID, Type: models.ActivityJobSubmitted,
		Endpoint: &endpoint, Metadata: json.RawMessage(`{"priority":1}`), CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, s.CreateActivity(ctx, &models.Activity{
		ID: uuid.New(), UserID: userID, Type: models.ActivityRateLimited, CreatedAt: time.Now().UTC(),
	}))

	job := newJob(userID, models.JobTypeCoverLetterGeneration, 0, time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, job))

	base := time.Now().UTC().Truncate(time.Microsecond)
	for i, title := range []string{"first", "second"} {
		require.NoError(t, s.CreateNotification(ctx, &models.Notification{
			ID: uuid.New(), UserID: userID, JobID: &job.ID, Title: title, Message: "done",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	list, err := s.ListNotifications(ctx, userID, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].Title)
	require.NotNil(t, list[0].JobID)
	assert.Equal(t, job.ID, *list[0].JobID)

	list, err = s.ListNotifications(ctx, uuid.New(), 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPing(t *testing.T) {
	s := newStore(t)

	assert.NoError(t, s.Ping(context.Background()))
}
