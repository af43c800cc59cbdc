package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobforge/internal/cache/cachetest"
	"github.com/kiranshivaraju/jobforge/internal/jobs"
	"github.com/kiranshivaraju/jobforge/internal/store"
	"github.com/kiranshivaraju/jobforge/internal/store/storetest"
	"github.com/kiranshivaraju/jobforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- recording publisher ---

type recordingPublisher struct {
	mu     sync.Mutex
	events []*models.Job
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, job *models.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, job.Clone())
	return p.err
}

func (p *recordingPublisher) statuses() []models.JobStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.JobStatus
	for _, j := range p.events {
		out = append(out, j.Status)
	}
	return out
}

// --- recording activity sink ---

type recordingActivity struct {
	mu    sync.Mutex
	types []string
}

func (a *recordingActivity) LogActivity(_ context.Context, _ uuid.UUID, activityType, _ string, _ map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.types = append(a.types, activityType)
}

type fixture struct {
	svc      *jobs.Service
	store    *storetest.Memory
	cache    *cachetest.Memory
	pub      *recordingPublisher
	activity *recordingActivity
	userID   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    storetest.New(),
		cache:    cachetest.New(),
		pub:      &recordingPublisher{},
		activity: &recordingActivity{},
		userID:   uuid.New(),
	}
	f.svc = jobs.NewService(f.store,
		jobs.WithCache(f.cache),
		jobs.WithPublisher(f.pub),
		jobs.WithActivityLogger(f.activity),
		jobs.WithRetryPolicy(3, jobs.NewExponential(5*time.Second, 5*time.Minute)),
	)
	return f
}

func (f *fixture) create(t *testing.T) *models.Job {
	t.Helper()
	job, err := f.svc.CreateJob(context.Background(), f.userID, models.JobTypeResumeGeneration, json.RawMessage(`{"name":"Ada"}`), 0)
	require.NoError(t, err)
	return job
}

func TestCreateJob_StartsPending(t *testing.T) {
	f := newFixture(t)
	job := f.create(t)

	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.RetryCount)
	assert.Nil(t, job.ResultData)
	assert.Nil(t, job.ErrorMessage)
	assert.Equal(t, []models.JobStatus{models.JobStatusPending}, f.pub.statuses())
	assert.Contains(t, f.activity.types, models.ActivityJobSubmitted)
}

func TestCreateJob_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		userID   uuid.UUID
		jobType  models.JobType
		input    json.RawMessage
		priority int
	}{
		{"unknown type", f.userID, "poem_generation", nil, 0},
		{"missing user", uuid.Nil, models.JobTypeATSAnalysis, nil, 0},
		{"invalid json", f.userID, models.JobTypeATSAnalysis, json.RawMessage(`{nope`), 0},
		{"negative priority", f.userID, models.JobTypeATSAnalysis, nil, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateJob(ctx, tt.userID, tt.jobType, tt.input, tt.priority)
			var ve *jobs.ValidationError
			assert.ErrorAs(t, err, &ve)
		})
	}
	assert.Equal(t, 0, f.store.JobCount())
}

func TestGetJob_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestGetJob_TerminalJobIsByteIdentical(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.create(t)

	_, err := f.svc.Claim(ctx, job.ID)
	require.NoError(t, err)
	_, err = f.svc.Complete(ctx, job.ID, json.RawMessage(`{"summary":"done"}`))
	require.NoError(t, err)

	first, err := f.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	a, _ := json.Marshal(first)
	for i := 0; i < 3; i++ {
		again, err := f.svc.GetJob(ctx, job.ID)
		require.NoError(t, err)
		b, _ := json.Marshal(again)
		assert.Equal(t, string(a), string(b))
	}
}

func TestTransition_HappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.create(t)

	claimed, err := f.svc.Claim(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, claimed.Status)
	assert.NotNil(t, claimed.StartedAt)

	done, err := f.svc.Complete(ctx, job.ID, json.RawMessage(`{"resume":"..."}`))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
	assert.JSONEq(t, `{"resume":"..."}`, string(done.ResultData))
	assert.Nil(t, done.ErrorMessage)
	assert.NotNil(t, done.CompletedAt)

	assert.Equal(t, []models.JobStatus{
		models.JobStatusPending, models.JobStatusProcessing, models.JobStatusCompleted,
	}, f.pub.statuses())
	assert.Contains(t, f.activity.types, models.ActivityJobCompleted)

	notes, err := f.store.ListNotifications(ctx, f.userID, 10)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, job.ID, *notes[0].JobID)
}

func TestTransition_RejectsEdgesOutsideStateMachine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.create(t)

	_, err := f.svc.Complete(ctx, job.ID, json.RawMessage(`{}`))
	var ite *jobs.InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, models.JobStatusPending, ite.From)
	assert.Equal(t, models.JobStatusCompleted, ite.To)

	_, err = f.svc.Transition(ctx, job.ID, models.JobStatusPending, jobs.Payload{})
	assert.ErrorAs(t, err, &ite)
}

func TestTransition_TerminalStatesAreImmutable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, terminal := range []models.JobStatus{models.JobStatusCompleted, models.JobStatusFailed} {
		job := f.create(t)
		_, err := f.svc.Claim(ctx, job.ID)
		require.NoError(t, err)
		if terminal == models.JobStatusCompleted {
			_, err = f.svc.Complete(ctx, job.ID, json.RawMessage(`{"ok":true}`))
		} else {
			_, err = f.svc.Fail(ctx, job.ID, "model refused", false)
		}
		require.NoError(t, err)

		for _, to := range []models.JobStatus{
			models.JobStatusPending, models.JobStatusProcessing, models.JobStatusCompleted, models.JobStatusFailed,
		} {
			_, err := f.svc.Transition(ctx, job.ID, to, jobs.Payload{ResultData: json.RawMessage(`{}`), ErrorMessage: "x"})
			var ite *jobs.InvalidTransitionError
			assert.ErrorAs(t, err, &ite, "%s -> %s", terminal, to)
		}

		got, err := f.svc.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, terminal, got.Status)
	}
}

func TestTransition_PayloadInvariants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.create(t)
	_, err := f.svc.Claim(ctx, job.ID)
	require.NoError(t, err)

	var ve *jobs.ValidationError
	_, err = f.svc.Complete(ctx, job.ID, nil)
	assert.ErrorAs(t, err, &ve)

	_, err = f.svc.Transition(ctx, job.ID, models.JobStatusCompleted, jobs.Payload{ResultData: json.RawMessage(`{}`), ErrorMessage: "x"})
	assert.ErrorAs(t, err, &ve)

	_, err = f.svc.Fail(ctx, job.ID, "", false)
	assert.ErrorAs(t, err, &ve)

	got, err := f.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, got.Status)
}

func TestFail_RetryThenExhaust(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.create(t)

	for attempt := 1; attempt <= 3; attempt++ {
		_, err := f.svc.Claim(ctx, job.ID)
		require.NoError(t, err)

		requeued, err := f.svc.Fail(ctx, job.ID, "upstream timeout", true)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusPending, requeued.Status)
		assert.Equal(t, attempt, requeued.RetryCount)
		assert.Nil(t, requeued.ErrorMessage)
		assert.Nil(t, requeued.ResultData)
		assert.True(t, requeued.RunAt.After(time.Now()), "requeued job should be delayed")
	}

	_, err := f.svc.Claim(ctx, job.ID)
	require.NoError(t, err)
	failed, err := f.svc.Fail(ctx, job.ID, "upstream timeout", true)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusFailed, failed.Status)
	assert.Equal(t, 4, failed.RetryCount)
	require.NotNil(t, failed.ErrorMessage)
	assert.Contains(t, *failed.ErrorMessage, "max retries exceeded")
	assert.Contains(t, f.activity.types, models.ActivityJobFailed)
}

func TestFail_NonRetryableIncrementsRetryCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.create(t)
	_, err := f.svc.Claim(ctx, job.ID)
	require.NoError(t, err)

	failed, err := f.svc.Fail(ctx, job.ID, "bad input", false)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, failed.Status)
	assert.Equal(t, 1, failed.RetryCount)
	assert.Equal(t, "bad input", *failed.ErrorMessage)
}

func TestClaim_OnlyOneConcurrentWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.create(t)

	const n = 10
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Claim(ctx, job.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		var ite *jobs.InvalidTransitionError
		assert.ErrorAs(t, err, &ite)
	}
	assert.Equal(t, 1, wins)
}

func TestClaimNext_PriorityThenAge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	low, err := f.svc.CreateJob(ctx, f.userID, models.JobTypeATSAnalysis, nil, 0)
	require.NoError(t, err)
	high, err := f.svc.CreateJob(ctx, f.userID, models.JobTypeATSAnalysis, nil, 5)
	require.NoError(t, err)

	first, err := f.svc.ClaimNext(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, high.ID, first.ID)

	second, err := f.svc.ClaimNext(ctx, []models.JobType{models.JobTypeATSAnalysis})
	require.NoError(t, err)
	assert.Equal(t, low.ID, second.ID)

	_, err = f.svc.ClaimNext(ctx, nil)
	assert.ErrorIs(t, err, jobs.ErrNoPendingJobs)
}

func TestClaimNext_SkipsBackedOffJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.create(t)

	_, err := f.svc.Claim(ctx, job.ID)
	require.NoError(t, err)
	_, err = f.svc.Fail(ctx, job.ID, "flaky", true)
	require.NoError(t, err)

	_, err = f.svc.ClaimNext(ctx, nil)
	assert.ErrorIs(t, err, jobs.ErrNoPendingJobs)
}

func TestTransition_PublishFailureDoesNotRollBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.create(t)
	f.pub.err = errors.New("subscriber gone")
	f.store.FailOn("CreateNotification", errors.New("db down"))

	claimed, err := f.svc.Claim(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, claimed.Status)

	done, err := f.svc.Complete(ctx, job.ID, json.RawMessage(`{"ok":1}`))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
}

func TestListJobs_NewestFirstWithStableTies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		j := &models.Job{
			ID: uuid.New(), UserID: f.userID, JobType: models.JobTypeATSAnalysis,
			Status: models.JobStatusPending, CreatedAt: base.Add(time.Duration(i/2) * time.Minute),
		}
		f.store.PutJob(j)
		ids = append(ids, j.ID)
	}
	f.store.PutJob(&models.Job{ID: uuid.New(), UserID: f.userID, JobType: models.JobTypeCoverLetterGeneration, CreatedAt: base})
	f.store.PutJob(&models.Job{ID: uuid.New(), UserID: uuid.New(), JobType: models.JobTypeATSAnalysis, CreatedAt: base})

	page1, total, err := f.svc.ListJobs(ctx, store.JobFilter{UserID: f.userID, JobType: models.JobTypeATSAnalysis, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page1, 3)

	page2, _, err := f.svc.ListJobs(ctx, store.JobFilter{UserID: f.userID, JobType: models.JobTypeATSAnalysis, Limit: 3, Offset: 3})
	require.NoError(t, err)
	require.Len(t, page2, 2)

	all := append(page1, page2...)
	seen := map[uuid.UUID]bool{}
	for i, j := range all {
		assert.False(t, seen[j.ID], "duplicate across pages")
		seen[j.ID] = true
		if i > 0 {
			prev := all[i-1]
			assert.False(t, j.CreatedAt.After(prev.CreatedAt))
			if j.CreatedAt.Equal(prev.CreatedAt) {
				assert.Less(t, j.ID.String(), prev.ID.String())
			}
		}
	}
	assert.Len(t, seen, len(ids))
}

func TestListJobs_RejectsUnknownType(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.ListJobs(context.Background(), store.JobFilter{UserID: f.userID, JobType: "bogus"})
	var ve *jobs.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestStaleJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-time.Hour)

	stalePending := &models.Job{ID: uuid.New(), UserID: f.userID, JobType: models.JobTypeATSAnalysis,
		Status: models.JobStatusPending, RunAt: old, CreatedAt: old, UpdatedAt: old}
	staleProcessing := &models.Job{ID: uuid.New(), UserID: f.userID, JobType: models.JobTypeATSAnalysis,
		Status: models.JobStatusProcessing, RunAt: old, CreatedAt: old, UpdatedAt: old}
	f.store.PutJob(stalePending)
	f.store.PutJob(staleProcessing)
	f.create(t)

	pending, err := f.svc.StalePending(ctx, 10*time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, stalePending.ID, pending[0].ID)

	processing, err := f.svc.StaleProcessing(ctx, 10*time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, processing, 1)
	assert.Equal(t, staleProcessing.ID, processing[0].ID)
}

func TestRequeueStale_RequeuesUnchangedJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-time.Hour)
	f.store.PutJob(&models.Job{ID: uuid.New(), UserID: f.userID, JobType: models.JobTypeATSAnalysis,
		Status: models.JobStatusProcessing, RunAt: old, CreatedAt: old, UpdatedAt: old})

	listed, err := f.svc.StaleProcessing(ctx, 10*time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	requeued, err := f.svc.RequeueStale(ctx, listed[0], "no progress")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, requeued.Status)
	assert.Equal(t, 1, requeued.RetryCount)
}

func TestRequeueStale_LeavesNewerAttemptAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-time.Hour)
	id := uuid.New()
	f.store.PutJob(&models.Job{ID: id, UserID: f.userID, JobType: models.JobTypeATSAnalysis,
		Status: models.JobStatusProcessing, RunAt: old, CreatedAt: old, UpdatedAt: old})

	listed, err := f.svc.StaleProcessing(ctx, 10*time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	// the runner gives up and a fresh attempt claims the job before the sweep acts
	_, err = f.svc.Fail(ctx, id, "upstream timeout", true)
	require.NoError(t, err)
	_, err = f.svc.Claim(ctx, id)
	require.NoError(t, err)

	_, err = f.svc.RequeueStale(ctx, listed[0], "no progress")
	require.ErrorIs(t, err, jobs.ErrJobChanged)

	current, err := f.svc.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, current.Status)
	assert.Equal(t, 1, current.RetryCount)

	done, err := f.svc.Complete(ctx, id, json.RawMessage(`{"content":"ok"}`))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
}
