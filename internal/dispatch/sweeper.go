package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/jobforge/pkg/models"
	"github.com/robfig/cron/v3"
)

const defaultSweepBatch = 100

// StaleJobs lists jobs idle past a threshold and requeues failed attempts.
type StaleJobs interface {
	StalePending(ctx context.Context, idle time.Duration, limit int) ([]*models.Job, error)
	StaleProcessing(ctx context.Context, idle time.Duration, limit int) ([]*models.Job, error)
	RequeueStale(ctx context.Context, job *models.Job, msg string) (*models.Job, error)
}

// Replenisher resets credit balances whose reset time has passed.
type Replenisher interface {
	ReplenishDue(ctx context.Context) (int64, error)
}

// SweeperConfig controls the periodic recovery loop.
type SweeperConfig struct {
	JobsSpec        string
	CreditsSpec     string
	StalePending    time.Duration
	StaleProcessing time.Duration
	Batch           int
}

// SweepStats summarizes one job sweep.
type SweepStats struct {
	Resignalled int
	Requeued    int
	Failed      int
}

// Sweeper periodically recovers jobs whose dispatch signal was lost or whose
// processor went away, and replenishes due credit balances.
type Sweeper struct {
	cron       *cron.Cron
	dispatcher *Dispatcher
	jobs       StaleJobs
	credits    Replenisher
	cfg        SweeperConfig
	logger     *slog.Logger
}

// NewSweeper creates a Sweeper. credits may be nil.
func NewSweeper(d *Dispatcher, j StaleJobs, credits Replenisher, cfg SweeperConfig, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Batch <= 0 {
		cfg.Batch = defaultSweepBatch
	}
	cronLogger := cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))
	return &Sweeper{
		cron:       cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))),
		dispatcher: d,
		jobs:       j,
		credits:    credits,
		cfg:        cfg,
		logger:     logger,
	}
}

// Start registers the sweeps and starts the scheduler. One job sweep also runs
// immediately so jobs left pending by a previous process are picked up.
func (s *Sweeper) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.JobsSpec, func() { s.SweepJobs(ctx) }); err != nil {
		return fmt.Errorf("scheduling job sweep %q: %w", s.cfg.JobsSpec, err)
	}
	if s.credits != nil && s.cfg.CreditsSpec != "" {
		if _, err := s.cron.AddFunc(s.cfg.CreditsSpec, func() { s.replenish(ctx) }); err != nil {
			return fmt.Errorf("scheduling credit reset %q: %w", s.cfg.CreditsSpec, err)
		}
	}

	s.cron.Start()
	s.logger.Info("sweeper started", "jobs_spec", s.cfg.JobsSpec, "credits_spec", s.cfg.CreditsSpec)

	go s.SweepJobs(ctx)
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("sweeper stopped")
}

// SweepJobs re-signals stale pending jobs and hands stale processing jobs
// back to the queue, failing them once their retry budget is spent.
func (s *Sweeper) SweepJobs(ctx context.Context) SweepStats {
	var stats SweepStats

	processing, err := s.jobs.StaleProcessing(ctx, s.cfg.StaleProcessing, s.cfg.Batch)
	if err != nil {
		s.logger.Error("listing stale processing jobs", "err", err)
	}
	for _, job := range processing {
		msg := fmt.Sprintf("no progress for %s", s.cfg.StaleProcessing)
		updated, err := s.jobs.RequeueStale(ctx, job, msg)
		if err != nil {
			// the processor finished or another sweeper got there first
			s.logger.Debug("stale job moved on", "job_id", job.ID, "err", err)
			continue
		}
		if updated.Status == models.JobStatusFailed {
			stats.Failed++
			continue
		}
		stats.Requeued++
		if err := s.dispatcher.Signal(ctx, updated); err != nil {
			s.logger.Warn("re-signal after requeue failed", "err", err, "job_id", job.ID)
		}
	}

	pending, err := s.jobs.StalePending(ctx, s.cfg.StalePending, s.cfg.Batch)
	if err != nil {
		s.logger.Error("listing stale pending jobs", "err", err)
	}
	for _, job := range pending {
		if err := s.dispatcher.Signal(ctx, job); err != nil {
			s.logger.Warn("re-signal of pending job failed", "err", err, "job_id", job.ID)
			continue
		}
		stats.Resignalled++
	}

	if stats != (SweepStats{}) {
		s.logger.Info("job sweep complete", "resignalled", stats.Resignalled,
			"requeued", stats.Requeued, "failed", stats.Failed)
	}
	return stats
}

func (s *Sweeper) replenish(ctx context.Context) {
	if _, err := s.credits.ReplenishDue(ctx); err != nil {
		s.logger.Error("credit replenishment failed", "err", err)
	}
}
