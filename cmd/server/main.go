// Package main is the entrypoint for the jobforge API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/jobforge/internal/activity"
	"github.com/kiranshivaraju/jobforge/internal/api"
	"github.com/kiranshivaraju/jobforge/internal/api/handler"
	mw "github.com/kiranshivaraju/jobforge/internal/api/middleware"
	"github.com/kiranshivaraju/jobforge/internal/api/response"
	"github.com/kiranshivaraju/jobforge/internal/cache"
	"github.com/kiranshivaraju/jobforge/internal/config"
	"github.com/kiranshivaraju/jobforge/internal/credits"
	"github.com/kiranshivaraju/jobforge/internal/dispatch"
	"github.com/kiranshivaraju/jobforge/internal/events"
	"github.com/kiranshivaraju/jobforge/internal/jobs"
	"github.com/kiranshivaraju/jobforge/internal/processor"
	"github.com/kiranshivaraju/jobforge/internal/ratelimit"
	"github.com/kiranshivaraju/jobforge/internal/store"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// .env is optional; real environment variables win
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded .env file")
	}

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "dispatch_mode", cfg.Dispatch.Mode, "ai_provider", cfg.AI.Provider, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create store and services
	pgStore := store.NewPostgresStore(pool)
	activityLog := activity.NewLogger(pgStore, nil)
	defer activityLog.Flush()

	var background errgroup.Group
	hub := events.NewHub(nil)
	publisher := eventPublisher(ctx, cfg.Events, redisCache.Client(), hub, &background)

	jobSvc := jobs.NewService(pgStore,
		jobs.WithCache(redisCache),
		jobs.WithPublisher(publisher),
		jobs.WithActivityLogger(activityLog),
		jobs.WithRetryPolicy(cfg.Jobs.MaxRetries, jobs.NewExponential(cfg.Jobs.BackoffInitial, cfg.Jobs.BackoffMax)),
	)
	creditCtl := credits.NewController(pgStore, cfg.Credits, credits.WithActivityLogger(activityLog))
	jobLimiter := ratelimit.NewFromConfig(redisCache, cfg.RateLimit)
	apiLimiter := ratelimit.New(redisCache,
		ratelimit.WithWindow(time.Minute),
		ratelimit.WithDefaultLimit(cfg.RateLimit.APIRequestsPerMin))

	// 6. Create processor and dispatch trigger
	gen, err := processor.NewProcessor(cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI processor: %w", err)
	}
	runner := processor.NewRunner(jobSvc, gen,
		processor.WithTimeout(cfg.Jobs.ProcessingTimeout),
		processor.WithConcurrency(cfg.Dispatch.Concurrency))
	defer runner.Close()

	trigger, err := dispatchTrigger(ctx, cfg.Dispatch, redisCache.Client(), runner, &background)
	if err != nil {
		return fmt.Errorf("create dispatch trigger: %w", err)
	}
	slog.Info("dispatch trigger ready", "trigger", trigger.Name())

	dispatcher := dispatch.NewDispatcher(jobSvc, creditCtl, jobLimiter, trigger,
		dispatch.WithActivityLogger(activityLog),
		dispatch.WithSignalTimeout(cfg.Dispatch.Timeout))

	sweeper := dispatch.NewSweeper(dispatcher, jobSvc, creditCtl, dispatch.SweeperConfig{
		JobsSpec:        cfg.Jobs.SweepSpec,
		CreditsSpec:     cfg.Credits.ResetSpec,
		StalePending:    cfg.Jobs.StalePendingAfter,
		StaleProcessing: cfg.Jobs.StaleProcessingAfter,
	}, nil)
	if err := sweeper.Start(ctx); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}

	// 7. Build router with dependencies
	streams, stopStreams := context.WithCancel(context.Background())
	defer stopStreams()

	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(apiLimiter),

		HealthHandler: healthHandler(pgStore, redisCache, hub),

		SubmitJobHandler:  handler.NewSubmitJobHandler(dispatcher),
		ListJobsHandler:   handler.NewListJobsHandler(jobSvc),
		GetJobHandler:     handler.NewGetJobHandler(jobSvc),
		RedispatchHandler: handler.NewRedispatchHandler(jobSvc, dispatcher),
		JobEventsHandler:  handler.StreamUntil(streams, handler.NewJobEventsHandler(jobSvc, hub)),
		UserEventsHandler: handler.StreamUntil(streams, handler.NewUserEventsHandler(hub)),

		CreditsHandler:       handler.NewCreditsHandler(creditCtl),
		CheckCreditsHandler:  handler.NewCheckCreditsHandler(creditCtl),
		RateLimitHandler:     handler.NewRateLimitStatusHandler(jobLimiter),
		NotificationsHandler: handler.NewNotificationsHandler(pgStore),

		ClaimHandler:      handler.NewClaimHandler(jobSvc),
		TransitionHandler: handler.NewTransitionHandler(jobSvc),

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	srv.RegisterOnShutdown(stopStreams)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	var serveErr error
	select {
	case err := <-errCh:
		serveErr = fmt.Errorf("server error: %w", err)
		stop()
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("server shutdown: %w", err)
	}
	sweeper.Stop()
	dispatcher.Wait()
	if err := background.Wait(); err != nil {
		slog.Warn("background subscriber stopped with error", "error", err)
	}
	if serveErr != nil {
		return serveErr
	}

	slog.Info("server stopped gracefully")
	return nil
}

// eventPublisher returns where job updates are published. With a channel
// configured, updates go through Redis and a relay feeds the local hub, so
// every replica sees every transition.
func eventPublisher(ctx context.Context, cfg config.EventsConfig, client *redis.Client, hub *events.Hub, g *errgroup.Group) events.Publisher {
	if cfg.Channel == "" {
		return hub
	}
	relay := events.NewRelay(client, cfg.Channel, hub, nil)
	g.Go(func() error {
		if err := relay.Run(ctx); err != nil {
			slog.Error("event relay stopped", "error", err, "channel", cfg.Channel)
			return err
		}
		return nil
	})
	return events.NewRedisPublisher(client, cfg.Channel)
}

// dispatchTrigger builds the processor signal for cfg.Mode. In redis mode the
// local runner also consumes the channel unless cfg.Consume is off.
func dispatchTrigger(ctx context.Context, cfg config.DispatchConfig, client *redis.Client, runner *processor.Runner, g *errgroup.Group) (dispatch.Trigger, error) {
	switch cfg.Mode {
	case config.DispatchModeLocal:
		return runner, nil
	case config.DispatchModeHTTP:
		return dispatch.NewHTTPTrigger(cfg.WebhookURL, cfg.Timeout), nil
	case config.DispatchModeRedis:
		if cfg.Consume {
			consumer := dispatch.NewConsumer(client, cfg.Channel, runner, nil)
			g.Go(func() error {
				if err := consumer.Run(ctx); err != nil {
					slog.Error("dispatch consumer stopped", "error", err, "channel", cfg.Channel)
					return err
				}
				return nil
			})
		}
		return dispatch.NewRedisTrigger(client, cfg.Channel), nil
	default:
		return nil, fmt.Errorf("unknown dispatch mode %q", cfg.Mode)
	}
}

// healthHandler checks database and cache connectivity and reports live
// stream counters.
func healthHandler(s store.Store, c cache.Cache, hub *events.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
			"events":   hub.Stats(),
		})
	}
}
