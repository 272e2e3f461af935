package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-gl/internal/app"
	jobmetrics "github.com/odyssey-erp/odyssey-gl/internal/jobs"
	"github.com/odyssey-erp/odyssey-gl/internal/observability"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
	"github.com/odyssey-erp/odyssey-gl/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{Logger: logger})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	service := accounting.NewService(accounting.NewRepository(pool), shared.NewAuditLogger(pool), logger)
	service.WithRetry(accounting.RetryPolicy{
		MaxRetries:      cfg.LedgerPostMaxRetries,
		InitialInterval: cfg.LedgerRetryInitial,
		MaxInterval:     cfg.LedgerRetryMax,
	})
	service.WithLocker(shared.NewLocker(redisClient, cfg.LedgerLockTTL))
	service.WithCache(balances.NewCache(redisClient, cfg.LedgerBalanceCacheTTL))
	service.WithMetrics(accounting.NewMetrics(metrics.Registerer()))

	ledgerJobs := jobs.NewLedgerJobs(service, shared.NewIdempotencyStore(pool), logger, jobmetrics.NewMetrics(metrics.Registerer()))

	cron, err := schedule(cfg)
	if err != nil {
		logger.Error("build schedule", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers:    ledgerJobs.Handlers(),
		Cron:        cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              cfg.WorkerMetricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("worker starting", slog.Int("concurrency", cfg.WorkerConcurrency), slog.Int("cron_entries", len(cron)))
		return worker.Run(gctx)
	})
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

// schedule registers the periodic integrity sweep and idempotency cleanup.
func schedule(cfg *app.Config) ([]jobs.CronRegistration, error) {
	var entries []jobs.CronRegistration
	if len(cfg.IntegrityCompanies) > 0 && cfg.IntegrityCron != "" {
		task, err := jobs.NewIntegrityTask(jobs.IntegrityPayload{CompanyIDs: cfg.IntegrityCompanies, ActorID: jobs.SystemActorID})
		if err != nil {
			return nil, err
		}
		entries = append(entries, jobs.CronRegistration{Spec: cfg.IntegrityCron, Task: task})
	}
	cleanup, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		return nil, err
	}
	entries = append(entries, jobs.CronRegistration{Spec: "@every 1h", Task: cleanup})
	return entries, nil
}
