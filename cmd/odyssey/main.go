package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-gl/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-gl/internal/app"
	"github.com/odyssey-erp/odyssey-gl/internal/audit"
	audithttp "github.com/odyssey-erp/odyssey-gl/internal/audit/http"
	"github.com/odyssey-erp/odyssey-gl/internal/observability"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/migrations"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
	"github.com/odyssey-erp/odyssey-gl/jobs"
)

const usage = `usage: odyssey <command> [flags]

commands:
  serve                          run the HTTP API (default)
  migrate up|down                apply or roll back schema migrations
  close-period   -company -period [-actor]
  rebuild-period -company -period [-actor]
  integrity      -company [-period]
  enqueue close|rebuild|integrity -company [-period] [-actor]
  queues                         print queue statistics
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	command, args := "serve", []string(nil)
	if flag.NArg() > 0 {
		command, args = flag.Arg(0), flag.Args()[1:]
	}

	if err := run(ctx, command, args, cfg, logger); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flag.Usage()
			os.Exit(2)
		}
		logger.Error("command failed", slog.String("command", command), slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, args []string, cfg *app.Config, logger *slog.Logger) error {
	switch command {
	case "serve":
		return serve(ctx, cfg, logger)
	case "migrate":
		dir := "up"
		if len(args) > 0 {
			dir = args[0]
		}
		direction, err := migrations.ParseDirection(dir)
		if err != nil {
			return err
		}
		version, err := migrations.Run(cfg.PGDSN, direction, logger)
		if err != nil {
			return err
		}
		logger.Info("migrations applied", slog.String("direction", string(direction)), slog.Uint64("version", uint64(version)))
		return nil
	case "close-period", "rebuild-period", "integrity":
		periodArgs, err := cli.ParsePeriodArgs(command, args, command == "integrity")
		if err != nil {
			return err
		}
		return maintain(ctx, command, periodArgs, cfg, logger)
	case "enqueue":
		if len(args) == 0 {
			return flag.ErrHelp
		}
		periodArgs, err := cli.ParsePeriodArgs("enqueue "+args[0], args[1:], args[0] == "integrity")
		if err != nil {
			return err
		}
		jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer jobsCLI.Close()
		info, err := jobsCLI.Trigger(ctx, args[0], periodArgs)
		if err != nil {
			return err
		}
		logger.Info("task enqueued", slog.String("id", info.ID), slog.String("type", info.Type), slog.String("queue", info.Queue))
		return nil
	case "queues":
		jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer jobsCLI.Close()
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	default:
		return flag.ErrHelp
	}
}

// runtime holds the connections and the ledger service shared by commands.
type runtime struct {
	pool    *pgxpool.Pool
	redis   *redis.Client
	service *accounting.Service
	audit   *shared.AuditLogger
}

func (rt *runtime) Close(logger *slog.Logger) {
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if rt.pool != nil {
		rt.pool.Close()
	}
}

func connect(ctx context.Context, cfg *app.Config, logger *slog.Logger, metrics *observability.Metrics) (*runtime, error) {
	if cfg.MigrationsAuto {
		if _, err := migrations.Run(cfg.PGDSN, migrations.Up, logger); err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{Logger: logger})
	if err != nil {
		return nil, err
	}
	rt := &runtime{pool: pool, audit: shared.NewAuditLogger(pool)}

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
	if err != nil {
		// Without redis the ledger still runs: no snapshot cache and no cross-process locks.
		logger.Warn("redis unavailable", slog.Any("error", err))
	} else {
		rt.redis = redisClient
	}

	service := accounting.NewService(accounting.NewRepository(pool), rt.audit, logger)
	service.WithRetry(accounting.RetryPolicy{
		MaxRetries:      cfg.LedgerPostMaxRetries,
		InitialInterval: cfg.LedgerRetryInitial,
		MaxInterval:     cfg.LedgerRetryMax,
	})
	if rt.redis != nil {
		service.WithLocker(shared.NewLocker(rt.redis, cfg.LedgerLockTTL))
		service.WithCache(balances.NewCache(rt.redis, cfg.LedgerBalanceCacheTTL))
	}
	service.WithMetrics(accounting.NewMetrics(metrics.Registerer()))
	rt.service = service
	return rt, nil
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics()
	rt, err := connect(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer rt.Close(logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	readiness := map[string]app.Pinger{"postgres": rt.pool}
	if rt.redis != nil {
		readiness["redis"] = cache.Health{Client: rt.redis}
	}

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		LedgerHandler: accounting.NewHandler(logger, rt.service, shared.NewIdempotencyStore(rt.pool)),
		AuditHandler:  audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(rt.pool))),
		JobHandler:    jobs.NewHandler(inspector, logger),
		Metrics:       metrics,
		Readiness:     readiness,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func maintain(ctx context.Context, command string, args cli.PeriodArgs, cfg *app.Config, logger *slog.Logger) error {
	rt, err := connect(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer rt.Close(logger)

	ledger := cli.NewLedgerCLI(rt.service, os.Stdout)
	switch command {
	case "close-period":
		return ledger.ClosePeriod(ctx, args)
	case "rebuild-period":
		return ledger.RebuildPeriod(ctx, args)
	}
	if args.PeriodID > 0 {
		return ledger.Integrity(ctx, args)
	}
	list, err := rt.service.ListPeriods(ctx, shared.TenantScope{CompanyID: args.CompanyID, ActorID: args.ActorID})
	if err != nil {
		return err
	}
	var errs []error
	for _, period := range list {
		args.PeriodID = period.ID
		if err := ledger.Integrity(ctx, args); err != nil {
			errs = append(errs, fmt.Errorf("period %d: %w", period.ID, err))
		}
	}
	return errors.Join(errs...)
}
