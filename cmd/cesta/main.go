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

	"github.com/hibiken/asynq"

	"github.com/cesta-solidaria/cesta/cmd/cesta/cli"
	"github.com/cesta-solidaria/cesta/internal/app"
	"github.com/cesta-solidaria/cesta/internal/distribution"
	"github.com/cesta-solidaria/cesta/internal/families"
	"github.com/cesta-solidaria/cesta/internal/observability"
	"github.com/cesta-solidaria/cesta/internal/platform/cache"
	"github.com/cesta-solidaria/cesta/internal/platform/db"
	"github.com/cesta-solidaria/cesta/internal/rbac"
	"github.com/cesta-solidaria/cesta/internal/shared"
	"github.com/cesta-solidaria/cesta/internal/stock"
	"github.com/cesta-solidaria/cesta/jobs"
)

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

	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	var code int
	switch cmd {
	case "serve":
		code = serve(ctx, stop, cfg, logger)
	case "migrate":
		code = migrate(ctx, cfg, logger, args)
	case "jobs":
		jobsCLI := cli.NewJobsCLI(redisOpts(cfg), cfg.IdempotencyRetention)
		code = jobsCLI.Run(ctx, args, os.Stdout, os.Stderr)
		if err := jobsCLI.Close(); err != nil {
			logger.Warn("jobs cli close", slog.Any("error", err))
		}
	default:
		fmt.Fprintf(os.Stderr, "usage: cesta [serve|migrate [status]|jobs <reconcile|cleanup|stats>]\n")
		code = 2
	}
	stop()
	os.Exit(code)
}

func redisOpts(cfg *app.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}

func migrate(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()

	if len(args) > 0 && args[0] == "status" {
		err = db.MigrationStatus(ctx, pool)
	} else {
		err = db.Migrate(ctx, pool)
	}
	if err != nil {
		logger.Error("migrate", slog.Any("error", err))
		return 1
	}
	logger.Info("migrations done")
	return 0
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) int {
	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer dbpool.Close()

	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx, dbpool); err != nil {
			logger.Error("migrate on start", slog.Any("error", err))
			return 1
		}
	}

	metrics := observability.NewMetrics()
	runner := db.NewRunner(dbpool, cfg.TxMaxRetries)
	runner.OnConflict(func(code string) {
		logger.Debug("transaction retried", slog.String("sqlstate", code))
	})

	// Display reads fall back to live queries when Redis is unavailable.
	var snapshot *cache.Snapshot
	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Warn("redis unavailable, snapshot cache disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		snapshot = cache.NewSnapshot(redisClient, "cesta:stock", cfg.SnapshotCacheTTL)
	}

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	stockService := stock.NewService(stock.NewRepository(dbpool, runner), auditLogger, snapshotCache(snapshot), metrics.Ledger(), logger)
	familyService := families.NewService(families.NewRepository(dbpool, runner), auditLogger, logger)
	deliveryService := distribution.NewService(
		distribution.NewRepository(dbpool, runner),
		auditLogger,
		distribution.NewCalendar(cfg.Location()),
		metrics.Ledger(),
		invalidator(snapshot),
		logger,
	)

	inspector := asynq.NewInspector(redisOpts(cfg))
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		RBACMiddleware:      rbac.Middleware{Logger: logger},
		StockHandler:        stock.NewHandler(logger, stockService, idempotencyStore),
		DistributionHandler: distribution.NewHandler(logger, deliveryService, idempotencyStore),
		FamiliesHandler:     families.NewHandler(logger, familyService),
		JobHandler:          jobs.NewHandler(inspector, logger),
		Database:            dbpool,
		Metrics:             metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
		IdleTimeout:  cfg.AppIdleTimeout,
	}

	go func() {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.String("calendar_timezone", cfg.Location().String()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
		return 1
	}
	return 0
}

// snapshotCache and invalidator keep a disabled cache a nil interface.
func snapshotCache(s *cache.Snapshot) stock.SnapshotCache {
	if s == nil {
		return nil
	}
	return s
}

func invalidator(s *cache.Snapshot) distribution.Invalidator {
	if s == nil {
		return nil
	}
	return s
}
