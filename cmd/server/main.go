// Package main is the entrypoint for the PLC program ingestion API server.
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

	"github.com/c00lpeace/project-template-final/internal/api"
	"github.com/c00lpeace/project-template-final/internal/api/handler"
	mw "github.com/c00lpeace/project-template-final/internal/api/middleware"
	"github.com/c00lpeace/project-template-final/internal/api/response"
	"github.com/c00lpeace/project-template-final/internal/cache"
	"github.com/c00lpeace/project-template-final/internal/config"
	"github.com/c00lpeace/project-template-final/internal/events"
	"github.com/c00lpeace/project-template-final/internal/indexing"
	"github.com/c00lpeace/project-template-final/internal/metrics"
	"github.com/c00lpeace/project-template-final/internal/objectstore"
	"github.com/c00lpeace/project-template-final/internal/plc"
	"github.com/c00lpeace/project-template-final/internal/program"
	"github.com/c00lpeace/project-template-final/internal/store"
	"github.com/c00lpeace/project-template-final/internal/validator"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closeLog := config.SetupLogger(cfg.Log)
	defer closeLog()
	slog.SetDefault(logger)
	slog.Info("config loaded", "env", cfg.Server.Env, "indexer_mode", cfg.Indexer.Mode)

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
	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
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

	// 5. Object storage
	objects, err := objectstore.NewMinioGateway(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("create object store: %w", err)
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	slog.Info("object storage ready", "bucket", cfg.Storage.Bucket)

	// 6. Indexer transport and lifecycle events
	indexer, closeIndexer, err := newIndexer(cfg.Indexer)
	if err != nil {
		return fmt.Errorf("create indexer: %w", err)
	}
	defer closeIndexer()

	publisher := events.New(cfg.Kafka)
	defer publisher.Close()

	// 7. Services
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	rules, err := validator.LoadRules(cfg.Validation.RulesFile)
	if err != nil {
		return fmt.Errorf("load validation rules: %w", err)
	}

	pgStore := store.NewPostgresStore(pool)
	uploader := program.NewUploader(objects, indexer, rules, cfg.Pipeline.CommitChunkSize)
	programs := program.NewService(pgStore, redisCache, validator.New(rules), uploader, cfg.Pipeline,
		program.WithEvents(publisher),
		program.WithMetrics(m),
	)
	plcs := plc.NewService(pgStore)

	// 8. Build router with dependencies
	deps := api.Dependencies{
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMin),
		Metrics:   m.Middleware,

		HealthHandler:  healthHandler(map[string]pinger{"database": pgStore, "cache": redisCache, "storage": objects}),
		MetricsHandler: m.Handler(),

		RegisterHandler:      handler.NewRegisterHandler(programs, cfg.Server.MaxUploadBytes),
		ListProgramsHandler:  handler.NewListProgramsHandler(programs),
		GetProgramHandler:    handler.NewGetProgramHandler(programs),
		ProgramStatusHandler: handler.NewProgramStatusHandler(programs),
		RetryHandler:         handler.NewRetryHandler(programs),
		ListFailuresHandler:  handler.NewListFailuresHandler(programs),
		PLCTreeHandler:       handler.NewPLCTreeHandler(plcs),
		GetPLCHandler:        handler.NewGetPLCHandler(plcs),
	}
	if cfg.Server.AuthEnabled {
		deps.Auth = mw.NewAuth(pgStore)
	} else {
		slog.Warn("authentication disabled")
	}

	// 9. Serve until a signal arrives, then drain
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(deps),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return serve(ctx, srv, cfg.Server.ShutdownTimeout, programs.Wait)
}

// serve runs srv until ctx is done, then shuts it down and waits for drain
// (background pipelines) within timeout.
func serve(ctx context.Context, srv *http.Server, timeout time.Duration, drain func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, draining connections...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		if err := drain(shutdownCtx); err != nil {
			slog.Warn("background pipelines still running at shutdown", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server stopped gracefully")
	return nil
}

func newIndexer(cfg config.IndexerConfig) (indexing.Indexer, func() error, error) {
	if cfg.Mode == config.IndexerModeAMQP {
		p, err := indexing.NewAMQPPublisher(cfg.AMQPURL, cfg.Queue)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	}
	return indexing.NewHTTPClient(cfg.BaseURL, cfg.Timeout), func() error { return nil }, nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks the connectivity of every dependency in checks.
func healthHandler(deps map[string]pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := make(map[string]string, len(deps))
		degraded := false
		for name, dep := range deps {
			checks[name] = "ok"
			if err := dep.Ping(r.Context()); err != nil {
				slog.Warn("health check failed", "dependency", name, "error", err)
				checks[name] = "degraded"
				degraded = true
			}
		}

		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
