// Package main is the entrypoint for the sermonscribe API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/sermonscribe/internal/api"
	"github.com/kiranshivaraju/sermonscribe/internal/api/handler"
	mw "github.com/kiranshivaraju/sermonscribe/internal/api/middleware"
	"github.com/kiranshivaraju/sermonscribe/internal/broadcast"
	"github.com/kiranshivaraju/sermonscribe/internal/cache"
	"github.com/kiranshivaraju/sermonscribe/internal/config"
	"github.com/kiranshivaraju/sermonscribe/internal/pipeline"
	"github.com/kiranshivaraju/sermonscribe/internal/queue"
	"github.com/kiranshivaraju/sermonscribe/internal/store"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not read .env", "error", err)
	}

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// infra is the set of backends the server runs against.
type infra struct {
	store     store.Store
	cache     cache.Cache
	broker    queue.Broker
	publisher broadcast.Publisher
	close     func()
}

func run() error {
	// 1. Load config, failing fast when invalid
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"standalone", cfg.Server.Standalone,
		"inline_worker", cfg.Server.InlineWorker,
		"analysis_provider", cfg.Analysis.Provider,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	events := broadcast.NewManager(cfg.Pipeline.SubscriberBuffer, cfg.Pipeline.HeartbeatInterval)

	// 2. Connect backends
	var inf *infra
	if cfg.Server.Standalone {
		inf = standaloneInfra(events)
		slog.Info("running standalone with in-memory store, queue, and events")
	} else {
		inf, err = connectInfra(ctx, cfg, g, gctx, events)
		if err != nil {
			return err
		}
	}
	defer inf.close()

	// 3. Seed the admin key
	if cfg.Auth.AdminAPIKey != "" {
		if err := mw.BootstrapKey(ctx, inf.store, "admin", cfg.Auth.AdminAPIKey, []string{mw.ScopeAdmin}); err != nil {
			return fmt.Errorf("bootstrap admin key: %w", err)
		}
	}

	svc := queue.NewService(inf.store, inf.broker)

	// 4. Background loops
	var runner *pipeline.Runner
	if cfg.Server.InlineWorker {
		deps, err := pipeline.NewDependencies(cfg, inf.store, inf.publisher, inf.cache)
		if err != nil {
			return err
		}
		runner = pipeline.NewRunner(svc, pipeline.NewMachine(deps), inf.store, cfg)
	}

	g.Go(func() error { return events.Run(gctx) })
	if runner != nil {
		reconciler := queue.NewReconciler(inf.store, inf.broker,
			cfg.Pipeline.ReconcileInterval, cfg.Pipeline.ReconcileThreshold, cfg.Pipeline.StuckThreshold)
		g.Go(func() error { return runner.Run(gctx) })
		g.Go(func() error { return reconciler.Run(gctx) })
		slog.Info("inline worker started")
	}

	// 5. Build router with dependencies
	router := api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(inf.store),
		RateLimit: mw.NewRateLimit(inf.cache, cfg.Auth.RequestsPerMinute),

		HealthHandler: handler.NewHealthHandler(map[string]handler.Pinger{
			"database": inf.store,
			"cache":    inf.cache,
		}),
		EnqueueHandler:   handler.NewEnqueueHandler(svc),
		ReanalyzeHandler: handler.NewReanalyzeHandler(svc),
		GetJobHandler:    handler.NewGetJobHandler(inf.store),
		StatusHandler:    handler.NewContentStatusHandler(inf.store, inf.cache),
		EventsHandler:    handler.NewEventsHandler(events),
		StuckJobsHandler: handler.NewStuckJobsHandler(inf.store, cfg.Pipeline.StuckThreshold),
		CreateKeyHandler: handler.NewCreateKeyHandler(inf.store),
	})

	// 6. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown with timeout
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, draining connections...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server stopped gracefully")
	return nil
}

func standaloneInfra(events *broadcast.Manager) *infra {
	return &infra{
		store:     store.NewMemoryStore(),
		cache:     cache.NewMemoryCache(),
		broker:    queue.NewMemoryBroker(),
		publisher: events,
		close:     func() {},
	}
}

// connectInfra opens Postgres and Redis and starts the relay that feeds
// worker events into the local manager.
func connectInfra(ctx context.Context, cfg *config.Config, g *errgroup.Group, gctx context.Context, events *broadcast.Manager) (*infra, error) {
	pool, err := store.Connect(ctx, cfg.Database, "sermonscribe-server")
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	slog.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	client, err := cache.NewRedisClient(cfg.Redis.URL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create redis client: %w", err)
	}
	if err := client.Ping(ctx).Err(); err != nil {
		pool.Close()
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	relay := broadcast.NewRedisRelay(client, cfg.Redis.EventsChannel, cfg.Pipeline.SubscriberBuffer)
	g.Go(func() error { return relay.Forward(gctx, events) })
	if cfg.Server.InlineWorker {
		g.Go(func() error { return relay.Run(gctx) })
	}

	return &infra{
		store:     store.NewPostgresStore(pool),
		cache:     cache.NewRedisCache(client),
		broker:    queue.NewRedisBroker(client, cfg.Redis.QueueKey),
		publisher: relay,
		close: func() {
			_ = client.Close()
			pool.Close()
		},
	}, nil
}
