// Package main is the entrypoint for a sermonscribe pipeline worker. Workers
// claim jobs from the Redis queue, run them against Postgres, and publish
// progress events for the API servers to fan out.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/sermonscribe/internal/broadcast"
	"github.com/kiranshivaraju/sermonscribe/internal/cache"
	"github.com/kiranshivaraju/sermonscribe/internal/config"
	"github.com/kiranshivaraju/sermonscribe/internal/pipeline"
	"github.com/kiranshivaraju/sermonscribe/internal/queue"
	"github.com/kiranshivaraju/sermonscribe/internal/store"
	"golang.org/x/sync/errgroup"
)

var errStandalone = errors.New("the worker needs Postgres and Redis; standalone mode runs the pipeline inside the server")

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	loadDotEnv(godotenv.Load)

	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Server.Standalone {
		return errStandalone
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "analysis_provider", cfg.Analysis.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database, "sermonscribe-worker")
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	client, err := cache.NewRedisClient(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis client: %w", err)
	}
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	st := store.NewPostgresStore(pool)
	snapshots := cache.NewRedisCache(client)
	broker := queue.NewRedisBroker(client, cfg.Redis.QueueKey)
	relay := broadcast.NewRedisRelay(client, cfg.Redis.EventsChannel, cfg.Pipeline.SubscriberBuffer)
	svc := queue.NewService(st, broker)

	deps, err := pipeline.NewDependencies(cfg, st, relay, snapshots)
	if err != nil {
		return err
	}
	runner := pipeline.NewRunner(svc, pipeline.NewMachine(deps), st, cfg)
	reconciler := queue.NewReconciler(st, broker,
		cfg.Pipeline.ReconcileInterval, cfg.Pipeline.ReconcileThreshold, cfg.Pipeline.StuckThreshold)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error { return reconciler.Run(gctx) })
	g.Go(func() error {
		watchReload(gctx, func() { reload(runner, st, relay, snapshots) })
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("worker stopped")
	return nil
}

// watchReload calls fn on every SIGHUP until ctx is done.
func watchReload(ctx context.Context, fn func()) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			fn()
		}
	}
}

// loadDotEnv applies .env from the working directory with load. A missing
// file is fine.
func loadDotEnv(load func(filenames ...string) error) {
	if err := load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not read .env", "error", err)
	}
}

// reload re-reads .env over the current environment and hands the runner a
// new configuration and stage set. An invalid configuration is logged and
// ignored.
func reload(runner *pipeline.Runner, st store.Store, events broadcast.Publisher, c cache.Cache) {
	loadDotEnv(godotenv.Overload)
	cfg, err := config.Load()
	if err != nil {
		slog.Error("reload rejected", "error", err)
		return
	}
	deps, err := pipeline.NewDependencies(cfg, st, events, c)
	if err != nil {
		slog.Error("reload rejected", "error", err)
		return
	}
	runner.Reload(cfg, pipeline.NewMachine(deps))
	slog.Info("reload scheduled", "analysis_provider", cfg.Analysis.Provider)
}
