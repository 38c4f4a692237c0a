package main

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/kiranshivaraju/sermonscribe/internal/config"
	"github.com/kiranshivaraju/sermonscribe/internal/pipeline"
	"github.com/kiranshivaraju/sermonscribe/internal/queue"
	"github.com/kiranshivaraju/sermonscribe/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_FailsOnMissingConfig(t *testing.T) {
	t.Setenv("SERMONSCRIBE_STANDALONE", "false")
	t.Setenv("DATABASE_URL", "")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRun_RefusesStandalone(t *testing.T) {
	t.Setenv("SERMONSCRIBE_STANDALONE", "true")

	assert.ErrorIs(t, run(), errStandalone)
}

func TestWatchReload_CallsOnSIGHUP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		watchReload(ctx, func() { calls.Add(1) })
		close(done)
	}()

	// Give signal.Notify time to register before raising.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGHUP))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func newIdleRunner(t *testing.T) (*pipeline.Runner, *store.MemoryStore, *config.Config) {
	t.Helper()
	st := store.NewMemoryStore()
	cfg := &config.Config{
		Pipeline: config.PipelineConfig{DequeueTimeout: 10 * time.Millisecond},
		Analysis: config.AnalysisConfig{Provider: "ollama"},
	}
	return pipeline.NewRunner(queue.NewService(st, queue.NewMemoryBroker()), nil, st, cfg), st, cfg
}

func runBriefly(t *testing.T, runner *pipeline.Runner, until func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = runner.Run(ctx)
		close(done)
	}()
	require.Eventually(t, until, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestReload_AppliesValidConfig(t *testing.T) {
	runner, st, _ := newIdleRunner(t)

	t.Setenv("SERMONSCRIBE_STANDALONE", "true")
	t.Setenv("ANALYSIS_PROVIDER", "none")
	reload(runner, st, nil, nil)

	runBriefly(t, runner, func() bool { return runner.Config().Analysis.Provider == "none" })
}

func TestReload_IgnoresInvalidConfig(t *testing.T) {
	runner, st, cfg := newIdleRunner(t)

	t.Setenv("SERMONSCRIBE_STANDALONE", "true")
	t.Setenv("ANALYSIS_PROVIDER", "mystery")
	reload(runner, st, nil, nil)

	var loops atomic.Int32
	runBriefly(t, runner, func() bool { return loops.Add(1) > 5 })
	assert.Same(t, cfg, runner.Config())
}

func TestReload_PicksUpEditedDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	// Registered so the values written by .env are restored after the test.
	t.Setenv("SERMONSCRIBE_STANDALONE", "true")
	t.Setenv("ANALYSIS_PROVIDER", "ollama")
	t.Setenv("PIPELINE_DEQUEUE_TIMEOUT", "")

	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("ANALYSIS_PROVIDER=ollama\n"), 0o600))
	runner, st, _ := newIdleRunner(t)

	require.NoError(t, os.WriteFile(envFile, []byte("ANALYSIS_PROVIDER=none\nPIPELINE_DEQUEUE_TIMEOUT=20ms\n"), 0o600))
	reload(runner, st, nil, nil)

	runBriefly(t, runner, func() bool { return runner.Config().Analysis.Provider == "none" })
	assert.Equal(t, 20*time.Millisecond, runner.Config().Pipeline.DequeueTimeout)
}

func TestReload_WithoutDotEnvKeepsEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SERMONSCRIBE_STANDALONE", "true")
	t.Setenv("ANALYSIS_PROVIDER", "none")
	runner, st, _ := newIdleRunner(t)

	reload(runner, st, nil, nil)

	runBriefly(t, runner, func() bool { return runner.Config().Analysis.Provider == "none" })
}
