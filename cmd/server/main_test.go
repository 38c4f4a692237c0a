package main

import (
	"context"
	"testing"
	"time"

	"github.com/kiranshivaraju/sermonscribe/internal/broadcast"
	"github.com/kiranshivaraju/sermonscribe/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── run() config validation tests ──────────────────────────────────────────

func TestRun_FailsOnMissingConfig(t *testing.T) {
	t.Setenv("SERMONSCRIBE_STANDALONE", "false")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRun_FailsOnInvalidProvider(t *testing.T) {
	t.Setenv("SERMONSCRIBE_STANDALONE", "true")
	t.Setenv("ANALYSIS_PROVIDER", "mystery")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRun_FailsOnInvalidDatabaseURL(t *testing.T) {
	t.Setenv("SERMONSCRIBE_STANDALONE", "false")
	t.Setenv("DATABASE_URL", "not a valid url ://")
	t.Setenv("REDIS_URL", "redis://localhost:6379")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect database")
}

// ─── standalone wiring ──────────────────────────────────────────────────────

func TestStandaloneInfra_PublishesToManager(t *testing.T) {
	events := broadcast.NewManager(4, time.Hour)
	inf := standaloneInfra(events)
	defer inf.close()

	require.NoError(t, inf.store.Ping(context.Background()))
	require.NoError(t, inf.cache.Ping(context.Background()))

	sub := events.Subscribe()
	defer events.Unsubscribe(sub)
	inf.publisher.Publish(models.HeartbeatEvent(time.Now()))

	select {
	case ev := <-sub.Events():
		assert.Equal(t, models.EventKindHeartbeat, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

// ─── shutdown timeout constant test ─────────────────────────────────────────

func TestShutdownTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, shutdownTimeout)
}
