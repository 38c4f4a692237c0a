package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/sermonscribe/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemoryCache() (*MemoryCache, *time.Time) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }
	return c, &now
}

func TestMemoryCache_SetGetExpiry(t *testing.T) {
	c, now := newTestMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))
	val, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), val)

	*now = now.Add(2 * time.Second)
	_, found, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCache_Delete(t *testing.T) {
	c, _ := newTestMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, c.Delete(ctx, "k"))
	_, found, _ := c.Get(ctx, "k")
	assert.False(t, found)
}

func TestMemoryCache_IncrWithExpiry(t *testing.T) {
	c, now := newTestMemoryCache()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := c.IncrWithExpiry(ctx, "rl", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	*now = now.Add(2 * time.Minute)
	got, err := c.IncrWithExpiry(ctx, "rl", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestMemoryCache_StatusSnapshot(t *testing.T) {
	c, _ := newTestMemoryCache()
	ctx := context.Background()
	snap := models.StatusSnapshot{
		ContentID:       uuid.New(),
		Status:          models.ContentAnalyzed,
		ProgressPercent: 70,
		UpdatedAt:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	require.NoError(t, c.SetStatusSnapshot(ctx, snap, time.Minute))
	got, found, err := c.GetStatusSnapshot(ctx, snap.ContentID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, snap, *got)
}
