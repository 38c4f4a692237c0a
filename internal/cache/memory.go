package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/sermonscribe/pkg/models"
)

type memoryEntry struct {
	value   []byte
	counter int64
	expires time.Time
}

// MemoryCache is the standalone-mode Cache. Expired entries are dropped lazily on read.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Ping(_ context.Context) error { return nil }

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &memoryEntry{value: slices.Clone(value), expires: c.expiry(ttl)}
	return nil
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.live(key)
	if e == nil || e.value == nil {
		return nil, false, nil
	}
	return slices.Clone(e.value), true, nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *MemoryCache) SetStatusSnapshot(ctx context.Context, snap models.StatusSnapshot, ttl time.Duration) error {
	return setSnapshot(ctx, c, snap, ttl)
}

func (c *MemoryCache) GetStatusSnapshot(ctx context.Context, contentID uuid.UUID) (*models.StatusSnapshot, bool, error) {
	return getSnapshot(ctx, c, contentID)
}

// IncrWithExpiry mirrors the Redis pipeline: every increment refreshes the expiry.
func (c *MemoryCache) IncrWithExpiry(_ context.Context, key string, expiry time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.live(key)
	if e == nil {
		e = &memoryEntry{}
		c.entries[key] = e
	}
	e.counter++
	e.expires = c.expiry(expiry)
	return e.counter, nil
}

// live must be called with c.mu held.
func (c *MemoryCache) live(key string) *memoryEntry {
	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		delete(c.entries, key)
		return nil
	}
	return e
}

func (c *MemoryCache) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(ttl)
}

var _ Cache = (*MemoryCache)(nil)
