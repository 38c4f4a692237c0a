// Package cache holds the Redis-backed read-through cache for status snapshots
// and the counters used by rate limiting.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/sermonscribe/pkg/models"
	"github.com/redis/go-redis/v9"
)

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	SetStatusSnapshot(ctx context.Context, snap models.StatusSnapshot, ttl time.Duration) error
	GetStatusSnapshot(ctx context.Context, contentID uuid.UUID) (*models.StatusSnapshot, bool, error)
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisClient parses a Redis URL into a client shared by the cache, the
// queue broker, and the event relay.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) SetStatusSnapshot(ctx context.Context, snap models.StatusSnapshot, ttl time.Duration) error {
	return setSnapshot(ctx, c, snap, ttl)
}

func (c *RedisCache) GetStatusSnapshot(ctx context.Context, contentID uuid.UUID) (*models.StatusSnapshot, bool, error) {
	return getSnapshot(ctx, c, contentID)
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

type byteStore interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
}

func setSnapshot(ctx context.Context, c byteStore, snap models.StatusSnapshot, ttl time.Duration) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal status snapshot: %w", err)
	}
	return c.Set(ctx, StatusSnapshotKey(snap.ContentID), data, ttl)
}

func getSnapshot(ctx context.Context, c byteStore, contentID uuid.UUID) (*models.StatusSnapshot, bool, error) {
	data, found, err := c.Get(ctx, StatusSnapshotKey(contentID))
	if err != nil || !found {
		return nil, false, err
	}
	var snap models.StatusSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// A corrupt entry is a miss; the caller falls back to the store.
		return nil, false, nil
	}
	return &snap, true, nil
}

// Compile-time check that RedisCache implements Cache.
var _ Cache = (*RedisCache)(nil)
