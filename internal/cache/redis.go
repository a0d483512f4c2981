// Package cache shares importance scores across processes through Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/midnight-learners/generative-agents/internal/memory"
)

const keyPrefix = "genagents:importance:"

// ImportanceCache is a write-once Redis cache of importance scores.
// The first score written for a record wins.
type ImportanceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ memory.ImportanceCache = (*ImportanceCache)(nil)

// New wraps an existing client. ttl 0 keeps entries forever.
func New(rdb *redis.Client, ttl time.Duration) *ImportanceCache {
	return &ImportanceCache{rdb: rdb, ttl: ttl}
}

// Dial parses redisURL, pings the server and returns a cache.
func Dial(ctx context.Context, redisURL string, ttl time.Duration) (*ImportanceCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(rdb, ttl), nil
}

// Get returns the cached score for id, if any.
func (c *ImportanceCache) Get(ctx context.Context, id string) (float64, bool, error) {
	v, err := c.rdb.Get(ctx, keyPrefix+id).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get importance %s: %w", id, err)
	}
	return v, true, nil
}

// Put stores score unless id already has one, and returns the stored value.
func (c *ImportanceCache) Put(ctx context.Context, id string, score float64) (float64, error) {
	key := keyPrefix + id
	ok, err := c.rdb.SetNX(ctx, key, strconv.FormatFloat(score, 'g', -1, 64), c.ttl).Result()
	if err != nil {
		return 0, fmt.Errorf("put importance %s: %w", id, err)
	}
	if ok {
		return score, nil
	}
	stored, err := c.rdb.Get(ctx, key).Float64()
	if err != nil {
		return 0, fmt.Errorf("read back importance %s: %w", id, err)
	}
	return stored, nil
}

// Close closes the underlying client.
func (c *ImportanceCache) Close() error {
	return c.rdb.Close()
}
