// Package dedup provides envelope-id idempotency tracking.
// Delivery is at-least-once; consumers use a Deduper to discard envelopes
// they have already processed.
package dedup

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Deduper records envelope ids and reports whether an id was seen before.
// Seen is atomic record-and-test: the first call for an id returns false,
// every later call within the TTL returns true. Forget releases an id whose
// envelope was not actually processed, so the sender's retry is accepted.
type Deduper interface {
	Seen(ctx context.Context, envelopeID string) (bool, error)
	Forget(ctx context.Context, envelopeID string) error
	Close() error
}

// =============================================================================
// Redis-backed deduper (shared across restarts and instances)
// =============================================================================

type redisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper connects to Redis and verifies the connection.
func NewRedisDeduper(redisURL string, poolSize int, ttl time.Duration) (Deduper, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if poolSize > 0 {
		opt.PoolSize = poolSize
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &redisDeduper{client: client, ttl: ttl}, nil
}

func (d *redisDeduper) Seen(ctx context.Context, envelopeID string) (bool, error) {
	// SET NX returns false when the key already existed.
	set, err := d.client.SetNX(ctx, "dedup:"+envelopeID, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return !set, nil
}

func (d *redisDeduper) Forget(ctx context.Context, envelopeID string) error {
	if err := d.client.Del(ctx, "dedup:"+envelopeID).Err(); err != nil {
		return fmt.Errorf("dedup release failed: %w", err)
	}
	return nil
}

func (d *redisDeduper) Close() error {
	return d.client.Close()
}

// =============================================================================
// In-process deduper (single-instance deployments and tests)
// =============================================================================

type memoryDeduper struct {
	cache *gocache.Cache
}

// NewMemoryDeduper returns a process-local deduper with the given TTL.
func NewMemoryDeduper(ttl time.Duration) Deduper {
	return &memoryDeduper{
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (d *memoryDeduper) Seen(_ context.Context, envelopeID string) (bool, error) {
	// Add fails when the id is already cached and unexpired.
	if err := d.cache.Add(envelopeID, struct{}{}, gocache.DefaultExpiration); err != nil {
		return true, nil
	}
	return false, nil
}

func (d *memoryDeduper) Forget(_ context.Context, envelopeID string) error {
	d.cache.Delete(envelopeID)
	return nil
}

func (d *memoryDeduper) Close() error {
	d.cache.Flush()
	return nil
}
