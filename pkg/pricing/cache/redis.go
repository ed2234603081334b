package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/pricing/sources"
)

// redisKeyPrefix namespaces cache entries in a shared Redis instance.
const redisKeyPrefix = "chainhopper:price:"

// Redis is a Redis-backed cache with the same semantics as Memory: the TTL
// is supplied per Put and expiry is handled natively by Redis.
type Redis struct {
	client *redis.Client
}

var _ Cache = (*Redis)(nil)

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Redis{client: client}, nil
}

// Get returns the cached result if present; Redis drops expired keys itself.
func (r *Redis) Get(ctx context.Context, key sources.Key) (sources.Result, bool) {
	data, err := r.client.Get(ctx, redisKeyPrefix+key.String()).Bytes()
	if err != nil {
		return sources.Result{}, false
	}

	var result sources.Result
	if err := json.Unmarshal(data, &result); err != nil {
		// A corrupt entry behaves like a miss; the next Put replaces it.
		return sources.Result{}, false
	}
	return result, true
}

// Put stores a result under the key with a native Redis TTL.
func (r *Redis) Put(ctx context.Context, key sources.Key, result sources.Result, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	_ = r.client.Set(ctx, redisKeyPrefix+key.String(), data, ttl).Err()
}

// Invalidate removes one entry.
func (r *Redis) Invalidate(ctx context.Context, key sources.Key) {
	_ = r.client.Del(ctx, redisKeyPrefix+key.String()).Err()
}

// InvalidateAll removes every entry under the cache prefix.
func (r *Redis) InvalidateAll(ctx context.Context) {
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		_ = r.client.Del(ctx, iter.Val()).Err()
	}
}

// Stats reports live entries and their remaining TTLs via SCAN+TTL.
func (r *Redis) Stats(ctx context.Context) Stats {
	remaining := make(map[string]time.Duration)

	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		fullKey := iter.Val()
		ttl, err := r.client.TTL(ctx, fullKey).Result()
		if err != nil || ttl <= 0 {
			continue
		}
		remaining[strings.TrimPrefix(fullKey, redisKeyPrefix)] = ttl
	}

	return Stats{
		Size:         len(remaining),
		RemainingTTL: remaining,
	}
}

// Close releases the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
