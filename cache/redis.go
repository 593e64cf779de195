package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces cache keys in a shared Redis.
const DefaultRedisPrefix = "ytsheets:cache:"

// RedisBackend persists entries as JSON strings in Redis. Entries have no TTL;
// ETag revalidation decides freshness.
type RedisBackend struct {
	rdb    *redis.Client
	prefix string
}

// OpenRedis connects to the Redis server at url and verifies it with PING.
func OpenRedis(ctx context.Context, url, prefix string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: invalid redis URL: %w", err)
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("cache: redis connection failed: %w", err)
	}
	return &RedisBackend{rdb: rdb, prefix: prefix}, nil
}

func (b *RedisBackend) redisKey(key string) string {
	return b.prefix + key
}

func (b *RedisBackend) cacheKey(redisKey string) string {
	return strings.TrimPrefix(redisKey, b.prefix)
}

// Load implements Backend by scanning every key under the prefix.
func (b *RedisBackend) Load(ctx context.Context) (map[string]Entry, error) {
	out := make(map[string]Entry)
	iter := b.rdb.Scan(ctx, 0, b.prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		rk := iter.Val()
		data, err := b.rdb.Get(ctx, rk).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		e.Key = b.cacheKey(rk)
		out[e.Key] = e
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Store implements Backend.
func (b *RedisBackend) Store(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.rdb.Set(ctx, b.redisKey(e.Key), data, 0).Err()
}

// Close implements Backend.
func (b *RedisBackend) Close() error {
	return b.rdb.Close()
}
