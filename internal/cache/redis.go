// Package cache provides a Redis-backed cache for analysis results, keyed
// by document hash and pattern snapshot version.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raaihank/ad-sentinel/internal/engine"
)

// ResultCache implements engine.ResultCache on Redis. Cache failures are
// logged and treated as misses; they never fail an analysis.
type ResultCache struct {
	client *redis.Client
	config *Config
	logger *zap.Logger
	hits   int64
	misses int64
}

// NewResultCache connects to Redis and verifies the connection.
func NewResultCache(config *Config, logger *zap.Logger) (*ResultCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = config.MaxConnections
	opts.MinIdleConns = config.MinIdleConns

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if config.DefaultTTL <= 0 {
		config.DefaultTTL = time.Hour
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "adsentinel"
	}

	logger.Info("Result cache initialized",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Duration("default_ttl", config.DefaultTTL))

	return &ResultCache{client: client, config: config, logger: logger}, nil
}

// Get fetches a cached output. A missing, expired, or corrupted entry is a
// miss; corrupted entries are evicted.
func (c *ResultCache) Get(ctx context.Context, key string) (*engine.Output, bool) {
	data, err := c.client.Get(ctx, c.prefixed(key)).Result()
	if err == redis.Nil {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	} else if err != nil {
		c.logger.Warn("Cache lookup failed", zap.Error(err))
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	var out engine.Output
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		c.logger.Warn("Evicting corrupted cache entry", zap.String("key", key), zap.Error(err))
		c.client.Del(ctx, c.prefixed(key))
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	atomic.AddInt64(&c.hits, 1)
	return &out, true
}

// Set stores an output with the default TTL. Failures are logged only.
func (c *ResultCache) Set(ctx context.Context, key string, out *engine.Output) {
	data, err := json.Marshal(out)
	if err != nil {
		c.logger.Warn("Failed to marshal output for caching", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, c.prefixed(key), data, c.config.DefaultTTL).Err(); err != nil {
		c.logger.Warn("Failed to cache analysis output", zap.Error(err))
	}
}

// Stats returns hit/miss counters and the current key count.
func (c *ResultCache) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}
	keys, err := c.client.DBSize(ctx).Result()
	if err != nil {
		return stats, fmt.Errorf("failed to read key count: %w", err)
	}
	stats.TotalKeys = keys
	return stats, nil
}

// Clear removes all cached analysis results under this cache's prefix.
func (c *ResultCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.config.KeyPrefix+":*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	const batchSize = 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		if err := c.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	c.logger.Info("Result cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection.
func (c *ResultCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *ResultCache) prefixed(key string) string {
	return c.config.KeyPrefix + ":" + key
}

// maskRedisURL hides credentials in the Redis URL for logging.
func maskRedisURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	scheme := strings.Index(url, "://")
	if scheme < 0 {
		return url
	}
	return url[:scheme+3] + "***" + url[at:]
}
