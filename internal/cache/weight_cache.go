package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/irfndi/adaptive-ensemble/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// WeightCacheEntry represents a cached weight vector with metadata
type WeightCacheEntry struct {
	Weights  models.WeightVector `json:"weights"`
	CachedAt time.Time           `json:"cached_at"`
}

// WeightCacheStats tracks cache performance metrics
type WeightCacheStats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Sets          int64 `json:"sets"`
	Invalidations int64 `json:"invalidations"`
	Stale         int64 `json:"stale"`
	Errors        int64 `json:"errors"`
}

var errStaleGeneration = errors.New("weight cache generation moved")

// RedisWeightCache is a read-through cache of computed weight vectors. It is
// never authoritative: entries are rebuilt from model stats on a miss and
// dropped whenever a resolution lands for their key.
//
// Each key carries a generation counter that Invalidate increments. A writer
// reads the generation before loading stats and Set only stores the vector
// if the generation is unchanged, so a vector computed from stats that
// predate a resolution is never cached.
type RedisWeightCache struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
	logger *logrus.Logger

	mu    sync.RWMutex
	stats WeightCacheStats
}

// NewRedisWeightCache creates a new Redis-based weight cache
func NewRedisWeightCache(redisClient *redis.Client, ttl time.Duration, logger *logrus.Logger) *RedisWeightCache {
	if logger == nil {
		logger = logrus.New()
	}
	return &RedisWeightCache{
		redis:  redisClient,
		ttl:    ttl,
		prefix: "weights:",
		logger: logger,
	}
}

func (c *RedisWeightCache) key(instrument, timeframe string) string {
	return c.prefix + instrument + ":" + timeframe
}

func (c *RedisWeightCache) generationKey(instrument, timeframe string) string {
	return "weightgen:" + instrument + ":" + timeframe
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readGeneration(ctx context.Context, r getter, key string) (int64, error) {
	gen, err := r.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Generation returns the invalidation count of a key. Pass it to Set.
func (c *RedisWeightCache) Generation(ctx context.Context, instrument, timeframe string) (int64, error) {
	gen, err := readGeneration(ctx, c.redis, c.generationKey(instrument, timeframe))
	if err != nil {
		c.count(func(s *WeightCacheStats) { s.Errors++ })
		return 0, fmt.Errorf("failed to read weight generation: %w", err)
	}
	return gen, nil
}

// Get returns the cached weights for a key. A miss is (nil, false, nil).
func (c *RedisWeightCache) Get(ctx context.Context, instrument, timeframe string) (models.WeightVector, bool, error) {
	data, err := c.redis.Get(ctx, c.key(instrument, timeframe)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.count(func(s *WeightCacheStats) { s.Misses++ })
		return nil, false, nil
	}
	if err != nil {
		c.count(func(s *WeightCacheStats) { s.Errors++ })
		return nil, false, fmt.Errorf("failed to read cached weights: %w", err)
	}

	var entry WeightCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// A corrupt entry behaves like a miss and is rebuilt on the next Set.
		c.logger.WithError(err).WithField("key", c.key(instrument, timeframe)).Warn("Discarding undecodable weight cache entry")
		c.count(func(s *WeightCacheStats) { s.Misses++ })
		return nil, false, nil
	}

	c.count(func(s *WeightCacheStats) { s.Hits++ })
	return entry.Weights, true, nil
}

// Set stores weights for a key with the configured TTL if the key is still at
// generation. It reports false without an error when an invalidation won.
func (c *RedisWeightCache) Set(ctx context.Context, instrument, timeframe string, generation int64, weights models.WeightVector) (bool, error) {
	data, err := json.Marshal(WeightCacheEntry{Weights: weights, CachedAt: time.Now().UTC()})
	if err != nil {
		return false, fmt.Errorf("failed to encode weights: %w", err)
	}

	key := c.key(instrument, timeframe)
	genKey := c.generationKey(instrument, timeframe)

	err = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readGeneration(ctx, tx, genKey)
		if err != nil {
			return err
		}
		if current != generation {
			return errStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, c.ttl)
			return nil
		})
		return err
	}, genKey)

	switch {
	case errors.Is(err, errStaleGeneration), errors.Is(err, redis.TxFailedErr):
		c.count(func(s *WeightCacheStats) { s.Stale++ })
		c.logger.WithFields(logrus.Fields{
			"key":        key,
			"generation": generation,
		}).Debug("Skipping weight cache write after invalidation")
		return false, nil
	case err != nil:
		c.count(func(s *WeightCacheStats) { s.Errors++ })
		return false, fmt.Errorf("failed to cache weights: %w", err)
	}

	c.count(func(s *WeightCacheStats) { s.Sets++ })
	return true, nil
}

// Invalidate drops the cached weights for a key and advances its generation.
func (c *RedisWeightCache) Invalidate(ctx context.Context, instrument, timeframe string) error {
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.generationKey(instrument, timeframe))
		pipe.Del(ctx, c.key(instrument, timeframe))
		return nil
	})
	if err != nil {
		c.count(func(s *WeightCacheStats) { s.Errors++ })
		return fmt.Errorf("failed to invalidate weights: %w", err)
	}
	c.count(func(s *WeightCacheStats) { s.Invalidations++ })
	return nil
}

// Clear removes every cached weight vector.
func (c *RedisWeightCache) Clear(ctx context.Context) error {
	var keys []string
	iter := c.redis.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("error scanning cache keys: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("error clearing cache: %w", err)
	}

	c.logger.WithField("entries", len(keys)).Info("Cleared weight cache")
	return nil
}

// GetStats returns current cache statistics
func (c *RedisWeightCache) GetStats() WeightCacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// LogStats logs current cache performance statistics
func (c *RedisWeightCache) LogStats() {
	stats := c.GetStats()
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}

	c.logger.WithFields(logrus.Fields{
		"hits":          stats.Hits,
		"misses":        stats.Misses,
		"sets":          stats.Sets,
		"invalidations": stats.Invalidations,
		"stale":         stats.Stale,
		"errors":        stats.Errors,
		"hit_rate":      fmt.Sprintf("%.2f%%", hitRate),
	}).Info("Weight cache stats")
}

func (c *RedisWeightCache) count(fn func(*WeightCacheStats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}
