package ranking

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leveling_rank_cache_hits_total",
		Help: "Leaderboard reads served from the cache.",
	}, []string{"scope"})
	cacheMiss = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leveling_rank_cache_miss_total",
		Help: "Leaderboard reads loaded from the store.",
	}, []string{"scope"})
)

// Cache holds short-lived JSON snapshots of leaderboard pages in Redis.
// Redis errors degrade to a store read; the cache never feeds a write.
type Cache struct {
	rdb   *redis.Client
	ttl   time.Duration
	group singleflight.Group
}

func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

func (c *Cache) set(ctx context.Context, key string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		zap.L().Warn("rank cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
		zap.L().Warn("rank cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// cached returns the snapshot under key, loading it once per key on a miss.
func cached[T any](ctx context.Context, c *Cache, scope, key string, load func(context.Context) (T, error)) (T, error) {
	if c == nil {
		return load(ctx)
	}

	b, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var v T
		if jsonErr := json.Unmarshal(b, &v); jsonErr == nil {
			cacheHits.WithLabelValues(scope).Inc()
			return v, nil
		}
	case !errors.Is(err, redis.Nil):
		zap.L().Warn("rank cache read failed", zap.String("key", key), zap.Error(err))
	}
	cacheMiss.WithLabelValues(scope).Inc()

	v, err, _ := c.group.Do(key, func() (any, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, v)
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
