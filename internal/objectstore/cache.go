package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// StatsCache memoises folder statistics. Implementations must be safe for
// concurrent use and treat every failure as a miss.
type StatsCache interface {
	Get(ctx context.Context, folder string) (Stats, bool)
	Set(ctx context.Context, folder string, s Stats)
	Invalidate(ctx context.Context, folder string)
}

const statsKeyPrefix = "sftpadmin:folder-stats:"

// RedisStatsCache stores statistics in redis with a fixed TTL.
type RedisStatsCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

// NewRedisStatsCache connects to url (redis://...) and verifies the connection.
func NewRedisStatsCache(ctx context.Context, url string, ttl time.Duration, log *slog.Logger) (*RedisStatsCache, error) {
	if ttl <= 0 {
		return nil, errors.New("stats cache ttl must be positive")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opt.PoolSize = 10
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return newRedisStatsCache(rdb, ttl, log), nil
}

func newRedisStatsCache(rdb *redis.Client, ttl time.Duration, log *slog.Logger) *RedisStatsCache {
	if log == nil {
		log = slog.Default()
	}
	return &RedisStatsCache{rdb: rdb, ttl: ttl, log: log}
}

func (c *RedisStatsCache) Get(ctx context.Context, folder string) (Stats, bool) {
	b, err := c.rdb.Get(ctx, statsKeyPrefix+folder).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("folder stats cache read failed", "folder", folder, "err", err)
		}
		return Stats{}, false
	}
	var s Stats
	if err := json.Unmarshal(b, &s); err != nil {
		return Stats{}, false
	}
	return s, true
}

func (c *RedisStatsCache) Set(ctx context.Context, folder string, s Stats) {
	b, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, statsKeyPrefix+folder, b, c.ttl).Err(); err != nil {
		c.log.Warn("folder stats cache write failed", "folder", folder, "err", err)
	}
}

func (c *RedisStatsCache) Invalidate(ctx context.Context, folder string) {
	if err := c.rdb.Del(ctx, statsKeyPrefix+folder).Err(); err != nil {
		c.log.Warn("folder stats cache invalidation failed", "folder", folder, "err", err)
	}
}

// Close releases the redis connection pool.
func (c *RedisStatsCache) Close() error { return c.rdb.Close() }
