package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ms-coupons/internal/logger"
	"ms-coupons/internal/models"

	"github.com/go-redis/redis/v8"
)

// StatsKeyPrefix namespaces cached usage statistics by coupon id.
const StatsKeyPrefix = "coupon_stats:"

// StatsCache keeps computed usage statistics in Redis for a short TTL.
type StatsCache struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewStatsCache(client *redis.Client, ttl time.Duration) *StatsCache {
	return &StatsCache{Client: client, TTL: ttl}
}

// Connect creates a Redis client and checks it answers a ping.
func Connect(ctx context.Context, addr string, log *logger.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		PoolSize: 10,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	log.Info("REDIS", fmt.Sprintf("Connected to Redis at %s (DB: %d)", addr, client.Options().DB))
	return client, nil
}

func statsKey(couponID string) string {
	return StatsKeyPrefix + couponID
}

// Get returns nil, nil on a cache miss.
func (c *StatsCache) Get(ctx context.Context, couponID string) (*models.UsageStats, error) {
	raw, err := c.Client.Get(ctx, statsKey(couponID)).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get stats from Redis: %w", err)
	}

	var stats models.UsageStats
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached stats: %w", err)
	}
	return &stats, nil
}

func (c *StatsCache) Set(ctx context.Context, stats *models.UsageStats) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}
	if err := c.Client.Set(ctx, statsKey(stats.CouponID), raw, c.TTL).Err(); err != nil {
		return fmt.Errorf("failed to store stats in Redis: %w", err)
	}
	return nil
}

func (c *StatsCache) Invalidate(ctx context.Context, couponID string) error {
	return c.Client.Del(ctx, statsKey(couponID)).Err()
}
