// internal/store/redisstore/redisstore.go
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"coopcredit/internal/capital"

	"github.com/redis/go-redis/v9"
)

// DefaultStatisticsKey is where portfolio statistics are cached.
const DefaultStatisticsKey = "coopcredit:statistics"

// Options configures the connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Connect opens a client and pings it.
func Connect(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// StatisticsCache keeps the last computed statistics in a single key.
type StatisticsCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewStatisticsCache caches under DefaultStatisticsKey for ttl.
func NewStatisticsCache(client *redis.Client, ttl time.Duration) *StatisticsCache {
	return &StatisticsCache{client: client, key: DefaultStatisticsKey, ttl: ttl}
}

// GetStatistics returns the cached value, reporting false on a miss.
func (c *StatisticsCache) GetStatistics(ctx context.Context) (*capital.BankingStatistics, bool, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read statistics: %w", err)
	}
	var stats capital.BankingStatistics
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, false, fmt.Errorf("failed to decode statistics: %w", err)
	}
	return &stats, true, nil
}

// SetStatistics stores stats until the TTL expires or the next invalidation.
func (c *StatisticsCache) SetStatistics(ctx context.Context, stats *capital.BankingStatistics) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to encode statistics: %w", err)
	}
	if err := c.client.Set(ctx, c.key, string(data), c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write statistics: %w", err)
	}
	return nil
}

// Invalidate drops the cached value.
func (c *StatisticsCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate statistics: %w", err)
	}
	return nil
}
