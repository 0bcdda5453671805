package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opensource-finance/heron/internal/domain"
)

const (
	redisPrefix      = "heron:"
	redisDialTimeout = 5 * time.Second
)

// RedisCache stores results in Redis so API and worker processes share
// them. RedisAddr may list several comma-separated nodes for a cluster.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache connects and pings Redis.
func NewRedisCache(cfg domain.CacheConfig) (*RedisCache, error) {
	addrs := splitAddrs(cfg.RedisAddr)
	if len(addrs) == 0 {
		addrs = []string{"localhost:6379"}
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:       addrs,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		DialTimeout: redisDialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", strings.Join(addrs, ","), err)
	}

	return &RedisCache{client: client}, nil
}

func splitAddrs(s string) []string {
	var addrs []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

// Get returns nil, nil for a missing key.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, redisPrefix+key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, redisPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, redisPrefix+key).Err()
}

func (c *RedisCache) GetResult(ctx context.Context, txID string) (*domain.MonitoringResult, error) {
	return getResult(ctx, c, txID)
}

func (c *RedisCache) SetResult(ctx context.Context, txID string, result *domain.MonitoringResult, ttl time.Duration) error {
	return setResult(ctx, c, txID, result, ttl)
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
