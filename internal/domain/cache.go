package domain

import (
	"context"
	"time"
)

// Cache stores raw bytes and monitoring results by key. A miss is reported
// as a nil value with a nil error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// GetResult and SetResult key results by transaction id.
	GetResult(ctx context.Context, txID string) (*MonitoringResult, error)
	SetResult(ctx context.Context, txID string, result *MonitoringResult, ttl time.Duration) error

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig selects the cache backend.
//
// Type "memory" is a process-local LRU. Type "redis" talks to RedisAddr,
// which may list several comma-separated cluster nodes; with EnableTwoPhase
// an LRU of LocalMaxSize entries sits in front of it and holds entries for
// at most LocalTTL.
type CacheConfig struct {
	Type string `mapstructure:"type"`

	LocalMaxSize int           `mapstructure:"local_max_size"`
	LocalTTL     time.Duration `mapstructure:"local_ttl"`

	ResultTTL time.Duration `mapstructure:"result_ttl"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	EnableTwoPhase bool `mapstructure:"enable_two_phase"`
}
