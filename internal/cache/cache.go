package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/opensource-finance/heron/internal/domain"
)

const defaultL1TTL = 5 * time.Minute

// New builds the cache selected by cfg.Type. "memory" is a process-local
// LRU; "redis" is Redis alone, or an LRU in front of it with two-phase on.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil
	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported cache type: %s", domain.ErrConfiguration, cfg.Type)
	}
}

// kv is the byte-level surface shared by every layer.
type kv interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

func resultKey(txID string) string {
	return "result:" + txID
}

func getResult(ctx context.Context, c kv, txID string) (*domain.MonitoringResult, error) {
	data, err := c.Get(ctx, resultKey(txID))
	if err != nil || data == nil {
		return nil, err
	}
	var result domain.MonitoringResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode cached result %s: %w", txID, err)
	}
	return &result, nil
}

func setResult(ctx context.Context, c kv, txID string, result *domain.MonitoringResult, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result %s: %w", txID, err)
	}
	return c.Set(ctx, resultKey(txID), data, ttl)
}

// TwoPhaseCache reads through a local LRU (L1) to a shared store (L2).
// L1 entries live at most l1TTL, which bounds how stale a result re-monitored
// by another process can be.
type TwoPhaseCache struct {
	l1    *LRUCache
	l2    kv
	l1TTL time.Duration

	// collapses concurrent L1 misses for one key into a single L2 read
	fills singleflight.Group
}

// NewTwoPhaseCache puts an LRU in front of Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg)
	if err != nil {
		return nil, err
	}
	return newTwoPhase(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil
}

func newTwoPhase(l1 *LRUCache, l2 kv, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL <= 0 {
		l1TTL = defaultL1TTL
	}
	return &TwoPhaseCache{l1: l1, l2: l2, l1TTL: l1TTL}
}

// Get serves from L1, falling back to L2 and filling L1 on an L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, key string) ([]byte, error) {
	if val, _ := c.l1.Get(ctx, key); val != nil {
		return val, nil
	}

	v, err, _ := c.fills.Do(key, func() (any, error) {
		val, err := c.l2.Get(ctx, key)
		if err != nil || val == nil {
			return nil, err
		}
		_ = c.l1.Set(ctx, key, val, c.l1TTL)
		return val, nil
	})
	if err != nil || v == nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Set writes L1 then L2. The L1 copy never outlives the L2 one.
func (c *TwoPhaseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_ = c.l1.Set(ctx, key, value, min(ttl, c.l1TTL))
	return c.l2.Set(ctx, key, value, ttl)
}

func (c *TwoPhaseCache) Delete(ctx context.Context, key string) error {
	_ = c.l1.Delete(ctx, key)
	return c.l2.Delete(ctx, key)
}

func (c *TwoPhaseCache) GetResult(ctx context.Context, txID string) (*domain.MonitoringResult, error) {
	return getResult(ctx, c, txID)
}

func (c *TwoPhaseCache) SetResult(ctx context.Context, txID string, result *domain.MonitoringResult, ttl time.Duration) error {
	return setResult(ctx, c, txID, result, ttl)
}

// Ping reports L2 health; L1 cannot fail.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.l2.Ping(ctx); err != nil {
		return fmt.Errorf("L2: %w", err)
	}
	return nil
}

func (c *TwoPhaseCache) Close() error {
	_ = c.l1.Close()
	return c.l2.Close()
}

// Stats reports the L1 layer.
func (c *TwoPhaseCache) Stats() Stats {
	return c.l1.Stats()
}
