// Package cache keeps monitoring results close to the API so
// GET /transactions/{id}/result does not hit the store.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

const defaultLRUSize = 10000

// Stats describes an in-process cache layer.
type Stats struct {
	Entries   int
	Capacity  int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// LRUCache is a bounded, TTL-aware, goroutine-safe cache. It serves the
// community tier alone and the pro tier as the L1 in front of Redis.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	recency  *list.List // front is most recently used
	now      func() time.Time

	hits, misses, evictions uint64
}

type lruEntry struct {
	key      string
	value    []byte
	deadline time.Time
}

// NewLRUCache creates an LRU holding at most capacity entries.
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = defaultLRUSize
	}
	return &LRUCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element, capacity),
		recency:  list.New(),
		now:      time.Now,
	}
}

// Get returns the value for key, or nil when absent or expired.
func (c *LRUCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, nil
	}
	e := el.Value.(*lruEntry)
	if !c.now().Before(e.deadline) {
		c.drop(el)
		c.misses++
		return nil, nil
	}

	c.hits++
	c.recency.MoveToFront(el)
	return e.value, nil
}

// Set stores value under key until ttl elapses, evicting the least
// recently used entries beyond capacity.
func (c *LRUCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := c.now().Add(ttl)
	if el, ok := c.entries[key]; ok {
		e := el.Value.(*lruEntry)
		e.value, e.deadline = value, deadline
		c.recency.MoveToFront(el)
		return nil
	}

	c.entries[key] = c.recency.PushFront(&lruEntry{key: key, value: value, deadline: deadline})
	for c.recency.Len() > c.capacity {
		c.drop(c.recency.Back())
		c.evictions++
	}
	return nil
}

// Delete removes key if present.
func (c *LRUCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.drop(el)
	}
	return nil
}

// GetResult returns the cached monitoring result of a transaction.
func (c *LRUCache) GetResult(ctx context.Context, txID string) (*domain.MonitoringResult, error) {
	return getResult(ctx, c, txID)
}

// SetResult caches the monitoring result of a transaction.
func (c *LRUCache) SetResult(ctx context.Context, txID string, result *domain.MonitoringResult, ttl time.Duration) error {
	return setResult(ctx, c, txID, result, ttl)
}

// Ping always succeeds.
func (c *LRUCache) Ping(context.Context) error {
	return nil
}

// Close drops every entry. The cache stays usable.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element, c.capacity)
	c.recency.Init()
	return nil
}

// Stats reports occupancy and hit accounting.
func (c *LRUCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   c.recency.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *LRUCache) drop(el *list.Element) {
	c.recency.Remove(el)
	delete(c.entries, el.Value.(*lruEntry).key)
}
