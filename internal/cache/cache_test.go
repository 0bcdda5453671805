package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/heron/internal/domain"
)

// fakeClock is advanced manually so expiry tests don't sleep.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func newClockedLRU(size int) (*LRUCache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)}
	c := NewLRUCache(size)
	c.now = clock.now
	return c, clock
}

func TestLRUCache(t *testing.T) {
	cache, clock := newClockedLRU(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := cache.Set(ctx, "key1", []byte("value1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, "key2", []byte("value2"), time.Minute)

		if err := cache.Delete(ctx, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, "expiring", []byte("temp"), 10*time.Second)

		if val, _ := cache.Get(ctx, "expiring"); val == nil {
			t.Error("expected value before expiration")
		}

		clock.t = clock.t.Add(11 * time.Second)

		if val, _ := cache.Get(ctx, "expiring"); val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		small := NewLRUCache(3)

		_ = small.Set(ctx, "a", []byte("1"), time.Minute)
		_ = small.Set(ctx, "b", []byte("2"), time.Minute)
		_ = small.Set(ctx, "c", []byte("3"), time.Minute)

		// Access 'a' to make it recently used
		_, _ = small.Get(ctx, "a")

		// Add 'd' - should evict 'b'
		_ = small.Set(ctx, "d", []byte("4"), time.Minute)

		if val, _ := small.Get(ctx, "b"); val != nil {
			t.Error("expected 'b' to be evicted")
		}
		if val, _ := small.Get(ctx, "a"); val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("ResultCache", func(t *testing.T) {
		result := &domain.MonitoringResult{
			TransactionID:  "tx-001",
			CustomerID:     "cust-001",
			RiskScore:      decimal.RequireFromString("72.5"),
			IsSuspicious:   true,
			TriggeredRules: []string{"Large Transaction"},
			Severity:       domain.SeverityMedium,
			AlertID:        "ALT-20250314-0A1B2C3D",
		}

		if err := cache.SetResult(ctx, "tx-001", result, time.Minute); err != nil {
			t.Fatalf("SetResult failed: %v", err)
		}

		got, err := cache.GetResult(ctx, "tx-001")
		if err != nil {
			t.Fatalf("GetResult failed: %v", err)
		}
		if !got.RiskScore.Equal(result.RiskScore) {
			t.Errorf("expected score %s, got %s", result.RiskScore, got.RiskScore)
		}
		if got.AlertID != result.AlertID {
			t.Errorf("expected alert %s, got %s", result.AlertID, got.AlertID)
		}
	})

	t.Run("ResultMiss", func(t *testing.T) {
		got, err := cache.GetResult(ctx, "tx-unknown")
		if err != nil || got != nil {
			t.Errorf("expected nil, nil; got %v, %v", got, err)
		}
	})

	t.Run("CorruptResult", func(t *testing.T) {
		_ = cache.Set(ctx, resultKey("tx-bad"), []byte("{not json"), time.Minute)
		if _, err := cache.GetResult(ctx, "tx-bad"); err == nil {
			t.Error("expected decode error")
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(2)
		_ = statsCache.Set(ctx, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, "k2", []byte("v2"), time.Minute)
		_, _ = statsCache.Get(ctx, "k1")
		_, _ = statsCache.Get(ctx, "missing")
		_ = statsCache.Set(ctx, "k3", []byte("v3"), time.Minute)

		got := statsCache.Stats()
		want := Stats{Entries: 2, Capacity: 2, Hits: 1, Misses: 1, Evictions: 1}
		if got != want {
			t.Errorf("Stats() = %+v, want %+v", got, want)
		}
		if v, _ := statsCache.Get(ctx, "k2"); v != nil {
			t.Error("expected least recently used k2 to be evicted")
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, "k", []byte("v"), time.Minute)

		if err := testCache.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
		if val, _ := testCache.Get(ctx, "k"); val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

// failingKV is an L2 that is down.
type failingKV struct{ *LRUCache }

func (failingKV) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func TestTwoPhaseCache(t *testing.T) {
	ctx := context.Background()

	t.Run("L2HitPopulatesL1", func(t *testing.T) {
		local := NewLRUCache(10)
		remote := NewLRUCache(10)
		c := newTwoPhase(local, remote, time.Minute)

		_ = remote.Set(ctx, "k", []byte("v"), time.Hour)

		val, err := c.Get(ctx, "k")
		if err != nil || string(val) != "v" {
			t.Fatalf("expected v, got %q (%v)", val, err)
		}
		if l1, _ := local.Get(ctx, "k"); string(l1) != "v" {
			t.Error("expected L1 to be populated")
		}
	})

	t.Run("SetWritesBoth", func(t *testing.T) {
		local := NewLRUCache(10)
		remote := NewLRUCache(10)
		c := newTwoPhase(local, remote, time.Minute)

		result := &domain.MonitoringResult{TransactionID: "tx-1", RiskScore: decimal.NewFromInt(40)}
		if err := c.SetResult(ctx, "tx-1", result, time.Hour); err != nil {
			t.Fatalf("SetResult failed: %v", err)
		}
		if v, _ := local.Get(ctx, resultKey("tx-1")); v == nil {
			t.Error("expected L1 entry")
		}
		if v, _ := remote.Get(ctx, resultKey("tx-1")); v == nil {
			t.Error("expected L2 entry")
		}

		got, err := c.GetResult(ctx, "tx-1")
		if err != nil || got == nil || got.TransactionID != "tx-1" {
			t.Errorf("unexpected result %+v (%v)", got, err)
		}
	})

	t.Run("L1ShadowsFailingL2", func(t *testing.T) {
		local := NewLRUCache(10)
		c := newTwoPhase(local, failingKV{NewLRUCache(10)}, time.Minute)

		_ = local.Set(ctx, "k", []byte("v"), time.Minute)
		if val, err := c.Get(ctx, "k"); err != nil || string(val) != "v" {
			t.Errorf("expected L1 hit, got %q (%v)", val, err)
		}
		if _, err := c.Get(ctx, "other"); err == nil {
			t.Error("expected L2 error on L1 miss")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		local := NewLRUCache(10)
		remote := NewLRUCache(10)
		c := newTwoPhase(local, remote, time.Minute)

		_ = c.Set(ctx, "k", []byte("v"), time.Hour)
		_ = c.Delete(ctx, "k")
		if v, _ := remote.Get(ctx, "k"); v != nil {
			t.Error("expected L2 entry removed")
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cache, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		if _, ok := cache.(*LRUCache); !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		_, err := New(domain.CacheConfig{Type: "memcached"})
		if !errors.Is(err, domain.ErrConfiguration) {
			t.Errorf("expected ErrConfiguration, got %v", err)
		}
	})
}
