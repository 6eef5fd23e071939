package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		err := cache.Set(ctx, "key1", []byte("value1"), time.Minute)
		if err != nil {
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
		clock := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
		ttlCache := NewLRUCache(10)
		ttlCache.now = func() time.Time { return clock }

		_ = ttlCache.Set(ctx, "expiring", []byte("temp"), time.Minute)
		if val, _ := ttlCache.Get(ctx, "expiring"); val == nil {
			t.Fatal("expected value before expiration")
		}

		clock = clock.Add(2 * time.Minute)
		if val, _ := ttlCache.Get(ctx, "expiring"); val != nil {
			t.Error("expected nil after expiration")
		}
		if size, _ := ttlCache.Stats(); size != 0 {
			t.Errorf("expected expired entry to be removed, size %d", size)
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		small := NewLRUCache(3)
		_ = small.Set(ctx, "a", []byte("1"), time.Minute)
		_ = small.Set(ctx, "b", []byte("2"), time.Minute)
		_ = small.Set(ctx, "c", []byte("3"), time.Minute)

		// Touch a so b becomes the oldest.
		_, _ = small.Get(ctx, "a")
		_ = small.Set(ctx, "d", []byte("4"), time.Minute)

		if val, _ := small.Get(ctx, "b"); val != nil {
			t.Error("expected b to be evicted")
		}
		for _, k := range []string{"a", "c", "d"} {
			if val, _ := small.Get(ctx, k); val == nil {
				t.Errorf("expected %s to remain", k)
			}
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = cache.Set(ctx, "dup", []byte("old"), time.Minute)
		_ = cache.Set(ctx, "dup", []byte("new"), time.Minute)

		val, _ := cache.Get(ctx, "dup")
		if string(val) != "new" {
			t.Errorf("expected 'new', got '%s'", string(val))
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.Set(ctx, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, "k2", []byte("v2"), time.Minute)

		size, capacity := statsCache.Stats()
		if size != 2 {
			t.Errorf("expected size 2, got %d", size)
		}
		if capacity != 50 {
			t.Errorf("expected capacity 50, got %d", capacity)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, "k", []byte("v"), time.Minute)

		if err := testCache.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}

		val, _ := testCache.Get(ctx, "k")
		if val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

// mapCache is an in-process stand-in for Redis.
type mapCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	ttls   map[string]time.Duration
	getErr error
	setErr error
	gets   int
	closed bool
}

func newMapCache() *mapCache {
	return &mapCache{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *mapCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.data[key], nil
}

func (m *mapCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *mapCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *mapCache) Ping(ctx context.Context) error { return m.getErr }

func (m *mapCache) Close() error {
	m.closed = true
	return nil
}

func TestTwoPhaseCache(t *testing.T) {
	ctx := context.Background()

	t.Run("PopulatesL1FromL2", func(t *testing.T) {
		remote := newMapCache()
		remote.data["shared"] = []byte("from-redis")
		c := newTwoPhase(NewLRUCache(10), remote, time.Minute)

		for i := 0; i < 3; i++ {
			val, err := c.Get(ctx, "shared")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if string(val) != "from-redis" {
				t.Fatalf("expected 'from-redis', got %q", val)
			}
		}
		if remote.gets != 1 {
			t.Errorf("expected one L2 read, got %d", remote.gets)
		}
	})

	t.Run("SetWritesBothTiers", func(t *testing.T) {
		remote := newMapCache()
		c := newTwoPhase(NewLRUCache(10), remote, time.Minute)

		if err := c.Set(ctx, "k", []byte("v"), time.Hour); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if string(remote.data["k"]) != "v" || remote.ttls["k"] != time.Hour {
			t.Errorf("expected L2 write with full TTL, got %q %v", remote.data["k"], remote.ttls["k"])
		}
		if size, _ := c.Stats(); size != 1 {
			t.Errorf("expected one L1 entry, got %d", size)
		}
	})

	t.Run("DeleteBothTiers", func(t *testing.T) {
		remote := newMapCache()
		c := newTwoPhase(NewLRUCache(10), remote, time.Minute)
		_ = c.Set(ctx, "k", []byte("v"), time.Hour)

		if err := c.Delete(ctx, "k"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if val, _ := c.Get(ctx, "k"); val != nil {
			t.Errorf("expected miss after delete, got %q", val)
		}
	})

	t.Run("PingReportsL2", func(t *testing.T) {
		remote := newMapCache()
		remote.getErr = errors.New("connection refused")
		c := newTwoPhase(NewLRUCache(10), remote, 0)

		if err := c.Ping(ctx); err == nil {
			t.Error("expected ping error from L2")
		}
		_ = c.Close()
		if !remote.closed {
			t.Error("expected L2 to be closed")
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type:         "memory",
			LocalMaxSize: 100,
		}

		cache, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		if _, ok := cache.(*LRUCache); !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type: "memcached",
		}

		if _, err := New(cfg); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

type countingClassifier struct {
	inner *rules.Classifier
	calls int
}

func (c *countingClassifier) Classify(text string) domain.DetectionResult {
	c.calls++
	return c.inner.Classify(text)
}

func newCountingClassifier(t *testing.T) *countingClassifier {
	t.Helper()
	inner, err := rules.NewClassifier(rules.DefaultTable())
	if err != nil {
		t.Fatalf("NewClassifier failed: %v", err)
	}
	return &countingClassifier{inner: inner}
}

func TestClassifierCache(t *testing.T) {
	ctx := context.Background()

	t.Run("MemoizesByNormalizedText", func(t *testing.T) {
		classifier := newCountingClassifier(t)
		cc := NewClassifierCache(classifier, NewLRUCache(10), time.Hour, "v1")

		first := cc.Classify(ctx, "Trẻ bị bầm tím 60%")
		second := cc.Classify(ctx, "  TRẺ BỊ BẦM TÍM 60%  ")

		want := domain.DetectionResult{
			Level:           domain.SeveritySerious,
			MatchedKeywords: []string{"bầm tím 60%"},
			Reasoning:       "Phát hiện: bầm tím 60%",
		}
		if diff := cmp.Diff(want, first); diff != "" {
			t.Errorf("first result mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("cached result mismatch (-want +got):\n%s", diff)
		}
		if classifier.calls != 1 {
			t.Errorf("expected 1 classification, got %d", classifier.calls)
		}
	})

	t.Run("ScopeSeparatesTables", func(t *testing.T) {
		classifier := newCountingClassifier(t)
		shared := NewLRUCache(10)

		a := NewClassifierCache(classifier, shared, time.Hour, "table-a")
		b := NewClassifierCache(classifier, shared, time.Hour, "table-b")
		if a.Key("khóc") == b.Key("khóc") {
			t.Fatal("expected scoped keys to differ")
		}

		a.Classify(ctx, "khóc")
		b.Classify(ctx, "khóc")
		if classifier.calls != 2 {
			t.Errorf("expected 2 classifications, got %d", classifier.calls)
		}
	})

	t.Run("FallsBackOnCacheFailure", func(t *testing.T) {
		classifier := newCountingClassifier(t)
		broken := newMapCache()
		broken.getErr = errors.New("redis down")
		broken.setErr = errors.New("redis down")
		cc := NewClassifierCache(classifier, broken, time.Hour, "v1")

		for i := 0; i < 2; i++ {
			got := cc.Classify(ctx, "vết xước nhẹ")
			if got.Level != domain.SeverityLow {
				t.Fatalf("expected low, got %s", got.Level)
			}
		}
		if classifier.calls != 2 {
			t.Errorf("expected direct classification each time, got %d", classifier.calls)
		}
	})

	t.Run("IgnoresMalformedEntries", func(t *testing.T) {
		classifier := newCountingClassifier(t)
		store := newMapCache()
		cc := NewClassifierCache(classifier, store, time.Hour, "v1")
		store.data[cc.Key("bỏ đói")] = []byte("{not json")

		got := cc.Classify(ctx, "bỏ đói")
		if got.Level != domain.SeverityMedium {
			t.Errorf("expected medium, got %s", got.Level)
		}
		if store.ttls[cc.Key("bỏ đói")] != time.Hour {
			t.Error("expected the entry to be rewritten with the result TTL")
		}
	})

	t.Run("NilCache", func(t *testing.T) {
		classifier := newCountingClassifier(t)
		cc := NewClassifierCache(classifier, nil, 0, "")
		for i := 0; i < 3; i++ {
			cc.Classify(ctx, fmt.Sprintf("text %d", i))
		}
		if classifier.calls != 3 {
			t.Errorf("expected 3 classifications, got %d", classifier.calls)
		}
	})
}
