package cache

import (
	"testing"
	"time"
)

// fakeClock 手动推进的时钟
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestLRU_Basic(t *testing.T) {
	c := NewLRU[int](3, time.Minute)

	c.Set("key1", 100)

	got, ok := c.Get("key1")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got != 100 {
		t.Errorf("expected 100, got %d", got)
	}

	if _, ok := c.Get("absent"); ok {
		t.Error("expected cache miss")
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("expected 1 hit and 1 miss, got %+v", stats)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("expected hit rate 0.5, got %f", stats.HitRate)
	}
}

func TestLRU_Eviction(t *testing.T) {
	var evicted []string
	c := NewLRU[int](2, time.Minute, WithEvictCallback[int](func(key string, _ int, reason EvictReason) {
		if reason == EvictCapacity {
			evicted = append(evicted, key)
		}
	}))

	c.Set("key1", 1)
	c.Set("key2", 2)
	c.Get("key1")    // key1 变为最近使用
	c.Set("key3", 3) // 应该驱逐 key2

	if _, ok := c.Peek("key2"); ok {
		t.Error("key2 should have been evicted")
	}
	if _, ok := c.Peek("key1"); !ok {
		t.Error("key1 should exist")
	}
	if _, ok := c.Peek("key3"); !ok {
		t.Error("key3 should exist")
	}
	if len(evicted) != 1 || evicted[0] != "key2" {
		t.Errorf("expected key2 evicted, got %v", evicted)
	}
	if c.Stats().Evictions != 1 {
		t.Errorf("expected 1 eviction, got %d", c.Stats().Evictions)
	}
}

func TestLRU_TTL(t *testing.T) {
	clock := newFakeClock()
	c := NewLRU[string](10, 10*time.Minute, WithClock[string](clock.Now))

	c.Set("key1", "v")

	if _, ok := c.Get("key1"); !ok {
		t.Error("expected cache hit")
	}

	clock.Advance(11 * time.Minute)

	if _, ok := c.Get("key1"); ok {
		t.Error("expected cache miss after TTL")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be removed lazily, len=%d", c.Len())
	}
}

func TestLRU_UpdateAgeOnGet(t *testing.T) {
	clock := newFakeClock()
	c := NewLRU[int](10, 10*time.Minute,
		WithClock[int](clock.Now),
		WithUpdateAgeOnGet[int](true),
	)

	c.Set("key", 1)
	clock.Advance(8 * time.Minute)
	if _, ok := c.Get("key"); !ok {
		t.Fatal("expected hit before expiry")
	}

	// 命中后 TTL 被刷新，再过 8 分钟仍然有效
	clock.Advance(8 * time.Minute)
	if _, ok := c.Get("key"); !ok {
		t.Fatal("expected hit after age refresh")
	}
}

func TestLRU_PruneAndKeys(t *testing.T) {
	clock := newFakeClock()
	c := NewLRU[int](10, time.Minute, WithClock[int](clock.Now))

	c.Set("old", 1)
	clock.Advance(2 * time.Minute)
	c.Set("a", 2)
	c.Set("b", 3)

	if n := c.Prune(); n != 1 {
		t.Errorf("expected 1 pruned entry, got %d", n)
	}

	keys := c.Keys()
	if len(keys) != 2 || keys[0] != "b" || keys[1] != "a" {
		t.Errorf("expected [b a], got %v", keys)
	}
}

func TestLRU_DeleteFunc(t *testing.T) {
	c := NewLRU[int](10, 0)
	for i, k := range []string{"a", "b", "c", "d"} {
		c.Set(k, i)
	}

	removed := c.DeleteFunc(func(_ string, v int) bool { return v%2 == 0 })
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}
	if _, ok := c.Peek("a"); ok {
		t.Error("a should be removed")
	}
	if _, ok := c.Peek("b"); !ok {
		t.Error("b should remain")
	}
	if c.Stats().Evictions != 0 {
		t.Error("explicit deletes are not evictions")
	}
}

func TestLRU_Clear(t *testing.T) {
	c := NewLRU[int](2, time.Minute)
	c.Set("a", 1)
	c.Get("a")
	c.Clear()

	stats := c.Stats()
	if stats.Size != 0 || stats.Hits != 0 {
		t.Errorf("expected reset stats, got %+v", stats)
	}
}
