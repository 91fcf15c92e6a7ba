package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestMemory(t *testing.T) *MemoryCache {
	t.Helper()
	c := NewMemoryCache(MemoryCacheOptions{DefaultTTL: time.Hour, MaxSize: 100})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMemoryCache_SetGet(t *testing.T) {
	cache := newTestMemory(t)
	ctx := context.Background()

	if err := cache.Set(ctx, "key1", []byte("value1"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	val, err := cache.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != "value1" {
		t.Errorf("expected value1, got %s", string(val))
	}

	if _, err = cache.Get(ctx, "missing"); err != ErrCacheMiss {
		t.Errorf("expected ErrCacheMiss, got %v", err)
	}
	if err := cache.Ping(ctx); err != nil {
		t.Errorf("Ping = %v", err)
	}
}

func TestMemoryCache_Expiration(t *testing.T) {
	cache := newTestMemory(t)
	ctx := context.Background()

	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	_ = cache.Set(ctx, "short", []byte("v"), time.Minute)
	_ = cache.Set(ctx, "default", []byte("v"), 0)

	now = now.Add(2 * time.Minute)
	if _, err := cache.Get(ctx, "short"); err != ErrCacheMiss {
		t.Errorf("expected expired entry to miss, got %v", err)
	}
	if _, err := cache.Get(ctx, "default"); err != nil {
		t.Errorf("default TTL entry should still be present: %v", err)
	}
	if got := cache.Stats(ctx).Items; got != 1 {
		t.Errorf("items = %d, want 1", got)
	}
}

func TestMemoryCache_MaxSizeEviction(t *testing.T) {
	cache := NewMemoryCache(MemoryCacheOptions{DefaultTTL: time.Hour, MaxSize: 3})
	defer func() { _ = cache.Close() }()
	ctx := context.Background()

	_ = cache.Set(ctx, "soonest", []byte("a"), time.Minute)
	_ = cache.Set(ctx, "b", []byte("b"), 0)
	_ = cache.Set(ctx, "c", []byte("c"), 0)
	_ = cache.Set(ctx, "d", []byte("d"), 0)

	if got := cache.Stats(ctx).Items; got != 3 {
		t.Errorf("items = %d, want 3", got)
	}
	if _, err := cache.Get(ctx, "soonest"); err != ErrCacheMiss {
		t.Errorf("entry closest to expiry should be evicted, got %v", err)
	}

	// Overwriting an existing key never evicts.
	_ = cache.Set(ctx, "d", []byte("dd"), 0)
	for _, k := range []string{"b", "c", "d"} {
		if _, err := cache.Get(ctx, k); err != nil {
			t.Errorf("Get(%s) = %v", k, err)
		}
	}
}

func TestMemoryCache_DeleteByPrefix(t *testing.T) {
	cache := newTestMemory(t)
	ctx := context.Background()

	_ = cache.Set(ctx, "stats:1", []byte("value1"), 0)
	_ = cache.Set(ctx, "stats:2", []byte("value2"), 0)
	_ = cache.Set(ctx, "other:key", []byte("other"), 0)

	if err := cache.DeleteByPrefix(ctx, "stats:"); err != nil {
		t.Fatalf("DeleteByPrefix failed: %v", err)
	}
	for _, k := range []string{"stats:1", "stats:2"} {
		if _, err := cache.Get(ctx, k); err != ErrCacheMiss {
			t.Errorf("%s should be deleted, got %v", k, err)
		}
	}
	if _, err := cache.Get(ctx, "other:key"); err != nil {
		t.Errorf("other:key should remain: %v", err)
	}
	if s := cache.Stats(ctx); s.Items != 1 || s.Size != int64(len("other")) {
		t.Errorf("stats after delete = %+v", s)
	}
}

func TestMemoryCache_Stats(t *testing.T) {
	cache := newTestMemory(t)
	ctx := context.Background()

	_ = cache.Set(ctx, "key1", []byte("value1"), 0)
	_ = cache.Set(ctx, "key2", []byte("value2"), 0)
	_, _ = cache.Get(ctx, "key1")
	_, _ = cache.Get(ctx, "key1")
	_, _ = cache.Get(ctx, "key2")
	_, _ = cache.Get(ctx, "missing")

	stats := cache.Stats(ctx)
	if stats.Backend != BackendMemory {
		t.Errorf("Backend = %q", stats.Backend)
	}
	if stats.Hits != 3 || stats.Misses != 1 || stats.Sets != 2 {
		t.Errorf("hits/misses/sets = %d/%d/%d, want 3/1/2", stats.Hits, stats.Misses, stats.Sets)
	}
	if stats.Items != 2 {
		t.Errorf("items = %d, want 2", stats.Items)
	}
	if stats.HitRate != 75 {
		t.Errorf("hit rate = %v, want 75", stats.HitRate)
	}
	if stats.Size != 12 {
		t.Errorf("size = %d, want 12", stats.Size)
	}
}

func TestMemoryCache_ConcurrentAccess(t *testing.T) {
	cache := NewMemoryCache(MemoryCacheOptions{DefaultTTL: time.Hour, MaxSize: 50})
	defer func() { _ = cache.Close() }()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Go(func() {
			for j := range 100 {
				_ = cache.Set(ctx, fmt.Sprintf("stats:%d-%d", i, j%10), []byte("value"), 0)
				_, _ = cache.Get(ctx, fmt.Sprintf("stats:%d-%d", i, j%10))
				if j%25 == 0 {
					_ = cache.DeleteByPrefix(ctx, fmt.Sprintf("stats:%d-", i))
				}
			}
		})
	}
	wg.Wait()

	if got := cache.Stats(ctx).Items; got > 50 {
		t.Errorf("items = %d, want at most 50", got)
	}
}

func TestMemoryCache_ValueCopy(t *testing.T) {
	cache := newTestMemory(t)
	ctx := context.Background()

	original := []byte("original")
	if err := cache.Set(ctx, "key", original, 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	original[0] = 'X'

	val, err := cache.Get(ctx, "key")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != "original" {
		t.Errorf("expected original, got %s (cache didn't copy on set)", string(val))
	}

	val[0] = 'Y'

	val2, _ := cache.Get(ctx, "key")
	if string(val2) != "original" {
		t.Errorf("expected original, got %s (cache didn't copy on get)", string(val2))
	}
}

func TestMemoryCache_Close(t *testing.T) {
	cache := NewMemoryCache(MemoryCacheOptions{
		DefaultTTL:      time.Hour,
		CleanupInterval: time.Second,
	})
	ctx := context.Background()

	_ = cache.Set(ctx, "key", []byte("value"), 0)

	if err := cache.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := cache.Get(ctx, "key"); err != ErrCacheClosed {
		t.Errorf("expected ErrCacheClosed after close, got %v", err)
	}
	if err := cache.Set(ctx, "key2", []byte("value"), 0); err != ErrCacheClosed {
		t.Errorf("expected ErrCacheClosed on Set after close, got %v", err)
	}
	if err := cache.DeleteByPrefix(ctx, "key"); err != ErrCacheClosed {
		t.Errorf("expected ErrCacheClosed on DeleteByPrefix after close, got %v", err)
	}
	if err := cache.Ping(ctx); err != ErrCacheClosed {
		t.Errorf("expected ErrCacheClosed on Ping after close, got %v", err)
	}
	if err := cache.Close(); err != nil {
		t.Errorf("second Close should succeed, got %v", err)
	}
}
