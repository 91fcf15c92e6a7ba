// Package cache provides the statistics result cache: an in-memory or Redis
// byte store behind one interface, and a typed JSON wrapper on top.
package cache

import (
	"context"
	"sync/atomic"
	"time"
)

// Cache is a byte store with per-entry expiry. Implementations are safe for
// concurrent use.
type Cache interface {
	// Get returns the value of key, or ErrCacheMiss when it is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key for ttl. A zero ttl uses the default TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// DeleteByPrefix removes every key starting with prefix.
	DeleteByPrefix(ctx context.Context, prefix string) error

	// Ping reports whether the backend is usable.
	Ping(ctx context.Context) error

	// Stats reports usage counters of this process.
	Stats(ctx context.Context) Stats

	// Close releases any resources held by the cache.
	Close() error
}

// Stats holds cache usage counters.
type Stats struct {
	Backend Backend `json:"backend"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Sets    int64   `json:"sets"`
	Items   int     `json:"items"`
	HitRate float64 `json:"hit_rate"`
	Size    int64   `json:"size_bytes,omitempty"`
}

// counters are the hit/miss/set tallies shared by both backends.
type counters struct {
	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
}

func (c *counters) stats(b Backend) Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	s := Stats{Backend: b, Hits: hits, Misses: misses, Sets: c.sets.Load()}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total) * 100
	}
	return s
}

// Error represents an error type for cache operations.
type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	// ErrCacheMiss indicates the key was not found in cache or has expired.
	ErrCacheMiss Error = "cache miss"

	// ErrCacheClosed indicates the cache has been closed.
	ErrCacheClosed Error = "cache closed"
)
