// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package middleware provides HTTP middleware for the analytics API.
package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/olegiv/ocms-analytics/internal/metrics"
)

// maxLimiters bounds the per-client limiter map. When it is full, idle
// limiters are dropped first, then the least recently used one.
const maxLimiters = 10000

// APIError represents a JSON error response.
type APIError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// WriteAPIError writes a JSON error response.
func WriteAPIError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	apiErr := APIError{}
	apiErr.Error.Code = code
	apiErr.Error.Message = message
	_ = json.NewEncoder(w).Encode(apiErr)
}

// limiterEntry is a client's limiter and when it was last used (Unix nanos).
type limiterEntry struct {
	limiter *rate.Limiter
	seen    atomic.Int64
}

// limiterCache holds one rate limiter per key, bounded by maxLimiters.
type limiterCache[K comparable] struct {
	entries map[K]*limiterEntry
	mu      sync.RWMutex
	rate    rate.Limit
	burst   int
	now     func() time.Time
}

func newLimiterCache[K comparable](rps float64, burst int) *limiterCache[K] {
	return &limiterCache[K]{
		entries: make(map[K]*limiterEntry),
		rate:    rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
	}
}

// get returns the rate limiter for key, creating one if needed.
func (lc *limiterCache[K]) get(key K) *rate.Limiter {
	now := lc.now()

	lc.mu.RLock()
	e, exists := lc.entries[key]
	lc.mu.RUnlock()
	if exists {
		e.seen.Store(now.UnixNano())
		return e.limiter
	}

	lc.mu.Lock()
	defer lc.mu.Unlock()

	// Double-check after acquiring write lock
	if e, exists = lc.entries[key]; exists {
		e.seen.Store(now.UnixNano())
		return e.limiter
	}

	if len(lc.entries) >= maxLimiters {
		lc.evictLocked(now)
	}
	e = &limiterEntry{limiter: rate.NewLimiter(lc.rate, lc.burst)}
	e.seen.Store(now.UnixNano())
	lc.entries[key] = e
	return e.limiter
}

// evictLocked drops every limiter whose bucket has refilled, since a fresh
// limiter behaves the same. If none has, it drops the least recently used.
func (lc *limiterCache[K]) evictLocked(now time.Time) {
	var (
		oldestKey  K
		oldestSeen int64
		found      bool
	)
	for k, e := range lc.entries {
		if e.limiter.TokensAt(now) >= float64(lc.burst) {
			delete(lc.entries, k)
			continue
		}
		if seen := e.seen.Load(); !found || seen < oldestSeen {
			oldestKey, oldestSeen, found = k, seen, true
		}
	}
	if len(lc.entries) >= maxLimiters && found {
		delete(lc.entries, oldestKey)
	}
}

func (lc *limiterCache[K]) size() int {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return len(lc.entries)
}

// RateLimiter limits requests per client IP.
type RateLimiter struct {
	cache   *limiterCache[string]
	ip      func(*http.Request) string
	kind    string
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewRateLimiter creates a per-client limiter. ip resolves the client key
// (see ClientKey),
// kind labels rejected requests in the dropped-events metric. A non-positive
// rps disables limiting.
func NewRateLimiter(rps float64, burst int, ip func(*http.Request) string, kind string, m *metrics.Metrics, logger *slog.Logger) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		cache:   newLimiterCache[string](rps, burst),
		ip:      ip,
		kind:    kind,
		metrics: m,
		logger:  logger,
	}
}

// Allow reports whether a request from ip may proceed.
func (rl *RateLimiter) Allow(ip string) bool {
	if rl.cache.rate <= 0 {
		return true
	}
	return rl.cache.get(ip).Allow()
}

// Middleware rejects requests over the limit with 429 and a JSON error.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := rl.ip(r)
			if !rl.Allow(ip) {
				rl.logger.Debug("rate limit exceeded", "ip", ip, "path", r.URL.Path)
				rl.metrics.RecordDropped(rl.kind, "rate_limited")
				WriteAPIError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Rate limit exceeded. Please slow down.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MaxBodySize rejects request bodies larger than n bytes.
func MaxBodySize(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > n {
				WriteAPIError(w, http.StatusRequestEntityTooLarge, "body_too_large", "Request body too large.")
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}
