// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/olegiv/ocms-analytics/internal/metrics"
	"github.com/olegiv/ocms-analytics/internal/testutil"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func remoteIP(r *http.Request) string {
	return strings.Split(r.RemoteAddr, ":")[0]
}

func requestFrom(handler http.Handler, addr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/track/pageview", nil)
	req.RemoteAddr = addr
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestRateLimiter(t *testing.T) {
	m := metrics.New(nil)
	rl := NewRateLimiter(2, 2, remoteIP, "page_view", m, testutil.TestLoggerSilent())
	handler := rl.Middleware()(okHandler)

	for i := range 2 {
		if w := requestFrom(handler, "192.168.1.1:12345"); w.Code != http.StatusOK {
			t.Errorf("request %d: expected status %d, got %d", i, http.StatusOK, w.Code)
		}
	}

	w := requestFrom(handler, "192.168.1.1:12345")
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected status %d, got %d", http.StatusTooManyRequests, w.Code)
	}
	if !strings.Contains(w.Body.String(), "rate_limit_exceeded") {
		t.Errorf("body = %q, want rate_limit_exceeded", w.Body.String())
	}
	if got := promtest.ToFloat64(m.DroppedTotal.WithLabelValues("page_view", "rate_limited")); got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}

	// A different client still gets through.
	if w := requestFrom(handler, "192.168.1.2:12345"); w.Code != http.StatusOK {
		t.Errorf("other IP: expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0, 0, remoteIP, "session", nil, testutil.TestLoggerSilent())
	for range 50 {
		if !rl.Allow("10.0.0.1") {
			t.Fatal("disabled limiter rejected a request")
		}
	}
}

func TestLimiterCache_Bounded(t *testing.T) {
	lc := newLimiterCache[int](1, 1)
	for i := range maxLimiters + 5 {
		lc.get(i)
	}
	if got := lc.size(); got > maxLimiters {
		t.Errorf("size = %d, want <= %d", got, maxLimiters)
	}
}

func TestLimiterCache_EvictsIdleBeforeActive(t *testing.T) {
	lc := newLimiterCache[int](0.001, 1)

	if !lc.get(0).Allow() {
		t.Fatal("first request should be allowed")
	}
	for i := 1; i < maxLimiters; i++ {
		lc.get(i)
	}
	lc.get(maxLimiters)

	if got := lc.size(); got != 2 {
		t.Errorf("size = %d, want 2 (only idle limiters evicted)", got)
	}
	if lc.get(0).Allow() {
		t.Error("exhausted client got a fresh budget after eviction")
	}
}

func TestLimiterCache_EvictsLeastRecentlyUsed(t *testing.T) {
	lc := newLimiterCache[int](0.001, 1)
	now := time.Now()
	lc.now = func() time.Time {
		now = now.Add(time.Microsecond)
		return now
	}

	for i := range maxLimiters {
		lc.get(i).Allow()
	}
	lc.get(0)
	lc.get(maxLimiters)

	if got := lc.size(); got != maxLimiters {
		t.Errorf("size = %d, want %d", got, maxLimiters)
	}
	lc.mu.RLock()
	_, keptRecent := lc.entries[0]
	_, keptOldest := lc.entries[1]
	lc.mu.RUnlock()
	if !keptRecent {
		t.Error("recently used limiter was evicted")
	}
	if keptOldest {
		t.Error("least recently used limiter was kept")
	}
}

func TestClientKey(t *testing.T) {
	trusted, err := ParsePrefixes([]string{"10.0.0.0/8", "192.168.1.10"})
	if err != nil {
		t.Fatalf("ParsePrefixes: %v", err)
	}

	tests := []struct {
		name       string
		trusted    bool
		remoteAddr string
		xff        string
		want       string
	}{
		{"peer without proxies", false, "203.0.113.7:4000", "", "203.0.113.7"},
		{"forwarded header from untrusted peer ignored", true, "203.0.113.7:4000", "198.51.100.1", "203.0.113.7"},
		{"forwarded header ignored without trusted proxies", false, "10.0.0.2:80", "198.51.100.1", "10.0.0.2"},
		{"trusted proxy", true, "10.0.0.2:80", "198.51.100.1", "198.51.100.1"},
		{"spoofed leftmost hop skipped", true, "10.0.0.2:80", "1.2.3.4, 198.51.100.1", "198.51.100.1"},
		{"proxy chain", true, "10.0.0.2:80", "198.51.100.1, 192.168.1.10", "198.51.100.1"},
		{"garbage hop stops the walk", true, "10.0.0.2:80", "198.51.100.1, junk", "10.0.0.2"},
		{"only trusted hops", true, "10.0.0.2:80", "10.1.1.1", "10.0.0.2"},
		{"ipv6 peer", false, "[2001:db8::1]:443", "", "2001:db8::1"},
		{"mapped ipv4 peer", true, "[::ffff:10.0.0.2]:80", "198.51.100.1", "198.51.100.1"},
		{"unparseable peer", false, "pipe", "", "pipe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var prefixes []netip.Prefix
			if tt.trusted {
				prefixes = trusted
			}
			req := httptest.NewRequest(http.MethodPost, "/api/track/pageview", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := ClientKey(prefixes)(req); got != tt.want {
				t.Errorf("ClientKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParsePrefixes_Invalid(t *testing.T) {
	for _, v := range []string{"10.0.0.0/33", "proxy.local"} {
		if _, err := ParsePrefixes([]string{v}); err == nil {
			t.Errorf("ParsePrefixes(%q) expected error", v)
		}
	}
}

func TestRateLimiter_SpoofedForwardedForSharesBudget(t *testing.T) {
	rl := NewRateLimiter(0.001, 2, ClientKey(nil), "page_view", nil, testutil.TestLoggerSilent())
	handler := rl.Middleware()(okHandler)

	codes := make([]int, 0, 3)
	for _, xff := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"} {
		req := httptest.NewRequest(http.MethodPost, "/api/track/pageview", nil)
		req.RemoteAddr = "203.0.113.7:4000"
		req.Header.Set("X-Forwarded-For", xff)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}
}

func TestMaxBodySize(t *testing.T) {
	handler := MaxBodySize(8)(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected status %d, got %d", http.StatusRequestEntityTooLarge, w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("small"))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestRequestMetrics(t *testing.T) {
	m := metrics.New(nil)
	r := chi.NewRouter()
	r.Use(RequestMetrics(m))
	r.Get("/api/admin/rollup/{date}", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Millisecond)
		w.WriteHeader(http.StatusAccepted)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/admin/rollup/2024-01-15", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	got := promtest.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/admin/rollup/{date}", "202"))
	if got != 1 {
		t.Errorf("requests = %v, want 1", got)
	}
}
