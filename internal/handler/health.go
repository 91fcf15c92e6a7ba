// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"context"
	"database/sql"
	"net/http"
	"runtime"
	"time"

	"github.com/olegiv/ocms-analytics/internal/cache"
	"github.com/olegiv/ocms-analytics/internal/version"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusDisabled  = "disabled"

	pingTimeout = 2 * time.Second
)

// CacheStatus is the statistics cache as seen by the health check.
// Both cache backends satisfy it.
type CacheStatus interface {
	Ping(ctx context.Context) error
	Stats(ctx context.Context) cache.Stats
}

// GeoStatus reports whether GeoIP resolution is loaded. *geoip.Lookup satisfies it.
type GeoStatus interface {
	IsEnabled() bool
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	db        *sql.DB
	cache     CacheStatus
	geo       GeoStatus
	version   version.Info
	startTime time.Time
}

// NewHealthHandler creates a new health handler. cache and geo may be nil.
func NewHealthHandler(db *sql.DB, c CacheStatus, geo GeoStatus, v version.Info) *HealthHandler {
	return &HealthHandler{
		db:        db,
		cache:     c,
		geo:       geo,
		version:   v,
		startTime: time.Now(),
	}
}

// HealthStatus represents the overall health status.
type HealthStatus struct {
	Status    string           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Uptime    string           `json:"uptime"`
	Version   version.Info     `json:"version"`
	Checks    map[string]Check `json:"checks"`
	System    *SystemInfo      `json:"system,omitempty"`
}

// Check represents a single health check result.
type Check struct {
	Status  string       `json:"status"`
	Message string       `json:"message,omitempty"`
	Latency string       `json:"latency,omitempty"`
	Cache   *cache.Stats `json:"cache,omitempty"`
}

// SystemInfo contains system-level information.
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutines"`
	NumCPU       int    `json:"num_cpus"`
}

// Health handles GET /health. The status is 503 when the database or the
// configured cache is unreachable. A disabled GeoIP database is reported
// but does not make the service unhealthy.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	checks := map[string]Check{
		"database": h.checkDatabase(r.Context()),
		"cache":    h.checkCache(r.Context()),
		"geoip":    h.checkGeoIP(),
	}

	status := HealthStatus{
		Status:    statusHealthy,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Version:   h.version,
		Checks:    checks,
	}
	if checks["database"].Status != statusHealthy || checks["cache"].Status == statusUnhealthy {
		status.Status = "degraded"
	}
	if r.URL.Query().Get("verbose") == "true" {
		status.System = &SystemInfo{
			GoVersion:    runtime.Version(),
			NumGoroutine: runtime.NumGoroutine(),
			NumCPU:       runtime.NumCPU(),
		}
	}

	code := http.StatusOK
	if status.Status != statusHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// Liveness handles GET /health/live - simple liveness check.
func (h *HealthHandler) Liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Readiness handles GET /health/ready - checks if the service is ready to accept traffic.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.checkDatabase(r.Context()).Status != statusHealthy {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// checkDatabase verifies database connectivity.
func (h *HealthHandler) checkDatabase(ctx context.Context) Check {
	return ping(ctx, h.db.PingContext, "Connected")
}

func (h *HealthHandler) checkCache(ctx context.Context) Check {
	if h.cache == nil {
		return Check{Status: statusDisabled, Message: "No statistics cache"}
	}
	c := ping(ctx, h.cache.Ping, "Connected")
	if c.Status == statusHealthy {
		ctx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		stats := h.cache.Stats(ctx)
		c.Message = string(stats.Backend)
		c.Cache = &stats
	}
	return c
}

func (h *HealthHandler) checkGeoIP() Check {
	if h.geo == nil || !h.geo.IsEnabled() {
		return Check{Status: statusDisabled, Message: "No GeoIP database loaded"}
	}
	return Check{Status: statusHealthy, Message: "Loaded"}
}

func ping(ctx context.Context, fn func(context.Context) error, ok string) Check {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	latency := time.Since(start)
	if err != nil {
		return Check{Status: statusUnhealthy, Message: err.Error(), Latency: latency.String()}
	}
	return Check{Status: statusHealthy, Message: ok, Latency: latency.String()}
}
