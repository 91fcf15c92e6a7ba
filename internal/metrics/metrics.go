// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package metrics exposes Prometheus collectors for ingestion, rollups and
// statistics queries. All recording methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ocms_analytics"

// Metrics holds all Prometheus metrics of the analytics engine.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP server metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Ingestion metrics
	TrackedTotal *prometheus.CounterVec // kind: session, page_view, session_end
	DroppedTotal *prometheus.CounterVec // kind, reason

	// Rollup metrics
	RollupsTotal   *prometheus.CounterVec // outcome: ok, failed
	RollupDuration prometheus.Histogram

	// Query metrics
	QueryDuration *prometheus.HistogramVec // query
	DegradedTotal *prometheus.CounterVec   // source
	CacheLookups  *prometheus.CounterVec   // result: hit, miss

	// Database metrics
	DBSessions   prometheus.GaugeFunc
	DBPageViews  prometheus.GaugeFunc
	DBDailyStats prometheus.GaugeFunc
}

// DBStats represents row counts returned by the stats provider function.
type DBStats struct {
	Sessions   int64
	PageViews  int64
	DailyStats int64
}

// cachedDBStats caches dbStatsFunc for one second so a single scrape of the
// three gauges runs one set of queries.
type cachedDBStats struct {
	mu          sync.RWMutex
	getStats    func() DBStats
	cachedStats DBStats
	cachedAt    int64 // Unix nanoseconds
}

func (c *cachedDBStats) get() DBStats {
	now := time.Now().UnixNano()

	c.mu.RLock()
	if now-c.cachedAt <= int64(time.Second) {
		stats := c.cachedStats
		c.mu.RUnlock()
		return stats
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if now-c.cachedAt > int64(time.Second) {
		c.cachedStats = c.getStats()
		c.cachedAt = now
	}
	return c.cachedStats
}

// New creates all metrics and registers them on a fresh registry.
// dbStatsFunc may be nil, in which case the database gauges report zero.
func New(dbStatsFunc func() DBStats) *Metrics {
	if dbStatsFunc == nil {
		dbStatsFunc = func() DBStats { return DBStats{} }
	}
	cache := &cachedDBStats{getStats: dbStatsFunc}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		TrackedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "tracked_total",
				Help:      "Total number of tracking events persisted",
			},
			[]string{"kind"},
		),
		DroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "dropped_total",
				Help:      "Total number of tracking events dropped",
			},
			[]string{"kind", "reason"},
		),
		RollupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rollup",
				Name:      "days_total",
				Help:      "Total number of daily rollups computed",
			},
			[]string{"outcome"},
		),
		RollupDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "rollup",
				Name:      "duration_seconds",
				Help:      "Duration of a single-day rollup in seconds",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
			},
		),
		QueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "stats",
				Name:      "query_duration_seconds",
				Help:      "Duration of statistics queries in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"query"},
		),
		DegradedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stats",
				Name:      "degraded_total",
				Help:      "Total number of queries answered without an optional source",
			},
			[]string{"source"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stats",
				Name:      "cache_lookups_total",
				Help:      "Statistics cache lookups by result",
			},
			[]string{"result"},
		),
		DBSessions: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "db",
				Name:      "sessions",
				Help:      "Number of rows in the sessions table",
			},
			func() float64 { return float64(cache.get().Sessions) },
		),
		DBPageViews: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "db",
				Name:      "page_views",
				Help:      "Number of rows in the page_views table",
			},
			func() float64 { return float64(cache.get().PageViews) },
		),
		DBDailyStats: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "db",
				Name:      "daily_stats",
				Help:      "Number of rows in the daily_stats table",
			},
			func() float64 { return float64(cache.get().DailyStats) },
		),
	}

	m.registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TrackedTotal,
		m.DroppedTotal,
		m.RollupsTotal,
		m.RollupDuration,
		m.QueryDuration,
		m.DegradedTotal,
		m.CacheLookups,
		m.DBSessions,
		m.DBPageViews,
		m.DBDailyStats,
	)

	return m
}

// Registry returns the registry holding all metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records an HTTP request metric.
func (m *Metrics) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordTracked counts a persisted tracking event.
func (m *Metrics) RecordTracked(kind string) {
	if m == nil {
		return
	}
	m.TrackedTotal.WithLabelValues(kind).Inc()
}

// RecordDropped counts a tracking event that could not be persisted.
func (m *Metrics) RecordDropped(kind, reason string) {
	if m == nil {
		return
	}
	m.DroppedTotal.WithLabelValues(kind, reason).Inc()
}

// RecordRollup records the outcome and duration of one daily rollup.
func (m *Metrics) RecordRollup(duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	m.RollupsTotal.WithLabelValues(outcome).Inc()
	m.RollupDuration.Observe(duration.Seconds())
}

// RecordQuery records the duration of a statistics query.
func (m *Metrics) RecordQuery(query string, duration time.Duration) {
	if m == nil {
		return
	}
	m.QueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// RecordDegraded counts a query answered without the named source.
func (m *Metrics) RecordDegraded(source string) {
	if m == nil {
		return
	}
	m.DegradedTotal.WithLabelValues(source).Inc()
}

// RecordCacheLookup counts a statistics cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}
