// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/olegiv/ocms-analytics/internal/metrics"
	"github.com/olegiv/ocms-analytics/internal/middleware"
)

// Route paths.
const (
	RouteTrackSession  = "/api/track/session"
	RouteTrackPageView = "/api/track/pageview"
	RouteTrackEnd      = "/api/track/session/{id}/end"

	RouteAdmin         = "/api/admin"
	RouteRollup        = "/rollup"
	RouteRollupDay     = "/rollup/{date}"
	RouteStats         = "/stats"
	RouteStatsSessions = "/stats/sessions"
	RouteStatsRealtime = "/stats/realtime"
	RouteStatsDaily    = "/stats/daily"
	RouteJobs          = "/jobs"
	RouteJobRun        = "/jobs/{name}/run"
	RouteEvents        = "/events"

	RouteHealth      = "/health"
	RouteHealthLive  = "/health/live"
	RouteHealthReady = "/health/ready"
	RouteMetrics     = "/metrics"
)

// Default limits of the HTTP surface.
const (
	DefaultAdminTimeout = 30 * time.Second
	MaxTrackBodySize    = 16 << 10
)

// RouterConfig wires the API handlers into a router.
type RouterConfig struct {
	Track   *TrackHandler
	Rollup  *RollupHandler
	Stats   *StatsHandler
	Events  *EventsHandler
	Health  *HealthHandler
	Jobs    *JobsHandler // optional
	Metrics *metrics.Metrics

	Logger *slog.Logger

	// AdminAuth guards the /api/admin group. nil leaves it open.
	AdminAuth      func(http.Handler) http.Handler
	// TrackRate and TrackBurst limit tracking requests per client.
	// A non-positive rate disables limiting.
	TrackRate      float64
	TrackBurst     int
	// TrustedProxies are the peers whose X-Forwarded-For is believed when
	// keying the tracking limiter.
	TrustedProxies []netip.Prefix
	AdminTimeout   time.Duration
}

// NewRouter builds the chi router for the API.
func NewRouter(cfg RouterConfig) chi.Router {
	if cfg.AdminTimeout <= 0 {
		cfg.AdminTimeout = DefaultAdminTimeout
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestMetrics(cfg.Metrics))

	r.Get(RouteHealth, cfg.Health.Health)
	r.Get(RouteHealthLive, cfg.Health.Liveness)
	r.Get(RouteHealthReady, cfg.Health.Readiness)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, RouteMetrics, cfg.Metrics.Handler())
	}

	clientKey := middleware.ClientKey(cfg.TrustedProxies)
	limiter := func(kind string) func(http.Handler) http.Handler {
		return middleware.NewRateLimiter(cfg.TrackRate, cfg.TrackBurst, clientKey,
			kind, cfg.Metrics, cfg.Logger).Middleware()
	}
	r.Group(func(r chi.Router) {
		r.Use(middleware.MaxBodySize(MaxTrackBodySize))
		r.With(limiter("session")).Post(RouteTrackSession, cfg.Track.Session)
		r.With(limiter("page_view")).Post(RouteTrackPageView, cfg.Track.PageView)
		r.With(limiter("session_end")).Post(RouteTrackEnd, cfg.Track.End)
	})

	r.Route(RouteAdmin, func(r chi.Router) {
		if cfg.AdminAuth != nil {
			r.Use(cfg.AdminAuth)
		}
		r.Use(middleware.Timeout(cfg.AdminTimeout))

		r.Post(RouteRollup, cfg.Rollup.Range)
		r.Post(RouteRollupDay, cfg.Rollup.Day)

		r.Get(RouteStats, cfg.Stats.Query)
		r.Get(RouteStatsSessions, cfg.Stats.Sessions)
		r.Get(RouteStatsRealtime, cfg.Stats.Realtime)
		r.Get(RouteStatsDaily, cfg.Stats.Daily)

		r.Get(RouteEvents, cfg.Events.List)

		if cfg.Jobs != nil {
			r.Get(RouteJobs, cfg.Jobs.List)
			r.Post(RouteJobRun, cfg.Jobs.Run)
		}
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})
	return r
}
