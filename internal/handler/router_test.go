// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegiv/ocms-analytics/internal/classify"
	"github.com/olegiv/ocms-analytics/internal/metrics"
	"github.com/olegiv/ocms-analytics/internal/model"
	"github.com/olegiv/ocms-analytics/internal/rollup"
	"github.com/olegiv/ocms-analytics/internal/stats"
	"github.com/olegiv/ocms-analytics/internal/store"
	"github.com/olegiv/ocms-analytics/internal/testutil"
	"github.com/olegiv/ocms-analytics/internal/tracking"
	"github.com/olegiv/ocms-analytics/internal/version"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type testAPI struct {
	router http.Handler
	track  *TrackHandler
	clock  *testutil.Clock
	db     *sql.DB
}

func newTestAPI(t *testing.T, mutate func(*RouterConfig)) *testAPI {
	t.Helper()
	db, cleanup := testutil.TestDB(t)
	t.Cleanup(cleanup)

	logger := testutil.TestLoggerSilent()
	q := store.New(db)
	clock := testutil.NewClock(time.Date(2024, 1, 16, 12, 0, 0, 0, time.UTC))
	c := classify.New("")
	m := metrics.New(nil)

	tr := tracking.New(q, c, logger, tracking.WithClock(clock.Now), tracking.WithMetrics(m))
	track := NewTrackHandler(tr, c, m, logger)
	cfg := RouterConfig{
		Track:   track,
		Rollup:  NewRollupHandler(rollup.New(q, logger, rollup.WithClock(clock.Now)), logger),
		Stats:   NewStatsHandler(stats.New(q, logger, stats.WithClock(clock.Now), stats.WithMetrics(m)), logger),
		Events:  NewEventsHandler(q, logger),
		Health:  NewHealthHandler(db, nil, nil, version.Info{Version: "test"}),
		Metrics: m,
		Logger:  logger,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return &testAPI{router: NewRouter(cfg), track: track, clock: clock, db: db}
}

func (a *testAPI) post(t *testing.T, target, body string) int {
	t.Helper()
	w := serve(a.router, http.MethodPost, target, body)
	a.track.Wait()
	return w.Code
}

func TestRouter_TrackRollupQuery(t *testing.T) {
	api := newTestAPI(t, nil)

	session := `{"session_id":"s1","landing_page":"/","user_agent":"` + chromeUA + `","referrer":"https://www.google.com/search"}`
	require.Equal(t, http.StatusAccepted, api.post(t, RouteTrackSession, session))
	require.Equal(t, http.StatusAccepted, api.post(t, RouteTrackPageView, `{"session_id":"s1","page":"/"}`))
	api.clock.Advance(time.Minute)
	require.Equal(t, http.StatusAccepted, api.post(t, RouteTrackPageView, `{"session_id":"s1","page":"/about"}`))
	api.clock.Advance(30 * time.Second)
	require.Equal(t, http.StatusAccepted, api.post(t, "/api/track/session/s1/end", ""))

	// A replayed session id is dropped but still accepted.
	require.Equal(t, http.StatusAccepted, api.post(t, RouteTrackSession, session))

	w := serve(api.router, http.MethodPost, "/api/admin/rollup/2024-01-16", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var day struct {
		Data model.DailyStats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &day))
	assert.Equal(t, int64(1), day.Data.TotalVisitors)
	assert.Equal(t, int64(2), day.Data.TotalPageViews)
	assert.Equal(t, int64(90), day.Data.AvgSessionDuration)
	assert.Equal(t, float64(0), day.Data.BounceRate)

	w = serve(api.router, http.MethodGet, "/api/admin/stats?date_from=2024-01-16&date_to=2024-01-16", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res struct {
		Data stats.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, int64(1), res.Data.Overview.TotalSessions)
	assert.Equal(t, int64(2), res.Data.Overview.TotalPageViews)
	require.NotEmpty(t, res.Data.Breakdowns.Browsers)
	assert.Equal(t, "Chrome", res.Data.Breakdowns.Browsers[0].Key)
	require.NotEmpty(t, res.Data.Breakdowns.TopReferrers)
	assert.Equal(t, "www.google.com", res.Data.Breakdowns.TopReferrers[0].Key)
	assert.Len(t, res.Data.Hourly, 24)
	require.Len(t, res.Data.Daily, 1)

	w = serve(api.router, http.MethodGet, "/api/admin/stats/sessions?range=7d", "")
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Data stats.SessionPage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, int64(1), page.Data.Pagination.Total)
	require.Len(t, page.Data.Sessions, 1)

	w = serve(api.router, http.MethodGet, "/api/admin/stats/realtime?scope=today", "")
	require.Equal(t, http.StatusOK, w.Code)
	var rt struct {
		Data stats.Realtime `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rt))
	assert.Equal(t, int64(1), rt.Data.Sessions)
	assert.Equal(t, int64(2), rt.Data.PageViews)
}

func TestRouter_ValidationErrors(t *testing.T) {
	api := newTestAPI(t, nil)

	tests := []struct {
		name      string
		method    string
		target    string
		wantField string
	}{
		{"bad rollup date", http.MethodPost, "/api/admin/rollup/2024-02-30", "date"},
		{"range end before start", http.MethodPost, "/api/admin/rollup?from=2024-01-15&to=2024-01-10", "end"},
		{"sort not allowed", http.MethodGet, "/api/admin/stats?sort=password", "sort"},
		{"bad realtime scope", http.MethodGet, "/api/admin/stats/realtime?scope=week", "scope"},
		{"bad range token", http.MethodGet, "/api/admin/stats?range=2w", "range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(api.router, tt.method, tt.target, "")
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, tt.wantField, decodeError(t, w).Field)
		})
	}

	w := serve(api.router, http.MethodGet, "/api/admin/stats?sort=password", "")
	assert.Equal(t, stats.DailySortFields, decodeError(t, w).Allowed)
}

func TestRouter_TrackRateLimit(t *testing.T) {
	api := newTestAPI(t, func(cfg *RouterConfig) {
		cfg.TrackRate = 1
		cfg.TrackBurst = 1
	})

	body := `{"session_id":"s1","page":"/"}`
	assert.Equal(t, http.StatusAccepted, api.post(t, RouteTrackPageView, body))
	assert.Equal(t, http.StatusTooManyRequests, api.post(t, RouteTrackPageView, body))
	// Each tracking route has its own budget.
	assert.Equal(t, http.StatusAccepted, api.post(t, RouteTrackSession, `{"session_id":"s2","landing_page":"/"}`))
}

func TestRouter_AdminAuth(t *testing.T) {
	api := newTestAPI(t, func(cfg *RouterConfig) {
		cfg.AdminAuth = func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Authorization") != "Bearer secret" {
					writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
					return
				}
				next.ServeHTTP(w, r)
			})
		}
	})

	w := serve(api.router, http.MethodGet, "/api/admin/stats", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, http.StatusAccepted, api.post(t, RouteTrackSession, `{"session_id":"s1","landing_page":"/"}`))
	assert.Equal(t, http.StatusOK, serve(api.router, http.MethodGet, RouteHealth, "").Code)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	api := newTestAPI(t, nil)

	w := serve(api.router, http.MethodGet, RouteHealth, "")
	require.Equal(t, http.StatusOK, w.Code)
	var hs HealthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hs))
	assert.Equal(t, statusHealthy, hs.Status)
	assert.Equal(t, "test", hs.Version.Version)
	assert.Equal(t, statusDisabled, hs.Checks["geoip"].Status)

	assert.Equal(t, http.StatusOK, serve(api.router, http.MethodGet, RouteHealthLive, "").Code)
	assert.Equal(t, http.StatusOK, serve(api.router, http.MethodGet, RouteHealthReady, "").Code)

	w = serve(api.router, http.MethodGet, RouteMetrics, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "requests_total")

	_ = api.db.Close()
	w = serve(api.router, http.MethodGet, RouteHealth, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(api.router, http.MethodGet, RouteHealthReady, "").Code)
}

func TestRouter_EventsAndNotFound(t *testing.T) {
	api := newTestAPI(t, nil)
	q := store.New(api.db)
	for i := range 3 {
		_, err := q.CreateEvent(t.Context(), store.CreateEventParams{
			Level:     model.EventLevelWarning,
			Category:  model.EventCategoryTracking,
			Message:   "duplicate tracking event dropped",
			Metadata:  `{"session_id":"s1"}`,
			CreatedAt: time.Date(2024, 1, 16, 10, i, 0, 0, time.UTC),
		})
		require.NoError(t, err)
	}

	w := serve(api.router, http.MethodGet, "/api/admin/events?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data []EventEntry `json:"data"`
		Meta Meta         `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 2)
	assert.Equal(t, int64(3), resp.Meta.Total)
	assert.Equal(t, 2, resp.Meta.Pages)
	assert.Equal(t, "s1", resp.Data[0].Metadata["session_id"])

	w = serve(api.router, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "not_found"))
}
