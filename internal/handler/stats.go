// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/olegiv/ocms-analytics/internal/model"
	"github.com/olegiv/ocms-analytics/internal/stats"
)

// Stats answers dashboard queries. *stats.Engine satisfies it.
type Stats interface {
	Query(ctx context.Context, p stats.Params) (*stats.Result, error)
	Realtime(ctx context.Context, p stats.Params, scope string) (*stats.Realtime, error)
	ListSessions(ctx context.Context, p stats.Params) (*stats.SessionPage, error)
	DailyTrend(ctx context.Context, p stats.Params) ([]model.DailyStats, error)
}

// StatsHandler handles the statistics query routes.
type StatsHandler struct {
	stats  Stats
	logger *slog.Logger
}

// NewStatsHandler creates a StatsHandler.
func NewStatsHandler(s Stats, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{stats: s, logger: logger}
}

// Query handles GET /api/admin/stats.
func (h *StatsHandler) Query(w http.ResponseWriter, r *http.Request) {
	p, ok := h.params(w, r)
	if !ok {
		return
	}
	res, err := h.stats.Query(r.Context(), p)
	if err != nil {
		writeServiceError(w, h.logger, "statistics query", err)
		return
	}
	writeSuccess(w, res, nil)
}

// Sessions handles GET /api/admin/stats/sessions.
func (h *StatsHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	p, ok := h.params(w, r)
	if !ok {
		return
	}
	page, err := h.stats.ListSessions(r.Context(), p)
	if err != nil {
		writeServiceError(w, h.logger, "session list", err)
		return
	}
	writeSuccess(w, page, nil)
}

// Realtime handles GET /api/admin/stats/realtime?scope=today|24h.
func (h *StatsHandler) Realtime(w http.ResponseWriter, r *http.Request) {
	p, ok := h.params(w, r)
	if !ok {
		return
	}
	rt, err := h.stats.Realtime(r.Context(), p, r.URL.Query().Get("scope"))
	if err != nil {
		writeServiceError(w, h.logger, "realtime query", err)
		return
	}
	writeSuccess(w, rt, nil)
}

// Daily handles GET /api/admin/stats/daily.
func (h *StatsHandler) Daily(w http.ResponseWriter, r *http.Request) {
	p, ok := h.params(w, r)
	if !ok {
		return
	}
	rows, err := h.stats.DailyTrend(r.Context(), p)
	if err != nil {
		writeServiceError(w, h.logger, "daily trend", err)
		return
	}
	writeSuccess(w, rows, &Meta{Total: int64(len(rows))})
}

func (h *StatsHandler) params(w http.ResponseWriter, r *http.Request) (stats.Params, bool) {
	p, err := stats.ParseParams(r.URL.Query())
	if err != nil {
		writeServiceError(w, h.logger, "parse statistics parameters", err)
		return stats.Params{}, false
	}
	return p, true
}
