// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/olegiv/ocms-analytics/internal/model"
	"github.com/olegiv/ocms-analytics/internal/rollup"
)

// Rollup recomputes DailyStats rows. *rollup.Engine satisfies it.
type Rollup interface {
	ComputeDailyStats(ctx context.Context, date string) (*model.DailyStats, error)
	ComputeDateRangeStats(ctx context.Context, start, end string) ([]rollup.DayResult, error)
}

// RollupHandler handles the manual rollup routes.
type RollupHandler struct {
	rollup Rollup
	logger *slog.Logger
}

// NewRollupHandler creates a RollupHandler.
func NewRollupHandler(r Rollup, logger *slog.Logger) *RollupHandler {
	return &RollupHandler{rollup: r, logger: logger}
}

// DayOutcome is the JSON form of one date of a range rollup.
type DayOutcome struct {
	Date  string            `json:"date"`
	OK    bool              `json:"ok"`
	Stats *model.DailyStats `json:"stats,omitempty"`
	Error string            `json:"error,omitempty"`
}

// Day handles POST /api/admin/rollup/{date}.
func (h *RollupHandler) Day(w http.ResponseWriter, r *http.Request) {
	ds, err := h.rollup.ComputeDailyStats(r.Context(), chi.URLParam(r, "date"))
	if err != nil {
		writeServiceError(w, h.logger, "daily rollup", err)
		return
	}
	writeSuccess(w, ds, nil)
}

// Range handles POST /api/admin/rollup?from=YYYY-MM-DD&to=YYYY-MM-DD.
// Failed dates are reported per day; the request itself still succeeds.
func (h *RollupHandler) Range(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	results, err := h.rollup.ComputeDateRangeStats(r.Context(), q.Get("from"), q.Get("to"))
	if err != nil {
		writeServiceError(w, h.logger, "range rollup", err)
		return
	}

	out := make([]DayOutcome, len(results))
	failed := 0
	for i, res := range results {
		out[i] = DayOutcome{Date: res.Date, OK: res.OK(), Stats: res.Stats}
		if !res.OK() {
			failed++
			out[i].Error = "aggregation failed"
		}
	}
	writeSuccess(w, out, &Meta{Total: int64(len(out)), Failed: failed})
}
