// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/olegiv/ocms-analytics/internal/classify"
	"github.com/olegiv/ocms-analytics/internal/metrics"
	"github.com/olegiv/ocms-analytics/internal/model"
	"github.com/olegiv/ocms-analytics/internal/tracking"
)

// trackTimeout bounds one detached tracking write.
const trackTimeout = 5 * time.Second

// Tracker records visits without reporting failures. *tracking.Tracker satisfies it.
type Tracker interface {
	TrackSession(ctx context.Context, data tracking.SessionData)
	TrackPageView(ctx context.Context, data tracking.PageViewData)
	TrackEnd(ctx context.Context, sessionID string)
}

// TrackHandler accepts tracking events. Every request is answered with
// 202 Accepted; the write happens after the response and failures are
// only logged and counted.
type TrackHandler struct {
	tracker    Tracker
	classifier *classify.Classifier
	metrics    *metrics.Metrics
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// NewTrackHandler creates a TrackHandler.
func NewTrackHandler(t Tracker, c *classify.Classifier, m *metrics.Metrics, logger *slog.Logger) *TrackHandler {
	return &TrackHandler{tracker: t, classifier: c, metrics: m, logger: logger}
}

type sessionRequest struct {
	SessionID   string `json:"session_id"`
	UserID      *int64 `json:"user_id"`
	UserAgent   string `json:"user_agent"`
	Referrer    string `json:"referrer"`
	Language    string `json:"language"`
	LandingPage string `json:"landing_page"`
}

type pageViewRequest struct {
	SessionID  string `json:"session_id"`
	UserID     *int64 `json:"user_id"`
	Page       string `json:"page"`
	Title      string `json:"title"`
	TimeOnPage *int64 `json:"time_on_page"`
	ExitPage   bool   `json:"exit_page"`
}

type acceptedResponse struct {
	Status string `json:"status"`
}

func writeAccepted(w http.ResponseWriter) {
	writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted"})
}

// Session handles POST /api/track/session.
func (h *TrackHandler) Session(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !h.decode(r, "session", &req) {
		writeAccepted(w)
		return
	}

	data := tracking.SessionData{
		SessionID:   req.SessionID,
		UserID:      req.UserID,
		IPAddress:   h.classifier.RequestIP(r),
		UserAgent:   req.UserAgent,
		Referrer:    req.Referrer,
		Language:    req.Language,
		LandingPage: req.LandingPage,
	}
	if data.UserAgent == "" {
		data.UserAgent = r.UserAgent()
	}
	if data.Referrer == "" {
		data.Referrer = r.Referer()
	}
	if data.Language == "" {
		data.Language = classify.PrimaryLanguage(r.Header.Get("Accept-Language"))
	}

	h.detach(r, func(ctx context.Context) { h.tracker.TrackSession(ctx, data) })
	writeAccepted(w)
}

// PageView handles POST /api/track/pageview.
func (h *TrackHandler) PageView(w http.ResponseWriter, r *http.Request) {
	var req pageViewRequest
	if !h.decode(r, "page_view", &req) {
		writeAccepted(w)
		return
	}

	data := tracking.PageViewData{
		SessionID:  req.SessionID,
		UserID:     req.UserID,
		Page:       req.Page,
		Title:      req.Title,
		TimeOnPage: req.TimeOnPage,
		ExitPage:   req.ExitPage,
	}
	h.detach(r, func(ctx context.Context) { h.tracker.TrackPageView(ctx, data) })
	writeAccepted(w)
}

// End handles POST /api/track/session/{id}/end.
func (h *TrackHandler) End(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	h.detach(r, func(ctx context.Context) { h.tracker.TrackEnd(ctx, id) })
	writeAccepted(w)
}

// Wait blocks until all detached tracking writes have finished.
func (h *TrackHandler) Wait() {
	h.wg.Wait()
}

func (h *TrackHandler) decode(r *http.Request, kind string, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.metrics.RecordDropped(kind, "invalid")
		h.logger.Warn("malformed tracking payload dropped", "category", model.EventCategoryTracking,
			"kind", kind, "error", err)
		return false
	}
	return true
}

// detach runs fn after the response with a context that outlives the request.
func (h *TrackHandler) detach(r *http.Request, fn func(ctx context.Context)) {
	ctx := context.WithoutCancel(r.Context())
	h.wg.Go(func() {
		ctx, cancel := context.WithTimeout(ctx, trackTimeout)
		defer cancel()
		fn(ctx)
	})
}
