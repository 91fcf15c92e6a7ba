// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package tracking records visits: it opens and closes sessions and appends
// page views. The Track* methods are the best-effort ingestion boundary and
// never return errors.
package tracking

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/olegiv/ocms-analytics/internal/classify"
	"github.com/olegiv/ocms-analytics/internal/geoip"
	"github.com/olegiv/ocms-analytics/internal/metrics"
	"github.com/olegiv/ocms-analytics/internal/model"
)

// Metric kinds.
const (
	kindSession    = "session"
	kindPageView   = "page_view"
	kindSessionEnd = "session_end"
)

// Store is the persistence the tracker needs. *store.Queries satisfies it.
type Store interface {
	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, sessionID string) (model.Session, error)
	CloseSession(ctx context.Context, sessionID string, s *model.Session) (bool, error)
	CreatePageView(ctx context.Context, pv *model.PageView) error
	LastPageView(ctx context.Context, sessionID string) (model.PageView, error)
	BackfillPageView(ctx context.Context, id int64, timeOnPage int64, exitPage bool) error
}

// Locator resolves an IP to a location. *geoip.Lookup satisfies it.
type Locator interface {
	Locate(ip string) geoip.Location
}

// SessionData is what the caller knows about a starting visit.
type SessionData struct {
	SessionID   string
	UserID      *int64
	IPAddress   string
	UserAgent   string
	Referrer    string
	Language    string
	LandingPage string
}

// PageViewData is what the caller knows about a rendered page.
type PageViewData struct {
	SessionID  string
	UserID     *int64
	Page       string
	Title      string
	TimeOnPage *int64
	ExitPage   bool
}

// Tracker is the Session Tracker and Page-View Recorder.
type Tracker struct {
	store      Store
	classifier *classify.Classifier
	geo        Locator
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time

	// wg tracks writes detached by Middleware.
	wg sync.WaitGroup
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLocator enables country and city resolution.
func WithLocator(l Locator) Option {
	return func(t *Tracker) { t.geo = l }
}

// WithMetrics records ingestion counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates a Tracker.
func New(store Store, classifier *classify.Classifier, logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		store:      store,
		classifier: classifier,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) clock() time.Time {
	return t.now().UTC().Truncate(time.Second)
}

// StartSession classifies and persists a new open session.
func (t *Tracker) StartSession(ctx context.Context, data SessionData) (*model.Session, error) {
	if strings.TrimSpace(data.SessionID) == "" {
		return nil, &model.ValidationError{Field: "session_id", Msg: "is required"}
	}
	if strings.TrimSpace(data.LandingPage) == "" {
		return nil, &model.ValidationError{Field: "landing_page", Msg: "is required"}
	}

	ua := t.classifier.Classify(data.UserAgent)
	s := &model.Session{
		SessionID:   data.SessionID,
		UserID:      data.UserID,
		IPAddress:   data.IPAddress,
		UserAgent:   data.UserAgent,
		DeviceType:  ua.Device,
		Browser:     ua.Browser,
		OS:          ua.OS,
		Referrer:    data.Referrer,
		Language:    data.Language,
		LandingPage: data.LandingPage,
		IsBot:       ua.IsBot,
		StartTime:   t.clock(),
	}
	if t.geo != nil && data.IPAddress != "" {
		loc := t.geo.Locate(data.IPAddress)
		s.Country, s.City = loc.Country, loc.City
	}

	if err := t.store.CreateSession(ctx, s); err != nil {
		return nil, err
	}
	t.logger.Debug("session started", "session_id", s.SessionID, "device", s.DeviceType,
		"browser", s.Browser, "browser_version", ua.BrowserVersion, "os", s.OS, "bot", s.IsBot)
	return s, nil
}

// EndSession closes an open session and marks its last page view as the exit page.
// It reports false, without error, when the session is unknown or already closed.
func (t *Tracker) EndSession(ctx context.Context, sessionID string) (bool, error) {
	s, err := t.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if !s.IsOpen() {
		return false, nil
	}

	end := t.clock()
	s.Close(end)
	closed, err := t.store.CloseSession(ctx, sessionID, &s)
	if err != nil || !closed {
		return false, err
	}

	if last, err := t.store.LastPageView(ctx, sessionID); err == nil {
		t.backfill(ctx, last, end, true)
	} else if !errors.Is(err, sql.ErrNoRows) {
		t.logger.Warn("page view lookup failed on session end", "category", model.EventCategoryTracking,
			"session_id", sessionID, "error", err)
	}
	return true, nil
}

// RecordPageView appends a page view. The previous page view of the session
// gets its time on page backfilled from the gap between the two.
func (t *Tracker) RecordPageView(ctx context.Context, data PageViewData) (*model.PageView, error) {
	pv := &model.PageView{
		SessionID:  data.SessionID,
		UserID:     data.UserID,
		Page:       data.Page,
		Title:      data.Title,
		TimeOnPage: data.TimeOnPage,
		ExitPage:   data.ExitPage,
		CreatedAt:  t.clock(),
	}
	if err := pv.Validate(); err != nil {
		return nil, err
	}

	prev, prevErr := t.store.LastPageView(ctx, data.SessionID)
	if err := t.store.CreatePageView(ctx, pv); err != nil {
		return nil, err
	}

	switch {
	case prevErr == nil:
		t.backfill(ctx, prev, pv.CreatedAt, false)
	case !errors.Is(prevErr, sql.ErrNoRows):
		t.logger.Warn("previous page view lookup failed", "category", model.EventCategoryTracking,
			"session_id", data.SessionID, "error", prevErr)
	}
	return pv, nil
}

func (t *Tracker) backfill(ctx context.Context, pv model.PageView, until time.Time, exit bool) {
	top := model.SecondsBetween(pv.CreatedAt, until)
	if err := t.store.BackfillPageView(ctx, pv.ID, top, exit); err != nil {
		t.logger.Warn("page view backfill failed", "category", model.EventCategoryTracking,
			"page_view_id", pv.ID, "error", err)
	}
}

// TrackSession starts a session, logging and dropping any failure.
// A duplicate session id is a client replay and is dropped, not retried.
func (t *Tracker) TrackSession(ctx context.Context, data SessionData) {
	if _, err := t.StartSession(ctx, data); err != nil {
		t.drop(kindSession, data.SessionID, err)
		return
	}
	t.metrics.RecordTracked(kindSession)
}

// TrackPageView records a page view, logging and dropping any failure.
func (t *Tracker) TrackPageView(ctx context.Context, data PageViewData) {
	if _, err := t.RecordPageView(ctx, data); err != nil {
		t.drop(kindPageView, data.SessionID, err)
		return
	}
	t.metrics.RecordTracked(kindPageView)
}

// TrackEnd ends a session, logging and dropping any failure.
func (t *Tracker) TrackEnd(ctx context.Context, sessionID string) {
	closed, err := t.EndSession(ctx, sessionID)
	if err != nil {
		t.drop(kindSessionEnd, sessionID, err)
		return
	}
	if closed {
		t.metrics.RecordTracked(kindSessionEnd)
	}
}

// TrackVisit records a page view for sessionID, starting the session first
// when it does not exist yet.
func (t *Tracker) TrackVisit(ctx context.Context, session SessionData, view PageViewData, isNew bool) {
	if !isNew {
		_, err := t.store.GetSession(ctx, session.SessionID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			isNew = true
		case err != nil:
			t.drop(kindSession, session.SessionID, err)
			return
		}
	}
	if isNew {
		t.TrackSession(ctx, session)
	}
	t.TrackPageView(ctx, view)
}

func (t *Tracker) drop(kind, sessionID string, err error) {
	var (
		pe *model.PersistenceError
		ve *model.ValidationError
	)
	switch {
	case errors.As(err, &pe) && pe.IsDuplicate():
		t.metrics.RecordDropped(kind, "duplicate")
		t.logger.Warn("duplicate tracking event dropped", "category", model.EventCategoryTracking,
			"kind", kind, "session_id", sessionID)
	case errors.As(err, &ve):
		t.metrics.RecordDropped(kind, "invalid")
		t.logger.Warn("invalid tracking event dropped", "category", model.EventCategoryTracking,
			"kind", kind, "session_id", sessionID, "error", err)
	default:
		t.metrics.RecordDropped(kind, "error")
		t.logger.Error("tracking event dropped", "category", model.EventCategoryTracking,
			"kind", kind, "session_id", sessionID, "error", err)
	}
}
