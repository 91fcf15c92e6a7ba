// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package stats

import (
	"slices"
	"sync"
	"time"

	"github.com/olegiv/ocms-analytics/internal/model"
	"github.com/olegiv/ocms-analytics/internal/store"
)

// SourcePageViews names the optional page-view source in Degraded lists.
const SourcePageViews = "page_views"

// Share is one row of a breakdown. Percent is relative to the total the
// breakdown is drawn from (sessions or page views) and has two decimals.
type Share struct {
	Key     string  `json:"key"`
	Name    string  `json:"name,omitempty"`
	Count   int64   `json:"count"`
	Percent float64 `json:"percent"`
}

// BrowserOSShare is one row of the browser x OS breakdown.
type BrowserOSShare struct {
	Browser string  `json:"browser"`
	OS      string  `json:"os"`
	Count   int64   `json:"count"`
	Percent float64 `json:"percent"`
}

// Overview holds the headline totals of a window.
type Overview struct {
	TotalSessions      int64   `json:"total_sessions"`
	TotalPageViews     int64   `json:"total_page_views"`
	UniqueVisitors     int64   `json:"unique_visitors"`
	UniqueUsers        int64   `json:"unique_users"`
	AvgSessionDuration float64 `json:"avg_session_duration"`
	AvgTimeOnPage      float64 `json:"avg_time_on_page"`
	PagesPerSession    float64 `json:"pages_per_session"`
}

// Breakdowns holds the grouped counts of a window.
type Breakdowns struct {
	Devices          []Share          `json:"devices"`
	Bots             []Share          `json:"bots"`
	UserTypes        []Share          `json:"user_types"`
	Countries        []Share          `json:"countries"`
	Cities           []Share          `json:"cities"`
	Browsers         []Share          `json:"browsers"`
	OperatingSystems []Share          `json:"operating_systems"`
	BrowserOS        []BrowserOSShare `json:"browser_os"`
	Languages        []Share          `json:"languages"`
	EntryPages       []Share          `json:"entry_pages"`
	TopReferrers     []Share          `json:"top_referrers"`
	TopPages         []Share          `json:"top_pages"`
	ExitPages        []Share          `json:"exit_pages"`
}

// HourBucket is one hour of day (UTC).
type HourBucket struct {
	Hour      int   `json:"hour"`
	Sessions  int64 `json:"sessions"`
	PageViews int64 `json:"page_views"`
}

// WeekdayBucket is one day of week, Monday first.
type WeekdayBucket struct {
	Weekday   string `json:"weekday"`
	Sessions  int64  `json:"sessions"`
	PageViews int64  `json:"page_views"`
}

// Change compares one metric across two windows.
type Change struct {
	Current  int64   `json:"current"`
	Previous int64   `json:"previous"`
	Growth   float64 `json:"growth"`
}

func newChange(current, previous int64) Change {
	return Change{
		Current:  current,
		Previous: previous,
		Growth:   model.Growth(float64(current), float64(previous)),
	}
}

// Comparison is the growth of the headline metrics.
type Comparison struct {
	Sessions       Change `json:"sessions"`
	PageViews      Change `json:"page_views"`
	UniqueVisitors Change `json:"unique_visitors"`
}

// Growth compares the last 24h with the 24h before, and the queried window
// with the equally long window before it.
type Growth struct {
	Last24h Comparison `json:"last_24h"`
	Period  Comparison `json:"period"`
}

// Realtime scopes.
const (
	ScopeToday   = "today"
	ScopeLast24h = "24h"
)

// ActiveWindow is how recently a session may have ended and still count as active.
const ActiveWindow = 30 * time.Minute

// Realtime is the live activity block. It is never cached.
type Realtime struct {
	Scope          string    `json:"scope"`
	Since          time.Time `json:"since"`
	ActiveNow      int64     `json:"active_now"`
	Sessions       int64     `json:"sessions"`
	PageViews      int64     `json:"page_views"`
	UniqueVisitors int64     `json:"unique_visitors"`
	Degraded       []string  `json:"degraded,omitempty"`
}

// Result is the answer to a statistics query.
type Result struct {
	Window      Window               `json:"window"`
	Overview    Overview             `json:"overview"`
	Breakdowns  Breakdowns           `json:"breakdowns"`
	Hourly      []HourBucket         `json:"hourly"`
	Weekly      []WeekdayBucket      `json:"weekly"`
	Daily       []model.DailyStats   `json:"daily"`
	Monthly     []model.MonthlyStats `json:"monthly"`
	Growth      Growth               `json:"growth"`
	Realtime    Realtime             `json:"realtime"`
	Degraded    []string             `json:"degraded,omitempty"`
	Cached      bool                 `json:"cached"`
	GeneratedAt time.Time            `json:"generated_at"`
}

// Pagination describes one page of a list.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, limit int, total int64) Pagination {
	pages := int((total + int64(limit) - 1) / int64(limit))
	return Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: pages,
		HasNext:    page < pages,
	}
}

// SessionPage is one page of the session list.
type SessionPage struct {
	Window     Window             `json:"window"`
	Sessions   []store.SessionRow `json:"sessions"`
	Pagination Pagination         `json:"pagination"`
	Degraded   []string           `json:"degraded,omitempty"`
}

// degradation collects the optional sources a query had to do without.
type degradation struct {
	mu      sync.Mutex
	sources []string
}

// mark records source and reports whether it was new.
func (d *degradation) mark(source string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if slices.Contains(d.sources, source) {
		return false
	}
	d.sources = append(d.sources, source)
	return true
}

func (d *degradation) list() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sources) == 0 {
		return nil
	}
	out := slices.Clone(d.sources)
	slices.Sort(out)
	return out
}

func mergeSources(a, b []string) []string {
	out := slices.Clone(a)
	for _, s := range b {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	if len(out) == 0 {
		return nil
	}
	return out
}
