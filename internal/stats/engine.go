// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package stats answers read queries over sessions, page views and daily
// aggregates: overview totals, breakdowns, time buckets, trends, growth and
// real-time activity.
package stats

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/olegiv/ocms-analytics/internal/cache"
	"github.com/olegiv/ocms-analytics/internal/classify"
	"github.com/olegiv/ocms-analytics/internal/geoip"
	"github.com/olegiv/ocms-analytics/internal/metrics"
	"github.com/olegiv/ocms-analytics/internal/model"
	"github.com/olegiv/ocms-analytics/internal/store"
)

// DefaultTopN is the number of rows kept per breakdown.
const DefaultTopN = 10

// DefaultCacheTTL is used when WithCache is given a non-positive TTL.
const DefaultCacheTTL = time.Minute

// resultKeyPrefix prefixes every cached query result.
const resultKeyPrefix = "stats:"

// Store is the read side the query engine needs. *store.Queries satisfies it.
type Store interface {
	SessionOverview(ctx context.Context, f store.Filter) (store.SessionTotals, error)
	PageViewOverview(ctx context.Context, f store.Filter) (store.PageViewTotals, error)
	SessionCountsBy(ctx context.Context, f store.Filter, dim store.Dimension, limit int) ([]store.GroupCount, error)
	PageViewCountsBy(ctx context.Context, f store.Filter, dim store.Dimension, limit int) ([]store.GroupCount, error)
	BrowserOSCounts(ctx context.Context, f store.Filter, limit int) ([]store.PairCount, error)
	SessionBuckets(ctx context.Context, f store.Filter, unit store.BucketUnit) ([]store.BucketCount, error)
	PageViewBuckets(ctx context.Context, f store.Filter, unit store.BucketUnit) ([]store.BucketCount, error)
	CountActiveSessions(ctx context.Context, f store.Filter, endedAfter time.Time) (int64, error)
	ListSessions(ctx context.Context, f store.Filter, sort store.Sort, limit, offset int, withPageViews bool) ([]store.SessionRow, error)
	ListDailyStats(ctx context.Context, fromDate, toDate string, sort store.Sort) ([]model.DailyStats, error)
	MonthlyStats(ctx context.Context, fromDate, toDate string) ([]model.MonthlyStats, error)
}

// Engine is the Statistics Query Engine.
type Engine struct {
	store     Store
	logger    *slog.Logger
	metrics   *metrics.Metrics
	cache     *cache.TypedCache[Result]
	cacheTTL  time.Duration
	now       func() time.Time
	pageViews bool
	topN      int
}

// Option configures an Engine.
type Option func(*Engine)

// WithPageViews declares whether the page-view source is available. When it
// is not, page-view metrics are reported as zero and flagged as degraded.
func WithPageViews(enabled bool) Option {
	return func(e *Engine) { e.pageViews = enabled }
}

// WithCache caches query results in c for ttl. Real-time blocks are never cached.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(e *Engine) {
		if c == nil {
			return
		}
		if ttl <= 0 {
			ttl = DefaultCacheTTL
		}
		e.cache = cache.NewTypedCache[Result](c, ttl)
		e.cacheTTL = ttl
	}
}

// WithMetrics records query durations, cache lookups and degraded sources.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithTopN sets how many rows each breakdown keeps.
func WithTopN(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.topN = n
		}
	}
}

// New creates a query Engine. The page-view source is assumed available.
func New(s Store, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:     s,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		pageViews: true,
		topN:      DefaultTopN,
	}
	for _, opt := range opts {
		opt(e)
	}
	if !e.pageViews {
		e.logger.Warn("page view source disabled, page view metrics will report zero",
			"category", model.EventCategoryStats)
	}
	return e
}

// Invalidate drops every cached query result so the next queries see freshly
// rolled-up DailyStats rows. It is a no-op without a cache.
func (e *Engine) Invalidate(ctx context.Context) error {
	if e.cache == nil {
		return nil
	}
	return e.cache.Invalidate(ctx, resultKeyPrefix)
}

// Query answers a full statistics request. Validation failures are returned
// as *model.ValidationError; any storage failure fails the whole query except
// an unavailable page-view source, which is reported in Result.Degraded.
func (e *Engine) Query(ctx context.Context, p Params) (*Result, error) {
	started := time.Now()

	if err := p.Validate(); err != nil {
		return nil, err
	}
	sort, err := p.resolveSort(DailySortFields, "date", false)
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	w, err := p.ResolveWindow(now)
	if err != nil {
		return nil, err
	}

	load := func() (*Result, error) {
		return e.compute(ctx, p, w, sort, now)
	}

	var res *Result
	if e.cache != nil {
		key := resultKeyPrefix + p.cacheKey() + ":" + strconv.FormatInt(now.Truncate(e.cacheTTL).Unix(), 10)
		var hit bool
		res, hit, err = e.cache.GetOrSet(ctx, key, load)
		e.metrics.RecordCacheLookup(hit)
		if err == nil {
			res.Cached = hit
		}
	} else {
		res, err = load()
	}
	if err != nil {
		e.logger.Error("statistics query failed", "category", model.EventCategoryStats, "error", err)
		return nil, err
	}

	rt, err := e.Realtime(ctx, p, ScopeToday)
	if err != nil {
		return nil, err
	}
	res.Realtime = *rt
	res.Degraded = mergeSources(res.Degraded, rt.Degraded)

	e.metrics.RecordQuery("statistics", time.Since(started))
	return res, nil
}

func (e *Engine) compute(ctx context.Context, p Params, w Window, sort store.Sort, now time.Time) (*Result, error) {
	f := p.filter(w)
	deg := &degradation{}
	res := &Result{Window: w, GeneratedAt: now}

	// Breakdown percentages need the totals first.
	if err := e.overview(ctx, f, deg, &res.Overview); err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.sessionBreakdowns(gctx, f, res.Overview.TotalSessions, &res.Breakdowns)
	})
	g.Go(func() error {
		return e.pageViewBreakdowns(gctx, f, res.Overview.TotalPageViews, deg, &res.Breakdowns)
	})
	g.Go(func() error {
		var err error
		res.Hourly, err = e.hourly(gctx, f, deg)
		return err
	})
	g.Go(func() error {
		var err error
		res.Weekly, err = e.weekly(gctx, f, deg)
		return err
	})
	g.Go(func() error {
		var err error
		res.Daily, err = e.store.ListDailyStats(gctx, w.FirstDate(), w.LastDate(), sort)
		return err
	})
	g.Go(func() error {
		var err error
		res.Monthly, err = e.store.MonthlyStats(gctx, w.FirstDate(), w.LastDate())
		return err
	})
	g.Go(func() error {
		var err error
		res.Growth.Period, err = e.periodGrowth(gctx, p, w, res.Overview, deg)
		return err
	})
	g.Go(func() error {
		recent := Window{From: now.Add(-24 * time.Hour), To: now}
		var err error
		res.Growth.Last24h, err = e.compare(gctx, p, recent, recent.Previous(), deg)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if res.Daily == nil {
		res.Daily = []model.DailyStats{}
	}
	if res.Monthly == nil {
		res.Monthly = []model.MonthlyStats{}
	}
	res.Degraded = deg.list()
	return res, nil
}

// pageViewQuery runs fn against the page-view source. When the source is
// disabled or missing, fn's result is left at zero and the query is marked
// degraded instead of failing. A disabled source is logged once by New.
func (e *Engine) pageViewQuery(deg *degradation, query string, fn func() error) error {
	if !e.pageViews {
		if deg.mark(SourcePageViews) {
			e.metrics.RecordDegraded(SourcePageViews)
		}
		return nil
	}
	err := fn()
	if errors.Is(err, model.ErrSourceUnavailable) {
		if deg.mark(SourcePageViews) {
			e.logger.Warn("page view source unavailable, reporting zero",
				"category", model.EventCategoryStats, "query", query)
			e.metrics.RecordDegraded(SourcePageViews)
		}
		return nil
	}
	return err
}

func (e *Engine) overview(ctx context.Context, f store.Filter, deg *degradation, out *Overview) error {
	st, err := e.store.SessionOverview(ctx, f)
	if err != nil {
		return err
	}
	var pv store.PageViewTotals
	if err := e.pageViewQuery(deg, "overview", func() error {
		var err error
		pv, err = e.store.PageViewOverview(ctx, f)
		return err
	}); err != nil {
		return err
	}

	*out = Overview{
		TotalSessions:      st.Sessions,
		TotalPageViews:     pv.PageViews,
		UniqueVisitors:     st.UniqueVisitors,
		UniqueUsers:        st.UniqueUsers,
		AvgSessionDuration: model.Round2(st.AvgDuration),
		AvgTimeOnPage:      model.Round2(pv.AvgTimeOnPage),
	}
	if st.Sessions > 0 {
		out.PagesPerSession = model.Round2(float64(pv.PageViews) / float64(st.Sessions))
	}
	return nil
}

func (e *Engine) sessionBreakdowns(ctx context.Context, f store.Filter, total int64, out *Breakdowns) error {
	g, gctx := errgroup.WithContext(ctx)
	group := func(dim store.Dimension, limit int, dst *[]Share) {
		g.Go(func() error {
			rows, err := e.store.SessionCountsBy(gctx, f, dim, limit)
			if err != nil {
				return err
			}
			*dst = shares(rows, total)
			return nil
		})
	}
	group(store.DimDevice, 0, &out.Devices)
	group(store.DimBot, 0, &out.Bots)
	group(store.DimUserType, 0, &out.UserTypes)
	group(store.DimCountry, e.topN, &out.Countries)
	group(store.DimCity, e.topN, &out.Cities)
	group(store.DimBrowser, e.topN, &out.Browsers)
	group(store.DimOS, e.topN, &out.OperatingSystems)
	group(store.DimLanguage, e.topN, &out.Languages)
	group(store.DimLandingPage, e.topN, &out.EntryPages)

	g.Go(func() error {
		// Referrers are merged by host, so the full list is read before truncating.
		rows, err := e.store.SessionCountsBy(gctx, f, store.DimReferrer, 0)
		if err != nil {
			return err
		}
		out.TopReferrers = shares(mergeReferrers(rows, e.topN), total)
		return nil
	})
	g.Go(func() error {
		rows, err := e.store.BrowserOSCounts(gctx, f, e.topN)
		if err != nil {
			return err
		}
		pairs := make([]BrowserOSShare, 0, len(rows))
		for _, r := range rows {
			pairs = append(pairs, BrowserOSShare{
				Browser: r.Browser,
				OS:      r.OS,
				Count:   r.Count,
				Percent: model.Percent(r.Count, total),
			})
		}
		out.BrowserOS = pairs
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	for i := range out.Countries {
		out.Countries[i].Name = geoip.CountryName(out.Countries[i].Key)
	}
	return nil
}

func (e *Engine) pageViewBreakdowns(ctx context.Context, f store.Filter, total int64, deg *degradation, out *Breakdowns) error {
	out.TopPages = []Share{}
	out.ExitPages = []Share{}
	return e.pageViewQuery(deg, "page view breakdowns", func() error {
		pages, err := e.store.PageViewCountsBy(ctx, f, store.DimPage, e.topN)
		if err != nil {
			return err
		}
		exits, err := e.store.PageViewCountsBy(ctx, f, store.DimExitPage, 0)
		if err != nil {
			return err
		}
		out.TopPages = shares(pages, total)
		out.ExitPages = shares(exits, total)
		return nil
	})
}

// hourly returns 24 buckets, hour 0 first, with empty hours zero-filled.
func (e *Engine) hourly(ctx context.Context, f store.Filter, deg *degradation) ([]HourBucket, error) {
	sessions, views, err := e.buckets(ctx, f, store.BucketHour, deg)
	if err != nil {
		return nil, err
	}
	out := make([]HourBucket, 24)
	for h := range out {
		out[h].Hour = h
	}
	for _, b := range sessions {
		if b.Bucket >= 0 && b.Bucket < 24 {
			out[b.Bucket].Sessions += b.Count
		}
	}
	for _, b := range views {
		if b.Bucket >= 0 && b.Bucket < 24 {
			out[b.Bucket].PageViews += b.Count
		}
	}
	return out, nil
}

// weekly returns 7 buckets, Monday first, with empty days zero-filled.
func (e *Engine) weekly(ctx context.Context, f store.Filter, deg *degradation) ([]WeekdayBucket, error) {
	sessions, views, err := e.buckets(ctx, f, store.BucketWeekday, deg)
	if err != nil {
		return nil, err
	}
	out := make([]WeekdayBucket, 7)
	for i := range out {
		out[i].Weekday = time.Weekday((i + 1) % 7).String()
	}
	// SQLite %w counts from Sunday = 0.
	for _, b := range sessions {
		if b.Bucket >= 0 && b.Bucket < 7 {
			out[(b.Bucket+6)%7].Sessions += b.Count
		}
	}
	for _, b := range views {
		if b.Bucket >= 0 && b.Bucket < 7 {
			out[(b.Bucket+6)%7].PageViews += b.Count
		}
	}
	return out, nil
}

func (e *Engine) buckets(ctx context.Context, f store.Filter, unit store.BucketUnit, deg *degradation) (sessions, views []store.BucketCount, err error) {
	sessions, err = e.store.SessionBuckets(ctx, f, unit)
	if err != nil {
		return nil, nil, err
	}
	err = e.pageViewQuery(deg, "buckets", func() error {
		var err error
		views, err = e.store.PageViewBuckets(ctx, f, unit)
		return err
	})
	return sessions, views, err
}

// periodGrowth compares the queried window, whose totals are already known,
// with the window of equal length before it.
func (e *Engine) periodGrowth(ctx context.Context, p Params, w Window, cur Overview, deg *degradation) (Comparison, error) {
	prev, err := e.totals(ctx, p.filter(w.Previous()), deg)
	if err != nil {
		return Comparison{}, err
	}
	return Comparison{
		Sessions:       newChange(cur.TotalSessions, prev.TotalSessions),
		PageViews:      newChange(cur.TotalPageViews, prev.TotalPageViews),
		UniqueVisitors: newChange(cur.UniqueVisitors, prev.UniqueVisitors),
	}, nil
}

func (e *Engine) compare(ctx context.Context, p Params, current, previous Window, deg *degradation) (Comparison, error) {
	cur, err := e.totals(ctx, p.filter(current), deg)
	if err != nil {
		return Comparison{}, err
	}
	prev, err := e.totals(ctx, p.filter(previous), deg)
	if err != nil {
		return Comparison{}, err
	}
	return Comparison{
		Sessions:       newChange(cur.TotalSessions, prev.TotalSessions),
		PageViews:      newChange(cur.TotalPageViews, prev.TotalPageViews),
		UniqueVisitors: newChange(cur.UniqueVisitors, prev.UniqueVisitors),
	}, nil
}

// totals reads the three growth metrics for f.
func (e *Engine) totals(ctx context.Context, f store.Filter, deg *degradation) (Overview, error) {
	st, err := e.store.SessionOverview(ctx, f)
	if err != nil {
		return Overview{}, err
	}
	out := Overview{TotalSessions: st.Sessions, UniqueVisitors: st.UniqueVisitors}
	err = e.pageViewQuery(deg, "growth", func() error {
		pv, err := e.store.PageViewOverview(ctx, f)
		out.TotalPageViews = pv.PageViews
		return err
	})
	return out, err
}

// Realtime reports live activity: sessions that are open or ended within the
// last 30 minutes, plus counters since the start of the scope. ScopeToday
// starts at UTC midnight, ScopeLast24h 24 hours ago. The date window of p is
// ignored; its dimension filters apply.
func (e *Engine) Realtime(ctx context.Context, p Params, scope string) (*Realtime, error) {
	started := time.Now()
	now := e.now().UTC()

	var since time.Time
	switch scope {
	case "", ScopeToday:
		scope = ScopeToday
		since, _ = model.DayBounds(now)
	case ScopeLast24h:
		since = now.Add(-24 * time.Hour)
	default:
		return nil, &model.ValidationError{Field: "scope", Value: scope, Allowed: []string{ScopeToday, ScopeLast24h}}
	}

	f := p.filter(Window{From: since})
	deg := &degradation{}
	rt := &Realtime{Scope: scope, Since: since}

	active, err := e.store.CountActiveSessions(ctx, f, now.Add(-ActiveWindow))
	if err != nil {
		return nil, err
	}
	st, err := e.store.SessionOverview(ctx, f)
	if err != nil {
		return nil, err
	}
	rt.ActiveNow = active
	rt.Sessions = st.Sessions
	rt.UniqueVisitors = st.UniqueVisitors

	if err := e.pageViewQuery(deg, "realtime", func() error {
		pv, err := e.store.PageViewOverview(ctx, f)
		rt.PageViews = pv.PageViews
		return err
	}); err != nil {
		return nil, err
	}
	rt.Degraded = deg.list()

	e.metrics.RecordQuery("realtime", time.Since(started))
	return rt, nil
}

// ListSessions returns one page of sessions matching p, sorted by one of
// SessionSortFields (default start_time DESC).
func (e *Engine) ListSessions(ctx context.Context, p Params) (*SessionPage, error) {
	started := time.Now()

	if err := p.Validate(); err != nil {
		return nil, err
	}
	sort, err := p.resolveSort(SessionSortFields, "start_time", true)
	if err != nil {
		return nil, err
	}
	w, err := p.ResolveWindow(e.now())
	if err != nil {
		return nil, err
	}
	page, limit, offset := p.pagination()
	f := p.filter(w)

	totals, err := e.store.SessionOverview(ctx, f)
	if err != nil {
		return nil, err
	}

	deg := &degradation{}
	var rows []store.SessionRow
	err = e.pageViewQuery(deg, "list sessions", func() error {
		var err error
		rows, err = e.store.ListSessions(ctx, f, sort, limit, offset, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(deg.list()) > 0 {
		rows, err = e.store.ListSessions(ctx, f, sort, limit, offset, false)
		if err != nil {
			return nil, err
		}
	}
	if rows == nil {
		rows = []store.SessionRow{}
	}

	e.metrics.RecordQuery("sessions", time.Since(started))
	return &SessionPage{
		Window:     w,
		Sessions:   rows,
		Pagination: newPagination(page, limit, totals.Sessions),
		Degraded:   deg.list(),
	}, nil
}

// DailyTrend returns the DailyStats rows inside the window of p, sorted by
// one of DailySortFields (default date ASC). Dimension filters do not apply
// to pre-aggregated rows.
func (e *Engine) DailyTrend(ctx context.Context, p Params) ([]model.DailyStats, error) {
	started := time.Now()

	if err := p.Validate(); err != nil {
		return nil, err
	}
	sort, err := p.resolveSort(DailySortFields, "date", false)
	if err != nil {
		return nil, err
	}
	w, err := p.ResolveWindow(e.now())
	if err != nil {
		return nil, err
	}
	rows, err := e.store.ListDailyStats(ctx, w.FirstDate(), w.LastDate(), sort)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []model.DailyStats{}
	}

	e.metrics.RecordQuery("daily_trend", time.Since(started))
	return rows, nil
}

// shares converts grouped counts into Shares of total. The row order is kept.
func shares(rows []store.GroupCount, total int64) []Share {
	out := make([]Share, 0, len(rows))
	for _, r := range rows {
		out = append(out, Share{Key: r.Key, Count: r.Count, Percent: model.Percent(r.Count, total)})
	}
	return out
}

// mergeReferrers folds referrer URLs into hosts, sorted by count descending.
// Ties keep first-seen order. A positive limit truncates the result.
func mergeReferrers(rows []store.GroupCount, limit int) []store.GroupCount {
	index := make(map[string]int)
	var out []store.GroupCount
	for _, r := range rows {
		host := classify.ReferrerHost(r.Key)
		if host == "" {
			continue
		}
		if i, ok := index[host]; ok {
			out[i].Count += r.Count
			continue
		}
		index[host] = len(out)
		out = append(out, store.GroupCount{Key: host, Count: r.Count})
	}
	slices.SortStableFunc(out, func(a, b store.GroupCount) int {
		return cmp.Compare(b.Count, a.Count)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
