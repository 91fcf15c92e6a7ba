// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/olegiv/ocms-analytics/internal/model"
)

// User types accepted by Filter.UserType.
const (
	UserTypeAuthenticated = "authenticated"
	UserTypeAnonymous     = "anonymous"
)

// Filter narrows statistics queries. Zero values mean "no restriction".
// The time window is half-open: From <= t < To.
type Filter struct {
	From       time.Time
	To         time.Time
	DeviceType string
	Country    string
	IsBot      *bool
	UserType   string
	Search     string
	Page       string
}

// Sort names a column and direction. Field is matched against per-query allow-lists.
type Sort struct {
	Field string
	Desc  bool
}

func (s Sort) direction() string {
	if s.Desc {
		return "DESC"
	}
	return "ASC"
}

// GroupCount is one row of a single-dimension breakdown.
type GroupCount struct {
	Key   string
	Count int64
}

// PairCount is one row of the browser x OS breakdown.
type PairCount struct {
	Browser string
	OS      string
	Count   int64
}

// BucketCount is one row of an hour-of-day or day-of-week histogram.
type BucketCount struct {
	Bucket int
	Count  int64
}

// SessionTotals is the session side of the overview.
type SessionTotals struct {
	Sessions       int64
	UniqueVisitors int64
	UniqueUsers    int64
	AvgDuration    float64
}

// PageViewTotals is the page view side of the overview.
type PageViewTotals struct {
	PageViews     int64
	AvgTimeOnPage float64
}

// SessionRow is a session with its page view count.
type SessionRow struct {
	model.Session
	PageViews int64 `json:"page_views"`
}

// Dimension is a session column that can be grouped on.
type Dimension string

// Session dimensions.
const (
	DimDevice      Dimension = "device_type"
	DimCountry     Dimension = "country"
	DimCity        Dimension = "city"
	DimBrowser     Dimension = "browser"
	DimOS          Dimension = "os"
	DimLanguage    Dimension = "language"
	DimReferrer    Dimension = "referrer"
	DimLandingPage Dimension = "landing_page"
	DimBot         Dimension = "bot"
	DimUserType    Dimension = "user_type"
)

type dimension struct {
	expr      string
	skipEmpty bool
}

var sessionDimensions = map[Dimension]dimension{
	DimDevice:      {expr: "device_type"},
	DimCountry:     {expr: "country", skipEmpty: true},
	DimCity:        {expr: "city", skipEmpty: true},
	DimBrowser:     {expr: "browser"},
	DimOS:          {expr: "os"},
	DimLanguage:    {expr: "language", skipEmpty: true},
	DimReferrer:    {expr: "referrer", skipEmpty: true},
	DimLandingPage: {expr: "landing_page"},
	DimBot:         {expr: "CASE WHEN is_bot = 1 THEN 'bot' ELSE 'human' END"},
	DimUserType:    {expr: "CASE WHEN user_id IS NULL THEN 'anonymous' ELSE 'authenticated' END"},
}

// Page view dimensions.
const (
	DimPage     Dimension = "page"
	DimExitPage Dimension = "exit_page"
)

var pageViewDimensions = map[Dimension]dimension{
	DimPage:     {expr: "page"},
	DimExitPage: {expr: "CASE WHEN exit_page = 1 THEN 'exit' ELSE 'non_exit' END"},
}

// BucketUnit selects the strftime field used for histograms.
type BucketUnit string

// Bucket units.
const (
	BucketHour    BucketUnit = "%H"
	BucketWeekday BucketUnit = "%w" // 0 = Sunday
)

// sessionDims adds the dimension filters that apply to the sessions table.
func sessionDims(w *whereBuilder, f Filter) {
	if f.DeviceType != "" {
		w.add("device_type = ?", f.DeviceType)
	}
	if f.Country != "" {
		w.add("country = ? COLLATE NOCASE", f.Country)
	}
	if f.IsBot != nil {
		w.add("is_bot = ?", boolToInt(*f.IsBot))
	}
	switch f.UserType {
	case UserTypeAuthenticated:
		w.add("user_id IS NOT NULL")
	case UserTypeAnonymous:
		w.add("user_id IS NULL")
	}
}

func sessionWhere(f Filter) *whereBuilder {
	w := &whereBuilder{}
	if !f.From.IsZero() {
		w.add("start_time >= ?", FormatTime(f.From))
	}
	if !f.To.IsZero() {
		w.add("start_time < ?", FormatTime(f.To))
	}
	sessionDims(w, f)
	if f.Page != "" {
		w.add("landing_page = ?", f.Page)
	}
	if f.Search != "" {
		p := likePattern(f.Search)
		w.add(`(LOWER(session_id) LIKE ? ESCAPE '\' OR LOWER(ip_address) LIKE ? ESCAPE '\'
			OR LOWER(landing_page) LIKE ? ESCAPE '\' OR LOWER(referrer) LIKE ? ESCAPE '\'
			OR LOWER(country) LIKE ? ESCAPE '\' OR LOWER(city) LIKE ? ESCAPE '\'
			OR LOWER(browser) LIKE ? ESCAPE '\' OR LOWER(os) LIKE ? ESCAPE '\')`,
			p, p, p, p, p, p, p, p)
	}
	return w
}

func pageViewWhere(f Filter) *whereBuilder {
	w := &whereBuilder{}
	if !f.From.IsZero() {
		w.add("created_at >= ?", FormatTime(f.From))
	}
	if !f.To.IsZero() {
		w.add("created_at < ?", FormatTime(f.To))
	}
	switch f.UserType {
	case UserTypeAuthenticated:
		w.add("user_id IS NOT NULL")
	case UserTypeAnonymous:
		w.add("user_id IS NULL")
	}
	dims := &whereBuilder{}
	sessionDims(dims, Filter{DeviceType: f.DeviceType, Country: f.Country, IsBot: f.IsBot})
	if len(dims.conds) > 0 {
		w.add("session_id IN (SELECT session_id FROM sessions"+dims.sql()+")", dims.args...)
	}
	if f.Page != "" {
		w.add("page = ?", f.Page)
	}
	if f.Search != "" {
		p := likePattern(f.Search)
		w.add(`(LOWER(page) LIKE ? ESCAPE '\' OR LOWER(title) LIKE ? ESCAPE '\' OR LOWER(session_id) LIKE ? ESCAPE '\')`,
			p, p, p)
	}
	return w
}

// SessionOverview returns session totals for the filter.
func (q *Queries) SessionOverview(ctx context.Context, f Filter) (SessionTotals, error) {
	w := sessionWhere(f)
	var (
		t   SessionTotals
		avg sql.NullFloat64
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT ip_address), COUNT(DISTINCT user_id), AVG(duration)
		FROM sessions`+w.sql(), w.args...).Scan(&t.Sessions, &t.UniqueVisitors, &t.UniqueUsers, &avg)
	if err != nil {
		return SessionTotals{}, model.WrapPersistence("session overview", err)
	}
	t.AvgDuration = avg.Float64
	return t, nil
}

// PageViewOverview returns page view totals for the filter.
func (q *Queries) PageViewOverview(ctx context.Context, f Filter) (PageViewTotals, error) {
	w := pageViewWhere(f)
	var (
		t   PageViewTotals
		avg sql.NullFloat64
	)
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*), AVG(time_on_page) FROM page_views`+w.sql(), w.args...).
		Scan(&t.PageViews, &avg)
	if err != nil {
		return PageViewTotals{}, pageViewErr("page view overview", err)
	}
	t.AvgTimeOnPage = avg.Float64
	return t, nil
}

// SessionCountsBy groups sessions by dim, largest first. Ties keep the order
// in which the groups first appeared. limit <= 0 returns every group.
func (q *Queries) SessionCountsBy(ctx context.Context, f Filter, dim Dimension, limit int) ([]GroupCount, error) {
	d, ok := sessionDimensions[dim]
	if !ok {
		return nil, &model.ValidationError{Field: "dimension", Value: string(dim), Msg: "unsupported session dimension"}
	}
	w := sessionWhere(f)
	if d.skipEmpty {
		w.add(d.expr + " != ''")
	}
	return q.groupCounts(ctx, "sessions", d.expr, w, limit, model.WrapPersistence)
}

// PageViewCountsBy groups page views by dim, largest first.
func (q *Queries) PageViewCountsBy(ctx context.Context, f Filter, dim Dimension, limit int) ([]GroupCount, error) {
	d, ok := pageViewDimensions[dim]
	if !ok {
		return nil, &model.ValidationError{Field: "dimension", Value: string(dim), Msg: "unsupported page view dimension"}
	}
	return q.groupCounts(ctx, "page_views", d.expr, pageViewWhere(f), limit, pageViewErr)
}

func (q *Queries) groupCounts(ctx context.Context, table, expr string, w *whereBuilder, limit int,
	wrap func(string, error) error) ([]GroupCount, error) {
	query := fmt.Sprintf(`SELECT %s AS k, COUNT(*) AS c FROM %s%s GROUP BY k ORDER BY c DESC, MIN(id) ASC`,
		expr, table, w.sql())
	args := w.args
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	op := "count " + table + " by " + expr
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer func() { _ = rows.Close() }()

	var out []GroupCount
	for rows.Next() {
		var g GroupCount
		if err := rows.Scan(&g.Key, &g.Count); err != nil {
			return nil, wrap(op, err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return out, nil
}

// BrowserOSCounts groups sessions by browser and OS, largest first.
func (q *Queries) BrowserOSCounts(ctx context.Context, f Filter, limit int) ([]PairCount, error) {
	w := sessionWhere(f)
	query := `SELECT browser, os, COUNT(*) AS c FROM sessions` + w.sql() +
		` GROUP BY browser, os ORDER BY c DESC, MIN(id) ASC`
	args := w.args
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, model.WrapPersistence("browser os counts", err)
	}
	defer func() { _ = rows.Close() }()

	var out []PairCount
	for rows.Next() {
		var p PairCount
		if err := rows.Scan(&p.Browser, &p.OS, &p.Count); err != nil {
			return nil, model.WrapPersistence("browser os counts", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, model.WrapPersistence("browser os counts", err)
	}
	return out, nil
}

// SessionBuckets counts session starts per hour or weekday. Empty buckets are omitted.
func (q *Queries) SessionBuckets(ctx context.Context, f Filter, unit BucketUnit) ([]BucketCount, error) {
	w := sessionWhere(f)
	return q.buckets(ctx, "sessions", "start_time", unit, w, model.WrapPersistence)
}

// PageViewBuckets counts page views per hour or weekday. Empty buckets are omitted.
func (q *Queries) PageViewBuckets(ctx context.Context, f Filter, unit BucketUnit) ([]BucketCount, error) {
	w := pageViewWhere(f)
	return q.buckets(ctx, "page_views", "created_at", unit, w, pageViewErr)
}

func (q *Queries) buckets(ctx context.Context, table, col string, unit BucketUnit, w *whereBuilder,
	wrap func(string, error) error) ([]BucketCount, error) {
	if unit != BucketHour && unit != BucketWeekday {
		return nil, &model.ValidationError{Field: "bucket", Value: string(unit), Msg: "unsupported bucket unit"}
	}
	query := fmt.Sprintf(`SELECT strftime('%s', %s) AS b, COUNT(*) FROM %s%s GROUP BY b ORDER BY b`,
		unit, col, table, w.sql())

	op := "bucket " + table
	rows, err := q.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer func() { _ = rows.Close() }()

	var out []BucketCount
	for rows.Next() {
		var (
			key sql.NullString
			n   int64
		)
		if err := rows.Scan(&key, &n); err != nil {
			return nil, wrap(op, err)
		}
		b, err := strconv.Atoi(key.String)
		if err != nil {
			continue
		}
		out = append(out, BucketCount{Bucket: b, Count: n})
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return out, nil
}

// CountActiveSessions counts sessions matching f that are still open or
// ended at or after endedAfter.
func (q *Queries) CountActiveSessions(ctx context.Context, f Filter, endedAfter time.Time) (int64, error) {
	w := sessionWhere(f)
	w.add("(end_time IS NULL OR end_time >= ?)", FormatTime(endedAfter))
	var n int64
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`+w.sql(), w.args...).Scan(&n); err != nil {
		return 0, model.WrapPersistence("count active sessions", err)
	}
	return n, nil
}

// sessionSortColumns maps the session list sort fields to SQL.
var sessionSortColumns = map[string]string{
	"start_time":  "start_time",
	"duration":    "duration",
	"country":     "country",
	"device_type": "device_type",
	"browser":     "browser",
	"page_views":  "page_views",
}

// ListSessions returns one page of sessions. When withPageViews is false the
// page view count is reported as zero and the page_views table is not touched.
func (q *Queries) ListSessions(ctx context.Context, f Filter, sort Sort, limit, offset int, withPageViews bool) ([]SessionRow, error) {
	col, ok := sessionSortColumns[sort.Field]
	if !ok {
		col = "start_time"
	}
	pvExpr := "0"
	if withPageViews {
		pvExpr = "(SELECT COUNT(*) FROM page_views pv WHERE pv.session_id = sessions.session_id)"
	}
	w := sessionWhere(f)
	query := fmt.Sprintf(`SELECT %s, %s AS page_views FROM sessions%s ORDER BY %s %s, id %s LIMIT ? OFFSET ?`,
		sessionColumns, pvExpr, w.sql(), col, sort.direction(), sort.direction())
	args := append(w.args, limit, offset)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, pageViewErr("list sessions", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SessionRow
	for rows.Next() {
		var pv int64
		s, err := scanSession(rows, &pv)
		if err != nil {
			return nil, model.WrapPersistence("list sessions", err)
		}
		out = append(out, SessionRow{Session: s, PageViews: pv})
	}
	if err := rows.Err(); err != nil {
		return nil, model.WrapPersistence("list sessions", err)
	}
	return out, nil
}

// MonthlyStats rolls daily rows in [fromDate, toDate] up by calendar month:
// counts are summed, rates and durations averaged.
func (q *Queries) MonthlyStats(ctx context.Context, fromDate, toDate string) ([]model.MonthlyStats, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT substr(date, 1, 7) AS month,
			SUM(total_visitors), SUM(unique_visitors), SUM(total_page_views),
			SUM(new_users), SUM(returning_users),
			SUM(mobile_users), SUM(desktop_users), SUM(tablet_users),
			AVG(bounce_rate), AVG(avg_session_duration), COUNT(*)
		FROM daily_stats
		WHERE date >= ? AND date <= ?
		GROUP BY month
		ORDER BY month ASC
	`, fromDate, toDate)
	if err != nil {
		return nil, model.WrapPersistence("monthly stats", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.MonthlyStats
	for rows.Next() {
		var m model.MonthlyStats
		if err := rows.Scan(&m.Month, &m.TotalVisitors, &m.UniqueVisitors, &m.TotalPageViews,
			&m.NewUsers, &m.ReturningUsers, &m.MobileUsers, &m.DesktopUsers, &m.TabletUsers,
			&m.BounceRate, &m.AvgSessionDuration, &m.Days); err != nil {
			return nil, model.WrapPersistence("monthly stats", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, model.WrapPersistence("monthly stats", err)
	}
	return out, nil
}
