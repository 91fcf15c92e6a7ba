// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/olegiv/ocms-analytics/internal/model"
)

// SessionAggregate holds the non-bot session figures of one day.
type SessionAggregate struct {
	TotalVisitors  int64
	UniqueVisitors int64
	MobileUsers    int64
	DesktopUsers   int64
	TabletUsers    int64
	AvgDuration    sql.NullFloat64 // NULL when no session of the day has ended
}

// PageViewAggregate holds the page view figures of one day.
type PageViewAggregate struct {
	TotalPageViews int64
	BounceSessions int64
}

// SessionDayAggregate aggregates non-bot sessions started in [from, to).
func (q *Queries) SessionDayAggregate(ctx context.Context, from, to time.Time) (SessionAggregate, error) {
	var agg SessionAggregate
	err := q.db.QueryRowContext(ctx, `
		SELECT
			COUNT(DISTINCT session_id),
			COUNT(DISTINCT ip_address),
			COUNT(DISTINCT CASE WHEN device_type = 'mobile' THEN session_id END),
			COUNT(DISTINCT CASE WHEN device_type = 'desktop' THEN session_id END),
			COUNT(DISTINCT CASE WHEN device_type = 'tablet' THEN session_id END),
			AVG(duration)
		FROM sessions
		WHERE is_bot = 0 AND start_time >= ? AND start_time < ?
	`, FormatTime(from), FormatTime(to)).Scan(
		&agg.TotalVisitors, &agg.UniqueVisitors,
		&agg.MobileUsers, &agg.DesktopUsers, &agg.TabletUsers,
		&agg.AvgDuration,
	)
	if err != nil {
		return SessionAggregate{}, model.WrapPersistence("aggregate sessions", err)
	}
	return agg, nil
}

// PageViewDayAggregate counts page views created in [from, to) and the
// non-bot sessions started in [from, to) that have exactly one of them.
func (q *Queries) PageViewDayAggregate(ctx context.Context, from, to time.Time) (PageViewAggregate, error) {
	var agg PageViewAggregate
	err := q.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			(
				SELECT COUNT(*) FROM (
					SELECT session_id
					FROM page_views
					WHERE created_at >= ?1 AND created_at < ?2
					  AND session_id IN (
						SELECT session_id FROM sessions
						WHERE is_bot = 0 AND start_time >= ?1 AND start_time < ?2
					  )
					GROUP BY session_id
					HAVING COUNT(*) = 1
				)
			)
		FROM page_views
		WHERE created_at >= ?1 AND created_at < ?2
	`, FormatTime(from), FormatTime(to)).Scan(&agg.TotalPageViews, &agg.BounceSessions)
	if err != nil {
		return PageViewAggregate{}, pageViewErr("aggregate page views", err)
	}
	return agg, nil
}

// CountNewVisitors counts distinct non-bot IPs seen in [from, to) that have no
// earlier non-bot session.
func (q *Queries) CountNewVisitors(ctx context.Context, from, to time.Time) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT s.ip_address)
		FROM sessions s
		WHERE s.is_bot = 0 AND s.start_time >= ?1 AND s.start_time < ?2
		  AND NOT EXISTS (
			SELECT 1 FROM sessions p
			WHERE p.is_bot = 0 AND p.ip_address = s.ip_address AND p.start_time < ?1
		  )
	`, FormatTime(from), FormatTime(to)).Scan(&n)
	if err != nil {
		return 0, model.WrapPersistence("count new visitors", err)
	}
	return n, nil
}

// UpsertDailyStats inserts or replaces the row for ds.Date.
func (q *Queries) UpsertDailyStats(ctx context.Context, ds model.DailyStats) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO daily_stats (
			date, total_visitors, unique_visitors, total_page_views, new_users, returning_users,
			mobile_users, desktop_users, tablet_users, bounce_rate, avg_session_duration
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			total_visitors = excluded.total_visitors,
			unique_visitors = excluded.unique_visitors,
			total_page_views = excluded.total_page_views,
			new_users = excluded.new_users,
			returning_users = excluded.returning_users,
			mobile_users = excluded.mobile_users,
			desktop_users = excluded.desktop_users,
			tablet_users = excluded.tablet_users,
			bounce_rate = excluded.bounce_rate,
			avg_session_duration = excluded.avg_session_duration
	`, ds.Date, ds.TotalVisitors, ds.UniqueVisitors, ds.TotalPageViews, ds.NewUsers, ds.ReturningUsers,
		ds.MobileUsers, ds.DesktopUsers, ds.TabletUsers, ds.BounceRate, ds.AvgSessionDuration)
	return model.WrapPersistence("upsert daily stats", err)
}

const dailyStatsColumns = `date, total_visitors, unique_visitors, total_page_views, new_users, returning_users,
	mobile_users, desktop_users, tablet_users, bounce_rate, avg_session_duration`

// GetDailyStats returns the aggregate row for a YYYY-MM-DD date.
func (q *Queries) GetDailyStats(ctx context.Context, date string) (model.DailyStats, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+dailyStatsColumns+` FROM daily_stats WHERE date = ?`, date)
	ds, err := scanDailyStats(row)
	if err != nil {
		return model.DailyStats{}, model.WrapPersistence("get daily stats", err)
	}
	return ds, nil
}

// dailyStatsSortColumns maps sortable fields to columns.
var dailyStatsSortColumns = map[string]string{
	"date":                 "date",
	"total_visitors":       "total_visitors",
	"unique_visitors":      "unique_visitors",
	"total_page_views":     "total_page_views",
	"bounce_rate":          "bounce_rate",
	"avg_session_duration": "avg_session_duration",
}

// ListDailyStats returns rows with fromDate <= date <= toDate.
// Unknown sort fields fall back to date.
func (q *Queries) ListDailyStats(ctx context.Context, fromDate, toDate string, sort Sort) ([]model.DailyStats, error) {
	col, ok := dailyStatsSortColumns[sort.Field]
	if !ok {
		col = "date"
	}
	query := fmt.Sprintf(`SELECT %s FROM daily_stats WHERE date >= ? AND date <= ? ORDER BY %s %s, date ASC`,
		dailyStatsColumns, col, sort.direction())

	rows, err := q.db.QueryContext(ctx, query, fromDate, toDate)
	if err != nil {
		return nil, model.WrapPersistence("list daily stats", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.DailyStats
	for rows.Next() {
		ds, err := scanDailyStats(rows)
		if err != nil {
			return nil, model.WrapPersistence("list daily stats", err)
		}
		out = append(out, ds)
	}
	if err := rows.Err(); err != nil {
		return nil, model.WrapPersistence("list daily stats", err)
	}
	return out, nil
}

func scanDailyStats(r rowScanner) (model.DailyStats, error) {
	var ds model.DailyStats
	err := r.Scan(&ds.Date, &ds.TotalVisitors, &ds.UniqueVisitors, &ds.TotalPageViews, &ds.NewUsers,
		&ds.ReturningUsers, &ds.MobileUsers, &ds.DesktopUsers, &ds.TabletUsers, &ds.BounceRate,
		&ds.AvgSessionDuration)
	return ds, err
}
