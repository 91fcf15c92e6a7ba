// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"

	"github.com/olegiv/ocms-analytics/internal/model"
	"github.com/olegiv/ocms-analytics/internal/util"
)

// CreatePageView appends a page view row and sets its ID.
func (q *Queries) CreatePageView(ctx context.Context, pv *model.PageView) error {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO page_views (session_id, user_id, page, title, time_on_page, exit_page, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, pv.SessionID, util.NullInt64FromPtr(pv.UserID), pv.Page, pv.Title,
		util.NullInt64FromPtr(pv.TimeOnPage), boolToInt(pv.ExitPage), FormatTime(pv.CreatedAt))
	if err != nil {
		return pageViewErr("create page view", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		pv.ID = id
	}
	return nil
}

// LastPageView returns the most recent page view of a session.
// A session without page views yields a PersistenceError wrapping sql.ErrNoRows.
func (q *Queries) LastPageView(ctx context.Context, sessionID string) (model.PageView, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, session_id, user_id, page, title, time_on_page, exit_page, created_at
		FROM page_views
		WHERE session_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, sessionID)

	var (
		pv         model.PageView
		userID     sql.NullInt64
		timeOnPage sql.NullInt64
		exitPage   int
		createdAt  string
	)
	if err := row.Scan(&pv.ID, &pv.SessionID, &userID, &pv.Page, &pv.Title, &timeOnPage, &exitPage, &createdAt); err != nil {
		return model.PageView{}, pageViewErr("last page view", err)
	}
	ct, err := ParseTime(createdAt)
	if err != nil {
		return model.PageView{}, model.WrapPersistence("last page view", err)
	}
	pv.CreatedAt = ct
	pv.UserID = util.PtrFromNullInt64(userID)
	pv.TimeOnPage = util.PtrFromNullInt64(timeOnPage)
	pv.ExitPage = exitPage == 1
	return pv, nil
}

// BackfillPageView sets time_on_page when it is still unknown and overwrites exit_page.
func (q *Queries) BackfillPageView(ctx context.Context, id int64, timeOnPage int64, exitPage bool) error {
	if timeOnPage < 0 {
		timeOnPage = 0
	}
	_, err := q.db.ExecContext(ctx, `
		UPDATE page_views
		SET time_on_page = COALESCE(time_on_page, ?), exit_page = ?
		WHERE id = ?
	`, timeOnPage, boolToInt(exitPage), id)
	return pageViewErr("backfill page view", err)
}

// DeletePageViewsBefore removes page views created before cutoff.
func (q *Queries) DeletePageViewsBefore(ctx context.Context, cutoff string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM page_views WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, pageViewErr("delete page views", err)
	}
	return res.RowsAffected()
}
