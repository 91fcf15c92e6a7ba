// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"

	"github.com/olegiv/ocms-analytics/internal/model"
	"github.com/olegiv/ocms-analytics/internal/util"
)

const sessionColumns = `id, session_id, user_id, ip_address, user_agent, device_type, browser, os,
	country, city, referrer, language, landing_page, is_bot, start_time, end_time, duration`

// CreateSession inserts a new session. A duplicate session_id fails with a
// PersistenceError whose IsDuplicate reports true.
func (q *Queries) CreateSession(ctx context.Context, s *model.Session) error {
	var endTime sql.NullString
	if s.EndTime != nil {
		endTime = sql.NullString{String: FormatTime(*s.EndTime), Valid: true}
	}

	res, err := q.db.ExecContext(ctx, `
		INSERT INTO sessions (
			session_id, user_id, ip_address, user_agent, device_type, browser, os,
			country, city, referrer, language, landing_page, is_bot, start_time, end_time, duration
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.SessionID, util.NullInt64FromPtr(s.UserID), s.IPAddress, s.UserAgent, string(s.DeviceType),
		s.Browser, s.OS, s.Country, s.City, s.Referrer, s.Language, s.LandingPage,
		boolToInt(s.IsBot), FormatTime(s.StartTime), endTime, util.NullInt64FromPtr(s.Duration))
	if err != nil {
		return model.WrapPersistence("create session", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		s.ID = id
	}
	return nil
}

// GetSession returns the session with the given id.
// A missing session yields a PersistenceError wrapping sql.ErrNoRows.
func (q *Queries) GetSession(ctx context.Context, sessionID string) (model.Session, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)
	s, err := scanSession(row)
	if err != nil {
		return model.Session{}, model.WrapPersistence("get session", err)
	}
	return s, nil
}

// CloseSession stamps end_time and duration on an open session.
// It reports false when no open session matched.
func (q *Queries) CloseSession(ctx context.Context, sessionID string, s *model.Session) (bool, error) {
	if s.EndTime == nil || s.Duration == nil {
		return false, &model.ValidationError{Field: "end_time", Msg: "must be set together with duration"}
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE sessions SET end_time = ?, duration = ?
		WHERE session_id = ? AND end_time IS NULL
	`, FormatTime(*s.EndTime), *s.Duration, sessionID)
	if err != nil {
		return false, model.WrapPersistence("close session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, model.WrapPersistence("close session", err)
	}
	return n > 0, nil
}

// DeleteSessionsBefore removes sessions that started before cutoff.
func (q *Queries) DeleteSessionsBefore(ctx context.Context, cutoff string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM sessions WHERE start_time < ?`, cutoff)
	if err != nil {
		return 0, model.WrapPersistence("delete sessions", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner, extra ...any) (model.Session, error) {
	var (
		s          model.Session
		userID     sql.NullInt64
		deviceType string
		isBot      int
		startTime  string
		endTime    sql.NullString
		duration   sql.NullInt64
	)
	dest := []any{
		&s.ID, &s.SessionID, &userID, &s.IPAddress, &s.UserAgent, &deviceType, &s.Browser, &s.OS,
		&s.Country, &s.City, &s.Referrer, &s.Language, &s.LandingPage, &isBot, &startTime, &endTime, &duration,
	}
	if err := r.Scan(append(dest, extra...)...); err != nil {
		return model.Session{}, err
	}

	st, err := ParseTime(startTime)
	if err != nil {
		return model.Session{}, err
	}
	s.StartTime = st
	s.DeviceType = model.DeviceType(deviceType)
	s.IsBot = isBot == 1
	s.UserID = util.PtrFromNullInt64(userID)
	if endTime.Valid {
		et, err := ParseTime(endTime.String)
		if err != nil {
			return model.Session{}, err
		}
		s.EndTime = &et
	}
	s.Duration = util.PtrFromNullInt64(duration)
	return s, nil
}
