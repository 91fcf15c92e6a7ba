// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"time"

	"github.com/olegiv/ocms-analytics/internal/model"
)

// CreateEventParams holds the fields of a new event log entry.
type CreateEventParams struct {
	Level     string
	Category  string
	Message   string
	Metadata  string
	CreatedAt time.Time
}

// CreateEvent appends an entry to the event log.
func (q *Queries) CreateEvent(ctx context.Context, arg CreateEventParams) (model.Event, error) {
	if arg.Metadata == "" {
		arg.Metadata = "{}"
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO event_log (level, category, message, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, arg.Level, arg.Category, arg.Message, arg.Metadata, FormatTime(arg.CreatedAt))
	if err != nil {
		return model.Event{}, model.WrapPersistence("create event", err)
	}
	id, _ := res.LastInsertId()
	return model.Event{
		ID:        id,
		Level:     arg.Level,
		Category:  arg.Category,
		Message:   arg.Message,
		Metadata:  arg.Metadata,
		CreatedAt: arg.CreatedAt.UTC().Truncate(time.Second),
	}, nil
}

// ListEventsParams pages through the event log, newest first.
type ListEventsParams struct {
	Category string
	Limit    int64
	Offset   int64
}

// ListEvents returns event log entries, newest first.
func (q *Queries) ListEvents(ctx context.Context, arg ListEventsParams) ([]model.Event, error) {
	w := &whereBuilder{}
	if arg.Category != "" {
		w.add("category = ?", arg.Category)
	}
	args := append(w.args, arg.Limit, arg.Offset)
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, level, category, message, metadata, created_at
		FROM event_log`+w.sql()+`
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, model.WrapPersistence("list events", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Event
	for rows.Next() {
		var (
			e         model.Event
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.Level, &e.Category, &e.Message, &e.Metadata, &createdAt); err != nil {
			return nil, model.WrapPersistence("list events", err)
		}
		if e.CreatedAt, err = ParseTime(createdAt); err != nil {
			return nil, model.WrapPersistence("list events", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, model.WrapPersistence("list events", err)
	}
	return out, nil
}

// DeleteEventsBefore removes event log entries older than cutoff.
func (q *Queries) DeleteEventsBefore(ctx context.Context, cutoff string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM event_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, model.WrapPersistence("delete events", err)
	}
	return res.RowsAffected()
}

// CountEvents returns the number of event log entries, optionally in one category.
func (q *Queries) CountEvents(ctx context.Context, category string) (int64, error) {
	w := &whereBuilder{}
	if category != "" {
		w.add("category = ?", category)
	}
	var n int64
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_log`+w.sql(), w.args...).Scan(&n); err != nil {
		return 0, model.WrapPersistence("count events", err)
	}
	return n, nil
}
