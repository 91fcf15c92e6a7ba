// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/olegiv/ocms-analytics/internal/model"
)

// timeLayout is the UTC text format used for every stored timestamp.
// Lexical order matches chronological order, which the range queries rely on.
const timeLayout = "2006-01-02 15:04:05"

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries groups all SQL used by the analytics engine.
type Queries struct {
	db DBTX
}

// New creates a Queries bound to db.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a Queries bound to the transaction.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// FormatTime renders t in the stored UTC layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime parses a stored timestamp as UTC.
func ParseTime(s string) (time.Time, error) {
	return time.ParseInLocation(timeLayout, s, time.UTC)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// pageViewErr maps a missing page_views table to ErrSourceUnavailable so the
// query engine can degrade instead of failing.
func pageViewErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "no such table") {
		return &model.PersistenceError{Op: op, Err: fmt.Errorf("%w: %v", model.ErrSourceUnavailable, err)}
	}
	return model.WrapPersistence(op, err)
}

// whereBuilder accumulates AND-ed conditions with their arguments.
type whereBuilder struct {
	conds []string
	args  []any
}

func (w *whereBuilder) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *whereBuilder) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// likePattern builds a case-insensitive contains pattern with LIKE wildcards escaped.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(s)) + "%"
}

// TableCounts holds the row counts of the analytics tables.
type TableCounts struct {
	Sessions   int64
	PageViews  int64
	DailyStats int64
}

// CountRows returns the row count of every analytics table. A missing
// page_views table counts as zero.
func (q *Queries) CountRows(ctx context.Context) (TableCounts, error) {
	var c TableCounts
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&c.Sessions); err != nil {
		return c, model.WrapPersistence("count sessions", err)
	}
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM daily_stats`).Scan(&c.DailyStats); err != nil {
		return c, model.WrapPersistence("count daily stats", err)
	}
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM page_views`).Scan(&c.PageViews); err != nil {
		if err := pageViewErr("count page views", err); !errors.Is(err, model.ErrSourceUnavailable) {
			return c, err
		}
	}
	return c, nil
}
