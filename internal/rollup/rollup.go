// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package rollup computes the per-day DailyStats aggregate from raw sessions
// and page views. Runs for the same date are serialized; different dates may
// run in parallel.
package rollup

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/olegiv/ocms-analytics/internal/metrics"
	"github.com/olegiv/ocms-analytics/internal/model"
	"github.com/olegiv/ocms-analytics/internal/store"
)

// MaxRangeDays bounds a single date-range recomputation.
const MaxRangeDays = 366

// DefaultParallelism is the number of dates rolled up concurrently by a range job.
const DefaultParallelism = 4

// Store is the persistence the rollup engine needs. *store.Queries satisfies it.
type Store interface {
	SessionDayAggregate(ctx context.Context, from, to time.Time) (store.SessionAggregate, error)
	PageViewDayAggregate(ctx context.Context, from, to time.Time) (store.PageViewAggregate, error)
	CountNewVisitors(ctx context.Context, from, to time.Time) (int64, error)
	UpsertDailyStats(ctx context.Context, ds model.DailyStats) error
	DeleteSessionsBefore(ctx context.Context, cutoff string) (int64, error)
	DeletePageViewsBefore(ctx context.Context, cutoff string) (int64, error)
	DeleteEventsBefore(ctx context.Context, cutoff string) (int64, error)
}

// DayResult is the outcome of one date within a range job.
type DayResult struct {
	Date  string            `json:"date"`
	Stats *model.DailyStats `json:"stats,omitempty"`
	Err   error             `json:"-"`
}

// OK reports whether the date was rolled up.
func (r DayResult) OK() bool {
	return r.Err == nil
}

// Engine is the Daily Rollup Engine.
type Engine struct {
	store       Store
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
	parallelism int
	invalidator Invalidator

	mu    sync.Mutex
	locks map[string]*dateLock
}

type dateLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records rollup outcomes and durations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Invalidator drops derived results that depend on DailyStats rows.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// WithInvalidator calls inv after every successful daily rollup.
func WithInvalidator(inv Invalidator) Option {
	return func(e *Engine) { e.invalidator = inv }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithParallelism sets how many dates a range job computes at once.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// New creates a rollup Engine.
func New(s Store, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:       s,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		parallelism: DefaultParallelism,
		locks:       make(map[string]*dateLock),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// lock acquires the per-date lock and returns its release func.
func (e *Engine) lock(date string) func() {
	e.mu.Lock()
	l, ok := e.locks[date]
	if !ok {
		l = &dateLock{}
		e.locks[date] = l
	}
	l.refs++
	e.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		e.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(e.locks, date)
		}
		e.mu.Unlock()
	}
}

// ComputeDailyStats recomputes and upserts the DailyStats row of a
// YYYY-MM-DD date. Malformed dates yield a ValidationError; storage failures
// yield an AggregationError.
func (e *Engine) ComputeDailyStats(ctx context.Context, date string) (*model.DailyStats, error) {
	day, err := model.ParseDate(date)
	if err != nil {
		return nil, err
	}
	return e.ComputeDailyStatsForDate(ctx, day)
}

// ComputeDailyStatsForDate recomputes the UTC calendar day containing day.
func (e *Engine) ComputeDailyStatsForDate(ctx context.Context, day time.Time) (*model.DailyStats, error) {
	from, to := model.DayBounds(day)
	date := from.Format(model.DateLayout)

	release := e.lock(date)
	defer release()

	started := time.Now()
	ds, err := e.compute(ctx, date, from, to)
	e.metrics.RecordRollup(time.Since(started), err)
	if err != nil {
		e.logger.Error("daily rollup failed", "category", model.EventCategoryRollup, "date", date, "error", err)
		return nil, &model.AggregationError{Date: date, Err: err}
	}

	if e.invalidator != nil {
		if err := e.invalidator.Invalidate(ctx); err != nil {
			e.logger.Warn("statistics cache invalidation failed", "category", model.EventCategoryCache,
				"date", date, "error", err)
		}
	}

	e.logger.Debug("daily rollup complete", "date", date,
		"visitors", ds.TotalVisitors, "page_views", ds.TotalPageViews, "bounce_rate", ds.BounceRate)
	return ds, nil
}

func (e *Engine) compute(ctx context.Context, date string, from, to time.Time) (*model.DailyStats, error) {
	sessions, err := e.store.SessionDayAggregate(ctx, from, to)
	if err != nil {
		return nil, err
	}
	views, err := e.store.PageViewDayAggregate(ctx, from, to)
	if err != nil {
		return nil, err
	}
	newUsers, err := e.store.CountNewVisitors(ctx, from, to)
	if err != nil {
		return nil, err
	}

	ds := &model.DailyStats{
		Date:           date,
		TotalVisitors:  sessions.TotalVisitors,
		UniqueVisitors: sessions.UniqueVisitors,
		TotalPageViews: views.TotalPageViews,
		NewUsers:       newUsers,
		ReturningUsers: max(sessions.UniqueVisitors-newUsers, 0),
		MobileUsers:    sessions.MobileUsers,
		DesktopUsers:   sessions.DesktopUsers,
		TabletUsers:    sessions.TabletUsers,
		BounceRate:     model.Percent(views.BounceSessions, sessions.TotalVisitors),
	}
	if sessions.AvgDuration.Valid {
		avg := sessions.AvgDuration.Float64
		if math.IsNaN(avg) || math.IsInf(avg, 0) || avg < 0 {
			return nil, errors.New("average session duration out of range")
		}
		ds.AvgSessionDuration = int64(math.Round(avg))
	}

	if err := e.store.UpsertDailyStats(ctx, *ds); err != nil {
		return nil, err
	}
	return ds, nil
}

// ComputeDateRangeStats recomputes every date from start to end inclusive.
// A failed date is logged and reported in its DayResult without stopping the
// others. Only an invalid range is returned as an error.
func (e *Engine) ComputeDateRangeStats(ctx context.Context, start, end string) ([]DayResult, error) {
	from, err := model.ParseDate(start)
	if err != nil {
		return nil, &model.ValidationError{Field: "start", Value: start, Msg: "must be a YYYY-MM-DD calendar date"}
	}
	to, err := model.ParseDate(end)
	if err != nil {
		return nil, &model.ValidationError{Field: "end", Value: end, Msg: "must be a YYYY-MM-DD calendar date"}
	}
	if to.Before(from) {
		return nil, &model.ValidationError{Field: "end", Value: end, Msg: "must not be before start"}
	}
	days := int(to.Sub(from).Hours()/24) + 1
	if days > MaxRangeDays {
		return nil, &model.ValidationError{Field: "end", Value: end, Msg: "range exceeds 366 days"}
	}

	results := make([]DayResult, days)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i := range days {
		day := from.AddDate(0, 0, i)
		results[i].Date = day.Format(model.DateLayout)
		g.Go(func() error {
			ds, err := e.ComputeDailyStatsForDate(gctx, day)
			if err != nil {
				e.logger.Warn("date skipped in range rollup", "category", model.EventCategoryRollup,
					"date", results[i].Date, "error", err)
				results[i].Err = err
				return nil
			}
			results[i].Stats = ds
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	e.logger.Info("range rollup complete", "start", start, "end", end, "days", days, "failed", failed)
	return results, nil
}

// RollupRecent recomputes the previous n complete UTC days.
func (e *Engine) RollupRecent(ctx context.Context, n int) ([]DayResult, error) {
	if n < 1 {
		n = 1
	}
	today, _ := model.DayBounds(e.now())
	start := today.AddDate(0, 0, -n).Format(model.DateLayout)
	end := today.AddDate(0, 0, -1).Format(model.DateLayout)
	return e.ComputeDateRangeStats(ctx, start, end)
}

// CleanupResult reports the rows removed by Cleanup.
type CleanupResult struct {
	Sessions  int64 `json:"sessions"`
	PageViews int64 `json:"page_views"`
	Events    int64 `json:"events"`
}

// Cleanup deletes raw sessions, page views and event log rows older than
// retentionDays. DailyStats rows are kept. A non-positive retention is a no-op.
func (e *Engine) Cleanup(ctx context.Context, retentionDays int) (CleanupResult, error) {
	var res CleanupResult
	if retentionDays <= 0 {
		return res, nil
	}
	day, _ := model.DayBounds(e.now())
	cutoff := store.FormatTime(day.AddDate(0, 0, -retentionDays))

	var err error
	if res.PageViews, err = e.store.DeletePageViewsBefore(ctx, cutoff); err != nil {
		if !errors.Is(err, model.ErrSourceUnavailable) {
			return res, err
		}
		e.logger.Warn("page views unavailable, skipped in cleanup", "category", model.EventCategoryRollup)
	}
	if res.Sessions, err = e.store.DeleteSessionsBefore(ctx, cutoff); err != nil {
		return res, err
	}
	if res.Events, err = e.store.DeleteEventsBefore(ctx, cutoff); err != nil {
		return res, err
	}

	if res.Sessions+res.PageViews+res.Events > 0 {
		e.logger.Info("cleaned up old raw analytics data", "older_than", cutoff,
			"sessions", res.Sessions, "page_views", res.PageViews, "events", res.Events)
	}
	return res, nil
}
