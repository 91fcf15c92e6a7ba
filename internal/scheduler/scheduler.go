// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package scheduler runs the periodic analytics jobs: the nightly rollup,
// retention cleanup and GeoIP database reload. All schedules are in UTC.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/olegiv/ocms-analytics/internal/model"
	"github.com/olegiv/ocms-analytics/internal/rollup"
)

// Job names.
const (
	JobRollup      = "rollup"
	JobCleanup     = "cleanup"
	JobGeoIPReload = "geoip_reload"
)

// Default schedules.
const (
	DefaultRollupSchedule  = "15 0 * * *"
	DefaultCleanupSchedule = "30 3 * * *"
	DefaultGeoIPSchedule   = "0 4 * * 0"
)

// jobTimeout bounds a single job run.
const jobTimeout = 30 * time.Minute

// Rollup is the part of the rollup engine the jobs use.
type Rollup interface {
	RollupRecent(ctx context.Context, n int) ([]rollup.DayResult, error)
	Cleanup(ctx context.Context, retentionDays int) (rollup.CleanupResult, error)
}

// GeoReloader reloads the GeoIP database from disk.
type GeoReloader interface {
	IsEnabled() bool
	Reload() error
}

// Config holds the job settings.
type Config struct {
	RollupSchedule  string
	RollupDays      int // complete days recomputed per run; 2 covers late writes to yesterday
	CleanupSchedule string
	RetentionDays   int // 0 disables cleanup
	GeoIPSchedule   string
}

// Scheduler owns the cron instance and the analytics jobs.
type Scheduler struct {
	cron     *cron.Cron
	registry *Registry
	rollup   Rollup
	geo      GeoReloader
	cfg      Config
	logger   *slog.Logger
}

// New creates a scheduler. geo may be nil.
func New(r Rollup, geo GeoReloader, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.RollupSchedule == "" {
		cfg.RollupSchedule = DefaultRollupSchedule
	}
	if cfg.RollupDays < 1 {
		cfg.RollupDays = 2
	}
	if cfg.CleanupSchedule == "" {
		cfg.CleanupSchedule = DefaultCleanupSchedule
	}
	if cfg.GeoIPSchedule == "" {
		cfg.GeoIPSchedule = DefaultGeoIPSchedule
	}

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	return &Scheduler{
		cron:     c,
		registry: NewRegistry(c, logger),
		rollup:   r,
		geo:      geo,
		cfg:      cfg,
		logger:   logger,
	}
}

// Registry returns the job registry for listing and manual triggers.
func (s *Scheduler) Registry() *Registry {
	return s.registry
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	if err := s.registry.Add(JobRollup, "Recompute daily stats of the last complete days",
		s.cfg.RollupSchedule, s.runRollup); err != nil {
		return err
	}
	if s.cfg.RetentionDays > 0 {
		if err := s.registry.Add(JobCleanup, "Delete raw sessions and page views past retention",
			s.cfg.CleanupSchedule, s.runCleanup); err != nil {
			return err
		}
	}
	if s.geo != nil && s.geo.IsEnabled() {
		if err := s.registry.Add(JobGeoIPReload, "Reload the GeoIP database",
			s.cfg.GeoIPSchedule, s.geo.Reload); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.cron.Entries()))
	return nil
}

// Stop stops the cron loop and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) runRollup() error {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	results, err := s.rollup.RollupRecent(ctx, s.cfg.RollupDays)
	if err != nil {
		return err
	}
	var failed []string
	for _, r := range results {
		if !r.OK() {
			failed = append(failed, r.Date)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("rollup failed for %v", failed)
	}
	return nil
}

func (s *Scheduler) runCleanup() error {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	res, err := s.rollup.Cleanup(ctx, s.cfg.RetentionDays)
	if err != nil {
		return err
	}
	s.logger.Info("retention cleanup complete", "category", model.EventCategoryRollup,
		"retention_days", s.cfg.RetentionDays,
		"sessions", res.Sessions, "page_views", res.PageViews, "events", res.Events)
	return nil
}
