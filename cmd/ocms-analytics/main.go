// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Command ocms-analytics runs the analytics aggregation engine: the
// tracking and query API, the nightly rollup and retention jobs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/olegiv/ocms-analytics/internal/cache"
	"github.com/olegiv/ocms-analytics/internal/classify"
	"github.com/olegiv/ocms-analytics/internal/config"
	"github.com/olegiv/ocms-analytics/internal/geoip"
	"github.com/olegiv/ocms-analytics/internal/handler"
	"github.com/olegiv/ocms-analytics/internal/logging"
	"github.com/olegiv/ocms-analytics/internal/metrics"
	"github.com/olegiv/ocms-analytics/internal/middleware"
	"github.com/olegiv/ocms-analytics/internal/rollup"
	"github.com/olegiv/ocms-analytics/internal/scheduler"
	"github.com/olegiv/ocms-analytics/internal/stats"
	"github.com/olegiv/ocms-analytics/internal/store"
	"github.com/olegiv/ocms-analytics/internal/tracking"
	"github.com/olegiv/ocms-analytics/internal/version"
)

// Version information - injected at build time via ldflags
var (
	appVersion   = "dev"
	appGitCommit = "unknown"
	appBuildTime = "unknown"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Parse CLI flags
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	rollupDate := flag.String("rollup", "", "Recompute the daily statistics of a YYYY-MM-DD date and exit")

	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "oCMS Analytics - traffic aggregation engine\n\n")
		_, _ = fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		_, _ = fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		_, _ = fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OCMS_DB_PATH           SQLite database path (default: ./data/analytics.db)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OCMS_SERVER_PORT       Server port (default: 8080)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OCMS_ENV               Environment: development|production (default: development)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OCMS_ADMIN_TOKEN       Bearer token for /api/admin (optional)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OCMS_REDIS_URL         Redis URL for the statistics cache (optional)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OCMS_GEOIP_DB_PATH     MaxMind GeoLite2 database (optional)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OCMS_RETENTION_DAYS    Raw data retention in days, 0 keeps everything (default: 365)\n")
	}
	flag.Parse()

	info := version.Info{Version: appVersion, GitCommit: appGitCommit, BuildTime: appBuildTime}
	if *showVersion {
		_, _ = fmt.Printf("ocms-analytics %s\n", info)
		os.Exit(0)
	}

	if err := run(info, *rollupDate); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run(info version.Info, rollupDate string) error {
	// Load .env files if present (development)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	base, logCloser, err := logging.New(logging.Options{
		Level: cfg.LogLevel,
		JSON:  !cfg.IsDevelopment(),
		File:  cfg.LogFile,
	})
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = logCloser.Close() }()
	slog.SetDefault(slog.New(base))

	slog.Info("initializing database", "path", cfg.DBPath)
	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("error closing database connection", "error", err)
		}
	}()
	if err := store.Migrate(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	queries := store.New(db)

	logger := slog.New(logging.NewEventLogHandler(base, queries))
	slog.SetDefault(logger)
	slog.Info("database ready", "event_log_min_level", "warn")

	m := metrics.New(func() metrics.DBStats {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		c, err := queries.CountRows(ctx)
		if err != nil {
			logger.Warn("counting rows for metrics failed", "error", err)
		}
		return metrics.DBStats{Sessions: c.Sessions, PageViews: c.PageViews, DailyStats: c.DailyStats}
	})

	cacheCfg := cache.DefaultConfig()
	cacheCfg.RedisURL = cfg.RedisURL
	cacheCfg.Prefix = cfg.CachePrefix
	cacheCfg.DefaultTTL = cfg.CacheTTLDuration()
	cacheCfg.MaxSize = cfg.CacheMaxSize
	cached, err := cache.NewWithInfo(cacheCfg, logger)
	if err != nil {
		return fmt.Errorf("creating cache: %w", err)
	}
	defer func() { _ = cached.Cache.Close() }()

	statsOpts := []stats.Option{
		stats.WithPageViews(cfg.PageViewsEnabled),
		stats.WithMetrics(m),
	}
	var cacheStatus handler.CacheStatus
	if cfg.CacheTTL > 0 {
		statsOpts = append(statsOpts, stats.WithCache(cached.Cache, cfg.CacheTTLDuration()))
		cacheStatus = cached.Cache
	}
	statsEngine := stats.New(queries, logger, statsOpts...)

	rollupEngine := rollup.New(queries, logger,
		rollup.WithMetrics(m),
		rollup.WithParallelism(cfg.RollupParallelism),
		rollup.WithInvalidator(statsEngine),
	)
	if rollupDate != "" {
		ds, err := rollupEngine.ComputeDailyStats(context.Background(), rollupDate)
		if err != nil {
			return err
		}
		logger.Info("daily statistics recomputed", "date", ds.Date,
			"visitors", ds.TotalVisitors, "page_views", ds.TotalPageViews)
		return nil
	}

	geo := geoip.NewLookup()
	if err := geo.Init(cfg.GeoIPDBPath); err != nil {
		logger.Warn("geoip database unavailable, locations disabled", "category", "geoip",
			"path", cfg.GeoIPDBPath, "error", err)
	}
	defer func() { _ = geo.Close() }()

	classifier := classify.New(cfg.FallbackIP)
	tracker := tracking.New(queries, classifier, logger,
		tracking.WithLocator(geo),
		tracking.WithMetrics(m),
	)

	sched := scheduler.New(rollupEngine, geo, scheduler.Config{
		RollupSchedule:  cfg.RollupSchedule,
		RollupDays:      cfg.RollupDays,
		CleanupSchedule: cfg.CleanupSchedule,
		RetentionDays:   cfg.RetentionDays,
		GeoIPSchedule:   cfg.GeoIPSchedule,
	}, logger)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	var adminAuth func(http.Handler) http.Handler
	if cfg.AdminToken != "" {
		adminAuth = middleware.BearerToken(cfg.AdminToken)
	} else if !cfg.IsDevelopment() {
		logger.Warn("OCMS_ADMIN_TOKEN is not set; the admin API is unauthenticated")
	}

	trackHandler := handler.NewTrackHandler(tracker, classifier, m, logger)
	r := handler.NewRouter(handler.RouterConfig{
		Track:          trackHandler,
		Rollup:         handler.NewRollupHandler(rollupEngine, logger),
		Stats:          handler.NewStatsHandler(statsEngine, logger),
		Events:         handler.NewEventsHandler(queries, logger),
		Health:         handler.NewHealthHandler(db, cacheStatus, geo, info),
		Jobs:           handler.NewJobsHandler(sched.Registry(), logger),
		Metrics:        m,
		Logger:         logger,
		AdminAuth:      adminAuth,
		TrackRate:      cfg.TrackRateLimit,
		TrackBurst:     cfg.TrackRateBurst,
		TrustedProxies: cfg.TrustedProxyPrefixes(),
	})

	srv := &http.Server{
		Addr:              cfg.ServerAddr(),
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.ServerAddr(), "env", cfg.Env, "version", info.Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	trackHandler.Wait()
	tracker.Wait()

	logger.Info("server stopped")
	return nil
}
