// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package config loads the engine configuration from environment variables.
package config

import (
	"fmt"
	"net"
	"net/netip"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"

	"github.com/olegiv/ocms-analytics/internal/middleware"
)

var (
	validEnvs      = []string{"development", "production"}
	validLogLevels = []string{"debug", "info", "warn", "error"}
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	DBPath     string `env:"OCMS_DB_PATH" envDefault:"./data/analytics.db"`
	ServerHost string `env:"OCMS_SERVER_HOST" envDefault:"localhost"`
	ServerPort int    `env:"OCMS_SERVER_PORT" envDefault:"8080"`
	Env        string `env:"OCMS_ENV" envDefault:"development"`
	LogLevel   string `env:"OCMS_LOG_LEVEL" envDefault:"info"`
	LogFile    string `env:"OCMS_LOG_FILE"` // Optional rotating log file

	// AdminToken guards /api/admin with a bearer token. Empty leaves it open.
	AdminToken string `env:"OCMS_ADMIN_TOKEN"`

	// Cache configuration
	RedisURL     string `env:"OCMS_REDIS_URL"`                         // Optional Redis URL for the statistics cache
	CachePrefix  string `env:"OCMS_CACHE_PREFIX" envDefault:"ocms:"`   // Redis key prefix
	CacheTTL     int    `env:"OCMS_CACHE_TTL" envDefault:"60"`         // Statistics cache TTL in seconds
	CacheMaxSize int    `env:"OCMS_CACHE_MAX_SIZE" envDefault:"10000"` // Max memory cache entries

	// GeoIP configuration
	GeoIPDBPath string `env:"OCMS_GEOIP_DB_PATH"` // Path to a GeoLite2-City or GeoLite2-Country mmdb file
	FallbackIP  string `env:"OCMS_FALLBACK_IP" envDefault:"0.0.0.0"`

	// Scheduled jobs
	RollupSchedule  string `env:"OCMS_ROLLUP_SCHEDULE" envDefault:"15 0 * * *"`
	RollupDays      int    `env:"OCMS_ROLLUP_DAYS" envDefault:"2"`
	CleanupSchedule string `env:"OCMS_CLEANUP_SCHEDULE" envDefault:"30 3 * * *"`
	GeoIPSchedule   string `env:"OCMS_GEOIP_SCHEDULE" envDefault:"0 4 * * 0"`
	RetentionDays   int    `env:"OCMS_RETENTION_DAYS" envDefault:"365"` // 0 disables cleanup

	// Tracking
	TrackRateLimit    float64  `env:"OCMS_TRACK_RATE_LIMIT" envDefault:"10"`
	TrackRateBurst    int      `env:"OCMS_TRACK_RATE_BURST" envDefault:"20"`
	PageViewsEnabled  bool     `env:"OCMS_PAGE_VIEWS_ENABLED" envDefault:"true"`
	ExcludePaths      []string `env:"OCMS_EXCLUDE_PATHS" envSeparator:","`
	RollupParallelism int      `env:"OCMS_ROLLUP_PARALLELISM" envDefault:"4"`
	// TrustedProxies lists reverse proxy IPs or CIDRs whose X-Forwarded-For
	// header keys the tracking rate limiter. Empty keys on the peer address.
	TrustedProxies    []string `env:"OCMS_TRUSTED_PROXIES" envSeparator:","`
}

// IsDevelopment returns true if the application is running in development mode.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// ServerAddr returns the full server address in host:port format.
func (c Config) ServerAddr() string {
	return net.JoinHostPort(c.ServerHost, strconv.Itoa(c.ServerPort))
}

// UseRedisCache returns true if Redis caching is configured.
func (c Config) UseRedisCache() bool {
	return c.RedisURL != ""
}

// GeoIPEnabled returns true if a GeoIP database is configured.
func (c Config) GeoIPEnabled() bool {
	return c.GeoIPDBPath != ""
}

// CacheTTLDuration returns CacheTTL as a duration.
func (c Config) CacheTTLDuration() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

// TrustedProxyPrefixes returns TrustedProxies parsed as prefixes. Load has
// already rejected invalid entries.
func (c Config) TrustedProxyPrefixes() []netip.Prefix {
	prefixes, _ := middleware.ParsePrefixes(c.TrustedProxies)
	return prefixes
}

// Load parses environment variables and returns a validated Config.
func Load() (*Config, error) {
	return load(env.Options{})
}

func load(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.ExcludePaths = slices.DeleteFunc(cfg.ExcludePaths, func(p string) bool {
		return strings.TrimSpace(p) == ""
	})

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return fmt.Errorf("OCMS_SERVER_PORT must be between 1 and 65535, got %d", c.ServerPort)
	}
	if !slices.Contains(validEnvs, c.Env) {
		return fmt.Errorf("OCMS_ENV must be one of %s, got %q", strings.Join(validEnvs, ", "), c.Env)
	}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("OCMS_LOG_LEVEL must be one of %s, got %q", strings.Join(validLogLevels, ", "), c.LogLevel)
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("OCMS_RETENTION_DAYS must not be negative, got %d", c.RetentionDays)
	}
	if c.RollupDays < 1 {
		return fmt.Errorf("OCMS_ROLLUP_DAYS must be at least 1, got %d", c.RollupDays)
	}
	if c.RollupParallelism < 1 {
		return fmt.Errorf("OCMS_ROLLUP_PARALLELISM must be at least 1, got %d", c.RollupParallelism)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("OCMS_CACHE_TTL must not be negative, got %d", c.CacheTTL)
	}
	if c.TrackRateLimit < 0 {
		return fmt.Errorf("OCMS_TRACK_RATE_LIMIT must not be negative, got %v", c.TrackRateLimit)
	}
	if c.TrackRateLimit > 0 && c.TrackRateBurst < 1 {
		return fmt.Errorf("OCMS_TRACK_RATE_BURST must be at least 1, got %d", c.TrackRateBurst)
	}
	if _, err := middleware.ParsePrefixes(c.TrustedProxies); err != nil {
		return fmt.Errorf("OCMS_TRUSTED_PROXIES: %w", err)
	}
	if net.ParseIP(c.FallbackIP) == nil {
		return fmt.Errorf("OCMS_FALLBACK_IP is not a valid IP address: %q", c.FallbackIP)
	}

	schedules := []struct{ name, spec string }{
		{"OCMS_ROLLUP_SCHEDULE", c.RollupSchedule},
		{"OCMS_CLEANUP_SCHEDULE", c.CleanupSchedule},
		{"OCMS_GEOIP_SCHEDULE", c.GeoIPSchedule},
	}
	for _, s := range schedules {
		if _, err := cron.ParseStandard(s.spec); err != nil {
			return fmt.Errorf("%s is not a valid cron expression: %w", s.name, err)
		}
	}
	return nil
}
