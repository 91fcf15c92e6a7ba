// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"strings"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
)

// loadMap loads a Config from the given variables only.
func loadMap(t *testing.T, vars map[string]string) (*Config, error) {
	t.Helper()
	if vars == nil {
		vars = map[string]string{}
	}
	return load(env.Options{Environment: vars})
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadMap(t, nil)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.DBPath != "./data/analytics.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "./data/analytics.db")
	}
	if cfg.ServerAddr() != "localhost:8080" {
		t.Errorf("ServerAddr() = %q, want %q", cfg.ServerAddr(), "localhost:8080")
	}
	if !cfg.IsDevelopment() {
		t.Error("IsDevelopment() = false, want true")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.RollupSchedule != "15 0 * * *" {
		t.Errorf("RollupSchedule = %q", cfg.RollupSchedule)
	}
	if cfg.RetentionDays != 365 {
		t.Errorf("RetentionDays = %d, want 365", cfg.RetentionDays)
	}
	if cfg.CacheTTLDuration() != time.Minute {
		t.Errorf("CacheTTLDuration() = %v, want 1m", cfg.CacheTTLDuration())
	}
	if cfg.TrackRateLimit != 10 || cfg.TrackRateBurst != 20 {
		t.Errorf("track rate = %v/%d, want 10/20", cfg.TrackRateLimit, cfg.TrackRateBurst)
	}
	if !cfg.PageViewsEnabled {
		t.Error("PageViewsEnabled = false, want true")
	}
	if cfg.FallbackIP != "0.0.0.0" {
		t.Errorf("FallbackIP = %q", cfg.FallbackIP)
	}
	if cfg.UseRedisCache() || cfg.GeoIPEnabled() {
		t.Error("redis and geoip should be off by default")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	cfg, err := loadMap(t, map[string]string{
		"OCMS_DB_PATH":            "/custom/path.db",
		"OCMS_SERVER_HOST":        "0.0.0.0",
		"OCMS_SERVER_PORT":        "3000",
		"OCMS_ENV":                "Production",
		"OCMS_LOG_LEVEL":          "DEBUG",
		"OCMS_REDIS_URL":          "redis://localhost:6379/0",
		"OCMS_GEOIP_DB_PATH":      "/data/GeoLite2-City.mmdb",
		"OCMS_ROLLUP_SCHEDULE":    "@daily",
		"OCMS_RETENTION_DAYS":     "0",
		"OCMS_PAGE_VIEWS_ENABLED": "false",
		"OCMS_EXCLUDE_PATHS":      "/internal,,/preview",
		"OCMS_FALLBACK_IP":        "::1",
		"OCMS_TRUSTED_PROXIES":    "10.0.0.0/8, 192.168.1.10",
	})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.ServerAddr() != "0.0.0.0:3000" {
		t.Errorf("ServerAddr() = %q", cfg.ServerAddr())
	}
	if cfg.IsDevelopment() {
		t.Error("IsDevelopment() = true, want false")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if !cfg.UseRedisCache() || !cfg.GeoIPEnabled() {
		t.Error("redis and geoip should be on")
	}
	if cfg.RetentionDays != 0 || cfg.PageViewsEnabled {
		t.Errorf("RetentionDays = %d, PageViewsEnabled = %v", cfg.RetentionDays, cfg.PageViewsEnabled)
	}
	if len(cfg.ExcludePaths) != 2 || cfg.ExcludePaths[1] != "/preview" {
		t.Errorf("ExcludePaths = %v", cfg.ExcludePaths)
	}
	prefixes := cfg.TrustedProxyPrefixes()
	if len(prefixes) != 2 || prefixes[0].String() != "10.0.0.0/8" || prefixes[1].String() != "192.168.1.10/32" {
		t.Errorf("TrustedProxyPrefixes() = %v", prefixes)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"port too large", "OCMS_SERVER_PORT", "70000", "OCMS_SERVER_PORT"},
		{"port not a number", "OCMS_SERVER_PORT", "http", "parsing config"},
		{"unknown env", "OCMS_ENV", "staging", "OCMS_ENV"},
		{"unknown log level", "OCMS_LOG_LEVEL", "verbose", "OCMS_LOG_LEVEL"},
		{"negative retention", "OCMS_RETENTION_DAYS", "-1", "OCMS_RETENTION_DAYS"},
		{"bad rollup schedule", "OCMS_ROLLUP_SCHEDULE", "every night", "OCMS_ROLLUP_SCHEDULE"},
		{"bad cleanup schedule", "OCMS_CLEANUP_SCHEDULE", "61 * * * *", "OCMS_CLEANUP_SCHEDULE"},
		{"bad fallback ip", "OCMS_FALLBACK_IP", "localhost", "OCMS_FALLBACK_IP"},
		{"negative rate", "OCMS_TRACK_RATE_LIMIT", "-5", "OCMS_TRACK_RATE_LIMIT"},
		{"zero burst", "OCMS_TRACK_RATE_BURST", "0", "OCMS_TRACK_RATE_BURST"},
		{"zero rollup days", "OCMS_ROLLUP_DAYS", "0", "OCMS_ROLLUP_DAYS"},
		{"bad trusted proxy", "OCMS_TRUSTED_PROXIES", "10.0.0.0/8,proxy.local", "OCMS_TRUSTED_PROXIES"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadMap(t, map[string]string{tt.key: tt.value})
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_RateLimitDisabled(t *testing.T) {
	cfg, err := loadMap(t, map[string]string{"OCMS_TRACK_RATE_LIMIT": "0", "OCMS_TRACK_RATE_BURST": "0"})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.TrackRateLimit != 0 {
		t.Errorf("TrackRateLimit = %v, want 0", cfg.TrackRateLimit)
	}
}

func TestLoad_FromProcessEnvironment(t *testing.T) {
	t.Setenv("OCMS_SERVER_PORT", "9090")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ServerPort != 9090 {
		t.Errorf("ServerPort = %d, want 9090", cfg.ServerPort)
	}
}
