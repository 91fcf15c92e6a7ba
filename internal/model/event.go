// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package model

import "time"

// Event levels
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// Event categories
const (
	EventCategoryTracking = "tracking"
	EventCategoryRollup   = "rollup"
	EventCategoryStats    = "stats"
	EventCategoryGeoIP    = "geoip"
	EventCategorySystem   = "system"
	EventCategoryCache    = "cache"
)

// EventCategories lists every category in display order.
var EventCategories = []string{
	EventCategoryTracking,
	EventCategoryRollup,
	EventCategoryStats,
	EventCategoryGeoIP,
	EventCategoryCache,
	EventCategorySystem,
}

// Event represents an event log entry.
type Event struct {
	ID        int64
	Level     string
	Category  string
	Message   string
	Metadata  string // JSON string
	CreatedAt time.Time
}
