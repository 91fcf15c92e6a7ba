// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package model defines the analytics records and error types shared across packages.
package model

import "time"

// DateLayout is the calendar-day format used for DailyStats keys and API dates.
const DateLayout = "2006-01-02"

// DeviceType classifies the client device of a session.
type DeviceType string

// Device types
const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceUnknown DeviceType = "unknown"
)

// Valid reports whether d is one of the known device types.
func (d DeviceType) Valid() bool {
	switch d {
	case DeviceDesktop, DeviceMobile, DeviceTablet, DeviceUnknown:
		return true
	}
	return false
}

// Session is one browsing visit.
// Duration is set if and only if EndTime is set.
type Session struct {
	ID          int64      `json:"-"`
	SessionID   string     `json:"session_id"`
	UserID      *int64     `json:"user_id,omitempty"`
	IPAddress   string     `json:"ip_address"`
	UserAgent   string     `json:"user_agent,omitempty"`
	DeviceType  DeviceType `json:"device_type"`
	Browser     string     `json:"browser"`
	OS          string     `json:"os"`
	Country     string     `json:"country"`
	City        string     `json:"city"`
	Referrer    string     `json:"referrer"`
	Language    string     `json:"language,omitempty"`
	LandingPage string     `json:"landing_page"`
	IsBot       bool       `json:"is_bot"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	Duration    *int64     `json:"duration,omitempty"` // seconds
}

// IsOpen reports whether the session has not ended yet.
func (s *Session) IsOpen() bool {
	return s.EndTime == nil
}

// Close stamps the end time and the whole-second duration.
// An end before the start yields a zero duration.
func (s *Session) Close(end time.Time) {
	d := SecondsBetween(s.StartTime, end)
	s.EndTime = &end
	s.Duration = &d
}

// IsAuthenticated reports whether the visit belongs to a known principal.
func (s *Session) IsAuthenticated() bool {
	return s.UserID != nil
}

// PageView is one page render within a session.
type PageView struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	UserID     *int64    `json:"user_id,omitempty"`
	Page       string    `json:"page"`
	Title      string    `json:"title,omitempty"`
	TimeOnPage *int64    `json:"time_on_page,omitempty"` // seconds
	ExitPage   bool      `json:"exit_page"`
	CreatedAt  time.Time `json:"created_at"`
}

// Validate checks the page view invariants.
func (p *PageView) Validate() error {
	if p.SessionID == "" {
		return &ValidationError{Field: "session_id", Msg: "is required"}
	}
	if p.Page == "" {
		return &ValidationError{Field: "page", Msg: "is required"}
	}
	if p.TimeOnPage != nil && *p.TimeOnPage < 0 {
		return &ValidationError{Field: "time_on_page", Msg: "must not be negative"}
	}
	return nil
}

// DailyStats is the aggregate row for one calendar day (UTC).
type DailyStats struct {
	Date               string  `json:"date"`
	TotalVisitors      int64   `json:"total_visitors"`
	UniqueVisitors     int64   `json:"unique_visitors"`
	TotalPageViews     int64   `json:"total_page_views"`
	NewUsers           int64   `json:"new_users"`
	ReturningUsers     int64   `json:"returning_users"`
	MobileUsers        int64   `json:"mobile_users"`
	DesktopUsers       int64   `json:"desktop_users"`
	TabletUsers        int64   `json:"tablet_users"`
	BounceRate         float64 `json:"bounce_rate"`          // percent, 2 decimals
	AvgSessionDuration int64   `json:"avg_session_duration"` // seconds
}

// SecondsBetween returns the whole seconds from start to end, never negative.
func SecondsBetween(start, end time.Time) int64 {
	d := int64(end.Sub(start) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}

// DayBounds returns the UTC half-open window [00:00, next 00:00) of the day containing t.
func DayBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// ParseDate parses a YYYY-MM-DD calendar date as a UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "date", Value: s, Msg: "must be a YYYY-MM-DD calendar date"}
	}
	return t, nil
}

// MonthlyStats is the calendar-month roll-up of DailyStats rows.
// Counts are sums over the month, BounceRate and AvgSessionDuration are daily averages.
type MonthlyStats struct {
	Month              string  `json:"month"` // YYYY-MM
	TotalVisitors      int64   `json:"total_visitors"`
	UniqueVisitors     int64   `json:"unique_visitors"`
	TotalPageViews     int64   `json:"total_page_views"`
	NewUsers           int64   `json:"new_users"`
	ReturningUsers     int64   `json:"returning_users"`
	MobileUsers        int64   `json:"mobile_users"`
	DesktopUsers       int64   `json:"desktop_users"`
	TabletUsers        int64   `json:"tablet_users"`
	BounceRate         float64 `json:"bounce_rate"`
	AvgSessionDuration float64 `json:"avg_session_duration"`
	Days               int64   `json:"days"`
}
