// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package stats

import (
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/olegiv/ocms-analytics/internal/model"
	"github.com/olegiv/ocms-analytics/internal/store"
)

// DefaultRange is the relative window used when no dates are given.
const DefaultRange = "30d"

// Pagination limits for the session list.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// rangeDays maps the relative window tokens to days.
var rangeDays = map[string]int{
	"1d":  1,
	"7d":  7,
	"30d": 30,
	"90d": 90,
	"1y":  365,
}

// RangeTokens lists the accepted relative window tokens.
var RangeTokens = []string{"1d", "7d", "30d", "90d", "1y"}

// Sort allow-lists per query type.
var (
	SessionSortFields = []string{"start_time", "duration", "country", "device_type", "browser", "page_views"}
	DailySortFields   = []string{"date", "total_visitors", "unique_visitors", "total_page_views", "bounce_rate", "avg_session_duration"}
)

var deviceTypes = []string{
	string(model.DeviceDesktop), string(model.DeviceMobile), string(model.DeviceTablet), string(model.DeviceUnknown),
}

var userTypes = []string{store.UserTypeAuthenticated, store.UserTypeAnonymous}

// Params is a parsed statistics request. Zero values mean "not given".
type Params struct {
	Range      string `json:"range,omitempty"`
	DateFrom   string `json:"date_from,omitempty"`
	DateTo     string `json:"date_to,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
	Country    string `json:"country,omitempty"`
	IsBot      *bool  `json:"is_bot,omitempty"`
	UserType   string `json:"user_type,omitempty"`
	Search     string `json:"search,omitempty"`
	URL        string `json:"url,omitempty"`
	Sort       string `json:"sort,omitempty"`
	Order      string `json:"order,omitempty"`
	Page       int    `json:"page,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// ParseParams reads Params from query values:
// range, date_from, date_to, device_type, country, is_bot, user_type,
// search, url, sort, order, page and limit.
func ParseParams(q url.Values) (Params, error) {
	p := Params{
		Range:      strings.TrimSpace(q.Get("range")),
		DateFrom:   strings.TrimSpace(q.Get("date_from")),
		DateTo:     strings.TrimSpace(q.Get("date_to")),
		DeviceType: strings.ToLower(strings.TrimSpace(q.Get("device_type"))),
		Country:    strings.TrimSpace(q.Get("country")),
		UserType:   strings.ToLower(strings.TrimSpace(q.Get("user_type"))),
		Search:     strings.TrimSpace(q.Get("search")),
		URL:        strings.TrimSpace(q.Get("url")),
		Sort:       strings.TrimSpace(q.Get("sort")),
		Order:      strings.ToUpper(strings.TrimSpace(q.Get("order"))),
	}

	if v := q.Get("is_bot"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Params{}, &model.ValidationError{Field: "is_bot", Value: v, Msg: "must be a boolean"}
		}
		p.IsBot = &b
	}
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Params{}, &model.ValidationError{Field: "page", Value: v, Msg: "must be an integer of at least 1"}
		}
		p.Page = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Params{}, &model.ValidationError{Field: "limit", Value: v, Msg: "must be between 1 and 100"}
		}
		p.Limit = n
	}

	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Validate checks the filters and pagination. The sort field is checked by
// each query against its own allow-list.
func (p Params) Validate() error {
	if p.Range != "" {
		if _, ok := rangeDays[p.Range]; !ok {
			return &model.ValidationError{Field: "range", Value: p.Range, Allowed: RangeTokens}
		}
	}
	if p.DeviceType != "" && !slices.Contains(deviceTypes, p.DeviceType) {
		return &model.ValidationError{Field: "device_type", Value: p.DeviceType, Allowed: deviceTypes}
	}
	if p.UserType != "" && !slices.Contains(userTypes, p.UserType) {
		return &model.ValidationError{Field: "user_type", Value: p.UserType, Allowed: userTypes}
	}
	if p.Order != "" && p.Order != "ASC" && p.Order != "DESC" {
		return &model.ValidationError{Field: "order", Value: p.Order, Allowed: []string{"ASC", "DESC"}}
	}
	if p.Page < 0 {
		return &model.ValidationError{Field: "page", Value: strconv.Itoa(p.Page), Msg: "must be at least 1"}
	}
	if p.Limit < 0 || p.Limit > MaxLimit {
		return &model.ValidationError{Field: "limit", Value: strconv.Itoa(p.Limit), Msg: "must be between 1 and 100"}
	}
	return nil
}

// Window is a resolved half-open time window [From, To).
type Window struct {
	From  time.Time `json:"from"`
	To    time.Time `json:"to"`
	Range string    `json:"range,omitempty"`
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.To.Sub(w.From)
}

// Previous returns the equally sized window immediately before w.
func (w Window) Previous() Window {
	return Window{From: w.From.Add(-w.Duration()), To: w.From}
}

// FirstDate is the calendar date of the window start.
func (w Window) FirstDate() string {
	return w.From.UTC().Format(model.DateLayout)
}

// LastDate is the calendar date of the last second inside the window.
func (w Window) LastDate() string {
	return w.To.Add(-time.Second).UTC().Format(model.DateLayout)
}

// ResolveWindow turns the date inputs into a UTC window. Explicit dates take
// precedence over the relative token: [date_from 00:00, date_to+1 00:00).
// A lone date_from runs until now.
func (p Params) ResolveWindow(now time.Time) (Window, error) {
	now = now.UTC()

	if p.DateFrom == "" && p.DateTo != "" {
		return Window{}, &model.ValidationError{Field: "date_from", Msg: "is required when date_to is given"}
	}
	if p.DateFrom != "" {
		from, err := model.ParseDate(p.DateFrom)
		if err != nil {
			return Window{}, &model.ValidationError{Field: "date_from", Value: p.DateFrom, Msg: "must be a YYYY-MM-DD calendar date"}
		}
		to := now
		if p.DateTo != "" {
			end, err := model.ParseDate(p.DateTo)
			if err != nil {
				return Window{}, &model.ValidationError{Field: "date_to", Value: p.DateTo, Msg: "must be a YYYY-MM-DD calendar date"}
			}
			if end.Before(from) {
				return Window{}, &model.ValidationError{Field: "date_to", Value: p.DateTo, Msg: "must not be before date_from"}
			}
			to = end.AddDate(0, 0, 1)
		}
		if !to.After(from) {
			return Window{}, &model.ValidationError{Field: "date_from", Value: p.DateFrom, Msg: "must be in the past"}
		}
		return Window{From: from, To: to}, nil
	}

	token := p.Range
	if token == "" {
		token = DefaultRange
	}
	days, ok := rangeDays[token]
	if !ok {
		return Window{}, &model.ValidationError{Field: "range", Value: token, Allowed: RangeTokens}
	}
	return Window{From: now.AddDate(0, 0, -days), To: now, Range: token}, nil
}

// filter converts the dimension filters into a store.Filter over w.
func (p Params) filter(w Window) store.Filter {
	return store.Filter{
		From:       w.From,
		To:         w.To,
		DeviceType: p.DeviceType,
		Country:    p.Country,
		IsBot:      p.IsBot,
		UserType:   p.UserType,
		Search:     p.Search,
		Page:       p.URL,
	}
}

// resolveSort validates p.Sort against allowed and applies defaults.
func (p Params) resolveSort(allowed []string, defaultField string, defaultDesc bool) (store.Sort, error) {
	s := store.Sort{Field: defaultField, Desc: defaultDesc}
	if p.Sort != "" {
		if !slices.Contains(allowed, p.Sort) {
			return store.Sort{}, &model.ValidationError{Field: "sort", Value: p.Sort, Allowed: allowed}
		}
		s.Field = p.Sort
	}
	if p.Order != "" {
		s.Desc = p.Order == "DESC"
	}
	return s, nil
}

// pagination returns the page, limit and offset with defaults applied.
func (p Params) pagination() (page, limit, offset int) {
	page, limit = p.Page, p.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	return page, limit, (page - 1) * limit
}

// cacheKey is a canonical encoding of everything that shapes a query result.
func (p Params) cacheKey() string {
	v := url.Values{}
	set := func(k, s string) {
		if s != "" {
			v.Set(k, s)
		}
	}
	set("range", p.Range)
	set("date_from", p.DateFrom)
	set("date_to", p.DateTo)
	set("device_type", p.DeviceType)
	set("country", strings.ToUpper(p.Country))
	set("user_type", p.UserType)
	set("search", strings.ToLower(p.Search))
	set("url", p.URL)
	set("sort", p.Sort)
	set("order", p.Order)
	if p.IsBot != nil {
		v.Set("is_bot", strconv.FormatBool(*p.IsBot))
	}
	return v.Encode()
}
