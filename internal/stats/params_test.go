// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package stats

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegiv/ocms-analytics/internal/model"
)

func TestParseParams(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantField string // empty means success
	}{
		{"empty", "", ""},
		{"all filters", "range=7d&device_type=Mobile&country=de&is_bot=false&user_type=anonymous&search=x&url=/a&sort=date&order=desc&page=2&limit=50", ""},
		{"explicit dates", "date_from=2024-01-01&date_to=2024-01-31", ""},
		{"bad range", "range=2w", "range"},
		{"bad device", "device_type=watch", "device_type"},
		{"bad user type", "user_type=admin", "user_type"},
		{"bad bool", "is_bot=maybe", "is_bot"},
		{"bad order", "order=sideways", "order"},
		{"page zero", "page=0", "page"},
		{"page text", "page=two", "page"},
		{"limit zero", "limit=0", "limit"},
		{"limit too big", "limit=101", "limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			require.NoError(t, err)

			_, err = ParseParams(q)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var ve *model.ValidationError
			require.True(t, errors.As(err, &ve), "want ValidationError, got %v", err)
			assert.Equal(t, tt.wantField, ve.Field)
		})
	}
}

func TestParseParams_Normalizes(t *testing.T) {
	q, _ := url.ParseQuery("device_type=%20Mobile%20&order=desc&is_bot=1&user_type=Authenticated")
	p, err := ParseParams(q)
	require.NoError(t, err)

	assert.Equal(t, "mobile", p.DeviceType)
	assert.Equal(t, "DESC", p.Order)
	assert.Equal(t, "authenticated", p.UserType)
	require.NotNil(t, p.IsBot)
	assert.True(t, *p.IsBot)
}

func TestParseParams_RangeAllowed(t *testing.T) {
	q, _ := url.ParseQuery("range=1w")
	_, err := ParseParams(q)

	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, RangeTokens, ve.Allowed)
}

func TestResolveWindow(t *testing.T) {
	now := time.Date(2024, 1, 16, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		params   Params
		wantFrom time.Time
		wantTo   time.Time
		wantErr  bool
	}{
		{
			name:     "default 30d",
			wantFrom: now.AddDate(0, 0, -30),
			wantTo:   now,
		},
		{
			name:     "1d",
			params:   Params{Range: "1d"},
			wantFrom: now.AddDate(0, 0, -1),
			wantTo:   now,
		},
		{
			name:     "1y",
			params:   Params{Range: "1y"},
			wantFrom: now.AddDate(0, 0, -365),
			wantTo:   now,
		},
		{
			name:     "explicit dates are inclusive",
			params:   Params{DateFrom: "2024-01-01", DateTo: "2024-01-03"},
			wantFrom: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			wantTo:   time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "explicit dates override range",
			params:   Params{Range: "7d", DateFrom: "2024-01-10", DateTo: "2024-01-10"},
			wantFrom: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
			wantTo:   time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "date_from only runs until now",
			params:   Params{DateFrom: "2024-01-15"},
			wantFrom: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
			wantTo:   now,
		},
		{name: "date_to only", params: Params{DateTo: "2024-01-15"}, wantErr: true},
		{name: "reversed", params: Params{DateFrom: "2024-01-15", DateTo: "2024-01-14"}, wantErr: true},
		{name: "bad date", params: Params{DateFrom: "2024-02-30"}, wantErr: true},
		{name: "future from", params: Params{DateFrom: "2024-02-01"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := tt.params.ResolveWindow(now)
			if tt.wantErr {
				var ve *model.ValidationError
				assert.ErrorAs(t, err, &ve)
				return
			}
			require.NoError(t, err)
			assert.True(t, w.From.Equal(tt.wantFrom), "From = %v, want %v", w.From, tt.wantFrom)
			assert.True(t, w.To.Equal(tt.wantTo), "To = %v, want %v", w.To, tt.wantTo)
		})
	}
}

func TestWindow(t *testing.T) {
	w := Window{
		From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC),
	}

	if got := w.FirstDate(); got != "2024-01-01" {
		t.Errorf("FirstDate() = %q, want 2024-01-01", got)
	}
	if got := w.LastDate(); got != "2024-01-03" {
		t.Errorf("LastDate() = %q, want 2024-01-03", got)
	}

	prev := w.Previous()
	if !prev.To.Equal(w.From) {
		t.Errorf("Previous().To = %v, want %v", prev.To, w.From)
	}
	if prev.Duration() != w.Duration() {
		t.Errorf("Previous().Duration() = %v, want %v", prev.Duration(), w.Duration())
	}
}

func TestResolveSort(t *testing.T) {
	s, err := Params{}.resolveSort(SessionSortFields, "start_time", true)
	require.NoError(t, err)
	assert.Equal(t, "start_time", s.Field)
	assert.True(t, s.Desc)

	s, err = Params{Sort: "duration", Order: "ASC"}.resolveSort(SessionSortFields, "start_time", true)
	require.NoError(t, err)
	assert.Equal(t, "duration", s.Field)
	assert.False(t, s.Desc)

	_, err = Params{Sort: "ip_address"}.resolveSort(SessionSortFields, "start_time", true)
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "sort", ve.Field)
	assert.Equal(t, SessionSortFields, ve.Allowed)
}

func TestPagination(t *testing.T) {
	tests := []struct {
		params              Params
		page, limit, offset int
	}{
		{Params{}, 1, DefaultLimit, 0},
		{Params{Page: 3}, 3, DefaultLimit, 40},
		{Params{Page: 2, Limit: 5}, 2, 5, 5},
	}

	for _, tt := range tests {
		page, limit, offset := tt.params.pagination()
		if page != tt.page || limit != tt.limit || offset != tt.offset {
			t.Errorf("pagination(%+v) = (%d, %d, %d), want (%d, %d, %d)",
				tt.params, page, limit, offset, tt.page, tt.limit, tt.offset)
		}
	}
}

func TestNewPagination(t *testing.T) {
	p := newPagination(2, 20, 41)
	assert.Equal(t, 3, p.TotalPages)
	assert.True(t, p.HasNext)

	p = newPagination(1, 20, 0)
	assert.Equal(t, 0, p.TotalPages)
	assert.False(t, p.HasNext)
}

func TestCacheKey(t *testing.T) {
	a := Params{Range: "7d", Country: "de", Search: "Berlin"}
	b := Params{Search: "berlin", Country: "DE", Range: "7d", Page: 3}
	assert.Equal(t, a.cacheKey(), b.cacheKey(), "page and case do not change the result")

	bot := true
	c := Params{Range: "7d", Country: "DE", Search: "berlin", IsBot: &bot}
	assert.NotEqual(t, a.cacheKey(), c.cacheKey())
}
