// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package model

import "testing"

func TestGrowth(t *testing.T) {
	tests := []struct {
		current, previous float64
		want              float64
	}{
		{0, 0, 0},
		{50, 0, 100},
		{150, 100, 50},
		{50, 100, -50},
		{0, 10, -100},
		{1, 3, -66.67},
		{4, 3, 33.33},
	}

	for _, tt := range tests {
		if got := Growth(tt.current, tt.previous); got != tt.want {
			t.Errorf("Growth(%v, %v) = %v, want %v", tt.current, tt.previous, got, tt.want)
		}
	}
}

func TestPercent(t *testing.T) {
	tests := []struct {
		part, whole int64
		want        float64
	}{
		{0, 0, 0},
		{5, 0, 0},
		{2, 3, 66.67},
		{1, 3, 33.33},
		{3, 3, 100},
		{4, 3, 100},
		{1, 8, 12.5},
	}

	for _, tt := range tests {
		if got := Percent(tt.part, tt.whole); got != tt.want {
			t.Errorf("Percent(%d, %d) = %v, want %v", tt.part, tt.whole, got, tt.want)
		}
	}
}

func TestRound2(t *testing.T) {
	if got := Round2(12.345); got != 12.35 {
		t.Errorf("Round2(12.345) = %v, want 12.35", got)
	}
	if got := Round2(-0.004); got != 0 {
		t.Errorf("Round2(-0.004) = %v, want 0", got)
	}
}
