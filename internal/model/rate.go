// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package model

import "github.com/shopspring/decimal"

// Round2 rounds f half away from zero to two decimals.
func Round2(f float64) float64 {
	return decimal.NewFromFloat(f).Round(2).InexactFloat64()
}

// Percent returns part/whole*100 rounded to two decimals, clamped to [0, 100].
// A zero whole yields 0.
func Percent(part, whole int64) float64 {
	if whole <= 0 || part <= 0 {
		return 0
	}
	if part >= whole {
		return 100
	}
	return decimal.NewFromInt(part).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(whole), 2).
		InexactFloat64()
}

// Growth returns the percentage change from previous to current, rounded to
// two decimals. It is 0 when both are zero and 100 when only previous is zero.
func Growth(current, previous float64) float64 {
	switch {
	case previous == 0 && current == 0:
		return 0
	case previous == 0:
		return 100
	}
	c := decimal.NewFromFloat(current)
	p := decimal.NewFromFloat(previous)
	return c.Sub(p).Mul(decimal.NewFromInt(100)).DivRound(p, 2).InexactFloat64()
}
