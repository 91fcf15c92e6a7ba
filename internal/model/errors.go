// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSourceUnavailable marks an optional data source that cannot be read.
// Query code treats it as a degraded source instead of a failure.
var ErrSourceUnavailable = errors.New("data source unavailable")

// ValidationError reports a malformed or disallowed request parameter.
type ValidationError struct {
	Field   string
	Value   string
	Allowed []string
	Msg     string
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("invalid ")
	sb.WriteString(e.Field)
	if e.Value != "" {
		sb.WriteString(fmt.Sprintf(" %q", e.Value))
	}
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	if len(e.Allowed) > 0 {
		sb.WriteString(" (allowed: ")
		sb.WriteString(strings.Join(e.Allowed, ", "))
		sb.WriteString(")")
	}
	return sb.String()
}

// PersistenceError wraps a storage read or write failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsDuplicate reports whether the failure is a unique-key violation.
func (e *PersistenceError) IsDuplicate() bool {
	return e.Err != nil && strings.Contains(e.Err.Error(), "UNIQUE constraint failed")
}

// AggregationError reports a failed rollup for one date.
type AggregationError struct {
	Date string
	Err  error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("aggregating %s: %v", e.Date, e.Err)
}

func (e *AggregationError) Unwrap() error {
	return e.Err
}

// WrapPersistence wraps err as a PersistenceError unless it is nil or already one.
func WrapPersistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
