// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Log file rotation defaults.
const (
	maxFileSizeMB = 50
	maxBackups    = 5
	maxAgeDays    = 30
)

// Options configures New.
type Options struct {
	Level string // debug, info, warn or error
	JSON  bool   // JSON output instead of text
	File  string // optional rotating log file, written in addition to Output
	// Output defaults to os.Stdout.
	Output io.Writer
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// New builds the base handler: text in development, JSON in production,
// optionally teed to a size-rotated file. The returned closer releases the
// file and is a no-op without one.
func New(opts Options) (slog.Handler, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		file := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxFileSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(out, file)
		closer = file
	}

	ho := &slog.HandlerOptions{Level: level}
	if opts.JSON {
		return slog.NewJSONHandler(out, ho), closer, nil
	}
	return slog.NewTextHandler(out, ho), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
