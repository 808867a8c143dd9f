// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the slog loggers used by the meshlink commands,
// rendered by charmbracelet/log.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/log"
)

// Options configures New.
type Options struct {
	Level     string // debug, info, warn, error; default info
	Format    string // text, json, logfmt; default text
	Prefix    string
	Timestamp bool
	Caller    bool
}

// New returns a slog.Logger writing to w.
func New(w io.Writer, opts Options) (*slog.Logger, error) {
	h, err := NewHandler(w, opts)
	if err != nil {
		return nil, err
	}
	return slog.New(h), nil
}

// NewHandler returns the charm logger behind New, which also implements
// slog.Handler.
func NewHandler(w io.Writer, opts Options) (*log.Logger, error) {
	level := log.InfoLevel
	if opts.Level != "" {
		l, err := log.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		level = l
	}
	formatter, err := parseFormat(opts.Format)
	if err != nil {
		return nil, err
	}
	return log.NewWithOptions(w, log.Options{
		Prefix:          opts.Prefix,
		Level:           level,
		ReportCaller:    opts.Caller,
		ReportTimestamp: opts.Timestamp,
		Formatter:       formatter,
	}), nil
}

func parseFormat(s string) (log.Formatter, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return log.TextFormatter, nil
	case "json":
		return log.JSONFormatter, nil
	case "logfmt":
		return log.LogfmtFormatter, nil
	default:
		return 0, fmt.Errorf("unknown log format %q", s)
	}
}

// LevelForVerbosity maps the engine verbosity flag (0..4) to a host log
// level, so -v 3 and up also shows the host's debug output.
func LevelForVerbosity(v int) string {
	switch {
	case v >= 3:
		return "debug"
	case v >= 1:
		return "info"
	default:
		return "warn"
	}
}
