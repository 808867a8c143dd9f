// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package meshlink

import (
	"context"
	"log/slog"
	"strings"
)

// LogLevel is the severity string carried by engine log events.
type LogLevel string

const (
	// LogException is the most severe level, used for failures that abort
	// a command.
	LogException LogLevel = "EXCEPTION"
	// LogError indicates a recoverable error condition.
	LogError LogLevel = "ERROR"
	// LogWarn indicates a warning that may require attention.
	LogWarn LogLevel = "WARN"
	// LogInfo indicates a normal informational message.
	LogInfo LogLevel = "INFO"
	// LogDebug indicates a verbose diagnostic message.
	LogDebug LogLevel = "DEBUG"
	// LogTrace is the least severe level.
	LogTrace LogLevel = "TRACE"
)

// SlogLevel maps an engine log level to a slog level. Matching is case
// insensitive and unknown levels are treated as info.
func (l LogLevel) SlogLevel() slog.Level {
	switch LogLevel(strings.ToUpper(string(l))) {
	case LogTrace, LogDebug:
		return slog.LevelDebug
	case LogWarn, "WARNING":
		return slog.LevelWarn
	case LogError, LogException, "CRITICAL":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Observer receives engine events. Implementations are called from the
// reader goroutine and must not block for long.
type Observer interface {
	OnProgress(progress float64, status string)
	OnLog(level LogLevel, message string)
}

// LogObserver writes events to a slog.Logger.
type LogObserver struct {
	Logger *slog.Logger
}

func (o LogObserver) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// OnProgress logs the progress fraction as a percentage.
func (o LogObserver) OnProgress(progress float64, status string) {
	o.logger().Info("engine progress", "progress", int(progress*100+0.5), "status", status)
}

// OnLog logs the message at the mapped level.
func (o LogObserver) OnLog(level LogLevel, message string) {
	o.logger().Log(context.Background(), level.SlogLevel(), message, "source", "engine")
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Progress func(progress float64, status string)
	Log      func(level LogLevel, message string)
}

func (f ObserverFuncs) OnProgress(progress float64, status string) {
	if f.Progress != nil {
		f.Progress(progress, status)
	}
}

func (f ObserverFuncs) OnLog(level LogLevel, message string) {
	if f.Log != nil {
		f.Log(level, message)
	}
}

// MultiObserver fans events out to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) OnProgress(progress float64, status string) {
	for _, o := range m {
		o.OnProgress(progress, status)
	}
}

func (m MultiObserver) OnLog(level LogLevel, message string) {
	for _, o := range m {
		o.OnLog(level, message)
	}
}
