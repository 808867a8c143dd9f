// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package meshotel provides OpenTelemetry instrumentation for meshlink
// sessions. It implements the [meshlink.CommandHook] interface to add
// client spans and metrics around every engine command.
//
// Usage:
//
//	cfg := meshlink.Config{EnginePath: path}
//	cfg.Hook = meshotel.NewHook(meshotel.DefaultConfig())
//	s, err := meshlink.NewSession(cfg)
package meshotel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Query-farm/meshlink/meshlink"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "meshlink"

// Config configures OpenTelemetry instrumentation for a meshlink session.
type Config struct {
	// TracerProvider supplies the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider supplies the meter. Defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	// EnableTracing enables span creation. Default true.
	EnableTracing bool
	// EnableMetrics enables counter and histogram recording. Default true.
	EnableMetrics bool
	// RecordExceptions calls RecordError on the span for failed commands.
	// Default true.
	RecordExceptions bool
	// EngineName is the meshlink.engine attribute value. Defaults to
	// "meshrepair".
	EngineName string
	// CustomAttributes are added to every span.
	CustomAttributes []attribute.KeyValue
}

// DefaultConfig returns a Config with tracing, metrics, and error
// recording enabled. Providers are resolved from the global OTel SDK when
// the hook is created.
func DefaultConfig() Config {
	return Config{
		EnableTracing:    true,
		EnableMetrics:    true,
		RecordExceptions: true,
	}
}

// NewHook returns a CommandHook recording spans and metrics per cfg.
func NewHook(cfg Config) meshlink.CommandHook {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	if cfg.EngineName == "" {
		cfg.EngineName = "meshrepair"
	}

	h := &hook{
		cfg:    cfg,
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
	}
	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		h.commandCounter, _ = meter.Int64Counter("meshlink.client.commands",
			metric.WithUnit("{command}"),
			metric.WithDescription("Number of engine commands"),
		)
		h.durationHistogram, _ = meter.Float64Histogram("meshlink.client.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of engine commands"),
		)
	}
	return h
}

type hook struct {
	cfg               Config
	tracer            trace.Tracer
	commandCounter    metric.Int64Counter
	durationHistogram metric.Float64Histogram
}

// spanToken is the HookToken returned by OnCommandStart.
type spanToken struct {
	span      trace.Span
	startTime time.Time
}

func (h *hook) OnCommandStart(ctx context.Context, info meshlink.CommandInfo) (context.Context, meshlink.HookToken) {
	if !h.cfg.EnableTracing {
		return ctx, &spanToken{startTime: time.Now()}
	}

	attrs := []attribute.KeyValue{
		attribute.String("meshlink.engine", h.cfg.EngineName),
		attribute.String("meshlink.command", string(info.Command)),
		attribute.String("meshlink.transport", string(info.Transport)),
		attribute.String("meshlink.session_id", info.SessionID),
		attribute.Bool("meshlink.batch", info.Batch),
	}
	attrs = append(attrs, h.cfg.CustomAttributes...)

	ctx, span := h.tracer.Start(ctx, fmt.Sprintf("meshlink/%s", info.Command),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	return ctx, &spanToken{span: span, startTime: time.Now()}
}

func (h *hook) OnCommandEnd(ctx context.Context, token meshlink.HookToken, info meshlink.CommandInfo, stats *meshlink.CommandStatistics, err error) {
	st, ok := token.(*spanToken)
	if !ok {
		return
	}
	duration := time.Since(st.startTime)

	status := "ok"
	if err != nil {
		status = "error"
	}

	if h.cfg.EnableMetrics {
		metricAttrs := metric.WithAttributes(
			attribute.String("meshlink.engine", h.cfg.EngineName),
			attribute.String("meshlink.command", string(info.Command)),
			attribute.String("meshlink.transport", string(info.Transport)),
			attribute.String("status", status),
		)
		if h.commandCounter != nil {
			h.commandCounter.Add(ctx, 1, metricAttrs)
		}
		if h.durationHistogram != nil {
			h.durationHistogram.Record(ctx, duration.Seconds(), metricAttrs)
		}
	}

	if st.span == nil || !st.span.IsRecording() {
		return
	}
	if stats != nil {
		st.span.SetAttributes(
			attribute.Int64("meshlink.bytes_sent", stats.BytesSent),
			attribute.Int64("meshlink.bytes_received", stats.BytesReceived),
			attribute.String("meshlink.response_type", string(stats.ResponseType)),
		)
	}
	if err != nil {
		st.span.SetStatus(codes.Error, err.Error())
		if h.cfg.RecordExceptions {
			st.span.RecordError(err)
		}
		st.span.SetAttributes(attribute.String("meshlink.error_kind", errorKind(err)))
		var e *meshlink.Error
		if errors.As(err, &e) && e.EngineType != "" {
			st.span.SetAttributes(attribute.String("meshlink.engine_error_type", e.EngineType))
		}
	} else {
		st.span.SetStatus(codes.Ok, "")
	}
	st.span.End()
}

func errorKind(err error) string {
	if k := meshlink.KindOf(err); k != 0 {
		return k.String()
	}
	return fmt.Sprintf("%T", err)
}
