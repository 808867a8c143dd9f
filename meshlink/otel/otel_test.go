// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package meshotel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/Query-farm/meshlink/meshlink"
)

func newTestHook(t *testing.T) (meshlink.CommandHook, *tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		tp.Shutdown(context.Background())
		mp.Shutdown(context.Background())
	})

	cfg := DefaultConfig()
	cfg.TracerProvider = tp
	cfg.MeterProvider = mp
	return NewHook(cfg), recorder, reader
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestHookRecordsSpan(t *testing.T) {
	hook, recorder, _ := newTestHook(t)
	info := meshlink.CommandInfo{Command: meshlink.CmdFillHoles, SessionID: "s1", Transport: meshlink.TransportProcess}

	ctx, token := hook.OnCommandStart(context.Background(), info)
	assert.True(t, trace.SpanFromContext(ctx).SpanContext().IsValid())
	hook.OnCommandEnd(ctx, token, info, &meshlink.CommandStatistics{BytesSent: 120, BytesReceived: 64, ResponseType: meshlink.ResponseSuccess}, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "meshlink/fill_holes", span.Name())
	assert.Equal(t, trace.SpanKindClient, span.SpanKind())
	assert.Equal(t, codes.Ok, span.Status().Code)

	v, ok := attrValue(span.Attributes(), "meshlink.bytes_sent")
	require.True(t, ok)
	assert.Equal(t, int64(120), v.AsInt64())
	v, ok = attrValue(span.Attributes(), "meshlink.transport")
	require.True(t, ok)
	assert.Equal(t, "process", v.AsString())
}

func TestHookRecordsEngineError(t *testing.T) {
	hook, recorder, _ := newTestHook(t)
	info := meshlink.CommandInfo{Command: meshlink.CmdPreprocess}
	ctx, token := hook.OnCommandStart(context.Background(), info)
	err := &meshlink.Error{Kind: meshlink.KindEngine, Op: "preprocess", Message: "bad mesh", EngineType: "command_error"}
	hook.OnCommandEnd(ctx, token, info, nil, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "preprocess failed: bad mesh", spans[0].Status().Description)
	require.NotEmpty(t, spans[0].Events(), "error recorded as span event")

	v, ok := attrValue(spans[0].Attributes(), "meshlink.error_kind")
	require.True(t, ok)
	assert.Equal(t, "engine", v.AsString())
	v, ok = attrValue(spans[0].Attributes(), "meshlink.engine_error_type")
	require.True(t, ok)
	assert.Equal(t, "command_error", v.AsString())
}

func TestHookRecordsMetrics(t *testing.T) {
	hook, _, reader := newTestHook(t)
	for _, name := range []meshlink.CommandName{meshlink.CmdInit, meshlink.CmdLoadMesh, meshlink.CmdSaveMesh} {
		info := meshlink.CommandInfo{Command: name, Batch: true}
		ctx, token := hook.OnCommandStart(context.Background(), info)
		hook.OnCommandEnd(ctx, token, info, &meshlink.CommandStatistics{}, nil)
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	found := map[string]bool{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		found[m.Name] = true
		if m.Name == "meshlink.client.commands" {
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			assert.Equal(t, int64(3), total)
		}
	}
	assert.True(t, found["meshlink.client.commands"])
	assert.True(t, found["meshlink.client.duration"])
}

func TestHookWithTracingDisabled(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	cfg := DefaultConfig()
	cfg.TracerProvider = tp
	cfg.EnableTracing = false
	cfg.EnableMetrics = false
	hook := NewHook(cfg)

	info := meshlink.CommandInfo{Command: meshlink.CmdGetInfo}
	ctx, token := hook.OnCommandStart(context.Background(), info)
	hook.OnCommandEnd(ctx, token, info, nil, nil)
	assert.Empty(t, recorder.Ended())
}
