// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Query-farm/meshlink/internal/config"
	"github.com/Query-farm/meshlink/meshlink"
	meshotel "github.com/Query-farm/meshlink/meshlink/otel"
	meshprom "github.com/Query-farm/meshlink/meshlink/prom"
)

// telemetry owns the optional trace/metric providers and the /metrics
// server. A zero telemetry has no hooks and closes cleanly.
type telemetry struct {
	hooks    meshlink.MultiHook
	closers  []func(context.Context) error
	server   *http.Server
	listener net.Listener
}

func startTelemetry(ctx context.Context, cfg config.MetricsConfig, logger *slog.Logger) (*telemetry, error) {
	t := &telemetry{}

	if cfg.Trace {
		spanExp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(spanExp))

		metricExp, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stderr))
		if err != nil {
			_ = tp.Shutdown(ctx)
			return nil, fmt.Errorf("metric exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)))

		otelCfg := meshotel.DefaultConfig()
		otelCfg.TracerProvider = tp
		otelCfg.MeterProvider = mp
		t.hooks = append(t.hooks, meshotel.NewHook(otelCfg))
		// Shutdown flushes pending spans and the final metric collection.
		t.closers = append(t.closers, tp.Shutdown, mp.Shutdown)
	}

	if cfg.Addr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		t.hooks = append(t.hooks, meshprom.New(meshprom.WithRegistry(registry)))

		l, err := net.Listen("tcp", cfg.Addr)
		if err != nil {
			_ = t.close(ctx)
			return nil, fmt.Errorf("metrics listener: %w", err)
		}
		t.listener = l
		t.server = &http.Server{
			Handler:           metricsRouter(registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := t.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", "err", err)
			}
		}()
		logger.Info("serving metrics", "addr", l.Addr().String())
	}

	return t, nil
}

func metricsRouter(registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	return r
}

// hook returns nil when no telemetry is enabled, so sessions skip the
// hook machinery entirely.
func (t *telemetry) hook() meshlink.CommandHook {
	switch len(t.hooks) {
	case 0:
		return nil
	case 1:
		return t.hooks[0]
	default:
		return t.hooks
	}
}

func (t *telemetry) close(ctx context.Context) error {
	var errs []error
	if t.server != nil {
		errs = append(errs, t.server.Shutdown(ctx))
	}
	for _, c := range t.closers {
		errs = append(errs, c(ctx))
	}
	return errors.Join(errs...)
}
