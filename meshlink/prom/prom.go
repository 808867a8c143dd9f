// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package meshprom exports meshlink command metrics to Prometheus through a
// [meshlink.CommandHook].
//
// Metrics collected:
//   - meshlink_commands_total: counter of commands by command, transport and status
//   - meshlink_command_duration_seconds: histogram of command latency by command
//   - meshlink_command_errors_total: counter of failures by command and error kind
//   - meshlink_bytes_sent_total / meshlink_bytes_received_total: wire bytes
//   - meshlink_commands_in_flight: gauge of commands awaiting a response
package meshprom

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Query-farm/meshlink/meshlink"
)

// Config configures the Prometheus hook.
type Config struct {
	// Namespace is the metrics namespace (default: "meshlink").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for command duration.
	// Default: a range from 1ms to 10 minutes, since hole filling is slow.
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the Prometheus hook.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) { c.Namespace = namespace }
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) { c.Subsystem = subsystem }
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) { c.ConstLabels = labels }
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) { c.Buckets = buckets }
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) { c.Registry = registry }
}

func defaultConfig() Config {
	return Config{
		Namespace: "meshlink",
		Buckets:   []float64{.001, .01, .05, .1, .5, 1, 5, 15, 60, 180, 600},
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Hook is a CommandHook recording Prometheus metrics.
type Hook struct {
	commandsTotal *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	errorsTotal   *prometheus.CounterVec
	bytesSent     prometheus.Counter
	bytesReceived prometheus.Counter
	inFlight      prometheus.Gauge
}

// New registers the metrics and returns the hook. Registering twice on the
// same registry panics, as with promauto.
func New(opts ...Option) *Hook {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Hook{
		commandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "commands_total",
			Help:        "Total number of engine commands by outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"command", "transport", "status"}),

		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "command_duration_seconds",
			Help:        "Engine command latency in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"command"}),

		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "command_errors_total",
			Help:        "Total number of failed engine commands by error kind",
			ConstLabels: config.ConstLabels,
		}, []string{"command", "kind"}),

		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "bytes_sent_total",
			Help:        "Total frame bytes written to engines",
			ConstLabels: config.ConstLabels,
		}),

		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "bytes_received_total",
			Help:        "Total frame bytes read from engines",
			ConstLabels: config.ConstLabels,
		}),

		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "commands_in_flight",
			Help:        "Number of engine commands awaiting a response",
			ConstLabels: config.ConstLabels,
		}),
	}
}

type token struct{ start time.Time }

// OnCommandStart implements meshlink.CommandHook.
func (h *Hook) OnCommandStart(ctx context.Context, _ meshlink.CommandInfo) (context.Context, meshlink.HookToken) {
	h.inFlight.Inc()
	return ctx, token{start: time.Now()}
}

// OnCommandEnd implements meshlink.CommandHook.
func (h *Hook) OnCommandEnd(_ context.Context, tok meshlink.HookToken, info meshlink.CommandInfo, stats *meshlink.CommandStatistics, err error) {
	h.inFlight.Dec()
	command := string(info.Command)

	status := "ok"
	if err != nil {
		status = "error"
		kind := meshlink.KindOf(err).String()
		if meshlink.KindOf(err) == 0 {
			kind = "other"
		}
		h.errorsTotal.WithLabelValues(command, kind).Inc()
	}
	h.commandsTotal.WithLabelValues(command, string(info.Transport), status).Inc()
	if t, ok := tok.(token); ok {
		h.duration.WithLabelValues(command).Observe(time.Since(t.start).Seconds())
	}
	if stats != nil {
		h.bytesSent.Add(float64(stats.BytesSent))
		h.bytesReceived.Add(float64(stats.BytesReceived))
	}
}
