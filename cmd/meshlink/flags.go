// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Query-farm/meshlink/internal/config"
	"github.com/Query-farm/meshlink/internal/logging"
	"github.com/Query-farm/meshlink/meshlink"
)

// globalFlags holds the persistent flags shared by every subcommand. Flags
// only override the config file when set explicitly.
type globalFlags struct {
	configPath  string
	enginePath  string
	socket      string
	batch       bool
	interactive bool
	verbosity   int
	threads     int
	stats       bool
	logLevel    string
	logFormat   string
	trace       bool
	metricsAddr string
}

func (g *globalFlags) register(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&g.configPath, "config", "", "Config file (default $"+config.EnvPath+" or the user config dir)")
	f.StringVar(&g.enginePath, "engine", "", "Engine executable for pipe mode")
	f.StringVar(&g.socket, "socket", "", "Connect to a running engine at host:port")
	f.BoolVar(&g.batch, "batch", false, "Queue commands and send them in one batch")
	f.BoolVar(&g.interactive, "interactive", false, "Send each command and wait for its response")
	f.IntVarP(&g.verbosity, "verbosity", "v", 0, "Engine verbosity 0..4")
	f.IntVar(&g.threads, "threads", 0, "Engine worker threads (0 lets the engine decide)")
	f.BoolVar(&g.stats, "stats", false, "Ask the engine for per-step timings")
	f.StringVar(&g.logLevel, "log-level", "", "Host log level: debug, info, warn, error")
	f.StringVar(&g.logFormat, "log-format", "", "Host log format: text, json, logfmt")
	f.BoolVar(&g.trace, "trace", false, "Print OpenTelemetry spans and metrics to stderr")
	f.StringVar(&g.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	cmd.MarkFlagsMutuallyExclusive("batch", "interactive")
}

// env is what a subcommand needs to run a session.
type env struct {
	cfg        *config.Config
	configPath string
	logger     *slog.Logger
	telemetry  *telemetry
}

// setup resolves the config, applies explicit flags over it, and builds
// the logger and telemetry.
func (g *globalFlags) setup(cmd *cobra.Command) (*env, error) {
	cfg, path, err := config.Resolve(g.configPath)
	if err != nil {
		return nil, err
	}
	if err := g.apply(cmd, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if !cmd.Flags().Changed("log-level") && cfg.Engine.Verbosity > 0 {
		level = logging.LevelForVerbosity(cfg.Engine.Verbosity)
	}
	logger, err := logging.New(os.Stderr, logging.Options{
		Level:  level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return nil, err
	}
	if path != "" {
		logger.Debug("loaded config", "path", path)
	}

	tel, err := startTelemetry(cmd.Context(), cfg.Metrics, logger)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, configPath: path, logger: logger, telemetry: tel}, nil
}

func (g *globalFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("engine") {
		cfg.Engine.Path = g.enginePath
	}
	if flags.Changed("socket") {
		host, port, err := splitHostPort(g.socket)
		if err != nil {
			return err
		}
		cfg.Engine.Mode = string(meshlink.ModeSocket)
		cfg.Engine.Host = host
		cfg.Engine.Port = port
	}
	switch {
	case flags.Changed("batch"):
		v := g.batch
		cfg.Engine.Batch = &v
	case flags.Changed("interactive"):
		v := !g.interactive
		cfg.Engine.Batch = &v
	}
	if flags.Changed("verbosity") {
		cfg.Engine.Verbosity = g.verbosity
	}
	if flags.Changed("threads") {
		cfg.Engine.MaxThreads = g.threads
	}
	if flags.Changed("stats") {
		cfg.Engine.Stats = g.stats
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = g.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = g.logFormat
	}
	if flags.Changed("trace") {
		cfg.Metrics.Trace = g.trace
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = g.metricsAddr
	}
	return nil
}

// splitHostPort accepts host:port, :port, or a bare port.
func splitHostPort(s string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		host, portStr = "", s
	}
	port, perr := strconv.Atoi(portStr)
	if perr != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("--socket: invalid address %q", s)
	}
	if host == "" {
		host = "localhost"
	}
	return host, port, nil
}

// sessionConfig builds the session config with logging and hooks attached.
func (e *env) sessionConfig() meshlink.Config {
	sc := e.cfg.Session(e.logger)
	sc.Observer = meshlink.LogObserver{Logger: e.logger}
	sc.Hook = e.telemetry.hook()
	return sc
}

func (e *env) close(ctx context.Context) {
	if err := e.telemetry.close(ctx); err != nil {
		e.logger.Warn("telemetry shutdown", "err", err)
	}
}
