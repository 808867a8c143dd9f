// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

/*
Package config loads the TOML configuration shared by the meshlink tools.
*/
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/Query-farm/meshlink/meshlink"
)

// EnvPath names the environment variable consulted for a config file when
// no --config flag is given.
const EnvPath = "MESHLINK_CONFIG"

// Config holds the entire config structure
type Config struct {
	Engine     EngineConfig               `toml:"engine"`
	Timeouts   meshlink.Timeouts          `toml:"timeouts"`
	Preprocess meshlink.PreprocessOptions `toml:"preprocess"`
	Holes      meshlink.HoleOptions       `toml:"holes"`
	Log        LogConfig                  `toml:"log"`
	Metrics    MetricsConfig              `toml:"metrics"`
}

// EngineConfig selects and tunes the engine connection.
type EngineConfig struct {
	Path       string `toml:"path"`
	Mode       string `toml:"mode"` // "pipe" or "socket"
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	Verbosity  int    `toml:"verbosity"`
	Batch      *bool  `toml:"batch"` // unset picks the mode default
	MaxThreads int    `toml:"max_threads"`
	TempDir    string `toml:"temp_dir"`
	LogFile    string `toml:"log_file"`
	NoLogFile  bool   `toml:"no_log_file"`
	Stats      bool   `toml:"stats"`
}

// LogConfig holds host logging options.
type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text, json, logfmt
}

// MetricsConfig holds the optional metrics and tracing endpoints.
type MetricsConfig struct {
	Addr  string `toml:"addr"`  // listen address for /metrics; empty disables
	Trace bool   `toml:"trace"` // print spans and metrics to stderr
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Mode: string(meshlink.ModePipe),
			Host: "localhost",
			Port: meshlink.DefaultSocketPort,
		},
		Timeouts:   meshlink.DefaultTimeouts(),
		Preprocess: meshlink.DefaultPreprocessOptions(),
		Holes:      meshlink.DefaultHoleOptions(),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a TOML file over the defaults. Keys missing from the file
// keep their default values; unknown keys are an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("loading config %s: unknown keys %v", path, undecoded)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, nil
}

// Resolve loads config with priority:
// 1. Custom path from the --config flag
// 2. The file named by MESHLINK_CONFIG
// 3. [UserConfigDir]/meshlink/config.toml, when it exists
// 4. Builtin defaults
//
// It returns the path used, or "" for defaults. An explicitly named file
// that cannot be loaded is an error.
func Resolve(flagPath string) (*Config, string, error) {
	for _, p := range []string{flagPath, os.Getenv(EnvPath)} {
		if p == "" {
			continue
		}
		cfg, err := Load(p)
		if err != nil {
			return nil, "", err
		}
		return cfg, p, nil
	}

	if p, err := DefaultPath(); err == nil {
		if _, statErr := os.Stat(p); statErr == nil {
			cfg, err := Load(p)
			if err != nil {
				return nil, "", err
			}
			return cfg, p, nil
		}
	}
	return Default(), "", nil
}

// DefaultPath returns the per-user config file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "meshlink", "config.toml"), nil
}

// Save writes cfg as TOML, creating parent directories.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		return fmt.Errorf("encoding config: %w", err)
	}
	return f.Close()
}

// Validate checks values that the session would otherwise reject later.
func (c *Config) Validate() error {
	var errs []error
	switch meshlink.Mode(c.Engine.Mode) {
	case meshlink.ModePipe, meshlink.ModeSocket:
	default:
		errs = append(errs, fmt.Errorf("engine.mode: unknown mode %q", c.Engine.Mode))
	}
	if c.Engine.Port < 0 || c.Engine.Port > 65535 {
		errs = append(errs, fmt.Errorf("engine.port: %d out of range", c.Engine.Port))
	}
	if c.Engine.Verbosity < 0 || c.Engine.Verbosity > 4 {
		errs = append(errs, fmt.Errorf("engine.verbosity: %d not in 0..4", c.Engine.Verbosity))
	}
	if c.Holes.Continuity < 0 || c.Holes.Continuity > 2 {
		errs = append(errs, fmt.Errorf("holes.continuity: %d not in 0..2", c.Holes.Continuity))
	}
	return errors.Join(errs...)
}

// Session converts the engine and timeout sections into a session config.
func (c *Config) Session(logger *slog.Logger) meshlink.Config {
	return meshlink.Config{
		Mode:       meshlink.Mode(c.Engine.Mode),
		EnginePath: c.Engine.Path,
		Host:       c.Engine.Host,
		Port:       c.Engine.Port,
		Verbosity:  c.Engine.Verbosity,
		Batch:      c.Engine.Batch,
		MaxThreads: c.Engine.MaxThreads,
		TempDir:    c.Engine.TempDir,
		LogFile:    c.Engine.LogFile,
		NoLogFile:  c.Engine.NoLogFile,
		Stats:      c.Engine.Stats,
		Timeouts:   c.Timeouts,
		Logger:     logger,
	}
}
