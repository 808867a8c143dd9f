// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Query-farm/meshlink/meshlink"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
[engine]
mode = "socket"
port = 9999
batch = true
verbosity = 2

[timeouts]
fill = "15m"
init = "2s"

[holes]
max_boundary = 50
skip_cubic = true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "socket", cfg.Engine.Mode)
	assert.Equal(t, 9999, cfg.Engine.Port)
	assert.Equal(t, "localhost", cfg.Engine.Host, "unset keys keep defaults")
	require.NotNil(t, cfg.Engine.Batch)
	assert.True(t, *cfg.Engine.Batch)
	assert.Equal(t, 15*time.Minute, cfg.Timeouts.Fill)
	assert.Equal(t, 2*time.Second, cfg.Timeouts.Init)
	assert.Equal(t, 120*time.Second, cfg.Timeouts.Save)
	assert.Equal(t, 50, cfg.Holes.MaxBoundary)
	assert.True(t, cfg.Holes.SkipCubic)
	assert.Equal(t, 0.25, cfg.Holes.MaxDiameter)

	sc := cfg.Session(nil)
	assert.Equal(t, meshlink.ModeSocket, sc.Mode)
	assert.Equal(t, 2, sc.Verbosity)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeFile(t, "[engine]\npaht = \"/bin/engine\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.paht")
}

func TestLoadValidates(t *testing.T) {
	_, err := Load(writeFile(t, "[engine]\nmode = \"carrier\"\nverbosity = 9\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.mode")
	assert.Contains(t, err.Error(), "engine.verbosity")
}

func TestResolvePriority(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	t.Setenv(EnvPath, "")
	cfg, path, err := Resolve("")
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, Default(), cfg)

	envFile := writeFile(t, "[engine]\nport = 1111\n")
	t.Setenv(EnvPath, envFile)
	cfg, path, err = Resolve("")
	require.NoError(t, err)
	assert.Equal(t, envFile, path)
	assert.Equal(t, 1111, cfg.Engine.Port)

	flagFile := writeFile(t, "[engine]\nport = 2222\n")
	cfg, path, err = Resolve(flagFile)
	require.NoError(t, err)
	assert.Equal(t, flagFile, path)
	assert.Equal(t, 2222, cfg.Engine.Port)

	_, _, err = Resolve(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := Default()
	cfg.Engine.Path = "/opt/meshrepair/bin/engine"
	cfg.Timeouts.Fill = 42 * time.Second
	require.NoError(t, Save(cfg, path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}
