// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Query-farm/meshlink/internal/config"
	"github.com/Query-farm/meshlink/meshlink"
)

func TestSplitHostPort(t *testing.T) {
	tests := []struct {
		in   string
		host string
		port int
		ok   bool
	}{
		{"localhost:9876", "localhost", 9876, true},
		{"10.0.0.2:1", "10.0.0.2", 1, true},
		{":4000", "localhost", 4000, true},
		{"4000", "localhost", 4000, true},
		{"host:0", "", 0, false},
		{"host:70000", "", 0, false},
		{"host:abc", "", 0, false},
	}
	for _, tt := range tests {
		host, port, err := splitHostPort(tt.in)
		if !tt.ok {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.host, host, tt.in)
		assert.Equal(t, tt.port, port, tt.in)
	}
}

func TestApplyOnlyChangedFlags(t *testing.T) {
	cmd := rootCmd()
	cmd.SetArgs([]string{"--socket", "engine.local:7000", "--interactive", "-v", "2", "config", "show"})
	var out bytes.Buffer
	cmd.SetOut(&out)
	t.Setenv(config.EnvPath, "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), `mode = "socket"`)
	assert.Contains(t, out.String(), `host = "engine.local"`)
	assert.Contains(t, out.String(), "port = 7000")
	assert.Contains(t, out.String(), "batch = false")
	assert.Contains(t, out.String(), "verbosity = 2")
}

func TestApplyKeepsConfigValues(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.Path = "/opt/engine"
	g := &globalFlags{}
	cmd := &cobra.Command{Use: "test"}
	g.register(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--stats"}))

	require.NoError(t, g.apply(cmd, cfg))
	assert.Equal(t, "/opt/engine", cfg.Engine.Path)
	assert.Equal(t, string(meshlink.ModePipe), cfg.Engine.Mode)
	assert.Nil(t, cfg.Engine.Batch)
	assert.True(t, cfg.Engine.Stats)
}

func TestVersionShort(t *testing.T) {
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version", "--short"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, version+"\n", out.String())
}

func TestTelemetryDisabledHasNoHook(t *testing.T) {
	tel, err := startTelemetry(t.Context(), config.MetricsConfig{}, nil)
	require.NoError(t, err)
	assert.Nil(t, tel.hook())
	assert.NoError(t, tel.close(t.Context()))
}
