// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package meshlink_test

import (
	"io"
	"log/slog"
	"net"
	"os"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Query-farm/meshlink/enginetest"
	"github.com/Query-farm/meshlink/meshlink"
)

// engineEnv makes the test binary act as the engine when re-executed.
const engineEnv = "MESHLINK_TEST_ENGINE"

func TestMain(m *testing.M) {
	if os.Getenv(engineEnv) == "1" {
		opts := enginetest.Options{Stats: slices.Contains(os.Args, "--stats")}
		if err := enginetest.RunStdio(opts); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// processEngine returns a transport factory that re-executes this test
// binary as an engine child process.
func processEngine(stats bool) func() meshlink.Transport {
	return func() meshlink.Transport {
		return &meshlink.ProcessTransport{
			Path:   os.Args[0],
			Env:    append(os.Environ(), engineEnv+"=1"),
			Stats:  stats,
			Logger: quietLogger(),
		}
	}
}

// socketEngine serves an in-process engine on a loopback port for the
// lifetime of the test.
func socketEngine(t *testing.T) (*enginetest.Engine, int) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	e := enginetest.New(enginetest.Options{Quiet: true, Logger: quietLogger()})
	go e.ServeListener(l)
	t.Cleanup(func() { l.Close() })
	return e, l.Addr().(*net.TCPAddr).Port
}

func boolPtr(b bool) *bool { return &b }
