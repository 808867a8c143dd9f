// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Command meshlink-engine runs the in-process reference engine. With
// --engine it speaks the framed protocol on stdin/stdout; with --socket it
// listens on a TCP port and serves one host at a time, printing PORT:<n>
// once listening.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Query-farm/meshlink/enginetest"
	"github.com/Query-farm/meshlink/internal/logging"
)

func main() {
	var (
		stdio     bool
		port      int
		socket    bool
		verbosity int
		verbose   bool
		stats     bool
		quiet     bool
	)

	cmd := &cobra.Command{
		Use:   "meshlink-engine",
		Short: "Reference mesh repair engine",
		Long: `Reference mesh repair engine speaking the meshlink protocol.

Examples:
  meshlink-engine --engine
  meshlink-engine --socket 9876
  meshlink-engine --socket 0 --stats`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			socket = cmd.Flags().Changed("socket")
			if stdio == socket {
				return fmt.Errorf("exactly one of --engine or --socket is required")
			}

			level := logging.LevelForVerbosity(verbosity)
			if verbose && verbosity < 3 {
				level = "debug"
			}
			// stdout carries frames in pipe mode, so logs always go to stderr.
			logger, err := logging.New(os.Stderr, logging.Options{Level: level, Prefix: "engine"})
			if err != nil {
				return err
			}
			opts := enginetest.Options{Stats: stats, Quiet: quiet, Logger: logger}

			if stdio {
				return enginetest.RunStdio(opts)
			}
			return serveSocket(port, opts)
		},
	}

	cmd.Flags().BoolVar(&stdio, "engine", false, "Serve the protocol on stdin/stdout")
	cmd.Flags().IntVar(&port, "socket", 0, "Listen on this TCP port (0 picks a free port)")
	cmd.Flags().IntVarP(&verbosity, "verbosity", "v", 0, "Log verbosity 0..4")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "Verbose engine logging")
	cmd.Flags().BoolVar(&stats, "stats", false, "Add *_time_ms timings to responses")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not emit progress or log events")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "meshlink-engine: %s\n", err)
		os.Exit(1)
	}
}

func serveSocket(port int, opts enginetest.Options) error {
	listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	fmt.Printf("PORT:%d\n", listener.Addr().(*net.TCPAddr).Port)
	os.Stdout.Sync()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		listener.Close()
	}()

	opts.SocketMode = true
	return enginetest.New(opts).ServeListener(listener)
}
