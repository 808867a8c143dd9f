// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Command meshlink drives a mesh repair engine from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, set with -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "meshlink",
		Short: "Mesh repair engine host",
		Long: `meshlink sends meshes to a repair engine and writes the result back.

The engine runs as a child process (pipe mode, the default) or is reached
over TCP (socket mode, --socket host:port). Meshes are read and written as
.msoup (the engine's binary layout) or .mesharrow (Arrow IPC), optionally
zstd-compressed with a trailing .zst.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	g.register(cmd)

	cmd.AddCommand(
		repairCmd(g),
		infoCmd(g),
		configCmd(g),
		versionCmd(),
	)

	return cmd
}
