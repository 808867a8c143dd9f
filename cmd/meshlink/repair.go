// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Query-farm/meshlink/meshfile"
	"github.com/Query-farm/meshlink/meshlink"
)

func repairCmd(g *globalFlags) *cobra.Command {
	var (
		noPreprocess bool
		keepLargest  bool
		detect       bool
		detectOnly   bool
		maxBoundary  int
		maxDiameter  float64
		continuity   int
		refine       bool
	)

	cmd := &cobra.Command{
		Use:   "repair INPUT OUTPUT",
		Short: "Clean a mesh and fill its holes",
		Long: `Load INPUT into the engine, run the repair steps, and write the result
to OUTPUT. The formats follow the file extensions.

Examples:
  meshlink repair scan.msoup fixed.msoup
  meshlink repair --keep-largest --max-boundary 200 scan.mesharrow.zst fixed.mesharrow
  meshlink repair --socket localhost:9876 --interactive scan.msoup fixed.msoup`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.setup(cmd)
			if err != nil {
				return err
			}
			defer closeEnv(e)

			plan := meshlink.RepairPlan{
				DetectHoles: detect || detectOnly,
				SkipFill:    detectOnly,
				Holes:       e.cfg.Holes,
			}
			if !noPreprocess {
				pre := e.cfg.Preprocess
				if cmd.Flags().Changed("keep-largest") {
					pre.KeepLargestComponent = keepLargest
				}
				plan.Preprocess = &pre
			}
			if cmd.Flags().Changed("max-boundary") {
				plan.Holes.MaxBoundary = maxBoundary
			}
			if cmd.Flags().Changed("max-diameter") {
				plan.Holes.MaxDiameter = maxDiameter
			}
			if cmd.Flags().Changed("continuity") {
				plan.Holes.Continuity = continuity
			}
			if cmd.Flags().Changed("refine") {
				plan.Holes.Refine = refine
			}

			mesh, err := meshfile.ReadFile(args[0])
			if err != nil {
				return err
			}
			e.logger.Info("loaded mesh", "path", args[0], "vertices", mesh.VertexCount(), "faces", mesh.FaceCount())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			start := time.Now()
			result, err := meshlink.Repair(ctx, e.sessionConfig(), mesh, plan)
			if err != nil {
				return err
			}
			if err := meshfile.WriteFile(args[1], result.Mesh); err != nil {
				return err
			}
			printRepair(cmd.OutOrStdout(), args[1], result, time.Since(start))
			return nil
		},
	}

	cmd.Flags().BoolVar(&noPreprocess, "no-preprocess", false, "Skip the cleanup passes")
	cmd.Flags().BoolVar(&keepLargest, "keep-largest", false, "Keep only the largest connected component")
	cmd.Flags().BoolVar(&detect, "detect", false, "Run hole detection before filling")
	cmd.Flags().BoolVar(&detectOnly, "detect-only", false, "Detect holes without filling them")
	cmd.Flags().IntVar(&maxBoundary, "max-boundary", 0, "Largest hole to fill, in boundary edges")
	cmd.Flags().Float64Var(&maxDiameter, "max-diameter", 0, "Largest hole to fill, as a ratio of the bounding box diagonal")
	cmd.Flags().IntVar(&continuity, "continuity", 0, "Patch continuity 0, 1 or 2")
	cmd.Flags().BoolVar(&refine, "refine", false, "Refine patches to match the surrounding density")

	return cmd
}

func printRepair(w io.Writer, out string, r *meshlink.RepairResult, elapsed time.Duration) {
	if r.Engine.Version != "" {
		fmt.Fprintf(w, "engine:      %s\n", r.Engine.Version)
	}
	if p := r.Preprocess; p != nil {
		fmt.Fprintf(w, "preprocess:  %d duplicates merged, %d non-manifold vertices, %d isolated vertices, %d components removed\n",
			p.DuplicatesMerged, p.NonManifoldVerticesRemoved, p.IsolatedVerticesRemoved, p.SmallComponentsRemoved)
	}
	if d := r.Detect; d != nil {
		fmt.Fprintf(w, "holes:       %d detected\n", d.HolesDetected)
	}
	if f := r.Fill; f != nil {
		fmt.Fprintf(w, "fill:        %d filled, %d failed, %d skipped of %d\n",
			f.NumHolesFilled, f.NumHolesFailed, f.NumHolesSkipped, f.NumHolesDetected)
		fmt.Fprintf(w, "added:       %d vertices, %d faces\n", f.TotalVerticesAdded, f.TotalFacesAdded)
	}
	fmt.Fprintf(w, "wrote:       %s (%d vertices, %d faces) in %s\n",
		out, r.Mesh.VertexCount(), r.Mesh.FaceCount(), elapsed.Round(time.Millisecond))
}

func closeEnv(e *env) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e.close(ctx)
}
