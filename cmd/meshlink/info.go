// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Query-farm/meshlink/meshfile"
	"github.com/Query-farm/meshlink/meshlink"
)

func infoCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info [MESH]",
		Short: "Show engine information, and mesh statistics when a mesh is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			e, err := g.setup(cmd)
			if err != nil {
				return err
			}
			defer closeEnv(e)

			sc := e.sessionConfig()
			// info needs each answer before the next step.
			interactive := false
			sc.Batch = &interactive

			s, err := meshlink.NewSession(sc)
			if err != nil {
				return err
			}
			defer func() {
				if stopErr := s.Stop(cmd.Context()); stopErr != nil && err == nil {
					err = stopErr
				}
			}()

			resp, err := s.EngineInfo(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "session:     %s\n", s.ID())
			fmt.Fprintf(w, "engine:      %s (built %s %s)\n", resp.Version, resp.BuildDate, resp.BuildTime)
			if path := s.LogFilePath(); path != "" {
				fmt.Fprintf(w, "engine log:  %s\n", path)
			}

			if len(args) == 0 {
				return nil
			}
			mesh, err := meshfile.ReadFile(args[0])
			if err != nil {
				return err
			}
			if _, err := s.LoadMesh(cmd.Context(), mesh); err != nil {
				return err
			}
			mi, err := s.MeshInfo(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "mesh:        %s\n", args[0])
			fmt.Fprintf(w, "vertices:    %d\n", mi.Vertices)
			fmt.Fprintf(w, "faces:       %d\n", mi.Faces)
			if mi.Edges > 0 {
				fmt.Fprintf(w, "edges:       %d\n", mi.Edges)
			}
			return nil
		},
	}
	return cmd
}
