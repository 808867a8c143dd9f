// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package meshlink

import (
	"context"
	"fmt"
)

// RepairPlan selects the steps of a repair run.
type RepairPlan struct {
	Preprocess  *PreprocessOptions // nil skips preprocessing
	DetectHoles bool               // run detect_holes before filling
	SkipFill    bool               // stop after detection or preprocessing
	Holes       HoleOptions
}

// DefaultRepairPlan preprocesses with the default passes and fills holes
// with the default options.
func DefaultRepairPlan() RepairPlan {
	pre := DefaultPreprocessOptions()
	return RepairPlan{Preprocess: &pre, Holes: DefaultHoleOptions()}
}

// RepairResult is the outcome of Repair. Statistics are nil for steps that
// did not run.
type RepairResult struct {
	Mesh       *Mesh
	Preprocess *PreprocessStats
	Detect     *DetectStats
	Fill       *FillStats
	MeshInfo   *MeshInfo // after the last mesh-modifying step
	Engine     EngineInfo
}

// Repair runs a full session over mesh: start, load, the steps selected by
// plan, save, and stop. The session is stopped before Repair returns, also
// when a step fails, so no engine process or connection outlives the call.
func Repair(ctx context.Context, cfg Config, mesh *Mesh, plan RepairPlan) (result *RepairResult, err error) {
	s, err := NewSession(cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if stopErr := s.Stop(ctx); stopErr != nil && err == nil {
			result, err = nil, fmt.Errorf("stopping engine: %w", stopErr)
		}
	}()
	return RunPlan(ctx, s, mesh, plan)
}

// RunPlan runs plan on an existing session. It does not stop the session;
// on error callers should call Stop before reusing it.
func RunPlan(ctx context.Context, s *Session, mesh *Mesh, plan RepairPlan) (*RepairResult, error) {
	if err := s.Start(ctx); err != nil {
		return nil, err
	}

	responses := make(map[CommandName]*Response)
	run := func(name CommandName, step func() (*Response, error)) error {
		resp, err := step()
		if err != nil {
			return err
		}
		if !s.BatchMode() {
			responses[name] = resp
		}
		return nil
	}

	if err := run(CmdLoadMesh, func() (*Response, error) { return s.LoadMesh(ctx, mesh) }); err != nil {
		return nil, err
	}
	if plan.Preprocess != nil {
		opts := *plan.Preprocess
		if err := run(CmdPreprocess, func() (*Response, error) { return s.Preprocess(ctx, opts) }); err != nil {
			return nil, err
		}
	}
	if plan.DetectHoles {
		if err := run(CmdDetectHoles, func() (*Response, error) { return s.DetectHoles(ctx, plan.Holes) }); err != nil {
			return nil, err
		}
	}
	if !plan.SkipFill {
		if err := run(CmdFillHoles, func() (*Response, error) { return s.FillHoles(ctx, plan.Holes) }); err != nil {
			return nil, err
		}
	}

	repaired, err := s.SaveMesh(ctx)
	if err != nil {
		return nil, err
	}
	if s.BatchMode() {
		for _, name := range []CommandName{CmdLoadMesh, CmdPreprocess, CmdDetectHoles, CmdFillHoles} {
			if r := s.LastResponse(name); r != nil {
				responses[name] = r
			}
		}
	}

	res := &RepairResult{Mesh: repaired, Engine: s.Info()}
	if r := responses[CmdPreprocess]; r != nil {
		if res.Preprocess, err = DecodeStats[PreprocessStats](r); err != nil {
			return nil, fmt.Errorf("preprocess: %w", err)
		}
	}
	if r := responses[CmdDetectHoles]; r != nil {
		if res.Detect, err = DecodeStats[DetectStats](r); err != nil {
			return nil, fmt.Errorf("detect_holes: %w", err)
		}
	}
	if r := responses[CmdFillHoles]; r != nil {
		if res.Fill, err = DecodeStats[FillStats](r); err != nil {
			return nil, fmt.Errorf("fill_holes: %w", err)
		}
	}
	for _, name := range []CommandName{CmdFillHoles, CmdPreprocess, CmdLoadMesh} {
		if r := responses[name]; r != nil && len(r.MeshInfo) > 0 {
			if res.MeshInfo, err = DecodeMeshInfo(r); err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			break
		}
	}
	return res, nil
}
