// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package meshlink

import (
	"encoding/json"
	"fmt"
)

// Command is one host-to-engine request.
type Command struct {
	Name   CommandName `json:"command"`
	Params any         `json:"params,omitempty"`
}

// InitParams configures the engine for the session.
type InitParams struct {
	MaxThreads  int    `json:"max_threads"` // 0 = engine decides
	Verbose     bool   `json:"verbose"`
	Debug       bool   `json:"debug"`
	LogFilePath string `json:"log_file_path,omitempty"`
	TempDir     string `json:"temp_dir,omitempty"`
}

// LoadMeshParams carries the base64 binary mesh.
type LoadMeshParams struct {
	MeshDataBinary string `json:"mesh_data_binary"`
}

// SaveMeshParams requests the current mesh back.
type SaveMeshParams struct {
	ReturnBinary bool `json:"return_binary"`
}

// PreprocessOptions selects the cleanup passes run by preprocess.
type PreprocessOptions struct {
	RemoveDuplicates     bool    `json:"remove_duplicates" toml:"remove_duplicates"`
	RemoveNonManifold    bool    `json:"remove_non_manifold" toml:"remove_non_manifold"`
	Remove3FaceFans      bool    `json:"remove_3_face_fans" toml:"remove_3_face_fans"`
	RemoveIsolated       bool    `json:"remove_isolated" toml:"remove_isolated"`
	KeepLargestComponent bool    `json:"keep_largest_component" toml:"keep_largest_component"`
	NonManifoldPasses    int     `json:"non_manifold_passes" toml:"non_manifold_passes"`
	DuplicateThreshold   float64 `json:"duplicate_threshold" toml:"duplicate_threshold"`
}

// DefaultPreprocessOptions enables every cleanup pass except keeping only
// the largest component.
func DefaultPreprocessOptions() PreprocessOptions {
	return PreprocessOptions{
		RemoveDuplicates:   true,
		RemoveNonManifold:  true,
		Remove3FaceFans:    true,
		RemoveIsolated:     true,
		NonManifoldPasses:  10,
		DuplicateThreshold: 0.0001,
	}
}

// HoleOptions controls hole detection and filling. Detection uses only
// MaxBoundary and MaxDiameter.
type HoleOptions struct {
	MaxBoundary    int     `json:"max_boundary" toml:"max_boundary"`     // max boundary edges of a hole to fill
	MaxDiameter    float64 `json:"max_diameter" toml:"max_diameter"`     // max hole diameter as a ratio of the mesh bbox diagonal
	Continuity     int     `json:"continuity" toml:"continuity"`         // 0, 1 or 2
	Refine         bool    `json:"refine" toml:"refine"`                 // refine the patch to match surrounding density
	Use2DCDT       bool    `json:"use_2d_cdt" toml:"use_2d_cdt"`         // try 2D constrained Delaunay for near-planar holes
	Use3DDelaunay  bool    `json:"use_3d_delaunay" toml:"use_3d_delaunay"`
	SkipCubic      bool    `json:"skip_cubic" toml:"skip_cubic"`
	UsePartitioned bool    `json:"use_partitioned" toml:"use_partitioned"`
}

// DefaultHoleOptions returns the filling defaults used by the reference host.
func DefaultHoleOptions() HoleOptions {
	return HoleOptions{
		MaxBoundary:    1000,
		MaxDiameter:    0.25,
		Continuity:     1,
		Refine:         true,
		Use2DCDT:       true,
		Use3DDelaunay:  true,
		UsePartitioned: true,
	}
}

type detectParams struct {
	MaxBoundary int     `json:"max_boundary"`
	MaxDiameter float64 `json:"max_diameter"`
}

func (o HoleOptions) detectParams() detectParams {
	return detectParams{MaxBoundary: o.MaxBoundary, MaxDiameter: o.MaxDiameter}
}

// ErrorInfo is the error object of an error response.
type ErrorInfo struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
}

// Response is one engine-to-host reply.
type Response struct {
	Type           ResponseType    `json:"type"`
	Message        string          `json:"message,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	Stats          json.RawMessage `json:"stats,omitempty"`
	MeshInfo       json.RawMessage `json:"mesh_info,omitempty"`
	Error          *ErrorInfo      `json:"error,omitempty"`
	MeshDataBinary string          `json:"mesh_data_binary,omitempty"`
	Version        string          `json:"version,omitempty"`
	BuildDate      string          `json:"build_date,omitempty"`
	BuildTime      string          `json:"build_time,omitempty"`
	State          *int            `json:"state,omitempty"`
	HasMesh        *bool           `json:"has_mesh,omitempty"`

	// Raw is the payload as received; empty for locally built responses.
	Raw json.RawMessage `json:"-"`
	// Cause is set only on synthetic responses produced when the connection
	// fails; it is the transport or protocol error that ended the reader.
	Cause error `json:"-"`
}

// DecodeResponse parses a RESPONSE payload. Any type other than "success"
// or "error" is rejected.
func DecodeResponse(payload []byte) (*Response, error) {
	var r Response
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, protocolError("decode response", "%v", err)
	}
	switch r.Type {
	case ResponseSuccess:
	case ResponseError:
		if r.Error == nil {
			r.Error = &ErrorInfo{Message: "Unknown error"}
		}
	default:
		return nil, protocolError("decode response", "unknown response type %q", r.Type)
	}
	r.Raw = append(json.RawMessage(nil), payload...)
	return &r, nil
}

// IsError reports whether the response is error-typed.
func (r *Response) IsError() bool { return r.Type == ResponseError }

// ErrorMessage returns the engine-supplied error message, or "Unknown error".
func (r *Response) ErrorMessage() string {
	if r.Error != nil && r.Error.Message != "" {
		return r.Error.Message
	}
	return "Unknown error"
}

// Timings returns the *_time_ms fields present at the top level of the
// response.
func (r *Response) Timings() map[string]float64 {
	if len(r.Raw) == 0 {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(r.Raw, &fields); err != nil {
		return nil
	}
	var out map[string]float64
	for _, k := range timingKeys {
		raw, ok := fields[k]
		if !ok {
			continue
		}
		var v float64
		if json.Unmarshal(raw, &v) == nil {
			if out == nil {
				out = make(map[string]float64)
			}
			out[k] = v
		}
	}
	return out
}

// Event is an unsolicited engine notification.
type Event struct {
	Type     EventType `json:"type"`
	Progress float64   `json:"progress,omitempty"`
	Status   string    `json:"status,omitempty"`
	Level    string    `json:"level,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// DecodeEvent parses an EVENT payload. Unknown event types are rejected.
func DecodeEvent(payload []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, protocolError("decode event", "%v", err)
	}
	switch e.Type {
	case EventProgress, EventLog:
		return &e, nil
	default:
		return nil, protocolError("decode event", "unknown event type %q", e.Type)
	}
}

// MeshInfo is the mesh_info object. Soup form reports points and polygons
// instead of vertices and faces.
type MeshInfo struct {
	Vertices int  `json:"vertices"`
	Faces    int  `json:"faces"`
	Edges    int  `json:"edges,omitempty"`
	Points   int  `json:"points,omitempty"`
	Polygons int  `json:"polygons,omitempty"`
	IsSoup   bool `json:"is_soup,omitempty"`
}

// PreprocessStats is the stats object of a preprocess response.
type PreprocessStats struct {
	DuplicatesMerged           int     `json:"duplicates_merged"`
	NonManifoldVerticesRemoved int     `json:"non_manifold_vertices_removed"`
	LongEdgePolygonsRemoved    int     `json:"long_edge_polygons_removed"`
	FaceFansCollapsed          int     `json:"face_fans_collapsed"`
	IsolatedVerticesRemoved    int     `json:"isolated_vertices_removed"`
	SmallComponentsRemoved     int     `json:"small_components_removed"`
	ConnectedComponentsFound   int     `json:"connected_components_found"`
	TotalTimeMs                float64 `json:"total_time_ms"`
	SoupCleanupTimeMs          float64 `json:"soup_cleanup_time_ms,omitempty"`
	LongEdgeTimeMs             float64 `json:"long_edge_time_ms,omitempty"`
	SoupToMeshTimeMs           float64 `json:"soup_to_mesh_time_ms,omitempty"`
	MeshCleanupTimeMs          float64 `json:"mesh_cleanup_time_ms,omitempty"`
}

// DetectStats is the stats object of a detect_holes response.
type DetectStats struct {
	HolesDetected int `json:"holes_detected"`
}

// FillStats is the stats object of a fill_holes response.
type FillStats struct {
	NumHolesDetected   int     `json:"num_holes_detected"`
	NumHolesFilled     int     `json:"num_holes_filled"`
	NumHolesFailed     int     `json:"num_holes_failed"`
	NumHolesSkipped    int     `json:"num_holes_skipped"`
	OriginalVertices   int     `json:"original_vertices"`
	OriginalFaces      int     `json:"original_faces"`
	FinalVertices      int     `json:"final_vertices"`
	FinalFaces         int     `json:"final_faces"`
	TotalVerticesAdded int     `json:"total_vertices_added"`
	TotalFacesAdded    int     `json:"total_faces_added"`
	TotalTimeMs        float64 `json:"total_time_ms"`
}

// DecodeStats unmarshals the response's stats object into T. A response
// without stats yields a zero T.
func DecodeStats[T any](r *Response) (*T, error) {
	var v T
	if r == nil || len(r.Stats) == 0 {
		return &v, nil
	}
	if err := json.Unmarshal(r.Stats, &v); err != nil {
		return nil, fmt.Errorf("decoding stats: %w", err)
	}
	return &v, nil
}

// DecodeMeshInfo unmarshals the response's mesh_info object. It falls back
// to data when mesh_info is absent.
func DecodeMeshInfo(r *Response) (*MeshInfo, error) {
	raw := r.MeshInfo
	if len(raw) == 0 {
		raw = r.Data
	}
	var info MeshInfo
	if len(raw) == 0 {
		return &info, nil
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("decoding mesh info: %w", err)
	}
	if info.IsSoup && info.Vertices == 0 && info.Faces == 0 {
		info.Vertices, info.Faces = info.Points, info.Polygons
	}
	return &info, nil
}

// queuedResponse is the acknowledgement returned for a command placed on
// the batch queue instead of sent.
func queuedResponse(name CommandName) *Response {
	return &Response{Type: ResponseSuccess, Message: fmt.Sprintf("%s queued", name)}
}

// connectionErrorResponse is pushed to the inbox when the reader stops on a
// fatal error.
func connectionErrorResponse(cause error) *Response {
	return &Response{
		Type:  ResponseError,
		Error: &ErrorInfo{Type: "connection_error", Message: "Connection error: " + cause.Error()},
		Cause: cause,
	}
}
