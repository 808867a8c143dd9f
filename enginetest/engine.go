// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package enginetest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Query-farm/meshlink/meshlink"
)

// Version is reported by init when Options.Version is empty.
const Version = "0.9.0-enginetest"

// Options configures an Engine.
type Options struct {
	Version   string
	BuildDate string
	BuildTime string
	// SocketMode makes shutdown reset state instead of ending Serve.
	SocketMode bool
	// Stats adds *_time_ms fields to responses, as --stats does.
	Stats bool
	// Quiet suppresses progress and log events.
	Quiet bool
	// Delay holds a command's response back, for timeout tests.
	Delay map[meshlink.CommandName]time.Duration
	// Logger receives the engine's own diagnostics. Default slog.Default().
	Logger *slog.Logger
}

// Engine holds the state of one repair engine.
type Engine struct {
	opts   Options
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	initParams  meshlink.InitParams
	mesh        *meshlink.Mesh
	holes       int
	commands    int
	lastCommand meshlink.CommandName
}

// New returns an uninitialized engine.
func New(opts Options) *Engine {
	if opts.Version == "" {
		opts.Version = Version
	}
	if opts.BuildDate == "" {
		opts.BuildDate = "Jan  1 2026"
	}
	if opts.BuildTime == "" {
		opts.BuildTime = "00:00:00"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{opts: opts, logger: logger}
}

// HasMesh reports whether a mesh is loaded.
func (e *Engine) HasMesh() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mesh != nil
}

// Commands returns the number of commands handled so far.
func (e *Engine) Commands() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.commands
}

// InitParams returns the params of the last init command.
func (e *Engine) InitParams() meshlink.InitParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initParams
}

// Mesh returns a copy of the loaded mesh, or nil.
func (e *Engine) Mesh() *meshlink.Mesh {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mesh == nil {
		return nil
	}
	return cloneMesh(e.mesh)
}

var errShutdown = errors.New("shutdown requested")

// Serve handles frames from r and writes responses and events to w until
// the stream ends, a fatal protocol error occurs, or (outside socket mode)
// a shutdown command is handled. It returns io.EOF when the input ended
// and nil after shutdown.
func (e *Engine) Serve(r io.Reader, w io.Writer) error {
	for {
		err := e.serveOne(r, w)
		if err == nil {
			continue
		}
		if errors.Is(err, errShutdown) {
			return nil
		}
		if errors.Is(err, meshlink.ErrStreamClosed) {
			return io.EOF
		}
		e.logger.Error("engine serve loop error", "err", err)
		return err
	}
}

func (e *Engine) serveOne(r io.Reader, w io.Writer) error {
	frame, err := meshlink.ReadFrame(r)
	if err != nil {
		return err
	}
	if frame.Type != meshlink.FrameCommand {
		return e.respond(w, failure("Expected COMMAND message type", ErrTypeProtocol))
	}

	var req request
	if err := json.Unmarshal(frame.Payload, &req); err != nil || req.Command == "" {
		return e.respond(w, failure("Invalid command: missing 'command' field", ErrTypeInvalidCommand))
	}
	e.logger.Debug("engine received command", "command", req.Command)

	if d := e.opts.Delay[req.Command]; d > 0 {
		time.Sleep(d)
	}

	resp, shutdown := e.handle(req, w)
	if err := e.respond(w, resp); err != nil {
		return err
	}
	if shutdown {
		return errShutdown
	}
	return nil
}

func (e *Engine) respond(w io.Writer, resp reply) error {
	_, err := meshlink.WriteFrame(w, meshlink.FrameResponse, resp)
	return err
}

func (e *Engine) progress(w io.Writer, p float64, status string) {
	if e.opts.Quiet {
		return
	}
	meshlink.WriteFrame(w, meshlink.FrameEvent, meshlink.Event{Type: meshlink.EventProgress, Progress: p, Status: status})
}

func (e *Engine) log(w io.Writer, level meshlink.LogLevel, format string, args ...any) {
	if e.opts.Quiet {
		return
	}
	meshlink.WriteFrame(w, meshlink.FrameEvent, meshlink.Event{Type: meshlink.EventLog, Level: string(level), Message: fmt.Sprintf(format, args...)})
}

// handle runs one command. A panic inside a handler becomes a command_error
// response, matching how the engine reports unexpected failures.
func (e *Engine) handle(req request, w io.Writer) (resp reply, shutdown bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands++
	e.lastCommand = req.Command

	defer func() {
		if rv := recover(); rv != nil {
			e.state = StateError
			resp, shutdown = failure(fmt.Sprint(rv), ErrTypeCommand), false
		}
	}()

	start := time.Now()
	switch req.Command {
	case meshlink.CmdInit:
		resp = e.handleInit(req.Params)
	case meshlink.CmdGetInfo:
		resp = e.handleGetInfo()
	case meshlink.CmdLoadMesh:
		resp = e.handleLoadMesh(req.Params, w, start)
	case meshlink.CmdPreprocess:
		resp = e.handlePreprocess(req.Params, w, start)
	case meshlink.CmdDetectHoles:
		resp = e.handleDetectHoles(req.Params, w, start)
	case meshlink.CmdFillHoles:
		resp = e.handleFillHoles(req.Params, w, start)
	case meshlink.CmdSaveMesh:
		resp = e.handleSaveMesh(req.Params, start)
	case meshlink.CmdShutdown:
		if e.opts.SocketMode {
			e.mesh = nil
			e.holes = 0
			if e.state != StateUninitialized {
				e.state = StateReady
			}
			return success("Engine state reset (socket mode)"), false
		}
		return success("Shutdown requested"), true
	default:
		resp = failure("Unknown command: "+string(req.Command), ErrTypeUnknownCommand)
	}
	return resp, false
}

func (e *Engine) meshInfo() map[string]int {
	return map[string]int{
		"vertices": len(e.mesh.Vertices),
		"faces":    len(e.mesh.Faces),
		"edges":    countEdges(e.mesh),
	}
}

func countEdges(m *meshlink.Mesh) int {
	seen := make(map[edge]struct{}, len(m.Faces)*3/2)
	for _, f := range m.Faces {
		for _, ed := range faceEdges(f) {
			seen[undirected(ed[0], ed[1])] = struct{}{}
		}
	}
	return len(seen)
}

func (e *Engine) timing(resp reply, key string, start time.Time) {
	if e.opts.Stats {
		resp[key] = time.Since(start).Milliseconds()
	}
}

func (e *Engine) handleInit(raw json.RawMessage) reply {
	var p meshlink.InitParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return failure("Invalid init params: "+err.Error(), ErrTypeInvalidParams)
		}
	}
	e.initParams = p
	if e.mesh == nil {
		e.state = StateReady
	}
	resp := success("Engine initialized")
	resp["version"] = e.opts.Version
	resp["build_date"] = e.opts.BuildDate
	resp["build_time"] = e.opts.BuildTime
	return resp
}

func (e *Engine) handleGetInfo() reply {
	resp := success("")
	resp["state"] = int(e.state)
	resp["has_mesh"] = e.mesh != nil
	resp["version"] = e.opts.Version
	if e.mesh != nil {
		resp["mesh_info"] = e.meshInfo()
	}
	return resp
}

func (e *Engine) handleLoadMesh(raw json.RawMessage, w io.Writer, start time.Time) reply {
	var p loadParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return failure("Invalid load_mesh params: "+err.Error(), ErrTypeInvalidParams)
		}
	}
	if p.MeshDataBinary == nil {
		return failure("Missing required parameter: 'mesh_data_binary'", ErrTypeInvalidParams)
	}
	e.progress(w, 0, "Loading mesh")
	mesh, err := meshlink.DecodeMeshBase64(*p.MeshDataBinary)
	if err != nil {
		return failure("Failed to load binary mesh: "+err.Error(), ErrTypeInvalidParams)
	}
	e.mesh = mesh
	e.holes = 0
	e.state = StateMeshLoaded
	e.log(w, meshlink.LogInfo, "Mesh loaded: %d vertices, %d faces", len(mesh.Vertices), len(mesh.Faces))
	e.progress(w, 1, "Mesh loaded")

	resp := success("Mesh loaded from binary data")
	resp["mesh_info"] = e.meshInfo()
	e.timing(resp, "load_time_ms", start)
	e.timing(resp, "decode_time_ms", start)
	e.timing(resp, "deserialize_time_ms", start)
	return resp
}

func (e *Engine) requireMesh(op string) *reply {
	if e.mesh == nil {
		r := failure(fmt.Sprintf("No mesh loaded (%s)", op), ErrTypeCommand)
		return &r
	}
	return nil
}

func (e *Engine) handlePreprocess(raw json.RawMessage, w io.Writer, start time.Time) reply {
	if r := e.requireMesh("preprocess"); r != nil {
		return *r
	}
	opts, err := preprocessParams(raw)
	if err != nil {
		return failure("Invalid preprocess params: "+err.Error(), ErrTypeInvalidParams)
	}
	e.state = StatePreprocessing
	e.progress(w, 0, "Preprocessing")

	stats := meshlink.PreprocessStats{}
	if opts.RemoveDuplicates {
		stats.DuplicatesMerged = mergeDuplicates(e.mesh, opts.DuplicateThreshold)
	}
	e.progress(w, 0.5, "Soup cleanup complete")
	if opts.KeepLargestComponent {
		stats.SmallComponentsRemoved = keepLargest(e.mesh)
	}
	if opts.RemoveIsolated {
		stats.IsolatedVerticesRemoved = removeIsolated(e.mesh)
	}
	_, stats.ConnectedComponentsFound = components(e.mesh)
	stats.TotalTimeMs = float64(time.Since(start).Microseconds()) / 1000

	e.holes = 0
	e.state = StateMeshLoaded
	e.log(w, meshlink.LogInfo, "Preprocessing merged %d duplicates, removed %d isolated vertices",
		stats.DuplicatesMerged, stats.IsolatedVerticesRemoved)
	e.progress(w, 1, "Preprocessing complete")

	resp := success("Preprocessing complete")
	resp["stats"] = stats
	resp["mesh_info"] = e.meshInfo()
	e.timing(resp, "preprocess_time_ms", start)
	return resp
}

func (e *Engine) handleDetectHoles(raw json.RawMessage, w io.Writer, start time.Time) reply {
	if r := e.requireMesh("detect_holes"); r != nil {
		return *r
	}
	opts, err := holeParams(raw)
	if err != nil {
		return failure("Invalid detect_holes params: "+err.Error(), ErrTypeInvalidParams)
	}
	e.state = StateDetectingHoles
	e.progress(w, 0, "Detecting holes")

	loops, _ := boundaryLoops(e.mesh)
	diag := diagonal(e.mesh.Vertices, nil)
	count := 0
	for _, l := range loops {
		if eligible(e.mesh, l, opts, diag) {
			count++
		}
	}
	e.holes = count
	e.state = StateMeshLoaded
	e.log(w, meshlink.LogInfo, "Total holes found: %d, within size limit: %d", len(loops), count)
	e.progress(w, 1, "Hole detection complete")

	resp := success("Hole detection complete")
	resp["stats"] = meshlink.DetectStats{HolesDetected: count}
	e.timing(resp, "detect_time_ms", start)
	return resp
}

func (e *Engine) handleFillHoles(raw json.RawMessage, w io.Writer, start time.Time) reply {
	if r := e.requireMesh("fill_holes"); r != nil {
		return *r
	}
	opts, err := holeParams(raw)
	if err != nil {
		return failure("Invalid fill_holes params: "+err.Error(), ErrTypeInvalidParams)
	}
	e.state = StateFillingHoles
	e.progress(w, 0, "Filling holes")

	stats := meshlink.FillStats{
		OriginalVertices: len(e.mesh.Vertices),
		OriginalFaces:    len(e.mesh.Faces),
	}
	loops, open := boundaryLoops(e.mesh)
	diag := diagonal(e.mesh.Vertices, nil)
	stats.NumHolesDetected = len(loops) + open
	stats.NumHolesFailed = open
	for i, l := range loops {
		if !eligible(e.mesh, l, opts, diag) {
			stats.NumHolesSkipped++
			continue
		}
		v, f := fanFill(e.mesh, l)
		stats.NumHolesFilled++
		stats.TotalVerticesAdded += v
		stats.TotalFacesAdded += f
		e.progress(w, float64(i+1)/float64(len(loops)), fmt.Sprintf("Filled hole %d/%d", i+1, len(loops)))
	}
	stats.FinalVertices = len(e.mesh.Vertices)
	stats.FinalFaces = len(e.mesh.Faces)
	stats.TotalTimeMs = float64(time.Since(start).Microseconds()) / 1000

	e.holes = 0
	e.state = StateMeshLoaded
	e.log(w, meshlink.LogInfo, "Filled %d of %d holes", stats.NumHolesFilled, stats.NumHolesDetected)
	e.progress(w, 1, "Hole filling complete")

	resp := success("Hole filling complete")
	resp["stats"] = stats
	resp["mesh_info"] = e.meshInfo()
	e.timing(resp, "fill_time_ms", start)
	return resp
}

func (e *Engine) handleSaveMesh(raw json.RawMessage, start time.Time) reply {
	var p saveParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return failure("Invalid save_mesh params: "+err.Error(), ErrTypeInvalidParams)
		}
	}
	if !p.ReturnBinary {
		return failure("Missing required parameter: 'return_binary'", ErrTypeInvalidParams)
	}
	if e.mesh == nil {
		return failure("Failed to serialize binary mesh: no mesh loaded", ErrTypeSerialization)
	}
	resp := success("Mesh data extracted (binary)")
	resp[meshlink.KeyMeshDataBinary] = meshlink.EncodeMeshBase64(e.mesh)
	e.timing(resp, "save_time_ms", start)
	e.timing(resp, "serialize_time_ms", start)
	e.timing(resp, "encode_time_ms", start)
	return resp
}
