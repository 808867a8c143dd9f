// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package meshlink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Mode selects how a Session reaches the engine.
type Mode string

const (
	ModePipe   Mode = "pipe"   // spawn the engine and talk over stdin/stdout
	ModeSocket Mode = "socket" // connect to an engine listening on TCP
)

// Timeouts bounds each blocking step of a Session. Zero fields take the
// value from DefaultTimeouts.
type Timeouts struct {
	Init           time.Duration `toml:"init"`
	GetInfo        time.Duration `toml:"get_info"`
	Load           time.Duration `toml:"load"`
	Preprocess     time.Duration `toml:"preprocess"`
	Detect         time.Duration `toml:"detect"`
	Fill           time.Duration `toml:"fill"`
	Save           time.Duration `toml:"save"`
	BatchResponse  time.Duration `toml:"batch_response"` // per response while draining a batch
	Stop           time.Duration `toml:"stop"`
	TerminateGrace time.Duration `toml:"terminate_grace"` // between terminate and kill after a batch
}

// DefaultTimeouts returns the timeouts used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Init:           5 * time.Second,
		GetInfo:        5 * time.Second,
		Load:           60 * time.Second,
		Preprocess:     120 * time.Second,
		Detect:         120 * time.Second,
		Fill:           600 * time.Second,
		Save:           120 * time.Second,
		BatchResponse:  120 * time.Second,
		Stop:           5 * time.Second,
		TerminateGrace: time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	fill := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&t.Init, d.Init)
	fill(&t.GetInfo, d.GetInfo)
	fill(&t.Load, d.Load)
	fill(&t.Preprocess, d.Preprocess)
	fill(&t.Detect, d.Detect)
	fill(&t.Fill, d.Fill)
	fill(&t.Save, d.Save)
	fill(&t.BatchResponse, d.BatchResponse)
	fill(&t.Stop, d.Stop)
	fill(&t.TerminateGrace, d.TerminateGrace)
	return t
}

// Config configures a Session.
type Config struct {
	Mode       Mode   // default ModePipe
	EnginePath string // required for ModePipe unless NewTransport is set
	Host       string // ModeSocket host, default "localhost"
	Port       int    // ModeSocket port, default DefaultSocketPort
	Verbosity  int    // 0 quiet .. 4 trace; 2+ sets init.verbose, 4 sets init.debug
	// Batch forces batch (true) or interactive (false) mode. When nil, pipe
	// sessions batch and socket sessions are interactive.
	Batch         *bool
	MaxThreads    int    // 0 lets the engine decide
	TempDir       string // engine scratch directory; defaults to the OS temp dir at verbosity 4
	LogFile       string // engine log file; a temp file is created when empty
	NoLogFile     bool   // do not pass a log file to the engine
	Stats         bool   // start the engine with --stats
	CaptureStderr *bool  // see ProcessTransport.CaptureStderr
	InboxSize     int    // see WithInboxSize
	Timeouts      Timeouts

	Logger   *slog.Logger // default slog.Default()
	Observer Observer     // default LogObserver on Logger
	Hook     CommandHook  // optional
	// NewTransport overrides transport construction. It is called once per
	// engine connection.
	NewTransport func() Transport
}

// EngineInfo is the build metadata reported by init.
type EngineInfo struct {
	Version   string
	BuildDate string
	BuildTime string
}

// BatchEntry pairs a batched command with the response read for it.
type BatchEntry struct {
	Command  CommandName
	Response *Response
}

// Session drives one engine through the repair commands. It is not safe
// for concurrent use; every exchange blocks the calling goroutine.
type Session struct {
	id       string
	cfg      Config
	timeouts Timeouts
	batch    bool
	tempDir  string
	logger   *slog.Logger
	observer Observer
	hook     CommandHook

	manager    *Manager
	meshLoaded bool
	queue      []Command
	responses  []BatchEntry
	info       EngineInfo
	logFile    string
}

// NewSession validates cfg and returns an unstarted Session.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModePipe
	}
	switch cfg.Mode {
	case ModePipe:
		if cfg.EnginePath == "" && cfg.NewTransport == nil {
			return nil, errors.New("meshlink: engine path is required in pipe mode")
		}
	case ModeSocket:
		if cfg.Port < 0 || cfg.Port > 65535 {
			return nil, fmt.Errorf("meshlink: invalid port %d", cfg.Port)
		}
	default:
		return nil, fmt.Errorf("meshlink: unknown mode %q", cfg.Mode)
	}

	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg,
		timeouts: cfg.Timeouts.withDefaults(),
		logger:   cfg.Logger,
		observer: cfg.Observer,
		hook:     cfg.Hook,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("session", s.id)
	if s.observer == nil {
		s.observer = LogObserver{Logger: s.logger}
	}
	if cfg.Batch != nil {
		s.batch = *cfg.Batch
	} else {
		s.batch = cfg.Mode == ModePipe
	}

	s.tempDir = cfg.TempDir
	if s.tempDir == "" && cfg.Verbosity >= 4 {
		s.tempDir = os.TempDir()
	}
	if s.tempDir != "" {
		if abs, err := filepath.Abs(s.tempDir); err == nil {
			s.tempDir = abs
		}
		if err := os.MkdirAll(s.tempDir, 0o755); err != nil {
			s.logger.Warn("creating engine temp dir", "dir", s.tempDir, "err", err)
		}
	}
	return s, nil
}

// ID returns the session identifier attached to logs and hooks.
func (s *Session) ID() string { return s.id }

// BatchMode reports whether commands are queued rather than sent.
func (s *Session) BatchMode() bool { return s.batch }

// MeshLoaded reports whether a mesh has been loaded (or queued for loading).
func (s *Session) MeshLoaded() bool { return s.meshLoaded }

// Info returns the engine build metadata recorded from init.
func (s *Session) Info() EngineInfo { return s.info }

// LogFilePath returns the engine log file passed to init, if any.
func (s *Session) LogFilePath() string { return s.logFile }

// TempDir returns the engine scratch directory passed to init, if any.
func (s *Session) TempDir() string { return s.tempDir }

// Manager returns the current connection, or nil before Start.
func (s *Session) Manager() *Manager { return s.manager }

// Running reports whether the session has a live engine connection.
func (s *Session) Running() bool {
	return s.manager != nil && s.manager.IsRunning()
}

// Pending returns the number of queued batch commands.
func (s *Session) Pending() int { return len(s.queue) }

func (s *Session) newTransport() Transport {
	if s.cfg.NewTransport != nil {
		return s.cfg.NewTransport()
	}
	if s.cfg.Mode == ModeSocket {
		return &SocketTransport{Host: s.cfg.Host, Port: s.cfg.Port, Logger: s.logger}
	}
	return &ProcessTransport{
		Path:          s.cfg.EnginePath,
		Verbosity:     s.cfg.Verbosity,
		Stats:         s.cfg.Stats,
		CaptureStderr: s.cfg.CaptureStderr,
		Logger:        s.logger,
	}
}

// Start connects to the engine and issues init. In batch mode init is
// queued; otherwise its response is awaited and the engine version is
// recorded. Starting a running session is a no-op.
func (s *Session) Start(ctx context.Context) error {
	if s.Running() {
		return nil
	}
	m := NewManager(s.newTransport(),
		WithLogger(s.logger),
		WithObserver(s.observer),
		WithInboxSize(s.cfg.InboxSize),
	)
	if err := m.Start(ctx); err != nil {
		return err
	}
	s.manager = m
	s.meshLoaded = false
	s.queue = nil

	params, err := s.initParams()
	if err != nil {
		s.manager.Terminate(s.timeouts.TerminateGrace)
		return err
	}
	cmd := Command{Name: CmdInit, Params: params}
	if s.batch {
		s.queue = append(s.queue, cmd)
		return nil
	}
	resp, err := s.exchange(ctx, cmd, s.timeouts.Init)
	if err != nil {
		s.manager.Stop(s.timeouts.Stop)
		return err
	}
	s.recordInfo(resp)
	return nil
}

func (s *Session) initParams() (InitParams, error) {
	p := InitParams{
		MaxThreads: s.cfg.MaxThreads,
		Verbose:    s.cfg.Verbosity >= 2,
		Debug:      s.cfg.Verbosity >= 4,
		TempDir:    s.tempDir,
	}
	if !s.cfg.NoLogFile {
		if s.cfg.LogFile != "" {
			s.logFile = s.cfg.LogFile
		} else if s.logFile == "" {
			f, err := os.CreateTemp("", "meshrepair_engine_*.log")
			if err != nil {
				return p, fmt.Errorf("creating engine log file: %w", err)
			}
			s.logFile = f.Name()
			f.Close()
		}
		p.LogFilePath = s.logFile
		s.logger.Info("engine log file", "path", s.logFile)
	}
	return p, nil
}

func (s *Session) recordInfo(resp *Response) {
	unknown := func(v string) string {
		if v == "" {
			return "unknown"
		}
		return v
	}
	s.info = EngineInfo{
		Version:   unknown(resp.Version),
		BuildDate: unknown(resp.BuildDate),
		BuildTime: unknown(resp.BuildTime),
	}
	s.logger.Info("engine ready", "version", s.info.Version, "built", s.info.BuildDate+" "+s.info.BuildTime)
}

func (s *Session) ensureStarted(ctx context.Context) error {
	if s.Running() {
		return nil
	}
	return s.Start(ctx)
}

func (s *Session) requireMesh(name CommandName) error {
	if !s.meshLoaded {
		return preconditionError(string(name), ErrNoMeshLoaded)
	}
	return nil
}

func (s *Session) commandInfo(name CommandName, batch bool) CommandInfo {
	kind := TransportKind("")
	if s.manager != nil {
		kind = s.manager.Kind()
	}
	return CommandInfo{Command: name, SessionID: s.id, Transport: kind, Batch: batch}
}

// exchange sends cmd and waits for its response. An error-typed response
// becomes an engine error named after the command, or a transport error
// when the response was synthesized after the connection failed.
func (s *Session) exchange(ctx context.Context, cmd Command, timeout time.Duration) (*Response, error) {
	if s.manager == nil {
		return nil, preconditionError(string(cmd.Name), ErrNotRunning)
	}
	m := s.manager
	call := startHook(ctx, s.hook, s.commandInfo(cmd.Name, false), s.logger)
	sent, recv := m.BytesSent(), m.BytesReceived()

	resp, err := s.roundTrip(call.ctx, cmd, timeout)

	stats := &CommandStatistics{
		BytesSent:     m.BytesSent() - sent,
		BytesReceived: m.BytesReceived() - recv,
	}
	if resp != nil {
		stats.ResponseType = resp.Type
	}
	call.end(stats, err)
	return resp, err
}

func (s *Session) roundTrip(ctx context.Context, cmd Command, timeout time.Duration) (*Response, error) {
	if err := s.manager.SendCommand(cmd); err != nil {
		return nil, err
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := s.manager.ReadResponseContext(rctx)
	if err != nil {
		var e *Error
		if errors.As(err, &e) && e.Kind == KindTimeout {
			return nil, &Error{Kind: KindTimeout, Op: string(cmd.Name), Message: fmt.Sprintf("no response within %s", timeout), Err: ErrTimeout}
		}
		return nil, err
	}
	if err := responseError(cmd.Name, resp); err != nil {
		return resp, err
	}
	s.logTimings(cmd.Name, resp)
	return resp, nil
}

func responseError(name CommandName, resp *Response) error {
	if !resp.IsError() {
		return nil
	}
	if resp.Cause != nil {
		return &Error{Kind: KindTransport, Op: string(name), Message: resp.ErrorMessage(), Err: resp.Cause}
	}
	var engineType string
	if resp.Error != nil {
		engineType = resp.Error.Type
	}
	return &Error{Kind: KindEngine, Op: string(name), Message: resp.ErrorMessage(), EngineType: engineType}
}

func (s *Session) logTimings(name CommandName, resp *Response) {
	timings := resp.Timings()
	if len(timings) == 0 {
		return
	}
	attrs := []any{"command", name}
	for _, k := range timingKeys {
		if v, ok := timings[k]; ok {
			attrs = append(attrs, k, v)
		}
	}
	s.logger.Info("engine timings", attrs...)
}

// sendOrQueue queues cmd in batch mode and returns a local acknowledgement,
// or sends it and waits for the response in interactive mode.
func (s *Session) sendOrQueue(ctx context.Context, cmd Command, timeout time.Duration) (*Response, error) {
	if s.batch {
		s.queue = append(s.queue, cmd)
		return queuedResponse(cmd.Name), nil
	}
	return s.exchange(ctx, cmd, timeout)
}

// EngineInfo sends get_info and returns the response. It starts the
// session if needed and does not require a loaded mesh. The command is
// sent directly even in batch mode.
func (s *Session) EngineInfo(ctx context.Context) (*Response, error) {
	if err := s.ensureStarted(ctx); err != nil {
		return nil, err
	}
	return s.exchange(ctx, Command{Name: CmdGetInfo}, s.timeouts.GetInfo)
}

// MeshInfo asks the engine for the current mesh statistics. In batch mode
// the request is queued and a nil MeshInfo is returned; read it after the
// batch with LastResponse(CmdGetInfo).
func (s *Session) MeshInfo(ctx context.Context) (*MeshInfo, error) {
	if err := s.requireMesh(CmdGetInfo); err != nil {
		return nil, err
	}
	resp, err := s.sendOrQueue(ctx, Command{Name: CmdGetInfo}, s.timeouts.GetInfo)
	if err != nil || s.batch {
		return nil, err
	}
	return DecodeMeshInfo(resp)
}

// LoadMesh sends the mesh to the engine. The mesh is validated locally
// first; an invalid face index fails before any I/O.
func (s *Session) LoadMesh(ctx context.Context, mesh *Mesh) (*Response, error) {
	if mesh == nil {
		return nil, &Error{Kind: KindData, Op: string(CmdLoadMesh), Message: "mesh is nil"}
	}
	if err := mesh.Validate(); err != nil {
		return nil, err
	}
	if err := s.ensureStarted(ctx); err != nil {
		return nil, err
	}
	s.logger.Info("sending mesh", "vertices", mesh.VertexCount(), "faces", mesh.FaceCount())
	cmd := Command{Name: CmdLoadMesh, Params: LoadMeshParams{MeshDataBinary: EncodeMeshBase64(mesh)}}
	resp, err := s.sendOrQueue(ctx, cmd, s.timeouts.Load)
	if err != nil {
		return resp, err
	}
	s.meshLoaded = true
	return resp, nil
}

// Preprocess runs the cleanup passes selected by opts.
func (s *Session) Preprocess(ctx context.Context, opts PreprocessOptions) (*Response, error) {
	if err := s.requireMesh(CmdPreprocess); err != nil {
		return nil, err
	}
	return s.sendOrQueue(ctx, Command{Name: CmdPreprocess, Params: opts}, s.timeouts.Preprocess)
}

// DetectHoles counts the holes within the size limits of opts.
func (s *Session) DetectHoles(ctx context.Context, opts HoleOptions) (*Response, error) {
	if err := s.requireMesh(CmdDetectHoles); err != nil {
		return nil, err
	}
	return s.sendOrQueue(ctx, Command{Name: CmdDetectHoles, Params: opts.detectParams()}, s.timeouts.Detect)
}

// FillHoles fills the holes within the size limits of opts.
func (s *Session) FillHoles(ctx context.Context, opts HoleOptions) (*Response, error) {
	if err := s.requireMesh(CmdFillHoles); err != nil {
		return nil, err
	}
	return s.sendOrQueue(ctx, Command{Name: CmdFillHoles, Params: opts}, s.timeouts.Fill)
}

// SaveMesh retrieves the engine's current mesh. In batch mode this queues
// save_mesh and executes the whole batch; the first failed command in the
// batch is reported as the error.
func (s *Session) SaveMesh(ctx context.Context) (*Mesh, error) {
	if err := s.requireMesh(CmdSaveMesh); err != nil {
		return nil, err
	}
	cmd := Command{Name: CmdSaveMesh, Params: SaveMeshParams{ReturnBinary: true}}

	var resp *Response
	if s.batch {
		s.queue = append(s.queue, cmd)
		responses, err := s.ExecuteBatch(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range s.responses {
			if err := responseError(e.Command, e.Response); err != nil {
				return nil, err
			}
		}
		resp = s.LastResponse(CmdSaveMesh)
		if resp == nil {
			for i := len(responses) - 1; i >= 0; i-- {
				if !responses[i].IsError() && responses[i].MeshDataBinary != "" {
					resp = responses[i]
					break
				}
			}
		}
		if resp == nil {
			return nil, &Error{Kind: KindData, Op: string(CmdSaveMesh), Message: "no save_mesh response found in batch", Err: ErrNoMeshData}
		}
	} else {
		var err error
		resp, err = s.exchange(ctx, cmd, s.timeouts.Save)
		if err != nil {
			return nil, err
		}
	}

	if resp.MeshDataBinary == "" {
		return nil, &Error{Kind: KindData, Op: string(CmdSaveMesh), Err: ErrNoMeshData}
	}
	mesh, err := DecodeMeshBase64(resp.MeshDataBinary)
	if err != nil {
		return nil, fmt.Errorf("decoding saved mesh: %w", err)
	}
	s.logger.Info("received mesh", "vertices", mesh.VertexCount(), "faces", mesh.FaceCount())
	return mesh, nil
}

// QueueCommand appends an arbitrary command to the batch queue.
func (s *Session) QueueCommand(cmd Command) error {
	if !s.batch {
		return preconditionError("queue "+string(cmd.Name), ErrNotBatchMode)
	}
	s.queue = append(s.queue, cmd)
	return nil
}

// ExecuteBatch writes every queued command, reads exactly one response per
// command in queue order, and records the pairs for LastResponse,
// replacing the previous batch. With a process transport the engine is
// then terminated, since it lingers after end-of-input.
func (s *Session) ExecuteBatch(ctx context.Context) ([]*Response, error) {
	if !s.batch {
		return nil, preconditionError("execute batch", ErrNotBatchMode)
	}
	if len(s.queue) == 0 {
		return nil, preconditionError("execute batch", ErrEmptyBatch)
	}
	if !s.Running() {
		return nil, preconditionError("execute batch", ErrNotRunning)
	}

	queue := s.queue
	s.queue = nil
	s.responses = nil
	s.logger.Info("executing batch", "commands", len(queue))

	calls := make([]*hookCall, len(queue))
	for i, cmd := range queue {
		calls[i] = startHook(ctx, s.hook, s.commandInfo(cmd.Name, true), s.logger)
	}
	abort := func(from int, err error) {
		for _, c := range calls[from:] {
			c.end(&CommandStatistics{}, err)
		}
		s.finishBatch()
	}

	if err := s.manager.SendCommandsBatch(queue); err != nil {
		abort(0, err)
		return nil, err
	}

	responses := make([]*Response, 0, len(queue))
	pairs := make([]BatchEntry, 0, len(queue))
	for i, cmd := range queue {
		s.logger.Debug("waiting for batch response", "index", i+1, "of", len(queue), "command", cmd.Name)
		rctx, cancel := context.WithTimeout(ctx, s.timeouts.BatchResponse)
		resp, err := s.manager.ReadResponseContext(rctx)
		cancel()
		if err != nil {
			var e *Error
			if errors.As(err, &e) && e.Kind == KindTimeout {
				err = &Error{Kind: KindTimeout, Op: string(cmd.Name), Message: fmt.Sprintf("no batch response within %s", s.timeouts.BatchResponse), Err: ErrTimeout}
			}
			s.responses = pairs
			abort(i, err)
			return responses, err
		}
		responses = append(responses, resp)
		pairs = append(pairs, BatchEntry{Command: cmd.Name, Response: resp})

		rerr := responseError(cmd.Name, resp)
		if rerr != nil {
			s.logger.Error("batch command failed", "command", cmd.Name, "err", resp.ErrorMessage())
		} else {
			s.logger.Debug("batch command succeeded", "command", cmd.Name)
			s.logTimings(cmd.Name, resp)
			if cmd.Name == CmdInit {
				s.recordInfo(resp)
			}
		}
		calls[i].end(&CommandStatistics{ResponseType: resp.Type}, rerr)
	}
	s.responses = pairs
	s.finishBatch()
	return responses, nil
}

// finishBatch terminates a process engine after its batch. A socket
// connection is left open.
func (s *Session) finishBatch() {
	if s.manager == nil || s.manager.Kind() != TransportProcess {
		return
	}
	s.logger.Debug("terminating engine after batch")
	code, err := s.manager.Terminate(s.timeouts.TerminateGrace)
	if err != nil {
		s.logger.Warn("terminating engine", "err", err)
	}
	s.logger.Debug("engine terminated", "exit_code", code)
	// The mesh lived in the process that just exited.
	s.meshLoaded = false
}

// FlushBatch executes the batch if commands are queued. It returns nil
// without error otherwise, including in interactive mode.
func (s *Session) FlushBatch(ctx context.Context) ([]*Response, error) {
	if !s.batch || len(s.queue) == 0 {
		return nil, nil
	}
	return s.ExecuteBatch(ctx)
}

// LastResponse returns the most recent response recorded for name in the
// last batch, or nil.
func (s *Session) LastResponse(name CommandName) *Response {
	for i := len(s.responses) - 1; i >= 0; i-- {
		if s.responses[i].Command == name {
			return s.responses[i].Response
		}
	}
	return nil
}

// BatchResponses returns the pairs recorded by the last batch.
func (s *Session) BatchResponses() []BatchEntry {
	return append([]BatchEntry(nil), s.responses...)
}

// Stop closes the engine connection and clears the loaded-mesh flag even
// when closing fails. The wait for a graceful exit is bounded by the Stop
// timeout and by ctx's deadline, whichever is sooner.
func (s *Session) Stop(ctx context.Context) error {
	defer func() {
		s.meshLoaded = false
		s.queue = nil
	}()
	if s.manager == nil {
		return nil
	}
	timeout := s.timeouts.Stop
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	code, err := s.manager.Stop(timeout)
	if s.logFile != "" {
		s.logger.Info("engine stopped", "exit_code", code, "log_file", s.logFile)
	} else {
		s.logger.Info("engine stopped", "exit_code", code)
	}
	return err
}
