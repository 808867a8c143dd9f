// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package meshlink

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type managerState int

const (
	stateUnstarted managerState = iota
	stateRunning
	stateStopped
)

func (s managerState) String() string {
	switch s {
	case stateUnstarted:
		return "unstarted"
	case stateRunning:
		return "running"
	default:
		return "stopped"
	}
}

// Manager owns one connection to an engine: the transport, the outbound
// writer, and the reader goroutine draining the inbound stream. It moves
// from unstarted to running to stopped and never back.
//
// Responses are returned in the order they arrive. The Manager does not pair
// them with commands; it only refuses to send an interactive command while
// an earlier one is still unanswered.
type Manager struct {
	transport Transport
	logger    *slog.Logger
	observer  Observer
	inboxSize int

	mu       sync.Mutex
	state    managerState
	w        io.Writer
	rd       *reader
	awaiting int // responses owed by the engine

	wmu  sync.Mutex // serializes frame writes
	sent atomic.Int64
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithObserver sets the receiver of progress and log events. Defaults to a
// LogObserver on the manager's logger.
func WithObserver(o Observer) ManagerOption {
	return func(m *Manager) { m.observer = o }
}

// WithInboxSize sets the response buffer size. Defaults to DefaultInboxSize.
func WithInboxSize(n int) ManagerOption {
	return func(m *Manager) { m.inboxSize = n }
}

// NewManager returns an unstarted Manager over t.
func NewManager(t Transport, opts ...ManagerOption) *Manager {
	m := &Manager{transport: t, inboxSize: DefaultInboxSize}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.observer == nil {
		m.observer = LogObserver{Logger: m.logger}
	}
	return m
}

// Kind returns the transport kind.
func (m *Manager) Kind() TransportKind { return m.transport.Kind() }

// Transport returns the underlying transport.
func (m *Manager) Transport() Transport { return m.transport }

// Start opens the transport and starts the reader. Starting a running
// manager is a no-op; starting a stopped one fails with ErrStopped.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case stateRunning:
		return nil
	case stateStopped:
		return preconditionError("start", ErrStopped)
	}
	r, w, err := m.transport.Open(ctx)
	if err != nil {
		return transportError("start", err)
	}
	m.w = w
	m.rd = newReader(r, m.inboxSize, m.observer, m.logger)
	m.rd.start()
	m.state = stateRunning
	m.logger.Debug("engine connection started", "transport", m.transport.Kind())
	return nil
}

// IsRunning reports whether the manager is running and the transport is
// alive: for a process, the child has not exited; for a socket, the
// connection is open.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	running := m.state == stateRunning
	m.mu.Unlock()
	return running && m.transport.Alive()
}

// SendCommand writes one command frame. It fails with ErrNotRunning when the
// connection is not active and with ErrBusy while a previous command's
// response has not been read.
func (m *Manager) SendCommand(cmd Command) error {
	op := string(cmd.Name)
	if !m.IsRunning() {
		return preconditionError(op, ErrNotRunning)
	}
	m.mu.Lock()
	if m.awaiting > 0 {
		m.mu.Unlock()
		return preconditionError(op, ErrBusy)
	}
	m.awaiting++
	m.mu.Unlock()

	if err := m.write(cmd); err != nil {
		m.owe(-1)
		return err
	}
	return nil
}

// SendCommandsBatch writes every command in order, then signals
// end-of-input. With a process transport that closes the engine's stdin;
// with a socket it does nothing and the connection stays usable.
func (m *Manager) SendCommandsBatch(cmds []Command) error {
	if !m.IsRunning() {
		return preconditionError("send batch", ErrNotRunning)
	}
	m.mu.Lock()
	if m.awaiting > 0 {
		m.mu.Unlock()
		return preconditionError("send batch", ErrBusy)
	}
	m.awaiting += len(cmds)
	m.mu.Unlock()

	for i, cmd := range cmds {
		if err := m.write(cmd); err != nil {
			m.owe(-(len(cmds) - i))
			return err
		}
	}
	if err := m.transport.CloseInput(); err != nil {
		return transportError("send batch", err)
	}
	m.logger.Debug("batch sent", "commands", len(cmds))
	return nil
}

func (m *Manager) write(cmd Command) error {
	m.mu.Lock()
	w := m.w
	m.mu.Unlock()
	if w == nil {
		return preconditionError(string(cmd.Name), ErrNotRunning)
	}

	attrs := []any{"command", cmd.Name}
	if p, ok := cmd.Params.(LoadMeshParams); ok {
		attrs = append(attrs, "mesh_base64_bytes", len(p.MeshDataBinary))
	}
	m.logger.Debug("sending command", attrs...)

	m.wmu.Lock()
	n, err := WriteFrame(w, FrameCommand, cmd)
	m.wmu.Unlock()
	m.sent.Add(int64(n))
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			e.Op = string(cmd.Name)
		}
		return err
	}
	return nil
}

func (m *Manager) owe(delta int) {
	m.mu.Lock()
	m.awaiting += delta
	if m.awaiting < 0 {
		m.awaiting = 0
	}
	m.mu.Unlock()
}

func (m *Manager) currentReader() *reader {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rd
}

// ReadResponse waits up to timeout for the next response. A timeout of zero
// or less waits indefinitely. Expiry returns a timeout error wrapping
// ErrTimeout; the engine may still answer later.
func (m *Manager) ReadResponse(timeout time.Duration) (*Response, error) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return m.ReadResponseContext(ctx)
}

// ReadResponseContext waits for the next response until ctx is done.
func (m *Manager) ReadResponseContext(ctx context.Context) (*Response, error) {
	rd := m.currentReader()
	if rd == nil {
		return nil, preconditionError("read response", ErrNotRunning)
	}
	select {
	case resp, ok := <-rd.inbox:
		if !ok {
			return nil, m.closedError(rd)
		}
		m.received(resp)
		return resp, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, timeoutError("read response")
		}
		return nil, ctx.Err()
	}
}

// TryReadResponse returns the next response if one is already buffered.
func (m *Manager) TryReadResponse() (*Response, bool) {
	rd := m.currentReader()
	if rd == nil {
		return nil, false
	}
	select {
	case resp, ok := <-rd.inbox:
		if !ok {
			return nil, false
		}
		m.received(resp)
		return resp, true
	default:
		return nil, false
	}
}

func (m *Manager) received(resp *Response) {
	m.owe(-1)
	attrs := []any{"type", resp.Type}
	if resp.Message != "" {
		attrs = append(attrs, "message", resp.Message)
	}
	if resp.IsError() {
		attrs = append(attrs, "error", resp.ErrorMessage())
	}
	if resp.MeshDataBinary != "" {
		attrs = append(attrs, "mesh_base64_bytes", len(resp.MeshDataBinary))
	}
	m.logger.Debug("received response", attrs...)
}

func (m *Manager) closedError(rd *reader) error {
	if rd.err != nil {
		return rd.err
	}
	return transportError("read response", ErrStreamClosed)
}

// BytesSent returns the number of bytes written so far.
func (m *Manager) BytesSent() int64 { return m.sent.Load() }

// BytesReceived returns the number of bytes the reader has consumed.
func (m *Manager) BytesReceived() int64 {
	if rd := m.currentReader(); rd != nil {
		return rd.received.Load()
	}
	return 0
}

// Stop closes the connection. A process transport is asked to shut down
// with a shutdown command and waited on for up to timeout before being
// killed; a socket transport is only closed locally. It returns the
// engine's exit code, or 0 for a socket.
func (m *Manager) Stop(timeout time.Duration) (int, error) {
	rd, ok := m.markStopped()
	if !ok {
		return 0, nil
	}
	code, err := m.transport.Close(timeout, func() error {
		return m.write(Command{Name: CmdShutdown})
	})
	rd.stop()
	if err != nil {
		return code, transportError("stop", err)
	}
	m.logger.Debug("engine connection stopped", "exit_code", code)
	return code, nil
}

// Terminate stops the connection without a shutdown command. A process is
// sent a termination signal, given grace to exit, then killed.
func (m *Manager) Terminate(grace time.Duration) (int, error) {
	rd, ok := m.markStopped()
	if !ok {
		return 0, nil
	}
	code, err := m.transport.Terminate(grace)
	rd.stop()
	if err != nil {
		return code, transportError("terminate", err)
	}
	return code, nil
}

func (m *Manager) markStopped() (*reader, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.state
	m.state = stateStopped
	return m.rd, prev == stateRunning
}
