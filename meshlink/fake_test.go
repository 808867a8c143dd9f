// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package meshlink

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// pipeTransport connects a Manager to an in-process engine function over
// two io.Pipes.
type pipeTransport struct {
	engine func(r io.Reader, w io.Writer)

	hostR, engR *io.PipeReader
	hostW, engW *io.PipeWriter

	mu          sync.Mutex
	inputClosed bool
	closed      bool
	shutdowns   int
	done        chan struct{}
}

func newPipeTransport(engine func(r io.Reader, w io.Writer)) *pipeTransport {
	return &pipeTransport{engine: engine, done: make(chan struct{})}
}

func (p *pipeTransport) Kind() TransportKind { return TransportProcess }

func (p *pipeTransport) Open(context.Context) (io.Reader, io.Writer, error) {
	p.engR, p.hostW = io.Pipe()
	p.hostR, p.engW = io.Pipe()
	go func() {
		defer close(p.done)
		defer p.engW.Close()
		p.engine(p.engR, p.engW)
	}()
	return p.hostR, p.hostW, nil
}

func (p *pipeTransport) CloseInput() error {
	p.mu.Lock()
	p.inputClosed = true
	p.mu.Unlock()
	return p.hostW.Close()
}

func (p *pipeTransport) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

func (p *pipeTransport) Terminate(time.Duration) (int, error) {
	p.teardown()
	return 0, nil
}

func (p *pipeTransport) Close(timeout time.Duration, shutdown func() error) (int, error) {
	p.mu.Lock()
	p.shutdowns++
	p.mu.Unlock()
	shutdown()
	select {
	case <-p.done:
	case <-time.After(timeout):
	}
	p.teardown()
	return 0, nil
}

func (p *pipeTransport) teardown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.hostW.Close()
	p.engR.Close()
	p.hostR.Close()
}

// replyingEngine answers every command with a success echoing the command
// name in message, preceded by one progress event. It exits on shutdown or
// end of input.
func replyingEngine(r io.Reader, w io.Writer) {
	for {
		f, err := ReadFrame(r)
		if err != nil {
			return
		}
		var cmd struct {
			Command string `json:"command"`
		}
		json.Unmarshal(f.Payload, &cmd)
		WriteFrame(w, FrameEvent, Event{Type: EventProgress, Progress: 0.5, Status: cmd.Command})
		WriteFrame(w, FrameResponse, map[string]string{"type": "success", "message": cmd.Command})
		if cmd.Command == string(CmdShutdown) {
			return
		}
	}
}

// silentEngine reads commands and never answers.
func silentEngine(r io.Reader, _ io.Writer) {
	io.Copy(io.Discard, r)
}

// recordingObserver collects events.
type recordingObserver struct {
	mu       sync.Mutex
	progress []string
	logs     []string
}

func (o *recordingObserver) OnProgress(_ float64, status string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress = append(o.progress, status)
}

func (o *recordingObserver) OnLog(level LogLevel, message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.logs = append(o.logs, string(level)+" "+message)
}

func (o *recordingObserver) snapshot() (progress, logs []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.progress...), append([]string(nil), o.logs...)
}
