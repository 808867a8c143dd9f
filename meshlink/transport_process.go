// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package meshlink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// ProcessTransport runs the engine as a child process speaking the
// protocol on its stdin and stdout.
type ProcessTransport struct {
	Path      string   // engine executable
	Args      []string // extra arguments appended after the engine flags
	Env       []string // environment; nil inherits the host's
	Verbosity int      // passed as -v N when positive
	Verbose   bool     // adds --verbose
	Stats     bool     // adds --stats
	// CaptureStderr routes the engine's stderr through the logger. When
	// nil it is captured everywhere except Windows, where it is inherited.
	CaptureStderr *bool
	Logger        *slog.Logger

	mu          sync.Mutex
	cmd         *exec.Cmd
	stdin       *os.File
	stdout      *os.File
	inputClosed bool
	exited      chan struct{}
	exitCode    int
	waitErr     error
}

func (p *ProcessTransport) Kind() TransportKind { return TransportProcess }

func (p *ProcessTransport) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// CommandLine returns the argv used to start the engine.
func (p *ProcessTransport) CommandLine() []string {
	args := []string{p.Path, "--engine"}
	if p.Verbosity > 0 {
		args = append(args, "-v", strconv.Itoa(p.Verbosity))
	}
	if p.Verbose {
		args = append(args, "--verbose")
	}
	if p.Stats {
		args = append(args, "--stats")
	}
	return append(args, p.Args...)
}

func (p *ProcessTransport) captureStderr() bool {
	if p.CaptureStderr != nil {
		return *p.CaptureStderr
	}
	return captureStderrByDefault
}

// Open starts the engine. The pipes are created here rather than by
// exec.Cmd so that Wait never closes the read side of stdout while the
// reader goroutine is still draining it.
func (p *ProcessTransport) Open(ctx context.Context) (io.Reader, io.Writer, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil {
		return nil, nil, errors.New("engine process already started")
	}
	if p.Path == "" {
		return nil, nil, errors.New("engine path is empty")
	}

	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		inR.Close()
		inW.Close()
		return nil, nil, fmt.Errorf("creating stdout pipe: %w", err)
	}

	argv := p.CommandLine()
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = inR
	cmd.Stdout = outW
	if p.Env != nil {
		cmd.Env = p.Env
	}
	cmd.SysProcAttr = engineSysProcAttr()

	var errR, errW *os.File
	if p.captureStderr() {
		errR, errW, err = os.Pipe()
		if err != nil {
			closeAll(inR, inW, outR, outW)
			return nil, nil, fmt.Errorf("creating stderr pipe: %w", err)
		}
		cmd.Stderr = errW
	} else {
		cmd.Stderr = os.Stderr
	}

	p.logger().Info("starting engine", "argv", argv)
	if err := cmd.Start(); err != nil {
		closeAll(inR, inW, outR, outW, errR, errW)
		return nil, nil, fmt.Errorf("starting engine %s: %w", p.Path, err)
	}
	// The child holds its own copies now.
	closeAll(inR, outW, errW)

	p.cmd = cmd
	p.stdin = inW
	p.stdout = outR
	p.exited = make(chan struct{})
	go p.wait()
	if errR != nil {
		go p.drainStderr(errR)
	}
	return outR, inW, nil
}

func (p *ProcessTransport) wait() {
	err := p.cmd.Wait()
	code := -1
	if p.cmd.ProcessState != nil {
		code = p.cmd.ProcessState.ExitCode()
	}
	p.mu.Lock()
	p.exitCode = code
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.waitErr = err
	}
	p.mu.Unlock()
	p.logger().Debug("engine exited", "code", code)
	close(p.exited)
}

func (p *ProcessTransport) drainStderr(r *os.File) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.logger().Debug(scanner.Text(), "source", "engine-stderr")
	}
}

// CloseInput closes the engine's stdin so it sees end-of-input.
func (p *ProcessTransport) CloseInput() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdin == nil || p.inputClosed {
		return nil
	}
	p.inputClosed = true
	if err := p.stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("closing engine stdin: %w", err)
	}
	return nil
}

// Alive reports whether the child process has not exited.
func (p *ProcessTransport) Alive() bool {
	p.mu.Lock()
	exited := p.exited
	p.mu.Unlock()
	if exited == nil {
		return false
	}
	select {
	case <-exited:
		return false
	default:
		return true
	}
}

// Pid returns the child's process id, or 0 before Open.
func (p *ProcessTransport) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Terminate sends the platform's termination request, waits up to grace,
// then kills the process.
func (p *ProcessTransport) Terminate(grace time.Duration) (int, error) {
	p.mu.Lock()
	cmd, exited := p.cmd, p.exited
	p.mu.Unlock()
	if cmd == nil {
		return 0, nil
	}
	if !p.waitFor(exited, 0) {
		if err := terminateProcess(cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.logger().Debug("terminate request failed", "err", err)
		}
		if !p.waitFor(exited, grace) {
			p.logger().Warn("engine did not exit after terminate, killing", "grace", grace)
			p.kill(cmd, exited)
		}
	}
	return p.finish()
}

// Close asks the engine to shut down when its stdin is still open, waits
// up to timeout, then kills it. When stdin was already closed the engine
// is lingering after a batch and is terminated instead.
func (p *ProcessTransport) Close(timeout time.Duration, shutdown func() error) (int, error) {
	p.mu.Lock()
	cmd, exited, inputClosed := p.cmd, p.exited, p.inputClosed
	p.mu.Unlock()
	if cmd == nil {
		return 0, nil
	}
	if inputClosed {
		return p.Terminate(time.Second)
	}

	if !p.waitFor(exited, 0) {
		graceful := shutdown != nil
		if graceful {
			if err := shutdown(); err != nil {
				p.logger().Debug("shutdown command not delivered", "err", err)
				graceful = false
			}
		}
		if !graceful || !p.waitFor(exited, timeout) {
			p.logger().Warn("engine did not exit cleanly, killing", "timeout", timeout)
			p.kill(cmd, exited)
		}
	}
	return p.finish()
}

func (p *ProcessTransport) kill(cmd *exec.Cmd, exited chan struct{}) {
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger().Error("killing engine", "err", err)
	}
	<-exited
}

func (p *ProcessTransport) waitFor(exited chan struct{}, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-exited:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-exited:
		return true
	case <-timer.C:
		return false
	}
}

// finish releases our pipe ends once the process is gone.
func (p *ProcessTransport) finish() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdin != nil && !p.inputClosed {
		p.stdin.Close()
		p.inputClosed = true
	}
	if p.stdout != nil {
		p.stdout.Close()
	}
	return p.exitCode, p.waitErr
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			f.Close()
		}
	}
}
