// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package enginetest

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
)

// RunStdio serves the engine on stdin/stdout in pipe mode. After a
// shutdown command it returns at once. When stdin ends without one it keeps
// stdout open and waits for SIGTERM or SIGINT, as the engine does after a
// batch, so the host decides when the process goes away.
func RunStdio(opts Options) error {
	// Writes to a closed pipe must return errors instead of killing the
	// process.
	signal.Ignore(syscall.SIGPIPE)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	if isTerminal(os.Stdin) || isTerminal(os.Stdout) {
		fmt.Fprintln(os.Stderr,
			"WARNING: This process speaks the framed engine protocol on stdin/stdout "+
				"and is not intended to be run interactively.")
	}

	opts.SocketMode = false
	e := New(opts)

	done := make(chan error, 1)
	go func() { done <- e.Serve(os.Stdin, os.Stdout) }()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		if !errors.Is(err, io.EOF) {
			return err
		}
		e.logger.Debug("input closed, waiting for termination")
		<-sigCh
		return nil
	case <-sigCh:
		return nil
	}
}

// isTerminal reports whether f is connected to a terminal.
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// ServeListener accepts clients on l one at a time in socket mode until l
// is closed. Engine state persists across clients; shutdown only resets it.
func (e *Engine) ServeListener(l net.Listener) error {
	e.mu.Lock()
	e.opts.SocketMode = true
	e.mu.Unlock()
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accepting engine client: %w", err)
		}
		e.logger.Info("engine client connected", "remote", conn.RemoteAddr().String())
		if err := e.Serve(conn, conn); err != nil && !errors.Is(err, io.EOF) {
			e.logger.Warn("engine client ended with error", "err", err)
		}
		conn.Close()
		e.logger.Info("engine client disconnected", "remote", conn.RemoteAddr().String())
	}
}
