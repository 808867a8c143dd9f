// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package meshlink

import (
	"context"
	"io"
	"time"
)

// TransportKind names a transport implementation.
type TransportKind string

const (
	TransportProcess TransportKind = "process"
	TransportSocket  TransportKind = "socket"
)

// Transport provides the byte streams to one engine. A Manager calls Open
// once, then uses the returned reader and writer until Close.
type Transport interface {
	Kind() TransportKind
	// Open establishes the connection and returns the inbound and
	// outbound streams.
	Open(ctx context.Context) (io.Reader, io.Writer, error)
	// CloseInput signals end-of-input to the engine. Transports without a
	// separate input direction treat this as a no-op.
	CloseInput() error
	// Alive reports whether the engine side is still reachable.
	Alive() bool
	// Terminate asks the engine to exit, waits up to grace, then forces it.
	// It returns the exit code, or 0 when the transport has no process.
	Terminate(grace time.Duration) (int, error)
	// Close tears the connection down. Transports that own the engine may
	// call shutdown to request a graceful exit before waiting up to timeout.
	Close(timeout time.Duration, shutdown func() error) (int, error)
}
