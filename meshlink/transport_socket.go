// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package meshlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"
)

// DefaultSocketPort is the port an engine started with --socket listens on
// when none is configured.
const DefaultSocketPort = 9876

// SocketTransport connects to an engine that is already listening on TCP.
// The engine is owned by whoever started it: closing the transport only
// drops the local connection.
type SocketTransport struct {
	Host        string        // default "localhost"
	Port        int           // default DefaultSocketPort
	DialTimeout time.Duration // default 5s
	Logger      *slog.Logger

	mu   sync.Mutex
	conn net.Conn
}

func (s *SocketTransport) Kind() TransportKind { return TransportSocket }

// Addr returns host:port.
func (s *SocketTransport) Addr() string {
	host := s.Host
	if host == "" {
		host = "localhost"
	}
	port := s.Port
	if port == 0 {
		port = DefaultSocketPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (s *SocketTransport) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Open dials the engine.
func (s *SocketTransport) Open(ctx context.Context) (io.Reader, io.Writer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil, nil, errors.New("socket already connected")
	}
	timeout := s.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	addr := s.Addr()
	s.logger().Info("connecting to engine", "addr", addr)
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to engine at %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	s.conn = conn
	return conn, conn, nil
}

// CloseInput is a no-op: the socket stays open for further commands.
func (s *SocketTransport) CloseInput() error { return nil }

// Alive reports whether the local connection handle is open.
func (s *SocketTransport) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Terminate closes the connection. The engine is not signalled.
func (s *SocketTransport) Terminate(time.Duration) (int, error) {
	return s.Close(0, nil)
}

// Close closes the local connection. shutdown is never called; the engine
// keeps running for other clients.
func (s *SocketTransport) Close(time.Duration, func() error) (int, error) {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return 0, nil
	}
	s.logger().Info("disconnecting from engine; engine keeps running", "addr", s.Addr())
	if err := conn.Close(); err != nil && !isTransportClosed(err) {
		return 0, fmt.Errorf("closing engine connection: %w", err)
	}
	return 0, nil
}
