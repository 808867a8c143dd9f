// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package meshlink

import (
	"errors"
	"fmt"
)

// Kind classifies an *Error by the layer that produced it.
type Kind int

const (
	KindTransport    Kind = iota + 1 // stream closed, spawn or dial failure, write failure
	KindProtocol                     // malformed frame or JSON
	KindPrecondition                 // rejected locally before any I/O
	KindEngine                       // engine answered with type "error"
	KindTimeout                      // no response within the deadline
	KindData                         // mesh blob failed validation
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindPrecondition:
		return "precondition"
	case KindEngine:
		return "engine"
	case KindTimeout:
		return "timeout"
	case KindData:
		return "data"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Kind sentinels for use with errors.Is. An *Error matches the sentinel of
// its own kind.
var (
	ErrTransport    = &Error{Kind: KindTransport}
	ErrProtocol     = &Error{Kind: KindProtocol}
	ErrPrecondition = &Error{Kind: KindPrecondition}
	ErrEngine       = &Error{Kind: KindEngine}
	ErrTimeoutKind  = &Error{Kind: KindTimeout}
	ErrData         = &Error{Kind: KindData}
)

// Specific causes wrapped inside an *Error.
var (
	ErrStreamClosed = errors.New("stream closed")
	ErrNotRunning   = errors.New("engine is not running")
	ErrNoMeshLoaded = errors.New("No mesh loaded")
	ErrNoMeshData   = errors.New("no mesh data in response")
	ErrTimeout      = errors.New("timed out waiting for response")
	ErrStopped      = errors.New("connection already stopped")
	ErrNotBatchMode = errors.New("session is not in batch mode")
	ErrEmptyBatch   = errors.New("no commands queued")
	ErrBusy         = errors.New("previous command still awaiting response")
)

// Error is the error type returned by every layer of this package.
type Error struct {
	Kind       Kind
	Op         string // command name or I/O step, e.g. "fill_holes", "read frame"
	Message    string // engine-supplied or local message
	EngineType string // engine error class, when Kind is KindEngine
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.String() + " error"
	}
	switch {
	case e.Op == "":
		return msg
	case e.Kind == KindEngine:
		return e.Op + " failed: " + msg
	default:
		return e.Op + ": " + msg
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is by matching any *Error target of the same kind. A
// target with a zero Kind matches every *Error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == 0 || t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or zero.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func transportError(op string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

func protocolError(op string, format string, args ...any) *Error {
	return &Error{Kind: KindProtocol, Op: op, Message: fmt.Sprintf(format, args...)}
}

func preconditionError(op string, err error) *Error {
	return &Error{Kind: KindPrecondition, Op: op, Err: err}
}

func timeoutError(op string) *Error {
	return &Error{Kind: KindTimeout, Op: op, Err: ErrTimeout}
}

// TruncatedDataError reports a mesh blob that ends before the section named
// by Section ("vertices" or "faces") is complete.
type TruncatedDataError struct {
	Section string
	Need    int // bytes required through the end of the section
	Have    int // bytes available
}

func (e *TruncatedDataError) Error() string {
	return fmt.Sprintf("truncated mesh data in %s section: need %d bytes, have %d", e.Section, e.Need, e.Have)
}

// Is matches ErrData.
func (e *TruncatedDataError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == KindData
}

// IndexOutOfRangeError reports a face referencing a vertex that does not
// exist.
type IndexOutOfRangeError struct {
	Face        int
	Indices     [3]uint32
	VertexCount int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("face %d (%d, %d, %d) references vertex out of range [0, %d)",
		e.Face, e.Indices[0], e.Indices[1], e.Indices[2], e.VertexCount)
}

// Is matches ErrData.
func (e *IndexOutOfRangeError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == KindData
}
