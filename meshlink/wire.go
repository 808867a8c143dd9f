// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package meshlink

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"unicode/utf8"
)

const frameHeaderSize = 5

// MaxPayloadSize bounds the declared length of a frame payload. A length
// field above this is treated as a corrupt stream.
const MaxPayloadSize = 1 << 30

// Frame is one decoded unit of the wire protocol.
type Frame struct {
	Type    FrameType
	Payload json.RawMessage
}

// EncodeFrame returns the complete wire form of one frame, header and
// payload in a single buffer so it can be written with one call.
func EncodeFrame(t FrameType, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, protocolError("encode frame", "payload of %d bytes exceeds %d byte limit", len(payload), MaxPayloadSize)
	}
	buf := make([]byte, frameHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	buf[4] = byte(t)
	copy(buf[frameHeaderSize:], payload)
	return buf, nil
}

// MarshalFrame JSON-encodes v and frames it as type t.
func MarshalFrame(t FrameType, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", t, err)
	}
	return EncodeFrame(t, payload)
}

// WriteFrame JSON-encodes v and writes it to w as a single frame.
func WriteFrame(w io.Writer, t FrameType, v any) (int, error) {
	buf, err := MarshalFrame(t, v)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(buf)
	if err != nil {
		return n, transportError("write frame", err)
	}
	return n, nil
}

// ReadFrame reads exactly one frame from r. Each of the three reads
// (length, type, payload) blocks until fully satisfied; a stream that ends
// partway yields a transport error wrapping ErrStreamClosed. A payload that
// is not valid UTF-8 JSON yields a protocol error.
func ReadFrame(r io.Reader) (Frame, error) {
	var lenBuf [4]byte
	if err := readFull(r, lenBuf[:], "read frame length"); err != nil {
		return Frame{}, err
	}
	length := binary.LittleEndian.Uint32(lenBuf[:])
	if length > MaxPayloadSize {
		return Frame{}, protocolError("read frame length", "declared payload of %d bytes exceeds %d byte limit", length, MaxPayloadSize)
	}

	var typeBuf [1]byte
	if err := readFull(r, typeBuf[:], "read frame type"); err != nil {
		return Frame{}, err
	}

	payload := make([]byte, length)
	if err := readFull(r, payload, "read frame payload"); err != nil {
		return Frame{}, err
	}
	if !utf8.Valid(payload) {
		return Frame{}, protocolError("decode frame payload", "payload is not valid UTF-8")
	}
	if !json.Valid(payload) {
		return Frame{}, protocolError("decode frame payload", "payload is not valid JSON")
	}
	return Frame{Type: FrameType(typeBuf[0]), Payload: payload}, nil
}

func readFull(r io.Reader, buf []byte, op string) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || isTransportClosed(err) {
			return &Error{Kind: KindTransport, Op: op, Err: fmt.Errorf("%w: %v", ErrStreamClosed, err)}
		}
		return transportError(op, err)
	}
	return nil
}

// isTransportClosed returns true for errors that indicate the transport was
// closed by the peer or by local teardown.
func isTransportClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, ErrStreamClosed) ||
		errors.Is(err, os.ErrClosed) || errors.Is(err, net.ErrClosed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset")
}
