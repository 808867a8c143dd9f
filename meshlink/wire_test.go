// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package meshlink

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	n, err := WriteFrame(&buf, FrameCommand, Command{Name: CmdGetInfo})
	require.NoError(t, err)
	assert.Equal(t, buf.Len(), n)

	raw := buf.Bytes()
	assert.Equal(t, uint32(len(raw)-frameHeaderSize), binary.LittleEndian.Uint32(raw[:4]))
	assert.Equal(t, byte(FrameCommand), raw[4])
	assert.JSONEq(t, `{"command":"get_info"}`, string(raw[frameHeaderSize:]))

	f, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, FrameCommand, f.Type)
	assert.JSONEq(t, `{"command":"get_info"}`, string(f.Payload))
}

func TestEncodeFrameEmptyObject(t *testing.T) {
	buf, err := EncodeFrame(FrameResponse, []byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 0, 0, 0, 0x02, '{', '}'}, buf)
}

func TestReadFrameSequence(t *testing.T) {
	var buf bytes.Buffer
	for _, ft := range []FrameType{FrameEvent, FrameResponse, FrameEvent} {
		_, err := WriteFrame(&buf, ft, map[string]string{"type": ft.String()})
		require.NoError(t, err)
	}
	var got []FrameType
	for {
		f, err := ReadFrame(&buf)
		if err != nil {
			assert.ErrorIs(t, err, ErrStreamClosed)
			break
		}
		got = append(got, f.Type)
	}
	assert.Equal(t, []FrameType{FrameEvent, FrameResponse, FrameEvent}, got)
}

func TestReadFrameTruncated(t *testing.T) {
	full, err := MarshalFrame(FrameResponse, map[string]string{"type": "success"})
	require.NoError(t, err)

	for _, cut := range []int{0, 2, 4, 5, len(full) - 1} {
		_, err := ReadFrame(bytes.NewReader(full[:cut]))
		require.Error(t, err, "cut at %d", cut)
		assert.ErrorIs(t, err, ErrStreamClosed, "cut at %d", cut)
		assert.Equal(t, KindTransport, KindOf(err), "cut at %d", cut)
	}
}

func TestReadFrameRejectsBadPayload(t *testing.T) {
	cases := map[string][]byte{
		"invalid json":  []byte("{not json"),
		"invalid utf-8": {'"', 0xff, 0xfe, '"'},
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			buf, err := EncodeFrame(FrameResponse, payload)
			require.NoError(t, err)
			_, err = ReadFrame(bytes.NewReader(buf))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrProtocol)
		})
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var hdr [5]byte
	binary.LittleEndian.PutUint32(hdr[:4], MaxPayloadSize+1)
	hdr[4] = byte(FrameResponse)
	_, err := ReadFrame(bytes.NewReader(hdr[:]))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocol)
}

type failingWriter struct{ err error }

func (w failingWriter) Write([]byte) (int, error) { return 0, w.err }

func TestWriteFrameTransportError(t *testing.T) {
	_, err := WriteFrame(failingWriter{io.ErrClosedPipe}, FrameCommand, Command{Name: CmdInit})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestIsTransportClosed(t *testing.T) {
	assert.True(t, isTransportClosed(io.EOF))
	assert.True(t, isTransportClosed(io.ErrClosedPipe))
	assert.True(t, isTransportClosed(errors.New("write |1: broken pipe")))
	assert.True(t, isTransportClosed(errors.New("read tcp: connection reset by peer")))
	assert.False(t, isTransportClosed(errors.New("permission denied")))
	assert.False(t, isTransportClosed(nil))
}
