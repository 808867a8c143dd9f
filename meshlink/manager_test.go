// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package meshlink

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startManager(t *testing.T, engine func(io.Reader, io.Writer), opts ...ManagerOption) (*Manager, *pipeTransport) {
	t.Helper()
	tr := newPipeTransport(engine)
	m := NewManager(tr, append([]ManagerOption{WithLogger(discardLogger())}, opts...)...)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { m.Terminate(0) })
	return m, tr
}

func TestManagerNotRunning(t *testing.T) {
	m := NewManager(newPipeTransport(silentEngine), WithLogger(discardLogger()))
	assert.False(t, m.IsRunning())

	err := m.SendCommand(Command{Name: CmdGetInfo})
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.ErrorIs(t, err, ErrPrecondition)

	_, err = m.ReadResponse(10 * time.Millisecond)
	assert.ErrorIs(t, err, ErrNotRunning)

	code, err := m.Stop(time.Second)
	assert.NoError(t, err)
	assert.Zero(t, code)
}

func TestManagerRoundTrip(t *testing.T) {
	obs := &recordingObserver{}
	m, _ := startManager(t, replyingEngine, WithObserver(obs))
	require.True(t, m.IsRunning())
	require.NoError(t, m.Start(context.Background()), "start while running is a no-op")

	for _, name := range []CommandName{CmdInit, CmdGetInfo} {
		require.NoError(t, m.SendCommand(Command{Name: name}))
		resp, err := m.ReadResponse(5 * time.Second)
		require.NoError(t, err)
		assert.Equal(t, string(name), resp.Message)
	}
	assert.Positive(t, m.BytesSent())
	assert.Positive(t, m.BytesReceived())

	progress, _ := obs.snapshot()
	assert.Equal(t, []string{"init", "get_info"}, progress)
}

func TestManagerRejectsPipelining(t *testing.T) {
	m, _ := startManager(t, silentEngine)
	require.NoError(t, m.SendCommand(Command{Name: CmdInit}))
	err := m.SendCommand(Command{Name: CmdGetInfo})
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, m.SendCommandsBatch([]Command{{Name: CmdGetInfo}}), ErrBusy)
}

func TestManagerReadTimeout(t *testing.T) {
	m, _ := startManager(t, silentEngine)
	require.NoError(t, m.SendCommand(Command{Name: CmdInit}))

	start := time.Now()
	_, err := m.ReadResponse(50 * time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.Less(t, time.Since(start), 2*time.Second)

	resp, ok := m.TryReadResponse()
	assert.False(t, ok)
	assert.Nil(t, resp)
}

func TestManagerBatch(t *testing.T) {
	m, tr := startManager(t, replyingEngine)
	cmds := []Command{{Name: CmdInit}, {Name: CmdGetInfo}, {Name: CmdSaveMesh}}
	require.NoError(t, m.SendCommandsBatch(cmds))

	tr.mu.Lock()
	assert.True(t, tr.inputClosed)
	tr.mu.Unlock()

	for _, c := range cmds {
		resp, err := m.ReadResponse(5 * time.Second)
		require.NoError(t, err)
		assert.Equal(t, string(c.Name), resp.Message)
	}

	// The engine exits at end of input and the reader reports it.
	resp, err := m.ReadResponse(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "connection_error", resp.Error.Type)

	_, err = m.ReadResponse(5 * time.Second)
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestManagerStopSendsShutdown(t *testing.T) {
	m, tr := startManager(t, replyingEngine)
	code, err := m.Stop(5 * time.Second)
	require.NoError(t, err)
	assert.Zero(t, code)
	assert.False(t, m.IsRunning())

	tr.mu.Lock()
	assert.Equal(t, 1, tr.shutdowns)
	tr.mu.Unlock()

	code, err = m.Stop(time.Second)
	assert.NoError(t, err, "stopping twice is a no-op")
	assert.Zero(t, code)

	err = m.Start(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, m.SendCommand(Command{Name: CmdGetInfo}), ErrNotRunning)
}

func TestManagerStopReleasesReader(t *testing.T) {
	m, _ := startManager(t, func(r io.Reader, w io.Writer) {
		for i := 0; i < 8; i++ {
			WriteFrame(w, FrameResponse, map[string]string{"type": "success"})
		}
		silentEngine(r, w)
	}, WithInboxSize(2))

	rd := m.currentReader()
	require.Eventually(t, func() bool { return len(rd.inbox) == 2 }, time.Second, 5*time.Millisecond)

	_, err := m.Terminate(0)
	require.NoError(t, err)
	select {
	case <-rd.finished:
	case <-time.After(5 * time.Second):
		t.Fatal("reader not released by terminate")
	}
}
