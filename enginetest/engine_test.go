// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package enginetest

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Query-farm/meshlink/meshlink"
)

// script encodes cmds as command frames.
func script(t *testing.T, cmds ...meshlink.Command) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	for _, c := range cmds {
		_, err := meshlink.WriteFrame(&buf, meshlink.FrameCommand, c)
		require.NoError(t, err)
	}
	return &buf
}

// drain splits the engine output into responses and events.
func drain(t *testing.T, out *bytes.Buffer) (responses []*meshlink.Response, events []*meshlink.Event) {
	t.Helper()
	for out.Len() > 0 {
		f, err := meshlink.ReadFrame(out)
		require.NoError(t, err)
		switch f.Type {
		case meshlink.FrameResponse:
			r, err := meshlink.DecodeResponse(f.Payload)
			require.NoError(t, err)
			responses = append(responses, r)
		case meshlink.FrameEvent:
			e, err := meshlink.DecodeEvent(f.Payload)
			require.NoError(t, err)
			events = append(events, e)
		default:
			t.Fatalf("unexpected frame type %v", f.Type)
		}
	}
	return responses, events
}

func TestServeRepairSequence(t *testing.T) {
	e := New(Options{Stats: true})
	in := script(t,
		meshlink.Command{Name: meshlink.CmdInit, Params: meshlink.InitParams{MaxThreads: 2, Verbose: true}},
		meshlink.Command{Name: meshlink.CmdLoadMesh, Params: meshlink.LoadMeshParams{MeshDataBinary: meshlink.EncodeMeshBase64(HoledGrid())}},
		meshlink.Command{Name: meshlink.CmdFillHoles, Params: meshlink.DefaultHoleOptions()},
		meshlink.Command{Name: meshlink.CmdSaveMesh, Params: meshlink.SaveMeshParams{ReturnBinary: true}},
	)
	var out bytes.Buffer
	assert.ErrorIs(t, e.Serve(in, &out), io.EOF)

	responses, events := drain(t, &out)
	require.Len(t, responses, 4)
	assert.NotEmpty(t, events)
	for _, r := range responses {
		assert.False(t, r.IsError(), r.ErrorMessage())
	}
	assert.Equal(t, Version, responses[0].Version)
	assert.Equal(t, 2, e.InitParams().MaxThreads)

	fill, err := meshlink.DecodeStats[meshlink.FillStats](responses[2])
	require.NoError(t, err)
	assert.Equal(t, 2, fill.NumHolesDetected)
	assert.Equal(t, 1, fill.NumHolesFilled)
	assert.Equal(t, 1, fill.NumHolesSkipped)
	assert.Equal(t, 4, fill.TotalFacesAdded)
	assert.Contains(t, responses[2].Timings(), "fill_time_ms")

	saved, err := meshlink.DecodeMeshBase64(responses[3].MeshDataBinary)
	require.NoError(t, err)
	assert.Equal(t, 82, saved.VertexCount())
	assert.Equal(t, 130, saved.FaceCount())
	assert.Equal(t, 4, e.Commands())
}

func TestServeErrors(t *testing.T) {
	e := New(Options{Quiet: true})
	in := script(t,
		meshlink.Command{Name: meshlink.CmdFillHoles},
		meshlink.Command{Name: "bogus"},
		meshlink.Command{Name: meshlink.CmdLoadMesh},
		meshlink.Command{Name: meshlink.CmdSaveMesh},
	)
	var out bytes.Buffer
	assert.ErrorIs(t, e.Serve(in, &out), io.EOF)

	responses, events := drain(t, &out)
	assert.Empty(t, events)
	require.Len(t, responses, 4)
	want := []string{ErrTypeCommand, ErrTypeUnknownCommand, ErrTypeInvalidParams, ErrTypeInvalidParams}
	for i, r := range responses {
		require.True(t, r.IsError())
		assert.Equal(t, want[i], r.Error.Type, "response %d", i)
	}
	assert.Equal(t, "Unknown command: bogus", responses[1].ErrorMessage())
}

func TestServeRejectsNonCommandFrame(t *testing.T) {
	e := New(Options{})
	var in bytes.Buffer
	_, err := meshlink.WriteFrame(&in, meshlink.FrameEvent, map[string]string{"type": "log"})
	require.NoError(t, err)
	var out bytes.Buffer
	e.Serve(&in, &out)

	responses, _ := drain(t, &out)
	require.Len(t, responses, 1)
	assert.Equal(t, ErrTypeProtocol, responses[0].Error.Type)
}

func TestServeMissingCommandField(t *testing.T) {
	e := New(Options{})
	var in bytes.Buffer
	_, err := meshlink.WriteFrame(&in, meshlink.FrameCommand, map[string]any{"params": map[string]any{}})
	require.NoError(t, err)
	var out bytes.Buffer
	e.Serve(&in, &out)

	responses, _ := drain(t, &out)
	require.Len(t, responses, 1)
	assert.Equal(t, ErrTypeInvalidCommand, responses[0].Error.Type)
}

func TestShutdown(t *testing.T) {
	t.Run("pipe mode ends the serve loop", func(t *testing.T) {
		e := New(Options{})
		in := script(t,
			meshlink.Command{Name: meshlink.CmdShutdown},
			meshlink.Command{Name: meshlink.CmdGetInfo},
		)
		var out bytes.Buffer
		require.NoError(t, e.Serve(in, &out))
		responses, _ := drain(t, &out)
		require.Len(t, responses, 1)
		assert.Equal(t, "Shutdown requested", responses[0].Message)
	})

	t.Run("socket mode resets state", func(t *testing.T) {
		e := New(Options{SocketMode: true})
		in := script(t,
			meshlink.Command{Name: meshlink.CmdInit},
			meshlink.Command{Name: meshlink.CmdLoadMesh, Params: meshlink.LoadMeshParams{MeshDataBinary: meshlink.EncodeMeshBase64(Tetrahedron())}},
			meshlink.Command{Name: meshlink.CmdShutdown},
			meshlink.Command{Name: meshlink.CmdGetInfo},
		)
		var out bytes.Buffer
		assert.ErrorIs(t, e.Serve(in, &out), io.EOF)
		responses, _ := drain(t, &out)
		require.Len(t, responses, 4)
		assert.Equal(t, "Engine state reset (socket mode)", responses[2].Message)
		require.NotNil(t, responses[3].HasMesh)
		assert.False(t, *responses[3].HasMesh)
		assert.False(t, e.HasMesh())
	})
}

func TestGetInfoReportsMesh(t *testing.T) {
	e := New(Options{Quiet: true})
	in := script(t,
		meshlink.Command{Name: meshlink.CmdLoadMesh, Params: meshlink.LoadMeshParams{MeshDataBinary: meshlink.EncodeMeshBase64(Tetrahedron())}},
		meshlink.Command{Name: meshlink.CmdGetInfo},
	)
	var out bytes.Buffer
	e.Serve(in, &out)
	responses, _ := drain(t, &out)
	require.Len(t, responses, 2)

	info, err := meshlink.DecodeMeshInfo(responses[1])
	require.NoError(t, err)
	assert.Equal(t, 4, info.Vertices)
	assert.Equal(t, 4, info.Faces)
	assert.Equal(t, 6, info.Edges)
	require.NotNil(t, responses[1].State)
	assert.Equal(t, int(StateMeshLoaded), *responses[1].State)
}

func TestDetectHolesCount(t *testing.T) {
	e := New(Options{Quiet: true})
	in := script(t,
		meshlink.Command{Name: meshlink.CmdLoadMesh, Params: meshlink.LoadMeshParams{MeshDataBinary: meshlink.EncodeMeshBase64(Grid(8, [2]int{2, 2}, [2]int{5, 5}))}},
		meshlink.Command{Name: meshlink.CmdDetectHoles, Params: json.RawMessage(`{"max_boundary":100,"max_diameter":0.25}`)},
	)
	var out bytes.Buffer
	e.Serve(in, &out)
	responses, _ := drain(t, &out)
	require.Len(t, responses, 2)

	stats, err := meshlink.DecodeStats[meshlink.DetectStats](responses[1])
	require.NoError(t, err)
	assert.Equal(t, 2, stats.HolesDetected)
}
