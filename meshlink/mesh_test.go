// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package meshlink

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tetra() *Mesh {
	return &Mesh{
		Vertices: [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		Faces:    [][3]uint32{{0, 2, 1}, {0, 1, 3}, {0, 3, 2}, {1, 2, 3}},
	}
}

func TestMeshRoundTrip(t *testing.T) {
	m := tetra()
	m.Vertices[3] = [3]float32{-1.5, float32(math.Inf(1)), 3.25e-7}

	data := EncodeMesh(m)
	assert.Len(t, data, m.EncodedSize())
	assert.Equal(t, 4+4*12+4+4*12, len(data))

	got, err := DecodeMesh(data)
	require.NoError(t, err)
	assert.Equal(t, m, got)

	got, err = DecodeMeshBase64(EncodeMeshBase64(m))
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestMeshLayout(t *testing.T) {
	m := &Mesh{Vertices: [][3]float32{{1, 2, 3}}, Faces: [][3]uint32{{0, 0, 0}}}
	data := EncodeMesh(m)
	le := binary.LittleEndian
	assert.Equal(t, uint32(1), le.Uint32(data[0:]))
	assert.Equal(t, float32(2), math.Float32frombits(le.Uint32(data[8:])))
	assert.Equal(t, uint32(1), le.Uint32(data[16:]))
	assert.Equal(t, uint32(0), le.Uint32(data[20:]))
}

func TestEmptyMesh(t *testing.T) {
	data := EncodeMesh(&Mesh{})
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0}, data)
	m, err := DecodeMesh(data)
	require.NoError(t, err)
	assert.Zero(t, m.VertexCount())
	assert.Zero(t, m.FaceCount())
}

func TestDecodeMeshTruncated(t *testing.T) {
	full := EncodeMesh(tetra())
	cases := []struct {
		cut     int
		section string
	}{
		{0, "vertices"},
		{3, "vertices"},
		{4 + 12*4 - 1, "vertices"},
		{4 + 12*4, "faces"},
		{4 + 12*4 + 3, "faces"},
		{len(full) - 1, "faces"},
	}
	for _, tc := range cases {
		_, err := DecodeMesh(full[:tc.cut])
		var te *TruncatedDataError
		require.True(t, errors.As(err, &te), "cut at %d: %v", tc.cut, err)
		assert.Equal(t, tc.section, te.Section, "cut at %d", tc.cut)
		assert.Equal(t, tc.cut, te.Have)
		assert.ErrorIs(t, err, ErrData)
	}
}

func TestDecodeMeshIndexBounds(t *testing.T) {
	m := &Mesh{
		Vertices: [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
		Faces:    [][3]uint32{{0, 1, 2}},
	}
	_, err := DecodeMesh(EncodeMesh(m))
	require.NoError(t, err, "index vcount-1 is valid")

	m.Faces[0][2] = 3
	_, err = DecodeMesh(EncodeMesh(m))
	var ie *IndexOutOfRangeError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, 0, ie.Face)
	assert.Equal(t, 3, ie.VertexCount)
	assert.ErrorIs(t, err, ErrData)

	assert.ErrorIs(t, m.Validate(), ErrData)
}

func TestDecodeMeshIgnoresTrailingBytes(t *testing.T) {
	data := append(EncodeMesh(tetra()), 0xde, 0xad)
	m, err := DecodeMesh(data)
	require.NoError(t, err)
	assert.Equal(t, 4, m.FaceCount())
}

func TestDecodeMeshBase64Invalid(t *testing.T) {
	_, err := DecodeMeshBase64("not base64!")
	require.Error(t, err)
	assert.Equal(t, KindData, KindOf(err))
}
