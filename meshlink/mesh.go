// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package meshlink

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

const (
	vertexStride = 12 // 3 x f32
	faceStride   = 12 // 3 x u32
)

// Mesh is a triangle soup: vertex positions and faces indexing into them.
type Mesh struct {
	Vertices [][3]float32
	Faces    [][3]uint32
}

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int { return len(m.Vertices) }

// FaceCount returns the number of faces.
func (m *Mesh) FaceCount() int { return len(m.Faces) }

// Validate reports the first face that references a vertex outside the mesh.
func (m *Mesh) Validate() error {
	n := uint64(len(m.Vertices))
	for i, f := range m.Faces {
		if uint64(f[0]) >= n || uint64(f[1]) >= n || uint64(f[2]) >= n {
			return &IndexOutOfRangeError{Face: i, Indices: f, VertexCount: len(m.Vertices)}
		}
	}
	return nil
}

// EncodedSize returns the length of the binary form of m.
func (m *Mesh) EncodedSize() int {
	return 4 + len(m.Vertices)*vertexStride + 4 + len(m.Faces)*faceStride
}

// EncodeMesh returns the little-endian binary form of m.
func EncodeMesh(m *Mesh) []byte {
	buf := make([]byte, m.EncodedSize())
	le := binary.LittleEndian
	off := 0
	le.PutUint32(buf[off:], uint32(len(m.Vertices)))
	off += 4
	for _, v := range m.Vertices {
		le.PutUint32(buf[off:], math.Float32bits(v[0]))
		le.PutUint32(buf[off+4:], math.Float32bits(v[1]))
		le.PutUint32(buf[off+8:], math.Float32bits(v[2]))
		off += vertexStride
	}
	le.PutUint32(buf[off:], uint32(len(m.Faces)))
	off += 4
	for _, f := range m.Faces {
		le.PutUint32(buf[off:], f[0])
		le.PutUint32(buf[off+4:], f[1])
		le.PutUint32(buf[off+8:], f[2])
		off += faceStride
	}
	return buf
}

// DecodeMesh parses the binary form produced by EncodeMesh. Truncation in
// either section yields a *TruncatedDataError naming that section; a face
// index not below the vertex count yields an *IndexOutOfRangeError.
// Trailing bytes after the face section are ignored.
func DecodeMesh(data []byte) (*Mesh, error) {
	le := binary.LittleEndian
	if len(data) < 4 {
		return nil, &TruncatedDataError{Section: "vertices", Need: 4, Have: len(data)}
	}
	vcount := uint64(le.Uint32(data))
	off := uint64(4)
	vend := off + vcount*vertexStride
	if uint64(len(data)) < vend {
		return nil, &TruncatedDataError{Section: "vertices", Need: int(vend), Have: len(data)}
	}

	m := &Mesh{Vertices: make([][3]float32, vcount)}
	for i := range m.Vertices {
		m.Vertices[i] = [3]float32{
			math.Float32frombits(le.Uint32(data[off:])),
			math.Float32frombits(le.Uint32(data[off+4:])),
			math.Float32frombits(le.Uint32(data[off+8:])),
		}
		off += vertexStride
	}

	if uint64(len(data)) < off+4 {
		return nil, &TruncatedDataError{Section: "faces", Need: int(off + 4), Have: len(data)}
	}
	fcount := uint64(le.Uint32(data[off:]))
	off += 4
	fend := off + fcount*faceStride
	if uint64(len(data)) < fend {
		return nil, &TruncatedDataError{Section: "faces", Need: int(fend), Have: len(data)}
	}

	m.Faces = make([][3]uint32, fcount)
	for i := range m.Faces {
		f := [3]uint32{le.Uint32(data[off:]), le.Uint32(data[off+4:]), le.Uint32(data[off+8:])}
		if uint64(f[0]) >= vcount || uint64(f[1]) >= vcount || uint64(f[2]) >= vcount {
			return nil, &IndexOutOfRangeError{Face: i, Indices: f, VertexCount: int(vcount)}
		}
		m.Faces[i] = f
		off += faceStride
	}
	return m, nil
}

// EncodeMeshBase64 returns the standard base64 encoding of EncodeMesh(m).
func EncodeMeshBase64(m *Mesh) string {
	return base64.StdEncoding.EncodeToString(EncodeMesh(m))
}

// DecodeMeshBase64 decodes a mesh from its base64 text form.
func DecodeMeshBase64(s string) (*Mesh, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &Error{Kind: KindData, Op: "decode mesh", Err: fmt.Errorf("invalid base64: %w", err)}
	}
	return DecodeMesh(data)
}
