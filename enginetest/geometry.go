// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package enginetest

import (
	"math"

	"github.com/Query-farm/meshlink/meshlink"
)

type edge [2]uint32

func undirected(a, b uint32) edge {
	if a > b {
		a, b = b, a
	}
	return edge{a, b}
}

func faceEdges(f [3]uint32) [3]edge {
	return [3]edge{{f[0], f[1]}, {f[1], f[2]}, {f[2], f[0]}}
}

func degenerate(f [3]uint32) bool {
	return f[0] == f[1] || f[1] == f[2] || f[0] == f[2]
}

// diagonal returns the bounding box diagonal of the given vertices, or of
// all vertices when idx is nil.
func diagonal(verts [][3]float32, idx []uint32) float64 {
	lo := [3]float64{math.Inf(1), math.Inf(1), math.Inf(1)}
	hi := [3]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	add := func(v [3]float32) {
		for k := 0; k < 3; k++ {
			lo[k] = math.Min(lo[k], float64(v[k]))
			hi[k] = math.Max(hi[k], float64(v[k]))
		}
	}
	if idx == nil {
		for _, v := range verts {
			add(v)
		}
	} else {
		for _, i := range idx {
			add(verts[i])
		}
	}
	if lo[0] > hi[0] {
		return 0
	}
	dx, dy, dz := hi[0]-lo[0], hi[1]-lo[1], hi[2]-lo[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// remapFaces rewrites face indices through remap and drops faces that
// collapse or reference a dropped vertex (remap value -1).
func remapFaces(faces [][3]uint32, remap []int64) [][3]uint32 {
	out := faces[:0]
	for _, f := range faces {
		a, b, c := remap[f[0]], remap[f[1]], remap[f[2]]
		if a < 0 || b < 0 || c < 0 {
			continue
		}
		nf := [3]uint32{uint32(a), uint32(b), uint32(c)}
		if degenerate(nf) {
			continue
		}
		out = append(out, nf)
	}
	return out
}

// mergeDuplicates merges vertices that fall in the same cell of a grid with
// the given spacing; a non-positive spacing merges exact duplicates only.
// It returns the number of vertices removed.
func mergeDuplicates(m *meshlink.Mesh, threshold float64) int {
	type key [3]int64
	quantize := func(v [3]float32) key {
		if threshold <= 0 {
			return key{int64(math.Float32bits(v[0])), int64(math.Float32bits(v[1])), int64(math.Float32bits(v[2]))}
		}
		return key{
			int64(math.Round(float64(v[0]) / threshold)),
			int64(math.Round(float64(v[1]) / threshold)),
			int64(math.Round(float64(v[2]) / threshold)),
		}
	}

	seen := make(map[key]int64, len(m.Vertices))
	remap := make([]int64, len(m.Vertices))
	out := make([][3]float32, 0, len(m.Vertices))
	for i, v := range m.Vertices {
		k := quantize(v)
		if j, ok := seen[k]; ok {
			remap[i] = j
			continue
		}
		j := int64(len(out))
		seen[k] = j
		remap[i] = j
		out = append(out, v)
	}
	merged := len(m.Vertices) - len(out)
	m.Vertices = out
	m.Faces = remapFaces(m.Faces, remap)
	return merged
}

// removeIsolated drops vertices no face references and returns how many.
func removeIsolated(m *meshlink.Mesh) int {
	used := make([]bool, len(m.Vertices))
	for _, f := range m.Faces {
		used[f[0]], used[f[1]], used[f[2]] = true, true, true
	}
	remap := make([]int64, len(m.Vertices))
	out := make([][3]float32, 0, len(m.Vertices))
	for i, v := range m.Vertices {
		if !used[i] {
			remap[i] = -1
			continue
		}
		remap[i] = int64(len(out))
		out = append(out, v)
	}
	removed := len(m.Vertices) - len(out)
	m.Vertices = out
	m.Faces = remapFaces(m.Faces, remap)
	return removed
}

type unionFind []int

func newUnionFind(n int) unionFind {
	u := make(unionFind, n)
	for i := range u {
		u[i] = i
	}
	return u
}

func (u unionFind) find(x int) int {
	for u[x] != x {
		u[x] = u[u[x]]
		x = u[x]
	}
	return x
}

func (u unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u[ra] = rb
	}
}

// components returns the number of face-connected components.
func components(m *meshlink.Mesh) (labels []int, count int) {
	u := newUnionFind(len(m.Vertices))
	for _, f := range m.Faces {
		u.union(int(f[0]), int(f[1]))
		u.union(int(f[1]), int(f[2]))
	}
	ids := make(map[int]int)
	labels = make([]int, len(m.Faces))
	for i, f := range m.Faces {
		root := u.find(int(f[0]))
		id, ok := ids[root]
		if !ok {
			id = len(ids)
			ids[root] = id
		}
		labels[i] = id
	}
	return labels, len(ids)
}

// keepLargest keeps only the component with the most faces and returns
// the number of components removed.
func keepLargest(m *meshlink.Mesh) int {
	labels, count := components(m)
	if count <= 1 {
		return 0
	}
	sizes := make([]int, count)
	for _, l := range labels {
		sizes[l]++
	}
	best := 0
	for i, n := range sizes {
		if n > sizes[best] {
			best = i
		}
	}
	out := m.Faces[:0]
	for i, f := range m.Faces {
		if labels[i] == best {
			out = append(out, f)
		}
	}
	m.Faces = out
	removeIsolated(m)
	return count - 1
}

// boundaryLoops walks the directed boundary edges (edges used by exactly
// one face) into closed loops. Chains that cannot be closed are counted in
// open.
func boundaryLoops(m *meshlink.Mesh) (loops [][]uint32, open int) {
	uses := make(map[edge]int)
	for _, f := range m.Faces {
		for _, e := range faceEdges(f) {
			uses[undirected(e[0], e[1])]++
		}
	}

	var order []edge
	out := make(map[uint32][]uint32)
	for _, f := range m.Faces {
		for _, e := range faceEdges(f) {
			if uses[undirected(e[0], e[1])] == 1 {
				order = append(order, e)
				out[e[0]] = append(out[e[0]], e[1])
			}
		}
	}

	used := make(map[edge]bool, len(order))
	take := func(from uint32) (uint32, bool) {
		for _, to := range out[from] {
			if !used[edge{from, to}] {
				used[edge{from, to}] = true
				return to, true
			}
		}
		return 0, false
	}

	for _, start := range order {
		if used[start] {
			continue
		}
		used[start] = true
		loop := []uint32{start[0]}
		cur := start[1]
		closed := true
		for cur != start[0] {
			loop = append(loop, cur)
			next, ok := take(cur)
			if !ok || len(loop) > len(order) {
				closed = false
				break
			}
			cur = next
		}
		if closed {
			loops = append(loops, loop)
		} else {
			open++
		}
	}
	return loops, open
}

// eligible reports whether a hole loop is within the size limits.
func eligible(m *meshlink.Mesh, loop []uint32, opts meshlink.HoleOptions, meshDiag float64) bool {
	if opts.MaxBoundary > 0 && len(loop) > opts.MaxBoundary {
		return false
	}
	if meshDiag > 0 && opts.MaxDiameter > 0 && diagonal(m.Vertices, loop)/meshDiag > opts.MaxDiameter {
		return false
	}
	return true
}

// fanFill closes loop with a new centroid vertex and one triangle per
// boundary edge, wound opposite to the edge so orientation is consistent.
func fanFill(m *meshlink.Mesh, loop []uint32) (verts, faces int) {
	var c [3]float64
	for _, i := range loop {
		v := m.Vertices[i]
		c[0] += float64(v[0])
		c[1] += float64(v[1])
		c[2] += float64(v[2])
	}
	n := float64(len(loop))
	center := uint32(len(m.Vertices))
	m.Vertices = append(m.Vertices, [3]float32{float32(c[0] / n), float32(c[1] / n), float32(c[2] / n)})
	for i := range loop {
		a, b := loop[i], loop[(i+1)%len(loop)]
		m.Faces = append(m.Faces, [3]uint32{b, a, center})
	}
	return 1, len(loop)
}

func cloneMesh(m *meshlink.Mesh) *meshlink.Mesh {
	return &meshlink.Mesh{
		Vertices: append([][3]float32(nil), m.Vertices...),
		Faces:    append([][3]uint32(nil), m.Faces...),
	}
}
