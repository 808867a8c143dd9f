// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package enginetest

import "github.com/Query-farm/meshlink/meshlink"

// Tetrahedron returns a closed tetrahedron with four vertices and four
// outward-facing triangles.
func Tetrahedron() *meshlink.Mesh {
	return &meshlink.Mesh{
		Vertices: [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		Faces:    [][3]uint32{{0, 2, 1}, {0, 1, 3}, {0, 3, 2}, {1, 2, 3}},
	}
}

// Grid returns an n by n grid of unit quads in the z=0 plane, each split
// into two triangles. Quads listed in punch (by x, y) are left out.
func Grid(n int, punch ...[2]int) *meshlink.Mesh {
	skip := make(map[[2]int]bool, len(punch))
	for _, p := range punch {
		skip[p] = true
	}
	m := &meshlink.Mesh{Vertices: make([][3]float32, 0, (n+1)*(n+1))}
	for y := 0; y <= n; y++ {
		for x := 0; x <= n; x++ {
			m.Vertices = append(m.Vertices, [3]float32{float32(x), float32(y), 0})
		}
	}
	idx := func(x, y int) uint32 { return uint32(y*(n+1) + x) }
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			if skip[[2]int{x, y}] {
				continue
			}
			a, b, c, d := idx(x, y), idx(x+1, y), idx(x+1, y+1), idx(x, y+1)
			m.Faces = append(m.Faces, [3]uint32{a, b, c}, [3]uint32{a, c, d})
		}
	}
	return m
}

// HoledGrid returns an 8 by 8 grid with one quad missing near the middle:
// one small interior hole plus the outer boundary, which is too large to be
// filled under the default hole options.
func HoledGrid() *meshlink.Mesh {
	return Grid(8, [2]int{3, 3})
}
