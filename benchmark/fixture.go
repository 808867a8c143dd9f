// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package benchmark measures the codecs and a full engine round trip on
// grid meshes of increasing size.
package benchmark

import (
	"fmt"
	"sync"

	"github.com/Query-farm/meshlink/enginetest"
	"github.com/Query-farm/meshlink/meshlink"
)

// Sizes are the grid resolutions benchmarked. A grid of n has (n+1)^2
// vertices and 2n^2 faces.
var Sizes = []int{16, 128, 512}

var (
	meshMu sync.Mutex
	meshes = map[int]*meshlink.Mesh{}
)

// Mesh returns the n×n grid with one punched quad, built once per size.
func Mesh(n int) *meshlink.Mesh {
	meshMu.Lock()
	defer meshMu.Unlock()
	m, ok := meshes[n]
	if !ok {
		m = enginetest.Grid(n, [2]int{n / 2, n / 2})
		meshes[n] = m
	}
	return m
}

// Name labels a sub-benchmark by grid size.
func Name(n int) string {
	m := Mesh(n)
	return fmt.Sprintf("grid%d_v%d_f%d", n, m.VertexCount(), m.FaceCount())
}
