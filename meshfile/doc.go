// Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package meshfile reads and writes meshes on disk for the meshlink tools.
//
// Two encodings are supported, selected by file extension:
//
//	.msoup       the engine's binary mesh blob, unchanged
//	.mesharrow   two Arrow IPC streams, vertices (x, y, z float32) then
//	             faces (a, b, c uint32), each preceded by its u64
//	             little-endian byte length
//
// Either may carry a trailing .zst, in which case the file is zstd
// compressed.
package meshfile
