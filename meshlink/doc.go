// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package meshlink implements the host side of the mesh repair engine
// protocol: a length-prefixed JSON framing over a byte stream, a compact
// binary encoding for triangle soups, and a session layer that drives an
// engine through load, preprocess, hole detection, hole filling, and save.
//
// # Framing
//
// Every message on the wire is a frame:
//
//	u32 little-endian payload length
//	u8  frame type (0x01 command, 0x02 response, 0x03 event)
//	    payload bytes (UTF-8 JSON)
//
// Commands flow from host to engine. Responses flow back in the order the
// commands were sent; there is no correlation identifier. Events (progress
// and log) may be interleaved anywhere in the response stream and are routed
// to an [Observer] rather than to the response inbox.
//
// # Meshes
//
// Meshes travel base64-encoded inside JSON as
//
//	u32 vertex_count, vertex_count x (f32 x, f32 y, f32 z)
//	u32 face_count,   face_count   x (u32 a, u32 b, u32 c)
//
// all little-endian. See [EncodeMesh] and [DecodeMesh].
//
// # Transports
//
// Two transports are provided. [ProcessTransport] spawns the engine as a
// child process and talks over its stdin/stdout. [SocketTransport] connects
// to an engine already listening on a TCP port. A [Manager] owns one
// transport plus the background reader goroutine, and a [Session] layers
// command semantics, preconditions, batch queuing, and timeouts on top.
//
// # Modes
//
// In interactive mode every command is sent and its response awaited before
// the next one. In batch mode commands are queued and written in a single
// burst by [Session.ExecuteBatch]; with a process transport the engine's stdin
// is then closed so the engine sees end-of-input, processes everything, and
// answers in order.
//
// Usage:
//
//	s, err := meshlink.NewSession(meshlink.Config{
//		Mode:       meshlink.ModePipe,
//		EnginePath: "/usr/local/bin/meshrepair",
//	})
//	if err != nil { ... }
//	defer s.Stop(ctx)
//	if _, err := s.LoadMesh(ctx, mesh); err != nil { ... }
//	if _, err := s.FillHoles(ctx, meshlink.DefaultHoleOptions()); err != nil { ... }
//	repaired, err := s.SaveMesh(ctx)
//
// Pipe sessions default to batch mode, so the calls above only queue
// commands until SaveMesh executes the batch. [Repair] wraps the whole
// sequence.
package meshlink
