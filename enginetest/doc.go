// Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package enginetest provides an in-process repair engine that speaks the
// meshlink wire protocol. It implements every engine command with simple,
// deterministic geometry: duplicate vertices are merged on a grid, isolated
// vertices and small components are dropped, holes are found as boundary
// loops, and each eligible hole is closed with a fan around its centroid.
//
// The engine is meant for tests, examples, and local development. Run it
// over any reader/writer pair with [Engine.Serve], on the process's
// stdin/stdout with [RunStdio] (the pipe-mode contract, lingering after
// end-of-input until terminated), or on a TCP listener with
// [Engine.ServeListener] (the socket-mode contract, where shutdown only
// resets state).
package enginetest
