// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package meshlink

import "fmt"

// FrameType is the one-byte discriminant following the length prefix.
type FrameType uint8

const (
	FrameCommand  FrameType = 0x01 // host to engine
	FrameResponse FrameType = 0x02 // engine to host, one per command
	FrameEvent    FrameType = 0x03 // engine to host, unsolicited progress/log
)

func (t FrameType) String() string {
	switch t {
	case FrameCommand:
		return "COMMAND"
	case FrameResponse:
		return "RESPONSE"
	case FrameEvent:
		return "EVENT"
	default:
		return fmt.Sprintf("FrameType(0x%02x)", uint8(t))
	}
}

// CommandName identifies an engine command.
type CommandName string

const (
	CmdInit        CommandName = "init"
	CmdGetInfo     CommandName = "get_info"
	CmdLoadMesh    CommandName = "load_mesh"
	CmdPreprocess  CommandName = "preprocess"
	CmdDetectHoles CommandName = "detect_holes"
	CmdFillHoles   CommandName = "fill_holes"
	CmdSaveMesh    CommandName = "save_mesh"
	CmdShutdown    CommandName = "shutdown"
)

// ResponseType discriminates success from error responses.
type ResponseType string

const (
	ResponseSuccess ResponseType = "success"
	ResponseError   ResponseType = "error"
)

// EventType discriminates the payload of an EVENT frame.
type EventType string

const (
	EventProgress EventType = "progress"
	EventLog      EventType = "log"
)

// Well-known response keys read outside the typed Response fields.
const (
	KeyMeshDataBinary = "mesh_data_binary"
	KeyMeshInfo       = "mesh_info"
	KeyStats          = "stats"
)

// timingKeys are the per-stage duration fields an engine started with
// --stats adds to its responses.
var timingKeys = []string{
	"load_time_ms",
	"decode_time_ms",
	"deserialize_time_ms",
	"preprocess_time_ms",
	"detect_time_ms",
	"fill_time_ms",
	"save_time_ms",
	"serialize_time_ms",
	"encode_time_ms",
}
