// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package enginetest

import (
	"encoding/json"

	"github.com/Query-farm/meshlink/meshlink"
)

// State mirrors the engine's numeric state reported by get_info.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateMeshLoaded
	StatePreprocessing
	StateDetectingHoles
	StateFillingHoles
	StateSaving
	StateError
)

// Error type strings carried in error responses.
const (
	ErrTypeInvalidCommand = "invalid_command"
	ErrTypeUnknownCommand = "unknown_command"
	ErrTypeInvalidParams  = "invalid_params"
	ErrTypeCommand        = "command_error"
	ErrTypeProtocol       = "protocol_error"
	ErrTypeSerialization  = "serialization_error"
)

// request is an inbound command with params left raw until the handler
// knows their shape.
type request struct {
	Command meshlink.CommandName `json:"command"`
	Params  json.RawMessage      `json:"params"`
}

// reply is an outbound response. Fields are flattened into one JSON object.
type reply map[string]any

func success(message string) reply {
	r := reply{"type": string(meshlink.ResponseSuccess)}
	if message != "" {
		r["message"] = message
	}
	return r
}

func failure(message, errType string) reply {
	return reply{
		"type":  string(meshlink.ResponseError),
		"error": map[string]string{"type": errType, "message": message},
	}
}

// preprocessParams decodes preprocess params over the engine defaults.
func preprocessParams(raw json.RawMessage) (meshlink.PreprocessOptions, error) {
	opts := meshlink.DefaultPreprocessOptions()
	if len(raw) == 0 {
		return opts, nil
	}
	err := json.Unmarshal(raw, &opts)
	return opts, err
}

// holeParams decodes detect/fill params over the engine defaults. The
// engine's own default diameter ratio is tighter than the host's.
func holeParams(raw json.RawMessage) (meshlink.HoleOptions, error) {
	opts := meshlink.DefaultHoleOptions()
	opts.MaxDiameter = 0.1
	if len(raw) == 0 {
		return opts, nil
	}
	err := json.Unmarshal(raw, &opts)
	return opts, err
}

type loadParams struct {
	MeshDataBinary *string `json:"mesh_data_binary"`
}

type saveParams struct {
	ReturnBinary bool `json:"return_binary"`
}
