// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package meshlink

import (
	"os"
	"syscall"
)

// stderr stays on the host console on Windows.
const captureStderrByDefault = false

func engineSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// Windows has no SIGTERM for arbitrary processes.
func terminateProcess(p *os.Process) error {
	return p.Kill()
}
