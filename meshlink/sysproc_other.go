// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package meshlink

import (
	"os"
	"syscall"
)

const captureStderrByDefault = true

func engineSysProcAttr() *syscall.SysProcAttr {
	return nil
}

func terminateProcess(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}
