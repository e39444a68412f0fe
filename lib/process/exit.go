// Copyright 2026 The StratoFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers. Fatal centralizes
// the one legitimate raw-stderr pattern in nodeboot: reporting an error
// from run() in main(), where the structured logger may not be
// initialized yet.
package process

import (
	"fmt"
	"os"
)

// Fatal writes "error: err" to stderr and exits with code 1. Every
// fatal pipeline failure (resolution, reconciliation, build, launch
// precondition) funnels through here, so the orchestrator has exactly
// two exit codes: 0 and 1.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
