// Copyright 2026 The StratoFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package cargo provides typed access to the cargo CLI for building
// the node binary. It centralizes binary resolution (PATH first, then
// the rustup-managed ~/.cargo/bin) and uniform error formatting for
// build failures.
//
// The build is synchronous and by default unbounded: cargo is allowed
// to block as long as it needs, matching the reference bootstrap
// behavior. Callers that want a deadline set Builder.Timeout
// explicitly.
package cargo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// FindBinary resolves the cargo binary, checking PATH first and then
// the standard rustup installation directory. Returns the absolute
// path to the binary.
func FindBinary() (string, error) {
	if path, err := exec.LookPath("cargo"); err == nil {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		rustupPath := filepath.Join(homeDir, ".cargo", "bin", "cargo")
		if _, err := os.Stat(rustupPath); err == nil {
			return rustupPath, nil
		}
	}

	return "", errors.New("cargo not found on PATH or in ~/.cargo/bin")
}

// Args returns the cargo argument vector for a build with the given
// extra options. The options are appended verbatim, in order, with no
// interpretation — they are the caller's opaque pass-through to cargo
// (feature selectors, --release, and so on).
func Args(options []string) []string {
	return append([]string{"build"}, options...)
}

// Builder runs cargo builds for one source tree.
type Builder struct {
	// Dir is the working directory for the build (the source tree
	// root). Empty means the current directory.
	Dir string

	// Timeout bounds the build. Zero means no deadline.
	Timeout time.Duration

	// Stdout and Stderr receive the build output. Defaults are the
	// orchestrator's own stdout and stderr: build diagnostics go
	// straight to the operator.
	Stdout io.Writer
	Stderr io.Writer
}

// Build runs "cargo build [options...]" and blocks until it finishes.
// A non-zero exit from cargo is returned as an error; the caller must
// treat it as fatal and not proceed to launch.
//
// The build runs in its own process group so that cancellation kills
// cargo and every compiler process it spawned, not just cargo itself.
func (b *Builder) Build(ctx context.Context, options []string) error {
	binaryPath, err := FindBinary()
	if err != nil {
		return err
	}

	if b.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, binaryPath, Args(options)...)
	cmd.Dir = b.Dir
	cmd.Stdout = b.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = b.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Negative PID signals the whole process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	err = cmd.Run()
	if err == nil {
		return nil
	}

	if b.Timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("cargo build timed out after %s", b.Timeout)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("cargo build canceled: %w", ctx.Err())
	}

	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		return fmt.Errorf("cargo build exited with code %d", exitError.ExitCode())
	}
	return fmt.Errorf("cargo build: %w", err)
}
