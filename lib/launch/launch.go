// Copyright 2026 The StratoFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package launch prepares the mount directory and starts the node
// process with its fixed argument set.
//
// The default hand-off is process replacement: the orchestrator's
// image is replaced by the node via exec(), so the node inherits the
// terminal and the orchestrator's responsibility ends at a successful
// exec. The alternative is Supervise, which forks the node, confirms
// it survived a startup grace window, and returns so the orchestrator
// can exit 0 while the node keeps running.
package launch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/stratofs/nodeboot/lib/bootenv"
)

// defaultStartupGrace is how long Supervise waits before declaring the
// node started. A node that fails its flag parsing or cannot bind its
// sockets exits well inside this window.
const defaultStartupGrace = 2 * time.Second

// Argv returns the node's fixed command line, argv[0] included. The
// flag set and its order are a compatibility contract with the node
// binary — every value comes from the resolved Env, nothing is
// computed here.
func Argv(env bootenv.Env) []string {
	return []string{
		env.ArtifactPath,
		"--role=node",
		"--csi-endpoint=unix://" + env.NodeSocketPath,
		fmt.Sprintf("--csi-worker-port=%d", env.CSIWorkerPort),
		"--node-name=" + env.NodeName,
		"--node-ip=" + env.NodeIP,
		"--csi-driver-name=" + env.CSIDriverName,
		"--mount-path=" + env.MountDir,
		"--kv-server-list=" + env.KVEndpoint,
		"--storage-s3-access-key-id=" + env.S3AccessKeyID,
		"--storage-s3-secret-access-key=" + env.S3SecretAccessKey,
		"--storage-s3-bucket-name=" + env.S3BucketName,
		"--storage-s3-endpoint-url=" + env.S3EndpointURL,
		fmt.Sprintf("--storage-cache-capacity=%d", env.CacheCapacityBytes),
		fmt.Sprintf("--server-port=%d", env.ServerPort),
		"--storage-type=" + env.StorageType,
	}
}

// Environ returns the child process environment: the orchestrator's
// own environment plus the resolved values the node inherits rather
// than receiving as flags — the control socket path, the mount helper
// binary, and the log level. The values come from the resolved Env, so
// flag and file overrides reach the node; the orchestrator's own
// process environment is never mutated.
func Environ(env bootenv.Env) []string {
	forwarded := []struct {
		name  string
		value string
	}{
		{"STRATOFS_CONTROL_SOCKET", env.ControlSocketPath},
		{"STRATOFS_MOUNT_HELPER", env.MountHelperPath},
		{"STRATOFS_LOG_LEVEL", env.LogLevel},
	}

	environ := os.Environ()
	out := make([]string, 0, len(environ)+len(forwarded))
	for _, entry := range environ {
		name, _, _ := strings.Cut(entry, "=")
		stale := false
		for _, v := range forwarded {
			if name == v.name {
				stale = true
				break
			}
		}
		if !stale {
			out = append(out, entry)
		}
	}
	for _, v := range forwarded {
		out = append(out, v.name+"="+v.value)
	}
	return out
}

// CreateMountDir creates the mount directory. The create is
// non-recursive: the parent must already exist, and a collision with
// a leftover path is a launch-precondition failure, not something to
// paper over (the reconciler should have removed it).
func CreateMountDir(dir string) error {
	if err := os.Mkdir(dir, 0o755); err != nil {
		return fmt.Errorf("creating mount dir %s: %w", dir, err)
	}
	return nil
}

// Launcher starts the node process. The zero value is not usable;
// call New.
type Launcher struct {
	// ExecFunc performs the process replacement. Injectable for tests;
	// the default is unix.Exec, which never returns on success.
	ExecFunc func(argv0 string, argv []string, envv []string) error

	// StartupGrace is how long Supervise waits for the node to prove
	// it started.
	StartupGrace time.Duration
}

// New returns a Launcher using real exec() and the default startup
// grace window.
func New() *Launcher {
	return &Launcher{
		ExecFunc:     unix.Exec,
		StartupGrace: defaultStartupGrace,
	}
}

// Handoff writes the launch record and replaces the current process
// with the node. On success it never returns. A return always means
// the exec failed; the launch record is cleared so it never claims a
// launch that did not happen.
func (l *Launcher) Handoff(env bootenv.Env, record Record, logger *slog.Logger) error {
	recordPath, err := l.writeRecord(env, record)
	if err != nil {
		return err
	}

	argv := Argv(env)
	logger.Info("handing off to node process",
		"artifact", env.ArtifactPath,
		"mount_path", env.MountDir,
		"kv_endpoint", env.KVEndpoint,
	)

	err = l.ExecFunc(env.ArtifactPath, argv, Environ(env))

	// Only reached when exec failed: the process was not replaced.
	if clearErr := ClearRecord(recordPath); clearErr != nil {
		logger.Error("clearing launch record after failed exec", "error", clearErr)
	}
	if err == nil {
		err = errors.New("exec returned without replacing the process")
	}
	return fmt.Errorf("exec %s: %w", env.ArtifactPath, err)
}

// Supervise writes the launch record, forks the node, and waits
// StartupGrace to confirm it is still running. Returns the node's PID
// on success; the node keeps running after the orchestrator exits.
// An exit inside the grace window is a launch failure.
func (l *Launcher) Supervise(env bootenv.Env, record Record, logger *slog.Logger) (int, error) {
	recordPath, err := l.writeRecord(env, record)
	if err != nil {
		return 0, err
	}

	argv := Argv(env)
	cmd := exec.Command(env.ArtifactPath, argv[1:]...)
	cmd.Env = Environ(env)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	logger.Info("starting node process",
		"artifact", env.ArtifactPath,
		"mount_path", env.MountDir,
		"startup_grace", l.StartupGrace,
	)

	if err := cmd.Start(); err != nil {
		if clearErr := ClearRecord(recordPath); clearErr != nil {
			logger.Error("clearing launch record after failed start", "error", clearErr)
		}
		return 0, fmt.Errorf("starting %s: %w", env.ArtifactPath, err)
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	select {
	case waitErr := <-exited:
		if clearErr := ClearRecord(recordPath); clearErr != nil {
			logger.Error("clearing launch record after early node exit", "error", clearErr)
		}
		if waitErr != nil {
			return 0, fmt.Errorf("node exited during startup: %w", waitErr)
		}
		return 0, errors.New("node exited during startup")
	case <-time.After(l.StartupGrace):
		logger.Info("node process confirmed started", "pid", cmd.Process.Pid)
		return cmd.Process.Pid, nil
	}
}

// writeRecord ensures the state directory exists and writes the launch
// record, returning its path.
func (l *Launcher) writeRecord(env bootenv.Env, record Record) (string, error) {
	if err := os.MkdirAll(env.StateDir, 0o755); err != nil {
		return "", fmt.Errorf("creating state dir %s: %w", env.StateDir, err)
	}
	recordPath := RecordPath(env.StateDir)
	if err := WriteRecord(recordPath, record); err != nil {
		return "", err
	}
	return recordPath, nil
}
