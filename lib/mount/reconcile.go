// Copyright 2026 The StratoFS Authors
// SPDX-License-Identifier: Apache-2.0

package mount

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Reconciler drives the mount directory to a known-clean state: not
// mounted, not present on disk. The zero value is not usable; call New.
//
// The unmount and remove operations are injectable for tests. The
// defaults are the real syscalls.
type Reconciler struct {
	// TablePath is the mount table to query. Defaults to the calling
	// process's own view.
	TablePath string

	// Unmount detaches a mounted filesystem. Failure here is a warning,
	// not an error: the authoritative safety gate is the directory
	// removal below, which fails loudly if the path is still busy.
	Unmount func(target string) error

	// Remove recursively deletes the mount directory. Failure is fatal
	// to the pipeline.
	Remove func(path string) error
}

// New returns a Reconciler backed by /proc/self/mountinfo,
// unix.Unmount, and os.RemoveAll.
func New() *Reconciler {
	return &Reconciler{
		TablePath: "/proc/self/mountinfo",
		Unmount: func(target string) error {
			return unix.Unmount(target, 0)
		},
		Remove: os.RemoveAll,
	}
}

// Reconcile ensures dir is unmounted and absent. On success the path
// does not exist on the filesystem. Running Reconcile twice in a row
// on an already-clean state is a no-op.
//
// Unmount failures are logged and tolerated; a removal failure
// (typically a still-busy mount point or a permission problem) is
// returned and must abort the pipeline.
func (r *Reconciler) Reconcile(dir string, logger *slog.Logger) error {
	dir = filepath.Clean(dir)

	table, err := os.Open(r.TablePath)
	if err != nil {
		return fmt.Errorf("opening mount table %s: %w", r.TablePath, err)
	}
	entries, err := ParseTable(table)
	table.Close()
	if err != nil {
		return err
	}

	mounted := matches(entries, dir)
	if len(mounted) == 0 {
		logger.Info("mount dir not mounted", "dir", dir)
	}
	for _, entry := range mounted {
		logger.Info("unmounting stale mount",
			"mount_point", entry.MountPoint,
			"fstype", entry.FSType,
			"source", entry.Source,
		)
		if err := r.Unmount(entry.MountPoint); err != nil {
			// Tolerated: directory removal below is the real gate.
			logger.Warn("unmount failed, continuing",
				"mount_point", entry.MountPoint,
				"error", err,
			)
		}
	}

	if _, err := os.Lstat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("checking mount dir %s: %w", dir, err)
	}

	logger.Info("removing stale mount dir", "dir", dir)
	if err := r.Remove(dir); err != nil {
		return fmt.Errorf("removing stale mount dir %s: %w", dir, err)
	}

	return nil
}
