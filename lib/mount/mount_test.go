// Copyright 2026 The StratoFS Authors
// SPDX-License-Identifier: Apache-2.0

package mount

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeTable writes a mountinfo fixture and returns its path.
func writeTable(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mountinfo")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

const baseTable = `24 30 0:22 / /proc rw,nosuid,nodev,noexec,relatime shared:13 - proc proc rw
30 1 8:1 / / rw,relatime shared:1 - ext4 /dev/sda1 rw,errors=remount-ro
42 30 0:36 / /tmp rw,nosuid,nodev shared:18 - tmpfs tmpfs rw
`

func TestParseTable(t *testing.T) {
	content := baseTable +
		`91 30 0:45 / /mnt/with\040space rw shared:40 - fuse stratofs rw,user_id=1000
`
	entries, err := ParseTable(strings.NewReader(content))
	if err != nil {
		t.Fatalf("ParseTable: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("got %d entries, want 4", len(entries))
	}

	root := entries[1]
	if root.MountPoint != "/" || root.FSType != "ext4" || root.Source != "/dev/sda1" {
		t.Errorf("root entry = %+v", root)
	}

	fuse := entries[3]
	if fuse.MountPoint != "/mnt/with space" {
		t.Errorf("escaped mount point = %q, want %q", fuse.MountPoint, "/mnt/with space")
	}
	if fuse.FSType != "fuse" {
		t.Errorf("FSType = %q, want %q", fuse.FSType, "fuse")
	}
}

func TestParseTableMalformed(t *testing.T) {
	_, err := ParseTable(strings.NewReader("garbage line\n"))
	if err == nil {
		t.Fatal("ParseTable should reject a malformed line")
	}
}

func TestMatchesDeepestFirst(t *testing.T) {
	entries := []Entry{
		{MountPoint: "/mnt/stratofs"},
		{MountPoint: "/mnt/stratofs/inner/deep"},
		{MountPoint: "/mnt/stratofs-other"},
		{MountPoint: "/mnt/stratofs/inner"},
	}

	found := matches(entries, "/mnt/stratofs")
	if len(found) != 3 {
		t.Fatalf("got %d matches, want 3 (sibling with shared prefix must not match)", len(found))
	}
	want := []string{"/mnt/stratofs/inner/deep", "/mnt/stratofs/inner", "/mnt/stratofs"}
	for i, mountPoint := range want {
		if found[i].MountPoint != mountPoint {
			t.Errorf("matches[%d] = %q, want %q", i, found[i].MountPoint, mountPoint)
		}
	}
}

// reconciler returns a Reconciler reading the given table fixture,
// recording unmount calls, and using the real remover.
func reconciler(tablePath string, unmountCalls *[]string, unmountErr error) *Reconciler {
	r := New()
	r.TablePath = tablePath
	r.Unmount = func(target string) error {
		*unmountCalls = append(*unmountCalls, target)
		return unmountErr
	}
	return r
}

func TestReconcileAbsentDirIsNoop(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "mnt")

	var calls []string
	r := reconciler(writeTable(t, baseTable), &calls, nil)

	if err := r.Reconcile(dir, discardLogger()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(calls) != 0 {
		t.Errorf("unmount called %d times for an absent dir, want 0", len(calls))
	}
	if _, err := os.Lstat(dir); !os.IsNotExist(err) {
		t.Error("dir should remain absent after Reconcile")
	}
}

func TestReconcileRemovesUnmountedDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "mnt")
	if err := os.MkdirAll(filepath.Join(dir, "leftover"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "leftover", "file"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var calls []string
	r := reconciler(writeTable(t, baseTable), &calls, nil)

	if err := r.Reconcile(dir, discardLogger()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(calls) != 0 {
		t.Errorf("unmount called for a dir not in the mount table")
	}
	if _, err := os.Lstat(dir); !os.IsNotExist(err) {
		t.Error("dir should be removed after Reconcile")
	}
}

func TestReconcileUnmountsThenRemoves(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "mnt")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	table := baseTable + fmt.Sprintf(
		"91 30 0:45 / %s rw shared:40 - fuse stratofs rw,user_id=1000\n", dir)

	var calls []string
	r := reconciler(writeTable(t, table), &calls, nil)

	if err := r.Reconcile(dir, discardLogger()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(calls) != 1 || calls[0] != dir {
		t.Errorf("unmount calls = %v, want exactly [%s]", calls, dir)
	}
	if _, err := os.Lstat(dir); !os.IsNotExist(err) {
		t.Error("dir should be removed after Reconcile")
	}
}

func TestReconcileUnmountFailureIsTolerated(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "mnt")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	table := baseTable + fmt.Sprintf(
		"91 30 0:45 / %s rw shared:40 - fuse stratofs rw\n", dir)

	var calls []string
	r := reconciler(writeTable(t, table), &calls, fmt.Errorf("device busy"))

	if err := r.Reconcile(dir, discardLogger()); err != nil {
		t.Fatalf("Reconcile should tolerate unmount failure, got: %v", err)
	}
	if _, err := os.Lstat(dir); !os.IsNotExist(err) {
		t.Error("dir should still be removed when unmount fails")
	}
}

func TestReconcileRemoveFailureIsFatal(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "mnt")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	var calls []string
	r := reconciler(writeTable(t, baseTable), &calls, nil)
	r.Remove = func(path string) error {
		return fmt.Errorf("permission denied")
	}

	err := r.Reconcile(dir, discardLogger())
	if err == nil {
		t.Fatal("Reconcile should fail when removal fails")
	}
	if !strings.Contains(err.Error(), dir) {
		t.Errorf("error %q should mention the mount dir", err)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "mnt")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	table := baseTable + fmt.Sprintf(
		"91 30 0:45 / %s rw shared:40 - fuse stratofs rw\n", dir)
	tablePath := writeTable(t, table)

	var calls []string
	r := reconciler(tablePath, &calls, nil)

	if err := r.Reconcile(dir, discardLogger()); err != nil {
		t.Fatalf("Reconcile first: %v", err)
	}
	firstCalls := len(calls)

	// Second run sees a table without the entry (the unmount happened)
	// and an absent directory.
	r.TablePath = writeTable(t, baseTable)
	if err := r.Reconcile(dir, discardLogger()); err != nil {
		t.Fatalf("Reconcile second: %v", err)
	}

	if len(calls) != firstCalls {
		t.Errorf("second Reconcile performed %d extra unmounts, want 0", len(calls)-firstCalls)
	}
}
