// Copyright 2026 The StratoFS Authors
// SPDX-License-Identifier: Apache-2.0

package launch

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/stratofs/nodeboot/lib/codec"
)

// Record captures what was handed off to the node process. It is
// written immediately before the launch so the next nodeboot run (and
// the operator) can see which artifact was last started and whether a
// rebuild actually changed it.
type Record struct {
	// ArtifactPath is the absolute path of the launched node binary.
	ArtifactPath string `cbor:"artifact_path"`

	// ArtifactDigest is the hex BLAKE3 digest of the binary content.
	ArtifactDigest string `cbor:"artifact_digest"`

	// MountPath is the mount directory passed to the node.
	MountPath string `cbor:"mount_path"`

	// KVEndpoint is the backend key-value endpoint passed to the node.
	KVEndpoint string `cbor:"kv_endpoint"`

	// LaunchedAt is when the hand-off was initiated.
	LaunchedAt time.Time `cbor:"launched_at"`
}

// RecordPath returns the launch record location inside stateDir.
func RecordPath(stateDir string) string {
	return filepath.Join(stateDir, "launch-record.cbor")
}

// WriteRecord atomically writes the launch record: temporary file in
// the same directory, fsync, rename. Readers never see a partial
// write. The parent directory must exist.
func WriteRecord(path string, record Record) error {
	data, err := codec.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling launch record: %w", err)
	}

	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temporary launch record: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary launch record: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary launch record: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary launch record: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming launch record into place: %w", err)
	}

	return nil
}

// ReadRecord reads the launch record at path. Returns found=false with
// no error when the file does not exist (first run).
func ReadRecord(path string) (Record, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("reading launch record: %w", err)
	}

	var record Record
	if err := codec.Unmarshal(data, &record); err != nil {
		return Record{}, false, fmt.Errorf("parsing launch record %s: %w", path, err)
	}
	return record, true, nil
}

// ClearRecord removes the launch record. Idempotent: returns nil when
// the file does not exist.
func ClearRecord(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing launch record: %w", err)
	}
	return nil
}
