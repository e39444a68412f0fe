// Copyright 2026 The StratoFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package mount reconciles the node's mount directory with the live
// mount table. Before a launch, the mount directory must be unmounted
// and absent from disk; the reconciler guarantees that postcondition
// regardless of what a previous run (or crash) left behind.
package mount

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Entry is a single row of the kernel mount table.
type Entry struct {
	// MountPoint is the path the filesystem is mounted on, with
	// mountinfo octal escapes decoded.
	MountPoint string

	// FSType is the filesystem type (e.g., "fuse", "ext4").
	FSType string

	// Source is the mounted device or pseudo-source.
	Source string
}

// ParseTable parses /proc/self/mountinfo content. Malformed lines are
// an error: the mount table is kernel-generated, so a line this code
// cannot parse means the parser is wrong, not the kernel.
func ParseTable(r io.Reader) ([]Entry, error) {
	var entries []Entry

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		entry, err := parseLine(line)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading mount table: %w", err)
	}

	return entries, nil
}

// parseLine parses one mountinfo line:
//
//	36 35 98:0 /mnt1 /mnt2 rw,noatime master:1 - ext3 /dev/root rw
//
// The mount point is field 5. Optional fields follow until a single
// "-" separator; the filesystem type and source come after it.
func parseLine(line string) (Entry, error) {
	fields := strings.Fields(line)
	if len(fields) < 7 {
		return Entry{}, fmt.Errorf("mount table line has %d fields, want at least 7: %q", len(fields), line)
	}

	separator := -1
	for i := 6; i < len(fields); i++ {
		if fields[i] == "-" {
			separator = i
			break
		}
	}
	if separator == -1 || separator+2 >= len(fields) {
		return Entry{}, fmt.Errorf("mount table line missing optional-field separator: %q", line)
	}

	return Entry{
		MountPoint: unescape(fields[4]),
		FSType:     fields[separator+1],
		Source:     unescape(fields[separator+2]),
	}, nil
}

// unescape decodes the \ooo octal escapes mountinfo uses for space,
// tab, newline, and backslash in paths.
func unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}

	var out strings.Builder
	out.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			if value, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				out.WriteByte(byte(value))
				i += 3
				continue
			}
		}
		out.WriteByte(s[i])
	}
	return out.String()
}

// matches returns the entries mounted at dir or anywhere below it,
// deepest first, so nested mounts are unmounted before their parents.
func matches(entries []Entry, dir string) []Entry {
	var found []Entry
	prefix := dir + "/"
	for _, entry := range entries {
		if entry.MountPoint == dir || strings.HasPrefix(entry.MountPoint, prefix) {
			found = append(found, entry)
		}
	}

	// Deepest first. Mount points under a common root sort correctly
	// by path length because a child path always extends its parent.
	sort.Slice(found, func(i, j int) bool {
		return len(found[i].MountPoint) > len(found[j].MountPoint)
	})
	return found
}
