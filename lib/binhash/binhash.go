// Copyright 2026 The StratoFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package binhash provides BLAKE3 content hashing for the node binary.
//
// nodeboot records a digest of the build artifact in the launch record
// so the next run can tell whether a rebuild actually changed the
// binary. Cargo rebuilds whenever any input changes (source, feature
// flags, dependency versions), but the output is often byte-identical
// across those rebuilds; comparing content digests gives an honest
// "binary changed" signal in the logs.
//
// Hashing is keyed BLAKE3 with a fixed domain key, so an artifact
// digest can never collide with a digest computed by another tool over
// the same bytes in a different context.
package binhash

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Digest is a 32-byte BLAKE3 digest of a binary file.
type Digest [32]byte

// artifactDomainKey is the BLAKE3 key for artifact hashing. The byte
// values are the ASCII encoding of the domain name, zero-padded to 32
// bytes, so the key is inspectable in hex dumps without sacrificing
// any property of BLAKE3 keyed mode.
var artifactDomainKey = [32]byte{
	's', 't', 'r', 'a', 't', 'o', 'f', 's', '.', 'n', 'o', 'd', 'e', 'b', 'o', 'o',
	't', '.', 'a', 'r', 't', 'i', 'f', 'a', 'c', 't', 0, 0, 0, 0, 0, 0,
}

// HashFile computes the artifact-domain BLAKE3 digest of the file at
// path. The file is streamed through the hash function (via io.Copy)
// to keep memory usage constant regardless of binary size.
func HashFile(path string) (Digest, error) {
	file, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	hasher, err := blake3.NewKeyed(artifactDomainKey[:])
	if err != nil {
		return Digest{}, fmt.Errorf("initializing keyed hasher: %w", err)
	}
	if _, err := io.Copy(hasher, file); err != nil {
		return Digest{}, fmt.Errorf("hashing %s: %w", path, err)
	}

	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest, nil
}

// String returns the hex-encoded representation of the digest. This is
// the canonical format used in launch records and log output.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// ParseDigest parses a hex-encoded digest string into a Digest.
// Returns an error if the string is not a valid 64-character hex
// encoding of 32 bytes.
func ParseDigest(hexString string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return digest, fmt.Errorf("parsing artifact digest: %w", err)
	}
	if len(decoded) != 32 {
		return digest, fmt.Errorf("artifact digest is %d bytes, want 32", len(decoded))
	}
	copy(digest[:], decoded)
	return digest, nil
}
