// Copyright 2026 The StratoFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides nodeboot's standard CBOR encoding configuration.
//
// The launch record (lib/launch) is the only on-disk binary state this
// tool writes. It uses CBOR with Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes, so a record rewrite with unchanged content is byte-identical
// and diff-friendly at the block level.
//
// This package exists so every consumer encodes identically without
// duplicating mode configuration, and so nothing outside it imports
// fxamacker/cbor directly.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding.
var encMode cbor.EncMode

// decMode is the CBOR decoder configured to accept standard CBOR.
// Unknown fields are silently ignored for forward compatibility, so a
// newer nodeboot can read records written by an older one and vice
// versa.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// When the decode target is any, pick map[string]any rather than
		// the CBOR default map[any]any. Record fields are always
		// string-keyed, and map[string]any is what the rest of the Go
		// ecosystem expects.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
