// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides deterministic CBOR encoding and decoding for
// Driftwood. Two call sites depend on determinism: event ID preimages
// (the same logical event must always fingerprint to the same ID) and
// cache snapshots (stable bytes for change detection). Consumers import
// only this package, never fxamacker/cbor directly.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer encoding,
// no indefinite-length items. Same logical data always produces
// identical bytes.
var encMode cbor.EncMode

// decMode is the CBOR decoder configured to accept standard CBOR.
// Unknown fields are silently ignored for forward compatibility.
var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// ref.PublicKey and ref.EventID implement encoding.TextMarshaler
	// around unexported fields. Without this setting they would encode
	// as empty CBOR maps, losing their identity.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// When the decode target is any, pick map[string]any rather
		// than the CBOR default map[any]any — Driftwood never uses
		// non-string map keys, and map[string]any interoperates with
		// encoding/json and the rest of the codebase.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// Mirror of the TextMarshaler setting above: ref types
		// deserialize from CBOR text strings via UnmarshalText, which
		// re-validates on the way in.
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
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

// RawMessage is a raw encoded CBOR value, for delaying decoding or
// embedding pre-encoded output.
type RawMessage = cbor.RawMessage
