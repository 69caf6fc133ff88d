// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// PublicKey is a validated relay-network public key: 32 bytes encoded as
// 64 lowercase hex characters. It identifies an author, a message
// recipient, or the counterparty of a direct conversation.
//
// PublicKey is an immutable value type, safe to use as a map key. The
// zero value is not valid; use IsZero to check.
type PublicKey struct {
	key string
}

// ParsePublicKey validates and wraps a raw hex public key string.
func ParsePublicKey(raw string) (PublicKey, error) {
	if raw == "" {
		return PublicKey{}, fmt.Errorf("empty public key")
	}
	if len(raw) != 64 {
		return PublicKey{}, fmt.Errorf("public key is %d characters, want 64: %q", len(raw), raw)
	}
	if !isLowerHex(raw) {
		return PublicKey{}, fmt.Errorf("public key is not lowercase hex: %q", raw)
	}
	return PublicKey{key: raw}, nil
}

// MustParsePublicKey is like ParsePublicKey but panics on error. Use in
// tests and static initialization where the input is known-valid.
func MustParsePublicKey(raw string) PublicKey {
	k, err := ParsePublicKey(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParsePublicKey(%q): %v", raw, err))
	}
	return k
}

// String returns the 64-character hex form.
func (k PublicKey) String() string { return k.key }

// IsZero reports whether the PublicKey is the zero value (uninitialized).
func (k PublicKey) IsZero() bool { return k.key == "" }

// Short returns the first 8 hex characters, for logs and display. Returns
// "(none)" for the zero value.
func (k PublicKey) Short() string {
	if k.key == "" {
		return "(none)"
	}
	return k.key[:8]
}

// MarshalText implements encoding.TextMarshaler for JSON and other
// text-based serialization formats.
func (k PublicKey) MarshalText() ([]byte, error) {
	if k.key == "" {
		return nil, nil
	}
	return []byte(k.key), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Validates the key
// format. An empty input produces the zero value (unset key).
func (k *PublicKey) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*k = PublicKey{}
		return nil
	}
	parsed, err := ParsePublicKey(string(data))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// isLowerHex reports whether s consists only of [0-9a-f].
func isLowerHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
