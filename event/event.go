// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

// Package event defines the immutable signed record exchanged over the
// relay network, its kind taxonomy, and the content-derived fingerprint
// that identifies it.
//
// A Raw is never mutated after observation. Its ID is a keyed BLAKE3
// hash over a deterministic encoding of the signed fields, so the same
// logical event always carries the same ID regardless of which relay or
// protocol path delivered it — that property is what makes ingestion
// dedup and decryption memoization safe.
package event

import (
	"errors"
	"fmt"

	"github.com/driftwood-chat/driftwood/lib/ref"
)

// Kind tags an event with its protocol and purpose.
type Kind int

// Event kinds. Direct messages arrive as exactly one of two kinds:
// KindPlainMessage (legacy single-layer encryption, recipient visible in
// a tag) or KindWrapper (the outer layer of a sealed message, authored
// by a throwaway key). KindSealed never appears on the wire directly —
// it is the inner record embedded in a wrapper's ciphertext.
const (
	KindProfile      Kind = 0
	KindFollowList   Kind = 3
	KindPlainMessage Kind = 4
	KindSealed       Kind = 13
	KindWrapper      Kind = 1059
)

// TagRecipient is the tag name carrying a message recipient's public key.
const TagRecipient = "p"

// ErrMalformed reports an event that fails schema validation. Malformed
// events are dropped before aggregation — they never enter a
// conversation timeline.
var ErrMalformed = errors.New("event: malformed")

// Raw is an immutable signed network record. CreatedAt is the author's
// asserted Unix timestamp in seconds; it orders messages for display but
// is never trusted as an arrival guarantee. Content is opaque and
// usually ciphertext.
type Raw struct {
	ID        ref.EventID   `json:"id"`
	Author    ref.PublicKey `json:"author"`
	CreatedAt int64         `json:"created_at"`
	Kind      Kind          `json:"kind"`
	Tags      [][]string    `json:"tags"`
	Content   string        `json:"content"`
	Sig       string        `json:"sig"`
}

// TagValue returns the first value of the first tag with the given name,
// or "" if no such tag exists. Tags are ordered lists of string arrays;
// by convention the tag name is element 0 and the value element 1.
func (r Raw) TagValue(name string) string {
	for _, tag := range r.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// Recipient returns the tagged recipient key, or the zero key if the
// event carries no valid recipient tag.
func (r Raw) Recipient() ref.PublicKey {
	value := r.TagValue(TagRecipient)
	if value == "" {
		return ref.PublicKey{}
	}
	key, err := ref.ParsePublicKey(value)
	if err != nil {
		return ref.PublicKey{}
	}
	return key
}

// Validate checks the structural invariants of a received event: a
// non-zero author, a plausible timestamp, and an ID that matches the
// recomputed content fingerprint. All failures wrap ErrMalformed.
//
// Signature verification is separate (see Verify) because callers that
// trust their transport may skip it, but nothing may skip Validate.
func Validate(r Raw) error {
	if r.Author.IsZero() {
		return fmt.Errorf("%w: missing author", ErrMalformed)
	}
	if r.ID.IsZero() {
		return fmt.Errorf("%w: missing ID", ErrMalformed)
	}
	if r.CreatedAt <= 0 {
		return fmt.Errorf("%w: non-positive created_at %d", ErrMalformed, r.CreatedAt)
	}
	for _, tag := range r.Tags {
		if len(tag) == 0 {
			return fmt.Errorf("%w: empty tag", ErrMalformed)
		}
	}
	computed, err := ComputeID(r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if computed != r.ID {
		return fmt.Errorf("%w: ID %s does not match content fingerprint %s", ErrMalformed, r.ID, computed)
	}
	return nil
}
