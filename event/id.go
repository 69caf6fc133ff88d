// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/driftwood-chat/driftwood/lib/codec"
	"github.com/driftwood-chat/driftwood/lib/ref"
)

// idDomainKey is the 32-byte key for BLAKE3 keyed hashing of event ID
// preimages. Domain separation keeps event fingerprints distinct from
// any other BLAKE3 use, even over identical input bytes. The value is
// the ASCII domain name zero-padded to 32 bytes: readable in hex dumps,
// and BLAKE3 keyed mode treats it as opaque either way. Changing it
// invalidates every existing event ID.
var idDomainKey = [32]byte{
	'd', 'r', 'i', 'f', 't', 'w', 'o', 'o', 'd', '.',
	'e', 'v', 'e', 'n', 't', '.', 'i', 'd', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// idPreimage is the canonical signed-field tuple an event ID covers.
// The ID and signature themselves are excluded; everything else that
// affects meaning is included. Encoded with Core Deterministic CBOR so
// the same logical event always produces the same bytes.
type idPreimage struct {
	_         struct{} `cbor:",toarray"`
	Author    ref.PublicKey
	CreatedAt int64
	Kind      int
	Tags      [][]string
	Content   string
}

// ComputeID computes the content-derived fingerprint for an event:
// keyed BLAKE3 over the deterministic encoding of the signed fields,
// rendered as 64 hex characters.
func ComputeID(r Raw) (ref.EventID, error) {
	tags := r.Tags
	if tags == nil {
		tags = [][]string{}
	}
	preimage, err := codec.Marshal(idPreimage{
		Author:    r.Author,
		CreatedAt: r.CreatedAt,
		Kind:      int(r.Kind),
		Tags:      tags,
		Content:   r.Content,
	})
	if err != nil {
		return ref.EventID{}, fmt.Errorf("event: encoding ID preimage: %w", err)
	}

	hasher, err := blake3.NewKeyed(idDomainKey[:])
	if err != nil {
		panic("event: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(preimage)

	return ref.ParseEventID(hex.EncodeToString(hasher.Sum(nil)))
}

// Verify checks the event's ed25519 signature: the author key must have
// signed the raw 32 bytes of the event ID. Returns nil on success.
func Verify(r Raw) error {
	authorBytes, err := hex.DecodeString(r.Author.String())
	if err != nil || len(authorBytes) != ed25519.PublicKeySize {
		return fmt.Errorf("event: author %s is not a valid signing key", r.Author.Short())
	}
	idBytes, err := hex.DecodeString(r.ID.String())
	if err != nil {
		return fmt.Errorf("event: decoding event ID: %w", err)
	}
	sigBytes, err := hex.DecodeString(r.Sig)
	if err != nil || len(sigBytes) != ed25519.SignatureSize {
		return fmt.Errorf("event: event %s carries a malformed signature", r.ID.String()[:8])
	}
	if !ed25519.Verify(ed25519.PublicKey(authorBytes), idBytes, sigBytes) {
		return fmt.Errorf("event: signature verification failed for event %s", r.ID.String()[:8])
	}
	return nil
}
