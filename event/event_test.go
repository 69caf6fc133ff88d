// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/driftwood-chat/driftwood/lib/ref"
)

// newSignedEvent builds a valid signed event for tests and returns it
// with the private key used to sign it.
func newSignedEvent(t *testing.T, kind Kind, content string, tags [][]string) (Raw, ed25519.PrivateKey) {
	t.Helper()
	public, private, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	raw := Raw{
		Author:    ref.MustParsePublicKey(hex.EncodeToString(public)),
		CreatedAt: 1700000000,
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
	id, err := ComputeID(raw)
	if err != nil {
		t.Fatalf("ComputeID failed: %v", err)
	}
	raw.ID = id
	idBytes, _ := hex.DecodeString(id.String())
	raw.Sig = hex.EncodeToString(ed25519.Sign(private, idBytes))
	return raw, private
}

func TestComputeIDIsDeterministic(t *testing.T) {
	raw, _ := newSignedEvent(t, KindPlainMessage, "ciphertext", [][]string{{"p", strings.Repeat("ab", 32)}})
	again, err := ComputeID(raw)
	if err != nil {
		t.Fatalf("ComputeID failed: %v", err)
	}
	if again != raw.ID {
		t.Errorf("recomputed ID %s differs from original %s", again, raw.ID)
	}
}

func TestComputeIDCoversSignedFields(t *testing.T) {
	base, _ := newSignedEvent(t, KindPlainMessage, "hello", nil)

	mutations := map[string]func(Raw) Raw{
		"content":   func(r Raw) Raw { r.Content = "changed"; return r },
		"kind":      func(r Raw) Raw { r.Kind = KindWrapper; return r },
		"timestamp": func(r Raw) Raw { r.CreatedAt++; return r },
		"tags":      func(r Raw) Raw { r.Tags = [][]string{{"p", strings.Repeat("cd", 32)}}; return r },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			mutated, err := ComputeID(mutate(base))
			if err != nil {
				t.Fatalf("ComputeID failed: %v", err)
			}
			if mutated == base.ID {
				t.Errorf("mutating %s did not change the fingerprint", name)
			}
		})
	}

	// nil and empty tag lists are the same logical event.
	withNil := base
	withNil.Tags = nil
	withEmpty := base
	withEmpty.Tags = [][]string{}
	idNil, _ := ComputeID(withNil)
	idEmpty, _ := ComputeID(withEmpty)
	if idNil != idEmpty {
		t.Error("nil tags and empty tags fingerprint differently")
	}
}

func TestValidate(t *testing.T) {
	valid, _ := newSignedEvent(t, KindPlainMessage, "x", nil)
	if err := Validate(valid); err != nil {
		t.Fatalf("Validate rejected a valid event: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(Raw) Raw
	}{
		{"missing author", func(r Raw) Raw { r.Author = ref.PublicKey{}; return r }},
		{"missing ID", func(r Raw) Raw { r.ID = ref.EventID{}; return r }},
		{"zero timestamp", func(r Raw) Raw { r.CreatedAt = 0; return r }},
		{"empty tag", func(r Raw) Raw { r.Tags = [][]string{{}}; return r }},
		{"tampered content", func(r Raw) Raw { r.Content = "tampered"; return r }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := Validate(test.mutate(valid))
			if err == nil {
				t.Fatal("Validate accepted a malformed event")
			}
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("error %v does not wrap ErrMalformed", err)
			}
		})
	}
}

func TestVerify(t *testing.T) {
	raw, _ := newSignedEvent(t, KindPlainMessage, "x", nil)
	if err := Verify(raw); err != nil {
		t.Fatalf("Verify rejected a correctly signed event: %v", err)
	}

	forged := raw
	forged.Sig = strings.Repeat("00", ed25519.SignatureSize)
	if err := Verify(forged); err == nil {
		t.Error("Verify accepted a forged signature")
	}

	truncated := raw
	truncated.Sig = "abcd"
	if err := Verify(truncated); err == nil {
		t.Error("Verify accepted a truncated signature")
	}
}

func TestTagValue(t *testing.T) {
	recipient := strings.Repeat("ef", 32)
	raw := Raw{Tags: [][]string{
		{"e", "someevent"},
		{"p", recipient},
		{"p", strings.Repeat("00", 32)},
	}}
	if got := raw.TagValue("p"); got != recipient {
		t.Errorf("TagValue(p) = %q, want first p tag %q", got, recipient)
	}
	if got := raw.TagValue("missing"); got != "" {
		t.Errorf("TagValue(missing) = %q, want empty", got)
	}
	if got := raw.Recipient(); got.String() != recipient {
		t.Errorf("Recipient() = %s, want %s", got, recipient)
	}
	if got := (Raw{}).Recipient(); !got.IsZero() {
		t.Errorf("Recipient() on untagged event = %s, want zero", got)
	}
}
