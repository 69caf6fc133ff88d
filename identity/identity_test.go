// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"strings"
	"testing"

	"github.com/driftwood-chat/driftwood/event"
	"github.com/driftwood-chat/driftwood/lib/ref"
)

// newPair generates two identities that know each other's cards.
func newPair(t *testing.T) (*Local, *Local) {
	t.Helper()
	alice, err := Generate()
	if err != nil {
		t.Fatalf("generating alice: %v", err)
	}
	t.Cleanup(func() { alice.Close() })
	bob, err := Generate()
	if err != nil {
		t.Fatalf("generating bob: %v", err)
	}
	t.Cleanup(func() { bob.Close() })

	if err := alice.AddPeer(bob.Card()); err != nil {
		t.Fatalf("alice.AddPeer: %v", err)
	}
	if err := bob.AddPeer(alice.Card()); err != nil {
		t.Fatalf("bob.AddPeer: %v", err)
	}
	return alice, bob
}

func TestPlainRoundTripBothDirections(t *testing.T) {
	alice, bob := newPair(t)

	ciphertext, err := alice.EncryptPlain(bob.PublicKey(), []byte("hello bob"))
	if err != nil {
		t.Fatalf("EncryptPlain failed: %v", err)
	}
	if strings.Contains(ciphertext, "hello bob") {
		t.Fatal("ciphertext contains the plaintext")
	}

	// The recipient decrypts with the sender as peer.
	plaintext, err := bob.DecryptPlain(alice.PublicKey(), ciphertext)
	if err != nil {
		t.Fatalf("recipient DecryptPlain failed: %v", err)
	}
	if string(plaintext) != "hello bob" {
		t.Errorf("plaintext = %q, want %q", plaintext, "hello bob")
	}

	// The sender decrypts its own outbound message with the recipient
	// as peer (the box shared secret is symmetric).
	plaintext, err = alice.DecryptPlain(bob.PublicKey(), ciphertext)
	if err != nil {
		t.Fatalf("sender DecryptPlain failed: %v", err)
	}
	if string(plaintext) != "hello bob" {
		t.Errorf("plaintext = %q, want %q", plaintext, "hello bob")
	}
}

func TestPlainRejectsTampering(t *testing.T) {
	alice, bob := newPair(t)
	ciphertext, err := alice.EncryptPlain(bob.PublicKey(), []byte("payload"))
	if err != nil {
		t.Fatalf("EncryptPlain failed: %v", err)
	}
	tampered := "A" + ciphertext[1:]
	if _, err := bob.DecryptPlain(alice.PublicKey(), tampered); err == nil {
		t.Error("DecryptPlain accepted tampered ciphertext")
	}
}

func TestSealRoundTrip(t *testing.T) {
	alice, bob := newPair(t)

	sealed, err := alice.Seal(bob.PublicKey(), []byte("sealed payload"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	plaintext, err := bob.OpenSeal(sealed)
	if err != nil {
		t.Fatalf("recipient OpenSeal failed: %v", err)
	}
	if string(plaintext) != "sealed payload" {
		t.Errorf("plaintext = %q, want %q", plaintext, "sealed payload")
	}

	// The sender can open its own seal (self-addressed copy).
	plaintext, err = alice.OpenSeal(sealed)
	if err != nil {
		t.Fatalf("sender OpenSeal failed: %v", err)
	}
	if string(plaintext) != "sealed payload" {
		t.Errorf("plaintext = %q, want %q", plaintext, "sealed payload")
	}
}

func TestSealUnreadableByThirdParty(t *testing.T) {
	alice, bob := newPair(t)
	eve, err := Generate()
	if err != nil {
		t.Fatalf("generating eve: %v", err)
	}
	t.Cleanup(func() { eve.Close() })

	sealed, err := alice.Seal(bob.PublicKey(), []byte("private"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if _, err := eve.OpenSeal(sealed); err == nil {
		t.Error("a third party opened a seal not addressed to it")
	}
}

func TestUnknownPeerFails(t *testing.T) {
	alice, err := Generate()
	if err != nil {
		t.Fatalf("generating alice: %v", err)
	}
	t.Cleanup(func() { alice.Close() })

	stranger := ref.MustParsePublicKey(strings.Repeat("ab", 32))
	if _, err := alice.EncryptPlain(stranger, []byte("x")); err == nil {
		t.Error("EncryptPlain to an unknown peer succeeded")
	}
	if _, err := alice.Seal(stranger, []byte("x")); err == nil {
		t.Error("Seal to an unknown peer succeeded")
	}
}

func TestLoadReconstructsIdentity(t *testing.T) {
	original, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	seedHex := original.ExportSigningSeed()
	sealKey := original.ExportSealKey()

	restored, err := Load(seedHex, sealKey)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	t.Cleanup(func() { restored.Close() })

	if restored.PublicKey() != original.PublicKey() {
		t.Error("restored identity has a different public key")
	}
	if restored.Card() != original.Card() {
		t.Errorf("restored card %+v differs from original %+v", restored.Card(), original.Card())
	}
	original.Close()
}

func TestSignVerifies(t *testing.T) {
	alice, _ := newPair(t)
	raw := event.Raw{
		Author:    alice.PublicKey(),
		CreatedAt: 1700000000,
		Kind:      event.KindPlainMessage,
		Content:   "ciphertext",
	}
	id, err := event.ComputeID(raw)
	if err != nil {
		t.Fatalf("ComputeID failed: %v", err)
	}
	raw.ID = id
	raw.Sig, err = alice.Sign(id)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if err := event.Verify(raw); err != nil {
		t.Errorf("Verify rejected a signature from Sign: %v", err)
	}
}

func TestCardProfileRoundTrip(t *testing.T) {
	alice, _ := newPair(t)

	content, err := ProfileContent(alice.Card())
	if err != nil {
		t.Fatalf("ProfileContent failed: %v", err)
	}
	raw := event.Raw{
		Author:    alice.PublicKey(),
		CreatedAt: 1700000000,
		Kind:      event.KindProfile,
		Content:   content,
	}
	card, err := CardFromProfile(raw)
	if err != nil {
		t.Fatalf("CardFromProfile failed: %v", err)
	}
	if card != alice.Card() {
		t.Errorf("card = %+v, want %+v", card, alice.Card())
	}

	// A profile asserting keys for somebody else is rejected.
	bobAuthored := raw
	bobAuthored.Author = ref.MustParsePublicKey(strings.Repeat("cd", 32))
	if _, err := CardFromProfile(bobAuthored); err == nil {
		t.Error("CardFromProfile accepted a card whose identity differs from the event author")
	}
}

func TestAddPeerValidatesCard(t *testing.T) {
	alice, bob := newPair(t)

	bad := bob.Card()
	bad.DMKey = "zz"
	if err := alice.AddPeer(bad); err == nil {
		t.Error("AddPeer accepted an invalid dm key")
	}

	bad = bob.Card()
	bad.SealKey = "not-an-age-key"
	if err := alice.AddPeer(bad); err == nil {
		t.Error("AddPeer accepted an invalid seal key")
	}

	bad = bob.Card()
	bad.Identity = ref.PublicKey{}
	if err := alice.AddPeer(bad); err == nil {
		t.Error("AddPeer accepted a card with no identity")
	}
}
