// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/driftwood-chat/driftwood/event"
	"github.com/driftwood-chat/driftwood/lib/clock"
	"github.com/driftwood-chat/driftwood/lib/ref"
)

// wrapperSkewSeconds bounds the random shift applied to a wrapper's
// timestamp, in both directions. The true send time lives only in the
// inner sealed record; the wrapper timestamp exists so relays have
// something plausible to index without learning anything.
const wrapperSkewSeconds = 900

// Builder constructs signed, ready-to-publish direct message events.
type Builder struct {
	capability Capability
	clock      clock.Clock
}

// NewBuilder creates a Builder. A nil clock uses the real one.
func NewBuilder(capability Capability, clk clock.Clock) *Builder {
	if clk == nil {
		clk = clock.Real()
	}
	return &Builder{capability: capability, clock: clk}
}

// BuildPlain builds a Protocol A message to the recipient: encrypted
// content, visible recipient tag, authored and signed by the local
// identity.
func (b *Builder) BuildPlain(recipient ref.PublicKey, plaintext string) (event.Raw, error) {
	ciphertext, err := b.capability.EncryptPlain(recipient, []byte(plaintext))
	if err != nil {
		return event.Raw{}, fmt.Errorf("protocol: encrypting plain message: %w", err)
	}

	raw := event.Raw{
		Author:    b.capability.PublicKey(),
		CreatedAt: b.clock.Now().Unix(),
		Kind:      event.KindPlainMessage,
		Tags:      [][]string{{event.TagRecipient, recipient.String()}},
		Content:   ciphertext,
	}
	return b.finalize(raw)
}

// BuildSealed builds a Protocol B message to the recipient. Layering,
// inside out:
//
//  1. the plaintext payload, JSON-encoded
//  2. a sealed record (KindSealed): authored and signed by the local
//     identity, carrying the true timestamp and the recipient tag,
//     content = encrypted payload
//  3. a wrapper (KindWrapper): authored and signed by a throwaway
//     ephemeral key generated here and discarded, timestamp randomly
//     skewed, content = encrypted sealed record
//
// Both encryption layers are readable by the recipient and by the
// local identity, so the sender's own client can unwrap the message
// when a relay echoes it back.
func (b *Builder) BuildSealed(recipient ref.PublicKey, plaintext string) (event.Raw, error) {
	payloadJSON, err := json.Marshal(messagePayload{Body: plaintext})
	if err != nil {
		return event.Raw{}, fmt.Errorf("protocol: encoding payload: %w", err)
	}
	innerCiphertext, err := b.capability.Seal(recipient, payloadJSON)
	if err != nil {
		return event.Raw{}, fmt.Errorf("protocol: sealing payload: %w", err)
	}

	sealed := event.Raw{
		Author:    b.capability.PublicKey(),
		CreatedAt: b.clock.Now().Unix(),
		Kind:      event.KindSealed,
		Tags:      [][]string{{event.TagRecipient, recipient.String()}},
		Content:   innerCiphertext,
	}
	sealed, err = b.finalize(sealed)
	if err != nil {
		return event.Raw{}, err
	}

	sealedJSON, err := json.Marshal(sealed)
	if err != nil {
		return event.Raw{}, fmt.Errorf("protocol: encoding sealed record: %w", err)
	}
	outerCiphertext, err := b.capability.Seal(recipient, sealedJSON)
	if err != nil {
		return event.Raw{}, fmt.Errorf("protocol: sealing wrapper: %w", err)
	}

	skew, err := randomSkew()
	if err != nil {
		return event.Raw{}, err
	}
	wrapper := event.Raw{
		CreatedAt: b.clock.Now().Unix() + skew,
		Kind:      event.KindWrapper,
		Tags:      [][]string{{event.TagRecipient, recipient.String()}},
		Content:   outerCiphertext,
	}
	return signEphemeral(wrapper)
}

// finalize computes the event ID and signs with the local identity.
func (b *Builder) finalize(raw event.Raw) (event.Raw, error) {
	id, err := event.ComputeID(raw)
	if err != nil {
		return event.Raw{}, fmt.Errorf("protocol: fingerprinting event: %w", err)
	}
	raw.ID = id
	sig, err := b.capability.Sign(id)
	if err != nil {
		return event.Raw{}, fmt.Errorf("protocol: signing event: %w", err)
	}
	raw.Sig = sig
	return raw, nil
}

// signEphemeral authors and signs a wrapper with a keypair generated
// for this single event. The private key goes out of scope immediately;
// nobody, including the sender, can ever sign as this author again.
func signEphemeral(raw event.Raw) (event.Raw, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return event.Raw{}, fmt.Errorf("protocol: generating ephemeral key: %w", err)
	}
	raw.Author, err = ref.ParsePublicKey(hex.EncodeToString(public))
	if err != nil {
		return event.Raw{}, fmt.Errorf("protocol: formatting ephemeral key: %w", err)
	}

	id, err := event.ComputeID(raw)
	if err != nil {
		return event.Raw{}, fmt.Errorf("protocol: fingerprinting wrapper: %w", err)
	}
	raw.ID = id
	idBytes, err := hex.DecodeString(id.String())
	if err != nil {
		return event.Raw{}, fmt.Errorf("protocol: decoding wrapper ID: %w", err)
	}
	raw.Sig = hex.EncodeToString(ed25519.Sign(private, idBytes))
	return raw, nil
}

// randomSkew draws a uniform offset in [-wrapperSkewSeconds,
// +wrapperSkewSeconds] from the system entropy source.
func randomSkew() (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(2*wrapperSkewSeconds+1))
	if err != nil {
		return 0, fmt.Errorf("protocol: reading skew entropy: %w", err)
	}
	return n.Int64() - wrapperSkewSeconds, nil
}
