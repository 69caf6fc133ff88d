// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol is the codec between raw relay events and the
// engine's normalized message form, for both direct message wire
// protocols:
//
//   - Plain (Protocol A, legacy): single-layer shared-secret encryption
//     between exactly two keys. The event kind marks it as a direct
//     message and the recipient is visible in a tag, so relays can see
//     who talks to whom even though the content is encrypted.
//
//   - Sealed (Protocol B): double-wrapped. An inner sealed record
//     (KindSealed, signed by the real sender, carrying the real
//     timestamp) is encrypted and embedded as the content of an outer
//     wrapper (KindWrapper) whose author is a throwaway ephemeral key
//     and whose timestamp is randomized. Relay observers learn the
//     recipient but not the sender or the send time.
//
// The protocol of an event is resolved exactly once, from its kind, at
// decode time; nothing downstream re-inspects tags to guess protocols.
//
// Decoding is stateless and pure: the same raw event always decodes to
// the same Message, which is what makes decryption results cacheable.
package protocol

import (
	"errors"

	"github.com/driftwood-chat/driftwood/event"
	"github.com/driftwood-chat/driftwood/lib/ref"
)

// Protocol identifies which wire protocol carried a direct message.
type Protocol int

const (
	// Plain is the legacy single-layer protocol (Protocol A).
	Plain Protocol = iota + 1
	// Sealed is the two-layer metadata-hiding protocol (Protocol B).
	Sealed
)

// String returns the protocol name for logs.
func (p Protocol) String() string {
	switch p {
	case Plain:
		return "plain"
	case Sealed:
		return "sealed"
	default:
		return "unknown"
	}
}

// ErrNotDirectMessage reports an event whose kind belongs to neither
// direct message protocol. Such events are simply not the codec's
// business; callers route them elsewhere or drop them.
var ErrNotDirectMessage = errors.New("protocol: not a direct message event")

// ErrNoConversation reports a sealed event whose outer layer could not
// be opened, leaving no way to attribute it to a counterparty. The
// engine counts these but cannot place them in any timeline.
var ErrNoConversation = errors.New("protocol: undecryptable wrapper has no resolvable conversation")

// Capability is the identity-bound cryptographic capability the codec
// consumes. identity.Local is the production implementation; tests may
// substitute fakes. All methods must be safe for concurrent use.
type Capability interface {
	// PublicKey returns the local identity's network key.
	PublicKey() ref.PublicKey

	// EncryptPlain and DecryptPlain implement the Protocol A
	// shared-secret scheme with the given peer. Decryption works for
	// both directions of a conversation with that peer.
	EncryptPlain(peer ref.PublicKey, plaintext []byte) (string, error)
	DecryptPlain(peer ref.PublicKey, ciphertext string) ([]byte, error)

	// Seal encrypts a Protocol B layer readable by the peer and by the
	// local identity; OpenSeal decrypts a layer addressed to the local
	// identity.
	Seal(peer ref.PublicKey, plaintext []byte) (string, error)
	OpenSeal(ciphertext string) ([]byte, error)

	// Sign signs the raw bytes of an event ID, returning the hex
	// signature.
	Sign(id ref.EventID) (string, error)
}

// Message is the engine-internal canonical form of a direct message,
// protocol-agnostic. Created once per decoded event and never mutated
// afterward; the engine sets Pending only on locally synthesized
// placeholders that were never decoded from the wire.
type Message struct {
	// ID is the event fingerprint for confirmed messages, or a
	// locally generated placeholder ID for pending ones.
	ID ref.EventID

	// ConversationKey is the counterparty: the sender for inbound
	// messages, the tagged recipient for outbound ones.
	ConversationKey ref.PublicKey

	// Sender is the message author's identity key. For sealed
	// messages this is the inner record's author, never the
	// ephemeral wrapper key.
	Sender ref.PublicKey

	// Timestamp is the author-asserted Unix time in seconds. For
	// sealed messages it comes from the inner record; the wrapper's
	// randomized timestamp is discarded.
	Timestamp int64

	// Plaintext is the decrypted message body. Empty when Unreadable.
	Plaintext string

	// Unreadable marks a message whose decryption or parsing failed.
	// It still occupies its slot in the timeline so ordering and
	// activity signals survive; FailureReason says why, opaquely.
	Unreadable    bool
	FailureReason string

	// Source is the wire protocol that carried the message.
	Source Protocol

	// Raw is the observed network event, retained for diagnostics.
	// Zero-valued for pending placeholders.
	Raw event.Raw

	// Pending marks a locally sent message not yet confirmed by the
	// network. Pending messages sort after confirmed messages with
	// the same timestamp.
	Pending bool
}

// IsDirectMessage reports whether an event kind belongs to one of the
// two direct message protocols.
func IsDirectMessage(kind event.Kind) bool {
	return kind == event.KindPlainMessage || kind == event.KindWrapper
}
