// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/driftwood-chat/driftwood/event"
	"github.com/driftwood-chat/driftwood/lib/ref"
)

// messagePayload is the innermost plaintext record of a sealed message.
type messagePayload struct {
	Body string `json:"body"`
}

// Decoder turns raw relay events into normalized Messages using an
// injected crypto capability. Stateless; safe for concurrent use if the
// capability is.
type Decoder struct {
	capability Capability
}

// NewDecoder creates a Decoder bound to the given capability.
func NewDecoder(capability Capability) *Decoder {
	return &Decoder{capability: capability}
}

// Decode normalizes one direct message event.
//
// Decryption and inner-parse failures are not errors: they produce an
// Unreadable Message that still carries its ID, timestamp, protocol,
// and conversation key, so the engine can keep its slot in the
// timeline. Decode returns an error only when no timeline entry can
// exist at all: the kind is not a direct message (ErrNotDirectMessage),
// the event is structurally malformed (event.ErrMalformed), or a sealed
// wrapper cannot be opened and therefore cannot be attributed to any
// conversation (ErrNoConversation).
func (d *Decoder) Decode(raw event.Raw) (Message, error) {
	if !IsDirectMessage(raw.Kind) {
		return Message{}, fmt.Errorf("%w: kind %d", ErrNotDirectMessage, raw.Kind)
	}
	if err := event.Validate(raw); err != nil {
		return Message{}, err
	}

	switch raw.Kind {
	case event.KindPlainMessage:
		return d.decodePlain(raw)
	default:
		return d.decodeSealed(raw)
	}
}

// decodePlain handles Protocol A: one decryption with the counterparty,
// which is resolved from the event envelope before any cryptography.
func (d *Decoder) decodePlain(raw event.Raw) (Message, error) {
	counterparty, err := d.resolveCounterparty(raw.Author, raw.Recipient())
	if err != nil {
		// The envelope names no usable counterparty; without one the
		// message cannot join a conversation, so the event is
		// malformed rather than unreadable.
		return Message{}, fmt.Errorf("%w: %v", event.ErrMalformed, err)
	}

	message := Message{
		ID:              raw.ID,
		ConversationKey: counterparty,
		Sender:          raw.Author,
		Timestamp:       raw.CreatedAt,
		Source:          Plain,
		Raw:             raw,
	}

	plaintext, err := d.capability.DecryptPlain(counterparty, raw.Content)
	if err != nil {
		message.Unreadable = true
		message.FailureReason = err.Error()
		return message, nil
	}
	message.Plaintext = string(plaintext)
	return message, nil
}

// decodeSealed handles Protocol B: open the outer wrapper, parse and
// check the inner sealed record, open the inner layer, parse the
// payload. The wrapper's author and timestamp are discarded — they are
// privacy noise by design. Identity, conversation key, and timestamp
// come only from the inner sealed record.
func (d *Decoder) decodeSealed(raw event.Raw) (Message, error) {
	sealedJSON, err := d.capability.OpenSeal(raw.Content)
	if err != nil {
		// Without the inner record there is no counterparty to file
		// this under. Surface it as unattributable.
		return Message{}, fmt.Errorf("%w: event %s: %v", ErrNoConversation, raw.ID.String()[:8], err)
	}

	var sealed event.Raw
	if err := json.Unmarshal(sealedJSON, &sealed); err != nil {
		return Message{}, fmt.Errorf("%w: event %s: parsing sealed record: %v", ErrNoConversation, raw.ID.String()[:8], err)
	}
	if sealed.Kind != event.KindSealed {
		return Message{}, fmt.Errorf("%w: event %s embeds kind %d, want %d", ErrNoConversation, raw.ID.String()[:8], sealed.Kind, event.KindSealed)
	}
	if err := event.Validate(sealed); err != nil {
		return Message{}, fmt.Errorf("%w: event %s: %v", ErrNoConversation, raw.ID.String()[:8], err)
	}

	// The sealed record is signed by the real sender. A wrapper
	// embedding a record it cannot prove was written by its claimed
	// author is an impersonation attempt, not a decrypt failure.
	if err := event.Verify(sealed); err != nil {
		return Message{}, fmt.Errorf("%w: event %s: %v", ErrNoConversation, raw.ID.String()[:8], err)
	}

	message := Message{
		// The sealed record's ID identifies the message: the outer
		// wrapper ID differs per addressed copy of the same message,
		// and dedup must treat those copies as one.
		ID:        sealed.ID,
		Sender:    sealed.Author,
		Timestamp: sealed.CreatedAt,
		Source:    Sealed,
		Raw:       raw,
	}

	counterparty, err := d.resolveCounterparty(sealed.Author, sealed.Recipient())
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", event.ErrMalformed, err)
	}
	message.ConversationKey = counterparty

	payloadJSON, err := d.capability.OpenSeal(sealed.Content)
	if err != nil {
		message.Unreadable = true
		message.FailureReason = err.Error()
		return message, nil
	}
	var payload messagePayload
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		message.Unreadable = true
		message.FailureReason = fmt.Sprintf("parsing message payload: %v", err)
		return message, nil
	}
	message.Plaintext = payload.Body
	return message, nil
}

// resolveCounterparty returns the other party of a two-party message:
// the tagged recipient when the local identity authored it, the sender
// otherwise. Both directions of a conversation resolve to the same key.
func (d *Decoder) resolveCounterparty(sender, recipient ref.PublicKey) (ref.PublicKey, error) {
	if sender == d.capability.PublicKey() {
		if recipient.IsZero() {
			return ref.PublicKey{}, fmt.Errorf("outbound message carries no recipient tag")
		}
		return recipient, nil
	}
	return sender, nil
}
