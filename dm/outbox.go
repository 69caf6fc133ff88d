// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package dm

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/driftwood-chat/driftwood/event"
	"github.com/driftwood-chat/driftwood/lib/ref"
	"github.com/driftwood-chat/driftwood/protocol"
)

// PendingSend tracks one optimistic send from submission to its
// publish outcome. The placeholder message is already visible in the
// conversation when Send returns; PendingSend only answers whether the
// network accepted the event.
type PendingSend struct {
	// ID is the placeholder's locally generated event ID. It never
	// matches the ID of the eventual signed event.
	ID ref.EventID

	// Conversation is the counterparty the message was sent to.
	Conversation ref.PublicKey

	done chan struct{}
	err  error
}

// Done is closed when the publish attempt has finished, either way.
func (p *PendingSend) Done() <-chan struct{} { return p.done }

// Err returns the publish failure, or nil on success. Only valid
// after Done is closed.
func (p *PendingSend) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return fmt.Errorf("dm: send still in flight")
	}
}

// Wait blocks until the publish attempt finishes or ctx is cancelled.
func (p *PendingSend) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send submits a direct message to the counterparty over the given
// wire protocol. A pending placeholder appears in the conversation
// immediately and Send returns without waiting for the network; the
// publish runs in the background under ctx.
//
// When the signed event is later observed by ingestion, the
// placeholder is retired and the confirmed message takes its place.
// When the publish fails, the placeholder is removed, restoring the
// conversation's exact pre-send state, and the failure is reported
// through the returned PendingSend. Concurrent sends to the same
// conversation are tracked independently.
func (e *Engine) Send(ctx context.Context, key ref.PublicKey, plaintext string, proto protocol.Protocol) (*PendingSend, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if key.IsZero() {
		return nil, fmt.Errorf("dm: send requires a counterparty key")
	}

	var raw event.Raw
	var err error
	switch proto {
	case protocol.Plain:
		raw, err = e.builder.BuildPlain(key, plaintext)
	case protocol.Sealed:
		raw, err = e.builder.BuildSealed(key, plaintext)
	default:
		return nil, fmt.Errorf("dm: unsupported protocol %d", proto)
	}
	if err != nil {
		return nil, fmt.Errorf("dm: building outbound event: %w", err)
	}

	id, err := placeholderID()
	if err != nil {
		return nil, err
	}
	placeholder := protocol.Message{
		ID:              id,
		ConversationKey: key,
		Sender:          e.localKey,
		Timestamp:       e.clock.Now().Unix(),
		Plaintext:       plaintext,
		Source:          proto,
		Pending:         true,
	}
	state := e.conversationFor(key)
	state.addPending(placeholder)

	pending := &PendingSend{
		ID:           id,
		Conversation: key,
		done:         make(chan struct{}),
	}
	go func() {
		defer close(pending.done)
		if err := e.transport.Publish(ctx, raw); err != nil {
			state.removePending(id)
			pending.err = fmt.Errorf("dm: publishing message: %w", err)
			e.logger.Warn("publish failed, rolled back optimistic message",
				"conversation", key.Short(), "error", err)
			return
		}
		// Confirm from our own copy of the signed event. The live
		// subscription usually echoes it too; ingestion is
		// idempotent, so whichever arrives first wins and the other
		// is a no-op.
		if err := e.Ingest(raw); err != nil {
			e.logger.Debug("ingesting own published event", "error", err)
		}
	}()
	return pending, nil
}

// placeholderID generates a local event ID for an optimistic
// placeholder. Two UUIDs fill the 32-byte ID space; collision with a
// real event fingerprint is not a concern at these odds.
func placeholderID() (ref.EventID, error) {
	a, b := uuid.New(), uuid.New()
	raw := make([]byte, 0, 32)
	raw = append(raw, a[:]...)
	raw = append(raw, b[:]...)
	id, err := ref.ParseEventID(hex.EncodeToString(raw))
	if err != nil {
		return ref.EventID{}, fmt.Errorf("dm: generating placeholder ID: %w", err)
	}
	return id, nil
}
