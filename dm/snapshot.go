// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package dm

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/pierrec/lz4/v4"

	"github.com/driftwood-chat/driftwood/event"
	"github.com/driftwood-chat/driftwood/lib/codec"
	"github.com/driftwood-chat/driftwood/lib/ref"
	"github.com/driftwood-chat/driftwood/protocol"
)

// Snapshot blob layout: one version byte, one compression tag byte,
// a big-endian uint32 uncompressed size, then the (possibly
// compressed) deterministic CBOR body. The schema is a session cache
// format, not a stable interface; Restore rejects versions it does not
// know.
const snapshotVersion = 1

const (
	compressionNone byte = 0
	compressionLZ4  byte = 1
)

// snapshotState is the CBOR body of a snapshot. Keys and IDs travel as
// their canonical hex strings; the observed raw event travels as its
// JSON encoding. Pending sends are transient and deliberately not
// captured.
type snapshotState struct {
	Conversations  []conversationRecord `cbor:"conversations"`
	Responded      []string             `cbor:"responded,omitempty"`
	Unattributable int                  `cbor:"unattributable,omitempty"`
}

type conversationRecord struct {
	Key      string          `cbor:"key"`
	Messages []messageRecord `cbor:"messages"`
	Unread   int             `cbor:"unread,omitempty"`
	HasMore  bool            `cbor:"has_more"`
	Outbound bool            `cbor:"outbound,omitempty"`
}

type messageRecord struct {
	ID         string `cbor:"id"`
	Sender     string `cbor:"sender"`
	Timestamp  int64  `cbor:"timestamp"`
	Plaintext  string `cbor:"plaintext,omitempty"`
	Unreadable bool   `cbor:"unreadable,omitempty"`
	Reason     string `cbor:"reason,omitempty"`
	Source     int    `cbor:"source"`
	Raw        []byte `cbor:"raw,omitempty"`
}

// Snapshot serializes the confirmed conversation state into an opaque
// blob the host application may persist and later hand to Restore.
// Decryption results ride along in plaintext form, so the blob is as
// sensitive as the messages it contains; storing it encrypted is the
// host's problem.
func (e *Engine) Snapshot() ([]byte, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}

	e.mu.RLock()
	states := make([]*conversation, 0, len(e.conversations))
	for _, state := range e.conversations {
		states = append(states, state)
	}
	body := snapshotState{Unattributable: e.unattributable}
	for key := range e.responded {
		body.Responded = append(body.Responded, key.String())
	}
	e.mu.RUnlock()

	for _, state := range states {
		record, ok, err := snapshotConversation(state)
		if err != nil {
			return nil, err
		}
		if ok {
			body.Conversations = append(body.Conversations, record)
		}
	}

	encoded, err := codec.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("dm: encoding snapshot: %w", err)
	}
	if len(encoded) > math.MaxUint32 {
		return nil, fmt.Errorf("dm: snapshot body of %d bytes exceeds format limit", len(encoded))
	}

	blob := make([]byte, 6, 6+len(encoded))
	blob[0] = snapshotVersion
	binary.BigEndian.PutUint32(blob[2:6], uint32(len(encoded)))

	bound := lz4.CompressBlockBound(len(encoded))
	compressed := make([]byte, bound)
	written, err := lz4.CompressBlock(encoded, compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("dm: compressing snapshot: %w", err)
	}
	if written == 0 || written >= len(encoded) {
		// Incompressible; store the body as-is.
		blob[1] = compressionNone
		return append(blob, encoded...), nil
	}
	blob[1] = compressionLZ4
	return append(blob, compressed[:written]...), nil
}

// Restore replaces the engine's conversation state with the contents
// of a blob produced by Snapshot. Live-session state (in-flight
// backfills and pending sends) must not exist when Restore runs;
// restore at startup, before ingestion begins.
func (e *Engine) Restore(blob []byte) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if len(blob) < 6 {
		return fmt.Errorf("dm: snapshot blob of %d bytes is truncated", len(blob))
	}
	if blob[0] != snapshotVersion {
		return fmt.Errorf("dm: unsupported snapshot version %d", blob[0])
	}
	size := int(binary.BigEndian.Uint32(blob[2:6]))
	payload := blob[6:]

	var encoded []byte
	switch blob[1] {
	case compressionNone:
		if len(payload) != size {
			return fmt.Errorf("dm: snapshot body is %d bytes, header says %d", len(payload), size)
		}
		encoded = payload
	case compressionLZ4:
		encoded = make([]byte, size)
		read, err := lz4.UncompressBlock(payload, encoded)
		if err != nil {
			return fmt.Errorf("dm: decompressing snapshot: %w", err)
		}
		if read != size {
			return fmt.Errorf("dm: snapshot decompressed to %d bytes, header says %d", read, size)
		}
	default:
		return fmt.Errorf("dm: unknown snapshot compression tag %d", blob[1])
	}

	var body snapshotState
	if err := codec.Unmarshal(encoded, &body); err != nil {
		return fmt.Errorf("dm: decoding snapshot: %w", err)
	}

	conversations := make(map[ref.PublicKey]*conversation, len(body.Conversations))
	for _, record := range body.Conversations {
		state, err := e.restoreConversation(record)
		if err != nil {
			return err
		}
		conversations[state.key] = state
	}
	responded := make(map[ref.PublicKey]struct{}, len(body.Responded))
	for _, raw := range body.Responded {
		key, err := ref.ParsePublicKey(raw)
		if err != nil {
			return fmt.Errorf("dm: snapshot responded set: %w", err)
		}
		responded[key] = struct{}{}
	}

	e.mu.Lock()
	e.conversations = conversations
	e.responded = responded
	e.unattributable = body.Unattributable
	e.mu.Unlock()
	return nil
}

func snapshotConversation(state *conversation) (conversationRecord, bool, error) {
	state.mu.Lock()
	defer state.mu.Unlock()
	if len(state.messages) == 0 {
		return conversationRecord{}, false, nil
	}
	record := conversationRecord{
		Key:      state.key.String(),
		Messages: make([]messageRecord, 0, len(state.messages)),
		Unread:   state.unread,
		HasMore:  state.hasMore,
		Outbound: state.outbound,
	}
	for _, message := range state.messages {
		entry := messageRecord{
			ID:         message.ID.String(),
			Sender:     message.Sender.String(),
			Timestamp:  message.Timestamp,
			Plaintext:  message.Plaintext,
			Unreadable: message.Unreadable,
			Reason:     message.FailureReason,
			Source:     int(message.Source),
		}
		if !message.Raw.ID.IsZero() {
			raw, err := json.Marshal(message.Raw)
			if err != nil {
				return conversationRecord{}, false, fmt.Errorf("dm: encoding observed event %s: %w", message.Raw.ID, err)
			}
			entry.Raw = raw
		}
		record.Messages = append(record.Messages, entry)
	}
	return record, true, nil
}

func (e *Engine) restoreConversation(record conversationRecord) (*conversation, error) {
	key, err := ref.ParsePublicKey(record.Key)
	if err != nil {
		return nil, fmt.Errorf("dm: snapshot conversation key: %w", err)
	}
	state := newConversation(key)
	for _, entry := range record.Messages {
		id, err := ref.ParseEventID(entry.ID)
		if err != nil {
			return nil, fmt.Errorf("dm: snapshot message ID: %w", err)
		}
		sender, err := ref.ParsePublicKey(entry.Sender)
		if err != nil {
			return nil, fmt.Errorf("dm: snapshot message sender: %w", err)
		}
		message := protocol.Message{
			ID:              id,
			ConversationKey: key,
			Sender:          sender,
			Timestamp:       entry.Timestamp,
			Plaintext:       entry.Plaintext,
			Unreadable:      entry.Unreadable,
			FailureReason:   entry.Reason,
			Source:          protocol.Protocol(entry.Source),
		}
		if len(entry.Raw) > 0 {
			var raw event.Raw
			if err := json.Unmarshal(entry.Raw, &raw); err != nil {
				return nil, fmt.Errorf("dm: snapshot observed event: %w", err)
			}
			message.Raw = raw
		}
		state.insert(e.localKey, message, e.window)
	}
	// insert recomputed these from scratch; the snapshot's values are
	// the ones observed during the captured session.
	state.mu.Lock()
	state.unread = record.Unread
	state.hasMore = record.HasMore
	state.outbound = state.outbound || record.Outbound
	state.mu.Unlock()
	return state, nil
}
