// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package dm

import (
	"github.com/driftwood-chat/driftwood/lib/ref"
)

// classify buckets one conversation. A conversation is known when the
// counterparty is followed, when the local identity has ever sent a
// message in it, or when the user explicitly accepted it with
// MarkAsResponded. Everything else is a request.
func (e *Engine) classify(conversation *conversation) Category {
	if conversation.isOutbound() {
		return CategoryKnown
	}
	e.mu.RLock()
	_, responded := e.responded[conversation.key]
	e.mu.RUnlock()
	if responded {
		return CategoryKnown
	}
	if e.trust.IsFollowed(conversation.key) {
		return CategoryKnown
	}
	return CategoryRequests
}

// MarkAsResponded reclassifies the conversation with key as known for
// the remainder of the session. Idempotent; never reverted, even when
// the trust graph would otherwise classify the counterparty as a
// request.
func (e *Engine) MarkAsResponded(key ref.PublicKey) error {
	if e.closed.Load() {
		return ErrClosed
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.responded[key] = struct{}{}
	return nil
}

// MarkRead resets the unread counter of the conversation with key.
// Unknown keys are a no-op.
func (e *Engine) MarkRead(key ref.PublicKey) error {
	if e.closed.Load() {
		return ErrClosed
	}
	e.mu.RLock()
	conversation := e.conversations[key]
	e.mu.RUnlock()
	if conversation != nil {
		conversation.markRead()
	}
	return nil
}
