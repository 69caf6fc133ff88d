// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package dm

import (
	"sort"
	"sync"
	"time"

	"github.com/driftwood-chat/driftwood/lib/ref"
	"github.com/driftwood-chat/driftwood/protocol"
)

// conversation is the engine-internal state for one counterparty.
// Each conversation has its own lock: distinct conversations mutate
// concurrently, mutation within one is serialized.
//
// Confirmed messages and pending placeholders live in separate
// collections. The confirmed timeline is the durable model; pending
// sends are a small overlay reconciled by correlation when the signed
// event comes back from the network. Keeping them apart makes rollback
// exact: removing a placeholder restores the pre-send view
// byte for byte.
type conversation struct {
	mu  sync.Mutex
	key ref.PublicKey

	messages []protocol.Message        // confirmed, sorted by messageLess
	seen     map[ref.EventID]struct{}  // confirmed IDs, for idempotent merge
	pending  []protocol.Message        // optimistic overlay, insertion order

	unread       int
	lastActivity int64
	hasPlain     bool
	hasSealed    bool

	// outbound records that the local identity has sent a confirmed
	// message here, which classifies the conversation as known. Only
	// the confirmed insert path sets it: a pending placeholder counts
	// while it exists, but a rolled-back send must leave no trace.
	outbound bool

	// backfill state
	loadingOlder bool
	hasMore      bool
}

func newConversation(key ref.PublicKey) *conversation {
	return &conversation{
		key:     key,
		seen:    make(map[ref.EventID]struct{}),
		hasMore: true,
	}
}

// insert merges one confirmed message into the timeline. Re-inserting
// an already-seen ID is a no-op, so ingestion is idempotent. A
// confirmed outbound message additionally retires the pending
// placeholder it confirms, when one correlates.
func (c *conversation) insert(local ref.PublicKey, message protocol.Message, window time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[message.ID]; ok {
		return false
	}
	c.seen[message.ID] = struct{}{}

	if message.Sender == local {
		c.outbound = true
		c.retirePendingLocked(message, window)
	} else {
		c.unread++
	}

	switch message.Source {
	case protocol.Plain:
		c.hasPlain = true
	case protocol.Sealed:
		c.hasSealed = true
	}

	index := sort.Search(len(c.messages), func(i int) bool {
		return messageLess(message, c.messages[i])
	})
	c.messages = append(c.messages, protocol.Message{})
	copy(c.messages[index+1:], c.messages[index:])
	c.messages[index] = message

	if message.Timestamp > c.lastActivity {
		c.lastActivity = message.Timestamp
	}
	return true
}

// addPending records an optimistic placeholder. The caller owns ID
// uniqueness (placeholder IDs are locally generated).
func (c *conversation) addPending(placeholder protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, placeholder)
}

// removePending deletes the placeholder with the given ID, reverting
// the conversation to its pre-send state. It reports whether the
// placeholder was still present (a confirmed event may have retired it
// first).
func (c *conversation) removePending(id ref.EventID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, placeholder := range c.pending {
		if placeholder.ID == id {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return true
		}
	}
	return false
}

// retirePendingLocked removes the first placeholder the confirmed
// message plausibly confirms. The placeholder's local ID can never
// match the signed event's ID, so correlation is by protocol, content,
// and timestamp proximity — best effort by construction.
func (c *conversation) retirePendingLocked(confirmed protocol.Message, window time.Duration) {
	for i, placeholder := range c.pending {
		if placeholder.Source != confirmed.Source {
			continue
		}
		if placeholder.Plaintext != confirmed.Plaintext {
			continue
		}
		delta := confirmed.Timestamp - placeholder.Timestamp
		if delta < 0 {
			delta = -delta
		}
		if time.Duration(delta)*time.Second > window {
			continue
		}
		c.pending = append(c.pending[:i], c.pending[i+1:]...)
		return
	}
}

// view renders the externally visible snapshot: confirmed messages
// merged with the pending overlay in the engine's total order. Returns
// a zero-value view and false when the conversation holds no messages
// at all (such conversations are invisible).
func (c *conversation) view() (Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := len(c.messages) + len(c.pending)
	if total == 0 {
		return Conversation{}, false
	}

	merged := make([]protocol.Message, 0, total)
	merged = append(merged, c.messages...)
	merged = append(merged, c.pending...)
	sort.SliceStable(merged, func(i, j int) bool {
		return messageLess(merged[i], merged[j])
	})

	view := Conversation{
		Key:          c.key,
		Messages:     merged,
		LastActivity: c.lastActivity,
		UnreadCount:  c.unread,
		HasPlain:     c.hasPlain,
		HasSealed:    c.hasSealed,
	}
	for _, placeholder := range c.pending {
		if placeholder.Timestamp > view.LastActivity {
			view.LastActivity = placeholder.Timestamp
		}
	}
	return view, true
}

// isOutbound reports whether the local identity has a confirmed or
// in-flight message here. Pending placeholders are always local sends,
// so their presence counts; once the publish fails and the placeholder
// is removed, the conversation reverts to its pre-send classification.
func (c *conversation) isOutbound() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outbound || len(c.pending) > 0
}

// markRead resets the unread counter.
func (c *conversation) markRead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unread = 0
}

// confirmedCount returns the number of confirmed messages.
func (c *conversation) confirmedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// oldestConfirmed returns the timestamp of the oldest confirmed
// message, and false when there is none.
func (c *conversation) oldestConfirmed() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		return 0, false
	}
	return c.messages[0].Timestamp, true
}
