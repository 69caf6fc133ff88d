// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package dm

import (
	"errors"

	"github.com/driftwood-chat/driftwood/lib/ref"
	"github.com/driftwood-chat/driftwood/protocol"
)

// ErrClosed reports a call on an engine whose Close has run. A closed
// engine has discarded its key-material-derived caches and accepts no
// further work.
var ErrClosed = errors.New("dm: engine is closed")

// Category partitions the conversation set for presentation.
type Category int

const (
	// CategoryKnown holds conversations with counterparties the user
	// recognizes: followed identities, anyone the user has messaged,
	// and requests the user explicitly accepted.
	CategoryKnown Category = iota + 1

	// CategoryRequests holds unsolicited conversations from
	// unrecognized counterparties. Ambiguity resolves here.
	CategoryRequests
)

// String returns the category name for logs.
func (c Category) String() string {
	switch c {
	case CategoryKnown:
		return "known"
	case CategoryRequests:
		return "requests"
	default:
		return "unknown"
	}
}

// TrustSource is the injected trust-graph membership capability. The
// engine never interprets follow semantics itself; it only asks.
// Implementations must be safe for concurrent use.
type TrustSource interface {
	// IsFollowed reports whether the local identity follows key.
	IsFollowed(key ref.PublicKey) bool

	// Followed enumerates the followed identities, for the
	// comprehensive discovery scan.
	Followed() []ref.PublicKey
}

// Conversation is the externally visible view of one counterparty's
// timeline. It is a point-in-time copy: mutating it has no effect on
// engine state. A conversation with zero messages is never visible.
type Conversation struct {
	// Key is the counterparty identity.
	Key ref.PublicKey

	// Messages is the merged timeline, confirmed messages plus
	// pending placeholders, in the engine's total order.
	Messages []protocol.Message

	// LastActivity is the newest message timestamp in the timeline.
	LastActivity int64

	// UnreadCount is the number of inbound messages observed since
	// the last MarkRead.
	UnreadCount int

	// HasPlain and HasSealed report which wire protocols have
	// carried messages in this conversation.
	HasPlain  bool
	HasSealed bool

	// Category is the classification at snapshot time.
	Category Category
}

// Progress reports the state of the comprehensive discovery scan.
type Progress struct {
	// Processed and Total count scan units (followed counterparties
	// plus one unit for the broader wrapper pass), so callers can
	// render a determinate indicator.
	Processed int
	Total     int

	// Scanning is true while a scan is in flight.
	Scanning bool
}

// messageLess is the engine's total order: ascending timestamp, with
// pending placeholders after confirmed messages at the same timestamp,
// and the event ID as the deterministic tie-break.
func messageLess(a, b protocol.Message) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	if a.Pending != b.Pending {
		return b.Pending
	}
	return a.ID.Less(b.ID)
}
