// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package dm

import (
	"context"
	"fmt"

	"github.com/driftwood-chat/driftwood/event"
	"github.com/driftwood-chat/driftwood/lib/ref"
	"github.com/driftwood-chat/driftwood/relay"
)

// LoadOlder fetches one page of history older than the oldest loaded
// message of the conversation with key and merges it. Pages only
// extend the timeline backward: the query's upper bound is one second
// before the current oldest confirmed message, so a page can never
// introduce messages in front of what is already loaded.
//
// LoadOlder is a no-op while a page for the same conversation is
// already in flight, and once the source has confirmed there is no
// more history (HasMore is false). Distinct conversations backfill
// concurrently.
func (e *Engine) LoadOlder(ctx context.Context, key ref.PublicKey) error {
	if e.closed.Load() {
		return ErrClosed
	}
	e.mu.RLock()
	state := e.conversations[key]
	e.mu.RUnlock()
	if state == nil {
		return fmt.Errorf("dm: no conversation with %s", key.Short())
	}

	until, ok := e.beginBackfill(state)
	if !ok {
		return nil
	}
	defer e.endBackfill(state)

	// Request one event beyond the page size. A full page plus the
	// probe means more history exists; anything shorter means the
	// source is exhausted and HasMore flips off for good.
	limit := e.pageSize + 1
	local := e.localKey.String()
	peer := key.String()
	filters := []relay.Filter{
		{
			Kinds:   []event.Kind{event.KindPlainMessage},
			Authors: []ref.PublicKey{e.localKey, key},
			Tag:     relay.TagFilter{Name: event.TagRecipient, Values: []string{local, peer}},
			Until:   until,
			Limit:   limit,
		},
		{
			// Wrapper authors are throwaway keys, so the only handle
			// on sealed history is the recipient tag. The wrapper
			// timestamp is randomized near the true send time, which
			// makes Until approximate here; the merge's dedup and
			// ordering absorb the slack.
			Kinds: []event.Kind{event.KindWrapper},
			Tag:   relay.TagFilter{Name: event.TagRecipient, Values: []string{local, peer}},
			Until: until,
			Limit: limit,
		},
	}

	events, err := e.transport.Query(ctx, filters...)
	if err != nil {
		return fmt.Errorf("dm: loading older messages for %s: %w", key.Short(), err)
	}
	before := state.confirmedCount()
	if err := e.Ingest(events...); err != nil {
		return err
	}

	// A short page means the source is exhausted. A full page that
	// inserted nothing (everything already seen, typically after a
	// comprehensive scan) means the anchor cannot move: the next page
	// would be identical, so treat the history as exhausted too.
	if len(events) <= e.pageSize || state.confirmedCount() == before {
		state.mu.Lock()
		state.hasMore = false
		state.mu.Unlock()
	}
	return nil
}

// beginBackfill claims the conversation's backfill slot and computes
// the page's upper time bound. It reports false when a page is already
// in flight, history is exhausted, or there is no confirmed message to
// anchor the page on.
func (e *Engine) beginBackfill(state *conversation) (until int64, ok bool) {
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.loadingOlder || !state.hasMore {
		return 0, false
	}
	if len(state.messages) == 0 {
		// Nothing confirmed to anchor on; the initial load path
		// (Scan or Subscribe) populates the newest messages first.
		return 0, false
	}
	state.loadingOlder = true
	return state.messages[0].Timestamp - 1, true
}

func (e *Engine) endBackfill(state *conversation) {
	state.mu.Lock()
	state.loadingOlder = false
	state.mu.Unlock()
}

// HasMore reports whether older history may remain for the
// conversation with key. It stays true until a backfill page comes
// back short, which is the source confirming exhaustion.
func (e *Engine) HasMore(key ref.PublicKey) bool {
	e.mu.RLock()
	state := e.conversations[key]
	e.mu.RUnlock()
	if state == nil {
		return false
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.hasMore
}

// LoadingOlder reports whether a backfill page for the conversation
// with key is in flight.
func (e *Engine) LoadingOlder(key ref.PublicKey) bool {
	e.mu.RLock()
	state := e.conversations[key]
	e.mu.RUnlock()
	if state == nil {
		return false
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.loadingOlder
}
