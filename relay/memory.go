// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"sort"
	"sync"

	"github.com/driftwood-chat/driftwood/event"
	"github.com/driftwood-chat/driftwood/lib/ref"
)

// Compile-time interface check.
var _ Transport = (*Memory)(nil)

// Memory is an in-process Transport for tests and offline tooling. It
// stores published events, answers filtered queries from the store, and
// fans published events out to live subscribers.
//
// Publish failures can be injected with FailPublishes to exercise
// optimistic-send rollback paths.
type Memory struct {
	mu          sync.Mutex
	events      []event.Raw
	seen        map[ref.EventID]bool
	subscribers map[int]*memorySubscriber
	nextID      int
	publishErr  error
}

type memorySubscriber struct {
	filters []Filter
	ch      chan event.Raw
	done    chan struct{}
}

// NewMemory creates an empty in-process relay.
func NewMemory() *Memory {
	return &Memory{
		seen:        make(map[ref.EventID]bool),
		subscribers: make(map[int]*memorySubscriber),
	}
}

// Seed stores events without treating them as a local publish: no
// acknowledgment semantics, no injected failures. Use it to lay down
// pre-existing history in tests.
func (m *Memory) Seed(events ...event.Raw) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, raw := range events {
		m.storeLocked(raw)
	}
}

// FailPublishes makes every subsequent Publish return err. Pass nil to
// restore normal operation.
func (m *Memory) FailPublishes(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishErr = err
}

// Publish stores the event and delivers it to matching subscribers.
func (m *Memory) Publish(_ context.Context, raw event.Raw) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishErr != nil {
		return m.publishErr
	}
	m.storeLocked(raw)

	for _, subscriber := range m.subscribers {
		if !MatchesAny(subscriber.filters, raw) {
			continue
		}
		// Non-blocking: a subscriber that stopped draining loses
		// events rather than wedging publishers, mirroring how a
		// real relay drops slow consumers.
		select {
		case subscriber.ch <- raw:
		default:
		}
	}
	return nil
}

// Query returns stored events matching any filter, newest first with
// the event ID as a deterministic tie-break, capped at the largest
// Limit among the filters.
func (m *Memory) Query(_ context.Context, filters ...Filter) ([]event.Raw, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []event.Raw
	for _, raw := range m.events {
		if MatchesAny(filters, raw) {
			matched = append(matched, raw)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt != matched[j].CreatedAt {
			return matched[i].CreatedAt > matched[j].CreatedAt
		}
		return matched[j].ID.Less(matched[i].ID)
	})

	limit := 0
	for _, filter := range filters {
		if filter.Limit > limit {
			limit = filter.Limit
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Subscribe registers a live subscriber. The returned stop function is
// idempotent; cancelling ctx also terminates the subscription.
func (m *Memory) Subscribe(ctx context.Context, filters ...Filter) (<-chan event.Raw, func(), error) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	subscriber := &memorySubscriber{
		filters: filters,
		ch:      make(chan event.Raw, 64),
		done:    make(chan struct{}),
	}
	m.subscribers[id] = subscriber
	m.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subscribers, id)
			m.mu.Unlock()
			close(subscriber.done)
			close(subscriber.ch)
		})
	}

	// The watcher exits on ctx cancellation or an explicit stop,
	// whichever comes first; it must not outlive the subscription.
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-subscriber.done:
		}
	}()

	return subscriber.ch, stop, nil
}

// Subscribers returns the number of live subscriptions. Tests use it
// to wait for a background pump to register before publishing.
func (m *Memory) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscribers)
}

// Len returns the number of stored events.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// storeLocked appends an event if its ID has not been seen. Relays are
// content-addressed: re-publishing the same event is a no-op.
func (m *Memory) storeLocked(raw event.Raw) {
	if m.seen[raw.ID] {
		return
	}
	m.seen[raw.ID] = true
	m.events = append(m.events, raw)
}
