// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay defines the transport boundary between the message
// engine and the relay network: filtered historical queries, live
// subscriptions, and publishing. The engine only ever sees this
// interface; the network implementation is injected by the host
// application. Memory is the in-process implementation used by tests
// and offline tooling.
package relay

import (
	"context"

	"github.com/driftwood-chat/driftwood/event"
	"github.com/driftwood-chat/driftwood/lib/ref"
)

// Filter selects events. All set fields must match (AND); a zero field
// matches everything. A query or subscription carrying several filters
// matches events satisfying any of them (OR).
type Filter struct {
	// Kinds restricts the event kinds.
	Kinds []event.Kind

	// Authors restricts the event author keys.
	Authors []ref.PublicKey

	// Tag restricts by tag: the event must carry a tag with this name
	// whose value is one of Values. Name "" disables the restriction.
	Tag TagFilter

	// Since and Until bound CreatedAt inclusively. Zero means
	// unbounded on that side.
	Since int64
	Until int64

	// Limit caps the number of results, newest first. Zero means no
	// explicit cap. Only meaningful for queries.
	Limit int
}

// TagFilter matches events carrying a tag with the given name and one
// of the given values.
type TagFilter struct {
	Name   string
	Values []string
}

// Matches reports whether the filter accepts the event.
func (f Filter) Matches(raw event.Raw) bool {
	if len(f.Kinds) > 0 && !containsKind(f.Kinds, raw.Kind) {
		return false
	}
	if len(f.Authors) > 0 && !containsKey(f.Authors, raw.Author) {
		return false
	}
	if f.Since != 0 && raw.CreatedAt < f.Since {
		return false
	}
	if f.Until != 0 && raw.CreatedAt > f.Until {
		return false
	}
	if f.Tag.Name != "" {
		value := raw.TagValue(f.Tag.Name)
		if value == "" || !containsString(f.Tag.Values, value) {
			return false
		}
	}
	return true
}

// MatchesAny reports whether any of the filters accepts the event. An
// empty filter list matches nothing — a subscription to nothing
// receives nothing.
func MatchesAny(filters []Filter, raw event.Raw) bool {
	for _, filter := range filters {
		if filter.Matches(raw) {
			return true
		}
	}
	return false
}

// Transport is the injected relay capability.
type Transport interface {
	// Query returns stored events matching any filter, sorted by
	// CreatedAt descending with event ID as the tie-break, capped at
	// the largest Limit among the filters that carry one.
	Query(ctx context.Context, filters ...Filter) ([]event.Raw, error)

	// Subscribe delivers future events matching any filter until the
	// context is cancelled or the returned stop function is called.
	// The channel is closed on termination.
	Subscribe(ctx context.Context, filters ...Filter) (<-chan event.Raw, func(), error)

	// Publish submits a signed event to the network. A nil return is
	// the relay's acknowledgment.
	Publish(ctx context.Context, raw event.Raw) error
}

func containsKind(kinds []event.Kind, kind event.Kind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func containsKey(keys []ref.PublicKey, key ref.PublicKey) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

func containsString(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
