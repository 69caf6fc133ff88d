// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// EventID is a validated event identifier: the 32-byte content-derived
// fingerprint of a signed relay event, encoded as 64 lowercase hex
// characters. Because the fingerprint covers the event's author, payload,
// timestamp, kind, and tags, two events with the same ID are the same
// event, and re-observation of an ID is the dedup signal for ingestion.
//
// EventID is an immutable value type. The zero value is not valid; use
// IsZero to check.
type EventID struct {
	id string
}

// ParseEventID validates and wraps a raw hex event ID string.
func ParseEventID(raw string) (EventID, error) {
	if raw == "" {
		return EventID{}, fmt.Errorf("empty event ID")
	}
	if len(raw) != 64 {
		return EventID{}, fmt.Errorf("event ID is %d characters, want 64: %q", len(raw), raw)
	}
	if !isLowerHex(raw) {
		return EventID{}, fmt.Errorf("event ID is not lowercase hex: %q", raw)
	}
	return EventID{id: raw}, nil
}

// MustParseEventID is like ParseEventID but panics on error. Use in tests
// and static initialization where the input is known-valid.
func MustParseEventID(raw string) EventID {
	e, err := ParseEventID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseEventID(%q): %v", raw, err))
	}
	return e
}

// String returns the 64-character hex form.
func (e EventID) String() string { return e.id }

// IsZero reports whether the EventID is the zero value (uninitialized).
func (e EventID) IsZero() bool { return e.id == "" }

// Less reports whether e orders before other lexicographically. Hex
// encoding preserves byte order, so this is a total order over IDs and
// serves as the deterministic tie-break for equal message timestamps.
func (e EventID) Less(other EventID) bool { return e.id < other.id }

// MarshalText implements encoding.TextMarshaler for JSON and other
// text-based serialization formats.
func (e EventID) MarshalText() ([]byte, error) {
	if e.id == "" {
		return nil, nil
	}
	return []byte(e.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Validates the ID
// format. An empty input produces the zero value (unset ID).
func (e *EventID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*e = EventID{}
		return nil
	}
	parsed, err := ParseEventID(string(data))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
