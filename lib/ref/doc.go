// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated, immutable identifier value types for the
// relay network: public keys and event IDs.
//
// Both identifiers are 32 bytes rendered as 64 lowercase hex characters.
// The types validate on construction (ParsePublicKey, ParseEventID) and on
// deserialization (UnmarshalText), so any non-zero value held by the rest
// of the codebase is known-valid. The zero value is not valid; use IsZero
// to check.
//
// Identifiers are compared with ==. Event IDs additionally order
// lexicographically via EventID.Less, which the conversation model uses as
// a deterministic tie-break for equal timestamps.
package ref
