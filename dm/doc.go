// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

// Package dm is the direct message unification engine. It folds raw
// relay events from both wire protocols into a single per-counterparty
// conversation model: decrypting (with a memoized, single-flight
// cache), merging, ordering, deduplicating, paginating, and
// classifying.
//
// The engine is event-driven. Raw events arrive from live
// subscriptions and from paginated historical queries, interleaved and
// out of order, and are folded into conversation state via Ingest.
// Conversations are independent: each has its own lock, so distinct
// conversations update concurrently while mutation within one is
// serialized.
//
// Locally sent messages appear immediately as pending placeholders and
// are reconciled against the confirmed network event when it is later
// observed; a failed publish rolls the conversation back to its exact
// pre-send state.
//
// An Engine owns no persistent state. Snapshot and Restore move an
// opaque session cache blob whose schema is not a stable interface.
package dm
