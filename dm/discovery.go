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

// Scan runs the comprehensive discovery pass: it walks the trust graph
// in batches looking for message history with each followed identity —
// plain messages in both directions, plus sealed wrappers addressed to
// them, which is the only relay handle on our own outbound sealed
// messages — then makes one broader pass for sealed wrappers addressed
// to the local identity (whose senders cannot be enumerated in
// advance). Discovered events merge into conversation state as each
// batch lands, so cancelling mid-scan keeps the partial results.
//
// Scan is best-effort and at most one runs at a time; a call while a
// scan is in flight returns immediately. Progress is observable
// through ScanProgress.
func (e *Engine) Scan(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}

	followed := e.trust.Followed()

	e.scanMu.Lock()
	if e.progress.Scanning {
		e.scanMu.Unlock()
		return nil
	}
	// One extra unit for the broader wrapper pass.
	e.progress = Progress{Total: len(followed) + 1, Scanning: true}
	e.scanMu.Unlock()
	defer e.finishScan()

	local := e.localKey.String()
	for start := 0; start < len(followed); start += e.batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := followed[start:min(start+e.batch, len(followed))]
		values := make([]string, len(batch))
		for i, key := range batch {
			values[i] = key.String()
		}
		filters := []relay.Filter{
			{
				Kinds:   []event.Kind{event.KindPlainMessage},
				Authors: batch,
				Tag:     relay.TagFilter{Name: event.TagRecipient, Values: []string{local}},
			},
			{
				Kinds:   []event.Kind{event.KindPlainMessage},
				Authors: []ref.PublicKey{e.localKey},
				Tag:     relay.TagFilter{Name: event.TagRecipient, Values: values},
			},
			{
				// Wrapper authors are throwaway keys, so outbound
				// sealed messages are only reachable through the
				// peer's recipient tag. This also pulls wrappers from
				// third parties to these peers; those fail to open and
				// land in the unattributable count.
				Kinds: []event.Kind{event.KindWrapper},
				Tag:   relay.TagFilter{Name: event.TagRecipient, Values: values},
			},
		}
		events, err := e.transport.Query(ctx, filters...)
		if err != nil {
			return fmt.Errorf("dm: scanning trust graph: %w", err)
		}
		if err := e.Ingest(events...); err != nil {
			return err
		}
		e.advanceScan(len(batch))
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	events, err := e.transport.Query(ctx, relay.Filter{
		Kinds: []event.Kind{event.KindWrapper},
		Tag:   relay.TagFilter{Name: event.TagRecipient, Values: []string{local}},
	})
	if err != nil {
		return fmt.Errorf("dm: scanning sealed wrappers: %w", err)
	}
	if err := e.Ingest(events...); err != nil {
		return err
	}
	e.advanceScan(1)
	return nil
}

// ScanProgress reports the state of the discovery scan. After a
// cancelled or failed scan the counts reflect how far it got.
func (e *Engine) ScanProgress() Progress {
	e.scanMu.Lock()
	defer e.scanMu.Unlock()
	return e.progress
}

func (e *Engine) advanceScan(units int) {
	e.scanMu.Lock()
	e.progress.Processed += units
	e.scanMu.Unlock()
}

func (e *Engine) finishScan() {
	e.scanMu.Lock()
	e.progress.Scanning = false
	e.scanMu.Unlock()
}
