// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package dm_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/driftwood-chat/driftwood/dm"
	"github.com/driftwood-chat/driftwood/event"
	"github.com/driftwood-chat/driftwood/relay"
)

// seedHistory stores count plain messages from bob to alice on the
// relay, one second apart, ending at the given Unix time. Returns the
// events newest-first.
func seedHistory(f *fixture, count int, newest int64) []event.Raw {
	f.t.Helper()
	events := make([]event.Raw, count)
	for i := 0; i < count; i++ {
		at := newest - int64(i)
		events[i] = f.plainFrom(f.bob, f.alice.PublicKey(), fmt.Sprintf("history %d", at), at)
	}
	f.memory.Seed(events...)
	return events
}

func TestLoadOlderExtendsBackward(t *testing.T) {
	f := newFixture(t, func(options *dm.Options) {
		options.PageSize = 10
	})
	newest := f.clock.Now().Unix()
	seedHistory(f, 30, newest)

	// Live ingestion delivered only the newest message.
	f.ingest(f.plainFrom(f.bob, f.alice.PublicKey(), "live newest", newest+1))

	if err := f.engine.LoadOlder(context.Background(), f.bob.PublicKey()); err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}

	// The page requests pageSize+1 events (the extra one probes for
	// more history) and merges everything returned.
	messages := f.engine.Messages(f.bob.PublicKey())
	if len(messages) != 12 {
		t.Fatalf("got %d messages after one page, want 12", len(messages))
	}
	// The page holds strictly older messages; the newest stays last.
	if messages[len(messages)-1].Plaintext != "live newest" {
		t.Error("backfill page introduced messages in front of the loaded timeline")
	}
	for i := 1; i < len(messages); i++ {
		if messages[i-1].Timestamp > messages[i].Timestamp {
			t.Fatal("timeline not sorted after backfill")
		}
	}
	if !f.engine.HasMore(f.bob.PublicKey()) {
		t.Error("HasMore = false with 19 messages still on the relay")
	}
}

func TestExactFinalPageClearsHasMore(t *testing.T) {
	f := newFixture(t, func(options *dm.Options) {
		options.PageSize = 20
	})
	newest := f.clock.Now().Unix()
	seedHistory(f, 20, newest)

	// The anchor message, already loaded; exactly 20 remain below it.
	f.ingest(f.plainFrom(f.bob, f.alice.PublicKey(), "anchor", newest+1))

	if err := f.engine.LoadOlder(context.Background(), f.bob.PublicKey()); err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}
	if got := len(f.engine.Messages(f.bob.PublicKey())); got != 21 {
		t.Fatalf("got %d messages, want 21", got)
	}
	if f.engine.HasMore(f.bob.PublicKey()) {
		t.Error("HasMore = true after the source returned its final page")
	}

	// Exhausted history is not re-fetched.
	queriesBefore := f.transport.queries.Load()
	if err := f.engine.LoadOlder(context.Background(), f.bob.PublicKey()); err != nil {
		t.Fatalf("second LoadOlder: %v", err)
	}
	if f.transport.queries.Load() != queriesBefore {
		t.Error("LoadOlder queried the relay again after exhaustion")
	}
}

func TestLoadOlderUnknownConversationFails(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.LoadOlder(context.Background(), f.bob.PublicKey()); err == nil {
		t.Error("LoadOlder accepted a conversation that does not exist")
	}
}

func TestLoadingOlderObservable(t *testing.T) {
	f := newFixture(t)
	if f.engine.LoadingOlder(f.bob.PublicKey()) {
		t.Error("LoadingOlder = true for an unknown conversation")
	}
	if f.engine.HasMore(f.bob.PublicKey()) {
		t.Error("HasMore = true for an unknown conversation")
	}

	f.ingest(f.plainFrom(f.bob, f.alice.PublicKey(), "seed", f.clock.Now().Unix()))
	if f.engine.LoadingOlder(f.bob.PublicKey()) {
		t.Error("LoadingOlder = true with no page in flight")
	}
	if !f.engine.HasMore(f.bob.PublicKey()) {
		t.Error("HasMore = false before any backfill page ran")
	}
}

// replayTransport answers every query with the same fixed page,
// simulating a source whose results never advance past events the
// engine has already ingested.
type replayTransport struct {
	*relay.Memory
	page    []event.Raw
	queries atomic.Int64
}

func (r *replayTransport) Query(ctx context.Context, filters ...relay.Filter) ([]event.Raw, error) {
	r.queries.Add(1)
	return r.page, nil
}

func TestFullPageOfDuplicatesStopsBackfill(t *testing.T) {
	replay := &replayTransport{Memory: relay.NewMemory()}
	f := newFixture(t, func(options *dm.Options) {
		options.PageSize = 2
		options.Transport = replay
	})
	base := f.clock.Now().Unix()
	history := []event.Raw{
		f.plainFrom(f.bob, f.alice.PublicKey(), "one", base),
		f.plainFrom(f.bob, f.alice.PublicKey(), "two", base+1),
		f.plainFrom(f.bob, f.alice.PublicKey(), "three", base+2),
	}
	f.ingest(history...)
	// A full pageSize+1 page of events the engine has already seen:
	// the anchor cannot move, so backfill must not loop forever.
	replay.page = history

	if err := f.engine.LoadOlder(context.Background(), f.bob.PublicKey()); err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}
	if f.engine.HasMore(f.bob.PublicKey()) {
		t.Error("HasMore = true after a full page inserted nothing")
	}

	queriesBefore := replay.queries.Load()
	if err := f.engine.LoadOlder(context.Background(), f.bob.PublicKey()); err != nil {
		t.Fatalf("second LoadOlder: %v", err)
	}
	if replay.queries.Load() != queriesBefore {
		t.Error("LoadOlder re-fetched an identical page after making no progress")
	}
}

func TestLoadOlderMergesSealedHistory(t *testing.T) {
	f := newFixture(t, func(options *dm.Options) {
		options.PageSize = 10
	})
	newest := f.clock.Now().Unix()

	// The sealed message sits well in the past: its wrapper timestamp
	// is randomized around the true send time, and it must still fall
	// under the page's upper bound.
	f.memory.Seed(
		f.plainFrom(f.bob, f.alice.PublicKey(), "old plain", newest-7200),
		f.sealedFrom(f.bob, f.alice.PublicKey(), "old sealed", newest-3600),
	)
	f.ingest(f.plainFrom(f.bob, f.alice.PublicKey(), "anchor", newest))

	if err := f.engine.LoadOlder(context.Background(), f.bob.PublicKey()); err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}

	messages := f.engine.Messages(f.bob.PublicKey())
	want := []string{"old plain", "old sealed", "anchor"}
	got := plaintexts(messages)
	if len(got) != len(want) {
		t.Fatalf("timeline = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("timeline = %v, want %v", got, want)
		}
	}
}
