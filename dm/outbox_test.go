// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package dm_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/driftwood-chat/driftwood/dm"
	"github.com/driftwood-chat/driftwood/event"
	"github.com/driftwood-chat/driftwood/lib/ref"
	"github.com/driftwood-chat/driftwood/lib/testutil"
	"github.com/driftwood-chat/driftwood/protocol"
	"github.com/driftwood-chat/driftwood/relay"
)

func TestSendShowsPlaceholderImmediately(t *testing.T) {
	f := newFixture(t)

	pending, err := f.engine.Send(context.Background(), f.bob.PublicKey(), "optimistic", protocol.Plain)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	// The placeholder is visible before the publish completes.
	messages := f.engine.Messages(f.bob.PublicKey())
	if len(messages) != 1 {
		t.Fatalf("got %d messages right after Send, want 1 placeholder", len(messages))
	}
	if !messages[0].Pending {
		t.Error("placeholder is not marked pending")
	}
	if messages[0].Plaintext != "optimistic" {
		t.Errorf("placeholder plaintext = %q", messages[0].Plaintext)
	}
	if messages[0].ID != pending.ID {
		t.Error("placeholder ID does not match the PendingSend")
	}

	if err := pending.Wait(context.Background()); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	// Once confirmed, the placeholder is retired and exactly one
	// confirmed message remains.
	testutil.RequireEventually(t, 5*time.Second, func() bool {
		messages := f.engine.Messages(f.bob.PublicKey())
		return len(messages) == 1 && !messages[0].Pending
	}, "waiting for the placeholder to be confirmed")

	message := f.engine.Messages(f.bob.PublicKey())[0]
	if message.Sender != f.alice.PublicKey() {
		t.Errorf("confirmed sender = %s, want alice", message.Sender.Short())
	}
	if message.ID == pending.ID {
		t.Error("confirmed message still carries the placeholder ID")
	}
}

func TestSendSealedConfirms(t *testing.T) {
	f := newFixture(t)

	pending, err := f.engine.Send(context.Background(), f.bob.PublicKey(), "sealed send", protocol.Sealed)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := pending.Wait(context.Background()); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	testutil.RequireEventually(t, 5*time.Second, func() bool {
		messages := f.engine.Messages(f.bob.PublicKey())
		return len(messages) == 1 && !messages[0].Pending && messages[0].Source == protocol.Sealed
	}, "waiting for sealed confirmation")
}

func TestFailedPublishRollsBackExactly(t *testing.T) {
	f := newFixture(t)
	base := f.clock.Now().Unix()
	f.ingest(
		f.plainFrom(f.bob, f.alice.PublicKey(), "history one", base),
		f.plainFrom(f.bob, f.alice.PublicKey(), "history two", base+1),
	)
	before := f.engine.Messages(f.bob.PublicKey())

	injected := errors.New("relay rejected the event")
	f.memory.FailPublishes(injected)

	pending, err := f.engine.Send(context.Background(), f.bob.PublicKey(), "doomed", protocol.Plain)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := pending.Wait(context.Background()); !errors.Is(err, injected) {
		t.Fatalf("Wait = %v, want the injected publish error", err)
	}

	after := f.engine.Messages(f.bob.PublicKey())
	if !reflect.DeepEqual(before, after) {
		t.Errorf("rollback did not restore the pre-send state:\nbefore %v\nafter  %v",
			plaintexts(before), plaintexts(after))
	}
}

func TestFailedSendToNewCounterpartyLeavesNoConversation(t *testing.T) {
	f := newFixture(t)
	f.memory.FailPublishes(errors.New("offline"))

	pending, err := f.engine.Send(context.Background(), f.bob.PublicKey(), "first contact", protocol.Plain)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := pending.Wait(context.Background()); err == nil {
		t.Fatal("publish unexpectedly succeeded")
	}

	if messages := f.engine.Messages(f.bob.PublicKey()); len(messages) != 0 {
		t.Errorf("ghost messages after failed first send: %v", plaintexts(messages))
	}
	if known := f.engine.Conversations(dm.CategoryKnown); len(known) != 0 {
		t.Errorf("empty conversation is visible: %d known", len(known))
	}
}

func TestFailedSendDoesNotReclassifyRequest(t *testing.T) {
	f := newFixture(t)

	// An inbound message from an unfollowed counterparty lands under
	// requests.
	f.ingest(f.plainFrom(f.bob, f.alice.PublicKey(), "cold open", f.clock.Now().Unix()))
	if requests := f.engine.Conversations(dm.CategoryRequests); len(requests) != 1 {
		t.Fatalf("got %d requests before the send, want 1", len(requests))
	}

	f.memory.FailPublishes(errors.New("relay unreachable"))
	pending, err := f.engine.Send(context.Background(), f.bob.PublicKey(), "reply attempt", protocol.Plain)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := pending.Wait(context.Background()); err == nil {
		t.Fatal("publish unexpectedly succeeded")
	}

	// The rolled-back send never happened: the conversation stays a
	// request, because nothing was ever actually sent.
	if requests := f.engine.Conversations(dm.CategoryRequests); len(requests) != 1 {
		t.Errorf("got %d requests after the failed send, want 1", len(requests))
	}
	if known := f.engine.Conversations(dm.CategoryKnown); len(known) != 0 {
		t.Errorf("failed send reclassified the conversation: %d known, want 0", len(known))
	}
}

func TestPendingSendClassifiesKnownUntilRolledBack(t *testing.T) {
	blocking := &blockingTransport{
		Memory:  relay.NewMemory(),
		release: make(chan struct{}),
	}
	f := newFixture(t, func(options *dm.Options) {
		options.Transport = blocking
	})
	f.ingest(f.plainFrom(f.bob, f.alice.PublicKey(), "hello", f.clock.Now().Unix()))

	pending, err := f.engine.Send(context.Background(), f.bob.PublicKey(), "replying", protocol.Plain)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	// While the send is in flight the user has responded, so the
	// conversation reads as known.
	if known := f.engine.Conversations(dm.CategoryKnown); len(known) != 1 {
		t.Fatalf("got %d known with a send in flight, want 1", len(known))
	}

	close(blocking.release)
	if err := pending.Wait(context.Background()); err == nil {
		t.Fatal("held publish unexpectedly succeeded")
	}
	if requests := f.engine.Conversations(dm.CategoryRequests); len(requests) != 1 {
		t.Errorf("got %d requests after rollback, want 1", len(requests))
	}
}

func TestConcurrentSendsTrackedIndependently(t *testing.T) {
	f := newFixture(t)

	first, err := f.engine.Send(context.Background(), f.bob.PublicKey(), "one", protocol.Plain)
	if err != nil {
		t.Fatalf("first Send: %v", err)
	}
	second, err := f.engine.Send(context.Background(), f.bob.PublicKey(), "two", protocol.Plain)
	if err != nil {
		t.Fatalf("second Send: %v", err)
	}
	if first.ID == second.ID {
		t.Fatal("concurrent sends share a placeholder ID")
	}

	if err := first.Wait(context.Background()); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if err := second.Wait(context.Background()); err != nil {
		t.Fatalf("second publish: %v", err)
	}

	testutil.RequireEventually(t, 5*time.Second, func() bool {
		messages := f.engine.Messages(f.bob.PublicKey())
		if len(messages) != 2 {
			return false
		}
		return !messages[0].Pending && !messages[1].Pending
	}, "waiting for both sends to confirm")
}

// blockingTransport holds every Publish until release is closed, then
// fails it. It keeps a placeholder in its pending state for as long as
// the test needs.
type blockingTransport struct {
	*relay.Memory
	release chan struct{}
}

func (b *blockingTransport) Publish(ctx context.Context, raw event.Raw) error {
	<-b.release
	return errors.New("held publish failed")
}

func TestPendingSortsAfterConfirmedAtSameTimestamp(t *testing.T) {
	blocking := &blockingTransport{
		Memory:  relay.NewMemory(),
		release: make(chan struct{}),
	}
	f := newFixture(t, func(options *dm.Options) {
		options.Transport = blocking
	})
	at := f.clock.Now().Unix()

	pending, err := f.engine.Send(context.Background(), f.bob.PublicKey(), "pending entry", protocol.Plain)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	f.ingest(f.plainFrom(f.bob, f.alice.PublicKey(), "confirmed entry", at))

	messages := f.engine.Messages(f.bob.PublicKey())
	if len(messages) != 2 {
		t.Fatalf("got %d messages, want confirmed + pending", len(messages))
	}
	if messages[0].Plaintext != "confirmed entry" || !messages[1].Pending {
		t.Errorf("pending message does not sort after confirmed: %v", plaintexts(messages))
	}

	close(blocking.release)
	if err := pending.Wait(context.Background()); err == nil {
		t.Error("held publish unexpectedly succeeded")
	}
}

func TestSendRejectsZeroKeyAndUnknownProtocol(t *testing.T) {
	f := newFixture(t)

	if _, err := f.engine.Send(context.Background(), ref.PublicKey{}, "text", protocol.Plain); err == nil {
		t.Error("Send accepted a zero counterparty key")
	}
	if _, err := f.engine.Send(context.Background(), f.bob.PublicKey(), "text", protocol.Protocol(99)); err == nil {
		t.Error("Send accepted an unknown protocol")
	}
}
