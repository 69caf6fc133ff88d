// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package dm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/driftwood-chat/driftwood/event"
	"github.com/driftwood-chat/driftwood/lib/clock"
	"github.com/driftwood-chat/driftwood/lib/ref"
	"github.com/driftwood-chat/driftwood/protocol"
	"github.com/driftwood-chat/driftwood/relay"
)

const (
	// defaultPageSize is the historical backfill page size when the
	// caller does not configure one.
	defaultPageSize = 50

	// defaultScanBatchSize is the number of counterparties queried
	// per batch during the comprehensive discovery scan.
	defaultScanBatchSize = 16

	// defaultCorrelationWindow bounds how far a confirmed event's
	// timestamp may drift from its optimistic placeholder and still
	// confirm it.
	defaultCorrelationWindow = 5 * time.Minute
)

// Options configures an Engine. Identity, Transport, and Trust are
// required; everything else has a default.
type Options struct {
	// Identity is the local identity's crypto capability
	// (identity.Local in production).
	Identity protocol.Capability

	// Transport is the relay query/subscribe/publish capability.
	Transport relay.Transport

	// Trust is the trust-graph membership test.
	Trust TrustSource

	// Clock supplies time for placeholder timestamps and outbound
	// events. Nil means the real clock.
	Clock clock.Clock

	// Logger receives engine diagnostics. Nil means slog.Default().
	Logger *slog.Logger

	// PageSize overrides the backfill page size. Zero uses the
	// default.
	PageSize int

	// ScanBatchSize overrides the discovery scan batch size. Zero
	// uses the default.
	ScanBatchSize int

	// CorrelationWindow overrides the placeholder correlation
	// window. Zero uses the default.
	CorrelationWindow time.Duration
}

// Engine is the direct message unification engine. All methods are
// safe for concurrent use.
type Engine struct {
	capability protocol.Capability
	transport  relay.Transport
	trust      TrustSource
	clock      clock.Clock
	logger     *slog.Logger

	localKey ref.PublicKey
	pageSize int
	batch    int
	window   time.Duration

	builder *protocol.Builder
	cache   *decryptionCache

	mu            sync.RWMutex
	conversations map[ref.PublicKey]*conversation
	responded     map[ref.PublicKey]struct{}

	// unattributable counts sealed wrappers whose outer layer could
	// not be opened. They belong to no conversation; the count is
	// the only trace they leave.
	unattributable int

	scanMu   sync.Mutex
	progress Progress

	closed atomic.Bool
}

// New creates an Engine for the given identity and transport. The
// engine starts empty; feed it with Ingest, Subscribe, Scan, and
// LoadOlder.
func New(options Options) (*Engine, error) {
	if options.Identity == nil {
		return nil, fmt.Errorf("dm: Options.Identity is required")
	}
	if options.Transport == nil {
		return nil, fmt.Errorf("dm: Options.Transport is required")
	}
	if options.Trust == nil {
		return nil, fmt.Errorf("dm: Options.Trust is required")
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pageSize := options.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	batch := options.ScanBatchSize
	if batch <= 0 {
		batch = defaultScanBatchSize
	}
	window := options.CorrelationWindow
	if window <= 0 {
		window = defaultCorrelationWindow
	}
	return &Engine{
		capability:    options.Identity,
		transport:     options.Transport,
		trust:         options.Trust,
		clock:         clk,
		logger:        logger,
		localKey:      options.Identity.PublicKey(),
		pageSize:      pageSize,
		batch:         batch,
		window:        window,
		builder:       protocol.NewBuilder(options.Identity, clk),
		cache:         newDecryptionCache(protocol.NewDecoder(options.Identity)),
		conversations: make(map[ref.PublicKey]*conversation),
		responded:     make(map[ref.PublicKey]struct{}),
	}, nil
}

// Ingest folds raw events into conversation state. Batches and single
// events have identical merge semantics, and re-ingesting the same
// events is a no-op. One bad event never blocks the rest: malformed
// events are dropped, non-DM kinds are skipped, unattributable sealed
// wrappers are counted, and decryption failures become unreadable
// placeholders that keep their slot in the timeline.
func (e *Engine) Ingest(events ...event.Raw) error {
	if e.closed.Load() {
		return ErrClosed
	}
	for _, raw := range events {
		message, err := e.cache.decode(raw)
		switch {
		case err == nil:
		case errors.Is(err, protocol.ErrNotDirectMessage):
			continue
		case errors.Is(err, event.ErrMalformed):
			e.logger.Debug("dropping malformed event", "id", raw.ID, "error", err)
			continue
		case errors.Is(err, protocol.ErrNoConversation):
			e.mu.Lock()
			e.unattributable++
			e.mu.Unlock()
			e.logger.Debug("sealed event is unattributable", "error", err)
			continue
		default:
			e.logger.Warn("decoding event", "id", raw.ID, "error", err)
			continue
		}
		e.conversationFor(message.ConversationKey).insert(e.localKey, message, e.window)
	}
	return nil
}

// Conversations returns the conversations in the given category,
// newest activity first. Each element is an independent snapshot.
func (e *Engine) Conversations(category Category) []Conversation {
	e.mu.RLock()
	states := make([]*conversation, 0, len(e.conversations))
	for _, state := range e.conversations {
		states = append(states, state)
	}
	e.mu.RUnlock()

	var views []Conversation
	for _, state := range states {
		view, visible := state.view()
		if !visible {
			continue
		}
		view.Category = e.classify(state)
		if view.Category != category {
			continue
		}
		views = append(views, view)
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].LastActivity != views[j].LastActivity {
			return views[i].LastActivity > views[j].LastActivity
		}
		return views[i].Key.String() < views[j].Key.String()
	})
	return views
}

// Messages returns the merged timeline for the conversation with key,
// oldest first, or nil when no such conversation is visible.
func (e *Engine) Messages(key ref.PublicKey) []protocol.Message {
	e.mu.RLock()
	state := e.conversations[key]
	e.mu.RUnlock()
	if state == nil {
		return nil
	}
	view, visible := state.view()
	if !visible {
		return nil
	}
	return view.Messages
}

// UnattributableCount reports how many sealed wrappers could not be
// opened and therefore belong to no conversation.
func (e *Engine) UnattributableCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.unattributable
}

// Subscribe runs the live ingestion loop: it opens a transport
// subscription for direct message events involving the local identity
// and folds arriving events into conversation state until ctx is
// cancelled or the subscription terminates. It blocks; run it in its
// own goroutine.
func (e *Engine) Subscribe(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}
	local := e.localKey.String()
	filters := []relay.Filter{
		{
			Kinds: []event.Kind{event.KindPlainMessage, event.KindWrapper},
			Tag:   relay.TagFilter{Name: event.TagRecipient, Values: []string{local}},
		},
		{
			Kinds:   []event.Kind{event.KindPlainMessage},
			Authors: []ref.PublicKey{e.localKey},
		},
	}
	events, stop, err := e.transport.Subscribe(ctx, filters...)
	if err != nil {
		return fmt.Errorf("dm: subscribing to direct messages: %w", err)
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-events:
			if !ok {
				// Cancellation may close the subscription channel
				// before this select observes ctx.Done.
				return ctx.Err()
			}
			if err := e.Ingest(raw); err != nil {
				return err
			}
		}
	}
}

// Close shuts the engine down: memoized plaintexts are discarded and
// all further calls fail with ErrClosed. Close is idempotent. It does
// not close the injected identity or transport; the engine does not
// own them.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.cache.clear()
	return nil
}

// conversationFor returns the state for key, creating it on first use.
func (e *Engine) conversationFor(key ref.PublicKey) *conversation {
	e.mu.RLock()
	state := e.conversations[key]
	e.mu.RUnlock()
	if state != nil {
		return state
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if state := e.conversations[key]; state != nil {
		return state
	}
	state = newConversation(key)
	e.conversations[key] = state
	return state
}
