// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package dm

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/driftwood-chat/driftwood/event"
	"github.com/driftwood-chat/driftwood/protocol"
)

// decryptionCache memoizes decode results by event ID. Event content
// is immutable and decoding is pure, so a result — success, unreadable
// placeholder, or hard error — is stable for the life of the session
// and cacheable indefinitely.
//
// Concurrent callers asking for the same ID share one decryption pass:
// the same event routinely arrives twice, from a live subscription and
// from a backfill page, and sealed events cost two asymmetric
// decryptions each.
type decryptionCache struct {
	decoder *protocol.Decoder
	group   singleflight.Group

	mu      sync.RWMutex
	results map[string]cacheEntry
}

type cacheEntry struct {
	message protocol.Message
	err     error
}

func newDecryptionCache(decoder *protocol.Decoder) *decryptionCache {
	return &decryptionCache{
		decoder: decoder,
		results: make(map[string]cacheEntry),
	}
}

// decode returns the cached decode result for raw, performing the
// decryption at most once per event ID.
func (c *decryptionCache) decode(raw event.Raw) (protocol.Message, error) {
	if raw.ID.IsZero() {
		// No identity to memoize under. Decode directly; validation
		// rejects the event anyway.
		return c.decoder.Decode(raw)
	}
	key := raw.ID.String()

	c.mu.RLock()
	entry, ok := c.results[key]
	c.mu.RUnlock()
	if ok {
		return entry.message, entry.err
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under the flight: a caller that missed the map may
		// start a second flight after the first one completed.
		c.mu.RLock()
		entry, ok := c.results[key]
		c.mu.RUnlock()
		if ok {
			return entry, nil
		}
		message, decodeErr := c.decoder.Decode(raw)
		fresh := cacheEntry{message: message, err: decodeErr}
		c.mu.Lock()
		c.results[key] = fresh
		c.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		// The closure never fails; singleflight reports nothing else.
		return protocol.Message{}, err
	}
	entry = result.(cacheEntry)
	return entry.message, entry.err
}

// clear drops all memoized results. Called on engine Close, when the
// identity whose keys produced these plaintexts goes away.
func (c *decryptionCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = make(map[string]cacheEntry)
}

// size reports the number of memoized results.
func (c *decryptionCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.results)
}
