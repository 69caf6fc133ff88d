// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// Fake is a deterministic Clock for tests. Time advances only when the
// test calls Advance or Set. After channels fire when the fake time
// passes their deadline; Sleep returns immediately (the fake never
// blocks a test goroutine on wall time).
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewFake creates a Fake clock starting at a fixed, arbitrary instant
// (2026-01-01T00:00:00Z). Use Set to start elsewhere.
func NewFake() *Fake {
	return &Fake{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After returns a channel that fires once the fake time reaches now+d.
// If d <= 0 the channel fires immediately.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan time.Time, 1)
	deadline := f.now.Add(d)
	if d <= 0 {
		ch <- f.now
		return ch
	}
	f.waiters = append(f.waiters, fakeWaiter{deadline: deadline, ch: ch})
	return ch
}

// Sleep advances the fake time by d and returns immediately.
func (f *Fake) Sleep(d time.Duration) {
	f.Advance(d)
}

// Advance moves the fake time forward by d, firing any After channels
// whose deadlines have passed.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setLocked(f.now.Add(d))
}

// Set moves the fake time to the given instant. Moving backward is
// allowed but does not un-fire already-fired waiters.
func (f *Fake) Set(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setLocked(now)
}

func (f *Fake) setLocked(now time.Time) {
	f.now = now
	remaining := f.waiters[:0]
	for _, waiter := range f.waiters {
		if !waiter.deadline.After(now) {
			waiter.ch <- now
			continue
		}
		remaining = append(remaining, waiter)
	}
	f.waiters = remaining
}
