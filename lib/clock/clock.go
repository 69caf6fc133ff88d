// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability. Production code injects
// Real(); tests inject NewFake() and advance time deterministically.
//
// Every production function that needs the current time (placeholder
// message timestamps, correlation windows, scan pacing) takes a Clock
// parameter or lives on a struct with a Clock field, instead of calling
// the time package directly.
package clock

import "time"

// Clock provides the subset of time operations the engine uses.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time after
	// duration d elapses. Equivalent to time.After.
	After(d time.Duration) <-chan time.Time

	// Sleep pauses the current goroutine for at least duration d.
	Sleep(d time.Duration)
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (realClock) Sleep(d time.Duration)                  { time.Sleep(d) }
