// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

func TestFakeAdvance(t *testing.T) {
	fake := NewFake()
	start := fake.Now()

	fake.Advance(5 * time.Minute)
	if got := fake.Now().Sub(start); got != 5*time.Minute {
		t.Errorf("advanced by %v, want 5m", got)
	}
}

func TestFakeAfterFiresAtDeadline(t *testing.T) {
	fake := NewFake()
	ch := fake.After(10 * time.Second)

	select {
	case <-ch:
		t.Fatal("After fired before any time passed")
	default:
	}

	fake.Advance(9 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before its deadline")
	default:
	}

	fake.Advance(time.Second)
	select {
	case <-ch:
	default:
		t.Fatal("After did not fire at its deadline")
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	fake := NewFake()
	select {
	case <-fake.After(0):
	default:
		t.Fatal("After(0) did not fire immediately")
	}
}

func TestFakeSet(t *testing.T) {
	fake := NewFake()
	target := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	fake.Set(target)
	if !fake.Now().Equal(target) {
		t.Errorf("Now() = %v after Set, want %v", fake.Now(), target)
	}
}
