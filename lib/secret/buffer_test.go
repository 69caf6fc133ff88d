// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"testing"
)

func TestNewFromBytesZerosSource(t *testing.T) {
	source := []byte("super secret seed")
	want := append([]byte(nil), source...)

	buffer, err := NewFromBytes(source)
	if err != nil {
		t.Fatalf("NewFromBytes failed: %v", err)
	}
	defer buffer.Close()

	if !bytes.Equal(buffer.Bytes(), want) {
		t.Errorf("buffer contents = %q, want %q", buffer.Bytes(), want)
	}
	for index, value := range source {
		if value != 0 {
			t.Fatalf("source[%d] = %d after NewFromBytes, want 0", index, value)
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	buffer, err := NewFromBytes([]byte("x"))
	if err != nil {
		t.Fatalf("NewFromBytes failed: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestReadAfterClosePanics(t *testing.T) {
	buffer, err := NewFromBytes([]byte("x"))
	if err != nil {
		t.Fatalf("NewFromBytes failed: %v", err)
	}
	buffer.Close()

	defer func() {
		if recover() == nil {
			t.Error("Bytes() on a closed buffer did not panic")
		}
	}()
	_ = buffer.Bytes()
}

func TestNewRejectsNonPositiveSize(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Error("New(0) succeeded, want error")
	}
	if _, err := NewFromBytes(nil); err == nil {
		t.Error("NewFromBytes(nil) succeeded, want error")
	}
}
