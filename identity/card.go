// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"encoding/json"
	"fmt"

	"github.com/driftwood-chat/driftwood/event"
)

// ProfileContent renders a card as the JSON content of a profile event,
// which is how peers discover each other's encryption keys.
func ProfileContent(card Card) (string, error) {
	data, err := json.Marshal(card)
	if err != nil {
		return "", fmt.Errorf("identity: encoding profile card: %w", err)
	}
	return string(data), nil
}

// CardFromProfile extracts a peer's card from a profile event. The
// card's identity key must match the event author — a profile cannot
// assert keys for somebody else.
func CardFromProfile(raw event.Raw) (Card, error) {
	if raw.Kind != event.KindProfile {
		return Card{}, fmt.Errorf("identity: event %s is kind %d, not a profile", raw.ID.String()[:8], raw.Kind)
	}
	var card Card
	if err := json.Unmarshal([]byte(raw.Content), &card); err != nil {
		return Card{}, fmt.Errorf("identity: parsing profile card: %w", err)
	}
	if card.Identity != raw.Author {
		return Card{}, fmt.Errorf("identity: profile by %s asserts keys for %s", raw.Author.Short(), card.Identity.Short())
	}
	return card, nil
}
