// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity implements the identity-bound cryptographic
// capability the protocol codec consumes: signing, the legacy
// shared-secret message encryption (Protocol A), and sealed two-layer
// encryption (Protocol B).
//
// A Local identity is created at login and closed at logout. Key
// material lives in secret.Buffer regions (mmap-backed, locked against
// swap, excluded from core dumps, zeroed on Close).
//
// Three keys hang off one identity:
//   - an ed25519 signing keypair; its public key IS the network
//     identity (ref.PublicKey, the author field of every event)
//   - an x25519 keypair for Protocol A, derived from the signing seed
//     with a domain-separated BLAKE3 key derivation
//   - an age x25519 identity for Protocol B sealing
//
// Encrypting to a peer requires their Card (identity key plus the two
// encryption public keys), learned from profile events or added
// explicitly. Decryption of a message from an unknown peer fails, which
// the codec surfaces as an unreadable placeholder rather than an
// ingestion error.
package identity

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"filippo.io/age"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"

	"github.com/driftwood-chat/driftwood/lib/ref"
	"github.com/driftwood-chat/driftwood/lib/secret"
)

// dmKeyDomain is the BLAKE3 domain key for deriving the Protocol A
// x25519 private key from the signing seed. ASCII name zero-padded to
// 32 bytes; changing it orphans every existing Protocol A conversation.
var dmKeyDomain = [32]byte{
	'd', 'r', 'i', 'f', 't', 'w', 'o', 'o', 'd', '.',
	'k', 'e', 'y', '.', 'd', 'm', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Card is the public half of an identity: everything a peer needs to
// address encrypted messages to it. Cards are safe to publish.
type Card struct {
	// Identity is the network identity (ed25519 public key).
	Identity ref.PublicKey `json:"identity"`

	// DMKey is the x25519 public key for Protocol A, hex-encoded.
	DMKey string `json:"dm_key"`

	// SealKey is the age recipient (age1...) for Protocol B.
	SealKey string `json:"seal_key"`
}

// Local is an identity with private key material, implementing the
// protocol codec's crypto capability. Safe for concurrent use.
type Local struct {
	publicKey ref.PublicKey
	dmPublic  string // hex x25519 public
	sealKey   string // age1... recipient

	signSeed    *secret.Buffer // 32-byte ed25519 seed
	dmPrivate   *secret.Buffer // 32-byte x25519 scalar
	ageIdentity *secret.Buffer // AGE-SECRET-KEY-1... string

	mu     sync.RWMutex
	peers  map[ref.PublicKey]Card
	closed bool
}

// Generate creates a fresh identity from the system entropy source.
// The caller must Close it at logout.
func Generate() (*Local, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("identity: reading entropy: %w", err)
	}
	ageKey, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("identity: generating seal keypair: %w", err)
	}
	return newLocal(seed, ageKey)
}

// Load reconstructs an identity from its persisted key material: the
// hex-encoded signing seed and the age secret key string (the two files
// named by config.IdentityConfig). The inputs are copied into protected
// memory; callers should discard their copies promptly.
func Load(signingSeedHex, ageSecretKey string) (*Local, error) {
	seed, err := hex.DecodeString(signingSeedHex)
	if err != nil {
		return nil, fmt.Errorf("identity: decoding signing seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("identity: signing seed is %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	ageKey, err := age.ParseX25519Identity(ageSecretKey)
	if err != nil {
		return nil, fmt.Errorf("identity: parsing seal key: %w", err)
	}
	return newLocal(seed, ageKey)
}

func newLocal(seed []byte, ageKey *age.X25519Identity) (*Local, error) {
	private := ed25519.NewKeyFromSeed(seed)
	public := private.Public().(ed25519.PublicKey)
	publicKey, err := ref.ParsePublicKey(hex.EncodeToString(public))
	if err != nil {
		return nil, fmt.Errorf("identity: formatting public key: %w", err)
	}

	// Protocol A key: domain-separated derivation from the signing
	// seed, so one seed file reconstructs both keys.
	hasher, err := blake3.NewKeyed(dmKeyDomain[:])
	if err != nil {
		panic("identity: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(seed)
	dmPrivateBytes := hasher.Sum(nil)
	dmPublicBytes, err := curve25519.X25519(dmPrivateBytes, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("identity: deriving dm public key: %w", err)
	}

	signSeed, err := secret.NewFromBytes(seed)
	if err != nil {
		return nil, fmt.Errorf("identity: protecting signing seed: %w", err)
	}
	dmPrivate, err := secret.NewFromBytes(dmPrivateBytes)
	if err != nil {
		signSeed.Close()
		return nil, fmt.Errorf("identity: protecting dm key: %w", err)
	}
	ageIdentity, err := secret.NewFromBytes([]byte(ageKey.String()))
	if err != nil {
		signSeed.Close()
		dmPrivate.Close()
		return nil, fmt.Errorf("identity: protecting seal key: %w", err)
	}

	return &Local{
		publicKey:   publicKey,
		dmPublic:    hex.EncodeToString(dmPublicBytes),
		sealKey:     ageKey.Recipient().String(),
		signSeed:    signSeed,
		dmPrivate:   dmPrivate,
		ageIdentity: ageIdentity,
		peers:       make(map[ref.PublicKey]Card),
	}, nil
}

// PublicKey returns the network identity.
func (l *Local) PublicKey() ref.PublicKey { return l.publicKey }

// Card returns the publishable public half of this identity.
func (l *Local) Card() Card {
	return Card{Identity: l.publicKey, DMKey: l.dmPublic, SealKey: l.sealKey}
}

// AddPeer records a peer's public keys so messages can be encrypted to
// and decrypted from them. Re-adding a peer replaces the stored card.
func (l *Local) AddPeer(card Card) error {
	if card.Identity.IsZero() {
		return fmt.Errorf("identity: peer card has no identity key")
	}
	if _, err := hex.DecodeString(card.DMKey); err != nil || len(card.DMKey) != 64 {
		return fmt.Errorf("identity: peer %s has an invalid dm key", card.Identity.Short())
	}
	if _, err := age.ParseX25519Recipient(card.SealKey); err != nil {
		return fmt.Errorf("identity: peer %s has an invalid seal key: %w", card.Identity.Short(), err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("identity: closed")
	}
	l.peers[card.Identity] = card
	return nil
}

// peerCard returns the stored card for a peer.
func (l *Local) peerCard(peer ref.PublicKey) (Card, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return Card{}, fmt.Errorf("identity: closed")
	}
	card, ok := l.peers[peer]
	if !ok {
		return Card{}, fmt.Errorf("identity: no encryption keys known for peer %s", peer.Short())
	}
	return card, nil
}

// Sign signs the raw bytes of an event ID with the identity's ed25519
// key, returning the hex signature.
func (l *Local) Sign(id ref.EventID) (string, error) {
	idBytes, err := hex.DecodeString(id.String())
	if err != nil {
		return "", fmt.Errorf("identity: decoding event ID: %w", err)
	}
	private := ed25519.NewKeyFromSeed(l.signSeed.Bytes())
	return hex.EncodeToString(ed25519.Sign(private, idBytes)), nil
}

// EncryptPlain encrypts plaintext to a peer with the Protocol A
// shared-secret scheme (x25519 + NaCl box). The ciphertext is
// base64(nonce || box).
func (l *Local) EncryptPlain(peer ref.PublicKey, plaintext []byte) (string, error) {
	peerKey, localKey, err := l.dmKeys(peer)
	if err != nil {
		return "", err
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("identity: reading nonce entropy: %w", err)
	}
	sealed := box.Seal(nonce[:], plaintext, &nonce, peerKey, localKey)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptPlain decrypts a Protocol A ciphertext exchanged with the
// given peer. The same call works for both directions: the box shared
// secret between the two keypairs is symmetric.
func (l *Local) DecryptPlain(peer ref.PublicKey, ciphertext string) ([]byte, error) {
	peerKey, localKey, err := l.dmKeys(peer)
	if err != nil {
		return nil, err
	}

	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("identity: decoding ciphertext: %w", err)
	}
	if len(sealed) < 24 {
		return nil, fmt.Errorf("identity: ciphertext shorter than its nonce")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plaintext, ok := box.Open(nil, sealed[24:], &nonce, peerKey, localKey)
	if !ok {
		return nil, fmt.Errorf("identity: message authentication failed")
	}
	return plaintext, nil
}

// Seal encrypts plaintext for Protocol B, addressed to the peer AND to
// this identity. The self-recipient lets the sender's own client unwrap
// its outbound sealed messages when they come back from a relay, which
// is how a conversation accumulates both directions.
func (l *Local) Seal(peer ref.PublicKey, plaintext []byte) (string, error) {
	card, err := l.peerCard(peer)
	if err != nil {
		return "", err
	}
	peerRecipient, err := age.ParseX25519Recipient(card.SealKey)
	if err != nil {
		return "", fmt.Errorf("identity: peer %s seal key: %w", peer.Short(), err)
	}
	selfRecipient, err := age.ParseX25519Recipient(l.sealKey)
	if err != nil {
		return "", fmt.Errorf("identity: own seal key: %w", err)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, peerRecipient, selfRecipient)
	if err != nil {
		return "", fmt.Errorf("identity: creating seal encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return "", fmt.Errorf("identity: writing sealed plaintext: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("identity: finalizing seal: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext.Bytes()), nil
}

// OpenSeal decrypts a Protocol B layer addressed to this identity.
func (l *Local) OpenSeal(ciphertext string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("identity: decoding sealed ciphertext: %w", err)
	}
	// The identity string crosses to the heap briefly at this parse
	// boundary, matching the secret.Buffer usage contract.
	ageKey, err := age.ParseX25519Identity(l.ageIdentity.String())
	if err != nil {
		return nil, fmt.Errorf("identity: parsing own seal key: %w", err)
	}
	reader, err := age.Decrypt(bytes.NewReader(sealed), ageKey)
	if err != nil {
		return nil, fmt.Errorf("identity: opening seal: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("identity: reading sealed plaintext: %w", err)
	}
	return plaintext, nil
}

// dmKeys returns the peer's x25519 public key and our private key as
// the fixed-size arrays NaCl box wants.
func (l *Local) dmKeys(peer ref.PublicKey) (*[32]byte, *[32]byte, error) {
	card, err := l.peerCard(peer)
	if err != nil {
		return nil, nil, err
	}
	peerBytes, err := hex.DecodeString(card.DMKey)
	if err != nil || len(peerBytes) != 32 {
		return nil, nil, fmt.Errorf("identity: peer %s has an invalid dm key", peer.Short())
	}

	var peerKey, localKey [32]byte
	copy(peerKey[:], peerBytes)
	copy(localKey[:], l.dmPrivate.Bytes())
	return &peerKey, &localKey, nil
}

// Close zeros and releases all private key material. Further
// cryptographic operations panic (secret buffer reads) or fail (peer
// lookups). Idempotent.
func (l *Local) Close() error {
	l.mu.Lock()
	l.closed = true
	l.peers = nil
	l.mu.Unlock()

	var firstError error
	for _, buffer := range []*secret.Buffer{l.signSeed, l.dmPrivate, l.ageIdentity} {
		if err := buffer.Close(); err != nil && firstError == nil {
			firstError = err
		}
	}
	return firstError
}

// ExportSigningSeed returns the hex signing seed for persistence to the
// file named by config. Handle with care; the caller owns the copy.
func (l *Local) ExportSigningSeed() string {
	return hex.EncodeToString(l.signSeed.Bytes())
}

// ExportSealKey returns the age secret key string for persistence.
func (l *Local) ExportSealKey() string {
	return l.ageIdentity.String()
}
