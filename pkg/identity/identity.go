// Package identity holds the signing identity of a node.
//
// An Identity is constructed once at process start and passed explicitly
// into every component that signs or verifies protocol messages; nothing
// reaches into ambient global state. Provider identities on the wire are
// the hex form of the public key.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Identity is an ed25519 keypair with a stable string id.
type Identity struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// Generate creates a fresh identity.
func Generate() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}
	return &Identity{priv: priv, pub: pub}, nil
}

// FromSeed derives a deterministic identity from a 32-byte seed. Used in
// tests and for reproducible local clusters.
func FromSeed(seed []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("identity: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Identity{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// Load reads an identity from a key file written by Save.
func Load(path string) (*Identity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity: read key file: %w", err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("identity: decode key file: %w", err)
	}
	return FromSeed(seed)
}

// Save writes the identity seed to path, readable only by the owner.
func (id *Identity) Save(path string) error {
	seed := hex.EncodeToString(id.priv.Seed())
	if err := os.WriteFile(path, []byte(seed+"\n"), 0o600); err != nil {
		return fmt.Errorf("identity: write key file: %w", err)
	}
	return nil
}

// ID returns the hex-encoded public key, the node's wire identity.
func (id *Identity) ID() string {
	return hex.EncodeToString(id.pub)
}

// Sign signs msg with the private key.
func (id *Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(id.priv, msg)
}

// Verify checks sig over msg against this identity's public key.
func (id *Identity) Verify(msg, sig []byte) bool {
	return ed25519.Verify(id.pub, msg, sig)
}

// VerifyID checks sig over msg against a hex-encoded public key.
func VerifyID(idStr string, msg, sig []byte) bool {
	pub, err := hex.DecodeString(idStr)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
}

// ErrNoIdentity is returned by components that need a signing identity but
// were constructed without one.
var ErrNoIdentity = errors.New("identity: no signing identity configured")
