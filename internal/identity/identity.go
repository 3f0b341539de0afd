// Package identity defines the signing-oracle boundary of spec.md §6: the
// private key is held exclusively by this collaborator, never by the
// Funder, which only ever requests a signature or the local public key.
// Modelled on the teacher's keychain.KeyRing / msgSigner split between
// key custody and the callers that need signatures, generalised to a
// single ed25519 identity per node (spec.md §5 "shared-resource policy").
package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"

	"github.com/go-errors/errors"
	"github.com/meshcredit/fundd/internal/mutualcredit"
)

// ErrClosed is returned by Sign/PublicKey once the Service has been shut
// down, matching spec.md §7's "identity service unavailable" error kind.
var ErrClosed = errors.New("identity: service closed")

// Service is the async signing-oracle interface consumed by the Funder and
// TokenChannel. Every method may be called concurrently.
type Service interface {
	Sign(ctx context.Context, buf []byte) ([64]byte, error)
	PublicKey(ctx context.Context) (mutualcredit.PublicKey, error)
}

// Local is an in-process Service backed by an ed25519 private key. No pack
// example repository ships an ed25519 signer (all use secp256k1 for chain
// signatures); crypto/ed25519 is the correct, and only, fit here — see
// DESIGN.md's stdlib-justification entry for this package.
type Local struct {
	priv   ed25519.PrivateKey
	pub    mutualcredit.PublicKey
	closed bool
}

// NewLocal derives a Local identity from a 32-byte ed25519 seed.
func NewLocal(seed []byte) (*Local, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, errors.Errorf("identity: seed must be %d bytes", ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	var pk mutualcredit.PublicKey
	copy(pk[:], priv.Public().(ed25519.PublicKey))
	return &Local{priv: priv, pub: pk}, nil
}

// GenerateLocal creates a Local identity from fresh random key material,
// used by tests and by first-run node bootstrap.
func GenerateLocal() (*Local, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return NewLocal(seed)
}

func (l *Local) Sign(ctx context.Context, buf []byte) ([64]byte, error) {
	var sig [64]byte
	if l.closed {
		return sig, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return sig, err
	}
	copy(sig[:], ed25519.Sign(l.priv, buf))
	return sig, nil
}

func (l *Local) PublicKey(ctx context.Context) (mutualcredit.PublicKey, error) {
	if l.closed {
		return mutualcredit.PublicKey{}, ErrClosed
	}
	return l.pub, nil
}

// Close renders the identity unavailable, exercised by tests simulating
// spec.md §7's "identity service unavailable" error kind.
func (l *Local) Close() { l.closed = true }

// Verify checks a signature against a buffer and public key, the shared
// primitive behind every Verify implementation in tokenchannel and funder.
func Verify(pub mutualcredit.PublicKey, buf []byte, sig [64]byte) bool {
	return ed25519.Verify(ed25519.PublicKey(pub[:]), buf, sig[:])
}
