// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package sigengine wraps the secp256k1 primitives needed for hierarchical
// key derivation and transaction signing behind a small interface. An engine
// is built once at startup and shared read-only by every deriver and signer.
package sigengine

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const (
	// PrivKeyLen is the length of a serialized private scalar.
	PrivKeyLen = 32

	// PubKeyLen is the length of a compressed public key.
	PubKeyLen = btcec.PubKeyBytesLenCompressed
)

var (
	// ErrInvalidPrivKey is returned when a private key is not a 32-byte
	// scalar in the range [1, n-1].
	ErrInvalidPrivKey = errors.New("invalid private key")

	// ErrInvalidPubKey is returned when a public key cannot be parsed as a
	// point on the curve.
	ErrInvalidPubKey = errors.New("invalid public key")

	// ErrTweakOutOfRange is returned when a tweak is not a valid scalar,
	// i.e. it is not 32 bytes long or it is greater than or equal to the
	// curve order.
	ErrTweakOutOfRange = errors.New("tweak is not less than the curve " +
		"order")

	// ErrZeroScalar is returned when adding a tweak to a private key
	// results in the zero scalar.
	ErrZeroScalar = errors.New("tweaked private key is zero")

	// ErrPointAtInfinity is returned when adding a tweak to a public key
	// results in the point at infinity.
	ErrPointAtInfinity = errors.New("tweaked public key is the point at " +
		"infinity")

	// ErrInvalidDigest is returned when asked to sign something that is not
	// a 32-byte digest.
	ErrInvalidDigest = errors.New("digest must be 32 bytes")
)

// Engine is the set of elliptic curve capabilities used by the deriver and the
// signing coordinator. Implementations must be safe for concurrent use.
type Engine interface {
	// PubKey returns the compressed public key for the given private
	// scalar.
	PubKey(privKey []byte) ([]byte, error)

	// TweakAddPriv returns (privKey + tweak) mod n.
	TweakAddPriv(privKey, tweak []byte) ([]byte, error)

	// TweakAddPub returns pubKey + tweak*G in compressed form.
	TweakAddPub(pubKey, tweak []byte) ([]byte, error)

	// Sign produces a DER encoded ECDSA signature over the 32-byte digest.
	Sign(privKey, digest []byte) ([]byte, error)

	// Verify reports whether sig is a valid DER encoded ECDSA signature of
	// digest under pubKey.
	Verify(pubKey, digest, sig []byte) bool

	// ValidatePubKey returns an error if pubKey is not a compressed
	// encoding of a point on the curve.
	ValidatePubKey(pubKey []byte) error
}

// Secp256k1 is an Engine backed by btcec. It carries no state, so a single
// instance can be shared across goroutines.
type Secp256k1 struct{}

// A compile-time assertion to ensure Secp256k1 implements Engine.
var _ Engine = (*Secp256k1)(nil)

// New returns the secp256k1 engine.
func New() *Secp256k1 {
	return &Secp256k1{}
}

// parseScalar decodes a 32-byte big-endian scalar, reporting whether it
// overflowed the curve order.
func parseScalar(b []byte) (secp256k1.ModNScalar, bool, error) {
	var s secp256k1.ModNScalar
	if len(b) != PrivKeyLen {
		return s, false, fmt.Errorf("scalar has length %d, want %d",
			len(b), PrivKeyLen)
	}

	overflow := s.SetByteSlice(b)

	return s, overflow, nil
}

// parsePrivKey decodes a private scalar and ensures it is in [1, n-1].
func parsePrivKey(privKey []byte) (*btcec.PrivateKey, error) {
	s, overflow, err := parseScalar(privKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivKey, err)
	}
	if overflow || s.IsZero() {
		return nil, ErrInvalidPrivKey
	}

	return btcec.PrivKeyFromScalar(&s), nil
}

// PubKey returns the compressed public key for the given private scalar.
func (e *Secp256k1) PubKey(privKey []byte) ([]byte, error) {
	priv, err := parsePrivKey(privKey)
	if err != nil {
		return nil, err
	}

	return priv.PubKey().SerializeCompressed(), nil
}

// TweakAddPriv returns (privKey + tweak) mod n.
func (e *Secp256k1) TweakAddPriv(privKey, tweak []byte) ([]byte, error) {
	priv, err := parsePrivKey(privKey)
	if err != nil {
		return nil, err
	}

	t, overflow, err := parseScalar(tweak)
	if err != nil || overflow {
		return nil, ErrTweakOutOfRange
	}

	sum := new(secp256k1.ModNScalar).Set(&priv.Key)
	sum.Add(&t)
	if sum.IsZero() {
		return nil, ErrZeroScalar
	}

	b := sum.Bytes()

	return b[:], nil
}

// TweakAddPub returns pubKey + tweak*G in compressed form.
func (e *Secp256k1) TweakAddPub(pubKey, tweak []byte) ([]byte, error) {
	pub, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPubKey, err)
	}

	t, overflow, err := parseScalar(tweak)
	if err != nil || overflow {
		return nil, ErrTweakOutOfRange
	}

	// Compute tweak*G and add the parent point to it in Jacobian
	// coordinates, converting back to affine only once at the end.
	var tweakPoint, parentPoint, result secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&t, &tweakPoint)
	pub.AsJacobian(&parentPoint)
	secp256k1.AddNonConst(&tweakPoint, &parentPoint, &result)

	if (result.X.IsZero() && result.Y.IsZero()) || result.Z.IsZero() {
		return nil, ErrPointAtInfinity
	}
	result.ToAffine()

	child := secp256k1.NewPublicKey(&result.X, &result.Y)

	return child.SerializeCompressed(), nil
}

// Sign produces a DER encoded, low-S, RFC6979 ECDSA signature over digest.
func (e *Secp256k1) Sign(privKey, digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, ErrInvalidDigest
	}

	priv, err := parsePrivKey(privKey)
	if err != nil {
		return nil, err
	}

	return ecdsa.Sign(priv, digest).Serialize(), nil
}

// Verify reports whether sig is a valid DER encoded ECDSA signature of digest
// under pubKey. Malformed inputs simply fail verification.
func (e *Secp256k1) Verify(pubKey, digest, sig []byte) bool {
	pub, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return false
	}

	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}

	return parsed.Verify(digest, pub)
}

// ValidatePubKey returns an error if pubKey is not a compressed encoding of a
// point on the curve.
func (e *Secp256k1) ValidatePubKey(pubKey []byte) error {
	if len(pubKey) != PubKeyLen {
		return fmt.Errorf("%w: length %d", ErrInvalidPubKey, len(pubKey))
	}

	if _, err := btcec.ParsePubKey(pubKey); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPubKey, err)
	}

	return nil
}
