// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package hdkey implements BIP-32 hierarchical deterministic key derivation on
// top of an injected signing engine.
//
// A Deriver turns a seed into a master ExtendedKey and walks derivation paths
// from there, for both private and public-only keys:
//
//	engine := sigengine.New()
//	deriver := hdkey.NewDeriver(engine)
//
//	master, err := deriver.NewMaster(seed, &chaincfg.MainNetParams)
//	path, err := hdkey.ParsePath("m/84'/0'/0'")
//	account, err := deriver.DerivePath(master, path)
//	xpub, err := deriver.Neuter(account)
package hdkey

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/hdpsbt/sigengine"
)

const (
	// MinSeedBytes is the minimum number of bytes allowed for a seed to
	// a master node.
	MinSeedBytes = 16 // 128 bits

	// MaxSeedBytes is the maximum number of bytes allowed for a seed to
	// a master node.
	MaxSeedBytes = 64 // 512 bits
)

var (
	// masterKey is the master key used along with a random seed used to
	// generate the master node in the hierarchical tree.
	masterKey = []byte("Bitcoin seed")
)

// Deriver derives extended keys. It holds only the shared, read-only signing
// engine, so a single Deriver may be used from many goroutines.
type Deriver struct {
	engine sigengine.Engine
}

// NewDeriver creates a deriver on top of the given engine.
func NewDeriver(engine sigengine.Engine) *Deriver {
	return &Deriver{engine: engine}
}

// hmac512 computes HMAC-SHA512(key, data) and splits the result in halves.
func hmac512(key, data []byte) ([]byte, []byte) {
	mac := hmac.New(sha512.New, key)
	_, _ = mac.Write(data)
	sum := mac.Sum(nil)

	return sum[:len(sum)/2], sum[len(sum)/2:]
}

// NewMaster creates a new master node for use in creating a hierarchical
// deterministic key chain. The seed must be between 128 and 512 bits.
func (d *Deriver) NewMaster(seed []byte,
	net *chaincfg.Params) (*ExtendedKey, error) {

	if net == nil {
		return nil, ErrNoNetwork
	}

	// Per [BIP32], the seed must be in range [MinSeedBytes, MaxSeedBytes].
	if len(seed) < MinSeedBytes || len(seed) > MaxSeedBytes {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidSeedLength,
			len(seed))
	}

	// First take the HMAC-SHA512 of the master key and the seed data:
	//   I = HMAC-SHA512(Key = "Bitcoin seed", Data = S)
	// Split "I" into two 32-byte sequences Il and Ir where:
	//   Il = master secret key
	//   Ir = master chain code
	secretKey, chainCode := hmac512(masterKey, seed)

	// Ensure the key is usable.
	if _, err := d.engine.PubKey(secretKey); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnusableSeed, err)
	}

	return NewExtendedKey(
		net, secretKey, chainCode, Fingerprint{}, 0, 0, true,
	), nil
}

// PubKey returns the compressed public key of the extended key.
func (d *Deriver) PubKey(k *ExtendedKey) ([]byte, error) {
	if !k.isPrivate {
		return k.Key(), nil
	}

	return d.engine.PubKey(k.key)
}

// Fingerprint returns the first four bytes of HASH160 of the key's public key.
// For a master key this is the master fingerprint used in PSBT key origins.
func (d *Deriver) Fingerprint(k *ExtendedKey) (Fingerprint, error) {
	pubKey, err := d.PubKey(k)
	if err != nil {
		return Fingerprint{}, err
	}

	var fp Fingerprint
	copy(fp[:], btcutil.Hash160(pubKey))

	return fp, nil
}

// Neuter returns a new extended public key from this extended private key. The
// same extended key is returned unaltered if it is already a public key.
func (d *Deriver) Neuter(k *ExtendedKey) (*ExtendedKey, error) {
	if !k.isPrivate {
		return k, nil
	}

	pubKey, err := d.engine.PubKey(k.key)
	if err != nil {
		return nil, err
	}

	return NewExtendedKey(
		k.net, pubKey, k.chainCode, k.parentFP, k.depth, k.childNum,
		false,
	), nil
}

// DeriveChild returns the child of parent at the given child number.
//
// A private parent yields a private child, a public parent a public child.
// Hardened children can only be derived from private parents, asking for one
// from a public parent fails with ErrHardenedFromPublic.
//
// ErrInvalidChildKey is returned when the index produces an invalid key. The
// chance of this is about 1 in 2^127. Callers wanting BIP-32's skip-to-next
// policy can use DeriveNextValid.
func (d *Deriver) DeriveChild(parent *ExtendedKey,
	child ChildNumber) (*ExtendedKey, error) {

	if child.Index >= HardenedKeyStart {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChildIndex,
			child.Index)
	}

	// A public extended key has no private key to derive a hardened
	// child from.
	if child.Hardened && !parent.isPrivate {
		return nil, fmt.Errorf("%w: child %v", ErrHardenedFromPublic,
			child)
	}

	if parent.depth == maxDepth {
		return nil, ErrDepthOverflow
	}

	// The parent's public key is needed both for the non-hardened HMAC
	// input and for the child's parent fingerprint.
	parentPub, err := d.PubKey(parent)
	if err != nil {
		return nil, err
	}

	// The data used to derive the child key depends on whether or not the
	// child is hardened per [BIP32].
	//
	// For hardened children:
	//   0x00 || ser256(parentKey) || ser32(i)
	//
	// For normal children:
	//   serP(parentPubKey) || ser32(i)
	keyLen := len(parentPub)
	data := make([]byte, keyLen+4)
	if child.Hardened {
		copy(data[1:], parent.key)
	} else {
		copy(data, parentPub)
	}
	binary.BigEndian.PutUint32(data[keyLen:], child.Uint32())

	// Take the HMAC-SHA512 of the current key's chain code and the derived
	// data:
	//   I = HMAC-SHA512(Key = chainCode, Data = data)
	// Split "I" into two 32-byte sequences Il and Ir where:
	//   Il = intermediate key used to derive the child
	//   Ir = child chain code
	ilNum, childChainCode := hmac512(parent.chainCode, data)

	var childKey []byte
	if parent.isPrivate {
		// childKey = parse256(Il) + parentKey (mod n)
		childKey, err = d.engine.TweakAddPriv(parent.key, ilNum)
	} else {
		// childKey = serP(point(parse256(Il)) + parentKey)
		childKey, err = d.engine.TweakAddPub(parent.key, ilNum)
	}

	switch {
	case errors.Is(err, sigengine.ErrTweakOutOfRange),
		errors.Is(err, sigengine.ErrZeroScalar),
		errors.Is(err, sigengine.ErrPointAtInfinity):

		return nil, fmt.Errorf("%w: child %v: %v", ErrInvalidChildKey,
			child, err)

	case err != nil:
		return nil, err
	}

	var parentFP Fingerprint
	copy(parentFP[:], btcutil.Hash160(parentPub))

	return NewExtendedKey(
		parent.net, childKey, childChainCode, parentFP,
		parent.depth+1, child.Uint32(), parent.isPrivate,
	), nil
}

// DeriveNextValid derives the child at the given number, moving on to the next
// index for as long as ErrInvalidChildKey is hit. The child number actually
// used is returned so the caller can see that a substitution happened.
func (d *Deriver) DeriveNextValid(parent *ExtendedKey,
	child ChildNumber) (*ExtendedKey, ChildNumber, error) {

	for {
		key, err := d.DeriveChild(parent, child)
		if !errors.Is(err, ErrInvalidChildKey) {
			return key, child, err
		}

		if child.Index == HardenedKeyStart-1 {
			return nil, child, err
		}

		log.Warnf("Child %v is invalid, trying index %d", child,
			child.Index+1)

		child.Index++
	}
}

// DerivePath derives the key at path below root, one step at a time. The first
// failing step aborts the walk and its error is returned wrapped with the step
// number, matching the original sentinel with errors.Is.
func (d *Deriver) DerivePath(root *ExtendedKey,
	path Path) (*ExtendedKey, error) {

	key := root
	for i, child := range path.children {
		next, err := d.DeriveChild(key, child)
		if err != nil {
			return nil, fmt.Errorf("derivation step %d (%v) of %v: "+
				"%w", i+1, child, path, err)
		}

		key = next
	}

	log.Debugf("Derived key at %v, depth=%d", path, key.depth)

	return key, nil
}

// ParseKey decodes a base58check serialized extended key (xprv, xpub, tprv,
// tpub, ...) and validates its key data against the curve.
func (d *Deriver) ParseKey(s string) (*ExtendedKey, error) {
	key, err := decodeKey(s)
	if err != nil {
		return nil, err
	}

	return d.validate(key)
}

// ParseKeyBytes decodes the 78-byte serialization produced by
// ExtendedKey.Serialize.
func (d *Deriver) ParseKeyBytes(b []byte) (*ExtendedKey, error) {
	key, err := decodeKeyBytes(b)
	if err != nil {
		return nil, err
	}

	return d.validate(key)
}

// validate checks the key data of a decoded key against the curve.
func (d *Deriver) validate(key *ExtendedKey) (*ExtendedKey, error) {
	var err error
	if key.isPrivate {
		_, err = d.engine.PubKey(key.key)
	} else {
		err = d.engine.ValidatePubKey(key.key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyEncoding, err)
	}

	return key, nil
}
