// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/hdpsbt/hdkey"
)

// xpubLen is the length of a BIP-32 serialized extended key without the
// base58 checksum.
const xpubLen = 78

// Bip32Derivation records the origin of a public key: the fingerprint of
// the master key and the path used to reach it.
type Bip32Derivation struct {
	// PubKey is the raw public key.
	PubKey []byte

	// MasterKeyFingerprint is the fingerprint of the master key, encoded
	// the way BIP-174 stores it (little endian of the four bytes).
	MasterKeyFingerprint uint32

	// Bip32Path is the derivation path from the master key.
	Bip32Path []uint32
}

// NewBip32Derivation builds the origin record of pubKey.
func NewBip32Derivation(pubKey []byte, master hdkey.Fingerprint,
	path hdkey.Path) *Bip32Derivation {

	return &Bip32Derivation{
		PubKey:               bytes.Clone(pubKey),
		MasterKeyFingerprint: master.Uint32(),
		Bip32Path:            path.Uint32s(),
	}
}

// Fingerprint returns the master fingerprint of the derivation.
func (d *Bip32Derivation) Fingerprint() hdkey.Fingerprint {
	return hdkey.FingerprintFromUint32(d.MasterKeyFingerprint)
}

// Path returns the derivation path of the record.
func (d *Bip32Derivation) Path() hdkey.Path {
	return hdkey.PathFromUint32s(d.Bip32Path)
}

func derivationKey(d *Bip32Derivation) []byte {
	return d.PubKey
}

func (d *Bip32Derivation) copy() *Bip32Derivation {
	return &Bip32Derivation{
		PubKey:               bytes.Clone(d.PubKey),
		MasterKeyFingerprint: d.MasterKeyFingerprint,
		Bip32Path:            append([]uint32(nil), d.Bip32Path...),
	}
}

// XPub is a global extended public key together with its origin.
type XPub struct {
	// ExtendedKey is the 78 byte BIP-32 serialization of the key.
	ExtendedKey []byte

	// MasterKeyFingerprint is the fingerprint of the master key.
	MasterKeyFingerprint uint32

	// Bip32Path is the path from the master key to ExtendedKey.
	Bip32Path []uint32
}

// NewXPub builds a global xpub record. The key must be public and its depth
// must match the length of the path.
func NewXPub(key *hdkey.ExtendedKey, master hdkey.Fingerprint,
	path hdkey.Path) (XPub, error) {

	if key.IsPrivate() {
		return XPub{}, fmt.Errorf("%w: key is private", ErrInvalidXPub)
	}

	if int(key.Depth()) != path.Len() {
		return XPub{}, fmt.Errorf("%w: key depth %d does not match "+
			"path %v", ErrInvalidXPub, key.Depth(), path)
	}

	return XPub{
		ExtendedKey:          key.Serialize(),
		MasterKeyFingerprint: master.Uint32(),
		Bip32Path:            path.Uint32s(),
	}, nil
}

func (x XPub) copy() XPub {
	return XPub{
		ExtendedKey:          bytes.Clone(x.ExtendedKey),
		MasterKeyFingerprint: x.MasterKeyFingerprint,
		Bip32Path:            append([]uint32(nil), x.Bip32Path...),
	}
}

// readBip32Derivation decodes a fingerprint followed by a path of little
// endian child numbers.
func readBip32Derivation(value []byte) (uint32, []uint32, error) {
	if len(value) < 4 || len(value)%4 != 0 {
		return 0, nil, fmt.Errorf("%w: derivation value of %d bytes",
			ErrMalformedPsbt, len(value))
	}

	master := binary.LittleEndian.Uint32(value[:4])

	var path []uint32
	for i := 4; i < len(value); i += 4 {
		path = append(path, binary.LittleEndian.Uint32(value[i:i+4]))
	}

	return master, path, nil
}

// serializeBip32Derivation is the reverse of readBip32Derivation.
func serializeBip32Derivation(master uint32, path []uint32) []byte {
	value := make([]byte, 4*(len(path)+1))
	binary.LittleEndian.PutUint32(value[:4], master)

	for i, child := range path {
		binary.LittleEndian.PutUint32(value[4*(i+1):], child)
	}

	return value
}

// validatePubKey checks that the key data holds a parseable public key.
func validatePubKey(pubKey []byte) error {
	if _, err := btcec.ParsePubKey(pubKey); err != nil {
		return fmt.Errorf("%w: invalid public key %x: %w",
			ErrMalformedPsbt, pubKey, err)
	}

	return nil
}
