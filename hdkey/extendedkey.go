// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package hdkey

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	// serializedKeyLen is the length of a serialized public or private
	// extended key: version (4) || depth (1) || parent fingerprint (4) ||
	// child number (4) || chain code (32) || key data (33).
	serializedKeyLen = 4 + 1 + 4 + 4 + 32 + 33

	// checksumLen is the length of the base58 check suffix.
	checksumLen = 4

	// chainCodeLen is the length of a chain code.
	chainCodeLen = 32

	// maxDepth is the deepest a key can sit in a tree.
	maxDepth = 255
)

// Fingerprint is the first four bytes of HASH160 of a compressed public key.
// It identifies a parent key, or the master key of a PSBT derivation record.
type Fingerprint [4]byte

// FingerprintFromUint32 is the inverse of Fingerprint.Uint32.
func FingerprintFromUint32(v uint32) Fingerprint {
	var fp Fingerprint
	binary.LittleEndian.PutUint32(fp[:], v)

	return fp
}

// Uint32 returns the fingerprint as the little-endian integer carried in
// BIP-174 key origin records, so the serialized bytes equal the fingerprint
// bytes.
func (f Fingerprint) Uint32() uint32 {
	return binary.LittleEndian.Uint32(f[:])
}

// String returns the fingerprint as hex.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// ExtendedKey houses all the information needed to support a hierarchical
// deterministic extended key. An ExtendedKey is immutable: accessors hand out
// copies of the underlying byte slices.
type ExtendedKey struct {
	net       *chaincfg.Params
	key       []byte
	chainCode []byte
	parentFP  Fingerprint
	depth     uint8
	childNum  uint32
	isPrivate bool
}

// NewExtendedKey returns a new instance of an extended key with the given
// fields. No error checking is performed here as it's only intended to be a
// convenience method used to create a populated struct. The Deriver and
// ParseKey functions validate their inputs before calling it.
func NewExtendedKey(net *chaincfg.Params, key, chainCode []byte,
	parentFP Fingerprint, depth uint8, childNum uint32,
	isPrivate bool) *ExtendedKey {

	return &ExtendedKey{
		net:       net,
		key:       bytes.Clone(key),
		chainCode: bytes.Clone(chainCode),
		parentFP:  parentFP,
		depth:     depth,
		childNum:  childNum,
		isPrivate: isPrivate,
	}
}

// IsPrivate returns whether or not the extended key is a private extended key.
func (k *ExtendedKey) IsPrivate() bool {
	return k.isPrivate
}

// Key returns a copy of the raw key bytes: a 32-byte scalar for private keys
// and a 33-byte compressed point for public keys.
func (k *ExtendedKey) Key() []byte {
	return bytes.Clone(k.key)
}

// ChainCode returns a copy of the chain code.
func (k *ExtendedKey) ChainCode() []byte {
	return bytes.Clone(k.chainCode)
}

// Depth returns the number of derivation steps between the master key and
// this key.
func (k *ExtendedKey) Depth() uint8 {
	return k.depth
}

// ParentFingerprint returns the fingerprint of the parent key, zero for the
// master key.
func (k *ExtendedKey) ParentFingerprint() Fingerprint {
	return k.parentFP
}

// ChildNumber returns the child number used to derive this key.
func (k *ExtendedKey) ChildNumber() ChildNumber {
	return ChildNumberFromUint32(k.childNum)
}

// Net returns the network parameters the key is tagged with.
func (k *ExtendedKey) Net() *chaincfg.Params {
	return k.net
}

// version returns the HD version bytes for the key type and network.
func (k *ExtendedKey) version() [4]byte {
	if k.isPrivate {
		return k.net.HDPrivateKeyID
	}

	return k.net.HDPublicKeyID
}

// Serialize returns the 78-byte BIP-32 serialization of the key without the
// base58 checksum. This is the form carried in PSBT global xpub records.
func (k *ExtendedKey) Serialize() []byte {
	version := k.version()

	var childNumBytes [4]byte
	binary.BigEndian.PutUint32(childNumBytes[:], k.childNum)

	// The serialized format is:
	//   version (4) || depth (1) || parent fingerprint (4)) ||
	//   child num (4) || chain code (32) || key data (33)
	serializedBytes := make([]byte, 0, serializedKeyLen+checksumLen)
	serializedBytes = append(serializedBytes, version[:]...)
	serializedBytes = append(serializedBytes, k.depth)
	serializedBytes = append(serializedBytes, k.parentFP[:]...)
	serializedBytes = append(serializedBytes, childNumBytes[:]...)
	serializedBytes = append(serializedBytes, k.chainCode...)
	if k.isPrivate {
		serializedBytes = append(serializedBytes, 0x00)
	}
	serializedBytes = append(serializedBytes, k.key...)

	return serializedBytes
}

// String returns the extended key as a base58check encoded string, e.g.
// xprv... or tpub....
func (k *ExtendedKey) String() string {
	if len(k.key) == 0 {
		return "zeroed extended key"
	}

	serializedBytes := k.Serialize()
	checkSum := chainhash.DoubleHashB(serializedBytes)[:checksumLen]
	serializedBytes = append(serializedBytes, checkSum...)

	return base58.Encode(serializedBytes)
}

// knownNets lists the networks whose HD version bytes ParseKey recognizes.
// Testnet3, regtest and signet share version bytes, the first match wins.
var knownNets = []*chaincfg.Params{
	&chaincfg.MainNetParams,
	&chaincfg.TestNet3Params,
	&chaincfg.RegressionNetParams,
	&chaincfg.SigNetParams,
	&chaincfg.SimNetParams,
}

// netForVersion finds the network and key type for the given version bytes.
func netForVersion(version []byte) (*chaincfg.Params, bool, error) {
	for _, net := range knownNets {
		switch {
		case bytes.Equal(version, net.HDPrivateKeyID[:]):
			return net, true, nil

		case bytes.Equal(version, net.HDPublicKeyID[:]):
			return net, false, nil
		}
	}

	return nil, false, fmt.Errorf("%w: %x", ErrUnknownHDVersion, version)
}

// decodeKey splits a base58check serialized extended key into its fields.
func decodeKey(s string) (*ExtendedKey, error) {
	decoded := base58.Decode(s)
	if len(decoded) != serializedKeyLen+checksumLen {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidKeyEncoding,
			len(decoded))
	}

	payload := decoded[:len(decoded)-checksumLen]
	checkSum := decoded[len(decoded)-checksumLen:]
	expectedCheckSum := chainhash.DoubleHashB(payload)[:checksumLen]
	if !bytes.Equal(checkSum, expectedCheckSum) {
		return nil, fmt.Errorf("%w: bad checksum", ErrInvalidKeyEncoding)
	}

	return decodeKeyBytes(payload)
}

// decodeKeyBytes splits a 78-byte serialized extended key into its fields.
// The key data itself is validated against the curve by the caller.
func decodeKeyBytes(payload []byte) (*ExtendedKey, error) {
	if len(payload) != serializedKeyLen {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidKeyEncoding,
			len(payload))
	}

	net, isPrivate, err := netForVersion(payload[:4])
	if err != nil {
		return nil, err
	}

	var parentFP Fingerprint
	copy(parentFP[:], payload[5:9])

	depth := payload[4]
	childNum := binary.BigEndian.Uint32(payload[9:13])
	chainCode := payload[13:45]
	keyData := payload[45:78]

	// The master key has neither a parent nor a child number.
	if depth == 0 && (parentFP != Fingerprint{} || childNum != 0) {
		return nil, fmt.Errorf("%w: master key with parent data",
			ErrInvalidKeyEncoding)
	}

	if isPrivate {
		if keyData[0] != 0x00 {
			return nil, fmt.Errorf("%w: private key prefix %x",
				ErrInvalidKeyEncoding, keyData[0])
		}
		keyData = keyData[1:]
	}

	return NewExtendedKey(
		net, keyData, chainCode, parentFP, depth, childNum, isPrivate,
	), nil
}
