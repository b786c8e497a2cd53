// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package hdkey

import "errors"

var (
	// ErrInvalidSeedLength is returned when a seed is shorter than
	// MinSeedBytes or longer than MaxSeedBytes.
	ErrInvalidSeedLength = errors.New("seed length must be between 128 " +
		"and 512 bits")

	// ErrUnusableSeed is returned when a seed hashes to a master key that
	// is not a valid private scalar. This happens with negligible
	// probability and a different seed must be used.
	ErrUnusableSeed = errors.New("unusable seed")

	// ErrInvalidHexEncoding is returned when a hex encoded seed cannot be
	// decoded.
	ErrInvalidHexEncoding = errors.New("invalid hex encoding")

	// ErrInvalidPathSyntax is returned when a textual derivation path
	// cannot be parsed.
	ErrInvalidPathSyntax = errors.New("invalid derivation path syntax")

	// ErrInvalidChildIndex is returned when an index does not fit in 31
	// bits.
	ErrInvalidChildIndex = errors.New("child index must be less than " +
		"2^31")

	// ErrHardenedFromPublic is returned when a hardened child is requested
	// from a public extended key.
	ErrHardenedFromPublic = errors.New("cannot derive a hardened key " +
		"from a public key")

	// ErrInvalidChildKey is returned when the derived child key is not
	// valid for the given index. BIP-32 asks the caller to move on to the
	// next index, see Deriver.DeriveNextValid.
	ErrInvalidChildKey = errors.New("the extended key at this index is " +
		"invalid")

	// ErrDepthOverflow is returned when deriving below a key whose depth
	// is already the maximum of 255.
	ErrDepthOverflow = errors.New("cannot derive a key with more than " +
		"255 indices in its path")

	// ErrNoNetwork is returned when a master key is requested without
	// network parameters.
	ErrNoNetwork = errors.New("network parameters are required")

	// ErrInvalidKeyEncoding is returned when a serialized extended key has
	// the wrong length, checksum or key data.
	ErrInvalidKeyEncoding = errors.New("invalid extended key encoding")

	// ErrUnknownHDVersion is returned when a serialized extended key uses
	// version bytes that do not belong to any known network.
	ErrUnknownHDVersion = errors.New("unknown hd key version")
)
