// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package hdkey

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/unicode/norm"
)

const (
	// mnemonicRounds is the PBKDF2 iteration count defined by BIP-39.
	mnemonicRounds = 2048

	// mnemonicSaltPrefix is prepended to the passphrase to form the salt.
	mnemonicSaltPrefix = "mnemonic"
)

// SeedFromHex decodes a hex encoded seed. The length is checked by
// Deriver.NewMaster, not here.
func SeedFromHex(s string) ([]byte, error) {
	seed, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHexEncoding, err)
	}

	return seed, nil
}

// SeedFromMnemonic stretches a BIP-39 mnemonic sentence and optional
// passphrase into a 64-byte seed. The words are not checked against a word
// list, so any sentence yields a seed.
func SeedFromMnemonic(mnemonic, passphrase string) []byte {
	words := strings.Fields(mnemonic)
	sentence := norm.NFKD.String(strings.Join(words, " "))
	salt := norm.NFKD.String(mnemonicSaltPrefix + passphrase)

	return pbkdf2.Key(
		[]byte(sentence), []byte(salt), mnemonicRounds, MaxSeedBytes,
		sha512.New,
	)
}
