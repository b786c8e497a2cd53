// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package multisig builds and parses m-of-n OP_CHECKMULTISIG locking scripts
// and wraps them in the P2WSH, P2SH and nested P2SH-P2WSH output forms.
package multisig

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

const (
	// MaxKeys is the largest number of keys a standard multisig script
	// may commit to.
	MaxKeys = 16
)

var (
	// ErrInvalidMultisigParams is returned when the threshold or the key
	// set cannot form a valid multisig script.
	ErrInvalidMultisigParams = errors.New("invalid multisig parameters")

	// ErrNotMultisig is returned when a script is not of the form
	// OP_m <pubkey>... OP_n OP_CHECKMULTISIG.
	ErrNotMultisig = errors.New("script is not a multisig script")

	// ErrUnknownKind is returned for an output kind this package does not
	// know how to build.
	ErrUnknownKind = errors.New("unknown output kind")
)

// Kind selects how a multisig script is committed to in an output.
type Kind uint8

const (
	// KindP2WSH commits to the script as a native segwit v0 witness
	// script hash.
	KindP2WSH Kind = iota

	// KindNestedP2WSH wraps a P2WSH program inside a P2SH output.
	KindNestedP2WSH

	// KindP2SH commits to the script as a legacy script hash.
	KindP2SH
)

// String returns a human readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindP2WSH:
		return "p2wsh"

	case KindNestedP2WSH:
		return "p2sh-p2wsh"

	case KindP2SH:
		return "p2sh"

	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Script is a parsed multisig script.
type Script struct {
	// Threshold is the number of signatures required.
	Threshold int

	// PubKeys are the compressed public keys in script order.
	PubKeys [][]byte
}

// KeyIndex returns the position of pubKey in the script, or -1.
func (s *Script) KeyIndex(pubKey []byte) int {
	for i, k := range s.PubKeys {
		if bytes.Equal(k, pubKey) {
			return i
		}
	}

	return -1
}

// BuildMultisig returns the script OP_threshold <pubKeys...> OP_n
// OP_CHECKMULTISIG. Keys are used in the given order; callers that want
// BIP-67 sorted multisig should call SortKeys first.
func BuildMultisig(pubKeys [][]byte, threshold uint8) ([]byte, error) {
	switch {
	case len(pubKeys) == 0:
		return nil, fmt.Errorf("%w: no keys", ErrInvalidMultisigParams)

	case len(pubKeys) > MaxKeys:
		return nil, fmt.Errorf("%w: %d keys, at most %d allowed",
			ErrInvalidMultisigParams, len(pubKeys), MaxKeys)

	case threshold == 0:
		return nil, fmt.Errorf("%w: threshold is zero",
			ErrInvalidMultisigParams)

	case int(threshold) > len(pubKeys):
		return nil, fmt.Errorf("%w: threshold %d exceeds %d keys",
			ErrInvalidMultisigParams, threshold, len(pubKeys))
	}

	builder := txscript.NewScriptBuilder()
	builder.AddInt64(int64(threshold))
	for i, key := range pubKeys {
		if err := checkPubKey(key); err != nil {
			return nil, fmt.Errorf("%w: key %d: %v",
				ErrInvalidMultisigParams, i, err)
		}

		builder.AddData(key)
	}
	builder.AddInt64(int64(len(pubKeys)))
	builder.AddOp(txscript.OP_CHECKMULTISIG)

	return builder.Script()
}

// checkPubKey ensures key is a compressed point on the curve.
func checkPubKey(key []byte) error {
	if len(key) != btcec.PubKeyBytesLenCompressed {
		return fmt.Errorf("key length %d is not compressed", len(key))
	}

	_, err := btcec.ParsePubKey(key)

	return err
}

// smallInt decodes OP_1 through OP_16.
func smallInt(op byte) (int, bool) {
	if op < txscript.OP_1 || op > txscript.OP_16 {
		return 0, false
	}

	return int(op-txscript.OP_1) + 1, true
}

// ParseMultisig parses a script built by BuildMultisig, or by any other
// implementation producing the same standard form with compressed keys.
func ParseMultisig(script []byte) (*Script, error) {
	var (
		ops  []byte
		data [][]byte
	)

	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		ops = append(ops, tokenizer.Opcode())
		data = append(data, tokenizer.Data())
	}
	if err := tokenizer.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotMultisig, err)
	}

	// The shortest form is OP_1 <key> OP_1 OP_CHECKMULTISIG.
	if len(ops) < 4 || ops[len(ops)-1] != txscript.OP_CHECKMULTISIG {
		return nil, ErrNotMultisig
	}

	threshold, ok := smallInt(ops[0])
	if !ok {
		return nil, fmt.Errorf("%w: bad threshold opcode", ErrNotMultisig)
	}

	numKeys, ok := smallInt(ops[len(ops)-2])
	if !ok || numKeys != len(ops)-3 || threshold > numKeys {
		return nil, fmt.Errorf("%w: bad key count", ErrNotMultisig)
	}

	keys := make([][]byte, 0, numKeys)
	for _, key := range data[1 : len(data)-2] {
		if err := checkPubKey(key); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotMultisig, err)
		}

		keys = append(keys, key)
	}

	return &Script{Threshold: threshold, PubKeys: keys}, nil
}

// SortKeys returns a copy of pubKeys in BIP-67 lexicographic order.
func SortKeys(pubKeys [][]byte) [][]byte {
	sorted := make([][]byte, len(pubKeys))
	copy(sorted, pubKeys)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i], sorted[j]) < 0
	})

	return sorted
}

// WitnessScriptHash returns the P2WSH pkScript OP_0 <sha256(script)>.
func WitnessScriptHash(script []byte) ([]byte, error) {
	h := sha256.Sum256(script)

	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(h[:]).
		Script()
}

// ScriptHash returns the P2SH pkScript OP_HASH160 <hash160(script)> OP_EQUAL.
func ScriptHash(script []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(script)).
		AddOp(txscript.OP_EQUAL).
		Script()
}

// PkScript returns the output script committing to the multisig script in the
// given form, along with the P2SH redeem script if one is needed to spend it.
func PkScript(script []byte, kind Kind) ([]byte, []byte, error) {
	switch kind {
	case KindP2WSH:
		pkScript, err := WitnessScriptHash(script)
		return pkScript, nil, err

	case KindNestedP2WSH:
		// The redeem script is the witness program, the output
		// commits to the redeem script.
		redeemScript, err := WitnessScriptHash(script)
		if err != nil {
			return nil, nil, err
		}

		pkScript, err := ScriptHash(redeemScript)
		if err != nil {
			return nil, nil, err
		}

		return pkScript, redeemScript, nil

	case KindP2SH:
		pkScript, err := ScriptHash(script)
		return pkScript, script, err

	default:
		return nil, nil, fmt.Errorf("%w: %v", ErrUnknownKind, kind)
	}
}

// Address returns the address paying to the multisig script in the given form.
func Address(script []byte, kind Kind,
	net *chaincfg.Params) (btcutil.Address, error) {

	switch kind {
	case KindP2WSH:
		h := sha256.Sum256(script)
		return btcutil.NewAddressWitnessScriptHash(h[:], net)

	case KindNestedP2WSH:
		redeemScript, err := WitnessScriptHash(script)
		if err != nil {
			return nil, err
		}

		return btcutil.NewAddressScriptHash(redeemScript, net)

	case KindP2SH:
		return btcutil.NewAddressScriptHash(script, net)

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownKind, kind)
	}
}
