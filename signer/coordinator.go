// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package signer coordinates the signers of a multisig PSBT. Each party
// derives its private key from its own seed, attaches a signature to the
// inputs it can sign, and once enough signatures are present the inputs are
// finalized and the network transaction is extracted.
//
// The typical 2-of-3 workflow looks as follows:
//
//	c := signer.NewCoordinator(engine, signer.DefaultSigHasher{}, deriver)
//
//	// Every signer works on its own copy and signs what it can.
//	_, err := c.SignWithKey(aliceCopy, aliceMaster)
//	_, err = c.SignWithKey(bobCopy, bobMaster)
//
//	// The copies are merged, finalized and extracted.
//	combined, err := c.Combine(aliceCopy, bobCopy)
//	err = c.FinalizeAll(ctx, combined)
//	tx, err := c.Extract(combined)
//
// Inputs are independent of each other. Different inputs of one packet may
// be signed and finalized concurrently, while concurrent changes to the same
// input need external locking.
package signer

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/hdpsbt/hdkey"
	"github.com/btcsuite/hdpsbt/multisig"
	"github.com/btcsuite/hdpsbt/psbt"
	"github.com/btcsuite/hdpsbt/sigengine"
	"github.com/davecgh/go-spew/spew"
)

var (
	// ErrInputIndexOutOfRange is returned when an input index does not
	// exist in the packet.
	ErrInputIndexOutOfRange = errors.New("input index out of range")

	// ErrOutputIndexOutOfRange is returned when an output index does not
	// exist in the packet.
	ErrOutputIndexOutOfRange = errors.New("output index out of range")

	// ErrInputFinalized is returned when an already finalized input would
	// be changed.
	ErrInputFinalized = errors.New("input already finalized")

	// ErrUnknownInputUtxo is returned when an input carries neither a
	// witness nor a non-witness utxo.
	ErrUnknownInputUtxo = psbt.ErrUnknownInputUtxo

	// ErrMissingScript is returned when an input has neither a witness
	// script nor a redeem script to sign against.
	ErrMissingScript = errors.New("input has no witness or redeem script")

	// ErrNotPrivate is returned when a signing key is public only.
	ErrNotPrivate = errors.New("signing key is not private")

	// ErrKeyMismatch is returned when the signing key does not belong to
	// the public key it is supposed to sign for.
	ErrKeyMismatch = errors.New("signing key does not match public key")

	// ErrKeyNotInScript is returned when a public key is not part of the
	// multisig script of the input.
	ErrKeyNotInScript = errors.New("public key is not part of the script")

	// ErrDuplicateSignature is returned when a different signature is
	// added for a key that already signed the input.
	ErrDuplicateSignature = errors.New("input already carries a " +
		"different signature for this key")

	// ErrInvalidSignature is returned when an externally produced
	// signature does not verify.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrSighashMismatch is returned when a signature does not use the
	// sighash type requested by the input.
	ErrSighashMismatch = errors.New("signature sighash type does not " +
		"match the input")

	// ErrInsufficientSignatures is returned when an input is finalized
	// with fewer signatures than the script threshold.
	ErrInsufficientSignatures = errors.New("not enough signatures to " +
		"satisfy the script")

	// ErrNotFullyFinalized is returned when extracting a packet that
	// still has inputs without final data.
	ErrNotFullyFinalized = errors.New("packet is not fully finalized")

	// ErrCombineMismatch is returned when packets that do not describe
	// the same transaction are combined, or carry conflicting data.
	ErrCombineMismatch = errors.New("packets cannot be combined")

	// ErrScriptMismatch is returned when the scripts attached to an input
	// or output do not hash to its pkScript.
	ErrScriptMismatch = errors.New("script does not match pkScript")
)

// InputState describes how far an input has progressed towards being
// spendable.
type InputState uint8

const (
	// StateUnsigned means no signature for any script key is present.
	StateUnsigned InputState = iota

	// StatePartiallySigned means some, but fewer than threshold,
	// signatures are present.
	StatePartiallySigned

	// StateSatisfiable means enough signatures are present to finalize.
	StateSatisfiable

	// StateFinalized means the input carries final unlocking data.
	StateFinalized
)

// String returns a human readable name for the state.
func (s InputState) String() string {
	switch s {
	case StateUnsigned:
		return "unsigned"

	case StatePartiallySigned:
		return "partially signed"

	case StateSatisfiable:
		return "satisfiable"

	case StateFinalized:
		return "finalized"

	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Coordinator adds signatures to multisig packets, finalizes their inputs
// and extracts the final transaction. It holds no per-packet state and is
// safe for concurrent use.
type Coordinator struct {
	engine  sigengine.Engine
	hasher  SigHasher
	deriver *hdkey.Deriver
}

// NewCoordinator returns a coordinator that signs with engine, computes
// digests with hasher and derives signing keys with deriver.
func NewCoordinator(engine sigengine.Engine, hasher SigHasher,
	deriver *hdkey.Deriver) *Coordinator {

	return &Coordinator{
		engine:  engine,
		hasher:  hasher,
		deriver: deriver,
	}
}

// input returns input idx of the packet.
func input(p *psbt.Packet, idx int) (*psbt.PInput, error) {
	if idx < 0 || idx >= len(p.Inputs) || idx >= len(p.UnsignedTx.TxIn) {
		return nil, fmt.Errorf("input %d of %d: %w", idx, len(p.Inputs),
			ErrInputIndexOutOfRange)
	}

	return &p.Inputs[idx], nil
}

// openInput returns input idx of the packet as long as it is not
// finalized yet.
func openInput(p *psbt.Packet, idx int) (*psbt.PInput, error) {
	pIn, err := input(p, idx)
	if err != nil {
		return nil, err
	}

	if pIn.IsFinalized() {
		return nil, fmt.Errorf("input %d: %w", idx, ErrInputFinalized)
	}

	return pIn, nil
}

// signingScript returns the multisig script an input is signed against:
// the witness script for segwit spends and the redeem script otherwise.
func signingScript(pIn *psbt.PInput) ([]byte, bool) {
	if len(pIn.WitnessScript) != 0 {
		return pIn.WitnessScript, true
	}

	if len(pIn.RedeemScript) != 0 {
		return pIn.RedeemScript, true
	}

	return nil, false
}

// signableInput runs the checks shared by every way of adding a signature
// and returns the input together with its parsed multisig script.
func signableInput(p *psbt.Packet, idx int,
	pubKey []byte) (*psbt.PInput, *multisig.Script, error) {

	pIn, err := openInput(p, idx)
	if err != nil {
		return nil, nil, err
	}

	utxo, err := p.InputUtxo(idx)
	if err != nil {
		return nil, nil, err
	}

	// The scripts must commit to the output being spent.
	err = checkScripts(utxo.PkScript, pIn.RedeemScript, pIn.WitnessScript)
	if err != nil {
		return nil, nil, fmt.Errorf("input %d: %w", idx, err)
	}

	script, ok := signingScript(pIn)
	if !ok {
		return nil, nil, fmt.Errorf("input %d: %w", idx,
			ErrMissingScript)
	}

	ms, err := multisig.ParseMultisig(script)
	if err != nil {
		return nil, nil, fmt.Errorf("input %d: %w", idx, err)
	}

	if ms.KeyIndex(pubKey) < 0 {
		return nil, nil, fmt.Errorf("input %d: key %x: %w", idx,
			pubKey, ErrKeyNotInScript)
	}

	return pIn, ms, nil
}

// InputState reports the state of input idx.
func (c *Coordinator) InputState(p *psbt.Packet, idx int) (InputState,
	error) {

	pIn, err := input(p, idx)
	if err != nil {
		return 0, err
	}

	if pIn.IsFinalized() {
		return StateFinalized, nil
	}

	if len(pIn.PartialSigs) == 0 {
		return StateUnsigned, nil
	}

	// Without a multisig script we cannot tell whether the signatures
	// are enough.
	script, ok := signingScript(pIn)
	if !ok {
		return StatePartiallySigned, nil
	}

	ms, err := multisig.ParseMultisig(script)
	if err != nil {
		return 0, fmt.Errorf("input %d: %w", idx, err)
	}

	var signed int
	for _, key := range ms.PubKeys {
		if _, ok := pIn.FindPartialSig(key); ok {
			signed++
		}
	}

	switch {
	case signed == 0:
		return StateUnsigned, nil

	case signed < ms.Threshold:
		return StatePartiallySigned, nil

	default:
		return StateSatisfiable, nil
	}
}

// insertSig stores the signature on the input. A byte-identical signature
// for a key that already signed is a no-op, a different one is rejected.
func insertSig(pIn *psbt.PInput, idx int, sig *psbt.PartialSig) error {
	existing, ok := pIn.FindPartialSig(sig.PubKey)
	if ok {
		if bytes.Equal(existing.Signature, sig.Signature) {
			log.Debugf("Input %d already carries this signature for "+
				"key %x", idx, sig.PubKey)

			return nil
		}

		return fmt.Errorf("input %d: key %x: %w", idx, sig.PubKey,
			ErrDuplicateSignature)
	}

	pIn.InsertPartialSig(sig)

	log.Debugf("Added signature for key %x to input %d", sig.PubKey, idx)

	return nil
}

// AddSignature signs input idx for pubKey with the private key owner and
// attaches the signature. The input sighash type is used when set,
// SIGHASH_ALL otherwise.
func (c *Coordinator) AddSignature(p *psbt.Packet, idx int, pubKey []byte,
	owner *hdkey.ExtendedKey) error {

	pIn, _, err := signableInput(p, idx, pubKey)
	if err != nil {
		return err
	}

	if !owner.IsPrivate() {
		return fmt.Errorf("input %d: %w", idx, ErrNotPrivate)
	}

	ownerPub, err := c.deriver.PubKey(owner)
	if err != nil {
		return fmt.Errorf("input %d: %w", idx, err)
	}

	if !bytes.Equal(ownerPub, pubKey) {
		return fmt.Errorf("input %d: key %x: %w", idx, pubKey,
			ErrKeyMismatch)
	}

	hashType := pIn.SighashType.UnwrapOr(txscript.SigHashAll)

	digest, err := c.hasher.SigHash(p, idx, hashType)
	if err != nil {
		return fmt.Errorf("input %d: sighash: %w", idx, err)
	}

	sig, err := c.engine.Sign(owner.Key(), digest)
	if err != nil {
		return fmt.Errorf("input %d: sign: %w", idx, err)
	}

	return insertSig(pIn, idx, &psbt.PartialSig{
		PubKey:    bytes.Clone(pubKey),
		Signature: append(sig, byte(hashType)),
	})
}

// AddPartialSig attaches a signature produced elsewhere. The signature must
// end with its sighash byte and must verify against the input digest.
func (c *Coordinator) AddPartialSig(p *psbt.Packet, idx int, pubKey,
	sig []byte) error {

	pIn, _, err := signableInput(p, idx, pubKey)
	if err != nil {
		return err
	}

	if len(sig) < 2 {
		return fmt.Errorf("input %d: %w: too short", idx,
			ErrInvalidSignature)
	}

	hashType := txscript.SigHashType(sig[len(sig)-1])
	expected := pIn.SighashType.UnwrapOr(hashType)
	if hashType != expected {
		return fmt.Errorf("input %d: %w: got %v, want %v", idx,
			ErrSighashMismatch, hashType, expected)
	}

	digest, err := c.hasher.SigHash(p, idx, hashType)
	if err != nil {
		return fmt.Errorf("input %d: sighash: %w", idx, err)
	}

	if !c.engine.Verify(pubKey, digest, sig[:len(sig)-1]) {
		return fmt.Errorf("input %d: key %x: %w", idx, pubKey,
			ErrInvalidSignature)
	}

	return insertSig(pIn, idx, &psbt.PartialSig{
		PubKey:    bytes.Clone(pubKey),
		Signature: bytes.Clone(sig),
	})
}

// SignWithKey signs every input that lists a key derived from root in its
// BIP-32 derivations, matching on the master fingerprint. Errors of single
// inputs are collected while the remaining inputs are still signed. The
// indexes of the inputs that now carry a signature from root are returned.
func (c *Coordinator) SignWithKey(p *psbt.Packet,
	root *hdkey.ExtendedKey) ([]int, error) {

	if !root.IsPrivate() {
		return nil, ErrNotPrivate
	}

	rootFP, err := c.deriver.Fingerprint(root)
	if err != nil {
		return nil, err
	}

	var (
		signed []int
		errs   []error
	)
	for idx := range p.Inputs {
		pIn := &p.Inputs[idx]
		if pIn.IsFinalized() {
			continue
		}

		var signedInput bool
		for _, d := range pIn.Bip32Derivation {
			if d.Fingerprint() != rootFP {
				continue
			}

			err := c.signDerivation(p, idx, root, d)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			signedInput = true
		}

		if signedInput {
			signed = append(signed, idx)
		}
	}

	log.Debugf("Key %v signed inputs %v of %v", rootFP, signed,
		p.UnsignedTx.TxHash())
	log.Tracef("Packet after signing: %v", newLogClosure(func() string {
		return spew.Sdump(p)
	}))

	return signed, errors.Join(errs...)
}

// signDerivation derives the key of one derivation record and signs with it.
func (c *Coordinator) signDerivation(p *psbt.Packet, idx int,
	root *hdkey.ExtendedKey, d *psbt.Bip32Derivation) error {

	key, err := c.deriver.DerivePath(root, d.Path())
	if err != nil {
		return fmt.Errorf("input %d: %w", idx, err)
	}

	pubKey, err := c.deriver.PubKey(key)
	if err != nil {
		return fmt.Errorf("input %d: %w", idx, err)
	}

	if !bytes.Equal(pubKey, d.PubKey) {
		return fmt.Errorf("input %d: path %v yields %x, not %x: %w",
			idx, d.Path(), pubKey, d.PubKey, ErrKeyMismatch)
	}

	return c.AddSignature(p, idx, d.PubKey, key)
}
