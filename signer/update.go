// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package signer

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/hdpsbt/multisig"
	"github.com/btcsuite/hdpsbt/psbt"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// InputUpdate carries the data an updater attaches to an input. Nil fields
// leave the input unchanged.
type InputUpdate struct {
	NonWitnessUtxo  *wire.MsgTx
	WitnessUtxo     *wire.TxOut
	RedeemScript    []byte
	WitnessScript   []byte
	SighashType     fn.Option[txscript.SigHashType]
	Bip32Derivation []*psbt.Bip32Derivation
}

// OutputUpdate carries the data an updater attaches to an output.
type OutputUpdate struct {
	RedeemScript    []byte
	WitnessScript   []byte
	Bip32Derivation []*psbt.Bip32Derivation
}

// UpdateInput attaches utxo information, scripts, the sighash type and key
// origins to input idx. Once the input knows its utxo, the scripts must
// hash to the utxo pkScript. The input is left unchanged on error.
func (c *Coordinator) UpdateInput(p *psbt.Packet, idx int,
	update InputUpdate) error {

	pIn, err := openInput(p, idx)
	if err != nil {
		return err
	}

	updated := pIn.Copy()

	if update.NonWitnessUtxo != nil {
		prevOut := p.UnsignedTx.TxIn[idx].PreviousOutPoint
		if update.NonWitnessUtxo.TxHash() != prevOut.Hash ||
			int(prevOut.Index) >= len(update.NonWitnessUtxo.TxOut) {

			return fmt.Errorf("input %d: %w", idx,
				psbt.ErrUtxoMismatch)
		}
		updated.NonWitnessUtxo = update.NonWitnessUtxo
	}

	if update.WitnessUtxo != nil {
		updated.WitnessUtxo = update.WitnessUtxo
	}
	if update.RedeemScript != nil {
		updated.RedeemScript = update.RedeemScript
	}
	if update.WitnessScript != nil {
		updated.WitnessScript = update.WitnessScript
	}
	update.SighashType.WhenSome(func(t txscript.SigHashType) {
		updated.SighashType = fn.Some(t)
	})

	updated.Bip32Derivation, err = c.addDerivations(
		updated.Bip32Derivation, update.Bip32Derivation,
	)
	if err != nil {
		return fmt.Errorf("input %d: %w", idx, err)
	}

	// Write the candidate back into a scratch packet, so the utxo lookup
	// sees the updated input.
	scratch := *p
	scratch.Inputs = append([]psbt.PInput(nil), p.Inputs...)
	scratch.Inputs[idx] = updated

	utxo, err := scratch.InputUtxo(idx)
	switch {
	case err == nil:
		err := checkScripts(
			utxo.PkScript, updated.RedeemScript,
			updated.WitnessScript,
		)
		if err != nil {
			return fmt.Errorf("input %d: %w", idx, err)
		}

	// Without utxo information there is nothing to check the scripts
	// against yet.
	case !errors.Is(err, ErrUnknownInputUtxo):
		return err
	}

	*pIn = updated

	log.Debugf("Updated input %d of %v", idx, p.UnsignedTx.TxHash())

	return nil
}

// UpdateOutput attaches scripts and key origins to output idx, typically a
// change output paying back into the multisig.
func (c *Coordinator) UpdateOutput(p *psbt.Packet, idx int,
	update OutputUpdate) error {

	if idx < 0 || idx >= len(p.Outputs) || idx >= len(p.UnsignedTx.TxOut) {
		return fmt.Errorf("output %d of %d: %w", idx, len(p.Outputs),
			ErrOutputIndexOutOfRange)
	}

	updated := p.Outputs[idx].Copy()
	if update.RedeemScript != nil {
		updated.RedeemScript = update.RedeemScript
	}
	if update.WitnessScript != nil {
		updated.WitnessScript = update.WitnessScript
	}

	var err error
	updated.Bip32Derivation, err = c.addDerivations(
		updated.Bip32Derivation, update.Bip32Derivation,
	)
	if err != nil {
		return fmt.Errorf("output %d: %w", idx, err)
	}

	err = checkScripts(
		p.UnsignedTx.TxOut[idx].PkScript, updated.RedeemScript,
		updated.WitnessScript,
	)
	if err != nil {
		return fmt.Errorf("output %d: %w", idx, err)
	}

	p.Outputs[idx] = updated

	return nil
}

// addDerivations adds or replaces the origin records in have with the ones
// in add, after checking each public key.
func (c *Coordinator) addDerivations(have,
	add []*psbt.Bip32Derivation) ([]*psbt.Bip32Derivation, error) {

	for _, d := range add {
		if err := c.engine.ValidatePubKey(d.PubKey); err != nil {
			return nil, fmt.Errorf("derivation for %x: %w", d.PubKey,
				err)
		}

		var replaced bool
		for i, existing := range have {
			if bytes.Equal(existing.PubKey, d.PubKey) {
				have[i] = d
				replaced = true

				break
			}
		}

		if !replaced {
			have = append(have, d)
		}
	}

	return have, nil
}

// checkScripts verifies that the attached scripts commit to pkScript.
func checkScripts(pkScript, redeemScript, witnessScript []byte) error {
	var (
		expected []byte
		err      error
	)
	switch {
	case len(witnessScript) != 0 && len(redeemScript) != 0:
		var program []byte
		program, err = multisig.WitnessScriptHash(witnessScript)
		if err != nil {
			return err
		}

		if !bytes.Equal(program, redeemScript) {
			return fmt.Errorf("%w: redeem script is not the "+
				"witness program", ErrScriptMismatch)
		}

		expected, err = multisig.ScriptHash(redeemScript)

	case len(witnessScript) != 0:
		expected, err = multisig.WitnessScriptHash(witnessScript)

	case len(redeemScript) != 0:
		expected, err = multisig.ScriptHash(redeemScript)

	default:
		return nil
	}
	if err != nil {
		return err
	}

	if !bytes.Equal(expected, pkScript) {
		return fmt.Errorf("%w: %x", ErrScriptMismatch, pkScript)
	}

	return nil
}
