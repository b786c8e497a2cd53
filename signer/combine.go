// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package signer

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/btcsuite/hdpsbt/psbt"
)

// Combine merges packets that were signed independently into a new packet.
// All packets must describe the same unsigned transaction. The passed
// packets are not modified.
func (c *Coordinator) Combine(packets ...*psbt.Packet) (*psbt.Packet,
	error) {

	if len(packets) == 0 {
		return nil, fmt.Errorf("%w: no packets", ErrCombineMismatch)
	}

	for i, p := range packets {
		if err := p.SanityCheck(); err != nil {
			return nil, fmt.Errorf("packet %d: %w", i, err)
		}
	}

	res := packets[0].Copy()
	txid := res.UnsignedTx.TxHash()

	for i, other := range packets[1:] {
		otherID := other.UnsignedTx.TxHash()
		if otherID != txid {
			return nil, fmt.Errorf("%w: packet %d spends %v, not %v",
				ErrCombineMismatch, i+1, otherID, txid)
		}

		// Work on a copy so the merged packet never shares memory
		// with the inputs.
		other = other.Copy()

		if err := mergeGlobals(res, other); err != nil {
			return nil, fmt.Errorf("packet %d: %w", i+1, err)
		}

		for idx := range res.Inputs {
			err := mergeInput(&res.Inputs[idx], &other.Inputs[idx])
			if err != nil {
				return nil, fmt.Errorf("packet %d: input %d: %w",
					i+1, idx, err)
			}
		}

		for idx := range res.Outputs {
			err := mergeOutput(
				&res.Outputs[idx], &other.Outputs[idx],
			)
			if err != nil {
				return nil, fmt.Errorf("packet %d: output %d: %w",
					i+1, idx, err)
			}
		}
	}

	log.Debugf("Combined %d packets for %v", len(packets), txid)

	return res, nil
}

// mergeGlobals adds the xpubs and unknowns of other that res lacks. The same
// xpub must carry the same origin on both sides.
func mergeGlobals(res, other *psbt.Packet) error {
	for _, xpub := range other.XPubs {
		var known bool
		for _, have := range res.XPubs {
			if !bytes.Equal(have.ExtendedKey, xpub.ExtendedKey) {
				continue
			}

			if have.MasterKeyFingerprint != xpub.MasterKeyFingerprint ||
				!slices.Equal(have.Bip32Path, xpub.Bip32Path) {

				return fmt.Errorf("%w: conflicting origin for "+
					"xpub %x", ErrCombineMismatch,
					xpub.ExtendedKey)
			}

			known = true
			break
		}

		if !known {
			res.XPubs = append(res.XPubs, xpub)
		}
	}

	res.Unknowns = mergeUnknowns(res.Unknowns, other.Unknowns)

	return nil
}

// mergeUnknowns appends the entries of other whose key is not in res yet.
func mergeUnknowns(res, other []*psbt.Unknown) []*psbt.Unknown {
	for _, u := range other {
		var known bool
		for _, have := range res {
			if bytes.Equal(have.Key, u.Key) {
				known = true
				break
			}
		}

		if !known {
			res = append(res, u)
		}
	}

	return res
}

// mergeScript returns the script both sides agree on.
func mergeScript(res, other []byte, name string) ([]byte, error) {
	switch {
	case len(other) == 0:
		return res, nil

	case len(res) == 0:
		return other, nil

	case !bytes.Equal(res, other):
		return nil, fmt.Errorf("%w: conflicting %s", ErrCombineMismatch,
			name)

	default:
		return res, nil
	}
}

// mergeDerivations adds the derivations of other for keys res lacks.
func mergeDerivations(res, other []*psbt.Bip32Derivation) (
	[]*psbt.Bip32Derivation, error) {

	for _, d := range other {
		var known bool
		for _, have := range res {
			if !bytes.Equal(have.PubKey, d.PubKey) {
				continue
			}

			if have.MasterKeyFingerprint != d.MasterKeyFingerprint ||
				!have.Path().Equal(d.Path()) {

				return nil, fmt.Errorf("%w: conflicting "+
					"derivation for key %x",
					ErrCombineMismatch, d.PubKey)
			}

			known = true
			break
		}

		if !known {
			res = append(res, d)
		}
	}

	return res, nil
}

// mergeUtxos fills in the utxo information of res from other. Both sides
// must agree on any utxo they both carry.
func mergeUtxos(res, other *psbt.PInput) error {
	switch {
	case other.NonWitnessUtxo == nil:

	case res.NonWitnessUtxo == nil:
		res.NonWitnessUtxo = other.NonWitnessUtxo

	case res.NonWitnessUtxo.TxHash() != other.NonWitnessUtxo.TxHash():
		return fmt.Errorf("%w: conflicting non-witness utxo",
			ErrCombineMismatch)
	}

	switch {
	case other.WitnessUtxo == nil:

	case res.WitnessUtxo == nil:
		res.WitnessUtxo = other.WitnessUtxo

	case res.WitnessUtxo.Value != other.WitnessUtxo.Value ||
		!bytes.Equal(res.WitnessUtxo.PkScript,
			other.WitnessUtxo.PkScript):

		return fmt.Errorf("%w: conflicting witness utxo",
			ErrCombineMismatch)
	}

	return nil
}

// mergeInput merges other into res.
func mergeInput(res, other *psbt.PInput) error {
	if err := mergeUtxos(res, other); err != nil {
		return err
	}
	res.Unknowns = mergeUnknowns(res.Unknowns, other.Unknowns)

	// A finalized side wins, its signing data is no longer needed.
	switch {
	case res.IsFinalized():
		return nil

	case other.IsFinalized():
		res.FinalScriptSig = other.FinalScriptSig
		res.FinalScriptWitness = other.FinalScriptWitness
		res.ClearSigningData()

		return nil
	}

	if other.SighashType.IsSome() {
		theirs := other.SighashType.UnwrapOr(0)
		if res.SighashType.UnwrapOr(theirs) != theirs {
			return fmt.Errorf("%w: conflicting sighash type",
				ErrCombineMismatch)
		}
		res.SighashType = other.SighashType
	}

	for _, sig := range other.PartialSigs {
		existing, ok := res.FindPartialSig(sig.PubKey)
		switch {
		case !ok:
			res.InsertPartialSig(sig)

		case !bytes.Equal(existing.Signature, sig.Signature):
			return fmt.Errorf("key %x: %w", sig.PubKey,
				ErrDuplicateSignature)
		}
	}

	var err error
	res.RedeemScript, err = mergeScript(
		res.RedeemScript, other.RedeemScript, "redeem script",
	)
	if err != nil {
		return err
	}

	res.WitnessScript, err = mergeScript(
		res.WitnessScript, other.WitnessScript, "witness script",
	)
	if err != nil {
		return err
	}

	res.Bip32Derivation, err = mergeDerivations(
		res.Bip32Derivation, other.Bip32Derivation,
	)

	return err
}

// mergeOutput merges other into res.
func mergeOutput(res, other *psbt.POutput) error {
	var err error
	res.RedeemScript, err = mergeScript(
		res.RedeemScript, other.RedeemScript, "redeem script",
	)
	if err != nil {
		return err
	}

	res.WitnessScript, err = mergeScript(
		res.WitnessScript, other.WitnessScript, "witness script",
	)
	if err != nil {
		return err
	}

	res.Bip32Derivation, err = mergeDerivations(
		res.Bip32Derivation, other.Bip32Derivation,
	)
	if err != nil {
		return err
	}

	res.Unknowns = mergeUnknowns(res.Unknowns, other.Unknowns)

	return nil
}
