// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"io"
)

// POutput holds the data that helps signers recognize one of the outputs,
// typically a change output paying back into the same multisig.
type POutput struct {
	RedeemScript    []byte
	WitnessScript   []byte
	Bip32Derivation []*Bip32Derivation
	Unknowns        []*Unknown
}

// Copy returns a deep copy of the output.
func (po *POutput) Copy() POutput {
	res := POutput{
		RedeemScript:  bytes.Clone(po.RedeemScript),
		WitnessScript: bytes.Clone(po.WitnessScript),
		Unknowns:      copyUnknowns(po.Unknowns),
	}

	for _, d := range po.Bip32Derivation {
		res.Bip32Derivation = append(res.Bip32Derivation, d.copy())
	}

	return res
}

// deserialize reads the output map from r.
func (po *POutput) deserialize(r io.Reader) error {
	keys := newMapReader()
	for {
		kv, err := keys.next(r)
		if err != nil {
			return err
		}

		if kv == nil {
			po.Bip32Derivation = sortedByKey(
				po.Bip32Derivation, derivationKey,
			)

			return nil
		}

		switch OutputType(kv.keyType) {
		case RedeemScriptOutputType:
			err := expectNoKeyData(kv, "output redeem script")
			if err != nil {
				return err
			}
			po.RedeemScript = kv.value

		case WitnessScriptOutputType:
			err := expectNoKeyData(kv, "output witness script")
			if err != nil {
				return err
			}
			po.WitnessScript = kv.value

		case Bip32DerivationOutputType:
			if err := validatePubKey(kv.keyData); err != nil {
				return err
			}

			master, path, err := readBip32Derivation(kv.value)
			if err != nil {
				return err
			}

			po.Bip32Derivation = append(po.Bip32Derivation,
				&Bip32Derivation{
					PubKey:               kv.keyData,
					MasterKeyFingerprint: master,
					Bip32Path:            path,
				},
			)

		default:
			po.Unknowns = append(po.Unknowns, kv.unknown())
		}
	}
}

// serialize writes the output map, terminated by the separator, to w.
func (po *POutput) serialize(w io.Writer) error {
	if po.RedeemScript != nil {
		err := writeKVPair(
			w, uint8(RedeemScriptOutputType), nil, po.RedeemScript,
		)
		if err != nil {
			return err
		}
	}

	if po.WitnessScript != nil {
		err := writeKVPair(
			w, uint8(WitnessScriptOutputType), nil, po.WitnessScript,
		)
		if err != nil {
			return err
		}
	}

	derivations := sortedByKey(po.Bip32Derivation, derivationKey)
	for _, d := range derivations {
		err := writeKVPair(
			w, uint8(Bip32DerivationOutputType), d.PubKey,
			serializeBip32Derivation(
				d.MasterKeyFingerprint, d.Bip32Path,
			),
		)
		if err != nil {
			return err
		}
	}

	if err := writeUnknowns(w, po.Unknowns); err != nil {
		return err
	}

	return writeSeparator(w)
}
