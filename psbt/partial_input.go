// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// PartialSig is a signature for one of the keys of an input, as it would be
// pushed to the stack (DER signature followed by the sighash byte).
type PartialSig struct {
	PubKey    []byte
	Signature []byte
}

func sigKey(s *PartialSig) []byte {
	return s.PubKey
}

// PInput holds all the signing data attached to one input of the packet.
type PInput struct {
	NonWitnessUtxo *wire.MsgTx
	WitnessUtxo    *wire.TxOut

	// PartialSigs is kept sorted by public key, so the resulting set does
	// not depend on the order signers contributed.
	PartialSigs []*PartialSig

	SighashType     fn.Option[txscript.SigHashType]
	RedeemScript    []byte
	WitnessScript   []byte
	Bip32Derivation []*Bip32Derivation

	FinalScriptSig     []byte
	FinalScriptWitness wire.TxWitness

	Unknowns []*Unknown
}

// IsFinalized returns true once the input carries final unlocking data.
func (pi *PInput) IsFinalized() bool {
	return len(pi.FinalScriptSig) != 0 || len(pi.FinalScriptWitness) != 0
}

// FindPartialSig returns the signature stored for pubKey, if any.
func (pi *PInput) FindPartialSig(pubKey []byte) (*PartialSig, bool) {
	i, found := pi.partialSigIndex(pubKey)
	if !found {
		return nil, false
	}

	return pi.PartialSigs[i], true
}

// partialSigIndex returns the position of pubKey within the sorted partial
// signatures, or the position it would be inserted at.
func (pi *PInput) partialSigIndex(pubKey []byte) (int, bool) {
	i := sort.Search(len(pi.PartialSigs), func(i int) bool {
		return bytes.Compare(pi.PartialSigs[i].PubKey, pubKey) >= 0
	})

	found := i < len(pi.PartialSigs) &&
		bytes.Equal(pi.PartialSigs[i].PubKey, pubKey)

	return i, found
}

// InsertPartialSig stores the signature, replacing an existing one for the
// same key, and keeps the set sorted.
func (pi *PInput) InsertPartialSig(sig *PartialSig) {
	i, found := pi.partialSigIndex(sig.PubKey)
	if found {
		pi.PartialSigs[i] = sig
		return
	}

	pi.PartialSigs = append(pi.PartialSigs, nil)
	copy(pi.PartialSigs[i+1:], pi.PartialSigs[i:])
	pi.PartialSigs[i] = sig
}

// FindBip32Derivation returns the origin record of pubKey, if any.
func (pi *PInput) FindBip32Derivation(pubKey []byte) (*Bip32Derivation,
	bool) {

	for _, d := range pi.Bip32Derivation {
		if bytes.Equal(d.PubKey, pubKey) {
			return d, true
		}
	}

	return nil, false
}

// ClearSigningData drops everything that is only needed until the input is
// finalized. UTXO information, final fields and unknowns are kept.
func (pi *PInput) ClearSigningData() {
	pi.PartialSigs = nil
	pi.SighashType = fn.None[txscript.SigHashType]()
	pi.RedeemScript = nil
	pi.WitnessScript = nil
	pi.Bip32Derivation = nil
}

// Copy returns a deep copy of the input.
func (pi *PInput) Copy() PInput {
	res := PInput{
		SighashType:    pi.SighashType,
		RedeemScript:   bytes.Clone(pi.RedeemScript),
		WitnessScript:  bytes.Clone(pi.WitnessScript),
		FinalScriptSig: bytes.Clone(pi.FinalScriptSig),
		Unknowns:       copyUnknowns(pi.Unknowns),
	}

	if pi.NonWitnessUtxo != nil {
		res.NonWitnessUtxo = pi.NonWitnessUtxo.Copy()
	}
	if pi.WitnessUtxo != nil {
		res.WitnessUtxo = wire.NewTxOut(
			pi.WitnessUtxo.Value, bytes.Clone(pi.WitnessUtxo.PkScript),
		)
	}

	for _, sig := range pi.PartialSigs {
		res.PartialSigs = append(res.PartialSigs, &PartialSig{
			PubKey:    bytes.Clone(sig.PubKey),
			Signature: bytes.Clone(sig.Signature),
		})
	}

	for _, d := range pi.Bip32Derivation {
		res.Bip32Derivation = append(res.Bip32Derivation, d.copy())
	}

	if pi.FinalScriptWitness != nil {
		res.FinalScriptWitness = make(
			wire.TxWitness, 0, len(pi.FinalScriptWitness),
		)
		for _, item := range pi.FinalScriptWitness {
			res.FinalScriptWitness = append(
				res.FinalScriptWitness, append([]byte{}, item...),
			)
		}
	}

	return res
}

// deserialize reads the input map from r.
func (pi *PInput) deserialize(r io.Reader) error {
	keys := newMapReader()
	for {
		kv, err := keys.next(r)
		if err != nil {
			return err
		}

		// The separator ends the map.
		if kv == nil {
			break
		}

		if err := pi.decodeEntry(kv); err != nil {
			return err
		}
	}

	pi.PartialSigs = sortedByKey(pi.PartialSigs, sigKey)
	pi.Bip32Derivation = sortedByKey(pi.Bip32Derivation, derivationKey)

	return nil
}

// decodeEntry interprets a single key/value pair of the input map.
func (pi *PInput) decodeEntry(kv *kvPair) error {
	switch InputType(kv.keyType) {
	case NonWitnessUtxoType:
		if err := expectNoKeyData(kv, "non-witness utxo"); err != nil {
			return err
		}

		tx, err := deserializeTx(kv.value, true)
		if err != nil {
			return fmt.Errorf("%w: non-witness utxo: %w",
				ErrMalformedPsbt, err)
		}
		pi.NonWitnessUtxo = tx

	case WitnessUtxoType:
		if err := expectNoKeyData(kv, "witness utxo"); err != nil {
			return err
		}

		txOut, err := deserializeTxOut(kv.value)
		if err != nil {
			return err
		}
		pi.WitnessUtxo = txOut

	case PartialSigType:
		if err := validatePubKey(kv.keyData); err != nil {
			return err
		}
		if len(kv.value) == 0 {
			return fmt.Errorf("%w: empty partial signature",
				ErrMalformedPsbt)
		}

		pi.PartialSigs = append(pi.PartialSigs, &PartialSig{
			PubKey:    kv.keyData,
			Signature: kv.value,
		})

	case SighashType:
		if err := expectNoKeyData(kv, "sighash type"); err != nil {
			return err
		}
		if len(kv.value) != 4 {
			return fmt.Errorf("%w: sighash type of %d bytes",
				ErrMalformedPsbt, len(kv.value))
		}

		pi.SighashType = fn.Some(txscript.SigHashType(
			binary.LittleEndian.Uint32(kv.value),
		))

	case RedeemScriptInputType:
		if err := expectNoKeyData(kv, "redeem script"); err != nil {
			return err
		}
		pi.RedeemScript = kv.value

	case WitnessScriptInputType:
		if err := expectNoKeyData(kv, "witness script"); err != nil {
			return err
		}
		pi.WitnessScript = kv.value

	case Bip32DerivationInputType:
		if err := validatePubKey(kv.keyData); err != nil {
			return err
		}

		master, path, err := readBip32Derivation(kv.value)
		if err != nil {
			return err
		}

		pi.Bip32Derivation = append(pi.Bip32Derivation,
			&Bip32Derivation{
				PubKey:               kv.keyData,
				MasterKeyFingerprint: master,
				Bip32Path:            path,
			},
		)

	case FinalScriptSigType:
		if err := expectNoKeyData(kv, "final scriptSig"); err != nil {
			return err
		}
		pi.FinalScriptSig = kv.value

	case FinalScriptWitnessType:
		if err := expectNoKeyData(kv, "final witness"); err != nil {
			return err
		}

		witness, err := deserializeWitness(kv.value)
		if err != nil {
			return err
		}
		pi.FinalScriptWitness = witness

	// Everything else, including taproot and proprietary keys, is kept
	// verbatim.
	default:
		pi.Unknowns = append(pi.Unknowns, kv.unknown())
	}

	return nil
}

// serialize writes the input map, terminated by the separator, to w.
func (pi *PInput) serialize(w io.Writer) error {
	if pi.NonWitnessUtxo != nil {
		tx, err := serializeTx(pi.NonWitnessUtxo, true)
		if err != nil {
			return err
		}

		err = writeKVPair(w, uint8(NonWitnessUtxoType), nil, tx)
		if err != nil {
			return err
		}
	}

	if pi.WitnessUtxo != nil {
		txOut, err := serializeTxOut(pi.WitnessUtxo)
		if err != nil {
			return err
		}

		err = writeKVPair(w, uint8(WitnessUtxoType), nil, txOut)
		if err != nil {
			return err
		}
	}

	sigs := sortedByKey(pi.PartialSigs, sigKey)
	for _, sig := range sigs {
		err := writeKVPair(
			w, uint8(PartialSigType), sig.PubKey, sig.Signature,
		)
		if err != nil {
			return err
		}
	}

	var err error
	pi.SighashType.WhenSome(func(sigHash txscript.SigHashType) {
		var value [4]byte
		binary.LittleEndian.PutUint32(value[:], uint32(sigHash))

		err = writeKVPair(w, uint8(SighashType), nil, value[:])
	})
	if err != nil {
		return err
	}

	if pi.RedeemScript != nil {
		err := writeKVPair(
			w, uint8(RedeemScriptInputType), nil, pi.RedeemScript,
		)
		if err != nil {
			return err
		}
	}

	if pi.WitnessScript != nil {
		err := writeKVPair(
			w, uint8(WitnessScriptInputType), nil, pi.WitnessScript,
		)
		if err != nil {
			return err
		}
	}

	derivations := sortedByKey(pi.Bip32Derivation, derivationKey)
	for _, d := range derivations {
		err := writeKVPair(
			w, uint8(Bip32DerivationInputType), d.PubKey,
			serializeBip32Derivation(
				d.MasterKeyFingerprint, d.Bip32Path,
			),
		)
		if err != nil {
			return err
		}
	}

	if pi.FinalScriptSig != nil {
		err := writeKVPair(
			w, uint8(FinalScriptSigType), nil, pi.FinalScriptSig,
		)
		if err != nil {
			return err
		}
	}

	if pi.FinalScriptWitness != nil {
		witness, err := serializeWitness(pi.FinalScriptWitness)
		if err != nil {
			return err
		}

		err = writeKVPair(w, uint8(FinalScriptWitnessType), nil, witness)
		if err != nil {
			return err
		}
	}

	if err := writeUnknowns(w, pi.Unknowns); err != nil {
		return err
	}

	return writeSeparator(w)
}
