// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package psbt implements the Partially Signed Bitcoin Transaction format
// defined in BIP-174. A Packet wraps an unsigned transaction together with
// the per-input and per-output data each party needs in order to add its
// signatures, and can be passed between signers in its binary or base64
// encoding.
//
// Key/value pairs this package does not interpret, such as proprietary or
// taproot keys, are preserved byte-for-byte and in their original order.
package psbt

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// psbtMagic is the separator that starts every serialized packet, "psbt"
// followed by 0xff.
var psbtMagic = [5]byte{0x70, 0x73, 0x62, 0x74, 0xff}

var (
	// ErrMalformedPsbt is returned, possibly wrapped with more detail,
	// for any serialization that does not follow BIP-174.
	ErrMalformedPsbt = errors.New("malformed psbt")

	// ErrNonEmptySigFields is returned when the transaction handed to the
	// packet already carries a scriptSig or witness.
	ErrNonEmptySigFields = errors.New("unsigned transaction has " +
		"non-empty signature fields")

	// ErrStructuralMismatch is returned when the per-input or per-output
	// entries do not line up with the unsigned transaction, or an input
	// carries conflicting data.
	ErrStructuralMismatch = errors.New("psbt structure does not match " +
		"the unsigned transaction")

	// ErrUnknownInputUtxo is returned when the value spent by an input
	// cannot be determined.
	ErrUnknownInputUtxo = errors.New("input utxo unknown")

	// ErrUtxoMismatch is returned when a non-witness utxo does not
	// belong to the outpoint spent by its input.
	ErrUtxoMismatch = errors.New("non-witness utxo does not match the " +
		"spent outpoint")

	// ErrInvalidXPub is returned when a global xpub record cannot be
	// built from the passed key.
	ErrInvalidXPub = errors.New("invalid xpub record")

	// ErrUnsupportedVersion is returned for packets that declare a
	// version other than 0.
	ErrUnsupportedVersion = errors.New("unsupported psbt version")
)

// Packet is the in-memory form of a PSBT: one global map followed by one
// map per input and one map per output.
type Packet struct {
	// UnsignedTx is the transaction being signed. Its inputs never carry
	// a scriptSig or witness.
	UnsignedTx *wire.MsgTx

	// Inputs holds one entry per input of UnsignedTx.
	Inputs []PInput

	// Outputs holds one entry per output of UnsignedTx.
	Outputs []POutput

	// XPubs are the global extended public keys with their origin.
	XPubs []XPub

	// Version is the declared packet version. Only version 0 exists.
	Version uint32

	// Unknowns are the global entries this package does not interpret.
	Unknowns []*Unknown
}

// checkUnsigned returns ErrNonEmptySigFields if any input of the
// transaction carries signature data.
func checkUnsigned(tx *wire.MsgTx) error {
	for i, txIn := range tx.TxIn {
		if len(txIn.SignatureScript) != 0 || len(txIn.Witness) != 0 {
			return fmt.Errorf("input %d: %w", i, ErrNonEmptySigFields)
		}
	}

	return nil
}

// NewUnsigned creates a packet around an unsigned transaction, with empty
// entries for every input and output.
func NewUnsigned(tx *wire.MsgTx) (*Packet, error) {
	if err := checkUnsigned(tx); err != nil {
		return nil, err
	}

	return &Packet{
		UnsignedTx: tx,
		Inputs:     make([]PInput, len(tx.TxIn)),
		Outputs:    make([]POutput, len(tx.TxOut)),
	}, nil
}

// NewFromRawBytes parses a packet from r, decoding it from base64 first if
// b64 is set.
func NewFromRawBytes(r io.Reader, b64 bool) (*Packet, error) {
	if b64 {
		r = base64.NewDecoder(base64.StdEncoding, r)
	}

	return Parse(r)
}

// Parse reads a binary packet from r. Every format violation is reported
// as an error wrapping ErrMalformedPsbt.
func Parse(r io.Reader) (*Packet, error) {
	var magic [5]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("%w: read magic: %w", ErrMalformedPsbt,
			err)
	}
	if magic != psbtMagic {
		return nil, fmt.Errorf("%w: invalid magic %x", ErrMalformedPsbt,
			magic[:])
	}

	p := &Packet{}
	if err := p.deserializeGlobal(r); err != nil {
		return nil, err
	}

	// With the unsigned transaction known, we can read exactly one map
	// per input and one per output.
	p.Inputs = make([]PInput, len(p.UnsignedTx.TxIn))
	for i := range p.Inputs {
		if err := p.Inputs[i].deserialize(r); err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
	}

	p.Outputs = make([]POutput, len(p.UnsignedTx.TxOut))
	for i := range p.Outputs {
		if err := p.Outputs[i].deserialize(r); err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
	}

	// Nothing may follow the last output map.
	var extra [1]byte
	if n, _ := r.Read(extra[:]); n != 0 {
		return nil, fmt.Errorf("%w: trailing data after last output",
			ErrMalformedPsbt)
	}

	log.Debugf("Parsed psbt %v with %d inputs, %d outputs and %d "+
		"xpubs", p.UnsignedTx.TxHash(), len(p.Inputs), len(p.Outputs),
		len(p.XPubs))

	return p, nil
}

// deserializeGlobal reads the global map.
func (p *Packet) deserializeGlobal(r io.Reader) error {
	keys := newMapReader()
	for {
		kv, err := keys.next(r)
		if err != nil {
			return fmt.Errorf("global: %w", err)
		}

		if kv == nil {
			break
		}

		switch GlobalType(kv.keyType) {
		case UnsignedTxType:
			err := expectNoKeyData(kv, "unsigned tx")
			if err != nil {
				return err
			}

			tx, err := deserializeTx(kv.value, false)
			if err != nil {
				return fmt.Errorf("%w: unsigned tx: %w",
					ErrMalformedPsbt, err)
			}

			if err := checkUnsigned(tx); err != nil {
				return fmt.Errorf("%w: %w", ErrMalformedPsbt, err)
			}
			p.UnsignedTx = tx

		case XPubType:
			if len(kv.keyData) != xpubLen {
				return fmt.Errorf("%w: xpub key of %d bytes",
					ErrMalformedPsbt, len(kv.keyData))
			}

			master, path, err := readBip32Derivation(kv.value)
			if err != nil {
				return err
			}

			// The depth byte follows the four version bytes.
			if int(kv.keyData[4]) != len(path) {
				return fmt.Errorf("%w: xpub depth %d does not "+
					"match path length %d", ErrMalformedPsbt,
					kv.keyData[4], len(path))
			}

			p.XPubs = append(p.XPubs, XPub{
				ExtendedKey:          kv.keyData,
				MasterKeyFingerprint: master,
				Bip32Path:            path,
			})

		case VersionType:
			if err := expectNoKeyData(kv, "version"); err != nil {
				return err
			}
			if len(kv.value) != 4 {
				return fmt.Errorf("%w: version of %d bytes",
					ErrMalformedPsbt, len(kv.value))
			}

			version := binary.LittleEndian.Uint32(kv.value)
			if version != 0 {
				return fmt.Errorf("%w: %w %d", ErrMalformedPsbt,
					ErrUnsupportedVersion, version)
			}
			p.Version = version

		default:
			p.Unknowns = append(p.Unknowns, kv.unknown())
		}
	}

	if p.UnsignedTx == nil {
		return fmt.Errorf("%w: missing unsigned tx", ErrMalformedPsbt)
	}

	return nil
}

// Serialize writes the binary encoding of the packet to w.
func (p *Packet) Serialize(w io.Writer) error {
	if err := p.SanityCheck(); err != nil {
		return err
	}

	if _, err := w.Write(psbtMagic[:]); err != nil {
		return err
	}

	tx, err := serializeTx(p.UnsignedTx, false)
	if err != nil {
		return err
	}
	if err := writeKVPair(w, uint8(UnsignedTxType), nil, tx); err != nil {
		return err
	}

	for _, xpub := range p.XPubs {
		err := writeKVPair(
			w, uint8(XPubType), xpub.ExtendedKey,
			serializeBip32Derivation(
				xpub.MasterKeyFingerprint, xpub.Bip32Path,
			),
		)
		if err != nil {
			return err
		}
	}

	// Version 0 is the default and is left implicit.
	if p.Version != 0 {
		var version [4]byte
		binary.LittleEndian.PutUint32(version[:], p.Version)

		err := writeKVPair(w, uint8(VersionType), nil, version[:])
		if err != nil {
			return err
		}
	}

	if err := writeUnknowns(w, p.Unknowns); err != nil {
		return err
	}
	if err := writeSeparator(w); err != nil {
		return err
	}

	for i := range p.Inputs {
		if err := p.Inputs[i].serialize(w); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
	}

	for i := range p.Outputs {
		if err := p.Outputs[i].serialize(w); err != nil {
			return fmt.Errorf("output %d: %w", i, err)
		}
	}

	return nil
}

// B64Encode returns the base64 encoding of the packet, the form in which
// packets are usually exchanged between signers.
func (p *Packet) B64Encode() (string, error) {
	var buf bytes.Buffer
	if err := p.Serialize(&buf); err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// SanityCheck verifies that the packet lines up with its unsigned
// transaction, that the transaction is still unsigned and that no input
// mixes final data with signing data or references a foreign utxo.
func (p *Packet) SanityCheck() error {
	if p.UnsignedTx == nil {
		return fmt.Errorf("%w: missing unsigned tx",
			ErrStructuralMismatch)
	}

	if len(p.Inputs) != len(p.UnsignedTx.TxIn) {
		return fmt.Errorf("%w: %d inputs for %d transaction inputs",
			ErrStructuralMismatch, len(p.Inputs),
			len(p.UnsignedTx.TxIn))
	}

	if len(p.Outputs) != len(p.UnsignedTx.TxOut) {
		return fmt.Errorf("%w: %d outputs for %d transaction outputs",
			ErrStructuralMismatch, len(p.Outputs),
			len(p.UnsignedTx.TxOut))
	}

	if err := checkUnsigned(p.UnsignedTx); err != nil {
		return err
	}

	for i := range p.Inputs {
		pIn := &p.Inputs[i]

		if pIn.IsFinalized() && len(pIn.PartialSigs) != 0 {
			return fmt.Errorf("input %d: %w: final and partial "+
				"signatures both present", i,
				ErrStructuralMismatch)
		}

		if pIn.NonWitnessUtxo == nil {
			continue
		}

		prevOut := p.UnsignedTx.TxIn[i].PreviousOutPoint
		if pIn.NonWitnessUtxo.TxHash() != prevOut.Hash {
			return fmt.Errorf("input %d: %w", i, ErrUtxoMismatch)
		}
	}

	return nil
}

// IsComplete returns true once every input carries final unlocking data.
func (p *Packet) IsComplete() bool {
	for i := range p.Inputs {
		if !p.Inputs[i].IsFinalized() {
			return false
		}
	}

	return true
}

// InputUtxo returns the output spent by input idx, taken from the witness
// utxo when present and from the full previous transaction otherwise.
func (p *Packet) InputUtxo(idx int) (*wire.TxOut, error) {
	if idx < 0 || idx >= len(p.Inputs) ||
		idx >= len(p.UnsignedTx.TxIn) {

		return nil, fmt.Errorf("%w: no input %d", ErrStructuralMismatch,
			idx)
	}

	pIn := &p.Inputs[idx]
	if pIn.WitnessUtxo != nil {
		return pIn.WitnessUtxo, nil
	}

	if pIn.NonWitnessUtxo == nil {
		return nil, fmt.Errorf("input %d: %w", idx, ErrUnknownInputUtxo)
	}

	prevOut := p.UnsignedTx.TxIn[idx].PreviousOutPoint
	if pIn.NonWitnessUtxo.TxHash() != prevOut.Hash ||
		int(prevOut.Index) >= len(pIn.NonWitnessUtxo.TxOut) {

		return nil, fmt.Errorf("input %d: %w", idx, ErrUtxoMismatch)
	}

	return pIn.NonWitnessUtxo.TxOut[prevOut.Index], nil
}

// Fee returns the sum of the input values minus the sum of the output
// values. Every input must carry utxo information.
func (p *Packet) Fee() (btcutil.Amount, error) {
	var sumIn int64
	for i := range p.Inputs {
		utxo, err := p.InputUtxo(i)
		if err != nil {
			return 0, err
		}

		sumIn += utxo.Value
	}

	var sumOut int64
	for _, txOut := range p.UnsignedTx.TxOut {
		sumOut += txOut.Value
	}

	return btcutil.Amount(sumIn - sumOut), nil
}

// Copy returns a deep copy of the packet that shares no memory with p, so
// it can be handed to another signer.
func (p *Packet) Copy() *Packet {
	res := &Packet{
		Version:  p.Version,
		Unknowns: copyUnknowns(p.Unknowns),
	}

	if p.UnsignedTx != nil {
		res.UnsignedTx = p.UnsignedTx.Copy()
	}

	if p.Inputs != nil {
		res.Inputs = make([]PInput, len(p.Inputs))
		for i := range p.Inputs {
			res.Inputs[i] = p.Inputs[i].Copy()
		}
	}

	if p.Outputs != nil {
		res.Outputs = make([]POutput, len(p.Outputs))
		for i := range p.Outputs {
			res.Outputs[i] = p.Outputs[i].Copy()
		}
	}

	for _, xpub := range p.XPubs {
		res.XPubs = append(res.XPubs, xpub.copy())
	}

	return res
}
