// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package signer

import (
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/hdpsbt/psbt"
)

// SigHasher computes the digest a signer commits to for one input of a
// packet.
type SigHasher interface {
	// SigHash returns the signature hash of input idx for the given
	// sighash type.
	SigHash(p *psbt.Packet, idx int,
		hashType txscript.SigHashType) ([]byte, error)
}

// DefaultSigHasher computes BIP-143 segwit v0 digests for inputs that carry
// a witness script and legacy digests over the redeem script otherwise.
type DefaultSigHasher struct{}

// A compile-time assertion to ensure DefaultSigHasher meets the SigHasher
// interface.
var _ SigHasher = (*DefaultSigHasher)(nil)

// SigHash returns the signature hash of input idx.
func (DefaultSigHasher) SigHash(p *psbt.Packet, idx int,
	hashType txscript.SigHashType) ([]byte, error) {

	pIn, err := input(p, idx)
	if err != nil {
		return nil, err
	}

	switch {
	case len(pIn.WitnessScript) != 0:
		utxo, err := p.InputUtxo(idx)
		if err != nil {
			return nil, err
		}

		sigHashes := txscript.NewTxSigHashes(
			p.UnsignedTx, prevOutFetcher(p),
		)

		return txscript.CalcWitnessSigHash(
			pIn.WitnessScript, sigHashes, hashType, p.UnsignedTx,
			idx, utxo.Value,
		)

	case len(pIn.RedeemScript) != 0:
		return txscript.CalcSignatureHash(
			pIn.RedeemScript, hashType, p.UnsignedTx, idx,
		)

	default:
		return nil, fmt.Errorf("input %d: %w", idx, ErrMissingScript)
	}
}

// prevOutFetcher returns a txscript.PrevOutFetcher built from the UTXO
// information in a packet. Inputs without UTXO information get an empty
// placeholder, segwit v0 digests only use the amount of the signed input.
func prevOutFetcher(p *psbt.Packet) *txscript.MultiPrevOutFetcher {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for idx, txIn := range p.UnsignedTx.TxIn {
		utxo, err := p.InputUtxo(idx)
		if err != nil {
			utxo = &wire.TxOut{}
		}

		fetcher.AddPrevOut(txIn.PreviousOutPoint, utxo)
	}

	return fetcher
}
