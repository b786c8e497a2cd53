// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package signer

import (
	"bytes"
	"context"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/hdpsbt/multisig"
	"github.com/btcsuite/hdpsbt/psbt"
	"github.com/davecgh/go-spew/spew"
	"golang.org/x/sync/errgroup"
)

// Finalize turns the partial signatures of input idx into final unlocking
// data. Exactly threshold signatures are used, in the order their keys
// appear in the script. Once finalized, the signing data of the input is
// dropped and the input can no longer be changed.
func (c *Coordinator) Finalize(p *psbt.Packet, idx int) error {
	pIn, err := openInput(p, idx)
	if err != nil {
		return err
	}

	script, ok := signingScript(pIn)
	if !ok {
		return fmt.Errorf("input %d: %w", idx, ErrMissingScript)
	}

	ms, err := multisig.ParseMultisig(script)
	if err != nil {
		return fmt.Errorf("input %d: %w", idx, err)
	}

	// OP_CHECKMULTISIG expects the signatures in key order, so we walk
	// the script keys and pick the first threshold signatures we have.
	sigs := make([][]byte, 0, ms.Threshold)
	for _, key := range ms.PubKeys {
		if len(sigs) == ms.Threshold {
			break
		}

		sig, ok := pIn.FindPartialSig(key)
		if !ok {
			continue
		}

		err := checkSighash(pIn, sig.Signature)
		if err != nil {
			return fmt.Errorf("input %d: key %x: %w", idx, key, err)
		}

		sigs = append(sigs, sig.Signature)
	}

	if len(sigs) < ms.Threshold {
		return fmt.Errorf("input %d: have %d of %d signatures: %w", idx,
			len(sigs), ms.Threshold, ErrInsufficientSignatures)
	}

	switch {
	// P2WSH, optionally nested in P2SH. The witness starts with the
	// dummy element consumed by OP_CHECKMULTISIG.
	case len(pIn.WitnessScript) != 0:
		witness := make(wire.TxWitness, 0, len(sigs)+2)
		witness = append(witness, []byte{})
		witness = append(witness, sigs...)
		witness = append(witness, pIn.WitnessScript)

		var sigScript []byte
		if len(pIn.RedeemScript) != 0 {
			sigScript, err = txscript.NewScriptBuilder().
				AddData(pIn.RedeemScript).
				Script()
			if err != nil {
				return fmt.Errorf("input %d: %w", idx, err)
			}
		}

		pIn.FinalScriptWitness = witness
		pIn.FinalScriptSig = sigScript

	// Bare P2SH.
	default:
		builder := txscript.NewScriptBuilder().AddOp(txscript.OP_0)
		for _, sig := range sigs {
			builder.AddData(sig)
		}
		builder.AddData(pIn.RedeemScript)

		sigScript, err := builder.Script()
		if err != nil {
			return fmt.Errorf("input %d: %w", idx, err)
		}

		pIn.FinalScriptSig = sigScript
	}

	pIn.ClearSigningData()

	log.Debugf("Finalized input %d of %v with %d-of-%d signatures", idx,
		p.UnsignedTx.TxHash(), ms.Threshold, len(ms.PubKeys))

	return nil
}

// checkSighash makes sure a signature uses the sighash type requested by
// the input, if any.
func checkSighash(pIn *psbt.PInput, sig []byte) error {
	if len(sig) == 0 {
		return ErrInvalidSignature
	}

	got := txscript.SigHashType(sig[len(sig)-1])
	want := pIn.SighashType.UnwrapOr(got)
	if got != want {
		return fmt.Errorf("%w: got %v, want %v", ErrSighashMismatch, got,
			want)
	}

	return nil
}

// FinalizeAll finalizes every input that is not final yet. Inputs do not
// depend on each other, so they are finalized concurrently. The first
// failure is returned, annotated with its input index. Inputs that could be
// finalized stay finalized even if another input fails.
func (c *Coordinator) FinalizeAll(ctx context.Context, p *psbt.Packet) error {
	var eg errgroup.Group
	for idx := range p.Inputs {
		if err := ctx.Err(); err != nil {
			return err
		}

		if p.Inputs[idx].IsFinalized() {
			continue
		}

		eg.Go(func() error {
			return c.Finalize(p, idx)
		})
	}

	return eg.Wait()
}

// Extract returns the network transaction of a fully finalized packet. The
// packet itself is left untouched.
func (c *Coordinator) Extract(p *psbt.Packet) (*wire.MsgTx, error) {
	if err := p.SanityCheck(); err != nil {
		return nil, err
	}

	for idx := range p.Inputs {
		if !p.Inputs[idx].IsFinalized() {
			return nil, fmt.Errorf("input %d: %w", idx,
				ErrNotFullyFinalized)
		}
	}

	tx := p.UnsignedTx.Copy()
	for idx, txIn := range tx.TxIn {
		pIn := &p.Inputs[idx]

		txIn.SignatureScript = bytes.Clone(pIn.FinalScriptSig)

		if len(pIn.FinalScriptWitness) != 0 {
			txIn.Witness = make(
				wire.TxWitness, 0, len(pIn.FinalScriptWitness),
			)
			for _, item := range pIn.FinalScriptWitness {
				txIn.Witness = append(
					txIn.Witness, append([]byte{}, item...),
				)
			}
		}
	}

	log.Debugf("Extracted transaction %v", tx.TxHash())
	log.Tracef("Extracted transaction: %v", newLogClosure(func() string {
		return spew.Sdump(tx)
	}))

	return tx, nil
}
