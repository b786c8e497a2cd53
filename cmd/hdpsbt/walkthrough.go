// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/hdpsbt/hdkey"
	"github.com/btcsuite/hdpsbt/multisig"
	"github.com/btcsuite/hdpsbt/pkg/btcunit"
	"github.com/btcsuite/hdpsbt/psbt"
	"github.com/btcsuite/hdpsbt/sigengine"
	"github.com/btcsuite/hdpsbt/signer"
)

// walkthroughResult is what the demonstration produced.
type walkthroughResult struct {
	masterFP     hdkey.Fingerprint
	accountXPub  string
	pubKeys      [][]byte
	address      btcutil.Address
	unsignedPsbt string
	finalPsbt    string
	tx           *wire.MsgTx
	weight       btcunit.Weight
	feeRate      btcunit.FeeRate
}

// runWalkthrough demonstrates the full multisig flow from a single seed:
// the account key is derived, one key per cosigner is derived below it, the
// multisig output is funded by a synthetic transaction, and a packet
// spending it is signed by threshold cosigners, finalized and extracted.
func runWalkthrough(ctx context.Context, cfg *config,
	w io.Writer) (*walkthroughResult, error) {

	engine := sigengine.New()
	deriver := hdkey.NewDeriver(engine)
	coordinator := signer.NewCoordinator(
		engine, signer.DefaultSigHasher{}, deriver,
	)

	master, err := deriver.NewMaster(cfg.seed, cfg.net)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}

	masterFP, err := deriver.Fingerprint(master)
	if err != nil {
		return nil, err
	}

	account, err := deriver.DerivePath(master, cfg.path)
	if err != nil {
		return nil, fmt.Errorf("account key: %w", err)
	}

	accountPub, err := deriver.Neuter(account)
	if err != nil {
		return nil, err
	}

	res := &walkthroughResult{
		masterFP:    masterFP,
		accountXPub: accountPub.String(),
	}

	fmt.Fprintf(w, "Master fingerprint: %v\n", masterFP)
	fmt.Fprintf(w, "Account %v xpub: %v\n", cfg.path, res.accountXPub)

	// Every cosigner key lives at <account>/<cosigner>/0. The public keys
	// come from the account xpub alone, the private keys are what each
	// cosigner derives on its own device.
	keys := make([]*hdkey.ExtendedKey, 0, cfg.Cosigners)
	paths := make([]hdkey.Path, 0, cfg.Cosigners)
	for i := 0; i < cfg.Cosigners; i++ {
		rel := hdkey.NewPath(hdkey.Normal(uint32(i)), hdkey.Normal(0))

		pub, err := deriver.DerivePath(accountPub, rel)
		if err != nil {
			return nil, fmt.Errorf("cosigner %d: %w", i, err)
		}

		priv, err := deriver.DerivePath(account, rel)
		if err != nil {
			return nil, fmt.Errorf("cosigner %d: %w", i, err)
		}

		keys = append(keys, priv)
		paths = append(paths, cfg.path.Child(rel.Children()...))
		res.pubKeys = append(res.pubKeys, pub.Key())

		fmt.Fprintf(w, "Cosigner %d %v: %x\n", i, paths[i], pub.Key())
	}

	script, err := multisig.BuildMultisig(res.pubKeys, cfg.Threshold)
	if err != nil {
		return nil, err
	}

	pkScript, redeemScript, err := multisig.PkScript(script, cfg.kind)
	if err != nil {
		return nil, err
	}

	res.address, err = multisig.Address(script, cfg.kind, cfg.net)
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(w, "%d-of-%d %v address: %v\n", cfg.Threshold,
		cfg.Cosigners, cfg.kind, res.address)

	// There is no chain backend, so the output is funded by a synthetic
	// transaction that is never broadcast.
	fundingTx := wire.NewMsgTx(2)
	fundingTx.AddTxIn(wire.NewTxIn(
		wire.NewOutPoint(&chainhash.Hash{}, 0), nil, nil,
	))
	fundingTx.AddTxOut(wire.NewTxOut(int64(cfg.Amount.Amount), pkScript))

	fundingHash := fundingTx.TxHash()
	spendTx := wire.NewMsgTx(2)
	spendTx.AddTxIn(wire.NewTxIn(
		wire.NewOutPoint(&fundingHash, 0), nil, nil,
	))
	spendTx.AddTxOut(wire.NewTxOut(
		int64(cfg.Amount.Amount-cfg.Fee.Amount), pkScript,
	))

	err = txrules.CheckOutput(spendTx.TxOut[0], txrules.DefaultRelayFeePerKb)
	if err != nil {
		return nil, fmt.Errorf("spend output of %v: %w",
			cfg.Amount.Amount-cfg.Fee.Amount, err)
	}

	packet, err := psbt.NewUnsigned(spendTx)
	if err != nil {
		return nil, err
	}

	xpub, err := psbt.NewXPub(accountPub, masterFP, cfg.path)
	if err != nil {
		return nil, err
	}
	packet.XPubs = append(packet.XPubs, xpub)

	derivations := make([]*psbt.Bip32Derivation, 0, len(keys))
	for i, pubKey := range res.pubKeys {
		derivations = append(derivations, psbt.NewBip32Derivation(
			pubKey, masterFP, paths[i],
		))
	}

	update := signer.InputUpdate{
		NonWitnessUtxo:  fundingTx,
		RedeemScript:    redeemScript,
		Bip32Derivation: derivations,
	}
	if cfg.kind != multisig.KindP2SH {
		update.WitnessUtxo = fundingTx.TxOut[0]
		update.WitnessScript = script
	}
	if err := coordinator.UpdateInput(packet, 0, update); err != nil {
		return nil, err
	}

	// The change output pays back into the same multisig.
	outUpdate := signer.OutputUpdate{Bip32Derivation: derivations}
	switch cfg.kind {
	case multisig.KindP2SH:
		outUpdate.RedeemScript = redeemScript

	case multisig.KindNestedP2WSH:
		outUpdate.RedeemScript = redeemScript
		outUpdate.WitnessScript = script

	default:
		outUpdate.WitnessScript = script
	}
	if err := coordinator.UpdateOutput(packet, 0, outUpdate); err != nil {
		return nil, err
	}

	res.unsignedPsbt, err = packet.B64Encode()
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(w, "Unsigned PSBT: %v\n", res.unsignedPsbt)

	// Each cosigner signs its own copy of the packet, the copies are
	// then combined.
	copies := make([]*psbt.Packet, 0, cfg.Threshold)
	for i := 0; i < int(cfg.Threshold); i++ {
		signed := packet.Copy()

		err := coordinator.AddSignature(
			signed, 0, res.pubKeys[i], keys[i],
		)
		if err != nil {
			return nil, fmt.Errorf("cosigner %d: %w", i, err)
		}

		copies = append(copies, signed)
		log.Infof("Cosigner %d signed %v", i, spendTx.TxHash())
	}

	combined, err := coordinator.Combine(copies...)
	if err != nil {
		return nil, err
	}

	if err := coordinator.FinalizeAll(ctx, combined); err != nil {
		return nil, err
	}

	res.finalPsbt, err = combined.B64Encode()
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(w, "Final PSBT: %v\n", res.finalPsbt)

	res.tx, err = coordinator.Extract(combined)
	if err != nil {
		return nil, err
	}

	if err := verifySpend(res.tx, fundingTx.TxOut[0]); err != nil {
		return nil, err
	}

	res.weight = btcunit.TxWeight(res.tx)
	res.feeRate = btcunit.CalcFeeRate(cfg.Fee.Amount, res.weight)
	if res.feeRate.Cmp(btcunit.MinRelayFeeRate) < 0 {
		log.Warnf("Fee rate %v is below the minimum relay fee rate %v",
			res.feeRate, btcunit.MinRelayFeeRate)
	}
	fmt.Fprintf(w, "Weight: %v, fee %v, fee rate %v\n", res.weight,
		cfg.Fee.Amount, res.feeRate)

	var buf bytes.Buffer
	if err := res.tx.Serialize(&buf); err != nil {
		return nil, err
	}
	fmt.Fprintf(w, "Transaction %v: %v\n", res.tx.TxHash(),
		hex.EncodeToString(buf.Bytes()))

	return res, nil
}

// verifySpend executes the first input of tx against the output it spends.
func verifySpend(tx *wire.MsgTx, prevOut *wire.TxOut) error {
	fetcher := txscript.NewCannedPrevOutputFetcher(
		prevOut.PkScript, prevOut.Value,
	)

	vm, err := txscript.NewEngine(
		prevOut.PkScript, tx, 0, txscript.StandardVerifyFlags, nil,
		txscript.NewTxSigHashes(tx, fetcher), prevOut.Value, fetcher,
	)
	if err != nil {
		return err
	}

	if err := vm.Execute(); err != nil {
		return fmt.Errorf("extracted transaction does not verify: %w",
			err)
	}

	return nil
}
