// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package signer

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/hdpsbt/hdkey"
	"github.com/btcsuite/hdpsbt/multisig"
	"github.com/btcsuite/hdpsbt/psbt"
	"github.com/btcsuite/hdpsbt/sigengine"
	"github.com/stretchr/testify/require"
)

const (
	// fundingValue is the value of every multisig output spent by the
	// test packet.
	fundingValue = 100000

	// numSigners is the number of cosigners of the test multisig.
	numSigners = 3

	// threshold is the number of signatures the test multisig needs.
	threshold = 2
)

// cosigner is one party of the test multisig.
type cosigner struct {
	master *hdkey.ExtendedKey
	fp     hdkey.Fingerprint
	key    *hdkey.ExtendedKey
	pubKey []byte
}

// scenario is a funded m-of-n multisig and a packet spending two of its
// outputs.
type scenario struct {
	deriver  *hdkey.Deriver
	c        *Coordinator
	signers  []*cosigner
	path     hdkey.Path
	kind     multisig.Kind
	script   []byte
	pkScript []byte
	prevTx   *wire.MsgTx
	packet   *psbt.Packet
}

// newCosigner derives the multisig key of a signer whose seed repeats b.
func newCosigner(t *testing.T, d *hdkey.Deriver, b byte,
	path hdkey.Path) *cosigner {

	t.Helper()

	master, err := d.NewMaster(
		bytes.Repeat([]byte{b}, 32), &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	fp, err := d.Fingerprint(master)
	require.NoError(t, err)

	key, err := d.DerivePath(master, path)
	require.NoError(t, err)

	pubKey, err := d.PubKey(key)
	require.NoError(t, err)

	return &cosigner{master: master, fp: fp, key: key, pubKey: pubKey}
}

// newScenario builds a 2-of-3 multisig of the given kind, funds two
// outputs to it and creates an updated packet spending both.
func newScenario(t *testing.T, kind multisig.Kind) *scenario {
	t.Helper()

	engine := sigengine.New()
	d := hdkey.NewDeriver(engine)

	path, err := hdkey.ParsePath("m/48'/1'/0'/2'/0/0")
	require.NoError(t, err)

	s := &scenario{
		deriver: d,
		c:       NewCoordinator(engine, DefaultSigHasher{}, d),
		path:    path,
		kind:    kind,
	}

	pubKeys := make([][]byte, 0, numSigners)
	for i := 0; i < numSigners; i++ {
		signer := newCosigner(t, d, byte(i+1), path)
		s.signers = append(s.signers, signer)
		pubKeys = append(pubKeys, signer.pubKey)
	}

	s.script, err = multisig.BuildMultisig(pubKeys, threshold)
	require.NoError(t, err)

	var redeemScript []byte
	s.pkScript, redeemScript, err = multisig.PkScript(s.script, kind)
	require.NoError(t, err)

	s.prevTx = wire.NewMsgTx(2)
	s.prevTx.AddTxIn(wire.NewTxIn(
		wire.NewOutPoint(&chainhash.Hash{0x01}, 0), nil, nil,
	))
	s.prevTx.AddTxOut(wire.NewTxOut(fundingValue, s.pkScript))
	s.prevTx.AddTxOut(wire.NewTxOut(fundingValue, s.pkScript))

	prevHash := s.prevTx.TxHash()
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prevHash, 0), nil, nil))
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prevHash, 1), nil, nil))
	tx.AddTxOut(wire.NewTxOut(2*fundingValue-10000, s.pkScript))

	s.packet, err = psbt.NewUnsigned(tx)
	require.NoError(t, err)

	for idx := range tx.TxIn {
		update := InputUpdate{
			NonWitnessUtxo:  s.prevTx,
			RedeemScript:    redeemScript,
			Bip32Derivation: s.derivations(),
		}
		if kind != multisig.KindP2SH {
			update.WitnessUtxo = s.prevTx.TxOut[idx]
			update.WitnessScript = s.script
		}

		require.NoError(t, s.c.UpdateInput(s.packet, idx, update))
	}

	return s
}

// derivations returns the origin records of all cosigners.
func (s *scenario) derivations() []*psbt.Bip32Derivation {
	res := make([]*psbt.Bip32Derivation, 0, len(s.signers))
	for _, signer := range s.signers {
		res = append(res, psbt.NewBip32Derivation(
			signer.pubKey, signer.fp, s.path,
		))
	}

	return res
}

// sign adds the signature of the given cosigners to input idx.
func (s *scenario) sign(t *testing.T, p *psbt.Packet, idx int,
	signers ...int) {

	t.Helper()

	for _, i := range signers {
		signer := s.signers[i]
		err := s.c.AddSignature(p, idx, signer.pubKey, signer.key)
		require.NoError(t, err)
	}
}

// requireValid executes every input of the extracted transaction against
// the multisig output it spends.
func (s *scenario) requireValid(t *testing.T, tx *wire.MsgTx) {
	t.Helper()

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for _, txIn := range tx.TxIn {
		prevOut := txIn.PreviousOutPoint
		fetcher.AddPrevOut(prevOut, s.prevTx.TxOut[prevOut.Index])
	}
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	for idx := range tx.TxIn {
		vm, err := txscript.NewEngine(
			s.pkScript, tx, idx, txscript.StandardVerifyFlags, nil,
			sigHashes, fundingValue, fetcher,
		)
		require.NoError(t, err)
		require.NoError(t, vm.Execute(), "input %d", idx)
	}
}

var allKinds = []multisig.Kind{
	multisig.KindP2WSH, multisig.KindNestedP2WSH, multisig.KindP2SH,
}
