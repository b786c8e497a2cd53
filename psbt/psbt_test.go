// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	btcpsbt "github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/hdpsbt/hdkey"
	"github.com/btcsuite/hdpsbt/sigengine"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

var (
	// testPubKeys are the account keys m/84'/0'/0'/{0,1,2}/0 of the
	// walkthrough seed.
	testPubKeys = [][]byte{
		mustHex("0374c0cb333fed26a44128655e0c15d533df940cf685b7dfee1f7c" +
			"f4289599b8d2"),
		mustHex("02e7095b0bbcbff8290ecf08ed9da51e91fea46d056dda9b38ba2e" +
			"ff6a5d5441ec"),
		mustHex("03a939fd415fd23f0b3ebe34c5928b555fe7a6baaf8f6c7ba259e0" +
			"43ddfb5e9d1c"),
	}

	// testAccountXPub is m/84'/0'/0' of the walkthrough seed.
	testAccountXPub = "xpub6C5ML1cCFnAqZQmKBMC2EvTafL6hHHmEC8cmtiYVTr2zqJ" +
		"NAZwGr1hQEtndceuNVwSDLW8qfFm8GHwyuabu2iPXVt7iexPhXzpqfEW3UBFi"

	testMasterFP = hdkey.Fingerprint{0x69, 0x99, 0xbb, 0x76}
)

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}

	return b
}

// p2wshScript returns a dummy P2WSH pkScript committing to the passed
// byte.
func p2wshScript(b byte) []byte {
	script := []byte{txscript.OP_0, txscript.OP_DATA_32}
	return append(script, bytes.Repeat([]byte{b}, 32)...)
}

// prevTx returns a funding transaction with a single output.
func prevTx(value int64) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(
		wire.NewOutPoint(&chainhash.Hash{0xaa}, 3), nil, nil,
	))
	tx.AddTxOut(wire.NewTxOut(value, p2wshScript(0x11)))

	return tx
}

// testTx returns a two input, two output unsigned transaction. The second
// input spends the output of prevTx(50000).
func testTx() *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(
		wire.NewOutPoint(&chainhash.Hash{0x01}, 0), nil, nil,
	))

	prevHash := prevTx(50000).TxHash()
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prevHash, 0), nil, nil))

	tx.AddTxOut(wire.NewTxOut(90000, p2wshScript(0x22)))
	tx.AddTxOut(wire.NewTxOut(50000, p2wshScript(0x33)))

	return tx
}

// testDerivation returns the origin record of testPubKeys[i].
func testDerivation(t *testing.T, i int) *Bip32Derivation {
	t.Helper()

	path, err := hdkey.ParsePath("m/84'/0'/0'")
	require.NoError(t, err)

	path = path.Child(hdkey.Normal(uint32(i)), hdkey.Normal(0))

	return NewBip32Derivation(testPubKeys[i], testMasterFP, path)
}

// testSig returns a real DER signature with the SIGHASH_ALL byte appended.
func testSig(t *testing.T, b byte) []byte {
	t.Helper()

	priv := bytes.Repeat([]byte{b}, 32)
	digest := chainhash.DoubleHashB([]byte{b})

	sig, err := sigengine.New().Sign(priv, digest)
	require.NoError(t, err)

	return append(sig, byte(txscript.SigHashAll))
}

// fullPacket builds a packet that exercises every field this package
// interprets, plus unknown entries at every scope.
func fullPacket(t *testing.T) *Packet {
	t.Helper()

	p, err := NewUnsigned(testTx())
	require.NoError(t, err)

	key, err := hdkey.NewDeriver(sigengine.New()).ParseKey(
		testAccountXPub,
	)
	require.NoError(t, err)

	accountPath, err := hdkey.ParsePath("m/84'/0'/0'")
	require.NoError(t, err)

	xpub, err := NewXPub(key, testMasterFP, accountPath)
	require.NoError(t, err)
	p.XPubs = []XPub{xpub}

	p.Unknowns = []*Unknown{{
		Key:   []byte{0xfc, 0x03, 'f', 'o', 'o', 0x00},
		Value: []byte("proprietary"),
	}, {
		Key:   []byte{0x42},
		Value: []byte{0x01, 0x02},
	}}

	in0 := &p.Inputs[0]
	in0.WitnessUtxo = wire.NewTxOut(100000, p2wshScript(0x44))
	in0.WitnessScript = []byte{txscript.OP_1, txscript.OP_CHECKSIG}
	in0.SighashType = fn.Some(txscript.SigHashAll)
	in0.InsertPartialSig(&PartialSig{
		PubKey: testPubKeys[2], Signature: testSig(t, 0x02),
	})
	in0.InsertPartialSig(&PartialSig{
		PubKey: testPubKeys[0], Signature: testSig(t, 0x01),
	})
	in0.Bip32Derivation = []*Bip32Derivation{
		testDerivation(t, 0), testDerivation(t, 2),
	}
	in0.Unknowns = []*Unknown{{
		Key:   []byte{0xfc, 0x00, 0x01},
		Value: []byte{0xde, 0xad},
	}}

	in1 := &p.Inputs[1]
	in1.NonWitnessUtxo = prevTx(50000)
	in1.FinalScriptWitness = wire.TxWitness{
		{}, {0x01, 0x02}, {txscript.OP_TRUE},
	}

	out0 := &p.Outputs[0]
	out0.WitnessScript = []byte{txscript.OP_2, txscript.OP_CHECKSIG}
	out0.Bip32Derivation = []*Bip32Derivation{testDerivation(t, 1)}
	out0.Unknowns = []*Unknown{{
		Key:   []byte{0x77, 0x01},
		Value: []byte{0x03},
	}}

	return p
}

func serialize(t *testing.T, p *Packet) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, p.Serialize(&buf))

	return buf.Bytes()
}

// TestNewUnsigned checks the constructor on a two input, two output
// transaction.
func TestNewUnsigned(t *testing.T) {
	t.Parallel()

	p, err := NewUnsigned(testTx())
	require.NoError(t, err)

	require.Len(t, p.Inputs, 2)
	require.Len(t, p.Outputs, 2)
	require.Zero(t, p.Version)
	require.Empty(t, p.XPubs)
	require.Empty(t, p.Unknowns)

	for _, pIn := range p.Inputs {
		require.Empty(t, pIn.PartialSigs)
		require.True(t, pIn.SighashType.IsNone())
		require.False(t, pIn.IsFinalized())
	}

	require.NoError(t, p.SanityCheck())
	require.False(t, p.IsComplete())

	// A transaction that already carries a scriptSig or a witness is
	// rejected.
	signed := testTx()
	signed.TxIn[1].SignatureScript = []byte{txscript.OP_TRUE}
	_, err = NewUnsigned(signed)
	require.ErrorIs(t, err, ErrNonEmptySigFields)

	witnessed := testTx()
	witnessed.TxIn[0].Witness = wire.TxWitness{{0x01}}
	_, err = NewUnsigned(witnessed)
	require.ErrorIs(t, err, ErrNonEmptySigFields)
}

// TestRoundTrip makes sure a serialized packet parses back into the same
// structure, unknown and proprietary entries included.
func TestRoundTrip(t *testing.T) {
	t.Parallel()

	p := fullPacket(t)
	raw := serialize(t, p)

	parsed, err := Parse(bytes.NewReader(raw))
	require.NoError(t, err)

	require.Equal(t, p.UnsignedTx.TxHash(), parsed.UnsignedTx.TxHash())
	require.Equal(t, p.XPubs, parsed.XPubs)
	require.Equal(t, p.Unknowns, parsed.Unknowns)
	require.Equal(t, p.Inputs[0].PartialSigs, parsed.Inputs[0].PartialSigs)
	require.Equal(t, p.Inputs[0].SighashType, parsed.Inputs[0].SighashType)
	require.Equal(t, p.Inputs[0].WitnessUtxo, parsed.Inputs[0].WitnessUtxo)
	require.Equal(
		t, p.Inputs[0].WitnessScript, parsed.Inputs[0].WitnessScript,
	)
	require.Equal(
		t, p.Inputs[0].Bip32Derivation,
		parsed.Inputs[0].Bip32Derivation,
	)
	require.Equal(t, p.Inputs[0].Unknowns, parsed.Inputs[0].Unknowns)
	require.Equal(
		t, p.Inputs[1].NonWitnessUtxo.TxHash(),
		parsed.Inputs[1].NonWitnessUtxo.TxHash(),
	)
	require.Equal(
		t, p.Inputs[1].FinalScriptWitness,
		parsed.Inputs[1].FinalScriptWitness,
	)
	require.Equal(t, p.Outputs, parsed.Outputs)

	// Serializing the parsed packet yields the very same bytes, and a
	// second parse the very same structure.
	reRaw := serialize(t, parsed)
	require.Equal(t, raw, reRaw)

	reParsed, err := Parse(bytes.NewReader(reRaw))
	require.NoError(t, err)
	require.Equal(t, parsed, reParsed)

	// Base64 transport gives the same packet.
	b64, err := parsed.B64Encode()
	require.NoError(t, err)

	fromB64, err := NewFromRawBytes(strings.NewReader(b64), true)
	require.NoError(t, err)
	require.Equal(t, parsed, fromB64)
}

// TestEmptyValueRoundTrip checks that records present with an empty value
// survive a parse and serialize cycle.
func TestEmptyValueRoundTrip(t *testing.T) {
	t.Parallel()

	p, err := NewUnsigned(testTx())
	require.NoError(t, err)

	p.Inputs[0].RedeemScript = []byte{}
	p.Outputs[1].WitnessScript = []byte{}
	p.Unknowns = []*Unknown{{Key: []byte{0x42}, Value: []byte{}}}

	raw := serialize(t, p)

	parsed, err := Parse(bytes.NewReader(raw))
	require.NoError(t, err)

	require.NotNil(t, parsed.Inputs[0].RedeemScript)
	require.Empty(t, parsed.Inputs[0].RedeemScript)
	require.Nil(t, parsed.Inputs[0].WitnessScript)
	require.NotNil(t, parsed.Outputs[1].WitnessScript)
	require.Empty(t, parsed.Outputs[1].WitnessScript)
	require.Nil(t, parsed.Outputs[0].WitnessScript)
	require.Equal(t, p.Unknowns, parsed.Unknowns)

	require.Equal(t, raw, serialize(t, parsed))
	require.Equal(t, raw, serialize(t, parsed.Copy()))
}

// TestPartialSigsOrderIndependent checks that the set of partial signatures
// does not depend on insertion order.
func TestPartialSigsOrderIndependent(t *testing.T) {
	t.Parallel()

	sigs := []*PartialSig{
		{PubKey: testPubKeys[0], Signature: testSig(t, 0x01)},
		{PubKey: testPubKeys[1], Signature: testSig(t, 0x02)},
		{PubKey: testPubKeys[2], Signature: testSig(t, 0x03)},
	}

	var forward, backward PInput
	for i := range sigs {
		forward.InsertPartialSig(sigs[i])
		backward.InsertPartialSig(sigs[len(sigs)-1-i])
	}
	require.Equal(t, forward.PartialSigs, backward.PartialSigs)

	for i := 1; i < len(forward.PartialSigs); i++ {
		require.Negative(t, bytes.Compare(
			forward.PartialSigs[i-1].PubKey,
			forward.PartialSigs[i].PubKey,
		))
	}

	// Re-inserting for a known key replaces instead of growing the set.
	replacement := &PartialSig{
		PubKey: testPubKeys[1], Signature: testSig(t, 0x09),
	}
	forward.InsertPartialSig(replacement)
	require.Len(t, forward.PartialSigs, 3)

	found, ok := forward.FindPartialSig(testPubKeys[1])
	require.True(t, ok)
	require.Equal(t, replacement, found)

	_, ok = forward.FindPartialSig([]byte{0x02})
	require.False(t, ok)
}

// kv encodes a raw key/value pair for the malformed input tests.
func kv(t *testing.T, key, value []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, wire.WriteVarBytes(&buf, pver, key))
	require.NoError(t, wire.WriteVarBytes(&buf, pver, value))

	return buf.Bytes()
}

// TestParseMalformed feeds invalid serializations to the parser.
func TestParseMalformed(t *testing.T) {
	t.Parallel()

	tx := testTx()
	rawTx, err := serializeTx(tx, false)
	require.NoError(t, err)

	signedTx := testTx()
	signedTx.TxIn[0].SignatureScript = []byte{txscript.OP_TRUE}
	rawSignedTx, err := serializeTx(signedTx, false)
	require.NoError(t, err)

	magic := psbtMagic[:]
	sep := []byte{0x00}
	global := kv(t, []byte{0x00}, rawTx)

	// emptyMaps closes two inputs and two outputs.
	emptyMaps := bytes.Repeat(sep, 4)

	join := func(parts ...[]byte) []byte {
		return bytes.Join(parts, nil)
	}

	testCases := []struct {
		name string
		raw  []byte
	}{{
		name: "empty",
		raw:  nil,
	}, {
		name: "bad magic",
		raw:  join([]byte("psbx\xff"), global, sep, emptyMaps),
	}, {
		name: "missing unsigned tx",
		raw:  join(magic, sep, emptyMaps),
	}, {
		name: "signed unsigned tx",
		raw: join(
			magic, kv(t, []byte{0x00}, rawSignedTx), sep,
			emptyMaps,
		),
	}, {
		name: "duplicate global key",
		raw: join(
			magic, global, kv(t, []byte{0x42}, []byte{1}),
			kv(t, []byte{0x42}, []byte{2}), sep, emptyMaps,
		),
	}, {
		name: "duplicate unsigned tx",
		raw:  join(magic, global, global, sep, emptyMaps),
	}, {
		name: "unsupported version",
		raw: join(
			magic, global, kv(t, []byte{0xfb}, []byte{1, 0, 0, 0}),
			sep, emptyMaps,
		),
	}, {
		name: "short xpub",
		raw: join(
			magic, global,
			kv(t, []byte{0x01, 0x04}, []byte{0, 0, 0, 0}),
			sep, emptyMaps,
		),
	}, {
		name: "missing input maps",
		raw:  join(magic, global, sep, sep),
	}, {
		name: "trailing data",
		raw:  join(magic, global, sep, emptyMaps, []byte{0x01}),
	}, {
		name: "sighash of three bytes",
		raw: join(
			magic, global, sep,
			kv(t, []byte{0x03}, []byte{1, 0, 0}), sep,
			sep, sep, sep,
		),
	}, {
		name: "partial sig with bad pubkey",
		raw: join(
			magic, global, sep,
			kv(t, []byte{0x02, 0x05, 0x01}, testSig(t, 0x01)),
			sep, sep, sep, sep,
		),
	}, {
		name: "derivation of five bytes",
		raw: join(
			magic, global, sep,
			kv(
				t, append([]byte{0x06}, testPubKeys[0]...),
				[]byte{1, 2, 3, 4, 5},
			),
			sep, sep, sep, sep,
		),
	}, {
		name: "witness utxo with key data",
		raw: join(
			magic, global, sep,
			kv(t, []byte{0x01, 0x01}, make([]byte, 9)),
			sep, sep, sep, sep,
		),
	}, {
		name: "duplicate output key",
		raw: join(
			magic, global, sep, sep, sep,
			kv(t, []byte{0x00}, []byte{txscript.OP_TRUE}),
			kv(t, []byte{0x00}, []byte{txscript.OP_TRUE}),
			sep, sep,
		),
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse(bytes.NewReader(tc.raw))
			require.ErrorIs(t, err, ErrMalformedPsbt)
		})
	}

	// The minimal valid packet parses fine.
	p, err := Parse(bytes.NewReader(join(magic, global, sep, emptyMaps)))
	require.NoError(t, err)
	require.Equal(t, tx.TxHash(), p.UnsignedTx.TxHash())
}

// TestBtcutilInterop cross-checks the codec against btcutil's psbt
// package in both directions.
func TestBtcutilInterop(t *testing.T) {
	t.Parallel()

	p, err := NewUnsigned(testTx())
	require.NoError(t, err)

	p.Inputs[0].WitnessUtxo = wire.NewTxOut(100000, p2wshScript(0x44))
	p.Inputs[0].WitnessScript = []byte{txscript.OP_1}
	p.Inputs[0].SighashType = fn.Some(txscript.SigHashAll)
	p.Inputs[0].Bip32Derivation = []*Bip32Derivation{
		testDerivation(t, 2), testDerivation(t, 0),
	}
	p.Inputs[1].Unknowns = []*Unknown{{
		Key: []byte{0xfc, 0x01}, Value: []byte{0x01},
	}}
	p.Outputs[1].WitnessScript = []byte{txscript.OP_2}
	p.Outputs[1].Bip32Derivation = []*Bip32Derivation{
		testDerivation(t, 1),
	}

	raw := serialize(t, p)

	theirs, err := btcpsbt.NewFromRawBytes(bytes.NewReader(raw), false)
	require.NoError(t, err)

	require.Equal(t, p.UnsignedTx.TxHash(), theirs.UnsignedTx.TxHash())
	require.Equal(
		t, txscript.SigHashAll, theirs.Inputs[0].SighashType,
	)
	require.Equal(
		t, p.Inputs[0].WitnessScript, theirs.Inputs[0].WitnessScript,
	)
	require.Len(t, theirs.Inputs[0].Bip32Derivation, 2)
	for _, d := range theirs.Inputs[0].Bip32Derivation {
		ours, ok := p.Inputs[0].FindBip32Derivation(d.PubKey)
		require.True(t, ok)
		require.Equal(t, ours.MasterKeyFingerprint,
			d.MasterKeyFingerprint)
		require.Equal(t, ours.Bip32Path, d.Bip32Path)
	}

	var theirRaw bytes.Buffer
	require.NoError(t, theirs.Serialize(&theirRaw))
	require.Equal(t, raw, theirRaw.Bytes())

	// The other direction: a packet created by btcutil parses here.
	created, err := btcpsbt.NewFromUnsignedTx(testTx())
	require.NoError(t, err)
	created.Inputs[0].WitnessUtxo = wire.NewTxOut(7000, p2wshScript(0x55))

	var createdRaw bytes.Buffer
	require.NoError(t, created.Serialize(&createdRaw))

	parsed, err := Parse(bytes.NewReader(createdRaw.Bytes()))
	require.NoError(t, err)
	require.Equal(t, created.Inputs[0].WitnessUtxo,
		parsed.Inputs[0].WitnessUtxo)
	require.Equal(t, createdRaw.Bytes(), serialize(t, parsed))
}

// TestSanityCheck covers the structural checks on a packet.
func TestSanityCheck(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		mutate func(p *Packet)
		err    error
	}{{
		name:   "valid",
		mutate: func(p *Packet) {},
	}, {
		name: "missing unsigned tx",
		mutate: func(p *Packet) {
			p.UnsignedTx = nil
		},
		err: ErrStructuralMismatch,
	}, {
		name: "extra input entry",
		mutate: func(p *Packet) {
			p.Inputs = append(p.Inputs, PInput{})
		},
		err: ErrStructuralMismatch,
	}, {
		name: "missing output entry",
		mutate: func(p *Packet) {
			p.Outputs = p.Outputs[:1]
		},
		err: ErrStructuralMismatch,
	}, {
		name: "signed skeleton",
		mutate: func(p *Packet) {
			p.UnsignedTx.TxIn[0].SignatureScript = []byte{0x51}
		},
		err: ErrNonEmptySigFields,
	}, {
		name: "final and partial data",
		mutate: func(p *Packet) {
			p.Inputs[0].FinalScriptWitness = wire.TxWitness{{0x01}}
		},
		err: ErrStructuralMismatch,
	}, {
		name: "foreign non-witness utxo",
		mutate: func(p *Packet) {
			p.Inputs[1].NonWitnessUtxo = prevTx(1)
		},
		err: ErrUtxoMismatch,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p := fullPacket(t)
			tc.mutate(p)

			err := p.SanityCheck()
			if tc.err == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.err)

			// An inconsistent packet is never serialized.
			require.ErrorIs(t, p.Serialize(&bytes.Buffer{}), tc.err)
		})
	}
}

// TestFee checks the fee computation from both kinds of utxo information.
func TestFee(t *testing.T) {
	t.Parallel()

	p := fullPacket(t)

	fee, err := p.Fee()
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(100000+50000-90000-50000), fee)

	utxo, err := p.InputUtxo(1)
	require.NoError(t, err)
	require.EqualValues(t, 50000, utxo.Value)

	_, err = p.InputUtxo(2)
	require.ErrorIs(t, err, ErrStructuralMismatch)

	p.Inputs[0].WitnessUtxo = nil
	_, err = p.Fee()
	require.ErrorIs(t, err, ErrUnknownInputUtxo)
}

// TestCopy makes sure a copied packet shares no memory with the original.
func TestCopy(t *testing.T) {
	t.Parallel()

	p := fullPacket(t)
	raw := serialize(t, p)

	c := p.Copy()
	require.Equal(t, raw, serialize(t, c))

	c.Inputs[0].PartialSigs[0].Signature[0] ^= 0xff
	c.Inputs[0].Bip32Derivation[0].Bip32Path[0] = 7
	c.Inputs[1].FinalScriptWitness[1][0] = 0x09
	c.Outputs[0].Unknowns[0].Value[0] = 0x09
	c.XPubs[0].ExtendedKey[0] = 0x09
	c.UnsignedTx.TxOut[0].Value = 1

	require.Equal(t, raw, serialize(t, p))
}

// TestNewXPub checks the global xpub constructor.
func TestNewXPub(t *testing.T) {
	t.Parallel()

	d := hdkey.NewDeriver(sigengine.New())

	key, err := d.ParseKey(testAccountXPub)
	require.NoError(t, err)

	_, err = NewXPub(key, testMasterFP, hdkey.NewPath())
	require.ErrorIs(t, err, ErrInvalidXPub)

	seed, err := hdkey.SeedFromHex(strings.Repeat("01", 32))
	require.NoError(t, err)

	master, err := d.NewMaster(seed, key.Net())
	require.NoError(t, err)

	_, err = NewXPub(master, testMasterFP, hdkey.NewPath())
	require.ErrorIs(t, err, ErrInvalidXPub)

	path, err := hdkey.ParsePath("m/84'/0'/0'")
	require.NoError(t, err)

	xpub, err := NewXPub(key, testMasterFP, path)
	require.NoError(t, err)
	require.Len(t, xpub.ExtendedKey, xpubLen)
	require.Equal(t, uint32(0x76bb9969), xpub.MasterKeyFingerprint)
	require.Equal(t, path.Uint32s(), xpub.Bip32Path)
}
