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

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// MaxPsbtValueLength is the size of the largest value we are willing
	// to read for a single key/value pair. A full non-witness utxo is the
	// largest legitimate value and it is always smaller than this.
	MaxPsbtValueLength = 4000000

	// MaxPsbtKeyLength is the largest key we accept. Keys carry at most a
	// type byte followed by a public key or a serialized xpub, so this
	// leaves plenty of room for proprietary keys.
	MaxPsbtKeyLength = 10000

	// pver is the protocol version used for the compact size encoding.
	// The encoding does not change between versions.
	pver = 0
)

// Unknown is a key/value pair whose key type is not interpreted by this
// package. The key includes the type byte and is kept byte-for-byte so the
// pair can be written back unchanged.
type Unknown struct {
	Key   []byte
	Value []byte
}

// copyUnknowns returns a deep copy of the passed unknowns.
func copyUnknowns(unknowns []*Unknown) []*Unknown {
	if unknowns == nil {
		return nil
	}

	res := make([]*Unknown, 0, len(unknowns))
	for _, u := range unknowns {
		res = append(res, &Unknown{
			Key:   bytes.Clone(u.Key),
			Value: bytes.Clone(u.Value),
		})
	}

	return res
}

// kvPair is a single raw entry of one of the PSBT maps.
type kvPair struct {
	keyType uint8
	keyData []byte
	value   []byte
}

// fullKey returns the key as it appears on the wire, type byte included.
func (kv *kvPair) fullKey() []byte {
	key := make([]byte, 0, 1+len(kv.keyData))
	key = append(key, kv.keyType)

	return append(key, kv.keyData...)
}

// unknown converts the pair into an Unknown entry.
func (kv *kvPair) unknown() *Unknown {
	return &Unknown{Key: kv.fullKey(), Value: kv.value}
}

// readBytes reads a compact size prefixed byte slice of at most maxLen
// bytes. A zero length yields an empty, non-nil slice, so a record that is
// present with an empty value is written back on serialization.
func readBytes(r io.Reader, maxLen uint64, field string) ([]byte, error) {
	n, err := wire.ReadVarInt(r, pver)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s length: %w",
			ErrMalformedPsbt, field, err)
	}

	if n > maxLen {
		return nil, fmt.Errorf("%w: %s length %d exceeds %d",
			ErrMalformedPsbt, field, n, maxLen)
	}

	if n == 0 {
		return []byte{}, nil
	}

	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrMalformedPsbt,
			field, err)
	}

	return b, nil
}

// readKVPair reads the next entry of a map. A nil pair marks the 0x00
// separator that terminates the map.
func readKVPair(r io.Reader) (*kvPair, error) {
	key, err := readBytes(r, MaxPsbtKeyLength, "key")
	if err != nil {
		return nil, err
	}

	// A zero length key is the map separator.
	if len(key) == 0 {
		return nil, nil
	}

	value, err := readBytes(r, MaxPsbtValueLength, "value")
	if err != nil {
		return nil, err
	}

	kv := &kvPair{
		keyType: key[0],
		value:   value,
	}
	if len(key) > 1 {
		kv.keyData = key[1:]
	}

	return kv, nil
}

// mapReader reads the entries of a single map and rejects duplicate keys.
type mapReader struct {
	seen fn.Set[string]
}

// newMapReader returns a reader for a fresh map.
func newMapReader() *mapReader {
	return &mapReader{seen: fn.NewSet[string]()}
}

// next returns the next entry of the map or nil once the separator is hit.
func (m *mapReader) next(r io.Reader) (*kvPair, error) {
	kv, err := readKVPair(r)
	if err != nil || kv == nil {
		return nil, err
	}

	key := string(kv.fullKey())
	if m.seen.Contains(key) {
		return nil, fmt.Errorf("%w: duplicate key %x", ErrMalformedPsbt,
			kv.fullKey())
	}
	m.seen.Add(key)

	return kv, nil
}

// expectNoKeyData fails if a key type that must stand alone carries data.
func expectNoKeyData(kv *kvPair, name string) error {
	if len(kv.keyData) != 0 {
		return fmt.Errorf("%w: %s key carries %d bytes of key data",
			ErrMalformedPsbt, name, len(kv.keyData))
	}

	return nil
}

// writeKVPair writes a single entry to the passed writer.
func writeKVPair(w io.Writer, keyType uint8, keyData, value []byte) error {
	key := make([]byte, 0, 1+len(keyData))
	key = append(key, keyType)
	key = append(key, keyData...)

	return writeRawKVPair(w, key, value)
}

// writeRawKVPair writes an entry whose key already includes the type byte.
func writeRawKVPair(w io.Writer, key, value []byte) error {
	if err := wire.WriteVarBytes(w, pver, key); err != nil {
		return err
	}

	return wire.WriteVarBytes(w, pver, value)
}

// writeSeparator terminates a map.
func writeSeparator(w io.Writer) error {
	_, err := w.Write([]byte{0x00})
	return err
}

// writeUnknowns writes the unknown entries in their original order.
func writeUnknowns(w io.Writer, unknowns []*Unknown) error {
	for _, u := range unknowns {
		if err := writeRawKVPair(w, u.Key, u.Value); err != nil {
			return err
		}
	}

	return nil
}

// serializeTx returns the network serialization of the transaction,
// optionally without witness data.
func serializeTx(tx *wire.MsgTx, witness bool) ([]byte, error) {
	var buf bytes.Buffer

	var err error
	if witness {
		err = tx.Serialize(&buf)
	} else {
		err = tx.SerializeNoWitness(&buf)
	}
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// deserializeTx parses a transaction that must consume the whole value.
func deserializeTx(value []byte, witness bool) (*wire.MsgTx, error) {
	r := bytes.NewReader(value)
	tx := wire.NewMsgTx(wire.TxVersion)

	var err error
	if witness {
		err = tx.Deserialize(r)
	} else {
		err = tx.DeserializeNoWitness(r)
	}
	if err != nil {
		return nil, err
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after transaction",
			r.Len())
	}

	return tx, nil
}

// serializeTxOut encodes an output as amount followed by its pkScript.
func serializeTxOut(txOut *wire.TxOut) ([]byte, error) {
	var buf bytes.Buffer

	var amt [8]byte
	binary.LittleEndian.PutUint64(amt[:], uint64(txOut.Value))
	buf.Write(amt[:])

	if err := wire.WriteVarBytes(&buf, pver, txOut.PkScript); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// deserializeTxOut is the reverse of serializeTxOut.
func deserializeTxOut(value []byte) (*wire.TxOut, error) {
	if len(value) < 9 {
		return nil, fmt.Errorf("%w: witness utxo too short",
			ErrMalformedPsbt)
	}

	amt := int64(binary.LittleEndian.Uint64(value[:8]))

	r := bytes.NewReader(value[8:])
	pkScript, err := wire.ReadVarBytes(
		r, pver, MaxPsbtValueLength, "pkScript",
	)
	if err != nil {
		return nil, fmt.Errorf("%w: witness utxo script: %w",
			ErrMalformedPsbt, err)
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after witness utxo",
			ErrMalformedPsbt, r.Len())
	}

	return wire.NewTxOut(amt, pkScript), nil
}

// serializeWitness encodes a witness stack as item count followed by the
// length prefixed items.
func serializeWitness(witness wire.TxWitness) ([]byte, error) {
	var buf bytes.Buffer
	if err := wire.WriteVarInt(&buf, pver, uint64(len(witness))); err != nil {
		return nil, err
	}

	for _, item := range witness {
		if err := wire.WriteVarBytes(&buf, pver, item); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// deserializeWitness is the reverse of serializeWitness. Empty items are
// returned as empty, non-nil slices.
func deserializeWitness(value []byte) (wire.TxWitness, error) {
	r := bytes.NewReader(value)

	count, err := wire.ReadVarInt(r, pver)
	if err != nil {
		return nil, fmt.Errorf("%w: witness item count: %w",
			ErrMalformedPsbt, err)
	}

	// Every item takes at least one byte for its length.
	if count > uint64(r.Len()) {
		return nil, fmt.Errorf("%w: witness item count %d too large",
			ErrMalformedPsbt, count)
	}

	witness := make(wire.TxWitness, 0, count)
	for i := uint64(0); i < count; i++ {
		item, err := readBytes(r, MaxPsbtValueLength, "witness item")
		if err != nil {
			return nil, err
		}
		witness = append(witness, item)
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after witness",
			ErrMalformedPsbt, r.Len())
	}

	return witness, nil
}

// sortedByKey returns a sorted copy of the slice using the key accessor.
func sortedByKey[T any](items []T, key func(T) []byte) []T {
	if len(items) == 0 {
		return nil
	}

	sorted := make([]T, len(items))
	copy(sorted, items)

	sort.SliceStable(sorted, func(i, j int) bool {
		return bytes.Compare(key(sorted[i]), key(sorted[j])) < 0
	})

	return sorted
}
