// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

// GlobalType is the set of types that are used at the global scope level
// within the PSBT.
type GlobalType uint8

const (
	// UnsignedTxType is the global scope key that houses the unsigned
	// transaction of the PSBT. The value is a transaction in network
	// serialization. The scriptSigs and witnesses for each input must be
	// empty. The transaction must be in the old serialization format
	// (without witnesses). A PSBT must have a transaction, otherwise it is
	// invalid.
	UnsignedTxType GlobalType = 0

	// XPubType houses a global xpub for the entire PSBT packet.
	//
	// The key ({0x01}|{xpub}) is the 78 byte serialized extended public key
	// as defined by BIP 32. Extended public keys are those that can be
	// used to derive public keys used in the inputs and outputs of this
	// transaction. It should be the public key at the highest hardened
	// derivation index so that the unhardened child keys used in the
	// transaction can be derived.
	//
	// The value is the master key fingerprint as defined by BIP 32
	// concatenated with the derivation path of the public key. The
	// derivation path is represented as 32-bit little endian unsigned
	// integer indexes concatenated with each other. The number of 32 bit
	// unsigned integer indexes must match the depth provided in the
	// extended public key.
	XPubType GlobalType = 1

	// VersionType houses the global version number of this PSBT. There is
	// only one version, 0, so the key is optional.
	VersionType GlobalType = 0xfb

	// ProprietaryGlobalType is the prefix of proprietary global keys.
	// They are kept as unknowns and never interpreted.
	ProprietaryGlobalType GlobalType = 0xfc
)

// InputType is the set of types that are defined for each input included
// within the PSBT.
type InputType uint8

const (
	// NonWitnessUtxoType has no key ({0x00}) and houses the transaction in
	// network serialization format the current input spends from. This
	// should only be present for inputs which spend non-segwit outputs.
	// However, if it is unknown whether an input spends a segwit output,
	// this type should be used.
	NonWitnessUtxoType InputType = 0

	// WitnessUtxoType has no key ({0x01}) and houses the entire
	// transaction output in network serialization which the current input
	// spends from. This should only be present for inputs which spend
	// segwit outputs, including P2SH embedded ones (value || script).
	WitnessUtxoType InputType = 1

	// PartialSigType is used to include a partial signature with key
	// ({0x02}|{public_key}).
	//
	// The value is the signature as would be pushed to the stack from a
	// scriptSig or witness.
	PartialSigType InputType = 2

	// SighashType is an empty key ({0x03}). The value contains the 32-bit
	// unsigned integer specifying the sighash type to be used for this
	// input. Signatures for this input must use the sighash type,
	// finalizers must fail to finalize inputs which have signatures that
	// do not match the specified sighash type.
	SighashType InputType = 3

	// RedeemScriptInputType is an empty key ({0x04}). The value is the
	// redeem script of the input if present.
	RedeemScriptInputType InputType = 4

	// WitnessScriptInputType is an empty key ({0x05}). The value is the
	// witness script of this input, if it has one.
	WitnessScriptInputType InputType = 5

	// Bip32DerivationInputType is a type that carries the pubkey along
	// with the key ({0x06}|{public_key}). The value is master key
	// fingerprint as defined by BIP 32 concatenated with the derivation
	// path of the public key. The derivation path is represented as 32 bit
	// unsigned integer indexes concatenated with each other. Public keys
	// are those that will be needed to sign this input.
	Bip32DerivationInputType InputType = 6

	// FinalScriptSigType is an empty key ({0x07}). The value contains a
	// fully constructed scriptSig with signatures and any other scripts
	// necessary for the input to pass validation.
	FinalScriptSigType InputType = 7

	// FinalScriptWitnessType is an empty key ({0x08}). The value is a
	// fully constructed scriptWitness with signatures and any other
	// scripts necessary for the input to pass validation.
	FinalScriptWitnessType InputType = 8
)

// OutputType is the set of types defined per output within the PSBT.
type OutputType uint8

const (
	// RedeemScriptOutputType is an empty key ({0x00}). The value is the
	// redeemScript for this output if it has one.
	RedeemScriptOutputType OutputType = 0

	// WitnessScriptOutputType is an empty key ({0x01}). The value is the
	// witness script of this input, if it has one.
	WitnessScriptOutputType OutputType = 1

	// Bip32DerivationOutputType is used to communicate derivation
	// information needed to spend this output. The key is ({0x02}|{public
	// key}). The value is the master key fingerprint concatenated with
	// the derivation path of the public key.
	Bip32DerivationOutputType OutputType = 2
)
