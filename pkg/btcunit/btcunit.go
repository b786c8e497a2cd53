// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package btcunit expresses transaction sizes and the fee rates paid by
// extracted transactions.
package btcunit

import (
	"fmt"
	"math"
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

const (
	// kilo is a generic multiplier for kilo units.
	kilo = 1000

	// floatStringPrecision is the number of decimal places used when a
	// fee rate is printed, so 1 sat/kvb still shows as 0.001 sat/vb.
	floatStringPrecision = 3
)

// MinRelayFeeRate is the default minimum relay fee rate of bitcoind and btcd,
// 1 sat/vb.
var MinRelayFeeRate = NewSatPerVByte(1)

// Weight is a transaction size in weight units. The weight of a transaction
// is `base size * 3 + total size`, where the base size excludes the witness
// data and the total size is the BIP-144 serialization.
type Weight struct {
	wu uint64
}

// NewWeight creates a Weight from a number of weight units.
func NewWeight(wu uint64) Weight {
	return Weight{wu: wu}
}

// NewVByteWeight creates a Weight from a number of virtual bytes.
func NewVByteWeight(vb uint64) Weight {
	return Weight{wu: vb * blockchain.WitnessScaleFactor}
}

// TxWeight returns the weight of tx including its witness data.
func TxWeight(tx *wire.MsgTx) Weight {
	weight := blockchain.GetTransactionWeight(btcutil.NewTx(tx))

	return Weight{wu: uint64(weight)}
}

// WU returns the weight in weight units.
func (w Weight) WU() uint64 {
	return w.wu
}

// VBytes returns the virtual size, rounded up to a whole vbyte.
func (w Weight) VBytes() uint64 {
	return (w.wu + blockchain.WitnessScaleFactor - 1) /
		blockchain.WitnessScaleFactor
}

// String returns the weight in both weight units and virtual bytes.
func (w Weight) String() string {
	return fmt.Sprintf("%d wu (%d vb)", w.wu, w.VBytes())
}

// FeeRate is a fee rate kept as an exact rational number of satoshis per
// kilo-weight-unit, so no precision is lost between units.
type FeeRate struct {
	satsPerKWU *big.Rat
}

// NewSatPerVByte creates a fee rate of rate sat/vb.
func NewSatPerVByte(rate btcutil.Amount) FeeRate {
	return CalcFeeRate(rate, NewVByteWeight(1))
}

// CalcFeeRate returns the fee rate of paying fee for a transaction of the
// given weight. A zero weight gives a zero fee rate.
func CalcFeeRate(fee btcutil.Amount, w Weight) FeeRate {
	if w.wu == 0 {
		return FeeRate{satsPerKWU: new(big.Rat)}
	}

	return FeeRate{satsPerKWU: big.NewRat(
		int64(fee)*kilo, clampInt64(w.wu),
	)}
}

// FeeFor returns the fee this rate pays for the given weight, rounded up to
// the next satoshi.
func (f FeeRate) FeeFor(w Weight) btcutil.Amount {
	fee := new(big.Rat).Mul(f.satsPerKWU, big.NewRat(clampInt64(w.wu), kilo))

	// Ceiling division of the rational fee.
	num, denom := fee.Num(), fee.Denom()
	res := new(big.Int).Add(num, denom)
	res.Sub(res, big.NewInt(1))
	res.Div(res, denom)

	return btcutil.Amount(res.Int64())
}

// Cmp compares two fee rates and returns -1, 0 or +1.
func (f FeeRate) Cmp(other FeeRate) int {
	return f.satsPerKWU.Cmp(other.satsPerKWU)
}

// String returns the fee rate in sat/vb.
func (f FeeRate) String() string {
	perVByte := new(big.Rat).Mul(
		f.satsPerKWU, big.NewRat(blockchain.WitnessScaleFactor, kilo),
	)

	return perVByte.FloatString(floatStringPrecision) + " sat/vb"
}

// clampInt64 converts a size to int64. Transaction sizes are bounded by
// consensus, so the clamp never triggers for real transactions.
func clampInt64(u uint64) int64 {
	if u > math.MaxInt64 {
		return math.MaxInt64
	}

	return int64(u)
}
