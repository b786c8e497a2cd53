// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
)

// amountFlag embeds a btcutil.Amount and implements the flags.Marshaler and
// flags.Unmarshaler interfaces so it can be used as a config struct field.
type amountFlag struct {
	btcutil.Amount
}

// newAmountFlag creates an amountFlag with a default btcutil.Amount.
func newAmountFlag(defaultValue btcutil.Amount) *amountFlag {
	return &amountFlag{defaultValue}
}

// MarshalFlag satisfies the flags.Marshaler interface.
func (a *amountFlag) MarshalFlag() (string, error) {
	return a.Amount.String(), nil
}

// UnmarshalFlag satisfies the flags.Unmarshaler interface. Values are in
// BTC, with or without the unit suffix.
func (a *amountFlag) UnmarshalFlag(value string) error {
	value = strings.TrimSuffix(value, " BTC")

	valueF64, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return err
	}

	amount, err := btcutil.NewAmount(valueF64)
	if err != nil {
		return err
	}
	a.Amount = amount

	return nil
}
