// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/hdpsbt/hdkey"
	"github.com/btcsuite/hdpsbt/multisig"
	"github.com/stretchr/testify/require"
)

const fixtureSeedHex = "7934c09359b234e076b9fa5a1abfd38e3dc2a9939745b7cc" +
	"3c22a48d831d14bd"

// TestLoadConfigDefaults checks the values resolved from a minimal command
// line.
func TestLoadConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := loadConfig([]string{"--seed", fixtureSeedHex, "--logdir="})
	require.NoError(t, err)

	require.Equal(t, &chaincfg.MainNetParams, cfg.net)
	require.Equal(t, "m/84'/0'/0'", cfg.path.String())
	require.Equal(t, multisig.KindP2WSH, cfg.kind)
	require.Equal(t, uint8(2), cfg.Threshold)
	require.Equal(t, 3, cfg.Cosigners)
	require.Equal(t, btcutil.Amount(100000), cfg.Amount.Amount)
	require.Equal(t, btcutil.Amount(1000), cfg.Fee.Amount)
	require.Len(t, cfg.seed, cliSeedLen)
	require.Empty(t, cfg.logFile)
}

// TestLoadConfigOptions checks that every option reaches the resolved
// config.
func TestLoadConfigOptions(t *testing.T) {
	t.Parallel()

	logDir := t.TempDir()
	cfg, err := loadConfig([]string{
		"--seed", fixtureSeedHex, "--regtest", "--kind", "p2sh-p2wsh",
		"-m", "3", "-n", "5", "--account", "m/48h/1h/0h/2h",
		"--amount", "0.5", "--fee", "0.0001 BTC", "--logdir", logDir,
		"-d", "PSBT=debug,SGNR=trace",
	})
	require.NoError(t, err)

	require.Equal(t, &chaincfg.RegressionNetParams, cfg.net)
	require.Equal(t, multisig.KindNestedP2WSH, cfg.kind)
	require.Equal(t, uint8(3), cfg.Threshold)
	require.Equal(t, 5, cfg.Cosigners)
	require.Equal(t, hdkey.NewPath(
		hdkey.Hardened(48), hdkey.Hardened(1), hdkey.Hardened(0),
		hdkey.Hardened(2),
	).Uint32s(), cfg.path.Uint32s())
	require.Equal(t, btcutil.Amount(50000000), cfg.Amount.Amount)
	require.Equal(t, btcutil.Amount(10000), cfg.Fee.Amount)
	require.Equal(t, filepath.Join(logDir, "regtest", defaultLogFilename),
		cfg.logFile)
}

// TestLoadConfigMnemonic checks that a mnemonic replaces the hex seed.
func TestLoadConfigMnemonic(t *testing.T) {
	t.Parallel()

	mnemonic := "abandon abandon abandon abandon abandon abandon " +
		"abandon abandon abandon abandon abandon about"

	cfg, err := loadConfig([]string{
		"--mnemonic", mnemonic, "--passphrase", "TREZOR", "--logdir=",
	})
	require.NoError(t, err)
	require.Equal(t, hdkey.SeedFromMnemonic(mnemonic, "TREZOR"), cfg.seed)
}

// TestLoadConfigErrors checks the rejected command lines.
func TestLoadConfigErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		wantErr error
	}{
		{
			name: "several networks",
			args: []string{"--testnet", "--regtest"},
		},
		{
			name: "bad debug level",
			args: []string{"-d", "loud"},
		},
		{
			name:    "bad account path",
			args:    []string{"--account", "m/x"},
			wantErr: hdkey.ErrInvalidPathSyntax,
		},
		{
			name:    "threshold above cosigners",
			args:    []string{"-m", "4", "-n", "3"},
			wantErr: multisig.ErrInvalidMultisigParams,
		},
		{
			name:    "zero threshold",
			args:    []string{"-m", "0"},
			wantErr: multisig.ErrInvalidMultisigParams,
		},
		{
			name:    "too many cosigners",
			args:    []string{"-n", "16"},
			wantErr: multisig.ErrInvalidMultisigParams,
		},
		{
			name: "fee above amount",
			args: []string{"--amount", "0.001", "--fee", "0.002"},
		},
		{
			name: "unknown kind",
			args: []string{"--kind", "p2tr"},
		},
		{
			name: "seed and mnemonic",
			args: []string{"--mnemonic", "abandon about"},
		},
		{
			name:    "short seed",
			args:    []string{"--seed", "000102030405060708090a0b0c0d0e0f"},
			wantErr: hdkey.ErrInvalidSeedLength,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			args := append([]string{
				"--seed", fixtureSeedHex, "--logdir=",
			}, tc.args...)

			_, err := loadConfig(args)
			require.Error(t, err)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}
