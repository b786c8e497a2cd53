// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/hdpsbt/hdkey"
	"github.com/btcsuite/hdpsbt/multisig"
	"github.com/jessevdk/go-flags"
	"golang.org/x/term"
)

const (
	defaultLogLevel    = "info"
	defaultLogFilename = "hdpsbt.log"
	defaultAccount     = "m/84'/0'/0'"
	defaultThreshold   = 2
	defaultCosigners   = 3
	defaultKind        = "p2wsh"

	// cliSeedLen is the seed length the command accepts.
	cliSeedLen = 32
)

var (
	defaultAppDir = btcutil.AppDataDir("hdpsbt", false)
	defaultLogDir = filepath.Join(defaultAppDir, "logs")

	defaultAmount = btcutil.Amount(100000)
	defaultFee    = btcutil.Amount(1000)

	// errNoSeed is returned when no seed is configured and none can be
	// read from the terminal.
	errNoSeed = errors.New("no seed given, use --seed or --mnemonic")
)

// config defines the configuration options for hdpsbt.
type config struct {
	Seed       string `long:"seed" env:"HDPSBT_SEED" description:"Hex encoded 32 byte seed; prompted for when neither --seed nor --mnemonic is given"`
	Mnemonic   string `long:"mnemonic" env:"HDPSBT_MNEMONIC" description:"BIP-39 mnemonic to derive the seed from instead of --seed"`
	Passphrase string `long:"passphrase" env:"HDPSBT_PASSPHRASE" description:"Optional BIP-39 passphrase used with --mnemonic"`

	Account   string      `long:"account" description:"Account derivation path the cosigner keys are derived under"`
	Threshold uint8       `short:"m" long:"threshold" description:"Number of signatures required to spend"`
	Cosigners int         `short:"n" long:"cosigners" description:"Number of cosigner keys in the multisig"`
	Kind      string      `long:"kind" description:"Output type of the multisig" choice:"p2wsh" choice:"p2sh-p2wsh" choice:"p2sh"`
	Amount    *amountFlag `long:"amount" description:"Value of the demo funding output in BTC"`
	Fee       *amountFlag `long:"fee" description:"Fee paid by the spending transaction in BTC"`

	TestNet3 bool `long:"testnet" description:"Use the test network"`
	RegTest  bool `long:"regtest" description:"Use the regression test network"`
	SigNet   bool `long:"signet" description:"Use the signet test network"`

	DebugLevel string `short:"d" long:"debuglevel" env:"HDPSBT_DEBUGLEVEL" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`
	LogDir     string `long:"logdir" env:"HDPSBT_LOGDIR" description:"Directory to log output; empty disables the log file"`

	// The following fields are resolved by loadConfig.
	net     *chaincfg.Params
	path    hdkey.Path
	kind    multisig.Kind
	seed    []byte
	logFile string
}

// defaultConfig returns the configuration with all default values filled
// in.
func defaultConfig() config {
	return config{
		Account:    defaultAccount,
		Threshold:  defaultThreshold,
		Cosigners:  defaultCosigners,
		Kind:       defaultKind,
		Amount:     newAmountFlag(defaultAmount),
		Fee:        newAmountFlag(defaultFee),
		DebugLevel: defaultLogLevel,
		LogDir:     defaultLogDir,
	}
}

// parseKind maps the --kind choice to the multisig output kind.
func parseKind(s string) (multisig.Kind, error) {
	for _, kind := range []multisig.Kind{
		multisig.KindP2WSH, multisig.KindNestedP2WSH, multisig.KindP2SH,
	} {
		if kind.String() == s {
			return kind, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", multisig.ErrUnknownKind, s)
}

// loadConfig parses the command line arguments into a validated config.
// The seed is read from the terminal without echo when no seed source is
// configured.
func loadConfig(args []string) (*config, error) {
	cfg := defaultConfig()

	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	// Multiple networks can't be selected simultaneously.
	cfg.net = &chaincfg.MainNetParams
	numNets := 0
	if cfg.TestNet3 {
		numNets++
		cfg.net = &chaincfg.TestNet3Params
	}
	if cfg.RegTest {
		numNets++
		cfg.net = &chaincfg.RegressionNetParams
	}
	if cfg.SigNet {
		numNets++
		cfg.net = &chaincfg.SigNetParams
	}
	if numNets > 1 {
		return nil, errors.New("the testnet, regtest and signet " +
			"params can't be used together -- choose one of the " +
			"three")
	}

	if err := setLogLevels(cfg.DebugLevel); err != nil {
		return nil, err
	}

	if cfg.LogDir != "" {
		cfg.logFile = filepath.Join(
			cleanAndExpandPath(cfg.LogDir), cfg.net.Name,
			defaultLogFilename,
		)
	}

	var err error
	cfg.path, err = hdkey.ParsePath(cfg.Account)
	if err != nil {
		return nil, err
	}

	cfg.kind, err = parseKind(cfg.Kind)
	if err != nil {
		return nil, err
	}

	if cfg.Cosigners < 1 || cfg.Cosigners > multisig.MaxKeys {
		return nil, fmt.Errorf("%w: %d cosigners",
			multisig.ErrInvalidMultisigParams, cfg.Cosigners)
	}
	if cfg.Threshold == 0 || int(cfg.Threshold) > cfg.Cosigners {
		return nil, fmt.Errorf("%w: threshold %d of %d",
			multisig.ErrInvalidMultisigParams, cfg.Threshold,
			cfg.Cosigners)
	}

	if cfg.Fee.Amount < 0 || cfg.Fee.Amount >= cfg.Amount.Amount {
		return nil, fmt.Errorf("fee %v must be below the amount %v",
			cfg.Fee.Amount, cfg.Amount.Amount)
	}

	cfg.seed, err = resolveSeed(&cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// resolveSeed returns the seed from the mnemonic, the hex flag or the
// terminal, in that order.
func resolveSeed(cfg *config) ([]byte, error) {
	if cfg.Mnemonic != "" {
		if cfg.Seed != "" {
			return nil, errors.New("--seed and --mnemonic can't be " +
				"used together")
		}

		return hdkey.SeedFromMnemonic(cfg.Mnemonic, cfg.Passphrase), nil
	}

	seedHex := cfg.Seed
	if seedHex == "" {
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return nil, errNoSeed
		}

		fmt.Fprint(os.Stderr, "Enter hex seed: ")
		input, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("unable to read seed: %w", err)
		}

		seedHex = strings.TrimSpace(string(input))
	}

	seed, err := hdkey.SeedFromHex(seedHex)
	if err != nil {
		return nil, err
	}

	if len(seed) != cliSeedLen {
		return nil, fmt.Errorf("%w: got %d bytes, want %d",
			hdkey.ErrInvalidSeedLength, len(seed), cliSeedLen)
	}

	return seed, nil
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(defaultAppDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
