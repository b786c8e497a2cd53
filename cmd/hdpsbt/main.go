// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// hdpsbt derives a multisig wallet from a single seed and walks a spend of
// it through the PSBT workflow: creation, signing by the cosigners,
// combination, finalization and extraction of the network transaction.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/jessevdk/go-flags"
)

func main() {
	if err := hdpsbtMain(); err != nil {
		// The flags parser already printed its own errors and the
		// help text.
		var flagErr *flags.Error
		if errors.As(err, &flagErr) {
			if flagErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
			os.Exit(1)
		}

		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// hdpsbtMain is the real main function. It is necessary to work around the
// fact that deferred functions do not run when os.Exit() is called.
func hdpsbtMain() error {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		return err
	}

	if cfg.logFile != "" {
		if err := initLogRotator(cfg.logFile); err != nil {
			return err
		}
		defer logRotator.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Infof("Running %d-of-%d %v walkthrough on %v", cfg.Threshold,
		cfg.Cosigners, cfg.kind, cfg.net.Name)

	_, err = runWalkthrough(ctx, cfg, os.Stdout)

	return err
}
