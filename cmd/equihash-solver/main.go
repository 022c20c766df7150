// Equihasher: Equihash Solver Core
// Copyright (C) 2026  Guillermo Perry
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/tmthrgd/go-hex"

	"equihasher/internal/config"
	"equihasher/pkg/hashing/core"
	"equihasher/pkg/hashing/factory"
	"equihasher/pkg/hashing/solver"
	"equihasher/pkg/hashing/validate"
)

var (
	configPath = flag.String("config", "", "JSON config file (empty = search default paths)")
	platform   = flag.Int("platform", -1, "platform id (-1 = config value, or best available)")
	device     = flag.Uint("device", 0, "device id within the platform")
	paramN     = flag.Uint("n", 0, "Equihash N (0 = config value)")
	paramK     = flag.Uint("k", 0, "Equihash K (0 = config value)")
	headerHex  = flag.String("header", "", "140-byte header as hex (empty = zero header with -nonce)")
	nonce      = flag.Uint64("nonce", 0, "nonce written into the zero header")
	verbose    = flag.Bool("verbose", false, "log search progress at debug level")
	list       = flag.Bool("list", false, "print the backend detection report as JSON and exit")
)

var errInvalidSolution = errors.New("solver returned a solution that does not verify")

func main() {
	flag.Parse()

	if err := run(); err != nil {
		logrus.Fatal(err)
	}
}

// run returns instead of exiting so the solver is always closed.
func run() error {
	if *list {
		report := factory.NewDefaultFactory().GetDetectionReport()
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlags(cfg)

	header, err := buildHeader()
	if err != nil {
		return fmt.Errorf("header: %w", err)
	}

	s, err := solver.New(cfg)
	if err != nil {
		return fmt.Errorf("open solver: %w", err)
	}
	defer s.Close()

	start := time.Now()
	n, err := s.FindSolutions(header)
	if err != nil {
		return fmt.Errorf("find solutions: %w", err)
	}

	fmt.Printf("%s on %s: %d solution(s) in %s\n", s.Params(), s.Device().Name, n, time.Since(start).Round(time.Millisecond))

	failed := false
	for i := 0; i < n; i++ {
		sol, err := s.GetSolution(i)
		if err != nil {
			return fmt.Errorf("get solution %d: %w", i, err)
		}

		ok, err := validate.Verify(s.Params(), header, sol)
		if err != nil || !ok {
			failed = true
		}
		fmt.Printf("solution %d valid=%t\n%s\n", i, ok, hex.EncodeToString(sol))
	}

	if failed {
		return errInvalidSolution
	}
	return nil
}

func applyFlags(cfg *config.SolverConfig) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "device":
			cfg.DeviceID = uint32(*device)
		case "n":
			cfg.Params.N = uint32(*paramN)
		case "k":
			cfg.Params.K = uint32(*paramK)
		case "verbose":
			cfg.Verbose = *verbose
		}
	})

	if *platform >= 0 {
		cfg.PlatformID = uint32(*platform)
		return
	}

	// no explicit platform anywhere: take the best available one
	if os.Getenv(config.EnvPrefix+"PLATFORM") == "" && *configPath == "" {
		f := factory.NewDefaultFactory()
		if len(cfg.PreferredOrder) > 0 {
			f.SetPreferredOrder(cfg.PreferredOrder)
		}
		if id, err := f.BestPlatform(); err == nil {
			cfg.PlatformID = id
		}
	}
}

func buildHeader() ([]byte, error) {
	if *headerHex != "" {
		header, err := hex.DecodeString(strings.TrimSpace(*headerHex))
		if err != nil {
			return nil, err
		}
		return header, core.CheckHeaderLength(header)
	}

	h := core.BlockHeader{Version: 4}
	h.SetNonce(*nonce)
	return h.MarshalBinary()
}
