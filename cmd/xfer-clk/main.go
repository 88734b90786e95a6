// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command xfer-clk prints the bus clock configuration (CLKCFG register
// fields) for a list of requested frequencies.
//
// Usage:
//
//	$> xfer-clk [OPTIONS] [FREQ-HZ...]
//
// Example:
//
//	$> xfer-clk -mode 3 1000000 400000 100000
//	freq=  1000000 Hz ->  1000000 Hz  clkcfg=0x00000e01 fsel=6 div3=1 diven=0 lowper=0 totper=0 duty=50.0%
package main // import "github.com/go-lpc/xfer/cmd/xfer-clk"

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/go-lpc/xfer/clkdiv"
)

var defaultFreqs = []uint32{
	24000000, 16000000, 12000000, 8000000, 6000000,
	4000000, 3000000, 2000000, 1500000, 1000000,
	750000, 500000, 400000, 375000, 250000,
	125000, 100000, 50000, 10000,
}

func main() {
	var (
		base = flag.Uint("base", clkdiv.BaseFreq, "base oscillator frequency (Hz)")
		mode = flag.Uint("mode", 0, "SPI mode (0-3)")
	)

	log.SetPrefix("xfer-clk: ")
	log.SetFlags(0)

	flag.Parse()

	freqs, err := parseFreqs(flag.Args())
	if err != nil {
		log.Fatalf("could not parse frequencies: %+v", err)
	}

	err = run(os.Stdout, uint32(*base), uint8(*mode), freqs)
	if err != nil {
		log.Fatalf("could not compute clock configurations: %+v", err)
	}
}

func parseFreqs(args []string) ([]uint32, error) {
	if len(args) == 0 {
		return defaultFreqs, nil
	}
	freqs := make([]uint32, len(args))
	for i, arg := range args {
		v, err := strconv.ParseUint(arg, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid frequency %q: %w", arg, err)
		}
		freqs[i] = uint32(v)
	}
	return freqs, nil
}

func run(w io.Writer, base uint32, mode uint8, freqs []uint32) error {
	phase := clkdiv.PhaseFromSPIMode(mode)
	for _, hz := range freqs {
		cfg, err := clkdiv.Compute(base, hz, phase)
		if err != nil {
			return err
		}
		fmt.Fprintf(w,
			"freq=%9d Hz -> %8d Hz  clkcfg=0x%08x fsel=%d div3=%d diven=%d lowper=%d totper=%d duty=%.1f%%\n",
			hz, cfg.Resolved, cfg.Register(),
			cfg.FSel, cfg.Div3, cfg.DivEn, cfg.LowPer, cfg.TotPer,
			100*cfg.DutyCycle(),
		)
	}
	return nil
}
