// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mspi-pins prints the pads an MSPI device mode needs on a board.
//
// Usage:
//
//	$> mspi-pins [OPTIONS] MODE...
//
// Example:
//
//	$> mspi-pins -board ./apollo3p.yaml -module 1 quad-ce1 octal-ce0
//	mspi1 quad-ce1:  CE1@61 D4@55 D5@56 D6@57 D7@58 SCK@59
//	mspi1 octal-ce0: CE0@50 D0@51 D1@52 D2@53 D3@54 D4@55 D5@56 D6@57 D7@58 SCK@59 DQS@60
package main // import "github.com/go-lpc/xfer/cmd/mspi-pins"

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/go-lpc/xfer/board"
)

func main() {
	var (
		fname  = flag.String("board", "", "path to a YAML board description")
		module = flag.Int("module", 0, "MSPI module")
		all    = flag.Bool("all", false, "print all the device modes")
	)

	log.SetPrefix("mspi-pins: ")
	log.SetFlags(0)

	flag.Parse()

	if *fname == "" {
		flag.Usage()
		log.Fatalf("missing board description")
	}

	cfg, err := board.Load(*fname)
	if err != nil {
		log.Fatalf("could not load board: %+v", err)
	}

	names := flag.Args()
	if *all {
		names = names[:0]
		for _, m := range board.Modes() {
			names = append(names, m.String())
		}
	}

	err = run(os.Stdout, cfg, *module, names)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(w io.Writer, cfg board.Config, module int, names []string) error {
	mspi, err := cfg.MSPI(module)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 1, ' ', 0)
	for _, name := range names {
		mode, err := board.ParseMode(name)
		if err != nil {
			return err
		}
		var line string
		pins, err := mspi.Pins(mode)
		switch err {
		case nil:
			o := make([]string, len(pins))
			for i, p := range pins {
				o[i] = p.String()
			}
			line = strings.Join(o, " ")
		default:
			line = "not supported"
		}
		fmt.Fprintf(tw, "mspi%d %v:\t%s\n", module, mode, line)
	}
	return tw.Flush()
}
