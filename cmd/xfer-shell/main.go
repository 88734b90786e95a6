// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command xfer-shell is an interactive bench console driving transfer
// sequences on a bus and a RAM-backed ring log.
//
// Usage:
//
//	$> xfer-shell [OPTIONS]
//
// Example:
//
//	$> xfer-shell -board ./apollo3p.yaml -bus iom0
//	xfer> clk 400000 3
//	xfer> start write 10
//	xfer> poll
//	xfer> run 10 4 100ms
//	xfer> stats
package main // import "github.com/go-lpc/xfer/cmd/xfer-shell"

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-lpc/xfer/board"
	"github.com/peterh/liner"
)

func main() {
	var (
		fname = flag.String("board", "", "path to a YAML board description (default: one simulated bus)")
		name  = flag.String("bus", "", "name of the bus to drive (default: first bus of the board)")
	)

	log.SetPrefix("xfer-shell: ")
	log.SetFlags(0)

	flag.Parse()

	bcfg, err := selectBus(*fname, *name)
	if err != nil {
		log.Fatalf("could not select bus: %+v", err)
	}

	sh, err := newShell(bcfg, log.New(os.Stdout, "xfer-shell: ", 0))
	if err != nil {
		log.Fatalf("could not create shell: %+v", err)
	}
	defer sh.Close()

	err = repl(sh, os.Stdout)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func selectBus(fname, name string) (board.BusCfg, error) {
	if fname == "" {
		return board.BusCfg{Name: "iom0", Kind: board.KindSim, Hz: 1000000, Size: 16}, nil
	}

	cfg, err := board.Load(fname)
	if err != nil {
		return board.BusCfg{}, err
	}
	if name == "" {
		if len(cfg.Buses) == 0 {
			return board.BusCfg{}, fmt.Errorf("board %q has no bus", cfg.Name)
		}
		return cfg.Buses[0], nil
	}
	bcfg, ok := cfg.Bus(name)
	if !ok {
		return bcfg, fmt.Errorf("board %q has no bus %q", cfg.Name, name)
	}
	return bcfg, nil
}

func repl(sh *shell, w io.Writer) error {
	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(func(line string) []string {
		var o []string
		for _, cmd := range sh.commands() {
			if strings.HasPrefix(cmd, strings.ToLower(line)) {
				o = append(o, cmd)
			}
		}
		return o
	})

	hist := filepath.Join(os.TempDir(), ".xfer-shell.history")
	if f, err := os.Open(hist); err == nil {
		_, _ = term.ReadHistory(f)
		f.Close()
	}
	defer func() {
		f, err := os.Create(hist)
		if err != nil {
			return
		}
		defer f.Close()
		_, _ = term.WriteHistory(f)
	}()

	for {
		line, err := term.Prompt("xfer> ")
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				fmt.Fprintln(w)
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		term.AppendHistory(line)

		quit, err := sh.exec(line, w)
		if err != nil {
			fmt.Fprintf(w, "error: %+v\n", err)
		}
		if quit {
			return nil
		}
	}
}
