// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command xfer-pwr runs the bus power demo: on every tick of a timer, a
// sequence of N transfers is issued on each bus, alternating writes and
// reads, and the process sleeps until the next completion or tick.
//
// Usage:
//
//	$> xfer-pwr [OPTIONS]
//
// Example:
//
//	$> xfer-pwr -board ./apollo3p.yaml -n 10 -period 1s -cycles 20
//	$> xfer-pwr -pmon -pmon-freq 500ms
package main // import "github.com/go-lpc/xfer/cmd/xfer-pwr"

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/go-lpc/xfer/board"
	"github.com/go-lpc/xfer/bus"
	"github.com/sbinet/pmon"
	"golang.org/x/sync/errgroup"
)

const defaultSize = 16

func main() {
	var (
		fname  = flag.String("board", "", "path to a YAML board description (default: one simulated bus)")
		n      = flag.Int("n", 10, "number of transfers per sequence")
		period = flag.Duration("period", 1*time.Second, "sequence timer period")
		cycles = flag.Int("cycles", 0, "number of sequences per bus (0: run until interrupted)")
		doMon  = flag.Bool("pmon", false, "enable pmon monitoring")
		freq   = flag.Duration("pmon-freq", 1*time.Second, "pmon frequency")
		fails  = flag.Int("alert", 5, "number of consecutive failed sequences before a mail alert")
	)

	log.SetPrefix("xfer-pwr: ")
	log.SetFlags(0)

	flag.Parse()

	cfg, err := loadBoard(*fname)
	if err != nil {
		log.Fatalf("could not load board: %+v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	defer signal.Stop(stop)
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	if *doMon {
		p, err := pmon.Monitor(os.Getpid())
		if err != nil {
			log.Fatalf("could not start monitoring: %+v", err)
		}
		f, err := os.Create("xfer-pwr-pmon.log")
		if err != nil {
			log.Fatalf("could not create pmon log file: %+v", err)
		}
		defer f.Close()
		p.W = f
		p.Freq = *freq

		go func() {
			err := p.Run()
			if err != nil {
				log.Printf("could not run pmon: %+v", err)
			}
		}()
		defer func() {
			err := p.Kill()
			if err != nil {
				log.Printf("could not stop monitoring: %+v", err)
			}
		}()
	}

	alert := newAlerter(*fails, alertMail)
	err = run(ctx, cfg, *n, *period, *cycles, alert)
	if err != nil {
		log.Fatalf("could not run power demo: %+v", err)
	}
}

func loadBoard(fname string) (board.Config, error) {
	if fname == "" {
		return board.Config{
			Name: "sim",
			Buses: []board.BusCfg{
				{Name: "iom0", Kind: board.KindSim, Hz: 1000000, Size: defaultSize},
			},
		}, nil
	}
	return board.Load(fname)
}

func run(ctx context.Context, cfg board.Config, n int, period time.Duration, cycles int, alert *alerter) error {
	type runner struct {
		name string
		seq  *bus.Sequencer
	}

	runners := make([]runner, 0, len(cfg.Buses))
	for _, bcfg := range cfg.Buses {
		b, closer, err := bcfg.Open(log.New(os.Stdout, "xfer-pwr: "+bcfg.Name+": ", 0))
		if err != nil {
			return fmt.Errorf("could not open bus %q: %w", bcfg.Name, err)
		}
		defer closer.Close()

		size := bcfg.Size
		if size <= 0 {
			size = defaultSize
		}
		runners = append(runners, runner{
			name: bcfg.Name,
			seq:  bus.NewSequencer(b, bus.PatternSource(bcfg.Peer, size)),
		})
	}

	grp, ctx := errgroup.WithContext(ctx)
	for i := range runners {
		r := runners[i]
		grp.Go(func() error {
			tck := time.NewTicker(period)
			defer tck.Stop()

			err := r.seq.Run(ctx, tck.C, n, cycles, func(st bus.Status) {
				log.Printf("%s: %v", r.name, st)
				alert.update(r.name, st)
			})

			stats := r.seq.Stats()
			log.Printf(
				"%s: sequences=%d completed=%d failed=%d timeouts=%d transfers=%d late=%d",
				r.name, stats.Sequences, stats.Completed, stats.Failed,
				stats.Timeouts, stats.Transfers, stats.Late,
			)

			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("bus %q: %w", r.name, err)
			}
			return nil
		})
	}

	return grp.Wait()
}
