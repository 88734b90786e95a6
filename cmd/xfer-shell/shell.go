// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-lpc/xfer/board"
	"github.com/go-lpc/xfer/bus"
	"github.com/go-lpc/xfer/nvm"
	"github.com/go-lpc/xfer/ringlog"
)

var logGeometry = nvm.Geometry{Size: 16 * 2048, PageSize: 2048, ProgramUnit: 16}

type shell struct {
	name   string
	bus    *bus.Bus
	closer io.Closer
	seq    *bus.Sequencer
	rlog   *ringlog.Buffer

	cmds map[string]command
}

type command struct {
	help string
	run  func(args []string, w io.Writer) error
}

var errQuit = errors.New("quit")

func newShell(bcfg board.BusCfg, msg *log.Logger) (*shell, error) {
	b, closer, err := bcfg.Open(msg)
	if err != nil {
		return nil, fmt.Errorf("could not open bus %q: %w", bcfg.Name, err)
	}

	mem, err := nvm.NewMem(logGeometry)
	if err != nil {
		_ = closer.Close()
		return nil, fmt.Errorf("could not create log medium: %w", err)
	}
	rlog, err := ringlog.New(mem, 0, logGeometry.Size, ringlog.WithLogger(msg))
	if err != nil {
		_ = closer.Close()
		return nil, fmt.Errorf("could not create ring log: %w", err)
	}
	err = rlog.Init()
	if err != nil {
		_ = closer.Close()
		return nil, fmt.Errorf("could not initialize ring log: %w", err)
	}

	size := bcfg.Size
	if size <= 0 {
		size = 16
	}

	sh := &shell{
		name:   bcfg.Name,
		bus:    b,
		closer: closer,
		seq:    bus.NewSequencer(b, bus.PatternSource(bcfg.Peer, size)),
		rlog:   rlog,
	}
	sh.cmds = map[string]command{
		"clk":   {"clk HZ [MODE]          configure the bus clock", sh.cmdClk},
		"start": {"start read|write N     start a sequence of N transfers", sh.cmdStart},
		"poll":  {"poll                   advance the current sequence", sh.cmdPoll},
		"wait":  {"wait [TIMEOUT]         poll until the sequence ends", sh.cmdWait},
		"run":   {"run N CYCLES PERIOD    run alternate sequences on a timer", sh.cmdRun},
		"stats": {"stats                  print bus and sequencer counters", sh.cmdStats},
		"log":   {"log write TEXT|flush|dump|init  drive the ring log", sh.cmdLog},
		"help":  {"help                   print this help", sh.cmdHelp},
		"quit":  {"quit                   exit the shell", func([]string, io.Writer) error { return errQuit }},
	}
	return sh, nil
}

func (sh *shell) Close() error {
	return sh.closer.Close()
}

func (sh *shell) commands() []string {
	o := make([]string, 0, len(sh.cmds))
	for k := range sh.cmds {
		o = append(o, k)
	}
	sort.Strings(o)
	return o
}

// exec runs a command line. It reports whether the shell should exit.
func (sh *shell) exec(line string, w io.Writer) (bool, error) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false, nil
	}
	cmd, ok := sh.cmds[strings.ToLower(args[0])]
	if !ok {
		return false, fmt.Errorf("unknown command %q (try \"help\")", args[0])
	}
	err := cmd.run(args[1:], w)
	if errors.Is(err, errQuit) {
		return true, nil
	}
	return false, err
}

func (sh *shell) logf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(sh.rlog, "%s "+format+"\n", append([]interface{}{sh.name}, args...)...)
}

func (sh *shell) cmdHelp(args []string, w io.Writer) error {
	for _, name := range sh.commands() {
		fmt.Fprintf(w, "  %s\n", sh.cmds[name].help)
	}
	return nil
}

func (sh *shell) cmdClk(args []string, w io.Writer) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: clk HZ [MODE]")
	}
	hz, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid frequency %q: %w", args[0], err)
	}
	var mode uint64
	if len(args) == 2 {
		mode, err = strconv.ParseUint(args[1], 10, 2)
		if err != nil {
			return fmt.Errorf("invalid SPI mode %q: %w", args[1], err)
		}
	}
	cfg, err := sh.bus.Configure(uint32(hz), uint8(mode))
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%v\n", cfg)
	sh.logf("clk %d Hz -> %d Hz", hz, cfg.Resolved)
	return nil
}

func parseDir(s string) (bus.Direction, error) {
	switch strings.ToLower(s) {
	case "read", "r":
		return bus.Read, nil
	case "write", "w":
		return bus.Write, nil
	}
	return 0, fmt.Errorf("invalid direction %q", s)
}

func (sh *shell) cmdStart(args []string, w io.Writer) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: start read|write N")
	}
	dir, err := parseDir(args[0])
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid number of transfers %q: %w", args[1], err)
	}
	err = sh.seq.Start(dir, n)
	if err != nil {
		return err
	}
	st := sh.seq.Poll()
	fmt.Fprintf(w, "%v\n", st)
	return nil
}

func (sh *shell) cmdPoll(args []string, w io.Writer) error {
	st := sh.seq.Poll()
	fmt.Fprintf(w, "%v\n", st)
	sh.report(st)
	return nil
}

func (sh *shell) report(st bus.Status) {
	switch st.State {
	case bus.Completed, bus.Failed:
		sh.logf("%v", st)
	}
}

func (sh *shell) cmdWait(args []string, w io.Writer) error {
	timeout := time.Second
	if len(args) > 0 {
		v, err := time.ParseDuration(args[0])
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", args[0], err)
		}
		timeout = v
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for {
		st := sh.seq.Poll()
		switch st.State {
		case bus.Idle, bus.Completed, bus.Failed:
			fmt.Fprintf(w, "%v\n", st)
			sh.report(st)
			return nil
		}
		err := sh.seq.Wait(ctx)
		if err != nil {
			sh.seq.Timeout()
		}
	}
}

func (sh *shell) cmdRun(args []string, w io.Writer) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: run N CYCLES PERIOD")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid number of transfers %q: %w", args[0], err)
	}
	cycles, err := strconv.Atoi(args[1])
	if err != nil || cycles <= 0 {
		return fmt.Errorf("invalid number of cycles %q", args[1])
	}
	period, err := time.ParseDuration(args[2])
	if err != nil {
		return fmt.Errorf("invalid period %q: %w", args[2], err)
	}

	tck := time.NewTicker(period)
	defer tck.Stop()

	return sh.seq.Run(context.Background(), tck.C, n, cycles, func(st bus.Status) {
		fmt.Fprintf(w, "%v\n", st)
		sh.report(st)
	})
}

func (sh *shell) cmdStats(args []string, w io.Writer) error {
	var (
		bs = sh.bus.Stats()
		ss = sh.seq.Stats()
	)
	fmt.Fprintf(w, "bus %s: submitted=%d completed=%d errors=%d rejected=%d invalid=%d pending=%d\n",
		sh.name, bs.Submitted, bs.Completed, bs.Errors, bs.Rejected, bs.Invalid, sh.bus.Pending(),
	)
	fmt.Fprintf(w, "seq %s: sequences=%d completed=%d failed=%d timeouts=%d transfers=%d late=%d\n",
		sh.name, ss.Sequences, ss.Completed, ss.Failed, ss.Timeouts, ss.Transfers, ss.Late,
	)
	return nil
}

func (sh *shell) cmdLog(args []string, w io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: log write TEXT|flush|dump|init")
	}
	switch args[0] {
	case "init":
		return sh.rlog.Init()
	case "write":
		_, err := fmt.Fprintf(sh.rlog, "%s\n", strings.Join(args[1:], " "))
		return err
	case "flush":
		err := sh.rlog.Flush()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "ring log: %d bytes\n", sh.rlog.Len())
		return nil
	case "dump":
		err := sh.rlog.ReadInit()
		if err != nil {
			return err
		}
		_, err = io.Copy(w, sh.rlog)
		return err
	}
	return fmt.Errorf("unknown log command %q", args[0])
}
