// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"io"
	"log"
	"strings"
	"testing"
)

func newTestShell(t *testing.T) *shell {
	t.Helper()
	bcfg, err := selectBus("", "")
	if err != nil {
		t.Fatalf("could not select bus: %+v", err)
	}
	sh, err := newShell(bcfg, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("could not create shell: %+v", err)
	}
	t.Cleanup(func() { _ = sh.Close() })
	return sh
}

func TestShell(t *testing.T) {
	sh := newTestShell(t)

	for _, tc := range []struct {
		line string
		want string
	}{
		{"help", "start read|write N"},
		{"clk 400000 3", "got=400000 Hz"},
		{"start write 4", ""},
		{"wait 5s", "completed"},
		{"start read 4", ""},
		{"wait 5s", "completed"},
		{"run 2 2 20ms", ""},
		{"stats", "seq iom0: sequences=4"},
		{"log write hello bench", ""},
		{"log flush", "ring log:"},
		{"log dump", "hello bench\n"},
	} {
		t.Run(tc.line, func(t *testing.T) {
			out := new(bytes.Buffer)
			quit, err := sh.exec(tc.line, out)
			if err != nil {
				t.Fatalf("could not run %q: %+v", tc.line, err)
			}
			if quit {
				t.Fatalf("unexpected quit")
			}
			if got := out.String(); !strings.Contains(strings.ToLower(got), strings.ToLower(tc.want)) {
				t.Fatalf("invalid output:\ngot= %q\nwant=%q", got, tc.want)
			}
		})
	}

	out := new(bytes.Buffer)
	_, err := sh.exec("log dump", out)
	if err != nil {
		t.Fatalf("could not dump log: %+v", err)
	}
	for _, want := range []string{
		"iom0 clk 400000 Hz -> 400000 Hz\n",
		"hello bench\n",
	} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("ring log does not contain %q:\n%s", want, out.String())
		}
	}

	quit, err := sh.exec("quit", out)
	if err != nil || !quit {
		t.Fatalf("invalid quit: quit=%v, err=%v", quit, err)
	}
}

func TestShellErrors(t *testing.T) {
	sh := newTestShell(t)

	for _, tc := range []struct {
		line string
		want string
	}{
		{"frobnicate", `unknown command "frobnicate"`},
		{"clk", "usage: clk HZ [MODE]"},
		{"clk fast", `invalid frequency "fast"`},
		{"clk 1000000 4", `invalid SPI mode "4"`},
		{"clk 1000", "unachievable frequency"},
		{"start", "usage: start read|write N"},
		{"start sideways 4", `invalid direction "sideways"`},
		{"start read many", `invalid number of transfers "many"`},
		{"start read 0", "invalid sequence length 0"},
		{"wait forever", `invalid timeout "forever"`},
		{"run 1 0 1ms", `invalid number of cycles "0"`},
		{"run 1 1 soon", `invalid period "soon"`},
		{"log", "usage: log"},
		{"log erase", `unknown log command "erase"`},
		{"log dump", "ringlog: read before flush"},
	} {
		t.Run(tc.line, func(t *testing.T) {
			_, err := sh.exec(tc.line, io.Discard)
			if err == nil {
				t.Fatalf("expected an error")
			}
			if got := err.Error(); !strings.Contains(got, tc.want) {
				t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, tc.want)
			}
		})
	}

	quit, err := sh.exec("   ", io.Discard)
	if err != nil || quit {
		t.Fatalf("invalid empty line handling: quit=%v, err=%v", quit, err)
	}
}

func TestSelectBus(t *testing.T) {
	bcfg, err := selectBus("../../board/testdata/apollo3p.yaml", "")
	if err != nil {
		t.Fatalf("could not select bus: %+v", err)
	}
	if got, want := bcfg.Name, "iom0"; got != want {
		t.Fatalf("invalid bus: got=%q, want=%q", got, want)
	}

	bcfg, err = selectBus("../../board/testdata/apollo3p.yaml", "iom1")
	if err != nil {
		t.Fatalf("could not select bus: %+v", err)
	}
	if got, want := bcfg.Hz, uint32(400000); got != want {
		t.Fatalf("invalid bus clock: got=%d, want=%d", got, want)
	}

	_, err = selectBus("../../board/testdata/apollo3p.yaml", "iom9")
	if err == nil {
		t.Fatalf("expected an error")
	}
}
