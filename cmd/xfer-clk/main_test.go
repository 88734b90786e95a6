// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/go-lpc/xfer/clkdiv"
)

func TestRun(t *testing.T) {
	freqs, err := parseFreqs([]string{"24000000", "1000000", "400000", "10000"})
	if err != nil {
		t.Fatalf("could not parse frequencies: %+v", err)
	}

	out := new(bytes.Buffer)
	err = run(out, clkdiv.BaseFreq, 0, freqs)
	if err != nil {
		t.Fatalf("could not run: %+v", err)
	}

	want := `freq= 24000000 Hz -> 24000000 Hz  clkcfg=0x00000301 fsel=3 div3=0 diven=0 lowper=0 totper=0 duty=50.0%
freq=  1000000 Hz ->  1000000 Hz  clkcfg=0x00000e01 fsel=6 div3=1 diven=0 lowper=0 totper=0 duty=50.0%
freq=   400000 Hz ->   400000 Hz  clkcfg=0x0e071501 fsel=5 div3=0 diven=1 lowper=7 totper=14 duty=46.7%
freq=    10000 Hz ->    10000 Hz  clkcfg=0x954a1701 fsel=7 div3=0 diven=1 lowper=74 totper=149 duty=50.0%
`
	if got := out.String(); got != want {
		t.Fatalf("invalid output:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestRunDefaults(t *testing.T) {
	freqs, err := parseFreqs(nil)
	if err != nil {
		t.Fatalf("could not parse frequencies: %+v", err)
	}
	for mode := uint8(0); mode < 4; mode++ {
		err = run(new(bytes.Buffer), clkdiv.BaseFreq, mode, freqs)
		if err != nil {
			t.Fatalf("mode=%d: could not run: %+v", mode, err)
		}
	}
}

func TestRunErrors(t *testing.T) {
	_, err := parseFreqs([]string{"1MHz"})
	if err == nil {
		t.Fatalf("expected an error")
	}

	err = run(new(bytes.Buffer), clkdiv.BaseFreq, 0, []uint32{1000})
	if !errors.Is(err, clkdiv.ErrUnachievable) {
		t.Fatalf("invalid error: got=%v, want=%v", err, clkdiv.ErrUnachievable)
	}
}
