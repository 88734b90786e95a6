// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package clkdiv computes the clock generator fields of a serial bus
// controller (FSEL pre-scaler, DIV3, DIVEN, LOWPER and TOTPER) for a
// requested bus frequency, given the frequency of the base oscillator.
package clkdiv // import "github.com/go-lpc/xfer/clkdiv"

import (
	"errors"
	"fmt"
	"math/bits"
)

const (
	// BaseFreq is the default base oscillator frequency (HFRC).
	BaseFreq = 96000000

	// MaxFSel is the largest pre-scaler field the hardware supports.
	MaxFSel = 7

	fastStep = 250000 // DIV3 fast path grid (Hz)
)

// register fields layout.
const (
	shiftIOClkEn = 0
	shiftFSel    = 8
	shiftDiv3    = 11
	shiftDivEn   = 12
	shiftLowPer  = 16
	shiftTotPer  = 24

	maskFSel   = 0x7
	maskDiv3   = 0x1
	maskDivEn  = 0x1
	maskLowPer = 0xff
	maskTotPer = 0xff
)

var (
	ErrInvalidFrequency = errors.New("clkdiv: invalid frequency")
	ErrUnachievable     = errors.New("clkdiv: unachievable frequency")
)

// Phase selects which half of the clock period may be one cycle longer
// when the total period is odd.
type Phase uint8

const (
	LowLonger  Phase = 0 // longer low phase
	HighLonger Phase = 1 // longer high phase
)

// PhaseFromSPIMode returns the phase selector matching a SPI mode (0-3):
// modes with CPOL=1 get a longer high phase.
func PhaseFromSPIMode(mode uint8) Phase {
	return Phase((mode & 2) >> 1)
}

func (p Phase) String() string {
	switch p {
	case LowLonger:
		return "low-longer"
	case HighLonger:
		return "high-longer"
	default:
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
}

// Config is a resolved clock configuration.
type Config struct {
	Requested uint32 // requested frequency (Hz)
	Resolved  uint32 // achieved frequency (Hz)
	Phase     Phase

	FSel   uint32 // pre-scaler: base/2^(FSel-1)
	Div3   uint32 // extra divide-by-3 stage
	DivEn  uint32 // enable the TOTPER/LOWPER divider
	LowPer uint32 // low period count
	TotPer uint32 // total period count, minus one
}

// Compute returns the clock configuration that best matches the requested
// frequency hz, derived from the base oscillator frequency base.
//
// hz must be in (0, base/4]. Compute returns ErrUnachievable when hz is
// too low for the pre-scaler range of the hardware.
// Compute is a pure function: calling it again with the same arguments
// yields the same Config.
func Compute(base, hz uint32, phase Phase) (Config, error) {
	if hz == 0 || base == 0 || hz > base/4 {
		return Config{}, fmt.Errorf(
			"clkdiv: requested=%d Hz, base=%d Hz: %w",
			hz, base, ErrInvalidFrequency,
		)
	}

	// round up
	div := base / hz
	if base%hz != 0 {
		div++
	}

	n := uint32(bits.TrailingZeros32(div))
	if n > 6 {
		n = 6
	}

	var div3 uint32
	if hz < base/16384 || (hz >= base/3 && hz <= base/2-1) {
		div3 = 1
	}

	denom := (uint32(1) << n) * (1 + 2*div3)
	totper := div / denom
	if div%denom != 0 {
		totper++
	}

	v1 := uint32(bits.Len32(totper) - 1) // log2(totper)
	fsel := n
	if v1 > 7 {
		fsel = v1 + n - 7
	}
	fsel++

	if fsel > MaxFSel {
		return Config{}, fmt.Errorf(
			"clkdiv: requested=%d Hz (base=%d Hz) needs fsel=%d: %w",
			hz, base, fsel, ErrUnachievable,
		)
	}

	if v1 > 7 {
		orig := totper
		totper >>= v1 - 7
		if orig%(1<<(v1-7)) != 0 {
			totper++
		}
	}

	var diven uint32 = 1
	if hz >= base/4 || uint32(1)<<(fsel-1) == div {
		diven = 0
	}

	var lowper uint32
	if totper >= 2 {
		switch phase {
		case HighLonger:
			lowper = (totper - 2) / 2
		default:
			lowper = (totper - 1) / 2
		}
	}

	cfg := Config{
		Requested: hz,
		Phase:     phase,
		FSel:      fsel,
		Div3:      div3,
		DivEn:     diven,
		LowPer:    lowper,
		TotPer:    totper - 1,
	}
	cfg.Resolved = cfg.Frequency(base)

	// power-of-two multiples of 250kHz may be generated by the DIV3 stage
	// alone, with a 50% duty cycle.
	if cfg.Resolved%fastStep == 0 && onebit(cfg.Resolved/fastStep) {
		fast := Config{
			Requested: hz,
			Phase:     phase,
			FSel:      fsel,
			Div3:      1,
		}
		fast.Resolved = fast.Frequency(base)
		if fast.Resolved == cfg.Resolved {
			cfg = fast
		}
	}

	return cfg, nil
}

// Frequency returns the bus frequency generated by the configuration
// fields from the base oscillator frequency, rounded to nearest.
func (cfg Config) Frequency(base uint32) uint32 {
	if cfg.FSel == 0 {
		return 0
	}
	denom := (uint32(1) << (cfg.FSel - 1)) * (1 + 2*cfg.Div3) * (1 + cfg.DivEn*cfg.TotPer)
	freq := base / denom
	if base%denom > denom/2 {
		freq++
	}
	return freq
}

// Register packs the configuration into a CLKCFG register value,
// with the interface clock enabled.
func (cfg Config) Register() uint32 {
	return 1<<shiftIOClkEn |
		(cfg.FSel&maskFSel)<<shiftFSel |
		(cfg.Div3&maskDiv3)<<shiftDiv3 |
		(cfg.DivEn&maskDivEn)<<shiftDivEn |
		(cfg.LowPer&maskLowPer)<<shiftLowPer |
		(cfg.TotPer&maskTotPer)<<shiftTotPer
}

// Decode unpacks a CLKCFG register value.
// Requested and Phase can not be recovered and are left empty.
func Decode(reg, base uint32) Config {
	cfg := Config{
		FSel:   (reg >> shiftFSel) & maskFSel,
		Div3:   (reg >> shiftDiv3) & maskDiv3,
		DivEn:  (reg >> shiftDivEn) & maskDivEn,
		LowPer: (reg >> shiftLowPer) & maskLowPer,
		TotPer: (reg >> shiftTotPer) & maskTotPer,
	}
	cfg.Resolved = cfg.Frequency(base)
	return cfg
}

// DutyCycle returns the fraction of the clock period spent in the high phase.
func (cfg Config) DutyCycle() float64 {
	if cfg.DivEn == 0 {
		return 0.5
	}
	tot := float64(cfg.TotPer + 1)
	return (tot - float64(cfg.LowPer+1)) / tot
}

func (cfg Config) String() string {
	return fmt.Sprintf(
		"clk{req=%d Hz, got=%d Hz, fsel=%d, div3=%d, diven=%d, lowper=%d, totper=%d}",
		cfg.Requested, cfg.Resolved,
		cfg.FSel, cfg.Div3, cfg.DivEn, cfg.LowPer, cfg.TotPer,
	)
}

func onebit(v uint32) bool {
	return v != 0 && v&(v-1) == 0
}
