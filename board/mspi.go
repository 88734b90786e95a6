// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package board

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownMode = errors.New("board: unknown MSPI device mode")
	ErrUnsupported = errors.New("board: MSPI mode not supported by module")
	ErrNoModule    = errors.New("board: no such MSPI module")
)

// Mode is the device configuration of a multi-bit SPI module: the number
// of data lanes and the chip-enable the device sits on.
type Mode uint8

const (
	SerialCE0 Mode = iota
	SerialCE1
	DualCE0
	DualCE1
	QuadCE0
	QuadCE1
	OctalCE0
	OctalCE1
)

var modes = [...]struct {
	name  string
	lanes int
	ce    int
	alias []string // protocol variants sharing the same pads
}{
	SerialCE0: {"serial-ce0", 2, 0, []string{"serial-ce0-3wire"}},
	SerialCE1: {"serial-ce1", 2, 1, []string{"serial-ce1-3wire"}},
	DualCE0:   {"dual-ce0", 2, 0, []string{"dual-ce0-1-1-2", "dual-ce0-1-2-2"}},
	DualCE1:   {"dual-ce1", 2, 1, []string{"dual-ce1-1-1-2", "dual-ce1-1-2-2"}},
	QuadCE0:   {"quad-ce0", 4, 0, []string{"quad-ce0-1-1-4", "quad-ce0-1-4-4"}},
	QuadCE1:   {"quad-ce1", 4, 1, []string{"quad-ce1-1-1-4", "quad-ce1-1-4-4"}},
	OctalCE0:  {"octal-ce0", 8, 0, nil},
	OctalCE1:  {"octal-ce1", 8, 1, nil},
}

// Modes returns all the known device modes.
func Modes() []Mode {
	o := make([]Mode, len(modes))
	for i := range o {
		o[i] = Mode(i)
	}
	return o
}

// ParseMode parses a device mode name, such as "quad-ce1" or "dual-ce0-1-2-2".
// Names are case-insensitive and '_' may be used in place of '-'.
func ParseMode(s string) (Mode, error) {
	name := strings.ToLower(strings.ReplaceAll(s, "_", "-"))
	for i, m := range modes {
		if name == m.name {
			return Mode(i), nil
		}
		for _, alias := range m.alias {
			if name == alias {
				return Mode(i), nil
			}
		}
	}
	return 0, fmt.Errorf("%w %q", ErrUnknownMode, s)
}

func (m Mode) String() string {
	if int(m) < len(modes) {
		return modes[m].name
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// Lanes returns the number of data lanes the mode drives.
func (m Mode) Lanes() int { return modes[m].lanes }

// CE returns the chip-enable index of the mode.
func (m Mode) CE() int { return modes[m].ce }

func (m Mode) valid() bool { return int(m) < len(modes) }

// MSPICfg describes the pads of a multi-bit SPI module.
type MSPICfg struct {
	Module int   `yaml:"module"`
	CE0    int   `yaml:"ce0"`
	CE1    int   `yaml:"ce1"`
	SCK    int   `yaml:"sck"`
	Data   []int `yaml:"data"`          // pads of D0, D1, ...
	DQS    int   `yaml:"dqs,omitempty"` // data strobe pad of octal devices, 0 if none

	// CE1Lane is the first data lane used by CE1 devices narrower than
	// octal. Boards that route the CE1 flash on the upper lanes set it to 4.
	CE1Lane int `yaml:"ce1-lane,omitempty"`
}

func (cfg MSPICfg) validate() error {
	switch n := len(cfg.Data); n {
	case 2, 4, 8:
	default:
		return fmt.Errorf("board: MSPI module %d: invalid number of data pads (%d)", cfg.Module, n)
	}
	if cfg.CE1Lane < 0 || cfg.CE1Lane+2 > len(cfg.Data) {
		return fmt.Errorf("board: MSPI module %d: invalid CE1 lane %d", cfg.Module, cfg.CE1Lane)
	}
	return nil
}

// Pin is a pad function of an MSPI module.
type Pin struct {
	Name string // function name, e.g. "CE0", "D3", "SCK"
	Pad  int
}

func (p Pin) String() string {
	return fmt.Sprintf("%s@%d", p.Name, p.Pad)
}

// Pins returns the pads a device in the given mode needs, chip-enable first,
// then data lanes, clock and data strobe.
func (cfg MSPICfg) Pins(mode Mode) ([]Pin, error) {
	if !mode.valid() {
		return nil, fmt.Errorf("%w %d", ErrUnknownMode, uint8(mode))
	}
	var (
		lanes = mode.Lanes()
		first = 0
		pins  = make([]Pin, 0, lanes+3)
	)
	switch mode.CE() {
	case 0:
		pins = append(pins, Pin{"CE0", cfg.CE0})
	default:
		pins = append(pins, Pin{"CE1", cfg.CE1})
		if lanes < 8 {
			first = cfg.CE1Lane
		}
	}
	if first+lanes > len(cfg.Data) {
		return nil, fmt.Errorf(
			"board: MSPI module %d, mode %v: %w",
			cfg.Module, mode, ErrUnsupported,
		)
	}
	for i := first; i < first+lanes; i++ {
		pins = append(pins, Pin{fmt.Sprintf("D%d", i), cfg.Data[i]})
	}
	pins = append(pins, Pin{"SCK", cfg.SCK})
	if lanes == 8 && cfg.DQS != 0 {
		pins = append(pins, Pin{"DQS", cfg.DQS})
	}
	return pins, nil
}

// PinConfigurer configures the function of a pad.
type PinConfigurer interface {
	ConfigurePin(p Pin, enable bool) error
}

// MSPI returns the pad description of the given MSPI module.
func (cfg Config) MSPI(module int) (MSPICfg, error) {
	for _, m := range cfg.Modules {
		if m.Module == module {
			return m, nil
		}
	}
	return MSPICfg{}, fmt.Errorf("%w %d", ErrNoModule, module)
}

// EnablePins routes the pads of an MSPI module for a device mode.
func (cfg Config) EnablePins(pc PinConfigurer, module int, mode Mode) error {
	return cfg.configurePins(pc, module, mode, true)
}

// DisablePins releases the pads of an MSPI module for a device mode.
func (cfg Config) DisablePins(pc PinConfigurer, module int, mode Mode) error {
	return cfg.configurePins(pc, module, mode, false)
}

func (cfg Config) configurePins(pc PinConfigurer, module int, mode Mode, enable bool) error {
	mspi, err := cfg.MSPI(module)
	if err != nil {
		return err
	}
	pins, err := mspi.Pins(mode)
	if err != nil {
		return err
	}
	for _, p := range pins {
		err = pc.ConfigurePin(p, enable)
		if err != nil {
			return fmt.Errorf("board: could not configure pin %v of MSPI module %d: %w", p, module, err)
		}
	}
	return nil
}
