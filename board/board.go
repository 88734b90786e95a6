// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package board describes the buses and MSPI pin assignments of a board,
// selected at run time from a YAML description or from the configuration
// database.
package board // import "github.com/go-lpc/xfer/board"

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/xfer/bus"
	"github.com/go-lpc/xfer/i2cbus"
	"github.com/go-lpc/xfer/simbus"
	"github.com/go-lpc/xfer/spidev"
	"github.com/go-lpc/xfer/uartbridge"
	"gopkg.in/yaml.v3"
)

var ErrUnknownKind = errors.New("board: unknown bus kind")

// Bus kinds.
const (
	KindSim  = "sim"
	KindSPI  = "spidev"
	KindI2C  = "i2c"
	KindUART = "uart"
)

// Config describes a board.
type Config struct {
	Name    string    `yaml:"name"`
	Buses   []BusCfg  `yaml:"buses"`
	Modules []MSPICfg `yaml:"mspi,omitempty"`
}

// BusCfg describes one serial bus of a board.
type BusCfg struct {
	Name   string `yaml:"name"`
	Kind   string `yaml:"kind"`             // sim, spidev, i2c or uart
	Device string `yaml:"device,omitempty"` // device file (spidev, uart)
	Index  int    `yaml:"index,omitempty"`  // i2c adapter number
	Addr   uint8  `yaml:"addr,omitempty"`   // default i2c address
	Baud   int    `yaml:"baud,omitempty"`   // uart baud rate
	Hz     uint32 `yaml:"hz"`               // bus clock
	Mode   uint8  `yaml:"mode,omitempty"`   // SPI mode
	Depth  int    `yaml:"depth,omitempty"`  // command queue depth
	Peer   uint32 `yaml:"peer,omitempty"`   // peer selector for sequences
	Size   int    `yaml:"size,omitempty"`   // sequence transfer size
}

// Load loads a board description from a YAML file.
func Load(fname string) (Config, error) {
	raw, err := os.ReadFile(fname)
	if err != nil {
		return Config{}, fmt.Errorf("board: could not read %q: %w", fname, err)
	}
	cfg, err := Decode(bytes.NewReader(raw))
	if err != nil {
		return cfg, fmt.Errorf("board: could not load %q: %w", fname, err)
	}
	return cfg, nil
}

// Decode decodes a YAML board description.
func Decode(r io.Reader) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	err := dec.Decode(&cfg)
	if err != nil {
		return cfg, fmt.Errorf("board: could not decode YAML: %w", err)
	}
	return cfg, cfg.Validate()
}

// Encode writes the board description as YAML.
func (cfg Config) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	err := enc.Encode(cfg)
	if err != nil {
		return fmt.Errorf("board: could not encode YAML: %w", err)
	}
	return enc.Close()
}

// Validate checks the board description.
func (cfg Config) Validate() error {
	names := make(map[string]struct{}, len(cfg.Buses))
	for i, b := range cfg.Buses {
		if b.Name == "" {
			return fmt.Errorf("board: bus #%d has no name", i)
		}
		if _, dup := names[b.Name]; dup {
			return fmt.Errorf("board: duplicate bus %q", b.Name)
		}
		names[b.Name] = struct{}{}

		switch b.Kind {
		case KindSim, KindI2C:
		case KindSPI, KindUART:
			if b.Device == "" {
				return fmt.Errorf("board: bus %q (%s) has no device", b.Name, b.Kind)
			}
		default:
			return fmt.Errorf("board: bus %q: %w %q", b.Name, ErrUnknownKind, b.Kind)
		}
		if b.Mode > 3 {
			return fmt.Errorf("board: bus %q: invalid SPI mode %d", b.Name, b.Mode)
		}
	}
	for _, m := range cfg.Modules {
		err := m.validate()
		if err != nil {
			return err
		}
	}
	return nil
}

// Bus returns the description of the named bus.
func (cfg Config) Bus(name string) (BusCfg, bool) {
	for _, b := range cfg.Buses {
		if b.Name == name {
			return b, true
		}
	}
	return BusCfg{}, false
}

// Open opens the controller of the bus and configures its clock.
// The returned closer releases the controller.
func (cfg BusCfg) Open(msg *log.Logger) (*bus.Bus, io.Closer, error) {
	if msg == nil {
		msg = log.New(os.Stdout, cfg.Name+": ", 0)
	}

	var (
		ctrl interface {
			bus.Controller
			io.Closer
		}
		err error
	)
	switch cfg.Kind {
	case KindSim:
		ctrl = simbus.New(
			simbus.WithLogger(msg),
			simbus.WithDepth(cfg.Depth),
		)
	case KindSPI:
		ctrl, err = spidev.OpenFile(cfg.Device,
			spidev.WithLogger(msg),
			spidev.WithMode(cfg.Mode),
			spidev.WithDepth(cfg.Depth),
		)
	case KindI2C:
		ctrl, err = i2cbus.Open(cfg.Index, cfg.Addr, i2cbus.WithLogger(msg))
	case KindUART:
		ctrl, err = uartbridge.Open(cfg.Device, cfg.Baud,
			uartbridge.WithLogger(msg),
			uartbridge.WithDepth(cfg.Depth),
		)
	default:
		return nil, nil, fmt.Errorf("board: bus %q: %w %q", cfg.Name, ErrUnknownKind, cfg.Kind)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("board: could not open bus %q: %w", cfg.Name, err)
	}

	b := bus.New(ctrl, bus.WithName(cfg.Name), bus.WithLogger(msg))
	if cfg.Hz != 0 {
		_, err = b.Configure(cfg.Hz, cfg.Mode)
		if err != nil {
			_ = ctrl.Close()
			return nil, nil, fmt.Errorf("board: could not configure bus %q: %w", cfg.Name, err)
		}
	}

	return b, ctrl, nil
}
