// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package spidev

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/go-lpc/xfer/bus"
	"github.com/go-lpc/xfer/clkdiv"
)

var errUnsupported = errors.New("spidev: not supported on " + runtime.GOOS)

// Device is an open SPI device.
type Device struct{}

// Open opens /dev/spidev<bus>.<cs>.
func Open(busID, cs int, opts ...Option) (*Device, error) {
	return OpenFile(fmt.Sprintf("/dev/spidev%d.%d", busID, cs), opts...)
}

// OpenFile opens the named SPI device.
func OpenFile(name string, opts ...Option) (*Device, error) {
	return nil, fmt.Errorf("spidev: could not open %q: %w", name, errUnsupported)
}

func (dev *Device) Mode() uint8                                     { return 0 }
func (dev *Device) Depth() int                                      { return 0 }
func (dev *Device) SetClock(cfg clkdiv.Config) error                { return errUnsupported }
func (dev *Device) Transfer(d *bus.Descriptor, done bus.Done) error { return errUnsupported }
func (dev *Device) Close() error                                    { return nil }
