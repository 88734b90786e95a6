// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package i2cbus drives register-based I2C peers over SMBus as a
// non-blocking bus controller.
//
// The peer selector of a transfer descriptor is the 7-bit I2C address
// of the peer, and the instruction is the first register offset.
// Transfers auto-increment the register offset, one byte at a time.
package i2cbus // import "github.com/go-lpc/xfer/i2cbus"

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/go-daq/smbus"
	"github.com/go-lpc/xfer/bus"
)

var ErrClosed = errors.New("i2cbus: device closed")

type conn interface {
	ReadReg(addr, reg uint8) (uint8, error)
	WriteReg(addr, reg, v uint8) error
	Close() error
}

var smbusOpen = smbusOpenImpl

func smbusOpenImpl(busID int, addr uint8) (conn, error) {
	c, err := smbus.Open(busID, addr)
	if err != nil {
		return nil, err
	}
	return c, nil
}

type request struct {
	d    *bus.Descriptor
	done bus.Done
}

// Device is an SMBus adapter.
type Device struct {
	msg  *log.Logger
	addr uint8 // default peer address
	conn conn

	mu     sync.Mutex
	queue  chan request
	closed bool
	wg     sync.WaitGroup
}

// Option configures an SMBus adapter.
type Option func(*Device)

// WithLogger sets the logger of the device.
func WithLogger(msg *log.Logger) Option {
	return func(dev *Device) {
		dev.msg = msg
	}
}

// Open opens the SMBus adapter /dev/i2c-<busID>, with addr as the
// default peer address.
func Open(busID int, addr uint8, opts ...Option) (*Device, error) {
	c, err := smbusOpen(busID, addr)
	if err != nil {
		return nil, fmt.Errorf("i2cbus: could not open i2c-%d (addr=0x%x): %w", busID, addr, err)
	}

	dev := &Device{
		msg:   log.New(os.Stdout, "i2cbus: ", 0),
		addr:  addr,
		conn:  c,
		queue: make(chan request, 1),
	}
	for _, opt := range opts {
		opt(dev)
	}

	dev.wg.Add(1)
	go dev.loop()

	return dev, nil
}

// Transfer queues the transfer described by d.
func (dev *Device) Transfer(d *bus.Descriptor, done bus.Done) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	switch {
	case dev.closed:
		return ErrClosed
	case d.Peer > 0x7f:
		return fmt.Errorf("i2cbus: invalid 7-bit address 0x%x", d.Peer)
	case d.Instr > 0xff || d.Instr+uint64(d.Len) > 0x100:
		return fmt.Errorf("i2cbus: register range 0x%x+%d out of bounds", d.Instr, d.Len)
	}

	select {
	case dev.queue <- request{d: d, done: done}:
		return nil
	default:
		return fmt.Errorf("i2cbus: adapter busy: %w", bus.ErrBusy)
	}
}

func (dev *Device) loop() {
	defer dev.wg.Done()
	for req := range dev.queue {
		err := dev.run(req.d)
		if e := req.done(err); e != nil {
			dev.msg.Printf("spurious completion: %+v", e)
		}
	}
}

func (dev *Device) run(d *bus.Descriptor) error {
	addr := dev.addr
	if d.Peer != 0 {
		addr = uint8(d.Peer)
	}

	var err error
	for i := 0; i < d.Len; i++ {
		reg := uint8(d.Instr) + uint8(i)
		switch d.Dir {
		case bus.Write:
			err = dev.conn.WriteReg(addr, reg, d.Buf[i])
		default:
			d.Buf[i], err = dev.conn.ReadReg(addr, reg)
		}
		if err != nil {
			return fmt.Errorf("i2cbus: could not %v register 0x%x of peer 0x%x: %w",
				d.Dir, reg, addr, err,
			)
		}
	}
	return nil
}

// Close drains the transfer queue and closes the adapter.
func (dev *Device) Close() error {
	dev.mu.Lock()
	if dev.closed {
		dev.mu.Unlock()
		return nil
	}
	dev.closed = true
	close(dev.queue)
	dev.mu.Unlock()

	dev.wg.Wait()

	err := dev.conn.Close()
	if err != nil {
		return fmt.Errorf("i2cbus: could not close adapter: %w", err)
	}
	return nil
}

var (
	_ bus.Controller = (*Device)(nil)
)
