// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

// Package spidev drives a Linux SPI device (/dev/spidevB.C) as a
// non-blocking bus controller.
package spidev // import "github.com/go-lpc/xfer/spidev"

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"sync"
	"unsafe"

	"github.com/go-lpc/xfer/bus"
	"github.com/go-lpc/xfer/clkdiv"
	"golang.org/x/sys/unix"
)

const (
	spiIOCWrMode        = 0x40016b01
	spiIOCWrBitsPerWord = 0x40016b03
	spiIOCWrMaxSpeedHz  = 0x40046b04
	spiIOCMessage1      = 0x40206b00 // SPI_IOC_MESSAGE(1)
)

// ioctl is the system call used to drive the device.
var ioctl = ioctlImpl

func ioctlImpl(fd uintptr, req uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// xfer mirrors struct spi_ioc_transfer.
type xfer struct {
	txBuf       uint64
	rxBuf       uint64
	length      uint32
	speedHz     uint32
	delayUsecs  uint16
	bitsPerWord uint8
	csChange    uint8
	txNbits     uint8
	rxNbits     uint8
	wordDelay   uint8
	pad         uint8
}

type request struct {
	d    *bus.Descriptor
	done bus.Done
}

// Device is an open SPI device.
type Device struct {
	msg  *log.Logger
	f    *os.File
	mode uint8
	bits uint8

	mu     sync.Mutex
	hz     uint32
	queue  chan request
	closed bool
	wg     sync.WaitGroup
}

// Open opens /dev/spidev<bus>.<cs>.
func Open(busID, cs int, opts ...Option) (*Device, error) {
	return OpenFile(fmt.Sprintf("/dev/spidev%d.%d", busID, cs), opts...)
}

// OpenFile opens the named SPI device.
func OpenFile(name string, opts ...Option) (*Device, error) {
	cfg := config{
		msg:   log.New(os.Stdout, "spidev: ", 0),
		bits:  8,
		depth: 1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.depth <= 0 {
		cfg.depth = 1
	}

	f, err := os.OpenFile(name, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("spidev: could not open %q: %w", name, err)
	}

	dev := &Device{
		msg:   cfg.msg,
		f:     f,
		mode:  cfg.mode,
		bits:  cfg.bits,
		queue: make(chan request, cfg.depth),
	}

	err = ioctl(f.Fd(), spiIOCWrMode, unsafe.Pointer(&dev.mode))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("spidev: could not set mode %d: %w", dev.mode, err)
	}

	err = ioctl(f.Fd(), spiIOCWrBitsPerWord, unsafe.Pointer(&dev.bits))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("spidev: could not set bits per word %d: %w", dev.bits, err)
	}

	dev.wg.Add(1)
	go dev.loop()

	return dev, nil
}

// Mode returns the SPI mode of the device.
func (dev *Device) Mode() uint8 { return dev.mode }

// Depth returns the depth of the transfer queue.
func (dev *Device) Depth() int { return cap(dev.queue) }

// SetClock sets the maximum speed of the device to the resolved
// frequency of cfg.
func (dev *Device) SetClock(cfg clkdiv.Config) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.closed {
		return ErrClosed
	}

	hz := cfg.Resolved
	err := ioctl(dev.f.Fd(), spiIOCWrMaxSpeedHz, unsafe.Pointer(&hz))
	if err != nil {
		return fmt.Errorf("spidev: could not set speed %d Hz: %w", hz, err)
	}
	dev.hz = hz
	return nil
}

// Transfer queues the transfer described by d.
// The instruction phase, if any, is sent first, most significant byte
// first, within the same chip-select assertion.
func (dev *Device) Transfer(d *bus.Descriptor, done bus.Done) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.closed {
		return ErrClosed
	}

	select {
	case dev.queue <- request{d: d, done: done}:
		return nil
	default:
		return fmt.Errorf("spidev: transfer queue full (depth=%d)", cap(dev.queue))
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
	dev.mu.Lock()
	hz := dev.hz
	dev.mu.Unlock()

	var (
		tx = make([]byte, d.InstrLen+d.Len)
		rx = make([]byte, len(tx))
	)
	for i := 0; i < d.InstrLen; i++ {
		tx[i] = byte(d.Instr >> (8 * (d.InstrLen - 1 - i)))
	}
	if d.Dir == bus.Write {
		copy(tx[d.InstrLen:], d.Data())
	}

	msg := xfer{
		txBuf:       uint64(uintptr(unsafe.Pointer(&tx[0]))),
		rxBuf:       uint64(uintptr(unsafe.Pointer(&rx[0]))),
		length:      uint32(len(tx)),
		speedHz:     hz,
		bitsPerWord: dev.bits,
	}
	if d.Continue {
		msg.csChange = 1
	}

	err := ioctl(dev.f.Fd(), spiIOCMessage1, unsafe.Pointer(&msg))
	runtime.KeepAlive(tx)
	runtime.KeepAlive(rx)
	if err != nil {
		return fmt.Errorf("spidev: could not run %v transfer: %w", d.Dir, err)
	}

	if d.Dir == bus.Read {
		copy(d.Buf[:d.Len], rx[d.InstrLen:])
	}
	return nil
}

// Close drains the transfer queue and closes the device.
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

	err := dev.f.Close()
	if err != nil {
		return fmt.Errorf("spidev: could not close device: %w", err)
	}
	return nil
}

var (
	_ bus.Controller  = (*Device)(nil)
	_ bus.ClockSetter = (*Device)(nil)
)
