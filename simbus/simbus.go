// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package simbus implements a simulated serial bus controller.
//
// The simulated controller exposes a small register file (clock
// configuration, status, interrupt enable/status and command counters),
// queues transfer commands, and completes them from a goroutine that
// plays the role of the interrupt handler. Each peer (chip-select) is a
// loopback memory: writes store data at the instruction offset, reads
// return it.
package simbus // import "github.com/go-lpc/xfer/simbus"

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/go-lpc/xfer/bus"
	"github.com/go-lpc/xfer/clkdiv"
)

const (
	defaultPeers  = 4
	defaultMemory = 4096
)

var (
	ErrQueueFull = errors.New("simbus: command queue full")
	ErrClockOff  = errors.New("simbus: clock not enabled")
	ErrClosed    = errors.New("simbus: device closed")
	ErrNoPeer    = errors.New("simbus: no such peer")
	errNAK       = errors.New("simbus: peer did not acknowledge")
)

type command struct {
	d    *bus.Descriptor
	done bus.Done
	hz   uint32
}

type completion struct {
	done bus.Done
	err  error
}

// Device is a simulated bus controller.
type Device struct {
	msg  *log.Logger
	base uint32

	mu    sync.Mutex
	rf    regFile
	regs  registers
	peers [][]byte

	scale  float64
	queue  chan command
	active int
	closed bool

	reject error
	hold   bool
	held   []completion
	faults []error

	wg sync.WaitGroup
}

type config struct {
	msg   *log.Logger
	base  uint32
	depth int
	peers int
	size  int
	scale float64
}

// Option configures a simulated device.
type Option func(*config)

// WithLogger sets the logger of the device.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithBaseFreq sets the base oscillator frequency (Hz).
func WithBaseFreq(hz uint32) Option {
	return func(cfg *config) {
		cfg.base = hz
	}
}

// WithDepth sets the depth of the command queue.
func WithDepth(n int) Option {
	return func(cfg *config) {
		cfg.depth = n
	}
}

// WithPeers sets the number of peers and the size of their memory.
// A non-positive size selects the default memory size.
func WithPeers(n, size int) Option {
	return func(cfg *config) {
		cfg.peers = n
		cfg.size = size
	}
}

// WithTimeScale scales the simulated transfer durations.
// A zero scale completes transfers as fast as possible.
func WithTimeScale(scale float64) Option {
	return func(cfg *config) {
		cfg.scale = scale
	}
}

// New returns a new simulated device, with its clock disabled.
func New(opts ...Option) *Device {
	cfg := config{
		msg:   log.New(os.Stdout, "simbus: ", 0),
		base:  clkdiv.BaseFreq,
		depth: 1,
		peers: defaultPeers,
		size:  defaultMemory,
		scale: 1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.depth <= 0 {
		cfg.depth = 1
	}
	if cfg.peers < 0 {
		cfg.peers = 0
	}
	if cfg.size <= 0 {
		cfg.size = defaultMemory
	}

	dev := &Device{
		msg:   cfg.msg,
		base:  cfg.base,
		peers: make([][]byte, cfg.peers),
		scale: cfg.scale,
		queue: make(chan command, cfg.depth),
	}
	for i := range dev.peers {
		dev.peers[i] = make([]byte, cfg.size)
	}
	dev.regs.bind(&dev.rf)
	dev.regs.status.w(statusIdle)
	dev.regs.inten.w(intCmdCmp | intNAK)

	dev.wg.Add(1)
	go dev.isr()

	return dev
}

// Depth returns the depth of the command queue.
func (dev *Device) Depth() int { return cap(dev.queue) }

// SetClock programs the clock configuration register.
func (dev *Device) SetClock(cfg clkdiv.Config) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.active > 0 {
		return fmt.Errorf("simbus: could not set clock: %w", bus.ErrBusy)
	}
	dev.regs.clkcfg.w(cfg.Register())
	return dev.regs.err
}

// Clock returns the clock configuration decoded from the CLKCFG register.
func (dev *Device) Clock() clkdiv.Config {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return clkdiv.Decode(dev.regs.clkcfg.r(), dev.base)
}

// Transfer queues the transfer described by d.
func (dev *Device) Transfer(d *bus.Descriptor, done bus.Done) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	switch {
	case dev.closed:
		return ErrClosed
	case dev.reject != nil:
		return dev.reject
	case int(d.Peer) >= len(dev.peers):
		return fmt.Errorf("simbus: peer %d: %w", d.Peer, ErrNoPeer)
	}

	clk := dev.regs.clkcfg.r()
	if clk&1 == 0 {
		return ErrClockOff
	}

	cmd := command{
		d:    d,
		done: done,
		hz:   clkdiv.Decode(clk, dev.base).Resolved,
	}
	select {
	case dev.queue <- cmd:
	default:
		return ErrQueueFull
	}

	dev.active++
	dev.regs.fifocnt.inc()
	dev.regs.status.w(statusCmdAct)
	return dev.regs.err
}

// Reject makes subsequent transfer submissions fail with err.
// A nil error restores normal operation.
func (dev *Device) Reject(err error) {
	dev.mu.Lock()
	dev.reject = err
	dev.mu.Unlock()
}

// Fail makes the next completed transfer report err.
func (dev *Device) Fail(err error) {
	if err == nil {
		err = errNAK
	}
	dev.mu.Lock()
	dev.faults = append(dev.faults, err)
	dev.mu.Unlock()
}

// Hold holds back completion interrupts until Release is called.
func (dev *Device) Hold() {
	dev.mu.Lock()
	dev.hold = true
	dev.mu.Unlock()
}

// Release services the held completion interrupts and resumes normal
// operation.
func (dev *Device) Release() {
	dev.mu.Lock()
	held := dev.held
	dev.held = nil
	dev.hold = false
	dev.mu.Unlock()

	for _, c := range held {
		dev.service(c)
	}
}

// Peer returns a copy of the memory of the i-th peer.
func (dev *Device) Peer(i int) []byte {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return append([]byte(nil), dev.peers[i]...)
}

// Counters returns the number of completed transfers and the number of
// transfers completed with an error.
func (dev *Device) Counters() (xfers, naks uint32) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.regs.xfers.r(), dev.regs.naks.r()
}

// Close stops the device. Queued commands are completed first.
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
	dev.Release()

	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.regs.err
}

// duration returns the simulated duration of a command.
func (dev *Device) duration(cmd command) time.Duration {
	if dev.scale == 0 || cmd.hz == 0 {
		return 0
	}
	bits := int64(cmd.d.Len+cmd.d.InstrLen) * 8
	return time.Duration(float64(bits) * 1e9 / float64(cmd.hz) * dev.scale)
}

func (dev *Device) isr() {
	defer dev.wg.Done()
	for cmd := range dev.queue {
		if dt := dev.duration(cmd); dt > 0 {
			time.Sleep(dt)
		}
		c := dev.exec(cmd)

		dev.mu.Lock()
		hold := dev.hold
		if hold {
			dev.held = append(dev.held, c)
		}
		dev.mu.Unlock()

		if !hold {
			dev.service(c)
		}
	}
}

func (dev *Device) exec(cmd command) completion {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	c := completion{done: cmd.done}
	if len(dev.faults) > 0 {
		c.err = dev.faults[0]
		dev.faults = dev.faults[1:]
		dev.regs.intstat.set(intNAK)
		return c
	}

	var (
		d   = cmd.d
		mem = dev.peers[d.Peer]
		off = int(d.Instr % uint64(len(mem)))
	)
	for i, j := 0, off; i < d.Len; i, j = i+1, j+1 {
		if j == len(mem) {
			j = 0
		}
		switch d.Dir {
		case bus.Write:
			mem[j] = d.Buf[i]
		default:
			d.Buf[i] = mem[j]
		}
	}
	dev.regs.intstat.set(intCmdCmp)
	return c
}

// service acknowledges the interrupt of a completed command and reports it.
func (dev *Device) service(c completion) {
	dev.mu.Lock()
	stat := dev.regs.intstat.r() & dev.regs.inten.r()
	dev.regs.intstat.clear(stat)
	dev.regs.xfers.inc()
	if c.err != nil {
		dev.regs.naks.inc()
	}
	dev.regs.fifocnt.w(dev.regs.fifocnt.r() - 1)
	dev.active--
	if dev.active == 0 {
		dev.regs.status.w(statusIdle)
	}
	if stat&intNAK != 0 {
		dev.regs.status.set(statusErr)
	}
	dev.mu.Unlock()

	err := c.done(c.err)
	if err != nil {
		dev.msg.Printf("spurious completion: %+v", err)
	}
}

var (
	_ bus.Controller  = (*Device)(nil)
	_ bus.ClockSetter = (*Device)(nil)
	_ io.Closer       = (*Device)(nil)
)
