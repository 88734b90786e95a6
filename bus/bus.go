// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bus coordinates non-blocking transfers on a serial bus.
//
// A Controller accepts transfer descriptors and reports their completion
// asynchronously, from its own completion context (an interrupt handler,
// a worker goroutine, ...). A Bus pairs a controller with a completion
// Registry and a clock configuration cache. A Sequencer drives fixed-size
// sequences of back-to-back transfers on a bus from a polling loop.
package bus // import "github.com/go-lpc/xfer/bus"

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/go-lpc/xfer/clkdiv"
)

// Done reports the completion status of a transfer to the bus.
// Done returns ErrUnknownHandle when the transfer was already completed.
type Done func(err error) error

// Controller is a bus controller able to run non-blocking transfers.
type Controller interface {
	// Transfer starts the transfer described by d and returns immediately.
	// When Transfer returns a nil error, done must be called exactly once,
	// when the transfer completes or fails.
	Transfer(d *Descriptor, done Done) error
}

// ClockSetter is implemented by controllers with a programmable clock.
type ClockSetter interface {
	SetClock(cfg clkdiv.Config) error
}

type depther interface {
	Depth() int
}

// Stats holds the transfer counters of a bus.
type Stats struct {
	Submitted uint64 // accepted by the controller
	Completed uint64 // completed, successfully or not
	Errors    uint64 // completed with an error
	Rejected  uint64 // rejected at submission
	Invalid   uint64 // completions for unknown transfers
}

// Bus is a serial bus instance.
type Bus struct {
	msg  *log.Logger
	name string
	base uint32

	ctrl Controller
	reg  *Registry

	mu  sync.Mutex
	clk struct {
		valid bool
		hz    uint32
		mode  uint8
		cfg   clkdiv.Config
	}

	pending atomic.Int32
	stats   struct {
		submitted atomic.Uint64
		completed atomic.Uint64
		errors    atomic.Uint64
		rejected  atomic.Uint64
		invalid   atomic.Uint64
	}
}

type config struct {
	msg   *log.Logger
	name  string
	base  uint32
	depth int
}

// Option configures a Bus.
type Option func(*config)

// WithLogger sets the logger of the bus.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithName sets the name of the bus.
func WithName(name string) Option {
	return func(cfg *config) {
		cfg.name = name
	}
}

// WithBaseFreq sets the base oscillator frequency (Hz) of the bus clock.
func WithBaseFreq(hz uint32) Option {
	return func(cfg *config) {
		cfg.base = hz
	}
}

// WithQueueDepth sets the maximum number of in-flight transfers.
// It defaults to the controller depth, or 1.
func WithQueueDepth(n int) Option {
	return func(cfg *config) {
		cfg.depth = n
	}
}

// New returns a new bus driven by the provided controller.
func New(ctrl Controller, opts ...Option) *Bus {
	cfg := config{
		name:  "bus",
		base:  clkdiv.BaseFreq,
		depth: 1,
	}
	if dev, ok := ctrl.(depther); ok {
		cfg.depth = dev.Depth()
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.msg == nil {
		cfg.msg = log.New(os.Stdout, cfg.name+": ", 0)
	}

	return &Bus{
		msg:  cfg.msg,
		name: cfg.name,
		base: cfg.base,
		ctrl: ctrl,
		reg:  NewRegistry(cfg.depth),
	}
}

// Name returns the name of the bus.
func (b *Bus) Name() string { return b.name }

// Configure programs the bus clock for the requested frequency and SPI
// mode. Configure is a no-op when hz and mode match the last successful
// configuration. Configure fails with ErrBusy while transfers are pending.
func (b *Bus) Configure(hz uint32, mode uint8) (clkdiv.Config, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.clk.valid && b.clk.hz == hz && b.clk.mode == mode {
		return b.clk.cfg, nil
	}

	if n := b.pending.Load(); n > 0 {
		return clkdiv.Config{}, fmt.Errorf(
			"bus %s: could not configure clock (%d pending transfers): %w",
			b.name, n, ErrBusy,
		)
	}

	cfg, err := clkdiv.Compute(b.base, hz, clkdiv.PhaseFromSPIMode(mode))
	if err != nil {
		return cfg, fmt.Errorf("bus %s: could not compute clock: %w", b.name, err)
	}

	if dev, ok := b.ctrl.(ClockSetter); ok {
		err = dev.SetClock(cfg)
		if err != nil {
			return cfg, fmt.Errorf("bus %s: could not set clock: %w", b.name, err)
		}
	}

	b.clk.valid = true
	b.clk.hz = hz
	b.clk.mode = mode
	b.clk.cfg = cfg
	b.msg.Printf("clock: %v", cfg)

	return cfg, nil
}

// Clock returns the last programmed clock configuration.
func (b *Bus) Clock() (clkdiv.Config, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clk.cfg, b.clk.valid
}

// Invalidate drops the cached clock configuration: the next call to
// Configure reprograms the clock.
func (b *Bus) Invalidate() {
	b.mu.Lock()
	b.clk.valid = false
	b.mu.Unlock()
}

// Pending returns the number of transfers submitted to the controller
// and not yet completed.
func (b *Bus) Pending() int {
	return int(b.pending.Load())
}

// Submit hands d to the controller. cb is invoked exactly once, from the
// completion context of the controller, when the transfer completes.
// Submit does not block.
func (b *Bus) Submit(d *Descriptor, cb Callback) error {
	err := d.Validate()
	if err != nil {
		b.stats.rejected.Add(1)
		return fmt.Errorf("bus %s: could not submit: %w", b.name, err)
	}

	h, err := b.reg.Register(cb)
	if err != nil {
		b.stats.rejected.Add(1)
		return fmt.Errorf("bus %s: could not submit: %w", b.name, err)
	}

	b.pending.Add(1)
	err = b.ctrl.Transfer(d, func(err error) error {
		fn, e := b.reg.Take(h)
		if e != nil {
			b.stats.invalid.Add(1)
			return e
		}
		// the transfer is accounted for before fn may submit the next one.
		b.pending.Add(-1)
		b.stats.completed.Add(1)
		if err != nil {
			b.stats.errors.Add(1)
		}
		if fn != nil {
			fn(err)
		}
		return nil
	})
	if err != nil {
		b.pending.Add(-1)
		_ = b.reg.Cancel(h)
		b.stats.rejected.Add(1)
		return fmt.Errorf("bus %s: could not submit %v of %d bytes: %w: %w",
			b.name, d.Dir, d.Len, ErrSubmit, err,
		)
	}
	b.stats.submitted.Add(1)

	return nil
}

// Transfer submits d and waits for its completion.
func (b *Bus) Transfer(ctx context.Context, d *Descriptor) error {
	done := make(chan error, 1)
	err := b.Submit(d, func(err error) { done <- err })
	if err != nil {
		return err
	}

	select {
	case err = <-done:
		if err != nil {
			return fmt.Errorf("bus %s: %v transfer failed: %w", b.name, d.Dir, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("bus %s: %v transfer: %w: %w", b.name, d.Dir, ErrTimeout, ctx.Err())
	}
}

// Stats returns the transfer counters of the bus.
func (b *Bus) Stats() Stats {
	return Stats{
		Submitted: b.stats.submitted.Load(),
		Completed: b.stats.completed.Load(),
		Errors:    b.stats.errors.Load(),
		Rejected:  b.stats.rejected.Load(),
		Invalid:   b.stats.invalid.Load(),
	}
}
