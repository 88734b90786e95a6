// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bus

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// State is the state of a transfer sequence.
type State uint8

const (
	Idle State = iota
	Starting
	InFlight
	Completed
	Failed
)

func (st State) String() string {
	switch st {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case InFlight:
		return "in-flight"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", uint8(st))
	}
}

// Status is the status of a sequence, as reported by Poll.
type Status struct {
	State State
	Dir   Direction
	Count int   // completed transfers
	Err   error // set when State is Failed
}

func (st Status) String() string {
	if st.Err != nil {
		return fmt.Sprintf("%v %v (count=%d): %v", st.Dir, st.State, st.Count, st.Err)
	}
	return fmt.Sprintf("%v %v (count=%d)", st.Dir, st.State, st.Count)
}

// Source returns the descriptor of the i-th transfer of a sequence.
// Only one transfer is in flight at a time: sources may reuse the same
// descriptor and buffer for every transfer.
type Source func(dir Direction, i int) *Descriptor

// SeqStats holds the counters of a sequencer.
type SeqStats struct {
	Sequences uint64 // started sequences
	Completed uint64 // completed sequences
	Failed    uint64 // failed sequences, timeouts included
	Timeouts  uint64
	Transfers uint64 // completed transfers
	Late      uint64 // completions received after their sequence ended
}

type event struct {
	gen uint32
	err error
}

// Sequencer drives sequences of N sequential, non-overlapping transfers
// on a bus.
//
// Start, Poll and Run must be called from a single goroutine.
// Timeout may be called from any goroutine.
type Sequencer struct {
	bus *Bus
	src Source

	state   State
	dir     Direction
	target  int
	started int // submitted transfers
	count   int // completed transfers
	running bool
	gen     uint32 // sequence generation

	// completion channel: written by the completion context, drained by Poll.
	events      chan event
	outstanding atomic.Int32 // transfers in flight, stale ones included
	timeout     atomic.Bool
	wake        chan struct{}

	stats struct {
		sequences atomic.Uint64
		completed atomic.Uint64
		failed    atomic.Uint64
		timeouts  atomic.Uint64
		transfers atomic.Uint64
		late      atomic.Uint64
	}
}

// NewSequencer returns a sequencer driving transfers on b, using src to
// generate the transfer descriptors.
func NewSequencer(b *Bus, src Source) *Sequencer {
	return &Sequencer{
		bus:    b,
		src:    src,
		events: make(chan event, 2),
		wake:   make(chan struct{}, 1),
	}
}

// State returns the current state of the sequencer.
func (seq *Sequencer) State() State { return seq.state }

func (seq *Sequencer) active() bool {
	return seq.state == Starting || seq.state == InFlight
}

// Start starts a new sequence of n transfers in the dir direction.
func (seq *Sequencer) Start(dir Direction, n int) error {
	if seq.active() {
		return fmt.Errorf("bus %s: could not start %v sequence: %w", seq.bus.name, dir, ErrBusy)
	}
	if n <= 0 {
		return fmt.Errorf("bus %s: invalid sequence length %d", seq.bus.name, n)
	}

	seq.reset()
	seq.timeout.Store(false)
	seq.dir = dir
	seq.target = n
	seq.state = Starting
	seq.stats.sequences.Add(1)
	return nil
}

func (seq *Sequencer) reset() {
	seq.gen++
	seq.started = 0
	seq.count = 0
	seq.running = false
	seq.state = Idle
}

// Timeout declares the current sequence as timed out.
// The next call to Poll reports a Failed state with ErrTimeout.
func (seq *Sequencer) Timeout() {
	seq.timeout.Store(true)
	seq.notify()
}

func (seq *Sequencer) notify() {
	select {
	case seq.wake <- struct{}{}:
	default:
	}
}

// Wait blocks until a completion or a timeout has been signaled, or ctx
// is done.
func (seq *Sequencer) Wait(ctx context.Context) error {
	select {
	case <-seq.wake:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Poll advances the sequence and returns its status.
//
// Completed and Failed are reported once: the sequencer is then Idle.
func (seq *Sequencer) Poll() Status {
	if !seq.active() {
		seq.timeout.Store(false)
		seq.drain()
		return Status{State: seq.state, Dir: seq.dir}
	}

	if seq.timeout.Swap(false) {
		seq.stats.timeouts.Add(1)
		return seq.fail(ErrTimeout)
	}

	for {
		ev, ok := seq.next()
		if !ok {
			break
		}
		if ev.gen != seq.gen || !seq.running {
			seq.stats.late.Add(1)
			continue
		}
		seq.running = false
		if ev.err != nil {
			return seq.fail(fmt.Errorf("bus %s: %v transfer %d failed: %w",
				seq.bus.name, seq.dir, seq.count, ev.err,
			))
		}
		seq.count++
		seq.stats.transfers.Add(1)
		if seq.count >= seq.target {
			st := Status{State: Completed, Dir: seq.dir, Count: seq.count}
			seq.stats.completed.Add(1)
			seq.reset()
			return st
		}
	}

	if seq.started < seq.target && !seq.running && seq.outstanding.Load() == 0 {
		err := seq.submit()
		if err != nil {
			return seq.fail(err)
		}
	}

	return Status{State: seq.state, Dir: seq.dir, Count: seq.count}
}

func (seq *Sequencer) next() (event, bool) {
	select {
	case ev := <-seq.events:
		return ev, true
	default:
		return event{}, false
	}
}

func (seq *Sequencer) drain() {
	for {
		_, ok := seq.next()
		if !ok {
			return
		}
		seq.stats.late.Add(1)
	}
}

func (seq *Sequencer) submit() error {
	d := seq.src(seq.dir, seq.started)
	if d != nil {
		d.Dir = seq.dir
	}

	gen := seq.gen
	seq.outstanding.Add(1)
	seq.running = true
	err := seq.bus.Submit(d, func(err error) {
		select {
		case seq.events <- event{gen: gen, err: err}:
		default:
			seq.stats.late.Add(1)
		}
		seq.outstanding.Add(-1)
		seq.notify()
	})
	if err != nil {
		seq.outstanding.Add(-1)
		seq.running = false
		return err
	}
	seq.started++
	seq.state = InFlight
	return nil
}

func (seq *Sequencer) fail(err error) Status {
	st := Status{State: Failed, Dir: seq.dir, Count: seq.count, Err: err}
	seq.stats.failed.Add(1)
	seq.reset()
	return st
}

// Stats returns the counters of the sequencer.
func (seq *Sequencer) Stats() SeqStats {
	return SeqStats{
		Sequences: seq.stats.sequences.Load(),
		Completed: seq.stats.completed.Load(),
		Failed:    seq.stats.failed.Load(),
		Timeouts:  seq.stats.timeouts.Load(),
		Transfers: seq.stats.transfers.Load(),
		Late:      seq.stats.late.Load(),
	}
}

// Run alternates write and read sequences of n transfers, starting a new
// sequence on each tick. A tick received while a sequence is still in
// flight times it out.
//
// Retryable failures are reported and the failed sequence is retried on
// the next tick. Run returns after cycles sequences (cycles <= 0: until
// ctx is done), or on the first non-retryable failure.
func (seq *Sequencer) Run(ctx context.Context, ticks <-chan time.Time, n, cycles int, report func(Status)) error {
	var (
		last  = Read
		retry = false
		done  = 0
	)

	for {
		if seq.active() {
			st := seq.Poll()
			switch st.State {
			case Completed, Failed:
				if report != nil {
					report(st)
				}
				done++
				if st.State == Failed && !Retryable(st.Err) {
					return st.Err
				}
				retry = st.State == Failed
				if cycles > 0 && done >= cycles {
					return nil
				}
				continue
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticks:
			if seq.active() {
				seq.Timeout()
				continue
			}
			dir := last
			if !retry {
				dir = Write
				if last == Write {
					dir = Read
				}
			}
			last = dir
			err := seq.Start(dir, n)
			if err != nil {
				return err
			}
		case <-seq.wake:
		}
	}
}
