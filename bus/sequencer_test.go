// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestSource(n int) Source {
	buf := make([]byte, n)
	return func(dir Direction, i int) *Descriptor {
		return &Descriptor{Buf: buf, Len: len(buf)}
	}
}

func TestSequencer(t *testing.T) {
	ctrl := &fakeCtrl{}
	b := newTestBus(ctrl)
	seq := NewSequencer(b, newTestSource(16))

	if got, want := seq.State(), Idle; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}

	err := seq.Start(Write, 10)
	if err != nil {
		t.Fatalf("could not start sequence: %+v", err)
	}
	if got, want := seq.State(), Starting; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}

	err = seq.Start(Read, 10)
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrBusy)
	}

	for i := 0; i < 10; i++ {
		st := seq.Poll()
		if got, want := st, (Status{State: InFlight, Dir: Write, Count: i}); got != want {
			t.Fatalf("transfer %d: invalid status: got=%v, want=%v", i, got, want)
		}
		if got, want := ctrl.submitted(), i+1; got != want {
			t.Fatalf("transfer %d: invalid submitted: got=%d, want=%d", i, got, want)
		}

		// polling again does not submit another transfer.
		_ = seq.Poll()
		if got, want := ctrl.submitted(), i+1; got != want {
			t.Fatalf("transfer %d: pipelined submit: got=%d, want=%d", i, got, want)
		}

		err = ctrl.complete(i, nil)
		if err != nil {
			t.Fatalf("could not complete transfer %d: %+v", i, err)
		}
	}

	st := seq.Poll()
	if got, want := st, (Status{State: Completed, Dir: Write, Count: 10}); got != want {
		t.Fatalf("invalid final status: got=%v, want=%v", got, want)
	}

	if got, want := seq.Poll().State, Idle; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}

	err = ctrl.complete(9, nil)
	if !errors.Is(err, ErrUnknownHandle) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrUnknownHandle)
	}

	if got, want := ctrl.max, 1; got != want {
		t.Fatalf("invalid max in-flight transfers: got=%d, want=%d", got, want)
	}
	for i, d := range ctrl.descs {
		if d.Dir != Write {
			t.Fatalf("transfer %d: invalid direction %v", i, d.Dir)
		}
	}

	want := SeqStats{Sequences: 1, Completed: 1, Transfers: 10}
	if got := seq.Stats(); got != want {
		t.Fatalf("invalid stats:\ngot= %+v\nwant=%+v", got, want)
	}
}

func TestSequencerTimeout(t *testing.T) {
	ctrl := &fakeCtrl{}
	b := newTestBus(ctrl)
	seq := NewSequencer(b, newTestSource(4))

	err := seq.Start(Read, 3)
	if err != nil {
		t.Fatalf("could not start: %+v", err)
	}
	_ = seq.Poll()
	if got, want := ctrl.submitted(), 1; got != want {
		t.Fatalf("invalid submitted: got=%d, want=%d", got, want)
	}

	seq.Timeout()
	st := seq.Poll()
	if st.State != Failed || !errors.Is(st.Err, ErrTimeout) {
		t.Fatalf("invalid status: got=%v", st)
	}
	if !Retryable(st.Err) {
		t.Fatalf("timeout should be retryable")
	}

	err = seq.Start(Read, 3)
	if err != nil {
		t.Fatalf("could not restart: %+v", err)
	}

	// the timed out transfer is still in flight: no new submission.
	st = seq.Poll()
	if got, want := st.State, Starting; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
	if got, want := ctrl.submitted(), 1; got != want {
		t.Fatalf("invalid submitted: got=%d, want=%d", got, want)
	}

	// late completion of the timed out transfer.
	err = ctrl.complete(0, nil)
	if err != nil {
		t.Fatalf("could not complete: %+v", err)
	}

	st = seq.Poll()
	if got, want := st, (Status{State: InFlight, Dir: Read}); got != want {
		t.Fatalf("invalid status: got=%v, want=%v", got, want)
	}
	if got, want := ctrl.submitted(), 2; got != want {
		t.Fatalf("invalid submitted: got=%d, want=%d", got, want)
	}

	for i := 1; i < 4; i++ {
		err = ctrl.complete(i, nil)
		if err != nil {
			t.Fatalf("could not complete transfer %d: %+v", i, err)
		}
		st = seq.Poll()
	}
	if got, want := st, (Status{State: Completed, Dir: Read, Count: 3}); got != want {
		t.Fatalf("invalid status: got=%v, want=%v", got, want)
	}

	want := SeqStats{
		Sequences: 2, Completed: 1, Failed: 1, Timeouts: 1,
		Transfers: 3, Late: 1,
	}
	if got := seq.Stats(); got != want {
		t.Fatalf("invalid stats:\ngot= %+v\nwant=%+v", got, want)
	}
	if got, want := ctrl.max, 1; got != want {
		t.Fatalf("invalid max in-flight transfers: got=%d, want=%d", got, want)
	}

	// timeouts while idle are ignored.
	seq.Timeout()
	if got, want := seq.Poll().State, Idle; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
}

func TestSequencerFailures(t *testing.T) {
	t.Run("submit", func(t *testing.T) {
		ctrl := &fakeCtrl{reject: errors.New("queue full")}
		seq := NewSequencer(newTestBus(ctrl), newTestSource(4))

		err := seq.Start(Write, 2)
		if err != nil {
			t.Fatalf("could not start: %+v", err)
		}
		st := seq.Poll()
		if st.State != Failed || !errors.Is(st.Err, ErrSubmit) {
			t.Fatalf("invalid status: %v", st)
		}
		if !Retryable(st.Err) {
			t.Fatalf("submit error should be retryable")
		}
		if got, want := seq.State(), Idle; got != want {
			t.Fatalf("invalid state: got=%v, want=%v", got, want)
		}
	})

	t.Run("transfer", func(t *testing.T) {
		ctrl := &fakeCtrl{}
		seq := NewSequencer(newTestBus(ctrl), newTestSource(4))

		err := seq.Start(Write, 2)
		if err != nil {
			t.Fatalf("could not start: %+v", err)
		}
		_ = seq.Poll()

		nak := errors.New("nak")
		err = ctrl.complete(0, nak)
		if err != nil {
			t.Fatalf("could not complete: %+v", err)
		}

		st := seq.Poll()
		if st.State != Failed || !errors.Is(st.Err, nak) {
			t.Fatalf("invalid status: %v", st)
		}
		if Retryable(st.Err) {
			t.Fatalf("transfer error should not be retryable")
		}
	})

	t.Run("descriptor", func(t *testing.T) {
		ctrl := &fakeCtrl{}
		seq := NewSequencer(newTestBus(ctrl), func(Direction, int) *Descriptor { return nil })

		err := seq.Start(Write, 2)
		if err != nil {
			t.Fatalf("could not start: %+v", err)
		}
		st := seq.Poll()
		if st.State != Failed || !errors.Is(st.Err, ErrInvalidDescriptor) {
			t.Fatalf("invalid status: %v", st)
		}
	})

	t.Run("length", func(t *testing.T) {
		seq := NewSequencer(newTestBus(&fakeCtrl{}), newTestSource(4))
		err := seq.Start(Write, 0)
		if err == nil {
			t.Fatalf("expected an error")
		}
	})
}

// asyncCtrl completes transfers from its own goroutine.
type asyncCtrl struct {
	mu       sync.Mutex
	hold     bool
	inflight int
	max      int
	dirs     []Direction
}

func (ctrl *asyncCtrl) Transfer(d *Descriptor, done Done) error {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()

	ctrl.inflight++
	if ctrl.inflight > ctrl.max {
		ctrl.max = ctrl.inflight
	}
	ctrl.dirs = append(ctrl.dirs, d.Dir)
	if ctrl.hold {
		return nil
	}

	go func() {
		time.Sleep(100 * time.Microsecond)
		ctrl.mu.Lock()
		ctrl.inflight--
		ctrl.mu.Unlock()
		_ = done(nil)
	}()
	return nil
}

func TestSequencerRun(t *testing.T) {
	ctrl := &asyncCtrl{}
	seq := NewSequencer(newTestBus(ctrl), newTestSource(32))

	var (
		ticks   = make(chan time.Time)
		reports = make(chan Status)
		errc    = make(chan error, 1)
	)

	go func() {
		errc <- seq.Run(context.Background(), ticks, 5, 4, func(st Status) {
			reports <- st
		})
	}()

	var got []Status
	for i := 0; i < 4; i++ {
		ticks <- time.Now()
		got = append(got, <-reports)
	}

	err := <-errc
	if err != nil {
		t.Fatalf("could not run sequences: %+v", err)
	}

	want := []Status{
		{State: Completed, Dir: Write, Count: 5},
		{State: Completed, Dir: Read, Count: 5},
		{State: Completed, Dir: Write, Count: 5},
		{State: Completed, Dir: Read, Count: 5},
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sequence %d: got=%v, want=%v", i, got[i], want[i])
		}
	}

	if got, want := len(ctrl.dirs), 20; got != want {
		t.Fatalf("invalid number of transfers: got=%d, want=%d", got, want)
	}
	if got, want := ctrl.max, 1; got != want {
		t.Fatalf("invalid max in-flight transfers: got=%d, want=%d", got, want)
	}
}

func TestSequencerRunTimeout(t *testing.T) {
	ctrl := &asyncCtrl{hold: true}
	seq := NewSequencer(newTestBus(ctrl), newTestSource(32))

	var (
		ticks   = make(chan time.Time)
		reports = make(chan Status)
		errc    = make(chan error, 1)
	)

	go func() {
		errc <- seq.Run(context.Background(), ticks, 5, 2, func(st Status) {
			reports <- st
		})
	}()

	ticks <- time.Now() // start
	ticks <- time.Now() // timeout
	st := <-reports
	if st.State != Failed || !errors.Is(st.Err, ErrTimeout) {
		t.Fatalf("invalid status: %v", st)
	}

	ticks <- time.Now() // retry
	ticks <- time.Now() // timeout
	st = <-reports
	if st.State != Failed || !errors.Is(st.Err, ErrTimeout) || st.Dir != Write {
		t.Fatalf("invalid status: %v", st)
	}

	err := <-errc
	if err != nil {
		t.Fatalf("could not run sequences: %+v", err)
	}

	if got, want := len(ctrl.dirs), 1; got != want {
		t.Fatalf("invalid number of transfers: got=%d, want=%d", got, want)
	}
}

func TestSequencerRunCancel(t *testing.T) {
	ctrl := &asyncCtrl{hold: true}
	seq := NewSequencer(newTestBus(ctrl), newTestSource(32))

	ctx, cancel := context.WithCancel(context.Background())
	ticks := make(chan time.Time)
	errc := make(chan error, 1)
	go func() {
		errc <- seq.Run(ctx, ticks, 5, 0, nil)
	}()

	ticks <- time.Now()
	cancel()

	err := <-errc
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("invalid error: got=%v, want=%v", err, context.Canceled)
	}
}

func TestSequencerWait(t *testing.T) {
	ctrl := &asyncCtrl{}
	seq := NewSequencer(newTestBus(ctrl), newTestSource(8))

	err := seq.Start(Read, 3)
	if err != nil {
		t.Fatalf("could not start: %+v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var st Status
	for {
		st = seq.Poll()
		if st.State == Completed || st.State == Failed {
			break
		}
		err = seq.Wait(ctx)
		if err != nil {
			t.Fatalf("could not wait: %+v", err)
		}
	}

	if got, want := st, (Status{State: Completed, Dir: Read, Count: 3}); got != want {
		t.Fatalf("invalid status: got=%v, want=%v", got, want)
	}
}
