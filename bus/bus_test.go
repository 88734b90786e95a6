// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bus

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/go-lpc/xfer/clkdiv"
)

// fakeCtrl is a controller whose transfers are completed by the test.
type fakeCtrl struct {
	mu       sync.Mutex
	reject   error
	depth    int
	descs    []Descriptor
	dones    []Done
	inflight int
	max      int
	clks     []clkdiv.Config
}

func (ctrl *fakeCtrl) Depth() int {
	if ctrl.depth == 0 {
		return 1
	}
	return ctrl.depth
}

func (ctrl *fakeCtrl) SetClock(cfg clkdiv.Config) error {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	ctrl.clks = append(ctrl.clks, cfg)
	return nil
}

func (ctrl *fakeCtrl) Transfer(d *Descriptor, done Done) error {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()

	if ctrl.reject != nil {
		return ctrl.reject
	}
	ctrl.inflight++
	if ctrl.inflight > ctrl.max {
		ctrl.max = ctrl.inflight
	}
	ctrl.descs = append(ctrl.descs, *d)
	ctrl.dones = append(ctrl.dones, done)
	return nil
}

func (ctrl *fakeCtrl) submitted() int {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	return len(ctrl.dones)
}

// complete completes the i-th submitted transfer.
func (ctrl *fakeCtrl) complete(i int, err error) error {
	ctrl.mu.Lock()
	done := ctrl.dones[i]
	ctrl.mu.Unlock()

	e := done(err)
	if e == nil {
		ctrl.mu.Lock()
		ctrl.inflight--
		ctrl.mu.Unlock()
	}
	return e
}

func newTestBus(ctrl Controller, opts ...Option) *Bus {
	opts = append([]Option{WithLogger(log.New(io.Discard, "bus: ", 0))}, opts...)
	return New(ctrl, opts...)
}

func TestDescriptorValidate(t *testing.T) {
	buf := make([]byte, 8)
	for _, tc := range []struct {
		name string
		d    *Descriptor
		ok   bool
	}{
		{"nil", nil, false},
		{"valid", &Descriptor{Dir: Write, Buf: buf, Len: 8}, true},
		{"short", &Descriptor{Dir: Read, Buf: buf, Len: 4}, true},
		{"zero-len", &Descriptor{Dir: Read, Buf: buf, Len: 0}, false},
		{"buf-too-small", &Descriptor{Dir: Read, Buf: buf, Len: 9}, false},
		{"direction", &Descriptor{Dir: Direction(3), Buf: buf, Len: 1}, false},
		{"instr-len", &Descriptor{Dir: Write, Buf: buf, Len: 1, InstrLen: 5}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.d.Validate()
			switch {
			case tc.ok && err != nil:
				t.Fatalf("unexpected error: %+v", err)
			case !tc.ok && !errors.Is(err, ErrInvalidDescriptor):
				t.Fatalf("invalid error: got=%v, want=%v", err, ErrInvalidDescriptor)
			}
		})
	}
}

func TestBusSubmit(t *testing.T) {
	ctrl := &fakeCtrl{depth: 2}
	b := newTestBus(ctrl, WithName("iom0"))

	if got, want := b.Name(), "iom0"; got != want {
		t.Fatalf("invalid name: got=%q, want=%q", got, want)
	}

	var (
		mu    sync.Mutex
		calls []error
	)
	cb := func(err error) {
		mu.Lock()
		calls = append(calls, err)
		mu.Unlock()
	}

	d := &Descriptor{Dir: Write, Buf: []byte("hello"), Len: 5, Peer: 1}
	for i := 0; i < 2; i++ {
		err := b.Submit(d, cb)
		if err != nil {
			t.Fatalf("could not submit transfer %d: %+v", i, err)
		}
	}

	err := b.Submit(d, cb)
	if !errors.Is(err, ErrRegistryFull) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrRegistryFull)
	}

	if got, want := b.Pending(), 2; got != want {
		t.Fatalf("invalid pending: got=%d, want=%d", got, want)
	}

	err = ctrl.complete(0, nil)
	if err != nil {
		t.Fatalf("could not complete: %+v", err)
	}
	err = ctrl.complete(1, io.ErrUnexpectedEOF)
	if err != nil {
		t.Fatalf("could not complete: %+v", err)
	}

	err = ctrl.complete(1, nil)
	if !errors.Is(err, ErrUnknownHandle) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrUnknownHandle)
	}

	if got, want := b.Pending(), 0; got != want {
		t.Fatalf("invalid pending: got=%d, want=%d", got, want)
	}
	if got, want := len(calls), 2; got != want {
		t.Fatalf("invalid number of callbacks: got=%d, want=%d", got, want)
	}
	if calls[0] != nil || !errors.Is(calls[1], io.ErrUnexpectedEOF) {
		t.Fatalf("invalid callback errors: %v", calls)
	}

	err = b.Submit(&Descriptor{Dir: Write}, cb)
	if !errors.Is(err, ErrInvalidDescriptor) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrInvalidDescriptor)
	}

	ctrl.reject = errors.New("queue full")
	err = b.Submit(d, cb)
	if !errors.Is(err, ErrSubmit) || !errors.Is(err, ctrl.reject) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrSubmit)
	}
	if !Retryable(err) {
		t.Fatalf("submit error should be retryable")
	}
	if got, want := b.Pending(), 0; got != want {
		t.Fatalf("invalid pending after reject: got=%d, want=%d", got, want)
	}

	want := Stats{Submitted: 2, Completed: 2, Errors: 1, Rejected: 3, Invalid: 1}
	if got := b.Stats(); got != want {
		t.Fatalf("invalid stats:\ngot= %+v\nwant=%+v", got, want)
	}
}

func TestBusSubmitFromCallback(t *testing.T) {
	ctrl := &fakeCtrl{depth: 1}
	b := newTestBus(ctrl)

	var (
		pending = -1
		cfgErr  error
		subErr  error
		stats   Stats
	)
	d := &Descriptor{Dir: Read, Buf: make([]byte, 4), Len: 4}
	err := b.Submit(d, func(err error) {
		pending = b.Pending()
		stats = b.Stats()
		_, cfgErr = b.Configure(1000000, 0)
		subErr = b.Submit(d, func(error) {})
	})
	if err != nil {
		t.Fatalf("could not submit transfer: %+v", err)
	}

	err = ctrl.complete(0, nil)
	if err != nil {
		t.Fatalf("could not complete: %+v", err)
	}

	if got, want := pending, 0; got != want {
		t.Fatalf("invalid pending from callback: got=%d, want=%d", got, want)
	}
	if got, want := stats.Completed, uint64(1); got != want {
		t.Fatalf("invalid completed count from callback: got=%d, want=%d", got, want)
	}
	if cfgErr != nil {
		t.Fatalf("could not configure clock from callback: %+v", cfgErr)
	}
	if subErr != nil {
		t.Fatalf("could not submit from callback: %+v", subErr)
	}
	if got, want := b.Pending(), 1; got != want {
		t.Fatalf("invalid pending: got=%d, want=%d", got, want)
	}
}

func TestBusConfigure(t *testing.T) {
	ctrl := &fakeCtrl{}
	b := newTestBus(ctrl)

	_, ok := b.Clock()
	if ok {
		t.Fatalf("clock should not be configured")
	}

	cfg, err := b.Configure(1000000, 0)
	if err != nil {
		t.Fatalf("could not configure: %+v", err)
	}
	if got, want := cfg.Resolved, uint32(1000000); got != want {
		t.Fatalf("invalid frequency: got=%d, want=%d", got, want)
	}

	_, err = b.Configure(1000000, 0)
	if err != nil {
		t.Fatalf("could not re-configure: %+v", err)
	}
	if got, want := len(ctrl.clks), 1; got != want {
		t.Fatalf("clock reprogrammed: got=%d, want=%d", got, want)
	}

	_, err = b.Configure(1000000, 3)
	if err != nil {
		t.Fatalf("could not configure mode: %+v", err)
	}
	if got, want := len(ctrl.clks), 2; got != want {
		t.Fatalf("clock not reprogrammed: got=%d, want=%d", got, want)
	}

	b.Invalidate()
	_, err = b.Configure(1000000, 3)
	if err != nil {
		t.Fatalf("could not configure: %+v", err)
	}
	if got, want := len(ctrl.clks), 3; got != want {
		t.Fatalf("clock not reprogrammed after invalidate: got=%d, want=%d", got, want)
	}

	_, err = b.Configure(1000, 0)
	if !errors.Is(err, clkdiv.ErrUnachievable) {
		t.Fatalf("invalid error: got=%v, want=%v", err, clkdiv.ErrUnachievable)
	}

	err = b.Submit(&Descriptor{Dir: Read, Buf: make([]byte, 4), Len: 4}, func(error) {})
	if err != nil {
		t.Fatalf("could not submit: %+v", err)
	}

	_, err = b.Configure(2000000, 0)
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrBusy)
	}

	// unchanged configuration is fine, even while busy.
	_, err = b.Configure(1000000, 3)
	if err != nil {
		t.Fatalf("could not configure: %+v", err)
	}

	err = ctrl.complete(0, nil)
	if err != nil {
		t.Fatalf("could not complete: %+v", err)
	}

	cfg, err = b.Configure(2000000, 0)
	if err != nil {
		t.Fatalf("could not configure: %+v", err)
	}
	if got, ok := b.Clock(); !ok || got != cfg {
		t.Fatalf("invalid cached clock: got=%v, want=%v", got, cfg)
	}
}

func TestBusTransfer(t *testing.T) {
	ctrl := &fakeCtrl{}
	b := newTestBus(ctrl)

	errc := make(chan error, 1)
	go func() {
		errc <- b.Transfer(context.Background(), &Descriptor{
			Dir: Read, Buf: make([]byte, 4), Len: 4,
		})
	}()

	for ctrl.submitted() == 0 {
		time.Sleep(time.Millisecond)
	}
	err := ctrl.complete(0, nil)
	if err != nil {
		t.Fatalf("could not complete: %+v", err)
	}

	err = <-errc
	if err != nil {
		t.Fatalf("could not run transfer: %+v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err = b.Transfer(ctx, &Descriptor{Dir: Read, Buf: make([]byte, 4), Len: 4})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrTimeout)
	}
}
