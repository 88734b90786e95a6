// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bus

import (
	"fmt"
	"sync/atomic"
)

const (
	slotFree uint32 = iota
	slotBusy
	slotLocked
)

// Callback is invoked exactly once when a transfer completes.
// It runs in the completion context of the controller and must not block.
type Callback func(err error)

// Handle identifies an in-flight transfer in a Registry.
// The zero Handle is never valid.
type Handle struct {
	idx uint32
	gen uint32
}

func (h Handle) String() string {
	return fmt.Sprintf("handle{%d:%d}", h.idx, h.gen)
}

type slot struct {
	state atomic.Uint32
	gen   uint32
	cb    Callback
}

// Registry associates in-flight transfers with their completion callback.
//
// The number of slots is fixed, sized to the command-queue depth of the
// controller. Register and Complete are lock-free; Complete does not
// allocate.
type Registry struct {
	slots []slot
}

// NewRegistry returns a registry with depth slots.
func NewRegistry(depth int) *Registry {
	if depth <= 0 {
		depth = 1
	}
	return &Registry{slots: make([]slot, depth)}
}

// Cap returns the number of slots of the registry.
func (reg *Registry) Cap() int { return len(reg.slots) }

// Len returns the number of in-flight transfers.
func (reg *Registry) Len() int {
	n := 0
	for i := range reg.slots {
		if reg.slots[i].state.Load() != slotFree {
			n++
		}
	}
	return n
}

// Register stores cb and returns the handle of the new in-flight transfer.
func (reg *Registry) Register(cb Callback) (Handle, error) {
	for i := range reg.slots {
		s := &reg.slots[i]
		if !s.state.CompareAndSwap(slotFree, slotLocked) {
			continue
		}
		s.gen++
		if s.gen == 0 {
			s.gen++
		}
		s.cb = cb
		h := Handle{idx: uint32(i), gen: s.gen}
		s.state.Store(slotBusy)
		return h, nil
	}
	return Handle{}, ErrRegistryFull
}

// Complete releases the slot of h and invokes its callback with err.
// Complete returns ErrUnknownHandle when h was already completed or was
// never registered; the callback is not invoked in that case.
func (reg *Registry) Complete(h Handle, err error) error {
	cb, e := reg.Take(h)
	if e != nil {
		return e
	}
	if cb != nil {
		cb(err)
	}
	return nil
}

// Take releases the slot of h and returns its callback without invoking it.
// Take returns ErrUnknownHandle when h was already completed or was
// never registered.
func (reg *Registry) Take(h Handle) (Callback, error) {
	cb, ok := reg.release(h)
	if !ok {
		return nil, ErrUnknownHandle
	}
	return cb, nil
}

// Cancel releases the slot of h without invoking its callback.
func (reg *Registry) Cancel(h Handle) error {
	_, ok := reg.release(h)
	if !ok {
		return ErrUnknownHandle
	}
	return nil
}

func (reg *Registry) release(h Handle) (Callback, bool) {
	if int(h.idx) >= len(reg.slots) || h.gen == 0 {
		return nil, false
	}
	s := &reg.slots[h.idx]
	if !s.state.CompareAndSwap(slotBusy, slotLocked) {
		return nil, false
	}
	if s.gen != h.gen {
		s.state.Store(slotBusy)
		return nil, false
	}
	cb := s.cb
	s.cb = nil
	s.state.Store(slotFree)
	return cb, true
}
