// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bus

import (
	"fmt"
)

// Direction is the direction of a transfer, seen from the bus controller.
type Direction uint8

const (
	Read  Direction = iota // peer to controller
	Write                  // controller to peer
)

func (dir Direction) String() string {
	switch dir {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(dir))
	}
}

// Descriptor describes one bus transaction.
//
// A descriptor is owned by the submitter until it is handed to the bus.
// The controller then holds a reference to it until the completion
// callback fires: Buf must not be modified nor reused in the meantime.
type Descriptor struct {
	Dir Direction
	Buf []byte // data to write, or destination of the read
	Len int    // number of bytes to transfer

	Peer     uint32 // chip-select index or I2C address
	Continue bool   // keep the peer selected after the transfer
	Priority uint8

	Instr    uint64 // optional instruction/offset phase
	InstrLen int    // length in bytes of the instruction phase (0-4)
}

// Validate checks the descriptor invariants.
func (d *Descriptor) Validate() error {
	switch {
	case d == nil:
		return fmt.Errorf("%w: nil descriptor", ErrInvalidDescriptor)
	case d.Dir != Read && d.Dir != Write:
		return fmt.Errorf("%w: invalid direction %v", ErrInvalidDescriptor, d.Dir)
	case d.Len <= 0:
		return fmt.Errorf("%w: invalid length %d", ErrInvalidDescriptor, d.Len)
	case len(d.Buf) < d.Len:
		return fmt.Errorf("%w: buffer too small (len=%d, buf=%d)",
			ErrInvalidDescriptor, d.Len, len(d.Buf),
		)
	case d.InstrLen < 0 || d.InstrLen > 4:
		return fmt.Errorf("%w: invalid instruction length %d",
			ErrInvalidDescriptor, d.InstrLen,
		)
	}
	return nil
}

// Data returns the part of the buffer covered by the transfer.
func (d *Descriptor) Data() []byte {
	return d.Buf[:d.Len]
}
