// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package simbus

import (
	"encoding/binary"
	"fmt"
	"io"
)

// register block layout.
const (
	regCLKCFG  = 0x00
	regSTATUS  = 0x04
	regINTEN   = 0x08
	regINTSTAT = 0x0c
	regFIFOCNT = 0x10 // queued commands
	regXFERS   = 0x14 // completed commands
	regNAKS    = 0x18 // commands completed with an error

	regSize = 0x20
)

const (
	statusIdle   = 1 << 0
	statusCmdAct = 1 << 1
	statusErr    = 1 << 2

	intCmdCmp = 1 << 0
	intNAK    = 1 << 1
)

type rwer interface {
	io.ReaderAt
	io.WriterAt
}

// regFile is a block of little-endian 32b registers.
type regFile [regSize]byte

func (rf *regFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(rf)) {
		return 0, fmt.Errorf("simbus: invalid register offset 0x%x", off)
	}
	return copy(p, rf[off:]), nil
}

func (rf *regFile) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(rf)) {
		return 0, fmt.Errorf("simbus: invalid register offset 0x%x", off)
	}
	return copy(rf[off:], p), nil
}

type reg32 struct {
	r func() uint32
	w func(v uint32)
}

func newReg32(regs *registers, rw rwer, offset int64) reg32 {
	return reg32{
		r: func() uint32 {
			return regs.readU32(rw, offset)
		},
		w: func(v uint32) {
			regs.writeU32(rw, offset, v)
		},
	}
}

func (reg reg32) set(mask uint32)   { reg.w(reg.r() | mask) }
func (reg reg32) clear(mask uint32) { reg.w(reg.r() &^ mask) }
func (reg reg32) inc()              { reg.w(reg.r() + 1) }

// registers holds the register bindings of a device.
// The first register access error is kept in err: later accesses are no-ops.
type registers struct {
	err  error
	xbuf [4]byte

	clkcfg  reg32
	status  reg32
	inten   reg32
	intstat reg32
	fifocnt reg32
	xfers   reg32
	naks    reg32
}

func (regs *registers) bind(rw rwer) {
	regs.clkcfg = newReg32(regs, rw, regCLKCFG)
	regs.status = newReg32(regs, rw, regSTATUS)
	regs.inten = newReg32(regs, rw, regINTEN)
	regs.intstat = newReg32(regs, rw, regINTSTAT)
	regs.fifocnt = newReg32(regs, rw, regFIFOCNT)
	regs.xfers = newReg32(regs, rw, regXFERS)
	regs.naks = newReg32(regs, rw, regNAKS)
}

func (regs *registers) readU32(r io.ReaderAt, off int64) uint32 {
	if regs.err != nil {
		return 0
	}
	_, regs.err = r.ReadAt(regs.xbuf[:4], off)
	if regs.err != nil {
		regs.err = fmt.Errorf("simbus: could not read register 0x%x: %w", off, regs.err)
		return 0
	}
	return binary.LittleEndian.Uint32(regs.xbuf[:4])
}

func (regs *registers) writeU32(w io.WriterAt, off int64, v uint32) {
	if regs.err != nil {
		return
	}
	binary.LittleEndian.PutUint32(regs.xbuf[:4], v)
	_, regs.err = w.WriteAt(regs.xbuf[:4], off)
	if regs.err != nil {
		regs.err = fmt.Errorf("simbus: could not write register 0x%x: %w", off, regs.err)
		return
	}
}
