// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package nvm models block-erase, bit-clearing persistent storage media
// (on-chip NOR flash and the like).
//
// Erased bytes read as 0xff. Programming may only clear bits: programming
// a location that was not erased first fails with ErrNotErased, unless the
// new content only clears bits that are still set.
package nvm // import "github.com/go-lpc/xfer/nvm"

import (
	"errors"
	"fmt"
)

// Erased is the value of an erased byte.
const Erased = 0xff

var (
	ErrNotErased = errors.New("nvm: location not erased")
	ErrRange     = errors.New("nvm: address out of range")
	ErrAlign     = errors.New("nvm: misaligned access")
	ErrGeometry  = errors.New("nvm: invalid geometry")
)

// Medium is a page-erasable storage medium.
type Medium interface {
	Geometry() Geometry

	// ErasePage erases the page starting at addr.
	ErasePage(addr int) error

	// ProgramPage programs data at the page-aligned address addr.
	// len(data) must be a multiple of the program unit and must not
	// exceed a page.
	ProgramPage(addr int, data []byte) error

	// WriteWithinPage programs data at addr, which does not need to be
	// aligned. The write must not cross a page boundary.
	WriteWithinPage(addr int, data []byte) error

	// Slice returns a read-only view of n bytes of the medium at addr.
	Slice(addr, n int) ([]byte, error)
}

// Geometry describes the layout of a medium.
type Geometry struct {
	Size        int // total size in bytes
	PageSize    int // erase granularity in bytes
	ProgramUnit int // program granularity in bytes
}

// Pages returns the number of pages of the medium.
func (geo Geometry) Pages() int { return geo.Size / geo.PageSize }

// PageOf returns the address of the page containing addr.
func (geo Geometry) PageOf(addr int) int { return addr - addr%geo.PageSize }

// Align rounds n up to the program unit.
func (geo Geometry) Align(n int) int {
	if r := n % geo.ProgramUnit; r != 0 {
		n += geo.ProgramUnit - r
	}
	return n
}

func (geo Geometry) validate() error {
	switch {
	case geo.PageSize <= 0, geo.ProgramUnit <= 0, geo.Size <= 0:
		return fmt.Errorf("%w: %+v", ErrGeometry, geo)
	case geo.PageSize%geo.ProgramUnit != 0:
		return fmt.Errorf("%w: page size %d not a multiple of program unit %d",
			ErrGeometry, geo.PageSize, geo.ProgramUnit,
		)
	case geo.Size%geo.PageSize != 0:
		return fmt.Errorf("%w: size %d not a multiple of page size %d",
			ErrGeometry, geo.Size, geo.PageSize,
		)
	}
	return nil
}

// Stats counts the operations applied to a medium.
type Stats struct {
	Erases   int
	Programs int
	Writes   int
}

// device implements the NOR semantics over a byte slice.
type device struct {
	geo   Geometry
	data  []byte
	stats Stats
}

func (dev *device) Geometry() Geometry { return dev.geo }

// Stats returns the operation counters of the medium.
func (dev *device) Stats() Stats { return dev.stats }

func (dev *device) check(addr, n int) error {
	if addr < 0 || n < 0 || addr+n > len(dev.data) {
		return fmt.Errorf("%w: addr=0x%x, n=%d, size=0x%x",
			ErrRange, addr, n, len(dev.data),
		)
	}
	return nil
}

func (dev *device) ErasePage(addr int) error {
	if addr%dev.geo.PageSize != 0 {
		return fmt.Errorf("nvm: could not erase page 0x%x: %w", addr, ErrAlign)
	}
	err := dev.check(addr, dev.geo.PageSize)
	if err != nil {
		return fmt.Errorf("nvm: could not erase page: %w", err)
	}
	page := dev.data[addr : addr+dev.geo.PageSize]
	for i := range page {
		page[i] = Erased
	}
	dev.stats.Erases++
	return nil
}

func (dev *device) ProgramPage(addr int, data []byte) error {
	switch {
	case addr%dev.geo.PageSize != 0:
		return fmt.Errorf("nvm: could not program page 0x%x: %w", addr, ErrAlign)
	case len(data)%dev.geo.ProgramUnit != 0:
		return fmt.Errorf(
			"nvm: could not program page 0x%x: length %d not a multiple of %d: %w",
			addr, len(data), dev.geo.ProgramUnit, ErrAlign,
		)
	case len(data) > dev.geo.PageSize:
		return fmt.Errorf(
			"nvm: could not program page 0x%x: length %d exceeds page: %w",
			addr, len(data), ErrRange,
		)
	}
	err := dev.program(addr, data)
	if err != nil {
		return fmt.Errorf("nvm: could not program page: %w", err)
	}
	dev.stats.Programs++
	return nil
}

func (dev *device) WriteWithinPage(addr int, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if dev.geo.PageOf(addr) != dev.geo.PageOf(addr+len(data)-1) {
		return fmt.Errorf(
			"nvm: could not write 0x%x+%d: crosses page boundary: %w",
			addr, len(data), ErrRange,
		)
	}
	err := dev.program(addr, data)
	if err != nil {
		return fmt.Errorf("nvm: could not write within page: %w", err)
	}
	dev.stats.Writes++
	return nil
}

func (dev *device) program(addr int, data []byte) error {
	err := dev.check(addr, len(data))
	if err != nil {
		return err
	}
	dst := dev.data[addr : addr+len(data)]
	for i, v := range data {
		if dst[i]&v != v {
			return fmt.Errorf("%w: addr=0x%x, cur=0x%x, new=0x%x",
				ErrNotErased, addr+i, dst[i], v,
			)
		}
	}
	for i, v := range data {
		dst[i] &= v
	}
	return nil
}

func (dev *device) Slice(addr, n int) ([]byte, error) {
	err := dev.check(addr, n)
	if err != nil {
		return nil, fmt.Errorf("nvm: could not slice: %w", err)
	}
	return dev.data[addr : addr+n : addr+n], nil
}

// Mem is a RAM-backed medium.
type Mem struct {
	device
}

// NewMem returns a new erased RAM-backed medium.
func NewMem(geo Geometry) (*Mem, error) {
	err := geo.validate()
	if err != nil {
		return nil, err
	}
	data := make([]byte, geo.Size)
	for i := range data {
		data[i] = Erased
	}
	return &Mem{device{geo: geo, data: data}}, nil
}

var (
	_ Medium = (*Mem)(nil)
)
