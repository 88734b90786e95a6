// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ringlog buffers a byte stream into fixed-size pages of a
// page-erasable storage medium, and reads it back.
//
// A ring log occupies the region [start, start+size) of a medium.
// The first page of the region holds the header (magic, payload length
// and CRC-16 of the payload), the following pages hold the payload.
// The header is only written by Flush.
package ringlog // import "github.com/go-lpc/xfer/ringlog"

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/xfer/internal/crc16"
	"github.com/go-lpc/xfer/nvm"
)

const (
	magic   = 0x474f4c58 // "XLOG"
	hdrSize = 16
)

var (
	ErrFull      = errors.New("ringlog: storage full")
	ErrExhausted = errors.New("ringlog: storage exhausted")
	ErrNoHeader  = errors.New("ringlog: no header")
	ErrUnflushed = errors.New("ringlog: read before flush")
	ErrCorrupted = errors.New("ringlog: corrupted payload")
	ErrFlushed   = errors.New("ringlog: write after flush")
)

type state uint8

const (
	stateIdle state = iota
	stateWriting
	stateFlushed
)

// Buffer is a ring log over a region of a storage medium.
type Buffer struct {
	msg *log.Logger
	dev nvm.Medium
	geo nvm.Geometry

	start int // region start, page-aligned
	end   int // region end

	state state
	page  []byte // page buffer
	cur   int    // write cursor in page
	waddr int    // device address of the page being filled

	length int // payload length, from the header
	crc    uint16
	rcur   int // read cursor in payload
}

// Option configures a ring log buffer.
type Option func(*Buffer)

// WithLogger sets the logger used to report dropped data.
func WithLogger(msg *log.Logger) Option {
	return func(buf *Buffer) {
		buf.msg = msg
	}
}

// New creates a ring log over the region [start, start+size) of dev.
// The region must be page-aligned and span at least two pages.
func New(dev nvm.Medium, start, size int, opts ...Option) (*Buffer, error) {
	geo := dev.Geometry()
	switch {
	case start < 0 || size <= 0 || start+size > geo.Size:
		return nil, fmt.Errorf(
			"ringlog: region [0x%x, 0x%x) outside medium (size=0x%x): %w",
			start, start+size, geo.Size, nvm.ErrRange,
		)
	case start%geo.PageSize != 0 || size%geo.PageSize != 0:
		return nil, fmt.Errorf(
			"ringlog: region [0x%x, 0x%x) not page-aligned (page=0x%x): %w",
			start, start+size, geo.PageSize, nvm.ErrAlign,
		)
	case size < 2*geo.PageSize:
		return nil, fmt.Errorf(
			"ringlog: region too small (size=0x%x, page=0x%x): %w",
			size, geo.PageSize, nvm.ErrRange,
		)
	}

	buf := &Buffer{
		msg:   log.New(os.Stdout, "ringlog: ", 0),
		dev:   dev,
		geo:   geo,
		start: start,
		end:   start + size,
		page:  make([]byte, geo.PageSize),
	}
	for _, opt := range opts {
		opt(buf)
	}
	return buf, nil
}

// Cap returns the maximum payload size of the ring log.
func (buf *Buffer) Cap() int {
	return buf.end - buf.start - buf.geo.PageSize
}

// Init erases the whole region and resets the write cursor to the first
// payload page.
func (buf *Buffer) Init() error {
	for addr := buf.start; addr < buf.end; addr += buf.geo.PageSize {
		err := buf.dev.ErasePage(addr)
		if err != nil {
			return fmt.Errorf("ringlog: could not erase region: %w", err)
		}
	}

	buf.resetPage()
	buf.waddr = buf.start + buf.geo.PageSize
	buf.length = 0
	buf.crc = 0
	buf.rcur = 0
	buf.state = stateWriting
	return nil
}

func (buf *Buffer) resetPage() {
	for i := range buf.page {
		buf.page[i] = nvm.Erased
	}
	buf.cur = 0
}

// Write appends p to the page buffer, committing each page to the
// medium as it fills.
// When the region is full, Write drops the remainder and returns the
// number of bytes accepted together with ErrFull.
func (buf *Buffer) Write(p []byte) (int, error) {
	switch buf.state {
	case stateWriting:
		// ok
	case stateFlushed:
		return 0, ErrFlushed
	default:
		return 0, fmt.Errorf("ringlog: write before init: %w", ErrNoHeader)
	}

	n := 0
	for len(p) > 0 {
		if buf.waddr >= buf.end {
			buf.msg.Printf("region full: dropping %d bytes", len(p))
			return n, ErrFull
		}
		nn := copy(buf.page[buf.cur:], p)
		buf.cur += nn
		n += nn
		p = p[nn:]

		if buf.cur < len(buf.page) {
			continue
		}
		err := buf.dev.ProgramPage(buf.waddr, buf.page)
		if err != nil {
			return n, fmt.Errorf("ringlog: could not commit page 0x%x: %w", buf.waddr, err)
		}
		buf.waddr += len(buf.page)
		buf.resetPage()
	}
	return n, nil
}

// Flush commits the partial page, padded to the program unit of the
// medium, and writes the header with the final payload length.
// Flush is a no-op on an already flushed buffer.
func (buf *Buffer) Flush() error {
	switch buf.state {
	case stateWriting:
		// ok
	case stateFlushed:
		return nil
	default:
		return fmt.Errorf("ringlog: flush before init: %w", ErrNoHeader)
	}

	if buf.cur > 0 {
		n := buf.geo.Align(buf.cur)
		err := buf.dev.ProgramPage(buf.waddr, buf.page[:n])
		if err != nil {
			return fmt.Errorf("ringlog: could not commit last page 0x%x: %w", buf.waddr, err)
		}
	}

	end := buf.waddr + buf.cur
	length := end - buf.start - buf.geo.PageSize

	payload, err := buf.dev.Slice(buf.start+buf.geo.PageSize, length)
	if err != nil {
		return fmt.Errorf("ringlog: could not read back payload: %w", err)
	}
	crc := crc16.Checksum(payload)

	hdr := make([]byte, buf.geo.Align(hdrSize))
	for i := range hdr {
		hdr[i] = nvm.Erased
	}
	binary.LittleEndian.PutUint32(hdr[0:], magic)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(length))
	binary.LittleEndian.PutUint32(hdr[8:], ^uint32(length))
	binary.LittleEndian.PutUint16(hdr[12:], crc)

	err = buf.dev.WriteWithinPage(buf.start, hdr)
	if err != nil {
		return fmt.Errorf("ringlog: could not write header: %w", err)
	}

	buf.length = length
	buf.crc = crc
	buf.state = stateFlushed
	return nil
}

// ReadInit reads the header to recover the payload length and resets
// the read cursor.
// ReadInit fails with ErrUnflushed while a write is in progress.
func (buf *Buffer) ReadInit() error {
	if buf.state == stateWriting {
		return ErrUnflushed
	}

	hdr, err := buf.dev.Slice(buf.start, hdrSize)
	if err != nil {
		return fmt.Errorf("ringlog: could not read header: %w", err)
	}

	if binary.LittleEndian.Uint32(hdr[0:]) != magic {
		return ErrNoHeader
	}
	var (
		length = binary.LittleEndian.Uint32(hdr[4:])
		check  = binary.LittleEndian.Uint32(hdr[8:])
	)
	if length != ^check || int64(length) > int64(buf.Cap()) {
		return fmt.Errorf("ringlog: invalid header length 0x%x: %w", length, ErrCorrupted)
	}

	buf.length = int(length)
	buf.crc = binary.LittleEndian.Uint16(hdr[12:])
	buf.rcur = 0
	buf.state = stateFlushed
	return nil
}

// Len returns the payload length recorded by the last Flush or ReadInit.
func (buf *Buffer) Len() int {
	return buf.length
}

// Get returns a view into the medium of at most n bytes of the payload,
// starting at the read cursor, and advances the cursor.
// Get may return fewer than n bytes: callers must loop.
// Get returns ErrExhausted once the whole payload has been read.
//
// The returned slice aliases the medium and must not be modified.
func (buf *Buffer) Get(n int) ([]byte, error) {
	if buf.state != stateFlushed {
		return nil, ErrUnflushed
	}
	if buf.rcur >= buf.length {
		return nil, ErrExhausted
	}
	if n <= 0 {
		return nil, nil
	}
	if rem := buf.length - buf.rcur; n > rem {
		n = rem
	}

	p, err := buf.dev.Slice(buf.start+buf.geo.PageSize+buf.rcur, n)
	if err != nil {
		return nil, fmt.Errorf("ringlog: could not get payload: %w", err)
	}
	buf.rcur += n
	return p, nil
}

// Read implements io.Reader on top of Get.
func (buf *Buffer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	v, err := buf.Get(len(p))
	if err != nil {
		if errors.Is(err, ErrExhausted) {
			return 0, io.EOF
		}
		return 0, err
	}
	return copy(p, v), nil
}

// Verify checks the payload against the CRC-16 stored in the header.
func (buf *Buffer) Verify() error {
	if buf.state != stateFlushed {
		return ErrUnflushed
	}
	payload, err := buf.dev.Slice(buf.start+buf.geo.PageSize, buf.length)
	if err != nil {
		return fmt.Errorf("ringlog: could not read payload: %w", err)
	}
	if got, want := crc16.Checksum(payload), buf.crc; got != want {
		return fmt.Errorf("ringlog: crc=0x%04x, want=0x%04x: %w", got, want, ErrCorrupted)
	}
	return nil
}

var (
	_ io.Writer = (*Buffer)(nil)
	_ io.Reader = (*Buffer)(nil)
)
