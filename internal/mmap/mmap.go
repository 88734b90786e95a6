// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mmap provides a read/write, shared memory-mapped view of a
// fixed-size file.
package mmap // import "github.com/go-lpc/xfer/internal/mmap"

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

var (
	errClosed = errors.New("mmap: closed")
)

// Handle is a memory-mapped file.
type Handle struct {
	f    *os.File
	data []byte
}

// Open maps the named file into memory, creating it when needed.
// A newly created (or shorter) file is grown to size bytes and filled
// with the fill byte.
func Open(fname string, size int, fill byte) (*Handle, error) {
	if size <= 0 {
		return nil, fmt.Errorf("mmap: invalid size %d", size)
	}

	f, err := os.OpenFile(fname, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("mmap: could not open %q: %w", fname, err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mmap: could not stat %q: %w", fname, err)
	}

	if cur := fi.Size(); cur < int64(size) {
		pad := make([]byte, int64(size)-cur)
		for i := range pad {
			pad[i] = fill
		}
		_, err = f.WriteAt(pad, cur)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("mmap: could not grow %q: %w", fname, err)
		}
	}

	data, err := unix.Mmap(
		int(f.Fd()), 0, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED,
	)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mmap: could not mmap %q: %w", fname, err)
	}

	h := &Handle{f: f, data: data}
	runtime.SetFinalizer(h, (*Handle).Close)
	return h, nil
}

// HandleFrom wraps an already mapped memory region.
func HandleFrom(data []byte) *Handle {
	h := &Handle{data: data}
	runtime.SetFinalizer(h, (*Handle).Close)
	return h
}

// Close flushes and unmaps the memory region.
func (h *Handle) Close() error {
	if h == nil {
		return os.ErrInvalid
	}

	if h.data == nil {
		return nil
	}
	data := h.data
	h.data = nil
	runtime.SetFinalizer(h, nil)

	err := unix.Msync(data, unix.MS_SYNC)
	if err != nil {
		_ = unix.Munmap(data)
		h.closeFile()
		return fmt.Errorf("mmap: could not sync: %w", err)
	}

	err = unix.Munmap(data)
	if err != nil {
		h.closeFile()
		return fmt.Errorf("mmap: could not munmap: %w", err)
	}

	if h.f != nil {
		err = h.f.Close()
		h.f = nil
		if err != nil {
			return fmt.Errorf("mmap: could not close file: %w", err)
		}
	}
	return nil
}

func (h *Handle) closeFile() {
	if h.f == nil {
		return
	}
	_ = h.f.Close()
	h.f = nil
}

// Sync flushes the memory region back to its file.
func (h *Handle) Sync() error {
	if h == nil {
		return os.ErrInvalid
	}
	if h.data == nil {
		return errClosed
	}
	return unix.Msync(h.data, unix.MS_SYNC)
}

// Len returns the length of the underlying memory-mapped file.
func (h *Handle) Len() int {
	return len(h.data)
}

// Bytes returns the mapped memory region.
// The slice is invalidated by Close.
func (h *Handle) Bytes() []byte {
	return h.data
}

// ReadAt implements the io.ReaderAt interface.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	if h == nil {
		return 0, os.ErrInvalid
	}

	if h.data == nil {
		return 0, errClosed
	}
	if off < 0 || int64(len(h.data)) < off {
		return 0, fmt.Errorf("mmap: invalid ReadAt offset %d", off)
	}
	n := copy(p, h.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements the io.WriterAt interface.
func (h *Handle) WriteAt(p []byte, off int64) (int, error) {
	if h == nil {
		return 0, os.ErrInvalid
	}

	if h.data == nil {
		return 0, errClosed
	}
	if off < 0 || int64(len(h.data)) < off {
		return 0, fmt.Errorf("mmap: invalid WriteAt offset %d", off)
	}
	n := copy(h.data[off:], p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

var (
	_ io.ReaderAt = (*Handle)(nil)
	_ io.WriterAt = (*Handle)(nil)
	_ io.Closer   = (*Handle)(nil)
)
