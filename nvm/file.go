// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nvm

import (
	"fmt"

	"github.com/go-lpc/xfer/internal/mmap"
)

// File is a medium backed by a memory-mapped image file.
type File struct {
	device
	h *mmap.Handle
}

// OpenFile opens (or creates) the named NVM image file.
// A newly created image is fully erased.
func OpenFile(fname string, geo Geometry) (*File, error) {
	err := geo.validate()
	if err != nil {
		return nil, err
	}

	h, err := mmap.Open(fname, geo.Size, Erased)
	if err != nil {
		return nil, fmt.Errorf("nvm: could not open image %q: %w", fname, err)
	}

	return &File{
		device: device{geo: geo, data: h.Bytes()},
		h:      h,
	}, nil
}

// Sync flushes the image to disk.
func (f *File) Sync() error {
	err := f.h.Sync()
	if err != nil {
		return fmt.Errorf("nvm: could not sync image: %w", err)
	}
	return nil
}

// Close syncs and closes the image.
// Slices obtained from the medium are invalid afterwards.
func (f *File) Close() error {
	f.data = nil
	err := f.h.Close()
	if err != nil {
		return fmt.Errorf("nvm: could not close image: %w", err)
	}
	return nil
}

var (
	_ Medium = (*File)(nil)
)
