// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmap

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestHandle(t *testing.T) {
	t.Run("nil-handle", func(t *testing.T) {
		var h *Handle

		_, err := h.ReadAt(nil, 0)
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid read-at error: %+v", err)
		}

		_, err = h.WriteAt(nil, 0)
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid write-at error: %+v", err)
		}

		err = h.Sync()
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid sync error: %+v", err)
		}

		err = h.Close()
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid close error: %+v", err)
		}
	})
	t.Run("nil-data", func(t *testing.T) {
		var h Handle

		_, err := h.ReadAt(nil, 0)
		if !errors.Is(err, errClosed) {
			t.Fatalf("invalid read-at error: %+v", err)
		}

		_, err = h.WriteAt(nil, 0)
		if !errors.Is(err, errClosed) {
			t.Fatalf("invalid write-at error: %+v", err)
		}

		err = h.Sync()
		if !errors.Is(err, errClosed) {
			t.Fatalf("invalid sync error: %+v", err)
		}

		err = h.Close()
		if err != nil {
			t.Fatalf("error closing nil-data handle: %+v", err)
		}
	})
}

func TestOpen(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "nvm.img")

	_, err := Open(fname, 0, 0xff)
	if err == nil {
		t.Fatalf("expected an error for an empty mapping")
	}

	h, err := Open(fname, 4096, 0xff)
	if err != nil {
		t.Fatalf("could not open mmap file: %+v", err)
	}

	if got, want := h.Len(), 4096; got != want {
		t.Fatalf("invalid length: got=%d, want=%d", got, want)
	}
	if got, want := h.Bytes()[4095], byte(0xff); got != want {
		t.Fatalf("invalid fill byte: got=0x%x, want=0x%x", got, want)
	}

	_, err = h.WriteAt([]byte("hello"), 10)
	if err != nil {
		t.Fatalf("could not write: %+v", err)
	}

	_, err = h.WriteAt([]byte("hello"), 4094)
	if !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("invalid short-write error: %+v", err)
	}

	err = h.Sync()
	if err != nil {
		t.Fatalf("could not sync: %+v", err)
	}

	err = h.Close()
	if err != nil {
		t.Fatalf("could not close: %+v", err)
	}

	h, err = Open(fname, 4096, 0x00)
	if err != nil {
		t.Fatalf("could not re-open mmap file: %+v", err)
	}
	defer h.Close()

	buf := make([]byte, 5)
	_, err = h.ReadAt(buf, 10)
	if err != nil {
		t.Fatalf("could not read back: %+v", err)
	}
	if !bytes.Equal(buf, []byte("hello")) {
		t.Fatalf("invalid persisted data: got=%q", buf)
	}

	_, err = h.ReadAt(buf, 4094)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("invalid read-at EOF error: %+v", err)
	}
}
