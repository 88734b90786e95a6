// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ringlog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"testing"

	"github.com/go-lpc/xfer/nvm"
)

const pageSize = 2048

// recorder records the sizes of the pages programmed into a medium.
type recorder struct {
	nvm.Medium
	commits []int
}

func (rec *recorder) ProgramPage(addr int, data []byte) error {
	rec.commits = append(rec.commits, len(data))
	return rec.Medium.ProgramPage(addr, data)
}

func newTestBuffer(t *testing.T, pages int) (*Buffer, *recorder) {
	t.Helper()

	mem, err := nvm.NewMem(nvm.Geometry{
		Size:        (pages + 2) * pageSize,
		PageSize:    pageSize,
		ProgramUnit: 16,
	})
	if err != nil {
		t.Fatalf("could not create medium: %+v", err)
	}
	rec := &recorder{Medium: mem}

	buf, err := New(rec, pageSize, pages*pageSize,
		WithLogger(log.New(io.Discard, "ringlog: ", 0)),
	)
	if err != nil {
		t.Fatalf("could not create ring log: %+v", err)
	}
	return buf, rec
}

func readAll(t *testing.T, buf *Buffer, chunk int) []byte {
	t.Helper()

	var out []byte
	for {
		p, err := buf.Get(chunk)
		if errors.Is(err, ErrExhausted) {
			return out
		}
		if err != nil {
			t.Fatalf("could not get payload: %+v", err)
		}
		out = append(out, p...)
	}
}

func TestRoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(1234))
	for _, size := range []int{
		0, 1, pageSize - 1, pageSize, 3*pageSize + 123,
	} {
		t.Run(fmt.Sprintf("size=%d", size), func(t *testing.T) {
			buf, _ := newTestBuffer(t, 8)

			data := make([]byte, size)
			_, _ = rnd.Read(data)

			err := buf.Init()
			if err != nil {
				t.Fatalf("could not init: %+v", err)
			}

			n, err := buf.Write(data)
			if err != nil {
				t.Fatalf("could not write: %+v", err)
			}
			if n != size {
				t.Fatalf("short write: got=%d, want=%d", n, size)
			}

			err = buf.Flush()
			if err != nil {
				t.Fatalf("could not flush: %+v", err)
			}

			err = buf.ReadInit()
			if err != nil {
				t.Fatalf("could not read-init: %+v", err)
			}

			if got, want := buf.Len(), size; got != want {
				t.Fatalf("invalid length: got=%d, want=%d", got, want)
			}

			err = buf.Verify()
			if err != nil {
				t.Fatalf("could not verify payload: %+v", err)
			}

			got := readAll(t, buf, size)
			if !bytes.Equal(got, data) {
				t.Fatalf("invalid round-trip (len=%d, want=%d)", len(got), len(data))
			}
		})
	}
}

func TestPageCommits(t *testing.T) {
	buf, rec := newTestBuffer(t, 8)

	err := buf.Init()
	if err != nil {
		t.Fatalf("could not init: %+v", err)
	}

	data := bytes.Repeat([]byte("0123456789"), 500)
	_, err = buf.Write(data)
	if err != nil {
		t.Fatalf("could not write: %+v", err)
	}

	if got, want := rec.commits, []int{pageSize, pageSize}; !equalInts(got, want) {
		t.Fatalf("invalid commits before flush: got=%v, want=%v", got, want)
	}

	err = buf.Flush()
	if err != nil {
		t.Fatalf("could not flush: %+v", err)
	}

	// 904 bytes, padded to the 16 bytes program unit.
	if got, want := rec.commits, []int{pageSize, pageSize, 912}; !equalInts(got, want) {
		t.Fatalf("invalid commits after flush: got=%v, want=%v", got, want)
	}

	if got, want := buf.Len(), 5000; got != want {
		t.Fatalf("invalid length: got=%d, want=%d", got, want)
	}

	err = buf.Flush()
	if err != nil {
		t.Fatalf("second flush should be a no-op: %+v", err)
	}

	_, err = buf.Write([]byte("more"))
	if !errors.Is(err, ErrFlushed) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrFlushed)
	}
}

func TestSmallWrites(t *testing.T) {
	buf, _ := newTestBuffer(t, 4)

	err := buf.Init()
	if err != nil {
		t.Fatalf("could not init: %+v", err)
	}

	var want []byte
	for i := 0; i < 500; i++ {
		p := []byte(fmt.Sprintf("record-%04d;", i))
		want = append(want, p...)
		_, err = buf.Write(p)
		if err != nil {
			t.Fatalf("could not write record %d: %+v", i, err)
		}
	}

	err = buf.Flush()
	if err != nil {
		t.Fatalf("could not flush: %+v", err)
	}

	err = buf.ReadInit()
	if err != nil {
		t.Fatalf("could not read-init: %+v", err)
	}

	got, err := io.ReadAll(buf)
	if err != nil {
		t.Fatalf("could not read back: %+v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("invalid round-trip (len=%d, want=%d)", len(got), len(want))
	}
}

func TestFull(t *testing.T) {
	buf, _ := newTestBuffer(t, 2)

	err := buf.Init()
	if err != nil {
		t.Fatalf("could not init: %+v", err)
	}

	if got, want := buf.Cap(), pageSize; got != want {
		t.Fatalf("invalid capacity: got=%d, want=%d", got, want)
	}

	data := bytes.Repeat([]byte{0x42}, pageSize+10)
	n, err := buf.Write(data)
	if !errors.Is(err, ErrFull) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrFull)
	}
	if got, want := n, pageSize; got != want {
		t.Fatalf("invalid short count: got=%d, want=%d", got, want)
	}

	err = buf.Flush()
	if err != nil {
		t.Fatalf("could not flush: %+v", err)
	}

	err = buf.ReadInit()
	if err != nil {
		t.Fatalf("could not read-init: %+v", err)
	}

	got := readAll(t, buf, 100)
	if !bytes.Equal(got, data[:pageSize]) {
		t.Fatalf("invalid payload")
	}
}

func TestReadGuards(t *testing.T) {
	buf, _ := newTestBuffer(t, 4)

	err := buf.ReadInit()
	if !errors.Is(err, ErrNoHeader) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrNoHeader)
	}

	_, err = buf.Write([]byte("data"))
	if !errors.Is(err, ErrNoHeader) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrNoHeader)
	}

	err = buf.Init()
	if err != nil {
		t.Fatalf("could not init: %+v", err)
	}

	_, err = buf.Write([]byte("data"))
	if err != nil {
		t.Fatalf("could not write: %+v", err)
	}

	err = buf.ReadInit()
	if !errors.Is(err, ErrUnflushed) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrUnflushed)
	}

	_, err = buf.Get(4)
	if !errors.Is(err, ErrUnflushed) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrUnflushed)
	}
}

func TestCorruption(t *testing.T) {
	buf, rec := newTestBuffer(t, 4)

	err := buf.Init()
	if err != nil {
		t.Fatalf("could not init: %+v", err)
	}
	_, err = buf.Write([]byte("hello world"))
	if err != nil {
		t.Fatalf("could not write: %+v", err)
	}
	err = buf.Flush()
	if err != nil {
		t.Fatalf("could not flush: %+v", err)
	}

	// clear a bit of the payload.
	err = rec.WriteWithinPage(2*pageSize, []byte{'h' &^ 0x08})
	if err != nil {
		t.Fatalf("could not corrupt payload: %+v", err)
	}

	reader, err := New(rec, pageSize, 4*pageSize)
	if err != nil {
		t.Fatalf("could not create reader: %+v", err)
	}
	err = reader.ReadInit()
	if err != nil {
		t.Fatalf("could not read-init: %+v", err)
	}
	err = reader.Verify()
	if !errors.Is(err, ErrCorrupted) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrCorrupted)
	}
}

func TestNewErrors(t *testing.T) {
	mem, err := nvm.NewMem(nvm.Geometry{Size: 4 * pageSize, PageSize: pageSize, ProgramUnit: 4})
	if err != nil {
		t.Fatalf("could not create medium: %+v", err)
	}

	for _, tc := range []struct {
		start, size int
		want        error
	}{
		{0, pageSize, nvm.ErrRange},
		{0, 5 * pageSize, nvm.ErrRange},
		{10, 2 * pageSize, nvm.ErrAlign},
		{0, 2*pageSize + 1, nvm.ErrAlign},
	} {
		t.Run(fmt.Sprintf("start=%d-size=%d", tc.start, tc.size), func(t *testing.T) {
			_, err := New(mem, tc.start, tc.size)
			if !errors.Is(err, tc.want) {
				t.Fatalf("invalid error: got=%v, want=%v", err, tc.want)
			}
		})
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
