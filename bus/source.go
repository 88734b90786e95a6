// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bus

// PatternSource returns a source of size-byte transfers with the given
// peer. Write transfers carry a pattern derived from the transfer index,
// so that a loopback peer returns it on the next read sequence.
//
// The returned source reuses a single descriptor.
func PatternSource(peer uint32, size int) Source {
	if size <= 0 {
		size = 1
	}
	d := &Descriptor{
		Buf:  make([]byte, size),
		Len:  size,
		Peer: peer,
	}
	return func(dir Direction, i int) *Descriptor {
		d.Dir = dir
		if dir == Write {
			for j := range d.Buf {
				d.Buf[j] = byte(i + j)
			}
		}
		return d
	}
}
