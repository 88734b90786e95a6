// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uartbridge

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/go-lpc/xfer/internal/crc16"
)

// frame layout:
//
//	len | seq | body... | crc-hi | crc-lo | sync
//
// len counts the whole frame. The CRC-16 covers len, seq and body.
const (
	frameSync    = 0x7e
	frameHdrSize = 2
	frameTrlSize = 3
	frameMaxSize = 0xff
	frameMinSize = frameHdrSize + frameTrlSize

	// request body: op | peer | count | ilen | instr[4] | data...
	reqHdrSize = 8
	// reply body: status | data...
	repHdrSize = 1

	// MaxPayload is the largest transfer a single frame can carry.
	MaxPayload = frameMaxSize - frameMinSize - reqHdrSize

	opRead     = 0x00
	opWrite    = 0x01
	opContinue = 0x02

	statusOK  = 0x00
	statusNAK = 0x01
)

var (
	errFrameCRC  = errors.New("uartbridge: invalid frame CRC")
	errFrameSync = errors.New("uartbridge: invalid frame sync")
	errFrameLen  = errors.New("uartbridge: invalid frame length")
)

// appendFrame appends the frame carrying body to dst.
func appendFrame(dst []byte, seq uint8, body []byte) ([]byte, error) {
	n := frameMinSize + len(body)
	if n > frameMaxSize {
		return dst, fmt.Errorf("%w: %d", errFrameLen, n)
	}
	beg := len(dst)
	dst = append(dst, byte(n), seq)
	dst = append(dst, body...)
	crc := crc16.Checksum(dst[beg:])
	dst = append(dst, byte(crc>>8), byte(crc), frameSync)
	return dst, nil
}

// readFrame reads the next frame and returns its sequence number and body.
// On a malformed frame, readFrame skips input up to the next sync byte.
func readFrame(r *bufio.Reader) (uint8, []byte, error) {
	n, err := r.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	if n < frameMinSize {
		return 0, nil, resync(r, fmt.Errorf("%w: %d", errFrameLen, n))
	}

	buf := make([]byte, n)
	buf[0] = n
	_, err = io.ReadFull(r, buf[1:])
	if err != nil {
		return 0, nil, err
	}

	if buf[n-1] != frameSync {
		return 0, nil, resync(r, errFrameSync)
	}

	var (
		crc = uint16(buf[n-3])<<8 | uint16(buf[n-2])
		chk = crc16.Checksum(buf[:n-frameTrlSize])
	)
	if crc != chk {
		return 0, nil, errFrameCRC
	}

	return buf[1], buf[frameHdrSize : n-frameTrlSize], nil
}

func resync(r *bufio.Reader, err error) error {
	_, e := r.ReadBytes(frameSync)
	if e != nil {
		return e
	}
	return err
}

// malformed reports whether err signals a malformed frame, after which
// reading may resume.
func malformed(err error) bool {
	return errors.Is(err, errFrameCRC) ||
		errors.Is(err, errFrameSync) ||
		errors.Is(err, errFrameLen)
}
