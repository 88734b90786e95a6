// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package uartbridge drives a UART-to-SPI bridge microcontroller as a
// non-blocking bus controller.
//
// Each transfer is sent to the bridge as a framed request. The bridge
// runs the transfer on its bus and answers with a framed reply carrying
// the status and, for reads, the data. Replies are matched to requests
// by sequence number.
package uartbridge // import "github.com/go-lpc/xfer/uartbridge"

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/go-lpc/xfer/bus"
	"github.com/tarm/serial"
)

// MaxDepth is the largest number of requests a bridge can hold,
// one per sequence number.
const MaxDepth = 256

var (
	ErrClosed = errors.New("uartbridge: bridge closed")
	ErrNAK    = errors.New("uartbridge: transfer not acknowledged")
)

type request struct {
	d    *bus.Descriptor
	done bus.Done
}

// Device is a UART-to-SPI bridge.
type Device struct {
	msg  *log.Logger
	port io.ReadWriteCloser

	wmu  sync.Mutex // serializes port writes
	wbuf []byte

	mu      sync.Mutex
	seq     uint8
	depth   int
	pending map[uint8]request
	closed  bool

	done chan struct{}
}

type config struct {
	msg   *log.Logger
	depth int
}

// Option configures a bridge.
type Option func(*config)

// WithLogger sets the logger of the bridge.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithDepth sets the number of requests the bridge can hold,
// up to MaxDepth.
func WithDepth(n int) Option {
	return func(cfg *config) {
		cfg.depth = n
	}
}

// Open opens the bridge attached to the named serial port.
func Open(name string, baud int, opts ...Option) (*Device, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name: name,
		Baud: baud,
	})
	if err != nil {
		return nil, fmt.Errorf("uartbridge: could not open serial port %q: %w", name, err)
	}
	return New(port, opts...), nil
}

// New returns a bridge communicating over port.
func New(port io.ReadWriteCloser, opts ...Option) *Device {
	cfg := config{
		msg:   log.New(os.Stdout, "uartbridge: ", 0),
		depth: 1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case cfg.depth <= 0:
		cfg.depth = 1
	case cfg.depth > MaxDepth:
		cfg.depth = MaxDepth
	}

	dev := &Device{
		msg:     cfg.msg,
		port:    port,
		wbuf:    make([]byte, 0, frameMaxSize),
		depth:   cfg.depth,
		pending: make(map[uint8]request, cfg.depth),
		done:    make(chan struct{}),
	}
	go dev.readLoop()

	return dev
}

// Depth returns the number of requests the bridge can hold.
func (dev *Device) Depth() int { return dev.depth }

// Transfer sends the transfer described by d to the bridge.
func (dev *Device) Transfer(d *bus.Descriptor, done bus.Done) error {
	if d.Len > MaxPayload {
		return fmt.Errorf("uartbridge: transfer too large (%d > %d)", d.Len, MaxPayload)
	}

	dev.mu.Lock()
	switch {
	case dev.closed:
		dev.mu.Unlock()
		return ErrClosed
	case len(dev.pending) >= dev.depth:
		dev.mu.Unlock()
		return fmt.Errorf("uartbridge: %d pending requests: %w", len(dev.pending), bus.ErrBusy)
	}
	// skip sequence numbers still held by unanswered requests.
	seq := dev.seq
	for {
		if _, dup := dev.pending[seq]; !dup {
			break
		}
		seq++
	}
	dev.seq = seq + 1
	dev.pending[seq] = request{d: d, done: done}
	dev.mu.Unlock()

	err := dev.send(seq, d)
	if err != nil {
		dev.mu.Lock()
		delete(dev.pending, seq)
		dev.mu.Unlock()
		return err
	}
	return nil
}

func (dev *Device) send(seq uint8, d *bus.Descriptor) error {
	dev.wmu.Lock()
	defer dev.wmu.Unlock()

	var op byte = opRead
	if d.Dir == bus.Write {
		op = opWrite
	}
	if d.Continue {
		op |= opContinue
	}

	body := make([]byte, reqHdrSize, reqHdrSize+d.Len)
	body[0] = op
	body[1] = byte(d.Peer)
	body[2] = byte(d.Len)
	body[3] = byte(d.InstrLen)
	binary.BigEndian.PutUint32(body[4:], uint32(d.Instr))
	if d.Dir == bus.Write {
		body = append(body, d.Data()...)
	}

	var err error
	dev.wbuf, err = appendFrame(dev.wbuf[:0], seq, body)
	if err != nil {
		return fmt.Errorf("uartbridge: could not encode request: %w", err)
	}

	_, err = dev.port.Write(dev.wbuf)
	if err != nil {
		return fmt.Errorf("uartbridge: could not send request: %w", err)
	}
	return nil
}

func (dev *Device) readLoop() {
	defer close(dev.done)

	r := bufio.NewReader(dev.port)
	for {
		seq, body, err := readFrame(r)
		if err != nil {
			if malformed(err) {
				dev.msg.Printf("dropping frame: %+v", err)
				continue
			}
			dev.abort(err)
			return
		}
		dev.reply(seq, body)
	}
}

func (dev *Device) reply(seq uint8, body []byte) {
	dev.mu.Lock()
	req, ok := dev.pending[seq]
	delete(dev.pending, seq)
	dev.mu.Unlock()

	if !ok {
		dev.msg.Printf("unexpected reply (seq=%d)", seq)
		return
	}

	var err error
	switch {
	case len(body) < repHdrSize:
		err = fmt.Errorf("uartbridge: short reply (seq=%d)", seq)
	case body[0] != statusOK:
		err = fmt.Errorf("uartbridge: status=0x%02x (seq=%d): %w", body[0], seq, ErrNAK)
	case req.d.Dir == bus.Read:
		data := body[repHdrSize:]
		if len(data) != req.d.Len {
			err = fmt.Errorf("uartbridge: short read (got=%d, want=%d)", len(data), req.d.Len)
			break
		}
		copy(req.d.Buf, data)
	}

	if e := req.done(err); e != nil {
		dev.msg.Printf("spurious completion: %+v", e)
	}
}

// abort fails all pending requests.
func (dev *Device) abort(cause error) {
	dev.mu.Lock()
	closed := dev.closed
	dev.closed = true
	pending := dev.pending
	dev.pending = make(map[uint8]request)
	dev.mu.Unlock()

	if !closed && !errors.Is(cause, io.EOF) {
		dev.msg.Printf("could not read from bridge: %+v", cause)
	}
	for _, req := range pending {
		_ = req.done(fmt.Errorf("uartbridge: %w: %v", ErrClosed, cause))
	}
}

// Close closes the serial port and fails the pending requests.
func (dev *Device) Close() error {
	dev.mu.Lock()
	dev.closed = true
	dev.mu.Unlock()

	err := dev.port.Close()

	select {
	case <-dev.done:
	case <-time.After(time.Second):
		dev.msg.Printf("reader still running after close")
	}

	if err != nil {
		return fmt.Errorf("uartbridge: could not close serial port: %w", err)
	}
	return nil
}

var (
	_ bus.Controller = (*Device)(nil)
	_ io.Closer      = (*Device)(nil)
)
