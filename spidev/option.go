// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spidev

import (
	"errors"
	"log"
)

var ErrClosed = errors.New("spidev: device closed")

type config struct {
	msg   *log.Logger
	mode  uint8
	bits  uint8
	depth int
}

// Option configures a SPI device.
type Option func(*config)

// WithLogger sets the logger of the device.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithMode sets the SPI mode (0-3).
func WithMode(mode uint8) Option {
	return func(cfg *config) {
		cfg.mode = mode & 3
	}
}

// WithBitsPerWord sets the word size.
func WithBitsPerWord(n uint8) Option {
	return func(cfg *config) {
		cfg.bits = n
	}
}

// WithDepth sets the depth of the transfer queue.
func WithDepth(n int) Option {
	return func(cfg *config) {
		cfg.depth = n
	}
}
