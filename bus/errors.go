// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bus

import (
	"errors"
)

var (
	ErrBusy              = errors.New("bus: hardware busy")
	ErrSubmit            = errors.New("bus: transfer rejected")
	ErrTimeout           = errors.New("bus: transfer timeout")
	ErrRegistryFull      = errors.New("bus: registry full")
	ErrUnknownHandle     = errors.New("bus: unknown transfer handle")
	ErrInvalidDescriptor = errors.New("bus: invalid descriptor")
)

// Retryable returns whether a failed sequence may be retried as a whole.
func Retryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrSubmit)
}
