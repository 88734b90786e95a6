// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daqsrv

import (
	"bytes"
	"fmt"
	"io"

	"github.com/go-daq/tdaq"
	"github.com/go-lpc/xfer/bus"
)

// Report is the status of a finished sequence, as published on the
// /stats output.
type Report struct {
	Bus   string
	State bus.State
	Dir   bus.Direction
	Count int
	Err   string
	Stats bus.SeqStats
}

func (rep Report) encode(w io.Writer) error {
	enc := tdaq.NewEncoder(w)
	enc.WriteStr(rep.Bus)
	enc.WriteU8(uint8(rep.State))
	enc.WriteU8(uint8(rep.Dir))
	enc.WriteU32(uint32(rep.Count))
	enc.WriteStr(rep.Err)
	enc.WriteU64(rep.Stats.Sequences)
	enc.WriteU64(rep.Stats.Completed)
	enc.WriteU64(rep.Stats.Failed)
	enc.WriteU64(rep.Stats.Timeouts)
	enc.WriteU64(rep.Stats.Transfers)
	enc.WriteU64(rep.Stats.Late)
	return enc.Err()
}

// DecodeReport decodes a /stats frame body.
func DecodeReport(p []byte) (Report, error) {
	var (
		rep Report
		dec = tdaq.NewDecoder(bytes.NewReader(p))
	)
	rep.Bus = dec.ReadStr()
	rep.State = bus.State(dec.ReadU8())
	rep.Dir = bus.Direction(dec.ReadU8())
	rep.Count = int(dec.ReadU32())
	rep.Err = dec.ReadStr()
	rep.Stats.Sequences = dec.ReadU64()
	rep.Stats.Completed = dec.ReadU64()
	rep.Stats.Failed = dec.ReadU64()
	rep.Stats.Timeouts = dec.ReadU64()
	rep.Stats.Transfers = dec.ReadU64()
	rep.Stats.Late = dec.ReadU64()
	if err := dec.Err(); err != nil {
		return rep, fmt.Errorf("daqsrv: could not decode report: %w", err)
	}
	return rep, nil
}
