// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command xfer-srv starts a TDAQ server driving transfer sequences on the
// buses of a board.
//
// The board is described by the YAML file given as argument or, without
// argument, retrieved from the configuration database named by the
// XFER_DB environment variable (default: "xfer"). Runs are recorded in
// the configuration database in the latter case.
//
// Usage:
//
//	$> xfer-srv [TDAQ-OPTIONS] [board.yaml]
package main // import "github.com/go-lpc/xfer/cmd/xfer-srv"

import (
	"context"
	"log"
	"os"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/xfer"
	"github.com/go-lpc/xfer/confdb"
	"github.com/go-lpc/xfer/daqsrv"
)

func main() {
	cmd := flags.New()

	log.SetPrefix("xfer-srv: ")
	log.SetFlags(0)

	if v, _ := xfer.Version(); v != "" {
		log.Printf("version: %s", v)
	}

	var (
		load daqsrv.Loader
		opts []daqsrv.Option
	)
	switch {
	case len(cmd.Args) > 0:
		load = daqsrv.FromFile(cmd.Args[0])
	default:
		name := os.Getenv("XFER_DB")
		if name == "" {
			name = "xfer"
		}
		db, err := confdb.Open(name)
		if err != nil {
			log.Fatalf("could not open configuration db: %+v", err)
		}
		defer db.Close()
		load = daqsrv.FromDB(db)
		opts = append(opts, daqsrv.WithRecorder(db.RecordRun))
	}

	dev := daqsrv.New(load, opts...)

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/stats", dev.Stats)

	srv.RunHandle(dev.Run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}
