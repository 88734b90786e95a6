// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command xfer-db exports a board configuration stored in the configuration
// database as a YAML board file.
//
// Usage:
//
//	$> xfer-db [OPTIONS]
//
// Example:
//
//	$> xfer-db -board apollo3p-evb -o apollo3p.yaml
//	$> xfer-db > last.yaml
package main // import "github.com/go-lpc/xfer/cmd/xfer-db"

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/xfer/board"
	"github.com/go-lpc/xfer/confdb"
)

type boardDB interface {
	LastBoard(ctx context.Context) (string, error)
	Board(ctx context.Context, name string) (board.Config, error)
}

func main() {
	log.SetPrefix("xfer-db: ")
	log.SetFlags(0)

	var (
		dbname = flag.String("db", "xfer", "name of the configuration database")
		name   = flag.String("board", "", "board configuration to export (default: last one)")
		oname  = flag.String("o", "", "path to output YAML file (default: stdout)")
	)

	flag.Parse()

	db, err := confdb.Open(*dbname)
	if err != nil {
		log.Fatalf("could not open configuration db: %+v", err)
	}
	defer db.Close()

	o := os.Stdout
	if *oname != "" {
		o, err = os.Create(*oname)
		if err != nil {
			log.Fatalf("could not create output file: %+v", err)
		}
		defer o.Close()
	}

	err = export(context.Background(), o, db, *name)
	if err != nil {
		log.Fatalf("could not export board configuration: %+v", err)
	}

	err = o.Sync()
	if err != nil && *oname != "" {
		log.Fatalf("could not sync output file: %+v", err)
	}
}

func export(ctx context.Context, w io.Writer, db boardDB, name string) error {
	if name == "" {
		v, err := db.LastBoard(ctx)
		if err != nil {
			return fmt.Errorf("could not get last board name: %w", err)
		}
		name = v
		log.Printf("board: %q", name)
	}

	cfg, err := db.Board(ctx, name)
	if err != nil {
		return fmt.Errorf("could not get board %q: %w", name, err)
	}
	log.Printf("buses: %d", len(cfg.Buses))

	err = cfg.Encode(w)
	if err != nil {
		return fmt.Errorf("could not encode board %q: %w", name, err)
	}
	return nil
}
