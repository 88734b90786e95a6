// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package confdb retrieves board and bus configurations from the
// configuration database, and records the outcome of transfer runs.
package confdb // import "github.com/go-lpc/xfer/confdb"

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/go-lpc/xfer/board"
	"github.com/go-lpc/xfer/bus"
	"github.com/go-sql-driver/mysql"
)

const timeout = 5 * time.Second

var drvName = "mysql"

// DB exposes convenience methods to retrieve board configurations and
// record runs.
type DB struct {
	db   *sql.DB
	name string
}

// Open opens a connection to the configuration database dbname.
//
// Credentials and server address are read from the XFER_DB_USER,
// XFER_DB_PASS and XFER_DB_HOST environment variables.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("confdb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(dbname string) string {
	cfg := mysql.NewConfig()
	cfg.User = getenv("XFER_DB_USER", "xfer")
	cfg.Passwd = os.Getenv("XFER_DB_PASS")
	cfg.Net = "tcp"
	cfg.Addr = getenv("XFER_DB_HOST", "localhost:3306")
	cfg.DBName = dbname
	cfg.ParseTime = true
	cfg.Timeout = timeout
	return cfg.FormatDSN()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("confdb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// LastBoard returns the name of the most recently registered board.
func (db *DB) LastBoard(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name := ""
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT name FROM boards ORDER BY datetime DESC LIMIT 1",
	)
	if err != nil {
		return name, fmt.Errorf("confdb: could not query last board: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		err = rows.Scan(&name)
		if err != nil {
			return name, fmt.Errorf("confdb: could not get board name: %w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return name, fmt.Errorf("confdb: could not scan db for last board: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return name, fmt.Errorf("confdb: context error while retrieving last board: %w", err)
	}

	if name == "" {
		return name, fmt.Errorf("confdb: no board in %q db", db.name)
	}

	return name, nil
}

// Buses returns the bus configurations of the named board.
func (db *DB) Buses(ctx context.Context, name string) ([]board.BusCfg, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := db.db.QueryContext(
		ctx,
		`
SELECT buses.name, buses.kind, buses.device, buses.idx, buses.addr,
       buses.baud, buses.hz, buses.mode, buses.depth, buses.peer, buses.size
FROM buses
JOIN boards ON boards.identifier=buses.board
WHERE boards.name=?
ORDER BY buses.name
`,
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("confdb: could not run bus cfg query: %w", err)
	}
	defer rows.Close()

	var buses []board.BusCfg
	for i := 0; rows.Next(); i++ {
		var b board.BusCfg
		err = rows.Scan(
			&b.Name, &b.Kind, &b.Device, &b.Index, &b.Addr,
			&b.Baud, &b.Hz, &b.Mode, &b.Depth, &b.Peer, &b.Size,
		)
		if err != nil {
			return buses, fmt.Errorf("confdb: could not scan row %d for bus cfg: %w", i, err)
		}
		buses = append(buses, b)
	}

	if err := rows.Err(); err != nil {
		return buses, fmt.Errorf("confdb: could not scan db for bus cfg: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return buses, fmt.Errorf("confdb: context error while retrieving bus cfg: %w", err)
	}

	return buses, nil
}

// Board returns the configuration of the named board.
func (db *DB) Board(ctx context.Context, name string) (board.Config, error) {
	buses, err := db.Buses(ctx, name)
	if err != nil {
		return board.Config{}, err
	}

	cfg := board.Config{Name: name, Buses: buses}
	err = cfg.Validate()
	if err != nil {
		return cfg, fmt.Errorf("confdb: invalid configuration for board %q: %w", name, err)
	}
	return cfg, nil
}

// Run is the record of a transfer run on one bus.
type Run struct {
	Board string
	Bus   string
	Start time.Time
	Stop  time.Time
	Stats bus.SeqStats
}

// RecordRun stores a run record.
func (db *DB) RecordRun(ctx context.Context, run Run) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := db.db.ExecContext(
		ctx,
		`
INSERT INTO runs (board, bus, start, stop, sequences, completed, failed, timeouts, transfers, late)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		run.Board, run.Bus, run.Start.UTC(), run.Stop.UTC(),
		run.Stats.Sequences, run.Stats.Completed, run.Stats.Failed,
		run.Stats.Timeouts, run.Stats.Transfers, run.Stats.Late,
	)
	if err != nil {
		return fmt.Errorf("confdb: could not record run of bus %q: %w", run.Bus, err)
	}
	return nil
}
