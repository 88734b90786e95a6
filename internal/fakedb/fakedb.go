// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakedb provides an in-memory SQL driver serving canned rows
// and recording executed statements.
package fakedb // import "github.com/go-lpc/xfer/internal/fakedb"

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"sync"
)

var query struct {
	mu   sync.Mutex
	rows Rows
	fail error
}

var recorded struct {
	mu    sync.Mutex
	execs []Exec
}

// Exec is a statement executed through the fake driver.
type Exec struct {
	Query string
	Args  []driver.Value
}

// Run runs f with rows as the result of every query issued by f.
// Statements executed by f are recorded and available through Execs.
func Run(ctx context.Context, rows Rows, f func(ctx context.Context) error) error {
	query.mu.Lock()
	defer query.mu.Unlock()
	query.rows = rows
	query.fail = nil

	recorded.mu.Lock()
	recorded.execs = nil
	recorded.mu.Unlock()

	return f(ctx)
}

// Fail runs f with every query and statement failing with err.
func Fail(ctx context.Context, err error, f func(ctx context.Context) error) error {
	query.mu.Lock()
	defer query.mu.Unlock()
	query.rows = Rows{}
	query.fail = err

	return f(ctx)
}

// Execs returns the statements executed since the last call to Run.
func Execs() []Exec {
	recorded.mu.Lock()
	defer recorded.mu.Unlock()
	return append([]Exec(nil), recorded.execs...)
}

func init() {
	sql.Register("fakedb", &Driver{})
}

type Driver struct{}

func (drv *Driver) Open(name string) (driver.Conn, error) {
	return &Conn{}, nil
}

type Conn struct{}

func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return &Stmt{query: query}, nil
}

func (c *Conn) Close() error {
	return nil
}

func (c *Conn) Begin() (driver.Tx, error) {
	return nil, errors.New("fakedb: transactions not supported")
}

type Stmt struct {
	query string
}

func (stmt *Stmt) Close() error {
	return nil
}

// NumInput returns -1: placeholders are not checked.
func (stmt *Stmt) NumInput() int {
	return -1
}

func (stmt *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	if query.fail != nil {
		return nil, query.fail
	}
	recorded.mu.Lock()
	defer recorded.mu.Unlock()
	recorded.execs = append(recorded.execs, Exec{
		Query: stmt.query,
		Args:  append([]driver.Value(nil), args...),
	})
	return driver.RowsAffected(1), nil
}

func (stmt *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	if query.fail != nil {
		return nil, query.fail
	}
	return &query.rows, nil
}

type Rows struct {
	Names  []string
	Values [][]driver.Value
}

func (rows *Rows) Columns() []string {
	return rows.Names
}

func (rows *Rows) Close() error {
	return nil
}

func (rows *Rows) Next(dest []driver.Value) error {
	if len(rows.Values) == 0 {
		return io.EOF
	}
	copy(dest, rows.Values[0])
	rows.Values = rows.Values[1:]
	return nil
}

var (
	_ driver.Driver = (*Driver)(nil)
	_ driver.Conn   = (*Conn)(nil)
	_ driver.Stmt   = (*Stmt)(nil)
	_ driver.Rows   = (*Rows)(nil)
)
