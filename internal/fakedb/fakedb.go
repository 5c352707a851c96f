// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakedb registers an in-memory "fakedb" SQL driver standing in for
// the conditions database.
//
// Queries issued within Run are answered with the rows given to Run, and
// statements executed within Run are recorded, in order, for Execs.
package fakedb // import "github.com/go-lpc/maxipix/internal/fakedb"

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"sync"
)

var state struct {
	mu    sync.Mutex
	rows  Rows
	execs []Exec
}

// Exec is a statement executed through the fake DB.
type Exec struct {
	Query string
	Args  []driver.Value
}

// Rows are the results served to every query.
type Rows struct {
	Names  []string
	Values [][]driver.Value
}

// Run runs f with the DB serving rows to all queries.
// Calls to Run are serialized.
func Run(ctx context.Context, rows Rows, f func(ctx context.Context) error) error {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.rows = rows
	state.execs = nil

	return f(ctx)
}

// Execs returns the statements executed since the enclosing Run started.
// Execs must be called from within the function given to Run.
func Execs() []Exec {
	return append([]Exec(nil), state.execs...)
}

func init() {
	sql.Register("fakedb", &Driver{})
}

// Driver is the fakedb SQL driver. All connections share the state
// installed by Run.
type Driver struct{}

func (*Driver) Open(name string) (driver.Conn, error) { return &conn{}, nil }

type conn struct{}

func (*conn) Prepare(query string) (driver.Stmt, error) { return &stmt{query: query}, nil }
func (*conn) Close() error                              { return nil }
func (*conn) Begin() (driver.Tx, error)                 { return tx{}, nil }

type tx struct{}

func (tx) Commit() error   { return nil }
func (tx) Rollback() error { return nil }

type stmt struct {
	query string
}

func (*stmt) Close() error { return nil }

// NumInput disables the argument count checks of database/sql.
func (*stmt) NumInput() int { return -1 }

func (st *stmt) Exec(args []driver.Value) (driver.Result, error) {
	state.execs = append(state.execs, Exec{
		Query: st.query,
		Args:  append([]driver.Value(nil), args...),
	})
	return driver.RowsAffected(1), nil
}

func (*stmt) Query(args []driver.Value) (driver.Rows, error) {
	return &rows{
		names:  state.rows.Names,
		values: state.rows.Values,
	}, nil
}

// rows iterates over a copy of the served rows, so that queries within
// the same Run all see the same results.
type rows struct {
	names  []string
	values [][]driver.Value
}

func (rs *rows) Columns() []string { return rs.names }
func (rs *rows) Close() error      { return nil }

func (rs *rows) Next(dest []driver.Value) error {
	if len(rs.values) == 0 {
		return io.EOF
	}
	copy(dest, rs.values[0])
	rs.values = rs.values[1:]
	return nil
}

var (
	_ driver.Driver = (*Driver)(nil)
	_ driver.Conn   = (*conn)(nil)
	_ driver.Tx     = tx{}
	_ driver.Stmt   = (*stmt)(nil)
	_ driver.Rows   = (*rows)(nil)
)
