// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package conddb holds types to describe the condition and configuration
// database for Maxipix detectors.
package conddb // import "github.com/go-lpc/maxipix/conddb"

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-lpc/maxipix/priam"
	_ "github.com/go-sql-driver/mysql"
)

const (
	host = "localhost"
)

var (
	usr = "username"
	pwd = "s3cr3t"

	drvName = "mysql"
)

// DB exposes convenience methods to easily retrieve conditions data
// and configuration data from the Maxipix database.
type DB struct {
	db   *sql.DB
	name string // name of the Maxipix database
}

// Open opens a connection to the Maxipix database dbname.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("conddb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return &DB{db: db, name: dbname}, nil
}

// New wraps an already opened handle to the Maxipix database dbname.
func New(db *sql.DB, dbname string) *DB {
	return &DB{db: db, name: dbname}
}

func dsn(db string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s", usr, pwd, host, db)
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

// Detector is one configuration row of a Maxipix detector.
type Detector struct {
	Name      string
	Version   priam.Version
	Polarity  priam.Polarity
	Frequency float64 // MHz
	ChipsX    int
	ChipsY    int
	GapX      int // pixels
	GapY      int // pixels
	FSR       []byte
	Time      time.Time
}

// DetectorConfig returns the latest configuration of the named detector.
func (db *DB) DetectorConfig(ctx context.Context, name string) (Detector, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	det := Detector{Name: name}
	rows, err := db.db.QueryContext(
		ctx,
		`
SELECT version, polarity, frequency, chips_x, chips_y, gap_x, gap_y, fsr, datetime
FROM detectors
WHERE name=?
ORDER BY datetime DESC LIMIT 1
`,
		name,
	)
	if err != nil {
		return det, fmt.Errorf("conddb: could not query detector %q: %w", name, err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var (
			vers string
			pol  string
			fsr  string
		)
		err = rows.Scan(
			&vers, &pol, &det.Frequency,
			&det.ChipsX, &det.ChipsY, &det.GapX, &det.GapY,
			&fsr, &det.Time,
		)
		if err != nil {
			return det, fmt.Errorf("conddb: could not get detector %q values: %w", name, err)
		}
		det.Version, err = priam.ParseVersion(vers)
		if err != nil {
			return det, fmt.Errorf("conddb: invalid detector %q version: %w", name, err)
		}
		det.Polarity, err = priam.ParsePolarity(pol)
		if err != nil {
			return det, fmt.Errorf("conddb: invalid detector %q polarity: %w", name, err)
		}
		det.FSR, err = hex.DecodeString(fsr)
		if err != nil {
			return det, fmt.Errorf("conddb: could not decode detector %q FSR: %w", name, err)
		}
		n++
	}

	if err := rows.Err(); err != nil {
		return det, fmt.Errorf("conddb: could not scan db for detector %q: %w", name, err)
	}

	if err := ctx.Err(); err != nil {
		return det, fmt.Errorf("conddb: context error while retrieving detector %q: %w", name, err)
	}

	if n == 0 {
		return det, fmt.Errorf("conddb: no detector %q", name)
	}

	return det, nil
}

// ChipIDs returns the chip identifiers of the named detector,
// indexed by readout port. Ports without a chip have an empty identifier.
func (db *DB) ChipIDs(ctx context.Context, name string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var ids []string
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT port, chip_id FROM chips WHERE detector=? ORDER BY port",
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not query chip-ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			port int
			id   string
		)
		err = rows.Scan(&port, &id)
		if err != nil {
			return ids, fmt.Errorf("conddb: could not get chip-id value: %w", err)
		}
		if port < len(ids) {
			return ids, fmt.Errorf("conddb: duplicate chip-id for port %d of %q", port, name)
		}
		for len(ids) < port {
			ids = append(ids, "")
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return ids, fmt.Errorf("conddb: could not scan db for chip-ids: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return ids, fmt.Errorf("conddb: context error while retrieving chip-ids: %w", err)
	}

	return ids, nil
}

// SaveChipIDs replaces the chip identifiers of the named detector.
// Empty identifiers are skipped.
func (db *DB) SaveChipIDs(ctx context.Context, name string, ids []string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("conddb: could not start chip-ids transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, "DELETE FROM chips WHERE detector=?", name)
	if err != nil {
		return fmt.Errorf("conddb: could not clear chip-ids of %q: %w", name, err)
	}

	for port, id := range ids {
		if id == "" {
			continue
		}
		_, err = tx.ExecContext(
			ctx,
			"INSERT INTO chips (detector, port, chip_id) VALUES (?, ?, ?)",
			name, port, id,
		)
		if err != nil {
			return fmt.Errorf("conddb: could not save chip-id of %q port %d: %w", name, port, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("conddb: could not commit chip-ids of %q: %w", name, err)
	}

	return nil
}
