// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package conddb

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/go-lpc/maxipix/internal/fakedb"
	"github.com/go-lpc/maxipix/priam"
)

func init() {
	drvName = "fakedb"
}

func TestOpen(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()
}

func TestNew(t *testing.T) {
	sqldb, err := sql.Open("fakedb", "")
	if err != nil {
		t.Fatalf("could not open fake db: %+v", err)
	}
	db := New(sqldb, "maxipix")
	defer db.Close()

	if got, want := db.name, "maxipix"; got != want {
		t.Fatalf("invalid db name: got=%q, want=%q", got, want)
	}
}

func TestDetectorConfig(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()

	names := []string{
		"version", "polarity", "frequency",
		"chips_x", "chips_y", "gap_x", "gap_y",
		"fsr", "datetime",
	}
	date := time.Date(2020, 6, 1, 10, 0, 0, 0, time.UTC)

	for _, tc := range []struct {
		name string
		row  []driver.Value
		want Detector
		err  string
	}{
		{
			name: "ok",
			row: []driver.Value{
				"mxr2", "positive", 100.0,
				int64(5), int64(1), int64(4), int64(0),
				"0011223344", date,
			},
			want: Detector{
				Name:      "ok",
				Version:   priam.MXR2,
				Polarity:  priam.Positive,
				Frequency: 100,
				ChipsX:    5,
				ChipsY:    1,
				GapX:      4,
				FSR:       []byte{0x00, 0x11, 0x22, 0x33, 0x44},
				Time:      date,
			},
		},
		{
			name: "bad-version",
			row: []driver.Value{
				"mpx9", "positive", 100.0,
				int64(1), int64(1), int64(0), int64(0),
				"", date,
			},
			err: `conddb: invalid detector "bad-version" version: priam: parse-version: unknown chip version "mpx9"`,
		},
		{
			name: "bad-polarity",
			row: []driver.Value{
				"tpx1", "sideways", 100.0,
				int64(1), int64(1), int64(0), int64(0),
				"", date,
			},
			err: `conddb: invalid detector "bad-polarity" polarity: priam: parse-polarity: unknown polarity "sideways"`,
		},
		{
			name: "bad-fsr",
			row: []driver.Value{
				"mpx2", "negative", 100.0,
				int64(2), int64(2), int64(3), int64(3),
				"0xzz", date,
			},
			err: `conddb: could not decode detector "bad-fsr" FSR`,
		},
		{
			name: "missing",
			err:  `conddb: no detector "missing"`,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rows := fakedb.Rows{Names: names}
			if tc.row != nil {
				rows.Values = [][]driver.Value{tc.row}
			}
			_ = fakedb.Run(context.Background(), rows, func(ctx context.Context) error {
				got, err := db.DetectorConfig(ctx, tc.name)
				switch {
				case err != nil && tc.err != "":
					if !strings.HasPrefix(err.Error(), tc.err) {
						t.Fatalf("invalid error:\ngot= %q\nwant=%q", err.Error(), tc.err)
					}
					return nil
				case err != nil:
					t.Fatalf("could not retrieve detector cfg: %+v", err)
				case tc.err != "":
					t.Fatalf("expected an error (%s)", tc.err)
				}

				if !reflect.DeepEqual(got, tc.want) {
					t.Fatalf("invalid detector cfg:\ngot= %#v\nwant=%#v", got, tc.want)
				}
				return nil
			})
		})
	}
}

func TestChipIDs(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()

	for _, tc := range []struct {
		name   string
		values [][]driver.Value
		want   []string
		err    string
	}{
		{
			name: "full",
			values: [][]driver.Value{
				{int64(0), "W4660-C7"},
				{int64(1), "W4660-C8"},
				{int64(2), "W4660-D7"},
			},
			want: []string{"W4660-C7", "W4660-C8", "W4660-D7"},
		},
		{
			name: "sparse",
			values: [][]driver.Value{
				{int64(0), "W4660-C7"},
				{int64(3), "W4660-D8"},
			},
			want: []string{"W4660-C7", "", "", "W4660-D8"},
		},
		{
			name: "duplicate",
			values: [][]driver.Value{
				{int64(0), "W4660-C7"},
				{int64(0), "W4660-C8"},
			},
			err: `conddb: duplicate chip-id for port 0 of "duplicate"`,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_ = fakedb.Run(context.Background(), fakedb.Rows{
				Names:  []string{"port", "chip_id"},
				Values: tc.values,
			}, func(ctx context.Context) error {
				got, err := db.ChipIDs(ctx, tc.name)
				switch {
				case err != nil && tc.err != "":
					if got, want := err.Error(), tc.err; got != want {
						t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
					}
					return nil
				case err != nil:
					t.Fatalf("could not retrieve chip-ids: %+v", err)
				case tc.err != "":
					t.Fatalf("expected an error (%s)", tc.err)
				}

				if !reflect.DeepEqual(got, tc.want) {
					t.Fatalf("invalid chip-ids:\ngot= %q\nwant=%q", got, tc.want)
				}
				return nil
			})
		})
	}
}

func TestSaveChipIDs(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()

	_ = fakedb.Run(context.Background(), fakedb.Rows{}, func(ctx context.Context) error {
		err := db.SaveChipIDs(ctx, "mpx-5x1", []string{"W4660-C7", "", "W4660-D7"})
		if err != nil {
			t.Fatalf("could not save chip-ids: %+v", err)
		}

		execs := fakedb.Execs()
		if got, want := len(execs), 3; got != want {
			t.Fatalf("invalid number of statements: got=%d, want=%d", got, want)
		}

		if !strings.HasPrefix(execs[0].Query, "DELETE FROM chips") {
			t.Fatalf("invalid first statement: %q", execs[0].Query)
		}
		if got, want := execs[0].Args, []driver.Value{"mpx-5x1"}; !reflect.DeepEqual(got, want) {
			t.Fatalf("invalid delete args:\ngot= %v\nwant=%v", got, want)
		}

		for i, want := range [][]driver.Value{
			{"mpx-5x1", int64(0), "W4660-C7"},
			{"mpx-5x1", int64(2), "W4660-D7"},
		} {
			got := execs[i+1]
			if !strings.HasPrefix(got.Query, "INSERT INTO chips") {
				t.Fatalf("invalid statement %d: %q", i+1, got.Query)
			}
			if !reflect.DeepEqual(got.Args, want) {
				t.Fatalf("invalid insert args %d:\ngot= %v\nwant=%v", i, got.Args, want)
			}
		}
		return nil
	})
}

func TestQueryContext(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()

	const queryFSR = "SELECT fsr FROM detectors ORDER BY datetime DESC LIMIT 1"

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: []string{"fsr"},
		Values: [][]driver.Value{
			{[]byte("cafe")},
		},
	}, func(ctx context.Context) error {
		rows, err := db.QueryContext(context.Background(), queryFSR)
		if err != nil {
			t.Fatalf("could not execute query %q: %+v", queryFSR, err)
		}
		defer rows.Close()

		var fsr []byte
		for rows.Next() {
			err = rows.Scan(&fsr)
			if err != nil {
				t.Fatalf("could not scan fsr: %+v", err)
			}
		}

		if err := rows.Err(); err != nil {
			t.Fatalf("could not scan fsr: %+v", err)
		}

		if got, want := fsr, []byte("cafe"); !bytes.Equal(got, want) {
			t.Fatalf("invalid fsr: got=%q, want=%q", got, want)
		}
		return nil
	})
}
