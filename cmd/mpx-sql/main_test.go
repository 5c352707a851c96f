// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/go-lpc/maxipix/conddb"
	"github.com/go-lpc/maxipix/detector"
	"github.com/go-lpc/maxipix/internal/fakedb"
	"github.com/go-lpc/maxipix/internal/fakepriam"
)

func TestDoQuery(t *testing.T) {
	sqldb, err := sql.Open("fakedb", "")
	if err != nil {
		t.Fatalf("could not open fake db: %+v", err)
	}
	db := conddb.New(sqldb, "maxipix")
	defer db.Close()

	names := []string{
		"version", "polarity", "frequency",
		"chips_x", "chips_y", "gap_x", "gap_y",
		"fsr", "datetime",
	}
	date := time.Date(2020, 6, 1, 10, 0, 0, 0, time.UTC)

	want := detector.DefaultConfig()
	want.Name = "id01"
	want.Polarity = "negative"
	want.Frequency = 100
	want.FSR = fakepriam.FSRHex
	want.Chips = detector.XY{X: 5, Y: 1}
	want.Gaps = detector.XY{X: 4}
	want.Ports = []int{0, 1, 2, 3, 4}
	want.Fill = "dispatch"

	for _, tc := range []struct {
		name string
		row  []driver.Value
		err  string
	}{
		{
			name: "id01",
			row: []driver.Value{
				"mxr2", "negative", 100.0,
				int64(5), int64(1), int64(4), int64(0),
				fakepriam.FSRHex, date,
			},
		},
		{
			name: "id02",
			row: []driver.Value{
				"mxr2", "negative", 100.0,
				int64(3), int64(2), int64(4), int64(4),
				"", date,
			},
			err: "no reconstruction model for 3x2 chips",
		},
		{
			name: "id03",
			row: []driver.Value{
				"mpx9", "negative", 100.0,
				int64(1), int64(1), int64(0), int64(0),
				"", date,
			},
			err: `unknown chip version "mpx9"`,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_ = fakedb.Run(context.Background(), fakedb.Rows{
				Names:  names,
				Values: [][]driver.Value{tc.row},
			}, func(ctx context.Context) error {
				got, err := doQuery(ctx, db, tc.name)
				switch {
				case err != nil && tc.err != "":
					if !strings.Contains(err.Error(), tc.err) {
						t.Fatalf("invalid error:\ngot= %q\nwant=%q", err, tc.err)
					}
					return nil
				case err != nil:
					t.Fatalf("could not query detector: %+v", err)
				case tc.err != "":
					t.Fatalf("expected an error (%s)", tc.err)
				}

				if !reflect.DeepEqual(got, want) {
					t.Fatalf("invalid config:\ngot= %+v\nwant=%+v", got, want)
				}
				return nil
			})
		})
	}
}

func TestConfigFromSingleChip(t *testing.T) {
	cfg := configFrom(conddb.Detector{
		Name:      "bench",
		ChipsX:    1,
		ChipsY:    1,
		Frequency: 80,
	})
	if got, want := cfg.Ports, []int{0}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid ports: got=%v, want=%v", got, want)
	}
	if got, want := cfg.Fill, "raw"; got != want {
		t.Fatalf("invalid fill: got=%q, want=%q", got, want)
	}
	if got, want := cfg.Version, "dummy"; got != want {
		t.Fatalf("invalid version: got=%q, want=%q", got, want)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("invalid config: %+v", err)
	}
}
