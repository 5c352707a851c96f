// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"compress/flate"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-lpc/maxipix/internal/eformat"
	"go-hep.org/x/hep/lcio"
)

func TestRunNbrFrom(t *testing.T) {
	for _, tc := range []struct {
		fname string
		run   int32
		err   bool
	}{
		{fname: "./mpx_063.000.raw", run: 63},
		{fname: "/some/dir/mpx_663.000.raw", run: 663},
		{fname: "../some/dir/mpx_009.001.raw", run: 9},
		{fname: "run.raw", err: true},
	} {
		t.Run(tc.fname, func(t *testing.T) {
			got, err := runNbrFrom(tc.fname)
			switch {
			case tc.err:
				if err == nil {
					t.Fatalf("expected an error")
				}
				return
			case err != nil:
				t.Fatalf("could not infer run-nbr: %+v", err)
			}
			if got != tc.run {
				t.Fatalf("invalid run: got=%d, want=%d", got, tc.run)
			}
		})
	}
}

func TestMPX2LCIO(t *testing.T) {
	tmp := t.TempDir()

	fname := filepath.Join(tmp, "mpx_063.000.raw")
	f, err := os.Create(fname)
	if err != nil {
		t.Fatalf("could not create frame file: %+v", err)
	}
	defer f.Close()

	enc := eformat.NewEncoder(f)
	for i := 0; i < 3; i++ {
		frame := eformat.Frame{
			ID:     uint32(i + 1),
			Width:  256,
			Height: 256,
			Time:   time.Date(2020, 6, 1, 10, 0, i, 0, time.UTC),
			Pixels: make([]uint16, 256*256),
		}
		frame.Pixels[i] = 42
		err = enc.Encode(&frame)
		if err != nil {
			t.Fatalf("could not encode frame: %+v", err)
		}
	}

	err = f.Close()
	if err != nil {
		t.Fatalf("could not close frame file: %+v", err)
	}

	for _, tc := range []struct {
		name string
		run  int32
		want int32
	}{
		{"inferred", -1, 63},
		{"explicit", 12, 12},
	} {
		t.Run(tc.name, func(t *testing.T) {
			oname := filepath.Join(tmp, tc.name+".lcio")
			err := process(oname, flate.DefaultCompression, tc.run, fname)
			if err != nil {
				t.Fatalf("could not convert frame file: %+v", err)
			}

			r, err := lcio.Open(oname)
			if err != nil {
				t.Fatalf("could not open LCIO file: %+v", err)
			}
			defer r.Close()

			n := 0
			for r.Next() {
				evt := r.Event()
				if evt.RunNumber != tc.want {
					t.Fatalf("invalid run number: got=%d, want=%d", evt.RunNumber, tc.want)
				}
				n++
			}
			if n != 3 {
				t.Fatalf("invalid number of events: got=%d, want=3", n)
			}
		})
	}

	err = process(filepath.Join(tmp, "out.lcio"), flate.DefaultCompression, -1, filepath.Join(tmp, "not-there.raw"))
	if err == nil {
		t.Fatalf("expected an error for a missing input file")
	}
}
