// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-lpc/maxipix/internal/eformat"
	"github.com/go-lpc/maxipix/internal/xcnv"
	"go-hep.org/x/hep/lcio"
)

func TestLCIO2MPX(t *testing.T) {
	var (
		tmp = t.TempDir()
		msg = log.New(io.Discard, "", 0)
		raw = new(bytes.Buffer)
		enc = eformat.NewEncoder(raw)
	)

	for i := 0; i < 4; i++ {
		f := eformat.Frame{
			ID:     uint32(i + 1),
			Width:  8,
			Height: 4,
			Time:   time.Date(2020, 6, 1, 10, 0, i, 0, time.UTC),
			Pixels: make([]uint16, 8*4),
		}
		f.Pixels[i] = uint16(10 * i)
		err := enc.Encode(&f)
		if err != nil {
			t.Fatalf("could not encode frame %d: %+v", i, err)
		}
	}

	fname := filepath.Join(tmp, "in.slcio")
	func() {
		w, err := lcio.Create(fname)
		if err != nil {
			t.Fatalf("could not create LCIO file: %+v", err)
		}
		defer w.Close()

		err = xcnv.MPX2LCIO(w, eformat.NewDecoder(bytes.NewReader(raw.Bytes())), 42, msg)
		if err != nil {
			t.Fatalf("could not convert to LCIO: %+v", err)
		}

		err = w.Close()
		if err != nil {
			t.Fatalf("could not close LCIO file: %+v", err)
		}
	}()

	n, err := numEvents(fname)
	if err != nil {
		t.Fatalf("could not count events: %+v", err)
	}
	if n != 4 {
		t.Fatalf("invalid number of events: got=%d, want=4", n)
	}

	oname := filepath.Join(tmp, "out.raw")
	err = process(oname, fname, int(n/10), msg)
	if err != nil {
		t.Fatalf("could not convert LCIO file: %+v", err)
	}

	got, err := os.ReadFile(oname)
	if err != nil {
		t.Fatalf("could not read output frame file: %+v", err)
	}

	if !bytes.Equal(got, raw.Bytes()) {
		t.Fatalf("round-trip failed")
	}
}

func TestProcessErrors(t *testing.T) {
	tmp := t.TempDir()
	msg := log.New(io.Discard, "", 0)

	_, err := numEvents(filepath.Join(tmp, "not-there.slcio"))
	if err == nil {
		t.Fatalf("expected an error for a missing LCIO file")
	}

	err = process(filepath.Join(tmp, "out.raw"), filepath.Join(tmp, "not-there.slcio"), 1, msg)
	if err == nil {
		t.Fatalf("expected an error for a missing LCIO file")
	}
}
