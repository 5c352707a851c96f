// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command lcio2mpx converts a LCIO file into a Maxipix frame file.
package main // import "github.com/go-lpc/maxipix/cmd/lcio2mpx"

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/maxipix/internal/xcnv"
	"go-hep.org/x/hep/lcio"
)

func main() {
	log.SetPrefix("lcio2mpx: ")
	log.SetFlags(0)

	var (
		oname = flag.String("o", "out.raw", "path to output frame file")
	)

	flag.Usage = func() {
		fmt.Printf(`Usage: lcio2mpx [OPTIONS] file.lcio

ex:
 $> lcio2mpx -o out.raw ./input.lcio

options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		log.Fatalf("missing input LCIO file")
	}

	if *oname == "" {
		flag.Usage()
		log.Fatalf("invalid output frame file name")
	}

	n, err := numEvents(flag.Arg(0))
	if err != nil {
		log.Fatalf("could not assess number of events: %+v", err)
	}
	log.Printf("input:  %s", flag.Arg(0))
	log.Printf("events: %d", n)

	err = process(*oname, flag.Arg(0), int(n/10), log.Default())
	if err != nil {
		log.Fatalf("could not convert LCIO file: %+v", err)
	}
}

func numEvents(fname string) (int64, error) {
	r, err := lcio.Open(fname)
	if err != nil {
		return 0, fmt.Errorf("could not open %q: %w", fname, err)
	}
	defer r.Close()

	var n int64
	for r.Next() {
		n++
	}

	err = r.Err()
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("could not assess number of events in %q: %w", fname, err)
	}

	return n, nil
}

func process(oname, fname string, freq int, msg *log.Logger) error {
	if freq <= 0 {
		freq = 1
	}

	r, err := lcio.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open LCIO file: %w", err)
	}
	defer r.Close()

	f, err := os.Create(oname)
	if err != nil {
		return fmt.Errorf("could not create output frame file: %w", err)
	}
	defer f.Close()

	err = xcnv.LCIO2MPX(f, r, freq, msg)
	if err != nil {
		return fmt.Errorf("could not convert LCIO events: %w", err)
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("could not close output frame file: %w", err)
	}
	return nil
}
