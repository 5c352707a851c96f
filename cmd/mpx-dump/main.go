// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// mpx-dump decodes and displays Maxipix frames stored in raw or LCIO files.
// With -pixels, mpx-dump summarizes bit-sliced pixel configuration matrices
// instead.
//
// Usage: mpx-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
//
// Example:
//
//	$> mpx-dump ./mpx_042.000.raw
//	=== frame 1 ===
//	time:   2020-06-01T10:00:00Z
//	size:   1296x256
//	hits:         1204
//	sum:         31415
//	max:            87 (x=642, y=17)
//	[...]
//
//	$> mpx-dump -pixels=mxr2 ./chip-0.bin
//	=== matrix ./chip-0.bin (mxr2) ===
//	masked:         12
//	test:            0
//	low:    [65524 0 0 0 0 0 0 12]
//	high:   [65536 0 0 0 0 0 0 0]
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/go-lpc/maxipix/internal/eformat"
	"github.com/go-lpc/maxipix/internal/xcnv"
	"github.com/go-lpc/maxipix/pixel"
	"github.com/go-lpc/maxipix/priam"
	"go-hep.org/x/hep/lcio"
)

const usage = `mpx-dump decodes and displays Maxipix frames stored in raw or LCIO files.

Usage: mpx-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]

Example:

 $> mpx-dump ./mpx_042.000.raw
 === frame 1 ===
 time:   2020-06-01T10:00:00Z
 size:   1296x256
 hits:         1204
 sum:         31415
 max:            87 (x=642, y=17)
 [...]

 $> mpx-dump -pixels=mxr2 ./chip-0.bin
 === matrix ./chip-0.bin (mxr2) ===
 masked:         12
 test:            0
 low:    [65524 0 0 0 0 0 0 12]
 high:   [65536 0 0 0 0 0 0 0]

`

func main() {
	xmain(os.Stdout, os.Args[1:])
}

func xmain(w io.Writer, args []string) {
	log.SetPrefix("mpx-dump: ")
	log.SetFlags(0)

	var (
		fset = flag.NewFlagSet("mpx-dump", flag.ExitOnError)

		isLCIO = fset.Bool("lcio", false, "input files are LCIO files")
		pixels = fset.String("pixels", "", "input files are pixel matrices of the given chip version (mpx2, mxr2, tpx1)")
	)

	fset.Usage = func() {
		fmt.Print(usage)
		fset.PrintDefaults()
	}

	err := fset.Parse(args)
	if err != nil {
		log.Fatalf("could not parse input arguments: %+v", err)
	}

	if fset.NArg() == 0 {
		fset.Usage()
		log.Fatalf("missing path to input file")
	}

	for _, fname := range fset.Args() {
		var err error
		switch {
		case *pixels != "":
			err = dumpMatrix(w, fname, *pixels)
		default:
			err = process(w, fname, *isLCIO)
		}
		if err != nil {
			log.Fatalf("could not dump file %q: %+v", fname, err)
		}
	}
}

func process(w io.Writer, fname string, isLCIO bool) error {
	if isLCIO {
		return processLCIO(w, fname)
	}

	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open frame file: %w", err)
	}
	defer f.Close()

	return dump(w, eformat.NewDecoder(bufio.NewReader(f)))
}

func processLCIO(w io.Writer, fname string) error {
	r, err := lcio.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open LCIO file: %w", err)
	}
	defer r.Close()

	rp, wp := io.Pipe()
	defer rp.Close()
	defer wp.Close()

	msg := log.New(io.Discard, "", 0)
	ch := make(chan error, 1)
	go func() {
		defer wp.Close()
		ch <- xcnv.LCIO2MPX(wp, r, 100, msg)
	}()

	err = dump(w, eformat.NewDecoder(rp))
	if err != nil {
		// unblock the converter.
		rp.CloseWithError(err)
		<-ch
		return err
	}

	err = <-ch
	if err != nil {
		return fmt.Errorf("could not convert LCIO events: %w", err)
	}

	return nil
}

func dump(w io.Writer, dec *eformat.Decoder) error {
	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

loop:
	for {
		var f eformat.Frame
		err := dec.Decode(&f)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break loop
			}
			return fmt.Errorf("could not decode frame: %w", err)
		}
		st := statsOf(&f)
		fmt.Fprintf(wbuf, "=== frame %d ===\n", f.ID)
		fmt.Fprintf(wbuf, "time:   %s\n", f.Time.UTC().Format(time.RFC3339Nano))
		fmt.Fprintf(wbuf, "size:   %dx%d\n", f.Width, f.Height)
		fmt.Fprintf(wbuf, "hits:   % 10d\n", st.hits)
		fmt.Fprintf(wbuf, "sum:    % 10d\n", st.sum)
		fmt.Fprintf(wbuf, "max:    % 10d (x=%d, y=%d)\n", st.max, st.x, st.y)
	}

	return wbuf.Flush()
}

type stats struct {
	hits int    // number of non-zero pixels
	sum  uint64 // sum of all counters
	max  uint16
	x, y int // position of the first maximum
}

func statsOf(f *eformat.Frame) stats {
	var st stats
	for i, v := range f.Pixels {
		if v == 0 {
			continue
		}
		st.hits++
		st.sum += uint64(v)
		if v > st.max {
			st.max = v
			st.x = i % f.Width
			st.y = i / f.Width
		}
	}
	return st
}

func dumpMatrix(w io.Writer, fname, vers string) error {
	v, err := priam.ParseVersion(vers)
	if err != nil {
		return err
	}
	va, err := pixel.VariantOf(v)
	if err != nil {
		return err
	}

	buf, err := os.ReadFile(fname)
	if err != nil {
		return fmt.Errorf("could not read pixel matrix: %w", err)
	}

	pix := make([]uint16, pixel.NumPixels)
	err = pixel.Decode(pix, buf)
	if err != nil {
		return fmt.Errorf("could not decode pixel matrix: %w", err)
	}

	cfg, err := pixel.FromPixels(v, pix)
	if err != nil {
		return fmt.Errorf("could not split pixel matrix: %w", err)
	}

	var (
		masked int
		tested int
		low    = make([]int, 1<<va.NumLow())
		high   = make([]int, 1<<va.NumHigh())
	)
	for i := range cfg.Mask {
		masked += int(cfg.Mask[i])
		tested += int(cfg.Test[i])
		low[cfg.Low[i]]++
		high[cfg.High[i]]++
	}

	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	fmt.Fprintf(wbuf, "=== matrix %s (%v) ===\n", fname, v)
	fmt.Fprintf(wbuf, "masked: % 10d\n", masked)
	fmt.Fprintf(wbuf, "test:   % 10d\n", tested)
	fmt.Fprintf(wbuf, "low:    %v\n", low)
	fmt.Fprintf(wbuf, "high:   %v\n", high)

	return wbuf.Flush()
}
