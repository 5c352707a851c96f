// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mpx2fits converts a Maxipix frame file into a FITS image.
package main // import "github.com/go-lpc/maxipix/cmd/mpx2fits"

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/astrogo/fitsio"
	"github.com/go-lpc/maxipix/detector"
	"github.com/go-lpc/maxipix/internal/eformat"
	"github.com/go-lpc/maxipix/internal/xcnv"
	"github.com/go-lpc/maxipix/priam"
)

var (
	msg = log.New(os.Stdout, "mpx2fits: ", 0)
)

func main() {
	var (
		oname = flag.String("o", "out.fits", "path to output FITS file")
		cfg   = flag.String("cfg", "", "path to detector configuration file (optional)")
	)

	flag.Usage = func() {
		fmt.Printf(`Usage: mpx2fits [OPTIONS] file.raw

ex:
 $> mpx2fits -o out.fits ./mpx_042.000.raw
 $> mpx2fits -o out.fits -cfg ./id01-5x1.yaml ./mpx_042.000.raw

options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		msg.Fatalf("missing input frame file")
	}

	if *oname == "" {
		flag.Usage()
		msg.Fatalf("invalid output FITS file name")
	}

	var meta []fitsio.Card
	if *cfg != "" {
		c, err := detector.LoadConfig(*cfg)
		if err != nil {
			msg.Fatalf("could not load configuration: %+v", err)
		}
		meta, err = cardsFrom(c)
		if err != nil {
			msg.Fatalf("could not build FITS header: %+v", err)
		}
	}

	err := process(*oname, flag.Arg(0), meta)
	if err != nil {
		msg.Fatalf("could not convert frame file: %+v", err)
	}
}

// cardsFrom describes the detector configured by cfg with FITS header cards.
func cardsFrom(cfg detector.Config) ([]fitsio.Card, error) {
	v, err := priam.ParseVersion(cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("could not parse chip version: %w", err)
	}
	geom := detector.Geometry{
		ChipsX: cfg.Chips.X,
		ChipsY: cfg.Chips.Y,
		GapX:   cfg.Gaps.X,
		GapY:   cfg.Gaps.Y,
	}
	return []fitsio.Card{
		{Name: "DETNAME", Value: cfg.Name, Comment: "detector name"},
		{Name: "MODEL", Value: geom.ModelName(v), Comment: "detector model"},
		{Name: "EXPTIME", Value: cfg.Acq.Expo, Comment: "exposure time (" + cfg.TimeUnit + ")"},
		{Name: "TRIGGER", Value: cfg.Acq.Trigger, Comment: "trigger mode"},
	}, nil
}

func process(oname, fname string, meta []fitsio.Card) error {
	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open frame file: %w", err)
	}
	defer f.Close()

	o, err := os.Create(oname)
	if err != nil {
		return fmt.Errorf("could not create output FITS file: %w", err)
	}
	defer o.Close()

	w := bufio.NewWriter(o)
	err = xcnv.MPX2FITS(w, eformat.NewDecoder(bufio.NewReader(f)), meta, msg)
	if err != nil {
		return fmt.Errorf("could not convert frames to FITS: %w", err)
	}

	err = w.Flush()
	if err != nil {
		return fmt.Errorf("could not flush output FITS file: %w", err)
	}

	err = o.Close()
	if err != nil {
		return fmt.Errorf("could not close output FITS file: %w", err)
	}

	return nil
}
