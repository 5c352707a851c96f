// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mpx-sql inspects the conditions database of a Maxipix detector
// and optionally exports its latest configuration as a YAML file.
package main // import "github.com/go-lpc/maxipix/cmd/mpx-sql"

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/go-lpc/maxipix/conddb"
	"github.com/go-lpc/maxipix/detector"
)

func main() {
	log.SetPrefix("mpx-sql: ")
	log.SetFlags(0)

	var (
		dbname = flag.String("db", "maxipix", "name of the conditions database")
		oname  = flag.String("o", "", "path to output YAML configuration (optional)")
	)

	flag.Usage = func() {
		fmt.Printf(`Usage: mpx-sql [OPTIONS] detector-name

ex:
 $> mpx-sql id01
 $> mpx-sql -o ./id01.yaml id01

options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		log.Fatalf("missing detector name")
	}

	db, err := conddb.Open(*dbname)
	if err != nil {
		log.Fatalf("could not open Maxipix db: %+v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	name := flag.Arg(0)
	cfg, err := doQuery(ctx, db, name)
	if err != nil {
		log.Fatalf("could not do query: %+v", err)
	}

	ids, err := db.ChipIDs(ctx, name)
	if err != nil {
		log.Fatalf("could not get chip-ids: %+v", err)
	}
	for port, id := range ids {
		if id == "" {
			continue
		}
		log.Printf("port %d: %s", port, id)
	}

	if *oname != "" {
		err = cfg.Save(*oname)
		if err != nil {
			log.Fatalf("could not save configuration: %+v", err)
		}
	}
}

func doQuery(ctx context.Context, db *conddb.DB, name string) (detector.Config, error) {
	det, err := db.DetectorConfig(ctx, name)
	if err != nil {
		return detector.Config{}, fmt.Errorf("could not get detector %q: %w", name, err)
	}
	log.Printf("detector: %q (%s)", det.Name, det.Time.Format(time.RFC3339))
	log.Printf("chips:    %dx%d %v (gaps=%dx%d)", det.ChipsX, det.ChipsY, det.Version, det.GapX, det.GapY)

	cfg := configFrom(det)
	err = cfg.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid configuration for detector %q: %w", name, err)
	}
	return cfg, nil
}

// configFrom builds a detector configuration from a conditions row.
// Readout ports are assigned in chip order.
func configFrom(det conddb.Detector) detector.Config {
	cfg := detector.DefaultConfig()
	cfg.Name = det.Name
	cfg.Version = det.Version.String()
	cfg.Polarity = det.Polarity.String()
	cfg.Frequency = det.Frequency
	cfg.FSR = hex.EncodeToString(det.FSR)
	cfg.Chips = detector.XY{X: det.ChipsX, Y: det.ChipsY}
	cfg.Gaps = detector.XY{X: det.GapX, Y: det.GapY}

	n := det.ChipsX * det.ChipsY
	cfg.Ports = make([]int, n)
	for i := range cfg.Ports {
		cfg.Ports[i] = i
	}
	if n > 1 {
		cfg.Fill = "dispatch"
	}
	return cfg
}
