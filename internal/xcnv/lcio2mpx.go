// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xcnv

import (
	"fmt"
	"io"
	"log"

	"github.com/go-lpc/maxipix/internal/eformat"
	"go-hep.org/x/hep/lcio"
)

// LCIO2MPX converts the LCIO events read from r back into frame records.
func LCIO2MPX(w io.Writer, r *lcio.Reader, freq int, msg *log.Logger) error {
	var (
		enc = eformat.NewEncoder(w)
		i   = 0
		f   eformat.Frame
	)

	for r.Next() {
		if i%freq == 0 {
			msg.Printf("processing evt %d...", i)
		}
		evt := r.Event()
		err := frameFrom(&f, &evt)
		if err != nil {
			return fmt.Errorf("could not decode event %d: %w", i, err)
		}
		err = enc.Encode(&f)
		if err != nil {
			return fmt.Errorf("could not re-encode frame %d: %w", f.ID, err)
		}
		i++
	}

	if err := r.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("could not read LCIO events: %w", err)
	}

	return nil
}
