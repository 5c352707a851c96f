// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xcnv provides tools to convert Maxipix frame files to/from LCIO
// and to FITS.
package xcnv // import "github.com/go-lpc/maxipix/internal/xcnv"

const (
	// Detector is the detector name stored in LCIO run headers and events.
	Detector = "MAXIPIX"

	// Collection is the name of the LCIO collection holding frames.
	Collection = "MPX_FRAME"
)
