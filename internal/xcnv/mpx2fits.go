// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xcnv

import (
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/go-lpc/maxipix/internal/eformat"
)

// MPX2FITS converts all the frames read from dec into a FITS file.
// Frames are stored as one 16-bit image (a cube when there is more than
// one frame); counters are offset with BZERO=32768.
// All frames must have the same dimensions.
func MPX2FITS(w io.Writer, dec *eformat.Decoder, meta []fitsio.Card, msg *log.Logger) error {
	var (
		pix    []int16
		first  eformat.Frame
		f      eformat.Frame
		n      int
		width  int
		height int
	)

loop:
	for i := 0; ; i++ {
		if i%100 == 0 {
			msg.Printf("processing frame %d...", i)
		}
		err := dec.Decode(&f)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break loop
			}
			return fmt.Errorf("could not decode frame: %w", err)
		}
		if i == 0 {
			width, height = f.Width, f.Height
			first = f
		}
		if f.Width != width || f.Height != height {
			return fmt.Errorf(
				"frame %d has dimensions %dx%d (want=%dx%d)",
				f.ID, f.Width, f.Height, width, height,
			)
		}
		for _, v := range f.Pixels {
			pix = append(pix, int16(v-32768))
		}
		n++
	}

	if n == 0 {
		return fmt.Errorf("no frame to convert")
	}

	fits, err := fitsio.Create(w)
	if err != nil {
		return fmt.Errorf("could not create FITS file: %w", err)
	}
	defer fits.Close()

	dims := []int{width, height}
	if n > 1 {
		dims = append(dims, n)
	}
	img := fitsio.NewImage(16, dims)
	defer img.Close()

	cards := []fitsio.Card{
		{Name: "BZERO", Value: 32768},
		{Name: "BSCALE", Value: 1.0},
		{Name: "DETECTOR", Value: Detector, Comment: "detector type"},
		{Name: "NFRAMES", Value: n, Comment: "number of frames"},
		{Name: "FRAME0", Value: int(first.ID), Comment: "first frame number"},
		{Name: "DATE-OBS", Value: first.Time.Format(time.RFC3339Nano), Comment: "first frame time"},
	}
	err = img.Header().Append(append(cards, meta...)...)
	if err != nil {
		return fmt.Errorf("could not append FITS header cards: %w", err)
	}

	err = img.Write(pix)
	if err != nil {
		return fmt.Errorf("could not write FITS image: %w", err)
	}

	err = fits.Write(img)
	if err != nil {
		return fmt.Errorf("could not write FITS HDU: %w", err)
	}

	err = fits.Close()
	if err != nil {
		return fmt.Errorf("could not close FITS file: %w", err)
	}

	return nil
}
