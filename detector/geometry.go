// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package detector

import (
	"fmt"
	"strings"

	"github.com/go-lpc/maxipix/priam"
	"github.com/go-lpc/maxipix/reconstruct"
)

const (
	// Type is the detector type reported to acquisition frameworks.
	Type = "Maxipix"

	// PixelSize is the side of a pixel, in µm.
	PixelSize = 55.0
)

// Geometry is the chip layout of a detector.
type Geometry struct {
	ChipsX int
	ChipsY int
	GapX   int // pixels
	GapY   int // pixels
	Fill   reconstruct.Fill
}

// NumChips returns the number of chips of the layout.
func (g Geometry) NumChips() int {
	if g.ChipsX < 1 || g.ChipsY < 1 {
		return 0
	}
	return g.ChipsX * g.ChipsY
}

// Model returns the reconstruction model matching the layout.
// Only 2x2 squares and linear layouts of 2 to 5 chips have one.
func (g Geometry) Model() (reconstruct.Model, error) {
	switch {
	case g.ChipsX == 2 && g.ChipsY == 2:
		return reconstruct.Model2x2, nil
	case g.ChipsY == 1 && g.ChipsX >= 2 && g.ChipsX <= 5:
		return reconstruct.Model5x1, nil
	}
	return 0, &priam.Error{
		Kind: priam.KindUnsupported,
		Op:   "reconstruction",
		Msg:  fmt.Sprintf("no reconstruction model for %dx%d chips", g.ChipsX, g.ChipsY),
	}
}

// NeedReconstruction reports whether raw frames must be reconstructed
// before being handed out.
func (g Geometry) NeedReconstruction() bool {
	if g.NumChips() <= 1 {
		return false
	}
	m, err := g.Model()
	if err != nil {
		return false
	}
	return m == reconstruct.Model2x2 || g.GapX > 0
}

// Reconstructor returns the reconstructor of the layout.
func (g Geometry) Reconstructor() (reconstruct.Reconstructor, error) {
	m, err := g.Model()
	if err != nil {
		return reconstruct.Reconstructor{}, err
	}
	r := reconstruct.Reconstructor{
		Model: m,
		Fill:  g.Fill,
		Chips: g.ChipsX,
		XGap:  g.GapX,
	}
	if m == reconstruct.Model2x2 {
		r.YGap = g.GapY
	}
	return r, r.Validate()
}

// RawSize returns the dimensions of the frames sent by the board:
// all chips side by side.
func (g Geometry) RawSize() (w, h int) {
	return g.NumChips() * reconstruct.ChipSize, reconstruct.ChipSize
}

// ImageSize returns the dimensions of the images handed out.
func (g Geometry) ImageSize() (w, h int) {
	if !g.NeedReconstruction() {
		return g.RawSize()
	}
	r, err := g.Reconstructor()
	if err != nil {
		return g.RawSize()
	}
	return r.Size()
}

// ModelName returns the model string of a detector made of chips of
// version v, e.g. "MXR2 5x1".
func (g Geometry) ModelName(v priam.Version) string {
	return fmt.Sprintf("%s %dx%d", strings.ToUpper(v.String()), g.ChipsX, g.ChipsY)
}

// Process turns the raw frame src into an image.
func (g Geometry) Process(src []uint16, mode reconstruct.Mode) ([]uint16, error) {
	w, h := g.RawSize()
	if len(src) != w*h {
		return nil, fmt.Errorf("detector: invalid raw frame size (got=%d, want=%d)", len(src), w*h)
	}
	if !g.NeedReconstruction() {
		if mode == reconstruct.Allocate {
			return append([]uint16(nil), src...), nil
		}
		return src, nil
	}
	r, err := g.Reconstructor()
	if err != nil {
		return nil, err
	}
	return reconstruct.Process(r, src, mode)
}
