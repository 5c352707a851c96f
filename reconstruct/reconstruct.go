// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package reconstruct reassembles the raw frames of multi-chip Maxipix
// detectors into images with the physical inter-chip gaps restored.
//
// A raw frame holds the chips side by side: chip c of a frame with n chips
// occupies columns [c*256, (c+1)*256) of a (n*256)x256 image.
package reconstruct // import "github.com/go-lpc/maxipix/reconstruct"

import (
	"fmt"
	"strings"
)

// ChipSize is the number of pixels along one chip side.
const ChipSize = 256

// Model is the chip arrangement of a detector.
type Model uint8

const (
	Model5x1 Model = iota // up to 5 chips along X
	Model2x2              // 4 chips in a square
)

func (m Model) String() string {
	switch m {
	case Model5x1:
		return "5x1"
	case Model2x2:
		return "2x2"
	}
	return fmt.Sprintf("Model(%d)", uint8(m))
}

// Fill is the policy applied to the pixels of inter-chip gaps.
type Fill uint8

const (
	Raw      Fill = iota // gaps are left empty
	Zero                 // gaps and their border pixels are cleared
	Dispatch             // border pixels are spread over the gap
	Mean                 // gaps are interpolated between border pixels
)

var fillNames = [...]string{"raw", "zero", "dispatch", "mean"}

func (f Fill) String() string {
	if int(f) >= len(fillNames) {
		return fmt.Sprintf("Fill(%d)", uint8(f))
	}
	return fillNames[f]
}

// ParseFill parses a gap-fill policy name.
func ParseFill(s string) (Fill, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range fillNames {
		if name == s {
			return Fill(i), nil
		}
	}
	return 0, fmt.Errorf("reconstruct: unknown fill policy %q", s)
}

// Mode selects where the reconstructed image is stored.
type Mode uint8

const (
	Allocate  Mode = iota // return a newly allocated image
	Overwrite             // store the image in the storage of the raw frame
)

// Pixel is the type of the counters of an image.
type Pixel interface {
	~uint16 | ~uint32
}

// MaxGap is the widest inter-chip gap, in pixels.
const MaxGap = ChipSize

// Reconstructor describes the geometry of a detector.
type Reconstructor struct {
	Model Model
	Fill  Fill
	Chips int // chips along X, for Model5x1
	XGap  int // pixels
	YGap  int // pixels, for Model2x2
}

// Validate checks the geometry is consistent.
func (r Reconstructor) Validate() error {
	switch r.Model {
	case Model5x1:
		if r.Chips < 2 || r.Chips > 5 {
			return fmt.Errorf("reconstruct: invalid number of chips %d for model %v (range=[2, 5])", r.Chips, r.Model)
		}
	case Model2x2:
	default:
		return fmt.Errorf("reconstruct: invalid model %v", r.Model)
	}
	if r.Fill > Mean {
		return fmt.Errorf("reconstruct: invalid fill policy %v", r.Fill)
	}
	if r.XGap < 0 || r.YGap < 0 || r.XGap > MaxGap || r.YGap > MaxGap {
		return fmt.Errorf("reconstruct: invalid gaps (x=%d, y=%d, range=[0, %d])", r.XGap, r.YGap, MaxGap)
	}
	return nil
}

func (r Reconstructor) nchips() int {
	if r.Model == Model2x2 {
		return 4
	}
	return r.Chips
}

// RawSize returns the dimensions of the raw frames.
func (r Reconstructor) RawSize() (w, h int) {
	return r.nchips() * ChipSize, ChipSize
}

// Size returns the dimensions of the reconstructed images.
func (r Reconstructor) Size() (w, h int) {
	switch r.Model {
	case Model2x2:
		return 2 * (ChipSize + r.XGap), 2 * (ChipSize + r.YGap)
	default:
		return r.Chips*ChipSize + (r.Chips-1)*r.XGap, ChipSize
	}
}

// Process reconstructs the raw frame src.
//
// With Allocate, the image is returned in a new slice and src is left
// untouched. With Overwrite, the image is copied back into the storage of
// src, which must have the capacity to hold it, and src[:w*h] is returned.
func Process[T Pixel](r Reconstructor, src []T, mode Mode) ([]T, error) {
	err := r.Validate()
	if err != nil {
		return nil, err
	}
	if mode > Overwrite {
		return nil, fmt.Errorf("reconstruct: invalid mode %d", mode)
	}

	rw, rh := r.RawSize()
	if len(src) != rw*rh {
		return nil, fmt.Errorf("reconstruct: invalid raw frame size (got=%d, want=%d)", len(src), rw*rh)
	}

	w, h := r.Size()
	if mode == Overwrite && cap(src) < w*h {
		return nil, fmt.Errorf("reconstruct: raw frame storage too small (cap=%d, want=%d)", cap(src), w*h)
	}

	dst := make([]T, w*h)
	switch r.Model {
	case Model5x1:
		linear(r, dst, src)
	case Model2x2:
		square(r, dst, src)
	}

	if mode == Allocate {
		return dst, nil
	}
	src = src[:w*h]
	copy(src, dst)
	return src, nil
}

func linear[T Pixel](r Reconstructor, dst, src []T) {
	var (
		n     = r.Chips
		g     = r.XGap
		rw    = n * ChipSize
		w, _  = r.Size()
		pitch = ChipSize + g
	)
	for y := 0; y < ChipSize; y++ {
		line := dst[y*w : (y+1)*w]
		raw := src[y*rw : (y+1)*rw]
		for c := 0; c < n; c++ {
			copy(line[c*pitch:c*pitch+ChipSize], raw[c*ChipSize:(c+1)*ChipSize])
		}
		for c := 0; c < n-1; c++ {
			fill(r.Fill, line, 1, c*pitch+ChipSize-1, g)
		}
	}
}

// square places the chips of a 2x2 detector: chips 0 and 1 on the left
// column (top, bottom), chips 3 and 2 on the right column (top, bottom),
// the right ones rotated by 180 degrees.
func square[T Pixel](r Reconstructor, dst, src []T) {
	var (
		rw   = 4 * ChipSize
		w, _ = r.Size()
		x0   = ChipSize + 2*r.XGap
		y0   = ChipSize + 2*r.YGap
	)

	for y := 0; y < ChipSize; y++ {
		var (
			top = dst[y*w : (y+1)*w]
			bot = dst[(y0+y)*w : (y0+y+1)*w]
			rev = ChipSize - 1 - y
		)
		copy(top[:ChipSize], chipRow(src, rw, 0, y))
		copy(bot[:ChipSize], chipRow(src, rw, 1, y))
		for x, v := range chipRow(src, rw, 3, rev) {
			top[x0+ChipSize-1-x] = v
		}
		for x, v := range chipRow(src, rw, 2, rev) {
			bot[x0+ChipSize-1-x] = v
		}
	}

	switch r.Fill {
	case Raw, Mean:
		return
	}

	gx := 2 * r.XGap
	for _, y := range rowsOf(y0) {
		fill(r.Fill, dst[y*w:(y+1)*w], 1, ChipSize-1, gx)
	}

	gy := 2 * r.YGap
	for x := 0; x < w; x++ {
		fill(r.Fill, dst[x:], w, ChipSize-1, gy)
	}
}

func chipRow[T Pixel](src []T, rw, chip, y int) []T {
	beg := y*rw + chip*ChipSize
	return src[beg : beg+ChipSize]
}

// rowsOf returns the image rows holding chip pixels.
func rowsOf(y0 int) []int {
	rows := make([]int, 0, 2*ChipSize)
	for y := 0; y < ChipSize; y++ {
		rows = append(rows, y)
	}
	for y := 0; y < ChipSize; y++ {
		rows = append(rows, y0+y)
	}
	return rows
}

// fill applies the policy f to a gap of g pixels of the line v.
// Pixel i of the line is v[i*stride]; p is the last pixel before the gap.
func fill[T Pixel](f Fill, v []T, stride, p, g int) {
	at := func(i int) *T { return &v[(p+i)*stride] }

	switch f {
	case Raw:
	case Zero:
		for i := 0; i < g+2; i++ {
			*at(i) = 0
		}
	case Dispatch:
		var (
			d  = T(g/2 + 1)
			vl = *at(0) / d
			vr = *at(g + 1) / d
		)
		for i := 0; i <= g/2; i++ {
			*at(i) = vl
			*at(g + 1 - i) = vr
		}
	case Mean:
		var (
			d  = int64(g/2 + 1)
			vl = int64(*at(0)) / d
			vr = int64(*at(g + 1)) / d
			n  = int64(g + 1)
		)
		for i := 0; i <= g+1; i++ {
			*at(i) = T(vl + (vr-vl)*int64(i)/n)
		}
	}
}
