// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pixel converts per-pixel configuration and counter values from
// and to the bit-sliced wire format of Maxipix chips.
//
// A chip matrix is 256x256 pixels of 14 bits. On the wire, each pixel row
// is a block of 14 bit-planes of 32 bytes; a logical bit k of a pixel is
// carried by the plane stored at byte offset 32*(13-k) within the block.
// Within a plane, byte wcol and bit wbit hold the pixel of column
// 255-(8*wcol+wbit).
package pixel // import "github.com/go-lpc/maxipix/pixel"

import (
	"context"
	"fmt"
	"runtime"

	"github.com/go-lpc/maxipix/priam"
	"golang.org/x/sync/errgroup"
)

const (
	ChipSize  = 256                 // pixels along one chip side
	NumPixels = ChipSize * ChipSize // pixels of one chip
	NumPlanes = 14                  // bit-planes per pixel

	BufferSize = NumPixels * NumPlanes / 8 // size of a bit-sliced matrix

	planeBytes = ChipSize / 8
	rowBytes   = NumPlanes * planeBytes
)

// NoPlane marks an unused slot of a Variant.
const NoPlane = -1

// Variant assigns the logical fields of a pixel configuration to
// bit-planes, for one chip silicon version.
type Variant struct {
	Mask int
	Test int
	Low  [4]int // low threshold bits, LSB first
	High [4]int // high threshold bits, LSB first
}

var variants = [priam.NumVersions]Variant{
	priam.Dummy: {
		Mask: NoPlane, Test: NoPlane,
		Low:  [4]int{NoPlane, NoPlane, NoPlane, NoPlane},
		High: [4]int{NoPlane, NoPlane, NoPlane, NoPlane},
	},
	priam.MPX2: {
		Mask: 0, Test: 7,
		Low:  [4]int{1, 2, 3, NoPlane},
		High: [4]int{4, 5, 6, NoPlane},
	},
	priam.MXR2: {
		Mask: 13, Test: 12,
		Low:  [4]int{11, 10, 9, NoPlane},
		High: [4]int{8, 7, 6, NoPlane},
	},
	priam.TPX1: {
		Mask: 13, Test: 12,
		Low:  [4]int{11, 10, 9, 8},
		High: [4]int{7, 6, NoPlane, NoPlane},
	},
}

// VariantOf returns the plane assignment of the given chip version.
func VariantOf(v priam.Version) (Variant, error) {
	if v >= priam.NumVersions {
		return Variant{}, fmt.Errorf("pixel: invalid chip version %d", uint8(v))
	}
	return variants[v], nil
}

// NumLow returns the number of low threshold bits of the variant.
func (va Variant) NumLow() int { return nbits(va.Low) }

// NumHigh returns the number of high threshold bits of the variant.
func (va Variant) NumHigh() int { return nbits(va.High) }

func nbits(planes [4]int) int {
	n := 0
	for _, p := range planes {
		if p != NoPlane {
			n++
		}
	}
	return n
}

// Config is the flat per-pixel configuration of one chip.
// Each slice holds NumPixels values, indexed by row*ChipSize+col.
type Config struct {
	Mask []byte // 0 or 1
	Test []byte // 0 or 1
	Low  []byte // low threshold adjust
	High []byte // high threshold adjust
}

// NewConfig returns a zeroed configuration.
func NewConfig() *Config {
	return &Config{
		Mask: make([]byte, NumPixels),
		Test: make([]byte, NumPixels),
		Low:  make([]byte, NumPixels),
		High: make([]byte, NumPixels),
	}
}

func (cfg *Config) check() error {
	for _, f := range []struct {
		name string
		v    []byte
	}{
		{"mask", cfg.Mask},
		{"test", cfg.Test},
		{"low", cfg.Low},
		{"high", cfg.High},
	} {
		if len(f.v) != NumPixels {
			return fmt.Errorf("pixel: invalid %s array size (got=%d, want=%d)", f.name, len(f.v), NumPixels)
		}
	}
	return nil
}

func wireOffset(row, plane, wcol int) int {
	return row*rowBytes + planeBytes*(NumPlanes-1-plane) + wcol
}

// Encode serializes cfg into the bit-sliced matrix of a chip of version v.
func Encode(v priam.Version, cfg *Config) ([]byte, error) {
	va, err := VariantOf(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.check(); err != nil {
		return nil, err
	}

	buf := make([]byte, BufferSize)
	set := func(row, plane, wcol int, bit byte) {
		if plane == NoPlane {
			return
		}
		buf[wireOffset(row, plane, wcol)] |= bit
	}

	for row := 0; row < ChipSize; row++ {
		for wcol := 0; wcol < planeBytes; wcol++ {
			for wbit := 0; wbit < 8; wbit++ {
				var (
					col = ChipSize - 1 - (wcol*8 + wbit)
					pix = row*ChipSize + col
					bit = byte(1) << wbit
				)
				if cfg.Mask[pix]&1 != 0 {
					set(row, va.Mask, wcol, bit)
				}
				if cfg.Test[pix]&1 != 0 {
					set(row, va.Test, wcol, bit)
				}
				for i, plane := range va.Low {
					if (cfg.Low[pix]>>i)&1 != 0 {
						set(row, plane, wcol, bit)
					}
				}
				for i, plane := range va.High {
					if (cfg.High[pix]>>i)&1 != 0 {
						set(row, plane, wcol, bit)
					}
				}
			}
		}
	}

	return buf, nil
}

// Decode deserializes a bit-sliced matrix into dst, one 14-bit value per pixel.
// dst is cleared before decoding.
func Decode(dst []uint16, buf []byte) error {
	switch {
	case len(dst) != NumPixels:
		return fmt.Errorf("pixel: invalid destination size (got=%d, want=%d)", len(dst), NumPixels)
	case len(buf) != BufferSize:
		return fmt.Errorf("pixel: invalid matrix size (got=%d, want=%d)", len(buf), BufferSize)
	}

	for i := range dst {
		dst[i] = 0
	}

	for row := 0; row < ChipSize; row++ {
		blk := buf[row*rowBytes : (row+1)*rowBytes]
		for plane := 0; plane < NumPlanes; plane++ {
			var (
				src = blk[plane*planeBytes : (plane+1)*planeBytes]
				val = uint16(1) << (NumPlanes - 1 - plane)
			)
			for wcol, b := range src {
				if b == 0 {
					continue
				}
				for wbit := 0; wbit < 8; wbit++ {
					if b&(1<<wbit) == 0 {
						continue
					}
					col := ChipSize - 1 - (wcol*8 + wbit)
					dst[row*ChipSize+col] |= val
				}
			}
		}
	}
	return nil
}

// FromPixels splits decoded 14-bit pixel values into the configuration
// fields of a chip of version v.
func FromPixels(v priam.Version, pixels []uint16) (*Config, error) {
	va, err := VariantOf(v)
	if err != nil {
		return nil, err
	}
	if len(pixels) != NumPixels {
		return nil, fmt.Errorf("pixel: invalid pixel array size (got=%d, want=%d)", len(pixels), NumPixels)
	}

	get := func(pix uint16, plane int) byte {
		if plane == NoPlane {
			return 0
		}
		return byte(pix>>plane) & 1
	}

	cfg := NewConfig()
	for i, pix := range pixels {
		cfg.Mask[i] = get(pix, va.Mask)
		cfg.Test[i] = get(pix, va.Test)
		for j, plane := range va.Low {
			cfg.Low[i] |= get(pix, plane) << j
		}
		for j, plane := range va.High {
			cfg.High[i] |= get(pix, plane) << j
		}
	}
	return cfg, nil
}

// DecodeChips decodes the matrices of several chips concurrently.
// The first failing chip cancels the decoding of the chips not yet decoded.
func DecodeChips(ctx context.Context, bufs [][]byte) ([][]uint16, error) {
	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(runtime.GOMAXPROCS(0))

	out := make([][]uint16, len(bufs))
	for i := range bufs {
		i := i
		grp.Go(func() error {
			err := ctx.Err()
			if err != nil {
				return err
			}
			pix := make([]uint16, NumPixels)
			err = Decode(pix, bufs[i])
			if err != nil {
				return fmt.Errorf("pixel: could not decode chip %d: %w", i, err)
			}
			out[i] = pix
			return nil
		})
	}
	err := grp.Wait()
	if err != nil {
		return nil, err
	}
	return out, nil
}
