// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package eformat describes and handles Maxipix frames stored on disk or
// sent over the wire.
//
// Each frame is a record:
//
//	[0xb4][u32 frame][u16 width][u16 height][u8 bytes-per-pixel]
//	[u64 timestamp (unix nano)][pixels...][0xa3][u16 crc]
//
// All integers are big-endian. The CRC-16/CCITT-FALSE checksum covers all
// the preceding bytes of the record.
package eformat // import "github.com/go-lpc/maxipix/internal/eformat"

import (
	"time"
)

const (
	frHeader  = 0xb4 // frame header marker
	frTrailer = 0xa3 // frame trailer marker

	bytesPerPixel = 2
	headerSize    = 1 + 4 + 2 + 2 + 1 + 8
)

// Frame is one image of an acquisition.
type Frame struct {
	ID     uint32    // frame number within the acquisition
	Width  int       // pixels
	Height int       // pixels
	Time   time.Time // acquisition time
	Pixels []uint16  // row-major counters, Width*Height values
}

// At returns the counter of the pixel at column x, row y.
func (f *Frame) At(x, y int) uint16 {
	return f.Pixels[y*f.Width+x]
}
