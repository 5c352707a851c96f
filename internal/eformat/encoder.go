// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package eformat

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/snksoft/crc"
)

// Encoder writes frames to an output stream.
// Encoder computes the CRC-16 checksum of each record on the fly and
// appends it at the end of the record.
type Encoder struct {
	w   io.Writer
	buf []byte
	err error
	crc *crc.Hash
}

// NewEncoder returns a new Encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w:   w,
		buf: make([]byte, 8),
		crc: crc.NewHash(crc.CCITT),
	}
}

func (enc *Encoder) crcw(p []byte) {
	enc.crc.Update(p)
}

// Encode writes the frame to the stream.
func (enc *Encoder) Encode(f *Frame) error {
	if enc.err != nil {
		return enc.err
	}
	switch {
	case f.Width <= 0 || f.Width > 0xffff || f.Height <= 0 || f.Height > 0xffff:
		return fmt.Errorf("eformat: invalid frame dimensions %dx%d", f.Width, f.Height)
	case len(f.Pixels) != f.Width*f.Height:
		return fmt.Errorf(
			"eformat: invalid number of pixels (got=%d, want=%d)",
			len(f.Pixels), f.Width*f.Height,
		)
	}

	enc.crc.Reset()

	enc.writeU8(frHeader)
	enc.writeU32(f.ID)
	enc.writeU16(uint16(f.Width))
	enc.writeU16(uint16(f.Height))
	enc.writeU8(bytesPerPixel)
	enc.writeU64(uint64(f.Time.UnixNano()))
	if enc.err != nil {
		return fmt.Errorf("eformat: could not write frame header: %w", enc.err)
	}

	enc.reserve(len(f.Pixels) * bytesPerPixel)
	pix := enc.buf[:len(f.Pixels)*bytesPerPixel]
	for i, v := range f.Pixels {
		binary.BigEndian.PutUint16(pix[2*i:], v)
	}
	enc.write(pix)
	if enc.err != nil {
		return fmt.Errorf("eformat: could not write frame pixels: %w", enc.err)
	}

	enc.writeU8(frTrailer)
	enc.writeU16(enc.crc.CRC16())
	if enc.err != nil {
		return fmt.Errorf("eformat: could not write frame trailer: %w", enc.err)
	}

	return nil
}

func (enc *Encoder) write(p []byte) {
	if enc.err != nil {
		return
	}
	_, enc.err = enc.w.Write(p)
	enc.crcw(p)
}

func (enc *Encoder) writeU8(v uint8) {
	const n = 1
	enc.reserve(n)
	enc.buf[0] = v
	enc.write(enc.buf[:n])
}

func (enc *Encoder) writeU16(v uint16) {
	const n = 2
	enc.reserve(n)
	binary.BigEndian.PutUint16(enc.buf[:n], v)
	enc.write(enc.buf[:n])
}

func (enc *Encoder) writeU32(v uint32) {
	const n = 4
	enc.reserve(n)
	binary.BigEndian.PutUint32(enc.buf[:n], v)
	enc.write(enc.buf[:n])
}

func (enc *Encoder) writeU64(v uint64) {
	const n = 8
	enc.reserve(n)
	binary.BigEndian.PutUint64(enc.buf[:n], v)
	enc.write(enc.buf[:n])
}

func (enc *Encoder) reserve(n int) {
	if cap(enc.buf) < n {
		enc.buf = append(enc.buf[:len(enc.buf)], make([]byte, n-len(enc.buf))...)
	}
	enc.buf = enc.buf[:cap(enc.buf)]
}
