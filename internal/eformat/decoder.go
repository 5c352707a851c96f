// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package eformat

import (
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/snksoft/crc"
	"golang.org/x/xerrors"
)

// Decoder reads and validates frames from an underlying data source.
type Decoder struct {
	r   io.Reader
	buf []byte
	err error
	crc *crc.Hash
}

// NewDecoder creates a decoder that reads and validates frames from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:   r,
		buf: make([]byte, headerSize),
		crc: crc.NewHash(crc.CCITT),
	}
}

// Decode reads the next frame.
// Decode returns io.EOF when the stream ends on a record boundary.
func (dec *Decoder) Decode(f *Frame) error {
	if dec.err != nil {
		return dec.err
	}
	dec.crc.Reset()

	hdr := dec.buf[:headerSize]
	n, err := io.ReadFull(dec.r, hdr)
	switch {
	case errors.Is(err, io.EOF) && n == 0:
		dec.err = io.EOF
		return io.EOF
	case err != nil:
		dec.err = err
		if errors.Is(err, io.EOF) {
			dec.err = io.ErrUnexpectedEOF
		}
		return xerrors.Errorf("eformat: could not read frame header: %w", dec.err)
	}
	dec.crcw(hdr)

	if hdr[0] != frHeader {
		dec.err = xerrors.Errorf("eformat: invalid frame header marker (got=0x%x, want=0x%x)", hdr[0], frHeader)
		return dec.err
	}
	if bpp := hdr[9]; bpp != bytesPerPixel {
		dec.err = xerrors.Errorf("eformat: unsupported bytes-per-pixel %d", bpp)
		return dec.err
	}

	f.ID = binary.BigEndian.Uint32(hdr[1:5])
	f.Width = int(binary.BigEndian.Uint16(hdr[5:7]))
	f.Height = int(binary.BigEndian.Uint16(hdr[7:9]))
	f.Time = time.Unix(0, int64(binary.BigEndian.Uint64(hdr[10:18]))).UTC()

	npix := f.Width * f.Height
	dec.reserve(npix * bytesPerPixel)
	raw := dec.buf[:npix*bytesPerPixel]
	dec.read(raw)
	if dec.err != nil {
		return xerrors.Errorf("eformat: could not read frame %d pixels: %w", f.ID, dec.err)
	}
	dec.crcw(raw)

	if cap(f.Pixels) < npix {
		f.Pixels = make([]uint16, npix)
	}
	f.Pixels = f.Pixels[:npix]
	for i := range f.Pixels {
		f.Pixels[i] = binary.BigEndian.Uint16(raw[2*i:])
	}

	trailer := dec.buf[:3]
	dec.read(trailer)
	if dec.err != nil {
		return xerrors.Errorf("eformat: could not read frame %d trailer: %w", f.ID, dec.err)
	}
	if trailer[0] != frTrailer {
		dec.err = xerrors.Errorf("eformat: invalid frame %d trailer marker (got=0x%x, want=0x%x)", f.ID, trailer[0], frTrailer)
		return dec.err
	}
	dec.crcw(trailer[:1])

	var (
		comp = dec.crc.CRC16()
		recv = binary.BigEndian.Uint16(trailer[1:])
	)
	if comp != recv {
		dec.err = xerrors.Errorf("eformat: frame %d inconsistent CRC: recv=0x%04x comp=0x%04x", f.ID, recv, comp)
		return dec.err
	}

	return nil
}

func (dec *Decoder) crcw(p []byte) {
	dec.crc.Update(p)
}

func (dec *Decoder) read(p []byte) {
	if dec.err != nil {
		return
	}
	_, dec.err = io.ReadFull(dec.r, p)
	if errors.Is(dec.err, io.EOF) {
		dec.err = io.ErrUnexpectedEOF
	}
}

func (dec *Decoder) reserve(n int) {
	if cap(dec.buf) < n {
		dec.buf = append(dec.buf[:len(dec.buf)], make([]byte, n-len(dec.buf))...)
	}
	dec.buf = dec.buf[:cap(dec.buf)]
}
