// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package detector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-lpc/maxipix/internal/eformat"
	"github.com/go-lpc/maxipix/internal/mmap"
)

// FrameSource provides the raw frames of an acquisition.
//
// Next returns io.EOF when no more frame will be produced.
type FrameSource interface {
	Next(ctx context.Context, f *eformat.Frame) error
	Close() error
}

// Replay is a frame source reading back raw frames from a memory-mapped
// frame file.
type Replay struct {
	h    *mmap.Reader
	dec  *eformat.Decoder
	rate time.Duration
	loop bool
	n    int
}

// OpenReplay opens the named frame file.
// Frames are delivered at most every rate, and the file is rewound at
// its end when loop is set.
func OpenReplay(fname string, rate time.Duration, loop bool) (*Replay, error) {
	h, err := mmap.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("detector: could not open replay file: %w", err)
	}
	src := &Replay{
		h:    h,
		rate: rate,
		loop: loop,
	}
	src.rewind()
	return src, nil
}

func (src *Replay) rewind() {
	src.dec = eformat.NewDecoder(io.NewSectionReader(src.h, 0, int64(src.h.Len())))
}

// Next decodes the next frame.
func (src *Replay) Next(ctx context.Context, f *eformat.Frame) error {
	if src.rate > 0 {
		timer := time.NewTimer(src.rate)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	err := src.dec.Decode(f)
	if errors.Is(err, io.EOF) && src.loop && src.n > 0 {
		src.rewind()
		err = src.dec.Decode(f)
	}
	switch {
	case errors.Is(err, io.EOF):
		return io.EOF
	case err != nil:
		return fmt.Errorf("detector: could not decode replay frame %d: %w", src.n, err)
	}
	src.n++
	return nil
}

// Close unmaps the frame file.
func (src *Replay) Close() error {
	return src.h.Close()
}
