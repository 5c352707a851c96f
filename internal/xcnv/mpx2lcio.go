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

	"github.com/go-lpc/maxipix/internal/eformat"
	"go-hep.org/x/hep/lcio"
)

// i32s layout of a frame: [frame-id, width, height, pixels...]
const i32Header = 3

// MPX2LCIO converts all the frames read from dec into LCIO events.
// The run header is written with the dimensions of the first frame.
func MPX2LCIO(w *lcio.Writer, dec *eformat.Decoder, run int32, msg *log.Logger) error {
	raw := &lcio.GenericObject{
		Data: []lcio.GenericObjectData{
			{I32s: nil},
		},
	}

	var f eformat.Frame
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
			err = w.WriteRunHeader(&lcio.RunHeader{
				RunNumber: run,
				Detector:  Detector,
				Descr:     "",
				Params: lcio.Params{
					Ints: map[string][]int32{
						"Width":  {int32(f.Width)},
						"Height": {int32(f.Height)},
					},
				},
			})
			if err != nil {
				return fmt.Errorf("could not write run header: %w", err)
			}
		}

		evt := lcio.Event{
			RunNumber:   run,
			EventNumber: int32(i),
			TimeStamp:   f.Time.UnixNano(),
			Detector:    Detector,
		}
		raw.Data[0].I32s = i32sFrom(raw.Data[0].I32s, &f)
		evt.Add(Collection, raw)

		err = w.WriteEvent(&evt)
		if err != nil {
			return fmt.Errorf("could not write frame %d event: %w", f.ID, err)
		}
	}

	return nil
}

func i32sFrom(dst []int32, f *eformat.Frame) []int32 {
	n := i32Header + len(f.Pixels)
	if cap(dst) < n {
		dst = make([]int32, n)
	}
	dst = dst[:n]
	dst[0] = int32(f.ID)
	dst[1] = int32(f.Width)
	dst[2] = int32(f.Height)
	for i, v := range f.Pixels {
		dst[i32Header+i] = int32(v)
	}
	return dst
}

func frameFrom(f *eformat.Frame, evt *lcio.Event) error {
	obj, ok := evt.Get(Collection).(*lcio.GenericObject)
	if !ok || len(obj.Data) == 0 {
		return fmt.Errorf("no %q collection in event %d", Collection, evt.EventNumber)
	}
	raw := obj.Data[0].I32s
	if len(raw) < i32Header {
		return fmt.Errorf("invalid %q payload size %d", Collection, len(raw))
	}

	f.ID = uint32(raw[0])
	f.Width = int(raw[1])
	f.Height = int(raw[2])
	f.Time = time.Unix(0, evt.TimeStamp).UTC()

	pix := raw[i32Header:]
	if len(pix) != f.Width*f.Height {
		return fmt.Errorf(
			"invalid number of pixels in frame %d (got=%d, want=%d)",
			f.ID, len(pix), f.Width*f.Height,
		)
	}
	if cap(f.Pixels) < len(pix) {
		f.Pixels = make([]uint16, len(pix))
	}
	f.Pixels = f.Pixels[:len(pix)]
	for i, v := range pix {
		f.Pixels[i] = uint16(v)
	}
	return nil
}
