// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package priam

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff"
	"go.bug.st/serial"
)

// Transport is a byte-oriented serial channel.
//
// Read returns fewer bytes than requested (possibly zero) when the
// timeout expires, without an error.
// Write buffers p until a write with flush set to true.
type Transport interface {
	Write(p []byte, flush bool) error
	Read(n int, timeout time.Duration) ([]byte, error)
	Flush() error
	Close() error
}

// timedReader reads at most len(p) bytes, waiting at most timeout.
type timedReader interface {
	readTimeout(p []byte, timeout time.Duration) (int, error)
}

func readDeadline(r timedReader, n int, timeout time.Duration) ([]byte, error) {
	var (
		buf      = make([]byte, n)
		cur      = 0
		deadline = time.Now().Add(timeout)
	)
	for cur < n {
		left := time.Until(deadline)
		if left <= 0 {
			break
		}
		nn, err := r.readTimeout(buf[cur:], left)
		cur += nn
		if err != nil {
			return buf[:cur], err
		}
	}
	return buf[:cur], nil
}

// wbuffer holds the bytes of a pending, not yet flushed, write.
type wbuffer struct {
	p []byte
}

func (wb *wbuffer) push(w io.Writer, p []byte, flush bool) error {
	wb.p = append(wb.p, p...)
	if !flush {
		return nil
	}
	buf := wb.p
	wb.p = wb.p[:0]
	n, err := w.Write(buf)
	switch {
	case err != nil:
		return err
	case n != len(buf):
		return io.ErrShortWrite
	}
	return nil
}

type serialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	ResetOutputBuffer() error
	Drain() error
}

var (
	serialOpen = serialOpenImpl

	// openBackOff is the retry policy used when opening a device.
	openBackOff = func() backoff.BackOff {
		return &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0,
			Multiplier:          2,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      3 * time.Second,
			Clock:               backoff.SystemClock,
		}
	}
)

func serialOpenImpl(name string, mode *serial.Mode) (serialPort, error) {
	return serial.Open(name, mode)
}

// SerialPort is a Transport over a tty device.
type SerialPort struct {
	name string
	port serialPort
	wbuf wbuffer
}

// OpenSerial opens the named serial device with the provided baud rate.
// Busy or transiently unavailable devices are retried with an
// exponential back-off for a few seconds.
func OpenSerial(name string, baud int) (*SerialPort, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	var port serialPort
	op := func() error {
		p, err := serialOpen(name, mode)
		if err != nil {
			var perr *serial.PortError
			if errors.As(err, &perr) {
				switch perr.Code() {
				case serial.PortNotFound, serial.InvalidSerialPort, serial.PermissionDenied:
					return backoff.Permanent(err)
				}
			}
			return err
		}
		port = p
		return nil
	}

	err := backoff.Retry(op, openBackOff())
	if err != nil {
		return nil, fmt.Errorf("priam: could not open serial port %q: %w", name, err)
	}

	dev := &SerialPort{name: name, port: port}
	err = dev.Flush()
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("priam: could not flush serial port %q: %w", name, err)
	}

	return dev, nil
}

func (dev *SerialPort) Write(p []byte, flush bool) error {
	err := dev.wbuf.push(dev.port, p, flush)
	if err != nil {
		return fmt.Errorf("priam: could not write to %q: %w", dev.name, err)
	}
	if !flush {
		return nil
	}
	err = dev.port.Drain()
	if err != nil {
		return fmt.Errorf("priam: could not drain %q: %w", dev.name, err)
	}
	return nil
}

func (dev *SerialPort) Read(n int, timeout time.Duration) ([]byte, error) {
	return readDeadline(dev, n, timeout)
}

func (dev *SerialPort) readTimeout(p []byte, timeout time.Duration) (int, error) {
	err := dev.port.SetReadTimeout(timeout)
	if err != nil {
		return 0, fmt.Errorf("priam: could not set read timeout on %q: %w", dev.name, err)
	}
	n, err := dev.port.Read(p)
	if err != nil {
		return n, fmt.Errorf("priam: could not read from %q: %w", dev.name, err)
	}
	if n == 0 {
		// read timed out.
		return 0, nil
	}
	return n, nil
}

func (dev *SerialPort) Flush() error {
	dev.wbuf.p = dev.wbuf.p[:0]
	err := dev.port.ResetInputBuffer()
	if err != nil {
		return fmt.Errorf("priam: could not reset input buffer of %q: %w", dev.name, err)
	}
	err = dev.port.ResetOutputBuffer()
	if err != nil {
		return fmt.Errorf("priam: could not reset output buffer of %q: %w", dev.name, err)
	}
	return nil
}

func (dev *SerialPort) Close() error {
	return dev.port.Close()
}

var (
	_ Transport = (*SerialPort)(nil)
	_ Transport = (*FTDIPort)(nil)
)
