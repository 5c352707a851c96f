// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package priam

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"reflect"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/ziutek/ftdi"
	"go.bug.st/serial"
)

type fakePort struct {
	w       bytes.Buffer
	r       []byte
	chunk   int // max bytes per read
	drains  int
	resets  int
	closed  bool
	timeout time.Duration
	rerr    error
}

func (p *fakePort) Read(b []byte) (int, error) {
	if p.rerr != nil {
		return 0, p.rerr
	}
	n := len(b)
	if p.chunk > 0 && n > p.chunk {
		n = p.chunk
	}
	if n > len(p.r) {
		n = len(p.r)
	}
	copy(b, p.r[:n])
	p.r = p.r[n:]
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error)          { return p.w.Write(b) }
func (p *fakePort) Close() error                         { p.closed = true; return nil }
func (p *fakePort) SetReadTimeout(t time.Duration) error { p.timeout = t; return nil }
func (p *fakePort) ResetInputBuffer() error              { p.resets++; return nil }
func (p *fakePort) ResetOutputBuffer() error             { p.resets++; return nil }
func (p *fakePort) Drain() error                         { p.drains++; return nil }

func withFakeSerial(t *testing.T, open func(name string, mode *serial.Mode) (serialPort, error)) {
	t.Helper()
	origOpen := serialOpen
	origBackOff := openBackOff
	serialOpen = open
	openBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
	}
	t.Cleanup(func() {
		serialOpen = origOpen
		openBackOff = origBackOff
	})
}

func TestOpenSerial(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		port := &fakePort{}
		withFakeSerial(t, func(name string, mode *serial.Mode) (serialPort, error) {
			if name != "/dev/ttyS0" {
				return nil, fmt.Errorf("invalid name %q", name)
			}
			if mode.BaudRate != 115200 || mode.DataBits != 8 {
				return nil, fmt.Errorf("invalid mode %+v", *mode)
			}
			return port, nil
		})

		dev, err := OpenSerial("/dev/ttyS0", 115200)
		if err != nil {
			t.Fatalf("could not open serial port: %+v", err)
		}
		if port.resets != 2 {
			t.Fatalf("invalid number of buffer resets: got=%d, want=2", port.resets)
		}
		err = dev.Close()
		if err != nil || !port.closed {
			t.Fatalf("could not close serial port: %+v", err)
		}
	})

	t.Run("busy", func(t *testing.T) {
		var (
			port  = &fakePort{}
			calls = 0
		)
		withFakeSerial(t, func(name string, mode *serial.Mode) (serialPort, error) {
			calls++
			if calls < 3 {
				return nil, &serial.PortError{}
			}
			return port, nil
		})

		_, err := OpenSerial("/dev/ttyS0", 115200)
		if err != nil {
			t.Fatalf("could not open busy serial port: %+v", err)
		}
		if calls != 3 {
			t.Fatalf("invalid number of attempts: got=%d, want=3", calls)
		}
	})

	t.Run("busy-forever", func(t *testing.T) {
		calls := 0
		withFakeSerial(t, func(name string, mode *serial.Mode) (serialPort, error) {
			calls++
			return nil, &serial.PortError{}
		})
		_, err := OpenSerial("/dev/ttyS0", 115200)
		if err == nil {
			t.Fatalf("expected an error")
		}
		if calls != 4 {
			t.Fatalf("invalid number of attempts: got=%d, want=4", calls)
		}
	})
}

func TestSerialPortIO(t *testing.T) {
	port := &fakePort{
		r:     []byte{0x92, 0x42, 0xff, 0x01},
		chunk: 1,
	}
	dev := &SerialPort{name: "fake", port: port}

	err := dev.Write([]byte{0x12}, false)
	if err != nil {
		t.Fatalf("could not write: %+v", err)
	}
	if port.w.Len() != 0 || port.drains != 0 {
		t.Fatalf("unflushed write reached the device")
	}
	err = dev.Write([]byte{0x42}, true)
	if err != nil {
		t.Fatalf("could not write: %+v", err)
	}
	if got, want := port.w.Bytes(), []byte{0x12, 0x42}; !bytes.Equal(got, want) {
		t.Fatalf("invalid written bytes: got=%x, want=%x", got, want)
	}
	if port.drains != 1 {
		t.Fatalf("invalid number of drains: got=%d, want=1", port.drains)
	}

	got, err := dev.Read(3, time.Second)
	if err != nil {
		t.Fatalf("could not read: %+v", err)
	}
	if want := []byte{0x92, 0x42, 0xff}; !bytes.Equal(got, want) {
		t.Fatalf("invalid read bytes: got=%x, want=%x", got, want)
	}
	if port.timeout <= 0 || port.timeout > time.Second {
		t.Fatalf("invalid read timeout: %v", port.timeout)
	}

	// short read: the device has fewer bytes than requested.
	got, err = dev.Read(4, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("could not read: %+v", err)
	}
	if want := []byte{0x01}; !bytes.Equal(got, want) {
		t.Fatalf("invalid short read: got=%x, want=%x", got, want)
	}

	port.rerr = io.ErrUnexpectedEOF
	_, err = dev.Read(1, time.Second)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("invalid error: %+v", err)
	}

	err = dev.Write([]byte{0x1f}, false)
	if err != nil {
		t.Fatalf("could not write: %+v", err)
	}
	err = dev.Flush()
	if err != nil {
		t.Fatalf("could not flush: %+v", err)
	}
	if len(dev.wbuf.p) != 0 {
		t.Fatalf("pending bytes survived flush: %x", dev.wbuf.p)
	}
}

type shortWriter struct{}

func (shortWriter) Write(p []byte) (int, error) { return len(p) / 2, nil }

func TestWBuffer(t *testing.T) {
	var (
		wb  wbuffer
		out bytes.Buffer
	)
	for _, p := range [][]byte{{1}, {2, 3}, {4}} {
		err := wb.push(&out, p, false)
		if err != nil {
			t.Fatalf("could not push: %+v", err)
		}
	}
	if out.Len() != 0 {
		t.Fatalf("unflushed bytes written")
	}
	err := wb.push(&out, []byte{5}, true)
	if err != nil {
		t.Fatalf("could not flush: %+v", err)
	}
	if got, want := out.Bytes(), []byte{1, 2, 3, 4, 5}; !bytes.Equal(got, want) {
		t.Fatalf("invalid output: got=%x, want=%x", got, want)
	}
	if len(wb.p) != 0 {
		t.Fatalf("pending bytes after flush: %x", wb.p)
	}

	err = wb.push(shortWriter{}, []byte{1, 2}, true)
	if !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("invalid error: %+v", err)
	}
}

type fakeFTDI struct {
	fakePort
	calls []string
	baud  int
	fail  string
}

func (f *fakeFTDI) call(name string) error {
	f.calls = append(f.calls, name)
	if name == f.fail {
		return fmt.Errorf("%s failed", name)
	}
	return nil
}

func (f *fakeFTDI) Reset() error { return f.call("reset") }
func (f *fakeFTDI) SetBaudrate(br int) error {
	f.baud = br
	return f.call("baudrate")
}
func (f *fakeFTDI) SetBitmode(iomask byte, mode ftdi.Mode) error { return f.call("bitmode") }
func (f *fakeFTDI) SetFlowControl(ctrl ftdi.FlowCtrl) error      { return f.call("flowctrl") }
func (f *fakeFTDI) SetLatencyTimer(lt int) error                 { return f.call("latency") }
func (f *fakeFTDI) SetWriteChunkSize(cs int) error               { return f.call("wchunk") }
func (f *fakeFTDI) SetReadChunkSize(cs int) error                { return f.call("rchunk") }
func (f *fakeFTDI) PurgeBuffers() error                          { return f.call("purge") }

func TestOpenFTDI(t *testing.T) {
	origOpen := ftdiOpen
	origBackOff := openBackOff
	origPoll := ftdiPoll
	defer func() {
		ftdiOpen = origOpen
		openBackOff = origBackOff
		ftdiPoll = origPoll
	}()
	openBackOff = func() backoff.BackOff { return &backoff.StopBackOff{} }
	ftdiPoll = 0

	for _, tc := range []struct {
		fail string
		want string
	}{
		{fail: ""},
		{fail: "reset", want: "could not reset USB"},
		{fail: "baudrate", want: "could not set baud rate to 921600"},
		{fail: "purge", want: "could not purge USB buffers"},
	} {
		t.Run("fail="+tc.fail, func(t *testing.T) {
			dev := &fakeFTDI{fail: tc.fail}
			ftdiOpen = func(vid, pid uint16) (ftdiDevice, error) {
				if vid != 0x0403 || pid != 0x6010 {
					return nil, fmt.Errorf("no such device")
				}
				return dev, nil
			}

			port, err := OpenFTDI(0x0403, 0x6010, 921600)
			switch {
			case tc.want != "":
				if err == nil || !bytes.Contains([]byte(err.Error()), []byte(tc.want)) {
					t.Fatalf("invalid error: got=%v, want=%q", err, tc.want)
				}
				if !dev.closed {
					t.Fatalf("device not closed on error")
				}
				return
			case err != nil:
				t.Fatalf("could not open FTDI device: %+v", err)
			}

			want := []string{"reset", "bitmode", "baudrate", "flowctrl", "latency", "wchunk", "rchunk", "purge"}
			if got := dev.calls; fmt.Sprint(got) != fmt.Sprint(want) {
				t.Fatalf("invalid init sequence:\ngot= %v\nwant=%v", got, want)
			}
			if dev.baud != 921600 {
				t.Fatalf("invalid baud rate: got=%d", dev.baud)
			}

			dev.r = []byte{1, 2, 3}
			err = port.Write([]byte{0x9e}, true)
			if err != nil {
				t.Fatalf("could not write: %+v", err)
			}
			got, err := port.Read(4, 5*time.Millisecond)
			if err != nil {
				t.Fatalf("could not read: %+v", err)
			}
			if !bytes.Equal(got, []byte{1, 2, 3}) {
				t.Fatalf("invalid read: got=%x", got)
			}
			if err := port.Close(); err != nil || !dev.closed {
				t.Fatalf("could not close: %+v", err)
			}
		})
	}

	ftdiOpen = func(vid, pid uint16) (ftdiDevice, error) {
		return nil, fmt.Errorf("no such device")
	}
	_, err := OpenFTDI(0x0403, 0x6011, 921600)
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func TestListFTDI(t *testing.T) {
	orig := ftdiFind
	defer func() {
		ftdiFind = orig
	}()

	ftdiFind = func(vid, pid uint16) ([]string, error) {
		switch pid {
		case 0x6001:
			return nil, fmt.Errorf("no usb-1 bus")
		case 0x6014:
			return []string{"MPX001", "MPX002"}, nil
		}
		return nil, nil
	}

	got := ListFTDI(0x0403, FTDIProducts...)
	want := []FTDIInfo{
		{VID: 0x0403, PID: 0x6014, Serial: "MPX001"},
		{VID: 0x0403, PID: 0x6014, Serial: "MPX002"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid device list:\ngot= %+v\nwant=%+v", got, want)
	}
}
