// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package priam

import (
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/ziutek/ftdi"
)

type ftdiDevice interface {
	Reset() error

	SetBaudrate(br int) error
	SetBitmode(iomask byte, mode ftdi.Mode) error
	SetFlowControl(flowctrl ftdi.FlowCtrl) error
	SetLatencyTimer(lt int) error
	SetWriteChunkSize(cs int) error
	SetReadChunkSize(cs int) error
	PurgeBuffers() error

	io.Writer
	io.Reader
	io.Closer
}

var (
	ftdiOpen = ftdiOpenImpl
	ftdiFind = ftdiFindImpl

	// ftdiPoll is the delay between two empty reads.
	ftdiPoll = 1 * time.Millisecond
)

func ftdiOpenImpl(vid, pid uint16) (ftdiDevice, error) {
	dev, err := ftdi.OpenFirst(int(vid), int(pid), ftdi.ChannelAny)
	return dev, err
}

func ftdiFindImpl(vid, pid uint16) ([]string, error) {
	lst, err := ftdi.FindAll(int(vid), int(pid))
	if err != nil {
		return nil, err
	}
	serials := make([]string, 0, len(lst))
	for _, dev := range lst {
		serials = append(serials, dev.Serial)
		dev.Close()
	}
	return serials, nil
}

// FTDIInfo describes an FTDI device found on the USB bus.
type FTDIInfo struct {
	VID    uint16
	PID    uint16
	Serial string
}

// FTDIProducts are the product IDs of the bridges found on Priam boards.
var FTDIProducts = []uint16{
	0x6001, // usb-1
	0x6014, // usb-2
}

// ListFTDI returns the FTDI devices attached to the bus with the given
// vendor ID and one of the given product IDs.
// Product IDs that cannot be queried are skipped.
func ListFTDI(vid uint16, pids ...uint16) []FTDIInfo {
	var devs []FTDIInfo
	for _, pid := range pids {
		serials, err := ftdiFind(vid, pid)
		if err != nil {
			continue
		}
		for _, serial := range serials {
			devs = append(devs, FTDIInfo{VID: vid, PID: pid, Serial: serial})
		}
	}
	return devs
}

// FTDIPort is a Transport over an FTDI USB-serial bridge.
type FTDIPort struct {
	vid  uint16     // vendor ID
	pid  uint16     // product ID
	ft   ftdiDevice // handle to the FTDI device
	wbuf wbuffer
}

// OpenFTDI opens the first FTDI device matching the vendor and product IDs.
func OpenFTDI(vid, pid uint16, baud int) (*FTDIPort, error) {
	var ft ftdiDevice
	err := backoff.Retry(func() error {
		var err error
		ft, err = ftdiOpen(vid, pid)
		return err
	}, openBackOff())
	if err != nil {
		return nil, fmt.Errorf("priam: could not open FTDI device (vid=0x%x, pid=0x%x): %w", vid, pid, err)
	}

	dev := &FTDIPort{vid: vid, pid: pid, ft: ft}
	err = dev.init(baud)
	if err != nil {
		ft.Close()
		return nil, fmt.Errorf("priam: could not initialize FTDI device (vid=0x%x, pid=0x%x): %w", vid, pid, err)
	}

	return dev, nil
}

func (dev *FTDIPort) init(baud int) error {
	var err error

	err = dev.ft.Reset()
	if err != nil {
		return fmt.Errorf("could not reset USB: %w", err)
	}

	err = dev.ft.SetBitmode(0, ftdi.ModeReset)
	if err != nil {
		return fmt.Errorf("could not reset bit mode: %w", err)
	}

	err = dev.ft.SetBaudrate(baud)
	if err != nil {
		return fmt.Errorf("could not set baud rate to %d: %w", baud, err)
	}

	err = dev.ft.SetFlowControl(ftdi.FlowCtrlDisable)
	if err != nil {
		return fmt.Errorf("could not disable flow control: %w", err)
	}

	err = dev.ft.SetLatencyTimer(2)
	if err != nil {
		return fmt.Errorf("could not set latency timer to 2: %w", err)
	}

	err = dev.ft.SetWriteChunkSize(0xffff)
	if err != nil {
		return fmt.Errorf("could not set write chunk-size to 0xffff: %w", err)
	}

	err = dev.ft.SetReadChunkSize(0xffff)
	if err != nil {
		return fmt.Errorf("could not set read chunk-size to 0xffff: %w", err)
	}

	err = dev.ft.PurgeBuffers()
	if err != nil {
		return fmt.Errorf("could not purge USB buffers: %w", err)
	}

	return nil
}

func (dev *FTDIPort) Write(p []byte, flush bool) error {
	err := dev.wbuf.push(dev.ft, p, flush)
	if err != nil {
		return fmt.Errorf("priam: could not write to FTDI 0x%x: %w", dev.pid, err)
	}
	return nil
}

func (dev *FTDIPort) Read(n int, timeout time.Duration) ([]byte, error) {
	return readDeadline(dev, n, timeout)
}

// readTimeout polls the device: libftdi returns as soon as the latency
// timer expires, with or without data.
func (dev *FTDIPort) readTimeout(p []byte, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	for {
		n, err := dev.ft.Read(p)
		if err != nil {
			return n, fmt.Errorf("priam: could not read from FTDI 0x%x: %w", dev.pid, err)
		}
		if n > 0 || !time.Now().Before(deadline) {
			return n, nil
		}
		time.Sleep(ftdiPoll)
	}
}

func (dev *FTDIPort) Flush() error {
	dev.wbuf.p = dev.wbuf.p[:0]
	err := dev.ft.PurgeBuffers()
	if err != nil {
		return fmt.Errorf("priam: could not purge FTDI 0x%x buffers: %w", dev.pid, err)
	}
	return nil
}

func (dev *FTDIPort) Close() error {
	return dev.ft.Close()
}
