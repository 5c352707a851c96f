// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakepriam emulates a Priam readout board behind a transport.
package fakepriam // import "github.com/go-lpc/maxipix/internal/fakepriam"

import (
	"io"
	"sync"
	"time"

	"github.com/go-lpc/maxipix/priam"
)

const (
	codeFSR         = 0x91
	codeMatrixWrite = 0x10
	codeMatrixRead  = 0x90
	endMarker       = 0xff
)

// Board is an in-memory Priam board.
//
// Writes store the payload in the register addressed by the command
// code, reads send back the content of the matching write register.
// The FSR behaves as a shift register: each load shifts out the
// previous content.
type Board struct {
	mu      sync.Mutex
	regs    map[byte][]byte // register content, by write code
	rsize   map[byte]int    // read payload size, by read code
	fsr     []byte
	matrix  []byte
	cmds    []byte
	pending []byte
	out     []byte
	closed  bool
}

// New returns a board running a fast frame-overhead firmware, revision 3.
func New() *Board {
	brd := &Board{
		regs:   make(map[byte][]byte),
		rsize:  make(map[byte]int),
		fsr:    make([]byte, priam.FSRSize),
		matrix: make([]byte, priam.MatrixSize),
	}
	for _, reg := range priam.Registers() {
		info, _ := reg.Info()
		if info.RCode != priam.NoCode && info.RSize > 0 {
			brd.rsize[byte(info.RCode)] = info.RSize
		}
	}
	brd.regs[0x22] = []byte{0x83, 2} // fast frame-overhead, firmware 3, pcb 2
	return brd
}

// Set sets the content of the register with the given write code.
// Read-only registers are addressed by their read code without 0x80.
func (brd *Board) Set(code byte, v ...byte) {
	brd.mu.Lock()
	defer brd.mu.Unlock()
	brd.regs[code] = v
}

// Get returns the content of the register with the given write code.
func (brd *Board) Get(code byte) []byte {
	brd.mu.Lock()
	defer brd.mu.Unlock()
	return append([]byte(nil), brd.regs[code]...)
}

// Commands returns the command codes received so far.
func (brd *Board) Commands() []byte {
	brd.mu.Lock()
	defer brd.mu.Unlock()
	return append([]byte(nil), brd.cmds...)
}

// Closed reports whether the transport was closed.
func (brd *Board) Closed() bool {
	brd.mu.Lock()
	defer brd.mu.Unlock()
	return brd.closed
}

func (brd *Board) Write(p []byte, flush bool) error {
	brd.mu.Lock()
	defer brd.mu.Unlock()

	if brd.closed {
		return io.ErrClosedPipe
	}
	brd.pending = append(brd.pending, p...)
	if !flush {
		return nil
	}
	frame := brd.pending
	brd.pending = nil
	brd.handle(frame[0], frame[1:])
	return nil
}

func (brd *Board) handle(cmd byte, payload []byte) {
	brd.cmds = append(brd.cmds, cmd)

	var resp []byte
	switch {
	case cmd == codeFSR:
		resp = brd.fsr
		brd.fsr = append([]byte(nil), payload...)
	case cmd == codeMatrixWrite:
		brd.matrix = append(brd.matrix[:0], payload...)
	case cmd == codeMatrixRead:
		resp = brd.matrix
	case cmd&0x80 == 0:
		brd.regs[cmd] = append([]byte(nil), payload...)
	default:
		resp = make([]byte, brd.rsize[cmd])
		copy(resp, brd.regs[cmd&^0x80])
	}

	brd.out = append(brd.out, cmd)
	brd.out = append(brd.out, resp...)
	brd.out = append(brd.out, endMarker)
}

func (brd *Board) Read(n int, timeout time.Duration) ([]byte, error) {
	brd.mu.Lock()
	defer brd.mu.Unlock()

	if n > len(brd.out) {
		n = len(brd.out)
	}
	p := brd.out[:n]
	brd.out = brd.out[n:]
	return p, nil
}

func (brd *Board) Flush() error {
	brd.mu.Lock()
	defer brd.mu.Unlock()
	brd.out = brd.out[:0]
	return nil
}

func (brd *Board) Close() error {
	brd.mu.Lock()
	defer brd.mu.Unlock()
	brd.closed = true
	return nil
}

// FSR returns a reference FSR holding the fuses of chip W4660-C7.
func FSR() []byte {
	fsr := make([]byte, priam.FSRSize)
	fsr[priam.FSRSize-3] = 0x12
	fsr[priam.FSRSize-2] = 0x34
	fsr[priam.FSRSize-1] = 0x27
	return fsr
}

// FSRHex is the hex encoding of FSR.
const FSRHex = "0000000000000000000000000000000000000000000000000000000000123427"

var _ priam.Transport = (*Board)(nil)
