// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package priam

import (
	"time"
)

// cannedTransport answers every exchange from a canned byte stream.
type cannedTransport struct {
	w       []byte // flushed bytes
	pending []byte
	r       []byte
	flushes int
	werr    error
	rerr    error
}

func (tr *cannedTransport) Write(p []byte, flush bool) error {
	if tr.werr != nil {
		return tr.werr
	}
	tr.pending = append(tr.pending, p...)
	if flush {
		tr.w = append(tr.w, tr.pending...)
		tr.pending = tr.pending[:0]
	}
	return nil
}

func (tr *cannedTransport) Read(n int, timeout time.Duration) ([]byte, error) {
	if tr.rerr != nil {
		return nil, tr.rerr
	}
	if n > len(tr.r) {
		n = len(tr.r)
	}
	p := tr.r[:n]
	tr.r = tr.r[n:]
	return p, nil
}

func (tr *cannedTransport) Flush() error {
	tr.flushes++
	return nil
}

func (tr *cannedTransport) Close() error { return nil }

// fakeBoard emulates the command handling of a Priam board.
type fakeBoard struct {
	regs    map[byte][]byte // register content, by read code
	luts    map[byte][]byte // LUT content, by read code
	fsr     []byte          // content of the FSR being shifted out
	matrix  []byte
	fail    map[byte]byte // status to answer instead of an echo
	cmds    []byte        // received command codes
	pending []byte
	out     []byte
	flushes int
}

func newFakeBoard(fw, pcb byte) *fakeBoard {
	brd := &fakeBoard{
		regs:   make(map[byte][]byte),
		luts:   make(map[byte][]byte),
		fsr:    make([]byte, FSRSize),
		matrix: make([]byte, MatrixSize),
		fail:   make(map[byte]byte),
	}
	brd.regs[0xa2] = []byte{fw, pcb}
	brd.regs[0x85] = []byte{10}
	return brd
}

func (brd *fakeBoard) reset() { brd.cmds = brd.cmds[:0] }

func (brd *fakeBoard) Write(p []byte, flush bool) error {
	brd.pending = append(brd.pending, p...)
	if !flush {
		return nil
	}
	frame := brd.pending
	brd.pending = nil
	brd.handle(frame[0], frame[1:])
	return nil
}

func (brd *fakeBoard) handle(cmd byte, payload []byte) {
	brd.cmds = append(brd.cmds, cmd)
	if st, ok := brd.fail[cmd]; ok {
		brd.out = append(brd.out, st)
		return
	}

	var resp []byte
	switch {
	case cmd == codeFSRWrite:
		resp = brd.fsr
		brd.fsr = append([]byte(nil), payload...)
	case cmd == codeMatrixWrite:
		brd.matrix = append(brd.matrix[:0], payload...)
	case cmd == codeMatrixRead:
		resp = brd.matrix
	case cmd >= 0x0a && cmd <= 0x0f:
		brd.luts[cmd|0x80] = append([]byte(nil), payload[1:]...)
	case cmd >= 0x8a && cmd <= 0x8f:
		n := int(payload[0])
		if n == 0 {
			n = MaxLUTSize
		}
		resp = make([]byte, n)
		copy(resp, brd.luts[cmd])
	case cmd&0x80 == 0:
		brd.regs[cmd|0x80] = append([]byte(nil), payload...)
	default:
		resp = brd.regs[cmd]
		if resp == nil {
			resp = make([]byte, rsizeOf(cmd))
		}
	}

	brd.out = append(brd.out, cmd)
	brd.out = append(brd.out, resp...)
	brd.out = append(brd.out, endMarker)
}

func rsizeOf(code byte) int {
	for _, info := range regTable {
		if info.RCode == int(code) && info.RSize > 0 {
			return info.RSize
		}
	}
	return 0
}

func (brd *fakeBoard) Read(n int, timeout time.Duration) ([]byte, error) {
	if n > len(brd.out) {
		n = len(brd.out)
	}
	p := brd.out[:n]
	brd.out = brd.out[n:]
	return p, nil
}

func (brd *fakeBoard) Flush() error {
	brd.flushes++
	brd.out = brd.out[:0]
	return nil
}

func (brd *fakeBoard) Close() error { return nil }

var (
	_ Transport = (*cannedTransport)(nil)
	_ Transport = (*fakeBoard)(nil)
)
