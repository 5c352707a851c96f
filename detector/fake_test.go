// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package detector

import (
	"io"
	"log"

	"github.com/go-lpc/maxipix/internal/fakepriam"
	"github.com/go-lpc/maxipix/priam"
)

func newFakeBoard() *fakepriam.Board { return fakepriam.New() }

func testFSR() []byte { return fakepriam.FSR() }

const testFSRHex = fakepriam.FSRHex

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Name = "test"
	cfg.FSR = testFSRHex
	return cfg
}

func testOptions() []Option {
	return []Option{
		WithLogger(log.New(io.Discard, "", 0)),
		WithAcqOptions(priam.WithSettleDelay(0)),
	}
}

// withFakeBoard replaces the transport opener with one returning brd.
func withFakeBoard(brd *fakepriam.Board) func() {
	old := openTransport
	openTransport = func(dev Device) (priam.Transport, error) {
		return brd, nil
	}
	return func() { openTransport = old }
}
