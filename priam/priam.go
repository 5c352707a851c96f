// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package priam implements the serial command protocol of the Priam
// readout board of Maxipix detectors, and the register model driving
// the acquisition.
//
// A command is one byte, optionally followed by a payload:
//
//	[cmd][payload...]
//
// and is answered by the board with:
//
//	[status][payload...][0xff]
//
// where status echoes cmd on success, or is 0xfe (serial error) or
// 0xfd (command not authorized).
package priam // import "github.com/go-lpc/maxipix/priam"
