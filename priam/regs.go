// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package priam

import "fmt"

// NoCode marks a register direction that is not available.
const NoCode = -1

// Register is the symbolic code of a Priam register.
type Register int

const (
	RegInit        Register = iota // board initialization
	RegSerialPort                  // chip port attached to the serial configuration line
	RegChipType                    // chip version and polarity
	RegOscillator                  // oscillator divisor word
	RegCountDiv                    // counting frequency divider (TPX family)
	RegTimeAdjust                  // timing calibration readback
	RegTAP                         // time adjust, parallel readout
	RegTAS                         // time adjust, serial readout
	RegDACs                        // chip DACs, variable size
	RegTestPulse                   // number of test pulses
	RegExpTimeLo                   // exposure time, LSB
	RegExpTimeHi                   // exposure time, MSB + exponent
	RegIntTimeLo                   // interval time, LSB
	RegIntTimeHi                   // interval time, MSB + exponent
	RegShutTimeLo                  // shutter time, LSB
	RegShutTimeHi                  // shutter time, MSB + exponent
	RegNbFrames                    // number of frames
	RegTrigCfg                     // trigger mode status register
	RegIOLevels                    // shutter and ready output levels
	RegROPorts                     // readout port mask
	RegROMode                      // readout and image modes
	RegFFCorr                      // flat-field correction factor
	RegAcqStart                    // start acquisition
	RegAcqStop                     // stop acquisition
	RegStatus                      // acquisition status
	RegFrameCount                  // number of acquired frames
	RegBoardRev                    // firmware and PCB revisions
	RegChipReset                   // chip counters reset
	RegMatrixReset                 // pixel matrix reset
	RegScratch                     // scratch register, link test
	nRegisters
)

// RegInfo describes the wire encoding of a Priam register.
type RegInfo struct {
	Name  string
	WCode int // write command code or NoCode
	WSize int // write payload size
	RCode int // read command code or NoCode
	RSize int // read payload size, negative if supplied by the caller
}

var regTable = [nRegisters]RegInfo{
	RegInit:        {"init", 0x00, 0, NoCode, 0},
	RegSerialPort:  {"serial-port", 0x01, 1, 0x81, 1},
	RegChipType:    {"chip-type", 0x02, 1, 0x82, 1},
	RegOscillator:  {"oscillator", 0x03, 2, 0x83, 2},
	RegCountDiv:    {"count-div", 0x04, 1, 0x84, 1},
	RegTimeAdjust:  {"time-adjust", NoCode, 0, 0x85, 1},
	RegTAP:         {"tap", 0x06, 1, 0x86, 1},
	RegTAS:         {"tas", 0x07, 1, 0x87, 1},
	RegDACs:        {"dacs", 0x08, -1, 0x88, -1},
	RegTestPulse:   {"test-pulse", 0x09, 2, 0x89, 2},
	RegExpTimeLo:   {"expo-lo", 0x12, 1, 0x92, 1},
	RegExpTimeHi:   {"expo-hi", 0x13, 1, 0x93, 1},
	RegIntTimeLo:   {"interval-lo", 0x14, 1, 0x94, 1},
	RegIntTimeHi:   {"interval-hi", 0x15, 1, 0x95, 1},
	RegShutTimeLo:  {"shutter-lo", 0x16, 1, 0x96, 1},
	RegShutTimeHi:  {"shutter-hi", 0x17, 1, 0x97, 1},
	RegNbFrames:    {"nb-frames", 0x18, 2, 0x98, 2},
	RegTrigCfg:     {"trigger", 0x19, 1, 0x99, 1},
	RegIOLevels:    {"io-levels", 0x1a, 1, 0x9a, 1},
	RegROPorts:     {"readout-ports", 0x1b, 1, 0x9b, 1},
	RegROMode:      {"readout-mode", 0x1c, 1, 0x9c, 1},
	RegFFCorr:      {"flat-field", 0x1d, 1, 0x9d, 1},
	RegAcqStart:    {"start", 0x1e, 0, NoCode, 0},
	RegAcqStop:     {"stop", 0x1f, 0, NoCode, 0},
	RegStatus:      {"status", NoCode, 0, 0xa0, 1},
	RegFrameCount:  {"frame-count", NoCode, 0, 0xa1, 2},
	RegBoardRev:    {"board-rev", NoCode, 0, 0xa2, 2},
	RegChipReset:   {"chip-reset", 0x23, 0, NoCode, 0},
	RegMatrixReset: {"matrix-reset", 0x24, 0, NoCode, 0},
	RegScratch:     {"scratch", 0x2d, 1, 0xad, 1},
}

// Info returns the description of the register.
func (reg Register) Info() (RegInfo, bool) {
	if reg < 0 || reg >= nRegisters {
		return RegInfo{}, false
	}
	return regTable[reg], true
}

func (reg Register) String() string {
	info, ok := reg.Info()
	if !ok {
		return fmt.Sprintf("Register(%d)", int(reg))
	}
	return info.Name
}

// Registers returns the list of all known registers.
func Registers() []Register {
	regs := make([]Register, nRegisters)
	for i := range regs {
		regs[i] = Register(i)
	}
	return regs
}

// LUT identifies one of the board lookup tables.
type LUT int

const (
	LUT0 LUT = iota
	LUT1
	LUT2
	LUT3
	LUT4
	LUT5
	nLUTs
)

var lutTable = [nLUTs]struct {
	wcode byte
	rcode byte
}{
	LUT0: {0x0a, 0x8a},
	LUT1: {0x0b, 0x8b},
	LUT2: {0x0c, 0x8c},
	LUT3: {0x0d, 0x8d},
	LUT4: {0x0e, 0x8e},
	LUT5: {0x0f, 0x8f},
}

func (id LUT) String() string { return fmt.Sprintf("lut-%d", int(id)) }

// serial transfer codes.
const (
	codeMatrixWrite = 0x10
	codeMatrixRead  = 0x90
	codeFSRWrite    = 0x91
)

// wire constants.
const (
	statusSerialError   = 0xfe
	statusNotAuthorized = 0xfd
	endMarker           = 0xff
)

const (
	MatrixSize = 256 * 256 * 14 / 8 // bytes of a full pixel matrix transfer
	FSRSize    = 32                 // bytes of a functional shift register
	MaxLUTSize = 256
)
