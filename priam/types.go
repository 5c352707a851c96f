// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package priam

import (
	"fmt"
	"strings"
)

// Version is the silicon version of the Maxipix chips.
type Version uint8

const (
	Dummy Version = iota
	MPX2
	MXR2
	TPX1
	NumVersions
)

var versionNames = [NumVersions]string{"dummy", "mpx2", "mxr2", "tpx1"}

func (v Version) String() string {
	if v >= NumVersions {
		return fmt.Sprintf("Version(%d)", uint8(v))
	}
	return versionNames[v]
}

// ParseVersion parses a chip version name (case-insensitive).
func ParseVersion(s string) (Version, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range versionNames {
		if name == s {
			return Version(i), nil
		}
	}
	return 0, errorf(KindInvalidValue, "parse-version", "unknown chip version %q", s)
}

// IsTPX reports whether the chip belongs to the Timepix family.
func (v Version) IsTPX() bool { return v == TPX1 }

// Polarity is the pixel input polarity.
type Polarity uint8

const (
	Negative Polarity = iota
	Positive
)

func (p Polarity) String() string {
	switch p {
	case Negative:
		return "negative"
	case Positive:
		return "positive"
	}
	return fmt.Sprintf("Polarity(%d)", uint8(p))
}

// ParsePolarity parses a polarity name ("negative" or "positive").
func ParsePolarity(s string) (Polarity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "negative", "neg", "-":
		return Negative, nil
	case "positive", "pos", "+":
		return Positive, nil
	}
	return 0, errorf(KindInvalidValue, "parse-polarity", "unknown polarity %q", s)
}

// Level is the active level of an I/O signal.
type Level uint8

const (
	HighActive Level = iota
	LowActive
)

func (l Level) String() string {
	switch l {
	case HighActive:
		return "high"
	case LowActive:
		return "low"
	}
	return fmt.Sprintf("Level(%d)", uint8(l))
}

// TrigMode is the acquisition trigger mode.
type TrigMode uint8

const (
	TrigInternal TrigMode = iota // internal timings
	TrigExtStart                 // external start, internal timings
	TrigExtMulti                 // one external trigger per frame
	TrigExtGate                  // exposure follows the external signal
	numTrigModes
)

var trigNames = [numTrigModes]string{"internal", "ext-start", "ext-multi", "ext-gate"}

func (m TrigMode) String() string {
	if m >= numTrigModes {
		return fmt.Sprintf("TrigMode(%d)", uint8(m))
	}
	return trigNames[m]
}

// ParseTrigMode parses a trigger mode name.
func ParseTrigMode(s string) (TrigMode, error) {
	for i, name := range trigNames {
		if name == s {
			return TrigMode(i), nil
		}
	}
	return 0, errorf(KindInvalidValue, "parse-trigger", "unknown trigger mode %q", s)
}

// GateMode enables the external gate input.
type GateMode uint8

const (
	GateInactive GateMode = iota
	GateActive
)

// ReadyMode selects what the ready output covers.
type ReadyMode uint8

const (
	ReadyExposure        ReadyMode = iota // ready during exposure only
	ReadyExposureReadout                  // ready includes readout
)

// ReadoutMode selects when chips are read out.
type ReadoutMode uint8

const (
	ReadoutSequential   ReadoutMode = iota // readout after exposure
	ReadoutSimultaneous                    // readout during next exposure
)

// ImageMode selects how the counters are sent.
type ImageMode uint8

const (
	ImageNormal ImageMode = iota // deserialized counters
	ImageRaw                     // bit-sliced counters
)

// Status is the acquisition state of the board.
type Status uint8

const (
	Idle Status = iota
	WaitForTrigger
	Exposure
	Readout
	Fault
)

func (st Status) String() string {
	switch st {
	case Idle:
		return "idle"
	case WaitForTrigger:
		return "wait-for-trigger"
	case Exposure:
		return "exposure"
	case Readout:
		return "readout"
	case Fault:
		return "fault"
	}
	return fmt.Sprintf("Status(%d)", uint8(st))
}
