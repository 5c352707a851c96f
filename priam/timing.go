// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package priam

import (
	"fmt"
	"math"
	"strconv"
)

// TimeUnit is the unit in which timing values are expressed.
type TimeUnit uint8

const (
	Microsecond TimeUnit = iota
	Microsecond10
	Microsecond100
	Millisecond
	Millisecond10
	Millisecond100
	Second
	nTimeUnits
)

var timeUnitNames = [nTimeUnits]string{
	"us", "10us", "100us", "ms", "10ms", "100ms", "s",
}

func (u TimeUnit) String() string {
	if u >= nTimeUnits {
		return fmt.Sprintf("TimeUnit(%d)", uint8(u))
	}
	return timeUnitNames[u]
}

// ParseTimeUnit returns the time unit named s.
func ParseTimeUnit(s string) (TimeUnit, error) {
	for i, name := range timeUnitNames {
		if name == s {
			return TimeUnit(i), nil
		}
	}
	return 0, errorf(KindInvalidValue, "parse-time-unit", "unknown time unit %q", s)
}

// Microseconds returns the number of microseconds in one unit.
func (u TimeUnit) Microseconds() float64 {
	return math.Pow10(int(u))
}

const (
	timeMagBits = 10
	timeMagMax  = 1 << timeMagBits // exclusive
	timeExpMax  = 6
)

// encodeTime quantizes t, expressed in unit u, into the 2-byte register
// encoding: lo holds the 8 LSB of the magnitude, hi holds the 2 MSB of
// the magnitude in bits 0-1 and the decimal exponent (in µs) in bits 5-7.
// The smallest exponent keeping the magnitude under 1024 is used.
// encodeTime returns the quantized time, in unit u.
func encodeTime(t float64, u TimeUnit) (float64, [2]byte, error) {
	const op = "encode-time"
	var regs [2]byte
	if t < 0 || math.IsNaN(t) || math.IsInf(t, 0) {
		return 0, regs, errorf(KindInvalidValue, op, "invalid time %v", fmtTime(t, u))
	}
	us := t * u.Microseconds()
	for exp := 0; exp <= timeExpMax; exp++ {
		step := math.Pow10(exp)
		mag := math.Round(us / step)
		if mag >= timeMagMax {
			continue
		}
		v := uint16(mag)
		regs[0] = byte(v)
		regs[1] = byte(v>>8)&0x03 | byte(exp)<<5
		return mag * step / u.Microseconds(), regs, nil
	}
	return 0, regs, errorf(KindInvalidValue, op, "Time overflow (time=%v, max=%v)",
		fmtTime(t, u), fmtTime(maxTime(u), u),
	)
}

// decodeTime converts the 2-byte register encoding back into unit u.
func decodeTime(regs [2]byte, u TimeUnit) float64 {
	var (
		mag = uint16(regs[1]&0x03)<<8 | uint16(regs[0])
		exp = int(regs[1]>>5) & 0x07
	)
	return float64(mag) * math.Pow10(exp) / u.Microseconds()
}

// fmtTime formats t, expressed in unit u, as e.g. "1401 x 10us".
func fmtTime(t float64, u TimeUnit) string {
	return strconv.FormatFloat(t, 'g', -1, 64) + " x " + u.String()
}

// maxTime returns the largest encodable time, in unit u.
func maxTime(u TimeUnit) float64 {
	return (timeMagMax - 1) * math.Pow10(timeExpMax) / u.Microseconds()
}
