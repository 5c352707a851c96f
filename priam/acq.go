// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package priam

import (
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"os"
	"time"
)

// NumPorts is the number of chip ports of a Priam board.
const NumPorts = 5

const (
	setupChip = 1 << 0 // chip type written
	setupOsc  = 1 << 1 // oscillator set and timings adjusted
	setupDone = setupChip | setupOsc
)

// oscillator.
const (
	FreqMin = 15.625 // MHz
	FreqMax = 350.0  // MHz

	// DefaultFreq is the oscillator frequency used when none is requested.
	DefaultFreq = 80.0 // MHz

	xtalFreq  = 25.0 // MHz
	fpgaDiv   = 2
	oscFrac   = 512    // fixed-point scale of the multiplier field
	oscMulMax = 0x3fff // 14-bit multiplier field

	tpxCountFreq = 100.0 // MHz, max counting frequency of TPX chips
)

// firmware.
const (
	fwFastFO      = 0x80 // fast frame-overhead capability
	fwRevMask     = 0x7f
	fwRevInfinite = 3 // first revision supporting infinite frame sequences

	minITCyclesFast = 2816 // oscillator cycles
	minITCyclesSlow = 5120 // oscillator cycles

	transferFast = 560.0 // µs per chip
	transferSlow = 700.0 // µs per chip
)

// trigger status register.
const (
	trigGateActive   = 1 << 2
	trigReadyReadout = 1 << 3
	trigLevelInvert  = 1 << 4
)

// Option configures an Acq.
type Option func(*config)

type config struct {
	msg    *log.Logger
	settle time.Duration
}

func newConfig() config {
	return config{
		msg:    log.New(os.Stdout, "priam: ", 0),
		settle: 100 * time.Millisecond,
	}
}

// WithLogger sets the logger of the register model.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithSettleDelay sets how long to wait for the oscillator to settle
// before the timings are adjusted.
func WithSettleDelay(d time.Duration) Option {
	return func(cfg *config) {
		cfg.settle = d
	}
}

// Acq holds the register state of a Priam board and realizes it
// through a Codec.
//
// Acq is not safe for concurrent use: compound operations such as
// SetChipFSR issue several exchanges, and concurrent callers must
// serialize on a coarser lock.
type Acq struct {
	codec  Codec
	msg    *log.Logger
	settle time.Duration

	fw  uint8 // firmware revision and capabilities
	pcb uint8 // PCB revision

	version  Version
	polarity Polarity
	freq     float64 // effective oscillator frequency (MHz)
	fsr0     []byte
	chipIDs  [NumPorts]string
	setup    uint8

	unit     TimeUnit
	minIT    float64 // µs
	expo     float64 // µs
	interval float64 // µs
	shutter  float64 // µs
	expoSet  bool
	intSet   bool

	nframes    int
	nframesSet bool

	trig       TrigMode
	trigLevel  Level
	gate       GateMode
	gateLevel  Level
	ready      ReadyMode
	shutLevel  Level
	readyLevel Level

	ports   []int
	roMode  ReadoutMode
	imgMode ImageMode
	ffcorr  int
}

// NewAcq creates a register model on top of codec and reads the
// board revisions.
func NewAcq(codec Codec, opts ...Option) (*Acq, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	a := &Acq{
		codec:  codec,
		msg:    cfg.msg,
		settle: cfg.settle,
		freq:   DefaultFreq,
		unit:   Millisecond,
		ports:  []int{0},
	}

	rev, err := codec.ReadRegister(RegBoardRev, 0)
	if err != nil {
		return nil, fmt.Errorf("priam: could not read board revision: %w", err)
	}
	a.fw = rev[0]
	a.pcb = rev[1]
	a.minIT = a.minInterval()

	return a, nil
}

// BoardRev returns the firmware and PCB revisions read at startup.
func (a *Acq) BoardRev() (fw, pcb int) {
	return int(a.fw & fwRevMask), int(a.pcb)
}

func (a *Acq) fastFO() bool { return a.fw&fwFastFO != 0 }

// Setup configures the chip type and polarity, stores the reference
// FSR of port 0 and sets the oscillator.
func (a *Acq) Setup(v Version, pol Polarity, freq float64, fsr0 []byte) error {
	const op = "setup"
	switch {
	case v >= NumVersions:
		return errorf(KindInvalidValue, op, "invalid chip version %d", uint8(v))
	case pol > Positive:
		return errorf(KindInvalidValue, op, "invalid polarity %d", uint8(pol))
	case len(fsr0) != 0 && len(fsr0) != FSRSize:
		return errorf(KindInvalidValue, op, "invalid FSR size (got=%d, want=%d)", len(fsr0), FSRSize)
	}

	a.setup = 0

	err := a.codec.WriteRegister(RegSerialPort, []byte{0})
	if err != nil {
		return fmt.Errorf("priam: could not enable serial line of port 0: %w", err)
	}

	err = a.codec.WriteRegister(RegChipType, []byte{chipTypeBits(v, pol)})
	if err != nil {
		return fmt.Errorf("priam: could not write chip type: %w", err)
	}
	a.version = v
	a.polarity = pol
	a.setup |= setupChip

	a.fsr0 = append(a.fsr0[:0], fsr0...)

	_, err = a.SetOscillator(freq)
	if err != nil {
		return fmt.Errorf("priam: could not setup oscillator: %w", err)
	}

	return nil
}

func chipTypeBits(v Version, pol Polarity) byte {
	var bits byte
	switch v {
	case MPX2:
		bits = 0x01
	case MXR2:
		bits = 0x02
	case TPX1:
		bits = 0x03
	}
	if pol == Positive {
		bits |= 0x80
	}
	return bits
}

// oscDivisor computes the output divider and the divisor word for the
// requested frequency, and the frequency the oscillator will produce.
func oscDivisor(freq float64) (odiv int, word uint16, eff float64) {
	switch {
	case freq < FreqMin:
		freq = FreqMin
	case freq > FreqMax:
		freq = FreqMax
	}

	var code uint16
	switch {
	case freq <= 43.75:
		odiv, code = 8, 3
	case freq <= 87.5:
		odiv, code = 4, 2
	case freq <= 175.0:
		odiv, code = 2, 1
	default:
		odiv, code = 1, 0
	}

	mul := math.Round(freq * float64(odiv*fpgaDiv) / xtalFreq * oscFrac)
	if mul > oscMulMax {
		mul = oscMulMax
	}
	word = code<<14 | uint16(mul)
	eff = mul / oscFrac * xtalFreq / float64(odiv*fpgaDiv)
	return odiv, word, eff
}

// SetOscillator sets the oscillator frequency (in MHz), clamped to
// [FreqMin, FreqMax], and readjusts the timings.
// SetOscillator returns the effective frequency.
func (a *Acq) SetOscillator(freq float64) (float64, error) {
	if math.IsNaN(freq) {
		return 0, errorf(KindInvalidValue, "set-oscillator", "invalid frequency %v", freq)
	}
	a.setup &^= setupOsc

	_, word, eff := oscDivisor(freq)
	err := a.codec.WriteRegister(RegOscillator, []byte{byte(word >> 8), byte(word)})
	if err != nil {
		return 0, fmt.Errorf("priam: could not write oscillator divisor: %w", err)
	}
	a.freq = eff
	a.minIT = a.minInterval()
	if eff != freq {
		a.msg.Printf("oscillator set to %.3f MHz (requested=%.3f MHz)", eff, freq)
	}

	if a.settle > 0 {
		time.Sleep(a.settle)
	}

	err = a.timeAdjust()
	if err != nil {
		return eff, err
	}

	if a.version.IsTPX() {
		div := int(math.Ceil(eff / tpxCountFreq))
		if div < 1 {
			div = 1
		}
		err = a.codec.WriteRegister(RegCountDiv, []byte{byte(div)})
		if err != nil {
			return eff, fmt.Errorf("priam: could not write counting divider: %w", err)
		}
	}

	a.setup |= setupOsc

	return eff, nil
}

// Oscillator returns the effective oscillator frequency, in MHz.
func (a *Acq) Oscillator() float64 { return a.freq }

// minInterval returns the minimum interval time in µs.
func (a *Acq) minInterval() float64 {
	cycles := minITCyclesSlow
	if a.fastFO() {
		cycles = minITCyclesFast
	}
	return float64(cycles) / a.freq
}

func (a *Acq) timeAdjust() error {
	const op = "time-adjust"
	if len(a.fsr0) == 0 {
		return errorf(KindPrecondition, op, "reference FSR of port 0 not set")
	}

	_, err := a.SetChipFSR(0, a.fsr0)
	if err != nil {
		return fmt.Errorf("priam: could not reload FSR of port 0: %w", err)
	}

	raw, err := a.codec.ReadRegister(RegTimeAdjust, 0)
	if err != nil {
		return fmt.Errorf("priam: could not read time adjust: %w", err)
	}

	tap, tas := timeAdjustValues(raw[0], a.fw&fwRevMask)
	err = a.codec.WriteRegister(RegTAP, []byte{tap})
	if err != nil {
		return fmt.Errorf("priam: could not write TAP: %w", err)
	}
	err = a.codec.WriteRegister(RegTAS, []byte{tas})
	if err != nil {
		return fmt.Errorf("priam: could not write TAS: %w", err)
	}
	return nil
}

// timeAdjustValues derives the parallel and serial time adjustments
// from the time adjust readback.
func timeAdjustValues(ta, rev uint8) (tap, tas uint8) {
	offp, offs := 1, 2
	if rev >= 2 {
		offp, offs = 2, 3
	}
	p := int(ta)/2 - offp
	if p < 0 {
		p = 0
	}
	s := int(ta) - p - offs
	if s < 0 {
		s = 0
	}
	return uint8(p), uint8(s)
}

func checkPort(op string, port int) error {
	if port < 0 || port >= NumPorts {
		return errorf(KindInvalidValue, op, "invalid port %d (range=[0, %d])", port, NumPorts-1)
	}
	return nil
}

// SetChipFSR loads fsr into the chip of the given port and returns the
// chip identifier read back from the shifted-out register.
//
// The FSR is written twice: the second write shifts out the content
// loaded by the first one.
func (a *Acq) SetChipFSR(port int, fsr []byte) (string, error) {
	const op = "set-chip-fsr"
	if err := checkPort(op, port); err != nil {
		return "", err
	}
	if len(fsr) != FSRSize {
		return "", errorf(KindInvalidValue, op, "invalid FSR size (got=%d, want=%d)", len(fsr), FSRSize)
	}

	err := a.codec.WriteRegister(RegSerialPort, []byte{byte(port)})
	if err != nil {
		return "", fmt.Errorf("priam: could not select port %d: %w", port, err)
	}

	_, err = a.codec.WriteFSR(fsr)
	if err != nil {
		return "", fmt.Errorf("priam: could not load FSR of port %d: %w", port, err)
	}

	out, err := a.codec.WriteFSR(fsr)
	if err != nil {
		return "", fmt.Errorf("priam: could not read back FSR of port %d: %w", port, err)
	}

	id := ChipID(out)
	a.chipIDs[port] = id
	return id, nil
}

// ChipID formats the chip identifier held by the fuses of a shifted-out FSR.
func ChipID(fsr []byte) string {
	if len(fsr) != FSRSize {
		return ""
	}
	var (
		fuses = uint32(fsr[FSRSize-3])<<16 | uint32(fsr[FSRSize-2])<<8 | uint32(fsr[FSRSize-1])
		wafer = fuses >> 8
		x     = (fuses >> 4) & 0xf
		y     = fuses & 0xf
	)
	return fmt.Sprintf("W%d-%c%d", wafer, 'A'+rune(x), y)
}

// ChipIDs returns the identifiers of the chips configured so far.
func (a *Acq) ChipIDs() []string {
	ids := make([]string, NumPorts)
	copy(ids, a.chipIDs[:])
	return ids
}

// SetChipDACs writes the DAC values of the chip of the given port.
func (a *Acq) SetChipDACs(port int, dacs []byte) error {
	const op = "set-chip-dacs"
	if err := checkPort(op, port); err != nil {
		return err
	}
	if len(dacs) == 0 || len(dacs) > MaxLUTSize {
		return errorf(KindInvalidValue, op, "invalid DACs size %d (range=[1, %d])", len(dacs), MaxLUTSize)
	}
	err := a.codec.WriteRegister(RegSerialPort, []byte{byte(port)})
	if err != nil {
		return fmt.Errorf("priam: could not select port %d: %w", port, err)
	}
	err = a.codec.WriteRegister(RegDACs, dacs)
	if err != nil {
		return fmt.Errorf("priam: could not write DACs of port %d: %w", port, err)
	}
	return nil
}

// ChipDACs reads back n DAC values of the chip of the given port.
func (a *Acq) ChipDACs(port, n int) ([]byte, error) {
	const op = "chip-dacs"
	if err := checkPort(op, port); err != nil {
		return nil, err
	}
	err := a.codec.WriteRegister(RegSerialPort, []byte{byte(port)})
	if err != nil {
		return nil, fmt.Errorf("priam: could not select port %d: %w", port, err)
	}
	return a.codec.ReadRegister(RegDACs, n)
}

// WritePixelConfig uploads a bit-plane pixel configuration matrix to the
// chip of the given port.
func (a *Acq) WritePixelConfig(port int, buf []byte) error {
	const op = "write-pixel-config"
	if err := checkPort(op, port); err != nil {
		return err
	}
	if len(buf) != MatrixSize {
		return errorf(KindInvalidValue, op, "invalid matrix size (got=%d, want=%d)", len(buf), MatrixSize)
	}
	err := a.codec.WriteRegister(RegSerialPort, []byte{byte(port)})
	if err != nil {
		return fmt.Errorf("priam: could not select port %d: %w", port, err)
	}
	err = a.codec.WriteMatrix(buf)
	if err != nil {
		return fmt.Errorf("priam: could not upload matrix of port %d: %w", port, err)
	}
	return nil
}

// ReadPixelConfig reads back the bit-plane matrix of the given port.
func (a *Acq) ReadPixelConfig(port int) ([]byte, error) {
	if err := checkPort("read-pixel-config", port); err != nil {
		return nil, err
	}
	err := a.codec.WriteRegister(RegSerialPort, []byte{byte(port)})
	if err != nil {
		return nil, fmt.Errorf("priam: could not select port %d: %w", port, err)
	}
	buf, err := a.codec.ReadMatrix()
	if err != nil {
		return nil, fmt.Errorf("priam: could not read matrix of port %d: %w", port, err)
	}
	return buf, nil
}

// WriteLUT uploads a lookup table.
func (a *Acq) WriteLUT(id LUT, buf []byte) error { return a.codec.WriteLUT(id, buf) }

// ReadLUT reads back n entries of a lookup table.
func (a *Acq) ReadLUT(id LUT, n int) ([]byte, error) { return a.codec.ReadLUT(id, n) }

// SetTimeUnit sets the unit of all timing values.
func (a *Acq) SetTimeUnit(u TimeUnit) error {
	if u >= nTimeUnits {
		return errorf(KindInvalidValue, "set-time-unit", "invalid time unit %d", uint8(u))
	}
	a.unit = u
	return nil
}

// TimeUnit returns the unit of all timing values.
func (a *Acq) TimeUnit() TimeUnit { return a.unit }

func (a *Acq) toUnit(us float64) float64 { return us / a.unit.Microseconds() }

// fmtTime formats a time given in µs, in the current unit.
func (a *Acq) fmtTime(us float64) string { return fmtTime(a.toUnit(us), a.unit) }

// writeTime returns the quantized time, in the current unit and in µs.
func (a *Acq) writeTime(lo, hi Register, t float64) (set, us float64, err error) {
	set, regs, err := encodeTime(t, a.unit)
	if err != nil {
		return 0, 0, err
	}
	err = a.writeTimeRegs(lo, hi, regs)
	if err != nil {
		return 0, 0, err
	}
	return set, decodeTime(regs, Microsecond), nil
}

func (a *Acq) writeTimeRegs(lo, hi Register, regs [2]byte) error {
	err := a.codec.WriteRegister(lo, regs[:1])
	if err != nil {
		return fmt.Errorf("priam: could not write %v: %w", lo, err)
	}
	err = a.codec.WriteRegister(hi, regs[1:])
	if err != nil {
		return fmt.Errorf("priam: could not write %v: %w", hi, err)
	}
	return nil
}

func (a *Acq) readTime(lo, hi Register) (float64, error) {
	var regs [2]byte
	v, err := a.codec.ReadRegister(lo, 0)
	if err != nil {
		return 0, fmt.Errorf("priam: could not read %v: %w", lo, err)
	}
	regs[0] = v[0]
	v, err = a.codec.ReadRegister(hi, 0)
	if err != nil {
		return 0, fmt.Errorf("priam: could not read %v: %w", hi, err)
	}
	regs[1] = v[0]
	return decodeTime(regs, a.unit), nil
}

// SetExposureTime sets the exposure time and returns the quantized
// value effectively set.
func (a *Acq) SetExposureTime(t float64) (float64, error) {
	set, us, err := a.writeTime(RegExpTimeLo, RegExpTimeHi, t)
	if err != nil {
		return 0, err
	}
	a.expo = us
	a.expoSet = true
	return set, nil
}

// SetMaxExposureTime sets the largest encodable exposure time.
func (a *Acq) SetMaxExposureTime() (float64, error) {
	regs := [2]byte{0xff, 0x03 | timeExpMax<<5}
	err := a.writeTimeRegs(RegExpTimeLo, RegExpTimeHi, regs)
	if err != nil {
		return 0, err
	}
	a.expo = decodeTime(regs, Microsecond)
	a.expoSet = true
	return a.toUnit(a.expo), nil
}

// ExposureTime reads back the exposure time from the board.
func (a *Acq) ExposureTime() (float64, error) {
	return a.readTime(RegExpTimeLo, RegExpTimeHi)
}

// SetIntervalTime sets the latency time between two frames.
func (a *Acq) SetIntervalTime(t float64) (float64, error) {
	set, us, err := a.writeTime(RegIntTimeLo, RegIntTimeHi, t)
	if err != nil {
		return 0, err
	}
	a.interval = us
	a.intSet = true
	return set, nil
}

// SetMinIntervalTime sets the smallest interval time allowed by the
// current oscillator frequency and firmware.
func (a *Acq) SetMinIntervalTime() (float64, error) {
	_, regs, err := encodeTime(math.Ceil(a.minIT), Microsecond)
	if err != nil {
		return 0, err
	}
	err = a.writeTimeRegs(RegIntTimeLo, RegIntTimeHi, regs)
	if err != nil {
		return 0, err
	}
	a.interval = decodeTime(regs, Microsecond)
	a.intSet = true
	return a.toUnit(a.interval), nil
}

// MinIntervalTime returns the minimum interval time.
func (a *Acq) MinIntervalTime() float64 { return a.toUnit(a.minIT) }

// IntervalTime reads back the interval time from the board.
func (a *Acq) IntervalTime() (float64, error) {
	return a.readTime(RegIntTimeLo, RegIntTimeHi)
}

// SetShutterTime sets the shutter time.
func (a *Acq) SetShutterTime(t float64) (float64, error) {
	set, us, err := a.writeTime(RegShutTimeLo, RegShutTimeHi, t)
	if err != nil {
		return 0, err
	}
	a.shutter = us
	return set, nil
}

// ShutterTime reads back the shutter time from the board.
func (a *Acq) ShutterTime() (float64, error) {
	return a.readTime(RegShutTimeLo, RegShutTimeHi)
}

// SetTrigger sets the trigger mode applied at the next start.
func (a *Acq) SetTrigger(m TrigMode) error {
	if m >= numTrigModes {
		return errorf(KindInvalidValue, "set-trigger", "invalid trigger mode %d", uint8(m))
	}
	a.trig = m
	return nil
}

// Trigger returns the trigger mode.
func (a *Acq) Trigger() TrigMode { return a.trig }

func checkLevel(op string, l Level) error {
	if l > LowActive {
		return errorf(KindInvalidValue, op, "invalid level %d", uint8(l))
	}
	return nil
}

// SetTriggerLevel sets the active level of the external trigger.
func (a *Acq) SetTriggerLevel(l Level) error {
	if err := checkLevel("set-trigger-level", l); err != nil {
		return err
	}
	a.trigLevel = l
	return nil
}

// SetGate sets the gate mode and its active level.
func (a *Acq) SetGate(m GateMode, l Level) error {
	const op = "set-gate"
	if m > GateActive {
		return errorf(KindInvalidValue, op, "invalid gate mode %d", uint8(m))
	}
	if err := checkLevel(op, l); err != nil {
		return err
	}
	a.gate = m
	a.gateLevel = l
	return nil
}

// SetReadyMode selects whether the ready output covers the readout.
func (a *Acq) SetReadyMode(m ReadyMode) error {
	if m > ReadyExposureReadout {
		return errorf(KindInvalidValue, "set-ready-mode", "invalid ready mode %d", uint8(m))
	}
	a.ready = m
	return nil
}

func (a *Acq) writeIOLevels() error {
	var v byte
	if a.shutLevel == LowActive {
		v |= 1 << 0
	}
	if a.readyLevel == LowActive {
		v |= 1 << 1
	}
	err := a.codec.WriteRegister(RegIOLevels, []byte{v})
	if err != nil {
		return fmt.Errorf("priam: could not write I/O levels: %w", err)
	}
	return nil
}

// SetShutterLevel sets the active level of the shutter output.
func (a *Acq) SetShutterLevel(l Level) error {
	if err := checkLevel("set-shutter-level", l); err != nil {
		return err
	}
	a.shutLevel = l
	return a.writeIOLevels()
}

// SetReadyLevel sets the active level of the ready output.
func (a *Acq) SetReadyLevel(l Level) error {
	if err := checkLevel("set-ready-level", l); err != nil {
		return err
	}
	a.readyLevel = l
	return a.writeIOLevels()
}

// SetParallelReadout reads out the given ports in parallel.
func (a *Acq) SetParallelReadout(ports []int) error {
	const op = "set-parallel-readout"
	if len(ports) == 0 {
		return errorf(KindInvalidValue, op, "empty port list")
	}
	var seen [NumPorts]bool
	for _, p := range ports {
		if err := checkPort(op, p); err != nil {
			return err
		}
		if seen[p] {
			return errorf(KindInvalidValue, op, "duplicate port %d", p)
		}
		seen[p] = true
	}
	a.ports = append(a.ports[:0], ports...)
	return nil
}

// SetSerialReadout reads out a single port.
func (a *Acq) SetSerialReadout(port int) error {
	if err := checkPort("set-serial-readout", port); err != nil {
		return err
	}
	a.ports = append(a.ports[:0], port)
	return nil
}

// Ports returns the active readout ports.
func (a *Acq) Ports() []int {
	return append([]int(nil), a.ports...)
}

func (a *Acq) portMask() byte {
	var mask byte
	for _, p := range a.ports {
		mask |= 1 << uint(p)
	}
	return mask
}

func (a *Acq) writeROMode() error {
	v := byte(a.roMode) | byte(a.imgMode)<<1
	err := a.codec.WriteRegister(RegROMode, []byte{v})
	if err != nil {
		return fmt.Errorf("priam: could not write readout mode: %w", err)
	}
	return nil
}

// SetReadoutMode selects sequential or simultaneous readout.
func (a *Acq) SetReadoutMode(m ReadoutMode) error {
	if m > ReadoutSimultaneous {
		return errorf(KindInvalidValue, "set-readout-mode", "invalid readout mode %d", uint8(m))
	}
	a.roMode = m
	return a.writeROMode()
}

// SetImageMode selects normal or raw counter images.
func (a *Acq) SetImageMode(m ImageMode) error {
	if m > ImageRaw {
		return errorf(KindInvalidValue, "set-image-mode", "invalid image mode %d", uint8(m))
	}
	a.imgMode = m
	return a.writeROMode()
}

// SetFlatField sets the flat-field correction factor, in [0, 6].
func (a *Acq) SetFlatField(f int) error {
	if f < 0 || f > 6 {
		return errorf(KindInvalidValue, "set-flat-field", "invalid flat-field factor %d (range=[0, 6])", f)
	}
	err := a.codec.WriteRegister(RegFFCorr, []byte{byte(f)})
	if err != nil {
		return fmt.Errorf("priam: could not write flat-field factor: %w", err)
	}
	a.ffcorr = f
	return nil
}

// SetNbFrames sets the number of frames to acquire.
// Zero requests an infinite sequence.
func (a *Acq) SetNbFrames(n int) error {
	const op = "set-nb-frames"
	switch {
	case n < 0 || n > 0xffff:
		return errorf(KindInvalidValue, op, "invalid number of frames %d (range=[0, 65535])", n)
	case n == 0 && a.fw&fwRevMask < fwRevInfinite:
		return errorf(KindUnsupported, op,
			"infinite frame sequence needs firmware >= %d (firmware=%d)",
			fwRevInfinite, a.fw&fwRevMask,
		)
	}

	p := make([]byte, 2)
	binary.BigEndian.PutUint16(p, uint16(n))
	err := a.codec.WriteRegister(RegNbFrames, p)
	if err != nil {
		return fmt.Errorf("priam: could not write number of frames: %w", err)
	}
	a.nframes = n
	a.nframesSet = true
	return nil
}

// NbFrames returns the number of frames to acquire.
func (a *Acq) NbFrames() int { return a.nframes }

// transferTime returns the readout time of all active chips, in µs.
func (a *Acq) transferTime() float64 {
	t := transferSlow
	if a.fastFO() {
		t = transferFast
	}
	return t * float64(len(a.ports))
}

func (a *Acq) trigStatus() byte {
	var v byte
	switch a.trig {
	case TrigInternal:
		v = 0x00
	case TrigExtStart:
		v = 0x01
	case TrigExtMulti:
		v = 0x02
	case TrigExtGate:
		v = 0x03
	}
	if a.gate == GateActive && a.gateLevel == LowActive {
		v |= trigGateActive
	}
	if a.ready == ReadyExposureReadout {
		v |= trigReadyReadout
	}
	if a.trig != TrigInternal && a.trigLevel == LowActive {
		v |= trigLevelInvert
	}
	return v
}

// StartAcq checks the configuration and starts the acquisition.
// No command is sent when the configuration is incomplete.
func (a *Acq) StartAcq() error {
	const op = "start-acq"
	switch {
	case !a.nframesSet:
		return errorf(KindPrecondition, op, "number of frames not set")
	case a.setup != setupDone:
		return errorf(KindPrecondition, op, "Priam setup not complete (flags=0x%x)", a.setup)
	case !a.expoSet:
		return errorf(KindPrecondition, op, "exposure time not set")
	case !a.intSet:
		return errorf(KindPrecondition, op, "interval time not set")
	}

	if transfer := a.transferTime(); a.interval-a.minIT+a.expo < transfer {
		return errorf(KindPrecondition, op,
			"Timing too fast (interval+expo < transfer): interval=%v, min-interval=%v, expo=%v, transfer=%v",
			a.fmtTime(a.interval), a.fmtTime(a.minIT), a.fmtTime(a.expo), a.fmtTime(transfer),
		)
	}

	err := a.codec.WriteRegister(RegROPorts, []byte{a.portMask()})
	if err != nil {
		return fmt.Errorf("priam: could not write readout ports: %w", err)
	}

	err = a.codec.WriteRegister(RegTrigCfg, []byte{a.trigStatus()})
	if err != nil {
		return fmt.Errorf("priam: could not write trigger configuration: %w", err)
	}

	err = a.codec.WriteRegister(RegAcqStart, nil)
	if err != nil {
		return fmt.Errorf("priam: could not start acquisition: %w", err)
	}
	return nil
}

// StopAcq stops the running acquisition.
func (a *Acq) StopAcq() error {
	err := a.codec.WriteRegister(RegAcqStop, nil)
	if err != nil {
		return fmt.Errorf("priam: could not stop acquisition: %w", err)
	}
	return nil
}

// Status reads the acquisition state of the board.
func (a *Acq) Status() (Status, error) {
	v, err := a.codec.ReadRegister(RegStatus, 0)
	if err != nil {
		return Fault, fmt.Errorf("priam: could not read status: %w", err)
	}
	return statusFrom(v[0]), nil
}

func statusFrom(v byte) Status {
	if v&0x80 != 0 {
		return Fault
	}
	switch v & 0x03 {
	case 0:
		return Idle
	case 1:
		return WaitForTrigger
	case 2:
		return Exposure
	case 3:
		return Readout
	}
	return Fault
}

// FrameCount reads the number of frames acquired so far.
func (a *Acq) FrameCount() (int, error) {
	v, err := a.codec.ReadRegister(RegFrameCount, 0)
	if err != nil {
		return 0, fmt.Errorf("priam: could not read frame count: %w", err)
	}
	return int(binary.BigEndian.Uint16(v)), nil
}

// Version returns the configured chip version.
func (a *Acq) Version() Version { return a.version }

// Polarity returns the configured pixel polarity.
func (a *Acq) Polarity() Polarity { return a.polarity }
