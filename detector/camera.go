// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package detector exposes Maxipix detectors to acquisition frameworks:
// geometry, frame reconstruction and register-level control of the
// Priam readout board.
package detector // import "github.com/go-lpc/maxipix/detector"

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/go-lpc/maxipix/pixel"
	"github.com/go-lpc/maxipix/priam"
	"github.com/go-lpc/maxipix/reconstruct"
)

var openTransport = openTransportImpl

func openTransportImpl(dev Device) (priam.Transport, error) {
	switch dev.Kind {
	case "serial":
		tr, err := priam.OpenSerial(dev.Name, dev.Baud)
		if err != nil {
			return nil, err
		}
		return tr, nil
	case "ftdi":
		tr, err := priam.OpenFTDI(uint16(dev.VID), uint16(dev.PID), dev.Baud)
		if err != nil {
			return nil, err
		}
		return tr, nil
	}
	return nil, fmt.Errorf("detector: unknown device kind %q", dev.Kind)
}

// Option configures a Camera.
type Option func(*Camera)

// WithLogger sets the logger of the camera and of its register model.
func WithLogger(msg *log.Logger) Option {
	return func(cam *Camera) {
		cam.msg = msg
	}
}

// WithAcqOptions passes options to the register model.
func WithAcqOptions(opts ...priam.Option) Option {
	return func(cam *Camera) {
		cam.aopts = append(cam.aopts, opts...)
	}
}

// Camera drives one Maxipix detector.
//
// Camera owns the register model of the Priam board and serializes all
// the operations issued on it: compound operations, such as loading a
// chip FSR, are atomic with respect to other Camera calls.
type Camera struct {
	mu    sync.Mutex
	msg   *log.Logger
	aopts []priam.Option

	cfg  Config
	set  settings
	tr   priam.Transport // nil when the codec is provided by the caller
	acq  *priam.Acq
	geom Geometry
}

// Open connects to the Priam board described by cfg and sets it up.
func Open(cfg Config, opts ...Option) (*Camera, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("detector: invalid configuration: %w", err)
	}

	tr, err := openTransport(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("detector: could not open %s device %q: %w",
			cfg.Device.Kind, cfg.Device.Name, err,
		)
	}

	codec := priam.NewSerial(tr)
	cam, err := New(codec, cfg, opts...)
	if err != nil {
		_ = tr.Close()
		return nil, err
	}
	codec.SetLogger(cam.msg)
	cam.tr = tr

	return cam, nil
}

// New creates a camera on top of codec and sets the board up.
func New(codec priam.Codec, cfg Config, opts ...Option) (*Camera, error) {
	set, err := cfg.parse()
	if err != nil {
		return nil, fmt.Errorf("detector: invalid configuration: %w", err)
	}

	cam := &Camera{
		msg:  log.New(os.Stdout, "detector: ", 0),
		cfg:  cfg,
		set:  set,
		geom: set.geom,
	}
	for _, opt := range opts {
		opt(cam)
	}

	aopts := append([]priam.Option{priam.WithLogger(cam.msg)}, cam.aopts...)
	cam.acq, err = priam.NewAcq(codec, aopts...)
	if err != nil {
		return nil, fmt.Errorf("detector: could not create register model: %w", err)
	}

	fw, pcb := cam.acq.BoardRev()
	cam.msg.Printf("Priam board: firmware=%d, pcb=%d", fw, pcb)

	err = cam.setup()
	if err != nil {
		return nil, err
	}

	return cam, nil
}

func (cam *Camera) setup() error {
	var (
		acq = cam.acq
		set = cam.set
	)
	err := acq.Setup(set.version, set.polarity, cam.cfg.Frequency, set.fsr)
	if err != nil {
		return fmt.Errorf("detector: could not setup Priam board: %w", err)
	}

	err = acq.SetTimeUnit(set.unit)
	if err != nil {
		return fmt.Errorf("detector: could not set time unit: %w", err)
	}

	switch len(cam.cfg.Ports) {
	case 1:
		err = acq.SetSerialReadout(cam.cfg.Ports[0])
	default:
		err = acq.SetParallelReadout(cam.cfg.Ports)
	}
	if err != nil {
		return fmt.Errorf("detector: could not set readout ports: %w", err)
	}

	err = acq.SetTrigger(set.trigger)
	if err != nil {
		return fmt.Errorf("detector: could not set trigger mode: %w", err)
	}

	return nil
}

// Close releases the transport to the board.
func (cam *Camera) Close() error {
	cam.mu.Lock()
	defer cam.mu.Unlock()

	if cam.tr == nil {
		return nil
	}
	err := cam.tr.Close()
	cam.tr = nil
	if err != nil {
		return fmt.Errorf("detector: could not close transport: %w", err)
	}
	return nil
}

// Do runs f with exclusive access to the register model.
func (cam *Camera) Do(f func(acq *priam.Acq) error) error {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	return f(cam.acq)
}

// Config returns the configuration the camera was created with.
func (cam *Camera) Config() Config { return cam.cfg }

// Geometry returns the chip layout of the detector.
func (cam *Camera) Geometry() Geometry { return cam.geom }

// Type returns the detector type.
func (cam *Camera) Type() string { return Type }

// Model returns the detector model, e.g. "MXR2 5x1".
func (cam *Camera) Model() string { return cam.geom.ModelName(cam.set.version) }

// PixelSize returns the pixel dimensions, in µm.
func (cam *Camera) PixelSize() (x, y float64) { return PixelSize, PixelSize }

// ImageSize returns the dimensions of the images handed out.
func (cam *Camera) ImageSize() (w, h int) { return cam.geom.ImageSize() }

// NeedReconstruction reports whether raw frames are reconstructed.
func (cam *Camera) NeedReconstruction() bool { return cam.geom.NeedReconstruction() }

// Reconstruction returns the reconstructor matching the detector layout.
// Layouts without a reconstruction model yield an unsupported error.
func (cam *Camera) Reconstruction() (reconstruct.Reconstructor, error) {
	return cam.geom.Reconstructor()
}

// ProcessFrame turns a raw frame into an image.
func (cam *Camera) ProcessFrame(raw []uint16, mode reconstruct.Mode) ([]uint16, error) {
	return cam.geom.Process(raw, mode)
}

// SetExposureTime sets the exposure time and returns the value effectively set.
func (cam *Camera) SetExposureTime(t float64) (float64, error) {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	return cam.acq.SetExposureTime(t)
}

// SetIntervalTime sets the interval time and returns the value effectively set.
func (cam *Camera) SetIntervalTime(t float64) (float64, error) {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	if t <= 0 {
		return cam.acq.SetMinIntervalTime()
	}
	return cam.acq.SetIntervalTime(t)
}

func (cam *Camera) SetNbFrames(n int) error {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	return cam.acq.SetNbFrames(n)
}

func (cam *Camera) SetTrigger(m priam.TrigMode) error {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	return cam.acq.SetTrigger(m)
}

// Prepare applies the acquisition parameters.
func (cam *Camera) Prepare(p AcqConfig) error {
	trig, err := priam.ParseTrigMode(p.Trigger)
	if err != nil {
		return fmt.Errorf("detector: invalid trigger mode: %w", err)
	}

	cam.mu.Lock()
	defer cam.mu.Unlock()

	_, err = cam.acq.SetExposureTime(p.Expo)
	if err != nil {
		return fmt.Errorf("detector: could not set exposure time: %w", err)
	}

	if p.Interval <= 0 {
		_, err = cam.acq.SetMinIntervalTime()
	} else {
		_, err = cam.acq.SetIntervalTime(p.Interval)
	}
	if err != nil {
		return fmt.Errorf("detector: could not set interval time: %w", err)
	}

	err = cam.acq.SetNbFrames(p.Frames)
	if err != nil {
		return fmt.Errorf("detector: could not set number of frames: %w", err)
	}

	err = cam.acq.SetTrigger(trig)
	if err != nil {
		return fmt.Errorf("detector: could not set trigger mode: %w", err)
	}

	return nil
}

func (cam *Camera) StartAcq() error {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	return cam.acq.StartAcq()
}

func (cam *Camera) StopAcq() error {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	return cam.acq.StopAcq()
}

func (cam *Camera) Status() (priam.Status, error) {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	return cam.acq.Status()
}

func (cam *Camera) FrameCount() (int, error) {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	return cam.acq.FrameCount()
}

// SetChipFSR loads the FSR of the chip of the given port and returns
// the chip identifier.
func (cam *Camera) SetChipFSR(port int, fsr []byte) (string, error) {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	return cam.acq.SetChipFSR(port, fsr)
}

// ChipIDs returns the identifiers of the chips of all the readout ports.
func (cam *Camera) ChipIDs() []string {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	return cam.acq.ChipIDs()
}

// LoadPixelConfig encodes and uploads the pixel configuration of the chip
// of the given port.
func (cam *Camera) LoadPixelConfig(port int, cfg *pixel.Config) error {
	cam.mu.Lock()
	defer cam.mu.Unlock()

	buf, err := pixel.Encode(cam.acq.Version(), cfg)
	if err != nil {
		return fmt.Errorf("detector: could not encode pixel config of port %d: %w", port, err)
	}
	return cam.acq.WritePixelConfig(port, buf)
}

// PixelConfig reads back and decodes the pixel configuration of the
// chip of the given port.
func (cam *Camera) PixelConfig(port int) (*pixel.Config, error) {
	cam.mu.Lock()
	defer cam.mu.Unlock()

	buf, err := cam.acq.ReadPixelConfig(port)
	if err != nil {
		return nil, err
	}

	pix := make([]uint16, pixel.NumPixels)
	err = pixel.Decode(pix, buf)
	if err != nil {
		return nil, fmt.Errorf("detector: could not decode pixel config of port %d: %w", port, err)
	}

	cfg, err := pixel.FromPixels(cam.acq.Version(), pix)
	if err != nil {
		return nil, fmt.Errorf("detector: could not split pixel config of port %d: %w", port, err)
	}
	return cfg, nil
}

// PixelConfigs reads back the pixel configuration of the chips of all the
// active ports, and decodes them concurrently.
// PixelConfigs returns the configurations indexed by port.
func (cam *Camera) PixelConfigs(ctx context.Context) (map[int]*pixel.Config, error) {
	cam.mu.Lock()
	defer cam.mu.Unlock()

	ports := cam.acq.Ports()
	bufs := make([][]byte, len(ports))
	for i, port := range ports {
		err := ctx.Err()
		if err != nil {
			return nil, err
		}
		bufs[i], err = cam.acq.ReadPixelConfig(port)
		if err != nil {
			return nil, err
		}
	}

	pixs, err := pixel.DecodeChips(ctx, bufs)
	if err != nil {
		return nil, fmt.Errorf("detector: could not decode pixel configs of ports %v: %w", ports, err)
	}

	cfgs := make(map[int]*pixel.Config, len(ports))
	for i, port := range ports {
		cfg, err := pixel.FromPixels(cam.acq.Version(), pixs[i])
		if err != nil {
			return nil, fmt.Errorf("detector: could not split pixel config of port %d: %w", port, err)
		}
		cfgs[port] = cfg
	}
	return cfgs, nil
}
