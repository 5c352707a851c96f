// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package detector

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/go-lpc/maxipix/priam"
	"github.com/go-lpc/maxipix/reconstruct"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	yml "gopkg.in/yaml.v2"
)

// Config describes a Maxipix detector and its acquisition defaults.
type Config struct {
	Name   string `koanf:"name" yaml:"name"`
	Device Device `koanf:"device" yaml:"device"`

	Version   string  `koanf:"version" yaml:"version"`
	Polarity  string  `koanf:"polarity" yaml:"polarity"`
	Frequency float64 `koanf:"frequency" yaml:"frequency"` // MHz
	FSR       string  `koanf:"fsr" yaml:"fsr"`             // hex-encoded reference FSR of port 0

	Chips XY     `koanf:"chips" yaml:"chips"`
	Gaps  XY     `koanf:"gaps" yaml:"gaps"` // pixels
	Fill  string `koanf:"fill" yaml:"fill"`
	Ports []int  `koanf:"ports" yaml:"ports"`

	TimeUnit string    `koanf:"time-unit" yaml:"time-unit"`
	Acq      AcqConfig `koanf:"acq" yaml:"acq"`

	// Source is the frame file replayed by the run loop, if any.
	Source string `koanf:"source" yaml:"source"`
}

// Device describes how to reach the Priam board.
type Device struct {
	Kind string `koanf:"kind" yaml:"kind"` // serial or ftdi
	Name string `koanf:"name" yaml:"name"` // tty device, for serial
	Baud int    `koanf:"baud" yaml:"baud"`
	VID  int    `koanf:"vid" yaml:"vid"` // USB vendor ID, for ftdi
	PID  int    `koanf:"pid" yaml:"pid"` // USB product ID, for ftdi
}

type XY struct {
	X int `koanf:"x" yaml:"x"`
	Y int `koanf:"y" yaml:"y"`
}

// AcqConfig holds the acquisition parameters applied on start.
// Times are expressed in the configured time unit.
type AcqConfig struct {
	Expo     float64 `koanf:"expo" yaml:"expo"`
	Interval float64 `koanf:"interval" yaml:"interval"`
	Frames   int     `koanf:"frames" yaml:"frames"`
	Trigger  string  `koanf:"trigger" yaml:"trigger"`
}

// DefaultConfig returns the configuration of a single MXR2 chip
// attached to the first USB serial port.
func DefaultConfig() Config {
	return Config{
		Name: "maxipix",
		Device: Device{
			Kind: "serial",
			Name: "/dev/ttyUSB0",
			Baud: 115200,
			VID:  0x0403,
			PID:  0x6014,
		},
		Version:   "mxr2",
		Polarity:  "positive",
		Frequency: priam.DefaultFreq,
		Chips:     XY{X: 1, Y: 1},
		Fill:      "raw",
		Ports:     []int{0},
		TimeUnit:  "ms",
		Acq: AcqConfig{
			Expo:     1,
			Interval: 1,
			Frames:   1,
			Trigger:  "internal",
		},
	}
}

// LoadConfig loads the YAML configuration file fname on top of the
// default configuration.
func LoadConfig(fname string) (Config, error) {
	k := koanf.New(".")
	err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil)
	if err != nil {
		return Config{}, fmt.Errorf("detector: could not load default config: %w", err)
	}

	err = k.Load(file.Provider(fname), yaml.Parser())
	if err != nil {
		return Config{}, fmt.Errorf("detector: could not load config file %q: %w", fname, err)
	}

	var cfg Config
	err = k.Unmarshal("", &cfg)
	if err != nil {
		return cfg, fmt.Errorf("detector: could not decode config file %q: %w", fname, err)
	}

	err = cfg.Validate()
	if err != nil {
		return cfg, fmt.Errorf("detector: invalid config file %q: %w", fname, err)
	}

	return cfg, nil
}

// Save writes the configuration as YAML to fname.
func (cfg Config) Save(fname string) error {
	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("detector: could not create config file: %w", err)
	}
	defer f.Close()

	err = yml.NewEncoder(f).Encode(cfg)
	if err != nil {
		return fmt.Errorf("detector: could not encode config: %w", err)
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("detector: could not close config file: %w", err)
	}
	return nil
}

// settings is the parsed form of a Config.
type settings struct {
	version  priam.Version
	polarity priam.Polarity
	fsr      []byte
	fill     reconstruct.Fill
	unit     priam.TimeUnit
	trigger  priam.TrigMode
	geom     Geometry
}

func (cfg Config) parse() (settings, error) {
	var (
		set settings
		err error
	)

	set.version, err = priam.ParseVersion(cfg.Version)
	if err != nil {
		return set, err
	}
	set.polarity, err = priam.ParsePolarity(cfg.Polarity)
	if err != nil {
		return set, err
	}
	set.fsr, err = hex.DecodeString(strings.TrimPrefix(cfg.FSR, "0x"))
	if err != nil {
		return set, fmt.Errorf("detector: could not decode FSR: %w", err)
	}
	if len(set.fsr) != 0 && len(set.fsr) != priam.FSRSize {
		return set, fmt.Errorf("detector: invalid FSR size (got=%d, want=%d)", len(set.fsr), priam.FSRSize)
	}
	set.fill, err = reconstruct.ParseFill(cfg.Fill)
	if err != nil {
		return set, err
	}
	set.unit, err = priam.ParseTimeUnit(cfg.TimeUnit)
	if err != nil {
		return set, err
	}
	set.trigger, err = priam.ParseTrigMode(cfg.Acq.Trigger)
	if err != nil {
		return set, err
	}

	set.geom = Geometry{
		ChipsX: cfg.Chips.X,
		ChipsY: cfg.Chips.Y,
		GapX:   cfg.Gaps.X,
		GapY:   cfg.Gaps.Y,
		Fill:   set.fill,
	}
	if set.geom.NumChips() != 1 {
		if _, err := set.geom.Model(); err != nil {
			return set, err
		}
	}
	if len(cfg.Ports) != set.geom.NumChips() {
		return set, fmt.Errorf(
			"detector: invalid number of readout ports (got=%d, want=%d)",
			len(cfg.Ports), set.geom.NumChips(),
		)
	}

	switch cfg.Device.Kind {
	case "serial", "ftdi":
	default:
		return set, fmt.Errorf("detector: unknown device kind %q", cfg.Device.Kind)
	}

	return set, nil
}

// Validate checks all the fields of the configuration can be parsed.
func (cfg Config) Validate() error {
	_, err := cfg.parse()
	return err
}
