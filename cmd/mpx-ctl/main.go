// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mpx-ctl is an interactive shell controlling a Maxipix detector.
//
// Usage: mpx-ctl [OPTIONS] config.yaml
//
// Example:
//
//	$> mpx-ctl ./id01-5x1.yaml
//	mpx> expo 10
//	mpx> frames 100
//	mpx> start
//	mpx> status
//	status: exposure (frames=42)
//	mpx> stop
package main // import "github.com/go-lpc/maxipix/cmd/mpx-ctl"

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-lpc/maxipix"
	"github.com/go-lpc/maxipix/conddb"
	"github.com/go-lpc/maxipix/detector"
	"github.com/go-lpc/maxipix/pixel"
	"github.com/go-lpc/maxipix/priam"
	"github.com/peterh/liner"
)

func main() {
	log.SetPrefix("mpx-ctl: ")
	log.SetFlags(0)

	var (
		scan = flag.Bool("scan", false, "list connected FTDI devices and exit")
		vid  = flag.Uint("vid", 0x0403, "USB vendor ID of FTDI devices to scan")
		hist = flag.String("hist", filepath.Join(os.TempDir(), ".mpx-ctl.history"), "path to shell history")
		db   = flag.String("db", "", "conditions database where to record chip identifiers (optional)")
	)

	flag.Usage = func() {
		fmt.Printf(`Usage: mpx-ctl [OPTIONS] config.yaml

ex:
 $> mpx-ctl ./id01-5x1.yaml
 $> mpx-ctl -scan
 $> mpx-ctl -db=maxipix ./id01-5x1.yaml

options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if *scan {
		listDevices(os.Stdout, uint16(*vid))
		return
	}

	if flag.NArg() != 1 {
		flag.Usage()
		log.Fatalf("missing path to detector configuration file")
	}

	cfg, err := detector.LoadConfig(flag.Arg(0))
	if err != nil {
		log.Fatalf("could not load configuration: %+v", err)
	}

	cam, err := detector.Open(cfg)
	if err != nil {
		log.Fatalf("could not open detector %q: %+v", cfg.Name, err)
	}
	defer cam.Close()

	if *db != "" {
		err = recordChips(*db, cfg.Name, cam.ChipIDs())
		if err != nil {
			log.Fatalf("could not record chip identifiers: %+v", err)
		}
	}

	err = run(newShell(cam, os.Stdout), *hist)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func listDevices(w io.Writer, vid uint16) {
	devs := priam.ListFTDI(vid, priam.FTDIProducts...)
	if len(devs) == 0 {
		fmt.Fprintf(w, "no FTDI device found (vid=0x%04x)\n", vid)
		return
	}
	for _, dev := range devs {
		fmt.Fprintf(w, "vid=0x%04x pid=0x%04x serial=%q\n", dev.VID, dev.PID, dev.Serial)
	}
}

func recordChips(dbname, name string, ids []string) error {
	db, err := conddb.Open(dbname)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = db.SaveChipIDs(ctx, name, ids)
	if err != nil {
		return err
	}

	return db.Close()
}

func run(sh *shell, hist string) error {
	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(sh.complete)

	if f, err := os.Open(hist); err == nil {
		_, _ = term.ReadHistory(f)
		f.Close()
	}
	defer func() {
		f, err := os.Create(hist)
		if err != nil {
			log.Printf("could not save history: %+v", err)
			return
		}
		defer f.Close()
		_, _ = term.WriteHistory(f)
	}()

	for {
		line, err := term.Prompt("mpx> ")
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, liner.ErrPromptAborted):
			return nil
		default:
			return fmt.Errorf("could not read command: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		err = sh.exec(line)
		switch {
		case errors.Is(err, errQuit):
			return nil
		case err != nil:
			fmt.Fprintf(sh.w, "error: %v\n", err)
		}
	}
}

var errQuit = errors.New("quit")

type shell struct {
	cam *detector.Camera
	cfg detector.Config
	w   io.Writer

	cmds map[string]command
}

type command struct {
	help string
	narg int
	run  func(args []string) error
}

func newShell(cam *detector.Camera, w io.Writer) *shell {
	sh := &shell{
		cam: cam,
		cfg: cam.Config(),
		w:   w,
	}
	sh.cmds = map[string]command{
		"help":     {"display this help", 0, sh.cmdHelp},
		"info":     {"display detector information", 0, sh.cmdInfo},
		"status":   {"display acquisition status", 0, sh.cmdStatus},
		"expo":     {"expo <time>: set exposure time", 1, sh.cmdExpo},
		"interval": {"interval <time>: set interval time (<=0 for the minimum)", 1, sh.cmdInterval},
		"frames":   {"frames <n>: set number of frames (0 for infinite)", 1, sh.cmdFrames},
		"trigger":  {"trigger <mode>: set trigger mode (internal|ext-start|ext-multi|ext-gate)", 1, sh.cmdTrigger},
		"start":    {"start acquisition", 0, sh.cmdStart},
		"stop":     {"stop acquisition", 0, sh.cmdStop},
		"chips":    {"display chip identifiers", 0, sh.cmdChips},
		"fsr":      {"fsr <port> <hex>: load the FSR of a chip", 2, sh.cmdFSR},
		"pixels":   {"pixels <port|all>: summarize the pixel configuration of a chip", 1, sh.cmdPixels},
		"save":     {"save <file>: save the configuration", 1, sh.cmdSave},
		"quit":     {"quit the shell", 0, func([]string) error { return errQuit }},
	}
	return sh
}

func (sh *shell) names() []string {
	names := make([]string, 0, len(sh.cmds))
	for name := range sh.cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (sh *shell) complete(line string) []string {
	var out []string
	for _, name := range sh.names() {
		if strings.HasPrefix(name, line) {
			out = append(out, name)
		}
	}
	return out
}

func (sh *shell) exec(line string) error {
	toks := strings.Fields(line)
	if len(toks) == 0 {
		return nil
	}
	name, args := toks[0], toks[1:]
	if name == "exit" {
		name = "quit"
	}
	cmd, ok := sh.cmds[name]
	if !ok {
		return fmt.Errorf("unknown command %q", name)
	}
	if len(args) != cmd.narg {
		return fmt.Errorf("%s: invalid number of arguments (got=%d, want=%d)", name, len(args), cmd.narg)
	}
	return cmd.run(args)
}

func (sh *shell) cmdHelp([]string) error {
	for _, name := range sh.names() {
		fmt.Fprintf(sh.w, "  %-9s %s\n", name, sh.cmds[name].help)
	}
	return nil
}

func (sh *shell) cmdInfo([]string) error {
	w, h := sh.cam.ImageSize()
	if v, _ := maxipix.Version(); v != "" {
		fmt.Fprintf(sh.w, "vers:   %s\n", v)
	}
	fmt.Fprintf(sh.w, "name:   %s\n", sh.cfg.Name)
	fmt.Fprintf(sh.w, "type:   %s\n", sh.cam.Type())
	fmt.Fprintf(sh.w, "model:  %s\n", sh.cam.Model())
	fmt.Fprintf(sh.w, "image:  %dx%d\n", w, h)
	fmt.Fprintf(sh.w, "recons: %v\n", sh.cam.NeedReconstruction())
	fmt.Fprintf(sh.w, "acq:    expo=%v interval=%v frames=%d trigger=%s (unit=%s)\n",
		sh.cfg.Acq.Expo, sh.cfg.Acq.Interval, sh.cfg.Acq.Frames, sh.cfg.Acq.Trigger,
		sh.cfg.TimeUnit,
	)
	return nil
}

func (sh *shell) cmdStatus([]string) error {
	st, err := sh.cam.Status()
	if err != nil {
		return err
	}
	n, err := sh.cam.FrameCount()
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.w, "status: %v (frames=%d)\n", st, n)
	return nil
}

func (sh *shell) cmdExpo(args []string) error {
	t, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid exposure time %q: %w", args[0], err)
	}
	set, err := sh.cam.SetExposureTime(t)
	if err != nil {
		return err
	}
	sh.cfg.Acq.Expo = set
	fmt.Fprintf(sh.w, "exposure time: %v%s\n", set, sh.cfg.TimeUnit)
	return nil
}

func (sh *shell) cmdInterval(args []string) error {
	t, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid interval time %q: %w", args[0], err)
	}
	set, err := sh.cam.SetIntervalTime(t)
	if err != nil {
		return err
	}
	sh.cfg.Acq.Interval = set
	if t <= 0 {
		sh.cfg.Acq.Interval = 0
	}
	fmt.Fprintf(sh.w, "interval time: %v%s\n", set, sh.cfg.TimeUnit)
	return nil
}

func (sh *shell) cmdFrames(args []string) error {
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid number of frames %q: %w", args[0], err)
	}
	err = sh.cam.SetNbFrames(n)
	if err != nil {
		return err
	}
	sh.cfg.Acq.Frames = n
	return nil
}

func (sh *shell) cmdTrigger(args []string) error {
	m, err := priam.ParseTrigMode(args[0])
	if err != nil {
		return err
	}
	err = sh.cam.SetTrigger(m)
	if err != nil {
		return err
	}
	sh.cfg.Acq.Trigger = m.String()
	return nil
}

func (sh *shell) cmdStart([]string) error {
	err := sh.cam.Prepare(sh.cfg.Acq)
	if err != nil {
		return err
	}
	return sh.cam.StartAcq()
}

func (sh *shell) cmdStop([]string) error {
	return sh.cam.StopAcq()
}

func (sh *shell) cmdChips([]string) error {
	for port, id := range sh.cam.ChipIDs() {
		if id == "" {
			id = "-"
		}
		fmt.Fprintf(sh.w, "port %d: %s\n", port, id)
	}
	return nil
}

func (sh *shell) cmdFSR(args []string) error {
	port, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", args[0], err)
	}
	fsr, err := hex.DecodeString(strings.TrimPrefix(args[1], "0x"))
	if err != nil {
		return fmt.Errorf("invalid FSR: %w", err)
	}
	id, err := sh.cam.SetChipFSR(port, fsr)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.w, "port %d: %s\n", port, id)
	return nil
}

func (sh *shell) cmdPixels(args []string) error {
	if args[0] == "all" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		cfgs, err := sh.cam.PixelConfigs(ctx)
		if err != nil {
			return err
		}
		ports := make([]int, 0, len(cfgs))
		for port := range cfgs {
			ports = append(ports, port)
		}
		sort.Ints(ports)
		for _, port := range ports {
			sh.printPixels(port, cfgs[port])
		}
		return nil
	}

	port, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", args[0], err)
	}
	cfg, err := sh.cam.PixelConfig(port)
	if err != nil {
		return err
	}
	sh.printPixels(port, cfg)
	return nil
}

func (sh *shell) printPixels(port int, cfg *pixel.Config) {
	var masked, tested int
	for i := range cfg.Mask {
		masked += int(cfg.Mask[i])
		tested += int(cfg.Test[i])
	}
	fmt.Fprintf(sh.w, "port %d: masked=%d test=%d\n", port, masked, tested)
}

func (sh *shell) cmdSave(args []string) error {
	return sh.cfg.Save(args[0])
}
