// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mpx-srv starts a TDAQ server driving a Maxipix detector.
//
// Usage: mpx-srv [TDAQ-OPTIONS] [-pmon] config.yaml
//
// Board faults detected while running are reported by mail when the
// MAIL_USERNAME, MAIL_PASSWORD, MAIL_SERVER, MAIL_PORT and MAIL_TGTS
// environment variables are set.
package main // import "github.com/go-lpc/maxipix/cmd/mpx-srv"

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/maxipix"
	"github.com/go-lpc/maxipix/detector"
	"github.com/sbinet/pmon"
	mail "gopkg.in/gomail.v2"
)

var (
	doMon   = flag.Bool("pmon", false, "enable pmon self-monitoring")
	doFreq  = flag.Duration("pmon-freq", 1*time.Second, "pmon frequency")
	monFile = flag.String("pmon-log", "mpx-srv-pmon.log", "path to pmon log file")
)

func main() {
	cmd := flags.New()

	log.SetPrefix("mpx-srv: ")
	log.SetFlags(0)

	if len(cmd.Args) != 1 {
		log.Fatalf("missing path to detector configuration file")
	}

	if v, _ := maxipix.Version(); v != "" {
		log.Printf("version: %s", v)
	}

	if *doMon {
		f, err := monitor(os.Getpid(), *monFile, *doFreq)
		if err != nil {
			log.Fatalf("could not start self-monitoring: %+v", err)
		}
		defer f.Close()
	}

	dev := detector.NewServer(
		cmd.Args[0],
		detector.WithLogger(log.New(os.Stdout, "mpx-srv: ", 0)),
	)
	dev.OnFault = newAlerter("mpx-srv", mailerFromEnv()).alert

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/frames", dev.Frames)

	srv.RunHandle(dev.Run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

// monitor starts monitoring the resources of process pid.
// The returned file holds the pmon log.
func monitor(pid int, fname string, freq time.Duration) (*os.File, error) {
	p, err := pmon.Monitor(pid)
	if err != nil {
		return nil, fmt.Errorf("could not start monitoring pid=%d: %w", pid, err)
	}

	f, err := os.Create(fname)
	if err != nil {
		return nil, fmt.Errorf("could not create pmon log file: %w", err)
	}
	p.W = f
	p.Freq = freq

	go func() {
		err := p.Run()
		if err != nil {
			log.Printf("could not run pmon: %+v", err)
		}
	}()

	return f, nil
}

// maxAlerts is the number of fault alerts sent per server lifetime.
const maxAlerts = 5

type alerter struct {
	mu   sync.Mutex
	name string
	n    int
	send func(subject, body string) error
}

func newAlerter(name string, send func(subject, body string) error) *alerter {
	if name == "" {
		name = "mpx-srv"
	}
	return &alerter{name: name, send: send}
}

func (a *alerter) alert(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	log.Printf("detector fault: %+v", err)
	a.n++
	if a.n > maxAlerts || a.send == nil {
		return
	}

	var (
		subject = fmt.Sprintf("[%s] detector fault", a.name)
		body    = fmt.Sprintf("process: %s\nalert:   %d/%d\nerror:   %v\n", a.name, a.n, maxAlerts, err)
	)
	if err := a.send(subject, body); err != nil {
		log.Printf("could not send mail alert: %+v", err)
	}
}

func mailerFromEnv() func(subject, body string) error {
	var (
		usr  = os.Getenv("MAIL_USERNAME")
		pwd  = os.Getenv("MAIL_PASSWORD")
		host = os.Getenv("MAIL_SERVER")
		port = atoi(os.Getenv("MAIL_PORT"))
		tgts = splitTargets(os.Getenv("MAIL_TGTS"))
	)
	if usr == "" || pwd == "" || host == "" || port == 0 || len(tgts) == 0 {
		log.Printf("mail alerts disabled: missing credentials")
		return nil
	}

	return func(subject, body string) error {
		msg := mail.NewMessage()
		msg.SetHeader("From", usr)
		msg.SetHeader("Bcc", tgts...)
		msg.SetHeader("Subject", subject)
		msg.SetBody("text/plain", body)

		dial := mail.NewDialer(host, port, usr, pwd)
		dial.TLSConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
		return dial.DialAndSend(msg)
	}
}

func splitTargets(s string) []string {
	var tgts []string
	for _, tgt := range strings.Split(s, ",") {
		tgt = strings.TrimSpace(tgt)
		if tgt == "" {
			continue
		}
		tgts = append(tgts, tgt)
	}
	return tgts
}

func atoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
