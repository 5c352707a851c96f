// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package detector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-lpc/maxipix/internal/eformat"
	"github.com/go-lpc/maxipix/priam"
	"github.com/go-lpc/maxipix/reconstruct"
	"golang.org/x/xerrors"
)

// Server exposes a Maxipix detector as a TDAQ process.
//
// /config loads the detector configuration, /init connects to the board,
// /start applies the acquisition parameters and starts the acquisition,
// /stop stops it and /reset or /quit release the board.
// Reconstructed frames are published on the /frames output.
type Server struct {
	// Config is the default configuration file, used when /config
	// does not name one.
	Config string

	// Poll is the period of the board status polling while running.
	Poll time.Duration

	// Rate is the period of the replayed frames.
	Rate time.Duration

	// OnFault is called when the board reports a fault while running.
	OnFault func(err error)

	mu  sync.Mutex
	cfg Config
	cam *Camera
	src FrameSource

	open      func(cfg Config) (*Camera, error)
	newSource func(cfg Config, rate time.Duration) (FrameSource, error)

	frames chan []byte
	n      int // frames published during the current run

	halt func()        // cancels the running run loop
	done chan struct{} // closed when the run loop exits
}

// NewServer creates a server loading its configuration from fname.
func NewServer(fname string, opts ...Option) *Server {
	return &Server{
		Config: fname,
		Poll:   1 * time.Second,
		open: func(cfg Config) (*Camera, error) {
			return Open(cfg, opts...)
		},
		newSource: func(cfg Config, rate time.Duration) (FrameSource, error) {
			if cfg.Source == "" {
				return nil, nil
			}
			src, err := OpenReplay(cfg.Source, rate, true)
			if err != nil {
				return nil, err
			}
			return src, nil
		},
		frames: make(chan []byte, 64),
	}
}

// Camera returns the camera connected by /init, if any.
func (srv *Server) Camera() *Camera {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.cam
}

func (srv *Server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	fname := srv.Config
	if len(req.Body) > 0 {
		dec := tdaq.NewDecoder(bytes.NewReader(req.Body))
		if name := dec.ReadStr(); dec.Err() == nil && name != "" {
			fname = name
		}
	}

	cfg, err := LoadConfig(fname)
	if err != nil {
		ctx.Msg.Errorf("could not load configuration %q: %+v", fname, err)
		return xerrors.Errorf("could not load configuration %q: %w", fname, err)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.cfg = cfg
	ctx.Msg.Infof("configuration %q loaded (detector=%q)", fname, cfg.Name)

	return nil
}

func (srv *Server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")

	srv.stopRun()
	srv.mu.Lock()
	defer srv.mu.Unlock()

	srv.release()

	cam, err := srv.open(srv.cfg)
	if err != nil {
		ctx.Msg.Errorf("could not open detector %q: %+v", srv.cfg.Name, err)
		return xerrors.Errorf("could not open detector %q: %w", srv.cfg.Name, err)
	}

	src, err := srv.newSource(srv.cfg, srv.Rate)
	if err != nil {
		_ = cam.Close()
		ctx.Msg.Errorf("could not open frame source: %+v", err)
		return xerrors.Errorf("could not open frame source: %w", err)
	}

	srv.cam = cam
	srv.src = src
	ctx.Msg.Infof("detector %q: %s (%s)", srv.cfg.Name, cam.Type(), cam.Model())

	return nil
}

func (srv *Server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")

	srv.stopRun()
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.cam != nil {
		err := srv.cam.StopAcq()
		if err != nil {
			ctx.Msg.Errorf("could not stop acquisition: %+v", err)
		}
	}
	srv.release()
	srv.drain()

	return nil
}

func (srv *Server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")

	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.cam == nil {
		return xerrors.Errorf("detector not initialized")
	}

	err := srv.cam.Prepare(srv.cfg.Acq)
	if err != nil {
		ctx.Msg.Errorf("could not prepare acquisition: %+v", err)
		return xerrors.Errorf("could not prepare acquisition: %w", err)
	}

	err = srv.cam.StartAcq()
	if err != nil {
		ctx.Msg.Errorf("could not start acquisition: %+v", err)
		return xerrors.Errorf("could not start acquisition: %w", err)
	}
	srv.n = 0

	return nil
}

func (srv *Server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	ctx.Msg.Debugf("received /stop command... -> n=%d", srv.n)
	if srv.cam == nil {
		return xerrors.Errorf("detector not initialized")
	}

	err := srv.cam.StopAcq()
	if err != nil {
		ctx.Msg.Errorf("could not stop acquisition: %+v", err)
		return xerrors.Errorf("could not stop acquisition: %w", err)
	}

	return nil
}

func (srv *Server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")

	srv.stopRun()
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.release()

	return nil
}

// stopRun stops the run loop, if any, and waits for it to exit.
// stopRun must be called without srv.mu held.
func (srv *Server) stopRun() {
	srv.mu.Lock()
	halt, done := srv.halt, srv.done
	srv.mu.Unlock()

	if halt == nil {
		return
	}
	halt()
	<-done
}

// release closes the camera and the frame source.
// release must be called with srv.mu held, once the run loop has exited.
func (srv *Server) release() {
	if srv.src != nil {
		_ = srv.src.Close()
		srv.src = nil
	}
	if srv.cam != nil {
		_ = srv.cam.Close()
		srv.cam = nil
	}
}

func (srv *Server) drain() {
	for {
		select {
		case <-srv.frames:
		default:
			return
		}
	}
}

// Frames publishes the reconstructed frames, encoded as frame records.
func (srv *Server) Frames(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-srv.frames:
		dst.Body = data
	}
	return nil
}

// Run reads the raw frames of the acquisition, reconstructs them and
// publishes them, while polling the board status.
func (srv *Server) Run(ctx tdaq.Context) error {
	srv.mu.Lock()
	var (
		cam  = srv.cam
		src  = srv.src
		poll = srv.Poll
	)
	switch {
	case cam == nil:
		srv.mu.Unlock()
		return xerrors.Errorf("detector not initialized")
	case srv.done != nil:
		srv.mu.Unlock()
		return xerrors.Errorf("run loop already running")
	}
	var (
		halt context.CancelFunc
		done = make(chan struct{})
	)
	ctx.Ctx, halt = context.WithCancel(ctx.Ctx)
	srv.halt = halt
	srv.done = done
	srv.mu.Unlock()

	defer func() {
		halt()
		srv.mu.Lock()
		srv.halt = nil
		srv.done = nil
		srv.mu.Unlock()
		close(done)
	}()

	if poll <= 0 {
		poll = 1 * time.Second
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var (
		raw eformat.Frame
		buf = new(bytes.Buffer)
	)

	for {
		select {
		case <-ctx.Ctx.Done():
			return nil
		case <-ticker.C:
			srv.checkStatus(ctx, cam)
			continue
		default:
		}

		if src == nil {
			select {
			case <-ctx.Ctx.Done():
				return nil
			case <-ticker.C:
				srv.checkStatus(ctx, cam)
			}
			continue
		}

		err := src.Next(ctx.Ctx, &raw)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			ctx.Msg.Infof("end of frame source")
			src = nil
			continue
		case ctx.Ctx.Err() != nil:
			return nil
		default:
			ctx.Msg.Errorf("could not read frame: %+v", err)
			return xerrors.Errorf("could not read frame: %w", err)
		}

		data, err := srv.publish(buf, cam, &raw)
		if err != nil {
			ctx.Msg.Errorf("could not process frame %d: %+v", raw.ID, err)
			continue
		}

		select {
		case srv.frames <- data:
			srv.mu.Lock()
			srv.n++
			srv.mu.Unlock()
		default:
			ctx.Msg.Debugf("dropping frame %d", raw.ID)
		}
	}
}

func (srv *Server) publish(buf *bytes.Buffer, cam *Camera, raw *eformat.Frame) ([]byte, error) {
	img, err := cam.ProcessFrame(raw.Pixels, reconstruct.Allocate)
	if err != nil {
		return nil, err
	}
	w, h := cam.ImageSize()

	buf.Reset()
	err = eformat.NewEncoder(buf).Encode(&eformat.Frame{
		ID:     raw.ID,
		Width:  w,
		Height: h,
		Time:   raw.Time,
		Pixels: img,
	})
	if err != nil {
		return nil, fmt.Errorf("could not encode frame %d: %w", raw.ID, err)
	}
	return append([]byte(nil), buf.Bytes()...), nil
}

func (srv *Server) checkStatus(ctx tdaq.Context, cam *Camera) {
	st, err := cam.Status()
	switch {
	case err != nil:
		ctx.Msg.Errorf("could not read board status: %+v", err)
		srv.fault(xerrors.Errorf("could not read board status: %w", err))
	case st == priam.Fault:
		ctx.Msg.Errorf("board reported a fault")
		srv.fault(xerrors.Errorf("detector %q: board reported a fault", cam.Config().Name))
	default:
		ctx.Msg.Debugf("board status: %v", st)
	}
}

func (srv *Server) fault(err error) {
	if srv.OnFault == nil {
		return
	}
	srv.OnFault(err)
}
