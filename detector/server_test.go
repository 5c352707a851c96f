// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package detector

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/maxipix/internal/eformat"
	"github.com/go-lpc/maxipix/internal/fakepriam"
	"github.com/go-lpc/maxipix/priam"
)

// memSource serves a fixed list of frames.
type memSource struct {
	mu     sync.Mutex
	frames []eformat.Frame
	closed bool
}

func (src *memSource) Next(ctx context.Context, f *eformat.Frame) error {
	src.mu.Lock()
	defer src.mu.Unlock()
	if len(src.frames) == 0 {
		return io.EOF
	}
	*f = src.frames[0]
	src.frames = src.frames[1:]
	return nil
}

func (src *memSource) Close() error {
	src.mu.Lock()
	defer src.mu.Unlock()
	src.closed = true
	return nil
}

// blockSource blocks in Next until its context is done.
type blockSource struct {
	mu      sync.Mutex
	entered chan struct{}
	inNext  bool
	closed  bool
	overlap bool // Close called while Next was running
}

func newBlockSource() *blockSource {
	return &blockSource{entered: make(chan struct{})}
}

func (src *blockSource) Next(ctx context.Context, f *eformat.Frame) error {
	src.mu.Lock()
	if !src.inNext && src.entered != nil {
		close(src.entered)
		src.entered = nil
	}
	src.inNext = true
	src.mu.Unlock()

	<-ctx.Done()

	src.mu.Lock()
	src.inNext = false
	src.mu.Unlock()
	return ctx.Err()
}

func (src *blockSource) Close() error {
	src.mu.Lock()
	defer src.mu.Unlock()
	src.closed = true
	src.overlap = src.overlap || src.inNext
	return nil
}

func newTestServer(t *testing.T, cfg Config, brd *fakepriam.Board, src FrameSource) *Server {
	t.Helper()

	fname := filepath.Join(t.TempDir(), "mpx.yaml")
	err := cfg.Save(fname)
	if err != nil {
		t.Fatalf("could not save config: %+v", err)
	}

	srv := NewServer(fname, testOptions()...)
	srv.Poll = 5 * time.Millisecond
	srv.open = func(cfg Config) (*Camera, error) {
		return New(priam.NewSerial(brd), cfg, testOptions()...)
	}
	srv.newSource = func(cfg Config, rate time.Duration) (FrameSource, error) {
		return src, nil
	}
	return srv
}

func newTestContext(ctx context.Context, w io.Writer) tdaq.Context {
	return tdaq.Context{
		Ctx: ctx,
		Msg: log.NewMsgStream("mpx-srv", log.LvlDebug, w),
	}
}

func TestServer(t *testing.T) {
	var (
		cfg    = config5x1()
		brd    = newFakeBoard()
		frames = []eformat.Frame{
			newRawFrame(1, 5*256, 256),
			newRawFrame(2, 5*256, 256),
			newRawFrame(3, 5*256, 256),
		}
		src = &memSource{frames: append([]eformat.Frame(nil), frames...)}
		srv *Server

		msg  = new(bytes.Buffer)
		ctx  = newTestContext(context.Background(), msg)
		resp tdaq.Frame
	)

	cfg.Acq = AcqConfig{Expo: 2, Interval: 2, Frames: 3, Trigger: "internal"}
	srv = newTestServer(t, cfg, brd, src)

	err := srv.OnStart(ctx, &resp, tdaq.Frame{})
	if err == nil {
		t.Fatalf("start before init should fail")
	}

	err = srv.OnConfig(ctx, &resp, tdaq.Frame{})
	if err != nil {
		t.Fatalf("could not /config: %+v", err)
	}

	err = srv.OnInit(ctx, &resp, tdaq.Frame{})
	if err != nil {
		t.Fatalf("could not /init: %+v", err)
	}
	if srv.Camera() == nil {
		t.Fatalf("no camera after /init")
	}

	err = srv.OnStart(ctx, &resp, tdaq.Frame{})
	if err != nil {
		t.Fatalf("could not /start: %+v", err)
	}

	rctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error)
	go func() {
		done <- srv.Run(newTestContext(rctx, io.Discard))
	}()

	w, h := srv.Camera().ImageSize()
	out := newTestContext(rctx, io.Discard)
	for i := range frames {
		var dst tdaq.Frame
		err := srv.Frames(out, &dst)
		if err != nil {
			t.Fatalf("could not read frame %d: %+v", i, err)
		}

		var f eformat.Frame
		err = eformat.NewDecoder(bytes.NewReader(dst.Body)).Decode(&f)
		if err != nil {
			t.Fatalf("could not decode frame %d: %+v", i, err)
		}
		if got, want := f.ID, frames[i].ID; got != want {
			t.Fatalf("invalid frame id: got=%d, want=%d", got, want)
		}
		if f.Width != w || f.Height != h {
			t.Fatalf("invalid frame size: got=%dx%d, want=%dx%d", f.Width, f.Height, w, h)
		}
		if !f.Time.Equal(frames[i].Time) {
			t.Fatalf("invalid frame time: got=%v, want=%v", f.Time, frames[i].Time)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run loop failed: %+v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run loop did not stop")
	}

	err = srv.OnStop(ctx, &resp, tdaq.Frame{})
	if err != nil {
		t.Fatalf("could not /stop: %+v", err)
	}

	err = srv.OnReset(ctx, &resp, tdaq.Frame{})
	if err != nil {
		t.Fatalf("could not /reset: %+v", err)
	}
	if srv.Camera() != nil {
		t.Fatalf("camera still attached after /reset")
	}
	if !src.closed {
		t.Fatalf("frame source not closed after /reset")
	}

	err = srv.OnStop(ctx, &resp, tdaq.Frame{})
	if err == nil {
		t.Fatalf("stop after reset should fail")
	}

	err = srv.OnQuit(ctx, &resp, tdaq.Frame{})
	if err != nil {
		t.Fatalf("could not /quit: %+v", err)
	}
}

func TestServerConfigFile(t *testing.T) {
	var (
		brd  = newFakeBoard()
		srv  = newTestServer(t, testConfig(), brd, nil)
		ctx  = newTestContext(context.Background(), io.Discard)
		resp tdaq.Frame
	)

	other := config5x1()
	other.Name = "other"
	fname := filepath.Join(t.TempDir(), "other.yaml")
	err := other.Save(fname)
	if err != nil {
		t.Fatalf("could not save config: %+v", err)
	}

	req := new(bytes.Buffer)
	enc := tdaq.NewEncoder(req)
	enc.WriteStr(fname)
	if err := enc.Err(); err != nil {
		t.Fatalf("could not encode request: %+v", err)
	}

	err = srv.OnConfig(ctx, &resp, tdaq.Frame{Body: req.Bytes()})
	if err != nil {
		t.Fatalf("could not /config: %+v", err)
	}

	err = srv.OnInit(ctx, &resp, tdaq.Frame{})
	if err != nil {
		t.Fatalf("could not /init: %+v", err)
	}
	defer srv.OnQuit(ctx, &resp, tdaq.Frame{})

	if got, want := srv.Camera().Config().Name, "other"; got != want {
		t.Fatalf("invalid detector: got=%q, want=%q", got, want)
	}

	req.Reset()
	enc = tdaq.NewEncoder(req)
	enc.WriteStr(filepath.Join(t.TempDir(), "not-there.yaml"))
	if err := enc.Err(); err != nil {
		t.Fatalf("could not encode request: %+v", err)
	}
	err = srv.OnConfig(ctx, &resp, tdaq.Frame{Body: req.Bytes()})
	if err == nil {
		t.Fatalf("expected an error for a missing config file")
	}
}

func TestServerFault(t *testing.T) {
	var (
		brd  = newFakeBoard()
		srv  = newTestServer(t, testConfig(), brd, nil)
		ctx  = newTestContext(context.Background(), io.Discard)
		resp tdaq.Frame
	)

	faults := make(chan error, 16)
	srv.OnFault = func(err error) {
		select {
		case faults <- err:
		default:
		}
	}

	for _, f := range []func(tdaq.Context, *tdaq.Frame, tdaq.Frame) error{
		srv.OnConfig, srv.OnInit, srv.OnStart,
	} {
		err := f(ctx, &resp, tdaq.Frame{})
		if err != nil {
			t.Fatalf("could not run transition: %+v", err)
		}
	}
	defer srv.OnQuit(ctx, &resp, tdaq.Frame{})

	brd.Set(0x20, 0x80)

	rctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error)
	go func() {
		done <- srv.Run(newTestContext(rctx, io.Discard))
	}()

	select {
	case err := <-faults:
		if err == nil {
			t.Fatalf("nil fault")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no fault reported")
	}

	cancel()
	err := <-done
	if err != nil {
		t.Fatalf("run loop failed: %+v", err)
	}
}

func TestServerReleaseWhileRunning(t *testing.T) {
	for _, tc := range []struct {
		name string
		cmd  func(srv *Server) func(tdaq.Context, *tdaq.Frame, tdaq.Frame) error
	}{
		{"reset", func(srv *Server) func(tdaq.Context, *tdaq.Frame, tdaq.Frame) error { return srv.OnReset }},
		{"quit", func(srv *Server) func(tdaq.Context, *tdaq.Frame, tdaq.Frame) error { return srv.OnQuit }},
		{"init", func(srv *Server) func(tdaq.Context, *tdaq.Frame, tdaq.Frame) error { return srv.OnInit }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var (
				brd  = newFakeBoard()
				src  = newBlockSource()
				srv  = newTestServer(t, testConfig(), brd, src)
				ctx  = newTestContext(context.Background(), io.Discard)
				resp tdaq.Frame
			)

			for _, f := range []func(tdaq.Context, *tdaq.Frame, tdaq.Frame) error{
				srv.OnConfig, srv.OnInit, srv.OnStart,
			} {
				err := f(ctx, &resp, tdaq.Frame{})
				if err != nil {
					t.Fatalf("could not run transition: %+v", err)
				}
			}
			defer srv.OnQuit(ctx, &resp, tdaq.Frame{})

			entered := src.entered
			done := make(chan error, 1)
			go func() {
				done <- srv.Run(newTestContext(context.Background(), io.Discard))
			}()

			select {
			case <-entered:
			case <-time.After(5 * time.Second):
				t.Fatalf("run loop did not read the frame source")
			}

			err := srv.Run(ctx)
			if err == nil {
				t.Fatalf("second run loop should fail")
			}

			err = tc.cmd(srv)(ctx, &resp, tdaq.Frame{})
			if err != nil {
				t.Fatalf("could not /%s: %+v", tc.name, err)
			}

			select {
			case err := <-done:
				if err != nil {
					t.Fatalf("run loop failed: %+v", err)
				}
			case <-time.After(5 * time.Second):
				t.Fatalf("run loop did not stop")
			}

			src.mu.Lock()
			defer src.mu.Unlock()
			if !src.closed {
				t.Fatalf("frame source not closed")
			}
			if src.overlap {
				t.Fatalf("frame source closed while the run loop was reading it")
			}
		})
	}
}

func TestServerInitError(t *testing.T) {
	var (
		brd  = newFakeBoard()
		srv  = newTestServer(t, testConfig(), brd, nil)
		ctx  = newTestContext(context.Background(), io.Discard)
		resp tdaq.Frame
	)
	srv.open = func(cfg Config) (*Camera, error) {
		return nil, errors.New("no board")
	}

	err := srv.OnConfig(ctx, &resp, tdaq.Frame{})
	if err != nil {
		t.Fatalf("could not /config: %+v", err)
	}
	err = srv.OnInit(ctx, &resp, tdaq.Frame{})
	if err == nil {
		t.Fatalf("expected an error")
	}

	err = srv.Run(ctx)
	if err == nil {
		t.Fatalf("run without a detector should fail")
	}
}
