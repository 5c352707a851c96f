// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package priam

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// Codec exchanges commands with a Priam board.
type Codec interface {
	WriteRegister(reg Register, p []byte) error
	ReadRegister(reg Register, n int) ([]byte, error)
	WriteFSR(fsr []byte) ([]byte, error)
	WriteMatrix(buf []byte) error
	ReadMatrix() ([]byte, error)
	WriteLUT(id LUT, buf []byte) error
	ReadLUT(id LUT, n int) ([]byte, error)
}

const (
	statusTimeout = 200 * time.Millisecond
	endTimeout    = 1 * time.Second
)

// payloadTimeout returns the time allowed to receive n bytes of payload.
func payloadTimeout(n int) time.Duration {
	t := time.Duration(n) * time.Second / 1024
	if t < time.Second {
		t = time.Second
	}
	return t
}

// Serial implements the Priam command protocol over a Transport.
//
// A command is sent as [cmd][payload...] and is answered with
// [status][payload...][0xff], where status echoes the command code.
// Every protocol violation flushes the transport.
type Serial struct {
	mu  sync.Mutex
	tr  Transport
	msg *log.Logger
}

// NewSerial returns a codec exchanging commands over tr.
func NewSerial(tr Transport) *Serial {
	return &Serial{
		tr:  tr,
		msg: log.New(os.Stdout, "priam: ", 0),
	}
}

// SetLogger sets the logger used to report protocol failures.
func (s *Serial) SetLogger(msg *log.Logger) {
	if msg == nil {
		return
	}
	s.msg = msg
}

func (s *Serial) WriteRegister(reg Register, p []byte) error {
	const op = "write-register"
	info, ok := reg.Info()
	if !ok {
		return errorf(KindInvalidValue, op, "unknown register %d", int(reg))
	}
	if info.WCode == NoCode {
		return errorf(KindInvalidValue, op, "register %q is not writable", info.Name)
	}
	if info.WSize >= 0 && len(p) != info.WSize {
		return errorf(KindInvalidValue, op,
			"invalid payload size for register %q (got=%d, want=%d)",
			info.Name, len(p), info.WSize,
		)
	}
	if info.WSize < 0 && len(p) > MaxLUTSize {
		return errorf(KindInvalidValue, op,
			"payload too large for register %q (got=%d, max=%d)",
			info.Name, len(p), MaxLUTSize,
		)
	}

	_, err := s.exchange(op, byte(info.WCode), p, 0)
	return err
}

func (s *Serial) ReadRegister(reg Register, n int) ([]byte, error) {
	const op = "read-register"
	info, ok := reg.Info()
	if !ok {
		return nil, errorf(KindInvalidValue, op, "unknown register %d", int(reg))
	}
	if info.RCode == NoCode {
		return nil, errorf(KindInvalidValue, op, "register %q is not readable", info.Name)
	}
	size := info.RSize
	if size < 0 {
		if n <= 0 {
			return nil, errorf(KindInvalidValue, op,
				"invalid read size %d for variable-size register %q", n, info.Name,
			)
		}
		size = n
	}

	return s.exchange(op, byte(info.RCode), nil, size)
}

// WriteFSR writes a functional shift register and returns the
// content shifted out of the chip.
func (s *Serial) WriteFSR(fsr []byte) ([]byte, error) {
	const op = "write-fsr"
	if len(fsr) != FSRSize {
		return nil, errorf(KindInvalidValue, op, "invalid FSR size (got=%d, want=%d)", len(fsr), FSRSize)
	}
	return s.exchange(op, codeFSRWrite, fsr, FSRSize)
}

func (s *Serial) WriteMatrix(buf []byte) error {
	const op = "write-matrix"
	if len(buf) != MatrixSize {
		return errorf(KindInvalidValue, op, "invalid matrix size (got=%d, want=%d)", len(buf), MatrixSize)
	}
	_, err := s.exchange(op, codeMatrixWrite, buf, 0)
	return err
}

func (s *Serial) ReadMatrix() ([]byte, error) {
	return s.exchange("read-matrix", codeMatrixRead, nil, MatrixSize)
}

func (s *Serial) WriteLUT(id LUT, buf []byte) error {
	const op = "write-lut"
	if id < 0 || id >= nLUTs {
		return errorf(KindInvalidValue, op, "unknown LUT %d", int(id))
	}
	if len(buf) == 0 || len(buf) > MaxLUTSize {
		return errorf(KindInvalidValue, op, "invalid %v size %d (range=[1, %d])", id, len(buf), MaxLUTSize)
	}
	p := make([]byte, 1+len(buf))
	p[0] = byte(len(buf)) // 256 wraps to 0
	copy(p[1:], buf)
	_, err := s.exchange(op, lutTable[id].wcode, p, 0)
	return err
}

func (s *Serial) ReadLUT(id LUT, n int) ([]byte, error) {
	const op = "read-lut"
	if id < 0 || id >= nLUTs {
		return nil, errorf(KindInvalidValue, op, "unknown LUT %d", int(id))
	}
	if n <= 0 || n > MaxLUTSize {
		return nil, errorf(KindInvalidValue, op, "invalid %v size %d (range=[1, %d])", id, n, MaxLUTSize)
	}
	return s.exchange(op, lutTable[id].rcode, []byte{byte(n)}, n)
}

// exchange sends cmd and its payload, then validates the answer and
// returns its n bytes of payload.
func (s *Serial) exchange(op string, cmd byte, payload []byte, n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.tr.Write([]byte{cmd}, len(payload) == 0)
	if err == nil && len(payload) > 0 {
		err = s.tr.Write(payload, true)
	}
	if err != nil {
		return nil, s.fail(op, cmd, "could not send command", err)
	}

	status, err := s.tr.Read(1, statusTimeout)
	switch {
	case err != nil:
		return nil, s.fail(op, cmd, "could not read status", err)
	case len(status) == 0:
		return nil, s.fail(op, cmd, "no answer", nil)
	}
	switch status[0] {
	case cmd:
		// ok.
	case statusSerialError:
		return nil, s.fail(op, cmd, "serial error", nil)
	case statusNotAuthorized:
		return nil, s.fail(op, cmd, "command not authorized", nil)
	default:
		return nil, s.fail(op, cmd, fmt.Sprintf(
			"code not replied (got=0x%02x)", status[0],
		), nil)
	}

	var data []byte
	if n > 0 {
		data, err = s.tr.Read(n, payloadTimeout(n))
		switch {
		case err != nil:
			return nil, s.fail(op, cmd, "could not read payload", err)
		case len(data) != n:
			return nil, s.fail(op, cmd, fmt.Sprintf(
				"invalid payload size (got=%d, want=%d)", len(data), n,
			), nil)
		}
	}

	end, err := s.tr.Read(1, endTimeout)
	switch {
	case err != nil:
		return nil, s.fail(op, cmd, "could not read end marker", err)
	case len(end) == 0:
		return nil, s.fail(op, cmd, "missing end marker", nil)
	case end[0] != endMarker:
		return nil, s.fail(op, cmd, fmt.Sprintf(
			"invalid end marker (got=0x%02x, want=0x%02x)", end[0], endMarker,
		), nil)
	}

	return data, nil
}

// fail flushes the transport and returns a protocol error.
func (s *Serial) fail(op string, cmd byte, msg string, err error) error {
	ferr := s.tr.Flush()
	if ferr != nil {
		s.msg.Printf("could not flush transport after command 0x%02x: %+v", cmd, ferr)
	}
	return protoErr(op, fmt.Sprintf("command 0x%02x: %s", cmd, msg), err)
}

var _ Codec = (*Serial)(nil)
