// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package priam

import (
	"errors"
	"fmt"
)

// ErrKind classifies the errors raised by the Priam layer.
type ErrKind uint8

const (
	KindProtocol     ErrKind = iota + 1 // transport desync, bad echo, bad end marker, no answer
	KindInvalidValue                    // value rejected before any I/O
	KindPrecondition                    // missing configuration before I/O
	KindUnsupported                     // feature not available for this hardware
)

func (k ErrKind) String() string {
	switch k {
	case KindProtocol:
		return "protocol error"
	case KindInvalidValue:
		return "invalid value"
	case KindPrecondition:
		return "precondition failed"
	case KindUnsupported:
		return "unsupported"
	default:
		return fmt.Sprintf("ErrKind(%d)", uint8(k))
	}
}

var (
	ErrProtocol     = &Error{Kind: KindProtocol}
	ErrInvalidValue = &Error{Kind: KindInvalidValue}
	ErrPrecondition = &Error{Kind: KindPrecondition}
	ErrUnsupported  = &Error{Kind: KindUnsupported}
)

// Error is the error type returned by the Priam codec and register model.
//
// Errors match one of the ErrXXX sentinels with errors.Is,
// according to their kind.
type Error struct {
	Kind ErrKind
	Op   string // operation, e.g. "write-register"
	Msg  string
	Err  error // underlying error, if any
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	switch {
	case e.Op == "" && e.Err == nil:
		return "priam: " + msg
	case e.Err == nil:
		return fmt.Sprintf("priam: %s: %s", e.Op, msg)
	case e.Op == "":
		return fmt.Sprintf("priam: %s: %v", msg, e.Err)
	default:
		return fmt.Sprintf("priam: %s: %s: %v", e.Op, msg, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a kind-only sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

func errorf(kind ErrKind, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func protoErr(op, msg string, err error) error {
	return &Error{Kind: KindProtocol, Op: op, Msg: msg, Err: err}
}

// KindOf returns the kind of err, or 0 if err is not a Priam error.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
