// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mmap provides read-only access to memory-mapped frame files.
package mmap // import "github.com/go-lpc/maxipix/internal/mmap"

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

var errClosed = errors.New("mmap: reader closed")

// Reader reads a memory-mapped file.
// An empty file is mapped to an empty, still valid, reader.
type Reader struct {
	data []byte
	open bool
}

// Open memory-maps the named file for reading.
func Open(fname string) (*Reader, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("mmap: could not open %q: %w", fname, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("mmap: could not stat %q: %w", fname, err)
	}

	size := fi.Size()
	switch {
	case size == 0:
		return newReader(nil), nil
	case size < 0 || size != int64(int(size)):
		return nil, fmt.Errorf("mmap: file %q has invalid size %d", fname, size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: could not map %q: %w", fname, err)
	}

	return newReader(data), nil
}

func newReader(data []byte) *Reader {
	r := &Reader{data: data, open: true}
	runtime.SetFinalizer(r, (*Reader).Close)
	return r
}

// Len returns the size of the mapped file.
func (r *Reader) Len() int {
	return len(r.data)
}

// Bytes returns the mapped memory, valid until r is closed.
func (r *Reader) Bytes() []byte {
	return r.data
}

// ReadAt implements io.ReaderAt.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	switch {
	case r == nil:
		return 0, os.ErrInvalid
	case !r.open:
		return 0, errClosed
	case off < 0 || int64(len(r.data)) < off:
		return 0, fmt.Errorf("mmap: invalid offset %d (size=%d)", off, len(r.data))
	}
	n := copy(p, r.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close unmaps the file. Closing a closed reader is a no-op.
func (r *Reader) Close() error {
	if r == nil {
		return os.ErrInvalid
	}
	if !r.open {
		return nil
	}
	r.open = false
	runtime.SetFinalizer(r, nil)

	data := r.data
	r.data = nil
	if data == nil {
		return nil
	}
	return unix.Munmap(data)
}

var (
	_ io.ReaderAt = (*Reader)(nil)
	_ io.Closer   = (*Reader)(nil)
)
