// Copyright 2023 The go-pix Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dut

import (
	"fmt"
	"io"
)

// memTransport is an in-memory device address space, standing in
// for a physical link in tests.
type memTransport struct {
	name string
	mem  []byte

	opened  bool
	closed  bool
	nreads  int
	nwrites int

	failRead  error // next ReadAt fails with this error, once
	failWrite error // next WriteAt fails with this error, once
}

func newMemTransport(name string, size int) *memTransport {
	return &memTransport{name: name, mem: make([]byte, size)}
}

func (tr *memTransport) Name() string { return tr.name }
func (tr *memTransport) Open() error  { tr.opened = true; return nil }
func (tr *memTransport) Close() error { tr.closed = true; return nil }

func (tr *memTransport) ReadAt(p []byte, off int64) (int, error) {
	if err := tr.failRead; err != nil {
		tr.failRead = nil
		return 0, err
	}
	tr.nreads++
	if off < 0 || off >= int64(len(tr.mem)) {
		return 0, fmt.Errorf("mem: invalid read address 0x%x", off)
	}
	n := copy(p, tr.mem[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (tr *memTransport) WriteAt(p []byte, off int64) (int, error) {
	if err := tr.failWrite; err != nil {
		tr.failWrite = nil
		return 0, err
	}
	tr.nwrites++
	if off < 0 || off >= int64(len(tr.mem)) {
		return 0, fmt.Errorf("mem: invalid write address 0x%x", off)
	}
	n := copy(tr.mem[off:], p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

var _ Transport = (*memTransport)(nil)

// timeoutError mimics a transport I/O deadline expiry.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
