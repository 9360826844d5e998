// Copyright 2023 The go-pix Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package smb

import (
	"fmt"
	"testing"

	"github.com/go-pix/pixdaq/dut"
)

// fakeConn emulates an SMBus chip with 256 one-byte registers.
type fakeConn struct {
	addr uint8
	regs [256]uint8

	closed bool
}

func (c *fakeConn) ReadReg(addr, reg uint8) (uint8, error) {
	if addr != c.addr {
		return 0, fmt.Errorf("no chip at addr 0x%x", addr)
	}
	return c.regs[reg], nil
}

func (c *fakeConn) WriteReg(addr, reg, v uint8) error {
	if addr != c.addr {
		return fmt.Errorf("no chip at addr 0x%x", addr)
	}
	c.regs[reg] = v
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func newTestTransport(t *testing.T) (*Transport, *fakeConn) {
	t.Helper()
	fake := &fakeConn{addr: 0x48}
	tr := New("pmic", Config{Bus: 1, Addr: 0x48})
	tr.dial = func(bus int, addr uint8) (conn, error) {
		return fake, nil
	}
	if err := tr.Open(); err != nil {
		t.Fatalf("could not open transport: %+v", err)
	}
	return tr, fake
}

func TestTransportRW(t *testing.T) {
	tr, fake := newTestTransport(t)
	defer tr.Close()

	want := []byte{0x11, 0x22, 0x33}
	n, err := tr.WriteAt(want, 0x20)
	if err != nil {
		t.Fatalf("could not write: %+v", err)
	}
	if n != len(want) {
		t.Fatalf("short write: got=%d, want=%d", n, len(want))
	}
	for i, v := range want {
		if got := fake.regs[0x20+i]; got != v {
			t.Fatalf("invalid reg 0x%x: got=0x%x, want=0x%x", 0x20+i, got, v)
		}
	}

	got := make([]byte, len(want))
	_, err = tr.ReadAt(got, 0x20)
	if err != nil {
		t.Fatalf("could not read: %+v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("invalid data: got=%x, want=%x", got, want)
		}
	}
}

func TestTransportBounds(t *testing.T) {
	tr, _ := newTestTransport(t)
	defer tr.Close()

	if _, err := tr.ReadAt(make([]byte, 2), 255); err == nil {
		t.Fatalf("expected an error past the command window")
	}
	if _, err := tr.WriteAt(make([]byte, 1), 256); err == nil {
		t.Fatalf("expected an error past the command window")
	}
	if _, err := tr.ReadAt(make([]byte, 1), -1); err == nil {
		t.Fatalf("expected an error for a negative offset")
	}
}

func TestTransportClose(t *testing.T) {
	tr, fake := newTestTransport(t)
	if err := tr.Close(); err != nil {
		t.Fatalf("could not close transport: %+v", err)
	}
	if !fake.closed {
		t.Fatalf("connection not closed")
	}
	if _, err := tr.ReadAt(make([]byte, 1), 0); err == nil {
		t.Fatalf("expected an error on closed transport")
	}
}

func TestFromSpec(t *testing.T) {
	tr, err := FromSpec(dut.TransportSpec{
		Name: "pmic",
		Kind: "smb",
		Init: map[string]any{"bus": 1, "addr": 0x48},
	})
	if err != nil {
		t.Fatalf("could not build transport from spec: %+v", err)
	}
	if got, want := tr.Name(), "pmic"; got != want {
		t.Fatalf("invalid name: got=%q, want=%q", got, want)
	}

	for _, tc := range []struct {
		name string
		init map[string]any
	}{
		{"missing-bus", map[string]any{"addr": 0x48}},
		{"missing-addr", map[string]any{"bus": 1}},
		{"invalid-addr", map[string]any{"bus": 1, "addr": 0x100}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromSpec(dut.TransportSpec{Name: "pmic", Kind: "smb", Init: tc.init})
			if err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}
