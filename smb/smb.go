// Copyright 2023 The go-pix Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package smb provides the SMBus transport to slow-control chips
// (power regulators, temperature sensors, ADCs) hanging off an I2C
// bus of the readout board.
package smb // import "github.com/go-pix/pixdaq/smb"

import (
	"fmt"

	"github.com/go-daq/smbus"
	"github.com/go-pix/pixdaq/dut"
)

// Config holds the bus parameters of one SMBus chip.
type Config struct {
	Bus  int   // i2c bus number (/dev/i2c-N)
	Addr uint8 // chip address on the bus
}

// conn is the subset of smbus.Conn used by the transport.
type conn interface {
	ReadReg(addr, reg uint8) (uint8, error)
	WriteReg(addr, reg, v uint8) error
	Close() error
}

// Transport drives one SMBus chip. Device offsets are the chip
// command codes: the addressable window is 256 bytes.
type Transport struct {
	name string
	cfg  Config

	conn conn
	dial func(bus int, addr uint8) (conn, error)
}

// New builds a transport for the given chip. The returned transport
// performs no I/O until Open.
func New(name string, cfg Config) *Transport {
	return &Transport{
		name: name,
		cfg:  cfg,
		dial: func(bus int, addr uint8) (conn, error) {
			return smbus.Open(bus, addr)
		},
	}
}

// FromSpec builds an SMBus transport from its topology entry.
//
// Recognized init keys: bus (required), addr (required).
func FromSpec(spec dut.TransportSpec) (*Transport, error) {
	bus, err := initInt(spec, "bus")
	if err != nil {
		return nil, err
	}
	addr, err := initInt(spec, "addr")
	if err != nil {
		return nil, err
	}
	if addr < 0 || addr > 0x7f {
		return nil, fmt.Errorf("smb: transport %q: invalid init.addr 0x%x", spec.Name, addr)
	}
	return New(spec.Name, Config{Bus: bus, Addr: uint8(addr)}), nil
}

func initInt(spec dut.TransportSpec, key string) (int, error) {
	v, ok := spec.Init[key]
	if !ok {
		return 0, fmt.Errorf("smb: transport %q: missing init.%s", spec.Name, key)
	}
	switch v := v.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("smb: transport %q: invalid init.%s %v", spec.Name, key, v)
	}
}

// Name returns the transport name from the topology document.
func (tr *Transport) Name() string { return tr.name }

// Open connects to the i2c bus.
func (tr *Transport) Open() error {
	c, err := tr.dial(tr.cfg.Bus, tr.cfg.Addr)
	if err != nil {
		return fmt.Errorf("smb: could not open bus %d addr 0x%x: %w", tr.cfg.Bus, tr.cfg.Addr, err)
	}
	tr.conn = c
	return nil
}

// Close closes the i2c bus connection.
func (tr *Transport) Close() error {
	if tr.conn == nil {
		return nil
	}
	err := tr.conn.Close()
	tr.conn = nil
	return err
}

// ReadAt reads len(p) registers starting at command code off.
func (tr *Transport) ReadAt(p []byte, off int64) (int, error) {
	if tr.conn == nil {
		return 0, fmt.Errorf("smb: transport %q not opened", tr.name)
	}
	if err := tr.bounds(len(p), off); err != nil {
		return 0, err
	}
	for i := range p {
		v, err := tr.conn.ReadReg(tr.cfg.Addr, uint8(off)+uint8(i))
		if err != nil {
			return i, fmt.Errorf("smb: could not read reg 0x%x: %w", uint8(off)+uint8(i), err)
		}
		p[i] = v
	}
	return len(p), nil
}

// WriteAt writes len(p) registers starting at command code off.
func (tr *Transport) WriteAt(p []byte, off int64) (int, error) {
	if tr.conn == nil {
		return 0, fmt.Errorf("smb: transport %q not opened", tr.name)
	}
	if err := tr.bounds(len(p), off); err != nil {
		return 0, err
	}
	for i, v := range p {
		err := tr.conn.WriteReg(tr.cfg.Addr, uint8(off)+uint8(i), v)
		if err != nil {
			return i, fmt.Errorf("smb: could not write reg 0x%x: %w", uint8(off)+uint8(i), err)
		}
	}
	return len(p), nil
}

func (tr *Transport) bounds(n int, off int64) error {
	if off < 0 || off+int64(n) > 256 {
		return fmt.Errorf("smb: access [0x%x, 0x%x) outside the 256-byte command window", off, off+int64(n))
	}
	return nil
}

var (
	_ dut.Transport = (*Transport)(nil)
)
