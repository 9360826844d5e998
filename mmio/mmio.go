// Copyright 2023 The go-pix Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mmio provides the memory-mapped transport to readout
// hardware exposed through /dev/mem, such as FPGA bridges on
// SoC-based boards.
package mmio // import "github.com/go-pix/pixdaq/mmio"

import (
	"fmt"
	"os"

	"github.com/go-pix/pixdaq/dut"
	"github.com/go-pix/pixdaq/internal/mmap"
	"golang.org/x/sys/unix"
)

// Config holds the mapping parameters of one memory window.
type Config struct {
	Device string // device file, /dev/mem if empty
	Base   int64  // physical base address of the window
	Span   int    // window size in bytes
}

// Transport drives one memory-mapped window. Offsets handed to
// ReadAt and WriteAt are relative to the window base.
type Transport struct {
	name string
	cfg  Config

	fd *os.File
	h  *mmap.Handle
}

// New builds a transport for the given window. The returned
// transport performs no I/O until Open.
func New(name string, cfg Config) *Transport {
	if cfg.Device == "" {
		cfg.Device = "/dev/mem"
	}
	return &Transport{name: name, cfg: cfg}
}

// FromSpec builds a memory-mapped transport from its topology entry.
//
// Recognized init keys: base (required), span (required), device.
func FromSpec(spec dut.TransportSpec) (*Transport, error) {
	var cfg Config
	if v, ok := spec.Init["device"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("mmio: transport %q: invalid init.device %v", spec.Name, v)
		}
		cfg.Device = s
	}
	base, err := initInt(spec, "base")
	if err != nil {
		return nil, err
	}
	span, err := initInt(spec, "span")
	if err != nil {
		return nil, err
	}
	cfg.Base = base
	cfg.Span = int(span)
	if cfg.Span <= 0 {
		return nil, fmt.Errorf("mmio: transport %q: invalid init.span %d", spec.Name, cfg.Span)
	}
	return New(spec.Name, cfg), nil
}

func initInt(spec dut.TransportSpec, key string) (int64, error) {
	v, ok := spec.Init[key]
	if !ok {
		return 0, fmt.Errorf("mmio: transport %q: missing init.%s", spec.Name, key)
	}
	switch v := v.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case uint64:
		return int64(v), nil
	case float64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("mmio: transport %q: invalid init.%s %v", spec.Name, key, v)
	}
}

// Name returns the transport name from the topology document.
func (tr *Transport) Name() string { return tr.name }

// Open opens the device file and maps the configured window.
func (tr *Transport) Open() error {
	fd, err := os.OpenFile(tr.cfg.Device, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return fmt.Errorf("mmio: could not open %q: %w", tr.cfg.Device, err)
	}

	data, err := unix.Mmap(
		int(fd.Fd()),
		tr.cfg.Base, tr.cfg.Span,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED,
	)
	if err != nil {
		_ = fd.Close()
		return fmt.Errorf("mmio: could not mmap %q [0x%x, 0x%x): %w",
			tr.cfg.Device, tr.cfg.Base, tr.cfg.Base+int64(tr.cfg.Span), err,
		)
	}
	if len(data) != tr.cfg.Span {
		_ = unix.Munmap(data)
		_ = fd.Close()
		return fmt.Errorf("mmio: invalid mmap'd data: %d", len(data))
	}

	tr.fd = fd
	tr.h = mmap.HandleFrom(data)
	return nil
}

// Close unmaps the window and closes the device file.
func (tr *Transport) Close() error {
	var first error
	if tr.h != nil {
		if err := tr.h.Close(); err != nil {
			first = err
		}
		tr.h = nil
	}
	if tr.fd != nil {
		if err := tr.fd.Close(); err != nil && first == nil {
			first = err
		}
		tr.fd = nil
	}
	return first
}

// ReadAt reads len(p) bytes at the window offset off.
func (tr *Transport) ReadAt(p []byte, off int64) (int, error) {
	if tr.h == nil {
		return 0, fmt.Errorf("mmio: transport %q not opened", tr.name)
	}
	return tr.h.ReadAt(p, off)
}

// WriteAt writes len(p) bytes at the window offset off.
func (tr *Transport) WriteAt(p []byte, off int64) (int, error) {
	if tr.h == nil {
		return 0, fmt.Errorf("mmio: transport %q not opened", tr.name)
	}
	return tr.h.WriteAt(p, off)
}

var (
	_ dut.Transport = (*Transport)(nil)
)
