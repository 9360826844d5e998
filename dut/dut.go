// Copyright 2023 The go-pix Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dut implements the hardware abstraction layer of a
// pixel-detector readout system: it resolves a declarative topology
// description (transports, hardware drivers, registers and their
// bit-fields) into a flat table of addressable endpoints, and routes
// named register/field accesses through the right transport at the
// right device address.
//
// A Session is built once from a topology document with Load (or
// LoadFile) and is read-only afterwards. Reloading a topology means
// building a new Session, never patching one in place.
//
// The engine performs no internal locking: accesses issued
// sequentially on one transport reach the hardware in issue order,
// but concurrent callers sharing a transport must serialize
// field-level writes themselves (the read-modify-write sequence of
// Write has a race window between the read and the write).
// WithTransportLock provides the per-transport critical section.
package dut // import "github.com/go-pix/pixdaq/dut"

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Transport is the physical channel used to reach the device.
//
// ReadAt and WriteAt address the device address space of the link
// (offsets are device addresses, one byte per address). Transports
// are the only objects performing I/O; drivers and registers hold
// non-owning references to them by name.
type Transport interface {
	Name() string
	Open() error

	io.ReaderAt
	io.WriterAt
	io.Closer
}

// TransportSpec describes one transport of the topology document.
// Init holds the connection parameters verbatim, to be interpreted
// by the transport implementation.
type TransportSpec struct {
	Name string
	Kind string
	Init map[string]any
}

// TransportFunc builds a concrete Transport from its topology spec.
type TransportFunc func(spec TransportSpec) (Transport, error)

// Driver is a named, address-bound view of one hardware function
// block, accessed through a transport.
type Driver struct {
	Name      string
	Kind      string
	Interface string // transport name
	BaseAddr  uint32 // device address of the block
	Size      int    // addressable window in bytes (0: unspecified)

	itr int // transport index, resolved at load
}

// Register is a named, bit-addressable storage unit exposed by a
// driver. Registers are immutable once the Session is built.
type Register struct {
	Name   string
	Kind   string
	Driver string // driver name
	Width  int    // total width in bits
	Fields []Field

	layout Layout
	idrv   int // driver index, resolved at load
}

// Layout returns the resolved field layout of the register.
func (reg *Register) Layout() Layout { return reg.layout }

// NBytes returns the number of addressable bytes spanned by the
// register.
func (reg *Register) NBytes() int { return (reg.Width + 7) / 8 }

// Session is the fully-resolved, in-memory representation of one
// loaded topology, ready for access calls.
type Session struct {
	name    string
	version string

	specs      []TransportSpec
	transports []Transport
	drivers    []Driver
	registers  []*Register

	itransports map[string]int
	idrivers    map[string]int
	iregisters  map[string]int

	mus []sync.Mutex // one per transport, for WithTransportLock
}

// Name returns the name of the loaded topology.
func (s *Session) Name() string { return s.name }

// Version returns the version string of the loaded topology.
func (s *Session) Version() string { return s.version }

// Transport returns the named transport.
func (s *Session) Transport(name string) (Transport, bool) {
	i, ok := s.itransports[name]
	if !ok {
		return nil, false
	}
	return s.transports[i], true
}

// Driver returns the named hardware driver.
func (s *Session) Driver(name string) (*Driver, bool) {
	i, ok := s.idrivers[name]
	if !ok {
		return nil, false
	}
	return &s.drivers[i], true
}

// Register returns the named register.
func (s *Session) Register(name string) (*Register, bool) {
	i, ok := s.iregisters[name]
	if !ok {
		return nil, false
	}
	return s.registers[i], true
}

// Registers returns the registers of the session, in topology order.
func (s *Session) Registers() []*Register {
	regs := make([]*Register, len(s.registers))
	copy(regs, s.registers)
	return regs
}

// Open opens all transports of the session.
func (s *Session) Open() error {
	var grp errgroup.Group
	for _, tr := range s.transports {
		tr := tr
		grp.Go(func() error {
			err := tr.Open()
			if err != nil {
				return &TransportError{Op: "open", Err: err}
			}
			return nil
		})
	}
	return grp.Wait()
}

// Close closes all transports of the session.
func (s *Session) Close() error {
	var first error
	for _, tr := range s.transports {
		err := tr.Close()
		if err != nil && first == nil {
			first = fmt.Errorf("dut: could not close transport %q: %w", tr.Name(), err)
		}
	}
	return first
}

// WithTransportLock runs fn while holding the mutual-exclusion scope
// of the named transport. The lock is released on all exit paths.
// Callers sharing one transport across goroutines must wrap
// field-level writes (and any read-modify-write sequence of their
// own) in this scope.
func (s *Session) WithTransportLock(name string, fn func() error) error {
	i, ok := s.itransports[name]
	if !ok {
		return fmt.Errorf("dut: unknown transport %q: %w", name, ErrAccess)
	}
	s.mus[i].Lock()
	defer s.mus[i].Unlock()
	return fn()
}

// DumpLayout writes the resolved layout table of the session to w:
// one line per field path with its register, driver, absolute bit
// offset and width.
func (s *Session) DumpLayout(w io.Writer) error {
	regs := s.Registers()
	sort.Slice(regs, func(i, j int) bool { return regs[i].Name < regs[j].Name })
	for _, reg := range regs {
		_, err := fmt.Fprintf(w, "register %s (driver=%s, width=%d)\n",
			reg.Name, reg.Driver, reg.Width,
		)
		if err != nil {
			return err
		}
		for _, path := range reg.layout.Paths() {
			span, _ := reg.layout.Span(path)
			_, err = fmt.Fprintf(w, "  %-32s off=%3d width=%2d\n",
				path, span.Offset, span.Width,
			)
			if err != nil {
				return err
			}
		}
	}
	return nil
}
