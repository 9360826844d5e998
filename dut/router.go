// Copyright 2023 The go-pix Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dut

import (
	"fmt"
)

// Bit i of a register lives at byte i/8 (from the driver's base
// address), bit position i%8. Field accesses fetch or store the
// covering byte span only.

// Read reads the named field of the named register and returns its
// value as an unsigned integer of the field's declared width.
// Every call issues a fresh transport transaction; the engine caches
// nothing.
func (s *Session) Read(reg, field string) (uint64, error) {
	r, drv, tr, err := s.route(reg)
	if err != nil {
		return 0, err
	}
	span, ok := r.layout.Span(field)
	if !ok {
		return 0, &UnknownFieldError{Register: reg, Path: field}
	}

	var (
		first = span.Offset / 8
		last  = (span.Offset + span.Width - 1) / 8
		addr  = int64(drv.BaseAddr) + int64(first)
		buf   = make([]byte, last-first+1)
	)
	_, err = tr.ReadAt(buf, addr)
	if err != nil {
		return 0, &TransportError{
			Op: "read", Register: reg, Field: field,
			Addr: uint32(addr), Err: err,
		}
	}
	return extract(buf, span.Offset-8*first, span.Width), nil
}

// Write writes v to the named field of the named register. When the
// field does not cover whole bytes, the surrounding byte span is
// read back first and the new bits masked in, so that sibling fields
// packed into the same bytes are preserved. The read-modify-write
// sequence is not atomic across concurrent callers; see
// WithTransportLock.
func (s *Session) Write(reg, field string, v uint64) error {
	r, drv, tr, err := s.route(reg)
	if err != nil {
		return err
	}
	span, ok := r.layout.Span(field)
	if !ok {
		return &UnknownFieldError{Register: reg, Path: field}
	}
	if span.Width < 64 && v >= 1<<uint(span.Width) {
		return &ValueOutOfRangeError{
			Register: reg, Path: field, Value: v, Width: span.Width,
		}
	}

	var (
		first   = span.Offset / 8
		last    = (span.Offset + span.Width - 1) / 8
		addr    = int64(drv.BaseAddr) + int64(first)
		buf     = make([]byte, last-first+1)
		aligned = span.Offset%8 == 0 && span.Width%8 == 0
	)
	if !aligned {
		_, err = tr.ReadAt(buf, addr)
		if err != nil {
			return &TransportError{
				Op: "read", Register: reg, Field: field,
				Addr: uint32(addr), Err: err,
			}
		}
	}
	insert(buf, span.Offset-8*first, span.Width, v)
	_, err = tr.WriteAt(buf, addr)
	if err != nil {
		return &TransportError{
			Op: "write", Register: reg, Field: field,
			Addr: uint32(addr), Err: err,
		}
	}
	return nil
}

// ReadReg reads the whole register word(s) and returns the raw
// bytes, least-significant byte first.
func (s *Session) ReadReg(reg string) ([]byte, error) {
	r, drv, tr, err := s.route(reg)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, r.NBytes())
	_, err = tr.ReadAt(buf, int64(drv.BaseAddr))
	if err != nil {
		return nil, &TransportError{
			Op: "read", Register: reg,
			Addr: drv.BaseAddr, Err: err,
		}
	}
	return buf, nil
}

// WriteReg writes the whole register word(s). p must hold exactly
// the register's byte span.
func (s *Session) WriteReg(reg string, p []byte) error {
	r, drv, tr, err := s.route(reg)
	if err != nil {
		return err
	}
	if len(p) != r.NBytes() {
		return fmt.Errorf(
			"dut: register %q expects %d bytes, got %d: %w",
			reg, r.NBytes(), len(p), ErrAccess,
		)
	}
	_, err = tr.WriteAt(p, int64(drv.BaseAddr))
	if err != nil {
		return &TransportError{
			Op: "write", Register: reg,
			Addr: drv.BaseAddr, Err: err,
		}
	}
	return nil
}

// route resolves register -> driver -> transport.
func (s *Session) route(name string) (*Register, *Driver, Transport, error) {
	i, ok := s.iregisters[name]
	if !ok {
		return nil, nil, nil, &UnknownRegisterError{Name: name}
	}
	reg := s.registers[i]
	drv := &s.drivers[reg.idrv]
	return reg, drv, s.transports[drv.itr], nil
}

func extract(p []byte, off, width int) uint64 {
	var v uint64
	for i := 0; i < width; i++ {
		bit := off + i
		if (p[bit/8]>>uint(bit%8))&1 == 1 {
			v |= 1 << uint(i)
		}
	}
	return v
}

func insert(p []byte, off, width int, v uint64) {
	for i := 0; i < width; i++ {
		bit := off + i
		mask := byte(1) << uint(bit%8)
		if (v>>uint(i))&1 == 1 {
			p[bit/8] |= mask
		} else {
			p[bit/8] &^= mask
		}
	}
}
