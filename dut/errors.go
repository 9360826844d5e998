// Copyright 2023 The go-pix Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dut

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrConfig is matched (with errors.Is) by every error reported
	// while loading and validating a topology document.
	ErrConfig = errors.New("dut: invalid configuration")

	// ErrAccess is matched by every error reported by a register or
	// field access call, transport failures excepted.
	ErrAccess = errors.New("dut: invalid access")
)

// DuplicateNameError reports two topology entities of the same kind
// sharing one name.
type DuplicateNameError struct {
	Kind string // "transport", "driver", "register" or "field"
	Name string // duplicated name (a path, for fields)
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("dut: duplicate %s name %q", e.Kind, e.Name)
}

func (e *DuplicateNameError) Is(err error) bool { return err == ErrConfig }

// Ref is one unresolved name reference of the topology.
type Ref struct {
	From string // referencing entity, e.g. "driver rx_hw"
	Kind string // referenced kind, "transport" or "driver"
	Name string // referenced name
}

// DanglingReferenceError reports every name reference of the
// topology that does not resolve, not just the first one.
type DanglingReferenceError struct {
	Refs []Ref
}

func (e *DanglingReferenceError) Error() string {
	o := new(strings.Builder)
	fmt.Fprintf(o, "dut: %d dangling reference(s):", len(e.Refs))
	for _, ref := range e.Refs {
		fmt.Fprintf(o, " %s -> %s %q;", ref.From, ref.Kind, ref.Name)
	}
	return strings.TrimRight(o.String(), ";")
}

func (e *DanglingReferenceError) Is(err error) bool { return err == ErrConfig }

// OverlapError reports two leaf fields (after repeat expansion)
// occupying intersecting bit ranges of one register.
type OverlapError struct {
	Register string
	A, B     string // conflicting field paths
	ASpan    Span
	BSpan    Span
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf(
		"dut: register %q: field %s [%d, %d) overlaps field %s [%d, %d)",
		e.Register,
		e.A, e.ASpan.Offset, e.ASpan.Offset+e.ASpan.Width,
		e.B, e.BSpan.Offset, e.BSpan.Offset+e.BSpan.Width,
	)
}

func (e *OverlapError) Is(err error) bool { return err == ErrConfig }

// OutOfRangeError reports a field (or a whole register) exceeding
// the bit extent of its container.
type OutOfRangeError struct {
	Register string
	Path     string // empty when the register itself is at fault
	Offset   int
	Width    int
	Limit    int // container extent in bits
}

func (e *OutOfRangeError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf(
			"dut: register %q: width %d exceeds its driver window (%d bits)",
			e.Register, e.Width, e.Limit,
		)
	}
	return fmt.Sprintf(
		"dut: register %q: field %s [%d, %d) out of range [0, %d)",
		e.Register, e.Path, e.Offset, e.Offset+e.Width, e.Limit,
	)
}

func (e *OutOfRangeError) Is(err error) bool { return err == ErrConfig }

// AmbiguousLayoutError reports a repeated field group whose
// repetition stride cannot be derived.
type AmbiguousLayoutError struct {
	Register string
	Path     string
}

func (e *AmbiguousLayoutError) Error() string {
	return fmt.Sprintf(
		"dut: register %q: repeated group %s has no declared size",
		e.Register, e.Path,
	)
}

func (e *AmbiguousLayoutError) Is(err error) bool { return err == ErrConfig }

// UnknownRegisterError reports an access to a register name absent
// from the session.
type UnknownRegisterError struct {
	Name string
}

func (e *UnknownRegisterError) Error() string {
	return fmt.Sprintf("dut: unknown register %q", e.Name)
}

func (e *UnknownRegisterError) Is(err error) bool { return err == ErrAccess }

// UnknownDriverError reports a lookup of a driver name absent from
// the session.
type UnknownDriverError struct {
	Name string
}

func (e *UnknownDriverError) Error() string {
	return fmt.Sprintf("dut: unknown driver %q", e.Name)
}

func (e *UnknownDriverError) Is(err error) bool { return err == ErrAccess }

// UnknownFieldError reports a field path absent from the resolved
// layout of a register (or, for parameter documents, from every
// register of a driver).
type UnknownFieldError struct {
	Register string
	Driver   string
	Path     string
}

func (e *UnknownFieldError) Error() string {
	if e.Register == "" {
		return fmt.Sprintf(
			"dut: unknown field %s in registers of driver %q",
			e.Path, e.Driver,
		)
	}
	return fmt.Sprintf("dut: register %q: unknown field %s", e.Register, e.Path)
}

func (e *UnknownFieldError) Is(err error) bool { return err == ErrAccess }

// ValueOutOfRangeError reports a write value needing more bits than
// the target field width.
type ValueOutOfRangeError struct {
	Register string
	Path     string
	Value    uint64
	Width    int
}

func (e *ValueOutOfRangeError) Error() string {
	return fmt.Sprintf(
		"dut: register %q: value 0x%x does not fit field %s (width=%d)",
		e.Register, e.Value, e.Path, e.Width,
	)
}

func (e *ValueOutOfRangeError) Is(err error) bool { return err == ErrAccess }

// TransportError wraps a failure of the underlying I/O with enough
// context (register, field, attempted device address) for the caller
// to decide on a retry. The engine never retries by itself.
type TransportError struct {
	Op       string // "open", "read" or "write"
	Register string
	Field    string
	Addr     uint32
	Err      error
}

func (e *TransportError) Error() string {
	o := new(strings.Builder)
	fmt.Fprintf(o, "dut: transport %s failed", e.Op)
	if e.Register != "" {
		fmt.Fprintf(o, " (register=%q", e.Register)
		if e.Field != "" {
			fmt.Fprintf(o, ", field=%s", e.Field)
		}
		fmt.Fprintf(o, ", addr=0x%x)", e.Addr)
	}
	fmt.Fprintf(o, ": %v", e.Err)
	return o.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the wrapped failure was a timeout of the
// underlying transport.
func (e *TransportError) Timeout() bool {
	var nerr net.Error
	if errors.As(e.Err, &nerr) {
		return nerr.Timeout()
	}
	return false
}
