// Copyright 2023 The go-pix Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dut

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParamEntry is one field assignment of a parameter document.
type ParamEntry struct {
	Driver string
	Field  string
	Value  uint64
}

// Params is a parsed parameter document: field values grouped by
// driver name, applied against a resolved topology. Entries keep
// the document order.
type Params struct {
	entries []ParamEntry
}

// NewParams builds a parameter set from explicit entries.
func NewParams(entries []ParamEntry) Params {
	ps := Params{entries: make([]ParamEntry, len(entries))}
	copy(ps.entries, entries)
	return ps
}

// Entries returns the entries of the parameter set, in document
// order.
func (ps Params) Entries() []ParamEntry {
	entries := make([]ParamEntry, len(ps.entries))
	copy(entries, ps.entries)
	return entries
}

// ParseParamsFile parses the parameter document fname.
func ParseParamsFile(fname string) (Params, error) {
	f, err := os.Open(fname)
	if err != nil {
		return Params{}, fmt.Errorf("dut: could not open parameters %q: %w", fname, err)
	}
	defer f.Close()

	ps, err := ParseParams(f)
	if err != nil {
		return Params{}, fmt.Errorf("dut: could not parse parameters %q: %w", fname, err)
	}
	return ps, nil
}

// ParseParams parses a parameter document: a YAML mapping from
// driver name to a mapping from field path to integer value.
// Document order is preserved; YAML comments carry the free-text
// commentary.
func ParseParams(r io.Reader) (Params, error) {
	var doc yaml.Node
	err := yaml.NewDecoder(r).Decode(&doc)
	if err != nil {
		return Params{}, fmt.Errorf("dut: could not decode parameters: %w", err)
	}
	root := &doc
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) != 1 {
			return Params{}, fmt.Errorf("dut: invalid parameter document: %w", ErrConfig)
		}
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return Params{}, fmt.Errorf("dut: parameter document is not a mapping: %w", ErrConfig)
	}

	var ps Params
	for i := 0; i < len(root.Content); i += 2 {
		var (
			key = root.Content[i]
			val = root.Content[i+1]
		)
		if val.Kind != yaml.MappingNode {
			return Params{}, fmt.Errorf(
				"dut: parameters for driver %q are not a mapping: %w",
				key.Value, ErrConfig,
			)
		}
		for j := 0; j < len(val.Content); j += 2 {
			var (
				field = val.Content[j].Value
				raw   = strings.TrimSpace(val.Content[j+1].Value)
			)
			v, err := strconv.ParseUint(raw, 0, 64)
			if err != nil {
				return Params{}, fmt.Errorf(
					"dut: could not parse value %q for %s.%s: %w",
					raw, key.Value, field, err,
				)
			}
			ps.entries = append(ps.entries, ParamEntry{
				Driver: key.Value,
				Field:  field,
				Value:  v,
			})
		}
	}
	return ps, nil
}

// Apply issues one field write per parameter entry, in document
// order. Applying the same document twice leaves the hardware in
// the same state as applying it once.
func (s *Session) Apply(ps Params) error {
	for _, e := range ps.entries {
		reg, err := s.registerFor(e.Driver, e.Field)
		if err != nil {
			return err
		}
		err = s.Write(reg, e.Field, e.Value)
		if err != nil {
			return fmt.Errorf("dut: could not apply %s.%s=%d: %w",
				e.Driver, e.Field, e.Value, err,
			)
		}
	}
	return nil
}

// registerFor locates the register of the named driver holding the
// given field path. A field found in several registers of one
// driver is ambiguous and rejected.
func (s *Session) registerFor(driver, field string) (string, error) {
	idrv, ok := s.idrivers[driver]
	if !ok {
		return "", &UnknownDriverError{Name: driver}
	}
	var matches []string
	for _, reg := range s.registers {
		if reg.idrv != idrv {
			continue
		}
		if _, ok := reg.layout.Span(field); ok {
			matches = append(matches, reg.Name)
		}
	}
	switch len(matches) {
	case 0:
		return "", &UnknownFieldError{Driver: driver, Path: field}
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf(
			"dut: field %s is ambiguous for driver %q (registers %s): %w",
			field, driver, strings.Join(matches, ", "), ErrAccess,
		)
	}
}
