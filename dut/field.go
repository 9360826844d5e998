// Copyright 2023 The go-pix Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dut

import (
	"fmt"
	"sort"
)

// Field describes one named bit range within a register: either a
// value-carrying leaf (no children) or a group of sub-fields.
//
// Offset is relative to the field's parent; inside a repeated group
// child offsets are relative to the start of one repetition, never
// to the whole parent. For a group, Width is the stride of one
// repetition.
type Field struct {
	Name     string
	Offset   int
	Width    int
	Repeat   int // >= 1
	Children []Field
}

func (f *Field) leaf() bool { return len(f.Children) == 0 }

// Span is a resolved absolute bit range within a register.
type Span struct {
	Offset int
	Width  int
}

// Layout is the resolved, flat mapping from field path (e.g.
// "RX[2].DLY") to absolute bit offset and width within a register.
type Layout struct {
	spans map[string]Span
	paths []string // in resolution (declaration) order
}

// Span returns the bit range of the given field path.
func (lay Layout) Span(path string) (Span, bool) {
	span, ok := lay.spans[path]
	return span, ok
}

// Paths returns the leaf field paths of the layout, in declaration
// order.
func (lay Layout) Paths() []string {
	paths := make([]string, len(lay.paths))
	copy(paths, lay.paths)
	return paths
}

// resolveLayout computes the flat layout of a register of the given
// bit width. It is a pure function over its inputs: on any
// structural error the whole layout is rejected, never partially
// accepted.
func resolveLayout(reg string, width int, fields []Field) (Layout, error) {
	lay := Layout{spans: make(map[string]Span)}
	err := resolveFields(reg, &lay, "", 0, width, fields)
	if err != nil {
		return Layout{}, err
	}

	// reject intersecting leaf ranges, anywhere in the register.
	paths := make([]string, len(lay.paths))
	copy(paths, lay.paths)
	sort.Slice(paths, func(i, j int) bool {
		a, b := lay.spans[paths[i]], lay.spans[paths[j]]
		if a.Offset != b.Offset {
			return a.Offset < b.Offset
		}
		return a.Width < b.Width
	})
	for i := 1; i < len(paths); i++ {
		prev, cur := lay.spans[paths[i-1]], lay.spans[paths[i]]
		if cur.Offset < prev.Offset+prev.Width {
			return Layout{}, &OverlapError{
				Register: reg,
				A:        paths[i-1],
				B:        paths[i],
				ASpan:    prev,
				BSpan:    cur,
			}
		}
	}
	return lay, nil
}

// resolveFields walks one nesting level: prefix is the path of the
// enclosing group instance, base its absolute bit offset and limit
// the absolute bit extent its children may not exceed.
func resolveFields(reg string, lay *Layout, prefix string, base, limit int, fields []Field) error {
	seen := make(map[string]struct{}, len(fields))
	for i := range fields {
		f := &fields[i]
		if _, dup := seen[f.Name]; dup {
			return &DuplicateNameError{Kind: "field", Name: joinPath(prefix, f.Name)}
		}
		seen[f.Name] = struct{}{}

		var (
			repeat = f.Repeat
			stride = f.Width
		)
		if repeat < 1 {
			return fmt.Errorf("dut: register %q: field %s: invalid repeat %d: %w",
				reg, joinPath(prefix, f.Name), f.Repeat, ErrConfig,
			)
		}
		switch {
		case f.leaf():
			if f.Width <= 0 {
				return fmt.Errorf("dut: register %q: field %s: invalid width %d: %w",
					reg, joinPath(prefix, f.Name), f.Width, ErrConfig,
				)
			}
			if f.Width > 64 {
				return fmt.Errorf("dut: register %q: field %s: width %d exceeds 64 bits: %w",
					reg, joinPath(prefix, f.Name), f.Width, ErrConfig,
				)
			}
		default:
			if stride <= 0 {
				if repeat > 1 {
					// the packing stride of a repeated group must be
					// declared, it cannot be guessed from children.
					return &AmbiguousLayoutError{
						Register: reg,
						Path:     joinPath(prefix, f.Name),
					}
				}
				stride = extent(f.Children)
			}
		}

		for k := 0; k < repeat; k++ {
			path := joinPath(prefix, f.Name)
			if repeat > 1 {
				path = fmt.Sprintf("%s[%d]", path, k)
			}
			off := base + f.Offset + k*stride
			if f.leaf() {
				if off < 0 || off+f.Width > limit {
					return &OutOfRangeError{
						Register: reg,
						Path:     path,
						Offset:   off,
						Width:    f.Width,
						Limit:    limit,
					}
				}
				lay.spans[path] = Span{Offset: off, Width: f.Width}
				lay.paths = append(lay.paths, path)
				continue
			}
			end := off + stride
			if end > limit {
				return &OutOfRangeError{
					Register: reg,
					Path:     path,
					Offset:   off,
					Width:    stride,
					Limit:    limit,
				}
			}
			err := resolveFields(reg, lay, path, off, end, f.Children)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// extent returns the bit extent implied by a field list: the end of
// the last repetition of its furthest-reaching member.
func extent(fields []Field) int {
	ext := 0
	for _, f := range fields {
		n := f.Repeat
		if n < 1 {
			n = 1
		}
		w := f.Width
		if !f.leaf() && w <= 0 {
			w = extent(f.Children)
		}
		if end := f.Offset + n*w; end > ext {
			ext = end
		}
	}
	return ext
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
