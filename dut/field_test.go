// Copyright 2023 The go-pix Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dut

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func TestResolveLayout(t *testing.T) {
	for _, tc := range []struct {
		name   string
		width  int
		fields []Field
		want   map[string]Span
		err    error
	}{
		{
			name:  "leaves",
			width: 16,
			fields: []Field{
				{Name: "EN", Offset: 0, Width: 1, Repeat: 1},
				{Name: "DLY", Offset: 1, Width: 5, Repeat: 1},
				{Name: "MODE", Offset: 8, Width: 2, Repeat: 1},
			},
			want: map[string]Span{
				"EN":   {0, 1},
				"DLY":  {1, 5},
				"MODE": {8, 2},
			},
		},
		{
			name:  "leaf-at-upper-bound",
			width: 8,
			fields: []Field{
				{Name: "V", Offset: 4, Width: 4, Repeat: 1},
			},
			want: map[string]Span{"V": {4, 4}},
		},
		{
			name:  "repeated-group",
			width: 80,
			fields: []Field{
				{Name: "INV", Offset: 0, Width: 1, Repeat: 1},
				{Name: "RX", Offset: 39, Width: 8, Repeat: 5, Children: []Field{
					{Name: "RESET", Offset: 0, Width: 1, Repeat: 1},
					{Name: "DLY", Offset: 1, Width: 5, Repeat: 1},
					{Name: "EN", Offset: 6, Width: 1, Repeat: 1},
				}},
			},
			want: map[string]Span{
				"INV":         {0, 1},
				"RX[0].RESET": {39, 1},
				"RX[0].DLY":   {40, 5},
				"RX[0].EN":    {45, 1},
				"RX[1].RESET": {47, 1},
				"RX[1].DLY":   {48, 5},
				"RX[1].EN":    {53, 1},
				"RX[2].RESET": {55, 1},
				"RX[2].DLY":   {56, 5},
				"RX[2].EN":    {61, 1},
				"RX[3].RESET": {63, 1},
				"RX[3].DLY":   {64, 5},
				"RX[3].EN":    {69, 1},
				"RX[4].RESET": {71, 1},
				"RX[4].DLY":   {72, 5},
				"RX[4].EN":    {77, 1},
			},
		},
		{
			name:  "repeated-group-overflows-declared-width",
			width: 48,
			fields: []Field{
				{Name: "RX", Offset: 39, Width: 8, Repeat: 5, Children: []Field{
					{Name: "DLY", Offset: 0, Width: 8, Repeat: 1},
				}},
			},
			err: &OutOfRangeError{},
		},
		{
			name:  "repeated-leaf",
			width: 32,
			fields: []Field{
				{Name: "TH", Offset: 4, Width: 6, Repeat: 3},
			},
			want: map[string]Span{
				"TH[0]": {4, 6},
				"TH[1]": {10, 6},
				"TH[2]": {16, 6},
			},
		},
		{
			name:  "nested-group-derived-width",
			width: 32,
			fields: []Field{
				{Name: "CTL", Offset: 8, Repeat: 1, Children: []Field{
					{Name: "A", Offset: 0, Width: 3, Repeat: 1},
					{Name: "B", Offset: 3, Width: 5, Repeat: 1},
				}},
				{Name: "TAIL", Offset: 16, Width: 1, Repeat: 1},
			},
			want: map[string]Span{
				"CTL.A": {8, 3},
				"CTL.B": {11, 5},
				"TAIL":  {16, 1},
			},
		},
		{
			name:  "overlap",
			width: 16,
			fields: []Field{
				{Name: "A", Offset: 0, Width: 4, Repeat: 1},
				{Name: "B", Offset: 3, Width: 2, Repeat: 1},
			},
			err: &OverlapError{},
		},
		{
			name:  "overlap-with-repeated-instance",
			width: 64,
			fields: []Field{
				{Name: "G", Offset: 0, Width: 4, Repeat: 2, Children: []Field{
					{Name: "V", Offset: 0, Width: 4, Repeat: 1},
				}},
				{Name: "X", Offset: 5, Width: 2, Repeat: 1},
			},
			err: &OverlapError{},
		},
		{
			name:  "duplicate-siblings",
			width: 16,
			fields: []Field{
				{Name: "A", Offset: 0, Width: 1, Repeat: 1},
				{Name: "A", Offset: 1, Width: 1, Repeat: 1},
			},
			err: &DuplicateNameError{},
		},
		{
			name:  "same-name-different-levels",
			width: 16,
			fields: []Field{
				{Name: "EN", Offset: 0, Width: 1, Repeat: 1},
				{Name: "G", Offset: 4, Width: 4, Repeat: 1, Children: []Field{
					{Name: "EN", Offset: 0, Width: 1, Repeat: 1},
				}},
			},
			want: map[string]Span{
				"EN":   {0, 1},
				"G.EN": {4, 1},
			},
		},
		{
			name:  "zero-width-leaf",
			width: 16,
			fields: []Field{
				{Name: "A", Offset: 0, Width: 0, Repeat: 1},
			},
			err: ErrConfig,
		},
		{
			name:  "leaf-wider-than-64",
			width: 128,
			fields: []Field{
				{Name: "BLOB", Offset: 0, Width: 65, Repeat: 1},
			},
			err: ErrConfig,
		},
		{
			name:  "out-of-range-leaf",
			width: 8,
			fields: []Field{
				{Name: "A", Offset: 6, Width: 4, Repeat: 1},
			},
			err: &OutOfRangeError{},
		},
		{
			name:  "repeated-group-without-size",
			width: 64,
			fields: []Field{
				{Name: "G", Offset: 0, Repeat: 2, Children: []Field{
					{Name: "V", Offset: 0, Width: 4, Repeat: 1},
				}},
			},
			err: &AmbiguousLayoutError{},
		},
		{
			name:  "child-exceeds-declared-stride",
			width: 64,
			fields: []Field{
				{Name: "G", Offset: 0, Width: 4, Repeat: 1, Children: []Field{
					{Name: "V", Offset: 0, Width: 6, Repeat: 1},
				}},
			},
			err: &OutOfRangeError{},
		},
		{
			name:  "invalid-repeat",
			width: 16,
			fields: []Field{
				{Name: "A", Offset: 0, Width: 1, Repeat: -1},
			},
			err: ErrConfig,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			lay, err := resolveLayout("reg", tc.width, tc.fields)
			if tc.err != nil {
				if err == nil {
					t.Fatalf("expected an error, got layout %v", lay.spans)
				}
				if tc.err != ErrConfig {
					if got, want := reflect.TypeOf(err), reflect.TypeOf(tc.err); got != want {
						t.Fatalf("invalid error type: got=%v, want=%v (%+v)", got, want, err)
					}
				}
				if !errors.Is(err, ErrConfig) {
					t.Fatalf("error does not match ErrConfig: %+v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("could not resolve layout: %+v", err)
			}
			if got, want := lay.spans, tc.want; !reflect.DeepEqual(got, want) {
				t.Fatalf("invalid layout:\ngot= %v\nwant=%v", got, want)
			}
			for _, path := range lay.Paths() {
				span, ok := lay.Span(path)
				if !ok {
					t.Fatalf("path %q missing from spans", path)
				}
				if span.Offset < 0 || span.Offset+span.Width > tc.width {
					t.Fatalf("path %q out of range: %v", path, span)
				}
			}
		})
	}
}

func TestRepeatExpansionOffsets(t *testing.T) {
	// a group of width 8, count 5, base offset 39 yields instances
	// at bit offsets 39, 47, 55, 63 and 71.
	lay, err := resolveLayout("rx", 80, []Field{
		{Name: "RX", Offset: 39, Width: 8, Repeat: 5, Children: []Field{
			{Name: "V", Offset: 0, Width: 8, Repeat: 1},
		}},
	})
	if err != nil {
		t.Fatalf("could not resolve layout: %+v", err)
	}
	for k, want := range []int{39, 47, 55, 63, 71} {
		path := fmt.Sprintf("RX[%d].V", k)
		span, ok := lay.Span(path)
		if !ok {
			t.Fatalf("missing path %q", path)
		}
		if got := span.Offset; got != want {
			t.Fatalf("%s: invalid offset: got=%d, want=%d", path, got, want)
		}
	}
}
