// Copyright 2023 The go-pix Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pixdaq holds code for the pixel-detector readout DAQ.
package pixdaq // import "github.com/go-pix/pixdaq"

import (
	"fmt"
	"runtime/debug"

	"github.com/go-pix/pixdaq/dut"
	"github.com/go-pix/pixdaq/mmio"
	"github.com/go-pix/pixdaq/sitcp"
	"github.com/go-pix/pixdaq/smb"
)

// Factories returns the stock transport factories (sitcp, mmio and
// smb), ready to be passed to the topology loader.
func Factories() dut.Option {
	return dut.WithTransports(map[string]dut.TransportFunc{
		"sitcp": func(spec dut.TransportSpec) (dut.Transport, error) {
			return sitcp.FromSpec(spec)
		},
		"mmio": func(spec dut.TransportSpec) (dut.Transport, error) {
			return mmio.FromSpec(spec)
		},
		"smb": func(spec dut.TransportSpec) (dut.Transport, error) {
			return smb.FromSpec(spec)
		},
	})
}

// Open loads the topology file fname with the stock transport
// factories and opens all its transports.
func Open(fname string, opts ...dut.Option) (*dut.Session, error) {
	opts = append([]dut.Option{Factories()}, opts...)
	ses, err := dut.LoadFile(fname, opts...)
	if err != nil {
		return nil, fmt.Errorf("pixdaq: could not load topology %q: %w", fname, err)
	}
	err = ses.Open()
	if err != nil {
		_ = ses.Close()
		return nil, fmt.Errorf("pixdaq: could not open session %q: %w", ses.Name(), err)
	}
	return ses, nil
}

// Version returns the version of pixdaq and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	const root = "github.com/go-pix/pixdaq"
	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		if m.Replace != nil {
			switch {
			case m.Replace.Version != "" && m.Replace.Path != "":
				return fmt.Sprintf("%s %s", m.Replace.Path, m.Replace.Version), m.Replace.Sum
			case m.Replace.Version != "":
				return m.Replace.Version, m.Replace.Sum
			case m.Replace.Path != "":
				return m.Replace.Path, m.Replace.Sum
			default:
				return m.Version + "*", ""
			}
		}
		return m.Version, m.Sum
	}
	return "", ""
}
