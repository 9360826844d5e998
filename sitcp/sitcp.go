// Copyright 2023 The go-pix Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sitcp provides the network transport to SiTCP-equipped
// readout FPGAs: register access over the RBCP/UDP slow-control
// port, bulk event data over an optional TCP stream.
package sitcp // import "github.com/go-pix/pixdaq/sitcp"

import (
	"fmt"
	"io"
	"net"
	"time"
)

// Config holds the connection parameters of one SiTCP link.
type Config struct {
	IP      string
	UDPPort int // RBCP slow-control port
	TCPPort int // bulk data port, used when TCP is true
	TCP     bool
	Timeout time.Duration // per-datagram reply deadline
}

// Transport drives one SiTCP link. It is not safe for concurrent
// use without external serialization (the packet-id sequencing and
// the read-modify-write cycles of the caller both race otherwise).
type Transport struct {
	name string
	cfg  Config

	conn *net.UDPConn // RBCP
	data net.Conn     // TCP stream, nil unless cfg.TCP
	id   uint8
}

// New builds a transport for the given link. The returned transport
// performs no I/O until Open.
func New(name string, cfg Config) *Transport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 1 * time.Second
	}
	return &Transport{name: name, cfg: cfg}
}

// Name returns the transport name from the topology document.
func (tr *Transport) Name() string { return tr.name }

// Open dials the RBCP port and, for connection-oriented links, the
// TCP data port.
func (tr *Transport) Open() error {
	raddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", tr.cfg.IP, tr.cfg.UDPPort))
	if err != nil {
		return fmt.Errorf("sitcp: could not resolve RBCP addr %q: %w", tr.cfg.IP, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return fmt.Errorf("sitcp: could not dial RBCP port: %w", err)
	}
	tr.conn = conn

	if tr.cfg.TCP {
		addr := fmt.Sprintf("%s:%d", tr.cfg.IP, tr.cfg.TCPPort)
		data, err := net.DialTimeout("tcp", addr, tr.cfg.Timeout)
		if err != nil {
			_ = tr.conn.Close()
			tr.conn = nil
			return fmt.Errorf("sitcp: could not dial data port %q: %w", addr, err)
		}
		tr.data = data
	}
	return nil
}

// Close closes the RBCP socket and the data stream.
func (tr *Transport) Close() error {
	var first error
	if tr.data != nil {
		if err := tr.data.Close(); err != nil {
			first = err
		}
		tr.data = nil
	}
	if tr.conn != nil {
		if err := tr.conn.Close(); err != nil && first == nil {
			first = err
		}
		tr.conn = nil
	}
	return first
}

// Data returns the bulk data stream of a connection-oriented link,
// or nil for register-only links.
func (tr *Transport) Data() net.Conn { return tr.data }

// ReadAt reads len(p) bytes from the device address off, chunking
// the transfer to the 255-byte RBCP payload limit.
func (tr *Transport) ReadAt(p []byte, off int64) (int, error) {
	if tr.conn == nil {
		return 0, fmt.Errorf("sitcp: transport %q not opened", tr.name)
	}
	n := 0
	for n < len(p) {
		chunk := len(p) - n
		if chunk > maxPayload {
			chunk = maxPayload
		}
		rep, err := tr.rpc(&frame{
			cmd:  cmdRead,
			addr: uint32(off) + uint32(n),
			len:  uint8(chunk),
		})
		if err != nil {
			return n, err
		}
		if len(rep.data) != chunk {
			return n, fmt.Errorf(
				"sitcp: short RBCP read at addr=0x%x: got %d bytes, want %d: %w",
				uint32(off)+uint32(n), len(rep.data), chunk, io.ErrUnexpectedEOF,
			)
		}
		copy(p[n:], rep.data)
		n += chunk
	}
	return n, nil
}

// WriteAt writes len(p) bytes to the device address off, chunking
// the transfer to the 255-byte RBCP payload limit. Writes are not
// retried: a timed-out write may or may not have reached the bus.
func (tr *Transport) WriteAt(p []byte, off int64) (int, error) {
	if tr.conn == nil {
		return 0, fmt.Errorf("sitcp: transport %q not opened", tr.name)
	}
	n := 0
	for n < len(p) {
		chunk := len(p) - n
		if chunk > maxPayload {
			chunk = maxPayload
		}
		_, err := tr.rpc(&frame{
			cmd:  cmdWrite,
			addr: uint32(off) + uint32(n),
			data: p[n : n+chunk],
		})
		if err != nil {
			return n, err
		}
		n += chunk
	}
	return n, nil
}

// rpc sends one RBCP request and waits for the matching reply.
func (tr *Transport) rpc(req *frame) (*frame, error) {
	tr.id++
	req.id = tr.id

	_, err := tr.conn.Write(req.marshal())
	if err != nil {
		return nil, fmt.Errorf("sitcp: could not send RBCP request: %w", err)
	}

	err = tr.conn.SetReadDeadline(time.Now().Add(tr.cfg.Timeout))
	if err != nil {
		return nil, fmt.Errorf("sitcp: could not arm RBCP deadline: %w", err)
	}

	buf := make([]byte, hdrLen+maxPayload)
	for {
		n, err := tr.conn.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("sitcp: could not read RBCP reply: %w", err)
		}
		var rep frame
		err = rep.unmarshal(buf[:n])
		if err != nil {
			return nil, err
		}
		if rep.id != req.id {
			// stale reply from an earlier, timed-out exchange.
			continue
		}
		return &rep, nil
	}
}
