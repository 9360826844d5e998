// Copyright 2023 The go-pix Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sitcp

import (
	"encoding/binary"
	"fmt"
)

// RBCP is the SiTCP slow-control protocol: one request datagram, one
// reply datagram, up to 255 payload bytes each.
//
//	byte 0    ver/type (0xff)
//	byte 1    command: 0xc0 read, 0x80 write; replies set the ack
//	          bit 0x08, failed replies the error bit 0x01
//	byte 2    packet id, echoed by the device
//	byte 3    payload length in bytes
//	bytes 4-7 device address, big-endian
//
// Write requests and read replies carry the payload after the
// header.
const (
	verType  = 0xff
	cmdRead  = 0xc0
	cmdWrite = 0x80
	flagAck  = 0x08
	flagErr  = 0x01

	hdrLen     = 8
	maxPayload = 255
)

type frame struct {
	cmd  uint8
	id   uint8
	addr uint32
	len  uint8  // requested length, for reads
	data []byte // payload, for writes and read replies
}

func (f *frame) marshal() []byte {
	n := f.len
	if f.data != nil {
		n = uint8(len(f.data))
	}
	buf := make([]byte, hdrLen, hdrLen+len(f.data))
	buf[0] = verType
	buf[1] = f.cmd
	buf[2] = f.id
	buf[3] = n
	binary.BigEndian.PutUint32(buf[4:8], f.addr)
	return append(buf, f.data...)
}

func (f *frame) unmarshal(p []byte) error {
	if len(p) < hdrLen {
		return fmt.Errorf("sitcp: short RBCP frame (%d bytes)", len(p))
	}
	if p[0] != verType {
		return fmt.Errorf("sitcp: invalid RBCP ver/type 0x%02x", p[0])
	}
	f.cmd = p[1]
	f.id = p[2]
	f.len = p[3]
	f.addr = binary.BigEndian.Uint32(p[4:8])
	f.data = p[hdrLen:]
	if f.cmd&flagErr != 0 {
		return fmt.Errorf("sitcp: RBCP bus error at addr=0x%x", f.addr)
	}
	if f.cmd&flagAck == 0 {
		return fmt.Errorf("sitcp: RBCP reply without ack (cmd=0x%02x)", f.cmd)
	}
	return nil
}
