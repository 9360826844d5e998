// Copyright 2023 The go-pix Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"encoding/json"
	"net"
	"strconv"
	"strings"
	"testing"

	"github.com/go-pix/pixdaq/dut"
)

const testTopology = `
name: test
version: 1.0.0

transfer_layer:
  - name: bus
    type: mem

hw_drivers:
  - name: gpio
    type: gpio
    interface: bus
    base_addr: 0x40
    size: 2

registers:
  - name: leds
    type: std_register
    hw_driver: gpio
    size: 16
    fields:
      - name: "ON"
        offset: 0
        size: 8
      - name: BLINK
        offset: 8
        size: 8
`

// memTransport is an in-memory bus standing in for real hardware.
type memTransport struct {
	name string
	mem  []byte
}

func (tr *memTransport) Name() string { return tr.name }
func (tr *memTransport) Open() error  { return nil }
func (tr *memTransport) Close() error { return nil }

func (tr *memTransport) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, tr.mem[off:]), nil
}

func (tr *memTransport) WriteAt(p []byte, off int64) (int, error) {
	return copy(tr.mem[off:], p), nil
}

func TestServerFail(t *testing.T) {
	err := Serve(":invalid")
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestServer(t *testing.T) {
	tr := &memTransport{name: "bus", mem: make([]byte, 0x100)}

	addr, err := getTCPPort()
	if err != nil {
		t.Fatalf("could not get TCP port: %+v", err)
	}
	addr = "localhost:" + addr

	srv, err := newServer(addr, dut.WithTransport("bus", tr))
	if err != nil {
		t.Fatal(err)
	}

	errch := make(chan error)
	go func() {
		errch <- srv.serve()
	}()

	ctl, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("could not dial pix-srv: %+v", err)
	}
	defer ctl.Close()

	type req struct {
		Name string   `json:"name"`
		Args []string `json:"args"`
	}
	type rep struct {
		Msg  string `json:"msg"`
		Data string `json:"data"`
	}

	send := func(r req) rep {
		t.Helper()
		err := json.NewEncoder(ctl).Encode(r)
		if err != nil {
			t.Fatalf("could not send %q: %+v", r.Name, err)
		}
		var out rep
		err = json.NewDecoder(ctl).Decode(&out)
		if err != nil {
			t.Fatalf("could not read %q-reply from pix-srv: %+v", r.Name, err)
		}
		return out
	}

	ack := func(r req) rep {
		t.Helper()
		out := send(r)
		if out.Msg != "ok" {
			t.Fatalf("invalid %q-reply from pix-srv: %q", r.Name, out.Msg)
		}
		return out
	}

	ackErr := func(r req) {
		t.Helper()
		out := send(r)
		if out.Msg == "ok" {
			t.Fatalf("invalid %q-reply from pix-srv: %q", r.Name, out.Msg)
		}
	}

	// commands before a topology is loaded must fail.
	ackErr(req{Name: "read", Args: []string{"leds", "ON"}})
	ackErr(req{Name: "apply", Args: []string{"gpio: {ON: 1}"}})
	ackErr(req{Name: "dump"})

	// invalid requests.
	if _, err := ctl.Write([]byte("{]")); err != nil {
		t.Fatalf("could not send invalid request: %+v", err)
	}
	{
		var out rep
		err = json.NewDecoder(ctl).Decode(&out)
		if err != nil {
			t.Fatalf("could not read reply from pix-srv: %+v", err)
		}
		if out.Msg == "ok" {
			t.Fatalf("invalid reply for invalid request: %q", out.Msg)
		}
	}
	ackErr(req{Name: "unknown-command"})
	ackErr(req{Name: "load", Args: []string{"name: ["}})
	ackErr(req{Name: "load"})

	out := ack(req{Name: "load", Args: []string{testTopology}})
	if got, want := out.Data, "test"; got != want {
		t.Fatalf("invalid load-reply: got=%q, want=%q", got, want)
	}

	ack(req{Name: "write", Args: []string{"leds", "ON", "0x2a"}})
	if got, want := tr.mem[0x40], byte(0x2a); got != want {
		t.Fatalf("invalid device byte: got=0x%x, want=0x%x", got, want)
	}

	out = ack(req{Name: "read", Args: []string{"leds", "ON"}})
	if got, want := out.Data, "0x2a"; got != want {
		t.Fatalf("invalid read-reply: got=%q, want=%q", got, want)
	}

	out = ack(req{Name: "read", Args: []string{"leds"}})
	if got, want := out.Data, "2a00"; got != want {
		t.Fatalf("invalid register read-reply: got=%q, want=%q", got, want)
	}

	ackErr(req{Name: "read", Args: []string{"leds", "ON", "xx"}})
	ackErr(req{Name: "read", Args: []string{"nope", "ON"}})
	ackErr(req{Name: "write", Args: []string{"leds", "ON"}})
	ackErr(req{Name: "write", Args: []string{"leds", "ON", "not-a-number"}})
	ackErr(req{Name: "write", Args: []string{"leds", "ON", "0x1ff"}})

	out = ack(req{Name: "apply", Args: []string{"gpio: {BLINK: 0x0f}"}})
	if got, want := out.Data, "1"; got != want {
		t.Fatalf("invalid apply-reply: got=%q, want=%q", got, want)
	}
	if got, want := tr.mem[0x41], byte(0x0f); got != want {
		t.Fatalf("invalid device byte: got=0x%x, want=0x%x", got, want)
	}
	ackErr(req{Name: "apply", Args: []string{"nope: {ON: 1}"}})
	ackErr(req{Name: "apply", Args: []string{"gpio: ["}})

	out = ack(req{Name: "dump"})
	if !strings.Contains(out.Data, "BLINK") {
		t.Fatalf("invalid dump-reply:\n%s", out.Data)
	}

	ack(req{Name: "stop"})

	srv.close()

	err = <-errch
	if err != nil && !strings.HasSuffix(err.Error(), "use of closed network connection") {
		t.Fatalf("could not run server: %+v", err)
	}
}

func getTCPPort() (string, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return "", err
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return "", err
	}
	defer l.Close()
	return strconv.Itoa(l.Addr().(*net.TCPAddr).Port), nil
}
