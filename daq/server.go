// Copyright 2023 The go-pix Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package daq provides a TCP control server for pixel readout
// sessions: a JSON command loop to load a topology, apply parameter
// documents and access registers over the wire.
package daq // import "github.com/go-pix/pixdaq/daq"

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/go-pix/pixdaq/dut"
)

// server allows to control a readout session.
type server struct {
	ctl net.Listener

	msg  *log.Logger
	opts []dut.Option

	newSession func(r io.Reader, opts ...dut.Option) (*dut.Session, error)

	ses *dut.Session
}

// Serve listens on addr and drives one readout session per control
// connection. Options are forwarded to the topology loader, so
// callers can pre-bind transports.
func Serve(addr string, opts ...dut.Option) error {
	srv, err := newServer(addr, opts...)
	if err != nil {
		return fmt.Errorf("daq: could not create control server: %w", err)
	}
	return srv.serve()
}

func newServer(addr string, opts ...dut.Option) (*server, error) {
	ctl, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("daq: could not create control server on %q: %w", addr, err)
	}

	srv := &server{
		ctl: ctl,

		msg:  log.New(os.Stdout, "pix-srv: ", 0),
		opts: opts,

		newSession: dut.Load,
	}
	return srv, nil
}

func (srv *server) serve() error {
	defer srv.close()

	for {
		conn, err := srv.ctl.Accept()
		if err != nil {
			return fmt.Errorf("daq: could not accept connection: %w", err)
		}

		err = srv.handle(conn)
		if err != nil {
			srv.msg.Printf("could not serve session: %+v", err)
			continue
		}
	}
}

func (srv *server) handle(conn net.Conn) error {
	defer conn.Close()
	srv.msg.Printf("serving %v...", conn.RemoteAddr())
	defer srv.msg.Printf("serving %v... [done]", conn.RemoteAddr())

	srv.ses = nil
	defer func() {
		if srv.ses != nil {
			_ = srv.ses.Close()
			srv.ses = nil
		}
	}()

loop:
	for {
		var req struct {
			Name string   `json:"name"`
			Args []string `json:"args"`
		}

		err := json.NewDecoder(conn).Decode(&req)
		if err != nil {
			srv.reply(conn, "", err)
			if errors.Is(err, io.EOF) {
				break loop
			}
			srv.msg.Printf("could not decode command request: %+v", err)
			continue
		}
		srv.msg.Printf("received request: name=%q", req.Name)

		switch strings.ToLower(req.Name) {
		case "load":
			if len(req.Args) != 1 {
				srv.reply(conn, "", fmt.Errorf("daq: load takes the topology document"))
				continue
			}
			err = srv.load(req.Args[0])
			if err != nil {
				srv.msg.Printf("could not load topology: %+v", err)
				srv.reply(conn, "", err)
				continue
			}
			srv.reply(conn, srv.ses.Name(), nil)

		case "apply":
			if srv.ses == nil {
				srv.reply(conn, "", errNoSession)
				continue
			}
			if len(req.Args) != 1 {
				srv.reply(conn, "", fmt.Errorf("daq: apply takes the parameter document"))
				continue
			}
			ps, err := dut.ParseParams(strings.NewReader(req.Args[0]))
			if err != nil {
				srv.msg.Printf("could not parse parameters: %+v", err)
				srv.reply(conn, "", err)
				continue
			}
			err = srv.ses.Apply(ps)
			if err != nil {
				srv.msg.Printf("could not apply parameters: %+v", err)
				srv.reply(conn, "", err)
				continue
			}
			srv.reply(conn, strconv.Itoa(len(ps.Entries())), nil)

		case "read":
			v, err := srv.read(req.Args)
			if err != nil {
				srv.msg.Printf("could not read: %+v", err)
				srv.reply(conn, "", err)
				continue
			}
			srv.reply(conn, v, nil)

		case "write":
			err = srv.write(req.Args)
			if err != nil {
				srv.msg.Printf("could not write: %+v", err)
				srv.reply(conn, "", err)
				continue
			}
			srv.reply(conn, "", nil)

		case "dump":
			if srv.ses == nil {
				srv.reply(conn, "", errNoSession)
				continue
			}
			buf := new(strings.Builder)
			err = srv.ses.DumpLayout(buf)
			if err != nil {
				srv.reply(conn, "", err)
				continue
			}
			srv.reply(conn, buf.String(), nil)

		case "stop":
			srv.reply(conn, "", nil)
			break loop

		default:
			srv.msg.Printf("unknown command name=%q, args=%q", req.Name, req.Args)
			err = fmt.Errorf("daq: unknown command %q", req.Name)
			srv.reply(conn, "", err)
			continue
		}
	}

	return nil
}

var errNoSession = errors.New("daq: no topology loaded")

func (srv *server) load(doc string) error {
	ses, err := srv.newSession(strings.NewReader(doc), srv.opts...)
	if err != nil {
		return err
	}
	err = ses.Open()
	if err != nil {
		_ = ses.Close()
		return err
	}
	if srv.ses != nil {
		_ = srv.ses.Close()
	}
	srv.ses = ses
	return nil
}

// read handles both field reads (reg, field) and whole-register
// reads (reg).
func (srv *server) read(args []string) (string, error) {
	if srv.ses == nil {
		return "", errNoSession
	}
	switch len(args) {
	case 1:
		p, err := srv.ses.ReadReg(args[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%x", p), nil
	case 2:
		v, err := srv.ses.Read(args[0], args[1])
		if err != nil {
			return "", err
		}
		return "0x" + strconv.FormatUint(v, 16), nil
	default:
		return "", fmt.Errorf("daq: read takes a register and an optional field")
	}
}

func (srv *server) write(args []string) error {
	if srv.ses == nil {
		return errNoSession
	}
	if len(args) != 3 {
		return fmt.Errorf("daq: write takes a register, a field and a value")
	}
	v, err := strconv.ParseUint(args[2], 0, 64)
	if err != nil {
		return fmt.Errorf("daq: could not parse value %q: %w", args[2], err)
	}
	return srv.ses.Write(args[0], args[1], v)
}

func (srv *server) reply(conn net.Conn, data string, err error) {
	rep := struct {
		Msg  string `json:"msg"`
		Data string `json:"data,omitempty"`
	}{"ok", data}
	if err != nil {
		rep.Msg = fmt.Sprintf("%+v", err)
		rep.Data = ""
	}

	_ = json.NewEncoder(conn).Encode(rep)
}

func (srv *server) close() {
	_ = srv.ctl.Close()
}
