// Copyright 2023 The go-pix Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command pix-daq starts a TDAQ server driving one readout session.
//
// Usage:
//
//	pix-daq [tdaq-flags] topology.yaml [params.yaml [run-reg:run-field]]
//
// The run-control register (trigger:EN unless overridden) is raised
// on /start and cleared on /stop.
package main // import "github.com/go-pix/pixdaq/cmd/pix-daq"

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-pix/pixdaq"
	"github.com/go-pix/pixdaq/dut"
)

func main() {
	cmd := flags.New()
	if len(cmd.Args) < 1 {
		log.Fatalf("missing topology document")
	}

	dev := device{
		top:    cmd.Args[0],
		runReg: "trigger",
		runFld: "EN",
	}
	if len(cmd.Args) > 1 {
		dev.params = cmd.Args[1]
	}
	if len(cmd.Args) > 2 {
		reg, fld, ok := strings.Cut(cmd.Args[2], ":")
		if !ok {
			log.Fatalf("invalid run-control %q (want reg:field)", cmd.Args[2])
		}
		dev.runReg = reg
		dev.runFld = fld
	}

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

type device struct {
	top    string // topology document
	params string // parameter document, may be empty
	runReg string
	runFld string

	ses *dut.Session
}

func (dev *device) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	if dev.ses != nil {
		_ = dev.ses.Close()
		dev.ses = nil
	}
	ses, err := dut.LoadFile(dev.top, pixdaq.Factories())
	if err != nil {
		ctx.Msg.Errorf("could not load topology %q: %+v", dev.top, err)
		return fmt.Errorf("could not load topology %q: %w", dev.top, err)
	}
	dev.ses = ses
	ctx.Msg.Infof("loaded topology %q (version %s)", ses.Name(), ses.Version())
	return nil
}

func (dev *device) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")

	if dev.ses == nil {
		return fmt.Errorf("no topology loaded")
	}
	err := dev.ses.Open()
	if err != nil {
		ctx.Msg.Errorf("could not open transports: %+v", err)
		return fmt.Errorf("could not open transports: %w", err)
	}

	if dev.params == "" {
		return nil
	}
	ps, err := dut.ParseParamsFile(dev.params)
	if err != nil {
		ctx.Msg.Errorf("could not parse parameters %q: %+v", dev.params, err)
		return fmt.Errorf("could not parse parameters %q: %w", dev.params, err)
	}
	err = dev.ses.Apply(ps)
	if err != nil {
		ctx.Msg.Errorf("could not apply parameters: %+v", err)
		return fmt.Errorf("could not apply parameters: %w", err)
	}
	ctx.Msg.Infof("applied %d parameters from %q", len(ps.Entries()), dev.params)
	return nil
}

func (dev *device) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")

	if dev.ses != nil {
		_ = dev.ses.Close()
		dev.ses = nil
	}
	return dev.OnConfig(ctx, resp, req)
}

func (dev *device) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")

	if dev.ses == nil {
		return fmt.Errorf("no topology loaded")
	}
	err := dev.ses.Write(dev.runReg, dev.runFld, 1)
	if err != nil {
		ctx.Msg.Errorf("could not raise %s.%s: %+v", dev.runReg, dev.runFld, err)
		return fmt.Errorf("could not raise %s.%s: %w", dev.runReg, dev.runFld, err)
	}
	return nil
}

func (dev *device) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /stop command...")

	if dev.ses == nil {
		return fmt.Errorf("no topology loaded")
	}
	err := dev.ses.Write(dev.runReg, dev.runFld, 0)
	if err != nil {
		ctx.Msg.Errorf("could not clear %s.%s: %+v", dev.runReg, dev.runFld, err)
		return fmt.Errorf("could not clear %s.%s: %w", dev.runReg, dev.runFld, err)
	}
	return nil
}

func (dev *device) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")

	if dev.ses == nil {
		return nil
	}
	err := dev.ses.Close()
	dev.ses = nil
	return err
}
