// Copyright 2023 The go-pix Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command pix-apply loads a readout topology and applies a parameter
// document to the hardware.
package main // import "github.com/go-pix/pixdaq/cmd/pix-apply"

import (
	"flag"
	"log"
	"os"

	"github.com/go-pix/pixdaq"
	"github.com/go-pix/pixdaq/dut"
)

func main() {
	log.SetPrefix("pix-apply: ")
	log.SetFlags(0)

	var (
		top    = flag.String("top", "topology.yaml", "readout topology document")
		params = flag.String("params", "", "parameter document to apply")
		dump   = flag.Bool("dump", false, "dump the resolved register layout")
	)

	flag.Parse()

	err := run(*top, *params, *dump)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(top, params string, dump bool) error {
	ses, err := pixdaq.Open(top)
	if err != nil {
		return err
	}
	defer ses.Close()

	log.Printf("session %q (version %s)", ses.Name(), ses.Version())

	if dump {
		err = ses.DumpLayout(os.Stdout)
		if err != nil {
			return err
		}
	}

	if params == "" {
		return ses.Close()
	}

	ps, err := dut.ParseParamsFile(params)
	if err != nil {
		return err
	}

	log.Printf("applying %d parameters from %q...", len(ps.Entries()), params)
	err = ses.Apply(ps)
	if err != nil {
		return err
	}
	log.Printf("applying %d parameters from %q... [done]", len(ps.Entries()), params)

	return ses.Close()
}
