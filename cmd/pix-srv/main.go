// Copyright 2023 The go-pix Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command pix-srv runs the readout control server.
package main // import "github.com/go-pix/pixdaq/cmd/pix-srv"

import (
	"flag"
	"log"

	"github.com/go-pix/pixdaq"
	"github.com/go-pix/pixdaq/daq"
)

func main() {
	log.SetPrefix("pix-srv: ")
	log.SetFlags(0)

	var (
		addr = flag.String("addr", ":8877", "[ip]:port to listen on")
	)

	flag.Parse()

	log.Printf("running control server on %q...", *addr)
	err := daq.Serve(*addr, pixdaq.Factories())
	if err != nil {
		log.Fatalf("could not run control server: %+v", err)
	}
}
