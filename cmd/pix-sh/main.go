// Copyright 2023 The go-pix Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command pix-sh is an interactive shell to poke at the registers of
// a readout setup.
//
// The default topology document is taken from the "topology" key of
// an optional pixsh.yaml configuration file.
package main // import "github.com/go-pix/pixdaq/cmd/pix-sh"

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/go-pix/pixdaq"
	"github.com/go-pix/pixdaq/dut"
	"github.com/peterh/liner"
	"github.com/spf13/viper"
)

func main() {
	log.SetPrefix("pix-sh: ")
	log.SetFlags(0)

	var (
		top = flag.String("top", "", "readout topology document")
	)

	flag.Parse()

	fname := *top
	if fname == "" {
		viper.SetConfigName("pixsh")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/pixdaq")
		err := viper.ReadInConfig()
		if err != nil {
			log.Fatalf("no topology given and no pixsh config file: %+v", err)
		}
		fname = viper.GetString("topology")
	}
	if fname == "" {
		log.Fatalf("no topology document")
	}

	ses, err := pixdaq.Open(fname)
	if err != nil {
		log.Fatalf("could not open session: %+v", err)
	}
	defer ses.Close()

	err = repl(ses)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

var cmdNames = []string{"read", "write", "dump", "regs", "apply", "help", "quit"}

func repl(ses *dut.Session) error {
	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(func(line string) []string {
		var out []string
		for _, name := range cmdNames {
			if strings.HasPrefix(name, strings.ToLower(line)) {
				out = append(out, name)
			}
		}
		return out
	})

	fmt.Printf("welcome to pix-sh (session %q)\ntype 'help' for help.\n", ses.Name())

	for {
		line, err := term.Prompt("pix> ")
		switch {
		case err == io.EOF || err == liner.ErrPromptAborted:
			fmt.Printf("\n")
			return nil
		case err != nil:
			return fmt.Errorf("could not read line: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		args := strings.Fields(line)
		switch args[0] {
		case "quit", "exit":
			return nil
		case "help":
			usage()
		default:
			err = eval(ses, args)
			if err != nil {
				log.Printf("%+v", err)
			}
		}
	}
}

func eval(ses *dut.Session, args []string) error {
	switch args[0] {
	case "read":
		switch len(args) {
		case 2:
			p, err := ses.ReadReg(args[1])
			if err != nil {
				return err
			}
			fmt.Printf("%s = %x\n", args[1], p)
		case 3:
			v, err := ses.Read(args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Printf("%s.%s = 0x%x (%d)\n", args[1], args[2], v, v)
		default:
			return fmt.Errorf("usage: read REG [FIELD]")
		}

	case "write":
		if len(args) != 4 {
			return fmt.Errorf("usage: write REG FIELD VALUE")
		}
		v, err := strconv.ParseUint(args[3], 0, 64)
		if err != nil {
			return fmt.Errorf("could not parse value %q: %w", args[3], err)
		}
		return ses.Write(args[1], args[2], v)

	case "dump":
		return ses.DumpLayout(os.Stdout)

	case "regs":
		for _, reg := range ses.Registers() {
			fmt.Printf("%-16s driver=%-12s width=%d\n", reg.Name, reg.Driver, reg.Width)
		}

	case "apply":
		if len(args) != 2 {
			return fmt.Errorf("usage: apply FILE")
		}
		ps, err := dut.ParseParamsFile(args[1])
		if err != nil {
			return err
		}
		err = ses.Apply(ps)
		if err != nil {
			return err
		}
		fmt.Printf("applied %d parameters\n", len(ps.Entries()))

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
	return nil
}

func usage() {
	fmt.Print(`commands:
  read  REG [FIELD]      read a field or a whole register
  write REG FIELD VALUE  write a field
  dump                   dump the resolved register layout
  regs                   list registers
  apply FILE             apply a parameter document
  quit                   exit
`)
}
