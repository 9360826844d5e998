// Copyright 2023 The go-pix Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command pix-mon watches the raw data files of an on-going run and
// sends mail alerts when a file stops growing.
package main // import "github.com/go-pix/pixdaq/cmd/pix-mon"

import (
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	mail "gopkg.in/gomail.v2"
)

func main() {
	var (
		addr = flag.String("addr", ":8866", "[ip]:port to listen on")
		dir  = flag.String("dir", "", "directory to monitor")
		freq = flag.Duration("freq", 30*time.Second, "probing interval")
	)

	flag.Parse()

	log.SetPrefix("pix-mon: ")
	log.SetFlags(0)

	err := run(*addr, *dir, *freq)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(addr, dir string, freq time.Duration) error {
	srv, err := newServer(addr, dir, freq)
	if err != nil {
		return fmt.Errorf("could not create server: %w", err)
	}
	log.Printf("running pix-mon server on %q...", addr)

	var grp errgroup.Group
	grp.Go(srv.serve)
	grp.Go(srv.monitor)
	return grp.Wait()
}

type server struct {
	conn net.Listener

	dir  string
	freq time.Duration

	mu     sync.Mutex
	run    string         // glob fragment of the current run, empty when idle
	alerts map[string]int // number of alerts sent per file
}

func newServer(addr, dir string, freq time.Duration) (*server, error) {
	conn, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not listen on %q: %w", addr, err)
	}
	return &server{
		conn:   conn,
		dir:    dir,
		freq:   freq,
		alerts: make(map[string]int),
	}, nil
}

type Request struct {
	Name string   `json:"cmd"`
	Args []string `json:"args"`
}

type Reply struct {
	Msg string `json:"msg"`
	Err string `json:"err,omitempty"`
}

func (srv *server) serve() error {
	defer srv.conn.Close()

	for {
		conn, err := srv.conn.Accept()
		if err != nil {
			return fmt.Errorf("could not accept connection: %w", err)
		}
		go srv.handle(conn)
	}
}

func (srv *server) handle(conn net.Conn) {
	defer conn.Close()

	for {
		var (
			req Request
			err = json.NewDecoder(conn).Decode(&req)
		)
		if err != nil {
			log.Printf("could not decode command: %+v", err)
			return
		}
		switch req.Name {
		case "start":
			if len(req.Args) != 1 {
				_ = json.NewEncoder(conn).Encode(Reply{Err: "start takes the run name"})
				continue
			}
			log.Printf("monitoring run %q...", req.Args[0])
			srv.mu.Lock()
			srv.run = req.Args[0]
			srv.alerts = make(map[string]int)
			srv.mu.Unlock()
			_ = json.NewEncoder(conn).Encode(Reply{Msg: "ok"})

		case "stop":
			log.Printf("monitoring stopped")
			srv.mu.Lock()
			srv.run = ""
			srv.mu.Unlock()
			_ = json.NewEncoder(conn).Encode(Reply{Msg: "ok"})
			return

		default:
			log.Printf("unknown command %q", req.Name)
			_ = json.NewEncoder(conn).Encode(Reply{Err: "unknown command"})
		}
	}
}

func (srv *server) monitor() error {
	var (
		tick  = time.NewTicker(srv.freq)
		table = make(map[string]int64)
	)
	defer tick.Stop()

	for range tick.C {
		srv.mu.Lock()
		run := srv.run
		srv.mu.Unlock()
		if run == "" {
			table = make(map[string]int64)
			continue
		}

		cur, err := srv.list(srv.dir, run)
		if err != nil {
			log.Printf("could not list files: %+v", err)
			continue
		}
		srv.compare(table, cur)
		table = cur
	}
	return nil
}

func (srv *server) list(dir, run string) (map[string]int64, error) {
	table := make(map[string]int64)
	glob := filepath.Join(dir, "pix_*"+run+"*raw")
	files, err := filepath.Glob(glob)
	if err != nil {
		return nil, fmt.Errorf("could not glob %q: %w", glob, err)
	}
	for _, fname := range files {
		fi, err := os.Stat(fname)
		if err != nil {
			return nil, fmt.Errorf("could not stat %q: %w", fname, err)
		}
		table[fname] = fi.Size()
	}
	return table, nil
}

func (srv *server) compare(ref, chk map[string]int64) {
	for fname := range chk {
		if _, ok := ref[fname]; !ok {
			// file just appeared.
			// nothing to compare against.
			continue
		}
		refsz := ref[fname]
		chksz := chk[fname]
		if refsz == chksz {
			// file didn't grow!
			srv.alert(fname, refsz)
		}
	}
}

func (srv *server) alert(fname string, size int64) {
	log.Printf("file %q didn't change in the last %v (size=%d bytes)",
		fname, srv.freq, size,
	)
	srv.alerts[fname]++

	const maxAlerts = 5
	if srv.alerts[fname] < maxAlerts {
		srv.alertMail(fname, size)
	}
}

var (
	alertMailUsr  = os.Getenv("MAIL_USERNAME")
	alertMailPwd  = os.Getenv("MAIL_PASSWORD")
	alertMailSrv  = os.Getenv("MAIL_SERVER")
	alertMailPort = atoi(os.Getenv("MAIL_PORT"))
	alertMailTgts = strings.Split(os.Getenv("MAIL_TGTS"), ",")
)

func (srv *server) alertMail(fname string, size int64) {
	if alertMailUsr == "" || alertMailPwd == "" ||
		alertMailSrv == "" || alertMailPort == 0 ||
		len(alertMailTgts) == 0 {
		log.Printf("could not send mail alert: missing credentials")
		return
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", alertMailUsr)
	msg.SetHeader("Bcc", alertMailTgts...)
	msg.SetHeader("Subject", fmt.Sprintf("[pix-mon] file alert: %q", fname))
	msg.SetBody("text/plain", fmt.Sprintf("file: %q\nsize: %d bytes\nfreq: %v",
		fname, size, srv.freq,
	))

	dial := mail.NewDialer(alertMailSrv, alertMailPort, alertMailUsr, alertMailPwd)
	dial.TLSConfig = &tls.Config{
		InsecureSkipVerify: true,
	}
	err := dial.DialAndSend(msg)
	if err != nil {
		log.Printf("could not send mail alert: %+v", err)
	}
}

func atoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
