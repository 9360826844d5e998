// Copyright 2023 The go-pix Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command pix-sql inspects the parameter sets stored in the
// conditions database.
package main // import "github.com/go-pix/pixdaq/cmd/pix-sql"

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/go-pix/pixdaq/conddb"
	_ "github.com/go-sql-driver/mysql"
)

const (
	dbname = "pixsrv"
)

func main() {
	log.SetPrefix("pix-sql: ")
	log.SetFlags(0)

	var (
		set = flag.String("set", "", "parameter set to inspect")
	)

	flag.Parse()

	db, err := conddb.Open(dbname)
	if err != nil {
		log.Fatalf("could not open conditions db: %+v", err)
	}
	defer db.Close()

	err = doQuery(db, *set)
	if err != nil {
		log.Fatalf("could not do query: %+v", err)
	}
}

func doQuery(db *conddb.DB, set string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sets, err := db.ParamSets(ctx)
	if err != nil {
		return fmt.Errorf("could not list parameter sets: %w", err)
	}
	log.Printf("parameter sets: %d", len(sets))
	for i, s := range sets {
		log.Printf("row[%d]: id=%d name=%q setup=%q", i, s.ID, s.Name, s.Setup)
	}

	if set == "" {
		v, err := db.LastParamSet(ctx)
		if err != nil {
			return fmt.Errorf("could not get last parameter set: %w", err)
		}
		set = v
		log.Printf("last parameter set: %q", set)
	}

	ps, err := db.ParamSet(ctx, set)
	if err != nil {
		return fmt.Errorf("could not get parameter set %q: %w", set, err)
	}
	for i, e := range ps.Entries() {
		log.Printf(">>> [%d] %s.%s = 0x%x", i, e.Driver, e.Field, e.Value)
	}

	return nil
}
