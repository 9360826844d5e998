// Copyright 2023 The go-pix Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package conddb holds types to retrieve configuration parameter
// sets for pixel readout setups from the conditions database.
package conddb // import "github.com/go-pix/pixdaq/conddb"

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-pix/pixdaq/dut"
	_ "github.com/go-sql-driver/mysql"
)

const (
	host = "localhost"
)

var (
	usr = "username"
	pwd = "s3cr3t"

	drvName = "mysql"
)

// ParamSetInfo describes one stored parameter set.
type ParamSetInfo struct {
	ID    uint32
	Name  string
	Setup string
}

// DB exposes convenience methods to easily retrieve configuration
// parameter sets from the conditions database.
type DB struct {
	db   *sql.DB
	name string // name of the conditions database
}

// Open opens a connection to the conditions database dbname.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("conddb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(db string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s", usr, pwd, host, db)
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

// LastParamSet returns the name of the most recently stored
// parameter set.
func (db *DB) LastParamSet(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	name := ""
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT name FROM paramsets ORDER BY datetime DESC LIMIT 1",
	)
	if err != nil {
		return name, fmt.Errorf("conddb: could not query last parameter set: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		err = rows.Scan(&name)
		if err != nil {
			return name, fmt.Errorf("conddb: could not get parameter-set name: %w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return name, fmt.Errorf("conddb: could not scan db for last parameter set: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return name, fmt.Errorf("conddb: context error while retrieving last parameter set: %w", err)
	}

	return name, nil
}

// ParamSet returns the named parameter set, in storage order, ready
// to be applied to a session.
func (db *DB) ParamSet(ctx context.Context, name string) (dut.Params, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var entries []dut.ParamEntry
	rows, err := db.db.QueryContext(
		ctx,
		`
SELECT params.driver, params.field, params.value FROM params
JOIN paramsets ON paramsets.identifier=params.paramset
WHERE (
	paramsets.name=?
)
ORDER BY params.position
`,
		name,
	)
	if err != nil {
		return dut.Params{}, fmt.Errorf("conddb: could not run parameter-set query: %w", err)
	}
	defer rows.Close()

	i := 0
	for rows.Next() {
		var e dut.ParamEntry
		err = rows.Scan(&e.Driver, &e.Field, &e.Value)
		if err != nil {
			return dut.Params{}, fmt.Errorf("conddb: could not scan row %d of parameter set %q: %w", i, name, err)
		}
		i++

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return dut.Params{}, fmt.Errorf("conddb: could not scan db for parameter set %q: %w", name, err)
	}

	if err := ctx.Err(); err != nil {
		return dut.Params{}, fmt.Errorf("conddb: context error while retrieving parameter set %q: %w", name, err)
	}

	return dut.NewParams(entries), nil
}

// ParamSets lists the stored parameter sets.
func (db *DB) ParamSets(ctx context.Context) ([]ParamSetInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var sets []ParamSetInfo
	rows, err := db.db.QueryContext(ctx, "SELECT identifier, name, setup FROM paramsets")
	if err != nil {
		return sets, fmt.Errorf(
			"conddb: could not run paramsets query: %w",
			err,
		)
	}
	defer rows.Close()

	for rows.Next() {
		var set ParamSetInfo
		err = rows.Scan(&set.ID, &set.Name, &set.Setup)
		if err != nil {
			return sets, fmt.Errorf(
				"conddb: could not scan paramsets: %w",
				err,
			)
		}
		sets = append(sets, set)
	}

	if err := rows.Err(); err != nil {
		return sets, fmt.Errorf(
			"conddb: could not scan db for paramsets: %w",
			err,
		)
	}

	if err := ctx.Err(); err != nil {
		return sets, fmt.Errorf(
			"conddb: context error while retrieving paramsets: %w",
			err,
		)
	}

	return sets, nil
}
