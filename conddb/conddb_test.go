// Copyright 2023 The go-pix Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package conddb

import (
	"context"
	"database/sql/driver"
	"reflect"
	"testing"

	"github.com/go-pix/pixdaq/dut"
	"github.com/go-pix/pixdaq/internal/fakedb"
)

func init() {
	drvName = "fakedb"
}

func TestOpen(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()
}

func TestLastParamSet(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: []string{"name"},
		Values: [][]driver.Value{
			{"mio-tuned-2023-06"},
		},
	}, func(ctx context.Context) error {
		name, err := db.LastParamSet(ctx)
		if err != nil {
			t.Fatalf("could not retrieve last parameter set: %+v", err)
		}

		if got, want := name, "mio-tuned-2023-06"; got != want {
			t.Fatalf("invalid last parameter set: got=%q, want=%q", got, want)
		}
		return nil
	})
}

func TestParamSet(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()

	want := []dut.ParamEntry{
		{Driver: "rx_hw", Field: "RX[0].DLY", Value: 2},
		{Driver: "rx_hw", Field: "RX[1].DLY", Value: 3},
		{Driver: "tlu", Field: "MODE", Value: 1},
		{Driver: "tdc", Field: "EN", Value: 1},
	}

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: []string{"driver", "field", "value"},
		Values: [][]driver.Value{
			{want[0].Driver, want[0].Field, want[0].Value},
			{want[1].Driver, want[1].Field, want[1].Value},
			{want[2].Driver, want[2].Field, want[2].Value},
			{want[3].Driver, want[3].Field, want[3].Value},
		},
	}, func(ctx context.Context) error {
		ps, err := db.ParamSet(ctx, "mio-tuned-2023-06")
		if err != nil {
			t.Fatalf("could not retrieve parameter set: %+v", err)
		}

		if got, want := ps.Entries(), want; !reflect.DeepEqual(got, want) {
			t.Fatalf("invalid parameter set:\ngot= %#v\nwant=%#v", got, want)
		}
		return nil
	})
}

func TestParamSets(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()

	want := []ParamSetInfo{
		{1, "mio-default", "mio"},
		{2, "mio-tuned-2023-06", "mio"},
		{3, "mmc3-default", "mmc3"},
	}
	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: []string{"identifier", "name", "setup"},
		Values: [][]driver.Value{
			{want[0].ID, want[0].Name, want[0].Setup},
			{want[1].ID, want[1].Name, want[1].Setup},
			{want[2].ID, want[2].Name, want[2].Setup},
		},
	}, func(ctx context.Context) error {
		sets, err := db.ParamSets(ctx)
		if err != nil {
			t.Fatalf("could not retrieve parameter sets: %+v", err)
		}

		if got, want := sets, want; !reflect.DeepEqual(got, want) {
			t.Fatalf("invalid parameter sets:\ngot= %#v\nwant=%#v", got, want)
		}
		return nil
	})
}

func TestQueryContext(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()

	const queryLastSet = "SELECT name FROM paramsets ORDER BY datetime DESC LIMIT 1"

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: []string{"name"},
		Values: [][]driver.Value{
			{"mio-default"},
		},
	}, func(ctx context.Context) error {
		rows, err := db.QueryContext(ctx, queryLastSet)
		if err != nil {
			t.Fatalf("could not execute query %q: %+v", queryLastSet, err)
		}
		defer rows.Close()

		var name string
		for rows.Next() {
			err = rows.Scan(&name)
			if err != nil {
				t.Fatalf("could not scan parameter-set name: %+v", err)
			}
		}

		if err := rows.Err(); err != nil {
			t.Fatalf("could not scan parameter-set name: %+v", err)
		}

		if got, want := name, "mio-default"; got != want {
			t.Fatalf("invalid parameter-set name: got=%q, want=%q", got, want)
		}
		return nil
	})
}
