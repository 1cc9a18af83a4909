// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package metadbtest runs tests against sharded metadata stores.
package metadbtest

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/zeebo/errs"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"storj.io/blobdb/blobs/metadb"
)

// Database describes a test shard layout.
type Database struct {
	Name   string
	Shards func(ctx *testcontext.Context) []string
}

// SQLite returns a layout of n sqlite shards in the test directory.
func SQLite(n int) Database {
	return Database{
		Name: "SQLite" + strconv.Itoa(n),
		Shards: func(ctx *testcontext.Context) []string {
			dir := ctx.Dir("metadb")
			urls := make([]string, n)
			for i := range urls {
				urls[i] = "sqlite3://" + filepath.Join(dir, fmt.Sprintf("shard%d.db", i))
			}
			return urls
		},
	}
}

// Databases returns the layouts tests run against: a single sqlite shard,
// several sqlite shards and, when configured, a single postgres or cockroach
// database serving as one shard.
func Databases() []Database {
	databases := []Database{SQLite(1), SQLite(3)}
	if *PostgresConnStr != "" {
		connstr := *PostgresConnStr
		databases = append(databases, Database{
			Name:   "Postgres",
			Shards: func(*testcontext.Context) []string { return []string{connstr} },
		})
	}
	if *CockroachConnStr != "" {
		connstr := strings.Replace(*CockroachConnStr, "postgres://", "cockroach://", 1)
		databases = append(databases, Database{
			Name:   "Cockroach",
			Shards: func(*testcontext.Context) []string { return []string{connstr} },
		})
	}
	return databases
}

// Open opens and migrates a store with the shards of database.
func Open(ctx *testcontext.Context, t testing.TB, database Database) *metadb.DB {
	db, err := metadb.Open(ctx, zaptest.NewLogger(t), metadb.Config{
		Shards: strings.Join(database.Shards(ctx), ","),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.MigrateToLatest(ctx); err != nil {
		t.Fatal(errs.Combine(err, db.Close()))
	}
	return db
}

// Run runs test against every configured layout.
func Run(t *testing.T, test func(ctx *testcontext.Context, t *testing.T, db *metadb.DB)) {
	for _, database := range Databases() {
		t.Run(database.Name, func(t *testing.T) {
			ctx := testcontext.New(t)

			db := Open(ctx, t, database)
			defer ctx.Check(db.Close)

			test(ctx, t, db)
		})
	}
}
