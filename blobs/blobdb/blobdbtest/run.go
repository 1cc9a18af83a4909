// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package blobdbtest opens blob dbs for tests.
package blobdbtest

import (
	"testing"

	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"storj.io/blobdb/blobs/blobdb"
	"storj.io/blobdb/blobs/fsdb"
	"storj.io/blobdb/blobs/metadb/metadbtest"
)

// Open returns a blob db on a temporary directory with metadata in database.
func Open(ctx *testcontext.Context, t testing.TB, database metadbtest.Database) *blobdb.DB {
	log := zaptest.NewLogger(t)

	backend, err := fsdb.New(log.Named("fs"), fsdb.Config{
		Root:            ctx.Dir("blobs-" + database.Name),
		WriteBufferSize: fsdb.DefaultConfig.WriteBufferSize,
	})
	if err != nil {
		t.Fatal(err)
	}
	meta := metadbtest.Open(ctx, t, database)
	return blobdb.New(log, backend, meta)
}

// Run runs test against a filesystem blob db for every metadata layout.
func Run(t *testing.T, test func(ctx *testcontext.Context, t *testing.T, db *blobdb.DB)) {
	for _, database := range metadbtest.Databases() {
		t.Run(database.Name, func(t *testing.T) {
			ctx := testcontext.New(t)

			db := Open(ctx, t, database)
			defer ctx.Check(db.Close)

			test(ctx, t, db)
		})
	}
}
