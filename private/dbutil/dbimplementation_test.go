// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package dbutil_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/blobdb/private/dbutil"
)

func TestSplitConnStr(t *testing.T) {
	for _, tt := range []struct {
		connstr string
		driver  string
		source  string
		impl    dbutil.Implementation
	}{
		{"sqlite3://meta/shard0.db", "sqlite3", "meta/shard0.db", dbutil.SQLite3},
		{"postgres://user@localhost/blobs", "pgx", "postgres://user@localhost/blobs", dbutil.Postgres},
		{"postgresql://user@localhost/blobs", "pgx", "postgresql://user@localhost/blobs", dbutil.Postgres},
		{"cockroach://root@localhost:26257/blobs", "pgx", "postgres://root@localhost:26257/blobs", dbutil.Cockroach},
	} {
		driver, source, impl, err := dbutil.SplitConnStr(tt.connstr)
		require.NoError(t, err, tt.connstr)
		require.Equal(t, tt.driver, driver)
		require.Equal(t, tt.source, source)
		require.Equal(t, tt.impl, impl)
	}

	for _, connstr := range []string{"", "nope", "mysql://localhost", "sqlite3://"} {
		_, _, _, err := dbutil.SplitConnStr(connstr)
		require.Error(t, err, connstr)
	}
}

func TestRebind(t *testing.T) {
	query := `SELECT a FROM t WHERE b = ? AND c = '?' AND d IN (?, ?)`

	require.Equal(t, query, dbutil.Rebind(dbutil.SQLite3, query))
	require.Equal(t,
		`SELECT a FROM t WHERE b = $1 AND c = '?' AND d IN ($2, $3)`,
		dbutil.Rebind(dbutil.Postgres, query))
	require.Equal(t,
		dbutil.Rebind(dbutil.Postgres, query),
		dbutil.Rebind(dbutil.Cockroach, query))
}
