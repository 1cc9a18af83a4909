// Copyright (C) 2020 Storj Labs, Inc.
// See LICENSE for copying information.

package tagsql

import (
	"context"
	"database/sql"

	"storj.io/blobdb/private/dbutil"
)

// Tx is an interface for *sql.Tx-like transactions.
type Tx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row

	Commit() error
	Rollback() error
}

// sqlTx implements Tx.
type sqlTx struct {
	tx   *sql.Tx
	impl dbutil.Implementation
}

func (s *sqlTx) ExecContext(ctx context.Context, query string, args ...interface{}) (_ sql.Result, err error) {
	defer mon.Task()(&ctx)(&err)
	return s.tx.ExecContext(ctx, dbutil.Rebind(s.impl, query), args...)
}

func (s *sqlTx) QueryContext(ctx context.Context, query string, args ...interface{}) (_ *sql.Rows, err error) {
	defer mon.Task()(&ctx)(&err)
	return s.tx.QueryContext(ctx, dbutil.Rebind(s.impl, query), args...)
}

func (s *sqlTx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.tx.QueryRowContext(ctx, dbutil.Rebind(s.impl, query), args...)
}

func (s *sqlTx) Commit() error {
	return s.tx.Commit()
}

func (s *sqlTx) Rollback() error {
	return s.tx.Rollback()
}
