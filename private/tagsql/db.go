// Copyright (C) 2020 Storj Labs, Inc.
// See LICENSE for copying information.

// Package tagsql implements a tagged wrapper for databases.
//
// The wrapper rebinds "?" placeholders to the dialect of the wrapped database,
// so that queries can be written once for sqlite3, postgres and cockroach.
package tagsql

import (
	"context"
	"database/sql"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"storj.io/blobdb/private/dbutil"
)

var mon = monkit.Package()

// Open opens *sql.DB and wraps the implementation with tagging.
func Open(ctx context.Context, driverName, dataSourceName string, impl dbutil.Implementation) (DB, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, errs.Combine(err, db.Close())
	}
	return Wrap(db, impl), nil
}

// Wrap turns a *sql.DB into a DB-matching interface.
func Wrap(db *sql.DB, impl dbutil.Implementation) DB {
	return &sqlDB{db: db, impl: impl}
}

// DB implements a wrapper for *sql.DB-like database.
type DB interface {
	BeginTx(ctx context.Context, txOptions *sql.TxOptions) (Tx, error)
	Close() error

	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row

	PingContext(ctx context.Context) error
	Stats() sql.DBStats

	// Implementation returns the dialect of the database.
	Implementation() dbutil.Implementation
	// Internal returns the underlying *sql.DB.
	Internal() *sql.DB
}

// sqlDB implements DB.
type sqlDB struct {
	db   *sql.DB
	impl dbutil.Implementation
}

func (s *sqlDB) Implementation() dbutil.Implementation { return s.impl }

func (s *sqlDB) Internal() *sql.DB { return s.db }

func (s *sqlDB) BeginTx(ctx context.Context, txOptions *sql.TxOptions) (_ Tx, err error) {
	defer mon.Task()(&ctx)(&err)
	tx, err := s.db.BeginTx(ctx, txOptions)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx, impl: s.impl}, nil
}

func (s *sqlDB) Close() error {
	return s.db.Close()
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...interface{}) (_ sql.Result, err error) {
	defer mon.Task()(&ctx)(&err)
	return s.db.ExecContext(ctx, dbutil.Rebind(s.impl, query), args...)
}

func (s *sqlDB) QueryContext(ctx context.Context, query string, args ...interface{}) (_ *sql.Rows, err error) {
	defer mon.Task()(&ctx)(&err)
	return s.db.QueryContext(ctx, dbutil.Rebind(s.impl, query), args...)
}

func (s *sqlDB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, dbutil.Rebind(s.impl, query), args...)
}

func (s *sqlDB) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlDB) Stats() sql.DBStats {
	return s.db.Stats()
}
