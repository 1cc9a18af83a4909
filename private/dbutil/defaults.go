// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package dbutil

import (
	"database/sql"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
)

// PoolConfig contains the connection pool limits of a database.
type PoolConfig struct {
	MaxIdleConns    int           `help:"maximum amount of idle database connections, -1 means the stdlib default" default:"50"`
	MaxOpenConns    int           `help:"maximum amount of open database connections, -1 means the stdlib default" default:"100"`
	ConnMaxLifetime time.Duration `help:"maximum database connection lifetime, -1 means the stdlib default" default:"-1ns"`
}

// DefaultPoolConfig is the pool configuration used when none is given.
var DefaultPoolConfig = PoolConfig{
	MaxIdleConns:    50,
	MaxOpenConns:    100,
	ConnMaxLifetime: -1,
}

// Configure sets connection boundaries and adds db_stats monitoring to monkit.
func Configure(db *sql.DB, name string, impl Implementation, config PoolConfig, mon *monkit.Scope) {
	if impl == SQLite3 {
		// sqlite serializes writers, extra connections only add "database is locked" errors
		config.MaxOpenConns = 1
		config.MaxIdleConns = 1
	}
	if config.MaxIdleConns >= 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.MaxOpenConns >= 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.ConnMaxLifetime >= 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}
	mon.Chain(monkit.StatSourceFunc(
		func(cb func(key monkit.SeriesKey, field string, val float64)) {
			if db != nil {
				monkit.StatSourceFromStruct(monkit.NewSeriesKey("db_stats").WithTag("db_name", name), db.Stats()).Stats(cb)
			}
		}))
}
