// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package metadb keeps the relational metadata index of stored blobs.
//
// Rows are partitioned across shards by the hash of their parent id. Any
// operation touching rows of several parents groups them by shard first and
// never writes to more than one shard in a single transaction.
package metadb

import (
	"context"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver.
	_ "github.com/mattn/go-sqlite3"    // registers the sqlite3 driver.
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"

	"storj.io/blobdb/private/dbutil"
	"storj.io/blobdb/private/tagsql"
)

var (
	mon = monkit.Package()

	// Error is the default metadb errs class.
	Error = errs.Class("metadb")
)

// Config contains the shard connection urls of the metadata store.
type Config struct {
	Shards string            `help:"comma separated metadata shard database urls (sqlite3://, postgres://, cockroach://)" default:""`
	Pool   dbutil.PoolConfig

	CheckOnly bool `help:"verify the shard schemas on open instead of migrating them" default:"false"`
}

// ShardURLs returns the configured shard urls.
func (config Config) ShardURLs() []string {
	var urls []string
	for _, url := range strings.Split(config.Shards, ",") {
		if url = strings.TrimSpace(url); url != "" {
			urls = append(urls, url)
		}
	}
	return urls
}

// DB is the sharded metadata store.
type DB struct {
	log    *zap.Logger
	shards []tagsql.DB
	now    func() time.Time
}

// Open connects to every shard in config.
func Open(ctx context.Context, log *zap.Logger, config Config) (_ *DB, err error) {
	defer mon.Task()(&ctx)(&err)

	urls := config.ShardURLs()
	if len(urls) == 0 {
		return nil, Error.New("no metadata shards configured")
	}

	pool := config.Pool
	if pool == (dbutil.PoolConfig{}) {
		pool = dbutil.DefaultPoolConfig
	}

	shards := make([]tagsql.DB, 0, len(urls))
	closeAll := func() error {
		var group errs.Group
		for _, shard := range shards {
			group.Add(shard.Close())
		}
		return group.Err()
	}

	for i, url := range urls {
		driver, source, impl, err := dbutil.SplitConnStr(url)
		if err != nil {
			return nil, errs.Combine(Error.Wrap(err), closeAll())
		}
		shard, err := tagsql.Open(ctx, driver, source, impl)
		if err != nil {
			return nil, errs.Combine(Error.New("opening shard %d: %w", i, err), closeAll())
		}
		dbutil.Configure(shard.Internal(), "metadb_shard_"+strconv.Itoa(i), impl, pool, mon)
		shards = append(shards, shard)
	}

	return New(log, shards), nil
}

// New returns a store over already opened shards. The position of a shard is
// its index, so the order must never change between runs.
func New(log *zap.Logger, shards []tagsql.DB) *DB {
	return &DB{
		log:    log,
		shards: shards,
		now:    time.Now,
	}
}

// Close closes every shard.
func (db *DB) Close() error {
	var group errs.Group
	for _, shard := range db.shards {
		group.Add(shard.Close())
	}
	return Error.Wrap(group.Err())
}

// ShardCount returns the number of shards.
func (db *DB) ShardCount() int { return len(db.shards) }

// TestingSetNow replaces the clock used for timestamps.
func (db *DB) TestingSetNow(now func() time.Time) { db.now = now }

// ShardFor returns the index of the shard that holds rows of parentID.
func ShardFor(parentID string, shardCount int) int {
	if shardCount <= 1 {
		return 0
	}
	return int(xxh3.HashString(parentID) % uint64(shardCount))
}

func (db *DB) shardFor(parentID string) tagsql.DB {
	return db.shards[ShardFor(parentID, len(db.shards))]
}

// timestamp returns t normalized to the precision and zone stored in the database.
func timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
