// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package metadb

import (
	"context"

	"go.uber.org/zap"

	"storj.io/blobdb/private/dbutil"
	"storj.io/blobdb/private/migrate"
	"storj.io/blobdb/private/tagsql"
)

// MigrateToLatest creates or updates the schema of every shard.
func (db *DB) MigrateToLatest(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	for i, shard := range db.shards {
		migration := Migration(shard, i == 0)
		if err := migration.Run(ctx, db.log.Named("migrate")); err != nil {
			return Error.New("shard %d: %w", i, err)
		}
	}
	return nil
}

// CheckVersion fails with migrate.ErrOutdated when a shard is missing a
// schema step.
func (db *DB) CheckVersion(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	for i, shard := range db.shards {
		if err := Migration(shard, i == 0).ValidateVersions(ctx, db.log.Named("migrate")); err != nil {
			return Error.New("shard %d: %w", i, err)
		}
	}
	return nil
}

// Migration returns the schema migration of a single shard. The migration
// state table only lives on the first shard.
func Migration(shard tagsql.DB, first bool) *migrate.Migration {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	timestampType := "TIMESTAMP"
	if impl := shard.Implementation(); impl == dbutil.Postgres || impl == dbutil.Cockroach {
		serial = "BIGSERIAL PRIMARY KEY"
		timestampType = "TIMESTAMP WITH TIME ZONE"
	}

	initial := migrate.SQL{
		`CREATE TABLE blobs_blobmeta (
			id ` + serial + `,
			domain TEXT NOT NULL,
			parent_id TEXT NOT NULL,
			type_code SMALLINT NOT NULL,
			key TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			content_length BIGINT NOT NULL,
			compressed_length BIGINT,
			content_type TEXT,
			properties TEXT,
			created_on ` + timestampType + ` NOT NULL,
			expires_on ` + timestampType + `,
			UNIQUE (key)
		)`,
		`CREATE INDEX blobs_blobmeta_parent_type_name ON blobs_blobmeta (parent_id, type_code, name)`,
		`CREATE INDEX blobs_blobmeta_expires_on ON blobs_blobmeta (expires_on) WHERE expires_on IS NOT NULL`,
		`CREATE TABLE blobs_deletedblobmeta (
			id ` + serial + `,
			domain TEXT NOT NULL,
			parent_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			key TEXT NOT NULL,
			type_code SMALLINT NOT NULL,
			created_on ` + timestampType + ` NOT NULL,
			deleted_on ` + timestampType + ` NOT NULL,
			UNIQUE (parent_id, key)
		)`,
	}

	steps := []*migrate.Step{
		{
			DB:          shard,
			Description: "Initial setup",
			Version:     0,
			Action:      initial,
		},
		{
			DB:          shard,
			Description: "Index domain for exports",
			Version:     1,
			Action: migrate.SQL{
				`CREATE INDEX blobs_blobmeta_domain ON blobs_blobmeta (domain, id)`,
			},
		},
	}
	if first {
		steps = append(steps, &migrate.Step{
			DB:          shard,
			Description: "Add migration state",
			Version:     2,
			Action: migrate.Func(func(ctx context.Context, log *zap.Logger, db tagsql.DB, tx tagsql.Tx) error {
				_, err := tx.ExecContext(ctx, `CREATE TABLE blobs_migrationstate (
					slug TEXT PRIMARY KEY,
					migrated_on `+timestampType+` NOT NULL
				)`)
				return err
			}),
		})
	}

	return &migrate.Migration{
		Table: "blobs_versions",
		Steps: steps,
	}
}
