// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package metadb

import (
	"context"
	"database/sql"
	"errors"
)

// MarkMigrated records that the migration slug has completed.
func (db *DB) MarkMigrated(ctx context.Context, slug string) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.shards[0].ExecContext(ctx, `
		INSERT INTO blobs_migrationstate (slug, migrated_on) VALUES (?, ?)
		ON CONFLICT (slug) DO UPDATE SET migrated_on = excluded.migrated_on`,
		slug, timestamp(db.now()))
	return Error.Wrap(err)
}

// IsMigrated reports whether the migration slug has completed.
func (db *DB) IsMigrated(ctx context.Context, slug string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	var found string
	err = db.shards[0].QueryRowContext(ctx,
		`SELECT slug FROM blobs_migrationstate WHERE slug = ?`, slug).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, Error.Wrap(err)
}

// ResetMigration forgets the completion of the migration slug.
func (db *DB) ResetMigration(ctx context.Context, slug string) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.shards[0].ExecContext(ctx, `DELETE FROM blobs_migrationstate WHERE slug = ?`, slug)
	return Error.Wrap(err)
}
