// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package metadb

import (
	"context"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"golang.org/x/sync/errgroup"

	"storj.io/blobdb/blobs"
	"storj.io/blobdb/private/dbutil"
	"storj.io/blobdb/private/dbutil/txutil"
	"storj.io/blobdb/private/tagsql"
)

// Delete removes the row of key from whichever shard holds it and reports
// whether a row was removed. A permanent blob leaves a tombstone behind, the
// same way BulkDelete does.
func (db *DB) Delete(ctx context.Context, key string, contentLength int64) (deleted bool, err error) {
	defer mon.Task()(&ctx)(&err)

	now := timestamp(db.now())
	counts := make([]int64, len(db.shards))

	group, gctx := errgroup.WithContext(ctx)
	for i, shard := range db.shards {
		i, shard := i, shard
		group.Go(func() error {
			n, err := deleteWithTombstones(gctx, shard, `key = ?`, []any{key}, now)
			counts[i] = n
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return false, Error.Wrap(err)
	}

	var total int64
	for _, n := range counts {
		total += n
	}
	if total > 0 {
		mon.Meter("blob_delete").Mark64(total)
		mon.IntVal("blob_delete_bytes").Observe(contentLength)
	}
	return total > 0, nil
}

// BulkDelete removes the rows of metas, grouped by shard. Rows without an
// expiration are converted to tombstones.
func (db *DB) BulkDelete(ctx context.Context, metas []*blobs.Meta) (err error) {
	defer mon.Task()(&ctx)(&err)

	byShard := make(map[int][]*blobs.Meta)
	for _, meta := range metas {
		if !meta.Saved() {
			return blobs.ErrArgument.New("metadata of %q was never saved", meta.Key)
		}
		shard := ShardFor(meta.ParentID, len(db.shards))
		byShard[shard] = append(byShard[shard], meta)
	}

	now := timestamp(db.now())
	group, gctx := errgroup.WithContext(ctx)
	for shard, metas := range byShard {
		shard := shard
		ids := make([]any, 0, len(metas))
		for _, meta := range metas {
			ids = append(ids, meta.ID)
		}
		group.Go(func() error {
			_, err := deleteWithTombstones(gctx, db.shards[shard], `id IN (`+placeholders(len(ids))+`)`, ids, now)
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return Error.Wrap(err)
	}

	for _, meta := range metas {
		typeTag := monkit.NewSeriesTag("type", meta.TypeCode.String())
		mon.Meter("blob_delete", typeTag).Mark(1)
		mon.IntVal("blob_delete_bytes", typeTag).Observe(meta.ContentLength)
	}
	return nil
}

// deleteWithTombstones deletes the rows matching where and upserts a tombstone
// for every deleted row that has no expiration. It returns the number of
// deleted rows.
func deleteWithTombstones(ctx context.Context, shard tagsql.DB, where string, args []any, now time.Time) (deleted int64, err error) {
	defer mon.Task()(&ctx)(&err)

	switch shard.Implementation() {
	case dbutil.Postgres, dbutil.Cockroach:
		// a single statement so that rows and tombstones change together
		err = shard.QueryRowContext(ctx, `
			WITH deleted AS (
				DELETE FROM blobs_blobmeta WHERE `+where+`
				RETURNING domain, parent_id, name, key, type_code, created_on, expires_on
			), tombstones AS (
				INSERT INTO blobs_deletedblobmeta (domain, parent_id, name, key, type_code, created_on, deleted_on)
				SELECT domain, parent_id, name, key, type_code, created_on, ? FROM deleted
				WHERE expires_on IS NULL
				ON CONFLICT (parent_id, key) DO UPDATE SET
					domain = excluded.domain,
					name = excluded.name,
					type_code = excluded.type_code,
					created_on = excluded.created_on,
					deleted_on = excluded.deleted_on
				RETURNING 1
			)
			SELECT COUNT(*) FROM deleted`,
			append(append([]any{}, args...), now)...,
		).Scan(&deleted)
		return deleted, err
	}

	err = txutil.WithTx(ctx, shard, nil, func(ctx context.Context, tx tagsql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO blobs_deletedblobmeta (domain, parent_id, name, key, type_code, created_on, deleted_on)
			SELECT domain, parent_id, name, key, type_code, created_on, ? FROM blobs_blobmeta
			WHERE (`+where+`) AND expires_on IS NULL
			ON CONFLICT (parent_id, key) DO UPDATE SET
				domain = excluded.domain,
				name = excluded.name,
				type_code = excluded.type_code,
				created_on = excluded.created_on,
				deleted_on = excluded.deleted_on`,
			append([]any{now}, args...)...,
		)
		if err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM blobs_blobmeta WHERE `+where, args...)
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

// Tombstones returns the tombstones of parentID ordered by id.
func (db *DB) Tombstones(ctx context.Context, parentID string) (_ []blobs.DeletedMeta, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.shardFor(parentID).QueryContext(ctx, `
		SELECT id, domain, parent_id, name, key, type_code, created_on, deleted_on
		FROM blobs_deletedblobmeta
		WHERE parent_id = ?
		ORDER BY id`, parentID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var tombstones []blobs.DeletedMeta
	for rows.Next() {
		var tombstone blobs.DeletedMeta
		var typeCode int64
		err := rows.Scan(&tombstone.ID, &tombstone.Domain, &tombstone.ParentID, &tombstone.Name,
			&tombstone.Key, &typeCode, &tombstone.CreatedOn, &tombstone.DeletedOn)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		tombstone.TypeCode = blobs.TypeCode(typeCode)
		tombstone.CreatedOn = tombstone.CreatedOn.UTC()
		tombstone.DeletedOn = tombstone.DeletedOn.UTC()
		tombstones = append(tombstones, tombstone)
	}
	return tombstones, Error.Wrap(rows.Err())
}
