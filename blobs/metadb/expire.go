// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package metadb

import (
	"context"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"storj.io/blobdb/blobs"
)

// DefaultExpireMinutes is the delay used by Expire when no delay is given.
const DefaultExpireMinutes = 60

// Expire schedules the blob key of parentID for deletion in minutes. A missing
// row is silently ignored.
func (db *DB) Expire(ctx context.Context, parentID, key string, minutes int) (err error) {
	defer mon.Task()(&ctx)(&err)

	if minutes <= 0 {
		minutes = DefaultExpireMinutes
	}

	meta, err := db.getOne(ctx, db.shardFor(parentID), `WHERE parent_id = ? AND key = ?`, parentID, key)
	if blobs.ErrNotFound.Has(err) {
		return nil
	}
	if err != nil {
		return err
	}

	expires := timestamp(db.now().Add(time.Duration(minutes) * time.Minute))
	_, err = db.shardFor(parentID).ExecContext(ctx,
		`UPDATE blobs_blobmeta SET expires_on = ? WHERE id = ?`, expires, meta.ID)
	if err != nil {
		return Error.Wrap(err)
	}

	if meta.ExpiresOn == nil {
		typeTag := monkit.NewSeriesTag("type", meta.TypeCode.String())
		mon.Meter("blob_became_temporary", typeTag).Mark(1)
		mon.IntVal("blob_became_temporary_bytes", typeTag).Observe(meta.ContentLength)
	}
	return nil
}

// Reparent moves every row of oldParentID to newParentID. Both ids must map to
// the same shard.
func (db *DB) Reparent(ctx context.Context, oldParentID, newParentID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	oldShard := ShardFor(oldParentID, len(db.shards))
	newShard := ShardFor(newParentID, len(db.shards))
	if oldShard != newShard {
		return Error.New("cannot reparent %q (shard %d) to %q (shard %d)", oldParentID, oldShard, newParentID, newShard)
	}

	_, err = db.shards[oldShard].ExecContext(ctx,
		`UPDATE blobs_blobmeta SET parent_id = ? WHERE parent_id = ?`, newParentID, oldParentID)
	return Error.Wrap(err)
}

// ExpiredCursor is the position of the last row returned by Expired. The
// zero value starts at the oldest row.
type ExpiredCursor struct {
	ExpiresOn time.Time
	ID        int64
}

// CursorOf returns the cursor positioned at meta.
func CursorOf(meta *blobs.Meta) ExpiredCursor {
	cursor := ExpiredCursor{ID: meta.ID}
	if meta.ExpiresOn != nil {
		cursor.ExpiresOn = *meta.ExpiresOn
	}
	return cursor
}

// Expired returns at most limit rows of shard that expired before now and
// come after cursor, oldest first.
func (db *DB) Expired(ctx context.Context, shard int, now time.Time, after ExpiredCursor, limit int) (_ []*blobs.Meta, err error) {
	defer mon.Task()(&ctx)(&err)

	if shard < 0 || shard >= len(db.shards) {
		return nil, blobs.ErrArgument.New("shard %d out of range", shard)
	}

	where := `expires_on IS NOT NULL AND expires_on < ?`
	args := []any{timestamp(now)}
	if after != (ExpiredCursor{}) {
		expiresOn := timestamp(after.ExpiresOn)
		where += ` AND (expires_on > ? OR (expires_on = ? AND id > ?))`
		args = append(args, expiresOn, expiresOn, after.ID)
	}
	args = append(args, limit)

	rows, err := db.shards[shard].QueryContext(ctx, `
		SELECT `+metaColumns+`
		FROM blobs_blobmeta
		WHERE `+where+`
		ORDER BY expires_on, id
		LIMIT ?`, args...)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	metas, err := scanMetas(rows)
	return metas, Error.Wrap(err)
}

// IterateDomain calls fn for every row of domain, shard by shard in id order.
// Rows are fetched in pages, so fn may use the store.
func (db *DB) IterateDomain(ctx context.Context, domain string, pageSize int, fn func(context.Context, *blobs.Meta) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	if pageSize <= 0 {
		pageSize = 1000
	}

	for shard := range db.shards {
		var lastID int64
		for {
			page, err := db.domainPage(ctx, shard, domain, lastID, pageSize)
			if err != nil {
				return err
			}
			for _, meta := range page {
				if err := fn(ctx, meta); err != nil {
					return err
				}
			}
			if len(page) < pageSize {
				break
			}
			lastID = page[len(page)-1].ID
		}
	}
	return nil
}

func (db *DB) domainPage(ctx context.Context, shard int, domain string, afterID int64, limit int) (_ []*blobs.Meta, err error) {
	rows, err := db.shards[shard].QueryContext(ctx, `
		SELECT `+metaColumns+`
		FROM blobs_blobmeta
		WHERE domain = ? AND id > ?
		ORDER BY id
		LIMIT ?`, domain, afterID, limit)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	metas, err := scanMetas(rows)
	return metas, Error.Wrap(err)
}
