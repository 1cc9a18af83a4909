// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package metadb

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"golang.org/x/sync/errgroup"

	"storj.io/blobdb/blobs"
	"storj.io/blobdb/private/tagsql"
)

// NewArgs are the fields of a blob that is about to be stored.
type NewArgs struct {
	Domain   string
	ParentID string
	TypeCode blobs.TypeCode

	// Key is generated from ParentID when empty.
	Key         string
	Name        string
	ContentType string
	// ContentLength is computed while writing when zero.
	ContentLength int64
	Properties    map[string]any

	// Timeout is the number of minutes until the blob expires. It cannot be
	// combined with ExpiresOn.
	Timeout   int
	ExpiresOn *time.Time
}

// New constructs metadata without persisting it.
func (db *DB) New(args NewArgs) (*blobs.Meta, error) {
	switch {
	case args.Domain == "":
		return nil, blobs.ErrType.New("domain is required")
	case args.ParentID == "":
		return nil, blobs.ErrType.New("parent id is required")
	case args.TypeCode == 0:
		return nil, blobs.ErrType.New("type code is required")
	case args.Timeout != 0 && args.ExpiresOn != nil:
		return nil, blobs.ErrType.New("timeout and expires on are mutually exclusive")
	case args.Timeout < 0:
		return nil, blobs.ErrArgument.New("negative timeout %d", args.Timeout)
	}

	now := timestamp(db.now())
	meta := &blobs.Meta{
		Domain:        args.Domain,
		ParentID:      args.ParentID,
		TypeCode:      args.TypeCode,
		Key:           args.Key,
		Name:          args.Name,
		ContentType:   args.ContentType,
		ContentLength: args.ContentLength,
		Properties:    args.Properties,
		CreatedOn:     now,
	}
	if meta.Key == "" {
		key, err := blobs.NewKey(args.ParentID)
		if err != nil {
			return nil, err
		}
		meta.Key = key
	}
	if args.Timeout > 0 {
		expires := now.Add(time.Duration(args.Timeout) * time.Minute)
		meta.ExpiresOn = &expires
	} else if args.ExpiresOn != nil {
		expires := timestamp(*args.ExpiresOn)
		meta.ExpiresOn = &expires
	}
	if args.TypeCode.Compressed() {
		pending := blobs.CompressedLengthPending
		meta.CompressedLength = &pending
	}
	return meta, nil
}

// Put persists meta and assigns its id.
func (db *DB) Put(ctx context.Context, meta *blobs.Meta) (err error) {
	defer mon.Task()(&ctx)(&err)

	switch {
	case meta.Saved():
		return blobs.ErrArgument.New("metadata of %q is already saved", meta.Key)
	case meta.Domain == "" || meta.ParentID == "":
		return blobs.ErrType.New("domain and parent id are required")
	case meta.CompressedLength != nil && *meta.CompressedLength < 0:
		return blobs.ErrArgument.New("compressed length of %q was not computed", meta.Key)
	}
	if meta.CreatedOn.IsZero() {
		meta.CreatedOn = db.now()
	}
	meta.CreatedOn = timestamp(meta.CreatedOn)
	if meta.ExpiresOn != nil {
		expires := timestamp(*meta.ExpiresOn)
		meta.ExpiresOn = &expires
	}

	properties, err := encodeProperties(meta.Properties)
	if err != nil {
		return err
	}

	err = db.shardFor(meta.ParentID).QueryRowContext(ctx, `
		INSERT INTO blobs_blobmeta (
			domain, parent_id, type_code, key, name, content_length,
			compressed_length, content_type, properties, created_on, expires_on
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		meta.Domain, meta.ParentID, int64(meta.TypeCode), meta.Key, meta.Name, meta.ContentLength,
		nullInt64(meta.CompressedLength), nullString(meta.ContentType), properties,
		meta.CreatedOn, nullTime(meta.ExpiresOn),
	).Scan(&meta.ID)
	if err != nil {
		return Error.Wrap(err)
	}

	typeTag := monkit.NewSeriesTag("type", meta.TypeCode.String())
	mon.Meter("blob_put", typeTag).Mark(1)
	mon.IntVal("blob_put_bytes", typeTag).Observe(meta.ContentLength)
	if meta.ExpiresOn != nil {
		mon.Meter("temp_blob_put", typeTag).Mark(1)
		mon.IntVal("temp_blob_put_bytes", typeTag).Observe(meta.ContentLength)
	}
	return nil
}

// Lookup selects a single row, either by Key (optionally narrowed to ParentID)
// or by ParentID, TypeCode and Name.
type Lookup struct {
	Key      string
	ParentID string
	TypeCode blobs.TypeCode
	Name     string
}

// Get returns the row selected by lookup.
func (db *DB) Get(ctx context.Context, lookup Lookup) (_ *blobs.Meta, err error) {
	defer mon.Task()(&ctx)(&err)

	if lookup.Key != "" {
		if lookup.TypeCode != 0 || lookup.Name != "" {
			return nil, blobs.ErrType.New("key cannot be combined with type code or name")
		}
		if lookup.ParentID != "" {
			return db.getOne(ctx, db.shardFor(lookup.ParentID),
				`WHERE parent_id = ? AND key = ?`, lookup.ParentID, lookup.Key)
		}
		return db.getByKey(ctx, lookup.Key)
	}

	if lookup.ParentID == "" || lookup.TypeCode == 0 {
		return nil, blobs.ErrType.New("key, or parent id with type code and name, are required")
	}
	return db.getOne(ctx, db.shardFor(lookup.ParentID),
		`WHERE parent_id = ? AND type_code = ? AND name = ? ORDER BY id DESC`,
		lookup.ParentID, int64(lookup.TypeCode), lookup.Name)
}

func (db *DB) getOne(ctx context.Context, shard tagsql.DB, where string, args ...any) (*blobs.Meta, error) {
	row := shard.QueryRowContext(ctx, `SELECT `+metaColumns+` FROM blobs_blobmeta `+where+` LIMIT 1`, args...)
	meta, err := scanMeta(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, blobs.ErrNotFound.New("%v", args)
	}
	return meta, Error.Wrap(err)
}

// getByKey searches every shard for key.
func (db *DB) getByKey(ctx context.Context, key string) (*blobs.Meta, error) {
	found := make([]*blobs.Meta, len(db.shards))

	var group errgroup.Group
	for i, shard := range db.shards {
		i, shard := i, shard
		group.Go(func() error {
			meta, err := db.getOne(ctx, shard, `WHERE key = ?`, key)
			if blobs.ErrNotFound.Has(err) {
				return nil
			}
			found[i] = meta
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	for _, meta := range found {
		if meta != nil {
			return meta, nil
		}
	}
	return nil, blobs.ErrNotFound.New("%q", key)
}

// GetForParent returns the rows of parentID ordered by id. A zero typeCode
// matches every type.
func (db *DB) GetForParent(ctx context.Context, parentID string, typeCode blobs.TypeCode) (_ []*blobs.Meta, err error) {
	defer mon.Task()(&ctx)(&err)
	return db.queryParents(ctx, db.shardFor(parentID), []string{parentID}, typeCode)
}

// GetForParents returns the rows of all parentIDs ordered by parent id.
// Shards are queried concurrently.
func (db *DB) GetForParents(ctx context.Context, parentIDs []string, typeCode blobs.TypeCode) (_ []*blobs.Meta, err error) {
	defer mon.Task()(&ctx)(&err)

	byShard := make(map[int][]string)
	for _, parentID := range parentIDs {
		shard := ShardFor(parentID, len(db.shards))
		byShard[shard] = append(byShard[shard], parentID)
	}

	results := make([][]*blobs.Meta, len(db.shards))
	group, gctx := errgroup.WithContext(ctx)
	for shard, ids := range byShard {
		shard, ids := shard, ids
		group.Go(func() error {
			metas, err := db.queryParents(gctx, db.shards[shard], ids, typeCode)
			results[shard] = metas
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var all []*blobs.Meta
	for _, metas := range results {
		all = append(all, metas...)
	}
	sort.SliceStable(all, func(i, k int) bool {
		if all[i].ParentID != all[k].ParentID {
			return all[i].ParentID < all[k].ParentID
		}
		return all[i].ID < all[k].ID
	})
	return all, nil
}

func (db *DB) queryParents(ctx context.Context, shard tagsql.DB, parentIDs []string, typeCode blobs.TypeCode) (_ []*blobs.Meta, err error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(parentIDs)+1)
	for _, id := range parentIDs {
		args = append(args, id)
	}
	query := `SELECT ` + metaColumns + ` FROM blobs_blobmeta WHERE parent_id IN (` + placeholders(len(parentIDs)) + `)`
	if typeCode != 0 {
		query += ` AND type_code = ?`
		args = append(args, int64(typeCode))
	}
	query += ` ORDER BY parent_id, id`

	rows, err := shard.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	metas, err := scanMetas(rows)
	return metas, Error.Wrap(err)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
