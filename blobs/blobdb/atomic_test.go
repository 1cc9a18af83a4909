// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package blobdb_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/common/testrand"

	"storj.io/blobdb/blobs"
	"storj.io/blobdb/blobs/blobdb"
	"storj.io/blobdb/blobs/blobdb/blobdbtest"
)

var errAbort = errors.New("abort")

func putBlobs(ctx *testcontext.Context, t *testing.T, db *blobdb.DB, n int) []*blobs.Meta {
	parentID := testrand.UUID().String()
	var metas []*blobs.Meta
	for i := 0; i < n; i++ {
		meta, err := db.Put(ctx, bytes.NewReader(testrand.BytesInt(64)), newArgs(parentID, blobs.CodeFormAttachment))
		require.NoError(t, err)
		metas = append(metas, meta)
	}
	return metas
}

func requireReadable(ctx *testcontext.Context, t *testing.T, db *blobdb.DB, metas []*blobs.Meta, readable bool) {
	for _, meta := range metas {
		stream, err := db.Get(ctx, blobs.GetRequest{Meta: meta})
		if readable {
			require.NoError(t, err, meta.Key)
			require.NoError(t, stream.Close())
		} else {
			require.True(t, blobs.ErrNotFound.Has(err), meta.Key)
		}
	}
}

func TestAtomicCommit(t *testing.T) {
	blobdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *blobdb.DB) {
		existing := putBlobs(ctx, t, db, 3)

		var put []*blobs.Meta
		err := db.Atomic(ctx, func(ctx context.Context, scope *blobdb.AtomicScope) error {
			for i := 0; i < 2; i++ {
				meta, err := scope.Put(ctx, bytes.NewReader([]byte("new")), newArgs(existing[0].ParentID, blobs.CodeFormAttachment))
				if err != nil {
					return err
				}
				put = append(put, meta)
			}

			if err := scope.Delete(ctx, existing[0].Key); err != nil {
				return err
			}
			if err := scope.BulkDelete(ctx, existing[1:]); err != nil {
				return err
			}

			// deletes are not visible before the scope ends
			stream, err := scope.Get(ctx, blobs.GetRequest{Meta: existing[0]})
			if err != nil {
				return err
			}
			return stream.Close()
		})
		require.NoError(t, err)

		requireReadable(ctx, t, db, existing, false)
		requireReadable(ctx, t, db, put, true)
	})
}

func TestAtomicRollback(t *testing.T) {
	blobdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *blobdb.DB) {
		existing := putBlobs(ctx, t, db, 2)

		var put []*blobs.Meta
		var scope *blobdb.AtomicScope
		err := db.Atomic(ctx, func(scopeCtx context.Context, s *blobdb.AtomicScope) error {
			scope = s
			for i := 0; i < 3; i++ {
				meta, err := s.Put(scopeCtx, bytes.NewReader([]byte("new")), newArgs(existing[0].ParentID, blobs.CodeFormAttachment))
				require.NoError(t, err)
				put = append(put, meta)
			}
			require.NoError(t, s.BulkDelete(scopeCtx, existing))

			// puts are visible before the scope ends
			for _, meta := range put {
				stream, err := s.Get(scopeCtx, blobs.GetRequest{Meta: meta})
				require.NoError(t, err)
				require.NoError(t, stream.Close())
			}
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)

		requireReadable(ctx, t, db, put, false)
		requireReadable(ctx, t, db, existing, true)

		// the scope cannot be used after it ended
		_, err = scope.Put(ctx, bytes.NewReader(nil), newArgs(existing[0].ParentID, blobs.CodeFormAttachment))
		require.True(t, blobs.ErrInvalidContext.Has(err))
		require.True(t, blobs.ErrInvalidContext.Has(scope.Delete(ctx, existing[0].Key)))
		require.True(t, blobs.ErrInvalidContext.Has(scope.BulkDelete(ctx, existing)))
	})
}

func TestAtomicPanic(t *testing.T) {
	blobdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *blobdb.DB) {
		existing := putBlobs(ctx, t, db, 1)

		var put *blobs.Meta
		require.PanicsWithValue(t, "boom", func() {
			_ = db.Atomic(ctx, func(ctx context.Context, scope *blobdb.AtomicScope) error {
				var err error
				put, err = scope.Put(ctx, bytes.NewReader([]byte("new")), newArgs(existing[0].ParentID, blobs.CodeFormAttachment))
				require.NoError(t, err)
				require.NoError(t, scope.Delete(ctx, existing[0].Key))
				panic("boom")
			})
		})

		requireReadable(ctx, t, db, []*blobs.Meta{put}, false)
		requireReadable(ctx, t, db, existing, true)
	})
}

func TestAtomicValidatesEagerly(t *testing.T) {
	blobdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *blobdb.DB) {
		unsaved, err := db.MetaDB().New(newArgs(testrand.UUID().String(), blobs.CodeTempfile))
		require.NoError(t, err)

		err = db.Atomic(ctx, func(ctx context.Context, scope *blobdb.AtomicScope) error {
			require.True(t, blobs.ErrBadName.Has(scope.Delete(ctx, "../bad")))
			require.True(t, blobs.ErrArgument.Has(scope.BulkDelete(ctx, []*blobs.Meta{unsaved})))
			return nil
		})
		require.NoError(t, err)
	})
}
