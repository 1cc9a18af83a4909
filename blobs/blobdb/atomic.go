// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package blobdb

import (
	"context"
	"io"
	"sync"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/blobdb/blobs"
	"storj.io/blobdb/blobs/metadb"
)

// Atomic runs fn with a scope whose puts are undone and whose deletes are
// discarded when fn fails or panics. Deletes are only applied after fn
// succeeds.
//
// Puts are written immediately and compensated by deletion, so a crash
// inside the scope can leave blobs behind.
func (db *DB) Atomic(ctx context.Context, fn func(ctx context.Context, scope *AtomicScope) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	scope := &AtomicScope{db: db, active: true}

	committed := false
	defer func() {
		if committed {
			return
		}
		scope.close()
		scope.rollback(ctx)
	}()

	if err := fn(ctx, scope); err != nil {
		return err
	}
	committed = true

	deletes := scope.close()
	var group errs.Group
	for _, apply := range deletes {
		group.Add(apply(ctx))
	}
	return group.Err()
}

// AtomicScope records the changes made inside Atomic.
type AtomicScope struct {
	db *DB

	mu      sync.Mutex
	active  bool
	undo    []func(context.Context) error
	deletes []func(context.Context) error
}

func (scope *AtomicScope) check() error {
	if !scope.active {
		return blobs.ErrInvalidContext.New("atomic scope has ended")
	}
	return nil
}

// close ends the scope and returns the pending deletes.
func (scope *AtomicScope) close() []func(context.Context) error {
	scope.mu.Lock()
	defer scope.mu.Unlock()

	scope.active = false
	deletes := scope.deletes
	scope.deletes = nil
	return deletes
}

// rollback undoes every put in the order they were made.
func (scope *AtomicScope) rollback(ctx context.Context) {
	scope.mu.Lock()
	undo := scope.undo
	scope.undo = nil
	scope.mu.Unlock()

	for _, fn := range undo {
		if err := fn(ctx); err != nil {
			scope.db.log.Error("atomic rollback failed", zap.Error(err))
		}
	}
}

// Put stores content immediately and removes it again if the scope fails.
func (scope *AtomicScope) Put(ctx context.Context, content io.Reader, args metadb.NewArgs) (*blobs.Meta, error) {
	scope.mu.Lock()
	defer scope.mu.Unlock()
	if err := scope.check(); err != nil {
		return nil, err
	}

	meta, err := scope.db.Put(ctx, content, args)
	if err != nil {
		return nil, err
	}
	scope.pushUndo(meta)
	return meta, nil
}

// PutMeta stores content under meta immediately and removes it again if the
// scope fails.
func (scope *AtomicScope) PutMeta(ctx context.Context, content io.Reader, meta *blobs.Meta) error {
	scope.mu.Lock()
	defer scope.mu.Unlock()
	if err := scope.check(); err != nil {
		return err
	}

	if err := scope.db.PutMeta(ctx, content, meta); err != nil {
		return err
	}
	scope.pushUndo(meta)
	return nil
}

func (scope *AtomicScope) pushUndo(meta *blobs.Meta) {
	scope.undo = append(scope.undo, func(ctx context.Context) error {
		_, err := scope.db.BulkDelete(ctx, []*blobs.Meta{meta})
		return err
	})
}

// Get reads a blob. Puts made in the scope are visible, deletes are not.
func (scope *AtomicScope) Get(ctx context.Context, req blobs.GetRequest) (*blobs.BlobStream, error) {
	scope.mu.Lock()
	err := scope.check()
	scope.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return scope.db.Get(ctx, req)
}

// Delete validates key and removes the blob once the scope succeeds.
func (scope *AtomicScope) Delete(ctx context.Context, key string) error {
	scope.mu.Lock()
	defer scope.mu.Unlock()
	if err := scope.check(); err != nil {
		return err
	}
	if err := blobs.CheckSafeKey(key); err != nil {
		return err
	}

	scope.deletes = append(scope.deletes, func(ctx context.Context) error {
		_, err := scope.db.Delete(ctx, key)
		return err
	})
	return nil
}

// BulkDelete validates metas and removes the blobs once the scope succeeds.
func (scope *AtomicScope) BulkDelete(ctx context.Context, metas []*blobs.Meta) error {
	scope.mu.Lock()
	defer scope.mu.Unlock()
	if err := scope.check(); err != nil {
		return err
	}
	for _, meta := range metas {
		if !meta.Saved() {
			return blobs.ErrArgument.New("metadata of %q was never saved", meta.Key)
		}
		if err := blobs.CheckSafeKey(meta.Key); err != nil {
			return err
		}
	}

	metas = append([]*blobs.Meta(nil), metas...)
	scope.deletes = append(scope.deletes, func(ctx context.Context) error {
		_, err := scope.db.BulkDelete(ctx, metas)
		return err
	})
	return nil
}
