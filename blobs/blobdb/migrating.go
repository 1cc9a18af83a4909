// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package blobdb

import (
	"context"
	"io"

	"github.com/zeebo/errs"

	"storj.io/blobdb/blobs"
)

// MigratingBackend writes to a new backend while reads fall back to the old
// one for blobs that have not been copied yet.
type MigratingBackend struct {
	New blobs.Backend
	Old blobs.Backend
}

var _ blobs.Backend = (*MigratingBackend)(nil)

// NewMigratingBackend returns a backend moving from old to new.
func NewMigratingBackend(new, old blobs.Backend) *MigratingBackend {
	return &MigratingBackend{New: new, Old: old}
}

// Name returns the name of the new backend.
func (m *MigratingBackend) Name() string {
	return "migrating-" + blobs.BackendName(m.New)
}

// Write stores r in the new backend.
func (m *MigratingBackend) Write(ctx context.Context, key string, r io.Reader) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)
	return m.New.Write(ctx, key, r)
}

// Open reads key from the new backend, or from the old one when missing.
func (m *MigratingBackend) Open(ctx context.Context, key string) (_ io.ReadCloser, err error) {
	defer mon.Task()(&ctx)(&err)

	rc, err := m.New.Open(ctx, key)
	if blobs.ErrNotFound.Has(err) {
		mon.Meter("migrating_fallback_read").Mark(1)
		return m.Old.Open(ctx, key)
	}
	return rc, err
}

// Size returns the size of key from whichever backend holds it.
func (m *MigratingBackend) Size(ctx context.Context, key string) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	size, err := m.New.Size(ctx, key)
	if blobs.ErrNotFound.Has(err) {
		return m.Old.Size(ctx, key)
	}
	return size, err
}

// Exists reports whether either backend holds key.
func (m *MigratingBackend) Exists(ctx context.Context, key string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	exists, err := m.New.Exists(ctx, key)
	if err != nil || exists {
		return exists, err
	}
	return m.Old.Exists(ctx, key)
}

// Delete removes key from both backends.
func (m *MigratingBackend) Delete(ctx context.Context, key string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	newDeleted, newErr := m.New.Delete(ctx, key)
	oldDeleted, oldErr := m.Old.Delete(ctx, key)
	return newDeleted || oldDeleted, errs.Combine(newErr, oldErr)
}

// BulkDelete removes keys from both backends. It succeeds when each key was
// removed from at least one of them.
func (m *MigratingBackend) BulkDelete(ctx context.Context, keys []string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	success := true
	for _, key := range keys {
		deleted, err := m.Delete(ctx, key)
		if err != nil {
			return false, err
		}
		success = success && deleted
	}
	return success, nil
}

// Copy copies srcKey to dstKey in the new backend, reading from the old one
// when the source has not been migrated.
func (m *MigratingBackend) Copy(ctx context.Context, srcKey, dstKey string) (err error) {
	defer mon.Task()(&ctx)(&err)

	err = m.New.Copy(ctx, srcKey, dstKey)
	if !blobs.ErrNotFound.Has(err) {
		return err
	}

	src, err := m.Old.Open(ctx, srcKey)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, src.Close()) }()

	_, err = m.New.Write(ctx, dstKey, src)
	return err
}

// Walk calls fn for the keys of both backends, visiting a key held by both
// only once.
func (m *MigratingBackend) Walk(ctx context.Context, fn func(key string, size int64) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	walk := func(backend blobs.Backend, visit func(key string, size int64) error) error {
		walker, ok := backend.(interface {
			Walk(ctx context.Context, fn func(key string, size int64) error) error
		})
		if !ok {
			return Error.New("%s backend cannot list its keys", blobs.BackendName(backend))
		}
		return walker.Walk(ctx, visit)
	}

	seen := map[string]struct{}{}
	err = walk(m.New, func(key string, size int64) error {
		seen[key] = struct{}{}
		return fn(key, size)
	})
	if err != nil {
		return err
	}
	return walk(m.Old, func(key string, size int64) error {
		if _, ok := seen[key]; ok {
			return nil
		}
		return fn(key, size)
	})
}

// Close closes both backends.
func (m *MigratingBackend) Close() error {
	return errs.Combine(m.New.Close(), m.Old.Close())
}
