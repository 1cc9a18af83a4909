// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package blobdb composes a storage backend with the metadata store into the
// blob db used by the rest of the system.
package blobdb

import (
	"context"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/blobdb/blobs"
	"storj.io/blobdb/blobs/metadb"
)

var (
	// Error is the default blobdb error class.
	Error = errs.Class("blobdb")

	mon = monkit.Package()
)

// DB is a backend paired with the metadata store describing its content.
type DB struct {
	log     *zap.Logger
	backend blobs.Backend
	meta    *metadb.DB
}

// New returns a blob db storing bytes in backend and metadata in meta.
func New(log *zap.Logger, backend blobs.Backend, meta *metadb.DB) *DB {
	return &DB{log: log, backend: backend, meta: meta}
}

// MetaDB returns the metadata store.
func (db *DB) MetaDB() *metadb.DB { return db.meta }

// Backend returns the storage backend.
func (db *DB) Backend() blobs.Backend { return db.backend }

// Close closes the backend and the metadata store.
func (db *DB) Close() error {
	return errs.Combine(db.backend.Close(), db.meta.Close())
}

// Put stores content as a new blob described by args.
func (db *DB) Put(ctx context.Context, content io.Reader, args metadb.NewArgs) (_ *blobs.Meta, err error) {
	defer mon.Task()(&ctx)(&err)

	meta, err := db.meta.New(args)
	if err != nil {
		return nil, err
	}
	if err := db.PutMeta(ctx, content, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// PutMeta stores content under the key of meta, fills in the lengths and
// persists meta.
func (db *DB) PutMeta(ctx context.Context, content io.Reader, meta *blobs.Meta) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := blobs.CheckSafeKey(meta.Key); err != nil {
		return err
	}
	switch {
	case meta.Saved():
		return blobs.ErrArgument.New("metadata of %q is already saved", meta.Key)
	case meta.Domain == "" || meta.ParentID == "":
		return blobs.ErrType.New("domain and parent id are required")
	}
	if err := db.claim(ctx, meta.Key); err != nil {
		return err
	}
	compressed := meta.TypeCode.Compressed() || meta.IsCompressed()

	// a stream from this backend is copied without moving the bytes, as long
	// as its stored encoding is the one meta expects
	if stream, ok := content.(*blobs.BlobStream); ok && stream.From(db.backend) &&
		(stream.CompressedLength() != nil) == compressed {
		if err := db.backend.Copy(ctx, stream.Key(), meta.Key); err != nil {
			return err
		}
		meta.ContentLength = stream.ContentLength()
		if compressed {
			length := *stream.CompressedLength()
			meta.CompressedLength = &length
		}
		return db.putMeta(ctx, meta)
	}

	if _, ok := content.(*blobs.BlobStream); !ok {
		if seeker, ok := content.(io.Seeker); ok {
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return Error.Wrap(err)
			}
		}
	}

	if compressed {
		stream := blobs.NewGzipStream(content)
		written, err := db.backend.Write(ctx, meta.Key, stream)
		if err != nil {
			return err
		}
		meta.ContentLength, err = stream.ContentLength()
		if err != nil {
			return err
		}
		meta.CompressedLength = &written
	} else {
		written, err := db.backend.Write(ctx, meta.Key, content)
		if err != nil {
			return err
		}
		meta.ContentLength = written
	}
	return db.putMeta(ctx, meta)
}

// claim fails when key already belongs to a payload or a metadata row. The
// payload written afterwards is then owned by the current put, so removing
// it again on failure cannot destroy another blob.
func (db *DB) claim(ctx context.Context, key string) error {
	exists, err := db.backend.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return blobs.ErrArgument.New("key %q is already in use", key)
	}
	_, err = db.meta.Get(ctx, metadb.Lookup{Key: key})
	switch {
	case err == nil:
		return blobs.ErrArgument.New("key %q is already in use", key)
	case blobs.ErrNotFound.Has(err):
		return nil
	default:
		return err
	}
}

// putMeta persists meta and removes the written payload when that fails.
func (db *DB) putMeta(ctx context.Context, meta *blobs.Meta) error {
	err := db.meta.Put(ctx, meta)
	if err == nil {
		return nil
	}
	if _, delErr := db.backend.Delete(ctx, meta.Key); delErr != nil {
		db.log.Warn("unable to remove blob without metadata",
			zap.String("key", meta.Key), zap.Error(delErr))
	}
	return err
}

// Get opens the blob selected by req. Compressed blobs are decompressed
// while reading.
func (db *DB) Get(ctx context.Context, req blobs.GetRequest) (_ *blobs.BlobStream, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := req.Validate(); err != nil {
		return nil, err
	}
	key, _, compressedLength := req.Resolve()

	var contentLength int64
	if req.Meta != nil {
		contentLength = req.Meta.ContentLength
	} else {
		contentLength, err = db.backend.Size(ctx, key)
		if err != nil {
			return nil, err
		}
	}

	rc, err := db.backend.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	if compressedLength != nil {
		rc, err = newGzipReader(rc)
		if err != nil {
			return nil, err
		}
	}
	return blobs.NewBlobStream(rc, db.backend, key, contentLength, compressedLength), nil
}

// Size returns the stored size of key.
func (db *DB) Size(ctx context.Context, key string) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)
	return db.backend.Size(ctx, key)
}

// Exists reports whether key is stored.
func (db *DB) Exists(ctx context.Context, key string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)
	return db.backend.Exists(ctx, key)
}

// Delete removes the payload and the metadata of key and reports whether the
// payload existed.
func (db *DB) Delete(ctx context.Context, key string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := blobs.CheckSafeKey(key); err != nil {
		return false, err
	}
	size, err := db.backend.Size(ctx, key)
	if err != nil && !blobs.ErrNotFound.Has(err) {
		return false, err
	}
	if _, err := db.meta.Delete(ctx, key, size); err != nil {
		return false, err
	}
	return db.backend.Delete(ctx, key)
}

// BulkDelete removes the payloads and the metadata of metas and reports
// whether every payload was removed.
func (db *DB) BulkDelete(ctx context.Context, metas []*blobs.Meta) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	keys := make([]string, 0, len(metas))
	for _, meta := range metas {
		if !meta.Saved() {
			return false, blobs.ErrArgument.New("metadata of %q was never saved", meta.Key)
		}
		if err := blobs.CheckSafeKey(meta.Key); err != nil {
			return false, err
		}
		keys = append(keys, meta.Key)
	}
	if len(keys) == 0 {
		return true, nil
	}

	success, err := db.backend.BulkDelete(ctx, keys)
	if err != nil {
		return false, err
	}
	if err := db.meta.BulkDelete(ctx, metas); err != nil {
		return false, err
	}
	return success, nil
}

// CopyBlob writes the raw payload read from content to key. Metadata is not
// touched.
func (db *DB) CopyBlob(ctx context.Context, content io.Reader, key string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := blobs.CheckSafeKey(key); err != nil {
		return err
	}
	_, err = db.backend.Write(ctx, key, content)
	return err
}

// Expire schedules the blob key of parentID for deletion in minutes.
func (db *DB) Expire(ctx context.Context, parentID, key string, minutes int) (err error) {
	defer mon.Task()(&ctx)(&err)
	return db.meta.Expire(ctx, parentID, key, minutes)
}

// gzipReader decompresses a stored payload and closes it on Close.
type gzipReader struct {
	*gzip.Reader
	source io.ReadCloser
}

func newGzipReader(source io.ReadCloser) (*gzipReader, error) {
	reader, err := gzip.NewReader(source)
	if err != nil {
		return nil, errs.Combine(Error.Wrap(err), source.Close())
	}
	return &gzipReader{Reader: reader, source: source}, nil
}

// Close closes the decompressor and the payload.
func (reader *gzipReader) Close() error {
	return errs.Combine(reader.Reader.Close(), reader.source.Close())
}
