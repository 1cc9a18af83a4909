// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package blobdb

import (
	"context"
	"io"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"

	"storj.io/blobdb/blobs"
)

var loggerID int64

// LoggingBackend logs every call of a blobs.Backend.
type LoggingBackend struct {
	log     *zap.Logger
	backend blobs.Backend
}

var _ blobs.Backend = (*LoggingBackend)(nil)

// NewLoggingBackend creates a new LoggingBackend with log and backend.
func NewLoggingBackend(log *zap.Logger, backend blobs.Backend) *LoggingBackend {
	id := atomic.AddInt64(&loggerID, 1)
	return &LoggingBackend{log.Named("backend-" + strconv.FormatInt(id, 10)), backend}
}

// Name returns the name of the wrapped backend.
func (logged *LoggingBackend) Name() string { return blobs.BackendName(logged.backend) }

// Write stores r under key.
func (logged *LoggingBackend) Write(ctx context.Context, key string, r io.Reader) (n int64, err error) {
	defer mon.Task()(&ctx)(&err)
	n, err = logged.backend.Write(ctx, key, r)
	logged.log.Debug("Write", zap.String("key", key), zap.Int64("length", n), zap.Error(err))
	return n, err
}

// Open opens key.
func (logged *LoggingBackend) Open(ctx context.Context, key string) (_ io.ReadCloser, err error) {
	defer mon.Task()(&ctx)(&err)
	logged.log.Debug("Open", zap.String("key", key))
	return logged.backend.Open(ctx, key)
}

// Size returns the size of key.
func (logged *LoggingBackend) Size(ctx context.Context, key string) (size int64, err error) {
	defer mon.Task()(&ctx)(&err)
	size, err = logged.backend.Size(ctx, key)
	logged.log.Debug("Size", zap.String("key", key), zap.Int64("size", size), zap.Error(err))
	return size, err
}

// Exists reports whether key is stored.
func (logged *LoggingBackend) Exists(ctx context.Context, key string) (exists bool, err error) {
	defer mon.Task()(&ctx)(&err)
	exists, err = logged.backend.Exists(ctx, key)
	logged.log.Debug("Exists", zap.String("key", key), zap.Bool("exists", exists), zap.Error(err))
	return exists, err
}

// Delete removes key.
func (logged *LoggingBackend) Delete(ctx context.Context, key string) (deleted bool, err error) {
	defer mon.Task()(&ctx)(&err)
	deleted, err = logged.backend.Delete(ctx, key)
	logged.log.Debug("Delete", zap.String("key", key), zap.Bool("deleted", deleted), zap.Error(err))
	return deleted, err
}

// BulkDelete removes keys.
func (logged *LoggingBackend) BulkDelete(ctx context.Context, keys []string) (ok bool, err error) {
	defer mon.Task()(&ctx)(&err)
	ok, err = logged.backend.BulkDelete(ctx, keys)
	logged.log.Debug("BulkDelete", zap.Strings("keys", truncate(keys)), zap.Int("count", len(keys)), zap.Bool("ok", ok), zap.Error(err))
	return ok, err
}

// Copy copies srcKey to dstKey.
func (logged *LoggingBackend) Copy(ctx context.Context, srcKey, dstKey string) (err error) {
	defer mon.Task()(&ctx)(&err)
	logged.log.Debug("Copy", zap.String("src", srcKey), zap.String("dst", dstKey))
	return logged.backend.Copy(ctx, srcKey, dstKey)
}

// Walk lists the keys of the wrapped backend when it supports listing.
func (logged *LoggingBackend) Walk(ctx context.Context, fn func(key string, size int64) error) (err error) {
	defer mon.Task()(&ctx)(&err)
	walker, ok := logged.backend.(interface {
		Walk(ctx context.Context, fn func(key string, size int64) error) error
	})
	if !ok {
		return Error.New("%s backend cannot list its keys", logged.Name())
	}
	logged.log.Debug("Walk")
	return walker.Walk(ctx, fn)
}

// Close closes the wrapped backend.
func (logged *LoggingBackend) Close() error {
	logged.log.Debug("Close")
	return logged.backend.Close()
}

func truncate(keys []string) []string {
	if len(keys) <= 10 {
		return keys
	}
	return keys[:10]
}
