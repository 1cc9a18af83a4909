// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package blobs contains the types shared by every part of the blob store:
// metadata records, type codes, the backend contract, key safety checks and
// the stream wrappers used while moving bytes in and out of a backend.
package blobs

import (
	"context"
	"io"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

var mon = monkit.Package()

var (
	// ErrBadName is returned when a key or bucket path fails the safety checks.
	ErrBadName = errs.Class("bad blob name")
	// ErrNotFound is returned when a blob (or its metadata) does not exist.
	ErrNotFound = errs.Class("blob not found")
	// ErrInvalidContext is returned when an atomic scope is used outside of its lifetime.
	ErrInvalidContext = errs.Class("invalid blob context")
	// ErrGzipStreamAttrAccessBeforeRead is returned when the uncompressed length of a
	// GzipStream is requested before the source has been drained.
	ErrGzipStreamAttrAccessBeforeRead = errs.Class("gzip stream attribute accessed before read")
	// ErrConfig is returned when no backend can be resolved from the configuration.
	ErrConfig = errs.Class("blob db configuration")
	// ErrArgument is returned when arguments have invalid values.
	ErrArgument = errs.Class("invalid blob argument")
	// ErrType is returned when a required argument is missing or arguments are combined
	// in an unsupported way.
	ErrType = errs.Class("invalid blob arguments")
)

// Backend stores opaque byte payloads under keys. It never touches metadata.
//
// All methods report a missing key with an ErrNotFound error, whatever the
// native signal of the underlying client is.
type Backend interface {
	// Write stores the content of r under key and returns the number of bytes stored.
	Write(ctx context.Context, key string, r io.Reader) (int64, error)
	// Open returns a reader for the raw stored payload of key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Size returns the stored payload size of key.
	Size(ctx context.Context, key string) (int64, error)
	// Exists reports whether key is stored.
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes key and reports whether anything was removed.
	Delete(ctx context.Context, key string) (bool, error)
	// BulkDelete removes keys and reports whether every removal succeeded.
	BulkDelete(ctx context.Context, keys []string) (bool, error)
	// Copy copies the payload of srcKey to dstKey without streaming it through the caller.
	Copy(ctx context.Context, srcKey, dstKey string) error
	// Close releases resources held by the backend.
	Close() error
}

// BackendName returns a short name of the backend for logs and telemetry.
func BackendName(backend Backend) string {
	if named, ok := backend.(interface{ Name() string }); ok {
		return named.Name()
	}
	return "unknown"
}
