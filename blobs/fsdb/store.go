// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package fsdb stores blobs as files below a root directory.
package fsdb

import (
	"bufio"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/memory"

	"storj.io/blobdb/blobs"
)

var (
	// Error is the default fsdb error class.
	Error = errs.Class("fsdb")

	mon = monkit.Package()

	_ blobs.Backend = (*Store)(nil)
)

// tempDir is the directory below root where writes are staged.
const tempDir = ".tmp"

// Config is configuration for the filesystem backend.
type Config struct {
	Root            string      `help:"root directory of stored blobs" default:""`
	WriteBufferSize memory.Size `help:"in-memory buffer for uploads" default:"128KiB"`
	ForceSync       bool        `help:"if true, force disk synchronization before a write is committed" default:"false"`
}

// DefaultConfig is the default value for Config.
var DefaultConfig = Config{
	WriteBufferSize: 128 * memory.KiB,
	ForceSync:       false,
}

// Store implements blobs.Backend on a local directory.
type Store struct {
	log    *zap.Logger
	root   string
	config Config
}

// New creates the root directory if necessary and returns a store in it.
func New(log *zap.Logger, config Config) (*Store, error) {
	if config.Root == "" {
		return nil, Error.New("root directory is required")
	}
	if config.WriteBufferSize <= 0 {
		config.WriteBufferSize = DefaultConfig.WriteBufferSize
	}
	root, err := filepath.Abs(config.Root)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if err := os.MkdirAll(filepath.Join(root, tempDir), 0700); err != nil {
		return nil, Error.Wrap(err)
	}
	return &Store{log: log, root: root, config: config}, nil
}

// Name returns the name of the backend.
func (store *Store) Name() string { return "fs" }

// Root returns the root directory.
func (store *Store) Root() string { return store.root }

// Path returns the file path of key.
func (store *Store) Path(key string) (string, error) {
	if err := blobs.CheckSafeKey(key); err != nil {
		return "", err
	}
	return blobs.SafeJoin(store.root, key)
}

// Close closes the store.
func (store *Store) Close() error { return nil }

// Write stores the content of r under key. The file only becomes visible
// once it has been completely written.
func (store *Store) Write(ctx context.Context, key string, r io.Reader) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	path, err := store.Path(key)
	if err != nil {
		return 0, err
	}

	// a concurrent writer may create the same directory first
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil && !errors.Is(err, fs.ErrExist) {
		return 0, Error.Wrap(err)
	}

	writer, err := store.newWriter()
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(writer, r)
	if err != nil {
		return n, errs.Combine(err, writer.Cancel())
	}
	if err := writer.Commit(path); err != nil {
		return n, err
	}
	return n, nil
}

// Open returns the content of key.
func (store *Store) Open(ctx context.Context, key string) (_ io.ReadCloser, err error) {
	defer mon.Task()(&ctx)(&err)

	path, err := store.Path(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, blobs.ErrNotFound.New("%q", key)
		}
		return nil, Error.Wrap(err)
	}
	return file, nil
}

// Size returns the size of key.
func (store *Store) Size(ctx context.Context, key string) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	path, err := store.Path(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			mon.Counter("fs_size_not_found").Inc(1)
			return 0, blobs.ErrNotFound.New("%q", key)
		}
		return 0, Error.Wrap(err)
	}
	return info.Size(), nil
}

// Exists reports whether key is stored.
func (store *Store) Exists(ctx context.Context, key string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	path, err := store.Path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, Error.Wrap(err)
}

// Delete removes key and reports whether it existed.
func (store *Store) Delete(ctx context.Context, key string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	path, err := store.Path(key)
	if err != nil {
		return false, err
	}
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		mon.Counter("fs_delete_not_found").Inc(1)
		return false, nil
	}
	return err == nil, Error.Wrap(err)
}

// BulkDelete removes keys and reports whether every one of them existed.
func (store *Store) BulkDelete(ctx context.Context, keys []string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	var group errs.Group
	success := true
	for _, key := range keys {
		deleted, err := store.Delete(ctx, key)
		if err != nil {
			store.log.Warn("delete failed", zap.String("key", key), zap.Error(err))
			group.Add(err)
		}
		success = success && deleted
	}
	return success && group.Err() == nil, group.Err()
}

// Copy copies the content of srcKey to dstKey.
func (store *Store) Copy(ctx context.Context, srcKey, dstKey string) (err error) {
	defer mon.Task()(&ctx)(&err)

	src, err := store.Open(ctx, srcKey)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, src.Close()) }()

	_, err = store.Write(ctx, dstKey, src)
	return err
}

// Walk calls fn for every stored key.
func (store *Store) Walk(ctx context.Context, fn func(key string, size int64) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	return filepath.WalkDir(store.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if entry.IsDir() {
			if path != store.root && strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(store.root, path)
		if err != nil {
			return err
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		return fn(filepath.ToSlash(rel), info.Size())
	})
}

// blobWriter writes a blob into a temporary file.
type blobWriter struct {
	file   *os.File
	buffer *bufio.Writer
	sync   bool
}

func (store *Store) newWriter() (*blobWriter, error) {
	file, err := os.CreateTemp(filepath.Join(store.root, tempDir), "blob-*.partial")
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &blobWriter{
		file:   file,
		buffer: bufio.NewWriterSize(file, store.config.WriteBufferSize.Int()),
		sync:   store.config.ForceSync,
	}, nil
}

// Write adds data to the blob.
func (blob *blobWriter) Write(p []byte) (int, error) {
	return blob.buffer.Write(p)
}

// Cancel discards the blob.
func (blob *blobWriter) Cancel() error {
	err := blob.file.Close()
	removeErr := os.Remove(blob.file.Name())
	return Error.Wrap(errs.Combine(err, removeErr))
}

// Commit moves the file to the target location.
func (blob *blobWriter) Commit(path string) error {
	if err := blob.buffer.Flush(); err != nil {
		return errs.Combine(Error.Wrap(err), blob.Cancel())
	}
	if blob.sync {
		if err := blob.file.Sync(); err != nil {
			return errs.Combine(Error.Wrap(err), blob.Cancel())
		}
	}
	if err := blob.file.Close(); err != nil {
		return Error.Wrap(errs.Combine(err, os.Remove(blob.file.Name())))
	}
	if err := os.Rename(blob.file.Name(), path); err != nil {
		return Error.Wrap(errs.Combine(err, os.Remove(blob.file.Name())))
	}
	return nil
}
