// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package swiftdb stores blobs as objects in an OpenStack Swift container.
package swiftdb

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/blobdb/blobs"
)

var (
	// Error is the default swiftdb error class.
	Error = errs.Class("swiftdb")

	mon = monkit.Package()

	_ blobs.Backend = (*Store)(nil)
)

// listPageSize is the number of objects requested per listing.
const listPageSize = 1000

// Config is configuration for the Swift backend.
type Config struct {
	AuthURL     string `help:"identity service url" default:""`
	User        string `help:"user name or access key" default:""`
	Secret      string `help:"password or secret key" default:""`
	TenantName  string `help:"tenant (project) name" default:""`
	Region      string `help:"region of the object store" default:""`
	Domain      string `help:"identity domain, for v3 authentication" default:""`
	AuthVersion string `help:"authentication mode: 2, 3 or keypair" default:"2"`
	Insecure    bool   `help:"skip TLS certificate verification" default:"false"`
	Container   string `help:"container holding the blobs" default:"blobdb"`
	TempDir     string `help:"directory for spooling uploads of unknown length" default:""`
}

// Configured reports whether enough settings are present to connect.
func (config Config) Configured() bool {
	return config.AuthURL != "" && config.User != ""
}

// Store implements blobs.Backend on a Swift container.
type Store struct {
	log    *zap.Logger
	client Client
	config Config

	mu             sync.Mutex
	containerReady bool
}

// Open authenticates and returns a store for the container in config.
func Open(log *zap.Logger, config Config) (*Store, error) {
	client, err := NewClient(config)
	if err != nil {
		return nil, err
	}
	return New(log, client, config), nil
}

// New returns a store using client.
func New(log *zap.Logger, client Client, config Config) *Store {
	if config.Container == "" {
		config.Container = "blobdb"
	}
	return &Store{log: log, client: client, config: config}
}

// Name returns the name of the backend.
func (store *Store) Name() string { return "swift" }

// Close closes the store.
func (store *Store) Close() error { return nil }

// LegacyKey joins the older (identifier, bucket) addressing into a key.
func LegacyKey(identifier, bucket string) (string, error) {
	if err := blobs.CheckSafeKey(bucket); err != nil {
		return "", err
	}
	if identifier == "" || strings.Contains(identifier, "/") {
		return "", blobs.ErrBadName.New("identifier %q", identifier)
	}
	key := bucket + "/" + identifier
	if err := blobs.CheckSafeKey(key); err != nil {
		return "", err
	}
	return key, nil
}

func (store *Store) ensureContainer() error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if store.containerReady {
		return nil
	}
	// creating an existing container succeeds
	if err := store.client.CreateContainer(store.config.Container); err != nil {
		return Error.Wrap(err)
	}
	store.containerReady = true
	return nil
}

// Write stores the content of r under key.
func (store *Store) Write(ctx context.Context, key string, r io.Reader) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := blobs.CheckSafeKey(key); err != nil {
		return 0, err
	}
	if err := store.ensureContainer(); err != nil {
		return 0, err
	}

	length, body, cleanup, err := store.measure(r)
	if err != nil {
		return 0, err
	}
	defer func() { err = errs.Combine(err, cleanup()) }()

	if err := store.client.PutReader(store.config.Container, key, body, length); err != nil {
		return 0, Error.Wrap(err)
	}
	return length, nil
}

// measure returns the length of r and a reader with the same content. Readers
// of unknown length are spooled into a temporary file.
func (store *Store) measure(r io.Reader) (length int64, body io.Reader, cleanup func() error, err error) {
	noop := func() error { return nil }

	if seeker, ok := r.(io.Seeker); ok {
		current, err := seeker.Seek(0, io.SeekCurrent)
		if err == nil {
			if end, err := seeker.Seek(0, io.SeekEnd); err == nil {
				if _, err := seeker.Seek(current, io.SeekStart); err == nil {
					return end - current, r, noop, nil
				}
			}
		}
	}
	if l, ok := r.(interface{ Len() int }); ok {
		return int64(l.Len()), r, noop, nil
	}

	file, err := os.CreateTemp(store.config.TempDir, "swift-upload-*")
	if err != nil {
		return 0, nil, nil, Error.Wrap(err)
	}
	cleanup = func() error {
		return errs.Combine(file.Close(), os.Remove(file.Name()))
	}
	length, err = io.Copy(file, r)
	if err == nil {
		_, err = file.Seek(0, io.SeekStart)
	}
	if err != nil {
		return 0, nil, nil, errs.Combine(Error.Wrap(err), cleanup())
	}
	return length, file, cleanup, nil
}

// Open returns the content of key.
func (store *Store) Open(ctx context.Context, key string) (_ io.ReadCloser, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := blobs.CheckSafeKey(key); err != nil {
		return nil, err
	}
	body, _, err := store.client.GetReader(store.config.Container, key)
	if err != nil {
		return nil, convert(key, err)
	}
	return body, nil
}

// Size returns the size of key.
func (store *Store) Size(ctx context.Context, key string) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := blobs.CheckSafeKey(key); err != nil {
		return 0, err
	}
	size, err := store.client.HeadObject(store.config.Container, key)
	return size, convert(key, err)
}

// Exists reports whether key is stored.
func (store *Store) Exists(ctx context.Context, key string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = store.Size(ctx, key)
	if blobs.ErrNotFound.Has(err) {
		return false, nil
	}
	return err == nil, err
}

// Delete removes key and reports whether it existed.
func (store *Store) Delete(ctx context.Context, key string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := blobs.CheckSafeKey(key); err != nil {
		return false, err
	}
	err = store.client.DeleteObject(store.config.Container, key)
	if IsNotFound(err) {
		return false, nil
	}
	return err == nil, convert(key, err)
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

// DeleteLegacy removes the blob addressed by identifier within bucket. With an
// empty identifier every blob in the bucket is removed.
func (store *Store) DeleteLegacy(ctx context.Context, identifier, bucket string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	if identifier != "" {
		key, err := LegacyKey(identifier, bucket)
		if err != nil {
			return false, err
		}
		return store.Delete(ctx, key)
	}
	return store.DeleteBucket(ctx, bucket)
}

// DeleteBucket removes every blob below bucket and reports whether any existed.
func (store *Store) DeleteBucket(ctx context.Context, bucket string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := blobs.CheckSafeKey(bucket); err != nil {
		return false, err
	}
	prefix := strings.TrimSuffix(bucket, "/") + "/"

	var keys []string
	err = store.list(ctx, prefix, func(object Object) error {
		keys = append(keys, object.Name)
		return nil
	})
	if err != nil {
		return false, err
	}
	if len(keys) == 0 {
		return false, nil
	}
	_, err = store.BulkDelete(ctx, keys)
	return err == nil, err
}

// Copy copies srcKey to dstKey.
func (store *Store) Copy(ctx context.Context, srcKey, dstKey string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := blobs.CheckSafeKey(dstKey); err != nil {
		return err
	}
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

	return store.list(ctx, "", func(object Object) error {
		return fn(object.Name, object.Size)
	})
}

// list pages through the objects with prefix.
func (store *Store) list(ctx context.Context, prefix string, fn func(Object) error) error {
	marker := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		objects, err := store.client.List(store.config.Container, prefix, marker, listPageSize)
		if err != nil {
			if IsNotFound(err) {
				return nil
			}
			return Error.Wrap(err)
		}
		for _, object := range objects {
			if err := fn(object); err != nil {
				return err
			}
		}
		if len(objects) < listPageSize {
			return nil
		}
		marker = objects[len(objects)-1].Name
	}
}

func convert(key string, err error) error {
	switch {
	case err == nil:
		return nil
	case IsNotFound(err):
		return blobs.ErrNotFound.New("%q", key)
	default:
		return Error.Wrap(err)
	}
}
