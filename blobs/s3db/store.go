// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package s3db stores blobs as objects in an S3 compatible bucket.
package s3db

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/memory"

	"storj.io/blobdb/blobs"
)

var (
	// Error is the default s3db error class.
	Error = errs.Class("s3db")

	mon = monkit.Package()

	_ blobs.Backend = (*Store)(nil)
)

// Config is configuration for the S3 backend.
type Config struct {
	Endpoint  string `help:"S3 endpoint as host:port" default:""`
	AccessKey string `help:"S3 access key" default:""`
	SecretKey string `help:"S3 secret key" default:""`
	Bucket    string `help:"bucket holding the blobs" default:"blobdb"`
	Region    string `help:"region of the bucket" default:""`
	Secure    bool   `help:"use TLS to connect to the endpoint" default:"true"`

	PartSize memory.Size `help:"part size of multipart uploads; content of unknown length up to this size is uploaded in a single request" default:"16MiB"`

	BulkDeleteChunkSize int           `help:"number of keys removed per bulk delete request" default:"1000"`
	MaxAttempts         int           `help:"number of attempts for requests rejected with SlowDown" default:"5"`
	RetryDelay          time.Duration `help:"initial delay before retrying a SlowDown request" default:"250ms"`
	MaxRetryDelay       time.Duration `help:"maximum delay between retries" default:"10s"`
	SlowOperation       time.Duration `help:"operations slower than this are logged" default:"5s"`
}

// DefaultConfig is the default value for Config.
var DefaultConfig = Config{
	Bucket:              "blobdb",
	Secure:              true,
	PartSize:            16 * memory.MiB,
	BulkDeleteChunkSize: 1000,
	MaxAttempts:         5,
	RetryDelay:          250 * time.Millisecond,
	MaxRetryDelay:       10 * time.Second,
	SlowOperation:       5 * time.Second,
}

// Configured reports whether enough settings are present to connect.
func (config Config) Configured() bool {
	return config.Endpoint != "" && config.AccessKey != "" && config.SecretKey != ""
}

func (config Config) withDefaults() Config {
	if config.Bucket == "" {
		config.Bucket = DefaultConfig.Bucket
	}
	if config.PartSize <= 0 {
		config.PartSize = DefaultConfig.PartSize
	}
	if config.BulkDeleteChunkSize <= 0 {
		config.BulkDeleteChunkSize = DefaultConfig.BulkDeleteChunkSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultConfig.RetryDelay
	}
	if config.MaxRetryDelay <= 0 {
		config.MaxRetryDelay = DefaultConfig.MaxRetryDelay
	}
	if config.SlowOperation <= 0 {
		config.SlowOperation = DefaultConfig.SlowOperation
	}
	return config
}

// Store implements blobs.Backend on an S3 bucket.
type Store struct {
	log    *zap.Logger
	client Client
	config Config
	clock  clock.Clock

	mu          sync.Mutex
	bucketReady bool
}

// Open connects to the endpoint in config.
func Open(log *zap.Logger, config Config) (*Store, error) {
	client, err := NewClient(config)
	if err != nil {
		return nil, err
	}
	return New(log, client, config), nil
}

// New returns a store using client.
func New(log *zap.Logger, client Client, config Config) *Store {
	return &Store{
		log:    log,
		client: client,
		config: config.withDefaults(),
		clock:  clock.WallClock,
	}
}

// Name returns the name of the backend.
func (store *Store) Name() string { return "s3" }

// Bucket returns the bucket name.
func (store *Store) Bucket() string { return store.config.Bucket }

// Close closes the store.
func (store *Store) Close() error { return nil }

// ensureBucket creates the bucket the first time the store writes.
func (store *Store) ensureBucket(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	store.mu.Lock()
	defer store.mu.Unlock()

	if store.bucketReady {
		return nil
	}

	err = store.do(ctx, "bucket_exists", nil, func() error {
		exists, err := store.client.BucketExists(ctx, store.config.Bucket)
		if err != nil || exists {
			return err
		}
		err = store.client.MakeBucket(ctx, store.config.Bucket, store.config.Region)
		if isBucketAlreadyCreated(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return Error.Wrap(err)
	}
	store.bucketReady = true
	return nil
}

// Write stores the content of r under key.
func (store *Store) Write(ctx context.Context, key string, r io.Reader) (written int64, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := blobs.CheckSafeKey(key); err != nil {
		return 0, err
	}
	if err := store.ensureBucket(ctx); err != nil {
		return 0, err
	}

	size, start, seeker := readerSize(r)
	if size < 0 {
		r, size, err = store.spool(r)
		if err != nil {
			return 0, Error.Wrap(err)
		}
		if size >= 0 {
			start, seeker = 0, r.(io.Seeker)
		}
	}
	var rewind func() error
	if seeker != nil {
		rewind = func() error {
			_, err := seeker.Seek(start, io.SeekStart)
			return err
		}
	}

	err = store.do(ctx, "put", rewind, func() error {
		written, err = store.client.PutObject(ctx, store.config.Bucket, key, r, size)
		return err
	})
	return written, store.convert(key, err)
}

// Open returns the content of key.
func (store *Store) Open(ctx context.Context, key string) (_ io.ReadCloser, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := blobs.CheckSafeKey(key); err != nil {
		return nil, err
	}
	var body io.ReadCloser
	err = store.do(ctx, "get", nil, func() error {
		body, _, err = store.client.GetObject(ctx, store.config.Bucket, key)
		return err
	})
	if err != nil {
		return nil, store.convert(key, err)
	}
	return body, nil
}

// Size returns the size of key.
func (store *Store) Size(ctx context.Context, key string) (size int64, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := blobs.CheckSafeKey(key); err != nil {
		return 0, err
	}
	err = store.do(ctx, "stat", nil, func() error {
		size, err = store.client.StatObject(ctx, store.config.Bucket, key)
		return err
	})
	return size, store.convert(key, err)
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

	// removing a missing object succeeds, so existence is checked first
	exists, err := store.Exists(ctx, key)
	if err != nil || !exists {
		return false, err
	}
	err = store.do(ctx, "delete", nil, func() error {
		return store.client.RemoveObject(ctx, store.config.Bucket, key)
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, store.convert(key, err)
	}
	return true, nil
}

// BulkDelete removes keys in chunks and reports whether every key was removed.
func (store *Store) BulkDelete(ctx context.Context, keys []string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	for _, key := range keys {
		if err := blobs.CheckSafeKey(key); err != nil {
			return false, err
		}
	}

	success := true
	for len(keys) > 0 {
		chunk := keys
		if len(chunk) > store.config.BulkDeleteChunkSize {
			chunk = chunk[:store.config.BulkDeleteChunkSize]
		}
		keys = keys[len(chunk):]

		var failed map[string]error
		err := store.do(ctx, "bulk_delete", nil, func() (err error) {
			failed, err = store.client.RemoveObjects(ctx, store.config.Bucket, chunk)
			return err
		})
		if err != nil {
			return false, Error.Wrap(err)
		}
		for key, err := range failed {
			store.log.Warn("bulk delete failed", zap.String("key", key), zap.Error(err))
			success = false
		}
	}
	return success, nil
}

// Copy copies srcKey to dstKey inside the bucket.
func (store *Store) Copy(ctx context.Context, srcKey, dstKey string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := blobs.CheckSafeKey(srcKey); err != nil {
		return err
	}
	if err := blobs.CheckSafeKey(dstKey); err != nil {
		return err
	}
	if err := store.ensureBucket(ctx); err != nil {
		return err
	}
	err = store.do(ctx, "copy", nil, func() error {
		return store.client.CopyObject(ctx, store.config.Bucket, srcKey, dstKey)
	})
	return store.convert(srcKey, err)
}

// Walk calls fn for every stored key.
func (store *Store) Walk(ctx context.Context, fn func(key string, size int64) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	err = store.client.ListObjects(ctx, store.config.Bucket, "", fn)
	if isNotFound(err) {
		return nil
	}
	return err
}

// do runs fn, retrying while the service asks to slow down. rewind, when
// present, resets the request body before another attempt. Without it the
// request is attempted only once.
func (store *Store) do(ctx context.Context, op string, rewind func() error, fn func() error) error {
	start := store.clock.Now()
	defer func() {
		if elapsed := store.clock.Now().Sub(start); elapsed > store.config.SlowOperation {
			mon.Event("s3_slow_operation", monkit.NewSeriesTag("op", op))
			store.log.Warn("slow operation",
				zap.String("op", op),
				zap.Duration("elapsed", elapsed))
		}
	}()

	attempts := store.config.MaxAttempts
	if op == "put" && rewind == nil {
		attempts = 1
	}

	var last error
	attempt := 0
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			if attempt > 0 && rewind != nil {
				if err := rewind(); err != nil {
					return err
				}
			}
			attempt++
			last = fn()
			return last
		},
		IsFatalError: func(err error) bool {
			return !isSlowDown(err)
		},
		NotifyFunc: func(err error, attempt int) {
			mon.Event("s3_slow_down", monkit.NewSeriesTag("op", op))
			store.log.Debug("slow down requested",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Error(err))
		},
		Attempts:    attempts,
		Delay:       store.config.RetryDelay,
		MaxDelay:    store.config.MaxRetryDelay,
		BackoffFunc: retry.ExpBackoff(store.config.RetryDelay, store.config.MaxRetryDelay, 2, true),
		Clock:       store.clock,
		Stop:        ctx.Done(),
	})
	if err == nil {
		return nil
	}
	if last != nil {
		return last
	}
	return err
}

// convert maps a client error onto the blob error classes.
func (store *Store) convert(key string, err error) error {
	switch {
	case err == nil:
		return nil
	case isNotFound(err):
		return blobs.ErrNotFound.New("%q", key)
	case blobs.ErrBadName.Has(err), blobs.ErrNotFound.Has(err):
		return err
	default:
		return Error.Wrap(err)
	}
}

// spool buffers content of unknown length in memory when it fits into a
// single part, so that it is uploaded with a known size and can be retried.
// Larger content is streamed as a multipart upload and the returned size
// stays unknown.
func (store *Store) spool(r io.Reader) (io.Reader, int64, error) {
	var buf bytes.Buffer
	n, err := io.CopyN(&buf, r, store.config.PartSize.Int64())
	switch {
	case errors.Is(err, io.EOF):
		return bytes.NewReader(buf.Bytes()), n, nil
	case err != nil:
		return nil, 0, err
	default:
		return io.MultiReader(&buf, r), -1, nil
	}
}

// readerSize returns the remaining length of r when it can be determined
// and, for seekable readers, the position to rewind to.
func readerSize(r io.Reader) (size, start int64, seeker io.Seeker) {
	size = -1
	if s, ok := r.(io.Seeker); ok {
		current, err := s.Seek(0, io.SeekCurrent)
		if err == nil {
			end, err := s.Seek(0, io.SeekEnd)
			if err == nil {
				if _, err := s.Seek(current, io.SeekStart); err == nil {
					return end - current, current, s
				}
			}
		}
	}
	if l, ok := r.(interface{ Len() int }); ok {
		size = int64(l.Len())
	}
	return size, 0, nil
}
