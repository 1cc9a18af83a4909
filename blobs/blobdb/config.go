// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package blobdb

import (
	"context"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/blobdb/blobs"
	"storj.io/blobdb/blobs/fsdb"
	"storj.io/blobdb/blobs/metadb"
	"storj.io/blobdb/blobs/s3db"
	"storj.io/blobdb/blobs/swiftdb"
)

// Backend kinds.
const (
	BackendFS    = "fs"
	BackendS3    = "s3"
	BackendSwift = "swift"
)

// Config selects and configures the backend and the metadata store.
type Config struct {
	Backend string `help:"storage backend: fs, s3 or swift; inferred from the other settings when empty" default:""`

	FS    fsdb.Config
	S3    s3db.Config
	Swift swiftdb.Config

	// Fallback is the backend blobs are being migrated away from. Reads
	// of keys missing from the main backend are served from it.
	Fallback BackendConfig

	Meta metadb.Config

	LogCalls bool `help:"log every backend call at debug level" default:"false"`
}

// BackendConfig selects and configures a single backend.
type BackendConfig struct {
	Backend string `help:"storage backend: fs, s3 or swift; inferred from the other settings when empty" default:""`

	FS    fsdb.Config
	S3    s3db.Config
	Swift swiftdb.Config
}

// Storage returns the settings of the main backend.
func (config Config) Storage() BackendConfig {
	return BackendConfig{
		Backend: config.Backend,
		FS:      config.FS,
		S3:      config.S3,
		Swift:   config.Swift,
	}
}

// BackendKind returns the main backend selected by config.
func (config Config) BackendKind() (string, error) {
	return config.Storage().BackendKind()
}

// BackendKind returns the backend selected by config. Without an explicit
// choice S3 wins over the filesystem.
func (config BackendConfig) BackendKind() (string, error) {
	switch config.Backend {
	case BackendFS, BackendS3, BackendSwift:
		return config.Backend, nil
	case "":
	default:
		return "", blobs.ErrConfig.New("unknown backend %q", config.Backend)
	}

	switch {
	case config.S3.Configured():
		return BackendS3, nil
	case config.FS.Root != "":
		return BackendFS, nil
	default:
		return "", blobs.ErrConfig.New("neither s3 settings nor a filesystem root are configured")
	}
}

// Open opens the backend selected by config.
func (config BackendConfig) Open(log *zap.Logger) (backend blobs.Backend, err error) {
	kind, err := config.BackendKind()
	if err != nil {
		return nil, err
	}

	switch kind {
	case BackendFS:
		return fsdb.New(log.Named("fs"), config.FS)
	case BackendS3:
		if !config.S3.Configured() {
			return nil, blobs.ErrConfig.New("s3 endpoint and credentials are required")
		}
		return s3db.Open(log.Named("s3"), config.S3)
	default:
		if !config.Swift.Configured() {
			return nil, blobs.ErrConfig.New("swift auth url and user are required")
		}
		return swiftdb.Open(log.Named("swift"), config.Swift)
	}
}

// OpenBackend opens the main backend of config. When a fallback backend is
// chosen explicitly the two are combined into a MigratingBackend.
func OpenBackend(log *zap.Logger, config Config) (blobs.Backend, error) {
	backend, err := config.Storage().Open(log)
	if err != nil {
		return nil, err
	}

	if config.Fallback.Backend != "" {
		fallback, err := config.Fallback.Open(log.Named("fallback"))
		if err != nil {
			return nil, errs.Combine(err, backend.Close())
		}
		backend = NewMigratingBackend(backend, fallback)
	}

	if config.LogCalls {
		backend = NewLoggingBackend(log, backend)
	}
	return backend, nil
}

// Open opens the backend and the metadata store described by config.
func Open(ctx context.Context, log *zap.Logger, config Config) (_ *DB, err error) {
	defer mon.Task()(&ctx)(&err)

	backend, err := OpenBackend(log, config)
	if err != nil {
		return nil, err
	}

	meta, err := metadb.Open(ctx, log.Named("metadb"), config.Meta)
	if err != nil {
		return nil, errs.Combine(err, backend.Close())
	}
	if config.Meta.CheckOnly {
		err = meta.CheckVersion(ctx)
	} else {
		err = meta.MigrateToLatest(ctx)
	}
	if err != nil {
		return nil, errs.Combine(err, meta.Close(), backend.Close())
	}

	log.Debug("blob db opened",
		zap.String("backend", blobs.BackendName(backend)),
		zap.Int("shards", meta.ShardCount()))
	return New(log, backend, meta), nil
}
