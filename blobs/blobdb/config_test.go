// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package blobdb_test

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"storj.io/common/testcontext"
	"storj.io/common/testrand"

	"storj.io/blobdb/blobs"
	"storj.io/blobdb/blobs/blobdb"
	"storj.io/blobdb/blobs/blobdb/blobdbtest"
	"storj.io/blobdb/blobs/fsdb"
	"storj.io/blobdb/blobs/metadb"
	"storj.io/blobdb/blobs/metadb/metadbtest"
	"storj.io/blobdb/blobs/s3db"
	"storj.io/blobdb/private/migrate"
)

func TestBackendKind(t *testing.T) {
	s3 := s3db.Config{Endpoint: "localhost:9000", AccessKey: "access", SecretKey: "secret"}

	for _, tt := range []struct {
		config blobdb.Config
		kind   string
	}{
		{blobdb.Config{S3: s3, FS: fsdb.Config{Root: "/tmp/blobs"}}, blobdb.BackendS3},
		{blobdb.Config{FS: fsdb.Config{Root: "/tmp/blobs"}}, blobdb.BackendFS},
		{blobdb.Config{Backend: "swift"}, blobdb.BackendSwift},
		{blobdb.Config{Backend: "fs", S3: s3}, blobdb.BackendFS},
	} {
		kind, err := tt.config.BackendKind()
		require.NoError(t, err)
		require.Equal(t, tt.kind, kind)
	}

	_, err := blobdb.Config{}.BackendKind()
	require.True(t, blobs.ErrConfig.Has(err))

	_, err = blobdb.Config{Backend: "tape"}.BackendKind()
	require.True(t, blobs.ErrConfig.Has(err))

	_, err = blobdb.OpenBackend(zaptest.NewLogger(t), blobdb.Config{Backend: "s3"})
	require.True(t, blobs.ErrConfig.Has(err))
}

func TestOpenAndDefault(t *testing.T) {
	ctx := testcontext.New(t)
	log := zaptest.NewLogger(t)

	config := blobdb.Config{
		FS: fsdb.Config{Root: ctx.Dir("blobs")},
		Meta: metadb.Config{
			Shards: "sqlite3://" + filepath.Join(ctx.Dir("meta"), "shard0.db"),
		},
	}

	db, err := blobdb.Open(ctx, log, config)
	require.NoError(t, err)
	defer ctx.Check(db.Close)
	require.Equal(t, "fs", blobs.BackendName(db.Backend()))

	meta, err := db.Put(ctx, bytes.NewReader([]byte("hello")), newArgs(testrand.UUID().String(), blobs.CodeTempfile))
	require.NoError(t, err)
	require.EqualValues(t, 5, meta.ContentLength)

	pop := blobdb.PushForTesting(db)
	current, err := blobdb.Default(ctx)
	require.NoError(t, err)
	require.Same(t, db, current)

	other := blobdbtest.Open(ctx, t, metadbtest.SQLite(1))
	defer ctx.Check(other.Close)
	popOther := blobdb.PushForTesting(other)
	current, err = blobdb.Default(ctx)
	require.NoError(t, err)
	require.Same(t, other, current)

	popOther()
	popOther()
	current, err = blobdb.Default(ctx)
	require.NoError(t, err)
	require.Same(t, db, current)
	pop()
}

func TestOpenCheckOnly(t *testing.T) {
	ctx := testcontext.New(t)
	log := zaptest.NewLogger(t)

	config := blobdb.Config{
		FS: fsdb.Config{Root: ctx.Dir("blobs")},
		Meta: metadb.Config{
			Shards:    "sqlite3://" + filepath.Join(ctx.Dir("meta"), "shard0.db"),
			CheckOnly: true,
		},
	}

	_, err := blobdb.Open(ctx, log, config)
	require.True(t, migrate.ErrOutdated.Has(err))

	config.Meta.CheckOnly = false
	db, err := blobdb.Open(ctx, log, config)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	config.Meta.CheckOnly = true
	db, err = blobdb.Open(ctx, log, config)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestOpenWithFallback(t *testing.T) {
	ctx := testcontext.New(t)
	log := zaptest.NewLogger(t)

	old, err := fsdb.New(log, fsdb.Config{Root: ctx.Dir("old")})
	require.NoError(t, err)
	_, err = old.Write(ctx, "legacy", bytes.NewReader([]byte("old data")))
	require.NoError(t, err)

	db, err := blobdb.Open(ctx, log, blobdb.Config{
		FS: fsdb.Config{Root: ctx.Dir("new")},
		Fallback: blobdb.BackendConfig{
			Backend: blobdb.BackendFS,
			FS:      fsdb.Config{Root: ctx.Dir("old")},
		},
		Meta: metadb.Config{
			Shards: "sqlite3://" + filepath.Join(ctx.Dir("meta"), "shard0.db"),
		},
	})
	require.NoError(t, err)
	defer ctx.Check(db.Close)

	require.IsType(t, &blobdb.MigratingBackend{}, db.Backend())

	stream, err := db.Get(ctx, blobs.GetRequest{Key: "legacy", TypeCode: blobs.CodeFormAttachment})
	require.NoError(t, err)
	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.NoError(t, stream.Close())
	require.Equal(t, "old data", string(data))

	meta, err := db.Put(ctx, bytes.NewReader([]byte("new data")), newArgs(testrand.UUID().String(), blobs.CodeFormAttachment))
	require.NoError(t, err)
	exists, err := old.Exists(ctx, meta.Key)
	require.NoError(t, err)
	require.False(t, exists)

	_, err = blobdb.OpenBackend(log, blobdb.Config{
		FS:       fsdb.Config{Root: ctx.Dir("new")},
		Fallback: blobdb.BackendConfig{Backend: "tape"},
	})
	require.True(t, blobs.ErrConfig.Has(err))
}

func TestLoggingBackend(t *testing.T) {
	ctx := testcontext.New(t)

	store, err := fsdb.New(zaptest.NewLogger(t), fsdb.Config{Root: ctx.Dir("blobs")})
	require.NoError(t, err)

	core, logs := observer.New(zapcore.DebugLevel)
	logged := blobdb.NewLoggingBackend(zap.New(core), store)
	defer ctx.Check(logged.Close)

	require.Equal(t, "fs", blobs.BackendName(logged))

	_, err = logged.Write(ctx, "key", bytes.NewReader([]byte("data")))
	require.NoError(t, err)

	var walked []string
	require.NoError(t, logged.Walk(ctx, func(key string, size int64) error {
		walked = append(walked, key)
		return nil
	}))
	require.Equal(t, []string{"key"}, walked)

	deleted, err := logged.Delete(ctx, "key")
	require.NoError(t, err)
	require.True(t, deleted)

	require.Equal(t, 1, logs.FilterMessage("Write").Len())
	entries := logs.FilterMessage("Delete").All()
	require.Len(t, entries, 1)
	require.Equal(t, "key", entries[0].ContextMap()["key"])
	require.Equal(t, true, entries[0].ContextMap()["deleted"])
}

func TestMigratingBackend(t *testing.T) {
	ctx := testcontext.New(t)
	log := zaptest.NewLogger(t)

	oldStore, err := fsdb.New(log, fsdb.Config{Root: ctx.Dir("old")})
	require.NoError(t, err)
	newStore, err := fsdb.New(log, fsdb.Config{Root: ctx.Dir("new")})
	require.NoError(t, err)

	backend := blobdb.NewMigratingBackend(newStore, oldStore)
	defer ctx.Check(backend.Close)

	_, err = oldStore.Write(ctx, "legacy", bytes.NewReader([]byte("old data")))
	require.NoError(t, err)
	_, err = backend.Write(ctx, "fresh", bytes.NewReader([]byte("new data")))
	require.NoError(t, err)

	exists, err := oldStore.Exists(ctx, "fresh")
	require.NoError(t, err)
	require.False(t, exists)

	rc, err := backend.Open(ctx, "legacy")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "old data", string(data))

	size, err := backend.Size(ctx, "legacy")
	require.NoError(t, err)
	require.EqualValues(t, 8, size)

	require.NoError(t, backend.Copy(ctx, "legacy", "copied"))
	exists, err = newStore.Exists(ctx, "copied")
	require.NoError(t, err)
	require.True(t, exists)

	_, err = oldStore.Write(ctx, "fresh", bytes.NewReader([]byte("stale")))
	require.NoError(t, err)
	walked := map[string]int{}
	require.NoError(t, backend.Walk(ctx, func(key string, size int64) error {
		walked[key]++
		return nil
	}))
	require.Equal(t, map[string]int{"legacy": 1, "fresh": 1, "copied": 1}, walked)

	ok, err := backend.BulkDelete(ctx, []string{"legacy", "fresh", "copied"})
	require.NoError(t, err)
	require.True(t, ok)

	_, err = backend.Open(ctx, "legacy")
	require.True(t, blobs.ErrNotFound.Has(err))
}
