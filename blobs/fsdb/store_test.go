// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package fsdb_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/memory"
	"storj.io/common/testcontext"
	"storj.io/common/testrand"

	"storj.io/blobdb/blobs"
	"storj.io/blobdb/blobs/fsdb"
)

func newStore(ctx *testcontext.Context, t *testing.T) *fsdb.Store {
	store, err := fsdb.New(zaptest.NewLogger(t), fsdb.Config{
		Root:            ctx.Dir("blobs"),
		WriteBufferSize: 4 * memory.KiB,
	})
	require.NoError(t, err)
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := testcontext.New(t)
	store := newStore(ctx, t)
	defer ctx.Check(store.Close)

	data := testrand.BytesInt(10 * memory.KiB.Int())

	n, err := store.Write(ctx, "parent/blob.key", bytes.NewReader(data))
	require.NoError(t, err)
	require.EqualValues(t, len(data), n)

	path, err := store.Path("parent/blob.key")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(store.Root(), "parent", "blob.key"), path)

	reader, err := store.Open(ctx, "parent/blob.key")
	require.NoError(t, err)
	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.NoError(t, reader.Close())
	require.Equal(t, data, got)

	size, err := store.Size(ctx, "parent/blob.key")
	require.NoError(t, err)
	require.EqualValues(t, len(data), size)

	exists, err := store.Exists(ctx, "parent/blob.key")
	require.NoError(t, err)
	require.True(t, exists)

	// overwriting replaces the content
	_, err = store.Write(ctx, "parent/blob.key", bytes.NewReader([]byte("small")))
	require.NoError(t, err)
	size, err = store.Size(ctx, "parent/blob.key")
	require.NoError(t, err)
	require.EqualValues(t, 5, size)

	require.NoError(t, store.Copy(ctx, "parent/blob.key", "other/copy"))
	reader, err = store.Open(ctx, "other/copy")
	require.NoError(t, err)
	got, err = io.ReadAll(reader)
	require.NoError(t, err)
	require.NoError(t, reader.Close())
	require.Equal(t, "small", string(got))
}

func TestStoreDelete(t *testing.T) {
	ctx := testcontext.New(t)
	store := newStore(ctx, t)
	defer ctx.Check(store.Close)

	_, err := store.Write(ctx, "key", bytes.NewReader([]byte("data")))
	require.NoError(t, err)

	deleted, err := store.Delete(ctx, "key")
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = store.Delete(ctx, "key")
	require.NoError(t, err)
	require.False(t, deleted)

	_, err = store.Open(ctx, "key")
	require.True(t, blobs.ErrNotFound.Has(err))
	_, err = store.Size(ctx, "key")
	require.True(t, blobs.ErrNotFound.Has(err))
	exists, err := store.Exists(ctx, "key")
	require.NoError(t, err)
	require.False(t, exists)
	require.True(t, blobs.ErrNotFound.Has(store.Copy(ctx, "key", "dst")))

	for _, key := range []string{"a", "b", "c"} {
		_, err := store.Write(ctx, key, bytes.NewReader([]byte(key)))
		require.NoError(t, err)
	}

	ok, err := store.BulkDelete(ctx, []string{"a", "b"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.BulkDelete(ctx, []string{"c", "missing"})
	require.NoError(t, err)
	require.False(t, ok)

	exists, err = store.Exists(ctx, "c")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestStoreUnsafeKeys(t *testing.T) {
	ctx := testcontext.New(t)
	store := newStore(ctx, t)
	defer ctx.Check(store.Close)

	for _, key := range []string{"../escape", "/abs", ".hidden", "a/../../b", "a/.."} {
		_, err := store.Write(ctx, key, bytes.NewReader(nil))
		require.True(t, blobs.ErrBadName.Has(err), key)

		_, err = store.Open(ctx, key)
		require.True(t, blobs.ErrBadName.Has(err), key)

		_, err = store.Delete(ctx, key)
		require.True(t, blobs.ErrBadName.Has(err), key)
	}

	_, err := os.Stat(filepath.Join(filepath.Dir(store.Root()), "escape"))
	require.True(t, os.IsNotExist(err))
}

func TestStoreWalk(t *testing.T) {
	ctx := testcontext.New(t)
	store := newStore(ctx, t)
	defer ctx.Check(store.Close)

	keys := []string{"a", "dir/b", "dir/sub/c"}
	for _, key := range keys {
		_, err := store.Write(ctx, key, bytes.NewReader([]byte(key)))
		require.NoError(t, err)
	}

	var walked []string
	err := store.Walk(ctx, func(key string, size int64) error {
		require.EqualValues(t, len(key), size)
		walked = append(walked, key)
		return nil
	})
	require.NoError(t, err)
	sort.Strings(walked)
	require.Equal(t, keys, walked)
}

func TestStoreConcurrentWrites(t *testing.T) {
	ctx := testcontext.New(t)
	store := newStore(ctx, t)
	defer ctx.Check(store.Close)

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := "shared/dir/" + blobs.ShortIdentifier()
			_, errs[i] = store.Write(ctx, key, bytes.NewReader(testrand.BytesInt(100)))
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
}
