// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package s3db_test

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/memory"
	"storj.io/common/testcontext"
	"storj.io/common/testrand"

	"storj.io/blobdb/blobs"
	"storj.io/blobdb/blobs/s3db"
)

// fakeClient is an in-memory bucket store.
type fakeClient struct {
	mu       sync.Mutex
	buckets  map[string]map[string][]byte
	slowDown int
	fail     map[string]bool

	makeBucketCalls int
	removeCalls     [][]string
	putSizes        []int64
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		buckets: map[string]map[string][]byte{},
		fail:    map[string]bool{},
	}
}

func notFound(code string) error {
	return minio.ErrorResponse{Code: code, StatusCode: 404, Message: "not found"}
}

// throttle returns SlowDown while slowDown is positive.
func (c *fakeClient) throttle() error {
	if c.slowDown > 0 {
		c.slowDown--
		return minio.ErrorResponse{Code: "SlowDown", StatusCode: 503, Message: "slow down"}
	}
	return nil
}

func (c *fakeClient) BucketExists(ctx context.Context, bucket string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.buckets[bucket]
	return ok, nil
}

func (c *fakeClient) MakeBucket(ctx context.Context, bucket, region string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.makeBucketCalls++
	if _, ok := c.buckets[bucket]; ok {
		return minio.ErrorResponse{Code: "BucketAlreadyOwnedByYou", StatusCode: 409}
	}
	c.buckets[bucket] = map[string][]byte{}
	return nil
}

func (c *fakeClient) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putSizes = append(c.putSizes, size)
	if err := c.throttle(); err != nil {
		return 0, err
	}
	objects, ok := c.buckets[bucket]
	if !ok {
		return 0, notFound("NoSuchBucket")
	}
	objects[key] = data
	return int64(len(data)), nil
}

func (c *fakeClient) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.throttle(); err != nil {
		return nil, 0, err
	}
	data, ok := c.buckets[bucket][key]
	if !ok {
		return nil, 0, notFound("NoSuchKey")
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (c *fakeClient) StatObject(ctx context.Context, bucket, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.throttle(); err != nil {
		return 0, err
	}
	data, ok := c.buckets[bucket][key]
	if !ok {
		// HEAD responses carry no body, so there is no code
		return 0, minio.ErrorResponse{StatusCode: 404}
	}
	return int64(len(data)), nil
}

func (c *fakeClient) RemoveObject(ctx context.Context, bucket, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.buckets[bucket], key)
	return nil
}

func (c *fakeClient) RemoveObjects(ctx context.Context, bucket string, keys []string) (map[string]error, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeCalls = append(c.removeCalls, append([]string(nil), keys...))
	failed := map[string]error{}
	for _, key := range keys {
		if c.fail[key] {
			failed[key] = minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}
			continue
		}
		delete(c.buckets[bucket], key)
	}
	return failed, nil
}

func (c *fakeClient) CopyObject(ctx context.Context, bucket, srcKey, dstKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.buckets[bucket][srcKey]
	if !ok {
		return notFound("NoSuchKey")
	}
	c.buckets[bucket][dstKey] = append([]byte(nil), data...)
	return nil
}

func (c *fakeClient) ListObjects(ctx context.Context, bucket, prefix string, fn func(key string, size int64) error) error {
	c.mu.Lock()
	objects, ok := c.buckets[bucket]
	if !ok {
		c.mu.Unlock()
		return notFound("NoSuchBucket")
	}
	var keys []string
	for key := range objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	sizes := map[string]int64{}
	for _, key := range keys {
		sizes[key] = int64(len(objects[key]))
	}
	c.mu.Unlock()

	for _, key := range keys {
		if err := fn(key, sizes[key]); err != nil {
			return err
		}
	}
	return nil
}

func newStore(t *testing.T, client s3db.Client) *s3db.Store {
	config := s3db.DefaultConfig
	config.Bucket = "test-bucket"
	config.RetryDelay = time.Millisecond
	config.MaxRetryDelay = 5 * time.Millisecond
	config.BulkDeleteChunkSize = 2
	config.PartSize = 64 * memory.B
	return s3db.New(zaptest.NewLogger(t), client, config)
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := testcontext.New(t)
	client := newFakeClient()
	store := newStore(t, client)
	defer ctx.Check(store.Close)

	data := testrand.BytesInt(1024)
	n, err := store.Write(ctx, "parent/key", bytes.NewReader(data))
	require.NoError(t, err)
	require.EqualValues(t, len(data), n)
	require.Equal(t, 1, client.makeBucketCalls)

	// the bucket is only created once
	_, err = store.Write(ctx, "parent/other", bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 1, client.makeBucketCalls)

	reader, err := store.Open(ctx, "parent/key")
	require.NoError(t, err)
	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.NoError(t, reader.Close())
	require.Equal(t, data, got)

	size, err := store.Size(ctx, "parent/key")
	require.NoError(t, err)
	require.EqualValues(t, len(data), size)

	require.NoError(t, store.Copy(ctx, "parent/key", "parent/copy"))
	exists, err := store.Exists(ctx, "parent/copy")
	require.NoError(t, err)
	require.True(t, exists)

	var keys []string
	require.NoError(t, store.Walk(ctx, func(key string, size int64) error {
		keys = append(keys, key)
		return nil
	}))
	require.Equal(t, []string{"parent/copy", "parent/key", "parent/other"}, keys)
}

func TestStoreNotFound(t *testing.T) {
	ctx := testcontext.New(t)
	client := newFakeClient()
	store := newStore(t, client)
	defer ctx.Check(store.Close)

	_, err := store.Write(ctx, "present", bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	_, err = store.Open(ctx, "missing")
	require.True(t, blobs.ErrNotFound.Has(err), err)

	_, err = store.Size(ctx, "missing")
	require.True(t, blobs.ErrNotFound.Has(err), err)

	exists, err := store.Exists(ctx, "missing")
	require.NoError(t, err)
	require.False(t, exists)

	err = store.Copy(ctx, "missing", "dst")
	require.True(t, blobs.ErrNotFound.Has(err), err)

	deleted, err := store.Delete(ctx, "missing")
	require.NoError(t, err)
	require.False(t, deleted)

	deleted, err = store.Delete(ctx, "present")
	require.NoError(t, err)
	require.True(t, deleted)

	_, err = store.Open(ctx, "../escape")
	require.True(t, blobs.ErrBadName.Has(err))
}

func TestStoreSlowDown(t *testing.T) {
	ctx := testcontext.New(t)
	client := newFakeClient()
	store := newStore(t, client)
	defer ctx.Check(store.Close)

	data := []byte("retried")

	client.slowDown = 2
	_, err := store.Write(ctx, "key", bytes.NewReader(data))
	require.NoError(t, err)

	client.slowDown = 2
	reader, err := store.Open(ctx, "key")
	require.NoError(t, err)
	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.NoError(t, reader.Close())
	require.Equal(t, data, got)

	// a small body of unknown length is buffered and therefore retried
	client.slowDown = 1
	_, err = store.Write(ctx, "key", io.MultiReader(bytes.NewReader(data)))
	require.NoError(t, err)

	// a body larger than a part is streamed and not retried
	client.slowDown = 1
	_, err = store.Write(ctx, "key", io.MultiReader(bytes.NewReader(testrand.BytesInt(100))))
	require.Error(t, err)
	require.False(t, blobs.ErrNotFound.Has(err))

	// retries are bounded
	client.slowDown = 100
	_, err = store.Size(ctx, "key")
	require.Error(t, err)
	require.True(t, s3db.Error.Has(err))
}

func TestStoreUnknownLength(t *testing.T) {
	ctx := testcontext.New(t)
	client := newFakeClient()
	store := newStore(t, client)
	defer ctx.Check(store.Close)

	// compressed content has no known length until it has been read
	stream := blobs.NewGzipStream(bytes.NewReader(bytes.Repeat([]byte("form"), 256)))
	n, err := store.Write(ctx, "compressed", stream)
	require.NoError(t, err)
	require.EqualValues(t, stream.CompressedLength(), n)

	large := testrand.BytesInt(200)
	n, err = store.Write(ctx, "large", io.MultiReader(bytes.NewReader(large)))
	require.NoError(t, err)
	require.EqualValues(t, len(large), n)

	// content fitting into a part is uploaded with its size, larger content
	// as a multipart upload
	require.Len(t, client.putSizes, 2)
	require.EqualValues(t, len(client.buckets["test-bucket"]["compressed"]), client.putSizes[0])
	require.Less(t, client.putSizes[0], int64(64))
	require.EqualValues(t, -1, client.putSizes[1])

	n, err = store.Write(ctx, "tiny", io.MultiReader(bytes.NewReader([]byte("tiny"))))
	require.NoError(t, err)
	require.EqualValues(t, 4, n)
	require.EqualValues(t, 4, client.putSizes[2])

	reader, err := store.Open(ctx, "large")
	require.NoError(t, err)
	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.NoError(t, reader.Close())
	require.Equal(t, large, got)
}

func TestStoreBulkDelete(t *testing.T) {
	ctx := testcontext.New(t)
	client := newFakeClient()
	store := newStore(t, client)
	defer ctx.Check(store.Close)

	keys := []string{"a", "b", "c", "d", "e"}
	for _, key := range keys {
		_, err := store.Write(ctx, key, bytes.NewReader([]byte(key)))
		require.NoError(t, err)
	}

	ok, err := store.BulkDelete(ctx, keys[:3])
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, [][]string{{"a", "b"}, {"c"}}, client.removeCalls)

	client.fail["e"] = true
	ok, err = store.BulkDelete(ctx, keys[3:])
	require.NoError(t, err)
	require.False(t, ok)

	exists, err := store.Exists(ctx, "d")
	require.NoError(t, err)
	require.False(t, exists)
	exists, err = store.Exists(ctx, "e")
	require.NoError(t, err)
	require.True(t, exists)

	_, err = store.BulkDelete(ctx, []string{"ok", "/bad"})
	require.True(t, blobs.ErrBadName.Has(err))
}
