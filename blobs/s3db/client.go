// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package s3db

import (
	"context"
	"errors"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/zeebo/errs"

	"storj.io/common/memory"
)

// Client is the subset of an S3 client used by the store. Errors keep the
// native minio.ErrorResponse so that the store can classify them.
type Client interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket, region string) error

	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64) (int64, error)
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error)
	StatObject(ctx context.Context, bucket, key string) (int64, error)
	RemoveObject(ctx context.Context, bucket, key string) error
	// RemoveObjects removes keys and returns the keys that could not be removed.
	RemoveObjects(ctx context.Context, bucket string, keys []string) (failed map[string]error, err error)
	CopyObject(ctx context.Context, bucket, srcKey, dstKey string) error
	ListObjects(ctx context.Context, bucket, prefix string, fn func(key string, size int64) error) error
}

// minPartSize is the smallest part size S3 accepts for multipart uploads.
const minPartSize = 5 * memory.MiB

// NewClient returns a Client connected to the endpoint in config.
func NewClient(config Config) (Client, error) {
	config = config.withDefaults()
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.Secure,
		Region: config.Region,
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	partSize := max(config.PartSize, minPartSize)
	return &minioClient{client: client, partSize: uint64(partSize.Int64())}, nil
}

// minioClient implements Client with minio-go.
type minioClient struct {
	client   *minio.Client
	partSize uint64
}

func (c *minioClient) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return c.client.BucketExists(ctx, bucket)
}

func (c *minioClient) MakeBucket(ctx context.Context, bucket, region string) error {
	return c.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

func (c *minioClient) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64) (int64, error) {
	info, err := c.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
		PartSize:    c.partSize,
	})
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

func (c *minioClient) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	object, err := c.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, err
	}
	// the request is only sent on first use
	info, err := object.Stat()
	if err != nil {
		return nil, 0, errs.Combine(err, object.Close())
	}
	return object, info.Size, nil
}

func (c *minioClient) StatObject(ctx context.Context, bucket, key string) (int64, error) {
	info, err := c.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

func (c *minioClient) RemoveObject(ctx context.Context, bucket, key string) error {
	return c.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
}

func (c *minioClient) RemoveObjects(ctx context.Context, bucket string, keys []string) (map[string]error, error) {
	objects := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objects <- minio.ObjectInfo{Key: key}
	}
	close(objects)

	failed := map[string]error{}
	for result := range c.client.RemoveObjects(ctx, bucket, objects, minio.RemoveObjectsOptions{}) {
		if result.Err != nil {
			failed[result.ObjectName] = result.Err
		}
	}
	return failed, ctx.Err()
}

func (c *minioClient) CopyObject(ctx context.Context, bucket, srcKey, dstKey string) error {
	_, err := c.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: bucket, Object: dstKey},
		minio.CopySrcOptions{Bucket: bucket, Object: srcKey},
	)
	return err
}

func (c *minioClient) ListObjects(ctx context.Context, bucket, prefix string, fn func(key string, size int64) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for object := range c.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return object.Err
		}
		if err := fn(object.Key, object.Size); err != nil {
			return err
		}
	}
	return nil
}

// errorCode returns the S3 error code of err.
func errorCode(err error) (code string, status int) {
	var response minio.ErrorResponse
	if errors.As(err, &response) {
		return response.Code, response.StatusCode
	}
	return "", 0
}

func isNotFound(err error) bool {
	code, status := errorCode(err)
	switch code {
	case "NoSuchKey", "NotFound", "NoSuchBucket":
		return true
	}
	return code == "" && status == 404
}

func isSlowDown(err error) bool {
	code, status := errorCode(err)
	return code == "SlowDown" || status == 503
}

func isBucketAlreadyCreated(err error) bool {
	code, _ := errorCode(err)
	return code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists"
}
