// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package sweeper implements deletion of expired blobs.
package sweeper

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/common/sync2"

	"storj.io/blobdb/blobs"
	"storj.io/blobdb/blobs/metadb"
)

var (
	// Error is the default sweeper error class.
	Error = errs.Class("sweeper")

	mon = monkit.Package()
)

// Config defines parameters for the sweeper.
type Config struct {
	Interval  time.Duration `help:"how frequently expired blobs are deleted" default:"1h0m0s"`
	BatchSize int           `help:"number of expired blobs deleted per batch and shard" default:"1000"`
}

// Result counts the blobs removed by a sweep.
type Result struct {
	Deleted int64
	Bytes   int64
	// Partial counts batches where the backend could not delete every payload.
	Partial int64
	// Failed counts expired blobs whose payload is still stored. Their rows
	// are kept so that a later sweep retries them.
	Failed int64
}

// Service deletes blobs whose expiration has passed.
//
// architecture: Chore
type Service struct {
	log     *zap.Logger
	backend blobs.Backend
	meta    *metadb.DB
	config  Config

	Loop *sync2.Cycle
}

// NewService creates a new sweeper service.
func NewService(log *zap.Logger, backend blobs.Backend, meta *metadb.DB, config Config) *Service {
	if config.BatchSize <= 0 {
		config.BatchSize = 1000
	}
	return &Service{
		log:     log,
		backend: backend,
		meta:    meta,
		config:  config,
		Loop:    sync2.NewCycle(config.Interval),
	}
}

// Run runs the sweeper until ctx is canceled.
func (service *Service) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	return service.Loop.Run(ctx, func(ctx context.Context) error {
		_, err := service.Sweep(ctx, time.Now())
		if err != nil {
			service.log.Error("error during sweeping blobs", zap.Error(err))
		}
		return nil
	})
}

// Close stops the sweeper.
func (service *Service) Close() (err error) {
	service.Loop.Close()
	return nil
}

// Sweep deletes the blobs that have expired by now. Shards are swept in
// parallel.
func (service *Service) Sweep(ctx context.Context, now time.Time) (result Result, err error) {
	defer mon.Task()(&ctx)(&err)

	group, gctx := errgroup.WithContext(ctx)
	for shard := 0; shard < service.meta.ShardCount(); shard++ {
		shard := shard
		group.Go(func() error {
			return service.sweepShard(gctx, shard, now, &result)
		})
	}
	err = group.Wait()

	if result.Deleted > 0 || result.Failed > 0 {
		service.log.Info("sweep",
			zap.Int64("count", result.Deleted),
			zap.Int64("bytes", result.Bytes),
			zap.Int64("partial batches", result.Partial),
			zap.Int64("failed", result.Failed))
	}
	return result, Error.Wrap(err)
}

func (service *Service) sweepShard(ctx context.Context, shard int, now time.Time, result *Result) (err error) {
	defer mon.Task()(&ctx)(&err)

	var cursor metadb.ExpiredCursor
	for {
		metas, err := service.meta.Expired(ctx, shard, now, cursor, service.config.BatchSize)
		if err != nil {
			return err
		}
		if len(metas) == 0 {
			return nil
		}
		// rows left behind by this batch are not listed again
		cursor = metadb.CursorOf(metas[len(metas)-1])

		keys := make([]string, 0, len(metas))
		for _, meta := range metas {
			keys = append(keys, meta.Key)
		}

		ok, err := service.backend.BulkDelete(ctx, keys)
		if err != nil || !ok {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			atomic.AddInt64(&result.Partial, 1)
			service.log.Warn("not every expired blob was deleted",
				zap.Int("shard", shard),
				zap.Int("count", len(keys)),
				zap.Error(err))

			metas, err = service.gone(ctx, metas)
			if err != nil {
				return err
			}
			atomic.AddInt64(&result.Failed, int64(len(keys)-len(metas)))
		}

		if len(metas) > 0 {
			if err := service.meta.BulkDelete(ctx, metas); err != nil {
				return err
			}
			var bytes int64
			for _, meta := range metas {
				bytes += meta.StoredLength()
			}
			atomic.AddInt64(&result.Deleted, int64(len(metas)))
			atomic.AddInt64(&result.Bytes, bytes)
			mon.Meter("blob_expired").Mark(len(metas))
		}

		if len(keys) < service.config.BatchSize {
			return nil
		}
	}
}

// gone returns the metas whose payload is no longer stored.
func (service *Service) gone(ctx context.Context, metas []*blobs.Meta) ([]*blobs.Meta, error) {
	var deleted []*blobs.Meta
	for _, meta := range metas {
		exists, err := service.backend.Exists(ctx, meta.Key)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			service.log.Warn("unable to check expired blob",
				zap.String("key", meta.Key),
				zap.Error(err))
			continue
		}
		if exists {
			mon.Event("blob_expired_undeletable")
			service.log.Warn("expired blob could not be deleted",
				zap.String("key", meta.Key))
			continue
		}
		deleted = append(deleted, meta)
	}
	return deleted, nil
}
