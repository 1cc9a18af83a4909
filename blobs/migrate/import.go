// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package migrate

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/blobdb/blobs"
)

// ImportConfig configures an import.
type ImportConfig struct {
	Workers int `help:"number of parallel import workers" default:"1"`
}

// Copier writes a raw payload under a key.
type Copier interface {
	CopyBlob(ctx context.Context, content io.Reader, key string) error
}

// Import copies every entry of the archive at path into target. Each worker
// opens the archive on its own and handles the entries whose position modulo
// the worker count equals its index.
func Import(ctx context.Context, log *zap.Logger, target Copier, path string, config ImportConfig) (report Report, err error) {
	defer mon.Task()(&ctx)(&err)

	workers := config.Workers
	if workers <= 0 {
		workers = 1
	}

	group, gctx := errgroup.WithContext(ctx)
	for worker := 0; worker < workers; worker++ {
		worker := worker
		group.Go(func() error {
			var partial Report
			err := importPart(gctx, log.With(zap.Int("worker", worker)), target, path, worker, workers, &partial)
			report.add(&partial)
			return err
		})
	}
	err = group.Wait()

	log.Info("import finished",
		zap.String("archive", path),
		zap.Int64("total", report.Total),
		zap.Int64("imported", report.Copied))
	return report, err
}

func importPart(ctx context.Context, log *zap.Logger, target Copier, path string, worker, workers int, report *Report) (err error) {
	defer mon.Task()(&ctx)(&err)

	file, err := os.Open(path)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(file.Close())) }()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(gz.Close())) }()

	archive := tar.NewReader(gz)
	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, err := archive.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return Error.Wrap(err)
		}
		if header.Typeflag != tar.TypeReg || index%workers != worker {
			continue
		}

		report.Total++
		if err := blobs.CheckSafeKey(header.Name); err != nil {
			return err
		}
		if err := target.CopyBlob(ctx, archive, header.Name); err != nil {
			return err
		}
		report.Copied++
		log.Debug("imported", zap.String("key", header.Name), zap.Int64("size", header.Size))
	}
}
