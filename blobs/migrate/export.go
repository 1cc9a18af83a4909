// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package migrate moves blobs between backends and in and out of portable
// archives.
//
// An archive is a gzip compressed tar stream. Every entry is named by the
// blob key and holds the payload exactly as stored, so compressed blobs stay
// compressed. Metadata is not part of the archive.
package migrate

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"sync/atomic"

	"github.com/klauspost/compress/gzip"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/blobdb/blobs"
	"storj.io/blobdb/blobs/metadb"
)

var (
	// Error is the default migrate error class.
	Error = errs.Class("migrate")

	mon = monkit.Package()
)

// Report counts the outcome of a batch job.
type Report struct {
	Total    int64
	Copied   int64
	Skipped  int64
	NotFound int64
}

func (report *Report) add(other *Report) {
	atomic.AddInt64(&report.Total, other.Total)
	atomic.AddInt64(&report.Copied, other.Copied)
	atomic.AddInt64(&report.Skipped, other.Skipped)
	atomic.AddInt64(&report.NotFound, other.NotFound)
}

// ExportConfig configures an export.
type ExportConfig struct {
	Domain   string `help:"domain whose blobs are exported" default:""`
	PageSize int    `help:"number of metadata rows fetched per query" default:"1000"`
	Force    bool   `help:"overwrite an existing archive" default:"false"`
}

// Exporter writes the blobs of a domain into an archive.
type Exporter struct {
	log     *zap.Logger
	backend blobs.Backend
	meta    *metadb.DB
	config  ExportConfig

	// Skip contains keys that were exported before.
	Skip map[string]bool
}

// NewExporter returns an exporter reading payloads from backend.
func NewExporter(log *zap.Logger, backend blobs.Backend, meta *metadb.DB, config ExportConfig) *Exporter {
	if config.PageSize <= 0 {
		config.PageSize = 1000
	}
	return &Exporter{
		log:     log,
		backend: backend,
		meta:    meta,
		config:  config,
		Skip:    map[string]bool{},
	}
}

// ExportFile writes the archive to path. An existing file is only replaced
// when the export is forced.
func (exporter *Exporter) ExportFile(ctx context.Context, path string) (_ Report, err error) {
	defer mon.Task()(&ctx)(&err)

	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if exporter.config.Force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return Report{}, Error.New("archive %q already exists", path)
		}
		return Report{}, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(file.Close())) }()

	return exporter.Export(ctx, file)
}

// Export writes the archive to w.
func (exporter *Exporter) Export(ctx context.Context, w io.Writer) (report Report, err error) {
	defer mon.Task()(&ctx)(&err)

	if exporter.config.Domain == "" {
		return report, blobs.ErrArgument.New("domain is required")
	}

	gz := gzip.NewWriter(w)
	archive := tar.NewWriter(gz)
	defer func() {
		err = errs.Combine(err, Error.Wrap(archive.Close()), Error.Wrap(gz.Close()))
	}()

	err = exporter.meta.IterateDomain(ctx, exporter.config.Domain, exporter.config.PageSize,
		func(ctx context.Context, meta *blobs.Meta) error {
			report.Total++
			if exporter.Skip[meta.Key] {
				report.Skipped++
				return nil
			}

			ok, err := exporter.exportBlob(ctx, archive, meta)
			if err != nil {
				return err
			}
			if !ok {
				report.NotFound++
				exporter.log.Warn("blob not found", zap.String("key", meta.Key), zap.String("parent", meta.ParentID))
				return nil
			}
			report.Copied++
			exporter.Skip[meta.Key] = true
			return nil
		})

	exporter.log.Info("export finished",
		zap.String("domain", exporter.config.Domain),
		zap.Int64("total", report.Total),
		zap.Int64("exported", report.Copied),
		zap.Int64("skipped", report.Skipped),
		zap.Int64("not found", report.NotFound))
	return report, err
}

// exportBlob appends the payload of meta to archive. It returns false when
// the payload does not exist.
func (exporter *Exporter) exportBlob(ctx context.Context, archive *tar.Writer, meta *blobs.Meta) (_ bool, err error) {
	size, err := exporter.backend.Size(ctx, meta.Key)
	if blobs.ErrNotFound.Has(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	rc, err := exporter.backend.Open(ctx, meta.Key)
	if blobs.ErrNotFound.Has(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer func() { err = errs.Combine(err, rc.Close()) }()

	err = archive.WriteHeader(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     meta.Key,
		Size:     size,
		Mode:     0644,
		ModTime:  meta.CreatedOn,
	})
	if err != nil {
		return false, Error.Wrap(err)
	}
	if _, err := io.CopyN(archive, rc, size); err != nil {
		return false, Error.New("copying %q: %w", meta.Key, err)
	}
	return true, nil
}
