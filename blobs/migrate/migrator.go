// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package migrate

import (
	"context"
	"sync"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/blobdb/blobs"
	"storj.io/blobdb/blobs/metadb"
)

// Walker lists every key of a backend.
type Walker interface {
	Walk(ctx context.Context, fn func(key string, size int64) error) error
}

// MigratorConfig configures a backend to backend migration.
type MigratorConfig struct {
	Slug        string `help:"name recorded once the migration completes" default:""`
	Domain      string `help:"only migrate blobs of this domain; every stored key when empty" default:""`
	Reset       bool   `help:"run again even when the migration completed before" default:"false"`
	Concurrency int    `help:"number of blobs copied in parallel" default:"4"`
	PageSize    int    `help:"number of metadata rows fetched per query" default:"1000"`
}

// Migrator copies blobs from a source backend to a target backend.
type Migrator struct {
	log    *zap.Logger
	source blobs.Backend
	target blobs.Backend
	meta   *metadb.DB
	config MigratorConfig
}

// NewMigrator returns a migrator from source to target.
func NewMigrator(log *zap.Logger, source, target blobs.Backend, meta *metadb.DB, config MigratorConfig) *Migrator {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PageSize <= 0 {
		config.PageSize = 1000
	}
	return &Migrator{log: log, source: source, target: target, meta: meta, config: config}
}

// Run copies every blob missing from the target and records the slug as
// completed. A completed slug is not run again unless Reset is set.
func (migrator *Migrator) Run(ctx context.Context) (report Report, err error) {
	defer mon.Task()(&ctx)(&err)

	slug := migrator.config.Slug
	if slug == "" {
		return report, blobs.ErrArgument.New("migration slug is required")
	}
	if migrator.config.Reset {
		if err := migrator.meta.ResetMigration(ctx, slug); err != nil {
			return report, err
		}
	}
	done, err := migrator.meta.IsMigrated(ctx, slug)
	if err != nil {
		return report, err
	}
	if done {
		return report, Error.New("migration %q already completed", slug)
	}

	var mu sync.Mutex
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(migrator.config.Concurrency)

	visit := func(key string) {
		group.Go(func() error {
			result, err := migrator.copy(gctx, key)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			report.Total++
			switch result {
			case copied:
				report.Copied++
			case skipped:
				report.Skipped++
			case notFound:
				report.NotFound++
				migrator.log.Warn("blob not found", zap.String("key", key))
			}
			return nil
		})
	}

	err = migrator.keys(gctx, visit)
	err = errs.Combine(err, group.Wait())
	if err != nil {
		return report, err
	}

	migrator.log.Info("migration finished",
		zap.String("slug", slug),
		zap.Int64("total", report.Total),
		zap.Int64("copied", report.Copied),
		zap.Int64("skipped", report.Skipped),
		zap.Int64("not found", report.NotFound))

	return report, migrator.meta.MarkMigrated(ctx, slug)
}

// keys calls visit for every key to migrate.
func (migrator *Migrator) keys(ctx context.Context, visit func(key string)) error {
	if migrator.config.Domain != "" {
		return migrator.meta.IterateDomain(ctx, migrator.config.Domain, migrator.config.PageSize,
			func(ctx context.Context, meta *blobs.Meta) error {
				visit(meta.Key)
				return nil
			})
	}

	walker, ok := migrator.source.(Walker)
	if !ok {
		return Error.New("%s backend cannot list its keys; a domain is required", blobs.BackendName(migrator.source))
	}
	return walker.Walk(ctx, func(key string, size int64) error {
		visit(key)
		return ctx.Err()
	})
}

type outcome int

const (
	copied outcome = iota
	skipped
	notFound
)

func (migrator *Migrator) copy(ctx context.Context, key string) (_ outcome, err error) {
	exists, err := migrator.target.Exists(ctx, key)
	if err != nil {
		return 0, err
	}
	if exists {
		return skipped, nil
	}

	rc, err := migrator.source.Open(ctx, key)
	if blobs.ErrNotFound.Has(err) {
		return notFound, nil
	}
	if err != nil {
		return 0, err
	}
	defer func() { err = errs.Combine(err, rc.Close()) }()

	if _, err := migrator.target.Write(ctx, key, rc); err != nil {
		return 0, err
	}
	return copied, nil
}
