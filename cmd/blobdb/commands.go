// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/process"

	"storj.io/blobdb/blobs"
	"storj.io/blobdb/blobs/blobdb"
	"storj.io/blobdb/blobs/migrate"
	"storj.io/blobdb/blobs/sweeper"
)

// wipeBatchSize is the number of keys removed per bulk delete while wiping.
const wipeBatchSize = 1000

func cmdExport(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	return withDB(ctx, log, exportCfg.Config, func(db *blobdb.DB) error {
		exporter := migrate.NewExporter(log.Named("export"), db.Backend(), db.MetaDB(), exportCfg.Export)
		if exportCfg.SkipFile != "" {
			if err := readSkipFile(exportCfg.SkipFile, exporter.Skip); err != nil {
				return err
			}
		}

		report, err := exporter.ExportFile(ctx, args[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "exported %d of %d blobs (%d skipped, %d not found)\n",
			report.Copied, report.Total, report.Skipped, report.NotFound)
		return err
	})
}

// readSkipFile adds the keys listed in path to skip.
func readSkipFile(path string, skip map[string]bool) (err error) {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, file.Close()) }()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if key := strings.TrimSpace(scanner.Text()); key != "" {
			skip[key] = true
		}
	}
	return scanner.Err()
}

func cmdImport(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	return withDB(ctx, log, importCfg.Config, func(db *blobdb.DB) error {
		report, err := migrate.Import(ctx, log.Named("import"), db, args[0], importCfg.Import)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %d blobs\n", report.Copied)
		return err
	})
}

func cmdMigrate(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	source, err := migrateCfg.Source.Open(log.Named("source"))
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, source.Close()) }()

	return withDB(ctx, log, migrateCfg.Config, func(db *blobdb.DB) error {
		migrator := migrate.NewMigrator(log.Named("migrate"), source, db.Backend(), db.MetaDB(), migrateCfg.Migrate)
		report, err := migrator.Run(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "migrated %d of %d blobs (%d already present, %d not found)\n",
			report.Copied, report.Total, report.Skipped, report.NotFound)
		return err
	})
}

func cmdWipe(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	if !wipeCfg.Yes {
		_, err := fmt.Fprint(cmd.OutOrStdout(), "This deletes every stored blob. Type 'yes' to continue: ")
		if err != nil {
			return err
		}
		answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if strings.TrimSpace(answer) != "yes" {
			return errs.New("aborted")
		}
	}

	return withDB(ctx, log, wipeCfg.Config, func(db *blobdb.DB) error {
		walker, ok := db.Backend().(migrate.Walker)
		if !ok {
			return errs.New("%s backend cannot list its keys", blobs.BackendName(db.Backend()))
		}

		var keys []string
		err := walker.Walk(ctx, func(key string, size int64) error {
			keys = append(keys, key)
			return nil
		})
		if err != nil {
			return err
		}

		var group errs.Group
		for len(keys) > 0 {
			batch := keys
			if len(batch) > wipeBatchSize {
				batch = batch[:wipeBatchSize]
			}
			keys = keys[len(batch):]

			ok, err := db.Backend().BulkDelete(ctx, batch)
			group.Add(err)
			if !ok {
				log.Warn("not every blob of the batch was deleted", zap.Int("count", len(batch)))
			}
		}
		return group.Err()
	})
}

func cmdSweep(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	return withDB(ctx, log, sweepCfg.Config, func(db *blobdb.DB) (err error) {
		service := sweeper.NewService(log.Named("sweeper"), db.Backend(), db.MetaDB(), sweepCfg.Sweeper)
		defer func() { err = errs.Combine(err, service.Close()) }()

		if sweepCfg.Loop {
			return service.Run(ctx)
		}

		result, err := service.Sweep(ctx, time.Now())
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired blobs (%d bytes)\n", result.Deleted, result.Bytes)
		return err
	})
}
