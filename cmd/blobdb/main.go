// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Command blobdb runs maintenance jobs against the blob store.
package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/cfgstruct"
	"storj.io/common/fpath"
	"storj.io/common/process"

	"storj.io/blobdb/blobs/blobdb"
	"storj.io/blobdb/blobs/migrate"
	"storj.io/blobdb/blobs/sweeper"
)

var (
	rootCmd = &cobra.Command{
		Use:   "blobdb",
		Short: "Blob store maintenance",
	}
	exportCmd = &cobra.Command{
		Use:   "export <archive>",
		Short: "Export the blobs of a domain into an archive",
		Args:  cobra.ExactArgs(1),
		RunE:  cmdExport,
	}
	importCmd = &cobra.Command{
		Use:   "import <archive>",
		Short: "Import the blobs of an archive",
		Args:  cobra.ExactArgs(1),
		RunE:  cmdImport,
	}
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Copy blobs from a source backend into the configured backend",
		Args:  cobra.NoArgs,
		RunE:  cmdMigrate,
	}
	wipeCmd = &cobra.Command{
		Use:   "wipe",
		Short: "Delete every stored blob payload",
		Args:  cobra.NoArgs,
		RunE:  cmdWipe,
	}
	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired blobs",
		Args:  cobra.NoArgs,
		RunE:  cmdSweep,
	}

	exportCfg struct {
		blobdb.Config
		Export   migrate.ExportConfig
		SkipFile string `help:"file listing keys exported by an earlier run, one per line" default:""`
	}
	importCfg struct {
		blobdb.Config
		Import migrate.ImportConfig
	}
	migrateCfg struct {
		blobdb.Config
		Source  blobdb.BackendConfig
		Migrate migrate.MigratorConfig
	}
	wipeCfg struct {
		blobdb.Config
		Yes bool `help:"do not ask for confirmation" default:"false"`
	}
	sweepCfg struct {
		blobdb.Config
		Sweeper sweeper.Config
		Loop    bool `help:"keep sweeping every interval instead of once" default:"false"`
	}

	confDir string
)

func init() {
	defaultConfDir := fpath.ApplicationDir("storj", "blobdb")
	cfgstruct.SetupFlag(zap.L(), rootCmd, &confDir, "config-dir", defaultConfDir, "main directory for blobdb configuration")
	defaults := cfgstruct.DefaultsFlag(rootCmd)

	rootCmd.AddCommand(exportCmd, importCmd, migrateCmd, wipeCmd, sweepCmd)
	process.Bind(exportCmd, &exportCfg, defaults, cfgstruct.ConfDir(confDir))
	process.Bind(importCmd, &importCfg, defaults, cfgstruct.ConfDir(confDir))
	process.Bind(migrateCmd, &migrateCfg, defaults, cfgstruct.ConfDir(confDir))
	process.Bind(wipeCmd, &wipeCfg, defaults, cfgstruct.ConfDir(confDir))
	process.Bind(sweepCmd, &sweepCfg, defaults, cfgstruct.ConfDir(confDir))
}

// withDB opens the blob db described by config for the duration of fn.
func withDB(ctx context.Context, log *zap.Logger, config blobdb.Config, fn func(db *blobdb.DB) error) (err error) {
	db, err := blobdb.Open(ctx, log.Named("blobdb"), config)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, db.Close()) }()

	return fn(db)
}

func main() {
	logger, _, _ := process.NewLogger("blobdb")
	zap.ReplaceGlobals(logger)

	process.Exec(rootCmd)
}
