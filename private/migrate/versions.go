// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package migrate applies numbered schema steps to metadata shards and
// records every applied step in a version table on the shard it ran on.
package migrate

import (
	"context"
	"database/sql"
	"regexp"
	"strconv"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/blobdb/private/dbutil"
	"storj.io/blobdb/private/dbutil/txutil"
	"storj.io/blobdb/private/tagsql"
)

var (
	mon = monkit.Package()

	// Error is the default migrate errs class.
	Error = errs.Class("migrate")
	// ErrOutdated is returned when a shard has not applied every step of a migration.
	ErrOutdated = errs.Class("schema outdated")
)

var tableName = regexp.MustCompile(`^[a-z_]+$`)

// Migration is an ordered list of schema steps tracked in Table.
type Migration struct {
	Table string
	Steps []*Step
}

// Step is a single schema change applied to DB. Versions start at 0 and
// must not decrease.
type Step struct {
	DB          tagsql.DB
	Description string
	Version     int
	Action      Action
}

// Action changes the schema inside the step transaction.
type Action interface {
	Run(ctx context.Context, log *zap.Logger, db tagsql.DB, tx tagsql.Tx) error
}

// Run applies every step that its database has not recorded yet. Each step
// commits together with its version row.
func (migration *Migration) Run(ctx context.Context, log *zap.Logger) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := migration.check(); err != nil {
		return err
	}

	applied := 0
	current := map[tagsql.DB]int{}
	for _, step := range migration.Steps {
		version, ok := current[step.DB]
		if !ok {
			if err := migration.ensureTable(ctx, step.DB); err != nil {
				return err
			}
			if version, err = migration.version(ctx, step.DB); err != nil {
				return err
			}
			current[step.DB] = version
		}
		if step.Version <= version {
			continue
		}

		stepLog := log.Named(strconv.Itoa(step.Version))
		err := txutil.WithTx(ctx, step.DB, nil, func(ctx context.Context, tx tagsql.Tx) error {
			if err := step.Action.Run(ctx, stepLog, step.DB, tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO `+migration.Table+` (version, applied_at) VALUES (?, ?)`,
				step.Version, time.Now().UTC().Format(time.RFC3339))
			return err
		})
		if err != nil {
			return Error.New("step %d (%s): %w", step.Version, step.Description, err)
		}

		stepLog.Info(step.Description)
		current[step.DB] = step.Version
		applied++
	}

	log.Debug("schema migrated", zap.String("table", migration.Table), zap.Int("applied", applied))
	return nil
}

// ValidateVersions fails with ErrOutdated when any step has not been
// applied to its database. It never changes the schema.
func (migration *Migration) ValidateVersions(ctx context.Context, log *zap.Logger) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := migration.check(); err != nil {
		return err
	}

	current := map[tagsql.DB]int{}
	for _, step := range migration.Steps {
		version, ok := current[step.DB]
		if !ok {
			if version, err = migration.version(ctx, step.DB); err != nil {
				return err
			}
			current[step.DB] = version
		}
		if step.Version > version {
			return ErrOutdated.New("step %d (%s) is not applied, database is at %d", step.Version, step.Description, version)
		}
	}

	log.Debug("schema is current", zap.String("table", migration.Table), zap.Int("steps", len(migration.Steps)))
	return nil
}

func (migration *Migration) check() error {
	if !tableName.MatchString(migration.Table) {
		return Error.New("invalid version table name %q", migration.Table)
	}
	for i, step := range migration.Steps {
		if step.DB == nil {
			return Error.New("step %d has no database", step.Version)
		}
		if i > 0 && step.Version < migration.Steps[i-1].Version {
			return Error.New("step %d is listed after step %d", step.Version, migration.Steps[i-1].Version)
		}
	}
	return nil
}

func (migration *Migration) ensureTable(ctx context.Context, db tagsql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+migration.Table+` (version INTEGER NOT NULL, applied_at TEXT NOT NULL)`)
	return Error.Wrap(err)
}

// version returns the highest recorded version of db, or -1 when nothing
// was applied or the version table is missing.
func (migration *Migration) version(ctx context.Context, db tagsql.DB) (int, error) {
	var exists bool
	switch db.Implementation() {
	case dbutil.SQLite3:
		err := db.QueryRowContext(ctx,
			`SELECT COUNT(*) > 0 FROM sqlite_master WHERE type = 'table' AND name = ?`, migration.Table).Scan(&exists)
		if err != nil {
			return -1, Error.Wrap(err)
		}
	default:
		err := db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?)`, migration.Table).Scan(&exists)
		if err != nil {
			return -1, Error.Wrap(err)
		}
	}
	if !exists {
		return -1, nil
	}

	var version sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM `+migration.Table).Scan(&version); err != nil {
		return -1, Error.Wrap(err)
	}
	if !version.Valid {
		return -1, nil
	}
	return int(version.Int64), nil
}

// SQL is a list of statements run in order.
type SQL []string

// Run executes the statements.
func (statements SQL) Run(ctx context.Context, log *zap.Logger, db tagsql.DB, tx tagsql.Tx) error {
	for _, query := range statements {
		if _, err := tx.ExecContext(ctx, query); err != nil {
			return errs.Wrap(err)
		}
	}
	return nil
}

// Func is an arbitrary schema change.
type Func func(ctx context.Context, log *zap.Logger, db tagsql.DB, tx tagsql.Tx) error

// Run calls fn.
func (fn Func) Run(ctx context.Context, log *zap.Logger, db tagsql.DB, tx tagsql.Tx) error {
	return fn(ctx, log, db, tx)
}
