// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package blobdb

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"storj.io/blobdb/blobs"
)

// defaults holds the process-wide blob db. The stack lets tests install a
// temporary instance and restore the previous one afterwards.
var defaults struct {
	mu     sync.Mutex
	log    *zap.Logger
	config *Config
	stack  []*DB
}

// SetDefaultConfig sets the configuration used to open the process-wide blob
// db on first use.
func SetDefaultConfig(log *zap.Logger, config Config) {
	defaults.mu.Lock()
	defer defaults.mu.Unlock()

	defaults.log = log
	defaults.config = &config
}

// Default returns the process-wide blob db, opening it when necessary.
func Default(ctx context.Context) (_ *DB, err error) {
	defer mon.Task()(&ctx)(&err)

	defaults.mu.Lock()
	defer defaults.mu.Unlock()

	if n := len(defaults.stack); n > 0 {
		return defaults.stack[n-1], nil
	}
	if defaults.config == nil {
		return nil, blobs.ErrConfig.New("blob db is not configured")
	}

	log := defaults.log
	if log == nil {
		log = zap.L()
	}
	db, err := Open(ctx, log.Named("blobdb"), *defaults.config)
	if err != nil {
		return nil, err
	}
	defaults.stack = append(defaults.stack, db)
	return db, nil
}

// PushForTesting makes db the process-wide blob db until the returned
// function is called. Pops must happen in reverse order of pushes.
func PushForTesting(db *DB) (pop func()) {
	defaults.mu.Lock()
	defer defaults.mu.Unlock()

	defaults.stack = append(defaults.stack, db)

	var once sync.Once
	return func() {
		once.Do(func() {
			defaults.mu.Lock()
			defer defaults.mu.Unlock()

			for i := len(defaults.stack) - 1; i >= 0; i-- {
				if defaults.stack[i] == db {
					defaults.stack = append(defaults.stack[:i], defaults.stack[i+1:]...)
					return
				}
			}
		})
	}
}
