// Package storage opens the relational store tally persists into.
//
// Three gorm drivers are supported: mysql, postgres (through lib/pq) and
// sqlite. Open applies pool limits, routes gorm's logger through the
// structured logger and, when tracing is enabled, installs otelgorm so every
// statement becomes a span.
//
//	db, err := storage.Open(ctx, cfg.Storage, logger)
//	if err != nil {
//		return err
//	}
//	defer storage.Close(db)
//	err = storage.Migrate(db, ledger.Models()...)
//
// NewRedisClient connects the optional Redis instance used for the
// single-runner maintenance lock.
package storage
