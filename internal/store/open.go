package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	coreconfig "github.com/m3rciful/relaybot/core/config"
	coredatabase "github.com/m3rciful/relaybot/core/database"
	"github.com/m3rciful/relaybot/core/logger"
)

// ErrNoDatabase is returned by Open when an SQL driver is configured without
// a connection.
var ErrNoDatabase = errors.New("store: sql driver requires a database connection")

// Open builds the backend selected by cfg.Driver. db is used by the SQL
// drivers and must already be migrated; it is ignored otherwise.
func Open(ctx context.Context, cfg coreconfig.StorageConfig, db *sqlx.DB, obs Observer) (*Store, error) {
	var (
		backend Backend
		err     error
	)
	switch {
	case cfg.Driver == coreconfig.StorageMemory:
		backend = NewMemory()
	case cfg.Driver == coreconfig.StorageFile:
		backend, err = NewFile(cfg.Path)
	case cfg.SQL():
		if db == nil {
			err = ErrNoDatabase
			break
		}
		backend = NewSQL(db)
	default:
		err = fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
	if err != nil {
		logger.Error(ctx, "store", "store.open",
			slog.String("status", "fail"),
			slog.String("driver", cfg.Driver),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("store: open: %w", err)
	}
	logger.Info(ctx, "store", "store.open",
		slog.String("status", "ok"),
		slog.String("driver", cfg.Driver),
	)
	return New(backend, obs), nil
}

// Migrate applies the embedded schema for SQL drivers; other drivers need none.
func Migrate(cfg coreconfig.StorageConfig) error {
	if !cfg.SQL() {
		return nil
	}
	return coredatabase.RunMigrations(coredatabase.FromStorage(cfg), Migrations, MigrationsDir)
}
