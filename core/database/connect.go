package database

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/m3rciful/relaybot/core/logger"
)

const (
	connectTimeout = 5 * time.Second
	// readyTimeout bounds how long a freshly started Postgres may refuse
	// connections before startup gives up.
	readyTimeout = 30 * time.Second
	readyPoll    = 2 * time.Second
)

// Connect opens the pool for cfg and pings it. Postgres gets readyTimeout
// to start accepting connections; a SQLite file's directory is created.
func Connect(cfg Config) (*sqlx.DB, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	ctx := context.Background()
	attrs := []slog.Attr{slog.String("driver", cfg.Driver), slog.String("db", cfg.Target())}

	switch cfg.Driver {
	case DriverSQLite:
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("database: create %s: %w", dir, err)
			}
		}
	case DriverPostgres:
		if err := waitReady(ctx, cfg.Driver, dsn, readyTimeout); err != nil {
			logger.Error(ctx, "db", "db.connect", append(attrs, slog.String("status", "fail"), logger.ErrAttr(err))...)
			return nil, err
		}
	}

	start := time.Now()
	db, err := open(ctx, cfg.Driver, dsn)
	took := slog.Duration("duration", logger.RoundMS(time.Since(start)))
	if err != nil {
		logger.Error(ctx, "db", "db.connect", append(attrs, slog.String("status", "fail"), took, logger.ErrAttr(err))...)
		return nil, err
	}

	// SQLite serialises writers; one connection avoids SQLITE_BUSY.
	pool := cfg.MaxConnections
	if cfg.Driver == DriverSQLite {
		pool = 1
	}
	if pool > 0 {
		db.SetMaxOpenConns(pool)
		db.SetMaxIdleConns(pool)
	}
	logger.Info(ctx, "db", "db.connect", append(attrs, slog.String("status", "ok"), slog.Int("pool_open", pool), took)...)
	return db, nil
}

// open connects and pings within connectTimeout.
func open(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("database: connect: %w", err)
	}
	return db, nil
}

// waitReady polls until the server accepts a connection or timeout passes.
func waitReady(ctx context.Context, driver, dsn string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		db, err := open(ctx, driver, dsn)
		if err == nil {
			return db.Close()
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("database: not ready after %s: %w", timeout, err)
		case <-time.After(readyPoll):
		}
	}
}
