package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/m3rciful/relaybot/core/logger"
)

// RunMigrations applies every pending up migration found in fsys under
// dir/<driver>. An up-to-date schema is not an error.
func RunMigrations(cfg Config, fsys fs.FS, dir string) error {
	ctx := context.Background()
	dbURL, err := cfg.MigrateURL()
	if err != nil {
		return err
	}
	if cfg.Driver == DriverPostgres {
		dsn, _ := cfg.DSN()
		if err := waitReady(ctx, cfg.Driver, dsn, readyTimeout); err != nil {
			return err
		}
	}

	root := path.Join(dir, cfg.Driver)
	files := listMigrationFiles(fsys, root)
	logger.Debug(ctx, "db.migrate", "resolve", append(fileAttrs(files),
		slog.String("path", root),
		slog.String("driver", cfg.Driver),
	)...)

	src, err := iofs.New(fsys, root)
	if err != nil {
		return fmt.Errorf("database: open migrations %s: %w", root, err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
	if err != nil {
		logger.Error(ctx, "db.migrate", "init", slog.String("status", "fail"), logger.ErrAttr(err))
		return fmt.Errorf("database: init migrations: %w", err)
	}
	defer m.Close()

	from, _, _ := m.Version()
	start := time.Now()
	upErr := m.Up()
	took := slog.Duration("duration", logger.RoundMS(time.Since(start)))
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		logger.Error(ctx, "db.migrate", "apply", slog.String("status", "fail"), took, logger.ErrAttr(upErr))
		return fmt.Errorf("database: apply migrations: %w", upErr)
	}
	to, _, _ := m.Version()

	applied := selectApplied(files, uint64(from), uint64(to))
	if len(applied) > 0 {
		logger.Debug(ctx, "db.migrate", "apply", fileAttrs(applied)...)
	}
	logger.Info(ctx, "db.migrate", "summary",
		slog.String("status", "ok"),
		slog.Uint64("from_ver", uint64(from)),
		slog.Uint64("to_ver", uint64(to)),
		slog.Int("files", len(applied)),
		took,
	)
	return nil
}

func fileAttrs(files []string) []slog.Attr {
	attrs := []slog.Attr{slog.Int("files_total", len(files))}
	preview, truncated := logger.SummarizeStrings(files, 6)
	if preview != "" {
		attrs = append(attrs, slog.String("files_preview", preview))
	}
	if truncated {
		attrs = append(attrs, slog.Bool("files_truncated", true))
	}
	return attrs
}

// listMigrationFiles returns the sorted *.up.sql names directly in dir, or
// nil when dir does not exist.
func listMigrationFiles(fsys fs.FS, dir string) []string {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names
}

// selectApplied picks the files whose version lies in (from, to].
func selectApplied(files []string, from, to uint64) []string {
	var out []string
	for _, f := range files {
		prefix, _, _ := strings.Cut(f, "_")
		if v, err := strconv.ParseUint(prefix, 10, 64); err == nil && v > from && v <= to {
			out = append(out, f)
		}
	}
	return out
}
