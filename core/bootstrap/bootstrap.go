// Package bootstrap brings up the infrastructure every entry point needs
// before the store can be opened: the logger and, for SQL drivers, a
// migrated database.
package bootstrap

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/jmoiron/sqlx"

	coreconfig "github.com/m3rciful/relaybot/core/config"
	coredatabase "github.com/m3rciful/relaybot/core/database"
	"github.com/m3rciful/relaybot/core/logger"
)

// Options configure Run. Nil hooks fall back to the real implementations.
type Options struct {
	Config *coreconfig.Config

	// Migrations holds the schema under MigrationsDir/<driver>.
	Migrations    fs.FS
	MigrationsDir string

	LoggerInit func(*coreconfig.Config) error
	Connect    func(coredatabase.Config) (*sqlx.DB, error)
	Migrate    func(cfg coredatabase.Config, fsys fs.FS, dir string) error
}

// Result carries what Run brought up. DB is nil for the memory and file
// drivers.
type Result struct {
	DB *sqlx.DB
}

func (o *Options) defaults() {
	if o.LoggerInit == nil {
		o.LoggerInit = logger.InitLogger
	}
	if o.Connect == nil {
		o.Connect = coredatabase.Connect
	}
	if o.Migrate == nil {
		o.Migrate = coredatabase.RunMigrations
	}
}

// Run initializes the logger, then connects and migrates when the storage
// driver is SQL. A database that fails to migrate is closed again.
func Run(opts Options) (*Result, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("bootstrap: nil config provided")
	}
	opts.defaults()

	if err := opts.LoggerInit(cfg); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}
	if !cfg.Storage.SQL() {
		return &Result{}, nil
	}

	db, err := opts.database(cfg.Storage)
	if err != nil {
		return nil, err
	}
	return &Result{DB: db}, nil
}

func (o *Options) database(storage coreconfig.StorageConfig) (*sqlx.DB, error) {
	if o.Migrations == nil {
		return nil, fmt.Errorf("bootstrap: storage driver %q needs migrations", storage.Driver)
	}
	dbCfg := coredatabase.FromStorage(storage)
	db, err := o.Connect(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
	}
	if err := o.Migrate(dbCfg, o.Migrations, o.MigrationsDir); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
	}
	return db, nil
}
