package database

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"testing/fstest"
	"time"
)

func TestListMigrationFilesFiltersAndSorts(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/sqlite/000002_threads.up.sql":  {Data: []byte("--")},
		"migrations/sqlite/000001_init.up.sql":     {Data: []byte("--")},
		"migrations/sqlite/000001_init.down.sql":   {Data: []byte("--")},
		"migrations/sqlite/nested/000009_x.up.sql": {Data: []byte("--")},
		"migrations/postgres/000001_init.up.sql":   {Data: []byte("--")},
	}
	got := listMigrationFiles(fsys, "migrations/sqlite")
	want := []string{"000001_init.up.sql", "000002_threads.up.sql"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("listMigrationFiles = %v, want %v", got, want)
	}
	if files := listMigrationFiles(fsys, "migrations/missing"); files != nil {
		t.Fatalf("expected nil for missing dir, got %v", files)
	}
}

func TestSelectApplied(t *testing.T) {
	files := []string{"000001_init.up.sql", "000002_threads.up.sql", "000003_idx.up.sql"}
	got := selectApplied(files, 1, 3)
	want := []string{"000002_threads.up.sql", "000003_idx.up.sql"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("selectApplied = %v, want %v", got, want)
	}
	if got := selectApplied(files, 3, 3); got != nil {
		t.Fatalf("expected nothing applied, got %v", got)
	}
}

func TestConfigURLs(t *testing.T) {
	pg := Config{Driver: DriverPostgres, User: "bot", Password: "p@ss", Host: "db", Port: "5432", Name: "relay", SSLMode: "disable"}
	u, err := pg.MigrateURL()
	if err != nil {
		t.Fatalf("MigrateURL: %v", err)
	}
	if u != "postgres://bot:p%40ss@db:5432/relay?sslmode=disable" {
		t.Fatalf("unexpected postgres url %q", u)
	}
	if pg.Target() != "db:5432/relay" {
		t.Fatalf("unexpected target %q", pg.Target())
	}

	lite := Config{Driver: DriverSQLite, Path: "data/relay.db"}
	u, err = lite.MigrateURL()
	if err != nil || u != "sqlite://data/relay.db" {
		t.Fatalf("unexpected sqlite url %q (%v)", u, err)
	}

	if _, err := (Config{Driver: "mysql"}).DSN(); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestConnectSQLiteCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "relay.db")
	db, err := Connect(Config{Driver: DriverSQLite, Path: path})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer db.Close()
	if got := db.Stats().MaxOpenConnections; got != 1 {
		t.Fatalf("MaxOpenConnections = %d, want 1", got)
	}
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Fatalf("directory not created: %v", err)
	}
}

func TestWaitReadyReturnsOnceReachable(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "ready.db")
	if err := waitReady(context.Background(), DriverSQLite, dsn, time.Second); err != nil {
		t.Fatalf("waitReady: %v", err)
	}
}
