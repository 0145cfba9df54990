package database

import (
	"fmt"
	"net/url"

	coreconfig "github.com/m3rciful/relaybot/core/config"
)

const (
	// DriverPostgres selects PostgreSQL via lib/pq.
	DriverPostgres = "postgres"
	// DriverSQLite selects the embedded modernc SQLite driver.
	DriverSQLite = "sqlite"
)

// Config holds database connection settings.
type Config struct {
	Driver         string
	Path           string
	Host           string
	Port           string
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxConnections int
}

// FromStorage builds a database Config from the storage section of the bot config.
func FromStorage(s coreconfig.StorageConfig) Config {
	return Config{
		Driver:         s.Driver,
		Path:           s.Path,
		Host:           s.Host,
		Port:           s.Port,
		User:           s.User,
		Password:       s.Password,
		Name:           s.Name,
		SSLMode:        s.SSLMode,
		MaxConnections: s.MaxConnections,
	}
}

// DSN returns the data source name understood by database/sql for the driver.
func (c Config) DSN() (string, error) {
	switch c.Driver {
	case DriverPostgres:
		return fmt.Sprintf(
			"user=%s password=%s host=%s port=%s dbname=%s sslmode=%s",
			c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
		), nil
	case DriverSQLite:
		return c.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", nil
	}
	return "", fmt.Errorf("database: unsupported driver %q", c.Driver)
}

// MigrateURL returns the golang-migrate database URL for the driver.
func (c Config) MigrateURL() (string, error) {
	switch c.Driver {
	case DriverPostgres:
		return fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=%s",
			url.QueryEscape(c.User), url.QueryEscape(c.Password), c.Host, c.Port, c.Name, c.SSLMode,
		), nil
	case DriverSQLite:
		return "sqlite://" + c.Path, nil
	}
	return "", fmt.Errorf("database: unsupported driver %q", c.Driver)
}

// Target describes the database for logs without leaking credentials.
func (c Config) Target() string {
	if c.Driver == DriverSQLite {
		return c.Path
	}
	return c.Host + ":" + c.Port + "/" + c.Name
}
