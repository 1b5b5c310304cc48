// Package db is the credential store: accounts, audit entries and
// key/value settings, on sqlite or postgres.
package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type DB struct {
	x      *sqlx.DB
	driver string
}

// Open connects to the database and applies pending migrations.
// For sqlite, dsn is a file path; for postgres, a connection URL.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("database url is required")
	}

	var (
		x   *sqlx.DB
		err error
	)
	switch driver {
	case DriverSQLite, "":
		driver = DriverSQLite
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("create database dir: %w", err)
			}
		}
		x, err = sqlx.Open("sqlite", fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", dsn))
		if err != nil {
			return nil, err
		}
		x.SetMaxOpenConns(1)
		x.SetMaxIdleConns(1)
		x.SetConnMaxLifetime(0)
	case DriverPostgres:
		x, err = sqlx.Open("pgx", dsn)
		if err != nil {
			return nil, err
		}
		x.SetMaxOpenConns(25)
		x.SetMaxIdleConns(5)
		x.SetConnMaxLifetime(5 * time.Minute)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	d := &DB{x: x, driver: driver}
	if err := d.Ping(ctx); err != nil {
		_ = x.Close()
		return nil, err
	}
	if driver == DriverSQLite {
		if _, err := x.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			_ = x.Close()
			return nil, err
		}
	}
	if err := Migrate(ctx, x, driver); err != nil {
		_ = x.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) Close() error {
	return d.x.Close()
}

// Driver returns the driver name the database was opened with.
func (d *DB) Driver() string { return d.driver }

// Ping checks connectivity with a short timeout.
func (d *DB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return d.x.PingContext(ctx)
}

// inTx runs fn in a transaction, rolling back when fn fails.
func (d *DB) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.x.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func nowUnix() int64 { return time.Now().Unix() }
