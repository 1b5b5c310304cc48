package db

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// Migrate applies the embedded migrations for driver in name order.
// Each file is recorded by name and content hash, so editing an applied
// migration makes it run again.
func Migrate(ctx context.Context, x *sqlx.DB, driver string) error {
	if _, err := x.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  id TEXT PRIMARY KEY,
  applied_at BIGINT NOT NULL
);
`); err != nil {
		return err
	}

	dir := path.Join("migrations", driver)
	entries, err := migrationsFS.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("no migrations for driver %q: %w", driver, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		body, err := migrationsFS.ReadFile(path.Join(dir, name))
		if err != nil {
			return err
		}
		id := migrationID(name, body)

		var seen string
		err = x.QueryRowxContext(ctx, x.Rebind("SELECT id FROM schema_migrations WHERE id = ?"), id).Scan(&seen)
		switch {
		case err == nil:
			continue
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		if err := applyMigration(ctx, x, id, string(body)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

func migrationID(name string, body []byte) string {
	h := sha256.Sum256(body)
	return name + ":" + hex.EncodeToString(h[:])
}

func applyMigration(ctx context.Context, x *sqlx.DB, id, sqlText string) error {
	tx, err := x.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, sqlText); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind("INSERT INTO schema_migrations(id, applied_at) VALUES(?, ?)"), id, nowUnix()); err != nil {
		return err
	}
	return tx.Commit()
}
