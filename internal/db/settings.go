package db

import (
	"context"
	"database/sql"
	"errors"
)

// Settings keys.
const (
	keyInitialized = "initialized"
	keyJWTSecret   = "jwt_secret"
)

// GetConfig fetches a single setting. The boolean reports whether it exists.
func (d *DB) GetConfig(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := d.x.GetContext(ctx, &v, d.x.Rebind("SELECT value FROM app_config WHERE key = ?"), key)
	if err == nil {
		return v, true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	return "", false, err
}

// SetConfig upserts a setting.
func (d *DB) SetConfig(ctx context.Context, key, value string) error {
	if key == "" {
		return errors.New("config key is required")
	}
	_, err := d.x.ExecContext(ctx, d.x.Rebind(`
INSERT INTO app_config(key, value, updated_at) VALUES(?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`),
		key, value, nowUnix())
	return err
}

// IsInitialized reports whether setup has completed.
func (d *DB) IsInitialized(ctx context.Context) (bool, error) {
	v, ok, err := d.GetConfig(ctx, keyInitialized)
	if err != nil {
		return false, err
	}
	return ok && v == "1", nil
}

// SetInitialized marks setup as complete.
func (d *DB) SetInitialized(ctx context.Context) error {
	return d.SetConfig(ctx, keyInitialized, "1")
}

// JWTSecret returns the signing key generated by setup, if any.
func (d *DB) JWTSecret(ctx context.Context) (string, bool, error) {
	return d.GetConfig(ctx, keyJWTSecret)
}

// SetJWTSecret stores the signing key.
func (d *DB) SetJWTSecret(ctx context.Context, secret string) error {
	return d.SetConfig(ctx, keyJWTSecret, secret)
}
