package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const accountColumns = `id, username, password_hash, email, first_name, last_name, role, status,
home_directory, allowed_folders, ssh_public_key, is_active, created_at, updated_at, last_login_at, metadata`

// CreateAccount inserts a and returns its ID. a.CreatedAt and a.UpdatedAt are set.
// A taken username yields ErrDuplicate.
func (d *DB) CreateAccount(ctx context.Context, a *Account) (int64, error) {
	if a.Username == "" || a.PasswordHash == "" {
		return 0, errors.New("username and password hash are required")
	}
	now := nowUnix()
	a.CreatedAt, a.UpdatedAt = now, now

	q := d.x.Rebind(`
INSERT INTO accounts(username, password_hash, email, first_name, last_name, role, status,
  home_directory, allowed_folders, ssh_public_key, is_active, created_at, updated_at, metadata)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id`)
	var id int64
	err := d.x.QueryRowxContext(ctx, q,
		a.Username, a.PasswordHash, a.Email, a.FirstName, a.LastName, a.Role, a.Status,
		a.HomeDirectory, a.AllowedFolders, a.SSHPublicKey, a.IsActive, a.CreatedAt, a.UpdatedAt, a.Metadata,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("account %q: %w", a.Username, ErrDuplicate)
		}
		return 0, err
	}
	a.ID = id
	return id, nil
}

// GetAccountByUsername looks up an account by exact, case-sensitive username.
// The boolean reports whether it exists.
func (d *DB) GetAccountByUsername(ctx context.Context, username string) (*Account, bool, error) {
	return d.getAccount(ctx, "username = ?", username)
}

// GetAccountByID looks up an account by ID.
func (d *DB) GetAccountByID(ctx context.Context, id int64) (*Account, bool, error) {
	return d.getAccount(ctx, "id = ?", id)
}

func (d *DB) getAccount(ctx context.Context, where string, arg any) (*Account, bool, error) {
	var a Account
	err := d.x.GetContext(ctx, &a, d.x.Rebind("SELECT "+accountColumns+" FROM accounts WHERE "+where), arg)
	if err == nil {
		return &a, true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	return nil, false, err
}

// ListAccounts returns every account ordered by username.
func (d *DB) ListAccounts(ctx context.Context) ([]Account, error) {
	var out []Account
	if err := d.x.SelectContext(ctx, &out, "SELECT "+accountColumns+" FROM accounts ORDER BY username"); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateAccount writes the mutable fields of a. Username and password hash are not touched.
func (d *DB) UpdateAccount(ctx context.Context, a *Account) error {
	a.UpdatedAt = nowUnix()
	res, err := d.x.ExecContext(ctx, d.x.Rebind(`
UPDATE accounts SET email = ?, first_name = ?, last_name = ?, role = ?, status = ?,
  home_directory = ?, allowed_folders = ?, ssh_public_key = ?, is_active = ?, metadata = ?, updated_at = ?
WHERE id = ?`),
		a.Email, a.FirstName, a.LastName, a.Role, a.Status,
		a.HomeDirectory, a.AllowedFolders, a.SSHPublicKey, a.IsActive, a.Metadata, a.UpdatedAt,
		a.ID)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// SetPasswordHash replaces the stored hash for an account.
func (d *DB) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	if hash == "" {
		return errors.New("password hash is required")
	}
	res, err := d.x.ExecContext(ctx, d.x.Rebind("UPDATE accounts SET password_hash = ?, updated_at = ? WHERE id = ?"), hash, nowUnix(), id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// TouchLastLogin records a successful login.
func (d *DB) TouchLastLogin(ctx context.Context, id int64) error {
	_, err := d.x.ExecContext(ctx, d.x.Rebind("UPDATE accounts SET last_login_at = ? WHERE id = ?"), nowUnix(), id)
	return err
}

// DeleteAccount removes the account row. Audit entries keep their
// username but lose the account reference. The boolean reports whether a
// row was deleted.
func (d *DB) DeleteAccount(ctx context.Context, id int64) (bool, error) {
	var deleted bool
	err := d.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind("UPDATE audit_logs SET account_id = NULL WHERE account_id = ?"), id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM accounts WHERE id = ?"), id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		deleted = n > 0
		return err
	})
	return deleted, err
}

// AccountCounts summarises the accounts table for the dashboard.
type AccountCounts struct {
	Total  int `db:"total"`
	Admins int `db:"admins"`
	Active int `db:"active"`
}

// CountAccounts returns totals by role and state.
func (d *DB) CountAccounts(ctx context.Context) (AccountCounts, error) {
	var c AccountCounts
	err := d.x.GetContext(ctx, &c, d.x.Rebind(`
SELECT COUNT(*) AS total,
  COALESCE(SUM(CASE WHEN role = ? THEN 1 ELSE 0 END), 0) AS admins,
  COALESCE(SUM(CASE WHEN is_active AND status = ? THEN 1 ELSE 0 END), 0) AS active
FROM accounts`), "admin", StatusActive)
	return c, err
}

// ErrNoRows is returned by updates that matched nothing.
var ErrNoRows = errors.New("no matching row")

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoRows
	}
	return nil
}
