package db

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// Account statuses.
const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusSuspended = "suspended"
)

// Account is a local operator account.
type Account struct {
	ID             int64         `db:"id"`
	Username       string        `db:"username"`
	PasswordHash   string        `db:"password_hash"`
	Email          string        `db:"email"`
	FirstName      string        `db:"first_name"`
	LastName       string        `db:"last_name"`
	Role           string        `db:"role"`
	Status         string        `db:"status"`
	HomeDirectory  string        `db:"home_directory"`
	AllowedFolders StringList    `db:"allowed_folders"`
	SSHPublicKey   string        `db:"ssh_public_key"`
	IsActive       bool          `db:"is_active"`
	CreatedAt      int64         `db:"created_at"`
	UpdatedAt      int64         `db:"updated_at"`
	LastLoginAt    sql.NullInt64 `db:"last_login_at"`
	Metadata       JSONMap       `db:"metadata"`
}

// CanLogin reports whether the account may authenticate.
func (a *Account) CanLogin() bool {
	return a.IsActive && a.Status == StatusActive
}

// AuditEntry is one append-only audit record.
type AuditEntry struct {
	ID           int64         `db:"id"`
	AccountID    sql.NullInt64 `db:"account_id"`
	Username     string        `db:"username"`
	Action       string        `db:"action"`
	ResourceType string        `db:"resource_type"`
	ResourceID   string        `db:"resource_id"`
	Details      JSONMap       `db:"details"`
	IPAddress    string        `db:"ip_address"`
	UserAgent    string        `db:"user_agent"`
	CreatedAt    int64         `db:"created_at"`
}

// StringList is an ordered list stored as a JSON array.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	return string(b), err
}

func (l *StringList) Scan(src any) error {
	b, err := scanBytes(src)
	if err != nil || b == nil {
		*l = nil
		return err
	}
	var out []string
	if err := json.Unmarshal(b, &out); err != nil {
		return fmt.Errorf("scan string list: %w", err)
	}
	*l = out
	return nil
}

// JSONMap is a free-form object stored as JSON text.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]any(m))
	return string(b), err
}

func (m *JSONMap) Scan(src any) error {
	b, err := scanBytes(src)
	if err != nil || b == nil {
		*m = nil
		return err
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return fmt.Errorf("scan json map: %w", err)
	}
	*m = out
	return nil
}

func scanBytes(src any) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, errors.New("unsupported column type for JSON value")
	}
}

func nullInt(v int64) sql.NullInt64 { return sql.NullInt64{Int64: v, Valid: true} }

// NullID wraps an account ID for AuditEntry.AccountID. Zero means no account.
func NullID(id int64) sql.NullInt64 {
	if id == 0 {
		return sql.NullInt64{}
	}
	return nullInt(id)
}
