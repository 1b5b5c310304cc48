package db

import (
	"context"
	"errors"
)

// InsertAudit appends an audit entry. e.CreatedAt defaults to now.
func (d *DB) InsertAudit(ctx context.Context, e *AuditEntry) (int64, error) {
	if e.Action == "" {
		return 0, errors.New("audit action is required")
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = nowUnix()
	}
	var id int64
	err := d.x.QueryRowxContext(ctx, d.x.Rebind(`
INSERT INTO audit_logs(account_id, username, action, resource_type, resource_id, details, ip_address, user_agent, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id`),
		e.AccountID, e.Username, e.Action, e.ResourceType, e.ResourceID, e.Details, e.IPAddress, e.UserAgent, e.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	e.ID = id
	return id, nil
}

// RecentAudit returns up to limit entries, newest first.
func (d *DB) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []AuditEntry
	err := d.x.SelectContext(ctx, &out, d.x.Rebind(`
SELECT id, account_id, username, action, resource_type, resource_id, details, ip_address, user_agent, created_at
FROM audit_logs ORDER BY created_at DESC, id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CountAuditSince counts entries with action created at or after since (unix seconds).
func (d *DB) CountAuditSince(ctx context.Context, action string, since int64) (int, error) {
	var n int
	err := d.x.GetContext(ctx, &n, d.x.Rebind("SELECT COUNT(*) FROM audit_logs WHERE action = ? AND created_at >= ?"), action, since)
	return n, err
}
