// Package audit records security-relevant actions. Recording is best
// effort: a failed write is logged and never surfaces to the caller.
package audit

import (
	"context"
	"log/slog"

	"github.com/Atari-Inc/Atari-Files-Transfer/internal/db"
)

// Actions.
const (
	ActionLogin                = "login"
	ActionLoginFailed          = "login_failed"
	ActionLogout               = "logout"
	ActionPasswordChange       = "password_change"
	ActionPasswordChangeFailed = "password_change_failed"
	ActionCreateUser           = "create_user"
	ActionUpdateUser           = "update_user"
	ActionDeleteUser           = "delete_user"
	ActionImportSSHKey         = "import_ssh_key"
	ActionDeleteSSHKey         = "delete_ssh_key"
	ActionUploadURL            = "upload_url"
	ActionDownloadURL          = "download_url"
	ActionDeleteObject         = "delete_object"
	ActionMoveObject           = "move_object"
	ActionCreateFolder         = "create_folder"
)

// Store persists entries. *db.DB satisfies it.
type Store interface {
	InsertAudit(ctx context.Context, e *db.AuditEntry) (int64, error)
}

// Event describes one action. AccountID zero means no local account matched.
type Event struct {
	AccountID    int64
	Username     string
	Action       string
	ResourceType string
	ResourceID   string
	Details      map[string]any
}

type Recorder struct {
	store Store
	log   *slog.Logger
}

func New(store Store, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{store: store, log: log}
}

// Record appends ev. Client address and user agent come from ctx.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	if r == nil || r.store == nil {
		return
	}
	c := clientFrom(ctx)
	e := &db.AuditEntry{
		AccountID:    db.NullID(ev.AccountID),
		Username:     ev.Username,
		Action:       ev.Action,
		ResourceType: ev.ResourceType,
		ResourceID:   ev.ResourceID,
		Details:      db.JSONMap(ev.Details),
		IPAddress:    c.IP,
		UserAgent:    c.UserAgent,
	}
	// Detach from request cancellation so a client hang-up does not drop the entry.
	if _, err := r.store.InsertAudit(context.WithoutCancel(ctx), e); err != nil {
		r.log.Warn("audit write failed", "action", ev.Action, "username", ev.Username, "err", err)
	}
}

// Client identifies the caller of a request.
type Client struct {
	IP        string
	UserAgent string
}

type ctxKey struct{}

// WithClient attaches request client details to ctx.
func WithClient(ctx context.Context, c Client) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

func clientFrom(ctx context.Context) Client {
	c, _ := ctx.Value(ctxKey{}).(Client)
	return c
}
