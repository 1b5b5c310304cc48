// Package dashboard summarises users, storage and recent activity for
// the admin console.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Atari-Inc/Atari-Files-Transfer/internal/audit"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/db"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/objectstore"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/transfer"
)

// MaxActivity caps RecentActivity.
const MaxActivity = 100

// Users lists remote users. *transfer.Client satisfies it.
type Users interface {
	ListUsers(ctx context.Context) ([]transfer.User, error)
}

// Folders lists top-level folders with stats. *objectstore.Client satisfies it.
type Folders interface {
	ListTopLevelFolders(ctx context.Context) ([]objectstore.Folder, error)
}

type Stats struct {
	TotalUsers    int   `json:"totalUsers"`
	ActiveUsers   int   `json:"activeUsers"`
	TotalAccounts int   `json:"totalAccounts"`
	AdminAccounts int   `json:"adminAccounts"`
	TotalFolders  int   `json:"totalFolders"`
	TotalFiles    int   `json:"totalFiles"`
	TotalSize     int64 `json:"totalSize"`
	RecentLogins  int   `json:"recentLogins"`
}

// Activity is one audit entry as shown on the dashboard.
type Activity struct {
	ID           int64          `json:"id"`
	Username     string         `json:"username"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resourceType"`
	ResourceID   string         `json:"resourceId"`
	Details      map[string]any `json:"details"`
	IPAddress    string         `json:"ipAddress"`
	Timestamp    time.Time      `json:"timestamp"`
}

type Service struct {
	db      *db.DB
	users   Users
	folders Folders
	log     *slog.Logger
	now     func() time.Time
}

func New(store *db.DB, users Users, folders Folders, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: store, users: users, folders: folders, log: log, now: time.Now}
}

// Stats gathers counts from the database, the transfer server and the
// bucket. Remote failures leave their counters at zero.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var st Stats

	counts, err := s.db.CountAccounts(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count accounts: %w", err)
	}
	st.TotalAccounts = counts.Total
	st.AdminAccounts = counts.Admins

	since := s.now().Add(-24 * time.Hour).Unix()
	if st.RecentLogins, err = s.db.CountAuditSince(ctx, audit.ActionLogin, since); err != nil {
		return Stats{}, fmt.Errorf("count logins: %w", err)
	}

	if users, err := s.users.ListUsers(ctx); err != nil {
		s.log.Warn("dashboard: listing users failed", "err", err)
	} else {
		st.TotalUsers = len(users)
		for _, u := range users {
			if u.State == "active" {
				st.ActiveUsers++
			}
		}
	}

	if folders, err := s.folders.ListTopLevelFolders(ctx); err != nil {
		s.log.Warn("dashboard: listing folders failed", "err", err)
	} else {
		st.TotalFolders = len(folders)
		for _, f := range folders {
			st.TotalFiles += f.ObjectCount
			st.TotalSize += f.TotalSize
		}
	}
	return st, nil
}

// RecentActivity returns up to limit audit entries, newest first.
// limit defaults to 10 and is capped at MaxActivity.
func (s *Service) RecentActivity(ctx context.Context, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = 10
	}
	limit = min(limit, MaxActivity)
	entries, err := s.db.RecentAudit(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("recent activity: %w", err)
	}
	out := make([]Activity, 0, len(entries))
	for _, e := range entries {
		details := map[string]any(e.Details)
		if details == nil {
			details = map[string]any{}
		}
		out = append(out, Activity{
			ID:           e.ID,
			Username:     e.Username,
			Action:       e.Action,
			ResourceType: e.ResourceType,
			ResourceID:   e.ResourceID,
			Details:      details,
			IPAddress:    e.IPAddress,
			Timestamp:    time.Unix(e.CreatedAt, 0).UTC(),
		})
	}
	return out, nil
}
