package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Atari-Inc/Atari-Files-Transfer/internal/db"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/logging"
)

type memStore struct {
	entries []*db.AuditEntry
	err     error
}

func (m *memStore) InsertAudit(_ context.Context, e *db.AuditEntry) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.entries = append(m.entries, e)
	return int64(len(m.entries)), nil
}

func TestRecordCarriesClient(t *testing.T) {
	s := &memStore{}
	r := New(s, logging.Discard())

	ctx := WithClient(context.Background(), Client{IP: "10.0.0.1", UserAgent: "curl/8"})
	r.Record(ctx, Event{Username: "ghost", Action: ActionLoginFailed, Details: map[string]any{"reason": "invalid_credentials"}})

	require.Len(t, s.entries, 1)
	e := s.entries[0]
	assert.False(t, e.AccountID.Valid)
	assert.Equal(t, "10.0.0.1", e.IPAddress)
	assert.Equal(t, "curl/8", e.UserAgent)
	assert.Equal(t, "invalid_credentials", e.Details["reason"])
}

func TestRecordSwallowsErrors(t *testing.T) {
	r := New(&memStore{err: errors.New("disk full")}, logging.Discard())
	assert.NotPanics(t, func() {
		r.Record(context.Background(), Event{Username: "alice", Action: ActionLogin, AccountID: 7})
	})

	var nilRec *Recorder
	assert.NotPanics(t, func() { nilRec.Record(context.Background(), Event{Action: ActionLogin}) })
}

func TestRecordPersists(t *testing.T) {
	ctx := context.Background()
	d, err := db.Open(ctx, db.DriverSQLite, t.TempDir()+"/audit.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	New(d, logging.Discard()).Record(ctx, Event{Username: "root", Action: ActionCreateFolder, ResourceType: "folder", ResourceID: "reports/"})
	got, err := d.RecentAudit(ctx, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "reports/", got[0].ResourceID)
}
