package adminui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Atari-Inc/Atari-Files-Transfer/internal/accounts"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/adminapi"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/dashboard"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/transfer"
)

type stubAPI struct {
	users     []accounts.View
	passwords map[string]string
	created   []accounts.CreateRequest
}

func (s *stubAPI) Login(username, password string) (adminapi.Me, error) {
	if password != "secret1" {
		return adminapi.Me{}, errors.New("Authentication failed")
	}
	return adminapi.Me{Username: username, Role: "admin"}, nil
}

func (s *stubAPI) ListUsers() ([]accounts.View, error) { return s.users, nil }

func (s *stubAPI) CreateUser(req accounts.CreateRequest) (accounts.View, error) {
	s.created = append(s.created, req)
	return accounts.View{}, nil
}

func (s *stubAPI) DeleteUser(string) error { return nil }

func (s *stubAPI) SetUserPassword(username, password string) error {
	s.passwords[username] = password
	return nil
}

func (s *stubAPI) ImportSSHKey(string, string) (string, error) { return "key-1", nil }

func (s *stubAPI) Stats() (dashboard.Stats, error) {
	return dashboard.Stats{TotalUsers: 3, TotalSize: 2048}, nil
}

func typeText(m tea.Model, s string) tea.Model {
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
	return m
}

func press(m tea.Model, k tea.KeyType) (tea.Model, tea.Cmd) {
	return m.Update(tea.KeyMsg{Type: k})
}

func loggedIn(t *testing.T, api *stubAPI) tea.Model {
	t.Helper()
	var m tea.Model = New(api, "http://127.0.0.1:5050")
	m, _ = m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m = typeText(m, "root")
	m, _ = press(m, tea.KeyTab)
	m = typeText(m, "secret1")
	m, cmd := press(m, tea.KeyEnter)
	require.NotNil(t, cmd)
	m, cmd = m.Update(cmd())
	require.Equal(t, stateUsers, m.(Model).st)
	m, _ = m.Update(cmd())
	return m
}

func TestLoginFlow(t *testing.T) {
	api := &stubAPI{users: []accounts.View{{User: transfer.User{UserName: "alice", UserRole: "user"}}}}

	var m tea.Model = New(api, "http://127.0.0.1:5050/ignored")
	m = typeText(m, "root")
	m, _ = press(m, tea.KeyTab)
	m = typeText(m, "wrong")
	m, cmd := press(m, tea.KeyEnter)
	m, _ = m.Update(cmd())
	assert.Equal(t, stateLogin, m.(Model).st)
	assert.Contains(t, m.View(), "Error: Authentication failed")

	m = loggedIn(t, api)
	view := m.View()
	assert.Contains(t, view, "SFTP admin (http://127.0.0.1:5050) as root")
	assert.Contains(t, view, "alice")
}

func TestSetPasswordForSelectedUser(t *testing.T) {
	api := &stubAPI{
		users:     []accounts.View{{User: transfer.User{UserName: "alice"}}},
		passwords: map[string]string{},
	}
	m := loggedIn(t, api)

	m = typeText(m, "p")
	require.Equal(t, stateSetPassword, m.(Model).st)
	m = typeText(m, "newpass1")
	m, cmd := press(m, tea.KeyEnter)
	require.NotNil(t, cmd)
	m, _ = m.Update(cmd())
	assert.Equal(t, "newpass1", api.passwords["alice"])
	assert.Contains(t, m.View(), "password changed for alice")
}

func TestStatsScreen(t *testing.T) {
	m := loggedIn(t, &stubAPI{})
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	require.NotNil(t, cmd)
	m, _ = m.Update(cmd())
	view := m.View()
	assert.Contains(t, view, "SFTP users:     3")
	assert.Contains(t, view, "2.0 KiB")

	m, _ = press(m, tea.KeyEsc)
	assert.Equal(t, stateUsers, m.(Model).st)
}

func TestSplitFolders(t *testing.T) {
	assert.Equal(t, []string{"a", "b/c"}, splitFolders(" /a/ , ,b/c"))
	assert.Nil(t, splitFolders(""))
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "512 B", humanBytes(512))
	assert.Equal(t, "1.5 MiB", humanBytes(3<<19))
	assert.True(t, strings.HasSuffix(humanBytes(5<<30), "GiB"))
}

func TestRequireInsecureByDefault(t *testing.T) {
	assert.True(t, RequireInsecureByDefault("https://localhost:5050"))
	assert.False(t, RequireInsecureByDefault("https://admin.example.com"))
}
