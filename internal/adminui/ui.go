// Package adminui implements the interactive admin TUI using Bubble Tea.
package adminui

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Atari-Inc/Atari-Files-Transfer/internal/accounts"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/adminapi"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/dashboard"
)

// API is the subset of the admin client the UI drives.
type API interface {
	Login(username, password string) (adminapi.Me, error)
	ListUsers() ([]accounts.View, error)
	CreateUser(req accounts.CreateRequest) (accounts.View, error)
	DeleteUser(username string) error
	SetUserPassword(username, password string) error
	ImportSSHKey(username, publicKey string) (string, error)
	Stats() (dashboard.Stats, error)
}

type state int

const (
	stateLogin state = iota
	stateUsers
	stateNewUser
	stateSetPassword
	stateAddKey
	stateStats
)

var roles = []string{"user", "readonly", "admin"}

// Model holds all UI state for the admin TUI.
type Model struct {
	client API
	addr   string

	st   state
	err  string
	info string
	me   adminapi.Me

	loginUser textinput.Model
	loginPass textinput.Model

	users   []accounts.View
	userLst list.Model

	newUsername textinput.Model
	newPassword textinput.Model
	newEmail    textinput.Model
	newFolders  textinput.Model
	newRole     int

	setPw  textinput.Model
	addKey textinput.Model

	stats dashboard.Stats
}

func newInput(prompt, placeholder string, secret bool) textinput.Model {
	in := textinput.New()
	in.Prompt = prompt
	in.Placeholder = placeholder
	if secret {
		in.EchoMode = textinput.EchoPassword
	}
	return in
}

// New constructs a UI model and initializes inputs and lists.
func New(client API, addr string) Model {
	lst := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	lst.Title = "SFTP users"

	m := Model{
		client:      client,
		addr:        redactAddr(addr),
		st:          stateLogin,
		loginUser:   newInput("Username: ", "admin", false),
		loginPass:   newInput("Password: ", "password", true),
		userLst:     lst,
		newUsername: newInput("Username: ", "username", false),
		newPassword: newInput("Password: ", "password", true),
		newEmail:    newInput("Email: ", "optional", false),
		newFolders:  newInput("Folders: ", "comma separated, optional", false),
		setPw:       newInput("New password: ", "new password", true),
		addKey:      newInput("Public key: ", "ssh-ed25519 AAAA...", false),
	}
	m.loginUser.Focus()
	return m
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

type errMsg string
type loggedInMsg adminapi.Me
type usersMsg []accounts.View
type statsMsg dashboard.Stats
type infoMsg string

// Update routes messages based on UI state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.userLst.SetSize(msg.Width-4, msg.Height-8)
		return m, nil
	case errMsg:
		m.err = string(msg)
		m.info = ""
		return m, nil
	case infoMsg:
		m.info = string(msg)
		m.err = ""
		return m, nil
	case loggedInMsg:
		m.me = adminapi.Me(msg)
		m.st = stateUsers
		m.err = ""
		return m, refreshUsersCmd(m.client)
	case usersMsg:
		m.users = []accounts.View(msg)
		items := make([]list.Item, 0, len(m.users))
		for _, u := range m.users {
			items = append(items, userItem(u))
		}
		m.userLst.SetItems(items)
		return m, nil
	case statsMsg:
		m.stats = dashboard.Stats(msg)
		m.st = stateStats
		return m, nil
	}

	switch m.st {
	case stateLogin:
		return m.updateLogin(msg)
	case stateUsers:
		return m.updateUsers(msg)
	case stateNewUser:
		return m.updateNewUser(msg)
	case stateSetPassword:
		u, _ := m.selectedUser()
		cmd := m.updateSingle(msg, &m.setPw, func(v string) tea.Cmd {
			return setPasswordCmd(m.client, u.UserName, v)
		})
		return m, cmd
	case stateAddKey:
		u, _ := m.selectedUser()
		cmd := m.updateSingle(msg, &m.addKey, func(v string) tea.Cmd {
			return addKeyCmd(m.client, u.UserName, v)
		})
		return m, cmd
	case stateStats:
		if k, ok := msg.(tea.KeyMsg); ok {
			switch k.String() {
			case "esc", "q":
				m.st = stateUsers
			case "ctrl+c":
				return m, tea.Quit
			}
		}
		return m, nil
	}
	return m, nil
}

func (m Model) updateLogin(msg tea.Msg) (tea.Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "tab":
			if m.loginUser.Focused() {
				m.loginUser.Blur()
				m.loginPass.Focus()
			} else {
				m.loginPass.Blur()
				m.loginUser.Focus()
			}
			return m, nil
		case "enter":
			user, pw := strings.TrimSpace(m.loginUser.Value()), m.loginPass.Value()
			m.loginPass.SetValue("")
			return m, loginCmd(m.client, user, pw)
		}
	}
	var cmd tea.Cmd
	if m.loginUser.Focused() {
		m.loginUser, cmd = m.loginUser.Update(msg)
	} else {
		m.loginPass, cmd = m.loginPass.Update(msg)
	}
	return m, cmd
}

func (m Model) updateUsers(msg tea.Msg) (tea.Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok && !m.userLst.SettingFilter() {
		switch k.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, refreshUsersCmd(m.client)
		case "s":
			return m, statsCmd(m.client)
		case "n":
			m.st = stateNewUser
			m.err, m.info = "", ""
			for _, in := range []*textinput.Model{&m.newUsername, &m.newPassword, &m.newEmail, &m.newFolders} {
				in.SetValue("")
				in.Blur()
			}
			m.newRole = 0
			m.newUsername.Focus()
			return m, nil
		case "d":
			u, ok := m.selectedUser()
			if !ok {
				return m, nil
			}
			return m, deleteUserCmd(m.client, u.UserName)
		case "p", "k":
			if _, ok := m.selectedUser(); !ok {
				return m, nil
			}
			m.err, m.info = "", ""
			if k.String() == "p" {
				m.st = stateSetPassword
				m.setPw.SetValue("")
				m.setPw.Focus()
			} else {
				m.st = stateAddKey
				m.addKey.SetValue("")
				m.addKey.Focus()
			}
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.userLst, cmd = m.userLst.Update(msg)
	return m, cmd
}

// updateNewUser handles input while creating a user. Tab cycles the fields.
func (m Model) updateNewUser(msg tea.Msg) (tea.Model, tea.Cmd) {
	fields := []*textinput.Model{&m.newUsername, &m.newPassword, &m.newEmail, &m.newFolders}
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "esc":
			m.st = stateUsers
			return m, nil
		case "ctrl+r":
			m.newRole = (m.newRole + 1) % len(roles)
			return m, nil
		case "tab":
			for i, f := range fields {
				if f.Focused() {
					f.Blur()
					fields[(i+1)%len(fields)].Focus()
					break
				}
			}
			return m, nil
		case "enter":
			req := accounts.CreateRequest{
				Username:       strings.TrimSpace(m.newUsername.Value()),
				Password:       m.newPassword.Value(),
				Email:          strings.TrimSpace(m.newEmail.Value()),
				Role:           roles[m.newRole],
				AllowedFolders: splitFolders(m.newFolders.Value()),
			}
			m.st = stateUsers
			return m, createUserCmd(m.client, req)
		}
	}
	var cmd tea.Cmd
	for _, f := range fields {
		if f.Focused() {
			*f, cmd = f.Update(msg)
			break
		}
	}
	return m, cmd
}

// updateSingle drives a one-field form that submits on enter.
func (m *Model) updateSingle(msg tea.Msg, in *textinput.Model, submit func(string) tea.Cmd) tea.Cmd {
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "esc":
			m.st = stateUsers
			return nil
		case "enter":
			v := strings.TrimSpace(in.Value())
			in.SetValue("")
			m.st = stateUsers
			return submit(v)
		}
	}
	var cmd tea.Cmd
	*in, cmd = in.Update(msg)
	return cmd
}

// View renders the current screen as a string.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString("SFTP admin")
	if m.addr != "" {
		b.WriteString(" (" + m.addr + ")")
	}
	if m.me.Username != "" {
		b.WriteString(" as " + m.me.Username)
	}
	b.WriteString("\n\n")

	switch m.st {
	case stateLogin:
		b.WriteString("Login\n")
		b.WriteString(m.loginUser.View() + "\n")
		b.WriteString(m.loginPass.View() + "\n\n")
		b.WriteString("tab=next field  enter=login  esc=quit\n")
	case stateUsers:
		b.WriteString(m.userLst.View())
		b.WriteString("\nKeys: n=new d=delete p=set-pass k=add-key s=stats r=refresh q=quit\n")
	case stateNewUser:
		b.WriteString("Create user\n\n")
		b.WriteString(m.newUsername.View() + "\n")
		b.WriteString(m.newPassword.View() + "\n")
		b.WriteString(m.newEmail.View() + "\n")
		b.WriteString(m.newFolders.View() + "\n")
		b.WriteString(fmt.Sprintf("Role: %s (cycle with ctrl+r)\n\n", roles[m.newRole]))
		b.WriteString("tab=next field  enter=save  esc=back\n")
	case stateSetPassword, stateAddKey:
		if u, ok := m.selectedUser(); ok {
			b.WriteString("User: " + u.UserName + "\n\n")
		}
		if m.st == stateSetPassword {
			b.WriteString(m.setPw.View())
		} else {
			b.WriteString(m.addKey.View())
		}
		b.WriteString("\n\nenter=save  esc=back\n")
	case stateStats:
		s := m.stats
		fmt.Fprintf(&b, "SFTP users:     %d (%d online)\n", s.TotalUsers, s.ActiveUsers)
		fmt.Fprintf(&b, "Local accounts: %d (%d admins)\n", s.TotalAccounts, s.AdminAccounts)
		fmt.Fprintf(&b, "Folders:        %d\n", s.TotalFolders)
		fmt.Fprintf(&b, "Files:          %d (%s)\n", s.TotalFiles, humanBytes(s.TotalSize))
		fmt.Fprintf(&b, "Logins (24h):   %d\n\n", s.RecentLogins)
		b.WriteString("esc=back\n")
	}

	if m.info != "" {
		b.WriteString("\n" + m.info + "\n")
	}
	if m.err != "" {
		b.WriteString("\nError: " + m.err + "\n")
	}
	return b.String()
}

type userItem accounts.View

func (u userItem) Title() string { return u.UserName }
func (u userItem) Description() string {
	return fmt.Sprintf("role=%s state=%s home=%s keys=%d", u.UserRole, u.State, u.HomeDirectory, u.SSHPublicKeyCount)
}
func (u userItem) FilterValue() string { return u.UserName }

func (m *Model) selectedUser() (accounts.View, bool) {
	if it, ok := m.userLst.SelectedItem().(userItem); ok {
		return accounts.View(it), true
	}
	return accounts.View{}, false
}

func loginCmd(c API, username, password string) tea.Cmd {
	return func() tea.Msg {
		me, err := c.Login(username, password)
		if err != nil {
			return errMsg(err.Error())
		}
		return loggedInMsg(me)
	}
}

func refreshUsersCmd(c API) tea.Cmd {
	return func() tea.Msg {
		users, err := c.ListUsers()
		if err != nil {
			return errMsg(err.Error())
		}
		return usersMsg(users)
	}
}

func statsCmd(c API) tea.Cmd {
	return func() tea.Msg {
		s, err := c.Stats()
		if err != nil {
			return errMsg(err.Error())
		}
		return statsMsg(s)
	}
}

func createUserCmd(c API, req accounts.CreateRequest) tea.Cmd {
	return tea.Sequence(func() tea.Msg {
		if _, err := c.CreateUser(req); err != nil {
			return errMsg(err.Error())
		}
		return infoMsg("created " + req.Username)
	}, refreshUsersCmd(c))
}

func deleteUserCmd(c API, username string) tea.Cmd {
	return tea.Sequence(func() tea.Msg {
		if err := c.DeleteUser(username); err != nil {
			return errMsg(err.Error())
		}
		return infoMsg("deleted " + username)
	}, refreshUsersCmd(c))
}

func setPasswordCmd(c API, username, password string) tea.Cmd {
	return func() tea.Msg {
		if err := c.SetUserPassword(username, password); err != nil {
			return errMsg(err.Error())
		}
		return infoMsg("password changed for " + username)
	}
}

func addKeyCmd(c API, username, key string) tea.Cmd {
	return tea.Sequence(func() tea.Msg {
		id, err := c.ImportSSHKey(username, key)
		if err != nil {
			return errMsg(err.Error())
		}
		return infoMsg("imported key " + id)
	}, refreshUsersCmd(c))
}

func splitFolders(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.Trim(strings.TrimSpace(f), "/"); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func redactAddr(addr string) string {
	u, err := url.Parse(addr)
	if err != nil {
		return ""
	}
	if u.Scheme == "" {
		u.Scheme = "http"
	}
	return u.Scheme + "://" + u.Host
}

// RequireInsecureByDefault reports whether addr is a loopback host, where
// self-signed certificates are expected.
func RequireInsecureByDefault(addr string) bool {
	u, err := url.Parse(addr)
	if err != nil {
		return true
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
