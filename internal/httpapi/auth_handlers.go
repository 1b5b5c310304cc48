package httpapi

import (
	"net/http"

	"github.com/Atari-Inc/Atari-Files-Transfer/internal/accounts"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/audit"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/auth"
)

type userInfo struct {
	Username    string   `json:"username"`
	Role        string   `json:"role"`
	Email       string   `json:"email"`
	Permissions []string `json:"permissions"`
}

func newUserInfo(id auth.Identity) userInfo {
	perms := auth.Permissions(id.Role)
	if perms == nil {
		perms = []string{}
	}
	return userInfo{Username: id.Username, Role: id.Role, Email: id.Email, Permissions: perms}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	id, err := s.opt.Accounts.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tokens, err := s.opt.Tokens.Issue(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Message string   `json:"message"`
		User    userInfo `json:"user"`
		auth.Tokens
	}{"Login successful", newUserInfo(id), tokens})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	access, id, err := s.opt.Tokens.Refresh(bearerToken(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Debug("access token refreshed", "username", id.Username)
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": access,
		"token_type":   "Bearer",
		"expires_in":   int(s.opt.Tokens.AccessTTL().Seconds()),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"user": newUserInfo(identity(r.Context()))})
}

// handleLogout is advisory: tokens are stateless, the client discards them.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	id := identity(r.Context())
	s.opt.Audit.Record(r.Context(), audit.Event{
		Username: id.Username, Action: audit.ActionLogout, ResourceType: "account", ResourceID: id.Username,
	})
	s.log.Info("user logged out", "username", id.Username)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

func (s *Server) handleChangeOwnPassword(w http.ResponseWriter, r *http.Request) {
	var req accounts.PasswordChange
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	id := identity(r.Context())
	if err := s.opt.Accounts.ChangePassword(r.Context(), id, id.Username, req); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password changed successfully"})
}
