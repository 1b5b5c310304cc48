package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Atari-Inc/Atari-Files-Transfer/internal/accounts"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/apierr"
)

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.opt.Accounts.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]accounts.View, 0, len(users))
	for _, u := range users {
		views = append(views, u.View())
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": views, "total": len(views)})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.opt.Accounts.Get(r.Context(), pathVar(r, "username"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u.View()})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req accounts.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.opt.Accounts.Create(r.Context(), identity(r.Context()), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "User created successfully", "user": u.View()})
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req accounts.UpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.opt.Accounts.Update(r.Context(), identity(r.Context()), pathVar(r, "username"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "User updated successfully", "user": u.View()})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	username := pathVar(r, "username")
	if err := s.opt.Accounts.Delete(r.Context(), identity(r.Context()), username); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("User '%s' deleted successfully", username)})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req accounts.PasswordChange
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.opt.Accounts.ChangePassword(r.Context(), identity(r.Context()), pathVar(r, "username"), req); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password changed successfully"})
}

type sftpConnection struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
}

type credentials struct {
	Username       string         `json:"username"`
	ServerID       string         `json:"server_id"`
	HomeDirectory  string         `json:"home_directory"`
	Status         string         `json:"status"`
	SSHKeysCount   int            `json:"ssh_keys_count"`
	SFTPConnection sftpConnection `json:"sftp_connection"`
}

func (s *Server) handleUserCredentials(w http.ResponseWriter, r *http.Request) {
	username := pathVar(r, "username")
	u, err := s.opt.Accounts.Get(r.Context(), username)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if u.Remote == nil {
		s.writeError(w, r, &apierr.Error{
			Kind: apierr.KindNotFound, Status: http.StatusNotFound,
			Title: "User not found", Message: fmt.Sprintf("User '%s' does not exist", username),
		})
		return
	}
	serverID := u.Remote.ServerID
	if serverID == "" {
		serverID = s.opt.ServerID
	}
	writeJSON(w, http.StatusOK, credentials{
		Username:       u.Remote.UserName,
		ServerID:       serverID,
		HomeDirectory:  u.Remote.HomeDirectory,
		Status:         u.Remote.State,
		SSHKeysCount:   u.Remote.SSHPublicKeyCount,
		SFTPConnection: sftpConnection{Host: s.opt.SFTPHost, Port: 22, Protocol: "SFTP"},
	})
}

type accountView struct {
	ID             int64          `json:"id"`
	Username       string         `json:"username"`
	Email          string         `json:"email"`
	FirstName      string         `json:"firstName"`
	LastName       string         `json:"lastName"`
	Role           string         `json:"role"`
	Status         string         `json:"status"`
	HomeDirectory  string         `json:"homeDirectory"`
	AllowedFolders []string       `json:"allowedFolders"`
	HasSSHKey      bool           `json:"hasSshKey"`
	IsActive       bool           `json:"isActive"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	LastLogin      *time.Time     `json:"lastLogin"`
	Metadata       map[string]any `json:"metadata"`
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	list, err := s.opt.Accounts.ListAccounts(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]accountView, 0, len(list))
	for _, a := range list {
		v := accountView{
			ID:             a.ID,
			Username:       a.Username,
			Email:          a.Email,
			FirstName:      a.FirstName,
			LastName:       a.LastName,
			Role:           a.Role,
			Status:         a.Status,
			HomeDirectory:  a.HomeDirectory,
			AllowedFolders: []string(a.AllowedFolders),
			HasSSHKey:      a.SSHPublicKey != "",
			IsActive:       a.IsActive,
			CreatedAt:      time.Unix(a.CreatedAt, 0).UTC(),
			UpdatedAt:      time.Unix(a.UpdatedAt, 0).UTC(),
			Metadata:       map[string]any(a.Metadata),
		}
		if v.AllowedFolders == nil {
			v.AllowedFolders = []string{}
		}
		if v.Metadata == nil {
			v.Metadata = map[string]any{}
		}
		if a.LastLoginAt.Valid {
			t := time.Unix(a.LastLoginAt.Int64, 0).UTC()
			v.LastLogin = &t
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": out, "total": len(out)})
}

func (s *Server) handleImportSSHKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SSHPublicKey string `json:"sshPublicKey"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.opt.Accounts.ImportSSHKey(r.Context(), identity(r.Context()), pathVar(r, "username"), req.SSHPublicKey)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"sshPublicKeyId": id})
}

func (s *Server) handleDeleteSSHKey(w http.ResponseWriter, r *http.Request) {
	keyID := pathVar(r, "keyId")
	if err := s.opt.Accounts.DeleteSSHKey(r.Context(), identity(r.Context()), pathVar(r, "username"), keyID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("SSH key '%s' deleted successfully", keyID)})
}
