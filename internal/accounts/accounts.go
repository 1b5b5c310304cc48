// Package accounts manages operator accounts: the local credential store
// and the matching Transfer Family user, kept in step.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Atari-Inc/Atari-Files-Transfer/internal/apierr"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/audit"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/auth"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/db"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/transfer"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/validate"
)

// Directory is the remote user directory. *transfer.Client satisfies it.
type Directory interface {
	ListUsers(ctx context.Context) ([]transfer.User, error)
	GetUser(ctx context.Context, username string) (*transfer.User, bool, error)
	CreateUser(ctx context.Context, req transfer.CreateUserRequest) (*transfer.User, error)
	UpdateUser(ctx context.Context, username string, req transfer.UpdateUserRequest) (*transfer.User, error)
	DeleteUser(ctx context.Context, username string) error
	ImportSSHKey(ctx context.Context, username, body string) (string, error)
	DeleteSSHKey(ctx context.Context, username, keyID string) error
}

type Options struct {
	// Bucket names the default home directory root.
	Bucket string
	Argon2 auth.Argon2Params
	Audit  *audit.Recorder
	Logger *slog.Logger
}

type Service struct {
	db     *db.DB
	dir    Directory
	bucket string
	argon  auth.Argon2Params
	audit  *audit.Recorder
	log    *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

func New(store *db.DB, dir Directory, opt Options) *Service {
	log := opt.Logger
	if log == nil {
		log = slog.Default()
	}
	p := opt.Argon2
	if p == (auth.Argon2Params{}) {
		p = auth.DefaultArgon2Params()
	}
	return &Service{db: store, dir: dir, bucket: opt.Bucket, argon: p, audit: opt.Audit, log: log}
}

// User joins a remote user with its local account. Either side may be nil.
type User struct {
	Remote  *transfer.User
	Account *db.Account
}

// View is the JSON shape of a user. Remote fields are flattened in.
type View struct {
	transfer.User
	AllowedFolders  []string   `json:"allowedFolders"`
	Status          string     `json:"status,omitempty"`
	IsActive        bool       `json:"isActive"`
	LastLogin       *time.Time `json:"lastLogin"`
	HasLocalAccount bool       `json:"hasLocalAccount"`
}

// View renders u. Profile fields fall back to the local account when the
// remote user is missing.
func (u User) View() View {
	var v View
	if u.Remote != nil {
		v.User = *u.Remote
	}
	v.AllowedFolders = []string{}
	if a := u.Account; a != nil {
		v.HasLocalAccount = true
		v.Status = a.Status
		v.IsActive = a.IsActive
		if a.AllowedFolders != nil {
			v.AllowedFolders = a.AllowedFolders
		}
		if a.LastLoginAt.Valid {
			t := time.Unix(a.LastLoginAt.Int64, 0).UTC()
			v.LastLogin = &t
		}
		if u.Remote == nil {
			v.UserName = a.Username
			v.HomeDirectory = a.HomeDirectory
			v.Email = a.Email
			v.FirstName = a.FirstName
			v.LastName = a.LastName
			v.UserRole = a.Role
			v.State = "local"
			v.Tags = []transfer.Tag{}
			created := time.Unix(a.CreatedAt, 0).UTC()
			v.DateCreated = &created
		}
	}
	if v.Tags == nil {
		v.Tags = []transfer.Tag{}
	}
	return v
}

// CreateRequest holds the fields of a new account.
type CreateRequest struct {
	Username       string         `json:"username"`
	Password       string         `json:"password"`
	Email          string         `json:"email"`
	FirstName      string         `json:"firstName"`
	LastName       string         `json:"lastName"`
	Role           string         `json:"role"`
	HomeDirectory  string         `json:"homeDirectory"`
	AllowedFolders []string       `json:"allowedFolders"`
	SSHPublicKey   string         `json:"sshPublicKey"`
	Tags           []transfer.Tag `json:"tags"`
}

// UpdateRequest is a partial update. Nil fields are left unchanged.
type UpdateRequest struct {
	Email          *string  `json:"email"`
	FirstName      *string  `json:"firstName"`
	LastName       *string  `json:"lastName"`
	Role           *string  `json:"role"`
	Status         *string  `json:"status"`
	IsActive       *bool    `json:"isActive"`
	AllowedFolders []string `json:"allowedFolders"`
}

// PasswordChange carries a password change. Confirm is optional.
type PasswordChange struct {
	Current string `json:"currentPassword"`
	New     string `json:"newPassword"`
	Confirm string `json:"confirmPassword"`
}

var statuses = []string{db.StatusActive, db.StatusInactive, db.StatusSuspended}

func errLoginFailed() *apierr.Error {
	return apierr.Unauthorized("Authentication failed", "Invalid username or password")
}

// Authenticate checks a username and password. Unknown users, wrong
// passwords and disabled accounts fail identically. Every attempt is audited.
func (s *Service) Authenticate(ctx context.Context, username, password string) (auth.Identity, error) {
	if username == "" || password == "" {
		s.loginFailed(ctx, 0, username, "missing_credentials")
		return auth.Identity{}, &apierr.Error{
			Kind: apierr.KindValidation, Status: http.StatusBadRequest,
			Title: "Missing credentials", Message: "Username and password are required",
		}
	}

	a, ok, err := s.db.GetAccountByUsername(ctx, username)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("lookup account: %w", err)
	}
	if !ok {
		// Spend the same work as a real verification.
		_, _ = auth.VerifyPassword(password, s.dummy())
		s.loginFailed(ctx, 0, username, "invalid_credentials")
		return auth.Identity{}, errLoginFailed()
	}

	match, err := auth.VerifyPassword(password, a.PasswordHash)
	if err != nil {
		s.log.Warn("password hash unreadable", "username", username, "err", err)
	}
	if !match {
		s.loginFailed(ctx, a.ID, username, "invalid_credentials")
		return auth.Identity{}, errLoginFailed()
	}
	if !a.CanLogin() {
		s.loginFailed(ctx, a.ID, username, "account_disabled")
		return auth.Identity{}, errLoginFailed()
	}

	if auth.NeedsRehash(a.PasswordHash) {
		if h, err := auth.HashPassword(password, s.argon); err == nil {
			if err := s.db.SetPasswordHash(ctx, a.ID, h); err != nil {
				s.log.Warn("password rehash failed", "username", username, "err", err)
			}
		}
	}
	if err := s.db.TouchLastLogin(ctx, a.ID); err != nil {
		s.log.Warn("last login update failed", "username", username, "err", err)
	}
	s.audit.Record(ctx, audit.Event{AccountID: a.ID, Username: username, Action: audit.ActionLogin, ResourceType: "account", ResourceID: username})
	s.log.Info("user logged in", "username", username)
	return auth.Identity{Username: a.Username, Role: a.Role, Email: a.Email}, nil
}

func (s *Service) loginFailed(ctx context.Context, id int64, username, reason string) {
	s.log.Warn("login failed", "username", username, "reason", reason)
	s.audit.Record(ctx, audit.Event{
		AccountID: id, Username: username, Action: audit.ActionLoginFailed,
		ResourceType: "account", ResourceID: username,
		Details: map[string]any{"reason": reason},
	})
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = auth.HashPassword("dummy-password", s.argon)
	})
	return s.dummyHash
}

// actorID returns the local account ID of actor, or zero when the actor
// has no local account.
func (s *Service) actorID(ctx context.Context, actor auth.Identity) int64 {
	a, ok, err := s.db.GetAccountByUsername(ctx, actor.Username)
	if err != nil || !ok {
		return 0
	}
	return a.ID
}

// Create validates req, stores the local account and creates the remote
// user. A remote failure removes the local row again.
func (s *Service) Create(ctx context.Context, actor auth.Identity, req CreateRequest) (User, error) {
	req.Username = strings.TrimSpace(req.Username)
	if req.Role == "" {
		req.Role = auth.RoleUser
	}

	var errs validate.Errors
	validate.Username(&errs, req.Username)
	validate.Password(&errs, "Password", req.Password)
	validate.Email(&errs, req.Email)
	validate.OneOf(&errs, "role", req.Role, auth.Roles)
	validate.HomeDirectory(&errs, req.HomeDirectory)
	validate.SSHPublicKey(&errs, req.SSHPublicKey)
	for _, f := range req.AllowedFolders {
		validate.ObjectKey(&errs, "allowedFolders", f)
	}
	if err := errs.Err(); err != nil {
		return User{}, apierr.Validation(err)
	}

	exists, err := s.exists(ctx, req.Username)
	if err != nil {
		return User{}, err
	}
	if exists {
		return User{}, apierr.Validation(validate.Errors{fmt.Sprintf("User '%s' already exists", req.Username)})
	}

	hash, err := auth.HashPassword(req.Password, s.argon)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	home := req.HomeDirectory
	if home == "" {
		home = "/" + s.bucket + "/" + req.Username
	}
	a := &db.Account{
		Username:       req.Username,
		PasswordHash:   hash,
		Email:          req.Email,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Role:           req.Role,
		Status:         db.StatusActive,
		HomeDirectory:  home,
		AllowedFolders: db.StringList(req.AllowedFolders),
		SSHPublicKey:   strings.TrimSpace(req.SSHPublicKey),
		IsActive:       true,
		Metadata:       db.JSONMap{"createdBy": actor.Username},
	}
	if _, err := s.db.CreateAccount(ctx, a); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return User{}, apierr.Validation(validate.Errors{fmt.Sprintf("User '%s' already exists", req.Username)})
		}
		return User{}, fmt.Errorf("create account: %w", err)
	}

	remote, err := s.dir.CreateUser(ctx, transfer.CreateUserRequest{
		Username:       req.Username,
		Email:          req.Email,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Role:           req.Role,
		HomeDirectory:  home,
		SSHPublicKey:   req.SSHPublicKey,
		AllowedFolders: req.AllowedFolders,
		Tags:           req.Tags,
	})
	if err != nil {
		if _, derr := s.db.DeleteAccount(ctx, a.ID); derr != nil {
			s.log.Error("rollback of local account failed", "username", req.Username, "err", derr)
		}
		return User{}, err
	}

	s.audit.Record(ctx, audit.Event{
		AccountID: s.actorID(ctx, actor), Username: actor.Username, Action: audit.ActionCreateUser,
		ResourceType: "user", ResourceID: req.Username,
		Details: map[string]any{"role": req.Role, "allowedFolders": req.AllowedFolders},
	})
	s.log.Info("user created", "username", req.Username, "role", req.Role, "by", actor.Username)
	return User{Remote: remote, Account: a}, nil
}

func (s *Service) exists(ctx context.Context, username string) (bool, error) {
	if _, ok, err := s.db.GetAccountByUsername(ctx, username); err != nil {
		return false, fmt.Errorf("lookup account: %w", err)
	} else if ok {
		return true, nil
	}
	_, ok, err := s.dir.GetUser(ctx, username)
	return ok, err
}

// List returns every remote user joined with its local account, if any.
func (s *Service) List(ctx context.Context) ([]User, error) {
	remote, err := s.dir.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	local, err := s.db.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	byName := make(map[string]*db.Account, len(local))
	for i := range local {
		byName[local[i].Username] = &local[i]
	}
	out := make([]User, 0, len(remote))
	for i := range remote {
		out = append(out, User{Remote: &remote[i], Account: byName[remote[i].UserName]})
	}
	return out, nil
}

// ListAccounts returns the local accounts.
func (s *Service) ListAccounts(ctx context.Context) ([]db.Account, error) {
	return s.db.ListAccounts(ctx)
}

// Get returns username from either side. It is NotFound when neither has it.
func (s *Service) Get(ctx context.Context, username string) (User, error) {
	remote, _, err := s.dir.GetUser(ctx, username)
	if err != nil {
		return User{}, err
	}
	a, _, err := s.db.GetAccountByUsername(ctx, username)
	if err != nil {
		return User{}, fmt.Errorf("lookup account: %w", err)
	}
	if remote == nil && a == nil {
		return User{}, userNotFound(username)
	}
	return User{Remote: remote, Account: a}, nil
}

func userNotFound(username string) *apierr.Error {
	return &apierr.Error{
		Kind: apierr.KindNotFound, Status: http.StatusNotFound,
		Title: "User not found", Message: fmt.Sprintf("User '%s' does not exist", username),
	}
}

// Update applies the non-nil fields of req. The remote policy is only
// rewritten when the allowed folders change.
func (s *Service) Update(ctx context.Context, actor auth.Identity, username string, req UpdateRequest) (User, error) {
	var errs validate.Errors
	if req.Email != nil {
		validate.Email(&errs, *req.Email)
	}
	if req.Role != nil {
		validate.OneOf(&errs, "role", *req.Role, auth.Roles)
	}
	if req.Status != nil {
		validate.OneOf(&errs, "status", *req.Status, statuses)
	}
	for _, f := range req.AllowedFolders {
		validate.ObjectKey(&errs, "allowedFolders", f)
	}
	if err := errs.Err(); err != nil {
		return User{}, apierr.Validation(err)
	}

	u, err := s.Get(ctx, username)
	if err != nil {
		return User{}, err
	}

	folderChange := req.AllowedFolders != nil
	if a := u.Account; a != nil {
		folderChange = folderChange && !slices.Equal([]string(a.AllowedFolders), req.AllowedFolders)
	}

	// Local folders are saved only after the remote policy accepts them.
	if u.Remote != nil && folderChange {
		remote, err := s.dir.UpdateUser(ctx, username, transfer.UpdateUserRequest{AllowedFolders: req.AllowedFolders})
		if err != nil {
			return User{}, err
		}
		u.Remote = remote
	}

	if a := u.Account; a != nil {
		applyUpdate(a, req)
		if err := s.db.UpdateAccount(ctx, a); err != nil {
			return User{}, fmt.Errorf("update account: %w", err)
		}
	}

	s.audit.Record(ctx, audit.Event{
		AccountID: s.actorID(ctx, actor), Username: actor.Username, Action: audit.ActionUpdateUser,
		ResourceType: "user", ResourceID: username,
		Details: map[string]any{"policyUpdated": u.Remote != nil && folderChange},
	})
	s.log.Info("user updated", "username", username, "by", actor.Username)
	return u, nil
}

func applyUpdate(a *db.Account, req UpdateRequest) {
	if req.Email != nil {
		a.Email = *req.Email
	}
	if req.FirstName != nil {
		a.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		a.LastName = *req.LastName
	}
	if req.Role != nil {
		a.Role = *req.Role
	}
	if req.Status != nil {
		a.Status = *req.Status
	}
	if req.IsActive != nil {
		a.IsActive = *req.IsActive
	}
	if req.AllowedFolders != nil {
		a.AllowedFolders = db.StringList(req.AllowedFolders)
	}
}

// Delete removes username remotely and locally. Operators cannot delete
// themselves.
func (s *Service) Delete(ctx context.Context, actor auth.Identity, username string) error {
	if username == actor.Username {
		return &apierr.Error{
			Kind: apierr.KindValidation, Status: http.StatusBadRequest,
			Title: "Cannot delete current user", Message: "You cannot delete your own account",
		}
	}

	a, hasLocal, err := s.db.GetAccountByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("lookup account: %w", err)
	}
	err = s.dir.DeleteUser(ctx, username)
	switch {
	case err == nil:
	case transfer.IsNotFound(err) && hasLocal:
		s.log.Warn("transfer user missing, deleting local account only", "username", username)
	case transfer.IsNotFound(err):
		return userNotFound(username)
	default:
		return err
	}

	if hasLocal {
		if _, err := s.db.DeleteAccount(ctx, a.ID); err != nil {
			return fmt.Errorf("delete account: %w", err)
		}
	}
	s.audit.Record(ctx, audit.Event{
		AccountID: s.actorID(ctx, actor), Username: actor.Username, Action: audit.ActionDeleteUser,
		ResourceType: "user", ResourceID: username,
	})
	s.log.Info("user deleted", "username", username, "by", actor.Username)
	return nil
}

// ChangePassword sets a new password for username. Non-admins may only
// change their own and must give the current one; admins changing someone
// else's password skip that check.
func (s *Service) ChangePassword(ctx context.Context, actor auth.Identity, username string, req PasswordChange) error {
	self := actor.Username == username
	if !self && !actor.IsAdmin() {
		s.passwordChangeFailed(ctx, actor, username, "forbidden")
		return &apierr.Error{
			Kind: apierr.KindAuthorization, Status: http.StatusForbidden,
			Title: "Permission denied", Message: "You can only change your own password",
		}
	}

	var errs validate.Errors
	if self {
		errs.Check(req.Current != "", "Current password is required")
	}
	validate.Password(&errs, "New password", req.New)
	if req.Confirm != "" {
		errs.Check(req.Confirm == req.New, "New passwords do not match")
	}
	if err := errs.Err(); err != nil {
		s.passwordChangeFailed(ctx, actor, username, "validation")
		return apierr.Validation(err)
	}

	a, ok, err := s.db.GetAccountByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("lookup account: %w", err)
	}
	if !ok {
		s.passwordChangeFailed(ctx, actor, username, "not_found")
		return userNotFound(username)
	}

	if self {
		match, err := auth.VerifyPassword(req.Current, a.PasswordHash)
		if err != nil {
			s.log.Warn("password hash unreadable", "username", username, "err", err)
		}
		if !match {
			s.passwordChangeFailed(ctx, actor, username, "invalid_current_password")
			return &apierr.Error{
				Kind: apierr.KindValidation, Status: http.StatusBadRequest,
				Title: "Password change failed", Message: "Current password is incorrect",
			}
		}
	}

	hash, err := auth.HashPassword(req.New, s.argon)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.db.SetPasswordHash(ctx, a.ID, hash); err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	s.audit.Record(ctx, audit.Event{
		AccountID: s.actorID(ctx, actor), Username: actor.Username, Action: audit.ActionPasswordChange,
		ResourceType: "account", ResourceID: username,
		Details: map[string]any{"self": self},
	})
	s.log.Info("password changed", "username", username, "by", actor.Username)
	return nil
}

func (s *Service) passwordChangeFailed(ctx context.Context, actor auth.Identity, username, reason string) {
	s.log.Warn("password change failed", "username", username, "by", actor.Username, "reason", reason)
	s.audit.Record(ctx, audit.Event{
		AccountID: s.actorID(ctx, actor), Username: actor.Username, Action: audit.ActionPasswordChangeFailed,
		ResourceType: "account", ResourceID: username,
		Details: map[string]any{"reason": reason},
	})
}

// ImportSSHKey adds a public key to the remote user and returns its ID.
func (s *Service) ImportSSHKey(ctx context.Context, actor auth.Identity, username, body string) (string, error) {
	var errs validate.Errors
	errs.Check(strings.TrimSpace(body) != "", "SSH public key is required")
	validate.SSHPublicKey(&errs, body)
	if err := errs.Err(); err != nil {
		return "", apierr.Validation(err)
	}
	id, err := s.dir.ImportSSHKey(ctx, username, strings.TrimSpace(body))
	if err != nil {
		return "", err
	}
	s.audit.Record(ctx, audit.Event{
		AccountID: s.actorID(ctx, actor), Username: actor.Username, Action: audit.ActionImportSSHKey,
		ResourceType: "user", ResourceID: username,
		Details: map[string]any{"keyId": id},
	})
	return id, nil
}

// DeleteSSHKey removes a public key from the remote user.
func (s *Service) DeleteSSHKey(ctx context.Context, actor auth.Identity, username, keyID string) error {
	if err := s.dir.DeleteSSHKey(ctx, username, keyID); err != nil {
		return err
	}
	s.audit.Record(ctx, audit.Event{
		AccountID: s.actorID(ctx, actor), Username: actor.Username, Action: audit.ActionDeleteSSHKey,
		ResourceType: "user", ResourceID: username,
		Details: map[string]any{"keyId": keyID},
	})
	return nil
}
