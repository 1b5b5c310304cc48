package accounts_test

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	sdk "github.com/aws/aws-sdk-go/service/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Atari-Inc/Atari-Files-Transfer/internal/accounts"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/apierr"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/audit"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/auth"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/db"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/logging"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/transfer"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/transfer/transfertest"
)

var (
	admin = auth.Identity{Username: "root", Role: auth.RoleAdmin}
	fast  = auth.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLen: 16, KeyLen: 32}
)

type env struct {
	svc  *accounts.Service
	db   *db.DB
	fake *transfertest.Fake
}

func newEnv(t *testing.T) env {
	t.Helper()
	ctx := context.Background()
	d, err := db.Open(ctx, db.DriverSQLite, t.TempDir()+"/accounts.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	log := logging.Discard()
	f := transfertest.New()
	dir := transfer.New(f, transfer.Options{ServerID: "s-1", RoleARN: "arn:role", Bucket: "files", Logger: log})
	svc := accounts.New(d, dir, accounts.Options{
		Bucket: "files",
		Argon2: fast,
		Audit:  audit.New(d, log),
		Logger: log,
	})
	return env{svc: svc, db: d, fake: f}
}

func (e env) create(t *testing.T, username, password, role string) accounts.User {
	t.Helper()
	u, err := e.svc.Create(context.Background(), admin, accounts.CreateRequest{
		Username: username, Password: password, Role: role, Email: username + "@example.com",
	})
	require.NoError(t, err)
	return u
}

func (e env) lastAudit(t *testing.T) db.AuditEntry {
	t.Helper()
	entries, err := e.db.RecentAudit(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return entries[0]
}

func apiError(t *testing.T, err error) *apierr.Error {
	t.Helper()
	var e *apierr.Error
	require.ErrorAs(t, err, &e)
	return e
}

func TestCreateStoresBothSides(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	u, err := e.svc.Create(ctx, admin, accounts.CreateRequest{
		Username:       "alice",
		Password:       "secret1",
		Email:          "alice@example.com",
		FirstName:      "Alice",
		AllowedFolders: []string{"reports"},
	})
	require.NoError(t, err)
	require.NotNil(t, u.Remote)
	require.NotNil(t, u.Account)
	assert.Equal(t, auth.RoleUser, u.Account.Role)
	assert.Equal(t, "/files/alice", u.Account.HomeDirectory)
	assert.Equal(t, "/files/alice", u.Remote.HomeDirectory)
	assert.Equal(t, "user", u.Remote.UserRole)
	assert.True(t, strings.HasPrefix(u.Account.PasswordHash, "argon2id$"))
	assert.True(t, e.fake.Has("alice"))
	assert.Contains(t, aws.StringValue(e.fake.User("alice").Policy), "arn:aws:s3:::files/reports/*")

	entry := e.lastAudit(t)
	assert.Equal(t, audit.ActionCreateUser, entry.Action)
	assert.Equal(t, "alice", entry.ResourceID)
	assert.Equal(t, "root", entry.Username)
	assert.False(t, entry.AccountID.Valid, "the actor has no local account")
}

func TestCreateValidationAggregates(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Create(context.Background(), admin, accounts.CreateRequest{
		Username: "a!", Password: "123", Email: "bad", Role: "root",
	})
	ae := apiError(t, err)
	assert.Equal(t, http.StatusBadRequest, ae.Status)
	assert.Equal(t, "Username must be at least 3 characters long; "+
		"Username can only contain letters, numbers, underscores, and hyphens; "+
		"Password must be at least 6 characters long; "+
		"Invalid email format; "+
		"Invalid role. Must be one of: admin, user, readonly", ae.Message)
	assert.Empty(t, e.fake.Created)
}

func TestCreateRejectsExistingUsername(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.fake.Put(&sdk.DescribedUser{UserName: aws.String("carol")})

	_, err := e.svc.Create(ctx, admin, accounts.CreateRequest{Username: "carol", Password: "secret1"})
	ae := apiError(t, err)
	assert.Equal(t, http.StatusBadRequest, ae.Status)
	assert.Equal(t, "User 'carol' already exists", ae.Message)

	_, ok, err := e.db.GetAccountByUsername(ctx, "carol")
	require.NoError(t, err)
	assert.False(t, ok)

	e.create(t, "dave", "secret1", auth.RoleUser)
	_, err = e.svc.Create(ctx, admin, accounts.CreateRequest{Username: "dave", Password: "secret1"})
	assert.ErrorIs(t, err, apierr.ErrValidation)
}

func TestCreateRollsBackOnRemoteFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.fake.CreateErrs = []error{awserr.New("AccessDeniedException", "denied", nil)}

	_, err := e.svc.Create(ctx, admin, accounts.CreateRequest{Username: "erin", Password: "secret1"})
	ae := apiError(t, err)
	assert.Equal(t, apierr.KindRemote, ae.Kind)
	assert.Equal(t, "AccessDeniedException", ae.Code)

	_, ok, err := e.db.GetAccountByUsername(ctx, "erin")
	require.NoError(t, err)
	assert.False(t, ok, "local row is removed when the remote create fails")
}

func TestAuthenticate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.create(t, "alice", "secret1", auth.RoleReadonly)

	id, err := e.svc.Authenticate(ctx, "alice", "secret1")
	require.NoError(t, err)
	assert.Equal(t, auth.Identity{Username: "alice", Role: auth.RoleReadonly, Email: "alice@example.com"}, id)
	assert.Equal(t, audit.ActionLogin, e.lastAudit(t).Action)

	a, _, err := e.db.GetAccountByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, a.LastLoginAt.Valid)

	_, err = e.svc.Authenticate(ctx, "alice", "wrong-password")
	ae := apiError(t, err)
	assert.Equal(t, http.StatusUnauthorized, ae.Status)
	assert.Equal(t, "Invalid username or password", ae.Message)
	entry := e.lastAudit(t)
	assert.Equal(t, audit.ActionLoginFailed, entry.Action)
	assert.Equal(t, "invalid_credentials", entry.Details["reason"])
	assert.True(t, entry.AccountID.Valid)
}

func TestAuthenticateUnknownUserIsAudited(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Authenticate(context.Background(), "ghost", "whatever")
	assert.Equal(t, http.StatusUnauthorized, apiError(t, err).Status)

	entry := e.lastAudit(t)
	assert.Equal(t, audit.ActionLoginFailed, entry.Action)
	assert.Equal(t, "ghost", entry.Username)
	assert.False(t, entry.AccountID.Valid)
}

func TestAuthenticateMissingFields(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Authenticate(context.Background(), "alice", "")
	ae := apiError(t, err)
	assert.Equal(t, http.StatusBadRequest, ae.Status)
	assert.Equal(t, "Missing credentials", ae.Title)

	entry := e.lastAudit(t)
	assert.Equal(t, audit.ActionLoginFailed, entry.Action)
	assert.Equal(t, "missing_credentials", entry.Details["reason"])
}

func TestAuthenticateDisabledAccount(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.create(t, "alice", "secret1", auth.RoleUser)

	suspended := db.StatusSuspended
	_, err := e.svc.Update(ctx, admin, "alice", accounts.UpdateRequest{Status: &suspended})
	require.NoError(t, err)

	_, err = e.svc.Authenticate(ctx, "alice", "secret1")
	assert.Equal(t, "Invalid username or password", apiError(t, err).Message)
	assert.Equal(t, "account_disabled", e.lastAudit(t).Details["reason"])
}

func TestAuthenticateUpgradesBcrypt(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	h, err := bcrypt.GenerateFromPassword([]byte("legacy-pass"), bcrypt.MinCost)
	require.NoError(t, err)
	_, err = e.db.CreateAccount(ctx, &db.Account{
		Username: "legacy", PasswordHash: string(h), Role: auth.RoleAdmin,
		Status: db.StatusActive, IsActive: true,
	})
	require.NoError(t, err)

	_, err = e.svc.Authenticate(ctx, "legacy", "legacy-pass")
	require.NoError(t, err)

	a, _, err := e.db.GetAccountByUsername(ctx, "legacy")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(a.PasswordHash, "argon2id$"))

	_, err = e.svc.Authenticate(ctx, "legacy", "legacy-pass")
	assert.NoError(t, err)
}

func TestUpdateOnlyRewritesPolicyOnFolderChange(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.Create(ctx, admin, accounts.CreateRequest{
		Username: "alice", Password: "secret1", AllowedFolders: []string{"reports"},
	})
	require.NoError(t, err)

	email := "new@example.com"
	u, err := e.svc.Update(ctx, admin, "alice", accounts.UpdateRequest{Email: &email})
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", u.Account.Email)
	assert.Equal(t, db.StringList{"reports"}, u.Account.AllowedFolders)
	assert.Empty(t, e.fake.Updated)

	_, err = e.svc.Update(ctx, admin, "alice", accounts.UpdateRequest{AllowedFolders: []string{"reports"}})
	require.NoError(t, err)
	assert.Empty(t, e.fake.Updated, "unchanged folders need no remote call")

	u, err = e.svc.Update(ctx, admin, "alice", accounts.UpdateRequest{AllowedFolders: []string{"reports", "inbox"}})
	require.NoError(t, err)
	require.Len(t, e.fake.Updated, 1)
	assert.Contains(t, aws.StringValue(e.fake.Updated[0].Policy), "files/inbox/*")
	assert.Equal(t, db.StringList{"reports", "inbox"}, u.Account.AllowedFolders)
}

func TestUpdateKeepsLocalFoldersWhenPolicyUpdateFails(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.Create(ctx, admin, accounts.CreateRequest{
		Username: "alice", Password: "secret1", AllowedFolders: []string{"reports"},
	})
	require.NoError(t, err)

	e.fake.UpdateErrs = []error{awserr.New("ThrottlingException", "throttled", nil)}
	_, err = e.svc.Update(ctx, admin, "alice", accounts.UpdateRequest{AllowedFolders: []string{"inbox"}})
	require.Error(t, err)

	a, ok, err := e.db.GetAccountByUsername(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, db.StringList{"reports"}, a.AllowedFolders)

	u, err := e.svc.Update(ctx, admin, "alice", accounts.UpdateRequest{AllowedFolders: []string{"inbox"}})
	require.NoError(t, err)
	require.Len(t, e.fake.Updated, 1, "the retry must still rewrite the policy")
	policy := aws.StringValue(e.fake.User("alice").Policy)
	assert.Contains(t, policy, "files/inbox/*")
	assert.NotContains(t, policy, "files/reports/*")
	assert.Equal(t, db.StringList{"inbox"}, u.Account.AllowedFolders)
}

func TestUpdateValidatesAndFindsUser(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	role := "root"
	_, err := e.svc.Update(ctx, admin, "alice", accounts.UpdateRequest{Role: &role})
	assert.Equal(t, "Invalid role. Must be one of: admin, user, readonly", apiError(t, err).Message)

	_, err = e.svc.Update(ctx, admin, "nobody", accounts.UpdateRequest{})
	ae := apiError(t, err)
	assert.Equal(t, http.StatusNotFound, ae.Status)
	assert.Equal(t, "User 'nobody' does not exist", ae.Message)
}

func TestDelete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.create(t, "alice", "secret1", auth.RoleUser)

	err := e.svc.Delete(ctx, admin, "root")
	ae := apiError(t, err)
	assert.Equal(t, http.StatusBadRequest, ae.Status)
	assert.Equal(t, "You cannot delete your own account", ae.Message)

	require.NoError(t, e.svc.Delete(ctx, admin, "alice"))
	assert.False(t, e.fake.Has("alice"))
	_, ok, err := e.db.GetAccountByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, audit.ActionDeleteUser, e.lastAudit(t).Action)

	err = e.svc.Delete(ctx, admin, "alice")
	assert.Equal(t, http.StatusNotFound, apiError(t, err).Status)
}

func TestDeleteLocalOnlyAccount(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.db.CreateAccount(ctx, &db.Account{
		Username: "ops", PasswordHash: "x", Role: auth.RoleAdmin, Status: db.StatusActive, IsActive: true,
	})
	require.NoError(t, err)

	require.NoError(t, e.svc.Delete(ctx, admin, "ops"))
	_, ok, err := e.db.GetAccountByUsername(ctx, "ops")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChangePassword(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.create(t, "alice", "secret1", auth.RoleUser)
	e.create(t, "bob", "secret2", auth.RoleUser)
	alice := auth.Identity{Username: "alice", Role: auth.RoleUser}

	err := e.svc.ChangePassword(ctx, alice, "bob", accounts.PasswordChange{Current: "secret1", New: "changed1"})
	ae := apiError(t, err)
	assert.Equal(t, http.StatusForbidden, ae.Status)
	assert.Equal(t, "You can only change your own password", ae.Message)

	err = e.svc.ChangePassword(ctx, alice, "alice", accounts.PasswordChange{New: "changed1", Confirm: "changed2"})
	assert.Equal(t, "Current password is required; New passwords do not match", apiError(t, err).Message)

	err = e.svc.ChangePassword(ctx, alice, "alice", accounts.PasswordChange{Current: "nope-nope", New: "changed1"})
	ae = apiError(t, err)
	assert.Equal(t, "Password change failed", ae.Title)
	assert.Equal(t, "Current password is incorrect", ae.Message)
	entry := e.lastAudit(t)
	assert.Equal(t, audit.ActionPasswordChangeFailed, entry.Action)
	assert.Equal(t, "invalid_current_password", entry.Details["reason"])

	require.NoError(t, e.svc.ChangePassword(ctx, alice, "alice", accounts.PasswordChange{Current: "secret1", New: "changed1", Confirm: "changed1"}))
	_, err = e.svc.Authenticate(ctx, "alice", "changed1")
	require.NoError(t, err)

	// Admins reset other accounts without the current password.
	require.NoError(t, e.svc.ChangePassword(ctx, admin, "bob", accounts.PasswordChange{New: "reset-by-admin"}))
	_, err = e.svc.Authenticate(ctx, "bob", "reset-by-admin")
	require.NoError(t, err)
}

func TestPasswordChangeFailuresAreAudited(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	created := e.create(t, "alice", "secret1", auth.RoleUser)
	e.create(t, "bob", "secret2", auth.RoleUser)
	alice := auth.Identity{Username: "alice", Role: auth.RoleUser}

	cases := []struct {
		name   string
		actor  auth.Identity
		target string
		req    accounts.PasswordChange
		reason string
	}{
		{"other account", alice, "bob", accounts.PasswordChange{Current: "secret1", New: "changed1"}, "forbidden"},
		{"short password", alice, "alice", accounts.PasswordChange{Current: "secret1", New: "x"}, "validation"},
		{"mismatch", alice, "alice", accounts.PasswordChange{Current: "secret1", New: "changed1", Confirm: "changed2"}, "validation"},
		{"missing current", alice, "alice", accounts.PasswordChange{New: "changed1"}, "validation"},
		{"unknown user", admin, "ghost", accounts.PasswordChange{New: "changed1"}, "not_found"},
		{"wrong current", alice, "alice", accounts.PasswordChange{Current: "nope-nope", New: "changed1"}, "invalid_current_password"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before, err := e.db.RecentAudit(ctx, 1000)
			require.NoError(t, err)

			require.Error(t, e.svc.ChangePassword(ctx, tc.actor, tc.target, tc.req))

			after, err := e.db.RecentAudit(ctx, 1000)
			require.NoError(t, err)
			require.Len(t, after, len(before)+1)
			entry := after[0]
			assert.Equal(t, audit.ActionPasswordChangeFailed, entry.Action)
			assert.Equal(t, tc.reason, entry.Details["reason"])
			assert.Equal(t, tc.actor.Username, entry.Username)
			assert.Equal(t, tc.target, entry.ResourceID)
			if tc.actor.Username == "alice" {
				assert.Equal(t, created.Account.ID, entry.AccountID.Int64)
			} else {
				assert.False(t, entry.AccountID.Valid)
			}
		})
	}
}

func TestListJoinsLocalAccounts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.create(t, "alice", "secret1", auth.RoleUser)
	e.fake.Put(&sdk.DescribedUser{UserName: aws.String("remote-only"), HomeDirectory: aws.String("/files/remote-only")})

	users, err := e.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].Remote.UserName)
	assert.NotNil(t, users[0].Account)
	assert.Nil(t, users[1].Account)

	v := users[1].View()
	assert.False(t, v.HasLocalAccount)
	assert.Equal(t, []string{}, v.AllowedFolders)
}

func TestViewFallsBackToLocalAccount(t *testing.T) {
	u := accounts.User{Account: &db.Account{
		Username: "ops", Email: "ops@example.com", Role: auth.RoleAdmin,
		Status: db.StatusActive, IsActive: true, HomeDirectory: "/files/ops", CreatedAt: 1700000000,
	}}
	v := u.View()
	assert.Equal(t, "ops", v.UserName)
	assert.Equal(t, "admin", v.UserRole)
	assert.Equal(t, "local", v.State)
	assert.True(t, v.HasLocalAccount)
	require.NotNil(t, v.DateCreated)
	assert.Equal(t, int64(1700000000), v.DateCreated.Unix())
}

func TestSSHKeys(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.create(t, "alice", "secret1", auth.RoleUser)

	_, err := e.svc.ImportSSHKey(ctx, admin, "alice", "not a key")
	assert.Equal(t, "Invalid SSH public key", apiError(t, err).Message)

	_, err = e.svc.ImportSSHKey(ctx, admin, "alice", "")
	assert.ErrorIs(t, err, apierr.ErrValidation)

	err = e.svc.DeleteSSHKey(ctx, admin, "alice", "key-9999")
	assert.True(t, apierr.IsNotFound(err))
}
