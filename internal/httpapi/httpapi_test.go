package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Atari-Inc/Atari-Files-Transfer/internal/accounts"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/audit"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/auth"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/dashboard"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/db"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/logging"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/objectstore"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/objectstore/s3test"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/transfer"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/transfer/transfertest"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testEnv struct {
	srv    *Server
	h      http.Handler
	tokens *auth.TokenService
	db     *db.DB
	s3     *s3test.Fake
	tf     *transfertest.Fake
}

func newTestEnv(t *testing.T, mut ...func(*Options)) *testEnv {
	t.Helper()
	ctx := context.Background()
	d, err := db.Open(ctx, db.DriverSQLite, t.TempDir()+"/api.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	log := logging.Discard()
	rec := audit.New(d, log)
	tf := transfertest.New()
	dir := transfer.New(tf, transfer.Options{ServerID: "s-1", RoleARN: "arn:role", Bucket: "files", Logger: log})
	s3f := s3test.New()
	files := objectstore.New(s3f, objectstore.Options{
		Bucket: "files", Region: "us-east-1", Credentials: s3test.Credentials, Logger: log,
	})
	tokens, err := auth.NewTokenService(testSecret, 30*time.Minute, 24*time.Hour)
	require.NoError(t, err)

	opt := Options{
		Accounts: accounts.New(d, dir, accounts.Options{
			Bucket: "files",
			Argon2: auth.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLen: 16, KeyLen: 32},
			Audit:  rec,
			Logger: log,
		}),
		Tokens:    tokens,
		Files:     files,
		Dashboard: dashboard.New(d, dir, files, log),
		Audit:     rec,
		ServerID:  "s-1",
		SFTPHost:  "s-1.server.transfer.us-east-1.amazonaws.com",
		Env:       "test",
		Logger:    log,
	}
	for _, m := range mut {
		m(&opt)
	}
	srv, err := New(opt)
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, h: srv.Handler(), tokens: tokens, db: d, s3: s3f, tf: tf}
}

func (e *testEnv) createUser(t *testing.T, username, role string) {
	t.Helper()
	_, err := e.srv.opt.Accounts.Create(context.Background(), auth.Identity{Username: "root", Role: auth.RoleAdmin},
		accounts.CreateRequest{Username: username, Password: "secret1", Role: role, Email: username + "@example.com"})
	require.NoError(t, err)
}

func (e *testEnv) token(t *testing.T, username, role string) string {
	t.Helper()
	tk, err := e.tokens.Issue(auth.Identity{Username: username, Role: role})
	require.NoError(t, err)
	return tk.AccessToken
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.RemoteAddr = "192.0.2.10:40000"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &m), rr.Body.String())
	return m
}

func TestHealthAndInfo(t *testing.T) {
	e := newTestEnv(t)

	rr := e.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["environment"])
	assert.Equal(t, "nosniff", rr.Header().Get("x-content-type-options"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	rr = e.do(http.MethodGet, "/info", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "/health", decode(t, rr)["health"])
}

func TestLoginAndMe(t *testing.T) {
	e := newTestEnv(t)
	e.createUser(t, "alice", auth.RoleUser)

	rr := e.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "secret1"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decode(t, rr)
	assert.Equal(t, "Login successful", body["message"])
	assert.Equal(t, "Bearer", body["token_type"])
	assert.EqualValues(t, 1800, body["expires_in"])
	access, _ := body["access_token"].(string)
	refresh, _ := body["refresh_token"].(string)
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)

	rr = e.do(http.MethodGet, "/api/auth/me", access, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	user := decode(t, rr)["user"].(map[string]any)
	assert.Equal(t, "alice", user["username"])
	assert.Equal(t, "user", user["role"])
	assert.Len(t, user["permissions"], 4)

	rr = e.do(http.MethodPost, "/api/auth/refresh", refresh, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, decode(t, rr)["access_token"])

	rr = e.do(http.MethodPost, "/api/auth/refresh", access, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestLoginFailure(t *testing.T) {
	e := newTestEnv(t)
	e.createUser(t, "alice", auth.RoleUser)

	rr := e.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "wrong"})
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "Authentication failed", body["error"])
	assert.Equal(t, "Invalid username or password", body["message"])
	assert.EqualValues(t, 401, body["status_code"])
	assert.Equal(t, "/api/auth/login", body["path"])

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader("not json"))
	rr = httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Request body must contain JSON data", decode(t, rr)["message"])
}

func TestTokenErrors(t *testing.T) {
	e := newTestEnv(t)

	rr := e.do(http.MethodGet, "/api/auth/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Token Required", decode(t, rr)["error"])

	rr = e.do(http.MethodGet, "/api/auth/me", "not-a-jwt", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "Invalid Token", decode(t, rr)["error"])

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		Username: "alice", Role: auth.RoleUser, Type: auth.AccessToken,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	rr = e.do(http.MethodGet, "/api/auth/me", expired, nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Token Expired", decode(t, rr)["error"])
}

func TestPermissionChecks(t *testing.T) {
	e := newTestEnv(t)
	reader := e.token(t, "rita", auth.RoleReadonly)

	rr := e.do(http.MethodPost, "/api/upload", reader, map[string]any{"fileName": "a.txt", "fileSize": 10})
	require.Equal(t, http.StatusForbidden, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "Insufficient permissions", body["error"])
	assert.Equal(t, "You don't have permission to upload_file", body["message"])

	rr = e.do(http.MethodGet, "/api/users", e.token(t, "bob", auth.RoleUser), nil)
	require.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "Admin access required", decode(t, rr)["error"])

	rr = e.do(http.MethodGet, "/api/files", e.token(t, "x", "auditor"), nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestDeleteObjectOwnership(t *testing.T) {
	e := newTestEnv(t)
	e.s3.Put("alice/file.txt", 10, time.Now())

	rr := e.do(http.MethodDelete, "/api/delete/alice/file.txt", e.token(t, "bob", auth.RoleUser), nil)
	require.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "You can only delete your own files", decode(t, rr)["message"])
	assert.True(t, e.s3.Has("alice/file.txt"))

	rr = e.do(http.MethodDelete, "/api/delete/alice/file.txt", e.token(t, "alice", auth.RoleUser), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "Object 'alice/file.txt' deleted successfully", decode(t, rr)["message"])
	assert.False(t, e.s3.Has("alice/file.txt"))

	entries, err := e.db.RecentAudit(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionDeleteObject, entries[0].Action)
	assert.Equal(t, "192.0.2.10", entries[0].IPAddress)
}

func TestMove(t *testing.T) {
	e := newTestEnv(t)
	e.s3.Put("alice/a.txt", 10, time.Now())
	alice := e.token(t, "alice", auth.RoleUser)

	rr := e.do(http.MethodPost, "/api/move", e.token(t, "root", auth.RoleAdmin), map[string]string{"sourceKey": "alice/a.txt"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Missing parameters", decode(t, rr)["error"])

	rr = e.do(http.MethodPost, "/api/move", alice, map[string]string{"sourceKey": "alice/a.txt", "destinationKey": "b/a.txt"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = e.do(http.MethodPost, "/api/move", e.token(t, "root", auth.RoleAdmin),
		map[string]string{"sourceKey": "alice/a.txt", "destinationKey": "alice/b.txt"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.True(t, e.s3.Has("alice/b.txt"))
	assert.False(t, e.s3.Has("alice/a.txt"))
}

func TestFileRoutes(t *testing.T) {
	e := newTestEnv(t)
	e.s3.Put("alice/a.txt", 10, time.Now())
	e.s3.Put("alice/b.txt", 20, time.Now())
	admin := e.token(t, "root", auth.RoleAdmin)

	rr := e.do(http.MethodGet, "/api/files?prefix=alice/", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decode(t, rr)
	assert.EqualValues(t, 2, body["total"])
	assert.Equal(t, false, body["hasMore"])
	assert.NotContains(t, body, "nextContinuationToken")

	rr = e.do(http.MethodGet, "/api/files?maxKeys=abc", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = e.do(http.MethodGet, "/api/files/alice", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "alice", decode(t, rr)["folder"])

	rr = e.do(http.MethodGet, "/api/download/alice/a.txt?expires=60", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body = decode(t, rr)
	assert.Equal(t, "60 seconds", body["expires"])
	assert.Contains(t, body["downloadUrl"], "X-Amz-Signature")

	rr = e.do(http.MethodGet, "/api/info/alice/a.txt", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "a.txt", decode(t, rr)["object"].(map[string]any)["name"])

	rr = e.do(http.MethodGet, "/api/info/alice/missing.txt", admin, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Object 'alice/missing.txt' does not exist", decode(t, rr)["message"])

	rr = e.do(http.MethodPost, "/api/create-folder", admin, map[string]string{"folderName": "reports", "parentFolder": "alice"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "alice/reports/", decode(t, rr)["folderKey"])

	rr = e.do(http.MethodPost, "/api/upload", admin, map[string]any{"fileName": "c.txt", "fileSize": 5, "contentType": "text/plain", "folder": "alice"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body = decode(t, rr)
	assert.Equal(t, "1 hour", body["expires"])
	assert.NotEmpty(t, body["fields"])
}

func TestChangeOwnPasswordFailuresAreAudited(t *testing.T) {
	e := newTestEnv(t)
	e.createUser(t, "alice", auth.RoleUser)
	alice := e.token(t, "alice", auth.RoleUser)

	rr := e.do(http.MethodPost, "/api/auth/change-password", alice, map[string]string{"newPassword": ""})
	require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
	assert.Equal(t, "Current password is required; New password must be at least 6 characters long", decode(t, rr)["message"])

	entries, err := e.db.RecentAudit(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionPasswordChangeFailed, entries[0].Action)
	assert.Equal(t, "validation", entries[0].Details["reason"])
}

func TestDeleteSelf(t *testing.T) {
	e := newTestEnv(t)
	e.createUser(t, "root", auth.RoleAdmin)

	rr := e.do(http.MethodDelete, "/api/delete-user/root", e.token(t, "root", auth.RoleAdmin), nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Cannot delete current user", decode(t, rr)["error"])
}

func TestUserRoutes(t *testing.T) {
	e := newTestEnv(t)
	admin := e.token(t, "root", auth.RoleAdmin)

	rr := e.do(http.MethodPost, "/api/create-user", admin, map[string]any{
		"username": "carol", "password": "secret1", "email": "carol@example.com", "role": "user",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "User created successfully", decode(t, rr)["message"])

	rr = e.do(http.MethodGet, "/api/users", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 1, decode(t, rr)["total"])

	rr = e.do(http.MethodGet, "/api/user-credentials/carol", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	conn := decode(t, rr)["sftp_connection"].(map[string]any)
	assert.EqualValues(t, 22, conn["port"])

	rr = e.do(http.MethodGet, "/api/users/nobody", admin, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = e.do(http.MethodDelete, "/api/delete-user/carol", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "User 'carol' deleted successfully", decode(t, rr)["message"])
	assert.False(t, e.tf.Has("carol"))
}

func TestRouterErrors(t *testing.T) {
	e := newTestEnv(t)

	rr := e.do(http.MethodGet, "/nope", "", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "Not Found", body["error"])
	assert.NotEmpty(t, body["timestamp"])

	rr = e.do(http.MethodDelete, "/health", "", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, "Method Not Allowed", decode(t, rr)["error"])
}

func TestRateLimit(t *testing.T) {
	e := newTestEnv(t, func(o *Options) { o.RateLimit = 2 })

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, e.do(http.MethodGet, "/health", "", nil).Code)
	}
	rr := e.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	assert.Equal(t, "Rate limit exceeded. Please try again later", decode(t, rr)["message"])
}

func TestCORSPreflight(t *testing.T) {
	e := newTestEnv(t, func(o *Options) { o.CORSOrigins = []string{"https://admin.example.com"} })

	req := httptest.NewRequest(http.MethodOptions, "/api/files", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://admin.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetrics(t *testing.T) {
	e := newTestEnv(t, func(o *Options) { o.Registry = prometheus.NewRegistry() })

	require.Equal(t, http.StatusOK, e.do(http.MethodGet, "/health", "", nil).Code)
	rr := e.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `sftpadmin_http_requests_total{method="GET",route="/health",status="200"} 1`)
}

func TestDashboard(t *testing.T) {
	e := newTestEnv(t)
	e.createUser(t, "alice", auth.RoleUser)
	tok := e.token(t, "alice", auth.RoleUser)

	rr := e.do(http.MethodGet, "/api/dashboard/stats", tok, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	stats := decode(t, rr)["stats"].(map[string]any)
	assert.EqualValues(t, 1, stats["totalUsers"])

	rr = e.do(http.MethodGet, "/api/dashboard/recent-activity?limit=5", tok, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode(t, rr)["activities"], 1)

	rr = e.do(http.MethodGet, "/api/dashboard/recent-activity?limit=x", tok, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTrustedProxyClientIP(t *testing.T) {
	e := newTestEnv(t, func(o *Options) { o.TrustedProxies = []string{"192.0.2.0/24"} })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 192.0.2.5")
	assert.Equal(t, "198.51.100.7", e.srv.clientIP(req))

	req.RemoteAddr = "203.0.113.9:1234"
	assert.Equal(t, "203.0.113.9", e.srv.clientIP(req))
}
