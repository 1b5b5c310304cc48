// Package httpapi exposes the admin REST API.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Atari-Inc/Atari-Files-Transfer/internal/accounts"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/audit"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/auth"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/dashboard"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/objectstore"
)

// Options wires the server to its services.
type Options struct {
	Accounts  *accounts.Service
	Tokens    *auth.TokenService
	Files     *objectstore.Client
	Dashboard *dashboard.Service
	Audit     *audit.Recorder

	// ServerID and SFTPHost describe the transfer endpoint in credential responses.
	ServerID string
	SFTPHost string

	Env            string
	Debug          bool
	CORSOrigins    []string
	RateLimit      int
	TrustedProxies []string

	// Registry enables /metrics when non-nil.
	Registry *prometheus.Registry
	Logger   *slog.Logger
}

type Server struct {
	opt     Options
	log     *slog.Logger
	limiter *fixedWindowLimiter
	metrics *metrics
	proxies []*net.IPNet
}

func New(opt Options) (*Server, error) {
	if opt.Accounts == nil || opt.Tokens == nil || opt.Files == nil || opt.Dashboard == nil {
		return nil, errors.New("accounts, tokens, files and dashboard are required")
	}
	log := opt.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Server{opt: opt, log: log}
	for _, p := range opt.TrustedProxies {
		n, err := parseCIDRorIP(p)
		if err != nil {
			return nil, errors.New("invalid trusted proxy " + p)
		}
		s.proxies = append(s.proxies, n)
	}
	if opt.RateLimit > 0 {
		s.limiter = newFixedWindowLimiter(opt.RateLimit, time.Minute)
	}
	if opt.Registry != nil {
		m, err := newMetrics(opt.Registry)
		if err != nil {
			return nil, err
		}
		s.metrics = m
	}
	return s, nil
}

// Close stops background work.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

// Handler returns the routed handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)
	if s.metrics != nil {
		r.Use(s.metrics.middleware)
	}

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	api.Handle("/auth/refresh", s.refreshToken(s.handleRefresh)).Methods(http.MethodPost)
	api.Handle("/auth/me", s.authenticated(s.handleMe)).Methods(http.MethodGet)
	api.Handle("/auth/logout", s.authenticated(s.handleLogout)).Methods(http.MethodPost)
	api.Handle("/auth/change-password", s.authenticated(s.handleChangeOwnPassword)).Methods(http.MethodPost)

	api.Handle("/users", s.adminOnly(s.handleListUsers)).Methods(http.MethodGet)
	api.Handle("/users/{username}", s.adminOnly(s.handleGetUser)).Methods(http.MethodGet)
	api.Handle("/create-user", s.adminOnly(s.handleCreateUser)).Methods(http.MethodPost)
	api.Handle("/users/{username}", s.adminOnly(s.handleUpdateUser)).Methods(http.MethodPut)
	api.Handle("/delete-user/{username}", s.adminOnly(s.handleDeleteUser)).Methods(http.MethodDelete)
	api.Handle("/users/{username}/password", s.authenticated(s.handleChangePassword)).Methods(http.MethodPatch)
	api.Handle("/user-credentials/{username}", s.adminOnly(s.handleUserCredentials)).Methods(http.MethodGet)
	api.Handle("/accounts", s.adminOnly(s.handleListAccounts)).Methods(http.MethodGet)
	api.Handle("/users/{username}/ssh-keys", s.adminOnly(s.handleImportSSHKey)).Methods(http.MethodPost)
	api.Handle("/users/{username}/ssh-keys/{keyId}", s.adminOnly(s.handleDeleteSSHKey)).Methods(http.MethodDelete)

	api.Handle("/folders", s.authenticated(s.handleListFolders)).Methods(http.MethodGet)
	api.Handle("/files", s.requirePermission(auth.PermListFiles, s.handleListFiles)).Methods(http.MethodGet)
	api.Handle("/files/{folder:.+}", s.requirePermission(auth.PermListFiles, s.handleListFolder)).Methods(http.MethodGet)
	api.Handle("/upload", s.requirePermission(auth.PermUploadFile, s.handleUpload)).Methods(http.MethodPost)
	api.Handle("/download/{key:.+}", s.requirePermission(auth.PermDownloadFile, s.handleDownload)).Methods(http.MethodGet)
	api.Handle("/delete/{key:.+}", s.requirePermission(auth.PermDeleteOwnFile, s.handleDeleteObject)).Methods(http.MethodDelete)
	api.Handle("/create-folder", s.requirePermission(auth.PermCreateFolder, s.handleCreateFolder)).Methods(http.MethodPost)
	api.Handle("/move", s.requirePermission(auth.PermMoveFile, s.handleMove)).Methods(http.MethodPost)
	api.Handle("/info/{key:.+}", s.requirePermission(auth.PermListFiles, s.handleObjectInfo)).Methods(http.MethodGet)

	api.Handle("/dashboard/stats", s.authenticated(s.handleDashboardStats)).Methods(http.MethodGet)
	api.Handle("/dashboard/recent-activity", s.authenticated(s.handleRecentActivity)).Methods(http.MethodGet)

	var h http.Handler = r
	h = s.withRateLimit(h)
	h = s.withCORS(h)
	h = withSecurityHeaders(h)
	h = s.withClient(h)
	h = s.withRecover(h)
	h = s.withRequestLog(h)
	return s.withRequestID(h)
}

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// decodeJSON reads a JSON object body into v. An empty or malformed body
// is a 400 with the same wording for both cases.
func decodeJSON(r *http.Request, v any) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		return badRequest("Invalid request", "Request body must contain JSON data")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-content-type-options", "nosniff")
		w.Header().Set("x-frame-options", "DENY")
		w.Header().Set("referrer-policy", "no-referrer")
		w.Header().Set("content-security-policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("cache-control", "no-store")
		if r.TLS != nil {
			w.Header().Set("strict-transport-security", "max-age=31536000")
		}
		next.ServeHTTP(w, r)
	})
}

func pathVar(r *http.Request, name string) string {
	return strings.TrimSpace(mux.Vars(r)[name])
}
