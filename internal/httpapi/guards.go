package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Atari-Inc/Atari-Files-Transfer/internal/apierr"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/auth"
)

type ctxKey int

const (
	ctxIdentity ctxKey = iota
	ctxRequestID
)

// identity returns the principal placed in the context by a guard.
func identity(ctx context.Context) auth.Identity {
	id, _ := ctx.Value(ctxIdentity).(auth.Identity)
	return id
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// verifier checks one kind of token.
type verifier func(raw string) (auth.Identity, error)

// verify checks the bearer token of r. Missing and expired tokens are 401,
// anything else that fails to verify is 422.
func (s *Server) verify(r *http.Request, check verifier) (auth.Identity, *apierr.Error) {
	id, err := check(bearerToken(r))
	switch {
	case err == nil:
		return id, nil
	case errors.Is(err, auth.ErrMissingToken):
		return auth.Identity{}, apierr.Unauthorized("Token Required", "A valid JWT token is required to access this resource.")
	case errors.Is(err, auth.ErrExpiredToken):
		return auth.Identity{}, apierr.Unauthorized("Token Expired", "The JWT token has expired. Please login again.")
	default:
		s.log.Debug("token rejected", "path", r.URL.Path, "err", err)
		return auth.Identity{}, apierr.InvalidToken("The JWT token is invalid or malformed.")
	}
}

// permit decides whether id may proceed. A nil result means allowed.
type permit func(id auth.Identity) *apierr.Error

// guard authenticates with tokens and then applies check. Authentication
// failures are written before check runs.
func (s *Server) guard(tokens verifier, check permit, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, denial := s.verify(r, tokens)
		if denial != nil {
			s.writeError(w, r, denial)
			return
		}
		if check != nil {
			if denial := check(id); denial != nil {
				s.log.Warn("access denied", "username", id.Username, "role", id.Role, "path", r.URL.Path)
				s.writeError(w, r, denial)
				return
			}
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxIdentity, id)))
	})
}

// authenticated requires a valid access token.
func (s *Server) authenticated(next http.HandlerFunc) http.Handler {
	return s.guard(s.opt.Tokens.VerifyAccess, nil, next)
}

// refreshToken requires a valid refresh token.
func (s *Server) refreshToken(next http.HandlerFunc) http.Handler {
	return s.guard(s.opt.Tokens.VerifyRefresh, nil, next)
}

// requirePermission requires an access token whose role grants perm.
func (s *Server) requirePermission(perm string, next http.HandlerFunc) http.Handler {
	return s.guard(s.opt.Tokens.VerifyAccess, func(id auth.Identity) *apierr.Error {
		if auth.HasPermission(id.Role, perm) {
			return nil
		}
		return &apierr.Error{
			Kind: apierr.KindAuthorization, Status: http.StatusForbidden,
			Title: "Insufficient permissions", Message: "You don't have permission to " + perm,
		}
	}, next)
}

// adminOnly requires an access token with the admin role.
func (s *Server) adminOnly(next http.HandlerFunc) http.Handler {
	return s.guard(s.opt.Tokens.VerifyAccess, func(id auth.Identity) *apierr.Error {
		if id.IsAdmin() {
			return nil
		}
		return &apierr.Error{
			Kind: apierr.KindAuthorization, Status: http.StatusForbidden,
			Title: "Admin access required", Message: "This endpoint requires admin privileges",
		}
	}, next)
}

// requireOwnership denies non-admins operating on keys outside their folder.
func requireOwnership(id auth.Identity, msg string, keys ...string) *apierr.Error {
	for _, k := range keys {
		if !auth.CanOperateOnKey(id, k) {
			return &apierr.Error{
				Kind: apierr.KindAuthorization, Status: http.StatusForbidden,
				Title: "Permission denied", Message: msg,
			}
		}
	}
	return nil
}
