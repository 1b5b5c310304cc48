package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token verification failures. Handlers map them to HTTP responses.
var (
	ErrMissingToken = errors.New("authorization token is missing")
	ErrInvalidToken = errors.New("token is invalid")
	ErrExpiredToken = errors.New("token has expired")
)

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

const (
	AccessToken  TokenKind = "access"
	RefreshToken TokenKind = "refresh"
)

// Identity is the authenticated principal carried by a token.
type Identity struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	Email    string `json:"email"`
}

// Claims is the JWT payload.
type Claims struct {
	Username string    `json:"username"`
	Role     string    `json:"role"`
	Email    string    `json:"email,omitempty"`
	Type     TokenKind `json:"type"`
	jwt.RegisteredClaims
}

// Tokens is the pair returned at login.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// TokenService signs and verifies HS256 tokens.
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenService returns a service signing with secret.
func NewTokenService(secret string, accessTTL, refreshTTL time.Duration) (*TokenService, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}
	if accessTTL > refreshTTL {
		return nil, errors.New("access token lifetime must not exceed refresh token lifetime")
	}
	return &TokenService{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

// AccessTTL returns the access token lifetime.
func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// Issue mints an access and a refresh token for id.
func (s *TokenService) Issue(id Identity) (Tokens, error) {
	access, err := s.sign(id, AccessToken, s.accessTTL)
	if err != nil {
		return Tokens{}, err
	}
	refresh, err := s.sign(id, RefreshToken, s.refreshTTL)
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.accessTTL / time.Second),
	}, nil
}

// Refresh exchanges a valid refresh token for a new access token.
func (s *TokenService) Refresh(raw string) (string, Identity, error) {
	id, err := s.Verify(raw, RefreshToken)
	if err != nil {
		return "", Identity{}, err
	}
	access, err := s.sign(id, AccessToken, s.accessTTL)
	if err != nil {
		return "", Identity{}, err
	}
	return access, id, nil
}

// VerifyAccess verifies an access token.
func (s *TokenService) VerifyAccess(raw string) (Identity, error) { return s.Verify(raw, AccessToken) }

// VerifyRefresh verifies a refresh token.
func (s *TokenService) VerifyRefresh(raw string) (Identity, error) { return s.Verify(raw, RefreshToken) }

// Verify checks signature, expiry and kind, and returns the identity.
func (s *TokenService) Verify(raw string, want TokenKind) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, ErrMissingToken
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Type != want {
		return Identity{}, fmt.Errorf("%w: expected %s token", ErrInvalidToken, want)
	}
	if claims.Username == "" {
		return Identity{}, fmt.Errorf("%w: missing username", ErrInvalidToken)
	}
	return Identity{Username: claims.Username, Role: claims.Role, Email: claims.Email}, nil
}

func (s *TokenService) sign(id Identity, kind TokenKind, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		Username: id.Username,
		Role:     id.Role,
		Email:    id.Email,
		Type:     kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Username,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// RandomSecret generates a signing key from nbytes of entropy, encoded
// base64url without padding.
func RandomSecret(nbytes int) (string, error) {
	if nbytes < 16 {
		return "", fmt.Errorf("signing key needs at least 16 bytes of entropy, got %d", nbytes)
	}
	buf := make([]byte, nbytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
