// Package session holds the dashboard credential and role and answers
// authentication and role-sufficiency questions.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"truckdash/internal/domain"
	"truckdash/internal/log"
	"truckdash/internal/store"
	truckdashsdk "truckdash/sdk/go"
)

// Persisted keys.
const (
	KeyToken = "token"
	KeyRole  = "role"
)

var ErrUnauthenticated = errors.New("not logged in")

// Authenticator is the slice of the API client the session needs.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (truckdashsdk.Token, error)
	Me(ctx context.Context) (truckdashsdk.User, error)
	SetBearerToken(token string)
}

// Store persists the credential across restarts.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	SetMany(ctx context.Context, values map[string]string) error
	Delete(ctx context.Context, keys ...string) error
}

// Session is the client-side credential holder.
type Session struct {
	api   Authenticator
	store Store
	log   log.Logger

	mu    sync.RWMutex
	token string
	role  domain.Role
	user  *truckdashsdk.User
}

// New restores any persisted credential and installs it on the API client.
func New(ctx context.Context, api Authenticator, kv Store, logger log.Logger) (*Session, error) {
	s := &Session{api: api, store: kv, log: log.OrNop(logger).WithName("session")}
	token, err := optional(kv.Get(ctx, KeyToken))
	if err != nil {
		return nil, fmt.Errorf("restore token: %w", err)
	}
	role, err := optional(kv.Get(ctx, KeyRole))
	if err != nil {
		return nil, fmt.Errorf("restore role: %w", err)
	}
	if token == "" || role == "" {
		// A half-persisted credential is treated as none.
		if token != "" || role != "" {
			s.log.Warn("discarding incomplete persisted session")
			if err := kv.Delete(ctx, KeyToken, KeyRole); err != nil {
				return nil, fmt.Errorf("clear incomplete session: %w", err)
			}
		}
		api.SetBearerToken("")
		return s, nil
	}
	s.token = token
	s.role = domain.Role(role)
	api.SetBearerToken(token)
	s.log.Debug("restored session", "role", role)
	return s, nil
}

// Login authenticates and then loads the profile. It reports success and never returns an error;
// failures are logged.
func (s *Session) Login(ctx context.Context, username, password string) bool {
	tok, err := s.api.Login(ctx, username, password)
	if err != nil {
		s.log.Error(err, "login failed", "username", username)
		return false
	}
	if tok.AccessToken == "" {
		s.log.Error(nil, "login returned an empty token", "username", username)
		return false
	}
	if err := s.store.SetMany(ctx, map[string]string{KeyToken: tok.AccessToken, KeyRole: tok.Role}); err != nil {
		s.log.Error(err, "persist session failed", "username", username)
		return false
	}
	s.mu.Lock()
	s.token = tok.AccessToken
	s.role = domain.Role(tok.Role)
	s.user = nil
	s.mu.Unlock()
	s.api.SetBearerToken(tok.AccessToken)

	if err := s.FetchUser(ctx); err != nil {
		return false
	}
	s.log.Info("logged in", "username", username, "role", tok.Role)
	return true
}

// FetchUser refreshes the profile. An unfetchable profile ends the session.
func (s *Session) FetchUser(ctx context.Context) error {
	u, err := s.api.Me(ctx)
	if err != nil {
		s.log.Error(err, "fetch user failed; logging out")
		if lerr := s.Logout(ctx); lerr != nil {
			s.log.Error(lerr, "logout after failed profile fetch")
		}
		return err
	}
	if err := s.store.SetMany(ctx, map[string]string{KeyRole: u.Role}); err != nil {
		s.log.Warn("persist role failed", "error", err.Error())
	}
	s.mu.Lock()
	s.user = &u
	s.role = domain.Role(u.Role)
	s.mu.Unlock()
	return nil
}

// Logout clears the in-memory credential, the client's default credential and
// the persisted keys. Memory is always cleared; a persistence failure is returned.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.token = ""
	s.role = ""
	s.user = nil
	s.mu.Unlock()
	s.api.SetBearerToken("")
	if err := s.store.Delete(ctx, KeyToken, KeyRole); err != nil {
		return fmt.Errorf("clear persisted session: %w", err)
	}
	return nil
}

func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != ""
}

// HasRole reports whether the current role ranks at least required.
func (s *Session) HasRole(required domain.Role) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.role == "" {
		return false
	}
	return s.role.Satisfies(required)
}

// Require returns ErrUnauthenticated or a domain.ForbiddenError when the
// session cannot act with the required role.
func (s *Session) Require(required domain.Role) error {
	if !s.IsAuthenticated() {
		return ErrUnauthenticated
	}
	if !s.HasRole(required) {
		return domain.ForbiddenError{Required: required, Current: s.Role()}
	}
	return nil
}

func (s *Session) Role() domain.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User returns the loaded profile, if any.
func (s *Session) User() (truckdashsdk.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return truckdashsdk.User{}, false
	}
	return *s.user, true
}

// TokenClaims is what the dashboard can read out of the bearer token.
type TokenClaims struct {
	Subject   string
	Role      string
	ExpiresAt time.Time
}

type accessClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// Claims decodes the bearer token without verifying it. The signature is the
// backend's concern; the client only reads it for display.
func (s *Session) Claims() (TokenClaims, bool) {
	token := s.Token()
	if token == "" {
		return TokenClaims{}, false
	}
	claims := &accessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return TokenClaims{}, false
	}
	out := TokenClaims{Subject: claims.Subject, Role: claims.Role}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, true
}

func optional(v string, err error) (string, error) {
	if err == nil {
		return v, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	return "", err
}
