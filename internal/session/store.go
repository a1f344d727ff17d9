// Package session keeps the credentials of the logged-in user.
package session

import (
	"Cerberus/internal/model"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Store holds the current session. It has a single writer (login, logout or
// an authorization failure) and many readers.
type Store struct {
	mu      sync.RWMutex
	current *model.Session
}

// NewStore creates an empty, unauthenticated store.
func NewStore() *Store {
	return &Store{}
}

// SetSession replaces the current session.
func (s *Store) SetSession(tokens model.Tokens, user model.User) {
	sess := &model.Session{
		AccessToken:  tokens.Access,
		RefreshToken: tokens.Refresh,
		User:         user,
		ExpiresAt:    tokenExpiry(tokens.Access),
	}
	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()
}

// ClearSession forgets the current session. Clearing an empty store is a no-op.
func (s *Store) ClearSession() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

// AccessToken returns the current access token, if any.
func (s *Store) AccessToken() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil || s.current.AccessToken == "" {
		return "", false
	}
	return s.current.AccessToken, true
}

// IsAuthenticated reports whether an access token is present. Expiry is
// left to the backend, which answers 401 once the token is no longer valid.
func (s *Store) IsAuthenticated() bool {
	_, ok := s.AccessToken()
	return ok
}

// User returns the identity of the logged-in user.
func (s *Store) User() (model.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return model.User{}, false
	}
	return s.current.User, true
}

// Current returns a copy of the whole session.
func (s *Store) Current() (model.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return model.Session{}, false
	}
	return *s.current, true
}

// tokenExpiry reads the exp claim without verifying the signature; the
// client never holds the signing key.
func tokenExpiry(token string) time.Time {
	if token == "" {
		return time.Time{}
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
