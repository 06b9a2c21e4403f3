// Package adminauth gates the editing surface behind a single shared
// admin password. A successful sign-in issues an opaque session token
// persisted with a TTL; every mutation entry point checks the token at
// the HTTP boundary.
package adminauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidPassword is returned when the supplied password does not
// match the configured admin password.
var ErrInvalidPassword = errors.New("invalid password")

// SessionStore persists issued admin session tokens.
type SessionStore interface {
	SaveSession(ctx context.Context, token string, expiresAt time.Time) error
	CheckSession(ctx context.Context, token string) (bool, error)
	RevokeSession(ctx context.Context, token string) error
}

// Service verifies the shared password and manages admin sessions.
type Service struct {
	sessions     SessionStore
	passwordHash []byte
	ttl          time.Duration
}

// NewService creates an admin auth service. passwordHash is a bcrypt hash
// of the shared admin password.
func NewService(sessions SessionStore, passwordHash string, ttl time.Duration) *Service {
	return &Service{sessions: sessions, passwordHash: []byte(passwordHash), ttl: ttl}
}

// HashPassword bcrypt-hashes a plain admin password, for configurations
// that supply the password instead of a precomputed hash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// SessionTTL returns the configured session lifetime.
func (s *Service) SessionTTL() time.Duration {
	return s.ttl
}

// SignIn checks the password and issues a new session token.
func (s *Service) SignIn(ctx context.Context, password string) (string, error) {
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)); err != nil {
		return "", ErrInvalidPassword
	}

	token, err := generateToken()
	if err != nil {
		return "", err
	}
	if err := s.sessions.SaveSession(ctx, token, time.Now().Add(s.ttl)); err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}
	return token, nil
}

// Verify reports whether the token names a live admin session.
func (s *Service) Verify(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	return s.sessions.CheckSession(ctx, token)
}

// SignOut revokes a session token. Revoking an unknown token is a no-op.
func (s *Service) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.sessions.RevokeSession(ctx, token)
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
