package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/pocketpilot/internal/remote"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// PasswordAuthenticator checks bcrypt password hashes stored by the backend.
type PasswordAuthenticator struct {
	users remote.UserLookup
	ttl   time.Duration
	now   func() time.Time
}

// NewPasswordAuthenticator creates an authenticator over users.
func NewPasswordAuthenticator(users remote.UserLookup, ttl time.Duration) *PasswordAuthenticator {
	return &PasswordAuthenticator{users: users, ttl: ttl, now: time.Now}
}

// Authenticate implements Authenticator.
func (a *PasswordAuthenticator) Authenticate(ctx context.Context, email, password string) (Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}

	u, err := a.users.FindUserByEmail(ctx, email)
	if errors.Is(err, remote.ErrNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, fmt.Errorf("Authenticate: looking up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}

	s := Session{
		UserID:    u.ID,
		Email:     u.Email,
		AuthToken: uuid.New().String(),
	}
	if a.ttl > 0 {
		s.Expiry = a.now().Add(a.ttl)
	}
	return s, nil
}

// HashPassword returns the bcrypt hash stored for a new user.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("HashPassword: %w", err)
	}
	return string(hash), nil
}

// Ensure PasswordAuthenticator implements Authenticator.
var _ Authenticator = (*PasswordAuthenticator)(nil)
