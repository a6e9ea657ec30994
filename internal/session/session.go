// Package session tracks the signed-in user. Exactly one session is active per
// running process; entity stores follow it through OnUserChange.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrInvalidCredentials is returned when email or password do not match.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrNoSession is returned when an operation needs a signed-in user.
	ErrNoSession = errors.New("no active session")
)

// Session is an authenticated user context.
type Session struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	AuthToken string    `json:"authToken"`
	Expiry    time.Time `json:"expiry"`
}

// Expired reports whether the session is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !s.Expiry.IsZero() && !now.Before(s.Expiry)
}

// Authenticator turns credentials into a session.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (Session, error)
}

// UserChangeFunc is called when the signed-in user changes. userID is empty
// after sign-out.
type UserChangeFunc func(ctx context.Context, userID string)

// Manager holds the current session and notifies listeners on user changes.
// Token refreshes do not notify listeners.
type Manager struct {
	auth Authenticator
	ttl  time.Duration
	log  zerolog.Logger
	now  func() time.Time

	// deliverMu orders listener rounds so they observe user changes in the
	// order the changes were made.
	deliverMu sync.Mutex

	mu        sync.RWMutex
	current   *Session
	loading   bool
	listeners map[uint64]UserChangeFunc
	nextID    uint64
}

// NewManager creates a Manager with no active session.
func NewManager(auth Authenticator, ttl time.Duration, log zerolog.Logger) *Manager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{
		auth:      auth,
		ttl:       ttl,
		log:       log,
		now:       time.Now,
		listeners: make(map[uint64]UserChangeFunc),
	}
}

// SignIn authenticates and makes the result the active session.
func (m *Manager) SignIn(ctx context.Context, email, password string) (Session, error) {
	if m.auth == nil {
		return Session{}, fmt.Errorf("SignIn: no authenticator configured")
	}

	m.setLoading(true)
	s, err := m.auth.Authenticate(ctx, email, password)
	m.setLoading(false)
	if err != nil {
		return Session{}, fmt.Errorf("SignIn: %w", err)
	}
	if s.Expiry.IsZero() {
		s.Expiry = m.now().Add(m.ttl)
	}

	m.set(ctx, &s)
	m.log.Info().Str("user_id", s.UserID).Msg("Signed in")
	return s, nil
}

// Restore installs an existing session, for example one persisted by a
// previous run. Expired sessions are rejected.
func (m *Manager) Restore(ctx context.Context, s Session) error {
	if s.UserID == "" {
		return fmt.Errorf("Restore: empty user id")
	}
	if s.Expired(m.now()) {
		return fmt.Errorf("Restore: %w: session expired", ErrNoSession)
	}
	m.set(ctx, &s)
	return nil
}

// SignOut ends the active session. Signing out with no session is a no-op.
func (m *Manager) SignOut(ctx context.Context) {
	m.set(ctx, nil)
	m.log.Info().Msg("Signed out")
}

// Refresh issues a new token for the current user and extends the expiry.
// Listeners are not notified because the user is unchanged.
func (m *Manager) Refresh(ctx context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.Expired(m.now()) {
		return Session{}, fmt.Errorf("Refresh: %w", ErrNoSession)
	}
	m.current.AuthToken = uuid.New().String()
	m.current.Expiry = m.now().Add(m.ttl)
	return *m.current, nil
}

// Current returns the active, unexpired session.
func (m *Manager) Current() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == nil || m.current.Expired(m.now()) {
		return Session{}, false
	}
	return *m.current, true
}

// UserID returns the signed-in user's id, or "" when signed out.
func (m *Manager) UserID() string {
	s, ok := m.Current()
	if !ok {
		return ""
	}
	return s.UserID
}

// Loading reports whether a sign-in is in progress.
func (m *Manager) Loading() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loading
}

// Authorize returns the active session if token matches it.
func (m *Manager) Authorize(token string) (Session, error) {
	s, ok := m.Current()
	if !ok {
		return Session{}, fmt.Errorf("Authorize: %w", ErrNoSession)
	}
	if token == "" || token != s.AuthToken {
		return Session{}, fmt.Errorf("Authorize: %w", ErrInvalidCredentials)
	}
	return s, nil
}

// OnUserChange registers fn and returns a function that unregisters it.
// Listeners run synchronously, in registration order, outside the manager's
// lock. A change made while listeners are still running for the previous one
// waits until that round finishes.
func (m *Manager) OnUserChange(fn UserChangeFunc) (cancel func()) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Manager) setLoading(v bool) {
	m.mu.Lock()
	m.loading = v
	m.mu.Unlock()
}

func (m *Manager) set(ctx context.Context, s *Session) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	m.mu.Lock()
	prev := ""
	if m.current != nil {
		prev = m.current.UserID
	}
	m.current = s
	next := ""
	if s != nil {
		next = s.UserID
	}

	var fns []UserChangeFunc
	if prev != next {
		ids := make([]uint64, 0, len(m.listeners))
		for id := range m.listeners {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			fns = append(fns, m.listeners[id])
		}
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(ctx, next)
	}
}
