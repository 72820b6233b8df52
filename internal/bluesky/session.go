package bluesky

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultSessionLifetime is assumed when a login response does not say how
// long its token lives.
const DefaultSessionLifetime = time.Hour

// Session is an authenticated PDS session.
type Session struct {
	AccessJwt string
	DID       string
	Handle    string
	Expiry    time.Time
}

// Authenticator performs the login exchange.
type Authenticator interface {
	CreateSession(ctx context.Context, identifier, password string) (*Grant, error)
}

// SessionManager owns one authenticated session: it logs in lazily on first
// use, tracks expiry, and renews under a lock so concurrent callers never
// trigger duplicate logins.
type SessionManager struct {
	auth       Authenticator
	identifier string
	password   string
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	current *Session
	logins  int
}

// NewSessionManager creates a SessionManager for the given credentials.
func NewSessionManager(auth Authenticator, identifier, password string, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		auth:       auth,
		identifier: identifier,
		password:   password,
		logger:     logger,
		now:        time.Now,
	}
}

// GetOrCreate returns the current session, logging in first if there is
// none or it has expired. A failed login leaves no session behind and
// returns an error wrapping ErrAuth.
func (m *SessionManager) GetOrCreate(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.current != nil && !now.After(m.current.Expiry) {
		return m.current, nil
	}

	if m.current != nil {
		m.logger.Info("session expired, renewing", "did", m.current.DID, "expiry", m.current.Expiry)
	}
	m.current = nil

	grant, err := m.auth.CreateSession(ctx, m.identifier, m.password)
	if err != nil {
		m.logger.Error("authentication failed", "identifier", m.identifier, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrAuth, err)
	}
	m.logins++

	lifetime := grant.Lifetime
	if lifetime <= 0 {
		lifetime = DefaultSessionLifetime
	}
	m.current = &Session{
		AccessJwt: grant.AccessJwt,
		DID:       grant.DID,
		Handle:    grant.Handle,
		Expiry:    now.Add(lifetime),
	}
	m.logger.Info("authenticated", "did", grant.DID, "handle", grant.Handle, "expiry", m.current.Expiry)

	return m.current, nil
}

// Invalidate drops s if it is still the current session, so the next caller
// logs in again. A session already replaced by a renewal is left alone.
func (m *SessionManager) Invalidate(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == s {
		m.current = nil
	}
}

// Logins returns how many successful login exchanges have been made.
func (m *SessionManager) Logins() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logins
}
