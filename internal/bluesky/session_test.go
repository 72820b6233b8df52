package bluesky

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAuth struct {
	calls    atomic.Int32
	lifetime time.Duration
	fail     atomic.Bool
	delay    time.Duration
}

func (a *stubAuth) CreateSession(ctx context.Context, identifier, password string) (*Grant, error) {
	n := a.calls.Add(1)
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	if a.fail.Load() {
		return nil, &StatusError{StatusCode: 401, Body: "bad credentials"}
	}
	return &Grant{
		AccessJwt: "jwt-" + string(rune('0'+n)),
		DID:       "did:plc:test",
		Handle:    identifier,
		Lifetime:  a.lifetime,
	}, nil
}

func newTestManager(auth Authenticator, now *time.Time) *SessionManager {
	m := NewSessionManager(auth, "alice.test", "pw", slog.New(slog.DiscardHandler))
	m.now = func() time.Time { return *now }
	return m
}

func TestSessionManager_LazyLogin(t *testing.T) {
	auth := &stubAuth{}
	now := time.Date(2024, 10, 16, 12, 0, 0, 0, time.UTC)
	m := newTestManager(auth, &now)

	assert.Equal(t, int32(0), auth.calls.Load())

	s, err := m.GetOrCreate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "jwt-1", s.AccessJwt)
	assert.Equal(t, "did:plc:test", s.DID)
	assert.Equal(t, now.Add(DefaultSessionLifetime), s.Expiry)

	again, err := m.GetOrCreate(context.Background())
	require.NoError(t, err)
	assert.Same(t, s, again)
	assert.Equal(t, 1, m.Logins())
}

func TestSessionManager_AnnouncedLifetime(t *testing.T) {
	auth := &stubAuth{lifetime: 2 * time.Minute}
	now := time.Date(2024, 10, 16, 12, 0, 0, 0, time.UTC)
	m := newTestManager(auth, &now)

	s, err := m.GetOrCreate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, now.Add(2*time.Minute), s.Expiry)
}

func TestSessionManager_RenewsAfterExpiry(t *testing.T) {
	auth := &stubAuth{}
	now := time.Date(2024, 10, 16, 12, 0, 0, 0, time.UTC)
	m := newTestManager(auth, &now)
	ctx := context.Background()

	first, err := m.GetOrCreate(ctx)
	require.NoError(t, err)

	// exactly at expiry the session is still valid
	now = first.Expiry
	s, err := m.GetOrCreate(ctx)
	require.NoError(t, err)
	assert.Same(t, first, s)

	now = first.Expiry.Add(time.Second)
	renewed, err := m.GetOrCreate(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, renewed)
	assert.Equal(t, "jwt-2", renewed.AccessJwt)
	assert.Equal(t, 2, m.Logins())
}

func TestSessionManager_ConcurrentCallersShareOneLogin(t *testing.T) {
	auth := &stubAuth{delay: 20 * time.Millisecond}
	m := NewSessionManager(auth, "alice.test", "pw", slog.New(slog.DiscardHandler))

	var wg sync.WaitGroup
	sessions := make([]*Session, 16)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.GetOrCreate(context.Background())
			assert.NoError(t, err)
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), auth.calls.Load())
	for _, s := range sessions {
		assert.Same(t, sessions[0], s)
	}
}

func TestSessionManager_FailedLogin(t *testing.T) {
	auth := &stubAuth{}
	auth.fail.Store(true)
	now := time.Date(2024, 10, 16, 12, 0, 0, 0, time.UTC)
	m := newTestManager(auth, &now)
	ctx := context.Background()

	_, err := m.GetOrCreate(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuth))
	assert.True(t, IsUnauthorized(err))
	assert.Equal(t, 0, m.Logins())

	// no session is kept, so the next call tries again
	auth.fail.Store(false)
	s, err := m.GetOrCreate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "jwt-2", s.AccessJwt)
	assert.Equal(t, int32(2), auth.calls.Load())
}

func TestSessionManager_Invalidate(t *testing.T) {
	auth := &stubAuth{}
	now := time.Date(2024, 10, 16, 12, 0, 0, 0, time.UTC)
	m := newTestManager(auth, &now)
	ctx := context.Background()

	stale, err := m.GetOrCreate(ctx)
	require.NoError(t, err)

	m.Invalidate(stale)
	fresh, err := m.GetOrCreate(ctx)
	require.NoError(t, err)
	assert.NotSame(t, stale, fresh)

	// a second invalidation of the stale session must not drop the fresh one
	m.Invalidate(stale)
	current, err := m.GetOrCreate(ctx)
	require.NoError(t, err)
	assert.Same(t, fresh, current)
	assert.Equal(t, 2, m.Logins())
}
