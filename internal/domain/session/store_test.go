package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/shopwise/internal/domain/apierr"
	"github.com/xenking/shopwise/internal/domain/user"
)

// --- Mock implementations ---

type mockKV struct {
	mu     sync.Mutex
	data   map[string][]byte
	setErr error
	sets   int
}

func newMockKV() *mockKV {
	return &mockKV{data: make(map[string][]byte)}
}

func (m *mockKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return v, nil
}

func (m *mockKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.sets++
	m.data[key] = value
	return nil
}

func (m *mockKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *mockKV) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

type mockFetcher struct {
	identity *user.User
	err      error
	calls    int
	// gate, when set, blocks FetchIdentity until closed.
	gate    chan struct{}
	started chan struct{}
}

func (m *mockFetcher) FetchIdentity(_ context.Context, _ string) (*user.User, error) {
	m.calls++
	if m.started != nil {
		close(m.started)
	}
	if m.gate != nil {
		<-m.gate
	}
	return m.identity, m.err
}

// --- Helpers ---

func testUser() *user.User {
	return &user.User{ID: 1, Username: "user", Email: "user@test.com"}
}

func recordStates(s *Store) *[]State {
	var (
		mu     sync.Mutex
		states []State
	)
	s.Subscribe(func(snap Snapshot) {
		mu.Lock()
		states = append(states, snap.State)
		mu.Unlock()
	})
	return &states
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)})
	s, err := tok.SignedString([]byte("secret"))
	require.NoError(t, err)
	return s
}

// --- Tests ---

func TestLogin(t *testing.T) {
	kv := newMockKV()
	s := New(kv, &mockFetcher{})
	states := recordStates(s)

	require.NoError(t, s.Login(context.Background(), &user.User{Username: "user"}, "tok123"))

	snap := s.Snapshot()
	assert.Equal(t, Authenticated, snap.State)
	assert.Equal(t, "user", snap.Identity.Username)
	assert.Equal(t, "tok123", snap.Token)
	assert.Equal(t, []State{Authenticated}, *states, "exactly one transition")

	raw, err := kv.Get(context.Background(), KeyToken)
	require.NoError(t, err)
	assert.Equal(t, "tok123", string(raw))

	var persisted user.User
	raw, err = kv.Get(context.Background(), KeyUser)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &persisted))
	assert.Equal(t, "user", persisted.Username)
}

func TestLogin_Invalid(t *testing.T) {
	s := New(newMockKV(), &mockFetcher{})

	require.ErrorIs(t, s.Login(context.Background(), nil, "tok"), ErrInvalidCredentials)
	require.ErrorIs(t, s.Login(context.Background(), testUser(), ""), ErrInvalidCredentials)
	assert.Equal(t, Unauthenticated, s.Snapshot().State)
}

func TestLogin_PersistFailure(t *testing.T) {
	kv := newMockKV()
	kv.setErr = errors.New("disk full")
	s := New(kv, &mockFetcher{})

	err := s.Login(context.Background(), testUser(), "tok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist token")
	assert.Equal(t, Unauthenticated, s.Snapshot().State)
	assert.Nil(t, s.Snapshot().Identity)
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	kv := newMockKV()
	s := New(kv, &mockFetcher{})
	require.NoError(t, s.Login(ctx, testUser(), "tok"))
	states := recordStates(s)

	require.NoError(t, s.Logout(ctx))
	require.NoError(t, s.Logout(ctx))

	snap := s.Snapshot()
	assert.Equal(t, Unauthenticated, snap.State)
	assert.Nil(t, snap.Identity)
	assert.Empty(t, snap.Token)
	assert.False(t, kv.has(KeyToken))
	assert.False(t, kv.has(KeyUser))
	assert.Equal(t, []State{Unauthenticated}, *states, "second logout is a no-op")
}

func TestLogout_AfterOfflineRestore(t *testing.T) {
	ctx := context.Background()
	kv := newMockKV()
	require.NoError(t, kv.Set(ctx, KeyToken, []byte("tok123")))
	require.NoError(t, kv.Set(ctx, KeyUser, []byte(`{"username":"user"}`)))

	s := New(kv, &mockFetcher{err: apierr.Connectivity(errors.New("offline"))})
	require.Equal(t, Unauthenticated, s.Restore(ctx))
	require.True(t, kv.has(KeyToken), "offline restore keeps the token")
	states := recordStates(s)

	require.NoError(t, s.Logout(ctx))
	assert.False(t, kv.has(KeyToken))
	assert.False(t, kv.has(KeyUser))
	assert.Empty(t, *states, "already unauthenticated, no transition")

	next := New(kv, &mockFetcher{identity: testUser()})
	assert.Equal(t, Unauthenticated, next.Restore(ctx))
}

func TestRestore(t *testing.T) {
	ctx := context.Background()

	t.Run("no stored token", func(t *testing.T) {
		f := &mockFetcher{}
		s := New(newMockKV(), f)
		states := recordStates(s)

		assert.Equal(t, Unauthenticated, s.Restore(ctx))
		assert.Zero(t, f.calls)
		assert.Empty(t, *states)
	})

	t.Run("fetch success", func(t *testing.T) {
		kv := newMockKV()
		require.NoError(t, kv.Set(ctx, KeyToken, []byte("tok")))
		s := New(kv, &mockFetcher{identity: testUser()})
		states := recordStates(s)

		assert.Equal(t, Authenticated, s.Restore(ctx))
		assert.Equal(t, []State{Restoring, Authenticated}, *states)
		assert.Equal(t, "tok", s.Token())
		assert.Equal(t, "user", s.Snapshot().Identity.Username)
		assert.True(t, kv.has(KeyUser))
	})

	t.Run("auth failure clears persisted token", func(t *testing.T) {
		kv := newMockKV()
		require.NoError(t, kv.Set(ctx, KeyToken, []byte("tok")))
		s := New(kv, &mockFetcher{err: apierr.AuthExpired("")})
		states := recordStates(s)

		assert.Equal(t, Unauthenticated, s.Restore(ctx))
		assert.Equal(t, []State{Restoring, Unauthenticated}, *states)
		assert.False(t, kv.has(KeyToken))
	})

	t.Run("network failure keeps persisted token", func(t *testing.T) {
		kv := newMockKV()
		require.NoError(t, kv.Set(ctx, KeyToken, []byte("tok")))
		s := New(kv, &mockFetcher{err: apierr.Connectivity(errors.New("offline"))})

		assert.Equal(t, Unauthenticated, s.Restore(ctx))
		assert.Nil(t, s.Snapshot().Identity)
		assert.True(t, kv.has(KeyToken))
	})

	t.Run("expired jwt skips the network", func(t *testing.T) {
		kv := newMockKV()
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, kv.Set(ctx, KeyToken, []byte(signedToken(t, now.Add(-time.Minute)))))
		f := &mockFetcher{identity: testUser()}
		s := New(kv, f, WithClock(func() time.Time { return now }))

		assert.Equal(t, Unauthenticated, s.Restore(ctx))
		assert.Zero(t, f.calls)
		assert.False(t, kv.has(KeyToken))
	})

	t.Run("valid jwt is fetched", func(t *testing.T) {
		kv := newMockKV()
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, kv.Set(ctx, KeyToken, []byte(signedToken(t, now.Add(time.Hour)))))
		f := &mockFetcher{identity: testUser()}
		s := New(kv, f, WithClock(func() time.Time { return now }))

		assert.Equal(t, Authenticated, s.Restore(ctx))
		assert.Equal(t, 1, f.calls)
	})
}

func TestRestore_SupersededByLogout(t *testing.T) {
	ctx := context.Background()
	kv := newMockKV()
	require.NoError(t, kv.Set(ctx, KeyToken, []byte("tok")))
	f := &mockFetcher{identity: testUser(), gate: make(chan struct{}), started: make(chan struct{})}
	s := New(kv, f)

	done := make(chan State)
	go func() { done <- s.Restore(ctx) }()

	<-f.started
	assert.Equal(t, Restoring, s.Snapshot().State)
	assert.Nil(t, s.Snapshot().Identity, "no identity without a confirmed token")

	require.NoError(t, s.Logout(ctx))
	close(f.gate)

	assert.Equal(t, Unauthenticated, <-done)
	assert.Equal(t, Unauthenticated, s.Snapshot().State)
	assert.False(t, kv.has(KeyToken))
}

func TestRestore_SupersededByLogin(t *testing.T) {
	ctx := context.Background()
	kv := newMockKV()
	require.NoError(t, kv.Set(ctx, KeyToken, []byte("old")))
	f := &mockFetcher{err: apierr.AuthExpired(""), gate: make(chan struct{}), started: make(chan struct{})}
	s := New(kv, f)

	done := make(chan State)
	go func() { done <- s.Restore(ctx) }()

	<-f.started
	require.NoError(t, s.Login(ctx, testUser(), "new"))
	close(f.gate)

	assert.Equal(t, Authenticated, <-done)
	assert.Equal(t, "new", s.Token())
	raw, err := kv.Get(ctx, KeyToken)
	require.NoError(t, err)
	assert.Equal(t, "new", string(raw), "stale restore failure must not clear the new token")
}

func TestExpire(t *testing.T) {
	ctx := context.Background()
	kv := newMockKV()
	s := New(kv, &mockFetcher{})
	require.NoError(t, s.Login(ctx, testUser(), "tok"))

	assert.False(t, s.Expire(ctx, "other"), "401 for a previous token is ignored")
	assert.Equal(t, Authenticated, s.Snapshot().State)

	assert.True(t, s.Expire(ctx, "tok"))
	assert.Equal(t, Unauthenticated, s.Snapshot().State)
	assert.False(t, kv.has(KeyToken))

	assert.False(t, s.Expire(ctx, "tok"))
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	s := New(newMockKV(), &mockFetcher{})

	require.ErrorIs(t, s.Refresh(ctx, testUser(), "tok"), ErrStale)

	require.NoError(t, s.Login(ctx, testUser(), "tok"))
	updated := testUser()
	updated.FirstName = "Ada"
	require.NoError(t, s.Refresh(ctx, updated, "tok"))
	assert.Equal(t, "Ada", s.Snapshot().Identity.FirstName)

	require.ErrorIs(t, s.Refresh(ctx, updated, "previous"), ErrStale)
}

func TestSnapshot_IsolatedFromMutation(t *testing.T) {
	s := New(newMockKV(), &mockFetcher{})
	u := testUser()
	require.NoError(t, s.Login(context.Background(), u, "tok"))

	u.Username = "mutated"
	snap := s.Snapshot()
	snap.Identity.Username = "also-mutated"

	assert.Equal(t, "user", s.Snapshot().Identity.Username)
}

func TestLastKnownIdentity(t *testing.T) {
	ctx := context.Background()
	s := New(newMockKV(), &mockFetcher{})

	_, err := s.LastKnownIdentity(ctx)
	require.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, s.Login(ctx, testUser(), "tok"))
	u, err := s.LastKnownIdentity(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user@test.com", u.Email)
}
