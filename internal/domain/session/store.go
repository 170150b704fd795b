package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/shopwise/internal/domain/apierr"
	"github.com/xenking/shopwise/internal/domain/user"
	"github.com/xenking/shopwise/internal/observe"
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for swallowed failures.
func WithLogger(lg *zap.Logger) Option {
	return func(s *Store) { s.lg = lg }
}

// WithMeterProvider sets the provider for the transition counter.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Store) { s.mp = mp }
}

// WithClock overrides the time source used for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store owns the session state and its persisted copy.
type Store struct {
	kv      KV
	fetcher IdentityFetcher
	lg      *zap.Logger
	mp      metric.MeterProvider
	now     func() time.Time

	// transitionMu serializes every transition together with its persisted
	// writes. mu guards the in-memory fields for readers.
	transitionMu sync.Mutex
	mu           sync.RWMutex
	state        State
	identity     *user.User
	token        string
	pending      string // token under restore
	version      uint64

	subs        observe.Broadcaster[Snapshot]
	transitions metric.Int64Counter
}

// New creates a Store in the Unauthenticated state. Call Restore to load a
// persisted session.
func New(kv KV, fetcher IdentityFetcher, opts ...Option) *Store {
	s := &Store{
		kv:      kv,
		fetcher: fetcher,
		lg:      zap.NewNop(),
		mp:      otel.GetMeterProvider(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}

	counter, err := s.mp.Meter("github.com/xenking/shopwise/session").Int64Counter(
		"shopwise.session.transitions",
		metric.WithDescription("Session state transitions"),
	)
	if err != nil {
		s.lg.Warn("Create transition counter", zap.Error(err))
	}
	s.transitions = counter
	return s
}

// Snapshot returns the current session view.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Token returns the current credential token, empty unless authenticated.
func (s *Store) Token() string {
	return s.Snapshot().Token
}

// Subscribe registers fn for state-change notifications.
func (s *Store) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	return s.subs.Subscribe(fn)
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{State: s.state, Version: s.version}
	if s.state == Authenticated {
		snap.Identity = s.identity.Clone()
		snap.Token = s.token
	}
	return snap
}

// set applies a transition. Callers hold transitionMu.
func (s *Store) set(state State, identity *user.User, token, pending string) Snapshot {
	s.mu.Lock()
	s.state = state
	s.identity = identity.Clone()
	s.token = token
	s.pending = pending
	s.version++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if s.transitions != nil {
		s.transitions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("state", state.String())))
	}
	return snap
}

// Restore loads a persisted token and resolves its identity. Failures are
// swallowed: the store ends up Unauthenticated and nothing is surfaced. The
// resulting state is returned.
func (s *Store) Restore(ctx context.Context) State {
	s.transitionMu.Lock()
	if s.state != Unauthenticated {
		state := s.state
		s.transitionMu.Unlock()
		return state
	}

	raw, err := s.kv.Get(ctx, KeyToken)
	if err != nil || len(raw) == 0 {
		s.transitionMu.Unlock()
		if err != nil && !errors.Is(err, ErrKeyNotFound) {
			s.lg.Debug("Read persisted token", zap.Error(err))
		}
		return Unauthenticated
	}
	token := string(raw)

	snap := s.set(Restoring, nil, "", token)
	epoch := snap.Version
	s.transitionMu.Unlock()
	s.subs.Publish(snap)

	if tokenExpired(token, s.now()) {
		s.lg.Debug("Persisted token expired")
		return s.finishRestore(ctx, epoch, nil, true)
	}

	identity, err := s.fetcher.FetchIdentity(ctx, token)
	if err != nil {
		s.lg.Debug("Restore session", zap.Error(err))
		return s.finishRestore(ctx, epoch, nil, apierr.IsAuthExpired(err))
	}
	return s.finishRestore(ctx, epoch, identity, false)
}

// finishRestore applies the outcome of a restore started at epoch. A restore
// superseded by login or logout is discarded. The persisted token is dropped
// only when it is known to be invalid; other failures keep it for the next
// start.
func (s *Store) finishRestore(ctx context.Context, epoch uint64, identity *user.User, invalid bool) State {
	s.transitionMu.Lock()
	if s.version != epoch {
		state := s.state
		s.transitionMu.Unlock()
		s.lg.Debug("Discard superseded restore")
		return state
	}
	token := s.pending

	if identity == nil {
		if invalid {
			if err := s.clearPersisted(ctx); err != nil {
				s.lg.Debug("Clear invalid session", zap.Error(err))
			}
		}
		snap := s.set(Unauthenticated, nil, "", "")
		s.transitionMu.Unlock()
		s.subs.Publish(snap)
		return Unauthenticated
	}

	if err := s.persistUser(ctx, identity); err != nil {
		s.lg.Debug("Persist restored identity", zap.Error(err))
	}
	snap := s.set(Authenticated, identity, token, "")
	s.transitionMu.Unlock()
	s.subs.Publish(snap)
	return Authenticated
}

// Login persists token and identity and moves to Authenticated in a single
// transition.
func (s *Store) Login(ctx context.Context, identity *user.User, token string) error {
	if identity == nil || token == "" {
		return ErrInvalidCredentials
	}

	s.transitionMu.Lock()
	if err := s.kv.Set(ctx, KeyToken, []byte(token)); err != nil {
		s.transitionMu.Unlock()
		return errors.Wrap(err, "persist token")
	}
	if err := s.persistUser(ctx, identity); err != nil {
		_ = s.kv.Delete(ctx, KeyToken)
		s.transitionMu.Unlock()
		return err
	}
	snap := s.set(Authenticated, identity, token, "")
	s.transitionMu.Unlock()

	s.subs.Publish(snap)
	return nil
}

// Logout clears the persisted session and the identity. Persisted keys are
// cleared even when already unauthenticated, as after an offline restore; only
// the transition is skipped then.
func (s *Store) Logout(ctx context.Context) error {
	s.transitionMu.Lock()
	err := s.clearPersisted(ctx)
	if s.state == Unauthenticated {
		s.transitionMu.Unlock()
		return err
	}
	snap := s.set(Unauthenticated, nil, "", "")
	s.transitionMu.Unlock()

	s.subs.Publish(snap)
	return err
}

// Expire forces a logout after a 401-equivalent response obtained with token.
// It does nothing when token no longer belongs to the current session, so a
// late failure cannot end a newer session. It reports whether the session
// was ended.
func (s *Store) Expire(ctx context.Context, token string) bool {
	s.transitionMu.Lock()
	current := (s.state == Authenticated && s.token == token) ||
		(s.state == Restoring && s.pending == token)
	if token == "" || !current {
		s.transitionMu.Unlock()
		return false
	}
	if err := s.clearPersisted(ctx); err != nil {
		s.lg.Debug("Clear expired session", zap.Error(err))
	}
	snap := s.set(Unauthenticated, nil, "", "")
	s.transitionMu.Unlock()

	s.subs.Publish(snap)
	return true
}

// Refresh replaces the identity of the session that owns token, e.g. after a
// profile fetch or update. It returns ErrStale when that session has ended.
func (s *Store) Refresh(ctx context.Context, identity *user.User, token string) error {
	if identity == nil {
		return ErrInvalidCredentials
	}

	s.transitionMu.Lock()
	if s.state != Authenticated || s.token != token {
		s.transitionMu.Unlock()
		return ErrStale
	}
	if err := s.persistUser(ctx, identity); err != nil {
		s.transitionMu.Unlock()
		return err
	}
	snap := s.set(Authenticated, identity, token, "")
	s.transitionMu.Unlock()

	s.subs.Publish(snap)
	return nil
}

// LastKnownIdentity returns the persisted identity regardless of state. It is
// informational only: the authoritative identity is the one in Snapshot.
func (s *Store) LastKnownIdentity(ctx context.Context) (*user.User, error) {
	raw, err := s.kv.Get(ctx, KeyUser)
	if err != nil {
		return nil, err
	}
	var u user.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, errors.Wrap(err, "decode persisted identity")
	}
	return &u, nil
}

func (s *Store) persistUser(ctx context.Context, identity *user.User) error {
	raw, err := json.Marshal(identity)
	if err != nil {
		return errors.Wrap(err, "encode identity")
	}
	if err := s.kv.Set(ctx, KeyUser, raw); err != nil {
		return errors.Wrap(err, "persist identity")
	}
	return nil
}

func (s *Store) clearPersisted(ctx context.Context) error {
	var first error
	for _, key := range []string{KeyToken, KeyUser} {
		if err := s.kv.Delete(ctx, key); err != nil && !errors.Is(err, ErrKeyNotFound) && first == nil {
			first = errors.Wrapf(err, "delete %s", key)
		}
	}
	return first
}

// tokenExpired reports whether token is a JWT whose exp claim has passed.
// Opaque tokens are never considered expired locally.
func tokenExpired(token string, now time.Time) bool {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !now.Before(claims.ExpiresAt.Time)
}
