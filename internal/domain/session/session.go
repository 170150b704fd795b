// Package session holds the authenticated identity and credential token of the
// client and persists them across restarts.
//
// The store is a three-state machine:
//
//	Unauthenticated -> Restoring        restore attempt with a stored token
//	Restoring       -> Authenticated    identity fetch succeeded
//	Restoring       -> Unauthenticated  identity fetch failed
//	Unauthenticated -> Authenticated    login
//	Authenticated   -> Unauthenticated  logout or 401-equivalent response
//
// Identity and token are exposed together or not at all. Every transition bumps
// the snapshot version; work started under an older version (an implicit
// restore, a profile fetch) is discarded when it completes.
package session

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/shopwise/internal/domain/user"
)

// State of the session machine.
type State int

const (
	Unauthenticated State = iota
	Restoring
	Authenticated
)

func (s State) String() string {
	switch s {
	case Restoring:
		return "restoring"
	case Authenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// Persisted keys.
const (
	KeyToken = "token"
	KeyUser  = "user"
)

var (
	// ErrKeyNotFound is returned by KV implementations for absent keys.
	ErrKeyNotFound = errors.New("key not found")
	// ErrStale is returned when a result belongs to a session that has since
	// been replaced or ended.
	ErrStale = errors.New("session changed while request was in flight")
	// ErrInvalidCredentials is returned by Login for an empty token or identity.
	ErrInvalidCredentials = errors.New("identity and token are required")
)

// KV is the client-side persistence capability owned by the Store.
// Implementations must only be readable by the current client.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// IdentityFetcher resolves the identity behind a stored token.
type IdentityFetcher interface {
	FetchIdentity(ctx context.Context, token string) (*user.User, error)
}

// IdentityFetcherFunc adapts a function to IdentityFetcher.
type IdentityFetcherFunc func(ctx context.Context, token string) (*user.User, error)

// FetchIdentity calls f.
func (f IdentityFetcherFunc) FetchIdentity(ctx context.Context, token string) (*user.User, error) {
	return f(ctx, token)
}

// Snapshot is an immutable view of the session.
type Snapshot struct {
	State    State
	Identity *user.User
	Token    string
	Version  uint64
}

// StateVersion implements observe.Versioned.
func (s Snapshot) StateVersion() uint64 { return s.Version }

// Authenticated reports whether the snapshot holds a usable session.
func (s Snapshot) Authenticated() bool { return s.State == Authenticated }
