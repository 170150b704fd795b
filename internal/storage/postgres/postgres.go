// Package postgres is a session.KV backed by PostgreSQL.
package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/shopwise/db"
	"github.com/xenking/shopwise/internal/domain/session"
)

// DefaultNamespace is used when no namespace is configured.
const DefaultNamespace = "default"

// NewPool creates a pgxpool.Pool and verifies the connection.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse database config")
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	return pool, nil
}

// RunMigrations executes the embedded DDL schema against the pool.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, db.Schema); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	return nil
}

var _ session.KV = (*Store)(nil)

// Store keeps keys in the session_kv table under a namespace, so several
// clients can share one database.
type Store struct {
	pool      *pgxpool.Pool
	namespace string
}

// New returns a Store using pool. The pool is owned by the caller.
func New(pool *pgxpool.Pool, namespace string) *Store {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Store{pool: pool, namespace: namespace}
}

// Get implements session.KV.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM session_kv WHERE namespace = $1 AND key = $2`,
		s.namespace, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrKeyNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get %s", key)
	}
	return value, nil
}

// Set implements session.KV.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO session_kv (namespace, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		s.namespace, key, value,
	)
	if err != nil {
		return errors.Wrapf(err, "set %s", key)
	}
	return nil
}

// Delete implements session.KV.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM session_kv WHERE namespace = $1 AND key = $2`,
		s.namespace, key,
	)
	if err != nil {
		return errors.Wrapf(err, "delete %s", key)
	}
	return nil
}
