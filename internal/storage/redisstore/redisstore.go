// Package redisstore is a session.KV backed by Redis, for clients sharing a
// session across hosts.
package redisstore

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/shopwise/internal/domain/session"
)

// DefaultPrefix namespaces keys when no prefix is configured.
const DefaultPrefix = "shopwise:session"

var _ session.KV = (*Store)(nil)

// Store maps each key to prefix:key.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
}

// New returns a Store using rdb. The client is owned by the caller.
func New(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "ping redis %s", addr)
	}
	return rdb, nil
}

func (s *Store) key(k string) string {
	return s.prefix + ":" + k
}

// Get implements session.KV.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, session.ErrKeyNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get %s", key)
	}
	return v, nil
}

// Set implements session.KV. Values do not expire.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := s.rdb.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return errors.Wrapf(err, "set %s", key)
	}
	return nil
}

// Delete implements session.KV.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return errors.Wrapf(err, "delete %s", key)
	}
	return nil
}
