package redisstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/shopwise/internal/domain/session"
)

// --- Helpers ---

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

// --- Tests ---

func TestStore(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	s := New(rdb, "")

	_, err := s.Get(ctx, session.KeyToken)
	require.ErrorIs(t, err, session.ErrKeyNotFound)

	require.NoError(t, s.Set(ctx, session.KeyToken, []byte("tok123")))
	raw, err := mr.Get(DefaultPrefix + ":" + session.KeyToken)
	require.NoError(t, err)
	assert.Equal(t, "tok123", raw)
	assert.Zero(t, mr.TTL(DefaultPrefix+":"+session.KeyToken))

	got, err := s.Get(ctx, session.KeyToken)
	require.NoError(t, err)
	assert.Equal(t, []byte("tok123"), got)

	require.NoError(t, s.Delete(ctx, session.KeyToken))
	require.NoError(t, s.Delete(ctx, session.KeyToken))
	assert.False(t, mr.Exists(DefaultPrefix+":"+session.KeyToken))
}

func TestStore_PrefixIsolation(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	alice := New(rdb, "alice")
	bob := New(rdb, "bob")

	require.NoError(t, alice.Set(ctx, session.KeyToken, []byte("a")))
	_, err := bob.Get(ctx, session.KeyToken)
	require.ErrorIs(t, err, session.ErrKeyNotFound)
}

func TestStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	s := New(rdb, "")
	mr.Close()

	_, err := s.Get(ctx, session.KeyToken)
	require.Error(t, err)
	assert.NotErrorIs(t, err, session.ErrKeyNotFound)
}

func TestDial(t *testing.T) {
	mr, _ := newTestRedis(t)

	rdb, err := Dial(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	require.NoError(t, rdb.Close())

	mr.Close()
	_, err = Dial(context.Background(), mr.Addr(), "", 0)
	require.Error(t, err)
}
