//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/shopwise/internal/domain/session"
	"github.com/xenking/shopwise/internal/domain/user"
)

// --- Helpers ---

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "shopwise",
				"POSTGRES_PASSWORD": "shopwise",
				"POSTGRES_DB":       "shopwise",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://shopwise:shopwise@%s:%s/shopwise?sslmode=disable", host, port.Port())
	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	// Migrations are idempotent.
	require.NoError(t, RunMigrations(ctx, pool))
	return pool
}

// --- Tests ---

func TestStore(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(t)
	s := New(pool, "")

	_, err := s.Get(ctx, session.KeyToken)
	require.ErrorIs(t, err, session.ErrKeyNotFound)

	require.NoError(t, s.Set(ctx, session.KeyToken, []byte("tok1")))
	require.NoError(t, s.Set(ctx, session.KeyToken, []byte("tok2")))
	got, err := s.Get(ctx, session.KeyToken)
	require.NoError(t, err)
	assert.Equal(t, "tok2", string(got))

	other := New(pool, "other")
	_, err = other.Get(ctx, session.KeyToken)
	require.ErrorIs(t, err, session.ErrKeyNotFound)

	require.NoError(t, s.Delete(ctx, session.KeyToken))
	require.NoError(t, s.Delete(ctx, session.KeyToken))
	_, err = s.Get(ctx, session.KeyToken)
	require.ErrorIs(t, err, session.ErrKeyNotFound)
}

func TestStore_SessionRestore(t *testing.T) {
	ctx := context.Background()
	kv := New(startPostgres(t), "restore")
	identity := &user.User{ID: 1, Username: "user", Email: "user@test.com"}

	first := session.New(kv, session.IdentityFetcherFunc(func(context.Context, string) (*user.User, error) {
		return identity, nil
	}))
	require.NoError(t, first.Login(ctx, identity, "tok123"))

	second := session.New(kv, session.IdentityFetcherFunc(func(_ context.Context, token string) (*user.User, error) {
		assert.Equal(t, "tok123", token)
		return identity, nil
	}))
	assert.Equal(t, session.Authenticated, second.Restore(ctx))
	assert.Equal(t, "tok123", second.Token())
}
