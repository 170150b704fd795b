package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/shopwise/internal/domain/session"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	var s Store

	_, err := s.Get(ctx, "token")
	require.ErrorIs(t, err, session.ErrKeyNotFound)

	value := []byte("tok123")
	require.NoError(t, s.Set(ctx, "token", value))
	value[0] = 'X'

	got, err := s.Get(ctx, "token")
	require.NoError(t, err)
	assert.Equal(t, "tok123", string(got))

	require.NoError(t, s.Delete(ctx, "token"))
	require.NoError(t, s.Delete(ctx, "token"))
	assert.Equal(t, 0, s.Len())
}
