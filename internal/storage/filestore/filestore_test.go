package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/shopwise/internal/domain/session"
)

func TestStore_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "session.json")

	s, err := Open(path)
	require.NoError(t, err)

	_, err = s.Get(ctx, session.KeyToken)
	require.ErrorIs(t, err, session.ErrKeyNotFound)

	require.NoError(t, s.Set(ctx, session.KeyToken, []byte("tok123")))
	require.NoError(t, s.Set(ctx, session.KeyUser, []byte(`{"id":1,"email":"user@test.com"}`)))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(fileMode), info.Mode().Perm())

	reopened, err := Open(path)
	require.NoError(t, err)
	got, err := reopened.Get(ctx, session.KeyUser)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"email":"user@test.com"}`, string(got))

	require.NoError(t, reopened.Delete(ctx, session.KeyToken))
	require.NoError(t, reopened.Delete(ctx, session.KeyToken))

	again, err := Open(path)
	require.NoError(t, err)
	_, err = again.Get(ctx, session.KeyToken)
	require.ErrorIs(t, err, session.ErrKeyNotFound)
}

func TestOpen_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), fileMode))

	_, err := Open(path)
	require.Error(t, err)
}

func TestOpen_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, nil, fileMode))

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.Get(context.Background(), session.KeyToken)
	require.ErrorIs(t, err, session.ErrKeyNotFound)
}

func TestSet_FailureKeepsMemoryConsistent(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	ctx := context.Background()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "session.json"))
	require.NoError(t, err)

	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(dir, dirMode) })

	require.Error(t, s.Set(ctx, session.KeyToken, []byte("tok")))
	_, err = s.Get(ctx, session.KeyToken)
	require.ErrorIs(t, err, session.ErrKeyNotFound)
}
