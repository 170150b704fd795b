// Package filestore is a session.KV persisted as a single JSON file readable
// only by the current user.
package filestore

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/shopwise/internal/domain/session"
)

const (
	fileMode = 0o600
	dirMode  = 0o700
)

var _ session.KV = (*Store)(nil)

// Store keeps every key in one file. Writes replace the file atomically.
type Store struct {
	path string

	mu   sync.Mutex
	data map[string]string
}

// Open loads the store at path. A missing file is an empty store.
func Open(path string) (*Store, error) {
	s := &Store{path: path, data: make(map[string]string)}
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, errors.Wrap(err, "read store")
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := jx.DecodeBytes(raw).Obj(func(d *jx.Decoder, key string) error {
		v, err := d.Str()
		if err != nil {
			return errors.Wrap(err, key)
		}
		s.data[key] = v
		return nil
	}); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return s, nil
}

// DefaultPath returns the store location under the user config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "user config dir")
	}
	return filepath.Join(dir, "shopwise", "session.json"), nil
}

// Path returns the file backing the store.
func (s *Store) Path() string { return s.path }

// Get implements session.KV.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.data[key]
	if !ok {
		return nil, session.ErrKeyNotFound
	}
	return []byte(v), nil
}

// Set implements session.KV.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.data[key]
	s.data[key] = string(value)
	if err := s.flushLocked(); err != nil {
		if had {
			s.data[key] = prev
		} else {
			delete(s.data, key)
		}
		return err
	}
	return nil
}

// Delete implements session.KV.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.data[key]
	if !ok {
		return nil
	}
	delete(s.data, key)
	if err := s.flushLocked(); err != nil {
		s.data[key] = prev
		return err
	}
	return nil
}

func (s *Store) flushLocked() error {
	var e jx.Encoder
	e.ObjStart()
	for k, v := range s.data {
		e.FieldStart(k)
		e.Str(v)
	}
	e.ObjEnd()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return errors.Wrap(err, "create store dir")
	}
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := tmp.Chmod(fileMode); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "chmod")
	}
	if _, err := tmp.Write(e.Bytes()); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "write")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "sync")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errors.Wrap(err, "replace store")
	}
	return nil
}
