package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileStore_ReadMissing(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "spool.json"))
	require.NoError(t, err)

	_, err = s.Read()
	require.Error(t, err)
	require.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestFileStore_WriteCreatesDirAndOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "nanolog", "spool.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, s.Write([]byte(`[{"a":1}]`)))
	require.NoError(t, s.Write([]byte(`[]`)))

	data, err := s.Read()
	require.NoError(t, err)
	require.Equal(t, "[]", string(data))

	// No temp file left behind after the rename.
	_, err = os.Stat(path + ".tmp")
	require.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestFileStore_DeleteIsIdempotent(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "spool.json"))
	require.NoError(t, err)

	require.NoError(t, s.Write([]byte("[]")))
	require.NoError(t, s.Delete())
	require.NoError(t, s.Delete())

	_, err = os.Stat(s.Path())
	require.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	p, err := DefaultPath()
	require.NoError(t, err)
	require.Equal(t, SnapshotFileName, filepath.Base(p))
	require.Equal(t, CacheDirName, filepath.Base(filepath.Dir(p)))

	s, err := NewFileStore("")
	require.NoError(t, err)
	require.Equal(t, p, s.Path())
}
