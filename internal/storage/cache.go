package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	// CacheDirName is the directory created under the user cache dir.
	CacheDirName = "nanolog"
	// SnapshotFileName is the well-known snapshot file name.
	SnapshotFileName = "spool.json"
)

// Store persists a single snapshot blob at a fixed location.
// Read returns an error matching fs.ErrNotExist when no snapshot exists.
// Delete of a missing snapshot is not an error.
type Store interface {
	Write(data []byte) error
	Read() ([]byte, error)
	Delete() error
	Path() string
}

// DefaultDir returns <user cache dir>/nanolog.
func DefaultDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolve user cache dir: %w", err)
	}
	return filepath.Join(base, CacheDirName), nil
}

// DefaultPath returns the well-known snapshot path.
func DefaultPath() (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, SnapshotFileName), nil
}

// FileStore is a Store backed by one file on the local file system.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore for path. An empty path selects
// DefaultPath.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return &FileStore{path: path}, nil
}

// Path returns the snapshot location.
func (s *FileStore) Path() string {
	return s.path
}

// Write replaces the snapshot with data. The bytes go to a temp file
// that is renamed over the snapshot, so readers never see a partial file.
func (s *FileStore) Write(data []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Read returns the snapshot bytes.
func (s *FileStore) Read() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

// Delete removes the snapshot.
func (s *FileStore) Delete() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}
