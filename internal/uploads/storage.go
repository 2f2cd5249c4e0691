package uploads

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// LocalStorage keeps uploaded audio on the local filesystem.
type LocalStorage struct {
	root string
}

// NewLocalStorage stores files below root.
func NewLocalStorage(root string) *LocalStorage {
	return &LocalStorage{root: root}
}

// StorageKey builds the key for an upload's file: <user>/<upload>/<file>.
func StorageKey(userID, uploadID, filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == ".." || name == "/" || name == "" {
		name = "audio"
	}
	return userID + "/" + uploadID + "/" + name
}

// Path resolves key to a file path, rejecting keys that escape the root.
func (s *LocalStorage) Path(key string) (string, error) {
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." {
			return "", ErrInvalidKey
		}
	}
	cleaned := path.Clean("/" + key)
	if cleaned == "/" {
		return "", ErrInvalidKey
	}
	return filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(cleaned, "/"))), nil
}

// Save writes r to key, failing with ErrFileTooLarge past maxBytes. The
// file appears atomically.
func (s *LocalStorage) Save(key string, r io.Reader, maxBytes int64) (int64, error) {
	target, err := s.Path(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("create upload dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, io.LimitReader(r, maxBytes+1))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("write upload: %w", err)
	}
	if written > maxBytes {
		return 0, ErrFileTooLarge
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return 0, fmt.Errorf("store upload: %w", err)
	}
	return written, nil
}

// Open opens the file stored under key.
func (s *LocalStorage) Open(key string) (*os.File, error) {
	target, err := s.Path(key)
	if err != nil {
		return nil, err
	}
	return os.Open(target)
}

// Exists reports whether key has a stored file.
func (s *LocalStorage) Exists(key string) (bool, error) {
	target, err := s.Path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(target)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}
