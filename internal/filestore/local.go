package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// LocalStore keeps objects as plain files under a root directory.
type LocalStore struct {
	root    string
	baseURL string
}

// NewLocalStore creates the root directory if needed.
func NewLocalStore(root, baseURL string) (*LocalStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("filestore: storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create storage root: %w", err)
	}
	return &LocalStore{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Save writes the object under its key, creating intermediate directories.
func (s *LocalStore) Save(_ context.Context, key string, reader io.Reader, _ int64, _ string) (SavedObject, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return SavedObject{}, err
	}

	target := filepath.Join(s.root, filepath.FromSlash(cleaned))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return SavedObject{}, fmt.Errorf("filestore: create object directory: %w", err)
	}

	file, err := os.Create(target)
	if err != nil {
		return SavedObject{}, fmt.Errorf("filestore: create object file: %w", err)
	}
	written, err := io.Copy(file, reader)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(target)
		return SavedObject{}, fmt.Errorf("filestore: write object: %w", err)
	}

	return SavedObject{
		Key:       cleaned,
		URL:       s.baseURL + "/" + cleaned,
		SizeBytes: written,
	}, nil
}

// Open returns a reader over the stored object.
func (s *LocalStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(filepath.Join(s.root, filepath.FromSlash(cleaned)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: open object: %w", err)
	}
	return file, nil
}

// Remove deletes the stored object; removing a missing object is not an error.
func (s *LocalStore) Remove(_ context.Context, key string) error {
	cleaned, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.root, filepath.FromSlash(cleaned))); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("filestore: remove object: %w", err)
	}
	return nil
}

// cleanKey normalizes a slash-separated key and rejects anything that would
// resolve outside the store root.
func cleanKey(key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" || path.IsAbs(trimmed) {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(trimmed)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}
