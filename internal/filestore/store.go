// Package filestore stores uploaded document files. Two backends are
// provided: local disk for single-node deployments and MinIO for anything
// S3-compatible.
package filestore

import (
	"context"
	"errors"
	"io"
)

// ErrInvalidKey rejects empty keys and keys that escape the store root.
var ErrInvalidKey = errors.New("filestore: invalid object key")

// ErrNotFound indicates that no object exists under the requested key.
var ErrNotFound = errors.New("filestore: object not found")

// SavedObject describes a stored file.
type SavedObject struct {
	Key       string
	URL       string
	SizeBytes int64
}

// Store saves and retrieves document files by key.
type Store interface {
	Save(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (SavedObject, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, key string) error
}
