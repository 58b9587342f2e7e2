package payload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/yocase11/uhias-secure-ehr-sharing/pkg/platform/sentinel"
)

// BlobStore holds sealed payload bytes addressed by an opaque ref. Only
// ciphertext ever passes through it.
type BlobStore interface {
	// Create opens a writer for a new blob. sentinel.ErrConflict when the
	// ref already exists.
	Create(ctx context.Context, ref string) (io.WriteCloser, error)

	// Open returns a reader. sentinel.ErrNotFound for unknown refs.
	Open(ctx context.Context, ref string) (io.ReadCloser, error)

	// Delete removes the blob; deleting an absent ref is not an error, so
	// purge compensation can retry safely.
	Delete(ctx context.Context, ref string) error
}

// FSBlobStore keeps blobs as flat files under a single directory.
type FSBlobStore struct {
	dir string
}

func NewFSBlobStore(dir string) (*FSBlobStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FSBlobStore{dir: dir}, nil
}

func (s *FSBlobStore) Create(_ context.Context, ref string) (io.WriteCloser, error) {
	path, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("blob %q: %w", ref, sentinel.ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("create blob: %w", err)
	}
	return f, nil
}

func (s *FSBlobStore) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	path, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("blob %q: %w", ref, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}

func (s *FSBlobStore) Delete(_ context.Context, ref string) error {
	path, err := s.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// path rejects refs that would escape the blob directory.
func (s *FSBlobStore) path(ref string) (string, error) {
	if ref == "" || strings.ContainsAny(ref, "/\\") || ref != filepath.Base(ref) {
		return "", fmt.Errorf("invalid blob ref %q", ref)
	}
	return filepath.Join(s.dir, ref), nil
}
