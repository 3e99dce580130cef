// Package blob persists binary payloads and hands out URLs under which they
// are later served.
package blob

import (
	"fmt"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// Store saves and references binary blobs by a deterministic path.
type Store interface {
	Save(blobPath string, data []byte) (string, error)
	URL(blobPath string) string
	Delete(blobPath string) error
}

// FileStore keeps blobs on a filesystem and serves them from a base URL.
// Backed by afero so tests run against an in-memory filesystem.
type FileStore struct {
	fs      afero.Fs
	root    string
	baseURL string
}

func NewFileStore(fs afero.Fs, root string, baseURL string) *FileStore {
	return &FileStore{
		fs:      fs,
		root:    root,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

func (s *FileStore) Save(blobPath string, data []byte) (string, error) {
	fullPath := path.Join(s.root, blobPath)

	if err := s.fs.MkdirAll(path.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("create blob directory: %w", err)
	}

	if err := afero.WriteFile(s.fs, fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}

	return s.URL(blobPath), nil
}

func (s *FileStore) URL(blobPath string) string {
	return s.baseURL + "/" + blobPath
}

func (s *FileStore) Delete(blobPath string) error {
	if err := s.fs.Remove(path.Join(s.root, blobPath)); err != nil {
		return fmt.Errorf("remove blob: %w", err)
	}

	return nil
}
