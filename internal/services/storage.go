package services

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// StorageService keeps artifacts on the local disk under a root directory
type StorageService struct {
	root    string
	baseURL string
}

// NewStorageService creates root if needed. baseURL is only used to build
// links and may be empty.
func NewStorageService(root, baseURL string) (*StorageService, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root %s: %w", root, err)
	}
	return &StorageService{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// resolve maps a key to a path under root, rejecting keys that escape it
func (s *StorageService) resolve(key string) (string, error) {
	root := filepath.Clean(s.root)
	full := filepath.Join(root, filepath.FromSlash(key))
	if key == "" || full == root || !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return full, nil
}

// Save streams reader into a temp file and renames it over the key, so a
// concurrent reader sees either the old object or the complete new one.
func (s *StorageService) Save(_ context.Context, key string, reader io.Reader, _ string) (string, error) {
	dest, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to flush %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to store %s: %w", key, err)
	}
	return key, nil
}

// GetObject opens a stored object. The content type comes from the extension.
func (s *StorageService) GetObject(_ context.Context, key string) (io.ReadCloser, string, error) {
	p, err := s.resolve(key)
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return nil, "", fmt.Errorf("%s: %w", key, ErrObjectNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s: %w", key, err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(p))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return f, contentType, nil
}

func (s *StorageService) GetFileURL(key string) string {
	return s.baseURL + "/" + strings.TrimLeft(key, "/")
}
