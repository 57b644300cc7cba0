package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
	"github.com/mitchellh/go-homedir"
)

// FileStore keeps the credential in a single file readable only by the owner
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by path. A leading ~ is expanded to
// the user's home directory.
func NewFileStore(path string) (ports.SessionStore, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand %s: %w", path, err)
	}
	return &FileStore{path: expanded}, nil
}

// DefaultFilePath returns ~/.passport/<key>
func DefaultFilePath(key string) (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to locate home directory: %w", err)
	}
	return filepath.Join(home, ".passport", key), nil
}

// Read returns the stored credential
func (s *FileStore) Read(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", core.ErrNoCredential
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	credential := strings.TrimSpace(string(data))
	if credential == "" {
		return "", core.ErrNoCredential
	}
	return credential, nil
}

// Write replaces the credential. The new content is written to a temporary
// file and renamed over the old one, so readers never see a partial write.
func (s *FileStore) Write(ctx context.Context, credential string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".credential-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file in %s: %w", dir, err)
	}
	defer os.Remove(tmp.Name()) // nolint: errcheck

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to restrict %s: %w", tmp.Name(), err)
	}
	if _, err := tmp.WriteString(credential); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

// Clear removes the credential file. Clearing an empty store is not an error.
func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", s.path, err)
	}
	return nil
}
