// Package blobstore persists raw document bytes on the local filesystem.
// Blobs are content-addressed by a generated id so re-ingesting the same
// filename never clobbers an earlier upload.
package blobstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"docflow/internal/config"
)

// ErrNotFound indicates the requested blob does not exist.
var ErrNotFound = errors.New("blob not found")

// Store writes and reads blobs under a configured root directory.
type Store struct {
	root string
}

// New creates a blob store rooted at the config's blob directory.
func New(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return NewAtRoot(cfg.Paths.BlobDir)
}

// NewAtRoot creates a blob store rooted at an explicit directory.
func NewAtRoot(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("blob root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the directory blobs are stored under.
func (s *Store) Root() string {
	return s.root
}

// Put stores data and returns the generated blob id. The original filename's
// extension is preserved so content sniffing stays cheap later.
func (s *Store) Put(filename string, data []byte) (string, error) {
	id := uuid.New().String()
	if ext := sanitizeExt(filepath.Ext(filename)); ext != "" {
		id += ext
	}
	target := filepath.Join(s.root, id)
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return id, nil
}

// Get reads a blob back by id.
func (s *Store) Get(blobID string) ([]byte, error) {
	if blobID == "" || strings.Contains(blobID, string(os.PathSeparator)) || strings.Contains(blobID, "..") {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.root, blobID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

// Delete removes a blob. Missing blobs are not an error.
func (s *Store) Delete(blobID string) error {
	if blobID == "" {
		return nil
	}
	err := os.Remove(filepath.Join(s.root, blobID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

func sanitizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if len(ext) < 2 || len(ext) > 8 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
