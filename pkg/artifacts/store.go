// Package artifacts publishes sealed evidence packs to content-addressed storage.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Mindburn-Labs/gate/pkg/canonicalize"
)

// HashPrefix prefixes every content reference returned by a Store.
const HashPrefix = "sha256:"

var (
	ErrNotFound    = errors.New("artifacts: not found")
	ErrInvalidHash = errors.New("artifacts: invalid hash")
)

// Store defines the contract for content-addressed storage of published packs.
// Blobs are write-once: storing the same bytes twice is a no-op.
type Store interface {
	// Store persists data and returns its content hash ("sha256:<hex>").
	Store(ctx context.Context, data []byte) (string, error)
	// Get retrieves data by its content hash.
	Get(ctx context.Context, hash string) ([]byte, error)
	// Exists checks if a blob exists by its content hash.
	Exists(ctx context.Context, hash string) (bool, error)
	// Location returns a URL for the blob, e.g. s3://bucket/key.
	Location(hash string) (string, error)
}

// ContentHash returns the reference a Store assigns to data.
func ContentHash(data []byte) string {
	return HashPrefix + canonicalize.HashBytes(data)
}

// rawHash strips and validates the "sha256:" prefix.
func rawHash(hash string) (string, error) {
	raw, ok := strings.CutPrefix(hash, HashPrefix)
	if !ok || !canonicalize.IsDigest(raw) {
		return "", fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	return strings.ToLower(raw), nil
}

func blobName(raw string) string { return raw + ".blob" }

// FileStore is a filesystem-backed implementation of Store.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("artifacts: resolve dir: %w", err)
	}
	//nolint:gosec // G301: evidence is meant to be readable by operators
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("artifacts: ensure dir: %w", err)
	}
	return &FileStore{baseDir: abs}, nil
}

func (s *FileStore) path(raw string) string {
	return filepath.Join(s.baseDir, blobName(raw))
}

func (s *FileStore) Store(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	hash := ContentHash(data)
	raw := hash[len(HashPrefix):]

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(raw)
	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}

	// Write to temp, then rename
	tmp, err := os.CreateTemp(s.baseDir, raw+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("artifacts: create temp: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("artifacts: write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("artifacts: close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("artifacts: commit blob: %w", err)
	}
	return hash, nil
}

func (s *FileStore) Get(ctx context.Context, hash string) ([]byte, error) {
	raw, err := rawHash(hash)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(raw)) //nolint:gosec // hash validated as hex
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	return data, err
}

func (s *FileStore) Exists(ctx context.Context, hash string) (bool, error) {
	raw, err := rawHash(hash)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err = os.Stat(s.path(raw))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func (s *FileStore) Location(hash string) (string, error) {
	raw, err := rawHash(hash)
	if err != nil {
		return "", err
	}
	return "file://" + filepath.ToSlash(s.path(raw)), nil
}
