// Package artifacts provides content-addressed storage for facet payloads.
// Facets reference their payload by "sha256:<hex>" digest; the store is
// idempotent, so re-storing identical bytes is a no-op that returns the
// same reference. Filesystem, S3, and GCS backends share one contract.
package artifacts

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/accordhq/accord/pkg/canonicalize"
)

// Store is the contract for content-addressed payload storage.
type Store interface {
	// Put persists data and returns its "sha256:<hex>" reference.
	Put(ctx context.Context, data []byte) (string, error)
	// Get retrieves data by reference.
	Get(ctx context.Context, ref string) ([]byte, error)
	// Exists reports whether a payload is present.
	Exists(ctx context.Context, ref string) (bool, error)
	// Delete removes a payload. Deleting an absent payload is not an error.
	Delete(ctx context.Context, ref string) error
}

// parseRef validates a "sha256:<hex>" reference and returns the hex part.
func parseRef(ref string) (string, error) {
	if len(ref) < 8 || ref[:7] != "sha256:" {
		return "", fmt.Errorf("invalid payload ref: %s", ref)
	}
	raw := ref[7:]
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("invalid payload ref hex: %w", err)
	}
	return raw, nil
}

// MemoryStore keeps payloads in process memory. Tests and single-shot CLI
// runs use it; anything durable should use a file or object backend.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty in-memory payload store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, data []byte) (string, error) {
	ref := canonicalize.HashBytes(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[ref]; !ok {
		buf := make([]byte, len(data))
		copy(buf, data)
		s.blobs[ref] = buf
	}
	return ref, nil
}

func (s *MemoryStore) Get(_ context.Context, ref string) ([]byte, error) {
	if _, err := parseRef(ref); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("payload not found: %s", ref)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *MemoryStore) Exists(_ context.Context, ref string) (bool, error) {
	if _, err := parseRef(ref); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[ref]
	return ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, ref string) error {
	if _, err := parseRef(ref); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, ref)
	return nil
}

// FileStore is a filesystem-backed payload store. Writes go to a temp
// file first and are committed with an atomic rename.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a payload store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure payload dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) path(rawHash string) string {
	return filepath.Join(s.baseDir, rawHash+".blob")
}

func (s *FileStore) Put(_ context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := canonicalize.HashBytes(data)
	raw := ref[len("sha256:"):]
	path := s.path(raw)

	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write payload: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("commit payload: %w", err)
	}
	return ref, nil
}

func (s *FileStore) Get(_ context.Context, ref string) ([]byte, error) {
	raw, err := parseRef(ref)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(s.path(raw))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("payload not found: %s", ref)
		}
		return nil, fmt.Errorf("open payload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return data, nil
}

func (s *FileStore) Exists(_ context.Context, ref string) (bool, error) {
	raw, err := parseRef(ref)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err = os.Stat(s.path(raw))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat payload: %w", err)
}

func (s *FileStore) Delete(_ context.Context, ref string) error {
	raw, err := parseRef(ref)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(raw)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete payload: %w", err)
	}
	return nil
}
