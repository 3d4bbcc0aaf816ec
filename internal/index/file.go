package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/xiaot623/gogo/gateway/internal/domain"
)

const (
	indexDirMode    = 0o700
	indexFileMode   = 0o600
	tempFilePattern = ".sessions-*.tmp"
)

// FileStore keeps the index as a JSON array in a single file.
type FileStore struct {
	path string
	mu   sync.RWMutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the index file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load implements Store.
func (s *FileStore) Load(ctx context.Context) ([]domain.SessionSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var entries []domain.SessionSummary
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	return entries, nil
}

// Save implements Store. The file is replaced atomically.
func (s *FileStore) Save(ctx context.Context, entries []domain.SessionSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entries == nil {
		entries = []domain.SessionSummary{}
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, indexDirMode); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tempFile.Chmod(indexFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tempName, s.path); err != nil {
		return fmt.Errorf("replace file: %w", err)
	}

	cleanup = false
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	return nil
}
