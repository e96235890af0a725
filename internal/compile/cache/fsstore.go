package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FSStore keeps one file per cache id under a directory supplied by
// external configuration. Writes go to a temporary file first and are
// renamed into place, so a concurrent reader never observes a
// partially-written manifest.
type FSStore struct {
	dir string
}

func NewFSStore(dir string) (*FSStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &FSStore{dir: dir}, nil
}

func (s *FSStore) Get(_ context.Context, id string) ([]byte, error) {
	if s == nil {
		return nil, errors.New("cache store not initialized")
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read cached manifest: %w", err)
	}
	return data, nil
}

func (s *FSStore) Put(_ context.Context, id string, manifest []byte) error {
	if s == nil {
		return errors.New("cache store not initialized")
	}
	if strings.TrimSpace(id) == "" {
		return errors.New("cache id is required")
	}
	tmp := filepath.Join(s.dir, fmt.Sprintf(".tmp-%s-%s", id, uuid.NewString()))
	if err := os.WriteFile(tmp, manifest, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, s.path(id)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publish manifest: %w", err)
	}
	return nil
}

func (s *FSStore) path(id string) string {
	return filepath.Join(s.dir, id+".manifest.json")
}
