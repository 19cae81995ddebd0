package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/patrickmn/go-cache"
)

// FileStore keeps identity values in memory and persists them to a gob file
// after every write.
type FileStore struct {
	mu    sync.Mutex
	path  string
	cache *cache.Cache
}

// OpenFileStore loads path when it exists. An empty path keeps values in
// memory only.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:  path,
		cache: cache.New(cache.NoExpiration, 0),
	}
	if path == "" {
		return s, nil
	}
	if err := s.cache.LoadFile(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("identity: load %q: %w", path, err)
	}
	return s, nil
}

func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	raw, ok := s.cache.Get(key)
	if !ok {
		return "", false, nil
	}
	value, ok := raw.(string)
	if !ok {
		return "", false, fmt.Errorf("identity: value for %q is %T", key, raw)
	}
	return value, true, nil
}

func (s *FileStore) Set(_ context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Set(key, value, cache.NoExpiration)
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("identity: create store dir: %w", err)
	}
	if err := s.cache.SaveFile(s.path); err != nil {
		return fmt.Errorf("identity: save %q: %w", s.path, err)
	}
	return nil
}
