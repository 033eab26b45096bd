package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gitlab.com/timkado/api/course-data-layer/internal/domain"
)

const (
	storeDirMode = 0o700
	valueFileMod = 0o600
)

// Storage is a domain.KeyValueStore backed by one file per key under root.
// Key segments separated by ':' become nested directories, so
// "course-dl:auth:role" is stored at <root>/course-dl/auth/role. Several
// processes pointed at the same root share state the way tabs share an origin.
type Storage struct {
	root string
	mu   sync.RWMutex
}

var _ domain.KeyValueStore = (*Storage)(nil)

func NewStorage(root string) *Storage {
	return &Storage{root: filepath.Clean(root)}
}

func (s *Storage) Set(ctx context.Context, key string, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.pathForKey(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, storeDirMode); err != nil {
		return fmt.Errorf("create storage directory: %w", err)
	}

	// Write then rename so a concurrent reader never observes a torn value.
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %q: %w", key, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		return fmt.Errorf("write value %q: %w", key, err)
	}
	if err := tmp.Chmod(valueFileMod); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod value %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close value %q: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("commit value %q: %w", key, err)
	}

	return nil
}

func (s *Storage) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path, err := s.pathForKey(key)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", domain.ErrKeyNotFound
		}
		return "", fmt.Errorf("read value %q: %w", key, err)
	}

	return string(data), nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.pathForKey(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete value %q: %w", key, err)
	}

	return nil
}

func (s *Storage) pathForKey(key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", errors.New("storage key is empty")
	}

	segments := strings.Split(trimmed, ":")
	for _, seg := range segments {
		if seg == "" || seg == "." || seg == ".." || strings.ContainsAny(seg, `/\`) {
			return "", fmt.Errorf("invalid storage key %q", key)
		}
	}

	return filepath.Join(append([]string{s.root}, segments...)...), nil
}
