// Package securestore seals values with AES-256-GCM before handing them to an
// underlying domain.KeyValueStore.
package securestore

import (
	"context"
	"fmt"

	"gitlab.com/timkado/api/course-data-layer/internal/domain"
	"gitlab.com/timkado/api/course-data-layer/pkg/crypto"
)

type Store struct {
	inner  domain.KeyValueStore
	keyHex string
}

var _ domain.KeyValueStore = (*Store)(nil)

// New wraps inner. keyHex must be a hex encoded 32 byte key.
func New(inner domain.KeyValueStore, keyHex string) (*Store, error) {
	if err := crypto.ValidateKey(keyHex); err != nil {
		return nil, fmt.Errorf("securestore: %w", err)
	}
	return &Store{inner: inner, keyHex: keyHex}, nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	sealed, err := s.inner.Get(ctx, key)
	if err != nil {
		return "", err
	}
	plain, err := crypto.DecryptAESGCM(s.keyHex, sealed)
	if err != nil {
		return "", fmt.Errorf("open value %q: %w", key, err)
	}
	return string(plain), nil
}

func (s *Store) Set(ctx context.Context, key string, value string) error {
	sealed, err := crypto.EncryptAESGCM(s.keyHex, []byte(value))
	if err != nil {
		return fmt.Errorf("seal value %q: %w", key, err)
	}
	return s.inner.Set(ctx, key, sealed)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}
