package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gitlab.com/timkado/api/course-data-layer/internal/domain"
	"gitlab.com/timkado/api/course-data-layer/pkg/storagekeys"
)

// TokenStore owns the persisted token pair and role.
type TokenStore struct {
	kv        domain.KeyValueStore
	namespace string
	logger    domain.Logger
}

// NewTokenStore creates a token store writing under namespace.
func NewTokenStore(kv domain.KeyValueStore, namespace string, logger domain.Logger) *TokenStore {
	if namespace == "" {
		namespace = storagekeys.DefaultNamespace
	}
	return &TokenStore{kv: kv, namespace: namespace, logger: logger}
}

func (s *TokenStore) keys() []string {
	return []string{
		storagekeys.AccessTokenKey(s.namespace),
		storagekeys.RefreshTokenKey(s.namespace),
		storagekeys.RoleKey(s.namespace),
	}
}

// Load returns the stored record, or nil when none is stored. A partial record
// is cleared and reported as absent.
func (s *TokenStore) Load(ctx context.Context) (*domain.TokenRecord, error) {
	values, err := s.readAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}
	access, refresh, role := values[0], values[1], domain.Role(values[2])

	if access == "" && refresh == "" && role == "" {
		return nil, nil
	}
	if access == "" || refresh == "" || !role.Valid() {
		s.logger.Warn(ctx, "Discarding incomplete token record",
			"has_access_token", access != "",
			"has_refresh_token", refresh != "",
			"role", string(role),
		)
		if errClear := s.Clear(ctx); errClear != nil {
			s.logger.Error(ctx, "Failed to clear incomplete token record", "error", errClear.Error())
		}
		return nil, nil
	}

	return &domain.TokenRecord{AccessToken: access, RefreshToken: refresh, Role: role}, nil
}

// Save validates and writes rec, then reads it back. On any failure the
// previous values are restored and an error matching domain.ErrStorageWrite is
// returned.
func (s *TokenStore) Save(ctx context.Context, rec domain.TokenRecord) error {
	if err := validateRecord(rec); err != nil {
		return domain.NewError(domain.ErrCodeStorageWrite, "token record rejected", err)
	}

	keys := s.keys()
	want := []string{rec.AccessToken, rec.RefreshToken, string(rec.Role)}

	previous, err := s.readAll(ctx)
	if err != nil {
		return domain.NewError(domain.ErrCodeStorageWrite, "read previous tokens", err)
	}

	for i, key := range keys {
		if errSet := s.kv.Set(ctx, key, want[i]); errSet != nil {
			s.rollback(ctx, previous)
			return domain.NewError(domain.ErrCodeStorageWrite, fmt.Sprintf("write %s", key), errSet)
		}
	}

	got, err := s.readAll(ctx)
	if err != nil {
		s.rollback(ctx, previous)
		return domain.NewError(domain.ErrCodeStorageWrite, "read back tokens", err)
	}
	for i := range keys {
		if got[i] != want[i] {
			s.rollback(ctx, previous)
			return domain.NewError(domain.ErrCodeStorageWrite, fmt.Sprintf("read back mismatch for %s", keys[i]), nil)
		}
	}

	return nil
}

// Clear removes every token key. Missing keys are not errors.
func (s *TokenStore) Clear(ctx context.Context) error {
	var errs []error
	for _, key := range s.keys() {
		if err := s.kv.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// AccessToken returns the stored access token, or "" when none is stored.
func (s *TokenStore) AccessToken(ctx context.Context) (string, error) {
	return s.read(ctx, storagekeys.AccessTokenKey(s.namespace))
}

// RefreshToken returns the stored refresh token, or "" when none is stored.
func (s *TokenStore) RefreshToken(ctx context.Context) (string, error) {
	return s.read(ctx, storagekeys.RefreshTokenKey(s.namespace))
}

// Rotate replaces the token pair and keeps the stored role.
func (s *TokenStore) Rotate(ctx context.Context, accessToken, refreshToken string) error {
	rec, err := s.Load(ctx)
	if err != nil {
		return err
	}
	if rec == nil {
		return domain.NewError(domain.ErrCodeAuthInvalid, "no session to rotate", nil)
	}
	rec.AccessToken = accessToken
	rec.RefreshToken = refreshToken
	return s.Save(ctx, *rec)
}

func (s *TokenStore) read(ctx context.Context, key string) (string, error) {
	v, err := s.kv.Get(ctx, key)
	if errors.Is(err, domain.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (s *TokenStore) readAll(ctx context.Context) ([]string, error) {
	keys := s.keys()
	values := make([]string, len(keys))
	for i, key := range keys {
		v, err := s.read(ctx, key)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

func (s *TokenStore) rollback(ctx context.Context, previous []string) {
	for i, key := range s.keys() {
		var err error
		if previous[i] == "" {
			err = s.kv.Delete(ctx, key)
		} else {
			err = s.kv.Set(ctx, key, previous[i])
		}
		if err != nil {
			s.logger.Error(ctx, "Failed to roll back token key", "key", key, "error", err.Error())
		}
	}
}

func validateRecord(rec domain.TokenRecord) error {
	if err := validateToken("access token", rec.AccessToken); err != nil {
		return err
	}
	if err := validateToken("refresh token", rec.RefreshToken); err != nil {
		return err
	}
	if !rec.Role.Valid() {
		return fmt.Errorf("unknown role %q", rec.Role)
	}
	return nil
}

func validateToken(name, token string) error {
	if token == "" {
		return fmt.Errorf("%s is empty", name)
	}
	if strings.ContainsAny(token, " \t\r\n") {
		return fmt.Errorf("%s contains whitespace", name)
	}
	return nil
}
