package securestore

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/course-data-layer/internal/adapters/memory"
	"gitlab.com/timkado/api/course-data-layer/internal/domain"
	"gitlab.com/timkado/api/course-data-layer/pkg/crypto"
)

var testKey = strings.Repeat("ab", 32)

func TestStoreSealsValuesAtRest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	inner := memory.NewStorage()
	store, err := New(inner, testKey)
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "course-dl:auth:access_token", "secret-token"))

	raw, err := inner.Get(ctx, "course-dl:auth:access_token")
	require.NoError(t, err)
	assert.NotContains(t, raw, "secret-token")

	got, err := store.Get(ctx, "course-dl:auth:access_token")
	require.NoError(t, err)
	assert.Equal(t, "secret-token", got)
}

func TestStorePassesThroughMissingKeys(t *testing.T) {
	t.Parallel()

	store, err := New(memory.NewStorage(), testKey)
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
}

func TestStoreRejectsTamperedValues(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	inner := memory.NewStorage()
	store, err := New(inner, testKey)
	require.NoError(t, err)

	require.NoError(t, inner.Set(ctx, "k", "plaintext-not-sealed"))
	_, err = store.Get(ctx, "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrKeyNotFound)
}

func TestNewRejectsBadKey(t *testing.T) {
	t.Parallel()

	_, err := New(memory.NewStorage(), "abcd")
	assert.ErrorIs(t, err, crypto.ErrInvalidAESKeySize)
}
