package bootstrap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/course-data-layer/benchmarks/mocks"
	"gitlab.com/timkado/api/course-data-layer/internal/adapters/config"
	"gitlab.com/timkado/api/course-data-layer/internal/adapters/memory"
	"gitlab.com/timkado/api/course-data-layer/internal/adapters/securestore"
	"gitlab.com/timkado/api/course-data-layer/internal/application"
	"gitlab.com/timkado/api/course-data-layer/internal/domain"
	"gitlab.com/timkado/api/course-data-layer/pkg/crypto"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestKeyValueStoreProviderSelectsBackend(t *testing.T) {
	t.Parallel()

	cfg := mocks.NewMockConfigProvider()
	kv, err := KeyValueStoreProvider(cfg, nil, mocks.NewMockLogger())
	require.NoError(t, err)
	assert.IsType(t, &memory.Storage{}, kv)

	cfg.UpdateConfig(func(c *config.Config) {
		c.Storage.Backend = "file"
		c.Storage.FileRoot = t.TempDir()
		c.Storage.EncryptionKey = testKeyHex
	})
	kv, err = KeyValueStoreProvider(cfg, nil, mocks.NewMockLogger())
	require.NoError(t, err)
	assert.IsType(t, &securestore.Store{}, kv)

	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, "bench:auth:role", "admin"))
	got, err := kv.Get(ctx, "bench:auth:role")
	require.NoError(t, err)
	assert.Equal(t, "admin", got)
}

func TestKeyValueStoreProviderRejectsBadConfig(t *testing.T) {
	t.Parallel()

	cfg := mocks.NewMockConfigProvider()
	cfg.UpdateConfig(func(c *config.Config) { c.Storage.EncryptionKey = "abcd" })
	_, err := KeyValueStoreProvider(cfg, nil, mocks.NewMockLogger())
	assert.ErrorIs(t, err, crypto.ErrInvalidAESKeySize)

	cfg.UpdateConfig(func(c *config.Config) {
		c.Storage.EncryptionKey = ""
		c.Storage.Backend = "indexeddb"
	})
	_, err = KeyValueStoreProvider(cfg, nil, mocks.NewMockLogger())
	assert.Error(t, err)
}

func TestRedisClientProviderSkipsUnusedRedis(t *testing.T) {
	t.Parallel()

	client, cleanup, err := RedisClientProvider(mocks.NewMockConfigProvider(), mocks.NewMockLogger())
	require.NoError(t, err)
	assert.Nil(t, client)
	cleanup()
}

func TestMemoryProviders(t *testing.T) {
	t.Parallel()

	cfg := mocks.NewMockConfigProvider()
	assert.IsType(t, &memory.ResponseCache{}, ResponseCacheStoreProvider(cfg, nil, mocks.NewMockLogger()))

	br, cleanup, err := SessionBroadcasterProvider(context.Background(), cfg, nil, mocks.NewMockLogger(), InstanceIDProvider())
	require.NoError(t, err)
	assert.IsType(t, &memory.Broadcaster{}, br)
	cleanup()
	assert.Error(t, br.Publish(context.Background(), domain.SessionSignal{Kind: domain.SignalLogout}))
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := mocks.NewMockConfigProvider()
	logger := mocks.NewMockLogger()
	kv := memory.NewStorage()
	tokens := application.NewTokenStore(kv, "bench", logger)
	session := application.NewSessionStore(tokens, mocks.NewMockProfileFetcher(nil), kv, nil, cfg, logger)
	courses := application.NewCourseStore(mocks.NewMockCourseAPI([]domain.Course{{ID: "c1"}}, nil), nil, logger)
	gate := application.NewBootstrapGate(session, courses, cfg, logger)

	mux := HTTPServeMuxProvider()
	app, _, err := NewApp(cfg, logger, mux, HTTPGracefulServerProvider(cfg, mux), session, courses, gate, nil, nil)
	require.NoError(t, err)
	app.registerRoutes(context.Background())
	return app
}

func TestRoutesWaitForBootstrapGate(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)

	serve := func(target string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		app.httpServeMux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, serve("/health").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve("/v1/session").Code)

	rec := serve("/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `"bootstrapping"`))

	app.gate.Run(context.Background())

	rec = serve("/v1/session")
	require.Equal(t, http.StatusOK, rec.Code)
	var st domain.SessionState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, domain.AuthLoggedOut, st.Status)
	assert.True(t, st.Bootstrapped)

	rec = serve("/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"READY"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	assert.Equal(t, http.StatusOK, serve("/v1/courses/c1").Code)
}
