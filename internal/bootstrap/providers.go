package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/course-data-layer/internal/adapters/config"
	"gitlab.com/timkado/api/course-data-layer/internal/adapters/file"
	apphttp "gitlab.com/timkado/api/course-data-layer/internal/adapters/http"
	"gitlab.com/timkado/api/course-data-layer/internal/adapters/logger"
	"gitlab.com/timkado/api/course-data-layer/internal/adapters/memory"
	appnats "gitlab.com/timkado/api/course-data-layer/internal/adapters/nats"
	appredis "gitlab.com/timkado/api/course-data-layer/internal/adapters/redis"
	"gitlab.com/timkado/api/course-data-layer/internal/adapters/securestore"
	"gitlab.com/timkado/api/course-data-layer/internal/application"
	"gitlab.com/timkado/api/course-data-layer/internal/domain"
	"gitlab.com/timkado/api/course-data-layer/pkg/storagekeys"
)

// InstanceID names this process on shared transports (NATS connection name).
type InstanceID string

// InitialZapLoggerProvider provides a basic *zap.Logger instance, primarily for config initialization.
// It returns the logger, a cleanup function (for syncing), and an error if creation fails.
func InitialZapLoggerProvider() (*zap.Logger, func(), error) {
	logger, err := zap.NewProduction()
	if err != nil {
		logger, err = zap.NewDevelopment()
		if err != nil {
			logger = zap.NewExample()
			fmt.Fprintf(os.Stderr, "Failed to create initial zap logger (production and development failed, falling back to example): %v\n", err)
		}
	}

	cleanup := func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to sync initial zap logger: %v\n", syncErr)
		}
	}
	return logger, cleanup, nil
}

// App holds the wired components. Run is in app.go.
type App struct {
	configProvider config.Provider
	logger         domain.Logger
	httpServeMux   *http.ServeMux
	httpServer     *http.Server
	session        *application.SessionStore
	courses        *application.CourseStore
	gate           *application.BootstrapGate
	redisClient    *redis.Client // nil unless a backend uses Redis
	broadcaster    domain.SessionBroadcaster
}

// NewApp is the constructor for App, also for Wire.
func NewApp(
	cfgProvider config.Provider,
	appLogger domain.Logger,
	mux *http.ServeMux,
	server *http.Server,
	session *application.SessionStore,
	courses *application.CourseStore,
	gate *application.BootstrapGate,
	redisClient *redis.Client,
	broadcaster domain.SessionBroadcaster,
) (*App, func(), error) {
	app := &App{
		configProvider: cfgProvider,
		logger:         appLogger,
		httpServeMux:   mux,
		httpServer:     server,
		session:        session,
		courses:        courses,
		gate:           gate,
		redisClient:    redisClient,
		broadcaster:    broadcaster,
	}

	cleanup := func() {
		app.logger.Info(context.Background(), "Running app cleanup...")
		app.session.WaitRevalidation()
	}
	return app, cleanup, nil
}

// ConfigProvider provides the application configuration.
// appCtx bounds the config watcher goroutines.
func ConfigProvider(appCtx context.Context, logger *zap.Logger) (config.Provider, error) {
	return config.NewViperProvider(appCtx, logger)
}

// LoggerProvider provides the application logger.
func LoggerProvider(cfgProvider config.Provider) (domain.Logger, error) {
	appCfg := cfgProvider.Get()
	return logger.NewZapAdapter(cfgProvider, appCfg.App.ServiceName)
}

// InstanceIDProvider generates a fresh id per process.
func InstanceIDProvider() InstanceID {
	return InstanceID(uuid.NewString())
}

// HTTPServeMuxProvider provides the main HTTP multiplexer.
func HTTPServeMuxProvider() *http.ServeMux {
	return http.NewServeMux()
}

// HTTPGracefulServerProvider provides a new HTTP server configured for graceful shutdown.
func HTTPGracefulServerProvider(cfgProvider config.Provider, mux *http.ServeMux) *http.Server {
	serverCfg := cfgProvider.Get().Server

	readTimeout := 10 * time.Second
	writeTimeout := 10 * time.Second
	idleTimeout := 60 * time.Second

	if serverCfg.ReadTimeoutSeconds > 0 {
		readTimeout = time.Duration(serverCfg.ReadTimeoutSeconds) * time.Second
	}
	if serverCfg.WriteTimeoutSeconds > 0 {
		writeTimeout = time.Duration(serverCfg.WriteTimeoutSeconds) * time.Second
	}
	if serverCfg.IdleTimeoutSeconds > 0 {
		idleTimeout = time.Duration(serverCfg.IdleTimeoutSeconds) * time.Second
	}

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", serverCfg.HTTPPort),
		Handler:      mux,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
}

func usesRedis(cfg *config.Config) bool {
	return cfg.Storage.Backend == "redis" || cfg.Cache.Backend == "redis" || cfg.Broadcast.Transport == "redis"
}

// RedisClientProvider provides a Redis client and a cleanup function. The
// client is nil when no backend is configured to use Redis.
func RedisClientProvider(cfgProvider config.Provider, appLogger domain.Logger) (*redis.Client, func(), error) {
	appCfg := cfgProvider.Get()
	if !usesRedis(appCfg) {
		return nil, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     appCfg.Redis.Address,
		Password: appCfg.Redis.Password,
		DB:       appCfg.Redis.DB,
	})
	_, err := client.Ping(context.Background()).Result()
	if err != nil {
		appLogger.Error(context.Background(), "Failed to connect to Redis", "error", err.Error(), "address", appCfg.Redis.Address)
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis at %s: %w", appCfg.Redis.Address, err)
	}
	cleanup := func() {
		client.Close()
		appLogger.Info(context.Background(), "Redis connection closed")
	}
	appLogger.Info(context.Background(), "Successfully connected to Redis", "address", appCfg.Redis.Address)
	return client, cleanup, nil
}

// KeyValueStoreProvider selects the durable storage area by storage.backend and
// seals values with AES-GCM when storage.encryption_key is set.
func KeyValueStoreProvider(cfgProvider config.Provider, redisClient *redis.Client, appLogger domain.Logger) (domain.KeyValueStore, error) {
	storageCfg := cfgProvider.Get().Storage

	var kv domain.KeyValueStore
	switch storageCfg.Backend {
	case "memory":
		kv = memory.NewStorage()
	case "file":
		kv = file.NewStorage(storageCfg.FileRoot)
	case "redis":
		kv = appredis.NewStorageAdapter(redisClient, appLogger)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", storageCfg.Backend)
	}
	appLogger.Info(context.Background(), "Durable storage selected", "backend", storageCfg.Backend)

	if storageCfg.EncryptionKey == "" {
		return kv, nil
	}
	sealed, err := securestore.New(kv, storageCfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("storage encryption: %w", err)
	}
	return sealed, nil
}

// ResponseCacheStoreProvider selects where cached GET responses live.
func ResponseCacheStoreProvider(cfgProvider config.Provider, redisClient *redis.Client, appLogger domain.Logger) domain.ResponseCacheStore {
	appCfg := cfgProvider.Get()
	if appCfg.Cache.Backend == "redis" {
		return appredis.NewResponseCacheAdapter(redisClient, appCfg.Storage.Namespace, appLogger)
	}
	return memory.NewResponseCache(nil)
}

// SessionBroadcasterProvider selects the cross-process signal transport. The
// memory transport only reaches stores inside this process.
func SessionBroadcasterProvider(
	ctx context.Context,
	cfgProvider config.Provider,
	redisClient *redis.Client,
	appLogger domain.Logger,
	instanceID InstanceID,
) (domain.SessionBroadcaster, func(), error) {
	appCfg := cfgProvider.Get()
	switch appCfg.Broadcast.Transport {
	case "nats":
		adapter, cleanup, err := appnats.NewSessionSignalAdapter(ctx, cfgProvider, appLogger, string(instanceID))
		if err != nil {
			return nil, nil, err
		}
		return adapter, cleanup, nil
	case "redis":
		adapter := appredis.NewSessionSignalPubSubAdapter(redisClient, storagekeys.SessionSignalChannel(appCfg.Storage.Namespace), appLogger)
		return adapter, func() { adapter.Close() }, nil
	default:
		br := memory.NewBus().NewBroadcaster()
		return br, func() { br.Close() }, nil
	}
}

// TokenStoreProvider provides the token store for the configured namespace.
func TokenStoreProvider(kv domain.KeyValueStore, cfgProvider config.Provider, appLogger domain.Logger) *application.TokenStore {
	return application.NewTokenStore(kv, cfgProvider.Get().Storage.Namespace, appLogger)
}

// RequestCacheProvider provides the request cache.
func RequestCacheProvider(store domain.ResponseCacheStore, appLogger domain.Logger) *application.RequestCache {
	return application.NewRequestCache(store, appLogger)
}

// APIClientProvider provides the remote API client.
func APIClientProvider(cfgProvider config.Provider, cache *application.RequestCache, tokens *application.TokenStore, appLogger domain.Logger) *apphttp.APIClient {
	return apphttp.NewAPIClient(cfgProvider, nil, cache, tokens, appLogger)
}

// ProfileClientProvider provides the profile fetcher.
func ProfileClientProvider(api *apphttp.APIClient, cfgProvider config.Provider) *apphttp.ProfileClient {
	return apphttp.NewProfileClient(api, cfgProvider)
}

// CourseClientProvider provides the course API.
func CourseClientProvider(api *apphttp.APIClient, cfgProvider config.Provider) *apphttp.CourseClient {
	return apphttp.NewCourseClient(api, cfgProvider)
}

// SessionStoreProvider provides the session store.
func SessionStoreProvider(
	tokens *application.TokenStore,
	profiles domain.ProfileFetcher,
	kv domain.KeyValueStore,
	broadcaster domain.SessionBroadcaster,
	cfgProvider config.Provider,
	appLogger domain.Logger,
) *application.SessionStore {
	return application.NewSessionStore(tokens, profiles, kv, broadcaster, cfgProvider, appLogger)
}

// CourseStoreProvider provides the normalized course store.
func CourseStoreProvider(api domain.CourseAPI, cache *application.RequestCache, appLogger domain.Logger) *application.CourseStore {
	return application.NewCourseStore(api, cache, appLogger)
}

// BootstrapGateProvider provides the gate that holds requests until the first
// session bootstrap.
func BootstrapGateProvider(session *application.SessionStore, courses *application.CourseStore, cfgProvider config.Provider, appLogger domain.Logger) *application.BootstrapGate {
	return application.NewBootstrapGate(session, courses, cfgProvider, appLogger)
}

// ProviderSet is the Wire provider set for the entire application.
var ProviderSet = wire.NewSet(
	ConfigProvider,
	LoggerProvider,
	InitialZapLoggerProvider,
	InstanceIDProvider,
	HTTPServeMuxProvider,
	HTTPGracefulServerProvider,

	// Infrastructure Adapters
	RedisClientProvider,
	KeyValueStoreProvider,
	ResponseCacheStoreProvider,
	SessionBroadcasterProvider,

	// Remote API
	APIClientProvider,
	ProfileClientProvider,
	wire.Bind(new(domain.ProfileFetcher), new(*apphttp.ProfileClient)),
	CourseClientProvider,
	wire.Bind(new(domain.CourseAPI), new(*apphttp.CourseClient)),

	// Application Services
	TokenStoreProvider,
	RequestCacheProvider,
	SessionStoreProvider,
	CourseStoreProvider,
	BootstrapGateProvider,
	NewApp,
)
