package config

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const envPrefix = "COURSE_DL"

// ServerConfig holds the local HTTP façade settings.
// Note: Fields should be exported (start with uppercase) to be unmarshalled by Viper.
type ServerConfig struct {
	HTTPPort            int `mapstructure:"http_port"`
	ReadTimeoutSeconds  int `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int `mapstructure:"write_timeout_seconds"`
	IdleTimeoutSeconds  int `mapstructure:"idle_timeout_seconds"`
}

// APIConfig describes the remote API consumed by the data layer.
type APIConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	ProfilePath    string `mapstructure:"profile_path"`
	CoursesPath    string `mapstructure:"courses_path"`
	RefreshPath    string `mapstructure:"refresh_path"` // empty disables access-token renewal
}

// CacheConfig holds request cache TTLs. A zero TTL disables caching for that
// call but keeps in-flight coalescing.
type CacheConfig struct {
	Backend       string `mapstructure:"backend"` // memory | redis
	ListTTLMs     int    `mapstructure:"list_ttl_ms"`
	EnrolledTTLMs int    `mapstructure:"enrolled_ttl_ms"`
	DetailTTLMs   int    `mapstructure:"detail_ttl_ms"`
}

// StorageConfig selects the durable storage area.
type StorageConfig struct {
	Backend       string `mapstructure:"backend"` // memory | file | redis
	FileRoot      string `mapstructure:"file_root"`
	Namespace     string `mapstructure:"namespace"`
	EncryptionKey string `mapstructure:"encryption_key"` // hex AES-256 key; empty stores plaintext
}

// BroadcastConfig selects the cross-tab signal transport.
type BroadcastConfig struct {
	Transport string `mapstructure:"transport"` // memory | redis | nats
}

// RedisConfig holds Redis-related configurations.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"` // Optional
	DB       int    `mapstructure:"db"`       // Optional
}

// NATSConfig holds NATS-related configurations.
type NATSConfig struct {
	URL                   string `mapstructure:"url"`
	ConnectTimeoutSeconds int    `mapstructure:"connect_timeout_seconds"`
	MaxReconnects         int    `mapstructure:"max_reconnects"`
}

// SessionConfig tunes the session store.
type SessionConfig struct {
	LogoutOnTransientError    bool `mapstructure:"logout_on_transient_error"`
	RevalidateIntervalSeconds int  `mapstructure:"revalidate_interval_seconds"`
}

// BootstrapConfig tunes the bootstrap gate.
type BootstrapConfig struct {
	PrefetchEnrolled bool `mapstructure:"prefetch_enrolled"`
}

// LogConfig holds logging-related configurations.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// AppConfig holds application-specific configurations.
type AppConfig struct {
	ServiceName            string `mapstructure:"service_name"`
	Version                string `mapstructure:"version"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
}

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	API       APIConfig       `mapstructure:"api"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Session   SessionConfig   `mapstructure:"session"`
	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`
	Log       LogConfig       `mapstructure:"log"`
	App       AppConfig       `mapstructure:"app"`
}

// Duration helpers keep millisecond/second conversions in one place.

func (c CacheConfig) ListTTL() time.Duration     { return time.Duration(c.ListTTLMs) * time.Millisecond }
func (c CacheConfig) EnrolledTTL() time.Duration { return time.Duration(c.EnrolledTTLMs) * time.Millisecond }
func (c CacheConfig) DetailTTL() time.Duration   { return time.Duration(c.DetailTTLMs) * time.Millisecond }

func (c APIConfig) Timeout() time.Duration { return time.Duration(c.TimeoutSeconds) * time.Second }

func (c SessionConfig) RevalidateInterval() time.Duration {
	return time.Duration(c.RevalidateIntervalSeconds) * time.Second
}

// Provider defines an interface for accessing application configuration.
// This allows for easy mocking in tests and decouples the app from Viper.
type Provider interface {
	Get() *Config
}

// StaticProvider serves a fixed configuration. Tests and embedders that build
// the config in code use it instead of Viper.
type StaticProvider struct {
	Config *Config
}

func (p StaticProvider) Get() *Config { return p.Config }

// viperProvider implements the Provider interface using Viper.
type viperProvider struct {
	config atomic.Pointer[Config]
	logger *zap.Logger // zap directly, not domain.Logger: the logger adapter itself depends on config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout_seconds", 10)
	v.SetDefault("server.write_timeout_seconds", 10)
	v.SetDefault("server.idle_timeout_seconds", 60)
	v.SetDefault("api.base_url", "")
	v.SetDefault("api.refresh_path", "")
	v.SetDefault("api.timeout_seconds", 15)
	v.SetDefault("api.profile_path", "/auth/me")
	v.SetDefault("api.courses_path", "/courses")
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.list_ttl_ms", 30000)
	v.SetDefault("cache.enrolled_ttl_ms", 0)
	v.SetDefault("cache.detail_ttl_ms", 60000)
	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.file_root", ".course-dl")
	v.SetDefault("storage.namespace", "course-dl")
	v.SetDefault("storage.encryption_key", "")
	v.SetDefault("broadcast.transport", "memory")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.connect_timeout_seconds", 5)
	v.SetDefault("nats.max_reconnects", 5)
	v.SetDefault("session.logout_on_transient_error", false)
	v.SetDefault("session.revalidate_interval_seconds", 0)
	v.SetDefault("bootstrap.prefetch_enrolled", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("app.service_name", "course-data-layer")
	v.SetDefault("app.version", "dev")
	v.SetDefault("app.shutdown_timeout_seconds", 15)
}

// Validate rejects configurations the providers cannot wire.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	switch c.Storage.Backend {
	case "memory", "file", "redis":
	default:
		return fmt.Errorf("unsupported storage.backend %q", c.Storage.Backend)
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported cache.backend %q", c.Cache.Backend)
	}
	switch c.Broadcast.Transport {
	case "memory", "redis", "nats":
	default:
		return fmt.Errorf("unsupported broadcast.transport %q", c.Broadcast.Transport)
	}
	if c.Cache.ListTTLMs < 0 || c.Cache.EnrolledTTLMs < 0 || c.Cache.DetailTTLMs < 0 {
		return fmt.Errorf("cache TTLs must not be negative")
	}
	return nil
}

func load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// NewViperProvider creates and initializes a new configuration provider using Viper.
// It loads configuration from file and environment variables, and sets up hot-reloading
// on SIGHUP and on file change. appCtx bounds the lifetime of the reload goroutine.
func NewViperProvider(appCtx context.Context, logger *zap.Logger) (Provider, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName(getEnv("VIPER_CONFIG_NAME", "config"))
	v.SetConfigType("yaml")
	v.AddConfigPath(os.Getenv("VIPER_CONFIG_PATH"))
	v.AddConfigPath(".")

	// e.g. api.base_url becomes COURSE_DL_API_BASE_URL
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logger.Warn("Config file not found; relying on defaults and environment variables", zap.Error(err))
		} else {
			logger.Error("Failed to read config file", zap.Error(err))
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := load(v)
	if err != nil {
		logger.Error("Failed to load config", zap.Error(err))
		return nil, err
	}

	p := &viperProvider{logger: logger}
	p.config.Store(cfg)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGHUP)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Panic recovered in SIGHUP handler goroutine",
					zap.String("goroutine_name", "SIGHUPConfigReloader"),
					zap.Any("panic_info", r),
					zap.String("stacktrace", string(debug.Stack())),
				)
			}
		}()
		defer signal.Stop(sigChan)
		for {
			select {
			case sig := <-sigChan:
				p.logger.Info("SIGHUP received, attempting to reload configuration...", zap.String("signal", sig.String()))
				if err := v.ReadInConfig(); err != nil {
					p.logger.Error("Failed to re-read config file on SIGHUP", zap.Error(err))
					continue
				}
				p.reload(v, "sighup")
			case <-appCtx.Done():
				p.logger.Info("SIGHUPConfigReloader goroutine shutting down due to context cancellation.")
				return
			}
		}
	}()

	if v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("Panic recovered in OnConfigChange callback",
						zap.String("event_name", e.Name),
						zap.Any("panic_info", r),
						zap.String("stacktrace", string(debug.Stack())),
					)
				}
			}()
			p.logger.Info("Config file changed", zap.String("name", e.Name), zap.String("op", e.Op.String()))
			p.reload(v, "file_change")
		})
		v.WatchConfig()
	}

	p.logger.Info("Configuration loaded successfully", zap.String("config_file_used", v.ConfigFileUsed()))
	return p, nil
}

// reload swaps in a freshly unmarshalled config; an invalid one keeps the previous config.
func (p *viperProvider) reload(v *viper.Viper, trigger string) {
	newCfg, err := load(v)
	if err != nil {
		p.logger.Error("Rejected reloaded configuration", zap.String("trigger", trigger), zap.Error(err))
		return
	}
	p.config.Store(newCfg)
	p.logger.Info("Configuration reloaded successfully", zap.String("trigger", trigger))
}

// Get returns the current configuration.
func (p *viperProvider) Get() *Config {
	return p.config.Load()
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
