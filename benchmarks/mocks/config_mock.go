package mocks

import (
	"sync"

	"gitlab.com/timkado/api/course-data-layer/internal/adapters/config"
)

// MockConfigProvider implements config.Provider for tests and benchmarks
type MockConfigProvider struct {
	mu     sync.RWMutex
	config *config.Config
}

// NewMockConfigProvider creates a new mock config provider with in-memory settings
func NewMockConfigProvider() *MockConfigProvider {
	return &MockConfigProvider{
		config: &config.Config{
			Server: config.ServerConfig{
				HTTPPort: 0, // Random port
			},
			API: config.APIConfig{
				BaseURL:        "http://mock-api.local",
				TimeoutSeconds: 1,
				ProfilePath:    "/auth/me",
				CoursesPath:    "/courses",
				RefreshPath:    "/auth/refresh",
			},
			Cache: config.CacheConfig{
				Backend:       "memory",
				ListTTLMs:     30000,
				EnrolledTTLMs: 0,
				DetailTTLMs:   60000,
			},
			Storage: config.StorageConfig{
				Backend:   "memory",
				Namespace: "bench",
			},
			Broadcast: config.BroadcastConfig{
				Transport: "memory",
			},
			Redis: config.RedisConfig{
				Address: "mock-redis:6379",
			},
			NATS: config.NATSConfig{
				URL:                   "nats://mock-nats:4222",
				ConnectTimeoutSeconds: 1,
				MaxReconnects:         1,
			},
			Session: config.SessionConfig{
				LogoutOnTransientError:    false,
				RevalidateIntervalSeconds: 0,
			},
			Bootstrap: config.BootstrapConfig{
				PrefetchEnrolled: true,
			},
			Log: config.LogConfig{
				Level: "error", // Minimize I/O overhead during benchmarks
			},
			App: config.AppConfig{
				ServiceName:            "course-data-layer-benchmark",
				Version:                "test",
				ShutdownTimeoutSeconds: 1,
			},
		},
	}
}

// Get implements config.Provider
func (m *MockConfigProvider) Get() *config.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// UpdateConfig allows updating config during tests
func (m *MockConfigProvider) UpdateConfig(mutate func(cfg *config.Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := *m.config
	mutate(&next)
	m.config = &next
}
