//go:build wireinject
// +build wireinject

//go:generate wire

package bootstrap

import (
	"context"

	"github.com/google/wire"
)

// InitializeApp builds the App from ProviderSet. ctx bounds the config watcher
// and the NATS connection handlers. The returned cleanup closes the broadcast
// transport and the Redis client and syncs the bootstrap logger.
func InitializeApp(ctx context.Context) (*App, func(), error) {
	wire.Build(ProviderSet)
	return nil, nil, nil
}
