//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"ChartFeed/pkg/config"
	"ChartFeed/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,

		// Infrastructure clients
		ProvideRemoteClient,
		ProvideClickHouseClient,
		ProvideRedisStore,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Repositories
		ProvideTileStore,
		ProvideCandlePager,
		ProvideEventPublisher,

		// Use cases
		ProvideTileCache,
		ProvideTilesUseCase,
		ProvideHub,
		ProvideSessionManager,
		ProvideRateLimiter,
		ProvideWarmQueue,
		ProvideFileUpdateHandler,

		// Application server
		ProvideHTTPServer,
		ProvideApp,
	)
	return &server.App{}, nil
}
