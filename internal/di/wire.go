//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"FinFusion/pkg/config"
	"FinFusion/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Observability
		ProvideRegistry,
		ProvideMetrics,
		ProvideAPIMetrics,
		ProvideLogger,

		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideRedis,
		ProvideCache,
		ProvideQueue,
		ProvideBarProvider,

		// Repositories
		ProvideSnapshotStore,
		ProvideNotifier,
		ProvideEventPublisher,
		ProvideAdapters,

		// Domain services
		ProvideBarCache,
		ProvideAggregator,
		ProvideIndicatorConfig,
		ProvideRiskConfig,
		ProvidePortfolio,
		ProvideGate,
		ProvideForecastEngine,
		ProvideLimiter,

		// Use cases
		ProvideFeedSupervisor,
		ProvideMarketProcessor,
		ProvidePipeline,
		ProvideSignalService,
		ProvideMarketView,
		ProvideForecastScheduler,
		ProvideSnapshotPublisher,
		ProvideBackfiller,
		ProvideConsumer,

		// Transport
		ProvideHandlers,
		ProvideHTTPServer,

		// Application
		ProvideApp,
	)
	return nil, nil, nil
}
