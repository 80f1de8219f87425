//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"ConnectorLane/internal/biz"
	"ConnectorLane/internal/conf"
	"ConnectorLane/internal/data"
	"ConnectorLane/internal/metrics"
	"ConnectorLane/internal/server"
	"ConnectorLane/internal/service"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Bootstrap, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		wire.FieldsOf(new(*conf.Bootstrap), "Server", "Data", "Breaker", "Queue", "Connector", "Security", "Metrics"),
		metrics.ProviderSet,
		data.ProviderSet,
		biz.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		newScheduler,
		newApp,
	))
}
