// Package data provides data access layer implementations.
// It handles storage connections, the queue stores and the DMS connectors.
package data

import (
	"ConnectorLane/internal/biz"

	"github.com/google/wire"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewRedisClient,
	NewMySQLClient,
	NewSQLiteClient,
	NewQueueStore,
	NewIntegrationRepo,
	NewAuditLogger,
	NewConnectorFactory,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(biz.IntegrationRepo), new(*IntegrationRepo)),
	wire.Bind(new(biz.AuditLogger), new(*AuditLogger)),
	wire.Bind(new(biz.ConnectorFactory), new(*ConnectorFactory)),
)
