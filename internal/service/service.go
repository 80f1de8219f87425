// Package service implements the admin API of ConnectorLane.
package service

import "github.com/google/wire"

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewConnectorService)
