package biz

import (
	"context"
)

// AuditEventType defines the type of audit event
type AuditEventType string

const (
	AuditEventCircuitOpened      AuditEventType = "CIRCUIT_OPENED"
	AuditEventCircuitHalfOpened  AuditEventType = "CIRCUIT_HALF_OPENED"
	AuditEventCircuitClosed      AuditEventType = "CIRCUIT_CLOSED"
	AuditEventCircuitReset       AuditEventType = "CIRCUIT_RESET"
	AuditEventCircuitResetAll    AuditEventType = "CIRCUIT_RESET_ALL"
	AuditEventConnectorConnected AuditEventType = "CONNECTOR_CONNECTED"
	AuditEventConnectorFailed    AuditEventType = "CONNECTOR_FAILED"
	AuditEventQueueMaintenance   AuditEventType = "QUEUE_MAINTENANCE"
)

// String returns the string representation of AuditEventType
func (e AuditEventType) String() string {
	return string(e)
}

// AuditLogger records operator and system events that change connector state.
// Implementations must not block the caller.
type AuditLogger interface {
	// LogCircuitStateChange logs an automatic breaker transition
	LogCircuitStateChange(ctx context.Context, breaker string, from, to BreakerState)

	// LogCircuitReset logs a manual reset. An empty breaker name means all breakers.
	LogCircuitReset(ctx context.Context, breaker string, operator string)

	// LogConnectorInitialized logs the outcome of a connector initialization
	LogConnectorInitialized(ctx context.Context, provider string, ok bool, reason string)

	// LogQueueMaintenance logs a manual queue action such as clear or retry
	LogQueueMaintenance(ctx context.Context, action string, affected int, operator string)
}

// NoopAuditLogger discards every event. It is used when no database is configured.
type NoopAuditLogger struct{}

// NewNoopAuditLogger creates a NoopAuditLogger.
func NewNoopAuditLogger() *NoopAuditLogger {
	return &NoopAuditLogger{}
}

func (NoopAuditLogger) LogCircuitStateChange(context.Context, string, BreakerState, BreakerState) {}
func (NoopAuditLogger) LogCircuitReset(context.Context, string, string)                           {}
func (NoopAuditLogger) LogConnectorInitialized(context.Context, string, bool, string)             {}
func (NoopAuditLogger) LogQueueMaintenance(context.Context, string, int, string)                  {}
