package biz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	pkglog "ConnectorLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"
)

// ErrNoIntegrationRepo is returned by LoadFromDatabase when no database is configured.
var ErrNoIntegrationRepo = errors.New("integration repository not configured")

// ConnectorFunc is a call against a live connector.
type ConnectorFunc func(ctx context.Context, c DMSConnector) (interface{}, error)

// BreakerName returns the registry name of a provider's breaker.
func BreakerName(provider string) string {
	return "connector-" + provider
}

// ConnectorManager is the entry point for every DMS call. It routes calls
// through the provider breaker and falls back to the offline queue.
type ConnectorManager struct {
	factory  ConnectorFactory
	registry *CircuitBreakerRegistry
	queue    *OfflineQueue
	repo     IntegrationRepo
	audit    AuditLogger
	validate *validator.Validate
	logger   *pkglog.LogHelper

	mu         sync.RWMutex
	connectors map[string]DMSConnector
	configs    map[string]*ConnectorConfig
	lastSync   map[string]time.Time
}

// NewConnectorManager creates a ConnectorManager. repo may be nil when
// integrations are not stored in a database.
func NewConnectorManager(
	factory ConnectorFactory,
	registry *CircuitBreakerRegistry,
	queue *OfflineQueue,
	repo IntegrationRepo,
	audit AuditLogger,
	logger log.Logger,
) *ConnectorManager {
	if audit == nil {
		audit = NewNoopAuditLogger()
	}
	return &ConnectorManager{
		factory:    factory,
		registry:   registry,
		queue:      queue,
		repo:       repo,
		audit:      audit,
		validate:   validator.New(),
		logger:     pkglog.NewLogHelper(logger),
		connectors: make(map[string]DMSConnector),
		configs:    make(map[string]*ConnectorConfig),
		lastSync:   make(map[string]time.Time),
	}
}

// Queue returns the offline queue used for fallbacks.
func (m *ConnectorManager) Queue() *OfflineQueue {
	return m.queue
}

// Breakers returns the breaker registry.
func (m *ConnectorManager) Breakers() *CircuitBreakerRegistry {
	return m.registry
}

// Initialize connects a provider through its breaker and registers the live
// connector. Failures are logged and reported as false.
func (m *ConnectorManager) Initialize(ctx context.Context, cfg *ConnectorConfig) bool {
	if cfg == nil {
		m.logger.Errorw("msg", "connector config is nil")
		return false
	}
	if err := m.validate.Struct(cfg); err != nil {
		m.logger.Errorw("msg", "invalid connector config", "provider", cfg.Provider, "error", err)
		m.audit.LogConnectorInitialized(ctx, cfg.Provider, false, err.Error())
		return false
	}
	if !cfg.Enabled {
		m.logger.Infow("msg", "connector disabled, skipping", "provider", cfg.Provider)
		return false
	}

	provider := cfg.Provider
	connector, err := m.factory.Create(provider)
	if err != nil {
		m.logger.Errorw("msg", "failed to create connector", "provider", provider, "error", err)
		m.audit.LogConnectorInitialized(ctx, provider, false, err.Error())
		return false
	}

	stored := *cfg
	breaker := m.registry.GetOrCreate(BreakerName(provider), nil)
	_, err = breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		ok, err := connector.Connect(ctx, &stored)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("failed to connect to %s", provider)
		}
		return true, nil
	})
	if err != nil {
		m.logger.Errorw("msg", "failed to initialize connector",
			"provider", provider,
			"circuit_state", breaker.State(),
			"error", err)
		m.audit.LogConnectorInitialized(ctx, provider, false, err.Error())
		return false
	}

	m.mu.Lock()
	previous := m.connectors[provider]
	m.connectors[provider] = connector
	m.configs[provider] = &stored
	m.mu.Unlock()

	if previous != nil {
		if err := previous.Disconnect(ctx); err != nil {
			m.logger.Warnw("msg", "failed to disconnect replaced connector", "provider", provider, "error", err)
		}
	}

	m.logger.Connector("connector initialized",
		"provider", provider,
		"environment", stored.Environment,
		"base_url", stored.BaseURL)
	m.audit.LogConnectorInitialized(ctx, provider, true, "")
	return true
}

// InitializeAll initializes every config and returns how many succeeded.
func (m *ConnectorManager) InitializeAll(ctx context.Context, cfgs []*ConnectorConfig) int {
	n := 0
	for _, cfg := range cfgs {
		if m.Initialize(ctx, cfg) {
			n++
		}
	}
	return n
}

// Execute runs fn against the provider's live connector through its breaker.
//
// Without a live connector the call is queued when payload is non-nil and
// Execute returns (nil, nil). When fn fails and the breaker is open, or the
// breaker rejected the call, a non-nil payload is queued as well; the original
// error is still returned.
func (m *ConnectorManager) Execute(ctx context.Context, provider, operation string, fn ConnectorFunc, payload interface{}) (interface{}, error) {
	breaker := m.registry.GetOrCreate(BreakerName(provider), nil)

	connector, ok := m.GetConnector(provider)
	if !ok {
		m.logger.Warnw("msg", "connector not initialized",
			"provider", provider,
			"operation", operation,
			"queued", payload != nil)
		if payload != nil {
			m.enqueue(ctx, provider, operation, payload)
		}
		return nil, nil
	}

	result, err := breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return fn(ctx, connector)
	})
	if err != nil {
		state := breaker.State()
		m.logger.Errorw("msg", "connector operation failed",
			"provider", provider,
			"operation", operation,
			"circuit_state", state,
			"error", err)
		// half-open rejections surface as ErrCircuitOpen while State() is HALF_OPEN
		if payload != nil && (state == StateOpen || errors.Is(err, ErrCircuitOpen)) {
			m.enqueue(ctx, provider, operation, payload)
		}
		return nil, err
	}

	m.noteResult(provider, result)
	return result, nil
}

// Dispatch executes a typed operation, queueing it for replay on the same
// terms as Execute.
func (m *ConnectorManager) Dispatch(ctx context.Context, provider string, op Operation) (interface{}, error) {
	if op == nil {
		return nil, fmt.Errorf("%w: nil operation", ErrUnknownOperation)
	}
	return m.Execute(ctx, provider, string(op.Kind()), op.Apply, op)
}

func (m *ConnectorManager) enqueue(ctx context.Context, provider, operation string, payload interface{}) {
	id, err := m.queue.Enqueue(ctx, provider, operation, payload)
	if err != nil {
		m.logger.Errorw("msg", "failed to queue operation",
			"provider", provider,
			"operation", operation,
			"id", id,
			"error", err)
	}
}

func (m *ConnectorManager) noteResult(provider string, result interface{}) {
	res, ok := result.(*SyncResult)
	if !ok || res == nil || !res.Success {
		return
	}
	at := res.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	m.mu.Lock()
	m.lastSync[provider] = at
	m.mu.Unlock()
}

// ProcessQueue replays pending operations against live connectors. Replays
// bypass the breaker. Items whose connector is missing or whose operation is
// unknown fail and eventually drain into the failed state.
func (m *ConnectorManager) ProcessQueue(ctx context.Context) (DrainResult, error) {
	result, err := m.queue.Process(ctx, func(ctx context.Context, op QueuedOperation) error {
		connector, ok := m.GetConnector(op.Connector)
		if !ok {
			return fmt.Errorf("%w: %s", ErrConnectorNotFound, op.Connector)
		}

		typed, err := DecodeOperation(op.Operation, op.Payload)
		if err != nil {
			return err
		}

		out, err := typed.Apply(ctx, connector)
		if err != nil {
			return err
		}
		m.noteResult(op.Connector, out)
		return nil
	})

	if !result.Skipped && result.Processed > 0 {
		m.logger.Queue("offline queue drained",
			"processed", result.Processed,
			"completed", result.Completed,
			"retried", result.Retried,
			"failed", result.Failed,
			"interrupted", result.Interrupted,
			"duration", result.Duration)
	}
	return result, err
}

// GetStatus tests every live connector concurrently and returns their status
// sorted by provider. A failing connection test only affects its own entry.
func (m *ConnectorManager) GetStatus(ctx context.Context) []ConnectorStatus {
	m.mu.RLock()
	providers := make([]string, 0, len(m.connectors))
	connectors := make(map[string]DMSConnector, len(m.connectors))
	for p, c := range m.connectors {
		providers = append(providers, p)
		connectors[p] = c
	}
	m.mu.RUnlock()
	sort.Strings(providers)

	statuses := make([]ConnectorStatus, len(providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, provider := range providers {
		i, provider := i, provider
		g.Go(func() error {
			statuses[i] = m.status(gctx, provider, connectors[provider])
			return nil
		})
	}
	_ = g.Wait()

	return statuses
}

func (m *ConnectorManager) status(ctx context.Context, provider string, c DMSConnector) ConnectorStatus {
	st := ConnectorStatus{
		Provider:         provider,
		QueuedOperations: m.queue.PendingCountFor(ctx, provider),
	}

	m.mu.RLock()
	if at, ok := m.lastSync[provider]; ok {
		st.LastSync = &at
	}
	m.mu.RUnlock()

	breaker, hasBreaker := m.registry.Get(BreakerName(provider))

	connected, err := c.TestConnection(ctx)
	if err != nil {
		st.Connected = false
		st.Error = err.Error()
		st.CircuitState = StateOpen
		if hasBreaker {
			st.CircuitState = breaker.State()
		}
		return st
	}

	st.Connected = connected
	st.CircuitState = StateClosed
	if hasBreaker {
		st.CircuitState = breaker.State()
	}
	return st
}

// LoadFromDatabase initializes every active integration of an organization
// and returns how many connected.
func (m *ConnectorManager) LoadFromDatabase(ctx context.Context, organizationID string) (int, error) {
	if m.repo == nil {
		return 0, ErrNoIntegrationRepo
	}

	cfgs, err := m.repo.ListActiveIntegrations(ctx, organizationID)
	if err != nil {
		m.logger.Errorw("msg", "failed to load integrations",
			"organization_id", organizationID,
			"error", err)
		return 0, fmt.Errorf("load integrations for %s: %w", organizationID, err)
	}

	n := 0
	for _, cfg := range cfgs {
		cfg.Enabled = true
		if m.Initialize(ctx, cfg) {
			n++
		}
	}

	m.logger.Connector("integrations loaded",
		"organization_id", organizationID,
		"found", len(cfgs),
		"initialized", n)
	return n, nil
}

// GetConnector returns the live connector of a provider.
func (m *ConnectorManager) GetConnector(provider string) (DMSConnector, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.connectors[provider]
	return c, ok
}

// Providers returns the providers with a live connector, sorted.
func (m *ConnectorManager) Providers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.connectors))
	for p := range m.connectors {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// TestAllConnections connects a fresh connector for every registered config,
// tests it, and disconnects it again. Live connectors are not touched.
func (m *ConnectorManager) TestAllConnections(ctx context.Context) map[string]bool {
	m.mu.RLock()
	cfgs := make([]*ConnectorConfig, 0, len(m.configs))
	for _, cfg := range m.configs {
		cfgs = append(cfgs, cfg)
	}
	m.mu.RUnlock()

	var mu sync.Mutex
	results := make(map[string]bool, len(cfgs))

	g, gctx := errgroup.WithContext(ctx)
	for _, cfg := range cfgs {
		cfg := cfg
		g.Go(func() error {
			ok := m.testConnection(gctx, cfg)
			mu.Lock()
			results[cfg.Provider] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (m *ConnectorManager) testConnection(ctx context.Context, cfg *ConnectorConfig) bool {
	c, err := m.factory.Create(cfg.Provider)
	if err != nil {
		m.logger.Warnw("msg", "connection test skipped", "provider", cfg.Provider, "error", err)
		return false
	}
	defer func() {
		if err := c.Disconnect(ctx); err != nil {
			m.logger.Debugw("msg", "disconnect after connection test failed", "provider", cfg.Provider, "error", err)
		}
	}()

	if _, err := c.Connect(ctx, cfg); err != nil {
		m.logger.Warnw("msg", "connection test failed", "provider", cfg.Provider, "error", err)
		return false
	}
	ok, err := c.TestConnection(ctx)
	if err != nil {
		m.logger.Warnw("msg", "connection test failed", "provider", cfg.Provider, "error", err)
		return false
	}
	return ok
}

// ResetCircuitBreaker closes a provider's breaker. Unknown providers are ignored.
func (m *ConnectorManager) ResetCircuitBreaker(ctx context.Context, provider string) bool {
	name := BreakerName(provider)
	found := m.registry.Reset(name)

	m.logger.Audit(ctx, "reset circuit breaker", "breaker", name, "found", found)
	m.audit.LogCircuitReset(ctx, name, pkglog.GetOperator(ctx))
	return found
}

// ResetAllCircuitBreakers closes every breaker and returns how many were reset.
func (m *ConnectorManager) ResetAllCircuitBreakers(ctx context.Context) int {
	n := m.registry.ResetAll()

	m.logger.Audit(ctx, "reset all circuit breakers", "count", n)
	m.audit.LogCircuitReset(ctx, "", pkglog.GetOperator(ctx))
	return n
}

// RetryFailedOperations moves failed queue items back to pending.
func (m *ConnectorManager) RetryFailedOperations(ctx context.Context) (int, error) {
	n, err := m.queue.RetryFailed(ctx)
	m.auditQueue(ctx, "retry_failed", n)
	return n, err
}

// ClearCompletedOperations removes completed queue items.
func (m *ConnectorManager) ClearCompletedOperations(ctx context.Context) (int, error) {
	n, err := m.queue.ClearCompleted(ctx)
	m.auditQueue(ctx, "clear_completed", n)
	return n, err
}

// ClearQueue removes every queue item.
func (m *ConnectorManager) ClearQueue(ctx context.Context) (int, error) {
	n, err := m.queue.ClearAll(ctx)
	m.auditQueue(ctx, "clear_all", n)
	return n, err
}

func (m *ConnectorManager) auditQueue(ctx context.Context, action string, affected int) {
	m.logger.Audit(ctx, "queue "+action, "affected", affected)
	m.audit.LogQueueMaintenance(ctx, action, affected, pkglog.GetOperator(ctx))
}

// Shutdown disconnects every live connector.
func (m *ConnectorManager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	connectors := m.connectors
	m.connectors = make(map[string]DMSConnector)
	m.mu.Unlock()

	for provider, c := range connectors {
		if err := c.Disconnect(ctx); err != nil {
			m.logger.Warnw("msg", "failed to disconnect connector", "provider", provider, "error", err)
			continue
		}
		m.logger.Connector("connector disconnected", "provider", provider)
	}
}
