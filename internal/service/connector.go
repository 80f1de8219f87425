package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ConnectorLane/internal/biz"
	"ConnectorLane/internal/conf"
	pkgerrors "ConnectorLane/pkg/errors"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// ConnectorService exposes the connector manager, breaker registry and
// offline queue to operators.
type ConnectorService struct {
	manager *biz.ConnectorManager
	// idempotency caches dispatch replies by provider and Idempotency-Key.
	idempotency *expirable.LRU[string, *DispatchReply]
	// inflight collapses concurrent submits sharing an Idempotency-Key.
	inflight singleflight.Group
	logger   *log.Helper
}

// NewConnectorService creates a new ConnectorService instance.
func NewConnectorService(manager *biz.ConnectorManager, c *conf.Connector, logger log.Logger) *ConnectorService {
	size := 1024
	var ttl time.Duration
	if c != nil {
		if c.IdempotencyMax > 0 {
			size = c.IdempotencyMax
		}
		ttl = c.IdempotencyTTL
	}

	return &ConnectorService{
		manager:     manager,
		idempotency: expirable.NewLRU[string, *DispatchReply](size, nil, ttl),
		logger:      log.NewHelper(logger),
	}
}

// GetStatus returns the status of every live connector.
func (s *ConnectorService) GetStatus(ctx context.Context) (*StatusReply, error) {
	s.logger.Debugw("msg", "GetStatus called")

	return &StatusReply{Connectors: s.manager.GetStatus(ctx)}, nil
}

// TestConnections tests every registered config on a fresh connector.
func (s *ConnectorService) TestConnections(ctx context.Context) (*TestConnectionsReply, error) {
	s.logger.Infow("msg", "TestConnections called")

	return &TestConnectionsReply{
		Results: s.manager.TestAllConnections(ctx),
		Live:    s.manager.Providers(),
	}, nil
}

// Initialize connects a provider with the posted settings.
func (s *ConnectorService) Initialize(ctx context.Context, req *InitializeRequest) (*InitializeReply, error) {
	s.logger.Infow("msg", "Initialize called", "provider", req.Provider, "environment", req.Environment)

	if req.Provider == "" {
		return nil, kerrors.BadRequest("INVALID_PROVIDER", "provider is required")
	}

	ok := s.manager.Initialize(ctx, req.config())

	reply := &InitializeReply{
		Provider:     req.Provider,
		Initialized:  ok,
		CircuitState: biz.StateClosed,
	}
	if b, found := s.manager.Breakers().Get(biz.BreakerName(req.Provider)); found {
		reply.CircuitState = b.State()
	}
	return reply, nil
}

// Dispatch decodes and executes one operation against a provider. Replies
// are cached per Idempotency-Key so a retried submit is not executed twice.
func (s *ConnectorService) Dispatch(ctx context.Context, req *DispatchRequest) (*DispatchReply, error) {
	s.logger.Infow("msg", "Dispatch called",
		"provider", req.Provider,
		"operation", req.Operation,
		"idempotency_key", req.IdempotencyKey)

	if req.IdempotencyKey == "" {
		return s.dispatch(ctx, req)
	}

	cacheKey := req.Provider + ":" + req.IdempotencyKey
	if cached, ok := s.idempotency.Get(cacheKey); ok {
		return replayed(cached), nil
	}

	v, err, _ := s.inflight.Do(cacheKey, func() (interface{}, error) {
		if cached, ok := s.idempotency.Get(cacheKey); ok {
			return replayed(cached), nil
		}
		reply, err := s.dispatch(ctx, req)
		if err != nil {
			return nil, err
		}
		s.idempotency.Add(cacheKey, reply)
		return reply, nil
	})
	if err != nil {
		return nil, err
	}
	out := *v.(*DispatchReply)
	return &out, nil
}

func replayed(cached *DispatchReply) *DispatchReply {
	replay := *cached
	replay.Replayed = true
	return &replay
}

func (s *ConnectorService) dispatch(ctx context.Context, req *DispatchRequest) (*DispatchReply, error) {
	op, err := biz.DecodeOperation(req.Operation, req.Payload)
	if err != nil {
		if errors.Is(err, biz.ErrUnknownOperation) {
			return nil, kerrors.BadRequest("UNKNOWN_OPERATION", err.Error())
		}
		return nil, kerrors.BadRequest("INVALID_PAYLOAD", err.Error())
	}

	_, live := s.manager.GetConnector(req.Provider)

	result, err := s.manager.Dispatch(ctx, req.Provider, op)
	if err != nil {
		s.logger.Errorw("msg", "failed to dispatch operation",
			"provider", req.Provider,
			"operation", req.Operation,
			"error", err)
		return nil, toHTTPError(err)
	}

	reply := &DispatchReply{
		Provider:  req.Provider,
		Operation: req.Operation,
		Queued:    !live && result == nil,
		Result:    result,
	}
	return reply, nil
}

// LoadIntegrations initializes every active integration of an organization.
func (s *ConnectorService) LoadIntegrations(ctx context.Context, req *LoadIntegrationsRequest) (*LoadIntegrationsReply, error) {
	s.logger.Infow("msg", "LoadIntegrations called", "organization_id", req.OrganizationID)

	if req.OrganizationID == "" {
		return nil, kerrors.BadRequest("INVALID_ORGANIZATION", "organization_id is required")
	}

	n, err := s.manager.LoadFromDatabase(ctx, req.OrganizationID)
	if err != nil {
		return nil, toHTTPError(err)
	}
	return &LoadIntegrationsReply{OrganizationID: req.OrganizationID, Initialized: n}, nil
}

// ListCircuitBreakers returns a snapshot of every breaker.
func (s *ConnectorService) ListCircuitBreakers(_ context.Context) (*BreakersReply, error) {
	return &BreakersReply{Breakers: s.manager.Breakers().Metrics()}, nil
}

// ResetCircuitBreaker closes the breaker of one provider.
func (s *ConnectorService) ResetCircuitBreaker(ctx context.Context, provider string) (*ResetBreakerReply, error) {
	if !s.manager.ResetCircuitBreaker(ctx, provider) {
		return nil, kerrors.NotFound("BREAKER_NOT_FOUND", "no circuit breaker for provider "+provider)
	}
	return &ResetBreakerReply{Provider: provider, Reset: 1}, nil
}

// ResetAllCircuitBreakers closes every breaker.
func (s *ConnectorService) ResetAllCircuitBreakers(ctx context.Context) (*ResetBreakerReply, error) {
	return &ResetBreakerReply{Reset: s.manager.ResetAllCircuitBreakers(ctx)}, nil
}

// ListQueue returns queued operations, optionally for one connector.
func (s *ConnectorService) ListQueue(ctx context.Context, req *ListQueueRequest) (*QueueReply, error) {
	queue := s.manager.Queue()

	ops := queue.GetAll(ctx)
	if req.Connector != "" {
		ops = queue.GetByConnector(ctx, req.Connector)
	}
	if ops == nil {
		ops = []biz.QueuedOperation{}
	}
	return &QueueReply{Operations: ops, Stats: queue.Stats(ctx)}, nil
}

// ProcessQueue drains the offline queue once.
func (s *ConnectorService) ProcessQueue(ctx context.Context) (*biz.DrainResult, error) {
	s.logger.Infow("msg", "ProcessQueue called")

	result, err := s.manager.ProcessQueue(ctx)
	if err != nil {
		return nil, toHTTPError(err)
	}
	return &result, nil
}

// RetryFailed moves failed operations back to pending.
func (s *ConnectorService) RetryFailed(ctx context.Context) (*QueueMaintenanceReply, error) {
	n, err := s.manager.RetryFailedOperations(ctx)
	if err != nil {
		return nil, toHTTPError(err)
	}
	return &QueueMaintenanceReply{Affected: n}, nil
}

// ClearCompleted removes completed operations.
func (s *ConnectorService) ClearCompleted(ctx context.Context) (*QueueMaintenanceReply, error) {
	n, err := s.manager.ClearCompletedOperations(ctx)
	if err != nil {
		return nil, toHTTPError(err)
	}
	return &QueueMaintenanceReply{Affected: n}, nil
}

// ClearQueue removes every queued operation.
func (s *ConnectorService) ClearQueue(ctx context.Context) (*QueueMaintenanceReply, error) {
	n, err := s.manager.ClearQueue(ctx)
	if err != nil {
		return nil, toHTTPError(err)
	}
	return &QueueMaintenanceReply{Affected: n}, nil
}

// toHTTPError maps domain errors to kratos errors. Anything unrecognised came
// from the DMS itself and is reported as a bad gateway.
func toHTTPError(err error) error {
	if err == nil {
		return nil
	}
	var se *kerrors.Error
	if errors.As(err, &se) {
		return se
	}

	msg := err.Error()
	var dbErr *pkgerrors.DatabaseError
	if errors.As(err, &dbErr) {
		if pkgerrors.IsMissingTableError(err) {
			return kerrors.ServiceUnavailable("INTEGRATIONS_UNAVAILABLE", msg)
		}
		return kerrors.InternalServer("DATABASE_ERROR", msg)
	}

	switch {
	case errors.Is(err, biz.ErrCircuitOpen):
		return kerrors.ServiceUnavailable("CIRCUIT_OPEN", msg)
	case errors.Is(err, biz.ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
		return kerrors.GatewayTimeout("REQUEST_TIMEOUT", msg)
	case errors.Is(err, biz.ErrUnknownOperation):
		return kerrors.BadRequest("UNKNOWN_OPERATION", msg)
	case errors.Is(err, biz.ErrUnknownProvider):
		return kerrors.BadRequest("UNKNOWN_PROVIDER", msg)
	case errors.Is(err, biz.ErrNotSupported):
		return kerrors.BadRequest("NOT_SUPPORTED", msg)
	case errors.Is(err, biz.ErrConnectorNotFound):
		return kerrors.NotFound("CONNECTOR_NOT_FOUND", msg)
	case errors.Is(err, biz.ErrNotConnected):
		return kerrors.ServiceUnavailable("NOT_CONNECTED", msg)
	case errors.Is(err, biz.ErrNoIntegrationRepo):
		return kerrors.ServiceUnavailable("INTEGRATIONS_UNAVAILABLE", msg)
	case errors.Is(err, biz.ErrQueuePersist):
		return kerrors.ServiceUnavailable("QUEUE_PERSIST_FAILED", msg)
	default:
		return kerrors.New(http.StatusBadGateway, "DMS_REQUEST_FAILED", msg)
	}
}
