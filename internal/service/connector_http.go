package service

import (
	"context"

	"github.com/go-kratos/kratos/v2/transport/http"
)

// Operation names reported to middleware through the transport.
const (
	OperationGetStatus               = "/connectorlane.v1.ConnectorService/GetStatus"
	OperationTestConnections         = "/connectorlane.v1.ConnectorService/TestConnections"
	OperationInitialize              = "/connectorlane.v1.ConnectorService/Initialize"
	OperationDispatch                = "/connectorlane.v1.ConnectorService/Dispatch"
	OperationLoadIntegrations        = "/connectorlane.v1.ConnectorService/LoadIntegrations"
	OperationListCircuitBreakers     = "/connectorlane.v1.ConnectorService/ListCircuitBreakers"
	OperationResetCircuitBreaker     = "/connectorlane.v1.ConnectorService/ResetCircuitBreaker"
	OperationResetAllCircuitBreakers = "/connectorlane.v1.ConnectorService/ResetAllCircuitBreakers"
	OperationListQueue               = "/connectorlane.v1.ConnectorService/ListQueue"
	OperationProcessQueue            = "/connectorlane.v1.ConnectorService/ProcessQueue"
	OperationRetryFailed             = "/connectorlane.v1.ConnectorService/RetryFailed"
	OperationClearCompleted          = "/connectorlane.v1.ConnectorService/ClearCompleted"
	OperationClearQueue              = "/connectorlane.v1.ConnectorService/ClearQueue"
)

// IdempotencyKeyHeader deduplicates operation submits.
const IdempotencyKeyHeader = "Idempotency-Key"

// RegisterConnectorServiceHTTPServer mounts the admin routes on srv.
func RegisterConnectorServiceHTTPServer(srv *http.Server, svc *ConnectorService) {
	r := srv.Route("/")
	r.GET("/v1/connectors/status", getStatusHandler(svc))
	r.GET("/v1/connectors/test", testConnectionsHandler(svc))
	r.POST("/v1/connectors/{provider}/initialize", initializeHandler(svc))
	r.POST("/v1/connectors/{provider}/operations", dispatchHandler(svc))
	r.POST("/v1/integrations/{organization_id}/load", loadIntegrationsHandler(svc))
	r.GET("/v1/circuit-breakers", listCircuitBreakersHandler(svc))
	r.POST("/v1/circuit-breakers/reset", resetAllCircuitBreakersHandler(svc))
	r.POST("/v1/circuit-breakers/{provider}/reset", resetCircuitBreakerHandler(svc))
	r.GET("/v1/queue", listQueueHandler(svc))
	r.POST("/v1/queue/process", processQueueHandler(svc))
	r.POST("/v1/queue/retry-failed", retryFailedHandler(svc))
	r.DELETE("/v1/queue/completed", clearCompletedHandler(svc))
	r.DELETE("/v1/queue", clearQueueHandler(svc))
}

// serve runs call through the server middleware chain and writes the reply.
func serve(ctx http.Context, operation string, in interface{}, call func(context.Context, interface{}) (interface{}, error)) error {
	http.SetOperation(ctx, operation)
	h := ctx.Middleware(call)
	out, err := h(ctx, in)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

func getStatusHandler(svc *ConnectorService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		return serve(ctx, OperationGetStatus, nil, func(ctx context.Context, _ interface{}) (interface{}, error) {
			return svc.GetStatus(ctx)
		})
	}
}

func testConnectionsHandler(svc *ConnectorService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		return serve(ctx, OperationTestConnections, nil, func(ctx context.Context, _ interface{}) (interface{}, error) {
			return svc.TestConnections(ctx)
		})
	}
}

func initializeHandler(svc *ConnectorService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in InitializeRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		in.Provider = ctx.Vars().Get("provider")
		return serve(ctx, OperationInitialize, &in, func(ctx context.Context, req interface{}) (interface{}, error) {
			return svc.Initialize(ctx, req.(*InitializeRequest))
		})
	}
}

func dispatchHandler(svc *ConnectorService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in DispatchRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		in.Provider = ctx.Vars().Get("provider")
		in.IdempotencyKey = ctx.Header().Get(IdempotencyKeyHeader)
		return serve(ctx, OperationDispatch, &in, func(ctx context.Context, req interface{}) (interface{}, error) {
			return svc.Dispatch(ctx, req.(*DispatchRequest))
		})
	}
}

func loadIntegrationsHandler(svc *ConnectorService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		in := &LoadIntegrationsRequest{OrganizationID: ctx.Vars().Get("organization_id")}
		return serve(ctx, OperationLoadIntegrations, in, func(ctx context.Context, req interface{}) (interface{}, error) {
			return svc.LoadIntegrations(ctx, req.(*LoadIntegrationsRequest))
		})
	}
}

func listCircuitBreakersHandler(svc *ConnectorService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		return serve(ctx, OperationListCircuitBreakers, nil, func(ctx context.Context, _ interface{}) (interface{}, error) {
			return svc.ListCircuitBreakers(ctx)
		})
	}
}

func resetCircuitBreakerHandler(svc *ConnectorService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		provider := ctx.Vars().Get("provider")
		return serve(ctx, OperationResetCircuitBreaker, provider, func(ctx context.Context, req interface{}) (interface{}, error) {
			return svc.ResetCircuitBreaker(ctx, req.(string))
		})
	}
}

func resetAllCircuitBreakersHandler(svc *ConnectorService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		return serve(ctx, OperationResetAllCircuitBreakers, nil, func(ctx context.Context, _ interface{}) (interface{}, error) {
			return svc.ResetAllCircuitBreakers(ctx)
		})
	}
}

func listQueueHandler(svc *ConnectorService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		in := &ListQueueRequest{Connector: ctx.Query().Get("connector")}
		return serve(ctx, OperationListQueue, in, func(ctx context.Context, req interface{}) (interface{}, error) {
			return svc.ListQueue(ctx, req.(*ListQueueRequest))
		})
	}
}

func processQueueHandler(svc *ConnectorService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		return serve(ctx, OperationProcessQueue, nil, func(ctx context.Context, _ interface{}) (interface{}, error) {
			return svc.ProcessQueue(ctx)
		})
	}
}

func retryFailedHandler(svc *ConnectorService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		return serve(ctx, OperationRetryFailed, nil, func(ctx context.Context, _ interface{}) (interface{}, error) {
			return svc.RetryFailed(ctx)
		})
	}
}

func clearCompletedHandler(svc *ConnectorService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		return serve(ctx, OperationClearCompleted, nil, func(ctx context.Context, _ interface{}) (interface{}, error) {
			return svc.ClearCompleted(ctx)
		})
	}
}

func clearQueueHandler(svc *ConnectorService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		return serve(ctx, OperationClearQueue, nil, func(ctx context.Context, _ interface{}) (interface{}, error) {
			return svc.ClearQueue(ctx)
		})
	}
}
