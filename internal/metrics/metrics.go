// Package metrics exposes Prometheus instrumentation for breakers, the offline
// queue and outbound DMS calls.
package metrics

import (
	"net/http"
	"time"

	"github.com/google/wire"
)

// ProviderSet is metrics providers.
var ProviderSet = wire.NewSet(NewCollector)

// Circuit breaker request results.
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultRejected = "rejected"
)

// Queue drain outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
)

// Collector records service metrics. Implementations must be safe for
// concurrent use; breaker callbacks invoke them while holding breaker locks.
type Collector interface {
	// SetCircuitState records the breaker state (0=closed, 1=half-open, 2=open).
	SetCircuitState(name string, state int)
	// IncCircuitRequest counts a call through a breaker by result.
	IncCircuitRequest(name, result string)
	// IncCircuitStateChange counts a breaker transition.
	IncCircuitStateChange(name, from, to string)

	// SetQueueItems records the number of queued operations per status.
	SetQueueItems(status string, count int)
	// IncQueueProcessed counts one drained item by outcome.
	IncQueueProcessed(connector, operation, outcome string)
	// IncQueuePersistError counts failed queue writes.
	IncQueuePersistError()
	// ObserveDrain records the duration of one drain pass.
	ObserveDrain(d time.Duration)

	// ObserveConnectorCall records the latency of one outbound DMS request.
	ObserveConnectorCall(provider, method string, status int, d time.Duration)

	// Handler serves the metrics endpoint.
	Handler() http.Handler
}

type noopCollector struct{}

// NewNoopCollector returns a collector that records nothing.
func NewNoopCollector() Collector {
	return noopCollector{}
}

func (noopCollector) SetCircuitState(string, int)                             {}
func (noopCollector) IncCircuitRequest(string, string)                        {}
func (noopCollector) IncCircuitStateChange(string, string, string)            {}
func (noopCollector) SetQueueItems(string, int)                               {}
func (noopCollector) IncQueueProcessed(string, string, string)                {}
func (noopCollector) IncQueuePersistError()                                   {}
func (noopCollector) ObserveDrain(time.Duration)                              {}
func (noopCollector) ObserveConnectorCall(string, string, int, time.Duration) {}
func (noopCollector) Handler() http.Handler                                   { return http.NotFoundHandler() }
