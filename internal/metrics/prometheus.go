package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"ConnectorLane/internal/conf"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ErrNilRegistry is returned when no registry is supplied.
var ErrNilRegistry = errors.New("metrics: registry cannot be nil")

type prometheusCollector struct {
	registry *prometheus.Registry

	circuitState        *prometheus.GaugeVec
	circuitRequests     *prometheus.CounterVec
	circuitStateChanges *prometheus.CounterVec

	queueItems         *prometheus.GaugeVec
	queueProcessed     *prometheus.CounterVec
	queuePersistErrors prometheus.Counter
	drainDuration      prometheus.Histogram

	connectorDuration *prometheus.HistogramVec
}

// NewCollector builds the collector selected by configuration. Disabled
// metrics yield the noop collector.
func NewCollector(c *conf.Metrics) (Collector, error) {
	if c == nil || !c.Enabled {
		return NewNoopCollector(), nil
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewPrometheusCollector(c.Namespace, registry)
}

// NewPrometheusCollector registers every metric on registry under namespace.
func NewPrometheusCollector(namespace string, registry *prometheus.Registry) (Collector, error) {
	if registry == nil {
		return nil, ErrNilRegistry
	}

	c := &prometheusCollector{
		registry: registry,
		circuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),
		circuitRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_requests_total",
			Help:      "Calls routed through a circuit breaker by result",
		}, []string{"name", "result"}),
		circuitStateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Circuit breaker state transitions",
		}, []string{"name", "from_state", "to_state"}),
		queueItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "offline_queue_items",
			Help:      "Queued operations by status",
		}, []string{"status"}),
		queueProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offline_queue_processed_total",
			Help:      "Drained queue items by outcome",
		}, []string{"connector", "operation", "outcome"}),
		queuePersistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offline_queue_persist_errors_total",
			Help:      "Failed writes of the offline queue to its store",
		}),
		drainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "offline_queue_drain_duration_seconds",
			Help:      "Duration of one offline queue drain pass",
			Buckets:   []float64{0.1, 1, 5, 15, 30, 60, 300, 600},
		}),
		connectorDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connector_request_duration_seconds",
			Help:      "Outbound DMS request latency",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "method", "status_code"}),
	}

	for _, m := range []prometheus.Collector{
		c.circuitState,
		c.circuitRequests,
		c.circuitStateChanges,
		c.queueItems,
		c.queueProcessed,
		c.queuePersistErrors,
		c.drainDuration,
		c.connectorDuration,
	} {
		if err := registry.Register(m); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *prometheusCollector) SetCircuitState(name string, state int) {
	c.circuitState.WithLabelValues(name).Set(float64(state))
}

func (c *prometheusCollector) IncCircuitRequest(name, result string) {
	c.circuitRequests.WithLabelValues(name, result).Inc()
}

func (c *prometheusCollector) IncCircuitStateChange(name, from, to string) {
	c.circuitStateChanges.WithLabelValues(name, from, to).Inc()
}

func (c *prometheusCollector) SetQueueItems(status string, count int) {
	c.queueItems.WithLabelValues(status).Set(float64(count))
}

func (c *prometheusCollector) IncQueueProcessed(connector, operation, outcome string) {
	c.queueProcessed.WithLabelValues(connector, operation, outcome).Inc()
}

func (c *prometheusCollector) IncQueuePersistError() {
	c.queuePersistErrors.Inc()
}

func (c *prometheusCollector) ObserveDrain(d time.Duration) {
	c.drainDuration.Observe(d.Seconds())
}

// ObserveConnectorCall records status 0 for transport errors.
func (c *prometheusCollector) ObserveConnectorCall(provider, method string, status int, d time.Duration) {
	c.connectorDuration.WithLabelValues(provider, method, strconv.Itoa(status)).Observe(d.Seconds())
}

func (c *prometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
