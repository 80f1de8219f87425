package biz

import (
	"context"
	"sort"
	"sync"

	"ConnectorLane/internal/conf"
	"ConnectorLane/internal/metrics"
	pkglog "ConnectorLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// CircuitBreakerRegistry owns one CircuitBreaker per name. Breakers are created
// lazily and never removed.
type CircuitBreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	defaults  BreakerConfig
	collector metrics.Collector
	audit     AuditLogger
	logger    *pkglog.LogHelper
}

// NewCircuitBreakerRegistry creates an empty registry whose breakers default to c.
func NewCircuitBreakerRegistry(c *conf.Breaker, collector metrics.Collector, audit AuditLogger, logger log.Logger) *CircuitBreakerRegistry {
	var defaults BreakerConfig
	if c != nil {
		defaults = BreakerConfig{
			FailureThreshold: c.FailureThreshold,
			SuccessThreshold: c.SuccessThreshold,
			Timeout:          c.Timeout,
			Cooldown:         c.Cooldown,
		}
	}
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}
	if audit == nil {
		audit = NewNoopAuditLogger()
	}

	return &CircuitBreakerRegistry{
		breakers:  make(map[string]*CircuitBreaker),
		defaults:  defaults.withDefaults(),
		collector: collector,
		audit:     audit,
		logger:    pkglog.NewLogHelper(logger),
	}
}

// GetOrCreate returns the breaker registered under name, creating it with cfg
// (or the registry defaults when cfg is nil) on first use. cfg is ignored for
// existing breakers.
func (r *CircuitBreakerRegistry) GetOrCreate(name string, cfg *BreakerConfig) *CircuitBreaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}

	effective := r.defaults
	if cfg != nil {
		effective = *cfg
	}
	b = NewCircuitBreaker(name, effective,
		WithCollector(r.collector),
		WithStateChangeListener(r.onStateChange),
	)
	r.breakers[name] = b
	r.collector.SetCircuitState(name, StateClosed.Gauge())

	r.logger.Debugw("msg", "circuit breaker created",
		"breaker", name,
		"failure_threshold", b.cfg.FailureThreshold,
		"success_threshold", b.cfg.SuccessThreshold,
		"cooldown", b.cfg.Cooldown)

	return b
}

// Get returns the breaker registered under name without creating one.
func (r *CircuitBreakerRegistry) Get(name string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[name]
	return b, ok
}

// All returns a snapshot of every registered breaker keyed by name.
func (r *CircuitBreakerRegistry) All() map[string]*CircuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*CircuitBreaker, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b
	}
	return out
}

// Metrics returns the metrics of every breaker sorted by name.
func (r *CircuitBreakerRegistry) Metrics() []BreakerMetrics {
	all := r.All()

	out := make([]BreakerMetrics, 0, len(all))
	for _, b := range all {
		out = append(out, b.Metrics())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reset resets the named breaker. Unknown names are ignored.
func (r *CircuitBreakerRegistry) Reset(name string) bool {
	b, ok := r.Get(name)
	if !ok {
		return false
	}
	b.Reset()
	return true
}

// ResetAll resets every registered breaker and returns how many were reset.
func (r *CircuitBreakerRegistry) ResetAll() int {
	all := r.All()
	for _, b := range all {
		b.Reset()
	}
	return len(all)
}

func (r *CircuitBreakerRegistry) onStateChange(name string, from, to BreakerState) {
	r.collector.IncCircuitStateChange(name, string(from), string(to))

	r.logger.Breaker("circuit breaker state changed", "breaker", name, "from", from, "to", to)

	r.audit.LogCircuitStateChange(context.Background(), name, from, to)
}
