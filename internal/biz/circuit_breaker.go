package biz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ConnectorLane/internal/metrics"

	"github.com/sony/gobreaker"
)

var (
	// ErrCircuitOpen is returned when a breaker rejects a call without invoking it.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrRequestTimeout is returned when a protected call exceeds its timeout.
	ErrRequestTimeout = errors.New("request timeout")
)

// BreakerState is the externally visible state of a CircuitBreaker.
type BreakerState string

const (
	StateClosed   BreakerState = "CLOSED"
	StateOpen     BreakerState = "OPEN"
	StateHalfOpen BreakerState = "HALF_OPEN"
)

// Gauge returns the numeric encoding used for the state metric.
func (s BreakerState) Gauge() int {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}

func fromGobreaker(s gobreaker.State) BreakerState {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

const (
	DefaultFailureThreshold uint32 = 5
	DefaultSuccessThreshold uint32 = 2
	DefaultBreakerTimeout          = 60 * time.Second
	DefaultBreakerCooldown         = 30 * time.Second
)

// BreakerConfig configures a single CircuitBreaker. Zero fields take the defaults.
type BreakerConfig struct {
	FailureThreshold uint32
	SuccessThreshold uint32
	// Timeout bounds every protected call.
	Timeout time.Duration
	// Cooldown is how long the breaker stays open before admitting probes.
	Cooldown time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = DefaultSuccessThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultBreakerTimeout
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultBreakerCooldown
	}
	return c
}

// BreakerMetrics is a point-in-time snapshot of a breaker.
type BreakerMetrics struct {
	Name        string       `json:"name"`
	State       BreakerState `json:"state"`
	Failures    uint32       `json:"failures"`
	Successes   uint32       `json:"successes"`
	LastFailure *time.Time   `json:"lastFailure,omitempty"`
	LastSuccess *time.Time   `json:"lastSuccess,omitempty"`
	NextAttempt time.Time    `json:"nextAttempt"`
}

// StateChangeListener observes breaker transitions.
// It runs synchronously while the transition is applied and must not call back
// into the breaker.
type StateChangeListener func(name string, from, to BreakerState)

// BreakerOption customizes a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithStateChangeListener registers fn for every transition.
func WithStateChangeListener(fn StateChangeListener) BreakerOption {
	return func(b *CircuitBreaker) {
		b.onChange = fn
	}
}

// WithCollector records call results on c.
func WithCollector(c metrics.Collector) BreakerOption {
	return func(b *CircuitBreaker) {
		if c != nil {
			b.collector = c
		}
	}
}

// CircuitBreaker isolates a failing dependency. The state machine is driven by
// sony/gobreaker; the breaker adds per-call timeouts and keeps its own failure
// and success counters because gobreaker clears counts on every transition.
type CircuitBreaker struct {
	name      string
	cfg       BreakerConfig
	onChange  StateChangeListener
	collector metrics.Collector

	// mu guards everything below. It is never held while calling into cb.
	mu    sync.Mutex
	cb    *gobreaker.CircuitBreaker
	state BreakerState
	// generation changes on every transition; results of calls admitted in
	// an earlier generation are not counted.
	generation  uint64
	failures    uint32
	successes   uint32
	lastFailure time.Time
	lastSuccess time.Time
	nextAttempt time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, cfg BreakerConfig, opts ...BreakerOption) *CircuitBreaker {
	b := &CircuitBreaker{
		name:        name,
		cfg:         cfg.withDefaults(),
		collector:   metrics.NewNoopCollector(),
		state:       StateClosed,
		nextAttempt: time.Now(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.cb = b.newEngine()
	return b
}

func (b *CircuitBreaker) newEngine() *gobreaker.CircuitBreaker {
	threshold := b.cfg.FailureThreshold
	var engine *gobreaker.CircuitBreaker
	engine = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: b.name,
		// Probes admitted per half-open window; that many successes close the breaker.
		MaxRequests: b.cfg.SuccessThreshold,
		Timeout:     b.cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			b.transition(engine, fromGobreaker(from), fromGobreaker(to))
		},
	})
	return engine
}

// transition is invoked by gobreaker while it holds its own lock. Transitions
// of an engine replaced by Reset are ignored.
func (b *CircuitBreaker) transition(engine *gobreaker.CircuitBreaker, from, to BreakerState) {
	b.mu.Lock()
	if b.cb != engine {
		b.mu.Unlock()
		return
	}
	b.state = to
	b.generation++
	switch to {
	case StateOpen:
		b.nextAttempt = time.Now().Add(b.cfg.Cooldown)
	case StateClosed:
		b.failures = 0
		b.successes = 0
	}
	b.mu.Unlock()

	b.collector.SetCircuitState(b.name, to.Gauge())
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}

// Name returns the breaker name.
func (b *CircuitBreaker) Name() string {
	return b.name
}

// Config returns the effective configuration.
func (b *CircuitBreaker) Config() BreakerConfig {
	return b.cfg
}

// Execute runs fn under the breaker. While the breaker is open fn is not
// invoked and the returned error matches ErrCircuitOpen. Errors from fn are
// returned unchanged.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	b.mu.Lock()
	engine := b.cb
	b.mu.Unlock()

	result, err := engine.Execute(func() (interface{}, error) {
		b.mu.Lock()
		admitted := b.generation
		b.mu.Unlock()

		v, err := b.call(ctx, fn)
		b.record(engine, admitted, err)
		return v, err
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		b.collector.IncCircuitRequest(b.name, metrics.ResultRejected)
		return nil, fmt.Errorf("%w: circuit breaker %s is open, service unavailable", ErrCircuitOpen, b.name)
	case err != nil:
		b.collector.IncCircuitRequest(b.name, metrics.ResultFailure)
		return result, err
	default:
		b.collector.IncCircuitRequest(b.name, metrics.ResultSuccess)
		return result, nil
	}
}

// call runs fn with the per-call timeout. A timed out fn keeps running in the
// background with a cancelled context; its result is discarded.
func (b *CircuitBreaker) call(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	type outcome struct {
		value interface{}
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic in %s: %v", b.name, r)}
			}
		}()
		v, err := fn(callCtx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, ErrRequestTimeout
		}
		return o.value, o.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrRequestTimeout
	}
}

func (b *CircuitBreaker) record(engine *gobreaker.CircuitBreaker, admitted uint64, err error) {
	now := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cb != engine || b.generation != admitted {
		return
	}

	if err != nil {
		b.failures++
		b.successes = 0
		b.lastFailure = now
		return
	}

	b.lastSuccess = now
	if b.state == StateHalfOpen {
		b.successes++
	} else {
		b.failures = 0
	}
}

// State returns the current state. An open breaker whose cooldown has elapsed
// still reports OPEN until the next call probes it.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Metrics returns a snapshot of the breaker counters.
func (b *CircuitBreaker) Metrics() BreakerMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := BreakerMetrics{
		Name:        b.name,
		State:       b.state,
		Failures:    b.failures,
		Successes:   b.successes,
		NextAttempt: b.nextAttempt,
	}
	if !b.lastFailure.IsZero() {
		t := b.lastFailure
		m.LastFailure = &t
	}
	if !b.lastSuccess.IsZero() {
		t := b.lastSuccess
		m.LastSuccess = &t
	}
	return m
}

// Reset forces the breaker closed and clears its counters. Calls in flight
// against the previous engine no longer affect the state.
func (b *CircuitBreaker) Reset() {
	engine := b.newEngine()

	b.mu.Lock()
	from := b.state
	b.cb = engine
	b.state = StateClosed
	b.generation++
	b.failures = 0
	b.successes = 0
	b.nextAttempt = time.Now()
	b.mu.Unlock()

	b.collector.SetCircuitState(b.name, StateClosed.Gauge())
	if from != StateClosed && b.onChange != nil {
		b.onChange(b.name, from, StateClosed)
	}
}
