package http

import (
	"sync"
	"time"

	"ytcollect/metrics"
)

// CircuitState is the state of one host's circuit.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// gauge is the value exported on ytcollect_circuit_state.
func (s CircuitState) gauge() float64 {
	switch s {
	case CircuitHalfOpen:
		return 1
	case CircuitOpen:
		return 2
	default:
		return 0
	}
}

const (
	DefaultFailureThreshold    = 5
	DefaultRecoveryTimeout     = 30 * time.Second
	DefaultHalfOpenMaxRequests = 1
)

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive transient failures that
	// opens a circuit.
	FailureThreshold int
	// RecoveryTimeout is how long a circuit stays open before a probe is let through.
	RecoveryTimeout time.Duration
	// HalfOpenMaxRequests is the number of probes allowed while half-open.
	HalfOpenMaxRequests int
	// IsTransientError filters which failures count. Nil counts all of them.
	IsTransientError func(error) bool
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    DefaultFailureThreshold,
		RecoveryTimeout:     DefaultRecoveryTimeout,
		HalfOpenMaxRequests: DefaultHalfOpenMaxRequests,
		IsTransientError:    IsTransientError,
	}
}

type circuit struct {
	state            CircuitState
	failures         int
	lastError        time.Time
	lastStateChange  time.Time
	halfOpenRequests int
}

// CircuitStats is a point-in-time view of one circuit.
type CircuitStats struct {
	State             CircuitState
	ConsecutiveErrors int
	LastError         time.Time
	LastStateChange   time.Time
}

// CircuitBreaker fails requests to a host fast once it has failed
// FailureThreshold times in a row. A nil breaker allows everything.
type CircuitBreaker struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	config   CircuitBreakerConfig
	now      func() time.Time
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = DefaultHalfOpenMaxRequests
	}
	return &CircuitBreaker{
		circuits: make(map[string]*circuit),
		config:   cfg,
		now:      time.Now,
	}
}

// get returns host's circuit, creating a closed one. Callers hold mu.
func (cb *CircuitBreaker) get(host string) *circuit {
	c, ok := cb.circuits[host]
	if !ok {
		c = &circuit{state: CircuitClosed, lastStateChange: cb.now()}
		cb.circuits[host] = c
	}
	return c
}

// set moves c to state and publishes it. Callers hold mu.
func (cb *CircuitBreaker) set(host string, c *circuit, state CircuitState) {
	c.state = state
	c.lastStateChange = cb.now()
	metrics.CircuitState.WithLabelValues(host).Set(state.gauge())
}

// Allow returns ErrCircuitOpen if host should not be called right now.
func (cb *CircuitBreaker) Allow(host string) error {
	if cb == nil {
		return nil
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(host)
	switch c.state {
	case CircuitOpen:
		if cb.now().Sub(c.lastStateChange) < cb.config.RecoveryTimeout {
			return ErrCircuitOpen
		}
		cb.set(host, c, CircuitHalfOpen)
		c.halfOpenRequests = 1
		return nil
	case CircuitHalfOpen:
		if c.halfOpenRequests >= cb.config.HalfOpenMaxRequests {
			return ErrCircuitOpen
		}
		c.halfOpenRequests++
	}
	return nil
}

// RecordSuccess closes a half-open circuit and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess(host string) {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(host)
	if c.state == CircuitHalfOpen {
		cb.set(host, c, CircuitClosed)
		c.halfOpenRequests = 0
	}
	c.failures = 0
}

// RecordFailure counts err against host unless it is not transient.
func (cb *CircuitBreaker) RecordFailure(host string, err error) {
	if cb == nil {
		return
	}
	if cb.config.IsTransientError != nil && !cb.config.IsTransientError(err) {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(host)
	c.failures++
	c.lastError = cb.now()
	switch c.state {
	case CircuitClosed:
		if c.failures >= cb.config.FailureThreshold {
			cb.set(host, c, CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.set(host, c, CircuitOpen)
	}
}

// State returns host's state, reporting an expired open circuit as half-open.
func (cb *CircuitBreaker) State(host string) CircuitState {
	return cb.Stats(host).State
}

func (cb *CircuitBreaker) Stats(host string) CircuitStats {
	if cb == nil {
		return CircuitStats{State: CircuitClosed}
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c, ok := cb.circuits[host]
	if !ok {
		return CircuitStats{State: CircuitClosed}
	}
	state := c.state
	if state == CircuitOpen && cb.now().Sub(c.lastStateChange) >= cb.config.RecoveryTimeout {
		state = CircuitHalfOpen
	}
	return CircuitStats{
		State:             state,
		ConsecutiveErrors: c.failures,
		LastError:         c.lastError,
		LastStateChange:   c.lastStateChange,
	}
}

// Reset closes host's circuit.
func (cb *CircuitBreaker) Reset(host string) {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	delete(cb.circuits, host)
	metrics.CircuitState.WithLabelValues(host).Set(CircuitClosed.gauge())
}
