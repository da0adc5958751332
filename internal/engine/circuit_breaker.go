package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/rendis/agentwave/pkg/schema"
)

// CircuitState is the state of one agent's breaker.
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
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures per-agent breakers.
type CircuitBreakerConfig struct {
	// FailureThreshold consecutive failed attempts open the circuit.
	FailureThreshold int `json:"failure_threshold"`
	// Cooldown is how long an open circuit rejects before probing.
	Cooldown time.Duration `json:"cooldown"`
	// HalfOpenMax is the number of trial attempts allowed while half-open.
	HalfOpenMax int `json:"half_open_max"`
}

// DefaultCircuitBreakerConfig opens after 5 failures for 30s.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

type circuitBreaker struct {
	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	lastFailure         time.Time
	halfOpenAttempts    int
}

// CircuitBreakerStats is a diagnostic snapshot of one breaker.
type CircuitBreakerStats struct {
	AgentID             string `json:"agent_id"`
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// CircuitBreakerRegistry holds one breaker per agent ID. The executor only
// creates it when breakers are enabled.
type CircuitBreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*circuitBreaker
	config   CircuitBreakerConfig
	now      func() time.Time
}

// NewCircuitBreakerRegistry creates a registry; non-positive fields take
// their default values.
func NewCircuitBreakerRegistry(config CircuitBreakerConfig) *CircuitBreakerRegistry {
	def := DefaultCircuitBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = def.Cooldown
	}
	if config.HalfOpenMax <= 0 {
		config.HalfOpenMax = def.HalfOpenMax
	}
	return &CircuitBreakerRegistry{
		breakers: make(map[string]*circuitBreaker),
		config:   config,
		now:      time.Now,
	}
}

// Allow returns nil when an attempt may call the agent, otherwise a
// CIRCUIT_OPEN error.
func (r *CircuitBreakerRegistry) Allow(agentID string) error {
	cb := r.get(agentID)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		elapsed := r.now().Sub(cb.lastFailure)
		if elapsed >= r.config.Cooldown {
			cb.state = CircuitHalfOpen
			cb.halfOpenAttempts = 1
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeCircuitOpen,
			"circuit open for agent %q after %d consecutive failures", agentID, cb.consecutiveFailures).
			WithDetails(map[string]any{
				"agent_id":             agentID,
				"consecutive_failures": cb.consecutiveFailures,
				"cooldown_remaining":   (r.config.Cooldown - elapsed).String(),
			})

	case CircuitHalfOpen:
		if cb.halfOpenAttempts >= r.config.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"circuit half-open for agent %q: trial limit reached", agentID)
		}
		cb.halfOpenAttempts++
	}
	return nil
}

// ReleaseTrial returns a half-open trial taken by Allow when the attempt
// ended without a verdict from the agent, e.g. because the run was cancelled.
func (r *CircuitBreakerRegistry) ReleaseTrial(agentID string) {
	cb := r.get(agentID)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen && cb.halfOpenAttempts > 0 {
		cb.halfOpenAttempts--
	}
}

// RecordSuccess closes the agent's circuit.
func (r *CircuitBreakerRegistry) RecordSuccess(agentID string) {
	cb := r.get(agentID)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.halfOpenAttempts = 0
	cb.state = CircuitClosed
}

// RecordFailure counts a failed attempt and returns the resulting state.
// A failure while half-open reopens immediately.
func (r *CircuitBreakerRegistry) RecordFailure(agentID string) CircuitState {
	cb := r.get(agentID)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailure = r.now()

	if cb.state == CircuitHalfOpen || cb.consecutiveFailures >= r.config.FailureThreshold {
		cb.state = CircuitOpen
	}
	return cb.state
}

// State returns the agent's circuit state without consuming a trial.
func (r *CircuitBreakerRegistry) State(agentID string) CircuitState {
	cb := r.get(agentID)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && r.now().Sub(cb.lastFailure) >= r.config.Cooldown {
		return CircuitHalfOpen
	}
	return cb.state
}

// Stats lists every known breaker, sorted by agent ID.
func (r *CircuitBreakerRegistry) Stats() []CircuitBreakerStats {
	r.mu.Lock()
	ids := make([]string, 0, len(r.breakers))
	for id := range r.breakers {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)

	out := make([]CircuitBreakerStats, 0, len(ids))
	for _, id := range ids {
		cb := r.get(id)
		cb.mu.Lock()
		out = append(out, CircuitBreakerStats{
			AgentID:             id,
			State:               cb.state.String(),
			ConsecutiveFailures: cb.consecutiveFailures,
		})
		cb.mu.Unlock()
	}
	return out
}

func (r *CircuitBreakerRegistry) get(agentID string) *circuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[agentID]
	if !ok {
		cb = &circuitBreaker{state: CircuitClosed}
		r.breakers[agentID] = cb
	}
	return cb
}
