// Package health implements the per-provider circuit breaker consulted
// before every provider attempt. Each Tracker instance owns its own state;
// engines create one tracker per instance so runs stay testable in
// isolation.
package health

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the circuit state of a single provider.
type State int

const (
	// StateClosed: provider healthy, attempts allowed.
	StateClosed State = iota
	// StateOpen: provider tripping, attempts denied until the reset timeout.
	StateOpen
	// StateHalfOpen: probing recovery with a bounded number of attempts.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config tunes the breaker shared by all providers in one tracker.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens a circuit.
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`

	// ResetTimeout is how long an open circuit waits before probing.
	ResetTimeout time.Duration `yaml:"reset_timeout" json:"reset_timeout"`

	// HalfOpenMaxProbes bounds attempts while half-open.
	HalfOpenMaxProbes int `yaml:"half_open_max_probes" json:"half_open_max_probes"`

	// OnStateChange is invoked on every transition, e.g. to feed metrics.
	OnStateChange func(providerID string, from, to State) `yaml:"-" json:"-"`
}

// DefaultConfig returns the breaker defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  5,
		ResetTimeout:      60 * time.Second,
		HalfOpenMaxProbes: 3,
	}
}

// Decision is the answer to ShouldAttempt.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Reason     string        `json:"reason,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Tracker gates provider attempts by recent failure history.
type Tracker interface {
	ShouldAttempt(providerID string) Decision
	RecordSuccess(providerID string)
	RecordFailure(providerID string)
	ResetCircuit(providerID string)
	// Snapshot returns the current circuit state per known provider.
	Snapshot() map[string]State
}

// circuit is one provider's breaker state.
type circuit struct {
	state        State
	failureCount int
	lastFailure  time.Time
	probeCount   int
}

type tracker struct {
	config Config
	logger *zap.Logger

	mu       sync.Mutex
	circuits map[string]*circuit
}

// NewTracker creates a tracker with the given config.
func NewTracker(config Config, logger *zap.Logger) Tracker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 60 * time.Second
	}
	if config.HalfOpenMaxProbes <= 0 {
		config.HalfOpenMaxProbes = 3
	}
	return &tracker{
		config:   config,
		logger:   logger.With(zap.String("component", "health_tracker")),
		circuits: make(map[string]*circuit),
	}
}

func (t *tracker) get(providerID string) *circuit {
	c, ok := t.circuits[providerID]
	if !ok {
		c = &circuit{state: StateClosed}
		t.circuits[providerID] = c
	}
	return c
}

// ShouldAttempt reports whether a call to the provider is currently allowed.
func (t *tracker) ShouldAttempt(providerID string) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.get(providerID)
	switch c.state {
	case StateClosed:
		return Decision{Allowed: true}

	case StateOpen:
		elapsed := time.Since(c.lastFailure)
		if elapsed > t.config.ResetTimeout {
			t.setState(providerID, c, StateHalfOpen)
			c.probeCount = 1
			return Decision{Allowed: true, Reason: "half_open_probe"}
		}
		return Decision{
			Allowed:    false,
			Reason:     "circuit_open",
			RetryAfter: t.config.ResetTimeout - elapsed,
		}

	case StateHalfOpen:
		if c.probeCount >= t.config.HalfOpenMaxProbes {
			return Decision{Allowed: false, Reason: "half_open_exhausted", RetryAfter: t.config.ResetTimeout}
		}
		c.probeCount++
		return Decision{Allowed: true, Reason: "half_open_probe"}

	default:
		return Decision{Allowed: false, Reason: "unknown_state"}
	}
}

// RecordSuccess clears failure history and closes a half-open circuit.
func (t *tracker) RecordSuccess(providerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.get(providerID)
	switch c.state {
	case StateClosed:
		c.failureCount = 0
	case StateHalfOpen:
		t.logger.Info("circuit recovered",
			zap.String("provider", providerID),
			zap.Int("probes", c.probeCount),
		)
		t.setState(providerID, c, StateClosed)
		c.failureCount = 0
		c.probeCount = 0
	case StateOpen:
		// A success while open means the caller bypassed the gate; accept it
		// as a recovery signal anyway.
		t.setState(providerID, c, StateClosed)
		c.failureCount = 0
	}
}

// RecordFailure counts a failure and opens the circuit at the threshold.
func (t *tracker) RecordFailure(providerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.get(providerID)
	c.failureCount++
	c.lastFailure = time.Now()

	switch c.state {
	case StateClosed:
		if c.failureCount >= t.config.FailureThreshold {
			t.logger.Warn("circuit opened",
				zap.String("provider", providerID),
				zap.Int("failures", c.failureCount),
			)
			t.setState(providerID, c, StateOpen)
		}
	case StateHalfOpen:
		t.logger.Warn("probe failed, circuit re-opened",
			zap.String("provider", providerID),
		)
		t.setState(providerID, c, StateOpen)
		c.probeCount = 0
	}
}

// ResetCircuit forces a provider back to closed, e.g. after re-login.
func (t *tracker) ResetCircuit(providerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.get(providerID)
	if c.state != StateClosed {
		t.logger.Info("circuit reset",
			zap.String("provider", providerID),
			zap.String("from", c.state.String()),
		)
	}
	t.setState(providerID, c, StateClosed)
	c.failureCount = 0
	c.probeCount = 0
}

// Snapshot returns the current state of every provider the tracker has seen.
func (t *tracker) Snapshot() map[string]State {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]State, len(t.circuits))
	for id, c := range t.circuits {
		out[id] = c.state
	}
	return out
}

// setState transitions the circuit and fires the state-change hook. Caller
// holds the lock; the hook runs on its own goroutine so it cannot deadlock
// back into the tracker.
func (t *tracker) setState(providerID string, c *circuit, to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	if t.config.OnStateChange != nil {
		go t.config.OnStateChange(providerID, from, to)
	}
}
