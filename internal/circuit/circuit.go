package circuit

import (
	"sync"
	"time"

	"github.com/sawpanic/solroute/internal/errs"
	"github.com/sawpanic/solroute/internal/metrics"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // requests pass through
	StateHalfOpen              // single probe admitted
	StateOpen                  // requests fail fast
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config holds per-circuit thresholds.
type Config struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	MonitoringWindow time.Duration `yaml:"monitoring_window"`
}

// DefaultConfig returns the thresholds used for adapter operations.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
		MonitoringWindow: 60 * time.Second,
	}
}

// Breaker is a per-(service, operation) three-state machine. All state
// mutation happens inside its mutex; no lock is held across the guarded
// call itself.
type Breaker struct {
	name    string
	config  Config
	metrics *metrics.Registry

	mu              sync.Mutex
	state           State
	failures        int
	successes       int
	lastFailureTime time.Time
	lastSuccessTime time.Time
	nextAttemptTime time.Time
	probing         bool
}

// NewBreaker creates a circuit breaker in the closed state.
func NewBreaker(name string, config Config, m *metrics.Registry) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	return &Breaker{
		name:    name,
		config:  config,
		metrics: m,
		state:   StateClosed,
	}
}

// Snapshot is a point-in-time view of circuit state.
type Snapshot struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	Failures        int       `json:"failureCount"`
	Successes       int       `json:"successCount"`
	LastFailureTime time.Time `json:"lastFailureTime,omitempty"`
	LastSuccessTime time.Time `json:"lastSuccessTime,omitempty"`
	NextAttemptTime time.Time `json:"nextAttemptTime,omitempty"`
}

// admit decides whether a call may proceed. In half-open it admits exactly
// one probe; concurrent callers are deferred to fallback or fast-fail.
func (b *Breaker) admit(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Before(b.nextAttemptTime) {
			return false
		}
		b.setState(StateHalfOpen)
		b.successes = 0
		b.probing = true
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return false
	}
}

// onSuccess records a successful call outcome.
func (b *Breaker) onSuccess(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastSuccessTime = now
	switch b.state {
	case StateClosed:
		if b.failures > 0 {
			b.failures--
		}
	case StateHalfOpen:
		b.probing = false
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.setState(StateClosed)
			b.failures = 0
			b.successes = 0
		}
	}
}

// onFailure records a failed call outcome.
func (b *Breaker) onFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureTime = now
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.trip(now)
		}
	case StateHalfOpen:
		b.probing = false
		b.successes = 0
		b.trip(now)
	}
}

// trip opens the circuit and arms the recovery window. Caller holds the lock.
func (b *Breaker) trip(now time.Time) {
	b.setState(StateOpen)
	b.nextAttemptTime = now.Add(b.config.RecoveryTimeout)
}

// setState transitions and reports. Caller holds the lock.
func (b *Breaker) setState(state State) {
	if b.state == state {
		return
	}
	b.state = state
	if b.metrics != nil {
		b.metrics.RecordBreakerTransition(b.name, state.String(), float64(state))
	}
}

// State returns the current state without advancing it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the current circuit state for health reporting.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:            b.name,
		State:           b.state.String(),
		Failures:        b.failures,
		Successes:       b.successes,
		LastFailureTime: b.lastFailureTime,
		LastSuccessTime: b.lastSuccessTime,
		NextAttemptTime: b.nextAttemptTime,
	}
}

// Reset forces the circuit closed and clears counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateClosed)
	b.failures = 0
	b.successes = 0
	b.probing = false
	b.nextAttemptTime = time.Time{}
}

// openError builds the fast-fail error for this circuit.
func (b *Breaker) openError() *errs.Error {
	b.mu.Lock()
	next := b.nextAttemptTime
	b.mu.Unlock()
	return errs.Newf(errs.CircuitBreakerOpen, "circuit %s is open", b.name).
		WithDetail("circuit", b.name).
		WithDetail("nextAttemptTime", next)
}
