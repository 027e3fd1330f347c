package circuit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sawpanic/solroute/internal/metrics"
)

// Registry owns one breaker per (service, operation) pair.
type Registry struct {
	config  Config
	metrics *metrics.Registry

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a breaker registry; every circuit it mints shares the
// given config.
func NewRegistry(config Config, m *metrics.Registry) *Registry {
	return &Registry{
		config:   config,
		metrics:  m,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for a service/operation, creating it on first use.
func (r *Registry) Get(service, operation string) *Breaker {
	name := fmt.Sprintf("%s.%s", service, operation)
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = NewBreaker(name, r.config, r.metrics)
		r.breakers[name] = b
	}
	return b
}

// Snapshots returns the state of every known circuit.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Snapshot())
	}
	return out
}

// ResetAll forces every circuit closed.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.breakers {
		b.Reset()
	}
}

// ExecuteGuarded runs thunk through the circuit for (service, operation).
// When the circuit rejects the call, fallback runs instead if provided;
// otherwise the call fails fast with CIRCUIT_BREAKER_OPEN. Thunk outcomes
// feed the state machine; fallback outcomes do not.
func ExecuteGuarded[T any](ctx context.Context, r *Registry, service, operation string, thunk func(context.Context) (T, error), fallback func(context.Context) (T, error)) (T, error) {
	b := r.Get(service, operation)
	now := time.Now()

	if !b.admit(now) {
		if fallback != nil {
			return fallback(ctx)
		}
		var zero T
		return zero, b.openError()
	}

	v, err := thunk(ctx)
	if err != nil {
		b.onFailure(time.Now())
		var zero T
		return zero, err
	}
	b.onSuccess(time.Now())
	return v, nil
}
