// Package breaker wraps sony/gobreaker with one circuit breaker per
// driver kind, so a crash loop in one browser kind's launch path can't
// starve borrowers waiting on a healthy kind.
package breaker

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"browsercontrol/internal/logging"
)

// Registry hands out a per-kind *gobreaker.CircuitBreaker, creating one
// lazily on first use.
type Registry struct {
	breakers sync.Map // map[string]*gobreaker.CircuitBreaker
}

func NewRegistry() *Registry {
	return &Registry{}
}

// For returns the circuit breaker guarding driver creation for kind,
// creating it on first call.
func (r *Registry) For(kind string) *gobreaker.CircuitBreaker {
	if cb, ok := r.breakers.Load(kind); ok {
		return cb.(*gobreaker.CircuitBreaker)
	}

	settings := gobreaker.Settings{
		Name:        kind,
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn("driver circuit breaker state change",
				zap.String("kind", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	cb := gobreaker.NewCircuitBreaker(settings)
	actual, _ := r.breakers.LoadOrStore(kind, cb)
	return actual.(*gobreaker.CircuitBreaker)
}

// Execute runs fn through the breaker for kind.
func (r *Registry) Execute(kind string, fn func() (interface{}, error)) (interface{}, error) {
	return r.For(kind).Execute(fn)
}
