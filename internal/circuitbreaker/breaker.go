// Package circuitbreaker tracks per-provider health so a consistently failing
// quote feed is skipped for a cooldown period instead of burning its timeout
// on every refresh cycle.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the current state of one provider's circuit
type State int

// Circuit states
const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Tripped, provider skipped
	StateHalfOpen              // Cooldown elapsed, probing with one attempt
)

// Breaker keeps an independent circuit per provider name.
type Breaker struct {
	// Consecutive failures required to open a circuit
	failureThreshold int

	// Duration an open circuit stays open before a half-open probe
	cooldown time.Duration

	mu       sync.Mutex
	circuits map[string]*circuit
}

type circuit struct {
	state    State
	failures int
	lastTrip time.Time
}

// New creates a breaker. A threshold of zero falls back to 3 failures.
func New(failureThreshold int, cooldown time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		circuits:         make(map[string]*circuit),
	}
}

// Allow reports whether the provider should be consulted this cycle. An open
// circuit whose cooldown has elapsed transitions to half-open and allows a
// single probe.
func (b *Breaker) Allow(provider string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(provider)
	switch c.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(c.lastTrip) > b.cooldown {
			c.state = StateHalfOpen
			logrus.Infof("Provider %s half-open: probing recovery", provider)
			return true
		}
		return false
	}
	return true
}

// Record reports the outcome of a provider call. A success closes the
// circuit; reaching the failure threshold opens it.
func (b *Breaker) Record(provider string, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(provider)
	if ok {
		if c.state != StateClosed {
			logrus.Infof("Provider %s recovered", provider)
		}
		c.state = StateClosed
		c.failures = 0
		return
	}

	c.failures++
	if c.state == StateHalfOpen || c.failures >= b.failureThreshold {
		c.state = StateOpen
		c.lastTrip = time.Now()
		logrus.Warnf("Provider %s circuit opened after %d consecutive failures", provider, c.failures)
	}
}

// GetState returns the current state for a provider.
func (b *Breaker) GetState(provider string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.circuit(provider).state
}

// Reset forcibly closes every circuit.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.circuits = make(map[string]*circuit)
	logrus.Info("All provider circuits reset to closed")
}

// circuit returns the tracked circuit for a provider, creating it closed.
// Callers must hold the mutex.
func (b *Breaker) circuit(provider string) *circuit {
	c, ok := b.circuits[provider]
	if !ok {
		c = &circuit{state: StateClosed}
		b.circuits[provider] = c
	}
	return c
}
