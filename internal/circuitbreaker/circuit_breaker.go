// Package circuitbreaker provides a circuit breaker guarding outbound
// provider calls. When a provider fails repeatedly the breaker opens
// and short-circuits further calls until a cooldown elapses, then
// admits a bounded number of probe calls before closing again.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State string

const (
	// StateClosed means the circuit is closed and requests are allowed
	StateClosed State = "closed"
	// StateOpen means the circuit is open and requests are blocked
	StateOpen State = "open"
	// StateHalfOpen means the circuit is testing if the provider has recovered
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config configures a circuit breaker
type Config struct {
	// Name identifies the breaker in state snapshots, typically the
	// provider name.
	Name string

	// MaxFailures is the consecutive failure count that opens the
	// circuit.
	MaxFailures int

	// Cooldown is how long the circuit stays open before admitting
	// probe calls.
	Cooldown time.Duration

	// HalfOpenMaxCalls bounds concurrent probe calls in half-open.
	HalfOpenMaxCalls int

	// Now overrides the clock, used by tests.
	Now func() time.Time
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig(name string) *Config {
	return &Config{
		Name:             name,
		MaxFailures:      5,
		Cooldown:         30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// Breaker implements the circuit breaker pattern for one provider.
type Breaker struct {
	name             string
	maxFailures      int
	cooldown         time.Duration
	halfOpenMaxCalls int
	now              func() time.Time

	mu               sync.Mutex
	state            State
	consecutiveFails int
	halfOpenInFlight int
	openedAt         time.Time
}

// New creates a circuit breaker from cfg, applying defaults for any
// zero field.
func New(cfg *Config) *Breaker {
	maxFailures := cfg.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	halfOpenMaxCalls := cfg.HalfOpenMaxCalls
	if halfOpenMaxCalls <= 0 {
		halfOpenMaxCalls = 1
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Breaker{
		name:             cfg.Name,
		maxFailures:      maxFailures,
		cooldown:         cooldown,
		halfOpenMaxCalls: halfOpenMaxCalls,
		now:              now,
		state:            StateClosed,
	}
}

// Execute runs fn under breaker protection. When the circuit is open
// it returns ErrCircuitOpen without calling fn.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn()
	b.record(err)
	return err
}

// allow admits or rejects a call and performs the open to half-open
// transition once the cooldown has elapsed.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.halfOpenInFlight = 1
		return nil

	case StateHalfOpen:
		if b.halfOpenInFlight >= b.halfOpenMaxCalls {
			return ErrCircuitOpen
		}
		b.halfOpenInFlight++
		return nil
	}

	return nil
}

// record updates breaker state from a call outcome.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen && b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}

	if err == nil {
		b.consecutiveFails = 0
		if b.state == StateHalfOpen {
			b.state = StateClosed
		}
		return
	}

	b.consecutiveFails++
	if b.state == StateHalfOpen || b.consecutiveFails >= b.maxFailures {
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

// Name returns the breaker's configured name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
