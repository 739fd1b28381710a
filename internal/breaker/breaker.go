// Package breaker guards the account store with a circuit breaker so that a
// failing database degrades verified requests to 503 instead of piling up
// timeouts inside the request path.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"minigate/gate-service/internal/metrics"
)

// ErrOpen is returned while the circuit rejects calls.
var ErrOpen = errors.New("store circuit open")

type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type Config struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive successes in half-open
	// before closing again.
	SuccessThreshold int
	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// Breaker protects a single backend. Do runs fn when the circuit admits the
// call and feeds the outcome back into the state machine.
type Breaker struct {
	name   string
	config Config

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	lastFail  time.Time

	nowFunc func() time.Time
}

func New(name string, config Config) *Breaker {
	b := &Breaker{
		name:    name,
		config:  config,
		state:   StateClosed,
		nowFunc: time.Now,
	}
	metrics.StoreBreakerState.Set(float64(StateClosed))
	return b
}

func (b *Breaker) Do(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.nowFunc().Sub(b.lastFail) >= b.config.Timeout {
			b.transitionTo(StateHalfOpen)
			return nil
		}
		return ErrOpen
	case StateHalfOpen:
		return nil
	}
	return ErrOpen
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transitionTo(StateClosed)
			log.Info().Str("backend", b.name).Msg("store circuit recovered")
		}
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFail = b.nowFunc()
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.transitionTo(StateOpen)
			log.Error().
				Str("backend", b.name).
				Int("failures", b.failures).
				Msg("store circuit opened")
		}
	case StateHalfOpen:
		// Any failure during a probe reopens immediately.
		b.transitionTo(StateOpen)
		log.Warn().Str("backend", b.name).Msg("store circuit reopened after probe failure")
	}
}

// transitionTo changes state; caller holds mu.
func (b *Breaker) transitionTo(next State) {
	b.state = next
	b.failures = 0
	b.successes = 0
	metrics.StoreBreakerState.Set(float64(next))
}
