// Package resilience provides circuit breaking and provider failover for the
// external backends a call depends on. A live phone call cannot wait out a
// flapping cloud API: once a backend has failed repeatedly, further attempts
// are short-circuited and, where a fallback backend is configured, traffic
// moves over to it.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Do] when the breaker is open and the
// reset timeout has not yet elapsed. Callers treat it like any other backend
// failure, except that no request was actually sent.
var ErrBreakerOpen = errors.New("resilience: circuit breaker is open")

// State is the current mode of a [Breaker].
type State int

const (
	// StateClosed passes all requests through. Failures are counted.
	StateClosed State = iota
	// StateOpen rejects all requests until the reset timeout elapses.
	StateOpen
	// StateHalfOpen lets a limited number of probe requests through to
	// decide whether the backend has recovered.
	StateHalfOpen
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// BreakerConfig configures a [Breaker]. The zero value is usable; zero fields
// take the defaults documented per field.
type BreakerConfig struct {
	// Name identifies the protected backend in log output.
	Name string

	// MaxFailures is the number of consecutive failures that trips the
	// breaker open. Defaults to 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before allowing
	// half-open probes. Defaults to 30 seconds.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of consecutive probe successes required to
	// close the breaker again. Defaults to 3.
	HalfOpenMax int
}

// Breaker is a three-state circuit breaker guarding calls to one backend.
//
// Closed is the normal mode. After MaxFailures consecutive failures the
// breaker opens and [Breaker.Do] fails fast with [ErrBreakerOpen]. Once the
// reset timeout elapses the breaker goes half-open and admits probes one at a
// time; HalfOpenMax consecutive probe successes close it, any probe failure
// reopens it.
//
// A Breaker is safe for concurrent use.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int

	mu            sync.Mutex
	state         State
	failures      int
	probeInFlight bool
	probeOKs      int
	openedAt      time.Time
}

// NewBreaker creates a [Breaker] from cfg, applying defaults for zero fields.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
	}
}

// Do runs fn if the breaker admits the request and records the outcome.
// When the breaker is open, fn is not called and [ErrBreakerOpen] is
// returned. In half-open mode only one probe may be in flight at a time;
// concurrent callers are rejected with [ErrBreakerOpen] until the probe
// completes.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

// State returns the breaker's current state. An open breaker whose reset
// timeout has elapsed reports [StateHalfOpen].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.openedAt) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to closed, clearing all failure counts.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(b.openedAt) < b.resetTimeout {
			return ErrBreakerOpen
		}
		b.transition(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if b.probeInFlight {
			return ErrBreakerOpen
		}
		b.probeInFlight = true
		return nil
	default:
		return fmt.Errorf("resilience: breaker %q in unknown state %d", b.name, int(b.state))
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		if err == nil {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.maxFailures {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.probeInFlight = false
		if err != nil {
			b.transition(StateOpen)
			return
		}
		b.probeOKs++
		if b.probeOKs >= b.halfOpenMax {
			b.transition(StateClosed)
		}
	}
}

// transition moves to next and resets the counters that belong to it.
// Callers must hold b.mu.
func (b *Breaker) transition(next State) {
	if b.state != next {
		slog.Warn("circuit breaker state change",
			"breaker", b.name,
			"from", b.state.String(),
			"to", next.String())
	}
	b.state = next
	switch next {
	case StateClosed:
		b.failures = 0
		b.probeOKs = 0
		b.probeInFlight = false
	case StateOpen:
		b.openedAt = time.Now()
		b.probeOKs = 0
		b.probeInFlight = false
	case StateHalfOpen:
		b.probeOKs = 0
		b.probeInFlight = false
	}
}
