package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrAllFailed is returned by [Failover.Do] when every configured backend
// either failed or had an open breaker.
var ErrAllFailed = errors.New("resilience: all backends failed")

// Failover tries an ordered list of backends until one succeeds. Each backend
// is guarded by its own [Breaker], so a backend that keeps failing stops
// being attempted at all until its reset timeout elapses.
//
// The primary backend is always tried first when its breaker admits the
// request; fallbacks are tried in registration order. Failover is safe for
// concurrent use once all backends are registered.
type Failover[T any] struct {
	mu      sync.RWMutex
	breaker BreakerConfig
	entries []failoverEntry[T]
}

type failoverEntry[T any] struct {
	name    string
	backend T
	breaker *Breaker
}

// NewFailover creates a [Failover] with primary as the preferred backend.
// breaker supplies the per-backend breaker settings; its Name field is
// ignored in favour of each backend's registered name.
func NewFailover[T any](name string, primary T, breaker BreakerConfig) *Failover[T] {
	f := &Failover[T]{breaker: breaker}
	f.add(name, primary)
	return f
}

// AddFallback registers backend as the next candidate after all previously
// registered ones.
func (f *Failover[T]) AddFallback(name string, backend T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.add(name, backend)
}

func (f *Failover[T]) add(name string, backend T) {
	cfg := f.breaker
	cfg.Name = name
	f.entries = append(f.entries, failoverEntry[T]{
		name:    name,
		backend: backend,
		breaker: NewBreaker(cfg),
	})
}

// Do runs fn against each backend in order until one invocation succeeds.
// Backends with an open breaker are skipped. If no backend succeeds, the
// returned error wraps [ErrAllFailed] together with every per-backend error.
func (f *Failover[T]) Do(fn func(backend T) error) error {
	f.mu.RLock()
	entries := f.entries
	f.mu.RUnlock()

	var errs []error
	for i, e := range entries {
		err := e.breaker.Do(func() error { return fn(e.backend) })
		if err == nil {
			if i > 0 {
				slog.Warn("request served by fallback backend", "backend", e.name, "rank", i)
			}
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
	}
	errs = append(errs, ErrAllFailed)
	return errors.Join(errs...)
}

// Call runs fn through f's failover order and returns the first successful
// result. It is a package-level function because Go methods cannot introduce
// the result type parameter.
func Call[T, R any](f *Failover[T], fn func(backend T) (R, error)) (R, error) {
	var result R
	err := f.Do(func(backend T) error {
		var innerErr error
		result, innerErr = fn(backend)
		return innerErr
	})
	if err != nil {
		var zero R
		return zero, err
	}
	return result, nil
}
