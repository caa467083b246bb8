package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [Group] fails or sits behind
// an open breaker.
var ErrAllFailed = errors.New("resilience: all backends failed")

// GroupConfig configures a [Group]. The Breaker block is the template for the
// per-entry breakers; its Name is overridden with the entry's name.
type GroupConfig struct {
	Breaker BreakerConfig

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

type entry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Group holds a primary and zero or more fallbacks of the same backend type,
// each behind its own [Breaker]. Calls try entries in registration order,
// skipping open breakers.
//
// Entries must all be registered before the first call; Add is not safe
// concurrently with Execute.
type Group[T any] struct {
	entries []entry[T]
	cfg     GroupConfig
	log     *slog.Logger
}

// NewGroup creates a [Group] with primary as its first entry.
func NewGroup[T any](name string, primary T, cfg GroupConfig) *Group[T] {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Breaker.Logger == nil {
		cfg.Breaker.Logger = cfg.Logger
	}
	g := &Group[T]{cfg: cfg, log: cfg.Logger}
	g.Add(name, primary)
	return g
}

// Add appends a fallback, tried after all earlier entries.
func (g *Group[T]) Add(name string, value T) {
	bc := g.cfg.Breaker
	bc.Name = name
	g.entries = append(g.entries, entry[T]{
		name:    name,
		value:   value,
		breaker: NewBreaker(bc),
	})
}

// Primary returns the first entry's value. Wrappers use it for static
// metadata that must not change across failover.
func (g *Group[T]) Primary() T {
	return g.entries[0].value
}

// Names returns the entry names in registration order.
func (g *Group[T]) Names() []string {
	names := make([]string, len(g.entries))
	for i := range g.entries {
		names[i] = g.entries[i].name
	}
	return names
}

// Execute tries fn against each entry in order until one succeeds. Entries
// with an open breaker are skipped. When every entry fails the last error is
// wrapped in [ErrAllFailed].
func (g *Group[T]) Execute(fn func(T) error) error {
	var lastErr error
	for i := range g.entries {
		e := &g.entries[i]
		err := e.breaker.Execute(func() error {
			return fn(e.value)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			g.log.Debug("skipping backend, breaker open", "backend", e.name)
		} else {
			g.log.Warn("backend failed, trying next", "backend", e.name, "error", err)
		}
	}
	return fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

// Call tries fn against each entry until one succeeds and returns its result.
// It is a free function because methods cannot introduce type parameters.
func Call[T, R any](g *Group[T], fn func(T) (R, error)) (R, error) {
	var (
		result  R
		lastErr error
	)
	for i := range g.entries {
		e := &g.entries[i]
		err := e.breaker.Execute(func() error {
			var inner error
			result, inner = fn(e.value)
			return inner
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			g.log.Debug("skipping backend, breaker open", "backend", e.name)
		} else {
			g.log.Warn("backend failed, trying next", "backend", e.name, "error", err)
		}
	}
	var zero R
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
