// Package resilience provides circuit breaking and failover for the model
// backends the engine depends on.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open) that
// stops calls to a backend once it fails repeatedly. [Group] composes a
// primary with ordered fallbacks, one breaker per entry, so a failing backend
// is bypassed in favour of a healthy one. [LLM] and [Embeddings] are the
// provider-shaped wrappers the application wires in front of classification,
// extraction and the utterance cache.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Execute] while the breaker is open
// and the reset timeout has not elapsed, and for probe calls beyond the
// half-open budget.
var ErrBreakerOpen = errors.New("resilience: breaker is open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards all calls.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrBreakerOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen admits a bounded number of probe calls. Enough successes
	// close the breaker; any failure re-opens it.
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

// BreakerConfig holds the tuning knobs for a [Breaker]. Zero values are
// replaced with defaults by [NewBreaker].
type BreakerConfig struct {
	// Name labels the breaker in log messages.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before admitting
	// probes. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenProbes is both the probe budget and the number of successes
	// required to close again. Default 3.
	HalfOpenProbes int

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	probes       int
	log          *slog.Logger

	mu            sync.Mutex
	state         State
	failures      int
	lastFailure   time.Time
	probesStarted int
	probesOK      int
}

// NewBreaker creates a closed [Breaker] from cfg.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		probes:       cfg.HalfOpenProbes,
		log:          cfg.Logger,
		state:        StateClosed,
	}
}

// Execute runs fn if the breaker admits the call and feeds the outcome back
// into the state machine. In the open state fn is not called and
// [ErrBreakerOpen] is returned.
func (b *Breaker) Execute(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	if err := fn(); err != nil {
		b.onFailure(probe)
		return err
	}
	b.onSuccess(probe)
	return nil
}

// admit decides whether a call may proceed and reports whether it counts as a
// half-open probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailure) < b.resetTimeout {
			return false, ErrBreakerOpen
		}
		b.state = StateHalfOpen
		b.probesStarted = 0
		b.probesOK = 0
		b.log.Info("breaker half-open", "name", b.name)

	case StateHalfOpen:
		if b.probesStarted >= b.probes {
			return false, ErrBreakerOpen
		}
	}

	if b.state == StateHalfOpen {
		b.probesStarted++
		return true, nil
	}
	return false, nil
}

func (b *Breaker) onFailure(probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = time.Now()

	// One failed probe re-opens immediately.
	if probe {
		b.state = StateOpen
		b.failures = b.maxFailures
		b.log.Warn("breaker re-opened by failed probe", "name", b.name)
		return
	}

	b.failures++
	if b.state == StateClosed && b.failures >= b.maxFailures {
		b.state = StateOpen
		b.log.Warn("breaker opened", "name", b.name, "consecutive_failures", b.failures)
	}
}

func (b *Breaker) onSuccess(probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !probe {
		b.failures = 0
		return
	}
	// A straggler probe that completes after another probe already re-opened
	// the breaker must not close it.
	if b.state != StateHalfOpen {
		return
	}
	b.probesOK++
	if b.probesOK >= b.probes {
		b.state = StateClosed
		b.failures = 0
		b.probesStarted = 0
		b.probesOK = 0
		b.log.Info("breaker closed after successful probes", "name", b.name)
	}
}

// State returns the breaker's state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// [Breaker.Execute].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && time.Since(b.lastFailure) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = 0
	b.probesStarted = 0
	b.probesOK = 0
	b.log.Info("breaker reset", "name", b.name)
}
