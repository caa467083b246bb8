// Package mock provides an in-memory test double for [uttcache.Cache].
//
// The mock records every method call for assertion in tests and exposes
// exported fields that control what it returns. It is safe for concurrent
// use via an internal [sync.Mutex].
//
// Typical usage:
//
//	cache := &mock.Cache{}
//	cache.NearestResult = &uttcache.Hit{
//	    Entry:      uttcache.Entry{Utterance: "cancel it", Command: "Order/cancel"},
//	    Similarity: 0.93,
//	}
//
//	// inject cache into the system under test …
//
//	if got := cache.CallCount("Nearest"); got != 1 {
//	    t.Errorf("expected 1 Nearest call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/fastworkflow/fastworkflow/internal/uttcache"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Cache is a configurable test double for [uttcache.Cache]. All exported
// *Err fields default to nil (success); NearestResult defaults to nil
// (cache miss).
type Cache struct {
	mu sync.Mutex

	// calls records every method invocation in order.
	calls []Call

	// added accumulates every entry passed to Add.
	added []uttcache.Entry

	// AddErr is returned by [Cache.Add] when non-nil.
	AddErr error

	// NearestResult is returned by [Cache.Nearest].
	NearestResult *uttcache.Hit

	// NearestErr is returned by [Cache.Nearest] when non-nil.
	NearestErr error

	// PurgeErr is returned by [Cache.Purge] when non-nil.
	PurgeErr error

	// CloseErr is returned by [Cache.Close] when non-nil.
	CloseErr error
}

// Compile-time check that Cache satisfies uttcache.Cache.
var _ uttcache.Cache = (*Cache)(nil)

// Calls returns a copy of all recorded method invocations.
func (m *Cache) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *Cache) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Added returns a copy of every entry passed to Add, in order.
func (m *Cache) Added() []uttcache.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uttcache.Entry, len(m.added))
	copy(out, m.added)
	return out
}

// Reset clears all recorded calls and added entries without altering the
// response configuration.
func (m *Cache) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.added = nil
}

// Add implements [uttcache.Cache].
func (m *Cache) Add(ctx context.Context, e uttcache.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Add", Args: []any{e}})
	if m.AddErr != nil {
		return m.AddErr
	}
	m.added = append(m.added, e)
	return nil
}

// Nearest implements [uttcache.Cache].
func (m *Cache) Nearest(ctx context.Context, embedding []float32) (*uttcache.Hit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Nearest", Args: []any{embedding}})
	if m.NearestErr != nil {
		return nil, m.NearestErr
	}
	return m.NearestResult, nil
}

// Purge implements [uttcache.Cache].
func (m *Cache) Purge(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Purge", Args: nil})
	return m.PurgeErr
}

// Close implements [uttcache.Cache].
func (m *Cache) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Close", Args: nil})
	return m.CloseErr
}
