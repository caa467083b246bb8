package catalog

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/fastworkflow/fastworkflow/internal/fuzzy"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store]. Suitable
// for single-process deployments and testing.
type MemStore struct {
	mu      sync.RWMutex
	sources map[string][]string        // source → canonical values, sorted
	seen    map[string]map[string]bool // source → normalized value set
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		sources: make(map[string][]string),
		seen:    make(map[string]map[string]bool),
	}
}

// Values implements [Store.Values].
func (s *MemStore) Values(ctx context.Context, source string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vals, ok := s.sources[source]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
	out := make([]string, len(vals))
	copy(out, vals)
	return out, nil
}

// AddValues implements [Store.AddValues].
func (s *MemStore) AddValues(ctx context.Context, source string, values ...string) error {
	if source == "" {
		return fmt.Errorf("catalog: empty source name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seen[source] == nil {
		s.seen[source] = make(map[string]bool)
	}
	for _, v := range values {
		if v == "" {
			continue
		}
		key := fuzzy.Normalize(v)
		if s.seen[source][key] {
			continue
		}
		s.seen[source][key] = true
		s.sources[source] = append(s.sources[source], v)
	}
	slices.Sort(s.sources[source])
	return nil
}

// Sources implements [Store.Sources].
func (s *MemStore) Sources(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.sources))
	for name := range s.sources {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}
