package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/fastworkflow/fastworkflow/pkg/provider/embeddings"
	"github.com/fastworkflow/fastworkflow/pkg/provider/llm"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// is registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factories is one provider kind's namespace of named constructors.
type factories[T any] struct {
	mu     sync.RWMutex
	kind   string
	byName map[string]func(ProviderEntry) (T, error)
}

func (f *factories[T]) register(name string, fn func(ProviderEntry) (T, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byName == nil {
		f.byName = make(map[string]func(ProviderEntry) (T, error))
	}
	f.byName[name] = fn
}

func (f *factories[T]) create(entry ProviderEntry) (T, error) {
	f.mu.RLock()
	fn, ok := f.byName[entry.Name]
	f.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return fn(entry)
}

// Registry maps provider names to constructor functions, one namespace per
// provider kind. main registers the factories it links in; the loader then
// builds whichever providers the configuration names. Safe for concurrent
// use.
type Registry struct {
	llm        factories[llm.Provider]
	embeddings factories[embeddings.Provider]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:        factories[llm.Provider]{kind: "llm"},
		embeddings: factories[embeddings.Provider]{kind: "embeddings"},
	}
}

// RegisterLLM registers a model provider factory under name. A later
// registration with the same name replaces the earlier one.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.llm.register(name, factory)
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.embeddings.register(name, factory)
}

// CreateLLM builds a model provider with the factory registered under
// entry.Name. The error wraps [ErrProviderNotRegistered] when the name is
// unknown.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return r.llm.create(entry)
}

// CreateEmbeddings builds an embeddings provider with the factory registered
// under entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	return r.embeddings.create(entry)
}
