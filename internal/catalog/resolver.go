package catalog

import (
	"context"
	"fmt"

	"github.com/fastworkflow/fastworkflow/internal/fuzzy"
)

// defaultMaxSuggestions is how many close alternatives a failed resolution
// offers.
const defaultMaxSuggestions = 3

// Resolution is the outcome of resolving one raw value against a lookup
// source.
type Resolution struct {
	// Found reports whether the raw value matched a canonical value exactly
	// after normalization.
	Found bool

	// Canonical is the stored spelling of the matched value. Empty when not
	// found.
	Canonical string

	// Suggestions are the closest known values when no exact match exists,
	// best first.
	Suggestions []string
}

// Resolver canonicalizes raw field values against a [Store].
type Resolver struct {
	store          Store
	maxSuggestions int
}

// ResolverOption configures a [Resolver].
type ResolverOption func(*Resolver)

// WithMaxSuggestions caps the suggestion list of failed resolutions.
// Defaults to 3.
func WithMaxSuggestions(n int) ResolverOption {
	return func(r *Resolver) { r.maxSuggestions = n }
}

// NewResolver creates a resolver over the given store.
func NewResolver(store Store, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:          store,
		maxSuggestions: defaultMaxSuggestions,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve matches raw against the values of source. An exact match after
// normalization wins and returns the canonical spelling; otherwise the
// closest values are returned as suggestions.
func (r *Resolver) Resolve(ctx context.Context, source, raw string) (Resolution, error) {
	values, err := r.store.Values(ctx, source)
	if err != nil {
		return Resolution{}, fmt.Errorf("catalog: resolve %q: %w", source, err)
	}

	want := fuzzy.Normalize(raw)
	for _, v := range values {
		if fuzzy.Normalize(v) == want {
			return Resolution{Found: true, Canonical: v}, nil
		}
	}

	top := fuzzy.Top(raw, values, r.maxSuggestions)
	suggestions := make([]string, 0, len(top))
	for _, m := range top {
		suggestions = append(suggestions, m.Value)
	}
	return Resolution{Suggestions: suggestions}, nil
}
