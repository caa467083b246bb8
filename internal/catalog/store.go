// Package catalog manages the lookup sources behind db_lookup parameter
// fields.
//
// A lookup source is a named set of canonical values, such as every product
// name the application knows. During parameter validation, raw extracted
// values are resolved against their field's source: an exact match (after
// case and spacing normalization) canonicalizes the value, anything else
// produces ranked suggestions for the clarification prompt.
package catalog

import (
	"context"
	"errors"
)

// ErrUnknownSource is returned when a lookup source has no registered values.
var ErrUnknownSource = errors.New("catalog: unknown lookup source")

// Store manages lookup sources. All implementations must be safe for
// concurrent use.
type Store interface {
	// Values returns the canonical values of one source, sorted.
	// Returns [ErrUnknownSource] when the source was never registered.
	Values(ctx context.Context, source string) ([]string, error)

	// AddValues registers values under a source, creating it on first use.
	// Duplicates (after normalization) are ignored; the first spelling wins.
	AddValues(ctx context.Context, source string, values ...string) error

	// Sources returns all registered source names, sorted.
	Sources(ctx context.Context) ([]string, error)
}
