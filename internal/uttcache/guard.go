package uttcache

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Guard wraps a [Cache] and makes all operations non-fatal. If the underlying
// cache fails, operations return defaults and log warnings instead of
// propagating errors.
//
// The cache is an accelerator in front of the intent classifier, not a source
// of truth: when it is unavailable (e.g. database restart, corrupted cache.db)
// classification must keep working, just slower. The IsDegraded method reports
// whether the cache is currently experiencing failures.
//
// Guard implements [Cache]. All methods are safe for concurrent use.
type Guard struct {
	cache    Cache
	degraded atomic.Bool
}

// NewGuard creates a new [Guard] wrapping the given cache.
func NewGuard(cache Cache) *Guard {
	return &Guard{cache: cache}
}

// Add attempts to store an entry in the underlying cache. On failure the
// error is logged and swallowed; the cache is marked as degraded. On success
// the degraded flag is cleared.
func (g *Guard) Add(ctx context.Context, e Entry) error {
	err := g.cache.Add(ctx, e)
	if err != nil {
		g.degraded.Store(true)
		slog.Warn("utterance cache guard: Add failed, swallowing error",
			"command", e.Command,
			"error", err,
		)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// Nearest attempts a nearest-neighbour lookup. On failure a cache miss is
// returned and the cache is marked as degraded.
func (g *Guard) Nearest(ctx context.Context, embedding []float32) (*Hit, error) {
	hit, err := g.cache.Nearest(ctx, embedding)
	if err != nil {
		g.degraded.Store(true)
		slog.Warn("utterance cache guard: Nearest failed, returning miss",
			"error", err,
		)
		return nil, nil
	}
	g.degraded.Store(false)
	return hit, nil
}

// Purge attempts to empty the underlying cache. On failure the error is
// logged and swallowed; the cache is marked as degraded.
func (g *Guard) Purge(ctx context.Context) error {
	err := g.cache.Purge(ctx)
	if err != nil {
		g.degraded.Store(true)
		slog.Warn("utterance cache guard: Purge failed, swallowing error", "error", err)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// Close delegates to the underlying cache. Shutdown errors are propagated so
// callers can log them.
func (g *Guard) Close() error {
	return g.cache.Close()
}

// IsDegraded reports whether the cache is currently operating in degraded
// mode (i.e., the most recent operation on the underlying cache failed).
func (g *Guard) IsDegraded() bool {
	return g.degraded.Load()
}

// Compile-time check that Guard satisfies Cache.
var _ Cache = (*Guard)(nil)
