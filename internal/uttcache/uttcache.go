// Package uttcache defines the per-workflow utterance cache: a store of
// previously classified utterances with their embeddings, consulted before
// any model call so that an utterance close to one the user has already
// confirmed resolves to the same command instantly.
//
// Two implementations exist: [github.com/fastworkflow/fastworkflow/internal/uttcache/sqlite]
// keeps the cache in a cache.db file inside the workflow's ___convo_info
// directory, and [github.com/fastworkflow/fastworkflow/internal/uttcache/postgres]
// keeps it in a shared pgvector-indexed table. The cache returns raw
// similarities; deciding whether a hit is close enough to act on is the
// caller's business.
package uttcache

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Provenance flags recorded alongside each cache entry. The cache itself
// never interprets them; they describe how the utterance-to-command mapping
// was learned so that later tooling can weigh or expire entries differently.
const (
	// FlagDirect marks an entry learned from a first-try classification.
	FlagDirect = 0
	// FlagClarified marks an entry learned after the user picked from an
	// ambiguity clarification prompt.
	FlagClarified = 1
	// FlagCorrected marks an entry learned after the user rejected a wrong
	// guess and named the command they actually wanted.
	FlagCorrected = 2
)

// ErrInvalidEntry is wrapped by [Entry.Validate] for all rejection reasons.
var ErrInvalidEntry = errors.New("uttcache: invalid entry")

// Entry is a single cached utterance-to-command mapping.
type Entry struct {
	// Utterance is the original user phrasing, stored verbatim.
	Utterance string
	// Command is the qualified command name the utterance resolved to.
	Command string
	// Flag is one of [FlagDirect], [FlagClarified] or [FlagCorrected].
	Flag int
	// Embedding is the utterance's embedding vector.
	Embedding []float32
}

// Validate reports whether the entry can be stored. All errors wrap
// [ErrInvalidEntry].
func (e Entry) Validate() error {
	switch {
	case e.Utterance == "":
		return fmt.Errorf("%w: empty utterance", ErrInvalidEntry)
	case e.Command == "":
		return fmt.Errorf("%w: empty command", ErrInvalidEntry)
	case e.Flag < FlagDirect || e.Flag > FlagCorrected:
		return fmt.Errorf("%w: flag %d out of range", ErrInvalidEntry, e.Flag)
	case len(e.Embedding) == 0:
		return fmt.Errorf("%w: empty embedding", ErrInvalidEntry)
	}
	return nil
}

// Hit is a nearest-neighbour result. Similarity is the cosine similarity
// between the query embedding and the stored entry, in [-1, 1].
type Hit struct {
	Entry
	Similarity float64
}

// Cache stores classified utterances for one workflow and answers
// nearest-neighbour queries against them.
//
// Implementations must be safe for concurrent use.
type Cache interface {
	// Add stores an entry. Adding a second entry with the same utterance
	// replaces the first; the latest confirmed mapping wins.
	Add(ctx context.Context, e Entry) error

	// Nearest returns the single closest entry to the given embedding, or
	// (nil, nil) when the cache is empty.
	Nearest(ctx context.Context, embedding []float32) (*Hit, error)

	// Purge removes every entry.
	Purge(ctx context.Context) error

	// Close releases the backing resources.
	Close() error
}

// Cosine returns the cosine similarity of two vectors. Vectors of different
// lengths and zero vectors yield 0 rather than an error; a mismatched or
// degenerate embedding is simply not similar to anything.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
