// Package embeddings defines the provider abstraction for text embedding
// backends.
//
// The engine embeds every command's training utterances once at startup and
// matches live user input against them by cosine similarity before any
// classifier runs. One provider therefore serves both sides of that
// comparison; its vectors must all live in one space.
package embeddings

import "context"

// Provider maps text to dense float32 vectors.
//
// Every vector a single Provider returns has length Dimensions(). Vectors
// from different providers or models must not be compared against each other.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed returns the vector for one text. Input is passed to the
	// backend verbatim; any model-specific prefixing ("query: " and the
	// like) is the caller's job.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in one backend call. The result has the
	// same length and order as texts. On error no partial results are
	// returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the fixed vector width. The utterance cache sizes its
	// schema from this before the first vector is stored.
	Dimensions() int

	// ModelID names the underlying model, for logs and for verifying that
	// cached vectors and live queries come from the same model.
	ModelID() string
}
