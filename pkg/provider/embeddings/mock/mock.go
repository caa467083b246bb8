// Package mock provides a scripted embeddings.Provider for tests.
//
// The engine embeds command training utterances at startup and live user
// input per turn; this double answers both without a running model. Script
// one vector for everything via EmbedResult, or distinct vectors per text
// via EmbedResults when a test compares similarities.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/fastworkflow/fastworkflow/pkg/provider/embeddings"
)

// EmbedCall is one recorded Embed invocation.
type EmbedCall struct {
	Ctx  context.Context
	Text string
}

// EmbedBatchCall is one recorded EmbedBatch invocation.
type EmbedBatchCall struct {
	Ctx   context.Context
	Texts []string
}

// Provider implements embeddings.Provider with scripted vectors. The zero
// value returns nil vectors and nil errors. Methods are safe for concurrent
// use; configuring fields while a call is in flight is not.
type Provider struct {
	mu sync.Mutex

	// EmbedResults maps input text to its vector. Texts not present fall
	// back to EmbedResult.
	EmbedResults map[string][]float32

	// EmbedResult is the standing answer for texts EmbedResults does not
	// cover.
	EmbedResult []float32

	// EmbedErr is returned alongside whichever vector Embed picks.
	EmbedErr error

	// EmbedBatchResult, when set, is the whole answer for EmbedBatch.
	// When nil, each text resolves through EmbedResults and EmbedResult
	// in input order.
	EmbedBatchResult [][]float32

	// EmbedBatchErr, when set, fails EmbedBatch.
	EmbedBatchErr error

	// DimensionsValue scripts Dimensions.
	DimensionsValue int

	// ModelIDValue scripts ModelID.
	ModelIDValue string

	// Recorded invocations, in call order.
	EmbedCalls      []EmbedCall
	EmbedBatchCalls []EmbedBatchCall
}

var _ embeddings.Provider = (*Provider)(nil)

// Embed records the call and returns the vector scripted for text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Ctx: ctx, Text: text})
	return p.vectorFor(text), p.EmbedErr
}

// EmbedBatch records a copy of texts and returns EmbedBatchResult, or one
// scripted vector per text when no batch result is set.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.EmbedBatchCalls = append(p.EmbedBatchCalls, EmbedBatchCall{Ctx: ctx, Texts: slices.Clone(texts)})
	if p.EmbedBatchErr != nil {
		return nil, p.EmbedBatchErr
	}
	if p.EmbedBatchResult != nil {
		return p.EmbedBatchResult, nil
	}
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		vecs[i] = p.vectorFor(t)
	}
	return vecs, nil
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.DimensionsValue
}

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelIDValue
}

// Reset clears the recorded invocations but keeps the scripted vectors.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.EmbedCalls = nil
	p.EmbedBatchCalls = nil
}

// vectorFor must be called with p.mu held.
func (p *Provider) vectorFor(text string) []float32 {
	if vec, ok := p.EmbedResults[text]; ok {
		return vec
	}
	return p.EmbedResult
}
