// Package mock provides a scripted llm.Provider for tests.
//
// The same double stands in for every model role the engine runs:
// classification votes, parameter extraction, summaries, and the agent loop.
// Configure the response fields before handing the provider out; every method
// records its invocation so tests can assert on the requests afterwards.
//
//	p := &mock.Provider{
//	    CompleteResponse: &llm.CompletionResponse{Content: "add_two_numbers"},
//	}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/fastworkflow/fastworkflow/pkg/provider/llm"
)

// StreamCall is one recorded StreamCompletion invocation.
type StreamCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// CompleteCall is one recorded Complete invocation.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// CountTokensCall is one recorded CountTokens invocation.
type CountTokensCall struct {
	Messages []llm.Message
}

// Provider implements llm.Provider with scripted responses. The zero value
// answers every call with zero values and nil errors. All methods are safe
// for concurrent use; configuring fields while a call is in flight is not.
type Provider struct {
	mu sync.Mutex

	// StreamChunks is emitted in order on the channel StreamCompletion
	// returns, then the channel closes.
	StreamChunks []llm.Chunk

	// StreamErr, when set, fails StreamCompletion before any channel
	// opens.
	StreamErr error

	// CompleteResponse is the standing answer for Complete.
	CompleteResponse *llm.CompletionResponse

	// CompleteResponses, when non-empty, is consumed one element per
	// Complete call ahead of CompleteResponse. Lets a test script
	// different answers for successive classifier votes or retries.
	CompleteResponses []*llm.CompletionResponse

	// CompleteErr is returned alongside whichever response Complete
	// picks.
	CompleteErr error

	// TokenCount and CountTokensErr script CountTokens.
	TokenCount     int
	CountTokensErr error

	// ModelCapabilities scripts Capabilities.
	ModelCapabilities llm.ModelCapabilities

	// Recorded invocations, in call order.
	StreamCalls           []StreamCall
	CompleteCalls         []CompleteCall
	CountTokensCalls      []CountTokensCall
	CapabilitiesCallCount int
}

var _ llm.Provider = (*Provider)(nil)

// StreamCompletion records the call, then replays StreamChunks on a fresh
// channel. Emission stops early when ctx is cancelled.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	err := p.StreamErr
	chunks := slices.Clone(p.StreamChunks)
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Complete records the call and returns the next queued response, falling
// back to CompleteResponse once the queue drains.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	if len(p.CompleteResponses) > 0 {
		resp := p.CompleteResponses[0]
		p.CompleteResponses = p.CompleteResponses[1:]
		return resp, p.CompleteErr
	}
	return p.CompleteResponse, p.CompleteErr
}

// CountTokens records a copy of messages and returns the scripted count.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.CountTokensCalls = append(p.CountTokensCalls, CountTokensCall{Messages: slices.Clone(messages)})
	return p.TokenCount, p.CountTokensErr
}

// Capabilities records the call and returns the scripted capabilities.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.CapabilitiesCallCount++
	return p.ModelCapabilities
}

// Reset clears the recorded invocations but keeps the scripted responses.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.StreamCalls = nil
	p.CompleteCalls = nil
	p.CountTokensCalls = nil
	p.CapabilitiesCallCount = 0
}
