package resilience

import (
	"context"

	"github.com/fastworkflow/fastworkflow/pkg/provider/llm"
)

// LLM implements [llm.Provider] with failover across multiple backends. Each
// backend sits behind its own breaker; when the primary fails or its breaker
// is open, the next healthy fallback answers.
type LLM struct {
	group *Group[llm.Provider]
}

// Compile-time interface check.
var _ llm.Provider = (*LLM)(nil)

// NewLLM creates an [LLM] with primary as the preferred backend.
func NewLLM(name string, primary llm.Provider, cfg GroupConfig) *LLM {
	return &LLM{group: NewGroup(name, primary, cfg)}
}

// Add registers a fallback backend.
func (l *LLM) Add(name string, p llm.Provider) {
	l.group.Add(name, p)
}

// Complete sends req to the first healthy backend.
func (l *LLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(l.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion opens a stream on the first healthy backend. Failover
// covers only stream establishment; once chunks flow, mid-stream errors are
// the caller's to handle.
func (l *LLM) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return Call(l.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// CountTokens delegates to the first healthy backend's tokenizer.
func (l *LLM) CountTokens(messages []llm.Message) (int, error) {
	return Call(l.group, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// Capabilities reports the primary's capabilities. Static metadata does not
// participate in failover.
func (l *LLM) Capabilities() llm.ModelCapabilities {
	return l.group.Primary().Capabilities()
}
